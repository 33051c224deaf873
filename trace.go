package fixture

import (
	"encoding/json"
)

// Trace captures how a node's scope was resolved: the ancestor walk and, when
// nothing was declared, the scope rule outcome.
type Trace struct {
	Node      string       `json:"node"`
	Layers    []Provenance `json:"layers"`
	Rule      *RuleOutcome `json:"rule,omitempty"`
	Scope     Scope        `json:"scope"`
	Effective Scope        `json:"effective"`
}

// Provenance details one node visited during the ancestor walk.
type Provenance struct {
	NodeID string `json:"node_id"`
	Path   string `json:"path"`
	Kind   string `json:"kind"`
	Scope  Scope  `json:"scope,omitempty"`
	Found  bool   `json:"found"`
}

// RuleOutcome records the scope rule evaluation for an undeclared node.
type RuleOutcome struct {
	Engine string `json:"engine"`
	Expr   string `json:"expr"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ToJSON serialises the trace into JSON for logging or transport helpers.
func (t Trace) ToJSON() ([]byte, error) {
	type alias Trace
	return json.Marshal(alias(t))
}

// TraceFromJSON deserialises a JSON payload that was previously generated via
// ToJSON.
func TraceFromJSON(payload []byte) (Trace, error) {
	type alias Trace
	var trace alias
	if err := json.Unmarshal(payload, &trace); err != nil {
		return Trace{}, err
	}
	return Trace(trace), nil
}
