package fixture

import (
	"errors"
	"fmt"
)

// ErrRuleEvaluation matches every *EvaluationError.
var ErrRuleEvaluation = errors.New("fixture: scope rule failed")

var (
	errEmptyRule = errors.New("rule is empty")
	errNoProgram = errors.New("rule was not compiled")
)

// EvaluationError reports a scope rule that could not be compiled or run.
// Rule and Node are empty when the failure happened before either was known.
type EvaluationError struct {
	Engine string
	Rule   string
	Node   string
	Err    error
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := "fixture: " + e.Engine + " scope rule"
	if e.Rule != "" {
		msg += fmt.Sprintf(" %q", e.Rule)
	}
	if e.Node != "" {
		msg += " at " + e.Node
	}
	return msg + ": " + fmt.Sprint(e.Err)
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *EvaluationError) Is(target error) bool {
	return target == ErrRuleEvaluation
}

// ruleEngineError reports a failure of the engine itself, outside any rule.
func ruleEngineError(engine string, err error) error {
	return ruleError(engine, "", "", err)
}

// ruleError attaches engine, rule and node to err. An existing
// *EvaluationError in the chain keeps the values it already has and only
// gains the missing ones.
func ruleError(engine, rule, node string, err error) error {
	if err == nil {
		return nil
	}
	var existing *EvaluationError
	if !errors.As(err, &existing) {
		return &EvaluationError{Engine: engine, Rule: rule, Node: node, Err: err}
	}
	if existing.Engine == "" {
		existing.Engine = engine
	}
	if existing.Rule == "" {
		existing.Rule = rule
	}
	if existing.Node == "" {
		existing.Node = node
	}
	return existing
}
