package fixture

import (
	"fmt"
	"strings"
)

// Scope is the sharing granularity of one fixture instance.
type Scope int

const (
	// ScopeAuto defers to the container's instance lifecycle: PerClass for
	// LifecyclePerClass, PerMethod otherwise. It is the default policy.
	ScopeAuto Scope = iota
	// ScopePerMethod builds one fixture per case and releases it when the
	// case exits.
	ScopePerMethod
	// ScopePerClass builds one fixture per container, shared by its cases.
	ScopePerClass
	// ScopePerProcess builds one fixture for the whole process, released by
	// an exit hook or an explicit Close.
	ScopePerProcess
)

func (s Scope) String() string {
	switch s {
	case ScopeAuto:
		return "auto"
	case ScopePerMethod:
		return "per_method"
	case ScopePerClass:
		return "per_class"
	case ScopePerProcess:
		return "per_process"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the declared scopes.
func (s Scope) Valid() bool {
	return s >= ScopeAuto && s <= ScopePerProcess
}

// ParseScope converts a string into a Scope. The aliases mirror the names used
// by older runners (each/all/jvm). The second result is false for unknown
// values.
func ParseScope(value string) (Scope, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	switch normalized {
	case "auto", "":
		return ScopeAuto, true
	case "per_method", "method", "per_each", "each", "per_case", "case":
		return ScopePerMethod, true
	case "per_class", "class", "per_all", "all", "per_container", "container":
		return ScopePerClass, true
	case "per_process", "process", "per_jvm", "jvm":
		return ScopePerProcess, true
	default:
		return ScopeAuto, false
	}
}

// InstanceLifecycle says how the host runner instantiates test targets.
type InstanceLifecycle int

const (
	// LifecyclePerMethod creates fresh target instances for every case.
	LifecyclePerMethod InstanceLifecycle = iota
	// LifecyclePerClass creates the target instances once per container.
	LifecyclePerClass
)

func (l InstanceLifecycle) String() string {
	if l == LifecyclePerClass {
		return "per_class"
	}
	return "per_method"
}

// ParseInstanceLifecycle converts a string into an InstanceLifecycle.
func ParseInstanceLifecycle(value string) (InstanceLifecycle, bool) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_") {
	case "", "per_method", "method":
		return LifecyclePerMethod, true
	case "per_class", "class":
		return LifecyclePerClass, true
	default:
		return LifecyclePerMethod, false
	}
}

// MarshalText renders the scope name.
func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a scope name.
func (s *Scope) UnmarshalText(text []byte) error {
	parsed, ok := ParseScope(string(text))
	if !ok {
		return fmt.Errorf("fixture: unknown scope %q", string(text))
	}
	*s = parsed
	return nil
}
