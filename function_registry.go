package fixture

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Function represents a callable registered against rule evaluators.
type Function func(args ...any) (any, error)

// FunctionRegistry stores custom functions keyed by name.
type FunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]registeredFunction
}

type registeredFunction struct {
	name string
	fn   Function
}

// NewFunctionRegistry constructs an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{
		functions: make(map[string]registeredFunction),
	}
}

// DefaultFunctionRegistry returns a registry holding the built in rule
// functions: env(name) and hasTag(tags, tag).
func DefaultFunctionRegistry() *FunctionRegistry {
	registry := NewFunctionRegistry()
	registry.registerBuiltins()
	return registry
}

// Register stores fn under name guarding against duplicates.
func (r *FunctionRegistry) Register(name string, fn Function) error {
	if fn == nil {
		return fmt.Errorf("fixture: function %q is nil", name)
	}
	if name == "" {
		return fmt.Errorf("fixture: function name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.functions == nil {
		r.functions = make(map[string]registeredFunction)
	}
	key := strings.ToLower(name)
	if _, exists := r.functions[key]; exists {
		return fmt.Errorf("fixture: function %q already registered", name)
	}
	r.functions[key] = registeredFunction{name: name, fn: fn}
	return nil
}

// Has reports whether name is registered.
func (r *FunctionRegistry) Has(name string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.functions[strings.ToLower(name)]
	return ok
}

// Clone returns a shallow copy of the registry.
func (r *FunctionRegistry) Clone() *FunctionRegistry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := &FunctionRegistry{
		functions: make(map[string]registeredFunction, len(r.functions)),
	}
	for key, entry := range r.functions {
		clone.functions[key] = entry
	}
	return clone
}

// Call executes the function registered for name.
func (r *FunctionRegistry) Call(name string, args ...any) (any, error) {
	if r == nil {
		return nil, fmt.Errorf("fixture: function registry is nil")
	}
	r.mu.RLock()
	fn := r.functions[strings.ToLower(name)].fn
	r.mu.RUnlock()
	if fn == nil {
		return nil, fmt.Errorf("fixture: function %q not registered", name)
	}
	return fn(args...)
}

// Names returns registered function names, as registered, sorted
// alphabetically.
func (r *FunctionRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.functions))
	for _, entry := range r.functions {
		names = append(names, entry.name)
	}
	sort.Strings(names)
	return names
}

func (r *FunctionRegistry) registerBuiltins() {
	if !r.Has("env") {
		_ = r.Register("env", envFunction)
	}
	if !r.Has("hasTag") {
		_ = r.Register("hasTag", hasTagFunction)
	}
}

func envFunction(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("fixture: env expects 1 argument, got %d", len(args))
	}
	name, ok := nativeValue(args[0]).(string)
	if !ok {
		return nil, fmt.Errorf("fixture: env name must be a string, got %T", args[0])
	}
	return os.Getenv(name), nil
}

func hasTagFunction(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("fixture: hasTag expects 2 arguments, got %d", len(args))
	}
	tag, ok := nativeValue(args[1]).(string)
	if !ok {
		return nil, fmt.Errorf("fixture: hasTag tag must be a string, got %T", args[1])
	}
	for _, candidate := range stringList(args[0]) {
		if strings.EqualFold(candidate, tag) {
			return true, nil
		}
	}
	return false, nil
}

// nativeValue unwraps engine specific values exposing Value() any.
func nativeValue(value any) any {
	if wrapped, ok := value.(interface{ Value() any }); ok {
		return wrapped.Value()
	}
	return value
}

func stringList(value any) []string {
	value = nativeValue(value)
	switch typed := value.(type) {
	case nil:
		return nil
	case []string:
		return typed
	case string:
		return []string{typed}
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	out := make([]string, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out = append(out, fmt.Sprint(nativeValue(rv.Index(i).Interface())))
	}
	return out
}
