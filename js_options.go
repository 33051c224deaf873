package fixture

import "time"

// DefaultJSRuleTimeout bounds a single JS rule evaluation.
const DefaultJSRuleTimeout = 250 * time.Millisecond

type jsOptions struct {
	cache    ProgramCache
	registry *FunctionRegistry
	timeout  time.Duration
}

// JSEvaluatorOption configures the JS evaluator. Options are accepted in every
// build so callers compile with or without the js_eval tag.
type JSEvaluatorOption func(*jsOptions)

// JSWithProgramCache shares compiled programs through cache.
func JSWithProgramCache(cache ProgramCache) JSEvaluatorOption {
	return func(o *jsOptions) {
		o.cache = cache
	}
}

// JSWithFunctionRegistry exposes the registry functions to scripts, each by
// name and through call(name, ...args).
func JSWithFunctionRegistry(registry *FunctionRegistry) JSEvaluatorOption {
	return func(o *jsOptions) {
		o.registry = registry.Clone()
	}
}

// JSWithTimeout interrupts evaluations running longer than timeout. Zero or
// negative disables the limit.
func JSWithTimeout(timeout time.Duration) JSEvaluatorOption {
	return func(o *jsOptions) {
		o.timeout = timeout
	}
}

func newJSOptions(opts []JSEvaluatorOption) jsOptions {
	o := jsOptions{timeout: DefaultJSRuleTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
