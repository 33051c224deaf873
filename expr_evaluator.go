package fixture

import (
	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

const exprCachePrefix = "expr:"

// ExprEvaluatorOption configures NewExprEvaluator.
type ExprEvaluatorOption func(*exprEngine)

// ExprWithProgramCache shares compiled rules through cache.
func ExprWithProgramCache(cache ProgramCache) ExprEvaluatorOption {
	return func(e *exprEngine) {
		e.cache = cache
	}
}

// ExprWithFunctionRegistry exposes the registry functions to rules. The
// registry is copied; later registrations are not seen.
func ExprWithFunctionRegistry(registry *FunctionRegistry) ExprEvaluatorOption {
	return func(e *exprEngine) {
		if registry != nil {
			e.functions = registry.Clone()
		}
	}
}

type exprEngine struct {
	cache     ProgramCache
	functions *FunctionRegistry
	options   []exprlang.Option
}

// NewExprEvaluator returns the default scope rule engine. Rules may reference
// undeclared variables; they evaluate to nil.
func NewExprEvaluator(opts ...ExprEvaluatorOption) Evaluator {
	e := &exprEngine{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.options = []exprlang.Option{
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	}
	if e.functions != nil {
		for _, name := range e.functions.Names() {
			e.options = append(e.options, exprlang.Function(name, e.call(name)))
		}
	}
	return e
}

func (e *exprEngine) call(name string) func(...any) (any, error) {
	return func(args ...any) (any, error) {
		return e.functions.Call(name, args...)
	}
}

func (e *exprEngine) Evaluate(ctx RuleContext, rule string) (any, error) {
	compiled, err := e.Compile(rule)
	if err != nil {
		return nil, err
	}
	return compiled.Evaluate(ctx)
}

func (e *exprEngine) Compile(rule string) (CompiledRule, error) {
	if rule == "" {
		return nil, ruleEngineError("expr", errEmptyRule)
	}
	if program, ok := e.cached(rule); ok {
		return &exprRule{source: rule, program: program}, nil
	}
	program, err := exprlang.Compile(rule, e.options...)
	if err != nil {
		return nil, ruleError("expr", rule, "", err)
	}
	if e.cache != nil {
		e.cache.Set(exprCachePrefix+rule, program)
	}
	return &exprRule{source: rule, program: program}, nil
}

func (e *exprEngine) cached(rule string) (*exprvm.Program, bool) {
	if e.cache == nil {
		return nil, false
	}
	value, ok := e.cache.Get(exprCachePrefix + rule)
	if !ok {
		return nil, false
	}
	program, ok := value.(*exprvm.Program)
	return program, ok
}

type exprRule struct {
	source  string
	program *exprvm.Program
}

func (r *exprRule) Evaluate(ctx RuleContext) (any, error) {
	if r.program == nil {
		return nil, ruleEngineError("expr", errNoProgram)
	}
	ctx = ctx.withDefaults()
	out, err := exprlang.Run(r.program, ctx.variables())
	if err != nil {
		return nil, ruleError("expr", r.source, ctx.label(), err)
	}
	return out, nil
}
