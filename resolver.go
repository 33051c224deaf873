package fixture

import (
	"errors"
	"fmt"
	"strings"
)

// Rule engine names accepted by WithRuleEngine and Config.RuleEngine.
const (
	RuleEngineExpr = "expr"
	RuleEngineCEL  = "cel"
	RuleEngineJS   = "js"
)

// ErrNilNode is returned when a resolver or coordinator receives a nil node.
var ErrNilNode = errors.New("fixture: node is nil")

// ScopeResolver determines the sharing scope of a node. Declarations on the
// node or its nearest declaring ancestor win; otherwise the optional scope
// rule is consulted, then the default policy.
type ScopeResolver struct {
	defaultScope Scope
	expr         string
	engine       string
	rule         CompiledRule
	metadata     map[string]any
}

// ResolverOption configures a ScopeResolver.
type ResolverOption func(*resolverConfig)

type resolverConfig struct {
	defaultScope Scope
	expr         string
	engine       string
	evaluator    Evaluator
	functions    *FunctionRegistry
	cache        ProgramCache
	metadata     map[string]any
}

// WithDefaultScope sets the policy used when nothing is declared and no rule
// applies. The default is ScopeAuto.
func WithDefaultScope(scope Scope) ResolverOption {
	return func(cfg *resolverConfig) {
		cfg.defaultScope = scope
	}
}

// WithScopeRule sets an expression evaluated for undeclared nodes. The rule
// must produce a scope name; an empty string defers to the default policy.
func WithScopeRule(expr string) ResolverOption {
	return func(cfg *resolverConfig) {
		cfg.expr = strings.TrimSpace(expr)
	}
}

// WithRuleEngine selects the built in evaluator used for the scope rule:
// RuleEngineExpr (default), RuleEngineCEL or RuleEngineJS.
func WithRuleEngine(engine string) ResolverOption {
	return func(cfg *resolverConfig) {
		cfg.engine = strings.ToLower(strings.TrimSpace(engine))
	}
}

// WithRuleEvaluator supplies a custom evaluator, overriding WithRuleEngine.
func WithRuleEvaluator(evaluator Evaluator) ResolverOption {
	return func(cfg *resolverConfig) {
		cfg.evaluator = evaluator
	}
}

// WithRuleFunctions adds custom functions callable from the scope rule.
func WithRuleFunctions(registry *FunctionRegistry) ResolverOption {
	return func(cfg *resolverConfig) {
		if registry != nil {
			cfg.functions = registry.Clone()
		}
	}
}

// WithRuleCache shares a program cache between resolvers.
func WithRuleCache(cache ProgramCache) ResolverOption {
	return func(cfg *resolverConfig) {
		cfg.cache = cache
	}
}

// WithRuleMetadata exposes static metadata to the rule as `metadata`.
func WithRuleMetadata(metadata map[string]any) ResolverOption {
	return func(cfg *resolverConfig) {
		cfg.metadata = copyMetadata(metadata)
	}
}

// NewScopeResolver builds a resolver. A configured rule is compiled once here;
// compile failures are returned.
func NewScopeResolver(opts ...ResolverOption) (*ScopeResolver, error) {
	cfg := resolverConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if !cfg.defaultScope.Valid() {
		return nil, fmt.Errorf("fixture: invalid default scope %d", cfg.defaultScope)
	}
	resolver := &ScopeResolver{
		defaultScope: cfg.defaultScope,
		expr:         cfg.expr,
		engine:       cfg.engine,
		metadata:     cfg.metadata,
	}
	if cfg.expr == "" {
		return resolver, nil
	}

	evaluator := cfg.evaluator
	if evaluator == nil {
		built, err := newRuleEvaluator(cfg)
		if err != nil {
			return nil, err
		}
		evaluator = built
	} else if resolver.engine == "" {
		resolver.engine = "custom"
	}
	rule, err := evaluator.Compile(cfg.expr)
	if err != nil {
		return nil, ruleError(resolver.engine, cfg.expr, "", err)
	}
	resolver.rule = rule
	return resolver, nil
}

func newRuleEvaluator(cfg resolverConfig) (Evaluator, error) {
	functions := cfg.functions.Clone()
	if functions == nil {
		functions = NewFunctionRegistry()
	}
	functions.registerBuiltins()

	switch cfg.engine {
	case "", RuleEngineExpr:
		return NewExprEvaluator(ExprWithProgramCache(cfg.cache), ExprWithFunctionRegistry(functions)), nil
	case RuleEngineCEL:
		return NewCELEvaluator(CELWithProgramCache(cfg.cache), CELWithFunctionRegistry(functions)), nil
	case RuleEngineJS:
		if !jsEvaluatorAvailable() {
			return nil, fmt.Errorf("fixture: js rule engine requires the js_eval build tag")
		}
		return NewJSEvaluator(JSWithProgramCache(cfg.cache), JSWithFunctionRegistry(functions)), nil
	default:
		return nil, fmt.Errorf("fixture: unknown rule engine %q", cfg.engine)
	}
}

// DefaultScope returns the fallback policy.
func (r *ScopeResolver) DefaultScope() Scope {
	if r == nil {
		return ScopeAuto
	}
	return r.defaultScope
}

// Resolve returns the declared or rule derived scope for node. Rule errors
// fall back to the default policy. Resolve never mutates state.
func (r *ScopeResolver) Resolve(node *Node) Scope {
	scope, _, _ := r.ResolveWithTrace(node)
	return scope
}

// ResolveWithTrace resolves node and reports every step taken. A rule failure
// is returned as *EvaluationError together with the fallback scope.
func (r *ScopeResolver) ResolveWithTrace(node *Node) (Scope, Trace, error) {
	if node == nil {
		return ScopeAuto, Trace{}, ErrNilNode
	}
	trace := Trace{Node: node.Path()}
	for current := node; current != nil; current = current.parent {
		scope, declared := current.DeclaredScope()
		trace.Layers = append(trace.Layers, Provenance{
			NodeID: current.id,
			Path:   current.Path(),
			Kind:   current.kind.String(),
			Scope:  scope,
			Found:  declared,
		})
		if declared {
			return r.finish(node, &trace, scope), trace, nil
		}
	}

	scope, err := r.evaluateRule(node, &trace)
	return r.finish(node, &trace, scope), trace, err
}

func (r *ScopeResolver) finish(node *Node, trace *Trace, scope Scope) Scope {
	trace.Scope = scope
	trace.Effective = effectiveFor(node, scope)
	return scope
}

func (r *ScopeResolver) evaluateRule(node *Node, trace *Trace) (Scope, error) {
	fallback := r.DefaultScope()
	if r == nil || r.rule == nil {
		return fallback, nil
	}
	subject := node.ContainerNode()
	if subject == nil {
		subject = node
	}
	outcome := &RuleOutcome{Engine: r.engineName(), Expr: r.expr}
	trace.Rule = outcome

	result, err := r.rule.Evaluate(ruleContextFor(subject, r.metadata))
	if err != nil {
		err = ruleError(outcome.Engine, r.expr, subject.Path(), err)
		outcome.Error = err.Error()
		return fallback, err
	}
	scope, named, err := scopeFromResult(result)
	if err != nil {
		err = ruleError(outcome.Engine, r.expr, subject.Path(), err)
		outcome.Error = err.Error()
		return fallback, err
	}
	if !named {
		return fallback, nil
	}
	outcome.Result = scope.String()
	return scope, nil
}

func (r *ScopeResolver) engineName() string {
	if r.engine == "" {
		return RuleEngineExpr
	}
	return r.engine
}

func scopeFromResult(result any) (Scope, bool, error) {
	switch value := result.(type) {
	case nil:
		return ScopeAuto, false, nil
	case Scope:
		return value, true, nil
	case string:
		if strings.TrimSpace(value) == "" {
			return ScopeAuto, false, nil
		}
		scope, ok := ParseScope(value)
		if !ok {
			return ScopeAuto, false, fmt.Errorf("rule produced unknown scope %q", value)
		}
		return scope, true, nil
	default:
		return ScopeAuto, false, fmt.Errorf("rule must produce a scope name, got %T", result)
	}
}

// Effective resolves node and replaces ScopeAuto using the instance
// lifecycle of the node's container. It never returns ScopeAuto.
func (r *ScopeResolver) Effective(node *Node) (Scope, error) {
	if node == nil {
		return ScopeAuto, ErrNilNode
	}
	return effectiveFor(node, r.Resolve(node)), nil
}

func effectiveFor(node *Node, scope Scope) Scope {
	if scope != ScopeAuto {
		return scope
	}
	if node.Lifecycle() == LifecyclePerClass {
		return ScopePerClass
	}
	return ScopePerMethod
}
