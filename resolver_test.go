package fixture

import (
	"errors"
	"testing"
)

var ruleEngines = []struct {
	name      string
	available func() bool
}{
	{name: RuleEngineExpr, available: func() bool { return true }},
	{name: RuleEngineCEL, available: func() bool { return true }},
	{name: RuleEngineJS, available: jsEvaluatorAvailable},
}

func mustResolver(t *testing.T, opts ...ResolverOption) *ScopeResolver {
	t.Helper()
	resolver, err := NewScopeResolver(opts...)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return resolver
}

func TestResolveUsesNearestDeclaration(t *testing.T) {
	resolver := mustResolver(t)
	root := NewRoot(WithScope(ScopePerProcess))
	container := root.Container("Orders")
	overridden := root.Container("Billing", WithScope(ScopePerClass))

	if got := resolver.Resolve(container.Case("create")); got != ScopePerProcess {
		t.Fatalf("expected inherited per_process, got %s", got)
	}
	if got := resolver.Resolve(overridden.Case("charge")); got != ScopePerClass {
		t.Fatalf("expected container declaration to win, got %s", got)
	}
	if got := resolver.Resolve(overridden.Case("refund", WithScope(ScopePerMethod))); got != ScopePerMethod {
		t.Fatalf("expected case declaration to win, got %s", got)
	}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	node := NewRoot().Container("Orders").Case("create")

	if got := mustResolver(t).Resolve(node); got != ScopeAuto {
		t.Fatalf("expected auto by default, got %s", got)
	}
	if got := mustResolver(t, WithDefaultScope(ScopePerClass)).Resolve(node); got != ScopePerClass {
		t.Fatalf("expected configured default, got %s", got)
	}
}

func TestEffectiveNeverReturnsAuto(t *testing.T) {
	resolver := mustResolver(t)
	root := NewRoot()

	perMethod := root.Container("Orders").Case("create")
	if got, _ := resolver.Effective(perMethod); got != ScopePerMethod {
		t.Fatalf("expected per_method for per method lifecycle, got %s", got)
	}
	perClass := root.Container("Billing", WithLifecycle(LifecyclePerClass)).Case("charge")
	if got, _ := resolver.Effective(perClass); got != ScopePerClass {
		t.Fatalf("expected per_class for per class lifecycle, got %s", got)
	}
	if _, err := resolver.Effective(nil); !errors.Is(err, ErrNilNode) {
		t.Fatalf("expected ErrNilNode, got %v", err)
	}
}

func TestScopeRuleAcrossEngines(t *testing.T) {
	const rule = `hasTag(tags, "db") ? "per_class" : ""`
	for _, engine := range ruleEngines {
		t.Run(engine.name, func(t *testing.T) {
			if !engine.available() {
				t.Skip("engine not built in")
			}
			resolver := mustResolver(t,
				WithScopeRule(rule),
				WithRuleEngine(engine.name),
				WithDefaultScope(ScopePerMethod),
			)
			root := NewRoot()
			tagged := root.Container("Orders", WithTags("db")).Case("create")
			plain := root.Container("Billing").Case("charge")

			scope, trace, err := resolver.ResolveWithTrace(tagged)
			if err != nil {
				t.Fatalf("resolve tagged: %v", err)
			}
			if scope != ScopePerClass {
				t.Fatalf("expected per_class from rule, got %s", scope)
			}
			if trace.Rule == nil || trace.Rule.Result != "per_class" || trace.Rule.Engine != engine.name {
				t.Fatalf("expected rule outcome in trace, got %+v", trace.Rule)
			}
			if got := resolver.Resolve(plain); got != ScopePerMethod {
				t.Fatalf("expected empty rule result to fall back, got %s", got)
			}
		})
	}
}

func TestScopeRuleReadsEnvironment(t *testing.T) {
	t.Setenv("FIXTURE_TEST_SHARED", "process")
	for _, engine := range ruleEngines {
		t.Run(engine.name, func(t *testing.T) {
			if !engine.available() {
				t.Skip("engine not built in")
			}
			resolver := mustResolver(t, WithScopeRule(`env("FIXTURE_TEST_SHARED")`), WithRuleEngine(engine.name))
			if got := resolver.Resolve(NewRoot().Container("Orders")); got != ScopePerProcess {
				t.Fatalf("expected per_process from env, got %s", got)
			}
		})
	}
}

func TestScopeRuleCustomFunctions(t *testing.T) {
	registry := NewFunctionRegistry()
	if err := registry.Register("sharedFor", func(args ...any) (any, error) {
		if len(args) == 1 && args[0] == "Slow" {
			return "per_class", nil
		}
		return "", nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	resolver := mustResolver(t, WithScopeRule(`sharedFor(name)`), WithRuleFunctions(registry))
	if got := resolver.Resolve(NewRoot().Container("Slow")); got != ScopePerClass {
		t.Fatalf("expected custom function result, got %s", got)
	}
	if got := resolver.Resolve(NewRoot().Container("Fast")); got != ScopeAuto {
		t.Fatalf("expected default, got %s", got)
	}
}

func TestScopeRuleErrorsFallBack(t *testing.T) {
	cases := []struct {
		name string
		rule string
	}{
		{name: "non string result", rule: `len(tags)`},
		{name: "unknown scope", rule: `"per_galaxy"`},
		{name: "runtime failure", rule: `env(1)`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resolver := mustResolver(t, WithScopeRule(tc.rule), WithDefaultScope(ScopePerClass))
			node := NewRoot().Container("Orders")

			scope, trace, err := resolver.ResolveWithTrace(node)
			var evalErr *EvaluationError
			if !errors.As(err, &evalErr) {
				t.Fatalf("expected evaluation error, got %v", err)
			}
			if evalErr.Node != "Orders" || evalErr.Rule != tc.rule {
				t.Fatalf("unexpected error metadata %+v", evalErr)
			}
			if scope != ScopePerClass || resolver.Resolve(node) != ScopePerClass {
				t.Fatalf("expected fallback to default, got %s", scope)
			}
			if trace.Rule == nil || trace.Rule.Error == "" {
				t.Fatalf("expected rule error in trace")
			}
		})
	}
}

func TestScopeRuleCompileFailure(t *testing.T) {
	if _, err := NewScopeResolver(WithScopeRule(`"per_class" +`)); err == nil {
		t.Fatalf("expected compile error")
	}
	if _, err := NewScopeResolver(WithScopeRule(`"auto"`), WithRuleEngine("lua")); err == nil {
		t.Fatalf("expected unknown engine error")
	}
}

func TestResolveTraceRoundTrip(t *testing.T) {
	resolver := mustResolver(t)
	container := NewRoot(WithScope(ScopePerClass)).Container("Orders", WithLifecycle(LifecyclePerClass))
	_, trace, err := resolver.ResolveWithTrace(container.Case("create"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(trace.Layers) != 3 || !trace.Layers[2].Found || trace.Layers[0].Found {
		t.Fatalf("expected walk to stop at the root declaration, got %+v", trace.Layers)
	}

	payload, err := trace.ToJSON()
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	decoded, err := TraceFromJSON(payload)
	if err != nil {
		t.Fatalf("from json: %v", err)
	}
	if decoded.Node != "Orders/create" || decoded.Scope != ScopePerClass || decoded.Effective != ScopePerClass {
		t.Fatalf("unexpected decoded trace %+v", decoded)
	}
	if decoded.Layers[2].Scope != ScopePerClass {
		t.Fatalf("expected scope to survive the round trip, got %s", decoded.Layers[2].Scope)
	}
}

func TestProgramCacheSharedBetweenResolvers(t *testing.T) {
	cache, err := NewLRUProgramCache(4)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	mustResolver(t, WithScopeRule(`"per_class"`), WithRuleCache(cache))
	if _, ok := cache.Get(`expr:"per_class"`); !ok {
		t.Fatalf("expected compiled program to be cached")
	}
	second := mustResolver(t, WithScopeRule(`"per_class"`), WithRuleCache(cache))
	if got := second.Resolve(NewRoot().Container("Orders")); got != ScopePerClass {
		t.Fatalf("expected cached rule to evaluate, got %s", got)
	}
}
