//go:build js_eval

package fixture

import (
	"errors"
	"testing"
	"time"
)

func TestJSEvaluatorInterruptsRunawayRules(t *testing.T) {
	evaluator := NewJSEvaluator(JSWithTimeout(20 * time.Millisecond))
	start := time.Now()
	_, err := evaluator.Evaluate(RuleContext{NodePath: "Orders"}, "(function(){ for(;;){} })()")
	if err == nil {
		t.Fatalf("expected runaway rule to be interrupted")
	}
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) || evalErr.Engine != "js" || evalErr.Node != "Orders" {
		t.Fatalf("expected js evaluation error for Orders, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("interrupt took %s", elapsed)
	}
}

func TestJSEvaluatorRegistryFunctions(t *testing.T) {
	registry := DefaultFunctionRegistry()
	evaluator := NewJSEvaluator(JSWithFunctionRegistry(registry))
	ctx := RuleContext{Snapshot: map[string]any{"tags": []string{"db", "slow"}}}

	result, err := evaluator.Evaluate(ctx, `call("hasTag", tags, "slow") && hasTag(tags, "db") ? "per_class" : ""`)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result != "per_class" {
		t.Fatalf("expected per_class, got %v", result)
	}
}
