package fixture

import (
	"errors"
	"testing"
)

func TestRuleErrorRecordsRuleAndNode(t *testing.T) {
	base := errors.New("boom")
	err := ruleError("expr", "hasTag(tags, missing)", "Orders/create", base)

	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected EvaluationError, got %T", err)
	}
	if evalErr.Engine != "expr" || evalErr.Rule != "hasTag(tags, missing)" || evalErr.Node != "Orders/create" {
		t.Fatalf("unexpected metadata %+v", evalErr)
	}
	if !errors.Is(err, base) || !errors.Is(err, ErrRuleEvaluation) {
		t.Fatalf("expected error to match both the cause and ErrRuleEvaluation")
	}
	want := `fixture: expr scope rule "hasTag(tags, missing)" at Orders/create: boom`
	if err.Error() != want {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestRuleErrorFillsOnlyMissingFields(t *testing.T) {
	base := errors.New("compile failure")
	existing := &EvaluationError{Engine: "expr", Err: base}

	err := ruleError("cel", "rule", "Orders", existing)
	if err != existing || !errors.Is(err, base) {
		t.Fatalf("expected the existing error to be returned")
	}
	if existing.Engine != "expr" {
		t.Fatalf("engine must not be overwritten, got %q", existing.Engine)
	}
	if existing.Rule != "rule" || existing.Node != "Orders" {
		t.Fatalf("expected rule and node to be filled, got %+v", existing)
	}
}

func TestRuleEngineErrorOmitsRuleAndNode(t *testing.T) {
	err := ruleEngineError("cel", errEmptyRule)
	if err.Error() != "fixture: cel scope rule: rule is empty" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, errEmptyRule) {
		t.Fatalf("expected cause to unwrap")
	}
	if ruleEngineError("cel", nil) != nil {
		t.Fatalf("nil cause must stay nil")
	}
}
