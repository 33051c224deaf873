package activity

import (
	"errors"
	"testing"
)

func TestBuildFixtureFailedEventCarriesStageAndError(t *testing.T) {
	meta := map[string]any{"custom": "value"}
	event := BuildFixtureFailedEvent(FixtureEventInput{
		NodeID:     " node-1 ",
		NodePath:   "TestBilling/charges",
		ComposerID: "composer-9",
		Scope:      "per_method",
		Descriptor: "billing.App",
		Stage:      "inject",
		Err:        errors.New("field mismatch"),
		Metadata:   meta,
	})

	if event.Verb != VerbFixtureFailed || event.ObjectType != ObjectTypeFixture {
		t.Fatalf("unexpected verb/object type: %+v", event)
	}
	if event.ActorID != "node-1" || event.ObjectID != "composer-9" {
		t.Fatalf("unexpected identity fields: %+v", event)
	}
	if event.Metadata["stage"] != "inject" || event.Metadata["error"] != "field mismatch" {
		t.Fatalf("expected stage and error metadata, got %+v", event.Metadata)
	}
	if event.Metadata["descriptor"] != "billing.App" {
		t.Fatalf("expected descriptor metadata, got %+v", event.Metadata)
	}
	event.Metadata["custom"] = "changed"
	if meta["custom"] != "value" {
		t.Fatalf("builder must clone metadata")
	}
}

func TestBuildFixtureEventObjectIDFallbacks(t *testing.T) {
	event := BuildFixtureBuiltEvent(FixtureEventInput{NodeID: "node-1"})
	if event.ObjectID != "node-1" {
		t.Fatalf("expected node id fallback, got %q", event.ObjectID)
	}
	event = BuildFixtureReleasedEvent(FixtureEventInput{})
	if event.ObjectID != ObjectTypeFixture {
		t.Fatalf("expected object type fallback, got %q", event.ObjectID)
	}
	if event.Metadata != nil {
		t.Fatalf("expected nil metadata when nothing was supplied, got %+v", event.Metadata)
	}
}
