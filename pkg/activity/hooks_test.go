package activity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNormalizeEventTrimsClonesAndDefaults(t *testing.T) {
	meta := map[string]any{"k": "v"}
	evt := Event{
		Verb:       " fixture.built ",
		ActorID:    " node ",
		ObjectType: " fixture ",
		ObjectID:   " 42 ",
		Channel:    " fixture ",
		Scope:      " per_class ",
		NodePath:   " TestBilling ",
		Metadata:   meta,
	}

	got := NormalizeEvent(evt)

	if got.Verb != "fixture.built" || got.ObjectType != "fixture" || got.ObjectID != "42" {
		t.Fatalf("unexpected normalized fields: %+v", got)
	}
	if got.ActorID != "node" || got.Channel != "fixture" || got.Scope != "per_class" || got.NodePath != "TestBilling" {
		t.Fatalf("unexpected trimming: %+v", got)
	}
	if got.OccurredAt.IsZero() {
		t.Fatalf("expected OccurredAt to be set")
	}
	got.Metadata["k"] = "changed"
	if evt.Metadata["k"] != "v" {
		t.Fatalf("expected original metadata untouched: %+v", evt.Metadata)
	}
}

func TestHooksNotifyShortCircuitsMissingRequired(t *testing.T) {
	capture := &CaptureHook{}
	hooks := Hooks{capture}
	if err := hooks.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(capture.Events) != 0 {
		t.Fatalf("expected no events captured, got %d", len(capture.Events))
	}
}

func TestHooksNotifyFanOutAndJoinErrors(t *testing.T) {
	capture := &CaptureHook{}
	boom1 := errors.New("boom1")
	boom2 := errors.New("boom2")
	var ctxSeen bool
	hooks := Hooks{
		HookFunc(func(ctx context.Context, event Event) error {
			if ctx != nil {
				ctxSeen = true
			}
			return nil
		}),
		capture,
		HookFunc(func(_ context.Context, _ Event) error { return boom1 }),
		nil,
		HookFunc(func(_ context.Context, _ Event) error { return boom2 }),
	}

	//nolint:staticcheck // nil context exercises the fallback
	err := hooks.Notify(nil, Event{Verb: VerbFixtureBuilt, ObjectType: ObjectTypeFixture, ObjectID: "1"})
	if !errors.Is(err, boom1) || !errors.Is(err, boom2) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if !ctxSeen {
		t.Fatalf("expected context fallback to be non-nil")
	}
	if capture.Count(VerbFixtureBuilt) != 1 {
		t.Fatalf("expected event to be captured once, got %v", capture.Verbs())
	}
}

func TestEmitterDisabledAndEnabled(t *testing.T) {
	capture := &CaptureHook{}

	disabled := NewEmitter(Hooks{capture}, Config{Enabled: false})
	if disabled.Enabled() {
		t.Fatalf("expected emitter to be disabled")
	}
	if err := disabled.Emit(context.Background(), Event{Verb: VerbFixtureBuilt, ObjectType: ObjectTypeFixture, ObjectID: "1"}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(capture.Events) != 0 {
		t.Fatalf("expected no events captured when disabled")
	}

	enabled := NewEmitter(Hooks{capture}, Config{Enabled: true})
	if err := enabled.Emit(context.Background(), Event{Verb: VerbFixtureBuilt, ObjectType: ObjectTypeFixture, ObjectID: "1"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(capture.Events) != 1 {
		t.Fatalf("expected one event captured, got %d", len(capture.Events))
	}
	if capture.Events[0].Channel != DefaultChannel {
		t.Fatalf("expected default channel applied, got %q", capture.Events[0].Channel)
	}

	var nilEmitter *Emitter
	if err := nilEmitter.Emit(context.Background(), Event{Verb: "x", ObjectType: "y", ObjectID: "z"}); err != nil {
		t.Fatalf("nil emitter should be a no-op, got %v", err)
	}
}

func TestEmitterPreservesExplicitChannel(t *testing.T) {
	capture := &CaptureHook{}
	emitter := NewEmitter(Hooks{capture}, Config{Enabled: true, Channel: "default"})
	when := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	err := emitter.Emit(context.Background(), Event{
		Verb:       VerbFixtureReleased,
		ObjectType: ObjectTypeFixture,
		ObjectID:   "1",
		Channel:    "custom",
		OccurredAt: when,
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if capture.Events[0].Channel != "custom" {
		t.Fatalf("expected explicit channel preserved, got %q", capture.Events[0].Channel)
	}
	if !capture.Events[0].OccurredAt.Equal(when) {
		t.Fatalf("expected occurred_at preserved, got %v", capture.Events[0].OccurredAt)
	}
}

func TestEmitterVerbFilterAndStats(t *testing.T) {
	capture := &CaptureHook{}
	failing := HookFunc(func(context.Context, Event) error { return errors.New("sink down") })
	emitter := NewEmitter(Hooks{capture}, Config{Enabled: true, Verbs: []string{VerbFixtureFailed, " "}})

	for _, verb := range []string{VerbFixtureBuilt, VerbFixtureFailed, VerbFixtureReleased} {
		if err := emitter.Emit(context.Background(), Event{Verb: verb, ObjectType: ObjectTypeFixture, ObjectID: "1"}); err != nil {
			t.Fatalf("emit %s: %v", verb, err)
		}
	}
	if got := capture.Verbs(); len(got) != 1 || got[0] != VerbFixtureFailed {
		t.Fatalf("expected only failed events, got %v", got)
	}
	if capture.Events[0].OccurredAt.IsZero() {
		t.Fatalf("expected occurred_at to be stamped")
	}
	if stats := emitter.Stats(); stats.Delivered != 1 || stats.Filtered != 2 || stats.Failed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	broken := NewEmitter(Hooks{nil, failing}, Config{Enabled: true})
	if err := broken.Emit(context.Background(), Event{Verb: VerbFixtureBuilt, ObjectType: ObjectTypeFixture, ObjectID: "1"}); err == nil {
		t.Fatalf("expected hook error")
	}
	if stats := broken.Stats(); stats.Failed != 1 || stats.Delivered != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if NewEmitter(Hooks{nil}, Config{Enabled: true}).Enabled() {
		t.Fatalf("expected emitter without hooks to be disabled")
	}
}
