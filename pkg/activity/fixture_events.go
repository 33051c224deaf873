package activity

import (
	"strings"
	"time"
)

// Verbs emitted for fixture lifecycle transitions.
const (
	VerbFixtureBuilt    = "fixture.built"
	VerbFixtureInjected = "fixture.injected"
	VerbFixtureReleased = "fixture.released"
	VerbFixtureFailed   = "fixture.failed"
)

// ObjectTypeFixture is the object type used by every fixture event.
const ObjectTypeFixture = "fixture"

// FixtureEventInput describes the common fields for fixture lifecycle events.
type FixtureEventInput struct {
	NodeID     string
	NodePath   string
	ComposerID string
	Scope      string
	Descriptor string
	Stage      string // failing stage for failed events: build, inject, release
	Err        error
	Channel    string
	Metadata   map[string]any
	OccurredAt time.Time
}

// BuildFixtureBuiltEvent describes a composer reaching the built state.
func BuildFixtureBuiltEvent(input FixtureEventInput) Event {
	return buildFixtureEvent(VerbFixtureBuilt, input)
}

// BuildFixtureInjectedEvent describes one target receiving the fixture.
func BuildFixtureInjectedEvent(input FixtureEventInput) Event {
	return buildFixtureEvent(VerbFixtureInjected, input)
}

// BuildFixtureReleasedEvent describes a composer being torn down.
func BuildFixtureReleasedEvent(input FixtureEventInput) Event {
	return buildFixtureEvent(VerbFixtureReleased, input)
}

// BuildFixtureFailedEvent describes a failed build, inject or release.
func BuildFixtureFailedEvent(input FixtureEventInput) Event {
	return buildFixtureEvent(VerbFixtureFailed, input)
}

func buildFixtureEvent(verb string, input FixtureEventInput) Event {
	metadata := cloneMap(input.Metadata)
	if descriptor := strings.TrimSpace(input.Descriptor); descriptor != "" {
		metadata = ensureMetadata(metadata)
		metadata["descriptor"] = descriptor
	}
	if stage := strings.TrimSpace(input.Stage); stage != "" {
		metadata = ensureMetadata(metadata)
		metadata["stage"] = stage
	}
	if input.Err != nil {
		metadata = ensureMetadata(metadata)
		metadata["error"] = input.Err.Error()
	}

	objectID := strings.TrimSpace(input.ComposerID)
	if objectID == "" {
		objectID = strings.TrimSpace(input.NodeID)
	}
	if objectID == "" {
		objectID = ObjectTypeFixture
	}

	return Event{
		Verb:       verb,
		ActorID:    strings.TrimSpace(input.NodeID),
		ObjectType: ObjectTypeFixture,
		ObjectID:   objectID,
		Channel:    strings.TrimSpace(input.Channel),
		Scope:      strings.TrimSpace(input.Scope),
		NodePath:   strings.TrimSpace(input.NodePath),
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
