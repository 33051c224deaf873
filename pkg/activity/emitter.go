package activity

import (
	"context"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultChannel is applied to events emitted without a channel.
const DefaultChannel = "fixture"

// Config controls activity emission.
type Config struct {
	Enabled bool
	Channel string
	// Verbs restricts emission to the listed verbs, for example only
	// VerbFixtureFailed. Empty emits every verb.
	Verbs []string
}

// Emitter fans fixture events out to hooks. It fills in the channel and the
// occurrence time, drops verbs outside the configured filter and counts what
// it delivered.
type Emitter struct {
	hooks   Hooks
	enabled bool
	channel string
	verbs   map[string]struct{}
	now     func() time.Time

	delivered atomic.Int64
	filtered  atomic.Int64
	failed    atomic.Int64
}

// NewEmitter constructs an emitter. Nil hooks are dropped; an emitter with no
// hooks is disabled.
func NewEmitter(hooks Hooks, cfg Config) *Emitter {
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = DefaultChannel
	}
	var verbs map[string]struct{}
	for _, verb := range cfg.Verbs {
		if verb = strings.TrimSpace(verb); verb != "" {
			if verbs == nil {
				verbs = map[string]struct{}{}
			}
			verbs[verb] = struct{}{}
		}
	}
	live := compactHooks(hooks)
	return &Emitter{
		hooks:   live,
		enabled: cfg.Enabled && len(live) > 0,
		channel: channel,
		verbs:   verbs,
		now:     time.Now,
	}
}

// Enabled reports whether emissions should be attempted.
func (e *Emitter) Enabled() bool {
	return e != nil && e.enabled
}

// Allows reports whether verb passes the configured filter.
func (e *Emitter) Allows(verb string) bool {
	if e == nil || len(e.verbs) == 0 {
		return true
	}
	_, ok := e.verbs[verb]
	return ok
}

// Emit forwards event to every hook. A nil or disabled emitter and filtered
// verbs are no-ops.
func (e *Emitter) Emit(ctx context.Context, event Event) error {
	if !e.Enabled() {
		return nil
	}
	if !e.Allows(event.Verb) {
		e.filtered.Add(1)
		return nil
	}
	if strings.TrimSpace(event.Channel) == "" {
		event.Channel = e.channel
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now().UTC()
	}
	if err := e.hooks.Notify(ctx, event); err != nil {
		e.failed.Add(1)
		return err
	}
	e.delivered.Add(1)
	return nil
}

// EmitterStats counts emitter outcomes.
type EmitterStats struct {
	Delivered int64
	Filtered  int64
	Failed    int64
}

// Stats returns a snapshot of the emitter counters.
func (e *Emitter) Stats() EmitterStats {
	if e == nil {
		return EmitterStats{}
	}
	return EmitterStats{
		Delivered: e.delivered.Load(),
		Filtered:  e.filtered.Load(),
		Failed:    e.failed.Load(),
	}
}

func compactHooks(hooks Hooks) Hooks {
	var live Hooks
	for _, hook := range hooks {
		if hook != nil {
			live = append(live, hook)
		}
	}
	return live
}
