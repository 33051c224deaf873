// Package hydrate decodes loosely typed maps, such as a parsed YAML document,
// into typed structs through a JSON round trip with optional hooks.
package hydrate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Context identifies the payload being decoded in errors and hooks.
type Context struct {
	// Source is where the payload came from, usually a file path.
	Source string
	// Section names the part of the document being decoded.
	Section string
}

func (c Context) label() string {
	if c.Section == "" {
		return c.Source
	}
	return c.Source + "#" + c.Section
}

// Stage names the decode step an Error happened in.
type Stage string

const (
	StagePayload  Stage = "payload"
	StagePreHook  Stage = "pre-hook"
	StageDecode   Stage = "decode"
	StagePostHook Stage = "post-hook"
)

// Error reports which stage of which payload failed.
type Error struct {
	Stage   Stage
	Context Context
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("hydrate: %s %q: %v", e.Stage, e.Context.label(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNilPayload is returned when Decode receives a nil map.
var ErrNilPayload = errors.New("payload is nil")

// PreHook rewrites the payload before decoding. Returning nil keeps the
// current payload.
type PreHook func(Context, map[string]any) (map[string]any, error)

// PostHook adjusts or validates the decoded value.
type PostHook[T any] func(Context, *T) error

// CustomDecoder replaces the JSON round trip.
type CustomDecoder[T any] func(Context, map[string]any) (T, error)

// DecoderOption configures a Decoder.
type DecoderOption[T any] func(*Decoder[T])

// Decoder converts map payloads into T.
type Decoder[T any] struct {
	pre       []PreHook
	post      []PostHook[T]
	useNumber bool
	strict    bool
	custom    CustomDecoder[T]
}

// WithPreHook appends a hook run before decoding.
func WithPreHook[T any](hook PreHook) DecoderOption[T] {
	return func(d *Decoder[T]) {
		if hook != nil {
			d.pre = append(d.pre, hook)
		}
	}
}

// WithPostHook appends a hook run after decoding.
func WithPostHook[T any](hook PostHook[T]) DecoderOption[T] {
	return func(d *Decoder[T]) {
		if hook != nil {
			d.post = append(d.post, hook)
		}
	}
}

// WithUseNumber decodes numbers held in interface fields as json.Number.
func WithUseNumber[T any]() DecoderOption[T] {
	return func(d *Decoder[T]) { d.useNumber = true }
}

// WithDisallowUnknownFields rejects payload keys with no matching field.
func WithDisallowUnknownFields[T any]() DecoderOption[T] {
	return func(d *Decoder[T]) { d.strict = true }
}

// WithCustomDecoder replaces the JSON round trip with decoder.
func WithCustomDecoder[T any](decoder CustomDecoder[T]) DecoderOption[T] {
	return func(d *Decoder[T]) { d.custom = decoder }
}

// NewDecoder returns a decoder configured by opts.
func NewDecoder[T any](opts ...DecoderOption[T]) *Decoder[T] {
	d := &Decoder[T]{}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Decode runs the pre-hooks on a copy of payload, decodes the result into T
// and runs the post-hooks. Failures are *Error values.
func (d *Decoder[T]) Decode(ctx Context, payload map[string]any) (T, error) {
	var zero T
	fail := func(stage Stage, err error) (T, error) {
		return zero, &Error{Stage: stage, Context: ctx, Err: err}
	}

	if payload == nil {
		return fail(StagePayload, ErrNilPayload)
	}
	current, err := roundTrip[map[string]any](payload, false, false)
	if err != nil {
		return fail(StagePayload, err)
	}
	for _, hook := range d.pre {
		next, err := hook(ctx, current)
		if err != nil {
			return fail(StagePreHook, err)
		}
		if next != nil {
			current = next
		}
	}

	var result T
	if d.custom != nil {
		result, err = d.custom(ctx, current)
	} else {
		result, err = roundTrip[T](current, d.useNumber, d.strict)
	}
	if err != nil {
		return fail(StageDecode, err)
	}

	for _, hook := range d.post {
		if err := hook(ctx, &result); err != nil {
			return fail(StagePostHook, err)
		}
	}
	return result, nil
}

func roundTrip[T any](value any, useNumber, strict bool) (T, error) {
	var out T
	raw, err := json.Marshal(value)
	if err != nil {
		return out, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if useNumber {
		dec.UseNumber()
	}
	if strict {
		dec.DisallowUnknownFields()
	}
	err = dec.Decode(&out)
	return out, err
}
