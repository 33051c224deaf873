// Package fixturetest provides test doubles for the fixture package: a
// counting Assembler, a sample application and a recording BeanInjector.
package fixturetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	fixture "github.com/goliatone/go-fixture"
)

// BasePort is the port given to the first application built by an Assembler.
const BasePort = 8080

// App is a sample composed application.
type App struct {
	Name    string
	Port    int
	Modules []any
	Managed string

	closed atomic.Bool
}

// Closed reports whether the application was torn down.
func (a *App) Closed() bool { return a.closed.Load() }

// Handle wraps an App.
type Handle struct {
	App *App
}

// Application implements fixture.Handle.
func (h *Handle) Application() any { return h.App }

// Descriptor returns a descriptor that builds an App called name.
func Descriptor(name, pkg string) fixture.Descriptor {
	return fixture.Descriptor{
		Name:    name,
		Package: pkg,
		New: func() any {
			return &App{Name: name}
		},
	}
}

// Assembler counts assemble and teardown calls. Failures can be injected
// through the exported fields, which must be set before use.
type Assembler struct {
	// AssembleErr fails every Assemble call.
	AssembleErr error
	// Partial makes a failing Assemble also return a handle.
	Partial bool
	// TeardownErr fails every Teardown call.
	TeardownErr error
	// Delay slows Assemble down to widen race windows.
	Delay time.Duration
	// Gate, when set, holds every Assemble call until it is closed.
	Gate chan struct{}

	assembles atomic.Int64
	teardowns atomic.Int64

	startedInit  sync.Once
	startedClose sync.Once
	started      chan struct{}

	mu     sync.Mutex
	events []string
}

// NewAssembler returns an Assembler with no injected failures.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Assemble implements fixture.Assembler.
func (a *Assembler) Assemble(ctx context.Context, descriptor fixture.Descriptor, modules fixture.ModuleSet) (fixture.Handle, error) {
	n := a.assembles.Add(1)
	a.startedClose.Do(func() { close(a.startedChan()) })
	if a.Gate != nil {
		select {
		case <-a.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.Delay > 0 {
		select {
		case <-time.After(a.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	app := &App{Name: descriptor.Name}
	if descriptor.New != nil {
		if template, ok := descriptor.New().(*App); ok && template.Name != "" {
			app.Name = template.Name
		}
	}
	app.Port = BasePort + int(n) - 1
	app.Modules = modules.Values()
	a.record("assemble:" + app.Name)

	if a.AssembleErr != nil {
		if a.Partial {
			return &Handle{App: app}, a.AssembleErr
		}
		return nil, a.AssembleErr
	}
	return &Handle{App: app}, nil
}

// Started is closed when the first Assemble call begins.
func (a *Assembler) Started() <-chan struct{} {
	return a.startedChan()
}

func (a *Assembler) startedChan() chan struct{} {
	a.startedInit.Do(func() { a.started = make(chan struct{}) })
	return a.started
}

// Teardown implements fixture.Assembler.
func (a *Assembler) Teardown(_ context.Context, handle fixture.Handle) error {
	a.teardowns.Add(1)
	h, ok := handle.(*Handle)
	if !ok || h.App == nil {
		return errors.New("fixturetest: unexpected handle")
	}
	h.App.closed.Store(true)
	a.record("teardown:" + h.App.Name)
	return a.TeardownErr
}

// Assembles returns the number of Assemble calls.
func (a *Assembler) Assembles() int { return int(a.assembles.Load()) }

// Teardowns returns the number of Teardown calls.
func (a *Assembler) Teardowns() int { return int(a.teardowns.Load()) }

// Events returns the recorded assemble and teardown calls in order.
func (a *Assembler) Events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

func (a *Assembler) record(event string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

// BeanInjector records every target it sees and sets Managed on App holders.
type BeanInjector struct {
	// Err fails every call.
	Err error

	mu      sync.Mutex
	targets []any
}

// Managed is implemented by targets that accept a framework managed value.
type Managed interface {
	SetManaged(value string)
}

// InjectManagedFields implements fixture.BeanInjector.
func (b *BeanInjector) InjectManagedFields(_ context.Context, target any) error {
	b.mu.Lock()
	b.targets = append(b.targets, target)
	b.mu.Unlock()
	if b.Err != nil {
		return b.Err
	}
	if managed, ok := target.(Managed); ok {
		managed.SetManaged("managed")
	}
	return nil
}

// Targets returns the targets seen so far.
func (b *BeanInjector) Targets() []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]any(nil), b.targets...)
}

// Target is a typical test instance.
type Target struct {
	App     *App `fixture:"application"`
	Port    int  `fixture:"derived"`
	Managed string
}

// SetManaged implements Managed.
func (t *Target) SetManaged(value string) { t.Managed = value }
