package fixture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EnvApplication names the descriptor used instead of discovery.
const EnvApplication = "FIXTURE_APPLICATION"

// ComposerState is the lifecycle state of a Composer.
type ComposerState int

const (
	StateUninitialized ComposerState = iota
	StateBuilding
	StateBuilt
	StateReleased
)

func (s ComposerState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateBuilding:
		return "building"
	case StateBuilt:
		return "built"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Composer owns one assembled application: it builds it once, injects it into
// targets and releases it once.
type Composer struct {
	id        string
	assembler Assembler
	locator   DescriptorLocator
	beans     BeanInjector
	logger    Logger
	appName   string
	owner     *Node
	scope     Scope

	mu         sync.Mutex
	state      ComposerState
	descriptor Descriptor
	modules    ModuleSet
	handle     Handle
	source     *Source
	onRelease  []func(context.Context) error
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// WithLocator sets the descriptor locator. Defaults to Descriptors.
func WithLocator(locator DescriptorLocator) ComposerOption {
	return func(c *Composer) {
		if locator != nil {
			c.locator = locator
		}
	}
}

// WithBeanInjector sets the framework injector run before tag injection.
func WithBeanInjector(injector BeanInjector) ComposerOption {
	return func(c *Composer) {
		c.beans = injector
	}
}

// WithComposerLogger sets the lifecycle logger.
func WithComposerLogger(logger Logger) ComposerOption {
	return func(c *Composer) {
		c.logger = loggerOrNop(logger)
	}
}

// WithApplicationName selects a registered descriptor by name, overriding
// discovery. Defaults to the FIXTURE_APPLICATION environment variable.
func WithApplicationName(name string) ComposerOption {
	return func(c *Composer) {
		c.appName = strings.TrimSpace(name)
	}
}

func withOwner(node *Node, scope Scope) ComposerOption {
	return func(c *Composer) {
		c.owner = node
		c.scope = scope
	}
}

// NewComposer returns an uninitialized composer.
func NewComposer(assembler Assembler, opts ...ComposerOption) *Composer {
	c := &Composer{
		id:        uuid.NewString(),
		assembler: assembler,
		locator:   Descriptors,
		logger:    NopLogger{},
		appName:   strings.TrimSpace(os.Getenv(EnvApplication)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// ID returns the composer identifier.
func (c *Composer) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Composer) State() ComposerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Application returns the composed application, nil unless built.
func (c *Composer) Application() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateBuilt || c.handle == nil {
		return nil
	}
	return c.handle.Application()
}

// Descriptor returns the descriptor selected by Build.
func (c *Composer) Descriptor() Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.descriptor
}

// Modules returns the modules the application was built with.
func (c *Composer) Modules() ModuleSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modules
}

// OnRelease registers an extra teardown step. Steps run after the assembler
// teardown, most recent first.
func (c *Composer) OnRelease(fn func(context.Context) error) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRelease = append(c.onRelease, fn)
}

// Build selects a descriptor and assembles the application. It is legal only
// on an uninitialized composer. The assembler runs without the composer lock
// held; a Release that lands during the build tears the new application down
// as soon as it is assembled.
func (c *Composer) Build(ctx context.Context, spec BuildSpec) (err error) {
	c.mu.Lock()
	if c.state != StateUninitialized {
		state := c.state
		c.mu.Unlock()
		return &IllegalStateError{Op: "build", State: state}
	}
	if c.assembler == nil {
		c.mu.Unlock()
		return &AssemblyError{Err: errors.New("no assembler configured")}
	}
	c.state = StateBuilding
	c.mu.Unlock()

	start := time.Now()
	descriptor, err := c.selectDescriptor(ctx, spec)
	if err != nil {
		c.abortBuild()
		c.log(StageBuild, "", time.Since(start), err)
		return err
	}
	defer func() {
		c.log(StageBuild, descriptor.Name, time.Since(start), err)
	}()

	handle, err := c.assembler.Assemble(ctx, descriptor, spec.Modules)
	if err != nil {
		if handle != nil {
			err = errors.Join(err, c.assembler.Teardown(ctx, handle))
		}
		c.abortBuild()
		return &AssemblyError{Descriptor: descriptor.Name, Err: err}
	}
	if handle == nil {
		c.abortBuild()
		return &AssemblyError{Descriptor: descriptor.Name, Err: errors.New("assembler returned no handle")}
	}

	c.mu.Lock()
	if c.state != StateBuilding {
		state := c.state
		c.mu.Unlock()
		return errors.Join(&IllegalStateError{Op: "build", State: state}, c.assembler.Teardown(ctx, handle))
	}
	c.descriptor = descriptor
	c.modules = spec.Modules
	c.handle = handle
	c.source = NewSource(handle.Application())
	c.state = StateBuilt
	c.mu.Unlock()
	return nil
}

// abortBuild returns a failed build to the uninitialized state unless it was
// released meanwhile.
func (c *Composer) abortBuild() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateBuilding {
		c.state = StateUninitialized
	}
}

func (c *Composer) selectDescriptor(ctx context.Context, spec BuildSpec) (Descriptor, error) {
	if spec.Descriptor != nil {
		return *spec.Descriptor, nil
	}
	if c.locator == nil {
		return Descriptor{}, &AssemblyError{Err: fmt.Errorf("%w: no locator configured", ErrDescriptorNotFound)}
	}
	if c.appName != "" {
		descriptor, ok := c.locator.Lookup(c.appName)
		if !ok {
			return Descriptor{}, &AssemblyError{Descriptor: c.appName, Err: fmt.Errorf("%w: %q is not registered", ErrDescriptorNotFound, c.appName)}
		}
		return descriptor, nil
	}
	descriptor, err := c.locator.Find(ctx, spec.Root)
	if err == nil {
		return descriptor, nil
	}
	var ambiguous *AmbiguousDescriptorError
	if errors.As(err, &ambiguous) {
		return Descriptor{}, ambiguous
	}
	if !errors.Is(err, ErrDescriptorNotFound) {
		err = fmt.Errorf("%w: %w", ErrDescriptorNotFound, err)
	}
	return Descriptor{}, &AssemblyError{Err: err}
}

// Inject populates target with the application. The bean injector, when set,
// runs first.
func (c *Composer) Inject(ctx context.Context, target any) (err error) {
	c.mu.Lock()
	state, source, beans, descriptor := c.state, c.source, c.beans, c.descriptor.Name
	c.mu.Unlock()
	if state != StateBuilt {
		return &IllegalStateError{Op: "inject", State: state}
	}

	start := time.Now()
	defer func() {
		c.logger.LogLifecycle(LifecycleEvent{
			Stage:      StageInject,
			ComposerID: c.id,
			NodeID:     c.ownerID(),
			NodePath:   c.ownerPath(),
			Scope:      c.scope,
			Descriptor: descriptor,
			Target:     fmt.Sprintf("%T", target),
			Duration:   time.Since(start),
			Err:        err,
		})
	}()

	if beans != nil {
		if err := beans.InjectManagedFields(ctx, target); err != nil {
			var injectionErr *InjectionError
			if errors.As(err, &injectionErr) {
				return err
			}
			return &InjectionError{Target: fmt.Sprintf("%T", target), Err: err}
		}
	}
	return InjectFrom(target, source)
}

// Release tears the application down. It is idempotent: only the first call
// does any work. Every step runs even when an earlier one fails; failures are
// returned as one *ReleaseError.
func (c *Composer) Release(ctx context.Context) error {
	c.mu.Lock()
	previous := c.state
	if previous == StateReleased {
		c.mu.Unlock()
		return nil
	}
	c.state = StateReleased
	handle, callbacks, descriptor := c.handle, c.onRelease, c.descriptor.Name
	c.handle, c.source, c.onRelease = nil, nil, nil
	c.mu.Unlock()

	if previous == StateUninitialized || previous == StateBuilding {
		return nil
	}

	start := time.Now()
	var errs []error
	if handle != nil && c.assembler != nil {
		errs = append(errs, c.runStep(func() error { return c.assembler.Teardown(ctx, handle) }))
	}
	for i := len(callbacks) - 1; i >= 0; i-- {
		callback := callbacks[i]
		errs = append(errs, c.runStep(func() error { return callback(ctx) }))
	}
	err := newReleaseError(errs...)
	c.log(StageRelease, descriptor, time.Since(start), err)
	return err
}

// runStep converts a panicking teardown step into an error so the remaining
// steps still run.
func (c *Composer) runStep(step func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("teardown panicked: %v", recovered)
		}
	}()
	return step()
}

func (c *Composer) log(stage Stage, descriptor string, duration time.Duration, err error) {
	c.logger.LogLifecycle(LifecycleEvent{
		Stage:      stage,
		ComposerID: c.id,
		NodeID:     c.ownerID(),
		NodePath:   c.ownerPath(),
		Scope:      c.scope,
		Descriptor: descriptor,
		Duration:   duration,
		Err:        err,
	})
}

func (c *Composer) ownerID() string {
	if c.owner == nil {
		return ""
	}
	return c.owner.id
}

func (c *Composer) ownerPath() string {
	if c.owner == nil {
		return ""
	}
	return c.owner.Path()
}

// DefaultComposerFactory builds a composer with the given options and runs
// Build. A failed build is released before the error is returned.
func DefaultComposerFactory(assembler Assembler, opts ...ComposerOption) BuildFunc {
	return func(ctx context.Context, spec BuildSpec) (*Composer, error) {
		composer := NewComposer(assembler, opts...)
		if err := composer.Build(ctx, spec); err != nil {
			_ = composer.Release(ctx)
			return nil, err
		}
		return composer, nil
	}
}
