package fixture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/goliatone/go-fixture/pkg/activity"
	"github.com/goliatone/go-fixture/pkg/state"
)

// composerKey is the store key every node composer is kept under.
var composerKey = state.KeyOf[*Composer]()

// Coordinator reacts to test lifecycle events: it resolves the scope of each
// node, creates or reuses composers, injects target instances and releases
// composers when their owning node exits.
type Coordinator struct {
	assembler Assembler
	resolver  *ScopeResolver
	store     *state.Store
	process   *ProcessSingleton
	modules   ModuleSet
	locator   DescriptorLocator
	beans     BeanInjector
	logger    Logger
	emitter   *activity.Emitter
	appName   string

	mu           sync.Mutex
	releases     map[string][]*releaseHandle
	failures     map[string]error
	live         int
	processOwner bool
	errs         []error

	builds   atomic.Int64
	injects  atomic.Int64
	released atomic.Int64
}

// releaseHandle is a deferred release attached to the node that opened a
// composer. It runs at most once.
type releaseHandle struct {
	once sync.Once
	fn   func(context.Context) error
	err  error
}

func (h *releaseHandle) run(ctx context.Context) error {
	h.once.Do(func() {
		h.err = h.fn(ctx)
	})
	return h.err
}

// Stats counts coordinator activity.
type Stats struct {
	Builds   int64
	Injects  int64
	Releases int64
	Live     int
	Activity activity.EmitterStats
}

// NewCoordinator builds a coordinator around assembler.
func NewCoordinator(assembler Assembler, opts ...Option) (*Coordinator, error) {
	if assembler == nil {
		return nil, errors.New("fixture: coordinator requires an assembler")
	}
	cfg := applyCoordinatorOptions(opts)

	resolver := cfg.resolver
	if resolver == nil {
		var err error
		if resolver, err = NewScopeResolver(); err != nil {
			return nil, err
		}
	}
	store := cfg.store
	if store == nil {
		store = state.New()
	}
	process := cfg.process
	if process == nil {
		process = Process
	}
	locator := cfg.locator
	if locator == nil {
		locator = Descriptors
	}

	activityConfig := cfg.activityConfig
	if !cfg.activitySet {
		activityConfig.Enabled = true
	}
	appName := cfg.appName
	logger := cfg.logger
	if cfg.config != nil {
		if appName == "" {
			appName = cfg.config.Application
		}
		if !cfg.activitySet {
			activityConfig = cfg.config.Activity.emitterConfig()
		}
	}

	return &Coordinator{
		assembler: assembler,
		resolver:  resolver,
		store:     store,
		process:   process,
		modules:   NewModuleSet(cfg.modules...),
		locator:   locator,
		beans:     cfg.beans,
		logger:    loggerOrNop(logger),
		emitter:   activity.NewEmitter(cfg.activityHooks, activityConfig),
		appName:   appName,
		releases:  make(map[string][]*releaseHandle),
		failures:  make(map[string]error),
	}, nil
}

// Resolver returns the scope resolver in use.
func (c *Coordinator) Resolver() *ScopeResolver { return c.resolver }

// Store returns the store holding node composers.
func (c *Coordinator) Store() *state.Store { return c.store }

// Validate checks that node's effective scope can be honoured. It runs before
// any build and reports *ConfigurationConflictError.
func (c *Coordinator) Validate(node *Node) error {
	_, err := c.validate(node)
	return err
}

func (c *Coordinator) validate(node *Node) (Scope, error) {
	if node == nil {
		return ScopeAuto, ErrNilNode
	}
	scope, err := c.resolver.Effective(node)
	if err != nil {
		return scope, err
	}

	scoped, process := c.process.claims()
	if scope == ScopePerProcess {
		if node.Lifecycle() == LifecyclePerMethod {
			return scope, c.conflict(node, scope, reasonProcessLifecycle)
		}
		if scoped > 0 {
			return scope, c.conflict(node, scope, reasonScopedRunning)
		}
		if node.declaresModules() {
			return scope, c.conflict(node, scope, reasonProcessModules)
		}
		return scope, nil
	}
	if process {
		return scope, c.conflict(node, scope, reasonProcessRunning)
	}
	return scope, nil
}

const (
	reasonProcessLifecycle = "process scope requires the per class instance lifecycle"
	reasonScopedRunning    = "process scope requested while class or method scoped fixtures are running"
	reasonProcessModules   = "process scope cannot use node level modules; configure modules on the coordinator"
	reasonProcessRunning   = "a process scoped fixture is already running"
)

// conflict logs and returns a *ConfigurationConflictError for node.
func (c *Coordinator) conflict(node *Node, scope Scope, reason string) error {
	err := &ConfigurationConflictError{Node: node.Path(), Scope: scope, Reason: reason}
	c.logger.LogLifecycle(LifecycleEvent{
		Stage:    StageValidate,
		NodeID:   node.ID(),
		NodePath: node.Path(),
		Scope:    scope,
		Err:      err,
	})
	return err
}

// EnterContainer prepares the fixture for a container. Process and class
// scoped fixtures are built here; method scoped ones wait for each case. A
// build failure is returned and recorded so every case of the container fails
// with it.
func (c *Coordinator) EnterContainer(ctx context.Context, node *Node) error {
	if node == nil {
		return ErrNilNode
	}
	scope, err := c.validate(node)
	if err != nil {
		c.recordFailure(node, err)
		c.emitFailed(ctx, node, nil, scope, StageValidate, err)
		return err
	}

	var composer *Composer
	switch scope {
	case ScopePerProcess:
		composer, err = c.processComposer(ctx, node)
	case ScopePerClass:
		composer, err = c.acquire(ctx, node, scope)
	default:
		return nil
	}
	if err != nil {
		c.recordFailure(node, err)
		return err
	}

	if node.Lifecycle() == LifecyclePerClass {
		if err := c.injectAll(ctx, node, composer, scope, node.Instances()); err != nil {
			c.recordFailure(node, err)
			return err
		}
	}
	return nil
}

// EnterCase injects the fixture into a case. Method scoped fixtures are built
// here; shared ones are fetched, never rebuilt. Failures affect only this
// case, except for a recorded container failure which every case reports.
func (c *Coordinator) EnterCase(ctx context.Context, node *Node) error {
	if node == nil {
		return ErrNilNode
	}
	container := node.ContainerNode()
	if err := c.failure(container); err != nil {
		return err
	}
	scope, err := c.validate(node)
	if err != nil {
		c.emitFailed(ctx, node, nil, scope, StageValidate, err)
		return err
	}

	targets := node.Instances()
	var composer *Composer
	switch scope {
	case ScopePerProcess:
		composer, err = c.processComposer(ctx, node)
	case ScopePerClass:
		owner := container
		if owner == nil {
			owner = node
		}
		composer, err = c.acquire(ctx, owner, scope)
	default:
		composer, err = c.acquire(ctx, node, scope)
		if container != nil && container.Lifecycle() == LifecyclePerClass {
			targets = append(container.Instances(), targets...)
		}
	}
	if err != nil {
		return err
	}
	return c.injectAll(ctx, node, composer, scope, targets)
}

// ExitCase runs the releases registered at the case.
func (c *Coordinator) ExitCase(ctx context.Context, node *Node) error {
	if node == nil {
		return ErrNilNode
	}
	c.runReleases(ctx, node.ID())
	return nil
}

// ExitContainer runs the releases registered at the container and drops its
// store entries and recorded failure.
func (c *Coordinator) ExitContainer(ctx context.Context, node *Node) error {
	if node == nil {
		return ErrNilNode
	}
	c.runReleases(ctx, node.ID())
	c.store.DropNode(node.ID())
	c.mu.Lock()
	delete(c.failures, node.ID())
	c.mu.Unlock()
	return nil
}

// Err returns the release failures collected since the previous call as one
// *ReleaseError, or nil.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	errs := c.errs
	c.errs = nil
	c.mu.Unlock()
	return newReleaseError(errs...)
}

// Close releases every composer still registered, including the process
// composer when this coordinator built it, and returns Err.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	pending := make([]string, 0, len(c.releases))
	for nodeID := range c.releases {
		pending = append(pending, nodeID)
	}
	owner := c.processOwner
	c.processOwner = false
	c.mu.Unlock()

	for _, nodeID := range pending {
		c.runReleases(ctx, nodeID)
	}
	if owner {
		composer, started := c.process.Current()
		if err := c.process.Close(ctx); err != nil {
			c.collect(err)
			c.emitFailed(ctx, nil, composer, ScopePerProcess, StageRelease, err)
		} else if started {
			c.released.Add(1)
			c.emitReleased(ctx, nil, composer, ScopePerProcess)
		}
	}
	return c.Err()
}

// Stats returns a snapshot of the coordinator counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	live := c.live
	c.mu.Unlock()
	return Stats{
		Builds:   c.builds.Load(),
		Injects:  c.injects.Load(),
		Releases: c.released.Load(),
		Live:     live,
		Activity: c.emitter.Stats(),
	}
}

func (c *Coordinator) processComposer(ctx context.Context, node *Node) (*Composer, error) {
	spec := node.buildSpec(c.modules)
	composer, created, err := c.process.startOnce(ctx, spec, c.factory(node, ScopePerProcess))
	if errors.Is(err, errScopedClaims) {
		err = c.conflict(node, ScopePerProcess, reasonScopedRunning)
		c.emitFailed(ctx, node, nil, ScopePerProcess, StageValidate, err)
		return nil, err
	}
	if err != nil {
		c.emitFailed(ctx, node, nil, ScopePerProcess, StageBuild, err)
		return nil, err
	}
	if created {
		c.mu.Lock()
		c.processOwner = true
		c.mu.Unlock()
		c.builds.Add(1)
		c.emitBuilt(ctx, node, composer, ScopePerProcess)
		return composer, nil
	}
	if reason := incompatibleProcess(spec, composer.Descriptor()); reason != "" {
		err := c.conflict(node, ScopePerProcess, reason)
		c.emitFailed(ctx, node, composer, ScopePerProcess, StageValidate, err)
		return nil, err
	}
	return composer, nil
}

// incompatibleProcess reports why spec cannot share the process composer
// built from running, or "" when it can.
func incompatibleProcess(spec BuildSpec, running Descriptor) string {
	if spec.Descriptor != nil {
		want := *spec.Descriptor
		if want.Name != running.Name || normalizePackage(want.Package) != normalizePackage(running.Package) {
			return fmt.Sprintf("process fixture already running descriptor %q; %q requested", running.Name, want.Name)
		}
		return ""
	}
	if root := normalizePackage(spec.Root); root != "" && !packageWithin(normalizePackage(running.Package), root) {
		return fmt.Sprintf("process fixture already running descriptor %q outside root %q", running.Name, root)
	}
	return ""
}

func normalizePackage(pkg string) string {
	return strings.Trim(strings.TrimSpace(pkg), "/")
}

// acquire returns the composer stored at owner, building it on first use and
// registering its release on owner. Every build holds a scoped claim on the
// process singleton until it is released.
func (c *Coordinator) acquire(ctx context.Context, owner *Node, scope Scope) (*Composer, error) {
	ref := state.Ref{Node: owner.ID(), Key: composerKey}
	value, _, err := c.store.LoadOrCreate(ctx, ref, func(ctx context.Context) (any, error) {
		if c.process.claimScoped() != nil {
			err := c.conflict(owner, scope, reasonProcessRunning)
			c.emitFailed(ctx, owner, nil, scope, StageValidate, err)
			return nil, err
		}
		built := false
		defer func() {
			if !built {
				c.process.releaseScoped()
			}
		}()
		composer, err := c.factory(owner, scope)(ctx, owner.buildSpec(c.modules))
		if err != nil {
			c.emitFailed(ctx, owner, nil, scope, StageBuild, err)
			return nil, err
		}
		built = true
		c.builds.Add(1)
		c.mu.Lock()
		c.live++
		c.mu.Unlock()
		c.addRelease(owner.ID(), func(ctx context.Context) error {
			c.store.Delete(ref)
			c.mu.Lock()
			c.live--
			c.mu.Unlock()
			defer c.process.releaseScoped()
			if err := composer.Release(ctx); err != nil {
				c.emitFailed(ctx, owner, composer, scope, StageRelease, err)
				return err
			}
			c.released.Add(1)
			c.emitReleased(ctx, owner, composer, scope)
			return nil
		})
		c.emitBuilt(ctx, owner, composer, scope)
		return composer, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*Composer), nil
}

func (c *Coordinator) factory(owner *Node, scope Scope) BuildFunc {
	opts := []ComposerOption{
		WithLocator(c.locator),
		WithBeanInjector(c.beans),
		WithComposerLogger(c.logger),
		withOwner(owner, scope),
	}
	if c.appName != "" {
		opts = append(opts, WithApplicationName(c.appName))
	}
	return DefaultComposerFactory(c.assembler, opts...)
}

func (c *Coordinator) injectAll(ctx context.Context, node *Node, composer *Composer, scope Scope, targets []any) error {
	for _, target := range targets {
		if err := composer.Inject(ctx, target); err != nil {
			c.emitFailed(ctx, node, composer, scope, StageInject, err)
			return err
		}
		c.injects.Add(1)
		c.emitInjected(ctx, node, composer, scope, target)
	}
	return nil
}

func (c *Coordinator) addRelease(nodeID string, fn func(context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releases[nodeID] = append(c.releases[nodeID], &releaseHandle{fn: fn})
}

// runReleases runs the handles registered at nodeID in registration order.
// Every handle runs even when an earlier one fails.
func (c *Coordinator) runReleases(ctx context.Context, nodeID string) {
	c.mu.Lock()
	handles := c.releases[nodeID]
	delete(c.releases, nodeID)
	c.mu.Unlock()

	for _, handle := range handles {
		if err := handle.run(ctx); err != nil {
			c.collect(err)
		}
	}
}

func (c *Coordinator) collect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *Coordinator) recordFailure(node *Node, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[node.ID()] = err
}

func (c *Coordinator) failure(container *Node) error {
	if container == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures[container.ID()]
}
