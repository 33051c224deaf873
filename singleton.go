package fixture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/goliatone/go-fixture/internal/exithook"
)

// BuildFunc creates and builds a composer for spec.
type BuildFunc func(ctx context.Context, spec BuildSpec) (*Composer, error)

// ErrNoBuilder is returned by StartOnce when the singleton has no build
// function.
var ErrNoBuilder = errors.New("fixture: process singleton has no build function")

// errScopedClaims is returned by startOnce while class or method scoped
// fixtures hold a claim on the singleton.
var errScopedClaims = errors.New("fixture: class or method scoped fixtures are running")

// errProcessClaimed is returned by claimScoped while a process build is in
// flight or its composer is live.
var errProcessClaimed = errors.New("fixture: a process scoped fixture is running")

type processCell struct {
	ready    chan struct{}
	composer *Composer
	err      error
	hook     *exithook.Hook
}

func (c *processCell) settled() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

// ProcessSingleton holds the one process scoped composer. The first caller
// builds it; concurrent callers wait for that build and share its result. An
// exit hook releases it when the process ends.
type ProcessSingleton struct {
	build BuildFunc
	hooks *exithook.Registry

	current atomic.Pointer[processCell]
	closeMu sync.Mutex

	// claimMu guards the mode claim. A process claim and scoped claims are
	// mutually exclusive; the process claim lasts from the start of its build
	// until the composer is closed or released by the exit hook.
	claimMu sync.Mutex
	scoped  int
	claimed bool

	exitMu  sync.Mutex
	exitErr error
}

// SingletonOption configures a ProcessSingleton.
type SingletonOption func(*ProcessSingleton)

// WithExitHooks sets the registry the release hook is registered on.
func WithExitHooks(registry *exithook.Registry) SingletonOption {
	return func(s *ProcessSingleton) {
		if registry != nil {
			s.hooks = registry
		}
	}
}

// NewProcessSingleton returns an unstarted singleton. build may be nil when
// every start goes through a coordinator.
func NewProcessSingleton(build BuildFunc, opts ...SingletonOption) *ProcessSingleton {
	s := &ProcessSingleton{
		build: build,
		hooks: exithook.Default,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Process is the process wide singleton used by coordinators by default.
var Process = NewProcessSingleton(nil)

// StartOnce returns the process composer, building it with the configured
// build function on first use.
func (s *ProcessSingleton) StartOnce(ctx context.Context, spec BuildSpec) (*Composer, error) {
	composer, _, err := s.startOnce(ctx, spec, s.build)
	return composer, err
}

// startOnce reports whether this call performed the build. The process claim
// is taken before build runs, so no scoped claim can slip in while it is in
// flight.
func (s *ProcessSingleton) startOnce(ctx context.Context, spec BuildSpec, build BuildFunc) (*Composer, bool, error) {
	for {
		if cell := s.current.Load(); cell != nil {
			select {
			case <-cell.ready:
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
			if cell.err != nil {
				return nil, false, cell.err
			}
			if cell.composer.State() == StateReleased {
				// released by the exit hook while a caller was waiting
				s.retire(cell)
				continue
			}
			return cell.composer, false, nil
		}

		if build == nil {
			return nil, false, ErrNoBuilder
		}
		cell := &processCell{ready: make(chan struct{})}
		s.claimMu.Lock()
		if s.scoped > 0 {
			s.claimMu.Unlock()
			return nil, false, errScopedClaims
		}
		if !s.current.CompareAndSwap(nil, cell) {
			s.claimMu.Unlock()
			continue
		}
		s.claimed = true
		s.claimMu.Unlock()

		composer, err := s.runBuild(ctx, spec, build)
		if err != nil {
			cell.err = err
			s.retire(cell)
			close(cell.ready)
			return nil, false, err
		}
		cell.composer = composer
		cell.hook = s.hooks.Register(func() {
			s.retire(cell)
			if err := composer.Release(context.Background()); err != nil {
				s.recordExitErr(err)
			}
		})
		close(cell.ready)
		return composer, true, nil
	}
}

// retire drops cell and its process claim if cell is still current.
func (s *ProcessSingleton) retire(cell *processCell) bool {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	if !s.current.CompareAndSwap(cell, nil) {
		return false
	}
	s.claimed = false
	return true
}

// claimScoped registers a class or method scoped fixture. It fails while a
// process fixture is building or live.
func (s *ProcessSingleton) claimScoped() error {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	if s.claimed {
		return errProcessClaimed
	}
	s.scoped++
	return nil
}

func (s *ProcessSingleton) releaseScoped() {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	if s.scoped > 0 {
		s.scoped--
	}
}

// claims returns a snapshot of the mode claim.
func (s *ProcessSingleton) claims() (scoped int, process bool) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	return s.scoped, s.claimed
}

func (s *ProcessSingleton) runBuild(ctx context.Context, spec BuildSpec, build BuildFunc) (composer *Composer, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			composer, err = nil, fmt.Errorf("fixture: process build panicked: %v", recovered)
		}
	}()
	composer, err = build(ctx, spec)
	if err == nil && composer == nil {
		err = &AssemblyError{Err: errors.New("build returned no composer")}
	}
	return composer, err
}

// Close releases the process composer now instead of at process exit. It is
// safe to call when nothing was started and after the exit hook ran. A later
// StartOnce builds a fresh composer.
func (s *ProcessSingleton) Close(ctx context.Context) error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	cell := s.current.Load()
	if cell == nil {
		return nil
	}
	select {
	case <-cell.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	if !s.retire(cell) || cell.err != nil || cell.composer == nil {
		return nil
	}
	cell.hook.Deregister()
	return cell.composer.Release(ctx)
}

// IsStarted reports whether a process fixture is building or built and not
// yet closed or released at exit.
func (s *ProcessSingleton) IsStarted() bool {
	_, claimed := s.claims()
	return claimed
}

// Current returns the built composer, if any.
func (s *ProcessSingleton) Current() (*Composer, bool) {
	cell := s.current.Load()
	if cell == nil || !cell.settled() || cell.err != nil {
		return nil, false
	}
	return cell.composer, true
}

// ExitErr returns release failures recorded by the exit hook.
func (s *ProcessSingleton) ExitErr() error {
	s.exitMu.Lock()
	defer s.exitMu.Unlock()
	return s.exitErr
}

func (s *ProcessSingleton) recordExitErr(err error) {
	s.exitMu.Lock()
	defer s.exitMu.Unlock()
	s.exitErr = errors.Join(s.exitErr, err)
}

// Runner is satisfied by *testing.M.
type Runner interface {
	Run() int
}

// Main runs the tests, then the process exit hooks, and returns the exit
// code. A failed process release turns a passing run into a failure.
//
//	func TestMain(m *testing.M) { os.Exit(fixture.Main(m)) }
func Main(m Runner) int {
	code := m.Run()
	exithook.Default.Run()
	if err := Process.ExitErr(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if code == 0 {
			code = 1
		}
	}
	return code
}

// RunOnSignal runs the process exit hooks when SIGINT or SIGTERM arrives.
// Call the returned function to stop watching.
func RunOnSignal(ctx context.Context) (stop func()) {
	return exithook.Default.RunOnSignal(ctx)
}
