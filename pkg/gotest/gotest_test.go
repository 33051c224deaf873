package gotest_test

import (
	"testing"

	fixture "github.com/goliatone/go-fixture"
	"github.com/goliatone/go-fixture/pkg/fixturetest"
	"github.com/goliatone/go-fixture/pkg/gotest"
)

func newHarness(t *testing.T, assembler *fixturetest.Assembler) *gotest.Harness {
	t.Helper()
	registry := fixture.NewDescriptorRegistry()
	registry.MustRegister(fixturetest.Descriptor("orders", "example.com/orders"))
	coord, err := fixture.NewCoordinator(assembler,
		fixture.WithCoordinatorLocator(registry),
		fixture.WithProcess(fixture.NewProcessSingleton(nil)),
	)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return gotest.New(coord)
}

func TestHarnessSharesClassScopedFixture(t *testing.T) {
	assembler := fixturetest.NewAssembler()
	harness := newHarness(t, assembler)

	var seen []*fixturetest.App
	t.Run("Orders", func(t *testing.T) {
		suite := harness.Container(t, fixture.WithScope(fixture.ScopePerClass))
		for _, name := range []string{"create", "update", "delete"} {
			target := &fixturetest.Target{}
			suite.Run(name, func(t *testing.T) {
				if target.App == nil {
					t.Fatalf("expected application to be injected")
				}
				if target.Port != target.App.Port {
					t.Fatalf("expected derived port %d, got %d", target.App.Port, target.Port)
				}
				seen = append(seen, target.App)
			}, target)
		}
	})

	if len(seen) != 3 {
		t.Fatalf("expected 3 cases to run, got %d", len(seen))
	}
	if seen[0] != seen[1] || seen[1] != seen[2] {
		t.Fatalf("expected every case to share one application")
	}
	if assembler.Assembles() != 1 || assembler.Teardowns() != 1 {
		t.Fatalf("expected 1 build and 1 release, got %d and %d", assembler.Assembles(), assembler.Teardowns())
	}
	if !seen[0].Closed() {
		t.Fatalf("expected application to be closed after the container exits")
	}
	stats := harness.Coordinator().Stats()
	if stats.Injects != 3 || stats.Live != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestHarnessBuildsPerMethodFixtures(t *testing.T) {
	assembler := fixturetest.NewAssembler()
	harness := newHarness(t, assembler)

	ports := map[int]bool{}
	t.Run("Orders", func(t *testing.T) {
		suite := harness.Container(t)
		for _, name := range []string{"create", "update", "delete"} {
			target := &fixturetest.Target{}
			suite.Run(name, func(t *testing.T) {
				if target.App == nil || target.App.Closed() {
					t.Fatalf("expected a live application")
				}
				ports[target.Port] = true
			}, target)
			if !target.App.Closed() {
				t.Fatalf("expected case %s fixture to be released when the case exits", name)
			}
		}
	})

	if len(ports) != 3 {
		t.Fatalf("expected 3 distinct fixtures, got %d", len(ports))
	}
	if assembler.Assembles() != 3 || assembler.Teardowns() != 3 {
		t.Fatalf("expected 3 builds and 3 releases, got %d and %d", assembler.Assembles(), assembler.Teardowns())
	}
}

func TestHarnessCaseOptions(t *testing.T) {
	assembler := fixturetest.NewAssembler()
	harness := newHarness(t, assembler)

	t.Run("Orders", func(t *testing.T) {
		suite := harness.Container(t)
		target := &fixturetest.Target{}
		suite.RunWith("tagged", func(t *testing.T) {
			if target.App == nil {
				t.Fatalf("expected application to be injected")
			}
		}, fixture.WithInstances(target), fixture.WithTags("db"))
		if suite.Node().Path() != "TestHarnessCaseOptions/Orders" {
			t.Fatalf("unexpected container path %q", suite.Node().Path())
		}
	})
}
