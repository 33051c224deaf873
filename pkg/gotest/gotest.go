// Package gotest maps the standard testing package onto fixture coordinator
// events: a top level test becomes a container and each subtest a case.
//
//	func TestOrders(t *testing.T) {
//		suite := harness.Container(t, fixture.WithScope(fixture.ScopePerClass))
//		target := &OrdersTest{}
//		suite.Run("create", func(t *testing.T) { ... }, target)
//	}
package gotest

import (
	"context"
	"testing"

	fixture "github.com/goliatone/go-fixture"
)

// Harness owns the root node shared by every container it opens.
type Harness struct {
	coord *fixture.Coordinator
	root  *fixture.Node
}

// New returns a harness driving coord. opts configure the root node, for
// example a process wide scope or discovery root.
func New(coord *fixture.Coordinator, opts ...fixture.NodeOption) *Harness {
	return &Harness{
		coord: coord,
		root:  fixture.NewRoot(opts...),
	}
}

// Root returns the root node.
func (h *Harness) Root() *fixture.Node { return h.root }

// Coordinator returns the coordinator driven by the harness.
func (h *Harness) Coordinator() *fixture.Coordinator { return h.coord }

// Container opens a container node named after t. The container exits, and
// release failures are reported on t, when t and all its subtests finish.
func (h *Harness) Container(t *testing.T, opts ...fixture.NodeOption) *Container {
	t.Helper()
	node := h.root.Container(t.Name(), opts...)
	t.Cleanup(func() {
		if err := h.coord.ExitContainer(context.Background(), node); err != nil {
			t.Errorf("fixture: exit container: %v", err)
		}
		if err := h.coord.Err(); err != nil {
			t.Errorf("%v", err)
		}
	})
	if err := h.coord.EnterContainer(t.Context(), node); err != nil {
		t.Fatalf("fixture: enter container: %v", err)
	}
	return &Container{harness: h, node: node, t: t}
}

// Container is an open container node.
type Container struct {
	harness *Harness
	node    *fixture.Node
	t       *testing.T
}

// Node returns the container node.
func (c *Container) Node() *fixture.Node { return c.node }

// Run runs fn as a subtest and case node. instances receive the fixture
// before fn starts.
func (c *Container) Run(name string, fn func(t *testing.T), instances ...any) bool {
	return c.RunWith(name, fn, fixture.WithInstances(instances...))
}

// RunWith is Run with arbitrary case node options.
func (c *Container) RunWith(name string, fn func(t *testing.T), opts ...fixture.NodeOption) bool {
	c.t.Helper()
	coord := c.harness.coord
	return c.t.Run(name, func(t *testing.T) {
		node := c.node.Case(name, opts...)
		t.Cleanup(func() {
			if err := coord.ExitCase(context.Background(), node); err != nil {
				t.Errorf("fixture: exit case: %v", err)
			}
		})
		if err := coord.EnterCase(t.Context(), node); err != nil {
			t.Fatalf("fixture: enter case: %v", err)
		}
		fn(t)
	})
}
