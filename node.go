package fixture

import (
	"strings"

	"github.com/google/uuid"
)

// NodeKind identifies the level of a node in the execution tree.
type NodeKind int

const (
	NodeRoot NodeKind = iota
	NodeContainer
	NodeCase
)

func (k NodeKind) String() string {
	switch k {
	case NodeRoot:
		return "root"
	case NodeContainer:
		return "container"
	case NodeCase:
		return "case"
	default:
		return "unknown"
	}
}

// Node is one level of the test execution tree: the process root, a
// container (a test "class"), or a case (a test "method"). Nodes are created
// by the host runner and are immutable once built.
type Node struct {
	id        string
	kind      NodeKind
	name      string
	parent    *Node
	scope     Scope
	declared  bool
	lifecycle InstanceLifecycle
	metadata  map[string]any
	tags      []string
	instances []any

	descriptor *Descriptor
	root       string
	modules    ModuleSet
}

// NodeOption configures a node at creation time.
type NodeOption func(*Node)

// WithScope declares the sharing scope on the node. Undeclared nodes inherit
// from the nearest declaring ancestor.
func WithScope(scope Scope) NodeOption {
	return func(n *Node) {
		n.scope = scope
		n.declared = true
	}
}

// WithLifecycle sets the instance lifecycle. Only containers carry one; cases
// inherit their container's.
func WithLifecycle(lifecycle InstanceLifecycle) NodeOption {
	return func(n *Node) {
		n.lifecycle = lifecycle
	}
}

// WithInstances attaches the target instances that receive injection.
// Targets must be non-nil pointers to structs.
func WithInstances(targets ...any) NodeOption {
	return func(n *Node) {
		n.instances = append(n.instances, targets...)
	}
}

// WithNodeMetadata attaches metadata visible to scope rules.
func WithNodeMetadata(metadata map[string]any) NodeOption {
	return func(n *Node) {
		n.metadata = copyMetadata(metadata)
	}
}

// WithTags attaches tags visible to scope rules.
func WithTags(tags ...string) NodeOption {
	return func(n *Node) {
		for _, tag := range tags {
			if tag = strings.TrimSpace(tag); tag != "" {
				n.tags = append(n.tags, tag)
			}
		}
	}
}

// WithDescriptor names the application descriptor explicitly, skipping
// discovery.
func WithDescriptor(descriptor Descriptor) NodeOption {
	return func(n *Node) {
		d := descriptor
		n.descriptor = &d
	}
}

// WithDiscoveryRoot sets the package root searched for descriptors when none
// is explicit.
func WithDiscoveryRoot(root string) NodeOption {
	return func(n *Node) {
		n.root = strings.TrimSpace(root)
	}
}

// WithNodeModules adds modules declared by the node itself. They are appended
// to the coordinator modules when the node builds a fixture.
func WithNodeModules(modules ...any) NodeOption {
	return func(n *Node) {
		n.modules = NewModuleSet(append(n.modules.Values(), modules...)...)
	}
}

// NewRoot creates the process-level root node.
func NewRoot(opts ...NodeOption) *Node {
	return newNode(NodeRoot, "", nil, opts)
}

// Container creates a container node under n.
func (n *Node) Container(name string, opts ...NodeOption) *Node {
	return newNode(NodeContainer, name, n, opts)
}

// Case creates a case node under n.
func (n *Node) Case(name string, opts ...NodeOption) *Node {
	return newNode(NodeCase, name, n, opts)
}

func newNode(kind NodeKind, name string, parent *Node, opts []NodeOption) *Node {
	node := &Node{
		id:     uuid.NewString(),
		kind:   kind,
		name:   strings.TrimSpace(name),
		parent: parent,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(node)
		}
	}
	return node
}

// ID returns the node's opaque identifier.
func (n *Node) ID() string { return n.id }

// Kind returns the node level.
func (n *Node) Kind() NodeKind { return n.kind }

// Name returns the node name.
func (n *Node) Name() string { return n.name }

// Parent returns the enclosing node, nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// DeclaredScope returns the scope declared on this node only.
func (n *Node) DeclaredScope() (Scope, bool) { return n.scope, n.declared }

// Instances returns a copy of the node's injection targets.
func (n *Node) Instances() []any {
	return append([]any(nil), n.instances...)
}

// Tags returns a copy of the node's tags.
func (n *Node) Tags() []string {
	return append([]string(nil), n.tags...)
}

// Metadata returns a copy of the node's metadata.
func (n *Node) Metadata() map[string]any {
	return copyMetadata(n.metadata)
}

// Path joins the names from the first named ancestor down to n.
func (n *Node) Path() string {
	var parts []string
	for current := n; current != nil; current = current.parent {
		if current.name != "" {
			parts = append(parts, current.name)
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// ContainerNode returns the nearest container at or above n, nil when n is
// the root or detached.
func (n *Node) ContainerNode() *Node {
	for current := n; current != nil; current = current.parent {
		if current.kind == NodeContainer {
			return current
		}
	}
	return nil
}

// Lifecycle returns the instance lifecycle in effect for n: its container's.
func (n *Node) Lifecycle() InstanceLifecycle {
	if container := n.ContainerNode(); container != nil {
		return container.lifecycle
	}
	return n.lifecycle
}

// buildSpec gathers the nearest explicit descriptor, discovery root and
// modules declared between n and the root.
func (n *Node) buildSpec(modules ModuleSet) BuildSpec {
	spec := BuildSpec{Modules: modules}
	var declared []any
	for current := n; current != nil; current = current.parent {
		if spec.Descriptor == nil && current.descriptor != nil {
			d := *current.descriptor
			spec.Descriptor = &d
		}
		if spec.Root == "" && current.root != "" {
			spec.Root = current.root
		}
		declared = append(current.modules.Values(), declared...)
	}
	if len(declared) > 0 {
		spec.Modules = NewModuleSet(append(modules.Values(), declared...)...)
	}
	return spec
}

// declaresModules reports whether n or an ancestor declares its own modules.
func (n *Node) declaresModules() bool {
	for current := n; current != nil; current = current.parent {
		if current.modules.Len() > 0 {
			return true
		}
	}
	return false
}

func (n *Node) ruleBindings() map[string]any {
	tags := n.Tags()
	if tags == nil {
		tags = []string{}
	}
	metadata := n.Metadata()
	if metadata == nil {
		metadata = map[string]any{}
	}
	return map[string]any{
		"name":      n.name,
		"path":      n.Path(),
		"kind":      n.kind.String(),
		"lifecycle": n.Lifecycle().String(),
		"tags":      tags,
		"node":      metadata,
	}
}

func copyMetadata(origin map[string]any) map[string]any {
	if len(origin) == 0 {
		return nil
	}
	out := make(map[string]any, len(origin))
	for key, value := range origin {
		out[key] = value
	}
	return out
}
