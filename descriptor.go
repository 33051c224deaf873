package fixture

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ModuleSet is an ordered, immutable collection of module values handed to
// the assembler.
type ModuleSet struct {
	values []any
}

// NewModuleSet copies modules into a new set. Nil entries are dropped.
func NewModuleSet(modules ...any) ModuleSet {
	values := make([]any, 0, len(modules))
	for _, module := range modules {
		if module != nil {
			values = append(values, module)
		}
	}
	if len(values) == 0 {
		return ModuleSet{}
	}
	return ModuleSet{values: values}
}

// Len returns the number of modules.
func (m ModuleSet) Len() int { return len(m.values) }

// Values returns a copy of the modules in order.
func (m ModuleSet) Values() []any {
	if len(m.values) == 0 {
		return nil
	}
	return append([]any(nil), m.values...)
}

// Descriptor names an application definition the assembler can build.
type Descriptor struct {
	Name    string
	Package string
	// New returns the application definition value passed to the assembler.
	New func() any
}

// BuildSpec is everything a Composer needs to build one fixture.
type BuildSpec struct {
	Descriptor *Descriptor
	Root       string
	Modules    ModuleSet
}

// Handle is an assembled application.
type Handle interface {
	Application() any
}

// Assembler turns a descriptor and modules into a running application and
// tears it down again.
type Assembler interface {
	Assemble(ctx context.Context, descriptor Descriptor, modules ModuleSet) (Handle, error)
	Teardown(ctx context.Context, handle Handle) error
}

// BeanInjector populates framework managed fields on a target before tag
// based injection runs.
type BeanInjector interface {
	InjectManagedFields(ctx context.Context, target any) error
}

// BeanInjectorFunc adapts a function to BeanInjector.
type BeanInjectorFunc func(ctx context.Context, target any) error

// InjectManagedFields implements BeanInjector.
func (f BeanInjectorFunc) InjectManagedFields(ctx context.Context, target any) error {
	if f == nil {
		return nil
	}
	return f(ctx, target)
}

// DescriptorLocator discovers application descriptors.
type DescriptorLocator interface {
	// Find returns the single descriptor under root. It returns
	// ErrDescriptorNotFound or an *AmbiguousDescriptorError otherwise.
	Find(ctx context.Context, root string) (Descriptor, error)
	// Lookup returns the descriptor registered under name.
	Lookup(name string) (Descriptor, bool)
}

// DescriptorRegistry is an in memory DescriptorLocator. Applications register
// their descriptors, typically from an init function.
type DescriptorRegistry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// NewDescriptorRegistry returns an empty registry.
func NewDescriptorRegistry() *DescriptorRegistry {
	return &DescriptorRegistry{descriptors: make(map[string]Descriptor)}
}

// Descriptors is the process wide registry used when no locator is
// configured.
var Descriptors = NewDescriptorRegistry()

// Register adds descriptor. Names must be unique and New must be set.
func (r *DescriptorRegistry) Register(descriptor Descriptor) error {
	name := strings.TrimSpace(descriptor.Name)
	if name == "" {
		return fmt.Errorf("fixture: descriptor name must not be empty")
	}
	if descriptor.New == nil {
		return fmt.Errorf("fixture: descriptor %q has no constructor", name)
	}
	descriptor.Name = name
	descriptor.Package = strings.Trim(strings.TrimSpace(descriptor.Package), "/")

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.descriptors == nil {
		r.descriptors = make(map[string]Descriptor)
	}
	if _, exists := r.descriptors[name]; exists {
		return fmt.Errorf("%w: %q", ErrDescriptorExists, name)
	}
	r.descriptors[name] = descriptor
	return nil
}

// MustRegister is Register for init functions; it panics on error.
func (r *DescriptorRegistry) MustRegister(descriptor Descriptor) {
	if err := r.Register(descriptor); err != nil {
		panic(err)
	}
}

// Lookup returns the descriptor registered under name.
func (r *DescriptorRegistry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	descriptor, ok := r.descriptors[strings.TrimSpace(name)]
	return descriptor, ok
}

// Find returns the one descriptor whose package equals root or is nested
// under it. An empty root matches every descriptor.
func (r *DescriptorRegistry) Find(_ context.Context, root string) (Descriptor, error) {
	root = strings.Trim(strings.TrimSpace(root), "/")

	r.mu.RLock()
	var matches []Descriptor
	for _, descriptor := range r.descriptors {
		if packageWithin(descriptor.Package, root) {
			matches = append(matches, descriptor)
		}
	}
	r.mu.RUnlock()

	switch len(matches) {
	case 0:
		return Descriptor{}, fmt.Errorf("%w under %q", ErrDescriptorNotFound, root)
	case 1:
		return matches[0], nil
	default:
		names := make([]string, 0, len(matches))
		for _, match := range matches {
			names = append(names, match.Name)
		}
		sort.Strings(names)
		return Descriptor{}, &AmbiguousDescriptorError{Root: root, Candidates: names}
	}
}

// Names returns the registered descriptor names sorted alphabetically.
func (r *DescriptorRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func packageWithin(pkg, root string) bool {
	if root == "" {
		return true
	}
	return pkg == root || strings.HasPrefix(pkg, root+"/")
}
