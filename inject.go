package fixture

import (
	"fmt"
	"reflect"
	"unsafe"
)

// Binding is an explicitly registered injection point. Targets implementing
// Bindable are bound through their bindings instead of struct tags.
type Binding struct {
	Kind FieldKind
	Name string
	// Ptr points at the field to populate.
	Ptr any
}

// BindApplication binds ptr to the composed application.
func BindApplication(name string, ptr any) Binding {
	return Binding{Kind: FieldApplication, Name: name, Ptr: ptr}
}

// BindDerived binds ptr to the first application field of the pointee type.
func BindDerived(name string, ptr any) Binding {
	return Binding{Kind: FieldDerived, Name: name, Ptr: ptr}
}

// Bindable is implemented by targets that declare their injection points
// explicitly.
type Bindable interface {
	FixtureBindings() []Binding
}

// Source is an application prepared for injection. The derived field lookup
// for the application type is computed once per Source.
type Source struct {
	app     any
	value   reflect.Value
	derived map[reflect.Type][]int
}

// NewSource prepares app for injection.
func NewSource(app any) *Source {
	src := &Source{app: app}
	value := reflect.ValueOf(app)
	for value.IsValid() && value.Kind() == reflect.Pointer {
		if value.IsNil() {
			return src
		}
		value = value.Elem()
	}
	if !value.IsValid() || value.Kind() != reflect.Struct {
		return src
	}
	if !value.CanAddr() {
		copied := reflect.New(value.Type()).Elem()
		copied.Set(value)
		value = copied
	}
	src.value = value
	src.derived = make(map[reflect.Type][]int)
	_ = walkStruct(value.Type(), func(field reflect.StructField, index []int, _ string) (bool, error) {
		if _, exists := src.derived[field.Type]; !exists {
			src.derived[field.Type] = index
		}
		return true, nil
	})
	return src
}

// Application returns the wrapped application.
func (s *Source) Application() any { return s.app }

// derivedValue returns the first application field of type t.
func (s *Source) derivedValue(t reflect.Type) (reflect.Value, bool) {
	if s == nil || !s.value.IsValid() {
		return reflect.Value{}, false
	}
	index, ok := s.derived[t]
	if !ok {
		return reflect.Value{}, false
	}
	field, ok := fieldByIndex(s.value, index, false)
	if !ok {
		return reflect.Value{}, false
	}
	return settable(field), true
}

// Inject populates target from app using struct tags or explicit bindings.
func Inject(target, app any) error {
	return InjectFrom(target, NewSource(app))
}

// InjectFrom populates target from a prepared Source. Target must be a
// non-nil pointer to a struct.
func InjectFrom(target any, src *Source) error {
	if src == nil {
		src = NewSource(nil)
	}
	if bindable, ok := target.(Bindable); ok {
		return injectBindings(target, bindable.FixtureBindings(), src)
	}

	value := reflect.ValueOf(target)
	if !value.IsValid() || value.Kind() != reflect.Pointer || value.IsNil() || value.Elem().Kind() != reflect.Struct {
		return &InjectionError{Target: fmt.Sprintf("%T", target), Err: fmt.Errorf("target must be a non-nil pointer to a struct")}
	}
	plan, err := defaultPlans.planFor(value.Elem().Type())
	if err != nil {
		return err
	}
	root := value.Elem()
	for _, descriptor := range plan.Fields {
		field, _ := fieldByIndex(root, descriptor.index, true)
		if err := assign(plan.Type.String(), descriptor.Path, descriptor.Kind, settable(field), src); err != nil {
			return err
		}
	}
	return nil
}

func injectBindings(target any, bindings []Binding, src *Source) error {
	label := fmt.Sprintf("%T", target)
	for _, binding := range bindings {
		ptr := reflect.ValueOf(binding.Ptr)
		if !ptr.IsValid() || ptr.Kind() != reflect.Pointer || ptr.IsNil() {
			return &InjectionError{Target: label, Field: binding.Name, Err: fmt.Errorf("binding needs a non-nil pointer")}
		}
		if err := assign(label, binding.Name, binding.Kind, ptr.Elem(), src); err != nil {
			return err
		}
	}
	return nil
}

func assign(target, path string, kind FieldKind, field reflect.Value, src *Source) error {
	switch kind {
	case FieldApplication:
		app := reflect.ValueOf(src.app)
		if !app.IsValid() {
			return &InjectionError{Target: target, Field: path, Err: fmt.Errorf("no application to inject")}
		}
		if !app.Type().AssignableTo(field.Type()) {
			return &TypeMismatchError{Target: target, Field: path, Want: field.Type().String(), Got: app.Type().String()}
		}
		field.Set(app)
	case FieldDerived:
		value, ok := src.derivedValue(field.Type())
		if !ok {
			return nil
		}
		field.Set(value)
	default:
		return &InjectionError{Target: target, Field: path, Err: fmt.Errorf("unsupported field kind %v", kind)}
	}
	return nil
}

// fieldByIndex walks index from root. Nil embedded pointers are allocated
// when alloc is set and reported as missing otherwise.
func fieldByIndex(root reflect.Value, index []int, alloc bool) (reflect.Value, bool) {
	current := root
	for i, step := range index {
		if i > 0 && current.Kind() == reflect.Pointer {
			if current.IsNil() {
				if !alloc {
					return reflect.Value{}, false
				}
				settable(current).Set(reflect.New(current.Type().Elem()))
			}
			current = current.Elem()
		}
		current = current.Field(step)
	}
	return current, true
}

// settable returns an assignable view of an addressable field, including
// unexported ones.
func settable(field reflect.Value) reflect.Value {
	if field.CanSet() {
		return field
	}
	return reflect.NewAt(field.Type(), unsafe.Pointer(field.UnsafeAddr())).Elem()
}
