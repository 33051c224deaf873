package fixture

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// TagName is the struct tag read by the field injector.
const TagName = "fixture"

// FieldKind identifies what a tagged field receives.
type FieldKind int

const (
	// FieldApplication receives the composed application itself.
	FieldApplication FieldKind = iota + 1
	// FieldDerived receives a copy of the first application field with the
	// exact same type, such as a bound port.
	FieldDerived
)

func (k FieldKind) String() string {
	switch k {
	case FieldApplication:
		return "application"
	case FieldDerived:
		return "derived"
	default:
		return "unknown"
	}
}

func parseFieldKind(tag string) (FieldKind, bool, error) {
	name, _, _ := strings.Cut(tag, ",")
	switch strings.TrimSpace(name) {
	case "", "-":
		return 0, false, nil
	case "application", "app":
		return FieldApplication, true, nil
	case "derived":
		return FieldDerived, true, nil
	default:
		return 0, false, fmt.Errorf("unknown %s tag %q", TagName, tag)
	}
}

// FieldDescriptor describes one injectable field.
type FieldDescriptor struct {
	Path  string
	Kind  FieldKind
	Type  reflect.Type
	index []int
}

// InjectionPlan is the ordered list of injectable fields for one struct type,
// including fields promoted from embedded structs at any depth.
type InjectionPlan struct {
	Type   reflect.Type
	Fields []FieldDescriptor
}

type planCache struct {
	plans sync.Map // reflect.Type -> InjectionPlan
}

func (c *planCache) planFor(t reflect.Type) (InjectionPlan, error) {
	if cached, ok := c.plans.Load(t); ok {
		return cached.(InjectionPlan), nil
	}
	plan, err := buildPlan(t)
	if err != nil {
		return InjectionPlan{}, err
	}
	actual, _ := c.plans.LoadOrStore(t, plan)
	return actual.(InjectionPlan), nil
}

var defaultPlans planCache

// PlanFor returns the cached injection plan for target, which must be a
// pointer to a struct, a struct value or a struct reflect.Type.
func PlanFor(target any) (InjectionPlan, error) {
	t, ok := target.(reflect.Type)
	if !ok {
		t = reflect.TypeOf(target)
	}
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return InjectionPlan{}, &InjectionError{Target: typeLabel(t), Err: fmt.Errorf("target must be a struct, got %v", t)}
	}
	return defaultPlans.planFor(t)
}

// structLevel is one struct visited while walking an embedding chain.
type structLevel struct {
	t      reflect.Type
	index  []int
	prefix string
}

// buildPlan collects tagged fields of t and of every embedded struct it
// reaches. Embedded levels are queued and walked in an explicit loop until no
// embedded struct remains.
func buildPlan(t reflect.Type) (InjectionPlan, error) {
	plan := InjectionPlan{Type: t}
	err := walkStruct(t, func(field reflect.StructField, index []int, path string) (bool, error) {
		kind, tagged, err := parseFieldKind(field.Tag.Get(TagName))
		if err != nil {
			return false, &InjectionError{Target: t.String(), Field: path, Err: err}
		}
		if !tagged {
			return true, nil
		}
		plan.Fields = append(plan.Fields, FieldDescriptor{
			Path:  path,
			Kind:  kind,
			Type:  field.Type,
			index: index,
		})
		return false, nil
	})
	if err != nil {
		return InjectionPlan{}, err
	}
	return plan, nil
}

// walkStruct visits the fields of t breadth first. visit reports whether an
// embedded struct field should be descended into.
func walkStruct(t reflect.Type, visit func(field reflect.StructField, index []int, path string) (bool, error)) error {
	queue := []structLevel{{t: t}}
	seen := map[reflect.Type]bool{t: true}
	for len(queue) > 0 {
		level := queue[0]
		queue = queue[1:]
		for i := 0; i < level.t.NumField(); i++ {
			field := level.t.Field(i)
			index := append(append([]int(nil), level.index...), i)
			path := joinPath(level.prefix, field.Name)

			descend, err := visit(field, index, path)
			if err != nil {
				return err
			}
			if !descend || !field.Anonymous {
				continue
			}
			embedded := field.Type
			if embedded.Kind() == reflect.Pointer {
				embedded = embedded.Elem()
			}
			if embedded.Kind() != reflect.Struct || seen[embedded] {
				continue
			}
			seen[embedded] = true
			queue = append(queue, structLevel{t: embedded, index: index, prefix: path})
		}
	}
	return nil
}

func joinPath(prefix, segment string) string {
	if prefix == "" {
		return segment
	}
	return prefix + "." + segment
}

func typeLabel(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
