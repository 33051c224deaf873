package fixture

import "testing"

func TestParseScopeAliases(t *testing.T) {
	cases := map[string]Scope{
		"":            ScopeAuto,
		"AUTO":        ScopeAuto,
		"per_method":  ScopePerMethod,
		"per-method":  ScopePerMethod,
		"each":        ScopePerMethod,
		"per_class":   ScopePerClass,
		"all":         ScopePerClass,
		"per_process": ScopePerProcess,
		" jvm ":       ScopePerProcess,
	}
	for input, want := range cases {
		got, ok := ParseScope(input)
		if !ok || got != want {
			t.Fatalf("ParseScope(%q) = %s, %v; want %s", input, got, ok, want)
		}
	}
	if _, ok := ParseScope("per_galaxy"); ok {
		t.Fatalf("expected unknown scope to be rejected")
	}
}

func TestScopeTextRoundTrip(t *testing.T) {
	for _, scope := range []Scope{ScopeAuto, ScopePerMethod, ScopePerClass, ScopePerProcess} {
		text, err := scope.MarshalText()
		if err != nil {
			t.Fatalf("marshal %s: %v", scope, err)
		}
		var decoded Scope
		if err := decoded.UnmarshalText(text); err != nil {
			t.Fatalf("unmarshal %s: %v", text, err)
		}
		if decoded != scope {
			t.Fatalf("expected %s, got %s", scope, decoded)
		}
	}
	var scope Scope
	if err := scope.UnmarshalText([]byte("sometimes")); err == nil {
		t.Fatalf("expected error for unknown scope")
	}
}

func TestNodeTree(t *testing.T) {
	root := NewRoot(WithDiscoveryRoot("example.com/orders"), WithNodeModules("db"))
	container := root.Container("Orders", WithLifecycle(LifecyclePerClass), WithTags(" db ", ""), WithNodeMetadata(map[string]any{"owner": "team-a"}))
	leaf := container.Case("create", WithNodeModules("cache"))

	if leaf.Path() != "Orders/create" || leaf.Kind() != NodeCase || leaf.Parent() != container {
		t.Fatalf("unexpected leaf %q kind %s", leaf.Path(), leaf.Kind())
	}
	if leaf.ContainerNode() != container || root.ContainerNode() != nil {
		t.Fatalf("unexpected container lookup")
	}
	if leaf.Lifecycle() != LifecyclePerClass {
		t.Fatalf("expected case to inherit the container lifecycle")
	}
	if leaf.ID() == container.ID() || leaf.ID() == "" {
		t.Fatalf("expected distinct node ids")
	}
	if tags := container.Tags(); len(tags) != 1 || tags[0] != "db" {
		t.Fatalf("expected trimmed tags, got %v", tags)
	}

	spec := leaf.buildSpec(NewModuleSet("base"))
	if spec.Root != "example.com/orders" {
		t.Fatalf("expected inherited discovery root, got %q", spec.Root)
	}
	if got := spec.Modules.Values(); len(got) != 3 || got[0] != "base" || got[1] != "db" || got[2] != "cache" {
		t.Fatalf("expected coordinator modules then root to leaf modules, got %v", got)
	}
	if !leaf.declaresModules() || NewRoot().Case("x").declaresModules() {
		t.Fatalf("unexpected declaresModules result")
	}

	bindings := container.ruleBindings()
	if bindings["name"] != "Orders" || bindings["lifecycle"] != "per_class" || bindings["kind"] != "container" {
		t.Fatalf("unexpected rule bindings %v", bindings)
	}
	if metadata, _ := bindings["node"].(map[string]any); metadata["owner"] != "team-a" {
		t.Fatalf("expected node metadata in bindings, got %v", bindings["node"])
	}
}

func TestModuleSetIsImmutable(t *testing.T) {
	modules := []any{"a", nil, "b"}
	set := NewModuleSet(modules...)
	modules[0] = "changed"
	values := set.Values()
	values[1] = "changed"
	if got := set.Values(); got[0] != "a" || got[1] != "b" || set.Len() != 2 {
		t.Fatalf("module set mutated: %v", got)
	}
}
