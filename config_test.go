package fixture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func clearFixtureEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		EnvApplication, EnvScope, EnvScopeRule, EnvRuleEngine,
		EnvConfig, EnvLogLevel, EnvActivity, EnvActivityChannel, EnvActivityVerbs,
	} {
		t.Setenv(name, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	clearFixtureEnv(t)
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadConfigLayering(t *testing.T) {
	clearFixtureEnv(t)
	path := writeConfig(t, `
default_scope: per_class
scope_rule: 'hasTag(tags, "db") ? "per_process" : ""'
activity:
  channel: suites
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scope() != ScopePerClass || cfg.RuleEngine != RuleEngineExpr {
		t.Fatalf("expected file scope with default engine, got %+v", cfg)
	}
	if !cfg.Activity.Enabled || cfg.Activity.Channel != "suites" {
		t.Fatalf("expected nested activity merge, got %+v", cfg.Activity)
	}

	t.Setenv(EnvScope, "per-method")
	t.Setenv(EnvActivity, "false")
	t.Setenv(EnvActivityVerbs, "fixture.failed, fixture.released")
	t.Setenv(EnvApplication, "orders")
	cfg, err = LoadConfig(path)
	if err != nil {
		t.Fatalf("load with env: %v", err)
	}
	if cfg.Scope() != ScopePerMethod || cfg.Activity.Enabled || cfg.Application != "orders" {
		t.Fatalf("expected environment to win, got %+v", cfg)
	}
	if cfg.Activity.Channel != "suites" {
		t.Fatalf("expected file channel to survive env overrides")
	}
	if !reflect.DeepEqual(cfg.Activity.Verbs, []string{"fixture.failed", "fixture.released"}) {
		t.Fatalf("expected verbs from env, got %v", cfg.Activity.Verbs)
	}
}

func TestConfigFromEnvReadsConfigPath(t *testing.T) {
	clearFixtureEnv(t)
	t.Setenv(EnvConfig, writeConfig(t, "log_level: debug\n"))
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ParseLogLevel(cfg.LogLevel) != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %q", cfg.LogLevel)
	}
}

func TestLoadConfigRejectsBadInput(t *testing.T) {
	clearFixtureEnv(t)
	cases := map[string]string{
		"unknown key":    "default_scope: per_class\nretries: 3\n",
		"unknown scope":  "default_scope: per_galaxy\n",
		"unknown engine": "rule_engine: lua\n",
		"malformed":      "default_scope: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected missing file error, got %v", err)
	}

	t.Setenv(EnvScope, "sometimes")
	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected invalid env scope to be rejected")
	}
}

func TestConfigSources(t *testing.T) {
	clearFixtureEnv(t)
	path := writeConfig(t, "default_scope: per_class\n")
	t.Setenv(EnvActivityChannel, "suites")

	sources, err := ConfigSources(path)
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	if sources["default_scope"] != path || sources["activity.channel"] != "env" || sources["log_level"] != "defaults" {
		t.Fatalf("unexpected sources %v", sources)
	}
}

func TestConfigResolverOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultScope = "per_class"
	cfg.ScopeRule = `name == "Slow" ? "per_process" : ""`

	resolver, err := NewScopeResolver(cfg.ResolverOptions()...)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	root := NewRoot()
	if scope := resolver.Resolve(root.Container("Slow").Case("a")); scope != ScopePerProcess {
		t.Fatalf("expected rule scope, got %s", scope)
	}
	if scope := resolver.Resolve(root.Container("Fast").Case("a")); scope != ScopePerClass {
		t.Fatalf("expected configured default, got %s", scope)
	}
}

func TestNewCoordinatorFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RuleEngine = "lua"
	if _, err := NewCoordinatorFromConfig(nil, cfg); err == nil {
		t.Fatalf("expected invalid config to be rejected")
	}

	cfg = DefaultConfig()
	cfg.DefaultScope = "per_class"
	cfg.LogLevel = "error"
	coordinator, err := NewCoordinatorFromConfig(stubAssembler{}, cfg)
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	if coordinator.Resolver().DefaultScope() != ScopePerClass {
		t.Fatalf("expected resolver from config")
	}
}

type stubAssembler struct{}

func (stubAssembler) Assemble(context.Context, Descriptor, ModuleSet) (Handle, error) {
	return nil, errors.New("not used")
}

func (stubAssembler) Teardown(context.Context, Handle) error { return nil }

func TestZerologLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))

	logger.LogLifecycle(LifecycleEvent{
		Stage:      StageBuild,
		ComposerID: "c-1",
		NodePath:   "Orders",
		Scope:      ScopePerClass,
		Descriptor: "orders",
	})
	logger.LogLifecycle(LifecycleEvent{Stage: StageInject, Err: errors.New("boom"), Target: "*app.Suite"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	var build, inject map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &build); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &inject); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if build["level"] != "info" || build["stage"] != "build" || build["scope"] != "per_class" || build["node"] != "Orders" || build["descriptor"] != "orders" {
		t.Fatalf("unexpected build entry %v", build)
	}
	if inject["level"] != "error" || inject["error"] != "boom" || inject["target"] != "*app.Suite" {
		t.Fatalf("unexpected inject entry %v", inject)
	}
}

func TestParseLogLevel(t *testing.T) {
	if ParseLogLevel(" WARN ") != zerolog.WarnLevel || ParseLogLevel("") != zerolog.InfoLevel || ParseLogLevel("loud") != zerolog.InfoLevel {
		t.Fatalf("unexpected level parsing")
	}
}
