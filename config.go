package fixture

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-fixture/internal/hydrate"
	"github.com/goliatone/go-fixture/internal/layering"
	"github.com/goliatone/go-fixture/pkg/activity"
)

// Environment variables read by ConfigFromEnv and LoadConfig.
const (
	EnvScope           = "FIXTURE_SCOPE"
	EnvScopeRule       = "FIXTURE_SCOPE_RULE"
	EnvRuleEngine      = "FIXTURE_RULE_ENGINE"
	EnvConfig          = "FIXTURE_CONFIG"
	EnvLogLevel        = "FIXTURE_LOG_LEVEL"
	EnvActivity        = "FIXTURE_ACTIVITY"
	EnvActivityChannel = "FIXTURE_ACTIVITY_CHANNEL"
	EnvActivityVerbs   = "FIXTURE_ACTIVITY_VERBS"
)

// Config is the file and environment driven configuration.
type Config struct {
	// Application names the descriptor to use instead of discovery.
	Application  string         `json:"application" yaml:"application"`
	DefaultScope string         `json:"default_scope" yaml:"default_scope"`
	ScopeRule    string         `json:"scope_rule" yaml:"scope_rule"`
	RuleEngine   string         `json:"rule_engine" yaml:"rule_engine"`
	LogLevel     string         `json:"log_level" yaml:"log_level"`
	Activity     ActivityConfig `json:"activity" yaml:"activity"`
}

// ActivityConfig controls activity emission.
type ActivityConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Channel string `json:"channel" yaml:"channel"`
	// Verbs limits emission to these verbs; empty emits all.
	Verbs []string `json:"verbs" yaml:"verbs"`
}

func (a ActivityConfig) emitterConfig() activity.Config {
	return activity.Config{
		Enabled: a.Enabled,
		Channel: a.Channel,
		Verbs:   append([]string(nil), a.Verbs...),
	}
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		DefaultScope: ScopeAuto.String(),
		RuleEngine:   RuleEngineExpr,
		LogLevel:     "info",
		Activity: ActivityConfig{
			Enabled: true,
			Channel: activity.DefaultChannel,
		},
	}
}

// Validate checks scope and engine names.
func (c Config) Validate() error {
	if _, ok := ParseScope(c.DefaultScope); !ok {
		return fmt.Errorf("fixture: config: unknown default_scope %q", c.DefaultScope)
	}
	switch strings.ToLower(strings.TrimSpace(c.RuleEngine)) {
	case "", RuleEngineExpr, RuleEngineCEL, RuleEngineJS:
	default:
		return fmt.Errorf("fixture: config: unknown rule_engine %q", c.RuleEngine)
	}
	return nil
}

// Scope returns the parsed default scope.
func (c Config) Scope() Scope {
	scope, _ := ParseScope(c.DefaultScope)
	return scope
}

// ResolverOptions translates the config into resolver options.
func (c Config) ResolverOptions() []ResolverOption {
	opts := []ResolverOption{WithDefaultScope(c.Scope())}
	if rule := strings.TrimSpace(c.ScopeRule); rule != "" {
		opts = append(opts, WithScopeRule(rule), WithRuleEngine(c.RuleEngine))
	}
	return opts
}

// ConfigFromEnv loads the file named by FIXTURE_CONFIG, if any, and applies
// environment overrides.
func ConfigFromEnv() (Config, error) {
	return LoadConfig(os.Getenv(EnvConfig))
}

// LoadConfig layers defaults, the YAML file at path (skipped when path is
// empty) and environment overrides, in that order. Unknown keys in the file
// are rejected.
func LoadConfig(path string) (Config, error) {
	layers, err := configLayers(path)
	if err != nil {
		return Config{}, err
	}
	source := strings.TrimSpace(path)
	if source == "" {
		source = "env"
	}

	decoder := hydrate.NewDecoder[Config](
		hydrate.WithDisallowUnknownFields[Config](),
		hydrate.WithPreHook[Config](func(_ hydrate.Context, _ map[string]any) (map[string]any, error) {
			return layering.Merge(layers...), nil
		}),
		hydrate.WithPostHook[Config](func(_ hydrate.Context, cfg *Config) error {
			return cfg.Validate()
		}),
	)
	return decoder.Decode(hydrate.Context{Source: source, Section: "fixture"}, map[string]any{})
}

// ConfigSources reports, for every configuration key in dotted form, which
// layer supplied its value: "defaults", the file path, or "env".
func ConfigSources(path string) (map[string]string, error) {
	layers, err := configLayers(path)
	if err != nil {
		return nil, err
	}
	return layering.Origins(layers...), nil
}

func configLayers(path string) ([]layering.Layer, error) {
	defaults, err := configAsMap(DefaultConfig())
	if err != nil {
		return nil, err
	}
	layers := []layering.Layer{{Name: "defaults", Values: defaults}}
	if path = strings.TrimSpace(path); path != "" {
		document, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layering.Layer{Name: path, Values: document})
	}
	return append(layers, layering.Layer{Name: "env", Values: envLayer()}), nil
}

func readConfigFile(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fixture: read config: %w", err)
	}
	var document map[string]any
	if err := yaml.Unmarshal(raw, &document); err != nil {
		return nil, fmt.Errorf("fixture: parse config %s: %w", path, err)
	}
	return document, nil
}

func configAsMap(cfg Config) (map[string]any, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func envLayer() map[string]any {
	values := map[string]any{}
	set := func(key, name string) {
		if value, ok := lookupEnv(name); ok {
			values[key] = value
		}
	}
	set("application", EnvApplication)
	set("default_scope", EnvScope)
	set("scope_rule", EnvScopeRule)
	set("rule_engine", EnvRuleEngine)
	set("log_level", EnvLogLevel)

	activityValues := map[string]any{}
	if value, ok := lookupEnv(EnvActivity); ok {
		if enabled, err := strconv.ParseBool(value); err == nil {
			activityValues["enabled"] = enabled
		}
	}
	if value, ok := lookupEnv(EnvActivityChannel); ok {
		activityValues["channel"] = value
	}
	if value, ok := lookupEnv(EnvActivityVerbs); ok {
		var verbs []any
		for _, verb := range strings.Split(value, ",") {
			if verb = strings.TrimSpace(verb); verb != "" {
				verbs = append(verbs, verb)
			}
		}
		activityValues["verbs"] = verbs
	}
	if len(activityValues) > 0 {
		values["activity"] = activityValues
	}
	return values
}

func lookupEnv(name string) (string, bool) {
	value, ok := os.LookupEnv(name)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

// NewCoordinatorFromConfig builds the resolver and a console logger on stderr
// from cfg, then the coordinator. opts are applied last and may override
// either.
func NewCoordinatorFromConfig(assembler Assembler, cfg Config, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	resolver, err := NewScopeResolver(cfg.ResolverOptions()...)
	if err != nil {
		return nil, err
	}
	base := []Option{
		WithConfig(cfg),
		WithResolver(resolver),
		WithLogger(NewConsoleLogger(os.Stderr, ParseLogLevel(cfg.LogLevel))),
	}
	return NewCoordinator(assembler, append(base, opts...)...)
}
