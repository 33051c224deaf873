package fixture

import (
	"github.com/goliatone/go-fixture/pkg/activity"
	"github.com/goliatone/go-fixture/pkg/state"
)

// Option configures a Coordinator.
type Option func(*coordinatorConfig)

type coordinatorConfig struct {
	resolver       *ScopeResolver
	store          *state.Store
	process        *ProcessSingleton
	modules        []any
	locator        DescriptorLocator
	beans          BeanInjector
	logger         Logger
	activityHooks  activity.Hooks
	activityConfig activity.Config
	activitySet    bool
	appName        string
	config         *Config
}

// WithResolver sets the scope resolver. Defaults to a resolver with no rule
// and the ScopeAuto policy.
func WithResolver(resolver *ScopeResolver) Option {
	return func(cfg *coordinatorConfig) {
		cfg.resolver = resolver
	}
}

// WithStore sets the store holding per node composers.
func WithStore(store *state.Store) Option {
	return func(cfg *coordinatorConfig) {
		cfg.store = store
	}
}

// WithProcess sets the process singleton. Defaults to Process.
func WithProcess(process *ProcessSingleton) Option {
	return func(cfg *coordinatorConfig) {
		cfg.process = process
	}
}

// WithModules sets the modules every fixture is assembled with.
func WithModules(modules ...any) Option {
	return func(cfg *coordinatorConfig) {
		cfg.modules = append(cfg.modules, modules...)
	}
}

// WithCoordinatorLocator sets the descriptor locator handed to composers.
func WithCoordinatorLocator(locator DescriptorLocator) Option {
	return func(cfg *coordinatorConfig) {
		cfg.locator = locator
	}
}

// WithCoordinatorBeanInjector sets the framework injector handed to
// composers.
func WithCoordinatorBeanInjector(injector BeanInjector) Option {
	return func(cfg *coordinatorConfig) {
		cfg.beans = injector
	}
}

// WithLogger sets the lifecycle logger.
func WithLogger(logger Logger) Option {
	return func(cfg *coordinatorConfig) {
		cfg.logger = logger
	}
}

// WithActivityHooks attaches activity hooks. Hooks are cloned and nil entries
// dropped. Emission is enabled unless WithActivityConfig disables it.
func WithActivityHooks(hooks ...activity.ActivityHook) Option {
	normalized := cloneActivityHooks(hooks)
	return func(cfg *coordinatorConfig) {
		cfg.activityHooks = append(cfg.activityHooks, normalized...)
	}
}

// WithActivityConfig sets the activity emission defaults.
func WithActivityConfig(config activity.Config) Option {
	return func(cfg *coordinatorConfig) {
		cfg.activityConfig = config
		cfg.activitySet = true
	}
}

// WithCoordinatorApplication names the descriptor every composer uses,
// overriding discovery and FIXTURE_APPLICATION.
func WithCoordinatorApplication(name string) Option {
	return func(cfg *coordinatorConfig) {
		cfg.appName = name
	}
}

// WithConfig applies the application name and activity settings of a loaded
// Config. Resolver and logger settings are applied by NewCoordinatorFromConfig.
func WithConfig(config Config) Option {
	return func(cfg *coordinatorConfig) {
		c := config
		cfg.config = &c
	}
}

func applyCoordinatorOptions(opts []Option) coordinatorConfig {
	cfg := coordinatorConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

func cloneActivityHooks(hooks []activity.ActivityHook) activity.Hooks {
	if len(hooks) == 0 {
		return nil
	}
	normalized := make([]activity.ActivityHook, 0, len(hooks))
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		normalized = append(normalized, hook)
	}
	if len(normalized) == 0 {
		return nil
	}
	return activity.Hooks(normalized)
}
