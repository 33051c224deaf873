package fixture

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Stage names a fixture lifecycle transition.
type Stage string

const (
	StageValidate Stage = "validate"
	StageBuild    Stage = "build"
	StageInject   Stage = "inject"
	StageRelease  Stage = "release"
)

// LifecycleEvent describes one lifecycle transition for logging.
type LifecycleEvent struct {
	Stage      Stage
	ComposerID string
	NodeID     string
	NodePath   string
	Scope      Scope
	Descriptor string
	Target     string
	Duration   time.Duration
	Err        error
}

// Logger records lifecycle events.
type Logger interface {
	LogLifecycle(LifecycleEvent)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(LifecycleEvent)

// LogLifecycle implements Logger.
func (f LoggerFunc) LogLifecycle(event LifecycleEvent) {
	if f != nil {
		f(event)
	}
}

// NopLogger discards every event.
type NopLogger struct{}

// LogLifecycle implements Logger.
func (NopLogger) LogLifecycle(LifecycleEvent) {}

func loggerOrNop(logger Logger) Logger {
	if logger == nil {
		return NopLogger{}
	}
	return logger
}

type zerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger writes lifecycle events through logger. Failures log at
// error level, builds and releases at info, the rest at debug.
func NewZerologLogger(logger zerolog.Logger) Logger {
	return zerologLogger{logger: logger}
}

// NewConsoleLogger builds a human readable zerolog logger on w.
func NewConsoleLogger(w io.Writer, level zerolog.Level) Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(output).Level(level).With().Timestamp().Str("component", "fixture").Logger()
	return NewZerologLogger(logger)
}

func (l zerologLogger) LogLifecycle(event LifecycleEvent) {
	var entry *zerolog.Event
	switch {
	case event.Err != nil:
		entry = l.logger.Error().Err(event.Err)
	case event.Stage == StageBuild || event.Stage == StageRelease:
		entry = l.logger.Info()
	default:
		entry = l.logger.Debug()
	}
	entry = entry.Str("stage", string(event.Stage)).Str("scope", event.Scope.String())
	if event.ComposerID != "" {
		entry = entry.Str("composer_id", event.ComposerID)
	}
	if event.NodePath != "" {
		entry = entry.Str("node", event.NodePath)
	}
	if event.Descriptor != "" {
		entry = entry.Str("descriptor", event.Descriptor)
	}
	if event.Target != "" {
		entry = entry.Str("target", event.Target)
	}
	if event.Duration > 0 {
		entry = entry.Dur("duration", event.Duration)
	}
	entry.Msg("fixture " + string(event.Stage))
}

// ParseLogLevel maps a level name to a zerolog level. Unknown or empty names
// map to info.
func ParseLogLevel(value string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
