// Package log provides structured logging for model fitting and prediction,
// backed by github.com/rs/zerolog.
//
// Components obtain a named logger through a LoggerProvider and emit
// key-value structured events using the shared key constants, so that fit
// and predict operations log a consistent vocabulary:
//
//	logger := log.GetLoggerWithName("kmeans").With(
//	    log.ModelNameKey, "KMeans",
//	    log.ComponentKey, "engine",
//	)
//	logger.Info("Fit completed",
//	    log.OperationKey, log.OperationFit,
//	    log.SamplesKey, n,
//	    log.FeaturesKey, p,
//	)
package log

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Structured logging keys shared across the library.
const (
	ModelNameKey  = "model"
	ComponentKey  = "component"
	OperationKey  = "operation"
	PhaseKey      = "phase"
	FamilyKey     = "family"
	FormulaKey    = "formula"
	SamplesKey    = "samples"
	FeaturesKey   = "features"
	FactorsKey    = "factors"
	ClustersKey   = "clusters"
	PredsKey      = "predictions"
	DurationMsKey = "duration_ms"
)

// Operation values for OperationKey.
const (
	OperationFit     = "fit"
	OperationPredict = "predict"
	OperationBuild   = "build"
)

// Phase values for PhaseKey.
const (
	PhaseTraining  = "training"
	PhaseInference = "inference"
)

// Logger is the structured logging interface used throughout the library.
// Fields are passed as alternating key-value pairs.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})

	// With returns a child logger with the given fields attached to every event.
	With(fields ...interface{}) Logger
}

// LoggerProvider creates named Logger instances.
type LoggerProvider interface {
	GetLogger() Logger
	GetLoggerWithName(name string) Logger
}

// ToLogLevel converts a textual level ("debug", "info", "warn", "error",
// "disabled") to a zerolog level. Unknown values map to InfoLevel.
func ToLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// ZerologProvider is a LoggerProvider backed by zerolog.
type ZerologProvider struct {
	root zerolog.Logger
}

// NewZerologProvider creates a provider writing JSON events to stderr at the
// given level.
func NewZerologProvider(level zerolog.Level) *ZerologProvider {
	root := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	return &ZerologProvider{root: root}
}

// NewZerologProviderWithLogger wraps an existing zerolog.Logger, allowing
// callers to direct library logs into their own sink.
func NewZerologProviderWithLogger(logger zerolog.Logger) *ZerologProvider {
	return &ZerologProvider{root: logger}
}

// GetLogger returns an unnamed logger.
func (p *ZerologProvider) GetLogger() Logger {
	return &zerologLogger{logger: p.root}
}

// GetLoggerWithName returns a logger tagged with a component name.
func (p *ZerologProvider) GetLoggerWithName(name string) Logger {
	return &zerologLogger{logger: p.root.With().Str("logger", name).Logger()}
}

type zerologLogger struct {
	logger zerolog.Logger
}

func (l *zerologLogger) Debug(msg string, fields ...interface{}) {
	emit(l.logger.Debug(), msg, fields)
}

func (l *zerologLogger) Info(msg string, fields ...interface{}) {
	emit(l.logger.Info(), msg, fields)
}

func (l *zerologLogger) Warn(msg string, fields ...interface{}) {
	emit(l.logger.Warn(), msg, fields)
}

func (l *zerologLogger) Error(msg string, fields ...interface{}) {
	emit(l.logger.Error(), msg, fields)
}

func (l *zerologLogger) With(fields ...interface{}) Logger {
	ctx := l.logger.With()
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, fields[i+1])
	}
	return &zerologLogger{logger: ctx.Logger()}
}

func emit(event *zerolog.Event, msg string, fields []interface{}) {
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, fields[i+1])
	}
	event.Msg(msg)
}

var (
	globalMu       sync.RWMutex
	globalProvider LoggerProvider
)

// SetupLogger installs the global provider used by GetLogger and
// GetLoggerWithName. Passing nil resets to the default provider.
func SetupLogger(provider LoggerProvider) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalProvider = provider
}

// GetLogger returns a logger from the global provider, installing a default
// info-level zerolog provider on first use.
func GetLogger() Logger {
	return provider().GetLogger()
}

// GetLoggerWithName returns a named logger from the global provider.
func GetLoggerWithName(name string) Logger {
	return provider().GetLoggerWithName(name)
}

func provider() LoggerProvider {
	globalMu.RLock()
	p := globalProvider
	globalMu.RUnlock()
	if p != nil {
		return p
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalProvider == nil {
		globalProvider = NewZerologProvider(ToLogLevel("info"))
	}
	return globalProvider
}
