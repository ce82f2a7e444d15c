// Package log wires zap into the protoactor-go actor system, the same
// bridging the teacher project's actorutil package does, kept separate
// here since this repo has no actor-specific util package of its own.
package log

import (
	"log/slog"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap.Logger at level, matching the teacher's use of
// zap.NewProductionConfig() with an overridden level for its own
// application logging.
func NewLogger(level zapcore.Level) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

// NewActorSystem creates a protoactor-go ActorSystem whose internal
// diagnostic logging is routed through logger and rendered with
// lmittmann/tint's colorized console handler, exactly mirroring
// actorutil.NewActorSystemWithZapLogger.
func NewActorSystem(logger *zap.Logger) *actor.ActorSystem {
	stdOutLogger := zap.NewStdLog(logger)
	return actor.NewActorSystem(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {
		return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: time.DateTime,
		}))
	}))
}

// Named scopes logger with a component field, the same "actor"-tagged
// scoping actorutil.ActorLogger applies per actor name.
func Named(logger *zap.Logger, component string) *zap.Logger {
	return logger.With(zap.String("component", component))
}
