package telemetry

import (
	"go.uber.org/zap"
)

// ZapSink writes telemetry entries and alerts as structured log records.
// It is the default collaborator implementation.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a sink over the given logger.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.Named("telemetry")}
}

// Emit logs the entry at a level matching its grade.
func (s *ZapSink) Emit(e Entry) {
	fields := []zap.Field{zap.Time("ts", e.Timestamp)}
	if len(e.Data) > 0 {
		fields = append(fields, zap.Any("data", e.Data))
	}
	switch e.Level {
	case LevelCritical:
		s.logger.Error(e.Message, fields...)
	case LevelWarning:
		s.logger.Warn(e.Message, fields...)
	default:
		s.logger.Info(e.Message, fields...)
	}
}

// EmitAlert logs the alert record.
func (s *ZapSink) EmitAlert(a Alert) {
	fields := []zap.Field{
		zap.String("alert_id", a.ID),
		zap.String("metric", a.Metric),
		zap.Float64("threshold", a.Threshold),
		zap.Float64("observed", a.Observed),
	}
	if a.Level == LevelCritical {
		s.logger.Error("threshold breach", fields...)
	} else {
		s.logger.Warn("threshold breach", fields...)
	}
}

// Flush syncs the underlying logger. Sync errors on closed stderr are
// expected during shutdown and ignored.
func (s *ZapSink) Flush() {
	_ = s.logger.Sync()
}
