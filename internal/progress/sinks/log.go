package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/rag-pipeline-client/internal/pipeline"
	"github.com/JakeFAU/rag-pipeline-client/internal/progress"
)

// LogSink emits one structured log line per progress event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields. Failures are
// logged at warn level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_key", evt.RunKey),
			zap.String("client_id", evt.ClientID),
			zap.String("step", string(evt.Step)),
			zap.String("status", string(evt.Status)),
			zap.Time("ts", evt.TS),
			zap.Bool("synthetic", evt.Synthetic),
		}
		if evt.Value != nil {
			fields = append(fields, zap.Float64("value", *evt.Value))
		}
		if evt.Message != "" {
			fields = append(fields, zap.String("message", evt.Message))
		}
		if evt.Status == pipeline.StatusFailed {
			s.logger.Warn("pipeline step failed", append(fields, zap.String("error", evt.Error))...)
			continue
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
