package journal

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// AuditLogger emits one structured JSON line per journal commit/seal/discard
// event, so an operator can grep a stable schema. Pack-sourced from vellankikoti-kubilitics-os-emergent's
// zap+lumberjack pairing.
type AuditLogger struct {
	log *zap.Logger
}

// NewAuditLogger rotates the audit log at path once it exceeds maxSizeMB.
func NewAuditLogger(path string, maxSizeMB int) *AuditLogger {
	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(writer), zap.InfoLevel)
	return &AuditLogger{log: zap.New(core)}
}

func (a *AuditLogger) StepSealed(stepID int64, outcome string) {
	a.log.Info("stream_step_sealed", zap.Int64("step_id", stepID), zap.String("outcome", outcome))
}

func (a *AuditLogger) StepDiscarded(stepID int64) {
	a.log.Info("stream_step_discarded", zap.Int64("step_id", stepID))
}

func (a *AuditLogger) BatchCommitted(batchID int64, resultCount int) {
	a.log.Info("tool_batch_committed", zap.Int64("batch_id", batchID), zap.Int("results", resultCount))
}

func (a *AuditLogger) BatchDiscarded(batchID int64) {
	a.log.Info("tool_batch_discarded", zap.Int64("batch_id", batchID))
}

func (a *AuditLogger) GateDisabled(reason string) {
	a.log.Warn("tool_gate_disabled", zap.String("reason", reason))
}

func (a *AuditLogger) Sync() error {
	return a.log.Sync()
}
