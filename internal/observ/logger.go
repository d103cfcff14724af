// Package observ builds the process logger.
package observ

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a JSON production logger when env is "production" and
// a console development logger otherwise. Every entry carries service and
// node_id so output from several instances behind a relay can be told
// apart. An unparseable level falls back to info.
func NewLogger(env, level, nodeID string) (*zap.Logger, error) {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}

	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.InitialFields = map[string]any{
		"service": "echoroom",
		"node_id": nodeID,
	}

	return config.Build()
}
