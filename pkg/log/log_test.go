package log

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultLogger(t *testing.T) {
	logger := NewDefaultLogger()
	require.NotNil(t, logger)
	assert.NotNil(t, logger.logger)
}

func TestNewLoggerWithLevel(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected string
	}{
		{"debug level", "debug", "debug"},
		{"info level", "info", "info"},
		{"warn level", "warn", "warning"},
		{"error level", "error", "error"},
		{"invalid level", "invalid", "info"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLoggerWithLevel(tt.level)
			require.NotNil(t, logger)
			assert.NotNil(t, logger.logger)
		})
	}
}

func TestDefaultLoggerInterface(t *testing.T) {
	logger := NewDefaultLogger()

	// Test that DefaultLogger implements Logger interface
	var _ Logger = logger

	// Test all logging methods don't panic
	assert.NotPanics(t, func() {
		logger.Debug("test debug")
		logger.Debugf("test debug %s", "formatted")
		logger.Info("test info")
		logger.Infof("test info %s", "formatted")
		logger.Warn("test warn")
		logger.Warnf("test warn %s", "formatted")
		logger.Error("test error")
		logger.Errorf("test error %s", "formatted")
	})
}

func TestSetLevel(t *testing.T) {
	logger := NewDefaultLogger()

	assert.NotPanics(t, func() {
		logger.SetLevel("debug")
		logger.SetLevel("info")
		logger.SetLevel("warn")
		logger.SetLevel("error")
		logger.SetLevel("invalid")
	})
}

func TestGetLogrus(t *testing.T) {
	logger := NewDefaultLogger()
	logrusLogger := logger.GetLogrus()

	assert.NotNil(t, logrusLogger)
	assert.Equal(t, logger.logger, logrusLogger)
}

func TestNewDiscardLogger(t *testing.T) {
	logger := NewDiscardLogger()
	require.NotNil(t, logger)

	var buf bytes.Buffer
	logger.GetLogrus().SetOutput(&buf)

	logger.Error("dropped")
	logger.Warnf("dropped %d", 1)

	assert.Empty(t, buf.String())
}

func TestWithFields(t *testing.T) {
	logger := NewDefaultLogger()

	var buf bytes.Buffer
	logger.GetLogrus().SetOutput(&buf)
	logger.GetLogrus().SetFormatter(&logrus.TextFormatter{DisableColors: true, DisableTimestamp: true})

	child := logger.WithFields(map[string]interface{}{"session": 7})
	child.Info("accepted")

	assert.Contains(t, buf.String(), "session=7")
	assert.Contains(t, buf.String(), "accepted")
	assert.Equal(t, logger.GetLogrus(), child.GetLogrus())
}

func TestOrDiscard(t *testing.T) {
	assert.NotNil(t, OrDiscard(nil))

	logger := NewDefaultLogger()
	assert.Same(t, logger, OrDiscard(logger))
}

func TestWithFieldsHelper(t *testing.T) {
	logger := NewDefaultLogger()

	var buf bytes.Buffer
	logger.GetLogrus().SetOutput(&buf)
	logger.GetLogrus().SetFormatter(&logrus.TextFormatter{DisableColors: true, DisableTimestamp: true})

	WithFields(logger, map[string]interface{}{"remote": "127.0.0.1:9"}).Warn("rejected")
	assert.Contains(t, buf.String(), "remote=")

	var custom Logger = &discard{}
	assert.Same(t, custom, WithFields(custom, map[string]interface{}{"a": 1}))
}

type discard struct{ Logger }
