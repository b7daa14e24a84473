package security

import (
	"github.com/pion/logging"

	"github.com/vitalvas/gosock/pkg/log"
)

// loggerFactory routes DTLS engine logs to a log.Logger.
type loggerFactory struct {
	logger log.Logger
}

func (f *loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &scopedLogger{logger: f.logger, scope: scope}
}

type scopedLogger struct {
	logger log.Logger
	scope  string
}

func (l *scopedLogger) Trace(msg string) {
	l.logger.Debugf("%s: %s", l.scope, msg)
}

func (l *scopedLogger) Tracef(format string, args ...interface{}) {
	l.logger.Debugf(l.scope+": "+format, args...)
}

func (l *scopedLogger) Debug(msg string) {
	l.logger.Debugf("%s: %s", l.scope, msg)
}

func (l *scopedLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(l.scope+": "+format, args...)
}

func (l *scopedLogger) Info(msg string) {
	l.logger.Infof("%s: %s", l.scope, msg)
}

func (l *scopedLogger) Infof(format string, args ...interface{}) {
	l.logger.Infof(l.scope+": "+format, args...)
}

func (l *scopedLogger) Warn(msg string) {
	l.logger.Warnf("%s: %s", l.scope, msg)
}

func (l *scopedLogger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(l.scope+": "+format, args...)
}

func (l *scopedLogger) Error(msg string) {
	l.logger.Errorf("%s: %s", l.scope, msg)
}

func (l *scopedLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(l.scope+": "+format, args...)
}
