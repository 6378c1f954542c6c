package logging

import (
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

// waLogger routes whatsmeow's internal logging through zap.
type waLogger struct {
	s *zap.SugaredLogger
}

// WALogger adapts a zap logger to whatsmeow's logger interface.
func WALogger(l *zap.Logger, module string) waLog.Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &waLogger{s: l.Named(module).Sugar()}
}

func (w *waLogger) Errorf(msg string, args ...any) { w.s.Errorf(msg, args...) }
func (w *waLogger) Warnf(msg string, args ...any)  { w.s.Warnf(msg, args...) }
func (w *waLogger) Infof(msg string, args ...any)  { w.s.Infof(msg, args...) }
func (w *waLogger) Debugf(msg string, args ...any) { w.s.Debugf(msg, args...) }

func (w *waLogger) Sub(module string) waLog.Logger {
	return &waLogger{s: w.s.Named(module)}
}
