package auth

import "go.uber.org/zap"

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger adapts a zap logger to Logger. A nil logger yields a no-op.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &zapLogger{sugar: l.Named("auth").Sugar()}
}

func (z *zapLogger) Debug(format string, args ...any) { z.sugar.Debugf(format, args...) }
func (z *zapLogger) Info(format string, args ...any)  { z.sugar.Infof(format, args...) }
func (z *zapLogger) Warn(format string, args ...any)  { z.sugar.Warnf(format, args...) }
func (z *zapLogger) Error(format string, args ...any) { z.sugar.Errorf(format, args...) }
