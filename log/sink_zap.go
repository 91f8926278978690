package log

import "go.uber.org/zap"

// ZapSink is the domain-stack complement to FileLogSink: it hands every
// drained record to a *zap.Logger instead of a rotating file, letting a
// deployment route Raptor's own logs into whatever structured-logging
// pipeline the rest of its services already use.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger}
}

func (sink *ZapSink) Sink(content *LogContent) {
	field := zap.String("src", content.fileName)
	switch content.logLvl {
	case LogLevelDebug:
		sink.logger.Debug(content.content, field)
	case LogLevelInfo:
		sink.logger.Info(content.content, field)
	case LogLevelWarn:
		sink.logger.Warn(content.content, field)
	case LogLevelError:
		sink.logger.Error(content.content, field)
	case LogLevelFatal:
		sink.logger.Error(content.content, field)
	}
}
