package log

// defaultLogger is the package-level logger the rest of the tree calls
// through (poller, server, client) via the Debug/Info/Warn/Error/Fatal
// helpers below.
var defaultLogger = NewCommonLogger()

func init() {
	defaultLogger.SetLogLevel(LogLevelInfo)
	defaultLogger.Start()
}

// SetLogger swaps the package-level logger, letting a caller wire its
// own sinks and level before Raptor logs anything.
func SetLogger(l *CommonLogger) {
	defaultLogger = l
}

func Default() *CommonLogger { return defaultLogger }

func Debug(fmtStr string, args ...interface{}) { defaultLogger.LogDebug(1, fmtStr, args...) }
func Info(fmtStr string, args ...interface{})  { defaultLogger.LogInfo(1, fmtStr, args...) }
func Warn(fmtStr string, args ...interface{})  { defaultLogger.LogWarn(1, fmtStr, args...) }
func Error(fmtStr string, args ...interface{}) { defaultLogger.LogError(1, fmtStr, args...) }
func Fatal(fmtStr string, args ...interface{}) { defaultLogger.LogFatal(1, fmtStr, args...) }
