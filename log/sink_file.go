package log

import (
	"fmt"
	"os"
	"time"
)

// RotateType selects how often FileLogSink rolls to a new file.
type RotateType int

const (
	RotateByDay RotateType = iota
	RotateByHour
)

// FileLogSink writes records to a rotating log file: it checks whether
// the current period's file name has changed on every write and opens a
// new file when it has, rather than running a separate rotation timer.
type FileLogSink struct {
	prefixFilename string
	logDir         string
	rotateType     RotateType
	curFile        *os.File
	curFileName    string
}

func NewFileLogSink(prefixFilename string, logDir string, rotateType RotateType) *FileLogSink {
	if logDir == "" {
		logDir = "./log/"
	}
	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		os.Mkdir(logDir, os.FileMode(0770))
	}
	return &FileLogSink{
		prefixFilename: prefixFilename,
		logDir:         logDir,
		rotateType:     rotateType,
	}
}

func (sink *FileLogSink) getFileName(t time.Time) string {
	switch sink.rotateType {
	case RotateByHour:
		return fmt.Sprintf("%s_%s.log", sink.prefixFilename, t.Format("2006_01_02_15"))
	default:
		return fmt.Sprintf("%s_%s.log", sink.prefixFilename, t.Format("2006_01_02"))
	}
}

func (sink *FileLogSink) openFile(fileName string) (*os.File, error) {
	return os.OpenFile(sink.logDir+fileName, os.O_RDWR|os.O_CREATE|os.O_APPEND, os.FileMode(0660))
}

func (sink *FileLogSink) Sink(content *LogContent) {
	fileName := sink.getFileName(content.logTime)
	if sink.curFileName != fileName {
		if sink.curFile != nil {
			sink.curFile.Close()
		}
		sink.curFileName = fileName
		sink.curFile, _ = sink.openFile(fileName)
	}
	if sink.curFile == nil {
		return
	}
	output := fmt.Sprintf("[%s][%s][%s]%s\n", content.logTime.Format("2006-01-02 15:04:05.000"),
		LogLevelName[content.logLvl], content.fileName, content.content)
	sink.curFile.WriteString(output)
}

func (sink *FileLogSink) Flush() {
	if sink.curFile != nil {
		sink.curFile.Sync()
	}
}
