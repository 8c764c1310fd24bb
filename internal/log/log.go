package log

import (
	stdlog "log"
	"os"

	"github.com/adrg/xdg"
)

var (
	debugEnabled bool
	logFile      *os.File
)

func Setup(debug bool) error {
	debugEnabled = debug
	if !debug || logFile != nil {
		return nil
	}
	logPath, err := xdg.StateFile("mailbox/debug.log")
	if err != nil {
		return err
	}
	logFile, err = os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	stdlog.SetOutput(logFile)
	stdlog.SetPrefix("mailbox ")
	return nil
}

func Close() error {
	if logFile == nil {
		return nil
	}
	defer func() { logFile = nil }()
	return logFile.Close()
}

func DebugEnabled() bool {
	return debugEnabled
}

func Printf(format string, args ...any) {
	if debugEnabled {
		stdlog.Printf("DEBUG: "+format, args...)
	}
}
