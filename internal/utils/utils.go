package utils

import (
	"strings"

	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"
)

var Log = logrus.New()

func SetLogLevel(level string) {
	// We are not using logrus' trace and panic levels
	switch strings.ToLower(level) {
	case "debug":
		Log.SetLevel(log.DebugLevel)
	case "info":
		Log.SetLevel(log.InfoLevel)
	case "warning", "warn":
		Log.SetLevel(log.WarnLevel)
	case "error":
		Log.SetLevel(log.ErrorLevel)
	case "fatal":
		Log.SetLevel(log.FatalLevel)
	default:
		log.Fatal("Bad error level string")
	}
}

// SetLogFile additionally writes log lines to path, the way the monitor keeps
// a persistent log next to its database.
func SetLogFile(path string) error {
	if path == "" {
		return nil
	}
	f, err := openAppend(path)
	if err != nil {
		return err
	}
	Log.AddHook(&fileHook{w: f, formatter: &logrus.TextFormatter{DisableColors: true, FullTimestamp: true}})
	return nil
}
