package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"
)

const serviceName = "social-publisher"

var logger = log.New()

func init() {
	logger.Out = os.Stdout
	// Stage/prod can opt into daily files under ./logs; everything else goes to stdout.
	env := os.Getenv("ENV")
	if os.Getenv("LOG_TO_FILE") == "true" && (env == "stage" || env == "prod" || env == "") {
		if f, err := openLogFile(env); err != nil {
			log.Warnf("Failed to open log file: %v, falling back to stdout", err)
		} else {
			logger.Out = f
		}
	}

	logger.Formatter = &log.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
	}
	logger.SetLevel(levelFromEnv())
}

func openLogFile(env string) (*os.File, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	logsDir := filepath.Join(cwd, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, err
	}
	filePath := filepath.Join(logsDir, fmt.Sprintf("%s%s.log", time.Now().Format("2006-01-02"), env))
	return os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
}

func levelFromEnv() log.Level {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if lvl, err := log.ParseLevel(v); err == nil {
			return lvl
		}
	}
	return log.DebugLevel
}

// GetLogger returns an entry tagged with the caller's location.
func GetLogger() *log.Entry {
	function, file, line, _ := runtime.Caller(1)

	functionObject := runtime.FuncForPC(function)
	entry := logger.WithFields(log.Fields{
		"service":  serviceName,
		"function": functionObject.Name(),
		"file":     file,
		"line":     line,
	})

	return entry
}

func SetLevel(level log.Level) {
	logger.SetLevel(level)
}
