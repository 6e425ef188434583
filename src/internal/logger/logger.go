package logger

import (
	"io"
	"os"
	"time"

	"timesheet-auth-svc/src/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Init configures the standard logrus logger from the logs section.
func Init(cfg *config.Configuration) {
	level, err := logrus.ParseLevel(cfg.Logs.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Logs.EnableJSONOutput {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Logs.Path != "" {
		file, err := os.OpenFile(cfg.Logs.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logrus.WithError(err).Warn("Failed to open log file, logging to stdout only")
			return
		}
		logrus.SetOutput(io.MultiWriter(os.Stdout, file))
	}

	logrus.WithFields(logrus.Fields{
		"level": level.String(),
		"json":  cfg.Logs.EnableJSONOutput,
	}).Debug("Logger initialized")
}

// AccessLog logs one line per HTTP request.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logrus.WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.FullPath(),
			"status":    c.Writer.Status(),
			"latency":   time.Since(start).String(),
			"client_ip": c.ClientIP(),
		})
		if c.Writer.Status() >= 500 {
			entry.Error("Request completed")
			return
		}
		entry.Info("Request completed")
	}
}
