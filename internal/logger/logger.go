package logger

import (
	"io"
	"os"

	"github.com/civicdrive/backend/internal/config"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Init configures the standard logrus logger.
func Init(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	switch cfg.Format {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	default:
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	logrus.SetOutput(Writer(cfg))
}

// Writer resolves the configured output. "file" and "both" need a filename.
func Writer(cfg config.LoggingConfig) io.Writer {
	if cfg.Filename == "" {
		return os.Stdout
	}
	switch cfg.Output {
	case "file":
		return rotating(cfg.Filename, cfg, 1)
	case "both":
		return io.MultiWriter(os.Stdout, rotating(cfg.Filename, cfg, 1))
	default:
		return os.Stdout
	}
}

func rotating(filename string, cfg config.LoggingConfig, retention int) io.Writer {
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge * retention,
		MaxBackups: cfg.MaxBackups * retention,
		Compress:   cfg.Compress,
	}
}

// NewAuditLogger returns a dedicated JSON logger for audit events.
// Audit files are kept twice as long as application logs.
func NewAuditLogger(cfg config.LoggingConfig) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: timestampFormat,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	if cfg.EnableAudit && cfg.AuditFile != "" {
		l.SetOutput(rotating(cfg.AuditFile, cfg, 2))
	} else {
		l.SetOutput(os.Stdout)
	}
	l.SetLevel(logrus.InfoLevel)
	return l
}
