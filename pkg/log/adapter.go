package log

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds the root logger. Unknown levels fall back to info and are reported in the returned warning.
func New(level string, jsonFormat bool, out io.Writer) (*logrus.Logger, string) {
	logger := logrus.New()
	if out != nil {
		logger.SetOutput(out)
	}
	if jsonFormat {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	}

	var warning string
	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		warning = "invalid log level '" + level + "', using 'info'"
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger, warning
}

// BadgerLogrusAdapter implements badger.Logger interface using logrus
type BadgerLogrusAdapter struct {
	*logrus.Entry
}

// NewBadgerLogrusAdapter creates a new adapter
func NewBadgerLogrusAdapter(entry *logrus.Entry) *BadgerLogrusAdapter {
	return &BadgerLogrusAdapter{entry.WithField("component", "badger")}
}

func (l *BadgerLogrusAdapter) Errorf(f string, v ...interface{}) { l.Entry.Errorf(f, v...) }

func (l *BadgerLogrusAdapter) Warningf(f string, v ...interface{}) { l.Entry.Warningf(f, v...) }

// Infof is demoted to debug; badger is chatty about compactions.
func (l *BadgerLogrusAdapter) Infof(f string, v ...interface{}) { l.Entry.Debugf(f, v...) }

func (l *BadgerLogrusAdapter) Debugf(f string, v ...interface{}) { l.Entry.Tracef(f, v...) }
