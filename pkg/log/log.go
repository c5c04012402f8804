package log

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Init sets up the standard logrus logger. An empty file keeps logging on
// stderr; an empty level means info.
func Init(file, level string) (io.Closer, error) {
	logrus.SetFormatter(&prefixed.TextFormatter{
		DisableSorting:  true,
		FullTimestamp:   true,
		ForceFormatting: true,
	})
	if level == "" {
		level = logrus.InfoLevel.String()
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}
	logrus.SetLevel(lvl)

	if file == "" {
		logrus.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logrus.SetOutput(os.Stderr)
		logrus.Warnf("log %v, using default stderr", err)
		return nopCloser{}, nil
	}
	logrus.SetOutput(f)
	return f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func Debugf(format string, args ...interface{}) {
	logrus.Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
	logrus.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
	logrus.Warnf(format, args...)
}

func Warn(args ...interface{}) {
	fmt.Println(args...)
	logrus.Warnln(args...)
}

func Error(args ...interface{}) {
	fmt.Fprintln(os.Stderr, args...)
	logrus.Errorln(args...)
}
