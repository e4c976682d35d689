package commands

import (
	"fmt"
	"os"
	"strings"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/sirupsen/logrus"
)

// logrusLogger adapts logrus to authclient.Logger. Calls with a printf
// verb are formatted, otherwise trailing args are read as key/value pairs.
type logrusLogger struct {
	entry *logrus.Entry
}

var _ authclient.Logger = logrusLogger{}

func newLogger(level string) (logrusLogger, error) {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return logrusLogger{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	l.SetLevel(lvl)

	return logrusLogger{entry: logrus.NewEntry(l).WithField("component", "authclient")}, nil
}

func (l logrusLogger) Debug(format string, args ...any) {
	l.log(logrus.DebugLevel, format, args...)
}

func (l logrusLogger) Info(format string, args ...any) {
	l.log(logrus.InfoLevel, format, args...)
}

func (l logrusLogger) Warn(format string, args ...any) {
	l.log(logrus.WarnLevel, format, args...)
}

func (l logrusLogger) Error(format string, args ...any) {
	l.log(logrus.ErrorLevel, format, args...)
}

func (l logrusLogger) log(level logrus.Level, format string, args ...any) {
	if !l.entry.Logger.IsLevelEnabled(level) {
		return
	}

	if strings.Contains(format, "%") {
		l.entry.Logf(level, format, args...)
		return
	}

	fields := logrus.Fields{}
	for i := 0; i+1 < len(args); i += 2 {
		fields[fmt.Sprint(args[i])] = args[i+1]
	}
	if len(args)%2 == 1 {
		fields["extra"] = args[len(args)-1]
	}
	l.entry.WithFields(fields).Log(level, format)
}
