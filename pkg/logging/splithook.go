package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// LogSplitHook directs matched levels to its configured output.
type LogSplitHook struct {
	output io.Writer
	levels []logrus.Level
}

// Fire writes the formatted entry when its level is one the hook handles.
func (hook *LogSplitHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	for _, level := range hook.levels {
		if level == entry.Level {
			_, err := io.WriteString(hook.output, line)
			return err
		}
	}
	return nil
}

// Levels returns the log levels this hook is being applied to.
func (hook *LogSplitHook) Levels() []logrus.Level {
	return hook.levels
}
