// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Setup installs the text formatter used across gopi and sets the level.
// Logs go to out so that stdout stays reserved for results.
func Setup(level string, out io.Writer) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	formatter := &logrus.TextFormatter{}
	formatter.FullTimestamp = true
	formatter.TimestampFormat = time.RFC3339
	logrus.SetFormatter(formatter)
	logrus.SetLevel(lvl)
	logrus.SetOutput(out)
	return nil
}
