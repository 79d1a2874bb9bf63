package config

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Level maps a verbosity count to a logrus level.
func Level(verbose int) logrus.Level {
	switch {
	case verbose <= 0:
		return logrus.WarnLevel
	case verbose == 1:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}

// SetupLogging configures the standard logrus logger. A nil out keeps the
// current output.
func SetupLogging(cfg LogConfig, out io.Writer) {
	configureLogger(logrus.StandardLogger(), cfg, out)
}

func configureLogger(logger *logrus.Logger, cfg LogConfig, out io.Writer) {
	logger.SetLevel(Level(cfg.Verbose))
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if out != nil {
		logger.SetOutput(out)
	}
}
