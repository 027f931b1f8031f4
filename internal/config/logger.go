package config

import (
	"github.com/sirupsen/logrus"
)

// SetupLogger настраивает logrus: JSON в production, текст с временем в остальных окружениях.
func (c *Config) SetupLogger() {
	if c.AppEnv == "production" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		logrus.WithField("level", c.LogLevel).Warn("config: unknown LOG_LEVEL, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}
