package cmd

import (
	"github.com/sirupsen/logrus"
)

type DebugConfig struct {
	Debug bool `usage:"Turn on debug logging"`
}

func (c *DebugConfig) SetupDebug() error {
	if c.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	return nil
}
