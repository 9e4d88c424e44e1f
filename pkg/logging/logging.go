// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

// Package logging provides the shared logger used by all agent subsystems.
package logging

import (
	"github.com/sirupsen/logrus"
)

// DefaultLogger is the base logger; packages derive their own entry from it
// via WithField(logfields.LogSubsys, "...").
var DefaultLogger = initializeDefaultLogger()

func initializeDefaultLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	logger.SetLevel(logrus.InfoLevel)
	return logger
}

// SetLogLevel updates the level of the default logger.
func SetLogLevel(level logrus.Level) {
	DefaultLogger.SetLevel(level)
}

// ConfigureLogLevel enables debug logging when debug is true and resets to
// the default info level otherwise.
func ConfigureLogLevel(debug bool) {
	if debug {
		SetLogLevel(logrus.DebugLevel)
	} else {
		SetLogLevel(logrus.InfoLevel)
	}
}
