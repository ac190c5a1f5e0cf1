package config

import (
	"os"

	"github.com/sirupsen/logrus"

	"library-desk/library"
)

// NewLogger builds the process logger from LogLevel and LogFormat. An unknown
// level falls back to info.
func (c Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	if c.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// SessionOptions maps the configuration onto library session options.
func (c Config) SessionOptions(log *logrus.Logger) library.Options {
	window, _ := c.LoginWindow()
	return library.Options{
		Path:          c.DataFile,
		Autosave:      c.Autosave,
		AdminUsername: c.Admin.Username,
		AdminPassword: c.Admin.Password,
		Policy: library.LoanPolicy{
			MaxOpenPerUser:  c.Loans.MaxPerUser,
			DefaultLoanDays: c.Loans.DefaultDays,
		},
		Auth: library.AuthOptions{
			BcryptCost:  c.Login.BcryptCost,
			MaxAttempts: c.Login.MaxAttempts,
			Window:      window,
		},
		Logger: log,
	}
}
