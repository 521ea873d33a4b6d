package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var cliLevels = map[string]logrus.Level{
	"debug": logrus.DebugLevel,
	"info":  logrus.InfoLevel,
	"warn":  logrus.WarnLevel,
	"error": logrus.ErrorLevel,
}

// configureLogger builds the command logger. The level comes from --log-level,
// then the verbose flag, then the config file; with none of them penlink only
// prints its own output.
func configureLogger(cmd *cobra.Command, verboseFlagName string, fileLevel string) (*logrus.Logger, error) {
	level, err := resolveLevel(cmd, verboseFlagName, fileLevel)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger, nil
}

func resolveLevel(cmd *cobra.Command, verboseFlagName string, fileLevel string) (logrus.Level, error) {
	if name, _ := cmd.Flags().GetString("log-level"); name != "" {
		level, ok := cliLevels[name]
		if !ok {
			return 0, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", name)
		}
		return level, nil
	}
	if verbose, _ := cmd.Flags().GetBool(verboseFlagName); verbose {
		return logrus.DebugLevel, nil
	}
	if fileLevel != "" {
		level, err := logrus.ParseLevel(fileLevel)
		if err != nil {
			return 0, fmt.Errorf("invalid log level in config: %w", err)
		}
		return level, nil
	}
	return logrus.PanicLevel, nil
}
