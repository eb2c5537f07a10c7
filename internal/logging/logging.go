package logging

import (
	"go.uber.org/zap"
)

// New builds the process-wide logger. DEBUG selects the development config
// with human-readable output; anything else gets the JSON production config.
func New(level string) (*zap.Logger, error) {
	if level == "DEBUG" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
