package bootstrap

import (
	"fmt"

	loggerpkg "github.com/lechuhuuha/memcload/logger"
)

// InitLogger builds the structured logger used throughout the application.
// Dry runs log at debug level so intended writes are visible.
func InitLogger(logFile string, dryRun bool) (loggerpkg.Logger, func(), error) {
	logr, cleanup, err := loggerpkg.NewZapLoggerFromOptions(loggerpkg.Options{
		OutputPath: logFile,
		Debug:      dryRun,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return logr, cleanup, nil
}
