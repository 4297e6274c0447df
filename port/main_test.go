package port

import (
	"os"
	"testing"

	"github.com/scandyna/multidiagtools-sub015/logger"
)

func TestMain(m *testing.M) {
	var level logger.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = logger.DebugLevel
	case "warn":
		level = logger.WarnLevel
	case "error":
		level = logger.ErrorLevel
	default:
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}
