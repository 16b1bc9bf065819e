package entrypoint

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/miroshar-success/book-adapter-epub/internal/config"
)

// ConfigureLogging applies the level and format from cfg to the standard
// logrus logger.
func ConfigureLogging(cfg config.Log) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(level)

	switch cfg.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return nil
}
