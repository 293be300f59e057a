package cmd

import (
	"io"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/config"
)

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// loadConfigAndWatch loads the configuration and re-applies the log level
// whenever the config file changes.
func loadConfigAndWatch() (*config.Config, error) {
	return config.LoadAndWatch(cfgFile, func(next *config.Config, e fsnotify.Event) {
		level := logLevel(next.Logging.Level)
		if level == zerolog.GlobalLevel() {
			return
		}
		zerolog.SetGlobalLevel(level)
		log.Info().Str("file", e.Name).Str("level", level.String()).Msg("log level reloaded")
	})
}

// setupLogging configures the global logger. The returned closer releases
// the log file, if any.
func setupLogging(cfg *config.Config) io.Closer {
	zerolog.SetGlobalLevel(logLevel(cfg.Logging.Level))

	var out io.Writer = os.Stderr
	if cfg.Logging.Format == "console" || verbose {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	var closer io.Closer = nopCloser{}
	if cfg.Logging.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAgeDays,
		}
		out = zerolog.MultiLevelWriter(out, file)
		closer = file
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	return closer
}

// logLevel parses a configured level; verbose forces debug.
func logLevel(s string) zerolog.Level {
	if verbose {
		return zerolog.DebugLevel
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return level
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
