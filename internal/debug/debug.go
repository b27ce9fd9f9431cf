// Package debug configures the process-wide logrus logger.
// Without --debug only warnings and errors reach stderr. With --debug every
// entry at the configured level is written to <work-dir>/_logs/debug.log,
// rotated by lumberjack.
package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// LogFileName is the name of the debug log file.
	LogFileName = "debug.log"
)

// Options controls Init.
type Options struct {
	Enabled bool
	// Level is a logrus level name. Empty means debug when enabled.
	Level string
	// Dir receives the rotated log file.
	Dir string
}

var (
	mu      sync.RWMutex
	enabled bool
	logPath string
	rotator *lumberjack.Logger

	// stderr is a variable to allow overriding in tests.
	stderr io.Writer = os.Stderr
)

// Init configures the global logger. Calling it again replaces the previous setup.
func Init(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	closeLocked()
	enabled = opts.Enabled

	if !opts.Enabled {
		log.SetOutput(stderr)
		log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
		log.SetLevel(log.WarnLevel)
		return nil
	}

	levelName := opts.Level
	if levelName == "" {
		levelName = "debug"
	}
	level, err := log.ParseLevel(levelName)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", levelName, err)
	}
	if opts.Dir == "" {
		return fmt.Errorf("log directory is not set")
	}

	//nolint:gosec // G301: log dir lives in the user's work dir
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	logPath = filepath.Join(opts.Dir, LogFileName)
	rotator = &lumberjack.Logger{
		Filename:   filepath.ToSlash(logPath),
		MaxSize:    5, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	log.SetOutput(rotator)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, DisableColors: true})
	log.SetLevel(level)
	log.Infof("=== sbsrf-update debug log started at %s ===", time.Now().Format(time.RFC3339))
	return nil
}

// Close flushes and closes the log file if one is open.
// Safe to call even if logging is disabled.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeLocked()
}

func closeLocked() {
	if rotator != nil {
		_ = rotator.Close()
		rotator = nil
	}
	logPath = ""
}

// Enabled returns whether file logging is active.
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// LogPath returns the active log file, or "" when file logging is off.
func LogPath() string {
	mu.RLock()
	defer mu.RUnlock()
	return logPath
}
