// Package logger fronts logrus with one-time initialization and runtime
// level reloading.
package logger

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu          sync.Mutex
	initialized bool
)

// ErrNotInitialized is returned by SetLevel before Init has run.
var ErrNotInitialized = fmt.Errorf("logger: not initialized")

// Init configures the global logger with the given level. The first call
// wins; later calls only succeed if the level parses.
func Init(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("logger: bad level %q: %w", level, err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
		logrus.SetLevel(lvl)
		initialized = true
	}
	return nil
}

// SetLevel changes the level at runtime. Requires a prior Init.
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("logger: bad level %q: %w", level, err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		return ErrNotInitialized
	}
	logrus.SetLevel(lvl)
	return nil
}

// Initialized reports whether Init has completed.
func Initialized() bool {
	mu.Lock()
	defer mu.Unlock()
	return initialized
}
