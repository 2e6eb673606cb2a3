package logs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jrick/logrotate/rotator"
)

// Subsystem tags used across the consensus core, mirroring the tagging
// convention of daglabs-btcd's logger package.
const (
	TagBlockchain = "BLKC"
	TagValidation = "VALD"
	TagMempool    = "MMPL"
	TagStorage    = "STOR"
	TagNode       = "NODE"
)

var (
	// LogRotator is the rotating file writer backing Backend; nil until
	// Init is called. Logger calls made before Init still work: they
	// simply write to stdout only.
	LogRotator *rotator.Rotator

	backend = NewBackend()

	subsystems = map[string]*Logger{
		TagBlockchain: backend.Logger(TagBlockchain),
		TagValidation: backend.Logger(TagValidation),
		TagMempool:    backend.Logger(TagMempool),
		TagStorage:    backend.Logger(TagStorage),
		TagNode:       backend.Logger(TagNode),
	}
)

// Init wires a rotating file writer at logFile into the shared backend. It
// must be called once during startup before subsystem loggers are expected
// to persist to disk; until then, loggers still write to stdout.
func Init(logFile string) error {
	dir := filepath.Dir(logFile)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	r, err := rotator.New(logFile, 10*1024*1024, false, 3)
	if err != nil {
		return fmt.Errorf("create log rotator: %w", err)
	}
	LogRotator = r
	backend.writers = append(backend.writers, r)
	return nil
}

// Get returns the Logger for tag, or the NODE logger if tag is unrecognized.
func Get(tag string) *Logger {
	if l, ok := subsystems[tag]; ok {
		return l
	}
	return subsystems[TagNode]
}

// SetLevel sets the logging level for every known subsystem.
func SetLevel(lvl Level) {
	for _, l := range subsystems {
		l.SetLevel(lvl)
	}
}
