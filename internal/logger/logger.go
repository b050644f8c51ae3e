package logger

import (
	"fmt"
	"log"
	"sync"
)

// Instance is the process-wide logger shared across the application
var (
	Instance *BufferedLogger // Global logger instance
	initOnce sync.Once       // Ensures that initialization happens only once
)

// BufferedLogger either logs messages immediately (server mode) or buffers
// them for a single flush at the end of a CLI run, so JSON output on stdout
// stays uncorrupted.
type BufferedLogger struct {
	mu        sync.Mutex // Guards the buffer
	buffer    []string   // Pending messages in buffered mode
	immediate bool       // When true, messages go straight to stdlib log
}

// Init initializes the logger with the specified mode (immediate or buffered)
func Init(immediate bool) {
	initOnce.Do(func() {
		Instance = &BufferedLogger{immediate: immediate}
	})
}

// Log records a message. Safe to call before Init.
func Log(msg string) {
	if Instance == nil {
		log.Println("[WARN] Logger not initialized. Message:", msg)
		return
	}

	Instance.mu.Lock()
	defer Instance.mu.Unlock()

	if Instance.immediate {
		log.Println(msg)
	} else {
		Instance.buffer = append(Instance.buffer, msg)
	}
}

// Logf records a formatted message
func Logf(format string, args ...interface{}) {
	Log(fmt.Sprintf(format, args...))
}

// Flush outputs all buffered log messages and clears the buffer
func Flush() {
	if Instance == nil {
		return
	}
	Instance.mu.Lock()
	defer Instance.mu.Unlock()
	for _, msg := range Instance.buffer {
		log.Println(msg)
	}
	Instance.buffer = nil
}
