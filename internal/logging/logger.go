package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/stepflow/internal/config"
)

// Logger appends timestamped diagnostics to .stepflow/logs/stepflow.log so
// the terminal stays free for the wizard.
type Logger struct {
	mu   sync.Mutex
	file *os.File
}

// New creates (or reuses) the log file for the current project directory.
func New(projectDir string) (*Logger, error) {
	logDir := filepath.Join(projectDir, config.StepflowDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, "stepflow.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	return &Logger{file: f}, nil
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.file.Close()
	l.file = nil
	return err
}

// Printf writes a single timestamped line to the log file.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil {
		return
	}
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	timestamp := time.Now().Format(time.RFC3339)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	fmt.Fprintf(l.file, "[%s] %s\n", timestamp, line)
}

// Prefixed returns a logger that tags every line with component.
func (l *Logger) Prefixed(component string) *Prefixed {
	return &Prefixed{parent: l, prefix: strings.TrimSpace(component)}
}

// Prefixed tags lines with a component name.
type Prefixed struct {
	parent *Logger
	prefix string
}

// Printf forwards to the parent logger.
func (p *Prefixed) Printf(format string, args ...any) {
	if p == nil {
		return
	}
	if p.prefix == "" {
		p.parent.Printf(format, args...)
		return
	}
	p.parent.Printf("%s: %s", p.prefix, fmt.Sprintf(format, args...))
}
