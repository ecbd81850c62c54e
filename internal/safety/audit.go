package safety

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// ErrNilWriter is returned by AuditLogger.Log when the logger has no writer.
var ErrNilWriter = errors.New("audit logger: writer is nil")

// Audit sources.
const (
	SourceREST = "rest"
	SourceMCP  = "mcp"
)

// AuditEntry records one VM action or tool invocation.
type AuditEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Action    string         `json:"action"`
	Target    string         `json:"target,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	Result    string         `json:"result"`
	RequestID string         `json:"request_id,omitempty"`
	Duration  time.Duration  `json:"duration_ns"`
}

// AuditLogger writes entries as newline-delimited JSON. It is safe for
// concurrent use. A nil *AuditLogger discards entries via Record.
type AuditLogger struct {
	mu  sync.Mutex
	w   io.Writer
	log hclog.Logger
}

// NewAuditLogger returns a logger writing to w, or nil when w is nil.
func NewAuditLogger(w io.Writer) *AuditLogger {
	if w == nil {
		return nil
	}
	return &AuditLogger{w: w, log: hclog.NewNullLogger()}
}

// WithLogger sets where Record reports entries it failed to write.
func (l *AuditLogger) WithLogger(logger hclog.Logger) *AuditLogger {
	if l != nil && logger != nil {
		l.log = logger
	}
	return l
}

// OpenAuditLog opens (creating parent directories) the append-only log file
// at path. The returned closer must be closed on shutdown.
func OpenAuditLog(path string) (*AuditLogger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, nil, fmt.Errorf("create audit log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit log %q: %w", path, err)
	}
	return NewAuditLogger(f), f, nil
}

// Log writes entry as a single JSON line.
func (l *AuditLogger) Log(entry AuditEntry) error {
	if l == nil || l.w == nil {
		return ErrNilWriter
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.w.Write(data)
	return err
}

// Record logs an entry started at start, filling in the duration. It is a
// no-op on a nil logger. Write errors go to the logger set by WithLogger.
func (l *AuditLogger) Record(source, action, target string, params map[string]any, result string, start time.Time) {
	if l == nil {
		return
	}
	err := l.Log(AuditEntry{
		Timestamp: start,
		Source:    source,
		Action:    action,
		Target:    target,
		Params:    params,
		Result:    result,
		Duration:  time.Since(start),
	})
	if err != nil {
		l.log.Error("failed to write audit entry", "source", source, "action", action, "target", target, "error", err)
	}
}
