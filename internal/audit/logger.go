package audit

import (
	"compress/gzip"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
)

// Logger appends events to a gzip-compressed JSONL file, one JSON
// object per line. Safe for concurrent use. A nil *Logger discards
// events, so callers never need to guard the emit path.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	gz   *gzip.Writer
	path string
}

// NewLogger opens (or creates) the audit trail at path. Reopening an
// existing file appends a fresh gzip member, which decompressors read
// as one continuous stream.
func NewLogger(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &Logger{
		file: f,
		gz:   gzip.NewWriter(f),
		path: path,
	}, nil
}

// Path returns the trail location.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Log appends one event. Failures are logged and swallowed; the audit
// trail must never stall order monitoring.
func (l *Logger) Log(ev Event) {
	if l == nil {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("audit marshal failed", slog.Any("error", err))
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gz == nil {
		return
	}
	if _, err := l.gz.Write(data); err != nil {
		slog.Warn("audit write failed", slog.Any("error", err))
		return
	}
	// Flush each event so a crash loses at most the current line.
	if err := l.gz.Flush(); err != nil {
		slog.Warn("audit flush failed", slog.Any("error", err))
	}

	slog.Debug("audit", "event", ev.Event, "symbol", ev.Symbol, "order_id", ev.OrderID, "qty", ev.Qty)
}

// Close flushes and closes the trail.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.gz == nil {
		return nil
	}
	gzErr := l.gz.Close()
	l.gz = nil
	fErr := l.file.Close()
	if gzErr != nil {
		return gzErr
	}
	return fErr
}
