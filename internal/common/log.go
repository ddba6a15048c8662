// File path: internal/common/log.go
package common

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

const logHistorySize = 1000

var (
	logger     *slog.Logger
	loggerOnce sync.Once
	history    = &logRing{cap: logHistorySize}
)

var levelNames = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// LogEntry is a captured record emitted via the shared logger. The service
// exposes recent entries over the API for lightweight diagnostics.
type LogEntry struct {
	Time       time.Time              `json:"time"`
	Level      string                 `json:"level"`
	Message    string                 `json:"message"`
	Component  string                 `json:"component,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Logger returns the singleton slog logger. Level comes from LOG_LEVEL.
func Logger() *slog.Logger {
	loggerOnce.Do(func() {
		level, ok := levelNames[strings.ToLower(os.Getenv("LOG_LEVEL"))]
		if !ok {
			level = slog.LevelInfo
		}
		text := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
		logger = slog.New(&captureHandler{next: text, ring: history})
	})
	return logger
}

// RecentEntries returns a copy of the captured log history, oldest first.
func RecentEntries() []LogEntry {
	return history.snapshot()
}

// captureHandler tees every record into the in-memory ring after the wrapped
// handler has written it.
type captureHandler struct {
	next slog.Handler
	ring *logRing
}

func (h *captureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *captureHandler) Handle(ctx context.Context, record slog.Record) error {
	err := h.next.Handle(ctx, record)
	h.ring.add(toEntry(record))
	return err
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureHandler{next: h.next.WithAttrs(attrs), ring: h.ring}
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	return &captureHandler{next: h.next.WithGroup(name), ring: h.ring}
}

// logRing is a fixed-capacity ring buffer of log entries.
type logRing struct {
	mu    sync.RWMutex
	cap   int
	buf   []LogEntry
	next  int
	total int
}

func (r *logRing) add(entry LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buf == nil {
		r.buf = make([]LogEntry, r.cap)
	}
	r.buf[r.next] = entry
	r.next = (r.next + 1) % r.cap
	r.total++
}

func (r *logRing) snapshot() []LogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.total == 0 {
		return nil
	}
	n := r.total
	start := 0
	if n > r.cap {
		n = r.cap
		start = r.next
	}
	out := make([]LogEntry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(start+i)%r.cap])
	}
	return out
}

func toEntry(record slog.Record) LogEntry {
	rec := record.Clone()
	entry := LogEntry{
		Time:    rec.Time.UTC(),
		Level:   strings.ToLower(rec.Level.String()),
		Message: rec.Message,
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}

	rec.Attrs(func(a slog.Attr) bool {
		value := attrValue(a.Value)
		if a.Key == "component" {
			if str, ok := value.(string); ok {
				entry.Component = str
			}
			return true
		}
		if entry.Attributes == nil {
			entry.Attributes = make(map[string]interface{})
		}
		entry.Attributes[a.Key] = value
		return true
	})

	// Log messages follow the "component: message" convention.
	if entry.Component == "" {
		if idx := strings.Index(entry.Message, ":"); idx > 0 {
			entry.Component = strings.TrimSpace(entry.Message[:idx])
		}
	}
	return entry
}

func attrValue(v slog.Value) interface{} {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindBool:
		return v.Bool()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC()
	case slog.KindAny:
		return v.Any()
	default:
		return v.String()
	}
}
