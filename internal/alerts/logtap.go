package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// LogTap is a slog.Handler that keeps a short history of records so log
// rules can count matches inside their window. It is installed in the
// logging fanout and never writes anywhere itself.
type LogTap struct {
	state *tapState
	attrs []slog.Attr
	group string
}

type tapRecord struct {
	at    time.Time
	level slog.Level
	msg   string
	attrs map[string]string
}

type tapState struct {
	mu        sync.Mutex
	records   []tapRecord
	retention time.Duration
	limit     int
	minLevel  slog.Level
	now       func() time.Time
}

// NewLogTap creates a tap that keeps records at or above minLevel for
// retention, holding at most limit records.
func NewLogTap(minLevel slog.Level, retention time.Duration, limit int) *LogTap {
	if retention <= 0 {
		retention = time.Hour
	}
	if limit <= 0 {
		limit = 10000
	}
	return &LogTap{state: &tapState{
		retention: retention,
		limit:     limit,
		minLevel:  minLevel,
		now:       time.Now,
	}}
}

func (t *LogTap) Enabled(_ context.Context, level slog.Level) bool {
	return level >= t.state.minLevel
}

func (t *LogTap) Handle(_ context.Context, r slog.Record) error {
	rec := tapRecord{
		at:    r.Time,
		level: r.Level,
		msg:   r.Message,
		attrs: make(map[string]string, len(t.attrs)+r.NumAttrs()),
	}
	if rec.at.IsZero() {
		rec.at = t.state.now()
	}
	for _, a := range t.attrs {
		rec.attrs[a.Key] = a.Value.String()
	}
	r.Attrs(func(a slog.Attr) bool {
		key := a.Key
		if t.group != "" {
			key = t.group + "." + key
		}
		rec.attrs[key] = a.Value.String()
		return true
	})

	s := t.state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	s.pruneLocked()
	return nil
}

func (t *LogTap) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefixed := make([]slog.Attr, 0, len(t.attrs)+len(attrs))
	prefixed = append(prefixed, t.attrs...)
	for _, a := range attrs {
		if t.group != "" {
			a.Key = t.group + "." + a.Key
		}
		prefixed = append(prefixed, a)
	}
	return &LogTap{state: t.state, attrs: prefixed, group: t.group}
}

func (t *LogTap) WithGroup(name string) slog.Handler {
	if name == "" {
		return t
	}
	group := name
	if t.group != "" {
		group = t.group + "." + name
	}
	return &LogTap{state: t.state, attrs: t.attrs, group: group}
}

func (s *tapState) pruneLocked() {
	cutoff := s.now().Add(-s.retention)
	drop := 0
	for drop < len(s.records) && s.records[drop].at.Before(cutoff) {
		drop++
	}
	if over := len(s.records) - drop - s.limit; over > 0 {
		drop += over
	}
	if drop > 0 {
		s.records = append(s.records[:0], s.records[drop:]...)
	}
}

// Count returns the number of retained records inside the trailing window
// that satisfy the matcher.
func (t *LogTap) Count(m LogMatcher, window time.Duration) int {
	s := t.state
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-window)
	var n int
	for _, r := range s.records {
		if !r.at.Before(cutoff) && m.match(r) {
			n++
		}
	}
	return n
}

// LogMatcher selects log records. It is parsed from a rule target of
// space-separated terms:
//
//	level=error            records at or above the level
//	msg=timeout            message contains the text
//	component=worker-pool  attribute equals the value
type LogMatcher struct {
	Level    *slog.Level
	Contains string
	Attrs    map[string]string
}

// ParseLogMatcher parses a log rule target.
func ParseLogMatcher(target string) (LogMatcher, error) {
	m := LogMatcher{Attrs: make(map[string]string)}
	for _, term := range strings.Fields(target) {
		key, value, ok := strings.Cut(term, "=")
		if !ok || key == "" || value == "" {
			return LogMatcher{}, fmt.Errorf("invalid log matcher term %q", term)
		}
		switch key {
		case "level":
			var lvl slog.Level
			if err := lvl.UnmarshalText([]byte(value)); err != nil {
				return LogMatcher{}, fmt.Errorf("invalid level %q; %w", value, err)
			}
			m.Level = &lvl
		case "msg":
			m.Contains = value
		default:
			m.Attrs[key] = value
		}
	}
	if m.Level == nil && m.Contains == "" && len(m.Attrs) == 0 {
		return LogMatcher{}, fmt.Errorf("log matcher %q has no terms", target)
	}
	return m, nil
}

func (m LogMatcher) match(r tapRecord) bool {
	if m.Level != nil && r.level < *m.Level {
		return false
	}
	if m.Contains != "" && !strings.Contains(r.msg, m.Contains) {
		return false
	}
	for k, v := range m.Attrs {
		if r.attrs[k] != v {
			return false
		}
	}
	return true
}
