package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Entry is one JSON log line. Attributes that identify a call or a report
// batch are lifted to the top level so collectors can index them.
type Entry struct {
	Time      string         `json:"time"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Method    string         `json:"method,omitempty"`
	Kind      string         `json:"kind,omitempty"`
	Message   string         `json:"msg"`
	Fields    map[string]any `json:"fields,omitempty"`
	Caller    string         `json:"caller,omitempty"`
}

var promoted = map[string]func(*Entry, string){
	"component":  func(e *Entry, v string) { e.Component = v },
	"request_id": func(e *Entry, v string) { e.RequestID = v },
	"method":     func(e *Entry, v string) { e.Method = v },
	"kind":       func(e *Entry, v string) { e.Kind = v },
}

type jsonHandler struct {
	level     slog.Level
	addSource bool
	writer    io.Writer
	mu        *sync.Mutex

	attrs  []slog.Attr
	groups []string
}

func newJSONHandler(writer io.Writer, level slog.Level, addSource bool) *jsonHandler {
	return &jsonHandler{
		level:     level,
		addSource: addSource,
		writer:    writer,
		mu:        &sync.Mutex{},
	}
}

func (h *jsonHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *jsonHandler) Handle(_ context.Context, record slog.Record) error {
	at := record.Time
	if at.IsZero() {
		at = time.Now()
	}

	entry := Entry{
		Time:    at.UTC().Format(time.RFC3339Nano),
		Level:   strings.ToLower(record.Level.String()),
		Message: record.Message,
	}

	fields := make(map[string]any)
	for _, attr := range h.attrs {
		h.apply(fields, &entry, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		h.apply(fields, &entry, attr)
		return true
	})
	if len(fields) > 0 {
		entry.Fields = fields
	}

	if h.addSource {
		entry.Caller = caller(record.PC)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.writer.Write(append(line, '\n'))
	return err
}

func (h *jsonHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *jsonHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(append([]string{}, h.groups...), name)
	return &next
}

func (h *jsonHandler) apply(fields map[string]any, entry *Entry, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	key := attr.Key
	if len(h.groups) > 0 {
		key = strings.Join(h.groups, ".") + "." + attr.Key
	}

	if set, ok := promoted[key]; ok {
		if text, ok := stringValue(attr.Value); ok {
			set(entry, text)
			return
		}
	}

	fields[key] = fieldValue(attr.Value)
}

// stringValue accepts plain strings and named string types such as
// metrickit.PayloadKind.
func stringValue(value slog.Value) (string, bool) {
	if value.Kind() == slog.KindString {
		return value.String(), true
	}
	if value.Kind() != slog.KindAny {
		return "", false
	}

	rv := reflect.ValueOf(value.Any())
	if rv.Kind() != reflect.String {
		return "", false
	}
	return rv.String(), true
}

func fieldValue(value slog.Value) any {
	switch value.Kind() {
	case slog.KindDuration:
		return value.Duration().String()
	case slog.KindTime:
		return value.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindGroup:
		group := value.Group()
		result := make(map[string]any, len(group))
		for _, item := range group {
			result[item.Key] = fieldValue(item.Value.Resolve())
		}
		return result
	case slog.KindAny:
		switch typed := value.Any().(type) {
		case error:
			return typed.Error()
		case fmt.Stringer:
			return typed.String()
		default:
			return typed
		}
	default:
		return value.Any()
	}
}

func caller(pc uintptr) string {
	if pc == 0 {
		return ""
	}

	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	if frame.File == "" {
		return ""
	}

	return fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
}
