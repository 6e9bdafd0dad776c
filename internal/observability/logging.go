package observability

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultRecentLines is how many formatted lines RecentHook keeps.
const DefaultRecentLines = 100

// LineFormatter renders "[HH:mm:ss] message key=value ..." with fields in
// key order. Warnings and errors carry their level after the time.
type LineFormatter struct {
	// TimeLayout defaults to 15:04:05.
	TimeLayout string
}

func (f *LineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	layout := f.TimeLayout
	if layout == "" {
		layout = time.TimeOnly
	}

	var b bytes.Buffer
	b.WriteString("[")
	b.WriteString(e.Time.Format(layout))
	b.WriteString("] ")
	if e.Level <= logrus.WarnLevel {
		b.WriteString(strings.ToUpper(e.Level.String()))
		b.WriteString(" ")
	}
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(formatValue(e.Data[k]))
	}
	b.WriteString("\n")
	return b.Bytes(), nil
}

func formatValue(v any) string {
	var s string
	switch val := v.(type) {
	case error:
		s = val.Error()
	case string:
		s = val
	default:
		s = fmt.Sprint(val)
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// RecentLine is one buffered log line.
type RecentLine struct {
	Time  time.Time `json:"time"`
	Level string    `json:"level"`
	Site  string    `json:"site,omitempty"`
	Text  string    `json:"text"`
}

// RecentHook keeps the newest formatted lines in a ring for the status API.
type RecentHook struct {
	mu        sync.Mutex
	formatter logrus.Formatter
	lines     []RecentLine
	next      int
	full      bool
}

// NewRecentHook keeps up to capacity lines; non-positive means DefaultRecentLines.
func NewRecentHook(capacity int) *RecentHook {
	if capacity <= 0 {
		capacity = DefaultRecentLines
	}
	return &RecentHook{
		formatter: &LineFormatter{},
		lines:     make([]RecentLine, capacity),
	}
}

func (h *RecentHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *RecentHook) Fire(e *logrus.Entry) error {
	text, err := h.formatter.Format(e)
	if err != nil {
		return err
	}
	site, _ := e.Data["site"].(string)
	line := RecentLine{
		Time:  e.Time,
		Level: e.Level.String(),
		Site:  site,
		Text:  strings.TrimSuffix(string(text), "\n"),
	}

	h.mu.Lock()
	h.lines[h.next] = line
	h.next = (h.next + 1) % len(h.lines)
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()
	return nil
}

// Lines returns buffered lines newest first. A non-empty site keeps only
// lines logged with that site field.
func (h *RecentHook) Lines(site string) []RecentLine {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.next
	if h.full {
		n = len(h.lines)
	}
	out := make([]RecentLine, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.next - 1 - i + len(h.lines)) % len(h.lines)
		l := h.lines[idx]
		if site != "" && l.Site != site {
			continue
		}
		out = append(out, l)
	}
	return out
}

// LogConfig configures NewLogger.
type LogConfig struct {
	Debug bool
	// File, when set, receives a copy of every line. Parent dirs are created.
	File string
	// Out defaults to stdout.
	Out         io.Writer
	RecentLines int
}

// Logging bundles the configured logger with its recent-line buffer.
type Logging struct {
	Logger *logrus.Logger
	Recent *RecentHook
	file   *os.File
}

// Close releases the log file, if any.
func (l *Logging) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// NewLogger builds the process logger.
func NewLogger(cfg LogConfig) (*Logging, error) {
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	var file *os.File
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
		out = io.MultiWriter(out, f)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&LineFormatter{})
	logger.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	recent := NewRecentHook(cfg.RecentLines)
	logger.AddHook(recent)

	return &Logging{Logger: logger, Recent: recent, file: file}, nil
}
