package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	}
	return "INFO"
}

// fileSink is the optional JSON file output with rotation.
type fileSink struct {
	file        *os.File
	path        string
	rotate      bool
	maxBytes    int64
	maxAgeDays  int
	written     int64
	lastRotated time.Time
}

// LogEntry is the JSON shape written to the file sink.
type LogEntry struct {
	Level     string                 `json:"level"`
	Timestamp string                 `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

var (
	mu    sync.Mutex
	level = INFO
	sink  *fileSink
)

// SetLevel sets the minimum level emitted to any output.
func SetLevel(l LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// GetLevel returns the current minimum level.
func GetLevel() LogLevel {
	mu.Lock()
	defer mu.Unlock()
	return level
}

// ParseLevel maps a config string onto a level, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	}
	return INFO
}

// EnableFileLogging opens a JSON file sink without rotation.
func EnableFileLogging(path string) error {
	return EnableFileLoggingWithRotation(path, false, 0, 0)
}

// EnableFileLoggingWithRotation opens a JSON file sink. When rotate is
// set, the file rolls over past maxSizeMB or on day change, and
// rotated files older than maxAgeDays are removed.
func EnableFileLoggingWithRotation(path string, rotate bool, maxSizeMB, maxAgeDays int) error {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	var written int64
	if stat, err := file.Stat(); err == nil {
		written = stat.Size()
	}

	mu.Lock()
	defer mu.Unlock()
	if sink != nil && sink.file != nil {
		sink.file.Close()
	}
	sink = &fileSink{
		file:        file,
		path:        path,
		rotate:      rotate,
		maxBytes:    int64(maxSizeMB) * 1024 * 1024,
		maxAgeDays:  maxAgeDays,
		written:     written,
		lastRotated: time.Now(),
	}
	return nil
}

// DisableFileLogging closes the file sink if one is open.
func DisableFileLogging() {
	mu.Lock()
	defer mu.Unlock()
	if sink != nil && sink.file != nil {
		sink.file.Close()
	}
	sink = nil
}

func (s *fileSink) due(now time.Time) bool {
	if !s.rotate {
		return false
	}
	if s.maxBytes > 0 && s.written >= s.maxBytes {
		return true
	}
	if s.maxAgeDays > 0 {
		y1, d1 := now.Year(), now.YearDay()
		y2, d2 := s.lastRotated.Year(), s.lastRotated.YearDay()
		if y1 != y2 || d1 != d2 {
			return true
		}
	}
	return false
}

func (s *fileSink) roll(now time.Time) {
	s.file.Close()
	rotated := s.path + "." + now.Format("20060102-150405")
	if err := os.Rename(s.path, rotated); err != nil {
		log.Printf("log rotation failed: %v", err)
	}
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("reopen log file failed: %v", err)
		s.file = nil
		return
	}
	s.file = file
	s.written = 0
	s.lastRotated = now
	go s.prune()
}

// prune removes rotated siblings older than maxAgeDays.
func (s *fileSink) prune() {
	if s.maxAgeDays <= 0 {
		return
	}
	dir := filepath.Dir(s.path)
	base := filepath.Base(s.path) + "."
	cutoff := time.Now().AddDate(0, 0, -s.maxAgeDays)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), base) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
}

func emit(lvl LogLevel, component, message string, fields map[string]interface{}) {
	mu.Lock()
	if lvl < level {
		mu.Unlock()
		return
	}

	now := time.Now()
	entry := LogEntry{
		Level:     lvl.String(),
		Timestamp: now.UTC().Format(time.RFC3339),
		Component: component,
		Message:   message,
		Fields:    fields,
	}

	if sink != nil && sink.file != nil {
		if sink.due(now) {
			sink.roll(now)
		}
		if sink.file != nil {
			if data, err := json.Marshal(entry); err == nil {
				n, werr := sink.file.Write(append(data, '\n'))
				if werr == nil {
					sink.written += int64(n)
				}
			}
		}
	}
	mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s]", entry.Timestamp, entry.Level)
	if component != "" {
		fmt.Fprintf(&b, " %s:", component)
	}
	b.WriteByte(' ')
	b.WriteString(message)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
		}
		fmt.Fprintf(&b, " {%s}", strings.Join(parts, ", "))
	}
	log.Println(b.String())

	if lvl == FATAL {
		os.Exit(1)
	}
}

func Debug(message string) { emit(DEBUG, "", message, nil) }
func Info(message string)  { emit(INFO, "", message, nil) }
func Warn(message string)  { emit(WARN, "", message, nil) }
func Error(message string) { emit(ERROR, "", message, nil) }
func Fatal(message string) { emit(FATAL, "", message, nil) }

func DebugC(component, message string) { emit(DEBUG, component, message, nil) }
func InfoC(component, message string)  { emit(INFO, component, message, nil) }
func WarnC(component, message string)  { emit(WARN, component, message, nil) }
func ErrorC(component, message string) { emit(ERROR, component, message, nil) }
func FatalC(component, message string) { emit(FATAL, component, message, nil) }

func DebugF(message string, fields map[string]interface{}) { emit(DEBUG, "", message, fields) }
func InfoF(message string, fields map[string]interface{})  { emit(INFO, "", message, fields) }
func WarnF(message string, fields map[string]interface{})  { emit(WARN, "", message, fields) }
func ErrorF(message string, fields map[string]interface{}) { emit(ERROR, "", message, fields) }
func FatalF(message string, fields map[string]interface{}) { emit(FATAL, "", message, fields) }

func DebugCF(component, message string, fields map[string]interface{}) {
	emit(DEBUG, component, message, fields)
}

func InfoCF(component, message string, fields map[string]interface{}) {
	emit(INFO, component, message, fields)
}

func WarnCF(component, message string, fields map[string]interface{}) {
	emit(WARN, component, message, fields)
}

func ErrorCF(component, message string, fields map[string]interface{}) {
	emit(ERROR, component, message, fields)
}

func FatalCF(component, message string, fields map[string]interface{}) {
	emit(FATAL, component, message, fields)
}
