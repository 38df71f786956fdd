// Package logging provides the levelled console/file logger used by the
// CLI. A *Logger is also a materialize.Sink.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/agentic-research/structra/api"
)

const timeFormat = "2006-01-02 15:04:05"

type Rotation struct {
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

var DefaultRotation = Rotation{MaxSize: 128, MaxBackups: 5, MaxAge: 16}

type Options struct {
	Name  string
	Level Level
	// Console receives human-readable lines. Nil means os.Stdout; use
	// io.Discard to disable console output.
	Console io.Writer
	// File, when set, receives every line through a rotating writer.
	File     string
	Rotation Rotation
	JSON     bool
	NoColor  bool
}

type output struct {
	mu      sync.Mutex
	console io.Writer
	color   bool
	file    io.WriteCloser
}

// Logger writes levelled lines to the console and an optional rotating
// file. A nil *Logger discards everything.
type Logger struct {
	out   *output
	name  string
	level Level
	json  bool
}

type logEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Service   string `json:"service,omitempty"`
	Message   string `json:"message"`
}

func New(opts Options) *Logger {
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	out := &output{console: console}
	if f, ok := console.(*os.File); ok && !opts.NoColor && !opts.JSON {
		out.color = isatty.IsTerminal(f.Fd())
	}

	if opts.File != "" {
		rot := opts.Rotation
		if rot == (Rotation{}) {
			rot = DefaultRotation
		}
		out.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    rot.MaxSize,
			MaxBackups: rot.MaxBackups,
			MaxAge:     rot.MaxAge,
			Compress:   rot.Compress,
		}
	}

	return &Logger{out: out, name: opts.Name, level: opts.Level, json: opts.JSON}
}

// TimestampedFile returns the log file name used by --logging:
// <dir>/<prefix>_YYYYMMDD_HHMMSS.txt.
func TimestampedFile(dir, prefix string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.txt", prefix, now.Format("20060102_150405")))
}

// Named returns a child logger sharing the same writers.
func (l *Logger) Named(name string) *Logger {
	if l == nil {
		return nil
	}
	child := *l
	if l.name != "" {
		child.name = l.name + "/" + name
	} else {
		child.name = name
	}
	return &child
}

func (l *Logger) Debug(msg string, args ...any) { l.log(Debug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(Info, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(Warn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(Error, msg, args...) }

// Record logs one materialization outcome: creations at info, existing
// paths at debug, failures at error.
func (l *Logger) Record(o api.Outcome) {
	switch o.Status {
	case api.Created:
		l.Info("created %s: %s", o.Kind, o.Path)
	case api.Existed:
		l.Debug("exists %s: %s", o.Kind, o.Path)
	case api.Failed:
		l.Error("failed %s: %s: %v", o.Kind, o.Path, o.Err)
	}
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.out.file == nil {
		return nil
	}
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	return l.out.file.Close()
}

func (l *Logger) log(level Level, msg string, args ...any) {
	if l == nil || level < l.level {
		return
	}

	ts := time.Now().Format(timeFormat)
	text := fmt.Sprintf(msg, args...)

	var line string
	if l.json {
		b, _ := json.Marshal(logEntry{Timestamp: ts, Level: level.String(), Service: l.name, Message: text})
		line = string(b)
	} else {
		prefix := fmt.Sprintf("[%s] %-5s", ts, level)
		if l.name != "" {
			prefix = fmt.Sprintf("%s [%s]", prefix, l.name)
		}
		line = prefix + " " + text
	}

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	if l.out.color {
		fmt.Fprintf(l.out.console, "%s%s\033[0m\n", color(level), line)
	} else {
		fmt.Fprintln(l.out.console, line)
	}
	if l.out.file != nil {
		fmt.Fprintln(l.out.file, line)
	}
}
