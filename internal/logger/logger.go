// Package logger implements a small leveled logger with callback hooks,
// in the style this codebase has always used for its own diagnostics.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

type Level int

const (
	LevelDebug Level = iota
	LevelVerbose
	LevelInfo
	LevelOK
	LevelWarn
	LevelFatal
	numLevels
)

// Handler is called with the level and the trimmed message text.
type Handler func(level Level, msg string)

type Logger struct {
	logger   *log.Logger
	handlers [numLevels][]Handler
	mut      sync.Mutex
}

// Default logs to standard output with a time prefix.
var Default = New()

func New() *Logger {
	if os.Getenv("DIRSYNC_LOGGER_DISCARD") != "" {
		return &Logger{logger: log.New(io.Discard, "", 0)}
	}
	return &Logger{logger: log.New(os.Stdout, "", log.Ltime)}
}

// AddHandler registers h to receive every message logged at level.
func (l *Logger) AddHandler(level Level, h Handler) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.handlers[level] = append(l.handlers[level], h)
}

func (l *Logger) SetFlags(flag int)      { l.logger.SetFlags(flag) }
func (l *Logger) SetPrefix(prefix string) { l.logger.SetPrefix(prefix) }

func (l *Logger) callHandlers(level Level, s string) {
	for _, h := range l.handlers[level] {
		h(level, strings.TrimSpace(s))
	}
}

func (l *Logger) log(level Level, tag, s string) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.logger.Output(3, tag+": "+s)
	l.callHandlers(level, s)
}

func (l *Logger) Debugln(v ...interface{})            { l.log(LevelDebug, "DEBUG", fmt.Sprintln(v...)) }
func (l *Logger) Debugf(f string, v ...interface{})   { l.log(LevelDebug, "DEBUG", fmt.Sprintf(f, v...)) }
func (l *Logger) Verboseln(v ...interface{})          { l.log(LevelVerbose, "VERBOSE", fmt.Sprintln(v...)) }
func (l *Logger) Verbosef(f string, v ...interface{}) { l.log(LevelVerbose, "VERBOSE", fmt.Sprintf(f, v...)) }
func (l *Logger) Infoln(v ...interface{})             { l.log(LevelInfo, "INFO", fmt.Sprintln(v...)) }
func (l *Logger) Infof(f string, v ...interface{})    { l.log(LevelInfo, "INFO", fmt.Sprintf(f, v...)) }
func (l *Logger) Okln(v ...interface{})               { l.log(LevelOK, "OK", fmt.Sprintln(v...)) }
func (l *Logger) Okf(f string, v ...interface{})      { l.log(LevelOK, "OK", fmt.Sprintf(f, v...)) }
func (l *Logger) Warnln(v ...interface{})             { l.log(LevelWarn, "WARNING", fmt.Sprintln(v...)) }
func (l *Logger) Warnf(f string, v ...interface{})    { l.log(LevelWarn, "WARNING", fmt.Sprintf(f, v...)) }

func (l *Logger) Fatalln(v ...interface{}) {
	l.log(LevelFatal, "FATAL", fmt.Sprintln(v...))
	os.Exit(1)
}

func (l *Logger) Fatalf(f string, v ...interface{}) {
	l.log(LevelFatal, "FATAL", fmt.Sprintf(f, v...))
	os.Exit(1)
}
