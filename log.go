package main

import (
	"fmt"
	"log"
	"strings"
	"sync/atomic"
)

type LogLevel int32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[string]LogLevel{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

var currentLevel atomic.Int32

func init() { currentLevel.Store(int32(LevelInfo)) }

// SetLogLevel ignores unknown names.
func SetLogLevel(s string) {
	if l, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		currentLevel.Store(int32(l))
	}
}

func logf(l LogLevel, format string, args ...any) {
	if LogLevel(currentLevel.Load()) > l {
		return
	}
	prefix := "INFO"
	switch l {
	case LevelDebug:
		prefix = "DEBUG"
	case LevelWarn:
		prefix = "WARN"
	case LevelError:
		prefix = "ERROR"
	}
	if len(args) == 0 {
		log.Printf("%s %s", prefix, format)
		return
	}
	log.Printf("%s %s", prefix, fmt.Sprintf(format, args...))
}

func Debugf(format string, args ...any) { logf(LevelDebug, format, args...) }
func Infof(format string, args ...any)  { logf(LevelInfo, format, args...) }
func Warnf(format string, args ...any)  { logf(LevelWarn, format, args...) }
func Errorf(format string, args ...any) { logf(LevelError, format, args...) }
