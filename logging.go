package exfat

import (
	"log"
	"os"
)

// stdLogger is the default Logger, writing warnings unconditionally and
// debug messages only when EXFAT_DEBUG is set — the closest stdlib
// equivalent to "debug messages are compiled away by default" (§7).
type stdLogger struct {
	debug bool
}

// NewStdLogger returns the default Logger implementation.
func NewStdLogger() Logger {
	return &stdLogger{debug: os.Getenv("EXFAT_DEBUG") != ""}
}

func (l *stdLogger) Warnf(format string, args ...interface{}) {
	log.Printf("warning: "+format, args...)
}

func (l *stdLogger) Debugf(format string, args ...interface{}) {
	if l.debug {
		log.Printf("debug: "+format, args...)
	}
}
