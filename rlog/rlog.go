// Package rlog wires the process-wide structured logger shared by every
// rcom subsystem.
package rlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// L is the process-wide logger. It is safe for concurrent use.
var L zerolog.Logger

func init() {
	L = log.Logger
}

// Init configures the global logger. level is any zerolog level name
// ("debug", "info", "warn", "error"); pretty selects a human-readable
// console writer instead of JSON lines.
func Init(level string, pretty bool, w io.Writer) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if w == nil {
		w = os.Stderr
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	L = zerolog.New(w).With().Timestamp().Str("app", "rcom").Logger()
	log.Logger = L
}

// Link returns a logger scoped to messagelink events.
func Link() zerolog.Logger { return L.With().Str("component", "messagelink").Logger() }

// Hub returns a logger scoped to messagehub events.
func Hub() zerolog.Logger { return L.With().Str("component", "messagehub").Logger() }

// Registry returns a logger scoped to registry events.
func Registry() zerolog.Logger { return L.With().Str("component", "registry").Logger() }

// Proxy returns a logger scoped to proxy events.
func Proxy() zerolog.Logger { return L.With().Str("component", "proxy").Logger() }

// Service returns a logger scoped to service-server events.
func Service() zerolog.Logger { return L.With().Str("component", "service").Logger() }
