// Package logging builds the process logger and formats presence records.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/awilliams/openwrt-presence/internal/config"
	"github.com/awilliams/openwrt-presence/internal/presence"
)

// MsgStateChange is the message of every state change record. Log
// consumers such as presence-monitor key on it.
const MsgStateChange = "state_change"

// New returns a logger configured by cfg, writing to stdout or stderr.
// Every record carries the service name and version.
func New(cfg config.LoggingConfig, version string) *slog.Logger {
	var w io.Writer = os.Stderr
	if strings.ToLower(cfg.Output) == "stdout" {
		w = os.Stdout
	}
	return NewWriter(w, cfg, version)
}

// NewWriter is like New but writes to w.
func NewWriter(w io.Writer, cfg config.LoggingConfig, version string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var h slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	h = h.WithAttrs([]slog.Attr{
		slog.String("service", "openwrt-presence"),
		slog.String("version", version),
	})
	return slog.New(h)
}

// ParseLevel converts debug, info, warn or error to a slog.Level. Anything
// else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// StateChange logs c as a state_change record.
func StateChange(ctx context.Context, logger *slog.Logger, c presence.StateChange) {
	event := "away"
	if c.Home {
		event = "home"
	}

	var rssi any
	if c.Signal != nil {
		rssi = *c.Signal
	}

	logger.LogAttrs(ctx, slog.LevelInfo, MsgStateChange,
		slog.String("person", c.Person),
		slog.String("event", event),
		slog.String("room", c.Room),
		slog.String("mac", c.MAC.String()),
		slog.String("node", c.Node),
		slog.Any("rssi", rssi),
		slog.String("event_ts", c.Timestamp.UTC().Format(time.RFC3339)),
	)
}
