package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/awilliams/openwrt-presence/internal/hostapd"
	"github.com/awilliams/openwrt-presence/internal/presence"
)

// LogsQLQuery selects hostapd station events.
const LogsQLQuery = `_msg:~"AP-STA-(CONNECTED|DISCONNECTED)" AND tags.appname:"hostapd"`

// maxLineSize bounds a single JSONL record.
const maxLineSize = 1 << 20

// VictoriaLogs reads hostapd events that the APs ship to VictoriaLogs over
// syslog. It can backfill recent history and tail live events.
type VictoriaLogs struct {
	url        string
	client     *http.Client // Backfill.
	tailClient *http.Client // Streaming, no overall timeout.
	logger     *slog.Logger
	retryDelay time.Duration
}

// NewVictoriaLogs returns a source reading from the VictoriaLogs instance
// at baseURL, e.g. "http://victorialogs:9428".
func NewVictoriaLogs(baseURL string, logger *slog.Logger) *VictoriaLogs {
	return &VictoriaLogs{
		url:        strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: time.Minute},
		tailClient: &http.Client{},
		logger:     logger,
		retryDelay: 5 * time.Second,
	}
}

// Backfill returns the station events logged since the given time, oldest
// first. Malformed records are skipped.
func (v *VictoriaLogs) Backfill(ctx context.Context, since time.Time) ([]presence.Event, error) {
	q := url.Values{}
	q.Set("query", LogsQLQuery)
	q.Set("start", since.UTC().Format(time.RFC3339))

	body, err := fetch(ctx, v.client, v.url+"/select/logsql/query?"+q.Encode(), true)
	if err != nil {
		return nil, fmt.Errorf("victorialogs backfill: %w", err)
	}
	defer body.Close()

	var events []presence.Event
	err = scanLines(body, func(line []byte) error {
		if ev, ok := parseLogLine(line); ok {
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("victorialogs backfill: %w", err)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

// Events tails live events and passes each one to emit. Connection
// failures are logged and the tail is reopened after a delay. Events
// returns when ctx is done or emit fails.
func (v *VictoriaLogs) Events(ctx context.Context, emit func(presence.Event) error) error {
	q := url.Values{}
	q.Set("query", LogsQLQuery)
	u := v.url + "/select/logsql/tail?" + q.Encode()

	for {
		err := v.tail(ctx, u, emit)
		if ctx.Err() != nil {
			return nil
		}
		var emitErr *emitError
		if errors.As(err, &emitErr) {
			return emitErr.err
		}
		if err == nil {
			err = io.EOF
		}
		v.logger.Warn("VictoriaLogs tail interrupted; reconnecting",
			"error", err,
			"delay", v.retryDelay,
		)
		if sleep(ctx, v.retryDelay) != nil {
			return nil
		}
	}
}

type emitError struct{ err error }

func (e *emitError) Error() string { return e.err.Error() }
func (e *emitError) Unwrap() error { return e.err }

func (v *VictoriaLogs) tail(ctx context.Context, u string, emit func(presence.Event) error) error {
	body, err := fetch(ctx, v.tailClient, u, false)
	if err != nil {
		return err
	}
	defer body.Close()

	v.logger.Info("Tailing VictoriaLogs", "url", v.url)
	return scanLines(body, func(line []byte) error {
		ev, ok := parseLogLine(line)
		if !ok {
			return nil
		}
		if err := emit(ev); err != nil {
			return &emitError{err: err}
		}
		return nil
	})
}

func scanLines(r io.Reader, fn func([]byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return sc.Err()
}

// logRecord is the subset of a VictoriaLogs JSONL record that is used.
type logRecord struct {
	Msg      string `json:"_msg"`
	Time     string `json:"_time"`
	Hostname string `json:"tags.hostname"`
}

// parseLogLine converts one JSONL record into an event. The node is the
// syslog hostname of the AP.
func parseLogLine(line []byte) (presence.Event, bool) {
	var rec logRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return presence.Event{}, false
	}
	if rec.Msg == "" || rec.Time == "" || rec.Hostname == "" {
		return presence.Event{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, rec.Time)
	if err != nil {
		return presence.Event{}, false
	}
	ev, err := hostapd.ParseEvent(rec.Msg)
	if err != nil {
		return presence.Event{}, false
	}
	return hostapd.StationEvent(ev, rec.Hostname, ts)
}
