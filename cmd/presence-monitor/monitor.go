package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Record keys written by internal/logging.
const (
	keyMsg   = "msg"
	keyTime  = "time"
	keyLevel = "level"

	msgStateChange = "state_change"
)

// monitor formats log lines read from a stream.
type monitor struct {
	w   io.Writer
	loc *time.Location // nil for UTC.

	dim, bold, home, away, room, warn, fail lipgloss.Style
}

// newMonitor returns a monitor writing to w. Colors are used only when w
// is a terminal.
func newMonitor(w io.Writer) *monitor {
	r := lipgloss.NewRenderer(w)
	return &monitor{
		w:    w,
		loc:  time.Local,
		dim:  r.NewStyle().Faint(true),
		bold: r.NewStyle().Bold(true).Width(10),
		home: r.NewStyle().Foreground(lipgloss.Color("2")),
		away: r.NewStyle().Foreground(lipgloss.Color("1")),
		room: r.NewStyle().Foreground(lipgloss.Color("6")),
		warn: r.NewStyle().Foreground(lipgloss.Color("3")),
		fail: r.NewStyle().Foreground(lipgloss.Color("1")),
	}
}

// run formats every line of r until EOF.
func (m *monitor) run(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, err := fmt.Fprintln(m.w, m.format(line)); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// format renders one line. Lines that are not JSON objects are returned
// unchanged.
func (m *monitor) format(line string) string {
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return line
	}
	if str(rec, keyMsg) == msgStateChange {
		return m.stateChange(rec)
	}
	return m.log(rec)
}

func (m *monitor) stateChange(rec map[string]any) string {
	ts := str(rec, "event_ts")
	if ts == "" {
		ts = str(rec, keyTime)
	}

	bullet, event := m.away.Render("○"), m.away.Render("away")
	if str(rec, "event") == "home" {
		bullet, event = m.home.Render("●"), m.home.Render("home")
	}

	var b strings.Builder
	b.WriteString(m.dim.Render(m.clock(ts)))
	b.WriteString("  ")
	b.WriteString(bullet)
	b.WriteString(" ")
	b.WriteString(m.bold.Render(str(rec, "person")))
	b.WriteString(" ")
	b.WriteString(event)
	if room := str(rec, "room"); room != "" {
		b.WriteString("  ")
		b.WriteString(m.room.Render(room))
	}

	detail := str(rec, "node")
	if rssi, ok := rec["rssi"].(float64); ok {
		detail += fmt.Sprintf(" %ddBm", int(rssi))
	}
	if mac := str(rec, "mac"); mac != "" {
		detail += " / " + mac
	}
	b.WriteString("  ")
	b.WriteString(m.dim.Render("(" + detail + ")"))
	return b.String()
}

func (m *monitor) log(rec map[string]any) string {
	prefix := "  "
	switch strings.ToUpper(str(rec, keyLevel)) {
	case "WARN", "WARNING":
		prefix = m.warn.Render("⚠") + " "
	case "ERROR":
		prefix = m.fail.Render("✗") + " "
	}

	msg := str(rec, keyMsg)
	if e := str(rec, "error"); e != "" {
		msg += ": " + e
	}
	return m.dim.Render(m.clock(str(rec, keyTime))) + "  " + prefix + msg
}

// clock returns the HH:MM:SS of an RFC 3339 timestamp, or ts itself if it
// does not parse.
func (m *monitor) clock(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	if m.loc == nil {
		t = t.UTC()
	} else {
		t = t.In(m.loc)
	}
	return t.Format(time.TimeOnly)
}

func str(rec map[string]any, key string) string {
	switch v := rec[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
