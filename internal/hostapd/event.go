package hostapd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/awilliams/openwrt-presence/internal/presence"
)

// Event names sent by hostapd, both on the control interface and in its
// syslog output. See https://w1.fi/wpa_supplicant/devel/ctrl_iface_page.html.
const (
	eventAPStaConnected    = "AP-STA-CONNECTED"
	eventAPStaDisconnected = "AP-STA-DISCONNECTED"
	eventWPATerminating    = "CTRL-EVENT-TERMINATING"
)

// ErrEmptyEvent is returned by ParseEvent for a blank message.
var ErrEmptyEvent = errors.New("empty event message")

// Event is an unsolicited hostapd message.
type Event interface {
	// Raw returns the message the event was parsed from.
	Raw() string
}

// ParseEvent parses a hostapd event message. It understands both the
// control interface form ("<3>AP-STA-CONNECTED 04:ab:00:12:34:56") and
// the syslog form, which is prefixed by the interface name
// ("phy1-ap0: AP-STA-CONNECTED 04:ab:00:12:34:56 auth_alg=sae").
// Fields after the MAC address are ignored.
//
// Messages that are not station events are returned as
// EventUnrecognized; an error is only returned for station events that
// do not carry a valid MAC address.
func ParseEvent(msg string) (Event, error) {
	if strings.TrimSpace(msg) == "" {
		return nil, ErrEmptyEvent
	}
	raw := msg

	// Control interface messages carry a priority level such as "<3>".
	if msg[0] == '<' {
		if i := strings.IndexByte(msg, '>'); i > 0 {
			msg = msg[i+1:]
		}
	}

	fields := strings.Fields(msg)
	var iface string
	if len(fields) > 1 && strings.HasSuffix(fields[0], ":") {
		iface = strings.TrimSuffix(fields[0], ":")
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return EventUnrecognized(raw), nil
	}

	switch name := fields[0]; name {
	case eventAPStaConnected, eventAPStaDisconnected:
		if len(fields) < 2 {
			return nil, fmt.Errorf("%s: missing MAC address", name)
		}
		mac, err := presence.ParseMAC(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if name == eventAPStaConnected {
			return EventStationConnect{raw: raw, Iface: iface, MAC: mac}, nil
		}
		return EventStationDisconnect{raw: raw, Iface: iface, MAC: mac}, nil

	case eventWPATerminating:
		return EventTerminating(raw), nil

	default:
		return EventUnrecognized(raw), nil
	}
}

// EventStationConnect is sent when a station (WiFi client) associates
// with the AP.
type EventStationConnect struct {
	raw   string
	Iface string // Only set when the message names the interface.
	MAC   presence.MAC
}

func (e EventStationConnect) Raw() string {
	return e.raw
}

// EventStationDisconnect is sent when a station leaves the AP.
type EventStationDisconnect struct {
	raw   string
	Iface string
	MAC   presence.MAC
}

func (e EventStationDisconnect) Raw() string {
	return e.raw
}

// EventTerminating is received when hostapd is exiting, for example
// because the wireless configuration changed and it is restarting.
type EventTerminating string

func (e EventTerminating) Raw() string {
	return string(e)
}

// EventUnrecognized holds any other message.
type EventUnrecognized string

func (e EventUnrecognized) Raw() string {
	return string(e)
}

// StationEvent converts a station connect or disconnect into a
// presence.Event observed on node at the given time. ok is false for
// every other kind of event.
func StationEvent(ev Event, node string, ts time.Time) (presence.Event, bool) {
	switch e := ev.(type) {
	case EventStationConnect:
		return presence.Event{Kind: presence.Connect, MAC: e.MAC, Node: node, Timestamp: ts}, true
	case EventStationDisconnect:
		return presence.Event{Kind: presence.Disconnect, MAC: e.MAC, Node: node, Timestamp: ts}, true
	default:
		return presence.Event{}, false
	}
}
