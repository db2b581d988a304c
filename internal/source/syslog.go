package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"time"

	"github.com/awilliams/openwrt-presence/internal/hostapd"
	"github.com/awilliams/openwrt-presence/internal/presence"
)

// rfc3164 matches the BSD syslog lines OpenWrt sends:
//
//	<PRI>Mmm dd HH:MM:SS hostname program[PID]: message
//
// The day may be space padded ("Feb  3") and the PID is optional.
var rfc3164 = regexp.MustCompile(`^<\d+>\w{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2}\s+(\S+)\s+(\w+)(?:\[\d+\])?:\s+(.+)$`)

// ParseRFC3164 splits a syslog line into hostname, program and message.
func ParseRFC3164(line string) (hostname, program, msg string, ok bool) {
	m := rfc3164.FindStringSubmatch(line)
	if m == nil {
		return "", "", "", false
	}
	return m[1], m[2], m[3], true
}

// maxDatagram is larger than any syslog line hostapd produces.
const maxDatagram = 8192

// Syslog receives hostapd messages that the APs send directly over UDP
// syslog. The node of each event is the syslog hostname.
type Syslog struct {
	conn   net.PacketConn
	logger *slog.Logger
	now    func() time.Time
}

// NewSyslog binds the UDP address addr, e.g. "0.0.0.0:5514".
func NewSyslog(addr string, logger *slog.Logger) (*Syslog, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("syslog listen %s: %w", addr, err)
	}
	return &Syslog{conn: conn, logger: logger, now: time.Now}, nil
}

// LocalAddr returns the bound address.
func (s *Syslog) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Close releases the socket. A running Events returns.
func (s *Syslog) Close() error {
	return s.conn.Close()
}

// Events reads datagrams until ctx is done or emit fails. Events are
// timestamped on receipt; the syslog timestamp has no year or zone.
func (s *Syslog) Events(ctx context.Context, emit func(presence.Event) error) error {
	stop := context.AfterFunc(ctx, func() {
		// Unblock ReadFrom.
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	s.logger.Info("Listening for syslog", "addr", s.conn.LocalAddr().String())

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("syslog read: %w", err)
		}

		ev, ok := s.parse(string(buf[:n]))
		if !ok {
			continue
		}
		if err := emit(ev); err != nil {
			return err
		}
	}
}

func (s *Syslog) parse(line string) (presence.Event, bool) {
	hostname, program, msg, ok := ParseRFC3164(line)
	if !ok || program != "hostapd" {
		return presence.Event{}, false
	}
	ev, err := hostapd.ParseEvent(msg)
	if err != nil {
		s.logger.Debug("Ignoring malformed hostapd message", "node", hostname, "error", err)
		return presence.Event{}, false
	}
	return hostapd.StationEvent(ev, hostname, s.now())
}
