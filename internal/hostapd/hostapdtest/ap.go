// Package hostapdtest runs a fake hostapd control interface on a unixgram
// socket. The fake answers the commands the hostapd client sends from a
// fixed status and a station table, and pushes station events to the
// attached client as the table changes.
package hostapdtest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"

	"github.com/awilliams/openwrt-presence/internal/presence"
)

const unknownCommand = "UNKNOWN COMMAND"

var errNotAttached = errors.New("hostapdtest: no client attached")

// Config describes the fake access point.
type Config struct {
	Status   Status
	Stations []Station

	// Unsupported lists commands answered with UNKNOWN COMMAND, as an
	// older hostapd would.
	Unsupported []string
	// Other answers any other command, with the AP locked. Without it
	// they are unknown.
	Other func(cmd string) string
}

// AP serves a fake hostapd control socket. At most one client is attached
// for events at a time.
type AP struct {
	Addr string

	conn *net.UnixConn
	buf  []byte

	mu       sync.Mutex
	cfg      Config
	stations []Station
	monitor  net.Addr
	attached chan struct{}
	detached chan struct{}
	closed   bool
}

// Listen creates the control socket at sockPath. Commands are only
// answered once Serve is running.
func Listen(sockPath string, cfg Config) (*AP, error) {
	laddr, err := net.ResolveUnixAddr("unixgram", sockPath)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUnixgram("unixgram", laddr)
	if err != nil {
		return nil, err
	}
	return &AP{
		Addr:     laddr.String(),
		conn:     conn,
		buf:      make([]byte, 128),
		cfg:      cfg,
		stations: slices.Clone(cfg.Stations),
		attached: make(chan struct{}),
		detached: make(chan struct{}),
	}, nil
}

// Close stops Serve.
func (a *AP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.conn.Close()
}

// Attached is closed when a client first attaches.
func (a *AP) Attached() <-chan struct{} { return a.attached }

// Detached is closed when a client first detaches.
func (a *AP) Detached() <-chan struct{} { return a.detached }

// Stations returns the current station table.
func (a *AP) Stations() []Station {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.stations)
}

// Connect adds mac to the station table, or refreshes its signal, and
// sends AP-STA-CONNECTED to the attached client.
func (a *AP) Connect(ctx context.Context, mac presence.MAC, signal int) error {
	a.mu.Lock()
	i := a.lookup(mac)
	if i < 0 {
		a.stations = append(a.stations, Station{MAC: mac})
		i = len(a.stations) - 1
	}
	a.stations[i].Associated = true
	a.stations[i].Signal = signal
	a.mu.Unlock()

	return a.Emit(ctx, "<3>AP-STA-CONNECTED "+mac.String())
}

// Disconnect removes mac from the station table and sends
// AP-STA-DISCONNECTED to the attached client.
func (a *AP) Disconnect(ctx context.Context, mac presence.MAC) error {
	a.mu.Lock()
	if i := a.lookup(mac); i >= 0 {
		a.stations = slices.Delete(a.stations, i, i+1)
	}
	a.mu.Unlock()

	return a.Emit(ctx, "<3>AP-STA-DISCONNECTED "+mac.String())
}

// Terminate tells the attached client that hostapd is shutting down.
func (a *AP) Terminate(ctx context.Context) error {
	return a.Emit(ctx, "<3>CTRL-EVENT-TERMINATING")
}

// Emit sends a raw event to the attached client, waiting for one to
// attach first.
func (a *AP) Emit(ctx context.Context, event string) error {
	select {
	case <-a.attached:
	case <-ctx.Done():
		return ctx.Err()
	}
	a.mu.Lock()
	monitor := a.monitor
	a.mu.Unlock()
	if monitor == nil {
		return errNotAttached
	}
	return a.WriteTo(event, monitor)
}

// WriteTo sends msg to addr.
func (a *AP) WriteTo(msg string, addr net.Addr) error {
	if _, err := a.conn.WriteTo([]byte(msg), addr); err != nil {
		return fmt.Errorf("write %q: %w", msg, err)
	}
	return nil
}

// ReadFrom reads one datagram. Not for use while Serve is running.
func (a *AP) ReadFrom() (string, net.Addr, error) {
	n, raddr, err := a.conn.ReadFrom(a.buf)
	if err != nil {
		return "", nil, err
	}
	return string(a.buf[:n]), raddr, nil
}

// Serve answers commands until the AP is closed or the attached client
// detaches.
func (a *AP) Serve() error {
	for {
		cmd, raddr, err := a.ReadFrom()
		if err != nil {
			a.mu.Lock()
			closed := a.closed
			a.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}

		switch cmd {
		case "ATTACH":
			// OK must reach the client before any event.
			if err := a.WriteTo("OK", raddr); err != nil {
				return err
			}
			a.mu.Lock()
			a.monitor = raddr
			closeOnce(a.attached)
			a.mu.Unlock()

		case "DETACH":
			// The client may already be gone.
			_ = a.WriteTo("OK", raddr)
			a.mu.Lock()
			a.monitor = nil
			closeOnce(a.detached)
			a.mu.Unlock()
			return nil

		default:
			if err := a.WriteTo(a.reply(cmd), raddr); err != nil {
				return err
			}
		}
	}
}

func (a *AP) reply(cmd string) string {
	name, arg, _ := strings.Cut(cmd, " ")

	a.mu.Lock()
	defer a.mu.Unlock()
	if slices.Contains(a.cfg.Unsupported, name) {
		return unknownCommand
	}

	switch name {
	case "PING":
		return "PONG"
	case "STATUS":
		return a.cfg.Status.encode()
	case "STA-FIRST":
		if len(a.stations) == 0 {
			return ""
		}
		return a.stations[0].encode()
	case "STA-NEXT":
		mac, err := presence.ParseMAC(arg)
		if err != nil {
			return ""
		}
		if i := a.lookup(mac); i >= 0 && i+1 < len(a.stations) {
			return a.stations[i+1].encode()
		}
		return ""
	}

	if a.cfg.Other != nil {
		return a.cfg.Other(cmd)
	}
	return unknownCommand
}

func (a *AP) lookup(mac presence.MAC) int {
	return slices.IndexFunc(a.stations, func(s Station) bool { return s.MAC == mac })
}

func closeOnce(c chan struct{}) {
	select {
	case <-c:
	default:
		close(c)
	}
}
