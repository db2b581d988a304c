package hostapd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/awilliams/openwrt-presence/internal/presence"
)

// Control interface commands and their fixed replies.
const (
	cmdPing         = "PING"
	cmdStatus       = "STATUS"
	cmdStationFirst = "STA-FIRST"
	cmdStationNext  = "STA-NEXT"
	cmdAttach       = "ATTACH"
	cmdDetach       = "DETACH"

	respPong       = "PONG"
	respOK         = "OK"
	respUnknownCmd = "UNKNOWN COMMAND"
)

// ErrTerminating is returned by Attach when hostapd announces that it is
// exiting.
var ErrTerminating = errors.New("hostapd is exiting")

// ErrUnknownCmd is returned when hostapd does not support a command, as
// happens with the STA-* commands on builds without full control
// interface support.
type ErrUnknownCmd string

func (e ErrUnknownCmd) Error() string {
	return fmt.Sprintf("sent command %q, received unknown command response", string(e))
}

// ctrl speaks the request/response protocol over a conn.
type ctrl struct {
	readTimeout  time.Duration
	writeTimeout time.Duration

	mu   sync.Mutex // Serializes requests; held for the whole of attach.
	conn *conn
	buf  []byte
}

// newCtrl wraps cn and checks that hostapd answers a PING.
func newCtrl(cn *conn, readTimeout, writeTimeout time.Duration) (*ctrl, error) {
	c := &ctrl{
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		conn:         cn,
		buf:          make([]byte, 4096),
	}
	if err := c.ping(); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return c, nil
}

// cmd sends a command and hands the reply to resp. resp must not retain
// its argument.
func (c *ctrl) cmd(cmd string, resp func(p []byte) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.writeTimeout(c.writeTimeout); err != nil {
		return err
	}
	if _, err := c.conn.Write([]byte(cmd)); err != nil {
		return fmt.Errorf("write %q: %w", cmd, err)
	}

	if err := c.conn.readTimeout(c.readTimeout); err != nil {
		return err
	}
	n, err := c.conn.Read(c.buf)
	if err != nil {
		return fmt.Errorf("read %q reply: %w", cmd, err)
	}
	if bytes.HasPrefix(c.buf[:n], []byte(respUnknownCmd)) {
		return ErrUnknownCmd(cmd)
	}
	return resp(c.buf[:n])
}

// expect sends cmd and checks for a fixed reply.
func (c *ctrl) expect(cmd, want string) error {
	return c.cmd(cmd, func(p []byte) error {
		if got := strings.TrimSpace(string(p)); got != want {
			return fmt.Errorf("unexpected reply to %s: %q", cmd, got)
		}
		return nil
	})
}

func (c *ctrl) ping() error {
	return c.expect(cmdPing, respPong)
}

func (c *ctrl) status() (Status, error) {
	var s Status
	err := c.cmd(cmdStatus, s.parse)
	return s, err
}

// station sends STA-FIRST or STA-NEXT. ok is false once the end of the
// station list is reached.
func (c *ctrl) station(cmd string) (s Station, ok bool, err error) {
	err = c.cmd(cmd, func(p []byte) error {
		if len(bytes.TrimSpace(p)) == 0 {
			return nil
		}
		ok = true
		return s.parse(p)
	})
	return s, ok, err
}

func (c *ctrl) stationFirst() (Station, bool, error) {
	return c.station(cmdStationFirst)
}

func (c *ctrl) stationNext(mac presence.MAC) (Station, bool, error) {
	return c.station(cmdStationNext + " " + mac.String())
}

// attach subscribes to unsolicited events and calls cb for each one until
// ctx is done, cb fails, or hostapd terminates. The conn cannot be used for
// anything else while attached.
func (c *ctrl) attach(ctx context.Context, cb func(Event) error) error {
	if err := c.expect(cmdAttach, respOK); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	detach, detached := c.detacher()
	defer detach()
	go func() {
		select {
		case <-ctx.Done():
			detach()
		case <-detached:
		}
	}()

	// Events may be minutes apart.
	if err := c.conn.readTimeout(0); err != nil {
		return err
	}

	for {
		n, err := c.conn.Read(c.buf)
		if err != nil {
			select {
			case <-detached:
				// The read deadline set by detach expired.
				return nil
			default:
				return err
			}
		}
		msg := strings.TrimSpace(string(c.buf[:n]))

		if msg == respOK {
			select {
			case <-detached:
				return nil
			default:
				return fmt.Errorf("unexpected message while attached: %q", msg)
			}
		}

		event, err := ParseEvent(msg)
		if err != nil {
			return err
		}
		if _, ok := event.(EventTerminating); ok {
			return ErrTerminating
		}
		if err := cb(event); err != nil {
			return err
		}
	}
}

// detacher returns a func that sends DETACH once, and a channel closed
// after it has. The reply is read by the attach loop.
func (c *ctrl) detacher() (func(), <-chan struct{}) {
	var once sync.Once
	done := make(chan struct{})

	return func() {
		once.Do(func() {
			defer close(done)
			// Errors are ignored: nothing can be done about them here.
			_ = c.conn.writeTimeout(c.writeTimeout)
			_, _ = c.conn.Write([]byte(cmdDetach))
			_ = c.conn.readTimeout(c.readTimeout)
		})
	}, done
}
