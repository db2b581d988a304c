package hostapd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Default timeouts for control interface requests.
const (
	defaultReadTimeout  = time.Second
	defaultWriteTimeout = time.Second
)

// Client is a hostapd control interface client for one interface socket,
// such as /var/run/hostapd/phy0-ap0.
type Client struct {
	localSockDir string
	ctrlSock     string
	conn         *conn
	ctrl         *ctrl
}

// NewClient connects to the control socket ctrlSock. Local socket files
// are created in localSockDir, or the system temporary directory if it is
// empty.
func NewClient(localSockDir, ctrlSock string) (*Client, error) {
	if localSockDir == "" {
		localSockDir = os.TempDir()
	}

	cn, ctl, err := open(localSockDir, "wp", ctrlSock)
	if err != nil {
		return nil, err
	}
	return &Client{
		localSockDir: localSockDir,
		ctrlSock:     ctrlSock,
		conn:         cn,
		ctrl:         ctl,
	}, nil
}

func open(localSockDir, prefix, ctrlSock string) (*conn, *ctrl, error) {
	lpath := filepath.Join(localSockDir, fmt.Sprintf("%s-%d.%s", prefix, os.Getpid(), filepath.Base(ctrlSock)))
	if err := validSocketPath(lpath); err != nil {
		return nil, nil, err
	}

	cn, err := dial(lpath, ctrlSock)
	if err != nil {
		return nil, nil, fmt.Errorf("hostapd socket %s: %w", ctrlSock, err)
	}
	ctl, err := newCtrl(cn, defaultReadTimeout, defaultWriteTimeout)
	if err != nil {
		cn.Close()
		return nil, nil, fmt.Errorf("hostapd socket %s: %w", ctrlSock, err)
	}
	return cn, ctl, nil
}

// Interface returns the name of the wireless interface, taken from the
// control socket file name.
func (c *Client) Interface() string {
	return filepath.Base(c.ctrlSock)
}

// Close closes the connection. The client is not usable afterwards.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Status returns the interface status.
func (c *Client) Status() (Status, error) {
	return c.ctrl.status()
}

// Stations returns every station known to the interface. Stations that
// are not Associated have just left and should not count as connected.
func (c *Client) Stations() ([]Station, error) {
	var stations []Station

	sta, ok, err := c.ctrl.stationFirst()
	for ; ok && err == nil; sta, ok, err = c.ctrl.stationNext(sta.MAC) {
		stations = append(stations, sta)
	}
	if err != nil {
		return nil, err
	}
	return stations, nil
}

// Attach calls events for every event hostapd sends until ctx is done or
// events returns an error. A separate socket is used, so the Client stays
// usable while attached. events runs on the read loop and should return
// quickly.
func (c *Client) Attach(ctx context.Context, events func(Event) error) error {
	cn, ctl, err := open(c.localSockDir, "wp-attach", c.ctrlSock)
	if err != nil {
		return err
	}
	defer cn.Close()

	return ctl.attach(ctx, events)
}

// validSocketPath rejects paths the platform cannot bind.
func validSocketPath(p string) error {
	// https://github.com/golang/go/issues/6895
	if runtime.GOOS == "darwin" && len(p) > 104 {
		return fmt.Errorf("socket path (%q) too long", p)
	}
	return nil
}
