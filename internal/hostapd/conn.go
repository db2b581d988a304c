package hostapd

import (
	"net"
	"os"
	"time"
)

// conn is a datagram connection to a hostapd control socket. hostapd
// replies to the address of the sender, so every conn binds its own local
// socket file.
type conn struct {
	*net.UnixConn
	localPath string
}

// dial binds localPath and connects it to the control socket at
// remotePath.
func dial(localPath, remotePath string) (*conn, error) {
	laddr, err := net.ResolveUnixAddr("unixgram", localPath)
	if err != nil {
		return nil, err
	}
	raddr, err := net.ResolveUnixAddr("unixgram", remotePath)
	if err != nil {
		return nil, err
	}

	// A stale file from an unclean exit would make the bind fail.
	_ = os.Remove(localPath)

	uc, err := net.DialUnix("unixgram", laddr, raddr)
	if err != nil {
		return nil, err
	}
	return &conn{UnixConn: uc, localPath: laddr.String()}, nil
}

func (c *conn) readTimeout(d time.Duration) error {
	if d <= 0 {
		return c.SetReadDeadline(time.Time{})
	}
	return c.SetReadDeadline(time.Now().Add(d))
}

func (c *conn) writeTimeout(d time.Duration) error {
	if d <= 0 {
		return c.SetWriteDeadline(time.Time{})
	}
	return c.SetWriteDeadline(time.Now().Add(d))
}

// Close closes the connection and removes the local socket file.
func (c *conn) Close() error {
	err := c.UnixConn.Close()
	if rmErr := os.Remove(c.localPath); err == nil && !os.IsNotExist(rmErr) {
		err = rmErr
	}
	return err
}
