package hostapdtest

import (
	"fmt"
	"strings"
	"time"

	"github.com/awilliams/openwrt-presence/internal/presence"
)

// Status is the reply to STATUS.
type Status struct {
	State      string
	Channel    int
	SSID       string
	BSSID      string
	MaxTxPower int
}

func (s Status) encode() string {
	return fmt.Sprintf("state=%s\nchannel=%d\nmax_txpower=%d\nssid[0]=%s\nbssid[0]=%s\n",
		s.State, s.Channel, s.MaxTxPower, s.SSID, s.BSSID)
}

// Station is one row of the station table, as listed by STA-FIRST and
// STA-NEXT.
type Station struct {
	MAC        presence.MAC
	Associated bool
	Signal     int
	Connected  time.Duration
}

func (s Station) encode() string {
	flags := "[AUTH]"
	if s.Associated {
		flags = "[AUTH][ASSOC][AUTHORIZED]"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\nflags=%s\n", s.MAC, flags)
	fmt.Fprintf(&b, "connected_time=%d\n", int(s.Connected/time.Second))
	fmt.Fprintf(&b, "signal=%d", s.Signal)
	return b.String()
}
