package hostapd

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/awilliams/openwrt-presence/internal/presence"
)

// Station is a WiFi client as reported by STA-FIRST/STA-NEXT.
type Station struct {
	MAC        presence.MAC
	Associated bool
	Connected  time.Duration
	Inactive   time.Duration
	Signal     int // dBm
}

var errStationFail = errors.New("station: FAIL")

// parse decodes a station block: the MAC address on the first line,
// "key=value" pairs after it.
func (s *Station) parse(p []byte) error {
	if strings.TrimSpace(string(p)) == "FAIL" {
		return errStationFail
	}

	scanner := bufio.NewScanner(bytes.NewReader(p))
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return err
		}
		return errors.New("station: empty response")
	}
	mac, err := presence.ParseMAC(scanner.Text())
	if err != nil {
		return fmt.Errorf("station: %w", err)
	}
	s.MAC = mac

	for scanner.Scan() {
		key, val, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			return fmt.Errorf("invalid station response line %q", scanner.Text())
		}

		switch key {
		case "flags":
			s.Associated = strings.Contains(val, "[ASSOC]")

		case "connected_time":
			sec, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("station %s connected_time: %w", mac, err)
			}
			s.Connected = time.Duration(sec) * time.Second

		case "inactive_msec":
			msec, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("station %s inactive_msec: %w", mac, err)
			}
			s.Inactive = time.Duration(msec) * time.Millisecond

		case "signal":
			if s.Signal, err = strconv.Atoi(val); err != nil {
				return fmt.Errorf("station %s signal: %w", mac, err)
			}
		}
	}
	return scanner.Err()
}
