package hostapd

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Status is the subset of the STATUS response that is logged when a
// control socket is opened.
// https://w1.fi/wpa_supplicant/devel/ctrl_iface_page.html#ctrl_iface_STATUS
type Status struct {
	State      string
	Channel    int
	MaxTxPower int
	SSID       string
	BSSID      string
}

func (s *Status) parse(p []byte) error {
	scanner := bufio.NewScanner(bytes.NewReader(p))
	for scanner.Scan() {
		key, val, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			return fmt.Errorf("invalid status response line %q", scanner.Text())
		}

		var err error
		switch key {
		case "state":
			s.State = val
		case "channel":
			s.Channel, err = strconv.Atoi(val)
		case "max_txpower":
			s.MaxTxPower, err = strconv.Atoi(val)
		case "ssid[0]":
			s.SSID, err = decodeSSID(val)
		case "bssid[0]":
			s.BSSID = val
		}
		if err != nil {
			return fmt.Errorf("status %s: %w", key, err)
		}
	}
	return scanner.Err()
}

// decodeSSID reverses hostapd's printf_encode escaping of SSIDs.
// https://w1.fi/cgit/hostap/tree/src/utils/common.c (printf_encode)
func decodeSSID(v string) (string, error) {
	var s strings.Builder
	s.Grow(len(v))

	for i := 0; i < len(v); i++ {
		c := v[i]
		if c != '\\' {
			s.WriteByte(c)
			continue
		}

		i++
		if i >= len(v) {
			return "", fmt.Errorf("dangling escape in %q", v)
		}
		switch v[i] {
		case '"', '\\':
			s.WriteByte(v[i])
		case 'e':
			s.WriteByte('\033')
		case 'n':
			s.WriteByte('\n')
		case 'r':
			s.WriteByte('\r')
		case 't':
			s.WriteByte('\t')
		case 'x':
			if i+3 > len(v) {
				return "", fmt.Errorf("short hex escape in %q", v)
			}
			b, err := hex.DecodeString(v[i+1 : i+3])
			if err != nil {
				return "", err
			}
			s.Write(b)
			i += 2
		default:
			s.WriteByte(v[i])
		}
	}
	return s.String(), nil
}
