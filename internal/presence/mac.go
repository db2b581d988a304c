package presence

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// MAC is a hardware MAC address identifying a tracked device.
type MAC [6]byte

// ParseMAC decodes s into a MAC. The octets may be separated by ':' or '-',
// or not separated at all, and hex digits may be in either case.
func ParseMAC(s string) (MAC, error) {
	var m MAC
	if err := m.Decode(s); err != nil {
		return MAC{}, err
	}
	return m, nil
}

// MustParseMAC is like ParseMAC but panics on error. Intended for tests
// and static tables.
func MustParseMAC(s string) MAC {
	m, err := ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

// String returns the address in canonical "xx:xx:xx:xx:xx:xx" form
// (lower-case letters).
func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsZero reports whether m is the all-zero address.
func (m MAC) IsZero() bool {
	return m == MAC{}
}

// Decode converts a string such as "AA:BB:CC:DD:EE:FF", "aa-bb-cc-dd-ee-ff"
// or "aabbccddeeff" to a MAC.
func (m *MAC) Decode(s string) error {
	raw := strings.TrimSpace(s)
	raw = strings.ReplaceAll(raw, ":", "")
	raw = strings.ReplaceAll(raw, "-", "")

	b, err := hex.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("invalid MAC %q: %w", s, err)
	}

	if len(b) != len(m) {
		return fmt.Errorf("invalid MAC length %d; expected %d from %q", len(b), len(m), s)
	}

	copy(m[:], b)

	return nil
}

func (m MAC) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MAC) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		return errors.New("invalid MAC: empty")
	}
	var decoded MAC
	if err := decoded.Decode(string(b)); err != nil {
		return err
	}
	*m = decoded
	return nil
}
