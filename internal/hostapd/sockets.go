package hostapd

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// DefaultSockDir is where OpenWrt's hostapd creates its control sockets,
// one per interface.
const DefaultSockDir = "/var/run/hostapd"

// FindSockets expands paths into control socket paths. A path naming a
// directory is replaced by the Unix sockets it contains; any other path
// is kept as is. The result is sorted and has no duplicates.
func FindSockets(paths ...string) ([]string, error) {
	seen := make(map[string]bool)
	var sockets []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			sockets = append(sockets, p)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			// Missing sockets fail later, with a better error, on connect.
			add(p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type()&fs.ModeSocket != 0 {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("finding sockets in %s: %w", p, err)
		}
	}

	sort.Strings(sockets)
	return sockets, nil
}
