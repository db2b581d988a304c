package hass

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const instanceFile = "instance_id"

// InstanceID returns the id that keys this installation's Home Assistant
// device. It is created once and stored in dataDir so entities survive
// restarts. Without a dataDir the id is derived from the topic prefix.
func InstanceID(dataDir, topicPrefix string) (string, error) {
	if dataDir == "" {
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte("openwrt-presence/"+topicPrefix)).String(), nil
	}

	path := filepath.Join(dataDir, instanceFile)
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		id, err := uuid.Parse(strings.TrimSpace(string(b)))
		if err != nil {
			return "", fmt.Errorf("%s: %w", path, err)
		}
		return id.String(), nil
	case !errors.Is(err, fs.ErrNotExist):
		return "", err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0o644); err != nil {
		return "", err
	}
	return id.String(), nil
}
