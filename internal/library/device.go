package library

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
)

const deviceIDFile = "device-id"

// DeviceIdentity returns the anonymous identifier for this device,
// generating and persisting one on first use. The identifier is stable for
// the lifetime of the data directory.
func DeviceIdentity(dir string) (string, error) {
	path := filepath.Join(dir, deviceIDFile)
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	id := "dev_" + hex.EncodeToString(buf)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", err
	}
	return id, nil
}
