// Package ident derives a stable instance identity for logs, lock files and
// API status reporting.
package ident

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/denisbrodbeck/machineid"
)

// InstanceID returns an identifier unique to this host and application.
// Falls back to hostname plus a random suffix when the machine id is
// unavailable (containers, stripped-down images).
func InstanceID() string {
	if id, err := machineid.ProtectedID("ladderbot"); err == nil {
		return id
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return host
	}
	return fmt.Sprintf("%s-%s", host, hex.EncodeToString(suffix))
}
