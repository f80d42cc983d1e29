package utils

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// NewLocalID returns an id for client-side placeholders (entries created
// optimistically before the server has assigned a real id). The prefix keeps
// them distinguishable from server UUIDs.
func NewLocalID(prefix string) string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b) + "-" + time.Now().UTC().Format("20060102150405")
}
