package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

func HashContent(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// BuildIdentity fingerprints a build configuration. Two tree snapshots are
// comparable only when they were captured under the same identity.
func BuildIdentity(tag string, buildCommand []string) string {
	return HashContent([]byte(tag + "\x00" + strings.Join(buildCommand, "\x00")))
}

func ShortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
