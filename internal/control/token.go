package control

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// tokenBytes gives >=128 bits of entropy per spec §3's Reload Token
// invariant (16 bytes = 128 bits).
const tokenBytes = 16

// GenerateToken returns a fresh, base64url-encoded random secret
// suitable for authenticating requests to the Control Endpoint. Never
// persisted — created at session start, discarded at session end.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("control: generating reload token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
