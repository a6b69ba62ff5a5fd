package ccex

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sign produces the double-SHA256 request signature the REST API expects:
// sha256(nonce+timestamp+apiKey), then sha256(hex(that)+secret).
func Sign(secret, nonce, apiKey, ts string) string {
	h1 := sha256.Sum256([]byte(nonce + ts + apiKey))
	h2 := sha256.Sum256([]byte(hex.EncodeToString(h1[:]) + secret))
	return hex.EncodeToString(h2[:])
}
