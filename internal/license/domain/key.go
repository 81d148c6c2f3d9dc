package domain

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	keyCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	keyLength  = 32
)

// GenerateKey returns a new high-entropy license key: 32 uppercase
// alphanumeric characters.
func GenerateKey() (string, error) {
	var b strings.Builder
	b.Grow(keyLength)
	max := big.NewInt(int64(len(keyCharset)))
	for i := 0; i < keyLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(keyCharset[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeKey upper-cases the input and strips everything outside [A-Z0-9],
// so keys compare case- and punctuation-insensitively.
func NormalizeKey(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToUpper(raw) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
