package utils

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
)

var scanCodeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateScanCode returns an opaque, unguessable code for a ticket's QR.
// 20 random bytes encode to 32 upper-case characters, which keeps the QR
// in alphanumeric mode.
func GenerateScanCode() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate scan code: %w", err)
	}
	return scanCodeEncoding.EncodeToString(buf), nil
}
