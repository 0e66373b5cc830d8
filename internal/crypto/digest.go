package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var ErrInvalidLength = errors.New("invalid digest length")

// DigestBytes returns the raw SHA-256 digest bytes.
func DigestBytes(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// DigestHex returns the SHA-256 digest as lowercase hex.
func DigestHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestWithPrefix returns the SHA-256 digest with the "sha256:" prefix.
func DigestWithPrefix(data []byte) string {
	return "sha256:" + DigestHex(data)
}

// ShortID returns the first n hex characters of the SHA-256 digest of data.
func ShortID(data []byte, n int) (string, error) {
	full := DigestHex(data)
	if n <= 0 || n > len(full) {
		return "", ErrInvalidLength
	}
	return full[:n], nil
}
