package redlock

import (
	uuid "github.com/hashicorp/go-uuid"
)

const (
	tokenLength   = 22
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	// bytes at or above this bound are rejected to keep the alphabet uniform.
	tokenByteBound = 256 - 256%len(tokenAlphabet)
)

// newToken returns a random alphanumeric token of tokenLength characters,
// roughly 131 bits of entropy.
func newToken() (string, error) {
	out := make([]byte, 0, tokenLength)
	for len(out) < tokenLength {
		buf, err := uuid.GenerateRandomBytes(tokenLength)
		if err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= tokenByteBound {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == tokenLength {
				break
			}
		}
	}
	return string(out), nil
}
