package redlock

import (
	"strings"
	"testing"
)

func TestNewTokenShapeAndUniqueness(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		tok, err := newToken()
		if err != nil {
			t.Fatalf("new token: %v", err)
		}
		if len(tok) != tokenLength {
			t.Fatalf("token %q has length %d", tok, len(tok))
		}
		for _, r := range tok {
			if !strings.ContainsRune(tokenAlphabet, r) {
				t.Fatalf("token %q has non alphanumeric %q", tok, r)
			}
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = struct{}{}
	}
}
