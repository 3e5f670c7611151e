package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// HMACEnvKey is the env var name for the session-token HMAC secret.
// #nosec G101 -- not a credential; it's an environment variable name.
const HMACEnvKey = "MESSENGER_TOKEN_HMAC_KEY"

// MinHMACKeyBytes is the shortest key accepted by RequireHMAC.
const MinHMACKeyBytes = 32

var (
	ErrHMACKeyMissing  = errors.New("token HMAC key missing")
	ErrHMACKeyTooShort = errors.New("token HMAC key too short")
)

// Hasher turns raw tokens into lookup digests. The zero value hashes with plain SHA-256.
type Hasher struct {
	key []byte
}

// NewHasher returns a keyed Hasher, or a SHA-256 one when key is empty.
func NewHasher(key []byte) Hasher {
	if len(key) == 0 {
		return Hasher{}
	}
	return Hasher{key: append([]byte(nil), key...)}
}

// FromEnv builds a Hasher from MESSENGER_TOKEN_HMAC_KEY (trimmed). A blank key means SHA-256.
func FromEnv() Hasher {
	return NewHasher([]byte(strings.TrimSpace(os.Getenv(HMACEnvKey))))
}

// RequireHMAC is FromEnv with the key policy enforced.
func RequireHMAC(minBytes int) (Hasher, error) {
	h := FromEnv()
	switch {
	case !h.Keyed():
		return Hasher{}, ErrHMACKeyMissing
	case len(h.key) < minBytes:
		return Hasher{}, fmt.Errorf("%w: %d bytes, want >= %d", ErrHMACKeyTooShort, len(h.key), minBytes)
	}
	return h, nil
}

// Keyed reports whether digests are HMACs.
func (h Hasher) Keyed() bool { return len(h.key) > 0 }

// Hex returns the digest of raw.
func (h Hasher) Hex(raw string) string {
	if !h.Keyed() {
		sum := sha256.Sum256([]byte(raw))
		return hex.EncodeToString(sum[:])
	}
	m := hmac.New(sha256.New, h.key)
	_, _ = m.Write([]byte(raw))
	return hex.EncodeToString(m.Sum(nil))
}

// HashSessionTokenHex hashes raw with the environment's current Hasher.
func HashSessionTokenHex(raw string) string {
	return FromEnv().Hex(raw)
}
