package app

import (
	"errors"
	"fmt"

	"messenger/cmd/security/token"
)

// ValidateSecurityConfig enforces the token-hashing policy at startup.
// With MESSENGER_REQUIRE_TOKEN_HMAC set there is no fallback to plain SHA-256.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	if _, err := token.RequireHMAC(token.MinHMACKeyBytes); err != nil {
		return fmt.Errorf("security policy: MESSENGER_REQUIRE_TOKEN_HMAC=true but %s: %w", token.HMACEnvKey, err)
	}
	if !cfg.SessionTableHashed {
		return errors.New("security policy: MESSENGER_REQUIRE_TOKEN_HMAC=true requires MESSENGER_SESSION_TOKENS_HASHED=true")
	}
	return nil
}
