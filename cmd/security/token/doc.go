// Package token derives lookup digests for opaque session tokens.
//
// Raw tokens never reach storage or logs. A Hasher keyed from MESSENGER_TOKEN_HMAC_KEY
// produces HMAC-SHA256 digests; without a key it falls back to SHA-256.
// Digests are always 64 lowercase hex chars.
package token
