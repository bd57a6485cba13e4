// Package relaystate encodes and decodes the opaque RelayState value that
// carries a caller-chosen post-login destination through the identity
// provider redirect.
//
// The encoded form is `<nonce>` or `<nonce>|<destination>`. The nonce is
// 128 bits of randomness in the base64url alphabet; the `|` delimiter is
// not part of that alphabet, so splitting on its first occurrence is
// unambiguous. The state round-trips through the IdP and is never stored
// server-side.
package relaystate

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
)

// Delimiter separates the nonce from the optional destination. It is
// reserved: base64url never produces it, so the first occurrence always
// marks the boundary.
const Delimiter = "|"

const nonceBytes = 16 // 128 bits

// Encode generates a fresh random nonce and, when destination is
// non-empty, appends the delimited destination.
func Encode(destination string) string {
	nonce := newNonce()
	if destination == "" {
		return nonce
	}
	return nonce + Delimiter + destination
}

// Decode extracts the destination from an encoded state. Decoding is
// best-effort: the state is provider-controlled transit data, not a trust
// boundary, so malformed or truncated input yields an empty destination
// rather than an error. Callers fall back to their configured default.
func Decode(state string) string {
	if state == "" {
		return ""
	}
	_, destination, found := strings.Cut(state, Delimiter)
	if !found {
		return ""
	}
	return destination
}

func newNonce() string {
	b := make([]byte, nonceBytes)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
