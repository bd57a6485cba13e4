package relaystate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	destinations := []string{
		"https://app.example.org/x",
		"https://app.example.org/callback?next=/tools",
		"http://localhost:3000/callback",
		"https://app.example.org/path|with|pipes",
	}

	for _, dest := range destinations {
		state := Encode(dest)
		assert.Equal(t, dest, Decode(state), "destination must survive the round trip: %q", dest)
	}
}

func TestEncodeWithoutDestination(t *testing.T) {
	state := Encode("")
	require.NotEmpty(t, state)
	assert.NotContains(t, state, Delimiter)
	assert.Empty(t, Decode(state))
}

func TestNonceIsFreshAndURLSafe(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		state := Encode("")
		require.False(t, seen[state], "nonce repeated after %d encodes", i)
		seen[state] = true

		// 16 random bytes base64url-encode to 22 characters.
		assert.Len(t, state, 22)
		assert.NotContains(t, state, "+")
		assert.NotContains(t, state, "/")
		assert.NotContains(t, state, "=")
	}
}

func TestDecodeMalformedInputNeverFails(t *testing.T) {
	inputs := []string{
		"",
		"|",
		"||",
		"garbage without delimiter",
		strings.Repeat("x", 4096),
		"\x00\x01\x02",
		Delimiter + "https://app.example.org/x",
	}

	for _, in := range inputs {
		assert.NotPanics(t, func() { Decode(in) }, "input %q", in)
	}

	// A leading delimiter means an empty nonce but the destination is
	// still recoverable; everything else degrades to empty.
	assert.Equal(t, "https://app.example.org/x", Decode(Delimiter+"https://app.example.org/x"))
	assert.Empty(t, Decode("garbage without delimiter"))
}
