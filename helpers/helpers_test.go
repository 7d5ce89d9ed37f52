package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashContent(t *testing.T) {
	a := HashContent([]byte("hello"))
	b := HashContent([]byte("hello"))
	c := HashContent([]byte("hello!"))

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	// BLAKE3 of the empty input
	assert.Equal(t, "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262", HashContent(nil))
}

func TestSplitEmailAddress(t *testing.T) {
	tests := []struct {
		in        string
		local     string
		domain    string
		wantError bool
	}{
		{in: "alice@example.com", local: "alice", domain: "example.com"},
		{in: " Bob@Example.COM ", local: "bob", domain: "example.com"},
		{in: `"a@b"@example.com`, local: `"a@b"`, domain: "example.com"},
		{in: "", wantError: true},
		{in: "nodomain", wantError: true},
		{in: "@example.com", wantError: true},
		{in: "user@", wantError: true},
	}

	for _, tt := range tests {
		local, domain, err := SplitEmailAddress(tt.in)
		if tt.wantError {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.local, local)
		assert.Equal(t, tt.domain, domain)
	}
}

func TestNewS3Key(t *testing.T) {
	assert.Equal(t, "example.com/alice/abc", NewS3Key("example.com", "alice", "abc"))
}

func TestSanitizeUTF8(t *testing.T) {
	assert.Equal(t, "plain", SanitizeUTF8("plain"))
	assert.Equal(t, "ab", SanitizeUTF8("a\x00b"))
	assert.Equal(t, "ab", SanitizeUTF8("a\xffb"))
	assert.Equal(t, "héllo", SanitizeUTF8("héllo"))
}
