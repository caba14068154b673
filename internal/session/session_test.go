package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewToken(t *testing.T) {
	tok, digest, err := NewToken()
	require.NoError(t, err)
	assert.Len(t, tok, 43)
	assert.Len(t, digest, 64)
	assert.Equal(t, Digest(tok), digest)

	other, _, err := NewToken()
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)
}

func TestVerify(t *testing.T) {
	tok, digest, err := NewToken()
	require.NoError(t, err)

	cases := []struct {
		name   string
		token  string
		digest string
		want   bool
	}{
		{name: "match", token: tok, digest: digest, want: true},
		{name: "wrong token", token: tok + "x", digest: digest, want: false},
		{name: "empty token", token: "", digest: digest, want: false},
		{name: "empty digest", token: tok, digest: "", want: false},
		{name: "raw token as digest", token: tok, digest: tok, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Verify(tc.token, tc.digest))
		})
	}
}
