package redact

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmail_Table(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "ascii", in: "alice@example.com", want: "al***@example.com"},
		{name: "short_local", in: "ab@ex.com", want: "***@ex.com"},
		{name: "one_rune_local", in: "a@ex.com", want: "***@ex.com"},
		{name: "no_at", in: "alice", want: "***"},
		{name: "two_at", in: "a@b@c", want: "***"},
		{name: "empty", in: "", want: "***"},
		{name: "plus_tag_keeps_domain", in: "abc.def+tag@EXAMPLE.org", want: "ab***@EXAMPLE.org"},
		{name: "cyrillic_local", in: "юзер@пример.рф", want: "юз***@пример.рф"},
		{name: "cyrillic_short_local", in: "юз@домен", want: "***@домен"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Email(tt.in))
		})
	}
}

func TestToken_FingerprintMatchesStoredHashPrefix(t *testing.T) {
	t.Parallel()

	const plain = "q9u1v8A0s7Zl3pC2R5mX6bN4wE1tY0kJ8hG7fD6sA5o"

	got := Token(plain)
	require.True(t, strings.HasPrefix(got, "tok:"))
	require.Len(t, got, len("tok:")+fingerprintLen)
	require.NotContains(t, got, plain[:8])

	sum := sha256.Sum256([]byte(plain))
	stored := base64.RawURLEncoding.EncodeToString(sum[:])
	require.True(t, strings.HasPrefix(stored, strings.TrimPrefix(got, "tok:")))

	require.Equal(t, got, Token(plain))
	require.NotEqual(t, got, Token(plain+"x"))
}

func TestToken_Empty(t *testing.T) {
	t.Parallel()

	require.Equal(t, Masked, Token(""))
}
