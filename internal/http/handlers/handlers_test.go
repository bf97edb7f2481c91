package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/signal-auth/internal/models"
)

func TestClientIP(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		headers map[string]string
		remote  string
		want    string
	}{
		"remote_addr":       {nil, "192.0.2.10:4242", "192.0.2.10"},
		"remote_addr_plain": {nil, "192.0.2.10", "192.0.2.10"},
		"forwarded_first":   {map[string]string{"X-Forwarded-For": " 10.0.0.1 , 10.0.0.2"}, "192.0.2.10:1", "10.0.0.1"},
		"real_ip":           {map[string]string{"X-Real-IP": "10.0.0.3"}, "192.0.2.10:1", "10.0.0.3"},
		"unknown_skipped":   {map[string]string{"X-Forwarded-For": "unknown", "CF-Connecting-IP": "10.0.0.4"}, "192.0.2.10:1", "10.0.0.4"},
	}

	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}

			require.Equal(t, tc.want, clientIP(req))
		})
	}
}

func TestAuthFromResult(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	out := authFromResult(&models.AuthResult{
		AccessToken:  "a",
		RefreshToken: "r",
		TokenType:    models.TokenTypeBearer,
		ExpiresIn:    60,
		User:         &models.Principal{ID: id, Username: "alice", EmailVerified: true},
	})

	require.Equal(t, "Bearer", out.TokenType)
	require.Equal(t, id.String(), out.User.ID)
	require.True(t, out.User.EmailVerified)

	require.Nil(t, userFromPrincipal(nil))
}
