package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBearerToken(t *testing.T) {
	cases := []struct {
		name   string
		header string
		token  string
		ok     bool
	}{
		{"canonical", "Bearer tok-123", "tok-123", true},
		{"lowercase scheme", "bearer tok-123", "tok-123", true},
		{"uppercase scheme", "BEARER tok-123", "tok-123", true},
		{"surrounding whitespace", "Bearer   tok-123  ", "tok-123", true},
		{"wrong scheme", "Basic dXNlcg==", "", false},
		{"scheme only", "Bearer ", "", false},
		{"empty header", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token, ok := bearerToken(tc.header)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.token, token)
		})
	}
}

func TestHasScope(t *testing.T) {
	assert.True(t, hasScope("user_impersonation", "user_impersonation"))
	assert.True(t, hasScope("openid profile user_impersonation", "user_impersonation"))
	assert.False(t, hasScope("openid profile", "user_impersonation"))
	assert.False(t, hasScope("user_impersonation.read", "user_impersonation"))
	assert.False(t, hasScope("", "user_impersonation"))
}
