package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// requiredScope must be present whenever the token carries a scope claim
const requiredScope = "user_impersonation"

// Authenticator validates inbound bearer tokens against a JWKS endpoint,
// checking signature, audience, expiry and a small set of allowed issuers.
type Authenticator struct {
	keys     keyfunc.Keyfunc
	issuers  []string
	audience string
}

// NewAuthenticator fetches signing keys from the JWKS URL and keeps them
// refreshed in the background.
func NewAuthenticator(ctx context.Context, jwksURL, tenantID, audience string) (*Authenticator, error) {
	keys, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("failed to load JWKS from %s: %w", jwksURL, err)
	}

	return &Authenticator{
		keys: keys,
		issuers: []string{
			fmt.Sprintf("https://sts.windows.net/%s/", tenantID),
			fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0", tenantID),
		},
		audience: audience,
	}, nil
}

// Middleware rejects requests without a valid bearer token
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Missing Authorization: Bearer token"})
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, a.keys.Keyfunc,
			jwt.WithValidMethods([]string{"RS256"}),
			jwt.WithAudience(a.audience),
			jwt.WithExpirationRequired(),
		)
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": fmt.Sprintf("Token validation failed: %v", err)})
			return
		}

		if !a.issuerAllowed(claims) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Token validation failed: issuer not allowed"})
			return
		}

		// Enforce user_impersonation only when the token carries scopes at all.
		if scp, ok := claims["scp"].(string); ok && scp != "" {
			if !hasScope(scp, requiredScope) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "Missing required scope: " + requiredScope})
				return
			}
		}

		c.Set("bearer_token", tokenString)
		c.Next()
	}
}

func (a *Authenticator) issuerAllowed(claims jwt.MapClaims) bool {
	issuer, err := claims.GetIssuer()
	if err != nil {
		return false
	}
	for _, allowed := range a.issuers {
		if issuer == allowed {
			return true
		}
	}
	return false
}

// bearerToken extracts the token from an Authorization header, matching the
// scheme case-insensitively.
func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func hasScope(scp, want string) bool {
	for _, scope := range strings.Fields(scp) {
		if scope == want {
			return true
		}
	}
	return false
}
