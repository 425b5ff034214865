package auth

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	apperrors "foundry-chat/pkg/errors"
)

// StaticProvider serves a fixed bearer token, typically pasted from an
// interactive sign-in. An empty token is a credential error at use time, not
// at construction, so the same wiring works before the user has signed in.
type StaticProvider struct {
	token string
}

// NewStaticProvider creates a provider around a fixed token
func NewStaticProvider(token string) *StaticProvider {
	return &StaticProvider{token: token}
}

// Token returns the fixed token or a credential error when none is set
func (p *StaticProvider) Token(ctx context.Context) (string, error) {
	if p.token == "" {
		return "", apperrors.NewCredentialError("no bearer token configured", nil)
	}
	return p.token, nil
}

// ClientCredentialsProvider obtains and silently refreshes bearer tokens via
// the OAuth2 client-credentials grant. The token source caches the current
// token and refreshes it only when expired, so most calls do not block.
type ClientCredentialsProvider struct {
	source oauth2.TokenSource
}

// NewClientCredentialsProvider creates a refreshing provider
func NewClientCredentialsProvider(tokenURL, clientID, clientSecret string, scopes []string) *ClientCredentialsProvider {
	conf := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}
	return &ClientCredentialsProvider{
		source: conf.TokenSource(context.Background()),
	}
}

// Token returns a currently valid access token, refreshing if needed
func (p *ClientCredentialsProvider) Token(ctx context.Context) (string, error) {
	token, err := p.source.Token()
	if err != nil {
		return "", apperrors.NewCredentialError("token endpoint refused credential request", err)
	}
	if token.AccessToken == "" {
		return "", apperrors.NewCredentialError("token endpoint returned an empty access token", nil)
	}
	return token.AccessToken, nil
}
