package oidc

import (
	"context"

	"golang.org/x/oauth2"
)

// tokenSource adapts the managed token set to the golang.org/x/oauth2
// TokenSource contract, so the client plugs into anything built on
// that ecosystem: API clients, authenticated transports, gRPC
// credentials.
type tokenSource struct {
	ctx    context.Context
	tokens *tokenManager
}

// Token returns the current token, refreshing it when needed.
func (ts *tokenSource) Token() (*oauth2.Token, error) {
	if _, err := ts.tokens.AccessToken(ts.ctx); err != nil {
		return nil, err
	}
	current, err := ts.tokens.CurrentToken()
	if err != nil {
		return nil, err
	}
	return current.OAuth2Token(), nil
}
