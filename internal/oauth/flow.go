package oauth

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"pollux-go/internal/credential"
	apperrors "pollux-go/internal/errors"
)

// Flow drives the browser consent round-trip for adding credentials
// interactively. State and PKCE verifier live in the caller's cookies;
// the flow itself is stateless.
type Flow struct {
	cfg    oauth2.Config
	client *http.Client
}

// NewFlow builds a Flow for the given OAuth client. A nil httpClient
// falls back to http.DefaultClient.
func NewFlow(clientID, clientSecret, redirectURL string, httpClient *http.Client) *Flow {
	return &Flow{
		cfg: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       append([]string(nil), DefaultScopes...),
			Endpoint: oauth2.Endpoint{
				AuthURL:  AuthURL,
				TokenURL: TokenURL,
			},
		},
		client: httpClient,
	}
}

// Session is one in-flight consent attempt. State guards against CSRF;
// Verifier is the PKCE secret matching the challenge baked into AuthURL.
type Session struct {
	State    string
	Verifier string
	AuthURL  string
}

// Begin mints a new consent session. The consent screen always asks
// again (prompt=consent) so Google reissues a refresh token.
func (f *Flow) Begin() Session {
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	authURL := f.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.S256ChallengeOption(verifier),
	)
	return Session{State: state, Verifier: verifier, AuthURL: authURL}
}

// Exchange redeems the callback code for tokens and assembles the new
// credential. Google must hand back both an access and a refresh token;
// a consent that produced neither cannot be onboarded.
func (f *Flow) Exchange(ctx context.Context, code, verifier string) (credential.Credential, error) {
	if f.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.client)
	}

	token, err := f.cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		if retrieveErr, ok := err.(*oauth2.RetrieveError); ok && retrieveErr.ErrorCode != "" {
			return credential.Credential{}, apperrors.OAuthServer(retrieveErr.ErrorCode, retrieveErr.ErrorDescription)
		}
		return credential.Credential{}, apperrors.OAuthToken(0, "exchange authorization code", err)
	}
	if token.AccessToken == "" {
		return credential.Credential{}, apperrors.ErrMissingAccessToken
	}
	if token.RefreshToken == "" {
		return credential.Credential{}, apperrors.OAuthToken(0, "consent produced no refresh token", nil)
	}

	cred := credential.Credential{
		ClientID:     f.cfg.ClientID,
		ClientSecret: f.cfg.ClientSecret,
		Scopes:       append([]string(nil), f.cfg.Scopes...),
		RefreshToken: token.RefreshToken,
		AccessToken:  token.AccessToken,
		Expiry:       token.Expiry.UTC(),
	}
	if cred.Expiry.IsZero() {
		cred.Expiry = time.Now().Add(time.Hour).UTC()
	}
	if idToken, ok := token.Extra("id_token").(string); ok && idToken != "" {
		if email, err := emailFromIDToken(idToken); err == nil {
			cred.Email = email
		}
	}
	return cred, nil
}
