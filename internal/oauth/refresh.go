package oauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"pollux-go/internal/config"
	"pollux-go/internal/credential"
	apperrors "pollux-go/internal/errors"
)

// tokenResponse is the token endpoint's success shape.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	TokenType    string `json:"token_type"`
}

// tokenErrorResponse is the token endpoint's RFC 6749 error shape.
type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Refresher exchanges refresh tokens for access tokens.
type Refresher struct {
	client       *http.Client
	tokenURL     string
	clientID     string
	clientSecret string
	now          func() time.Time
}

// RefresherOption customizes Refresher creation.
type RefresherOption func(*Refresher)

// WithTokenURL points the refresher at a non-default token endpoint.
// Tests use this against httptest servers.
func WithTokenURL(u string) RefresherOption {
	return func(r *Refresher) {
		if u != "" {
			r.tokenURL = u
		}
	}
}

// WithOAuthClient sets the OAuth client pair used for credentials whose
// rows carry none. Defaults to the public gemini-cli client.
func WithOAuthClient(id, secret string) RefresherOption {
	return func(r *Refresher) {
		if id != "" {
			r.clientID = id
			r.clientSecret = secret
		}
	}
}

// WithRefresherNowFunc overrides the clock used to compute expiries.
func WithRefresherNowFunc(now func() time.Time) RefresherOption {
	return func(r *Refresher) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRefresher builds a Refresher over the given HTTP client.
func NewRefresher(client *http.Client, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		client:       client,
		tokenURL:     TokenURL,
		clientID:     config.DefaultOAuthClientID,
		clientSecret: config.DefaultOAuthClientSecret,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Refresh performs one grant_type=refresh_token exchange and returns a
// copy of cred with the new access token, expiry and, when the server
// rotated it, refresh token. Only a 400/401 carrying a parsed OAuth
// error code comes back as KindOAuthServer (the credential is dead);
// every other failure is transient.
func (r *Refresher) Refresh(ctx context.Context, cred credential.Credential) (credential.Credential, error) {
	clientID, clientSecret := cred.ClientID, cred.ClientSecret
	if clientID == "" {
		// File-loaded and admin-submitted credentials usually carry no
		// client pair; fall back to the configured one.
		clientID, clientSecret = r.clientID, r.clientSecret
	}
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {cred.RefreshToken},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return credential.Credential{}, apperrors.Transport("build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return credential.Credential{}, apperrors.Transport("call token endpoint", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return credential.Credential{}, apperrors.Transport("read token response", err)
	}

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		var oauthErr tokenErrorResponse
		if json.Unmarshal(body, &oauthErr) == nil && oauthErr.Error != "" {
			return credential.Credential{}, apperrors.OAuthServer(oauthErr.Error, oauthErr.ErrorDescription)
		}
	}
	if resp.StatusCode != http.StatusOK {
		// 429s, other 4xx and unparseable bodies are not a verdict on
		// the refresh token; the credential survives.
		return credential.Credential{}, apperrors.OAuthToken(resp.StatusCode, "token endpoint error", nil)
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return credential.Credential{}, apperrors.InvalidJSON("decode token response", err)
	}
	if token.AccessToken == "" {
		return credential.Credential{}, apperrors.ErrMissingAccessToken
	}

	out := cred
	out.AccessToken = token.AccessToken
	out.Expiry = r.now().Add(time.Duration(token.ExpiresIn) * time.Second).UTC()
	if token.RefreshToken != "" {
		out.RefreshToken = token.RefreshToken
	}
	if out.Email == "" && token.IDToken != "" {
		if email, err := emailFromIDToken(token.IDToken); err == nil {
			out.Email = email
		} else {
			log.WithError(err).Debug("id_token carried no usable email claim")
		}
	}
	return out, nil
}

// emailFromIDToken lifts the email claim out of a JWT payload without
// verifying the signature. The token arrived over TLS directly from
// Google; it is used only as a display label.
func emailFromIDToken(idToken string) (string, error) {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return "", apperrors.ErrMissingEmail
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", apperrors.InvalidJSON("decode id_token payload", err)
	}
	var claims struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", apperrors.InvalidJSON("decode id_token claims", err)
	}
	if claims.Email == "" {
		return "", apperrors.ErrMissingEmail
	}
	return claims.Email, nil
}
