package credential

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Credential is one refresh-token-bearing Google identity for a single
// cloud project. It is mutated only by the refresh pipeline (new access
// token, new expiry, optionally email and rotated refresh token).
type Credential struct {
	Email        string    `json:"email,omitempty"`
	ClientID     string    `json:"client_id,omitempty"`
	ClientSecret string    `json:"client_secret,omitempty"`
	ProjectID    string    `json:"project_id"`
	Scopes       []string  `json:"scopes,omitempty"`
	RefreshToken string    `json:"refresh_token"`
	AccessToken  string    `json:"access_token,omitempty"`
	Expiry       time.Time `json:"expiry"`
}

// Usable reports whether the access token can serve a request at instant
// now, applying the assignment-time expiry skew.
func (c *Credential) Usable(now time.Time, skew time.Duration) bool {
	if c.AccessToken == "" {
		return false
	}
	return now.Before(c.Expiry.Add(-skew))
}

// Assigned is the short-lived snapshot handed to an HTTP handler. It does
// not confer ownership; the coordinator stays authoritative.
type Assigned struct {
	ID          int64
	ProjectID   string
	AccessToken string
	Model       string
}

// StoredCredential is a persisted row: the credential plus its stable
// store-assigned id and activity flag.
type StoredCredential struct {
	ID     int64
	Cred   Credential
	Active bool
}

// credentialFile is the JSON shape of Google credential files. The access
// token appears as either "access_token" or "token" depending on which
// tool wrote the file.
type credentialFile struct {
	Email        string   `json:"email"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	ProjectID    string   `json:"project_id"`
	Scopes       []string `json:"scopes"`
	RefreshToken string   `json:"refresh_token"`
	AccessToken  string   `json:"access_token"`
	Token        string   `json:"token"`
	Expiry       string   `json:"expiry"`
}

// Parse decodes a credential JSON payload. A non-empty refresh_token is
// required; expiry is optional (zero forces a refresh before first use).
func Parse(data []byte) (Credential, error) {
	var file credentialFile
	if err := json.Unmarshal(data, &file); err != nil {
		return Credential{}, fmt.Errorf("decode credential: %w", err)
	}
	if strings.TrimSpace(file.RefreshToken) == "" {
		return Credential{}, fmt.Errorf("credential has no refresh_token")
	}

	cred := Credential{
		Email:        file.Email,
		ClientID:     file.ClientID,
		ClientSecret: file.ClientSecret,
		ProjectID:    file.ProjectID,
		Scopes:       file.Scopes,
		RefreshToken: file.RefreshToken,
		AccessToken:  file.AccessToken,
	}
	if cred.AccessToken == "" {
		cred.AccessToken = file.Token
	}
	if file.Expiry != "" {
		ts, err := time.Parse(time.RFC3339, file.Expiry)
		if err != nil {
			return Credential{}, fmt.Errorf("parse expiry %q: %w", file.Expiry, err)
		}
		cred.Expiry = ts.UTC()
	}
	return cred, nil
}
