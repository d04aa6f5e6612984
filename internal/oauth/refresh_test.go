package oauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pollux-go/internal/config"
	"pollux-go/internal/credential"
	apperrors "pollux-go/internal/errors"
)

func fakeIDToken(t *testing.T, email string) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256"}`))
	payload, err := json.Marshal(map[string]string{"email": email})
	require.NoError(t, err)
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

func testCred() credential.Credential {
	return credential.Credential{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		ProjectID:    "proj-1",
		RefreshToken: "refresh-1",
	}
}

func TestRefresher_Success(t *testing.T) {
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"grant_type":    r.PostFormValue("grant_type"),
			"refresh_token": r.PostFormValue("refresh_token"),
			"client_id":     r.PostFormValue("client_id"),
			"client_secret": r.PostFormValue("client_secret"),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh-token",
			"expires_in":   3600,
			"id_token":     fakeIDToken(t, "owner@example.com"),
		})
	}))
	defer srv.Close()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	r := NewRefresher(srv.Client(), WithTokenURL(srv.URL), WithRefresherNowFunc(func() time.Time { return now }))

	out, err := r.Refresh(context.Background(), testCred())
	require.NoError(t, err)

	assert.Equal(t, "refresh_token", gotForm["grant_type"])
	assert.Equal(t, "refresh-1", gotForm["refresh_token"])
	assert.Equal(t, "client-id", gotForm["client_id"])
	assert.Equal(t, "client-secret", gotForm["client_secret"])

	assert.Equal(t, "fresh-token", out.AccessToken)
	assert.Equal(t, now.Add(time.Hour), out.Expiry)
	assert.Equal(t, "refresh-1", out.RefreshToken, "refresh token unchanged when server did not rotate")
	assert.Equal(t, "owner@example.com", out.Email)
}

func TestRefresher_RotatesRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-token",
			"expires_in":    1800,
			"refresh_token": "rotated-refresh",
		})
	}))
	defer srv.Close()

	r := NewRefresher(srv.Client(), WithTokenURL(srv.URL))
	out, err := r.Refresh(context.Background(), testCred())
	require.NoError(t, err)
	assert.Equal(t, "rotated-refresh", out.RefreshToken)
}

func TestRefresher_FallsBackToConfiguredClientPair(t *testing.T) {
	var gotID, gotSecret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotID = r.PostFormValue("client_id")
		gotSecret = r.PostFormValue("client_secret")
		require.NotEmpty(t, gotID, "token exchange must always carry a client_id")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "fresh-token", "expires_in": 3600})
	}))
	defer srv.Close()

	// File-loaded credentials carry only project and refresh token.
	bare := credential.Credential{ProjectID: "proj-1", RefreshToken: "refresh-1"}

	r := NewRefresher(srv.Client(), WithTokenURL(srv.URL),
		WithOAuthClient("configured-id", "configured-secret"))
	_, err := r.Refresh(context.Background(), bare)
	require.NoError(t, err)
	assert.Equal(t, "configured-id", gotID)
	assert.Equal(t, "configured-secret", gotSecret)

	// Without the option the gemini-cli public client is the default.
	r = NewRefresher(srv.Client(), WithTokenURL(srv.URL))
	_, err = r.Refresh(context.Background(), bare)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultOAuthClientID, gotID)
	assert.Equal(t, config.DefaultOAuthClientSecret, gotSecret)
}

func TestRefresher_CredentialPairWinsOverFallback(t *testing.T) {
	var gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotID = r.PostFormValue("client_id")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "fresh-token", "expires_in": 3600})
	}))
	defer srv.Close()

	r := NewRefresher(srv.Client(), WithTokenURL(srv.URL),
		WithOAuthClient("configured-id", "configured-secret"))
	_, err := r.Refresh(context.Background(), testCred())
	require.NoError(t, err)
	assert.Equal(t, "client-id", gotID)
}

func TestRefresher_InvalidGrantIsAuthoritative(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": "Token has been expired or revoked.",
		})
	}))
	defer srv.Close()

	r := NewRefresher(srv.Client(), WithTokenURL(srv.URL))
	_, err := r.Refresh(context.Background(), testCred())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindOAuthServer, apperrors.KindOf(err))
	assert.False(t, apperrors.IsRetryable(err))

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "invalid_grant", appErr.OAuthCode)
}

func TestRefresher_TooManyRequestsIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("<html>rate limited</html>"))
	}))
	defer srv.Close()

	r := NewRefresher(srv.Client(), WithTokenURL(srv.URL))
	_, err := r.Refresh(context.Background(), testCred())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindOAuthToken, apperrors.KindOf(err),
		"a throttled token endpoint is no verdict on the refresh token")
}

func TestRefresher_UnparseableBadRequestIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad gateway interfered"))
	}))
	defer srv.Close()

	r := NewRefresher(srv.Client(), WithTokenURL(srv.URL))
	_, err := r.Refresh(context.Background(), testCred())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindOAuthToken, apperrors.KindOf(err))
	assert.NotEqual(t, apperrors.KindOAuthServer, apperrors.KindOf(err))
}

func TestRefresher_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewRefresher(srv.Client(), WithTokenURL(srv.URL))
	_, err := r.Refresh(context.Background(), testCred())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindOAuthToken, apperrors.KindOf(err))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestRefresher_MissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"expires_in": 3600})
	}))
	defer srv.Close()

	r := NewRefresher(srv.Client(), WithTokenURL(srv.URL))
	_, err := r.Refresh(context.Background(), testCred())
	require.ErrorIs(t, err, apperrors.ErrMissingAccessToken)
}

func TestEmailFromIDToken(t *testing.T) {
	email, err := emailFromIDToken(fakeIDToken(t, "someone@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "someone@example.com", email)

	_, err = emailFromIDToken("not-a-jwt")
	assert.Error(t, err)

	_, err = emailFromIDToken(fakeIDToken(t, ""))
	assert.ErrorIs(t, err, apperrors.ErrMissingEmail)
}
