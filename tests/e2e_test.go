package tests

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestE2E_EmptyPoolReturnsNoCredential(t *testing.T) {
	env := startEnv(t, nil)

	w := env.generate(modelPro, `{"contents":[{"parts":[{"text":"hi"}]}]}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "NO_CREDENTIAL", gjson.Get(w.Body.String(), "error.code").String())
	assert.Empty(t, env.codeAssist.bearerTokens())
}

func TestE2E_RoundRobinAcrossPool(t *testing.T) {
	store := newPoolStore()
	store.seed(freshCred("alpha", "at-alpha"), true)
	store.seed(freshCred("beta", "at-beta"), true)
	env := startEnv(t, store)

	for i := 0; i < 4; i++ {
		w := env.generate(modelPro, `{"contents":[]}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, gjson.Get(w.Body.String(), "candidates").Exists())
	}

	assert.Equal(t, []string{"at-alpha", "at-beta", "at-alpha", "at-beta"},
		env.codeAssist.bearerTokens())
}

func TestE2E_RateLimitIsolatedPerModel(t *testing.T) {
	store := newPoolStore()
	store.seed(freshCred("alpha", "at-alpha"), true)
	env := startEnv(t, store)

	quotaBody := `{"error":{"code":429,"message":"Resource exhausted","status":"RESOURCE_EXHAUSTED"}}`
	env.codeAssist.setResponder(func(_ string, envelope []byte) (int, string) {
		if gjson.GetBytes(envelope, "model").String() == modelPro {
			return http.StatusTooManyRequests, quotaBody
		}
		return http.StatusOK, `{"response":{"candidates":[]}}`
	})

	// The 429 passes through verbatim and starts the cooldown.
	w := env.generate(modelPro, `{"contents":[]}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, quotaBody, w.Body.String())

	// Same model is now starved; the other model still serves.
	require.Eventually(t, func() bool {
		return env.generate(modelPro, `{"contents":[]}`).Code == http.StatusServiceUnavailable
	}, 2*time.Second, 10*time.Millisecond)

	w = env.generate(modelFlash, `{"contents":[]}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestE2E_ExpiredTokenRefreshedAndServing(t *testing.T) {
	store := newPoolStore()
	stale := freshCred("alpha", "at-stale")
	stale.Expiry = time.Now().Add(-time.Minute)
	id := store.seed(stale, true)
	env := startEnv(t, store)

	// First request finds nothing usable and kicks off the refresh.
	w := env.generate(modelPro, `{"contents":[]}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	require.Eventually(t, func() bool {
		return env.generate(modelPro, `{"contents":[]}`).Code == http.StatusOK
	}, 2*time.Second, 25*time.Millisecond)

	assert.Equal(t, 1, env.token.callCount())
	bearers := env.codeAssist.bearerTokens()
	require.NotEmpty(t, bearers)
	assert.Equal(t, "at-refreshed", bearers[len(bearers)-1])

	// The refreshed token was persisted.
	row, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "at-refreshed", row.Cred.AccessToken)
}

func TestE2E_BanSurvivesRestart(t *testing.T) {
	store := newPoolStore()
	id := store.seed(freshCred("alpha", "at-alpha"), true)
	env := startEnv(t, store)

	w := env.adminPost("/admin/api/credentials/1/ban")
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		return env.generate(modelPro, `{"contents":[]}`).Code == http.StatusServiceUnavailable
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, store.isActive(t, id))

	// A fresh coordinator over the same store must not resurrect it.
	env.stop()
	env2 := startEnv(t, store)

	w = env2.generate(modelPro, `{"contents":[]}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	list := env2.adminGet("/admin/api/credentials")
	require.Equal(t, http.StatusOK, list.Code)
	assert.Zero(t, gjson.Get(list.Body.String(), "credentials.#").Int())
}

func TestE2E_ReactivateReturnsToRotation(t *testing.T) {
	store := newPoolStore()
	store.seed(freshCred("alpha", "at-alpha"), true)
	env := startEnv(t, store)

	require.Equal(t, http.StatusAccepted, env.adminPost("/admin/api/credentials/1/ban").Code)
	require.Eventually(t, func() bool {
		return env.generate(modelPro, `{"contents":[]}`).Code == http.StatusServiceUnavailable
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusAccepted, env.adminPost("/admin/api/credentials/1/activate").Code)
	require.Eventually(t, func() bool {
		return env.generate(modelPro, `{"contents":[]}`).Code == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, store.isActive(t, 1))
}

func TestE2E_OversizedBodyRejected(t *testing.T) {
	env := startEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/"+modelPro+generateSfx,
		strings.NewReader(`{"contents":[]}`))
	req.Header.Set("x-goog-api-key", testNexusKey)
	req.ContentLength = 31 << 20

	w := env.do(req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	body := w.Body.String()
	assert.Equal(t, int64(413), gjson.Get(body, "error.code").Int())
	assert.Equal(t, "PAYLOAD_TOO_LARGE", gjson.Get(body, "error.status").String())
	assert.Empty(t, env.codeAssist.bearerTokens())
}

func TestE2E_StreamingUnwrapsEvents(t *testing.T) {
	store := newPoolStore()
	store.seed(freshCred("alpha", "at-alpha"), true)
	env := startEnv(t, store)

	env.codeAssist.setResponder(func(action string, _ []byte) (int, string) {
		require.Equal(t, "streamGenerateContent", action)
		return http.StatusOK, "data: {\"response\":{\"candidates\":[{\"index\":0}]}}\n\n" +
			"data: {\"response\":{\"candidates\":[{\"index\":1}]}}\n\n" +
			"data: [DONE]\n\n"
	})

	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/"+modelPro+streamSfx,
		strings.NewReader(`{"contents":[]}`))
	req.Header.Set("x-goog-api-key", testNexusKey)
	w := env.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, `data: {"candidates":[{"index":0}]}`)
	assert.Contains(t, body, `data: {"candidates":[{"index":1}]}`)
	assert.Contains(t, body, "data: [DONE]")
	assert.NotContains(t, body, `"response"`)
}

func TestE2E_InvalidTokenReportedOnce(t *testing.T) {
	store := newPoolStore()
	store.seed(freshCred("alpha", "at-alpha"), true)
	env := startEnv(t, store)

	env.codeAssist.setResponder(func(action string, _ []byte) (int, string) {
		if action == "generateContent" {
			return http.StatusUnauthorized, `{"error":{"code":401,"message":"expired","status":"UNAUTHENTICATED"}}`
		}
		return http.StatusOK, `{"response":{"candidates":[]}}`
	})

	// The 401 passes through and the credential goes into refresh; once
	// the fake token endpoint answers it serves again.
	w := env.generate(modelPro, `{"contents":[]}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	env.codeAssist.setResponder(func(string, []byte) (int, string) {
		return http.StatusOK, `{"response":{"candidates":[]}}`
	})
	require.Eventually(t, func() bool {
		return env.generate(modelPro, `{"contents":[]}`).Code == http.StatusOK
	}, 2*time.Second, 25*time.Millisecond)
	assert.Equal(t, 1, env.token.callCount())
}

func TestE2E_SubmitViaAdminOnboards(t *testing.T) {
	env := startEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/api/credentials",
		strings.NewReader(`{"project_id":"own-project","refresh_token":"rt-new"}`))
	req.Header.Set("Authorization", "Bearer "+testAdminKey)
	req.Header.Set("Content-Type", "application/json")
	w := env.do(req)
	require.Equal(t, http.StatusAccepted, w.Code)

	// Onboarding refreshes against the token stub and discovers the
	// companion project through loadCodeAssist.
	require.Eventually(t, func() bool {
		return env.generate(modelPro, `{"contents":[]}`).Code == http.StatusOK
	}, 3*time.Second, 25*time.Millisecond)

	rows, err := env.store.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "own-project", rows[0].Cred.ProjectID)
	assert.Equal(t, "at-refreshed", rows[0].Cred.AccessToken)
}

func TestE2E_HealthAndAuthSurface(t *testing.T) {
	env := startEnv(t, nil)

	w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	// Proxy surface without a key.
	w = env.do(httptest.NewRequest(http.MethodGet, "/v1beta/models", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", gjson.Get(w.Body.String(), "error.code").String())

	// Admin surface with a wrong key.
	req := httptest.NewRequest(http.MethodGet, "/admin/api/credentials", nil)
	req.Header.Set("x-api-key", "wrong")
	w = env.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Consent entrypoint with a wrong secret stays hidden.
	w = env.do(httptest.NewRequest(http.MethodGet, "/auth/wrong-secret", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
