package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"pollux-go/internal/config"
	"pollux-go/internal/credential"
	"pollux-go/internal/events"
	"pollux-go/internal/logging"
	"pollux-go/internal/oauth"
	upstream "pollux-go/internal/upstream/gemini"
)

type memStore struct{}

func (memStore) Upsert(ctx context.Context, cred credential.Credential, active bool) (int64, error) {
	return 1, nil
}
func (memStore) UpsertMany(ctx context.Context, creds []credential.Credential, active bool) ([]int64, error) {
	return nil, nil
}
func (memStore) ListActive(ctx context.Context) ([]credential.StoredCredential, error) {
	return nil, nil
}
func (memStore) Get(ctx context.Context, id int64) (credential.StoredCredential, error) {
	return credential.StoredCredential{}, credential.ErrNotFound
}
func (memStore) UpdateByID(ctx context.Context, id int64, cred credential.Credential, active bool) error {
	return nil
}
func (memStore) SetStatus(ctx context.Context, id int64, active bool) error { return nil }
func (memStore) ListByIDs(ctx context.Context, ids []int64) (map[int64]credential.StoredCredential, error) {
	return map[int64]credential.StoredCredential{}, nil
}

type noopQueue struct{ out chan credential.Outcome }

func (q noopQueue) Enqueue(credential.Job) error        { return nil }
func (q noopQueue) Outcomes() <-chan credential.Outcome { return q.out }

func testEngine(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	coord := credential.NewCoordinator(memStore{}, noopQueue{out: make(chan credential.Outcome)}, cfg.ModelList, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = coord.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return BuildEngine(cfg, Dependencies{
		Coordinator: coord,
		Store:       memStore{},
		Hub:         events.NewHub(),
		Upstream:    upstream.New(http.DefaultClient, "http://127.0.0.1:0", false),
		Flow:        oauth.NewFlow(cfg.OAuthClientID, cfg.OAuthClientSecret, cfg.OAuthRedirectURL, nil),
		LogStream:   logging.NewLogStream(),
	})
}

func TestBuildEngine_Health(t *testing.T) {
	cfg := config.Default()
	cfg.NexusKey = "nk"
	engine := testEngine(t, cfg)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBuildEngine_ProxyRequiresKey(t *testing.T) {
	cfg := config.Default()
	cfg.NexusKey = "nk"
	engine := testEngine(t, cfg)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1beta/models", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("x-goog-api-key", "nk")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Positive(t, gjson.Get(w.Body.String(), "models.#").Int())
}

func TestBuildEngine_EmptyPoolEnvelope(t *testing.T) {
	cfg := config.Default()
	cfg.NexusKey = "nk"
	engine := testEngine(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-2.5-pro:generateContent", nil)
	req.Header.Set("x-goog-api-key", "nk")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "NO_CREDENTIAL", gjson.Get(w.Body.String(), "error.code").String())
}

func TestBuildEngine_AdminDarkWithoutKey(t *testing.T) {
	cfg := config.Default()
	cfg.NexusKey = "nk"
	cfg.ManagementKey = ""
	engine := testEngine(t, cfg)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/api/credentials", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBuildEngine_MetricsToggle(t *testing.T) {
	cfg := config.Default()
	cfg.NexusKey = "nk"
	cfg.MetricsEnabled = false
	engine := testEngine(t, cfg)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
