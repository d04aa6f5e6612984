// Package tests hosts end-to-end scenarios over the full engine: real
// coordinator, real refresh pipeline, stubbed Google endpoints.
package tests

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pollux-go/internal/config"
	"pollux-go/internal/credential"
	"pollux-go/internal/events"
	"pollux-go/internal/logging"
	"pollux-go/internal/oauth"
	"pollux-go/internal/server"
	upstream "pollux-go/internal/upstream/gemini"
)

const (
	testNexusKey = "nexus-test-key"
	testAdminKey = "admin-test-key"
	modelPro     = "gemini-2.5-pro"
	modelFlash   = "gemini-2.5-flash"
	generateSfx  = ":generateContent"
	streamSfx    = ":streamGenerateContent"
)

// poolStore is the in-memory credential store shared by a scenario,
// durable across coordinator restarts within one test.
type poolStore struct {
	mu     sync.Mutex
	rows   map[int64]credential.StoredCredential
	nextID int64
}

func newPoolStore() *poolStore {
	return &poolStore{rows: make(map[int64]credential.StoredCredential)}
}

func (s *poolStore) seed(cred credential.Credential, active bool) int64 {
	id, _ := s.Upsert(context.Background(), cred, active)
	return id
}

func (s *poolStore) Upsert(_ context.Context, cred credential.Credential, active bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, row := range s.rows {
		if row.Cred.ProjectID == cred.ProjectID {
			s.rows[id] = credential.StoredCredential{ID: id, Cred: cred, Active: active}
			return id, nil
		}
	}
	s.nextID++
	s.rows[s.nextID] = credential.StoredCredential{ID: s.nextID, Cred: cred, Active: active}
	return s.nextID, nil
}

func (s *poolStore) UpsertMany(ctx context.Context, creds []credential.Credential, active bool) ([]int64, error) {
	ids := make([]int64, 0, len(creds))
	for _, cred := range creds {
		id, err := s.Upsert(ctx, cred, active)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *poolStore) ListActive(context.Context) ([]credential.StoredCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []credential.StoredCredential
	for id := int64(1); id <= s.nextID; id++ {
		if row, ok := s.rows[id]; ok && row.Active {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *poolStore) Get(_ context.Context, id int64) (credential.StoredCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return credential.StoredCredential{}, credential.ErrNotFound
	}
	return row, nil
}

func (s *poolStore) UpdateByID(_ context.Context, id int64, cred credential.Credential, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return credential.ErrNotFound
	}
	s.rows[id] = credential.StoredCredential{ID: id, Cred: cred, Active: active}
	return nil
}

func (s *poolStore) SetStatus(_ context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return credential.ErrNotFound
	}
	row.Active = active
	s.rows[id] = row
	return nil
}

func (s *poolStore) ListByIDs(_ context.Context, ids []int64) (map[int64]credential.StoredCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]credential.StoredCredential, len(ids))
	for _, id := range ids {
		if row, ok := s.rows[id]; ok {
			out[id] = row
		}
	}
	return out, nil
}

func (s *poolStore) isActive(t *testing.T, id int64) bool {
	t.Helper()
	row, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	return row.Active
}

// codeAssistStub fakes the Code Assist endpoint. It records the bearer
// token of every call and answers through a swappable responder.
type codeAssistStub struct {
	server *httptest.Server

	mu      sync.Mutex
	bearers []string
	respond func(action string, envelope []byte) (int, string)
}

func newCodeAssistStub() *codeAssistStub {
	stub := &codeAssistStub{}
	stub.respond = func(string, []byte) (int, string) {
		return http.StatusOK, `{"response":{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}}`
	}
	stub.server = httptest.NewServer(http.HandlerFunc(stub.handle))
	return stub
}

func (s *codeAssistStub) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	action := strings.TrimPrefix(r.URL.Path, "/v1internal:")

	s.mu.Lock()
	s.bearers = append(s.bearers, strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	respond := s.respond
	s.mu.Unlock()

	status, payload := respond(action, body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, payload)
}

func (s *codeAssistStub) setResponder(fn func(action string, envelope []byte) (int, string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.respond = fn
}

func (s *codeAssistStub) bearerTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bearers...)
}

// tokenStub fakes the OAuth token endpoint.
type tokenStub struct {
	server *httptest.Server

	mu          sync.Mutex
	calls       int
	accessToken string
}

func newTokenStub() *tokenStub {
	stub := &tokenStub{accessToken: "at-refreshed"}
	stub.server = httptest.NewServer(http.HandlerFunc(stub.handle))
	return stub
}

func (s *tokenStub) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	// Google rejects token exchanges without a client pair; so does the
	// stub, to keep the fallback path honest.
	if err := r.ParseForm(); err != nil || r.PostFormValue("client_id") == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"invalid_request","error_description":"client_id is missing"}`)
		return
	}

	s.mu.Lock()
	s.calls++
	token := s.accessToken
	s.mu.Unlock()

	fmt.Fprintf(w, `{"access_token":%q,"expires_in":3600,"token_type":"Bearer"}`, token)
}

func (s *tokenStub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// testEnv is one running instance of the proxy over stubbed Google
// endpoints.
type testEnv struct {
	cfg         *config.Config
	store       *poolStore
	coordinator *credential.Coordinator
	engine      http.Handler
	codeAssist  *codeAssistStub
	token       *tokenStub

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// startEnv boots pipeline, coordinator and engine over the given store.
// A nil store gets a fresh empty one.
func startEnv(t *testing.T, store *poolStore) *testEnv {
	t.Helper()
	if store == nil {
		store = newPoolStore()
	}

	codeAssist := newCodeAssistStub()
	token := newTokenStub()
	t.Cleanup(codeAssist.server.Close)
	t.Cleanup(token.server.Close)

	cfg := config.Default()
	cfg.NexusKey = testNexusKey
	cfg.ManagementKey = testAdminKey
	cfg.MetricsEnabled = false
	cfg.CodeAssistEndpoint = codeAssist.server.URL

	refresher := oauth.NewRefresher(http.DefaultClient, oauth.WithTokenURL(token.server.URL),
		oauth.WithOAuthClient(cfg.OAuthClientID, cfg.OAuthClientSecret))
	onboarder := oauth.NewOnboarder(http.DefaultClient, codeAssist.server.URL)
	pipeline := oauth.NewPipeline(refresher, onboarder, 2)

	hub := events.NewHub()
	coordinator := credential.NewCoordinator(store, pipeline, cfg.ModelList, nil,
		credential.WithEventPublisher(hub))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); _ = pipeline.Run(ctx) }()
		go func() { defer wg.Done(); _ = coordinator.Run(ctx) }()
		wg.Wait()
	}()

	env := &testEnv{
		cfg:         cfg,
		store:       store,
		coordinator: coordinator,
		codeAssist:  codeAssist,
		token:       token,
		cancel:      cancel,
		done:        done,
	}
	env.engine = server.BuildEngine(cfg, server.Dependencies{
		Coordinator: coordinator,
		Store:       store,
		Hub:         hub,
		Upstream:    upstream.New(http.DefaultClient, cfg.CodeAssistEndpoint, false),
		Flow:        oauth.NewFlow("client-id", "client-secret", "http://localhost/auth/callback", http.DefaultClient),
		LogStream:   logging.NewLogStream(),
	})
	t.Cleanup(env.stop)
	return env
}

// stop tears down the coordinator and pipeline. Safe to call twice; the
// store survives for a restart.
func (e *testEnv) stop() {
	e.stopOnce.Do(func() {
		e.cancel()
		<-e.done
	})
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

// generate posts a proxy request for model with the inbound API key set.
func (e *testEnv) generate(model, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/"+model+generateSfx, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", testNexusKey)
	return e.do(req)
}

func (e *testEnv) adminPost(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set("Authorization", "Bearer "+testAdminKey)
	return e.do(req)
}

func (e *testEnv) adminGet(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+testAdminKey)
	return e.do(req)
}

func freshCred(project, token string) credential.Credential {
	return credential.Credential{
		Email:        project + "@example.com",
		ProjectID:    project,
		RefreshToken: "rt-" + project,
		AccessToken:  token,
		Expiry:       time.Now().Add(time.Hour),
	}
}
