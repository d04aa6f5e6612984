package oauth

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlow_Begin(t *testing.T) {
	f := NewFlow("cid", "csecret", "http://localhost:8000/auth/callback", nil)

	sess := f.Begin()
	require.NotEmpty(t, sess.State)
	require.NotEmpty(t, sess.Verifier)

	parsed, err := url.Parse(sess.AuthURL)
	require.NoError(t, err)
	q := parsed.Query()

	assert.Equal(t, "cid", q.Get("client_id"))
	assert.Equal(t, "http://localhost:8000/auth/callback", q.Get("redirect_uri"))
	assert.Equal(t, sess.State, q.Get("state"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Contains(t, q.Get("scope"), "cloud-platform")
}

func TestFlow_BeginUniqueSessions(t *testing.T) {
	f := NewFlow("cid", "csecret", "http://localhost:8000/auth/callback", nil)
	a, b := f.Begin(), f.Begin()
	assert.NotEqual(t, a.State, b.State)
	assert.NotEqual(t, a.Verifier, b.Verifier)
}
