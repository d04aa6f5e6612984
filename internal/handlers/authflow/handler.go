// Package authflow serves the browser consent endpoints used to add
// credentials interactively.
package authflow

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"pollux-go/internal/constants"
	"pollux-go/internal/credential"
	apperrors "pollux-go/internal/errors"
	"pollux-go/internal/oauth"
)

const (
	csrfCookie     = "oauth_csrf_token"
	verifierCookie = "oauth_pkce_verifier"
)

// Submitter is the slice of the coordinator the flow needs.
type Submitter interface {
	SubmitCredentials(creds []credential.Credential)
}

// Handler drives the PKCE consent round-trip.
type Handler struct {
	flow     *oauth.Flow
	sink     Submitter
	nexusKey string
}

func NewHandler(flow *oauth.Flow, sink Submitter, nexusKey string) *Handler {
	return &Handler{flow: flow, sink: sink, nexusKey: nexusKey}
}

// Begin handles GET /auth/:secret. A wrong secret looks like any other
// unknown route.
func (h *Handler) Begin(c *gin.Context) {
	secret := c.Param("secret")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(h.nexusKey)) != 1 {
		c.Status(http.StatusNotFound)
		return
	}

	sess := h.flow.Begin()
	ttl := int(constants.OAuthSessionTTL.Seconds())
	setFlowCookie(c, csrfCookie, sess.State, ttl)
	setFlowCookie(c, verifierCookie, sess.Verifier, ttl)
	c.Redirect(http.StatusFound, sess.AuthURL)
}

// Callback handles GET /auth/callback. On success the new credential
// enters the onboarding pipeline; persistence happens after the first
// refresh round-trip.
func (h *Handler) Callback(c *gin.Context) {
	state := c.Query("state")
	if state == "" {
		writeFlowError(c, "missing `state` in callback")
		return
	}
	csrf, err := c.Cookie(csrfCookie)
	if err != nil || subtle.ConstantTimeCompare([]byte(state), []byte(csrf)) != 1 {
		writeFlowError(c, "CSRF token mismatch")
		return
	}
	code := c.Query("code")
	if code == "" {
		writeFlowError(c, "missing `code` in callback")
		return
	}
	verifier, err := c.Cookie(verifierCookie)
	if err != nil || verifier == "" {
		writeFlowError(c, "missing PKCE verifier cookie")
		return
	}

	cred, err := h.flow.Exchange(c.Request.Context(), code, verifier)
	if err != nil {
		log.WithError(err).Warn("oauth code exchange failed")
		if apperrors.KindOf(err) == apperrors.KindOAuthToken {
			writeFlowError(c, "consent produced no refresh token; retry the flow to force re-consent")
			return
		}
		writeFlowError(c, "authorization code exchange failed")
		return
	}

	clearFlowCookie(c, csrfCookie)
	clearFlowCookie(c, verifierCookie)

	h.sink.SubmitCredentials([]credential.Credential{cred})
	c.JSON(http.StatusOK, gin.H{
		"email":      cred.Email,
		"project_id": cred.ProjectID,
		"expiry":     cred.Expiry.Format(time.RFC3339),
		"status":     "submitted",
	})
}

func setFlowCookie(c *gin.Context, name, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, "/", "", false, true)
}

func clearFlowCookie(c *gin.Context, name string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, "", -1, "/", "", false, true)
}

func writeFlowError(c *gin.Context, message string) {
	body, _ := apperrors.New(http.StatusBadRequest, "OAUTH_FLOW_ERROR", message).ToJSON()
	c.Data(http.StatusBadRequest, "application/json", body)
}
