// Package management exposes the admin surface: pool inspection,
// credential submission, bans, re-activation and the event/log
// WebSocket streams.
package management

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"pollux-go/internal/config"
	"pollux-go/internal/constants"
	"pollux-go/internal/credential"
	apperrors "pollux-go/internal/errors"
	"pollux-go/internal/events"
	"pollux-go/internal/logging"
)

// Pool is the coordinator surface the admin API drives.
type Pool interface {
	Snapshot(ctx context.Context) ([]credential.CredentialStatus, error)
	SubmitCredentials(creds []credential.Credential)
	ReportBanned(id int64)
	ReportInvalid(id int64)
	Activate(id int64, cred credential.Credential)
}

// Store is the persistence slice the admin API reads and flips status
// through. ListByIDs backs the merged listing.
type Store interface {
	Get(ctx context.Context, id int64) (credential.StoredCredential, error)
	SetStatus(ctx context.Context, id int64, active bool) error
	ListByIDs(ctx context.Context, ids []int64) (map[int64]credential.StoredCredential, error)
}

// Handler serves /admin/api.
type Handler struct {
	cfg    *config.Config
	pool   Pool
	store  Store
	hub    events.Subscriber
	stream *logging.LogStream
}

func NewHandler(cfg *config.Config, pool Pool, store Store, hub events.Subscriber, stream *logging.LogStream) *Handler {
	return &Handler{cfg: cfg, pool: pool, store: store, hub: hub, stream: stream}
}

// Auth gates the admin group on the management key. An unset key keeps
// the whole surface dark (404 on every route).
func (h *Handler) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.cfg.ManagementKey == "" {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		if !config.CheckManagementKey(h.cfg, adminKey(c)) {
			body, _ := apperrors.New(http.StatusUnauthorized, "UNAUTHORIZED", "invalid management key").ToJSON()
			c.Data(http.StatusUnauthorized, "application/json", body)
			c.Abort()
			return
		}
		c.Next()
	}
}

func adminKey(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return c.GetHeader("x-api-key")
}

// credentialView merges the manager snapshot with the store row.
type credentialView struct {
	credential.CredentialStatus
	Active bool `json:"active"`
}

// List handles GET /admin/api/credentials.
func (h *Handler) List(c *gin.Context) {
	snapshot, err := h.pool.Snapshot(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "SNAPSHOT_FAILED", "failed to snapshot credential pool")
		return
	}

	ids := make([]int64, 0, len(snapshot))
	for _, status := range snapshot {
		ids = append(ids, status.ID)
	}
	rows, err := h.store.ListByIDs(c.Request.Context(), ids)
	if err != nil {
		log.WithError(err).Warn("admin listing could not read store rows")
		rows = nil
	}

	views := make([]credentialView, 0, len(snapshot))
	for _, status := range snapshot {
		view := credentialView{CredentialStatus: status, Active: true}
		if row, ok := rows[status.ID]; ok {
			view.Active = row.Active
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"credentials": views})
}

// Submit handles POST /admin/api/credentials: a single credential object
// or an array of them.
func (h *Handler) Submit(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "failed to read request body")
		return
	}

	creds, err := parseSubmission(body)
	if err != nil {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	h.pool.SubmitCredentials(creds)
	c.JSON(http.StatusAccepted, gin.H{"submitted": len(creds)})
}

func parseSubmission(body []byte) ([]credential.Credential, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var raws []json.RawMessage
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, err
		}
		creds := make([]credential.Credential, 0, len(raws))
		for _, raw := range raws {
			cred, err := credential.Parse(raw)
			if err != nil {
				return nil, err
			}
			creds = append(creds, cred)
		}
		return creds, nil
	}

	cred, err := credential.Parse(body)
	if err != nil {
		return nil, err
	}
	return []credential.Credential{cred}, nil
}

// Ban handles POST /admin/api/credentials/:id/ban.
func (h *Handler) Ban(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	h.pool.ReportBanned(id)
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "banned"})
}

// Activate handles POST /admin/api/credentials/:id/activate: flips the
// store row back to active and re-enters it into the rotation queues.
func (h *Handler) Activate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), constants.StorageOpTimeout)
	defer cancel()

	stored, err := h.store.Get(ctx, id)
	if err != nil {
		if err == credential.ErrNotFound {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "no such credential")
			return
		}
		writeError(c, http.StatusInternalServerError, "DATABASE", "failed to load credential")
		return
	}
	if err := h.store.SetStatus(ctx, id, true); err != nil {
		writeError(c, http.StatusInternalServerError, "DATABASE", "failed to update credential status")
		return
	}

	h.pool.Activate(id, stored.Cred)
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "activated"})
}

// Refresh handles POST /admin/api/credentials/:id/refresh: forces the
// credential through the maintain pipeline.
func (h *Handler) Refresh(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	h.pool.ReportInvalid(id)
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "refreshing"})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "invalid credential id")
		return 0, false
	}
	return id, true
}

func writeError(c *gin.Context, status int, code, message string) {
	body, _ := apperrors.New(status, code, message).ToJSON()
	c.Data(status, "application/json", body)
	c.Abort()
}
