package credential

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"pollux-go/internal/constants"
	apperrors "pollux-go/internal/errors"
	"pollux-go/internal/events"
	"pollux-go/internal/monitoring"
)

type message interface{ isMessage() }

type getCredentialMsg struct {
	model string
	reply chan *Assigned
}

type snapshotMsg struct {
	reply chan []CredentialStatus
}

type reportRateLimitMsg struct {
	id       int64
	model    string
	cooldown time.Duration
}

type reportInvalidMsg struct{ id int64 }

type reportBannedMsg struct{ id int64 }

type submitMsg struct{ creds []Credential }

type activateMsg struct {
	id   int64
	cred Credential
}

func (getCredentialMsg) isMessage()   {}
func (snapshotMsg) isMessage()        {}
func (reportRateLimitMsg) isMessage() {}
func (reportInvalidMsg) isMessage()   {}
func (reportBannedMsg) isMessage()    {}
func (submitMsg) isMessage()          {}
func (activateMsg) isMessage()        {}

// Coordinator is the single goroutine that owns the Manager. Every pool
// mutation flows through its FIFO mailbox; refresh outcomes arrive on the
// pipeline's outcome channel in completion order.
type Coordinator struct {
	store Store
	pipe  RefreshQueue
	mgr   *Manager
	hub   events.Publisher

	mailbox chan message
	stopped chan struct{}
}

// CoordinatorOption customizes Coordinator construction.
type CoordinatorOption func(*Coordinator)

// WithEventPublisher attaches the event hub used by the admin stream.
func WithEventPublisher(hub events.Publisher) CoordinatorOption {
	return func(c *Coordinator) { c.hub = hub }
}

// NewCoordinator builds a coordinator over the given store and refresh
// pipeline. Run must be started before the handle methods are used.
func NewCoordinator(store Store, pipe RefreshQueue, models []string, mgrOpts []ManagerOption, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:   store,
		pipe:    pipe,
		mgr:     NewManager(models, mgrOpts...),
		mailbox: make(chan message, constants.CoordinatorMailboxSize),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run loads active credentials from the store and serves the mailbox
// until ctx is cancelled. It is the only goroutine that touches the
// Manager.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.stopped)

	rows, err := c.store.ListActive(ctx)
	if err != nil {
		return apperrors.Database("list active credentials", err)
	}
	for _, row := range rows {
		c.mgr.Add(row.ID, row.Cred)
	}
	log.WithFields(log.Fields{
		"credentials": c.mgr.TotalCredentials(),
		"queues":      len(c.mgr.Models()),
	}).Info("coordinator started from store")

	for {
		select {
		case <-ctx.Done():
			log.Info("coordinator stopping")
			return nil
		case msg := <-c.mailbox:
			c.dispatch(ctx, msg)
		case outcome, ok := <-c.pipe.Outcomes():
			if !ok {
				log.Warn("refresh outcome channel closed; coordinator stopping")
				return nil
			}
			c.handleRefreshComplete(ctx, outcome)
		}
	}
}

func (c *Coordinator) dispatch(ctx context.Context, msg message) {
	switch m := msg.(type) {
	case getCredentialMsg:
		c.handleGetCredential(m)
	case snapshotMsg:
		m.reply <- c.mgr.Snapshot()
	case reportRateLimitMsg:
		c.handleReportRateLimit(m)
	case reportInvalidMsg:
		c.handleReportInvalid(m.id)
	case reportBannedMsg:
		c.handleReportBanned(ctx, m.id)
	case submitMsg:
		c.handleSubmit(ctx, m.creds)
	case activateMsg:
		c.handleActivate(m)
	}
}

// GetCredential asks the pool for one assignable credential. A nil
// result with nil error means the pool has nothing usable for the model.
func (c *Coordinator) GetCredential(ctx context.Context, model string) (*Assigned, error) {
	reply := make(chan *Assigned, 1)
	if err := c.call(ctx, getCredentialMsg{model: model, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case assigned := <-reply:
		return assigned, nil
	case <-ctx.Done():
		return nil, apperrors.Coordinator("get credential", ctx.Err())
	case <-c.stopped:
		return nil, apperrors.Coordinator("coordinator stopped", nil)
	}
}

// Snapshot returns the admin view of the pool.
func (c *Coordinator) Snapshot(ctx context.Context) ([]CredentialStatus, error) {
	reply := make(chan []CredentialStatus, 1)
	if err := c.call(ctx, snapshotMsg{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return nil, apperrors.Coordinator("snapshot", ctx.Err())
	case <-c.stopped:
		return nil, apperrors.Coordinator("coordinator stopped", nil)
	}
}

// ReportRateLimit records an upstream 429 verdict. Fire and forget.
func (c *Coordinator) ReportRateLimit(id int64, model string, cooldown time.Duration) {
	c.cast(reportRateLimitMsg{id: id, model: model, cooldown: cooldown})
}

// ReportInvalid records an upstream 401/403 verdict and triggers a
// refresh. Fire and forget.
func (c *Coordinator) ReportInvalid(id int64) {
	c.cast(reportInvalidMsg{id: id})
}

// ReportBanned permanently retires a credential. Fire and forget.
func (c *Coordinator) ReportBanned(id int64) {
	c.cast(reportBannedMsg{id: id})
}

// SubmitCredentials feeds new credentials through the onboarding
// pipeline. Fire and forget; each credential proceeds independently.
func (c *Coordinator) SubmitCredentials(creds []Credential) {
	if len(creds) == 0 {
		return
	}
	c.cast(submitMsg{creds: creds})
}

// Activate installs an already-persisted credential into the queues.
// Used by the submission completion path and the admin re-activate
// endpoint.
func (c *Coordinator) Activate(id int64, cred Credential) {
	c.cast(activateMsg{id: id, cred: cred})
}

func (c *Coordinator) call(ctx context.Context, msg message) error {
	select {
	case c.mailbox <- msg:
		return nil
	case <-ctx.Done():
		return apperrors.Coordinator("mailbox send", ctx.Err())
	case <-c.stopped:
		return apperrors.Coordinator("coordinator stopped", nil)
	}
}

func (c *Coordinator) cast(msg message) {
	select {
	case c.mailbox <- msg:
	case <-c.stopped:
		log.Debug("coordinator stopped; dropping message")
	default:
		log.Warn("coordinator mailbox full; dropping message")
	}
}

func (c *Coordinator) handleGetCredential(m getCredentialMsg) {
	assignment := c.mgr.GetAssigned(m.model)

	// Candidates without a usable token surface as internal invalid
	// reports, feeding the refresh pipeline.
	for _, id := range assignment.RefreshIDs {
		c.handleReportInvalid(id)
	}

	if assignment.Assigned != nil {
		monitoring.CredentialAssignmentsTotal.WithLabelValues(m.model).Inc()
		log.WithFields(log.Fields{
			"credential_id": assignment.Assigned.ID,
			"project_id":    assignment.Assigned.ProjectID,
			"model":         m.model,
		}).Debug("credential assigned")
		m.reply <- assignment.Assigned
		return
	}

	monitoring.CredentialNoAvailableTotal.WithLabelValues(m.model).Inc()
	log.WithFields(log.Fields{
		"model":          m.model,
		"queue_len":      c.mgr.QueueLen(m.model),
		"cooldown_len":   c.mgr.CooldownLen(),
		"refreshing_len": c.mgr.RefreshingLen(),
	}).Warn("no credential available")
	m.reply <- nil
}

func (c *Coordinator) handleReportRateLimit(m reportRateLimitMsg) {
	if !c.mgr.Contains(m.id) {
		return
	}
	c.mgr.ReportRateLimit(m.id, m.model, m.cooldown)
	monitoring.CredentialCooldownsTotal.WithLabelValues(m.model).Inc()
	c.publish(events.TopicCredentialCooldown, events.CredentialEvent{
		ID:              m.id,
		Project:         c.mgr.ProjectID(m.id),
		Model:           m.model,
		CooldownSeconds: int64(m.cooldown.Seconds()),
	})
	log.WithFields(log.Fields{
		"credential_id": m.id,
		"model":         m.model,
		"cooldown_s":    int64(m.cooldown.Seconds()),
	}).Info("credential cooling down, lazy re-enqueue")
}

func (c *Coordinator) handleReportInvalid(id int64) {
	if c.mgr.IsRefreshing(id) {
		log.WithField("credential_id", id).Debug("already refreshing; duplicate invalid report skipped")
		return
	}
	cred, ok := c.mgr.CredentialCopy(id)
	if !ok {
		return
	}
	log.WithFields(log.Fields{
		"credential_id": id,
		"project_id":    cred.ProjectID,
	}).Info("invalid reported; starting refresh")

	c.mgr.MarkRefreshing(id)
	if err := c.pipe.Enqueue(Job{Kind: JobMaintain, ID: id, Cred: cred}); err != nil {
		// Transient: restore the credential so it stays usable.
		c.mgr.Add(id, cred)
		log.WithField("credential_id", id).WithError(err).Warn("failed to enqueue refresh job")
	}
}

func (c *Coordinator) handleReportBanned(ctx context.Context, id int64) {
	project := c.mgr.ProjectID(id)
	removed := c.mgr.Contains(id)
	c.mgr.Remove(id)

	storeCtx, cancel := context.WithTimeout(ctx, constants.StorageOpTimeout)
	defer cancel()
	if err := c.store.SetStatus(storeCtx, id, false); err != nil {
		log.WithField("credential_id", id).WithError(err).Warn("ban failed to update store status")
	}
	monitoring.CredentialBansTotal.Inc()
	c.publish(events.TopicCredentialBanned, events.CredentialEvent{ID: id, Project: project})
	log.WithFields(log.Fields{
		"credential_id":    id,
		"project_id":       project,
		"removed_from_mem": removed,
	}).Info("credential banned")
}

// handleSubmit spawns one detached task per credential: onboard, upsert,
// then re-enter the mailbox with an activate message. The coordinator is
// never blocked on OAuth round trips.
func (c *Coordinator) handleSubmit(ctx context.Context, creds []Credential) {
	log.WithField("count", len(creds)).Info("credential batch submitted, dispatching")
	for _, cred := range creds {
		cred := cred
		reply := make(chan Outcome, 1)
		if err := c.pipe.Enqueue(Job{Kind: JobOnboard, Cred: cred, Reply: reply}); err != nil {
			log.WithField("project_id", cred.ProjectID).WithError(err).Warn("failed to enqueue onboard job")
			continue
		}
		go c.awaitOnboard(ctx, cred.ProjectID, reply)
	}
}

func (c *Coordinator) awaitOnboard(ctx context.Context, project string, reply <-chan Outcome) {
	var outcome Outcome
	select {
	case outcome = <-reply:
	case <-ctx.Done():
		return
	}
	if outcome.Err != nil {
		log.WithField("project_id", project).WithError(outcome.Err).Warn("onboard failed; credential dropped")
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, constants.StorageOpTimeout)
	defer cancel()
	id, err := c.store.Upsert(storeCtx, outcome.Cred, true)
	if err != nil {
		log.WithField("project_id", outcome.Cred.ProjectID).WithError(err).Warn("onboard upsert failed")
		return
	}
	c.Activate(id, outcome.Cred)
}

func (c *Coordinator) handleActivate(m activateMsg) {
	c.mgr.Add(m.id, m.cred)
	c.publish(events.TopicCredentialActivated, events.CredentialEvent{
		ID:      m.id,
		Email:   m.cred.Email,
		Project: m.cred.ProjectID,
	})
	log.WithFields(log.Fields{
		"credential_id": m.id,
		"project_id":    m.cred.ProjectID,
	}).Info("credential activated")
}

func (c *Coordinator) handleRefreshComplete(ctx context.Context, outcome Outcome) {
	id := outcome.Job.ID
	if !c.mgr.IsRefreshing(id) {
		// Stale: the credential was banned or otherwise removed while
		// the refresh was in flight.
		log.WithField("credential_id", id).Debug("stale refresh outcome ignored")
		return
	}

	if outcome.Err == nil {
		c.mgr.Add(id, outcome.Cred)
		storeCtx, cancel := context.WithTimeout(ctx, constants.StorageOpTimeout)
		defer cancel()
		if err := c.store.UpdateByID(storeCtx, id, outcome.Cred, true); err != nil {
			log.WithField("credential_id", id).WithError(err).Warn("store update after refresh failed")
		}
		c.publish(events.TopicCredentialRefreshed, events.CredentialEvent{
			ID:      id,
			Project: outcome.Cred.ProjectID,
		})
		log.WithFields(log.Fields{
			"credential_id": id,
			"project_id":    outcome.Cred.ProjectID,
		}).Debug("refresh completed")
		return
	}

	if apperrors.KindOf(outcome.Err) == apperrors.KindOAuthServer {
		// Authoritative verdict: the refresh token is dead.
		log.WithField("credential_id", id).WithError(outcome.Err).Error("refresh rejected by OAuth server; removing credential")
		c.mgr.Remove(id)
		storeCtx, cancel := context.WithTimeout(ctx, constants.StorageOpTimeout)
		defer cancel()
		if err := c.store.SetStatus(storeCtx, id, false); err != nil {
			log.WithField("credential_id", id).WithError(err).Warn("store status update after failed refresh")
		}
		c.publish(events.TopicCredentialRefreshFailed, events.CredentialEvent{ID: id, Reason: "oauth_server"})
		return
	}

	// Transient failure: keep the credential with its previous tokens.
	log.WithField("credential_id", id).WithError(outcome.Err).Warn("refresh failed transiently; keeping credential")
	if prior, ok := c.mgr.CredentialCopy(id); ok {
		c.mgr.Add(id, prior)
	}
	c.publish(events.TopicCredentialRefreshFailed, events.CredentialEvent{ID: id, Reason: "transient"})
}

func (c *Coordinator) publish(topic string, payload events.CredentialEvent) {
	if c.hub == nil {
		return
	}
	c.hub.Publish(context.Background(), topic, payload, nil)
}
