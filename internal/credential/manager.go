package credential

import (
	"time"

	"pollux-go/internal/constants"
)

// record is the Manager's authoritative copy of one credential.
type record struct {
	cred Credential
}

type cooldownKey struct {
	id    int64
	model string
}

// Manager holds the in-memory pool state: per-model FIFO queues, the
// cooldown table and the refreshing set. It is a pure data structure with
// no locking; the coordinator goroutine is its only owner.
type Manager struct {
	records    map[int64]*record
	queues     map[string][]int64
	cooldowns  map[cooldownKey]time.Time
	refreshing map[int64]struct{}

	models []string
	now    func() time.Time
}

// ManagerOption customizes Manager construction.
type ManagerOption func(*Manager)

// WithNowFunc overrides the clock used for cooldown and expiry decisions.
func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates an empty pool over the given model keys. The model
// set is fixed for the lifetime of the manager.
func NewManager(models []string, opts ...ManagerOption) *Manager {
	m := &Manager{
		records:    make(map[int64]*record),
		queues:     make(map[string][]int64, len(models)),
		cooldowns:  make(map[cooldownKey]time.Time),
		refreshing: make(map[int64]struct{}),
		models:     append([]string(nil), models...),
		now:        time.Now,
	}
	for _, model := range m.models {
		m.queues[model] = nil
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Models returns the configured model keys.
func (m *Manager) Models() []string { return append([]string(nil), m.models...) }

// Add installs or overwrites the record for id and appends id to the tail
// of every model queue where it is not already present. Any refreshing
// mark is cleared; existing cooldowns survive.
func (m *Manager) Add(id int64, cred Credential) {
	m.records[id] = &record{cred: cred}
	delete(m.refreshing, id)
	for _, model := range m.models {
		if !contains(m.queues[model], id) {
			m.queues[model] = append(m.queues[model], id)
		}
	}
}

// Remove drops the credential from records, every queue, the cooldown
// table and the refreshing set.
func (m *Manager) Remove(id int64) {
	delete(m.records, id)
	delete(m.refreshing, id)
	for model, queue := range m.queues {
		m.queues[model] = without(queue, id)
		delete(m.cooldowns, cooldownKey{id: id, model: model})
	}
}

// Contains reports whether the id has a record.
func (m *Manager) Contains(id int64) bool {
	_, ok := m.records[id]
	return ok
}

// CredentialCopy returns a copy of the full record for id.
func (m *Manager) CredentialCopy(id int64) (Credential, bool) {
	rec, ok := m.records[id]
	if !ok {
		return Credential{}, false
	}
	return rec.cred, true
}

// ProjectID returns the project of the record, or "-" when unknown.
func (m *Manager) ProjectID(id int64) string {
	if rec, ok := m.records[id]; ok {
		return rec.cred.ProjectID
	}
	return "-"
}

// MarkRefreshing removes the id from every queue and records it as having
// a refresh in flight. Membership in the refreshing set is the exclusion
// lock preventing duplicate refresh jobs.
func (m *Manager) MarkRefreshing(id int64) {
	for model, queue := range m.queues {
		m.queues[model] = without(queue, id)
	}
	m.refreshing[id] = struct{}{}
}

// IsRefreshing reports whether a refresh is in flight for id.
func (m *Manager) IsRefreshing(id int64) bool {
	_, ok := m.refreshing[id]
	return ok
}

// ReportRateLimit starts a cooldown for (id, model). The id stays queued
// for lazy skip, but a head position is rotated to the tail so the next
// assignment does not have to scan past it. Other model queues are
// untouched.
func (m *Manager) ReportRateLimit(id int64, model string, cooldown time.Duration) {
	if _, ok := m.records[id]; !ok {
		return
	}
	if _, ok := m.queues[model]; !ok {
		return
	}
	m.cooldowns[cooldownKey{id: id, model: model}] = m.now().Add(cooldown)

	queue := m.queues[model]
	if len(queue) > 0 && queue[0] == id {
		m.queues[model] = append(queue[1:], id)
	}
}

// Assignment is the result of one scheduling pass: the chosen credential
// (nil when the queue is exhausted) and the ids that turned out to need a
// refresh while scanning.
type Assignment struct {
	Assigned   *Assigned
	RefreshIDs []int64
}

// GetAssigned scans queue[model] head to tail and returns the first
// credential able to serve now. Cooldown entries are skipped while active
// and dropped once expired; candidates without a usable access token are
// dequeued into RefreshIDs. The winner is re-pushed to the tail so
// concurrent callers rotate across the pool.
func (m *Manager) GetAssigned(model string) Assignment {
	queue, ok := m.queues[model]
	if !ok {
		return Assignment{}
	}
	now := m.now()

	var refreshIDs []int64
	idx := 0
	for idx < len(queue) {
		id := queue[idx]
		key := cooldownKey{id: id, model: model}

		if notBefore, ok := m.cooldowns[key]; ok {
			if now.Before(notBefore) {
				idx++
				continue
			}
			delete(m.cooldowns, key)
		}

		rec, ok := m.records[id]
		if !ok {
			// Orphaned queue entry; drop it.
			queue = append(queue[:idx], queue[idx+1:]...)
			continue
		}

		if !rec.cred.Usable(now, constants.ExpirySkew) {
			queue = append(queue[:idx], queue[idx+1:]...)
			refreshIDs = append(refreshIDs, id)
			continue
		}

		queue = append(queue[:idx], queue[idx+1:]...)
		queue = append(queue, id)
		m.queues[model] = queue
		return Assignment{
			Assigned: &Assigned{
				ID:          id,
				ProjectID:   rec.cred.ProjectID,
				AccessToken: rec.cred.AccessToken,
				Model:       model,
			},
			RefreshIDs: refreshIDs,
		}
	}

	m.queues[model] = queue
	return Assignment{RefreshIDs: refreshIDs}
}

// QueueLen returns the current length of one model queue.
func (m *Manager) QueueLen(model string) int { return len(m.queues[model]) }

// CooldownLen returns the number of live cooldown entries.
func (m *Manager) CooldownLen() int { return len(m.cooldowns) }

// RefreshingLen returns the number of refreshes in flight.
func (m *Manager) RefreshingLen() int { return len(m.refreshing) }

// TotalCredentials returns the number of records held.
func (m *Manager) TotalCredentials() int { return len(m.records) }

// CredentialStatus is a point-in-time view of one pool member, used by
// the admin listing.
type CredentialStatus struct {
	ID         int64            `json:"id"`
	Email      string           `json:"email,omitempty"`
	ProjectID  string           `json:"project_id"`
	Expiry     time.Time        `json:"expiry"`
	Refreshing bool             `json:"refreshing"`
	Cooldowns  map[string]int64 `json:"cooldowns,omitempty"`
}

// Snapshot returns the status of every record, with per-model cooldown
// remainders in whole seconds.
func (m *Manager) Snapshot() []CredentialStatus {
	now := m.now()
	out := make([]CredentialStatus, 0, len(m.records))
	for id, rec := range m.records {
		status := CredentialStatus{
			ID:         id,
			Email:      rec.cred.Email,
			ProjectID:  rec.cred.ProjectID,
			Expiry:     rec.cred.Expiry,
			Refreshing: m.IsRefreshing(id),
		}
		for _, model := range m.models {
			if notBefore, ok := m.cooldowns[cooldownKey{id: id, model: model}]; ok {
				remain := int64(notBefore.Sub(now).Seconds())
				if remain < 0 {
					remain = 0
				}
				if status.Cooldowns == nil {
					status.Cooldowns = make(map[string]int64)
				}
				status.Cooldowns[model] = remain
			}
		}
		out = append(out, status)
	}
	return out
}

func contains(queue []int64, id int64) bool {
	for _, q := range queue {
		if q == id {
			return true
		}
	}
	return false
}

func without(queue []int64, id int64) []int64 {
	out := queue[:0]
	for _, q := range queue {
		if q != id {
			out = append(out, q)
		}
	}
	return out
}
