package credential

import (
	"context"
	"errors"
)

// ErrNotFound is returned by store lookups for absent rows.
var ErrNotFound = errors.New("credential not found")

// Store is the durable persistence contract consumed by the coordinator.
// Implementations must make every successful write durable before
// returning.
type Store interface {
	// Upsert inserts or replaces by project_id and returns the stable
	// row id.
	Upsert(ctx context.Context, cred Credential, active bool) (int64, error)
	// UpsertMany upserts all credentials in one transaction and returns
	// ids in input order; all-or-nothing.
	UpsertMany(ctx context.Context, creds []Credential, active bool) ([]int64, error)
	// ListActive returns every active row ordered by id ascending.
	ListActive(ctx context.Context) ([]StoredCredential, error)
	// Get fetches one row by id; ErrNotFound when absent.
	Get(ctx context.Context, id int64) (StoredCredential, error)
	// UpdateByID overwrites every mutable column of the row.
	UpdateByID(ctx context.Context, id int64, cred Credential, active bool) error
	// SetStatus flips only the active flag.
	SetStatus(ctx context.Context, id int64, active bool) error
}
