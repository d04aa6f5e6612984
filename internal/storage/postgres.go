// Package storage persists the credential pool in PostgreSQL. The schema
// is managed by embedded golang-migrate migrations; see
// internal/migrations.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pq "github.com/lib/pq"
	log "github.com/sirupsen/logrus"

	"pollux-go/internal/constants"
	"pollux-go/internal/credential"
	apperrors "pollux-go/internal/errors"
	"pollux-go/internal/migrations"
)

// Postgres implements credential.Store over database/sql with lib/pq.
type Postgres struct {
	db *sql.DB
}

const credentialColumns = "id, email, client_id, client_secret, project_id, scopes, refresh_token, access_token, expiry, status"

// New opens the pool, verifies connectivity and applies pending
// migrations.
func New(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, apperrors.Database("open database", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), constants.StorageOpTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, apperrors.Database("connect to database", err)
	}

	if err := migrations.PostgresUp(db); err != nil {
		_ = db.Close()
		return nil, apperrors.Database("apply migrations", err)
	}

	log.Info("connected to PostgreSQL credential store")
	return &Postgres{db: db}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

// Health verifies connectivity.
func (p *Postgres) Health(ctx context.Context) error {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	if err := p.db.PingContext(ctx); err != nil {
		return apperrors.Database("ping", err)
	}
	return nil
}

func (p *Postgres) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, constants.StorageOpTimeout)
}

// Upsert inserts or replaces by project_id and returns the stable row
// id. On conflict every non-id column is overwritten.
func (p *Postgres) Upsert(ctx context.Context, cred credential.Credential, active bool) (int64, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	id, err := upsertOne(ctx, p.db, cred, active)
	if err != nil {
		return 0, apperrors.Database("upsert credential", err)
	}
	return id, nil
}

// UpsertMany upserts all credentials in one transaction, returning ids
// in input order. All-or-nothing.
func (p *Postgres) UpsertMany(ctx context.Context, creds []credential.Credential, active bool) ([]int64, error) {
	if len(creds) == 0 {
		return nil, nil
	}
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.Database("begin transaction", err)
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(creds))
	for _, cred := range creds {
		id, err := upsertOne(ctx, tx, cred, active)
		if err != nil {
			return nil, apperrors.Database("upsert credential batch", err)
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperrors.Database("commit transaction", err)
	}
	return ids, nil
}

type execQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func upsertOne(ctx context.Context, q execQuerier, cred credential.Credential, active bool) (int64, error) {
	scopes, err := scopesJSON(cred.Scopes)
	if err != nil {
		return 0, err
	}

	var id int64
	err = q.QueryRowContext(ctx, `
		INSERT INTO credentials (
			email, client_id, client_secret, project_id, scopes,
			refresh_token, access_token, expiry, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (project_id) DO UPDATE SET
			email         = EXCLUDED.email,
			client_id     = EXCLUDED.client_id,
			client_secret = EXCLUDED.client_secret,
			scopes        = EXCLUDED.scopes,
			refresh_token = EXCLUDED.refresh_token,
			access_token  = EXCLUDED.access_token,
			expiry        = EXCLUDED.expiry,
			status        = EXCLUDED.status
		RETURNING id`,
		nullable(cred.Email), cred.ClientID, cred.ClientSecret, cred.ProjectID, scopes,
		cred.RefreshToken, nullable(cred.AccessToken), cred.Expiry.UTC().Format(time.RFC3339), active,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ListActive returns every active row ordered by id. Used at coordinator
// startup to rebuild the queues; banned rows (status=false) never
// reappear here.
func (p *Postgres) ListActive(ctx context.Context) ([]credential.StoredCredential, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	rows, err := p.db.QueryContext(ctx,
		"SELECT "+credentialColumns+" FROM credentials WHERE status = TRUE ORDER BY id")
	if err != nil {
		return nil, apperrors.Database("list active credentials", err)
	}
	defer rows.Close()

	var out []credential.StoredCredential
	for rows.Next() {
		stored, err := scanCredential(rows)
		if err != nil {
			return nil, apperrors.Database("scan credential row", err)
		}
		out = append(out, stored)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Database("iterate credential rows", err)
	}
	return out, nil
}

// ListByIDs fetches the given rows in one round trip. Missing ids are
// silently absent from the result.
func (p *Postgres) ListByIDs(ctx context.Context, ids []int64) (map[int64]credential.StoredCredential, error) {
	if len(ids) == 0 {
		return map[int64]credential.StoredCredential{}, nil
	}
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	rows, err := p.db.QueryContext(ctx,
		"SELECT "+credentialColumns+" FROM credentials WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		return nil, apperrors.Database("batch get credentials", err)
	}
	defer rows.Close()

	out := make(map[int64]credential.StoredCredential, len(ids))
	for rows.Next() {
		stored, err := scanCredential(rows)
		if err != nil {
			return nil, apperrors.Database("scan credential row", err)
		}
		out[stored.ID] = stored
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Database("iterate credential rows", err)
	}
	return out, nil
}

// Get fetches one row by id.
func (p *Postgres) Get(ctx context.Context, id int64) (credential.StoredCredential, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	row := p.db.QueryRowContext(ctx,
		"SELECT "+credentialColumns+" FROM credentials WHERE id = $1", id)
	stored, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.StoredCredential{}, credential.ErrNotFound
	}
	if err != nil {
		return credential.StoredCredential{}, apperrors.Database("get credential", err)
	}
	return stored, nil
}

// GetByProjectID fetches one row by its unique project id.
func (p *Postgres) GetByProjectID(ctx context.Context, projectID string) (credential.StoredCredential, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	row := p.db.QueryRowContext(ctx,
		"SELECT "+credentialColumns+" FROM credentials WHERE project_id = $1", projectID)
	stored, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.StoredCredential{}, credential.ErrNotFound
	}
	if err != nil {
		return credential.StoredCredential{}, apperrors.Database("get credential by project", err)
	}
	return stored, nil
}

// UpdateByID overwrites every mutable column of the row.
func (p *Postgres) UpdateByID(ctx context.Context, id int64, cred credential.Credential, active bool) error {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	scopes, err := scopesJSON(cred.Scopes)
	if err != nil {
		return apperrors.Database("encode scopes", err)
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE credentials SET
			email = $1, client_id = $2, client_secret = $3, project_id = $4,
			scopes = $5, refresh_token = $6, access_token = $7, expiry = $8, status = $9
		WHERE id = $10`,
		nullable(cred.Email), cred.ClientID, cred.ClientSecret, cred.ProjectID,
		scopes, cred.RefreshToken, nullable(cred.AccessToken),
		cred.Expiry.UTC().Format(time.RFC3339), active, id,
	)
	if err != nil {
		return apperrors.Database("update credential", err)
	}
	return requireRow(res)
}

// SetStatus flips the active flag only.
func (p *Postgres) SetStatus(ctx context.Context, id int64, active bool) error {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	res, err := p.db.ExecContext(ctx,
		"UPDATE credentials SET status = $1 WHERE id = $2", active, id)
	if err != nil {
		return apperrors.Database("set credential status", err)
	}
	return requireRow(res)
}

// Delete removes the row. Bans keep rows with status=false instead; this
// exists for the admin surface and tests.
func (p *Postgres) Delete(ctx context.Context, id int64) error {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	res, err := p.db.ExecContext(ctx, "DELETE FROM credentials WHERE id = $1", id)
	if err != nil {
		return apperrors.Database("delete credential", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Database("rows affected", err)
	}
	if n == 0 {
		return credential.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (credential.StoredCredential, error) {
	var (
		stored    credential.StoredCredential
		email     sql.NullString
		scopes    sql.NullString
		access    sql.NullString
		expiryRaw string
	)
	err := row.Scan(
		&stored.ID, &email, &stored.Cred.ClientID, &stored.Cred.ClientSecret,
		&stored.Cred.ProjectID, &scopes, &stored.Cred.RefreshToken, &access,
		&expiryRaw, &stored.Active,
	)
	if err != nil {
		return credential.StoredCredential{}, err
	}
	stored.Cred.Email = email.String
	stored.Cred.AccessToken = access.String
	if scopes.Valid && scopes.String != "" {
		if err := json.Unmarshal([]byte(scopes.String), &stored.Cred.Scopes); err != nil {
			return credential.StoredCredential{}, fmt.Errorf("decode scopes: %w", err)
		}
	}
	expiry, err := time.Parse(time.RFC3339, expiryRaw)
	if err != nil {
		return credential.StoredCredential{}, fmt.Errorf("parse expiry %q: %w", expiryRaw, err)
	}
	stored.Cred.Expiry = expiry.UTC()
	return stored, nil
}

func scopesJSON(scopes []string) (any, error) {
	if len(scopes) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(scopes)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
