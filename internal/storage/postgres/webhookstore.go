package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tokuzou0829/twitter-clone-sub001/pkg/dispatch"
)

const webhookColumns = `id, owner_user_id, name, endpoint, hashed_secret, is_active, created_at, updated_at,
	last_sent_at, last_status_code, last_error`

// WebhookStore implements dispatch.WebhookStore on PostgreSQL.
type WebhookStore struct {
	db *sql.DB
}

func NewWebhookStore(d *DB) *WebhookStore {
	return &WebhookStore{db: d.db}
}

func scanWebhook(row rowScanner) (*dispatch.Webhook, error) {
	var w dispatch.Webhook
	var lastSentAt sql.NullTime
	var lastStatus sql.NullInt64
	var lastError sql.NullString
	err := row.Scan(&w.ID, &w.OwnerUserID, &w.Name, &w.Endpoint, &w.HashedSecret, &w.IsActive,
		&w.CreatedAt, &w.UpdatedAt, &lastSentAt, &lastStatus, &lastError)
	if err != nil {
		return nil, err
	}
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	w.LastSentAt = timePtr(lastSentAt)
	if lastStatus.Valid {
		code := int(lastStatus.Int64)
		w.LastStatusCode = &code
	}
	if lastError.Valid {
		msg := lastError.String
		w.LastError = &msg
	}
	return &w, nil
}

func (s *WebhookStore) CreateWebhook(ctx context.Context, w *dispatch.Webhook) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhooks (id, owner_user_id, name, endpoint, hashed_secret, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		w.ID, w.OwnerUserID, w.Name, w.Endpoint, w.HashedSecret, w.IsActive, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert webhook %s: %w", w.ID, err)
	}
	return nil
}

func (s *WebhookStore) GetWebhook(ctx context.Context, id string) (*dispatch.Webhook, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, dispatch.ErrNotFound
	}
	w, err := scanWebhook(s.db.QueryRowContext(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dispatch.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook %s: %w", id, err)
	}
	return w, nil
}

func (s *WebhookStore) ListWebhooksByOwner(ctx context.Context, owner urn.URN) ([]dispatch.Webhook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE owner_user_id = $1 ORDER BY created_at, id`,
		owner.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks for %s: %w", owner, err)
	}
	defer rows.Close()

	hooks := make([]dispatch.Webhook, 0)
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read webhook row: %w", err)
		}
		hooks = append(hooks, *w)
	}
	return hooks, rows.Err()
}

// UpdateWebhook locks the owner's row for the duration of mutate.
func (s *WebhookStore) UpdateWebhook(ctx context.Context, owner urn.URN, id string, mutate func(*dispatch.Webhook) error) (*dispatch.Webhook, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, dispatch.ErrNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	w, err := scanWebhook(tx.QueryRowContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = $1 AND owner_user_id = $2 FOR UPDATE`,
		id, owner.String(),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dispatch.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock webhook %s: %w", id, err)
	}

	if err := mutate(w); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE webhooks SET name = $1, endpoint = $2, hashed_secret = $3, is_active = $4, updated_at = $5
		 WHERE id = $6`,
		w.Name, w.Endpoint, w.HashedSecret, w.IsActive, w.UpdatedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update webhook %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit webhook %s: %w", id, err)
	}
	return w, nil
}

func (s *WebhookStore) DeleteWebhook(ctx context.Context, owner urn.URN, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = $1 AND owner_user_id = $2`, id, owner.String())
	if err != nil {
		return fmt.Errorf("failed to delete webhook %s: %w", id, err)
	}
	return nil
}

func (s *WebhookStore) RecordDelivery(ctx context.Context, id string, status dispatch.DeliveryStatus) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhooks SET last_sent_at = $1, last_status_code = $2, last_error = $3 WHERE id = $4`,
		status.SentAt, status.StatusCode, status.Error, id,
	)
	if err != nil {
		return fmt.Errorf("failed to record delivery for webhook %s: %w", id, err)
	}
	return nil
}
