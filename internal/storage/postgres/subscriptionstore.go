package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tokuzou0829/twitter-clone-sub001/pkg/dispatch"
)

const subscriptionColumns = `id, user_id, endpoint, p256dh_key, auth_key, expiration_time, created_at, updated_at`

// findAllPageSize bounds a single keyset page when reading every subscription.
const findAllPageSize = 500

// SubscriptionStore implements dispatch.SubscriptionStore on PostgreSQL.
type SubscriptionStore struct {
	db *sql.DB
}

func NewSubscriptionStore(d *DB) *SubscriptionStore {
	return &SubscriptionStore{db: d.db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*dispatch.PushSubscription, error) {
	var sub dispatch.PushSubscription
	var expiration sql.NullTime
	err := row.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.Keys.P256dh, &sub.Keys.Auth,
		&expiration, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sub.ExpirationTime = timePtr(expiration)
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	return &sub, nil
}

// Save upserts on the (user_id, endpoint) unique constraint in one statement.
func (s *SubscriptionStore) Save(ctx context.Context, user urn.URN, in dispatch.PushSubscriptionInput) (*dispatch.PushSubscription, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh_key, auth_key, expiration_time, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		 ON CONFLICT (user_id, endpoint) DO UPDATE SET
		     p256dh_key = EXCLUDED.p256dh_key,
		     auth_key = EXCLUDED.auth_key,
		     expiration_time = EXCLUDED.expiration_time,
		     updated_at = NOW()
		 RETURNING `+subscriptionColumns,
		uuid.NewString(), user.String(), in.Endpoint, in.Keys.P256dh, in.Keys.Auth, in.ExpirationTime,
	)
	sub, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscription for %s: %w", user, err)
	}
	return sub, nil
}

func (s *SubscriptionStore) Find(ctx context.Context, user urn.URN, endpoint string) (*dispatch.PushSubscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE user_id = $1 AND endpoint = $2`,
		user.String(), endpoint,
	)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dispatch.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription for %s: %w", user, err)
	}
	return sub, nil
}

func (s *SubscriptionStore) FindAllForUser(ctx context.Context, user urn.URN) ([]dispatch.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE user_id = $1 ORDER BY created_at, id`,
		user.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions for %s: %w", user, err)
	}
	defer rows.Close()

	subs, err := collectSubscriptions(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to read subscriptions for %s: %w", user, err)
	}
	return subs, nil
}

// FindAll walks the table with keyset pagination on (created_at, id).
func (s *SubscriptionStore) FindAll(ctx context.Context) ([]dispatch.PushSubscription, error) {
	all := make([]dispatch.PushSubscription, 0)
	var afterTime time.Time
	var afterID string
	first := true

	for {
		var rows *sql.Rows
		var err error
		if first {
			rows, err = s.db.QueryContext(ctx,
				`SELECT `+subscriptionColumns+` FROM push_subscriptions ORDER BY created_at, id LIMIT $1`,
				findAllPageSize,
			)
		} else {
			rows, err = s.db.QueryContext(ctx,
				`SELECT `+subscriptionColumns+` FROM push_subscriptions
				 WHERE (created_at, id) > ($1, $2)
				 ORDER BY created_at, id LIMIT $3`,
				afterTime, afterID, findAllPageSize,
			)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query subscriptions: %w", err)
		}

		page, err := collectSubscriptions(rows)
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read subscriptions: %w", err)
		}

		all = append(all, page...)
		if len(page) < findAllPageSize {
			return all, nil
		}
		last := page[len(page)-1]
		afterTime, afterID, first = last.CreatedAt, last.ID, false
	}
}

func (s *SubscriptionStore) DeleteByUserAndEndpoint(ctx context.Context, user urn.URN, endpoint string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE user_id = $1 AND endpoint = $2`,
		user.String(), endpoint,
	)
	if err != nil {
		return fmt.Errorf("failed to delete subscription for %s: %w", user, err)
	}
	return nil
}

func (s *SubscriptionStore) DeleteByID(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		// Not one of ours, so there is nothing to delete.
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete subscription %s: %w", id, err)
	}
	return nil
}

func collectSubscriptions(rows *sql.Rows) ([]dispatch.PushSubscription, error) {
	subs := make([]dispatch.PushSubscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}
