// Package subscription manages membership terms and renewals.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no subscription matches the lookup.
var ErrNotFound = errors.New("subscription: not found")

// Subscription statuses.
const (
	StatusPending  = "PENDING"
	StatusActive   = "ACTIVE"
	StatusExpired  = "EXPIRED"
	StatusCanceled = "CANCELED"
)

// Subscription is one membership term for a member. AmountFils is in
// BHD fils. ReferenceID correlates the gateway invoice with this row.
type Subscription struct {
	ID          string
	MemberID    string
	TermStart   time.Time
	TermEnd     time.Time
	AmountFils  int64
	ReferenceID string
	Status      string
	CreatedAt   time.Time
}

// Store persists subscriptions in Postgres.
type Store struct {
	Pool *pgxpool.Pool
}

// Create opens a pending subscription term with a fresh reference id.
func (s *Store) Create(ctx context.Context, memberID string, termStart, termEnd time.Time, amountFils int64) (Subscription, error) {
	var sub Subscription
	if s == nil || s.Pool == nil {
		return sub, errors.New("subscription: store not configured")
	}
	if !termEnd.After(termStart) {
		return sub, errors.New("subscription: term end must follow term start")
	}
	referenceID := fmt.Sprintf("sub-%s", uuid.NewString())
	err := s.Pool.QueryRow(ctx,
		`INSERT INTO subscriptions (member_id, term_start, term_end, amount_fils, reference_id, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, member_id, term_start, term_end, amount_fils, reference_id, status, created_at`,
		memberID, termStart, termEnd, amountFils, referenceID, StatusPending,
	).Scan(&sub.ID, &sub.MemberID, &sub.TermStart, &sub.TermEnd, &sub.AmountFils, &sub.ReferenceID, &sub.Status, &sub.CreatedAt)
	return sub, err
}

// GetByReference resolves a subscription from its payment reference id.
func (s *Store) GetByReference(ctx context.Context, referenceID string) (Subscription, error) {
	var sub Subscription
	if s == nil || s.Pool == nil {
		return sub, errors.New("subscription: store not configured")
	}
	err := s.Pool.QueryRow(ctx,
		`SELECT id, member_id, term_start, term_end, amount_fils, reference_id, status, created_at
		 FROM subscriptions WHERE reference_id = $1`, referenceID,
	).Scan(&sub.ID, &sub.MemberID, &sub.TermStart, &sub.TermEnd, &sub.AmountFils, &sub.ReferenceID, &sub.Status, &sub.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return sub, ErrNotFound
	}
	return sub, err
}

// ActiveForMember returns the member's current active term, if any.
func (s *Store) ActiveForMember(ctx context.Context, memberID string) (Subscription, error) {
	var sub Subscription
	if s == nil || s.Pool == nil {
		return sub, errors.New("subscription: store not configured")
	}
	err := s.Pool.QueryRow(ctx,
		`SELECT id, member_id, term_start, term_end, amount_fils, reference_id, status, created_at
		 FROM subscriptions
		 WHERE member_id = $1 AND status = $2 AND term_end >= now()
		 ORDER BY term_end DESC
		 LIMIT 1`, memberID, StatusActive,
	).Scan(&sub.ID, &sub.MemberID, &sub.TermStart, &sub.TermEnd, &sub.AmountFils, &sub.ReferenceID, &sub.Status, &sub.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return sub, ErrNotFound
	}
	return sub, err
}

// SettleReference activates the subscription behind a reference id.
// Activating an already-active term is a no-op.
func (s *Store) SettleReference(ctx context.Context, referenceID string) error {
	if s == nil || s.Pool == nil {
		return errors.New("subscription: store not configured")
	}
	_, err := s.Pool.Exec(ctx,
		`UPDATE subscriptions SET status = $1 WHERE reference_id = $2 AND status <> $1`,
		StatusActive, referenceID)
	return err
}
