// Package event manages society events and member registrations.
package event

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no event or registration matches.
	ErrNotFound = errors.New("event: not found")
	// ErrAlreadyRegistered is returned when a member registers twice for
	// the same event.
	ErrAlreadyRegistered = errors.New("event: member already registered")
)

// Registration statuses.
const (
	RegistrationPending  = "PENDING"
	RegistrationPaid     = "PAID"
	RegistrationCanceled = "CANCELED"
)

// Event is a society event members can register and pay for.
// TicketPriceFils is in BHD fils (1 BHD = 1000 fils).
type Event struct {
	ID              string
	Title           string
	Description     string
	Venue           string
	StartsAt        time.Time
	TicketPriceFils int64
	Capacity        int
	Published       bool
	CreatedAt       time.Time
}

// Registration ties a member to an event. ReferenceID is the
// correlation token threaded through the payment gateway and echoed
// back on callbacks.
type Registration struct {
	ID          string
	EventID     string
	MemberID    string
	ReferenceID string
	Status      string
	CreatedAt   time.Time
}

// Store persists events and registrations in Postgres.
type Store struct {
	Pool *pgxpool.Pool
}

// Create inserts an event and returns its id.
func (s *Store) Create(ctx context.Context, ev Event) (string, error) {
	if s == nil || s.Pool == nil {
		return "", errors.New("event: store not configured")
	}
	if strings.TrimSpace(ev.Title) == "" {
		return "", errors.New("event: title is required")
	}
	var id string
	err := s.Pool.QueryRow(ctx,
		`INSERT INTO events (title, description, venue, starts_at, ticket_price_fils, capacity, published)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		ev.Title, ev.Description, ev.Venue, ev.StartsAt, ev.TicketPriceFils, ev.Capacity, ev.Published,
	).Scan(&id)
	return id, err
}

// Get fetches one event by id.
func (s *Store) Get(ctx context.Context, id string) (Event, error) {
	var ev Event
	if s == nil || s.Pool == nil {
		return ev, errors.New("event: store not configured")
	}
	err := s.Pool.QueryRow(ctx,
		`SELECT id, title, description, venue, starts_at, ticket_price_fils, capacity, published, created_at
		 FROM events WHERE id = $1`, id,
	).Scan(&ev.ID, &ev.Title, &ev.Description, &ev.Venue, &ev.StartsAt, &ev.TicketPriceFils, &ev.Capacity, &ev.Published, &ev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ev, ErrNotFound
	}
	return ev, err
}

// ListPublished returns upcoming published events ordered by start time.
func (s *Store) ListPublished(ctx context.Context, limit int) ([]Event, error) {
	if s == nil || s.Pool == nil {
		return nil, errors.New("event: store not configured")
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx,
		`SELECT id, title, description, venue, starts_at, ticket_price_fils, capacity, published, created_at
		 FROM events
		 WHERE published AND starts_at > now()
		 ORDER BY starts_at
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Title, &ev.Description, &ev.Venue, &ev.StartsAt, &ev.TicketPriceFils, &ev.Capacity, &ev.Published, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Register creates a pending registration with a fresh reference id.
// Registering the same member twice surfaces ErrAlreadyRegistered via
// the unique constraint rather than a read-then-write race.
func (s *Store) Register(ctx context.Context, eventID, memberID string) (Registration, error) {
	var reg Registration
	if s == nil || s.Pool == nil {
		return reg, errors.New("event: store not configured")
	}
	referenceID := fmt.Sprintf("evt-%s", uuid.NewString())
	err := s.Pool.QueryRow(ctx,
		`INSERT INTO event_registrations (event_id, member_id, reference_id, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, event_id, member_id, reference_id, status, created_at`,
		eventID, memberID, referenceID, RegistrationPending,
	).Scan(&reg.ID, &reg.EventID, &reg.MemberID, &reg.ReferenceID, &reg.Status, &reg.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return reg, ErrAlreadyRegistered
		}
		return reg, err
	}
	return reg, nil
}

// GetRegistrationForMember fetches a member's registration for an event.
func (s *Store) GetRegistrationForMember(ctx context.Context, eventID, memberID string) (Registration, error) {
	var reg Registration
	if s == nil || s.Pool == nil {
		return reg, errors.New("event: store not configured")
	}
	err := s.Pool.QueryRow(ctx,
		`SELECT id, event_id, member_id, reference_id, status, created_at
		 FROM event_registrations WHERE event_id = $1 AND member_id = $2`, eventID, memberID,
	).Scan(&reg.ID, &reg.EventID, &reg.MemberID, &reg.ReferenceID, &reg.Status, &reg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return reg, ErrNotFound
	}
	return reg, err
}

// GetRegistrationByReference resolves a registration from its payment
// reference id.
func (s *Store) GetRegistrationByReference(ctx context.Context, referenceID string) (Registration, error) {
	var reg Registration
	if s == nil || s.Pool == nil {
		return reg, errors.New("event: store not configured")
	}
	err := s.Pool.QueryRow(ctx,
		`SELECT id, event_id, member_id, reference_id, status, created_at
		 FROM event_registrations WHERE reference_id = $1`, referenceID,
	).Scan(&reg.ID, &reg.EventID, &reg.MemberID, &reg.ReferenceID, &reg.Status, &reg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return reg, ErrNotFound
	}
	return reg, err
}

// SettleReference marks the registration behind a reference id as paid.
// Settling an already-paid registration is a no-op.
func (s *Store) SettleReference(ctx context.Context, referenceID string) error {
	if s == nil || s.Pool == nil {
		return errors.New("event: store not configured")
	}
	_, err := s.Pool.Exec(ctx,
		`UPDATE event_registrations SET status = $1 WHERE reference_id = $2 AND status <> $1`,
		RegistrationPaid, referenceID)
	return err
}
