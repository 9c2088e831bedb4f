package billing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no payment matches the lookup.
var ErrNotFound = errors.New("billing: payment not found")

// Payment statuses. GatewayStatus keeps the provider's own status
// string alongside our normalized one for support tooling.
const (
	StatusPending = "PENDING"
	StatusPaid    = "PAID"
	StatusFailed  = "FAILED"
	StatusExpired = "EXPIRED"
)

// Payment is the local record of one gateway invoice. AmountFils is in
// BHD fils; InvoiceID is the gateway's identifier once known.
type Payment struct {
	ID            string
	ReferenceID   string
	Purpose       string
	AmountFils    int64
	InvoiceID     int64
	MethodID      int
	PaymentURL    string
	IsDirect      bool
	Status        string
	GatewayStatus string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store persists payments and their event trail in Postgres.
type Store struct {
	Pool *pgxpool.Pool
}

// CreatePending records a payment row before the execute step runs.
func (s *Store) CreatePending(ctx context.Context, referenceID, purpose string, amountFils int64) (Payment, error) {
	var p Payment
	if s == nil || s.Pool == nil {
		return p, errors.New("billing: store not configured")
	}
	err := s.Pool.QueryRow(ctx,
		`INSERT INTO payments (reference_id, purpose, amount_fils, status)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (reference_id) DO UPDATE SET updated_at = now()
		 RETURNING id, reference_id, purpose, amount_fils, invoice_id, method_id, payment_url, is_direct, status, gateway_status, created_at, updated_at`,
		referenceID, purpose, amountFils, StatusPending,
	).Scan(&p.ID, &p.ReferenceID, &p.Purpose, &p.AmountFils, &p.InvoiceID, &p.MethodID, &p.PaymentURL, &p.IsDirect, &p.Status, &p.GatewayStatus, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// AttachInvoice stores the gateway's invoice id and redirect URL after
// a successful execute (or legacy send) call.
func (s *Store) AttachInvoice(ctx context.Context, referenceID string, invoiceID int64, methodID int, paymentURL string, isDirect bool) error {
	if s == nil || s.Pool == nil {
		return errors.New("billing: store not configured")
	}
	tag, err := s.Pool.Exec(ctx,
		`UPDATE payments
		 SET invoice_id = $2, method_id = $3, payment_url = $4, is_direct = $5, updated_at = now()
		 WHERE reference_id = $1`,
		referenceID, invoiceID, methodID, paymentURL, isDirect)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByReference fetches a payment by its caller-supplied reference id.
func (s *Store) GetByReference(ctx context.Context, referenceID string) (Payment, error) {
	var p Payment
	if s == nil || s.Pool == nil {
		return p, errors.New("billing: store not configured")
	}
	err := s.Pool.QueryRow(ctx,
		`SELECT id, reference_id, purpose, amount_fils, invoice_id, method_id, payment_url, is_direct, status, gateway_status, created_at, updated_at
		 FROM payments WHERE reference_id = $1`, referenceID,
	).Scan(&p.ID, &p.ReferenceID, &p.Purpose, &p.AmountFils, &p.InvoiceID, &p.MethodID, &p.PaymentURL, &p.IsDirect, &p.Status, &p.GatewayStatus, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

// GetByInvoiceID fetches a payment by the gateway's invoice id. Used
// by callbacks when the status snapshot carries no customer reference.
func (s *Store) GetByInvoiceID(ctx context.Context, invoiceID int64) (Payment, error) {
	var p Payment
	if s == nil || s.Pool == nil {
		return p, errors.New("billing: store not configured")
	}
	err := s.Pool.QueryRow(ctx,
		`SELECT id, reference_id, purpose, amount_fils, invoice_id, method_id, payment_url, is_direct, status, gateway_status, created_at, updated_at
		 FROM payments WHERE invoice_id = $1`, invoiceID,
	).Scan(&p.ID, &p.ReferenceID, &p.Purpose, &p.AmountFils, &p.InvoiceID, &p.MethodID, &p.PaymentURL, &p.IsDirect, &p.Status, &p.GatewayStatus, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

// Transition updates a payment's status inside a transaction and
// appends an event row with the gateway payload for audit. Returns the
// previous status so callers can tell whether anything changed.
func (s *Store) Transition(ctx context.Context, referenceID, status, gatewayStatus string, payload any) (string, error) {
	if s == nil || s.Pool == nil {
		return "", errors.New("billing: store not configured")
	}
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var paymentID, previous string
	err = tx.QueryRow(ctx,
		`SELECT id, status FROM payments WHERE reference_id = $1 FOR UPDATE`,
		referenceID).Scan(&paymentID, &previous)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE payments SET status = $2, gateway_status = $3, updated_at = now() WHERE id = $1`,
		paymentID, status, gatewayStatus); err != nil {
		return "", err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO payment_events (payment_id, status, payload) VALUES ($1, $2, $3)`,
		paymentID, status, toJSON(payload)); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return previous, nil
}

func toJSON(v any) []byte {
	if v == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
