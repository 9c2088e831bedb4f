// Package billing drives event and membership checkout through the
// MyFatoorah gateway client and keeps the local payment ledger.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nadi-bh/backend-nadi/internal/event"
	"github.com/nadi-bh/backend-nadi/internal/member"
	"github.com/nadi-bh/backend-nadi/internal/myfatoorah"
	"github.com/nadi-bh/backend-nadi/internal/obs"
	"github.com/nadi-bh/backend-nadi/internal/subscription"
)

// Gateway is the slice of the MyFatoorah client this service uses.
// Narrowed to an interface so tests can substitute a fake.
type Gateway interface {
	InitiatePayment(ctx context.Context, purpose myfatoorah.Purpose, req myfatoorah.PaymentRequest) ([]myfatoorah.PaymentMethod, error)
	ExecutePayment(ctx context.Context, purpose myfatoorah.Purpose, req myfatoorah.PaymentRequest, methodID int) (myfatoorah.ExecuteResult, error)
	SendPayment(ctx context.Context, purpose myfatoorah.Purpose, req myfatoorah.PaymentRequest) (myfatoorah.InvoiceResult, error)
	PaymentStatus(ctx context.Context, purpose myfatoorah.Purpose, key string, keyType myfatoorah.KeyType) (myfatoorah.StatusResult, error)
}

// Enqueuer schedules background tasks. Satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ErrNoPaymentMethods is returned when the gateway offers zero methods
// for an amount; execute cannot proceed without a method id.
var ErrNoPaymentMethods = errors.New("billing: gateway returned no payment methods")

// ErrNotPayable is returned when the referenced registration or
// subscription is not in a payable state.
var ErrNotPayable = errors.New("billing: reference is not payable")

// Service coordinates checkout flows for both credential contexts.
type Service struct {
	Gateway       Gateway
	Payments      *Store
	Events        *event.Store
	Subscriptions *subscription.Store
	Members       *member.Store
	Tasks         Enqueuer

	CallbackBaseURL    string
	MembershipFeeFils  int64
	MembershipTermDays int
	PollInterval       time.Duration
	Log                zerolog.Logger
}

// CheckoutStart is the result of an initiate step: the reference id to
// thread through execute, and the methods offered for user selection.
type CheckoutStart struct {
	ReferenceID string
	AmountFils  int64
	Methods     []myfatoorah.PaymentMethod
}

// CheckoutResult is the outcome of an execute step.
type CheckoutResult struct {
	ReferenceID     string
	InvoiceID       int64
	PaymentURL      string
	IsDirectPayment bool
}

// InitiateEventCheckout registers the member for the event (or reuses a
// pending registration) and asks the gateway for available methods.
func (s *Service) InitiateEventCheckout(ctx context.Context, memberID, eventID string) (CheckoutStart, error) {
	var zero CheckoutStart
	if err := s.ready(); err != nil {
		return zero, err
	}
	ctx, span := otel.Tracer("billing.Service").Start(ctx, "Service.InitiateEventCheckout")
	defer span.End()
	span.SetAttributes(attribute.String("event.id", eventID))

	ev, err := s.Events.Get(ctx, eventID)
	if err != nil {
		return zero, err
	}
	if !ev.Published {
		return zero, fmt.Errorf("billing: event %s is not open for registration", eventID)
	}
	mem, err := s.Members.GetByID(ctx, memberID)
	if err != nil {
		return zero, err
	}

	reg, err := s.Events.Register(ctx, eventID, memberID)
	if errors.Is(err, event.ErrAlreadyRegistered) {
		reg, err = s.Events.GetRegistrationForMember(ctx, eventID, memberID)
		if err == nil && reg.Status != event.RegistrationPending {
			return zero, ErrNotPayable
		}
	}
	if err != nil {
		return zero, err
	}

	if _, err := s.Payments.CreatePending(ctx, reg.ReferenceID, string(myfatoorah.PurposeEvent), ev.TicketPriceFils); err != nil {
		return zero, err
	}

	req := s.paymentRequest(mem, reg.ReferenceID, myfatoorah.PurposeEvent, ev.TicketPriceFils, myfatoorah.InvoiceItem{
		ItemName:  ev.Title,
		Quantity:  1,
		UnitPrice: FilsToBHD(ev.TicketPriceFils),
	})
	methods, err := s.Gateway.InitiatePayment(ctx, myfatoorah.PurposeEvent, req)
	if err != nil {
		s.count(myfatoorah.PurposeEvent, "initiate_error")
		return zero, err
	}
	if len(methods) == 0 {
		s.count(myfatoorah.PurposeEvent, "no_methods")
		return zero, ErrNoPaymentMethods
	}
	s.count(myfatoorah.PurposeEvent, "initiated")
	return CheckoutStart{ReferenceID: reg.ReferenceID, AmountFils: ev.TicketPriceFils, Methods: methods}, nil
}

// ExecuteEventCheckout creates the invoice for the chosen method and
// returns the redirect URL. A status poll task is scheduled so the
// payment settles even if the customer never returns to the callback.
func (s *Service) ExecuteEventCheckout(ctx context.Context, memberID, referenceID string, methodID int) (CheckoutResult, error) {
	var zero CheckoutResult
	if err := s.ready(); err != nil {
		return zero, err
	}
	ctx, span := otel.Tracer("billing.Service").Start(ctx, "Service.ExecuteEventCheckout")
	defer span.End()

	reg, err := s.Events.GetRegistrationByReference(ctx, referenceID)
	if err != nil {
		return zero, err
	}
	if reg.MemberID != memberID {
		return zero, errors.New("billing: registration does not belong to member")
	}
	if reg.Status != event.RegistrationPending {
		return zero, ErrNotPayable
	}
	ev, err := s.Events.Get(ctx, reg.EventID)
	if err != nil {
		return zero, err
	}
	mem, err := s.Members.GetByID(ctx, memberID)
	if err != nil {
		return zero, err
	}

	req := s.paymentRequest(mem, referenceID, myfatoorah.PurposeEvent, ev.TicketPriceFils, myfatoorah.InvoiceItem{
		ItemName:  ev.Title,
		Quantity:  1,
		UnitPrice: FilsToBHD(ev.TicketPriceFils),
	})
	return s.execute(ctx, myfatoorah.PurposeEvent, referenceID, req, methodID)
}

// StartSubscriptionCheckout opens a new membership term and asks the
// gateway for available methods.
func (s *Service) StartSubscriptionCheckout(ctx context.Context, memberID string) (CheckoutStart, error) {
	var zero CheckoutStart
	if err := s.ready(); err != nil {
		return zero, err
	}
	ctx, span := otel.Tracer("billing.Service").Start(ctx, "Service.StartSubscriptionCheckout")
	defer span.End()

	mem, err := s.Members.GetByID(ctx, memberID)
	if err != nil {
		return zero, err
	}
	termStart := time.Now()
	termEnd := termStart.AddDate(0, 0, s.termDays())
	sub, err := s.Subscriptions.Create(ctx, memberID, termStart, termEnd, s.MembershipFeeFils)
	if err != nil {
		return zero, err
	}
	if _, err := s.Payments.CreatePending(ctx, sub.ReferenceID, string(myfatoorah.PurposeSubscription), sub.AmountFils); err != nil {
		return zero, err
	}

	req := s.paymentRequest(mem, sub.ReferenceID, myfatoorah.PurposeSubscription, sub.AmountFils, myfatoorah.InvoiceItem{
		ItemName:  "Annual Membership",
		Quantity:  1,
		UnitPrice: FilsToBHD(sub.AmountFils),
	})
	methods, err := s.Gateway.InitiatePayment(ctx, myfatoorah.PurposeSubscription, req)
	if err != nil {
		s.count(myfatoorah.PurposeSubscription, "initiate_error")
		return zero, err
	}
	if len(methods) == 0 {
		s.count(myfatoorah.PurposeSubscription, "no_methods")
		return zero, ErrNoPaymentMethods
	}
	s.count(myfatoorah.PurposeSubscription, "initiated")
	return CheckoutStart{ReferenceID: sub.ReferenceID, AmountFils: sub.AmountFils, Methods: methods}, nil
}

// ExecuteSubscriptionCheckout creates the invoice for the chosen method.
func (s *Service) ExecuteSubscriptionCheckout(ctx context.Context, memberID, referenceID string, methodID int) (CheckoutResult, error) {
	var zero CheckoutResult
	if err := s.ready(); err != nil {
		return zero, err
	}
	ctx, span := otel.Tracer("billing.Service").Start(ctx, "Service.ExecuteSubscriptionCheckout")
	defer span.End()

	sub, err := s.Subscriptions.GetByReference(ctx, referenceID)
	if err != nil {
		return zero, err
	}
	if sub.MemberID != memberID {
		return zero, errors.New("billing: subscription does not belong to member")
	}
	if sub.Status != subscription.StatusPending {
		return zero, ErrNotPayable
	}
	mem, err := s.Members.GetByID(ctx, memberID)
	if err != nil {
		return zero, err
	}

	req := s.paymentRequest(mem, referenceID, myfatoorah.PurposeSubscription, sub.AmountFils, myfatoorah.InvoiceItem{
		ItemName:  "Annual Membership",
		Quantity:  1,
		UnitPrice: FilsToBHD(sub.AmountFils),
	})
	return s.execute(ctx, myfatoorah.PurposeSubscription, referenceID, req, methodID)
}

// LegacySubscriptionInvoice creates a subscription invoice through the
// deprecated single-step SendPayment endpoint. Kept because the
// one-call path has proven reliable in production for subscriptions;
// new integrations should use the two-step flow.
func (s *Service) LegacySubscriptionInvoice(ctx context.Context, memberID string) (CheckoutResult, error) {
	var zero CheckoutResult
	if err := s.ready(); err != nil {
		return zero, err
	}
	ctx, span := otel.Tracer("billing.Service").Start(ctx, "Service.LegacySubscriptionInvoice")
	defer span.End()

	mem, err := s.Members.GetByID(ctx, memberID)
	if err != nil {
		return zero, err
	}
	termStart := time.Now()
	sub, err := s.Subscriptions.Create(ctx, memberID, termStart, termStart.AddDate(0, 0, s.termDays()), s.MembershipFeeFils)
	if err != nil {
		return zero, err
	}
	if _, err := s.Payments.CreatePending(ctx, sub.ReferenceID, string(myfatoorah.PurposeSubscription), sub.AmountFils); err != nil {
		return zero, err
	}

	req := s.paymentRequest(mem, sub.ReferenceID, myfatoorah.PurposeSubscription, sub.AmountFils, myfatoorah.InvoiceItem{
		ItemName:  "Annual Membership",
		Quantity:  1,
		UnitPrice: FilsToBHD(sub.AmountFils),
	})
	inv, err := s.Gateway.SendPayment(ctx, myfatoorah.PurposeSubscription, req)
	if err != nil {
		s.count(myfatoorah.PurposeSubscription, "legacy_error")
		return zero, err
	}
	if err := s.Payments.AttachInvoice(ctx, sub.ReferenceID, inv.InvoiceID, 0, inv.InvoiceURL, false); err != nil {
		return zero, err
	}
	s.schedulePoll(ctx, sub.ReferenceID, myfatoorah.PurposeSubscription, inv.InvoiceID)
	s.count(myfatoorah.PurposeSubscription, "legacy_invoiced")
	return CheckoutResult{ReferenceID: sub.ReferenceID, InvoiceID: inv.InvoiceID, PaymentURL: inv.InvoiceURL}, nil
}

// PaymentState is the consolidated local + gateway view of a payment.
type PaymentState struct {
	ReferenceID   string
	Purpose       string
	Status        string
	GatewayStatus string
	AmountFils    int64
	PaymentURL    string
}

// Status reports the best-known state of a payment. A pending payment
// with a known invoice id is refreshed from the gateway before
// answering, settling as a side effect when terminal.
func (s *Service) Status(ctx context.Context, referenceID string) (PaymentState, error) {
	var zero PaymentState
	if err := s.ready(); err != nil {
		return zero, err
	}
	p, err := s.Payments.GetByReference(ctx, referenceID)
	if err != nil {
		return zero, err
	}
	if p.Status == StatusPending && p.InvoiceID > 0 {
		st, gerr := s.Gateway.PaymentStatus(ctx, myfatoorah.Purpose(p.Purpose), fmt.Sprintf("%d", p.InvoiceID), myfatoorah.KeyInvoiceID)
		if gerr == nil {
			if _, aerr := s.ApplyStatus(ctx, referenceID, st); aerr != nil {
				s.Log.Error().Err(aerr).Str("reference_id", referenceID).Msg("apply gateway status")
			}
			p, err = s.Payments.GetByReference(ctx, referenceID)
			if err != nil {
				return zero, err
			}
		}
	}
	return PaymentState{
		ReferenceID:   p.ReferenceID,
		Purpose:       p.Purpose,
		Status:        p.Status,
		GatewayStatus: p.GatewayStatus,
		AmountFils:    p.AmountFils,
		PaymentURL:    p.PaymentURL,
	}, nil
}

// ApplyStatus folds a gateway status snapshot into the local ledger and
// settles the underlying registration or subscription when paid.
// Returns whether the local status changed; re-applying the same
// terminal snapshot is a no-op, which makes callback replays and
// concurrent polls harmless.
func (s *Service) ApplyStatus(ctx context.Context, referenceID string, st myfatoorah.StatusResult) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	local := MapInvoiceStatus(st.InvoiceStatus)
	if local == "" {
		// Non-terminal gateway state; nothing to record yet.
		return false, nil
	}
	previous, err := s.Payments.Transition(ctx, referenceID, local, st.InvoiceStatus, st)
	if err != nil {
		return false, err
	}
	if previous == local {
		return false, nil
	}
	if local == StatusPaid {
		if err := s.settle(ctx, referenceID); err != nil {
			return true, err
		}
	}
	s.Log.Info().
		Str("reference_id", referenceID).
		Str("from", previous).
		Str("to", local).
		Str("gateway_status", st.InvoiceStatus).
		Msg("payment_transition")
	return true, nil
}

// MapInvoiceStatus normalizes the gateway's invoice status strings.
// Unknown or in-flight states map to "" (no local transition).
func MapInvoiceStatus(invoiceStatus string) string {
	switch strings.ToLower(strings.TrimSpace(invoiceStatus)) {
	case "paid":
		return StatusPaid
	case "failed", "canceled":
		return StatusFailed
	case "expired":
		return StatusExpired
	default:
		return ""
	}
}

// FilsToBHD converts fils to the gateway's decimal BHD representation.
func FilsToBHD(fils int64) float64 {
	return float64(fils) / 1000
}

func (s *Service) execute(ctx context.Context, purpose myfatoorah.Purpose, referenceID string, req myfatoorah.PaymentRequest, methodID int) (CheckoutResult, error) {
	var zero CheckoutResult
	res, err := s.Gateway.ExecutePayment(ctx, purpose, req, methodID)
	if err != nil {
		s.count(purpose, "execute_error")
		return zero, err
	}
	if err := s.Payments.AttachInvoice(ctx, referenceID, res.InvoiceID, methodID, res.PaymentURL, res.IsDirectPayment); err != nil {
		return zero, err
	}
	s.schedulePoll(ctx, referenceID, purpose, res.InvoiceID)
	s.count(purpose, "executed")
	return CheckoutResult{
		ReferenceID:     referenceID,
		InvoiceID:       res.InvoiceID,
		PaymentURL:      res.PaymentURL,
		IsDirectPayment: res.IsDirectPayment,
	}, nil
}

func (s *Service) paymentRequest(mem member.Member, referenceID string, purpose myfatoorah.Purpose, amountFils int64, items ...myfatoorah.InvoiceItem) myfatoorah.PaymentRequest {
	base := strings.TrimRight(s.CallbackBaseURL, "/")
	return myfatoorah.PaymentRequest{
		InvoiceAmount:  FilsToBHD(amountFils),
		CustomerName:   mem.FullName,
		CustomerEmail:  mem.Email,
		CustomerMobile: mem.Mobile,
		Items:          items,
		CallbackURL:    fmt.Sprintf("%s/v1/payments/callback?purpose=%s", base, purpose),
		ErrorURL:       fmt.Sprintf("%s/v1/payments/error?purpose=%s", base, purpose),
		ReferenceID:    referenceID,
	}
}

func (s *Service) settle(ctx context.Context, referenceID string) error {
	switch {
	case strings.HasPrefix(referenceID, "evt-"):
		return s.Events.SettleReference(ctx, referenceID)
	case strings.HasPrefix(referenceID, "sub-"):
		return s.Subscriptions.SettleReference(ctx, referenceID)
	default:
		return fmt.Errorf("billing: unrecognized reference id %q", referenceID)
	}
}

func (s *Service) schedulePoll(ctx context.Context, referenceID string, purpose myfatoorah.Purpose, invoiceID int64) {
	if s.Tasks == nil || invoiceID <= 0 {
		return
	}
	task, err := NewPollTask(PollPayload{
		ReferenceID: referenceID,
		Purpose:     string(purpose),
		Key:         fmt.Sprintf("%d", invoiceID),
		KeyType:     string(myfatoorah.KeyInvoiceID),
	})
	if err != nil {
		s.Log.Error().Err(err).Str("reference_id", referenceID).Msg("build poll task")
		return
	}
	delay := s.PollInterval
	if delay <= 0 {
		delay = 30 * time.Second
	}
	if _, err := s.Tasks.EnqueueContext(ctx, task, asynq.ProcessIn(delay)); err != nil {
		s.Log.Error().Err(err).Str("reference_id", referenceID).Msg("enqueue poll task")
	}
}

func (s *Service) count(purpose myfatoorah.Purpose, result string) {
	if obs.CheckoutTotal != nil {
		obs.CheckoutTotal.WithLabelValues(string(purpose), result).Inc()
	}
}

func (s *Service) termDays() int {
	if s.MembershipTermDays > 0 {
		return s.MembershipTermDays
	}
	return 365
}

func (s *Service) ready() error {
	if s == nil || s.Gateway == nil || s.Payments == nil {
		return errors.New("billing: service not configured")
	}
	return nil
}
