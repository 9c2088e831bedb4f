// Package poller runs the caller-side polling loop for gateway payment
// status. The gateway client itself never retries; this worker owns the
// poll-until-terminal-state policy and its attempt budget.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/nadi-bh/backend-nadi/internal/billing"
	"github.com/nadi-bh/backend-nadi/internal/myfatoorah"
	"github.com/nadi-bh/backend-nadi/internal/obs"
)

// Handler processes payment:poll tasks.
type Handler struct {
	Gateway     billing.Gateway
	Billing     *billing.Service
	Tasks       billing.Enqueuer
	Interval    time.Duration
	MaxAttempts int
	Log         zerolog.Logger
}

// ProcessTask performs one status lookup. Terminal gateway states
// settle the payment; in-flight states reschedule until the attempt
// budget runs out, after which the payment is left pending for support
// follow-up rather than being guessed at.
func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	if h == nil || h.Gateway == nil || h.Billing == nil {
		return errors.New("poller: handler not configured")
	}
	var p billing.PollPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		// Malformed payloads can never succeed; don't let asynq retry them.
		return fmt.Errorf("poller: decode payload: %v: %w", err, asynq.SkipRetry)
	}

	st, err := h.Gateway.PaymentStatus(ctx, myfatoorah.Purpose(p.Purpose), p.Key, myfatoorah.KeyType(p.KeyType))
	if err != nil {
		h.count("gateway_error")
		if myfatoorah.KindOf(err) == myfatoorah.KindConfig {
			return fmt.Errorf("poller: %v: %w", err, asynq.SkipRetry)
		}
		// Transport and rejection errors are retried by rescheduling.
		return h.reschedule(ctx, p)
	}

	changed, err := h.Billing.ApplyStatus(ctx, p.ReferenceID, st)
	if err != nil {
		h.count("settle_error")
		return err
	}
	if billing.MapInvoiceStatus(st.InvoiceStatus) != "" {
		if changed {
			h.count("settled")
		} else {
			h.count("already_settled")
		}
		return nil
	}

	h.count("pending")
	return h.reschedule(ctx, p)
}

func (h *Handler) reschedule(ctx context.Context, p billing.PollPayload) error {
	max := h.MaxAttempts
	if max <= 0 {
		max = 20
	}
	if p.Attempt+1 >= max {
		h.count("exhausted")
		h.Log.Warn().
			Str("reference_id", p.ReferenceID).
			Int("attempts", p.Attempt+1).
			Msg("payment poll budget exhausted")
		return nil
	}
	if h.Tasks == nil {
		return errors.New("poller: no task client for reschedule")
	}
	p.Attempt++
	task, err := billing.NewPollTask(p)
	if err != nil {
		return err
	}
	interval := h.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	_, err = h.Tasks.EnqueueContext(ctx, task, asynq.ProcessIn(interval))
	return err
}

func (h *Handler) count(result string) {
	if obs.PaymentPollTotal != nil {
		obs.PaymentPollTotal.WithLabelValues(result).Inc()
	}
}
