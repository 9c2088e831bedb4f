package billing

import (
	"errors"
	"net/http"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nadi-bh/backend-nadi/internal/common"
	"github.com/nadi-bh/backend-nadi/internal/myfatoorah"
	"github.com/nadi-bh/backend-nadi/internal/obs"
)

// Callback handles the gateway's post-payment redirects. The redirect
// query carries only a payment id; the authoritative state is always
// fetched back from the gateway rather than trusted from the URL.
type Callback struct {
	Svc       *Service
	Gateway   Gateway
	Replay    *redis.Client
	ReplayTTL time.Duration
	Log       zerolog.Logger
}

// Handle processes GET /v1/payments/callback. A replay guard makes
// re-visits of the same redirect URL harmless.
func (c *Callback) Handle(w http.ResponseWriter, r *http.Request) {
	if c == nil || c.Svc == nil || c.Gateway == nil {
		common.JSONError(w, http.StatusInternalServerError, "CALLBACK_NOT_CONFIGURED", "callback unavailable", nil)
		return
	}
	purpose, ok := parsePurpose(r.URL.Query().Get("purpose"))
	if !ok {
		c.count("bad_purpose")
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown purpose", nil)
		return
	}
	paymentID := strings.TrimSpace(r.URL.Query().Get("paymentId"))
	if paymentID == "" {
		c.count("missing_payment_id")
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "paymentId is required", nil)
		return
	}

	if c.Replay != nil {
		key := "payment:callback:" + paymentID
		ttl := c.ReplayTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		set, err := c.Replay.SetNX(r.Context(), key, "1", ttl).Result()
		if err == nil && !set {
			c.count("replay")
			common.JSON(w, http.StatusOK, map[string]string{"status": "already processed"})
			return
		}
		if err != nil {
			// Redis being down must not block settlement.
			c.Log.Warn().Err(err).Msg("callback replay guard unavailable")
		}
	}

	st, err := c.Gateway.PaymentStatus(r.Context(), purpose, paymentID, myfatoorah.KeyPaymentID)
	if err != nil {
		c.releaseReplay(r, paymentID)
		c.count("gateway_error")
		c.Log.Error().Err(err).Str("payment_id", paymentID).Msg("callback status lookup failed")
		common.JSONError(w, http.StatusBadGateway, "PAYMENT_GATEWAY_ERROR", "could not confirm payment", nil)
		return
	}

	referenceID, err := c.resolveReference(r, st)
	if err != nil {
		c.releaseReplay(r, paymentID)
		c.count("unmatched")
		c.Log.Warn().Str("payment_id", paymentID).Msg("callback did not match a local payment")
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "payment not found", nil)
		return
	}

	if _, err := c.Svc.ApplyStatus(r.Context(), referenceID, st); err != nil {
		c.releaseReplay(r, paymentID)
		c.count("settle_error")
		c.Log.Error().Err(err).Str("reference_id", referenceID).Msg("callback settlement failed")
		common.JSONError(w, http.StatusInternalServerError, "SETTLEMENT_FAILED", "could not record payment", nil)
		return
	}

	c.count("processed")
	status := MapInvoiceStatus(st.InvoiceStatus)
	if status == "" {
		status = StatusPending
	}
	common.JSON(w, http.StatusOK, map[string]string{
		"referenceId": referenceID,
		"status":      status,
	})
}

// HandleError processes GET /v1/payments/error, the gateway's failure
// redirect. When a payment id is present the real state is confirmed
// from the gateway; otherwise the visit is just acknowledged.
func (c *Callback) HandleError(w http.ResponseWriter, r *http.Request) {
	if c == nil || c.Svc == nil || c.Gateway == nil {
		common.JSONError(w, http.StatusInternalServerError, "CALLBACK_NOT_CONFIGURED", "callback unavailable", nil)
		return
	}
	purpose, ok := parsePurpose(r.URL.Query().Get("purpose"))
	paymentID := strings.TrimSpace(r.URL.Query().Get("paymentId"))
	if !ok || paymentID == "" {
		c.count("error_ack")
		common.JSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
		return
	}
	st, err := c.Gateway.PaymentStatus(r.Context(), purpose, paymentID, myfatoorah.KeyPaymentID)
	if err != nil {
		c.count("error_ack")
		common.JSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
		return
	}
	if referenceID, rerr := c.resolveReference(r, st); rerr == nil {
		if _, aerr := c.Svc.ApplyStatus(r.Context(), referenceID, st); aerr != nil {
			c.Log.Error().Err(aerr).Str("reference_id", referenceID).Msg("error redirect settlement failed")
		}
	}
	c.count("error_processed")
	common.JSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

// resolveReference maps a gateway snapshot back to a local payment,
// preferring the echoed customer reference and falling back to the
// invoice id.
func (c *Callback) resolveReference(r *http.Request, st myfatoorah.StatusResult) (string, error) {
	if ref := strings.TrimSpace(st.CustomerRef); ref != "" {
		if _, err := c.Svc.Payments.GetByReference(r.Context(), ref); err == nil {
			return ref, nil
		}
	}
	if st.InvoiceID > 0 {
		p, err := c.Svc.Payments.GetByInvoiceID(r.Context(), st.InvoiceID)
		if err == nil {
			return p.ReferenceID, nil
		}
	}
	return "", errors.New("billing: no matching payment")
}

func (c *Callback) releaseReplay(r *http.Request, paymentID string) {
	if c.Replay == nil {
		return
	}
	// Failed processing must stay retryable.
	_ = c.Replay.Del(r.Context(), "payment:callback:"+paymentID).Err()
}

func (c *Callback) count(result string) {
	if obs.CallbackTotal != nil {
		obs.CallbackTotal.WithLabelValues(result).Inc()
	}
}

func parsePurpose(raw string) (myfatoorah.Purpose, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "event":
		return myfatoorah.PurposeEvent, true
	case "subscription":
		return myfatoorah.PurposeSubscription, true
	default:
		return "", false
	}
}
