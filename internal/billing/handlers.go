package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/nadi-bh/backend-nadi/internal/common"
	"github.com/nadi-bh/backend-nadi/internal/event"
	"github.com/nadi-bh/backend-nadi/internal/myfatoorah"
	"github.com/nadi-bh/backend-nadi/internal/subscription"
)

// Handler exposes checkout and payment status endpoints.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type executeReq struct {
	PaymentMethodID int `json:"paymentMethodId" validate:"required,gt=0"`
}

type methodResp struct {
	PaymentMethodID   int     `json:"paymentMethodId"`
	PaymentMethodEn   string  `json:"name"`
	PaymentMethodCode string  `json:"code"`
	ServiceCharge     float64 `json:"serviceCharge"`
	TotalAmount       float64 `json:"totalAmount"`
	ImageURL          string  `json:"imageUrl,omitempty"`
}

type checkoutStartResp struct {
	ReferenceID string       `json:"referenceId"`
	AmountBHD   float64      `json:"amountBhd"`
	Methods     []methodResp `json:"paymentMethods"`
}

type checkoutResultResp struct {
	ReferenceID     string `json:"referenceId"`
	InvoiceID       int64  `json:"invoiceId"`
	PaymentURL      string `json:"paymentUrl"`
	IsDirectPayment bool   `json:"isDirectPayment"`
}

// InitiateEventCheckout handles POST /v1/events/{eventId}/checkout.
func (h *Handler) InitiateEventCheckout(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.memberID(w, r)
	if !ok {
		return
	}
	eventID := strings.TrimSpace(chi.URLParam(r, "eventId"))
	if eventID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "eventId is required", nil)
		return
	}
	start, err := h.Svc.InitiateEventCheckout(r.Context(), memberID, eventID)
	if err != nil {
		h.renderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, toStartResp(start))
}

// ExecuteCheckout handles POST /v1/payments/{referenceId}/execute for
// both purposes; the reference id prefix selects the flow.
func (h *Handler) ExecuteCheckout(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.memberID(w, r)
	if !ok {
		return
	}
	referenceID := strings.TrimSpace(chi.URLParam(r, "referenceId"))
	if referenceID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "referenceId is required", nil)
		return
	}
	var req executeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "paymentMethodId is required", nil)
			return
		}
	}

	var (
		result CheckoutResult
		err    error
	)
	switch {
	case strings.HasPrefix(referenceID, "sub-"):
		result, err = h.Svc.ExecuteSubscriptionCheckout(r.Context(), memberID, referenceID, req.PaymentMethodID)
	default:
		result, err = h.Svc.ExecuteEventCheckout(r.Context(), memberID, referenceID, req.PaymentMethodID)
	}
	if err != nil {
		h.renderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, checkoutResultResp(result))
}

// StartSubscriptionCheckout handles POST /v1/membership/checkout.
func (h *Handler) StartSubscriptionCheckout(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.memberID(w, r)
	if !ok {
		return
	}
	start, err := h.Svc.StartSubscriptionCheckout(r.Context(), memberID)
	if err != nil {
		h.renderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, toStartResp(start))
}

// LegacySubscriptionCheckout handles POST /v1/membership/checkout/legacy.
// Deprecated single-call flow; see Service.LegacySubscriptionInvoice.
func (h *Handler) LegacySubscriptionCheckout(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.memberID(w, r)
	if !ok {
		return
	}
	result, err := h.Svc.LegacySubscriptionInvoice(r.Context(), memberID)
	if err != nil {
		h.renderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, checkoutResultResp(result))
}

// Status handles GET /v1/payments/{referenceId}.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.memberID(w, r); !ok {
		return
	}
	referenceID := strings.TrimSpace(chi.URLParam(r, "referenceId"))
	if referenceID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "referenceId is required", nil)
		return
	}
	state, err := h.Svc.Status(r.Context(), referenceID)
	if err != nil {
		h.renderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"referenceId":   state.ReferenceID,
		"purpose":       state.Purpose,
		"status":        state.Status,
		"gatewayStatus": state.GatewayStatus,
		"amountBhd":     FilsToBHD(state.AmountFils),
		"paymentUrl":    state.PaymentURL,
	})
}

func (h *Handler) memberID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "BILLING_NOT_CONFIGURED", "billing handler unavailable", nil)
		return "", false
	}
	memberID, ok := common.UserID(r.Context())
	if !ok || strings.TrimSpace(memberID) == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "login required", nil)
		return "", false
	}
	return memberID, true
}

// renderError maps service and gateway failures onto the API error
// shape. Gateway diagnostics stay in logs; clients get a category and a
// short message they can translate for end users.
func (h *Handler) renderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, event.ErrNotFound),
		errors.Is(err, subscription.ErrNotFound),
		errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	case errors.Is(err, ErrNotPayable):
		common.JSONError(w, http.StatusConflict, "NOT_PAYABLE", "payment already settled or canceled", nil)
	case errors.Is(err, ErrNoPaymentMethods):
		common.JSONError(w, http.StatusBadGateway, "NO_PAYMENT_METHODS", "no payment methods available", nil)
	case errors.Is(err, myfatoorah.ErrMethodRequired):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "paymentMethodId is required", nil)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		common.JSONError(w, http.StatusGatewayTimeout, "GATEWAY_TIMEOUT", "payment gateway timed out", nil)
	default:
		switch myfatoorah.KindOf(err) {
		case myfatoorah.KindConfig:
			common.JSONError(w, http.StatusServiceUnavailable, "PAYMENT_NOT_CONFIGURED", "payment gateway is not configured", nil)
		case myfatoorah.KindGatewayRejected:
			common.JSONError(w, http.StatusUnprocessableEntity, "PAYMENT_REJECTED", "payment could not be processed", nil)
		case myfatoorah.KindTransport, myfatoorah.KindProtocol:
			common.JSONError(w, http.StatusBadGateway, "PAYMENT_GATEWAY_ERROR", "payment could not be processed", nil)
		default:
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		}
	}
}

func toStartResp(start CheckoutStart) checkoutStartResp {
	methods := make([]methodResp, 0, len(start.Methods))
	for _, m := range start.Methods {
		methods = append(methods, methodResp{
			PaymentMethodID:   m.PaymentMethodID,
			PaymentMethodEn:   m.PaymentMethodEn,
			PaymentMethodCode: m.PaymentMethodCode,
			ServiceCharge:     m.ServiceCharge,
			TotalAmount:       m.TotalAmount,
			ImageURL:          m.ImageURL,
		})
	}
	return checkoutStartResp{
		ReferenceID: start.ReferenceID,
		AmountBHD:   FilsToBHD(start.AmountFils),
		Methods:     methods,
	}
}
