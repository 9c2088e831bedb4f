package billing

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nadi-bh/backend-nadi/internal/common"
	"github.com/nadi-bh/backend-nadi/internal/event"
	"github.com/nadi-bh/backend-nadi/internal/myfatoorah"
	"github.com/nadi-bh/backend-nadi/internal/subscription"
)

func TestRenderErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"event_not_found", event.ErrNotFound, http.StatusNotFound},
		{"subscription_not_found", subscription.ErrNotFound, http.StatusNotFound},
		{"payment_not_found", ErrNotFound, http.StatusNotFound},
		{"not_payable", ErrNotPayable, http.StatusConflict},
		{"no_methods", ErrNoPaymentMethods, http.StatusBadGateway},
		{"method_required", myfatoorah.ErrMethodRequired, http.StatusBadRequest},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"canceled", context.Canceled, http.StatusGatewayTimeout},
		{"config", &myfatoorah.Error{Kind: myfatoorah.KindConfig, Message: "no key"}, http.StatusServiceUnavailable},
		{"rejected", &myfatoorah.Error{Kind: myfatoorah.KindGatewayRejected, Message: "nope"}, http.StatusUnprocessableEntity},
		{"transport", &myfatoorah.Error{Kind: myfatoorah.KindTransport, Message: "down"}, http.StatusBadGateway},
		{"protocol", &myfatoorah.Error{Kind: myfatoorah.KindProtocol, Message: "no url"}, http.StatusBadGateway},
		{"wrapped", fmt.Errorf("checkout: %w", ErrNotPayable), http.StatusConflict},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	h := &Handler{}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.renderError(rec, tc.err)
			require.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestHandlersRequireAuthentication(t *testing.T) {
	h := &Handler{Svc: &Service{Gateway: &fakeGateway{}, Payments: &Store{}}}

	rec := httptest.NewRecorder()
	h.StartSubscriptionCheckout(rec, httptest.NewRequest(http.MethodPost, "/v1/subscriptions/checkout", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/v1/payments/evt-x/status", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExecuteCheckoutValidatesBody(t *testing.T) {
	h := &Handler{Svc: &Service{Gateway: &fakeGateway{}, Payments: &Store{}}}

	req := httptest.NewRequest(http.MethodPost, "/v1/payments/evt-x/execute", nil)
	req = req.WithContext(common.WithUserID(req.Context(), "member-1"))
	rec := httptest.NewRecorder()
	h.ExecuteCheckout(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
