package billing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nadi-bh/backend-nadi/internal/myfatoorah"
)

func newCallback(t *testing.T, gw *fakeGateway) (*Callback, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return &Callback{
		Svc: &Service{
			Gateway:  gw,
			Payments: &Store{},
			Log:      zerolog.Nop(),
		},
		Gateway:   gw,
		Replay:    rdb,
		ReplayTTL: time.Hour,
		Log:       zerolog.Nop(),
	}, mr
}

func callbackRequest(target string) *http.Request {
	return httptest.NewRequest(http.MethodGet, target, nil)
}

func TestCallbackRejectsUnknownPurpose(t *testing.T) {
	cb, _ := newCallback(t, &fakeGateway{})
	rec := httptest.NewRecorder()
	cb.Handle(rec, callbackRequest("/v1/payments/callback?purpose=refund&paymentId=p1"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackRequiresPaymentID(t *testing.T) {
	cb, _ := newCallback(t, &fakeGateway{})
	rec := httptest.NewRecorder()
	cb.Handle(rec, callbackRequest("/v1/payments/callback?purpose=event"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackReplayIsAcknowledgedWithoutGatewayCall(t *testing.T) {
	gw := &fakeGateway{}
	cb, mr := newCallback(t, gw)
	require.NoError(t, mr.Set("payment:callback:p1", "1"))

	rec := httptest.NewRecorder()
	cb.Handle(rec, callbackRequest("/v1/payments/callback?purpose=event&paymentId=p1"))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "already processed", body["status"])
	require.Empty(t, gw.statusKeys)
}

func TestCallbackGatewayErrorReleasesReplayGuard(t *testing.T) {
	gw := &fakeGateway{err: &myfatoorah.Error{Kind: myfatoorah.KindTransport, Message: "down"}}
	cb, mr := newCallback(t, gw)

	rec := httptest.NewRecorder()
	cb.Handle(rec, callbackRequest("/v1/payments/callback?purpose=event&paymentId=p1"))
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, []string{"p1"}, gw.statusKeys)

	// The guard must be released so a later redirect can retry.
	require.False(t, mr.Exists("payment:callback:p1"))
}

func TestCallbackUnmatchedPaymentReturnsNotFound(t *testing.T) {
	gw := &fakeGateway{status: myfatoorah.StatusResult{InvoiceStatus: "Paid", CustomerRef: "evt-unknown"}}
	cb, mr := newCallback(t, gw)

	rec := httptest.NewRecorder()
	cb.Handle(rec, callbackRequest("/v1/payments/callback?purpose=event&paymentId=p1"))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.False(t, mr.Exists("payment:callback:p1"))
}

func TestErrorRedirectIsAlwaysAcknowledged(t *testing.T) {
	gw := &fakeGateway{err: &myfatoorah.Error{Kind: myfatoorah.KindTransport, Message: "down"}}
	cb, _ := newCallback(t, gw)

	// No payment id at all.
	rec := httptest.NewRecorder()
	cb.HandleError(rec, callbackRequest("/v1/payments/error?purpose=event"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, gw.statusKeys)

	// Gateway unreachable.
	rec = httptest.NewRecorder()
	cb.HandleError(rec, callbackRequest("/v1/payments/error?purpose=event&paymentId=p1"))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "acknowledged", body["status"])
}

func TestParsePurpose(t *testing.T) {
	p, ok := parsePurpose(" Event ")
	require.True(t, ok)
	require.Equal(t, myfatoorah.PurposeEvent, p)

	p, ok = parsePurpose("subscription")
	require.True(t, ok)
	require.Equal(t, myfatoorah.PurposeSubscription, p)

	_, ok = parsePurpose("")
	require.False(t, ok)
	_, ok = parsePurpose("refund")
	require.False(t, ok)
}
