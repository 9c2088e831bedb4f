package myfatoorah

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testRequest() PaymentRequest {
	return PaymentRequest{
		InvoiceAmount:  5.0,
		CustomerName:   "Ahmed Ali",
		CustomerEmail:  "ahmed@example.com",
		CustomerMobile: "+973 3600 1234",
		Items:          []InvoiceItem{{ItemName: "Annual Gala ticket", Quantity: 1, UnitPrice: 5.0}},
		CallbackURL:    "https://nadi.example/v1/payments/callback?purpose=event",
		ErrorURL:       "https://nadi.example/v1/payments/error",
		ReferenceID:    "evt-abc123",
	}
}

func gatewayOK(t *testing.T, data any) string {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{
		"IsSuccess": true,
		"Message":   "OK",
		"Data":      json.RawMessage(raw),
	})
	require.NoError(t, err)
	return string(body)
}

func TestMissingAPIKeyFailsWithoutNetworkCall(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	c := &Client{
		Config: Config{BaseURL: srv.URL, EventAPIKey: "evt-key"},
		Log:    zerolog.Nop(),
	}
	_, err := c.InitiatePayment(context.Background(), PurposeSubscription, testRequest())
	require.Error(t, err)
	require.Equal(t, KindConfig, KindOf(err))
	require.EqualValues(t, 0, atomic.LoadInt32(&hits))
}

func TestCredentialSelectionPerPurpose(t *testing.T) {
	auths := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auths <- r.Header.Get("Authorization")
		_, _ = w.Write([]byte(gatewayOK(t, initiateData{PaymentMethods: []PaymentMethod{{PaymentMethodID: 2}}})))
	}))
	defer srv.Close()

	c := &Client{
		Config: Config{BaseURL: srv.URL, EventAPIKey: "evt-key", SubscriptionAPIKey: "sub-key"},
		Log:    zerolog.Nop(),
	}
	_, err := c.InitiatePayment(context.Background(), PurposeEvent, testRequest())
	require.NoError(t, err)
	_, err = c.InitiatePayment(context.Background(), PurposeSubscription, testRequest())
	require.NoError(t, err)

	require.Equal(t, "Bearer evt-key", <-auths)
	require.Equal(t, "Bearer sub-key", <-auths)
}

func TestPreconditionsSkipNetwork(t *testing.T) {
	c := &Client{
		Config: Config{BaseURL: "http://127.0.0.1:1", EventAPIKey: "evt-key"},
		Log:    zerolog.Nop(),
	}

	_, err := c.ExecutePayment(context.Background(), PurposeEvent, testRequest(), 0)
	require.ErrorIs(t, err, ErrMethodRequired)

	bad := testRequest()
	bad.InvoiceAmount = 0
	_, err = c.InitiatePayment(context.Background(), PurposeEvent, bad)
	require.ErrorIs(t, err, ErrAmountInvalid)

	bad = testRequest()
	bad.Items = nil
	_, err = c.SendPayment(context.Background(), PurposeEvent, bad)
	require.ErrorIs(t, err, ErrItemsRequired)
}

func TestInitiateSendsNormalizedMobileAndAmount(t *testing.T) {
	var got initiateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/InitiatePayment", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(gatewayOK(t, initiateData{PaymentMethods: []PaymentMethod{
			{PaymentMethodID: 2, PaymentMethodEn: "VISA/MASTER", TotalAmount: 5.0, CurrencyIso: "BHD"},
		}})))
	}))
	defer srv.Close()

	c := &Client{Config: Config{BaseURL: srv.URL, EventAPIKey: "evt-key"}, Log: zerolog.Nop()}
	methods, err := c.InitiatePayment(context.Background(), PurposeEvent, testRequest())
	require.NoError(t, err)
	require.Len(t, methods, 1)
	require.Equal(t, 2, methods[0].PaymentMethodID)

	require.Equal(t, 5.0, got.InvoiceAmount)
	require.Equal(t, "36001234", got.CustomerMobile)
	require.Equal(t, "+973", got.MobileCountryCode)
	require.Equal(t, "BHD", got.CurrencyIso)
	require.Equal(t, "evt-abc123", got.ReferenceID)
}

func TestExecuteRedirectURLFallback(t *testing.T) {
	cases := []struct {
		name string
		data executeData
		want string
	}{
		{"payment_url", executeData{InvoiceID: 7, PaymentURL: "https://pay.example/a", InvoiceURL: "https://pay.example/b"}, "https://pay.example/a"},
		{"invoice_url", executeData{InvoiceID: 7, InvoiceURL: "https://pay.example/b", PaymentLink: "https://pay.example/c"}, "https://pay.example/b"},
		{"payment_link", executeData{InvoiceID: 7, PaymentLink: "https://pay.example/c"}, "https://pay.example/c"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(gatewayOK(t, tc.data)))
			}))
			defer srv.Close()

			c := &Client{Config: Config{BaseURL: srv.URL, EventAPIKey: "evt-key"}, Log: zerolog.Nop()}
			res, err := c.ExecutePayment(context.Background(), PurposeEvent, testRequest(), 2)
			require.NoError(t, err)
			require.Equal(t, tc.want, res.PaymentURL)
			require.EqualValues(t, 7, res.InvoiceID)
		})
	}
}

func TestExecuteSuccessWithoutURLIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(gatewayOK(t, executeData{InvoiceID: 9})))
	}))
	defer srv.Close()

	c := &Client{Config: Config{BaseURL: srv.URL, EventAPIKey: "evt-key"}, Log: zerolog.Nop()}
	_, err := c.ExecutePayment(context.Background(), PurposeEvent, testRequest(), 2)
	require.Error(t, err)
	require.Equal(t, KindProtocol, KindOf(err))
}

func TestExecuteUsesInvoiceValueAndSupplier(t *testing.T) {
	var got executeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/ExecutePayment", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(gatewayOK(t, executeData{InvoiceID: 42, PaymentURL: "https://pay.example/42"})))
	}))
	defer srv.Close()

	c := &Client{
		Config: Config{
			BaseURL:              srv.URL,
			EventAPIKey:          "evt-key",
			SubscriptionAPIKey:   "sub-key",
			SubscriptionSupplier: "Nadi Membership",
		},
		Log: zerolog.Nop(),
	}
	res, err := c.ExecutePayment(context.Background(), PurposeSubscription, testRequest(), 2)
	require.NoError(t, err)
	require.False(t, res.IsDirectPayment)
	require.NotEmpty(t, res.PaymentURL)

	require.Equal(t, 5.0, got.InvoiceValue)
	require.Equal(t, "en", got.Language)
	require.Equal(t, "Nadi Membership", got.SupplierName)
	require.Equal(t, 2, got.PaymentMethodID)
}

func TestGatewayRejectionCarriesValidationErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{
			"IsSuccess": false,
			"Message": "InvalidData",
			"ValidationErrors": [{"Name": "CustomerMobile", "Error": "must be numeric"}]
		}`))
	}))
	defer srv.Close()

	c := &Client{Config: Config{BaseURL: srv.URL, EventAPIKey: "evt-key"}, Log: zerolog.Nop()}
	_, err := c.InitiatePayment(context.Background(), PurposeEvent, testRequest())
	require.Error(t, err)
	require.Equal(t, KindGatewayRejected, KindOf(err))

	var ge *Error
	require.ErrorAs(t, err, &ge)
	require.Equal(t, "InvalidData", ge.Message)
	require.Equal(t, []string{"CustomerMobile: must be numeric"}, ge.ValidationErrors)
	require.Equal(t, http.StatusBadRequest, ge.HTTPStatus)
}

func TestUnparseableResponseIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>upstream error</html>"))
	}))
	defer srv.Close()

	c := &Client{Config: Config{BaseURL: srv.URL, EventAPIKey: "evt-key"}, Log: zerolog.Nop()}
	_, err := c.InitiatePayment(context.Background(), PurposeEvent, testRequest())
	require.Error(t, err)
	require.Equal(t, KindTransport, KindOf(err))

	var ge *Error
	require.ErrorAs(t, err, &ge)
	require.Equal(t, http.StatusBadGateway, ge.HTTPStatus)
	require.Contains(t, ge.RawBody, "upstream error")
}

func TestPaymentStatusKeyTypes(t *testing.T) {
	var got statusRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/GetPaymentStatus", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(gatewayOK(t, StatusResult{
			InvoiceID:     42,
			InvoiceStatus: "Paid",
			CustomerRef:   "evt-abc123",
		})))
	}))
	defer srv.Close()

	c := &Client{Config: Config{BaseURL: srv.URL, EventAPIKey: "evt-key"}, Log: zerolog.Nop()}

	st, err := c.PaymentStatus(context.Background(), PurposeEvent, "42", KeyInvoiceID)
	require.NoError(t, err)
	require.Equal(t, "Paid", st.InvoiceStatus)
	require.Equal(t, statusRequest{Key: "42", KeyType: "InvoiceId"}, got)

	_, err = c.PaymentStatus(context.Background(), PurposeEvent, "pay-77", KeyPaymentID)
	require.NoError(t, err)
	require.Equal(t, statusRequest{Key: "pay-77", KeyType: "PaymentId"}, got)

	// Empty key type falls back to invoice id lookup.
	_, err = c.PaymentStatus(context.Background(), PurposeEvent, "42", "")
	require.NoError(t, err)
	require.Equal(t, "InvoiceId", got.KeyType)
}

func TestPaymentStatusRequiresKey(t *testing.T) {
	c := &Client{Config: Config{EventAPIKey: "evt-key"}, Log: zerolog.Nop()}
	_, err := c.PaymentStatus(context.Background(), PurposeEvent, "  ", KeyInvoiceID)
	require.Error(t, err)
	require.Equal(t, KindProtocol, KindOf(err))
}

func TestTwoStepCheckoutFlow(t *testing.T) {
	var initReq initiateRequest
	var execReq executeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer evt-key", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v2/InitiatePayment":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&initReq))
			_, _ = w.Write([]byte(gatewayOK(t, initiateData{PaymentMethods: []PaymentMethod{
				{PaymentMethodID: 2, PaymentMethodEn: "VISA/MASTER", TotalAmount: 5.0},
				{PaymentMethodID: 6, PaymentMethodEn: "BENEFIT", TotalAmount: 5.0},
			}})))
		case "/v2/ExecutePayment":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&execReq))
			_, _ = w.Write([]byte(gatewayOK(t, executeData{
				InvoiceID:  314159,
				PaymentURL: "https://pay.example/314159",
			})))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := &Client{
		Config: Config{BaseURL: srv.URL, EventAPIKey: "evt-key", EventSupplier: "Nadi Events"},
		Log:    zerolog.Nop(),
	}
	req := testRequest()

	methods, err := c.InitiatePayment(context.Background(), PurposeEvent, req)
	require.NoError(t, err)
	require.Len(t, methods, 2)
	require.Equal(t, "evt-abc123", initReq.ReferenceID)
	require.Equal(t, 5.0, initReq.InvoiceAmount)

	res, err := c.ExecutePayment(context.Background(), PurposeEvent, req, methods[1].PaymentMethodID)
	require.NoError(t, err)
	require.Equal(t, "evt-abc123", execReq.ReferenceID)
	require.Equal(t, 6, execReq.PaymentMethodID)
	require.Equal(t, "Nadi Events", execReq.SupplierName)
	require.False(t, res.IsDirectPayment)
	require.EqualValues(t, 314159, res.InvoiceID)
	require.NotEmpty(t, res.PaymentURL)
}

func TestSendPaymentLegacyFlow(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/SendPayment", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(gatewayOK(t, sendData{InvoiceID: 88, InvoiceURL: "https://pay.example/88"})))
	}))
	defer srv.Close()

	c := &Client{
		Config: Config{BaseURL: srv.URL, SubscriptionAPIKey: "sub-key", SubscriptionSupplier: "Nadi Membership"},
		Log:    zerolog.Nop(),
	}
	res, err := c.SendPayment(context.Background(), PurposeSubscription, testRequest())
	require.NoError(t, err)
	require.EqualValues(t, 88, res.InvoiceID)
	require.Equal(t, "https://pay.example/88", res.InvoiceURL)
	require.Equal(t, "en", got.Language)
	require.Equal(t, "Nadi Membership", got.SupplierName)
	require.Equal(t, 5.0, got.InvoiceAmount)
}
