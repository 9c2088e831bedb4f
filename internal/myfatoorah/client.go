// Package myfatoorah implements the MyFatoorah payment gateway client
// used for event registration and membership subscription checkout.
//
// The client is a stateless protocol layer: every operation is one
// outbound HTTPS JSON call, credentials are resolved per call from the
// injected Config, and no retries, caching or timeouts are applied
// here. Callers that need polling-until-terminal-state implement their
// own loop (see internal/poller).
package myfatoorah

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nadi-bh/backend-nadi/internal/obs"
	"github.com/nadi-bh/backend-nadi/internal/resilience"
)

// DefaultBaseURL is the gateway sandbox host, used when no base URL is
// configured.
const DefaultBaseURL = "https://apitest.myfatoorah.com"

const (
	currencyISO  = "BHD"
	responseLang = "en"

	pathInitiate = "/v2/InitiatePayment"
	pathExecute  = "/v2/ExecutePayment"
	pathSend     = "/v2/SendPayment"
	pathStatus   = "/v2/GetPaymentStatus"

	// rawBodyLimit caps the unparseable-response excerpt carried on
	// transport errors so diagnostics never drag whole payloads into logs.
	rawBodyLimit = 512
)

// Client talks to the gateway on behalf of both credential contexts.
// A nil HTTPClient falls back to http.DefaultClient; wiring normally
// supplies one wrapped in an otelhttp transport.
//
// Retry, when set, is used for the read-only endpoints (InitiatePayment
// and GetPaymentStatus). Invoice-creating calls never go through it: a
// retried ExecutePayment could charge the customer twice.
type Client struct {
	Config     Config
	HTTPClient *http.Client
	Retry      *resilience.HTTPClient
	Log        zerolog.Logger
}

// InitiatePayment asks the gateway which payment methods are available
// for the given amount and returns them for user selection. An empty
// method list is a terminal condition for the caller: ExecutePayment
// cannot proceed without a method id.
func (c *Client) InitiatePayment(ctx context.Context, purpose Purpose, req PaymentRequest) ([]PaymentMethod, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	body := initiateRequest{
		InvoiceAmount:      req.InvoiceAmount,
		CurrencyIso:        currencyISO,
		CustomerName:       req.CustomerName,
		CustomerEmail:      req.CustomerEmail,
		CustomerMobile:     NormalizeMobile(req.CustomerMobile),
		CallBackURL:        req.CallbackURL,
		ErrorURL:           req.ErrorURL,
		InvoiceItems:       req.Items,
		DisplayCurrencyIso: currencyISO,
		ReferenceID:        req.ReferenceID,
		MobileCountryCode:  mobileCodeIntl,
		UserDefinedField:   c.logoFor(req),
	}
	env, err := c.post(ctx, purpose, pathInitiate, body, true)
	if err != nil {
		return nil, err
	}
	var data initiateData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, &Error{Kind: KindTransport, Message: "invalid response from payment gateway", Err: err}
	}
	return data.PaymentMethods, nil
}

// ExecutePayment creates a chargeable invoice for the selected method
// and returns the redirect URL the customer must be sent to. When the
// gateway reports a direct payment no redirect is needed and the caller
// may skip that step.
func (c *Client) ExecutePayment(ctx context.Context, purpose Purpose, req PaymentRequest, methodID int) (ExecuteResult, error) {
	var zero ExecuteResult
	if methodID <= 0 {
		return zero, ErrMethodRequired
	}
	if err := validateRequest(req); err != nil {
		return zero, err
	}
	body := executeRequest{
		PaymentMethodID:    methodID,
		InvoiceValue:       req.InvoiceAmount,
		CurrencyIso:        currencyISO,
		CustomerName:       req.CustomerName,
		CustomerEmail:      req.CustomerEmail,
		CustomerMobile:     NormalizeMobile(req.CustomerMobile),
		CallBackURL:        req.CallbackURL,
		ErrorURL:           req.ErrorURL,
		InvoiceItems:       req.Items,
		DisplayCurrencyIso: currencyISO,
		ReferenceID:        req.ReferenceID,
		MobileCountryCode:  mobileCodeIntl,
		Language:           responseLang,
		SupplierName:       c.supplier(purpose),
		UserDefinedField:   c.logoFor(req),
	}
	env, err := c.post(ctx, purpose, pathExecute, body, false)
	if err != nil {
		return zero, err
	}
	var data executeData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return zero, &Error{Kind: KindTransport, Message: "invalid response from payment gateway", Err: err}
	}
	url := firstNonEmpty(data.PaymentURL, data.InvoiceURL, data.PaymentLink)
	if url == "" {
		// The gateway said IsSuccess but gave us nothing to redirect to.
		// A success the caller cannot act on is a failure.
		return zero, &Error{Kind: KindProtocol, Message: "gateway returned success without a payment url"}
	}
	return ExecuteResult{
		InvoiceID:       data.InvoiceID,
		PaymentURL:      url,
		IsDirectPayment: data.IsDirectPayment,
	}, nil
}

// SendPayment is the deprecated single-step invoice creator, kept for
// backward compatibility with integrations predating the two-step flow.
// New callers should use InitiatePayment followed by ExecutePayment.
func (c *Client) SendPayment(ctx context.Context, purpose Purpose, req PaymentRequest) (InvoiceResult, error) {
	var zero InvoiceResult
	if err := validateRequest(req); err != nil {
		return zero, err
	}
	body := sendRequest{
		initiateRequest: initiateRequest{
			InvoiceAmount:      req.InvoiceAmount,
			CurrencyIso:        currencyISO,
			CustomerName:       req.CustomerName,
			CustomerEmail:      req.CustomerEmail,
			CustomerMobile:     NormalizeMobile(req.CustomerMobile),
			CallBackURL:        req.CallbackURL,
			ErrorURL:           req.ErrorURL,
			InvoiceItems:       req.Items,
			DisplayCurrencyIso: currencyISO,
			ReferenceID:        req.ReferenceID,
			MobileCountryCode:  mobileCodeIntl,
			UserDefinedField:   c.logoFor(req),
		},
		Language:     responseLang,
		SupplierName: c.supplier(purpose),
	}
	env, err := c.post(ctx, purpose, pathSend, body, false)
	if err != nil {
		return zero, err
	}
	var data sendData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return zero, &Error{Kind: KindTransport, Message: "invalid response from payment gateway", Err: err}
	}
	if data.InvoiceURL == "" {
		return zero, &Error{Kind: KindProtocol, Message: "gateway returned success without an invoice url"}
	}
	return InvoiceResult{InvoiceID: data.InvoiceID, InvoiceURL: data.InvoiceURL}, nil
}

// PaymentStatus fetches the current state of an invoice or payment.
// One request, one response; no retry or backoff at this layer.
func (c *Client) PaymentStatus(ctx context.Context, purpose Purpose, key string, keyType KeyType) (StatusResult, error) {
	var zero StatusResult
	if strings.TrimSpace(key) == "" {
		return zero, &Error{Kind: KindProtocol, Message: "status lookup key is required"}
	}
	if keyType == "" {
		keyType = KeyInvoiceID
	}
	env, err := c.post(ctx, purpose, pathStatus, statusRequest{Key: key, KeyType: string(keyType)}, true)
	if err != nil {
		return zero, err
	}
	var data StatusResult
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return zero, &Error{Kind: KindTransport, Message: "invalid response from payment gateway", Err: err}
	}
	return data, nil
}

// post marshals the payload, attaches the purpose's credential and runs
// one request/response cycle. The API key is read from Config on every
// call so a rotated credential takes effect without a restart.
func (c *Client) post(ctx context.Context, purpose Purpose, path string, payload any, retryable bool) (*envelope, error) {
	key := c.apiKey(purpose)
	if key == "" {
		c.observe(path, purpose, "config_error", 0)
		return nil, configError(purpose)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: "encode gateway request", Err: err}
	}
	c.Log.Debug().
		Str("endpoint", path).
		Str("purpose", string(purpose)).
		Interface("payload", redactPayload(raw)).
		Msg("gateway_request")

	url := strings.TrimRight(c.baseURL(), "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: "build gateway request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)

	start := time.Now()
	var resp *http.Response
	if retryable && c.Retry != nil {
		resp, err = c.Retry.Do(ctx, httpReq)
	} else {
		client := c.HTTPClient
		if client == nil {
			client = http.DefaultClient
		}
		resp, err = client.Do(httpReq)
	}
	if err != nil {
		c.observe(path, purpose, "transport_error", time.Since(start))
		c.Log.Warn().Str("endpoint", path).Str("purpose", string(purpose)).Err(err).Msg("gateway_unreachable")
		return nil, &Error{Kind: KindTransport, Message: "payment gateway request failed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(path, purpose, "transport_error", time.Since(start))
		return nil, &Error{Kind: KindTransport, Message: "read gateway response", HTTPStatus: resp.StatusCode, Err: err}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.observe(path, purpose, "parse_error", time.Since(start))
		c.Log.Warn().
			Str("endpoint", path).
			Int("status", resp.StatusCode).
			Str("body_excerpt", excerpt(body)).
			Msg("gateway_response_unparseable")
		return nil, &Error{
			Kind:       KindTransport,
			Message:    "invalid response from payment gateway",
			HTTPStatus: resp.StatusCode,
			RawBody:    excerpt(body),
			Err:        err,
		}
	}

	if !env.IsSuccess {
		c.observe(path, purpose, "rejected", time.Since(start))
		rejection := rejectionError(&env)
		rejection.HTTPStatus = resp.StatusCode
		c.Log.Info().
			Str("endpoint", path).
			Str("purpose", string(purpose)).
			Int("status", resp.StatusCode).
			Str("message", rejection.Message).
			Strs("validation_errors", rejection.ValidationErrors).
			Msg("gateway_rejected")
		return nil, rejection
	}

	c.observe(path, purpose, "success", time.Since(start))
	c.Log.Debug().
		Str("endpoint", path).
		Str("purpose", string(purpose)).
		Int("status", resp.StatusCode).
		Msg("gateway_response")
	return &env, nil
}

func (c *Client) apiKey(purpose Purpose) string {
	switch purpose {
	case PurposeSubscription:
		return strings.TrimSpace(c.Config.SubscriptionAPIKey)
	default:
		return strings.TrimSpace(c.Config.EventAPIKey)
	}
}

func (c *Client) supplier(purpose Purpose) string {
	switch purpose {
	case PurposeSubscription:
		return c.Config.SubscriptionSupplier
	default:
		return c.Config.EventSupplier
	}
}

func (c *Client) baseURL() string {
	if strings.TrimSpace(c.Config.BaseURL) == "" {
		return DefaultBaseURL
	}
	return c.Config.BaseURL
}

func (c *Client) logoFor(req PaymentRequest) string {
	if req.LogoURL != "" {
		return req.LogoURL
	}
	return c.Config.LogoURL
}

func (c *Client) observe(path string, purpose Purpose, result string, elapsed time.Duration) {
	if obs.GatewayRequestsTotal != nil {
		obs.GatewayRequestsTotal.WithLabelValues(path, string(purpose), result).Inc()
	}
	if obs.GatewayRequestLatency != nil && elapsed > 0 {
		obs.GatewayRequestLatency.WithLabelValues(path).Observe(obs.DurationMillis(elapsed))
	}
}

func validateRequest(req PaymentRequest) error {
	if req.InvoiceAmount <= 0 {
		return ErrAmountInvalid
	}
	if len(req.Items) == 0 {
		return ErrItemsRequired
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func excerpt(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) > rawBodyLimit {
		return fmt.Sprintf("%s… (%d bytes total)", trimmed[:rawBodyLimit], len(trimmed))
	}
	return trimmed
}
