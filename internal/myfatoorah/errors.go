package myfatoorah

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies gateway failures into a closed set so callers can
// branch on failure category without string matching.
type Kind int

const (
	// KindUnknown is the zero value; errors that did not originate in
	// this package report it.
	KindUnknown Kind = iota
	// KindConfig means a required API key is missing. Detected before
	// any network call; only operator action can resolve it.
	KindConfig
	// KindTransport covers network failures and unparseable responses.
	KindTransport
	// KindGatewayRejected is a business-level rejection (IsSuccess:false).
	KindGatewayRejected
	// KindProtocol means the gateway claimed success but omitted a field
	// the caller cannot proceed without, e.g. a redirect URL.
	KindProtocol
)

// String returns a stable label for metrics and logs.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransport:
		return "transport"
	case KindGatewayRejected:
		return "gateway_rejected"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error is the structured failure returned by every client operation.
// Diagnostic fields are populated per kind: RawBody and HTTPStatus for
// transport failures, ValidationErrors for gateway rejections.
type Error struct {
	Kind             Kind
	Message          string
	ValidationErrors []string
	HTTPStatus       int
	RawBody          string
	Err              error
}

// Error renders a diagnostic-oriented message. It is meant for logs and
// support, not end users.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("myfatoorah: ")
	b.WriteString(e.Message)
	if len(e.ValidationErrors) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.ValidationErrors, "; "))
	}
	if e.HTTPStatus > 0 {
		fmt.Fprintf(&b, " (http %d)", e.HTTPStatus)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf extracts the failure kind from an error chain. Errors not
// produced by this package report KindUnknown.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUnknown
}

// Caller precondition violations. These never reach the wire and are
// deliberately outside the gateway failure taxonomy.
var (
	ErrMethodRequired = errors.New("myfatoorah: payment method id is required")
	ErrAmountInvalid  = errors.New("myfatoorah: invoice amount must be positive")
	ErrItemsRequired  = errors.New("myfatoorah: at least one invoice item is required")
)

func configError(purpose Purpose) *Error {
	return &Error{
		Kind:    KindConfig,
		Message: fmt.Sprintf("api key for %s payments is not configured", purpose),
	}
}

func rejectionError(env *envelope) *Error {
	msg := strings.TrimSpace(env.Message)
	if msg == "" {
		msg = "payment gateway rejected the request"
	}
	details := make([]string, 0, len(env.ValidationErrors))
	for _, ve := range env.ValidationErrors {
		detail := strings.TrimSpace(ve.Error)
		if detail == "" {
			continue
		}
		if name := strings.TrimSpace(ve.Name); name != "" {
			detail = name + ": " + detail
		}
		details = append(details, detail)
	}
	return &Error{Kind: KindGatewayRejected, Message: msg, ValidationErrors: details}
}
