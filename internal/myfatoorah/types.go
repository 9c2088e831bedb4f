package myfatoorah

import "encoding/json"

// Purpose selects which credential context a gateway call runs under.
// Event and subscription payments are settled into different merchant
// accounts, each with its own API key and supplier identity.
type Purpose string

const (
	// PurposeEvent charges event registrations.
	PurposeEvent Purpose = "event"
	// PurposeSubscription charges membership subscriptions.
	PurposeSubscription Purpose = "subscription"
)

// KeyType discriminates payment status lookups. The gateway accepts
// either its own invoice id or the per-transaction payment id.
type KeyType string

const (
	KeyInvoiceID KeyType = "InvoiceId"
	KeyPaymentID KeyType = "PaymentId"
)

// Config carries the credentials and endpoints for both purposes. It is
// built once at startup and injected into the client so tests can supply
// fake credentials without touching the process environment.
type Config struct {
	BaseURL              string
	EventAPIKey          string
	SubscriptionAPIKey   string
	EventSupplier        string
	SubscriptionSupplier string
	LogoURL              string
}

// InvoiceItem is a single line on the gateway invoice. The gateway
// rejects invoices whose items do not sum to the invoice amount; this
// client does not pre-validate that.
type InvoiceItem struct {
	ItemName  string  `json:"ItemName"`
	Quantity  int     `json:"Quantity"`
	UnitPrice float64 `json:"UnitPrice"`
}

// PaymentRequest is the caller-facing input for all payment operations.
// Amounts are BHD. CustomerMobile may be free-form; it is normalized
// before transmission.
type PaymentRequest struct {
	InvoiceAmount  float64
	CustomerName   string
	CustomerEmail  string
	CustomerMobile string
	Items          []InvoiceItem
	CallbackURL    string
	ErrorURL       string
	ReferenceID    string
	LogoURL        string
}

// PaymentMethod is one option returned by InitiatePayment. Fields are
// passed through to the caller untouched; only PaymentMethodID is
// meaningful to this client (it feeds ExecutePayment).
type PaymentMethod struct {
	PaymentMethodID    int     `json:"PaymentMethodId"`
	PaymentMethodEn    string  `json:"PaymentMethodEn"`
	PaymentMethodAr    string  `json:"PaymentMethodAr"`
	PaymentMethodCode  string  `json:"PaymentMethodCode"`
	IsDirectPayment    bool    `json:"IsDirectPayment"`
	ServiceCharge      float64 `json:"ServiceCharge"`
	TotalAmount        float64 `json:"TotalAmount"`
	CurrencyIso        string  `json:"CurrencyIso"`
	ImageURL           string  `json:"ImageUrl"`
	PaymentCurrencyIso string  `json:"PaymentCurrencyIso"`
}

// ExecuteResult is the outcome of ExecutePayment. PaymentURL is always
// non-empty on success; a gateway success without a usable redirect URL
// is reported as an error instead.
type ExecuteResult struct {
	InvoiceID       int64
	PaymentURL      string
	IsDirectPayment bool
}

// InvoiceResult is the outcome of the legacy single-step SendPayment.
type InvoiceResult struct {
	InvoiceID  int64
	InvoiceURL string
}

// Transaction is one settlement attempt attached to an invoice.
type Transaction struct {
	TransactionID     string  `json:"TransactionId"`
	PaymentID         string  `json:"PaymentId"`
	TransactionStatus string  `json:"TransactionStatus"`
	PaymentGateway    string  `json:"PaymentGateway"`
	PaidCurrency      string  `json:"PaidCurrency"`
	PaidCurrencyValue float64 `json:"PaidCurrencyValue"`
	TransactionDate   string  `json:"TransactionDate"`
	Error             string  `json:"Error"`
}

// StatusResult is a point-in-time snapshot of an invoice. Nothing is
// cached; durability is the caller's concern.
type StatusResult struct {
	InvoiceID        int64         `json:"InvoiceId"`
	InvoiceStatus    string        `json:"InvoiceStatus"`
	InvoiceValue     float64       `json:"InvoiceValue"`
	InvoiceReference string        `json:"InvoiceReference"`
	CustomerRef      string        `json:"CustomerReference"`
	Transactions     []Transaction `json:"InvoiceTransactions"`
}

// envelope is the gateway's response wrapper shared by every endpoint.
type envelope struct {
	IsSuccess        bool              `json:"IsSuccess"`
	Message          string            `json:"Message"`
	ValidationErrors []validationError `json:"ValidationErrors"`
	Data             json.RawMessage   `json:"Data"`
}

type validationError struct {
	Name  string `json:"Name"`
	Error string `json:"Error"`
}

// Wire request bodies. The gateway is inconsistent about amount field
// naming: InitiatePayment and SendPayment take InvoiceAmount while
// ExecutePayment takes InvoiceValue.

type initiateRequest struct {
	InvoiceAmount      float64       `json:"InvoiceAmount"`
	CurrencyIso        string        `json:"CurrencyIso"`
	CustomerName       string        `json:"CustomerName"`
	CustomerEmail      string        `json:"CustomerEmail"`
	CustomerMobile     string        `json:"CustomerMobile"`
	CallBackURL        string        `json:"CallBackUrl"`
	ErrorURL           string        `json:"ErrorUrl"`
	InvoiceItems       []InvoiceItem `json:"InvoiceItems"`
	DisplayCurrencyIso string        `json:"DisplayCurrencyIso"`
	ReferenceID        string        `json:"ReferenceId"`
	MobileCountryCode  string        `json:"MobileCountryCode"`
	UserDefinedField   string        `json:"UserDefinedField,omitempty"`
}

type executeRequest struct {
	PaymentMethodID    int           `json:"PaymentMethodId"`
	InvoiceValue       float64       `json:"InvoiceValue"`
	CurrencyIso        string        `json:"CurrencyIso"`
	CustomerName       string        `json:"CustomerName"`
	CustomerEmail      string        `json:"CustomerEmail"`
	CustomerMobile     string        `json:"CustomerMobile"`
	CallBackURL        string        `json:"CallBackUrl"`
	ErrorURL           string        `json:"ErrorUrl"`
	InvoiceItems       []InvoiceItem `json:"InvoiceItems"`
	DisplayCurrencyIso string        `json:"DisplayCurrencyIso"`
	ReferenceID        string        `json:"ReferenceId"`
	MobileCountryCode  string        `json:"MobileCountryCode"`
	Language           string        `json:"Language"`
	SupplierName       string        `json:"SupplierName,omitempty"`
	UserDefinedField   string        `json:"UserDefinedField,omitempty"`
}

type sendRequest struct {
	initiateRequest
	Language     string `json:"Language"`
	SupplierName string `json:"SupplierName,omitempty"`
}

type statusRequest struct {
	Key     string `json:"Key"`
	KeyType string `json:"KeyType"`
}

type initiateData struct {
	PaymentMethods []PaymentMethod `json:"PaymentMethods"`
}

// executeData tolerates the gateway's inconsistent redirect field naming
// across payment methods. The first non-empty of PaymentURL, InvoiceURL,
// PaymentLink wins; do not collapse this to a single field.
type executeData struct {
	InvoiceID       int64  `json:"InvoiceId"`
	PaymentURL      string `json:"PaymentURL"`
	InvoiceURL      string `json:"InvoiceURL"`
	PaymentLink     string `json:"PaymentLink"`
	IsDirectPayment bool   `json:"IsDirectPayment"`
}

type sendData struct {
	InvoiceID  int64  `json:"InvoiceId"`
	InvoiceURL string `json:"InvoiceURL"`
}
