package myfatoorah

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedactPayloadMasksSensitiveFields(t *testing.T) {
	raw := []byte(`{
		"CustomerName": "Ahmed Ali",
		"CustomerMobile": "36001234",
		"Authorization": "Bearer secret-token",
		"InvoiceItems": [{"ItemName": "ticket", "CustomerMobile": "97336001234"}],
		"Nested": {"CustomerMobile": "36005678"}
	}`)

	got := redactPayload(raw)
	require.NotNil(t, got)
	require.Equal(t, "Ahmed Ali", got["CustomerName"])
	require.Equal(t, "****234", got["CustomerMobile"])
	require.Equal(t, "****ken", got["Authorization"])

	items := got["InvoiceItems"].([]any)
	item := items[0].(map[string]any)
	require.Equal(t, "ticket", item["ItemName"])
	require.Equal(t, "****234", item["CustomerMobile"])

	nested := got["Nested"].(map[string]any)
	require.Equal(t, "****678", nested["CustomerMobile"])
}

func TestRedactPayloadNonStringSensitiveValue(t *testing.T) {
	got := redactPayload([]byte(`{"CustomerMobile": 36001234}`))
	require.Equal(t, "****", got["CustomerMobile"])
}

func TestRedactPayloadUnparseableReturnsNil(t *testing.T) {
	require.Nil(t, redactPayload([]byte("not json")))
}

func TestMask(t *testing.T) {
	require.Equal(t, "", mask("  "))
	require.Equal(t, "****", mask("1234"))
	require.Equal(t, "****234", mask("36001234"))
}
