package billing

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nadi-bh/backend-nadi/internal/member"
	"github.com/nadi-bh/backend-nadi/internal/myfatoorah"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

type fakeGateway struct {
	methods    []myfatoorah.PaymentMethod
	initiated  []myfatoorah.PaymentRequest
	execResult myfatoorah.ExecuteResult
	status     myfatoorah.StatusResult
	statusKeys []string
	err        error
}

func (f *fakeGateway) InitiatePayment(ctx context.Context, purpose myfatoorah.Purpose, req myfatoorah.PaymentRequest) ([]myfatoorah.PaymentMethod, error) {
	f.initiated = append(f.initiated, req)
	return f.methods, f.err
}

func (f *fakeGateway) ExecutePayment(ctx context.Context, purpose myfatoorah.Purpose, req myfatoorah.PaymentRequest, methodID int) (myfatoorah.ExecuteResult, error) {
	return f.execResult, f.err
}

func (f *fakeGateway) SendPayment(ctx context.Context, purpose myfatoorah.Purpose, req myfatoorah.PaymentRequest) (myfatoorah.InvoiceResult, error) {
	return myfatoorah.InvoiceResult{}, f.err
}

func (f *fakeGateway) PaymentStatus(ctx context.Context, purpose myfatoorah.Purpose, key string, keyType myfatoorah.KeyType) (myfatoorah.StatusResult, error) {
	f.statusKeys = append(f.statusKeys, key)
	return f.status, f.err
}

func TestMapInvoiceStatus(t *testing.T) {
	cases := []struct {
		gateway string
		want    string
	}{
		{"Paid", StatusPaid},
		{"paid", StatusPaid},
		{"  PAID  ", StatusPaid},
		{"Failed", StatusFailed},
		{"Canceled", StatusFailed},
		{"Expired", StatusExpired},
		{"Pending", ""},
		{"InProgress", ""},
		{"", ""},
		{"SomethingNew", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, MapInvoiceStatus(tc.gateway), "status %q", tc.gateway)
	}
}

func TestFilsToBHD(t *testing.T) {
	require.Equal(t, 5.0, FilsToBHD(5000))
	require.Equal(t, 0.5, FilsToBHD(500))
	require.Equal(t, 25.0, FilsToBHD(25000))
	require.Equal(t, 0.0, FilsToBHD(0))
}

func TestServiceRequiresConfiguration(t *testing.T) {
	ctx := context.Background()

	var nilSvc *Service
	_, err := nilSvc.InitiateEventCheckout(ctx, "m1", "e1")
	require.Error(t, err)

	svc := &Service{Payments: &Store{}}
	_, err = svc.StartSubscriptionCheckout(ctx, "m1")
	require.Error(t, err)
}

func TestApplyStatusIgnoresNonTerminalStates(t *testing.T) {
	svc := &Service{
		Gateway:  &fakeGateway{},
		Payments: &Store{},
		Log:      zerolog.Nop(),
	}
	changed, err := svc.ApplyStatus(context.Background(), "evt-abc", myfatoorah.StatusResult{InvoiceStatus: "Pending"})
	require.NoError(t, err)
	require.False(t, changed)
}

func TestSettleRejectsUnknownReferencePrefix(t *testing.T) {
	svc := &Service{Gateway: &fakeGateway{}, Payments: &Store{}}
	err := svc.settle(context.Background(), "order-123")
	require.Error(t, err)
	require.Contains(t, err.Error(), "order-123")
}

func TestPaymentRequestBuildsCallbackURLs(t *testing.T) {
	svc := &Service{
		CallbackBaseURL: "https://nadi.example/",
		Log:             zerolog.Nop(),
	}
	mem := member.Member{FullName: "Ahmed Ali", Email: "ahmed@example.com", Mobile: "36001234"}
	req := svc.paymentRequest(mem, "sub-xyz", myfatoorah.PurposeSubscription, 25000, myfatoorah.InvoiceItem{
		ItemName: "Annual Membership", Quantity: 1, UnitPrice: 25.0,
	})

	require.Equal(t, 25.0, req.InvoiceAmount)
	require.Equal(t, "https://nadi.example/v1/payments/callback?purpose=subscription", req.CallbackURL)
	require.Equal(t, "https://nadi.example/v1/payments/error?purpose=subscription", req.ErrorURL)
	require.Equal(t, "sub-xyz", req.ReferenceID)
	require.Equal(t, "36001234", req.CustomerMobile)
	require.Len(t, req.Items, 1)
}

func TestSchedulePoll(t *testing.T) {
	enq := &fakeEnqueuer{}
	svc := &Service{Tasks: enq, Log: zerolog.Nop()}

	svc.schedulePoll(context.Background(), "evt-abc", myfatoorah.PurposeEvent, 42)
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TypePaymentPoll, enq.tasks[0].Type())

	var p PollPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &p))
	require.Equal(t, "evt-abc", p.ReferenceID)
	require.Equal(t, "event", p.Purpose)
	require.Equal(t, "42", p.Key)
	require.Equal(t, "InvoiceId", p.KeyType)
	require.Equal(t, 0, p.Attempt)
}

func TestSchedulePollSkipsWithoutInvoiceID(t *testing.T) {
	enq := &fakeEnqueuer{}
	svc := &Service{Tasks: enq, Log: zerolog.Nop()}
	svc.schedulePoll(context.Background(), "evt-abc", myfatoorah.PurposeEvent, 0)
	require.Empty(t, enq.tasks)

	// A missing task client is tolerated rather than failing checkout.
	svc = &Service{Log: zerolog.Nop()}
	svc.schedulePoll(context.Background(), "evt-abc", myfatoorah.PurposeEvent, 42)
}
