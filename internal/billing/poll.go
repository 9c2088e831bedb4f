package billing

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// TypePaymentPoll is the asynq task type for payment status polling.
const TypePaymentPoll = "payment:poll"

// PollPayload carries everything a poll attempt needs to query the
// gateway and settle the local ledger.
type PollPayload struct {
	ReferenceID string `json:"referenceId"`
	Purpose     string `json:"purpose"`
	Key         string `json:"key"`
	KeyType     string `json:"keyType"`
	Attempt     int    `json:"attempt"`
}

// NewPollTask builds an asynq task for one payment status poll.
func NewPollTask(p PollPayload) (*asynq.Task, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePaymentPoll, raw), nil
}
