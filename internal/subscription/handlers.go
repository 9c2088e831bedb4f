package subscription

import (
	"errors"
	"net/http"
	"time"

	"github.com/nadi-bh/backend-nadi/internal/common"
)

// Handler exposes the member's own subscription state.
type Handler struct {
	Store *Store
}

type subscriptionResp struct {
	ID          string    `json:"id"`
	TermStart   time.Time `json:"term_start"`
	TermEnd     time.Time `json:"term_end"`
	AmountFils  int64     `json:"amount_fils"`
	ReferenceID string    `json:"reference_id"`
	Status      string    `json:"status"`
}

// Me handles GET /v1/subscriptions/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	memberID, ok := common.UserID(r.Context())
	if !ok || memberID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	sub, err := h.Store.ActiveForMember(r.Context(), memberID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "no active subscription", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not load subscription", nil)
		return
	}
	common.JSON(w, http.StatusOK, subscriptionResp{
		ID:          sub.ID,
		TermStart:   sub.TermStart,
		TermEnd:     sub.TermEnd,
		AmountFils:  sub.AmountFils,
		ReferenceID: sub.ReferenceID,
		Status:      sub.Status,
	})
}
