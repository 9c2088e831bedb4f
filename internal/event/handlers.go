package event

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/nadi-bh/backend-nadi/internal/common"
)

// Handler exposes the public event catalogue and an admin create endpoint.
type Handler struct {
	Store    *Store
	Validate *validator.Validate
}

type eventResp struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Venue           string    `json:"venue"`
	StartsAt        time.Time `json:"starts_at"`
	TicketPriceFils int64     `json:"ticket_price_fils"`
	Capacity        int       `json:"capacity"`
	Published       bool      `json:"published"`
}

type createEventRequest struct {
	Title           string    `json:"title" validate:"required"`
	Description     string    `json:"description"`
	Venue           string    `json:"venue"`
	StartsAt        time.Time `json:"starts_at" validate:"required"`
	TicketPriceFils int64     `json:"ticket_price_fils" validate:"gte=0"`
	Capacity        int       `json:"capacity" validate:"gte=0"`
	Published       bool      `json:"published"`
}

// List handles GET /v1/events.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	_, perPage := common.ParsePagination(r, 50)
	events, err := h.Store.ListPublished(r.Context(), perPage)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not list events", nil)
		return
	}
	out := make([]eventResp, 0, len(events))
	for _, ev := range events {
		out = append(out, toResp(ev))
	}
	common.JSON(w, http.StatusOK, map[string]any{"events": out})
}

// Get handles GET /v1/events/{eventId}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ev, err := h.Store.Get(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "event not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not load event", nil)
		return
	}
	common.JSON(w, http.StatusOK, toResp(ev))
}

// Create handles POST /v1/admin/events.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
	}
	id, err := h.Store.Create(r.Context(), Event{
		Title:           req.Title,
		Description:     req.Description,
		Venue:           req.Venue,
		StartsAt:        req.StartsAt,
		TicketPriceFils: req.TicketPriceFils,
		Capacity:        req.Capacity,
		Published:       req.Published,
	})
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not create event", nil)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]string{"id": id})
}

func toResp(ev Event) eventResp {
	return eventResp{
		ID:              ev.ID,
		Title:           ev.Title,
		Description:     ev.Description,
		Venue:           ev.Venue,
		StartsAt:        ev.StartsAt,
		TicketPriceFils: ev.TicketPriceFils,
		Capacity:        ev.Capacity,
		Published:       ev.Published,
	}
}
