package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	validator "github.com/go-playground/validator/v10"

	"github.com/nadi-bh/backend-nadi/internal/common"
)

// Handler exposes registration and login endpoints.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type registerRequest struct {
	FullName string `json:"full_name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Mobile   string `json:"mobile"`
	Password string `json:"password" validate:"required,min=8"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Register handles POST /v1/auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
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
	profile, err := h.Svc.Register(r.Context(), req.FullName, req.Email, req.Mobile, req.Password)
	if err != nil {
		renderAuthError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, profile)
}

// Login handles POST /v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
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
	result, err := h.Svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		renderAuthError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, result)
}

// Me handles GET /v1/auth/me for the authenticated member.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	memberID, ok := common.UserID(r.Context())
	if !ok || memberID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	profile, err := h.Svc.Me(r.Context(), memberID)
	if err != nil {
		renderAuthError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, profile)
}

func renderAuthError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		common.JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unexpected error", nil)
}
