package chats

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/aetherchat/aether/internal/api"
	"github.com/aetherchat/aether/internal/auth"
)

// Handler handles chat HTTP requests.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler creates a new chats handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:  service,
		validate: validator.New(),
	}
}

// Create handles POST /api/v1/chats.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	ownerID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	chat, err := h.service.Create(r.Context(), ownerID, req.Title)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusCreated, chat)
}

// List handles GET /api/v1/chats.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	ownerID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	list, err := h.service.List(r.Context(), ownerID)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if list == nil {
		list = []Chat{}
	}

	api.JSON(w, http.StatusOK, list)
}

// Messages handles GET /api/v1/chats/{chatID}/messages.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	ownerID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	chatID, err := uuid.Parse(chi.URLParam(r, "chatID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid chat id"))
		return
	}

	msgs, err := h.service.Messages(r.Context(), chatID, ownerID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			api.HandleError(w, api.ErrChatNotFound)
		case errors.Is(err, ErrNotOwner):
			api.HandleError(w, api.ErrNotChatOwner)
		default:
			api.HandleError(w, err)
		}
		return
	}
	if msgs == nil {
		msgs = []Message{}
	}

	api.JSON(w, http.StatusOK, msgs)
}
