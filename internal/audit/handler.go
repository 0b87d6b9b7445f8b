package audit

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/aetherchat/aether/internal/api"
	"github.com/aetherchat/aether/internal/auth"
)

// Handler provides HTTP access to a principal's activity trail.
type Handler struct {
	repo *Repository
}

// NewHandler creates a new audit Handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// List returns paginated activity entries for the authenticated user.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	principalID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	entries, err := h.repo.ListByPrincipal(r.Context(), principalID, parseListParams(r))
	if err != nil {
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}

	api.JSON(w, http.StatusOK, entries)
}

func parseListParams(r *http.Request) ListParams {
	params := ListParams{Page: 1, PageSize: 20}

	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			params.Page = n
		}
	}
	if v := q.Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			params.PageSize = n
		}
	}
	params.EventType = q.Get("event_type")

	return params
}
