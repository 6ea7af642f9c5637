package ledger

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/randari3d/randari3d-api/internal/middleware"
	"github.com/randari3d/randari3d-api/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type creditsResponse struct {
	Balance      int     `json:"balance"`
	TotalSpent   int     `json:"total_spent"`
	Tier         string  `json:"tier"`
	LastRefillAt string  `json:"last_refill_at"`
	History      []Entry `json:"history"`
}

// Credits returns the caller's balance and recent ledger history.
func (h *Handler) Credits(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	account, err := h.svc.GetAccount(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			response.NotFound(w, "credit account not found")
			return
		}
		response.InternalError(w)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	history, err := h.svc.History(r.Context(), userID, limit, offset)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, creditsResponse{
		Balance:      account.Balance,
		TotalSpent:   account.TotalSpent,
		Tier:         account.Tier,
		LastRefillAt: account.LastRefillAt.UTC().Format(time.RFC3339),
		History:      history,
	})
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/credits", h.Credits)
	return r
}
