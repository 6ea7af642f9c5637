package generation

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/randari3d/randari3d-api/internal/domain/ledger"
	"github.com/randari3d/randari3d-api/internal/middleware"
	"github.com/randari3d/randari3d-api/internal/pkg/provider"
	"github.com/randari3d/randari3d-api/internal/pkg/response"
	"github.com/randari3d/randari3d-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Generate handles POST /api/v1/generate. The request blocks until the job
// reaches a terminal state.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if err := validator.Validate(&req); err != nil {
		response.ValidationError(w, validator.Errors(err))
		return
	}

	job, remaining, err := h.svc.Generate(r.Context(), userID, req)
	if err != nil {
		h.writeGenerateError(w, err)
		return
	}

	response.OK(w, GenerateResponse{Job: job, RemainingCredits: remaining})
}

func (h *Handler) writeGenerateError(w http.ResponseWriter, err error) {
	var insufficientErr *ledger.InsufficientCreditsError
	var rejectedErr *provider.RejectedError

	switch {
	case errors.As(err, &insufficientErr):
		response.PaymentRequired(w, "not enough credits for this generation", map[string]string{
			"required":  strconv.Itoa(insufficientErr.Required),
			"available": strconv.Itoa(insufficientErr.Available),
		})
	case errors.Is(err, provider.ErrUnknownProvider):
		response.BadRequest(w, "unknown generation provider")
	case errors.Is(err, ledger.ErrAccountNotFound):
		response.NotFound(w, "credit account not found")
	case errors.As(err, &rejectedErr):
		response.BadGateway(w, "generation provider rejected the request")
	case errors.Is(err, provider.ErrUnavailable):
		response.BadGateway(w, "generation provider is unavailable")
	case errors.Is(err, ErrPollTimeout):
		response.BadGateway(w, "generation timed out, credits were refunded")
	case errors.Is(err, ErrGenerationFailed):
		response.BadGateway(w, "generation failed, credits were refunded")
	default:
		response.InternalError(w)
	}
}

type jobStatusResponse struct {
	*Job
	Progress *int `json:"progress,omitempty"`
}

// GetJob handles GET /api/v1/generate/{id}. Jobs are visible only to their
// owner; foreign jobs read as not found.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid job id")
		return
	}

	job, err := h.svc.Get(r.Context(), userID, jobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			response.NotFound(w, "generation job not found")
			return
		}
		response.InternalError(w)
		return
	}

	resp := jobStatusResponse{Job: job}
	if !job.Status.Terminal() {
		if progress := h.svc.Progress(r.Context(), job.ID); progress >= 0 {
			resp.Progress = &progress
		}
	}

	response.OK(w, resp)
}

// History handles GET /api/v1/generate/history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	jobs, total, err := h.svc.History(r.Context(), userID, page, limit)
	if err != nil {
		response.InternalError(w)
		return
	}

	pages := total / limit
	if total%limit > 0 {
		pages++
	}
	response.WithMeta(w, jobs, response.Meta{Total: total, Page: page, Limit: limit, Pages: pages})
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Post("/", h.Generate)
	r.Get("/history", h.History)
	r.Get("/{id}", h.GetJob)
	return r
}
