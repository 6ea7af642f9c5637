package purchase

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/randari3d/randari3d-api/internal/middleware"
	"github.com/randari3d/randari3d-api/internal/pkg/checkout"
	"github.com/randari3d/randari3d-api/internal/pkg/response"
	"github.com/randari3d/randari3d-api/internal/pkg/validator"
)

const maxWebhookBody = 1 << 20 // 1 MiB

type Handler struct {
	svc           *Service
	webhookSecret string
	tolerance     time.Duration
}

func NewHandler(svc *Service, webhookSecret string, tolerance time.Duration) *Handler {
	return &Handler{svc: svc, webhookSecret: webhookSecret, tolerance: tolerance}
}

// Packages handles GET /api/v1/payments/packages.
func (h *Handler) Packages(w http.ResponseWriter, r *http.Request) {
	response.OK(w, Catalog)
}

type checkoutRequest struct {
	PackageID string `json:"package_id" validate:"required"`
}

// CreateCheckout handles POST /api/v1/payments/checkout.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if err := validator.Validate(&req); err != nil {
		response.ValidationError(w, validator.Errors(err))
		return
	}

	result, err := h.svc.CreateCheckout(r.Context(), userID, req.PackageID)
	if err != nil {
		if errors.Is(err, ErrPackageNotFound) {
			response.NotFound(w, "credit package not found")
			return
		}
		log.Error().Err(err).Msg("Checkout creation failed")
		response.InternalError(w)
		return
	}

	response.Created(w, result)
}

type verifySessionRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

// VerifySession handles POST /api/v1/payments/verify-session.
func (h *Handler) VerifySession(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req verifySessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if err := validator.Validate(&req); err != nil {
		response.ValidationError(w, validator.Errors(err))
		return
	}

	p, err := h.svc.VerifySession(r.Context(), userID, req.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, ErrPurchaseNotFound), errors.Is(err, checkout.ErrSessionNotFound):
			response.NotFound(w, "purchase not found")
		case errors.Is(err, ErrNotPaid):
			response.BadRequest(w, "checkout session is not paid")
		default:
			log.Error().Err(err).Str("session_id", req.SessionID).Msg("Session verification failed")
			response.InternalError(w)
		}
		return
	}

	response.OK(w, p)
}

// Webhook handles POST /webhooks/payments. The signature check runs over the
// raw body before any parsing; anything unverifiable is rejected.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(w, "unreadable body")
		return
	}

	sig := r.Header.Get(checkout.SignatureHeader)
	if err := checkout.VerifySignature(body, sig, h.webhookSecret, h.tolerance, time.Now()); err != nil {
		log.Warn().Err(err).Msg("Webhook signature rejected")
		response.BadRequest(w, "invalid signature")
		return
	}

	ev, err := checkout.ParseEvent(body)
	if err != nil {
		response.BadRequest(w, "invalid event payload")
		return
	}

	if err := h.svc.HandleEvent(r.Context(), ev); err != nil {
		// Events we can never attribute are acknowledged so the provider
		// stops redelivering them. Everything else is retryable.
		if errors.Is(err, ErrMissingMetadata) || errors.Is(err, ErrPurchaseNotFound) {
			log.Warn().Err(err).Str("event_id", ev.ID).Msg("Unattributable webhook event acknowledged")
			response.OK(w, map[string]string{"status": "ignored"})
			return
		}
		log.Error().Err(err).Str("event_id", ev.ID).Msg("Webhook processing failed")
		response.InternalError(w)
		return
	}

	response.OK(w, map[string]string{"status": "processed"})
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/packages", h.Packages)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/checkout", h.CreateCheckout)
		r.Post("/verify-session", h.VerifySession)
	})
	return r
}

// WebhookRoutes is mounted outside the authenticated API surface; webhooks
// authenticate by signature, not by JWT.
func (h *Handler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/payments", h.Webhook)
	return r
}
