package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/randari3d/randari3d-api/internal/middleware"
	"github.com/randari3d/randari3d-api/internal/pkg/jwt"
)

func authHandler(t *testing.T, svc *jwt.Service, wantUserID uuid.UUID) http.Handler {
	t.Helper()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := middleware.GetUserID(r.Context()); got != wantUserID {
			t.Errorf("expected user id %s in context, got %s", wantUserID, got)
		}
		w.WriteHeader(http.StatusOK)
	})
	return middleware.Auth(svc)(next)
}

func TestAuthValidToken(t *testing.T) {
	svc := jwt.NewService("test-secret")
	userID := uuid.New()

	token, err := svc.GenerateAccessToken(userID, "PRO", time.Minute)
	if err != nil {
		t.Fatalf("generate token failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/credits/balance", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	authHandler(t, svc, userID).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAuthRejectsBadRequests(t *testing.T) {
	svc := jwt.NewService("test-secret")

	expired, err := svc.GenerateAccessToken(uuid.New(), "FREE", -time.Minute)
	if err != nil {
		t.Fatalf("generate token failed: %v", err)
	}
	otherSecret, err := jwt.NewService("other-secret").GenerateAccessToken(uuid.New(), "FREE", time.Minute)
	if err != nil {
		t.Fatalf("generate token failed: %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not-a-jwt"},
		{"expired token", "Bearer " + expired},
		{"wrong secret", "Bearer " + otherSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler reached with invalid credentials")
			})
			req := httptest.NewRequest(http.MethodGet, "/credits/balance", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			middleware.Auth(svc)(next).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}
