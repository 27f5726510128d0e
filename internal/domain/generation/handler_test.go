package generation_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/pixora/pixora-api/internal/domain/generation"
	"github.com/pixora/pixora-api/internal/middleware"
	"github.com/pixora/pixora-api/internal/pkg/kie"
)

func authedRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	ctx := context.WithValue(req.Context(), middleware.UserIDKey, uuid.New())
	return req.WithContext(ctx)
}

func TestCreateProviderDownReturnsBadGateway(t *testing.T) {
	f := newFixture()
	f.provider.createErr = &kie.ProviderError{Kind: kie.KindTransient, Message: "timeout"}
	h := generation.NewHandler(f.svc, nil)

	req := authedRequest(http.MethodPost, "/api/v1/generations",
		`{"preset_key":"quick-image","prompt":"a cat wearing a hat"}`)
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	if !strings.Contains(rec.Body.String(), "PROVIDER_UNAVAILABLE") {
		t.Fatalf("body missing error code: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "credits were not charged") {
		t.Fatalf("body missing refund note: %s", rec.Body.String())
	}
}

type fakeCreditChecker struct {
	credits float64
	err     error
}

func (c *fakeCreditChecker) CheckAccess(ctx context.Context) (float64, error) {
	return c.credits, c.err
}

func TestProviderCreditsProbe(t *testing.T) {
	h := generation.NewProviderHealthHandler(&fakeCreditChecker{credits: 42.5})

	rec := httptest.NewRecorder()
	h.Credits(rec, httptest.NewRequest(http.MethodGet, "/api/admin/provider/credits", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "42.5") {
		t.Fatalf("body missing credit balance: %s", rec.Body.String())
	}
}

func TestProviderCreditsProbeProviderDown(t *testing.T) {
	h := generation.NewProviderHealthHandler(&fakeCreditChecker{err: errors.New("connection refused")})

	rec := httptest.NewRecorder()
	h.Credits(rec, httptest.NewRequest(http.MethodGet, "/api/admin/provider/credits", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	if !strings.Contains(rec.Body.String(), "PROVIDER_UNAVAILABLE") {
		t.Fatalf("body missing error code: %s", rec.Body.String())
	}
}
