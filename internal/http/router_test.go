package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/bank_turns/backend/internal/bank"
	"github.com/bank_turns/backend/internal/config"
	"github.com/bank_turns/backend/internal/http/middleware"
	"github.com/bank_turns/backend/internal/service"
)

func newTestRouter(adminKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	turns := service.NewTurnService(service.NewAllocator(), service.NewTurnQueue(), zerolog.Nop())
	guard := service.NewGuard(time.Second)
	ledger := bank.NewTestLedger()
	dispatcher := service.NewDispatcher(turns, guard, ledger, service.DispatcherConfig{Tellers: 1}, zerolog.Nop())
	cfg := config.Config{AdminKey: adminKey, CORSAllowed: "*"}
	return Router(cfg, turns, dispatcher, guard, ledger, nil, zerolog.Nop())
}

func TestAdminRoutesRequireKey(t *testing.T) {
	r := newTestRouter("s3cret")

	tests := []struct {
		name   string
		key    string
		status int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"wrong key", "nope", http.StatusUnauthorized},
		{"valid key", "s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, "/api/locks", nil)
			if tt.key != "" {
				req.Header.Set(middleware.AdminKeyHeader, tt.key)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestPublicRoutesAndRequestID(t *testing.T) {
	r := newTestRouter("s3cret")

	req, _ := http.NewRequest(http.MethodGet, "/api/workers", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Fatalf("missing request id header")
	}

	req, _ = http.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(middleware.RequestIDHeader, "req_fixed")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(middleware.RequestIDHeader); got != "req_fixed" {
		t.Fatalf("incoming request id not kept: %q", got)
	}
}
