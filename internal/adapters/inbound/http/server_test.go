package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/archon-research/token-cache/internal/domain/entity"
	"github.com/archon-research/token-cache/internal/ports/outbound"
	"github.com/archon-research/token-cache/internal/testutil"
)

type mockHealthChecker struct {
	ready   bool
	healthy bool
}

func (m *mockHealthChecker) IsReady() bool   { return m.ready }
func (m *mockHealthChecker) IsHealthy() bool { return m.healthy }

func do(t *testing.T, s *Server, path string) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return w.Code, body
}

func TestServer_Probes(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		ready        bool
		healthy      bool
		shuttingDown bool
		wantCode     int
		wantStatus   string
	}{
		{"ready", "/health/ready", true, true, false, http.StatusOK, "ready"},
		{"not ready", "/health/ready", false, true, false, http.StatusServiceUnavailable, "not_ready"},
		{"ready while shutting down", "/health/ready", true, true, true, http.StatusServiceUnavailable, "shutting_down"},
		{"live", "/health/live", false, true, false, http.StatusOK, "healthy"},
		{"not live", "/health/live", true, false, false, http.StatusServiceUnavailable, "unhealthy"},
		{"combined ok", "/health", true, true, false, http.StatusOK, "ok"},
		{"combined degraded", "/health", true, false, false, http.StatusServiceUnavailable, "degraded"},
		{"combined shutting down", "/health", true, true, true, http.StatusServiceUnavailable, "shutting_down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var shuttingDown atomic.Bool
			shuttingDown.Store(tt.shuttingDown)
			s := NewServer(ServerConfig{Addr: ":0", Logger: testutil.DiscardLogger()},
				&mockHealthChecker{ready: tt.ready, healthy: tt.healthy}, &shuttingDown, nil)

			code, body := do(t, s, tt.path)
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if body["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %s", body["status"], tt.wantStatus)
			}
		})
	}
}

func TestServer_TokenRouteAbsentWithoutService(t *testing.T) {
	s := NewServer(ServerConfig{}, &mockHealthChecker{}, nil, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tokens/1/0x0000000000000000000000000000000000000000", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", w.Code)
	}
}

func TestServer_TokenLookup(t *testing.T) {
	const addr = "0xdAC17F958D2ee523a2206206994597C13D831ec7"

	tests := []struct {
		name     string
		path     string
		err      error
		wantCode int
	}{
		{"hit", "/tokens/1/" + addr, nil, http.StatusOK},
		{"bad chain", "/tokens/one/" + addr, nil, http.StatusBadRequest},
		{"zero chain", "/tokens/0/" + addr, nil, http.StatusBadRequest},
		{"bad address", "/tokens/1/0x1234", nil, http.StatusBadRequest},
		{"query error", "/tokens/1/" + addr, entity.NewQueryError(entity.MustHashKey(1, addr).Address, "Name is missing."), http.StatusUnprocessableEntity},
		{"backend down", "/tokens/1/" + addr, fmt.Errorf("redis get: %w", outbound.ErrBackendUnavailable), http.StatusServiceUnavailable},
		{"transport", "/tokens/1/" + addr, errors.New("dial tcp: refused"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &testutil.MockTokenService{}
			if tt.err != nil {
				svc.GetOrAddFn = func(context.Context, entity.HashKey) (*entity.CacheEntry, error) {
					return nil, tt.err
				}
			}
			s := NewServer(ServerConfig{Logger: testutil.DiscardLogger()}, &mockHealthChecker{}, nil, svc)

			code, body := do(t, s, tt.path)
			if code != tt.wantCode {
				t.Fatalf("code = %d, want %d (body %v)", code, tt.wantCode, body)
			}
			if code == http.StatusOK {
				if body["hashKey"] != entity.MustHashKey(1, addr).Value {
					t.Errorf("hashKey = %v", body["hashKey"])
				}
			} else if _, ok := body["error"]; !ok {
				t.Errorf("expected error field, got %v", body)
			}
		})
	}
}
