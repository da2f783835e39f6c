package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/amillerrr/vod-pipeline/internal/config"
	"github.com/amillerrr/vod-pipeline/internal/health"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	env := newTestEnv(t)
	return NewServer(&ServerConfig{
		Config: &config.Config{
			API: config.APIConfig{Port: "8080", MetricsPort: 2112},
		},
		Logger:        testLogger(),
		Handlers:      env.handlers,
		HealthChecker: health.NewChecker(health.DefaultConfig("vod-pipeline", testLogger())),
	})
}

func TestNewServerAddresses(t *testing.T) {
	srv := newTestServer(t)

	if got := srv.httpServer.Addr; got != ":8080" {
		t.Errorf("api addr = %s, want :8080", got)
	}
	if got := srv.metricsServer.Addr; got != ":2112" {
		t.Errorf("metrics addr = %s, want :2112", got)
	}
}

func TestServerRoutesVideoLookup(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/videos/ghost", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("unpublished video lookup status = %d, want 404", rec.Code)
	}
}
