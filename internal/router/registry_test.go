package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relaycore/relay/internal/logger"
	"github.com/relaycore/relay/theme"
)

func createTestRegistryLogger() *logger.StyledLogger {
	loggerCfg := &logger.Config{Level: "error", Theme: "default"}
	log, _, _ := logger.New(loggerCfg)
	return logger.NewStyledLogger(log, theme.Default())
}

func TestRegisterDefaultsToGet(t *testing.T) {
	r := NewRouteRegistry(createTestRegistryLogger())
	r.Register("/health", func(w http.ResponseWriter, req *http.Request) {}, "liveness check")

	info, ok := r.GetRoutes()["/health"]
	if !ok {
		t.Fatal("expected /health to be registered")
	}
	if info.Method != "GET" {
		t.Errorf("expected default method GET, got %q", info.Method)
	}
}

func TestRegisterWithMethodPreservesOrder(t *testing.T) {
	r := NewRouteRegistry(createTestRegistryLogger())
	r.Register("/health", func(w http.ResponseWriter, req *http.Request) {}, "liveness check")
	r.RegisterWithMethod("/status", func(w http.ResponseWriter, req *http.Request) {}, "status", "GET")

	routes := r.GetRoutes()
	if routes["/health"].Order >= routes["/status"].Order {
		t.Error("expected registration order to be preserved across calls")
	}
}

func TestWireUpInstallsHandlers(t *testing.T) {
	r := NewRouteRegistry(createTestRegistryLogger())
	r.Register("/version", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}, "version info")

	mux := http.NewServeMux()
	r.WireUp(mux)

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("expected status %d, got %d", http.StatusTeapot, rec.Code)
	}
}
