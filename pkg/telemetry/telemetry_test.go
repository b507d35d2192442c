package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInitWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), "mcp-gateway", "")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if shutdown == nil {
		t.Fatalf("expected shutdown func")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitDefaultsServiceName(t *testing.T) {
	shutdown, err := Init(context.Background(), "  ", "")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()
}

func TestHTTPMiddlewarePassesThrough(t *testing.T) {
	handler := HTTPMiddleware("mcp-gateway")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(204)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != 204 {
		t.Fatalf("expected handler to run, got %d", rec.Code)
	}
}

func TestInstrumentClient(t *testing.T) {
	client := InstrumentClient(nil)
	if client.Transport == nil {
		t.Fatalf("expected instrumented transport")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer srv.Close()
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("instrumented request: %v", err)
	}
	_ = resp.Body.Close()
}
