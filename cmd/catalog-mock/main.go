// catalog-mock is a development stand-in for the control-plane catalog:
// it serves tool documents, grants, schemas, and the global egress
// allowlist the gateway reads on every call.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"mcpgate/pkg/catalog"
	"mcpgate/pkg/httpx"
	"mcpgate/pkg/models"
	"mcpgate/pkg/telemetry"
)

type Store struct {
	mu      sync.Mutex
	tools   map[string]catalog.ToolResponse
	schemas map[string]catalog.SchemaBundle
	egress  []string
}

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	initTelemetryFn = telemetry.Init
	listenFn        = func(server *http.Server) error { return server.ListenAndServe() }
)

func main() {
	if err := runCatalogMock(initTelemetryFn, listenFn); err != nil {
		logFatalf("server error: %v", err)
	}
}

func seedStore(toolEndpoint string) *Store {
	return &Store{
		tools: map[string]catalog.ToolResponse{
			"echo": {
				Tool: models.ToolCatalogEntry{
					ToolID:      "echo",
					Name:        "Echo",
					Owner:       "platform",
					Endpoint:    toolEndpoint,
					Version:     "1.0.0",
					Scopes:      []string{"invoke"},
					DataClass:   models.DataClassInternal,
					Status:      models.StatusApproved,
					SchemaRef:   "echo-v1",
					EgressAllow: []string{"localhost", "127.0.0.1"},
				},
				Grants: []models.Grant{
					{Group: "developers", ToolID: "echo", Scopes: []string{"invoke"}, Env: "*"},
				},
			},
		},
		schemas: map[string]catalog.SchemaBundle{
			"echo-v1": {
				Input:  json.RawMessage(`{"type": "object"}`),
				Output: json.RawMessage(`{"type": "object", "required": ["result"]}`),
			},
		},
		egress: splitList(os.Getenv("GLOBAL_EGRESS")),
	}
}

func (s *Store) getTool(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	doc, ok := s.tools[chi.URLParam(r, "toolId")]
	s.mu.Unlock()
	if !ok {
		httpx.Error(w, 404, "not_found", "tool not found", nil)
		return
	}
	httpx.WriteJSON(w, 200, doc)
}

func (s *Store) putTool(w http.ResponseWriter, r *http.Request) {
	var doc catalog.ToolResponse
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil || doc.Tool.ToolID == "" {
		httpx.Error(w, 400, "bad_request", "tool document with tool_id required", nil)
		return
	}
	s.mu.Lock()
	s.tools[doc.Tool.ToolID] = doc
	count := len(s.tools)
	s.mu.Unlock()
	httpx.WriteJSON(w, 200, map[string]interface{}{"status": "ok", "count": count})
}

func (s *Store) getEgress(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	hosts := append([]string{}, s.egress...)
	s.mu.Unlock()
	httpx.WriteJSON(w, 200, map[string]interface{}{"hosts": hosts})
}

func (s *Store) getSchema(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	bundle, ok := s.schemas[chi.URLParam(r, "ref")]
	s.mu.Unlock()
	if !ok {
		httpx.Error(w, 404, "not_found", "schema not found", nil)
		return
	}
	httpx.WriteJSON(w, 200, bundle)
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func runCatalogMock(
	initTelemetry func(context.Context, string, string) (func(context.Context) error, error),
	listen func(*http.Server) error,
) error {
	if initTelemetry == nil {
		initTelemetry = telemetry.Init
	}
	if listen == nil {
		listen = func(server *http.Server) error { return server.ListenAndServe() }
	}

	shutdown, err := initTelemetry(context.Background(), "catalog-mock", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	store := seedStore(env("TOOL_MOCK_URL", "http://localhost:8085/execute"))
	r := chi.NewRouter()
	r.Use(telemetry.HTTPMiddleware("catalog-mock"))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "catalog-mock"})
	})
	r.Get("/tools/{toolId}", store.getTool)
	r.Post("/tools", store.putTool)
	r.Get("/policy/egress", store.getEgress)
	r.Get("/schemas/{ref}", store.getSchema)

	addr := env("ADDR", ":8084")
	log.Printf("catalog-mock listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	return listen(server)
}
