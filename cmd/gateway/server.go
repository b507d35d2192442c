package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"mcpgate/pkg/audit"
	"mcpgate/pkg/auth"
	"mcpgate/pkg/catalog"
	"mcpgate/pkg/dlp"
	"mcpgate/pkg/egress"
	"mcpgate/pkg/events"
	"mcpgate/pkg/httpx"
	"mcpgate/pkg/models"
	"mcpgate/pkg/policy"
	"mcpgate/pkg/ratelimit"
	"mcpgate/pkg/schema"
)

type identityVerifier interface {
	Verify(ctx context.Context, token string) (models.Identity, error)
}

type toolCatalog interface {
	GetTool(ctx context.Context, toolID string) (*catalog.ToolResponse, error)
}

// Server mediates every tool call: authenticate, resolve, authorize,
// rate-limit, validate, screen, forward, and audit, in that order. The
// first failing gate terminates the call with its own status and code.
type Server struct {
	Verifier     identityVerifier
	Catalog      toolCatalog
	Schemas      *schema.Cache
	Limiter      ratelimit.Limiter
	RateLimit    int
	RateWindow   time.Duration
	GlobalEgress *egress.GlobalCache
	StaticEgress []string
	Audit        *audit.Writer
	Events       *events.Buffer
	Hub          *events.Hub
	Emitter      events.Emitter
	HTTPClient   *http.Client
	MaxBodyBytes int64
}

// fail writes the terminal error body and, when the call got far enough
// to name a tool, records one gateway event. Internal errors deliberately
// record nothing: they describe the gateway, not the call.
func (s *Server) fail(w http.ResponseWriter, status int, code, message string, details any, toolID string) {
	if toolID != "" {
		evt := events.New(toolID, code, message)
		s.Events.Add(evt)
		s.Hub.Publish(evt)
		if s.Emitter != nil {
			s.Emitter.Emit(evt)
		}
	}
	httpx.Error(w, status, code, message, details)
}

func (s *Server) internal(w http.ResponseWriter, span oteltrace.Span, err error) {
	log.Printf("gateway: %v", err)
	span.RecordError(err)
	s.fail(w, http.StatusInternalServerError, "internal_error", "unexpected error", nil, "")
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	toolID := chi.URLParam(r, "toolId")
	ctx, span := otel.Tracer("mcp-gateway").Start(r.Context(), "gateway.call")
	defer span.End()

	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		span.SetAttributes(attribute.Bool("policy.allowed", false))
		s.fail(w, http.StatusUnauthorized, "unauthorized", "missing bearer token", nil, toolID)
		return
	}
	identity, err := s.Verifier.Verify(ctx, token)
	if err != nil {
		span.SetAttributes(attribute.Bool("policy.allowed", false))
		s.fail(w, http.StatusUnauthorized, "unauthorized", "token verification failed", nil, toolID)
		return
	}

	toolData, err := s.Catalog.GetTool(ctx, toolID)
	if errors.Is(err, catalog.ErrNotFound) {
		span.SetAttributes(attribute.Bool("policy.allowed", false))
		s.fail(w, http.StatusNotFound, "not_found", "tool not found", nil, toolID)
		return
	}
	if err != nil {
		s.internal(w, span, err)
		return
	}
	tool := toolData.Tool

	decision := policy.Evaluate(identity, tool, toolData.Grants, time.Now())
	span.SetAttributes(
		attribute.String("tool.id", toolID),
		attribute.String("user.id", identity.Subject),
		attribute.Bool("policy.allowed", decision.Allowed),
	)
	if !decision.Allowed {
		s.fail(w, http.StatusForbidden, decision.Code, decision.Reason, map[string]any{
			"scopes": decision.Scopes,
		}, toolID)
		return
	}

	limit := s.RateLimit
	if toolData.PolicyProfile != nil && toolData.PolicyProfile.RateLimit > 0 {
		limit = toolData.PolicyProfile.RateLimit
	}
	rateKeys := []string{"user:" + identity.Subject}
	for _, g := range identity.Groups {
		rateKeys = append(rateKeys, "group:"+g)
	}
	if res := ratelimit.Check(s.Limiter, rateKeys, limit, s.RateWindow); !res.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
		s.fail(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", nil, toolID)
		return
	}

	validators, err := s.Schemas.Get(ctx, tool.SchemaRef)
	if err != nil {
		s.internal(w, span, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.MaxBodyBytes))
	if err != nil {
		s.fail(w, http.StatusBadRequest, "schema_input", "input schema validation failed", map[string]any{
			"errors": []string{"request body unreadable or too large"},
		}, toolID)
		return
	}
	var inputPayload any
	if err := json.Unmarshal(body, &inputPayload); err != nil {
		s.fail(w, http.StatusBadRequest, "schema_input", "input schema validation failed", map[string]any{
			"errors": []string{"request body is not valid JSON"},
		}, toolID)
		return
	}
	if errs := validators.ValidateInput(inputPayload); len(errs) > 0 {
		s.fail(w, http.StatusBadRequest, "schema_input", "input schema validation failed", map[string]any{
			"errors": errs,
		}, toolID)
		return
	}

	inputDLP := dlp.Apply(inputPayload, tool.DataClass)
	span.SetAttributes(
		attribute.String("dlp.action", inputDLP.Action),
		attribute.String("dlp.rules", strings.Join(inputDLP.Rules, ",")),
	)
	if inputDLP.Action == dlp.ActionBlock {
		s.fail(w, http.StatusBadRequest, "dlp_block", "payload blocked by DLP", map[string]any{
			"rules": inputDLP.Rules,
		}, toolID)
		return
	}
	outboundPayload := inputPayload
	if inputDLP.Action == dlp.ActionRedact && inputDLP.Redacted != nil {
		outboundPayload = inputDLP.Redacted
	}

	var profileAllow []string
	if toolData.PolicyProfile != nil {
		profileAllow = toolData.PolicyProfile.EgressAllowlist
	}
	allowlist := egress.Union(s.StaticEgress, s.GlobalEgress.Hosts(ctx), tool.EgressAllow, profileAllow)

	endpointHost := egress.ExtractHost(tool.Endpoint)
	if endpointHost == "" || !egress.Allowed(endpointHost, allowlist) {
		s.fail(w, http.StatusForbidden, "egress_block", "tool endpoint not allowed", map[string]any{
			"host": endpointHost,
		}, toolID)
		return
	}
	// A caller-supplied target host is held to the same allowlist as the
	// tool's own endpoint.
	if m, ok := inputPayload.(map[string]any); ok {
		if rawHost, ok := m["host"].(string); ok {
			userHost := egress.ExtractHost(rawHost)
			if userHost == "" || !egress.Allowed(userHost, allowlist) {
				s.fail(w, http.StatusForbidden, "egress_block", "requested host not permitted", map[string]any{
					"host": userHost,
				}, toolID)
				return
			}
		}
	}

	outboundBytes, err := json.Marshal(outboundPayload)
	if err != nil {
		s.internal(w, span, err)
		return
	}
	status, upstreamBody, err := httpx.RequestJSON(ctx, s.HTTPClient, http.MethodPost, tool.Endpoint, outboundBytes, nil)
	if err != nil {
		span.RecordError(err)
		s.fail(w, http.StatusBadGateway, "upstream_error", "failed to reach tool", nil, toolID)
		return
	}
	if status < 200 || status > 299 {
		s.fail(w, http.StatusBadGateway, "upstream_error", "tool responded with "+strconv.Itoa(status), nil, toolID)
		return
	}
	var responseJSON any
	if err := json.Unmarshal(upstreamBody, &responseJSON); err != nil {
		s.internal(w, span, err)
		return
	}

	if errs := validators.ValidateOutput(responseJSON); len(errs) > 0 {
		s.fail(w, http.StatusBadRequest, "schema_output", "output schema validation failed", map[string]any{
			"errors": errs,
		}, toolID)
		return
	}

	outputDLP := dlp.Apply(responseJSON, tool.DataClass)
	if outputDLP.Action == dlp.ActionBlock {
		s.fail(w, http.StatusBadGateway, "dlp_block", "tool response blocked by DLP", map[string]any{
			"rules": outputDLP.Rules,
		}, toolID)
		return
	}
	safeResponse := responseJSON
	if outputDLP.Action == dlp.ActionRedact && outputDLP.Redacted != nil {
		safeResponse = outputDLP.Redacted
	}

	combinedAction := inputDLP.Action
	if outputDLP.Action == dlp.ActionRedact {
		combinedAction = dlp.ActionRedact
	}
	combinedRules := mergeRules(inputDLP.Rules, outputDLP.Rules)
	combinedCount := inputDLP.Count
	if outputDLP.Action != dlp.ActionAllow {
		combinedCount += outputDLP.Count
	}

	safeBytes, err := json.Marshal(safeResponse)
	if err != nil {
		s.internal(w, span, err)
		return
	}
	scopes := decision.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	latency := time.Since(start).Milliseconds()
	record := models.AuditRecord{
		TS:        time.Now().UTC().Format(time.RFC3339),
		Session:   "s_" + uuid.NewString(),
		User:      identity.Subject,
		Host:      r.UserAgent(),
		Tool:      models.AuditToolRef{ID: toolID, Ver: tool.Version},
		Policy:    models.AuditPolicy{Allowed: true, Scopes: scopes},
		DLP:       models.AuditDLP{Action: combinedAction, Rules: combinedRules, Count: combinedCount},
		Schema:    models.AuditSchema{Input: "ok", Output: "ok"},
		Egress:    allowlist,
		IOHash:    models.AuditIOHash{In: audit.Hash(outboundBytes), Out: audit.Hash(safeBytes)},
		LatencyMS: latency,
	}
	span.SetAttributes(
		attribute.Int64("latency_ms", latency),
		attribute.String("egress.hosts", strings.Join(allowlist, ",")),
	)
	if err := s.Audit.Write(ctx, record); err != nil {
		s.internal(w, span, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, safeResponse)
}

func (s *Server) handleAdminEvents(w http.ResponseWriter, r *http.Request) {
	items := s.Events.Recent(10, r.URL.Query().Get("toolId"))
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) streamAdminEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ctx := r.Context()
	sub := s.Hub.Subscribe(64)
	defer s.Hub.Unsubscribe(sub)

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-readErr:
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func bearerToken(header string) string {
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func mergeRules(input, output []string) []string {
	merged := make([]string, 0, len(input)+len(output))
	seen := map[string]bool{}
	for _, rule := range append(append([]string{}, input...), output...) {
		if !seen[rule] {
			seen[rule] = true
			merged = append(merged, rule)
		}
	}
	return merged
}

var _ identityVerifier = (*auth.Verifier)(nil)
var _ toolCatalog = (*catalog.Client)(nil)
