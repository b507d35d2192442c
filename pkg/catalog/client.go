package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"mcpgate/pkg/httpx"
	"mcpgate/pkg/models"
)

// ErrNotFound marks an unknown tool id.
var ErrNotFound = errors.New("not found in catalog")

// ToolResponse is the catalog's per-tool document: the entry itself, the
// grants that reference it, and an optional policy profile.
type ToolResponse struct {
	Tool          models.ToolCatalogEntry `json:"tool"`
	Grants        []models.Grant          `json:"grants"`
	PolicyProfile *models.PolicyProfile   `json:"policy_profile,omitempty"`
}

// SchemaBundle is the raw input/output schema pair for one schema ref.
type SchemaBundle struct {
	Input  json.RawMessage `json:"input"`
	Output json.RawMessage `json:"output"`
}

// Client reads tool, grant, egress, and schema metadata from the catalog
// service. All reads are per-call; the catalog owns any caching beyond the
// gateway's own egress and schema caches.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func New(baseURL string, client *http.Client) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTPClient: client}
}

func (c *Client) GetTool(ctx context.Context, toolID string) (*ToolResponse, error) {
	status, body, err := httpx.RequestJSON(ctx, c.HTTPClient, http.MethodGet, c.BaseURL+"/tools/"+url.PathEscape(toolID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog tool fetch: %w", err)
	}
	if status == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("catalog tool fetch returned %d", status)
	}
	var resp ToolResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("catalog tool decode: %w", err)
	}
	return &resp, nil
}

func (c *Client) EgressHosts(ctx context.Context) ([]string, error) {
	status, body, err := httpx.RequestJSON(ctx, c.HTTPClient, http.MethodGet, c.BaseURL+"/policy/egress", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog egress fetch: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("catalog egress fetch returned %d", status)
	}
	var doc struct {
		Hosts []string `json:"hosts"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("catalog egress decode: %w", err)
	}
	return doc.Hosts, nil
}

func (c *Client) Schema(ctx context.Context, ref string) (*SchemaBundle, error) {
	status, body, err := httpx.RequestJSON(ctx, c.HTTPClient, http.MethodGet, c.BaseURL+"/schemas/"+url.PathEscape(ref), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog schema fetch: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("catalog schema %q fetch returned %d", ref, status)
	}
	var bundle SchemaBundle
	if err := json.Unmarshal(body, &bundle); err != nil {
		return nil, fmt.Errorf("catalog schema decode: %w", err)
	}
	return &bundle, nil
}
