package models

import "time"

// Identity is the verified caller for the lifetime of a single call.
// Extra carries claims beyond the fixed fields; it is never persisted.
type Identity struct {
	Subject    string
	Groups     []string
	Env        string
	DLPProfile string
	Extra      map[string]any
}

// InGroup reports whether the identity carries the given group membership.
func (id Identity) InGroup(group string) bool {
	for _, g := range id.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// ToolCatalogEntry is read-only tool metadata served by the catalog.
type ToolCatalogEntry struct {
	ToolID          string   `json:"tool_id"`
	Name            string   `json:"name"`
	Owner           string   `json:"owner"`
	Endpoint        string   `json:"endpoint"`
	Version         string   `json:"version"`
	Scopes          []string `json:"scopes"`
	DataClass       string   `json:"data_class"`
	Status          string   `json:"status"`
	SignatureStatus string   `json:"signature_status,omitempty"`
	SBOMURL         string   `json:"sbom_url,omitempty"`
	SchemaRef       string   `json:"schema_ref"`
	EgressAllow     []string `json:"egress_allow"`
}

// Grant binds a group to a tool with a scope set. Env is an exact value,
// "*", or a "|"-delimited list. A nil ExpiresAt never expires.
type Grant struct {
	Group     string     `json:"group"`
	ToolID    string     `json:"tool_id"`
	Scopes    []string   `json:"scopes"`
	Env       string     `json:"env"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// PolicyProfile is optional per-tool policy metadata from the catalog.
type PolicyProfile struct {
	Name            string   `json:"name"`
	DLPProfile      string   `json:"dlp_profile"`
	EgressAllowlist []string `json:"egress_allowlist"`
	RateLimit       int      `json:"rate_limit"`
}

// Data classifications and lifecycle states as served by the catalog.
const (
	DataClassPublic       = "public"
	DataClassInternal     = "internal"
	DataClassConfidential = "confidential"
	DataClassRegulated    = "regulated"

	StatusSandbox  = "sandbox"
	StatusApproved = "approved"
)

// AuditToolRef identifies the tool a call was mediated for.
type AuditToolRef struct {
	ID  string `json:"id"`
	Ver string `json:"ver,omitempty"`
}

type AuditPolicy struct {
	Allowed bool     `json:"allowed"`
	Scopes  []string `json:"scopes"`
}

type AuditDLP struct {
	Action string   `json:"action"`
	Rules  []string `json:"rules"`
	Count  int      `json:"count"`
}

type AuditSchema struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

type AuditIOHash struct {
	In  string `json:"in"`
	Out string `json:"out"`
}

// AuditRecord is written exactly once per completed call and never mutated.
type AuditRecord struct {
	TS        string       `json:"ts"`
	Session   string       `json:"session"`
	User      string       `json:"user"`
	Host      string       `json:"host,omitempty"`
	Tool      AuditToolRef `json:"tool"`
	Policy    AuditPolicy  `json:"policy"`
	DLP       AuditDLP     `json:"dlp"`
	Schema    AuditSchema  `json:"schema"`
	Egress    []string     `json:"egress"`
	IOHash    AuditIOHash  `json:"io_hash"`
	LatencyMS int64        `json:"latency_ms"`
}

// ManifestEntry indexes one stored audit object by key and content hash.
type ManifestEntry struct {
	Key    string `json:"key"`
	SHA256 string `json:"sha256"`
}

// Manifest is the append-only index over stored audit records, kept
// sorted by key and rewritten whole on every audit write.
type Manifest struct {
	UpdatedAt string          `json:"updated_at"`
	Files     []ManifestEntry `json:"files"`
}
