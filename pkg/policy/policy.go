package policy

import (
	"sort"
	"strings"
	"time"

	"mcpgate/pkg/models"
)

// Decision is the verdict for one (identity, tool, grants) evaluation.
// Scopes is the union of scopes across all matching grants; it is also
// populated on a missing-scope denial for diagnostics.
type Decision struct {
	Allowed bool
	Code    string
	Reason  string
	Scopes  []string
}

const (
	CodeNotApproved = "not_approved"
	CodeForbidden   = "forbidden"
)

// Evaluate is a pure function: no I/O, no hidden state, same inputs at the
// same instant yield the same decision.
func Evaluate(identity models.Identity, tool models.ToolCatalogEntry, grants []models.Grant, now time.Time) Decision {
	if tool.Status != models.StatusApproved {
		return Decision{Allowed: false, Code: CodeNotApproved, Reason: "tool not approved"}
	}

	scopeUnion := map[string]struct{}{}
	matched := false
	for _, grant := range grants {
		if grant.ToolID != tool.ToolID {
			continue
		}
		if !identity.InGroup(grant.Group) {
			continue
		}
		if !envMatches(grant.Env, identity.Env) {
			continue
		}
		if grant.ExpiresAt != nil && grant.ExpiresAt.Before(now) {
			continue
		}
		matched = true
		for _, s := range grant.Scopes {
			scopeUnion[s] = struct{}{}
		}
	}

	if !matched {
		return Decision{Allowed: false, Code: CodeForbidden, Reason: "no matching grant"}
	}

	granted := make([]string, 0, len(scopeUnion))
	for s := range scopeUnion {
		granted = append(granted, s)
	}
	sort.Strings(granted)

	for _, required := range tool.Scopes {
		if _, ok := scopeUnion[required]; !ok {
			return Decision{Allowed: false, Code: CodeForbidden, Reason: "missing scope", Scopes: granted}
		}
	}
	return Decision{Allowed: true, Scopes: granted}
}

// envMatches accepts an exact value, "*", or membership in a "|"-delimited list.
func envMatches(grantEnv, userEnv string) bool {
	if grantEnv == "" {
		return false
	}
	if grantEnv == "*" {
		return true
	}
	for _, part := range strings.Split(grantEnv, "|") {
		if strings.TrimSpace(part) == userEnv {
			return true
		}
	}
	return false
}
