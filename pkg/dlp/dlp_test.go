package dlp

import (
	"strings"
	"testing"

	"mcpgate/pkg/models"
)

func TestLuhn(t *testing.T) {
	if !Luhn("4111111111111111") {
		t.Fatalf("expected 4111111111111111 to validate")
	}
	if Luhn("4111111111111112") {
		t.Fatalf("expected 4111111111111112 to fail")
	}
	if Luhn("") || Luhn("4111x111") {
		t.Fatalf("expected non-digit input to fail")
	}
}

func TestApplyRedactsPhone(t *testing.T) {
	payload := map[string]any{"note": "call 555-123-4567"}
	res := Apply(payload, models.DataClassInternal)
	if res.Action != ActionRedact {
		t.Fatalf("expected redact, got %+v", res)
	}
	if len(res.Rules) != 1 || res.Rules[0] != RulePhone || res.Count != 1 {
		t.Fatalf("expected single phone match, got %+v", res)
	}
	out, ok := res.Redacted.(map[string]any)
	if !ok {
		t.Fatalf("expected redacted map payload")
	}
	if note := out["note"].(string); strings.Contains(note, "555-123-4567") {
		t.Fatalf("raw phone digits survived redaction: %q", note)
	}
}

func TestApplyRedactsSSNAndEmail(t *testing.T) {
	payload := map[string]any{
		"ssn":     "my ssn is 123-45-6789",
		"contact": []any{"write to a.user@example.com"},
	}
	res := Apply(payload, models.DataClassPublic)
	if res.Action != ActionRedact || res.Count != 2 {
		t.Fatalf("expected two redactions, got %+v", res)
	}
	out := res.Redacted.(map[string]any)
	if !strings.Contains(out["ssn"].(string), "***-**-****") {
		t.Fatalf("expected ssn placeholder, got %v", out["ssn"])
	}
	list := out["contact"].([]any)
	if !strings.Contains(list[0].(string), "[redacted-email]") {
		t.Fatalf("expected email placeholder, got %v", list[0])
	}
}

func TestApplyBlocksCardUnderRegulated(t *testing.T) {
	payload := map[string]any{"card": "4111111111111111"}
	res := Apply(payload, models.DataClassRegulated)
	if res.Action != ActionBlock {
		t.Fatalf("expected block, got %+v", res)
	}
	if len(res.Rules) != 1 || res.Rules[0] != RuleCCN || res.Count != 1 {
		t.Fatalf("unexpected block detail: %+v", res)
	}
	if res.Redacted != nil {
		t.Fatalf("blocked payload must never carry a redacted copy")
	}
}

func TestApplyCardUnderInternalIsNotBlocked(t *testing.T) {
	payload := map[string]any{"card": "4111 1111 1111 1111"}
	res := Apply(payload, models.DataClassInternal)
	if res.Action != ActionAllow {
		t.Fatalf("card under non-protected classification should pass, got %+v", res)
	}
}

func TestApplyInvalidChecksumIsNotACardMatch(t *testing.T) {
	payload := map[string]any{"card": "4111111111111112"}
	res := Apply(payload, models.DataClassRegulated)
	if res.Action != ActionAllow {
		t.Fatalf("checksum-invalid candidate must not block, got %+v", res)
	}
}

func TestApplyWalksNestedStructures(t *testing.T) {
	payload := map[string]any{
		"level": map[string]any{
			"items": []any{
				map[string]any{"email": "ops@example.com"},
				float64(42),
				true,
				nil,
			},
		},
	}
	res := Apply(payload, models.DataClassInternal)
	if res.Action != ActionRedact || res.Count != 1 {
		t.Fatalf("expected nested email redaction, got %+v", res)
	}
	items := res.Redacted.(map[string]any)["level"].(map[string]any)["items"].([]any)
	if items[1] != float64(42) || items[2] != true || items[3] != nil {
		t.Fatalf("scalar leaves must pass through unchanged: %v", items)
	}
}

func TestApplyCleanPayload(t *testing.T) {
	res := Apply(map[string]any{"query": "weather in oslo"}, models.DataClassRegulated)
	if res.Action != ActionAllow || res.Count != 0 || len(res.Rules) != 0 {
		t.Fatalf("expected allow, got %+v", res)
	}
}
