package dlp

import (
	"regexp"

	"mcpgate/pkg/models"
)

// Actions, ordered by severity: block dominates redact dominates allow.
const (
	ActionAllow  = "allow"
	ActionRedact = "redact"
	ActionBlock  = "block"
)

// Rule names as recorded in audit trails and error details.
const (
	RuleSSN   = "ssn"
	RuleEmail = "email"
	RulePhone = "phone"
	RuleCCN   = "ccn"
)

var (
	ssnRe   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	emailRe = regexp.MustCompile(`(?i)[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\b(?:\+?1[-. ]?)?(?:\(?\d{3}\)?[-. ]?)\d{3}[-. ]?\d{4}\b`)
	ccnRe   = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
	digitRe = regexp.MustCompile(`[^\d]`)
)

// Result is a screening verdict for one payload side. Redacted is only set
// when Action is "redact"; a blocked payload is never redacted or forwarded.
type Result struct {
	Action   string
	Rules    []string
	Count    int
	Redacted any
}

// Luhn validates a digit string with the payment-card checksum: summing
// right to left, every second digit doubles (minus 9 when over 9); valid
// iff the total is a multiple of 10.
func Luhn(digits string) bool {
	if digits == "" {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// Apply walks the payload, redacting ssn/email/phone matches in place and
// counting Luhn-valid card candidates. Card matches escalate to a block
// when the tool's data classification is confidential or regulated; they
// are never redacted.
func Apply(payload any, dataClass string) Result {
	counts := map[string]int{}
	redacted := walk(payload, counts)

	if counts[RuleCCN] > 0 && (dataClass == models.DataClassConfidential || dataClass == models.DataClassRegulated) {
		return Result{Action: ActionBlock, Rules: []string{RuleCCN}, Count: counts[RuleCCN]}
	}

	rules := make([]string, 0, 3)
	total := 0
	for _, rule := range []string{RuleSSN, RuleEmail, RulePhone} {
		if counts[rule] > 0 {
			rules = append(rules, rule)
			total += counts[rule]
		}
	}
	if len(rules) > 0 {
		return Result{Action: ActionRedact, Rules: rules, Count: total, Redacted: redacted}
	}
	return Result{Action: ActionAllow, Rules: []string{}}
}

func walk(value any, counts map[string]int) any {
	switch v := value.(type) {
	case string:
		return maskString(v, counts)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = walk(item, counts)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = walk(item, counts)
		}
		return out
	default:
		return value
	}
}

func maskString(value string, counts map[string]int) string {
	masked := ssnRe.ReplaceAllStringFunc(value, func(string) string {
		counts[RuleSSN]++
		return "***-**-****"
	})
	masked = emailRe.ReplaceAllStringFunc(masked, func(string) string {
		counts[RuleEmail]++
		return "[redacted-email]"
	})
	masked = phoneRe.ReplaceAllStringFunc(masked, func(string) string {
		counts[RulePhone]++
		return "[redacted-phone]"
	})

	// Card candidates are detected on the original string and checksum
	// gated; only Luhn-valid candidates count.
	for _, candidate := range ccnRe.FindAllString(value, -1) {
		digits := digitRe.ReplaceAllString(candidate, "")
		if len(digits) >= 13 && len(digits) <= 19 && Luhn(digits) {
			counts[RuleCCN]++
		}
	}
	return masked
}
