package jobs

import "strings"

type Verdict string

const (
	VerdictCompliant    Verdict = "compliant"
	VerdictNonCompliant Verdict = "non_compliant"
	VerdictNeedsReview  Verdict = "needs_review"
)

// EvalPayload is the input for one checklist-item evaluation.
type EvalPayload struct {
	ItemID      string `json:"item_id"`
	Requirement string `json:"requirement"`
	Evidence    string `json:"evidence"`
	Model       string `json:"model"`
}

type EvalResult struct {
	Verdict    Verdict `json:"verdict"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
	TokensUsed int     `json:"tokens_used"`
	CostUSD    float64 `json:"cost_usd"`
}

// ParseVerdict reads the model's leading verdict marker. Anything
// unrecognized is routed to human review rather than guessed at.
func ParseVerdict(text string) Verdict {
	head := strings.ToUpper(text)
	if len(head) > 64 {
		head = head[:64]
	}
	switch {
	case strings.Contains(head, "NON_COMPLIANT"), strings.Contains(head, "NON-COMPLIANT"):
		return VerdictNonCompliant
	case strings.Contains(head, "COMPLIANT"):
		return VerdictCompliant
	}
	return VerdictNeedsReview
}
