package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"mr-agent/internal/domain"
)

// ExtractJSON pulls a JSON object out of model text. Three passes: direct
// parse, fenced code block, outermost brace slice.
func ExtractJSON(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", false
	}

	if gjson.Valid(trimmed) && strings.HasPrefix(trimmed, "{") {
		return trimmed, true
	}

	if idx := strings.Index(trimmed, "```"); idx >= 0 {
		rest := trimmed[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			candidate := strings.TrimSpace(rest[:end])
			if gjson.Valid(candidate) && strings.HasPrefix(candidate, "{") {
				return candidate, true
			}
		}
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		candidate := trimmed[start : end+1]
		if gjson.Valid(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// Normalize coerces parsed model output into a valid ReviewResult: caps are
// enforced, line numbers clamped and ordered, risk inferred or elevated,
// and a missing summary synthesised. It never fails.
func Normalize(raw string) *domain.ReviewResult {
	var res domain.ReviewResult
	// Tolerate shape drift; unmarshal errors leave the zero value, which the
	// passes below repair.
	_ = json.Unmarshal([]byte(raw), &res)

	if len(res.Reviews) > domain.MaxReviewIssues {
		res.Reviews = res.Reviews[:domain.MaxReviewIssues]
	}
	if len(res.Positives) > domain.MaxPositives {
		res.Positives = res.Positives[:domain.MaxPositives]
	}
	if len(res.ActionItems) > domain.MaxActionItems {
		res.ActionItems = res.ActionItems[:domain.MaxActionItems]
	}

	for i := range res.Reviews {
		issue := &res.Reviews[i]
		switch issue.Severity {
		case domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh:
		default:
			issue.Severity = domain.SeverityLow
		}
		if issue.Side != domain.SideOld {
			issue.Side = domain.SideNew
		}
		if issue.StartLine < 1 {
			issue.StartLine = 1
		}
		if issue.EndLine < 1 {
			issue.EndLine = 1
		}
		if issue.StartLine > issue.EndLine {
			issue.StartLine, issue.EndLine = issue.EndLine, issue.StartLine
		}
	}

	res.RiskLevel = normalizeRisk(res.RiskLevel, res.Reviews)

	if strings.TrimSpace(res.Summary) == "" {
		if len(res.Reviews) == 0 {
			res.Summary = "Automated review found no issues."
		} else {
			res.Summary = fmt.Sprintf("Automated review found %d issue(s).", len(res.Reviews))
		}
	}
	if res.Reviews == nil {
		res.Reviews = []domain.ReviewIssue{}
	}
	return &res
}

func normalizeRisk(declared domain.RiskLevel, issues []domain.ReviewIssue) domain.RiskLevel {
	inferred := domain.RiskLow
	for _, is := range issues {
		switch is.Severity {
		case domain.SeverityHigh:
			inferred = domain.RiskHigh
		case domain.SeverityMedium:
			if inferred == domain.RiskLow {
				inferred = domain.RiskMedium
			}
		}
	}

	switch declared {
	case domain.RiskLow, domain.RiskMedium, domain.RiskHigh:
	default:
		return inferred
	}

	// A high-severity issue forces at least medium risk.
	if inferred == domain.RiskHigh && declared == domain.RiskLow {
		return domain.RiskMedium
	}
	return declared
}

// FallbackResult wraps non-JSON model text into a minimal ReviewResult that
// surfaces a preview as an action item.
func FallbackResult(text string) *domain.ReviewResult {
	preview := strings.TrimSpace(text)
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	return &domain.ReviewResult{
		Summary:     "Automated review could not produce structured output.",
		RiskLevel:   domain.RiskLow,
		Reviews:     []domain.ReviewIssue{},
		ActionItems: []string{"Model output was not structured JSON: " + preview},
	}
}
