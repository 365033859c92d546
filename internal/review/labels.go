package review

import (
	"regexp"
	"strings"

	"mr-agent/internal/domain"
)

const maxAutoLabels = 8

var (
	bugfixPattern   = regexp.MustCompile(`(?i)\b(fix|bug|hotfix)\b`)
	featurePattern  = regexp.MustCompile(`(?i)\b(feat|feature)\b`)
	refactorPattern = regexp.MustCompile(`(?i)\brefactor\b`)
)

// deriveLabels maps the PR title, change shape, secret findings, and risk
// level onto auto-labels, capped at 8.
func deriveLabels(title string, files []domain.DiffFile, secretFindings int, risk domain.RiskLevel) []string {
	var labels []string
	add := func(l string) {
		if len(labels) >= maxAutoLabels {
			return
		}
		for _, have := range labels {
			if have == l {
				return
			}
		}
		labels = append(labels, l)
	}

	if bugfixPattern.MatchString(title) {
		add("bugfix")
	}
	if featurePattern.MatchString(title) {
		add("feature")
	}
	if refactorPattern.MatchString(title) {
		add("refactor")
	}
	if len(files) > 0 && allDocs(files) {
		add("docs")
	}
	if secretFindings > 0 {
		add("security")
	}
	if risk == domain.RiskHigh {
		add("needs-attention")
	}
	return labels
}

func allDocs(files []domain.DiffFile) bool {
	for _, f := range files {
		p := strings.ToLower(f.NewPath)
		if !strings.HasSuffix(p, ".md") && !strings.HasSuffix(p, ".rst") &&
			!strings.HasSuffix(p, ".txt") && !strings.HasPrefix(p, "docs/") {
			return false
		}
	}
	return true
}
