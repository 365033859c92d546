package review

import (
	"fmt"
	"strings"

	"mr-agent/internal/domain"
	"mr-agent/internal/forge"
	"mr-agent/internal/i18n"
)

func riskBadge(risk domain.RiskLevel) string {
	switch risk {
	case domain.RiskHigh:
		return "🔴 high"
	case domain.RiskMedium:
		return "🟡 medium"
	default:
		return "🟢 low"
	}
}

func severityBadge(s domain.Severity) string {
	switch s {
	case domain.SeverityHigh:
		return "🔴"
	case domain.SeverityMedium:
		return "🟡"
	default:
		return "🟢"
	}
}

// renderReport renders the single managed report comment for report mode.
func renderReport(locale i18n.Locale, res *domain.ReviewResult, truncated bool) string {
	var sb strings.Builder
	sb.WriteString("## Automated Review\n\n")
	fmt.Fprintf(&sb, "**Risk:** %s\n\n", riskBadge(res.RiskLevel))
	sb.WriteString(res.Summary)
	sb.WriteString("\n")

	if truncated {
		sb.WriteString("\n> " + i18n.T(locale, i18n.KeyFilesTruncated) + "\n")
	}

	if len(res.Reviews) > 0 {
		sb.WriteString("\n### Findings\n\n")
		byFile := map[string][]domain.ReviewIssue{}
		var order []string
		for _, issue := range res.Reviews {
			if _, seen := byFile[issue.NewPath]; !seen {
				order = append(order, issue.NewPath)
			}
			byFile[issue.NewPath] = append(byFile[issue.NewPath], issue)
		}
		for _, path := range order {
			fmt.Fprintf(&sb, "**`%s`**\n\n", path)
			for _, issue := range byFile[path] {
				fmt.Fprintf(&sb, "- %s **%s** (L%d-L%d): %s\n",
					severityBadge(issue.Severity), issue.IssueHeader,
					issue.StartLine, issue.EndLine, issue.IssueContent)
				if issue.Suggestion != "" {
					fmt.Fprintf(&sb, "  ```suggestion\n%s\n  ```\n", issue.Suggestion)
				}
			}
			sb.WriteString("\n")
		}
	}

	if len(res.Positives) > 0 {
		sb.WriteString("\n### Positives\n\n")
		for _, p := range res.Positives {
			fmt.Fprintf(&sb, "- %s\n", p)
		}
	}
	if len(res.ActionItems) > 0 {
		sb.WriteString("\n### Action items\n\n")
		for _, a := range res.ActionItems {
			fmt.Fprintf(&sb, "- [ ] %s\n", a)
		}
	}
	return sb.String()
}

// renderSummary renders the compact summary comment used in comment mode,
// where the findings live on the diff lines themselves.
func renderSummary(locale i18n.Locale, res *domain.ReviewResult, published, skipped int, truncated bool) string {
	var sb strings.Builder
	sb.WriteString("## Automated Review\n\n")
	fmt.Fprintf(&sb, "**Risk:** %s | **Line comments:** %d", riskBadge(res.RiskLevel), published)
	if skipped > 0 {
		fmt.Fprintf(&sb, " (%d could not be anchored)", skipped)
	}
	sb.WriteString("\n\n")
	sb.WriteString(res.Summary)
	sb.WriteString("\n")

	if truncated {
		sb.WriteString("\n> " + i18n.T(locale, i18n.KeyFilesTruncated) + "\n")
	}
	if len(res.Positives) > 0 {
		sb.WriteString("\n### Positives\n\n")
		for _, p := range res.Positives {
			fmt.Fprintf(&sb, "- %s\n", p)
		}
	}
	if len(res.ActionItems) > 0 {
		sb.WriteString("\n### Action items\n\n")
		for _, a := range res.ActionItems {
			fmt.Fprintf(&sb, "- [ ] %s\n", a)
		}
	}
	return sb.String()
}

// renderLineComment renders one issue as a line comment body.
func renderLineComment(issue domain.ReviewIssue) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s **%s**\n\n%s\n", severityBadge(issue.Severity), issue.IssueHeader, issue.IssueContent)
	if issue.Suggestion != "" {
		fmt.Fprintf(&sb, "\n```suggestion\n%s\n```\n", issue.Suggestion)
	}
	return sb.String()
}

// renderSecretWarning renders the managed secret-scan warning comment.
func renderSecretWarning(locale i18n.Locale, findings []domain.SecretFinding) string {
	var sb strings.Builder
	sb.WriteString("## ⚠️ " + i18n.T(locale, i18n.KeySecretWarning) + "\n\n")
	sb.WriteString("| File | Line | Kind | Sample |\n|---|---|---|---|\n")
	for _, f := range findings {
		fmt.Fprintf(&sb, "| `%s` | %d | %s | `%s` |\n", f.Path, f.Line, f.Kind, f.Sample)
	}
	sb.WriteString("\nRotate any real credentials immediately; this history is public to everyone with repository access.\n")
	return sb.String()
}

// renderChecks renders the /checks summary table.
func renderChecks(checks []domain.CICheck) string {
	if len(checks) == 0 {
		return "## CI Checks\n\nNo checks reported for the current head.\n"
	}
	var sb strings.Builder
	sb.WriteString("## CI Checks\n\n| Check | Status | Conclusion |\n|---|---|---|\n")
	for _, c := range checks {
		name := c.Name
		if c.DetailsURL != "" {
			name = fmt.Sprintf("[%s](%s)", c.Name, c.DetailsURL)
		}
		fmt.Fprintf(&sb, "| %s | %s | %s |\n", name, c.Status, c.Conclusion)
	}
	return sb.String()
}

// renderSimilarIssues renders the /similar_issue hit list.
func renderSimilarIssues(refs []forge.IssueRef) string {
	if len(refs) == 0 {
		return "## Similar issues\n\nNo similar issues found.\n"
	}
	var sb strings.Builder
	sb.WriteString("## Similar issues\n\n")
	for _, r := range refs {
		fmt.Fprintf(&sb, "- [#%d %s](%s) (%s)\n", r.Number, r.Title, r.URL, r.State)
	}
	return sb.String()
}

// renderPolicyReminder renders the policy-check reminder comment.
func renderPolicyReminder(locale i18n.Locale, problems []string) string {
	var sb strings.Builder
	sb.WriteString(i18n.T(locale, i18n.KeyPolicyReminder) + "\n\n")
	for _, p := range problems {
		fmt.Fprintf(&sb, "- %s\n", p)
	}
	return sb.String()
}
