package policy

import (
	"strings"
	"testing"

	"mr-agent/internal/i18n"
)

func enabledPolicy() SectionPolicy {
	return SectionPolicy{CheckEnabled: true}
}

func TestCheckDescriptionDisabled(t *testing.T) {
	pol := SectionPolicy{CheckEnabled: false, MinBodyLength: 100}
	if got := CheckDescription(i18n.LocaleEN, "", "", pol); got != nil {
		t.Errorf("disabled check must pass everything, got %v", got)
	}
}

func TestCheckDescriptionTitleRequired(t *testing.T) {
	problems := CheckDescription(i18n.LocaleEN, "   ", "body", enabledPolicy())
	if len(problems) != 1 || !strings.Contains(problems[0], "title") {
		t.Errorf("got %v", problems)
	}
}

func TestCheckDescriptionMinLengthIgnoresNoise(t *testing.T) {
	pol := enabledPolicy()
	pol.MinBodyLength = 20

	// Comments, checkboxes, and the "_No response_" filler do not count.
	noisy := "<!-- instructions here -->\n- [ ] item\n_No response_\nhi"
	problems := CheckDescription(i18n.LocaleEN, "title", noisy, pol)
	if len(problems) != 1 {
		t.Fatalf("noise must not satisfy the length gate: %v", problems)
	}

	real := "This change fixes the flaky reconnect loop in the poller."
	if problems := CheckDescription(i18n.LocaleEN, "title", real, pol); len(problems) != 0 {
		t.Errorf("real content rejected: %v", problems)
	}
}

func TestCheckDescriptionRequiredSections(t *testing.T) {
	pol := enabledPolicy()
	pol.RequiredSections = []string{"Summary", "Testing"}

	body := "## Summary\nDoes a thing.\n\n## Testing\n"
	problems := CheckDescription(i18n.LocaleEN, "title", body, pol)
	if len(problems) != 1 || !strings.Contains(problems[0], "Testing") {
		t.Errorf("empty section must be reported by name: %v", problems)
	}

	body = "## summary\nDoes a thing.\n\n### TESTING\nRan the suite."
	if problems := CheckDescription(i18n.LocaleEN, "title", body, pol); len(problems) != 0 {
		t.Errorf("section match must be case-insensitive: %v", problems)
	}
}

func TestCheckDescriptionIssueReference(t *testing.T) {
	pol := enabledPolicy()
	pol.RequireIssueReference = true

	if problems := CheckDescription(i18n.LocaleEN, "title", "no reference here", pol); len(problems) != 1 {
		t.Errorf("missing reference must be flagged: %v", problems)
	}
	for _, body := range []string{"fixes #42", "Relates to PROJ-123", "see #7"} {
		if problems := CheckDescription(i18n.LocaleEN, "title", body, pol); len(problems) != 0 {
			t.Errorf("%q should satisfy the default pattern: %v", body, problems)
		}
	}

	pol.IssueReferencePattern = `JIRA-\d+`
	if problems := CheckDescription(i18n.LocaleEN, "title", "fixes #42", pol); len(problems) != 1 {
		t.Error("custom pattern must replace the default")
	}
	if problems := CheckDescription(i18n.LocaleEN, "title", "JIRA-9", pol); len(problems) != 0 {
		t.Errorf("custom pattern match rejected: %v", problems)
	}

	// A broken custom pattern falls back to the default.
	pol.IssueReferencePattern = `([unclosed`
	if problems := CheckDescription(i18n.LocaleEN, "title", "fixes #42", pol); len(problems) != 0 {
		t.Errorf("broken pattern must fall back: %v", problems)
	}
}

func TestCheckDescriptionLocalised(t *testing.T) {
	problems := CheckDescription(i18n.LocaleZH, "", "", enabledPolicy())
	if len(problems) != 1 || !strings.Contains(problems[0], "标题") {
		t.Errorf("expected localised message, got %v", problems)
	}
}
