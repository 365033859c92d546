package policy

import (
	"regexp"
	"strings"

	"mr-agent/internal/i18n"
)

var (
	htmlComment     = regexp.MustCompile(`(?s)<!--.*?-->`)
	checkboxMarker  = regexp.MustCompile(`(?m)^\s*[-*]\s*\[[ xX]\]\s*`)
	noResponseToken = regexp.MustCompile(`(?i)_no response_`)
	headingLine     = regexp.MustCompile(`(?m)^#{1,6}\s+(.+?)\s*$`)
	defaultIssueRef = regexp.MustCompile(`(?i)(?:#\d+|[A-Z][A-Z0-9]+-\d+|(?:closes|fixes|resolves)\s+#?\d+)`)
)

// CheckDescription validates a title/body pair against a resolved section
// policy and returns localised findings. An empty slice means compliant.
func CheckDescription(locale i18n.Locale, title, body string, pol SectionPolicy) []string {
	if !pol.CheckEnabled {
		return nil
	}

	var problems []string

	if strings.TrimSpace(title) == "" {
		problems = append(problems, i18n.T(locale, i18n.KeyTitleRequired))
	}

	cleaned := stripNoise(body)
	if pol.MinBodyLength > 0 && len(strings.TrimSpace(cleaned)) < pol.MinBodyLength {
		problems = append(problems, i18n.T(locale, i18n.KeyBodyTooShort, pol.MinBodyLength))
	}

	if len(pol.RequiredSections) > 0 {
		sections := splitSections(cleaned)
		for _, name := range pol.RequiredSections {
			content, found := lookupSection(sections, name)
			if !found || strings.TrimSpace(content) == "" {
				problems = append(problems, i18n.T(locale, i18n.KeyMissingSection, name))
			}
		}
	}

	if pol.RequireIssueReference {
		re := defaultIssueRef
		if pol.IssueReferencePattern != "" {
			if custom, err := regexp.Compile(pol.IssueReferencePattern); err == nil {
				re = custom
			}
		}
		if !re.MatchString(body) {
			problems = append(problems, i18n.T(locale, i18n.KeyMissingIssueRef))
		}
	}

	return problems
}

// stripNoise removes HTML comments, checkbox markers, and the literal
// "_No response_" filler before measuring content.
func stripNoise(body string) string {
	body = htmlComment.ReplaceAllString(body, "")
	body = checkboxMarker.ReplaceAllString(body, "")
	body = noResponseToken.ReplaceAllString(body, "")
	return body
}

type section struct {
	name    string
	content string
}

// splitSections breaks a markdown body into heading-delimited sections.
func splitSections(body string) []section {
	locs := headingLine.FindAllStringSubmatchIndex(body, -1)
	sections := make([]section, 0, len(locs))
	for i, loc := range locs {
		name := body[loc[2]:loc[3]]
		start := loc[1]
		end := len(body)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		sections = append(sections, section{name: name, content: body[start:end]})
	}
	return sections
}

func lookupSection(sections []section, name string) (string, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, s := range sections {
		if strings.ToLower(strings.TrimSpace(s.name)) == want {
			return s.content, true
		}
	}
	return "", false
}
