package secrets

import (
	"log/slog"
	"regexp"
	"strings"

	"mr-agent/internal/domain"
)

// Caps on custom patterns and findings.
const (
	MaxFindings          = 10
	MaxCustomPatterns    = 20
	MaxCustomPatternLen  = 240
	placeholderCheckSpan = 200
)

type rule struct {
	kind string
	re   *regexp.Regexp
}

var builtinRules = []rule{
	{kind: "aws-access-key", re: regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{kind: "github-token", re: regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`)},
	{kind: "private-key", re: regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`)},
	{kind: "jwt", re: regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\b`)},
	{kind: "generic-credential", re: regexp.MustCompile(`(?i)\b(?:api[_-]?key|secret|token|password|passwd)\b\s*[:=]\s*['"]?([A-Za-z0-9_\-/+=.]{8,})`)},
}

// placeholderHints suppress matches whose line looks like a template value.
var placeholderHints = []string{
	"example", "sample", "dummy", "placeholder", "replace-with",
	"your-", "your_", "xxx", "todo", "change_me", "changeme",
}

var angleToken = regexp.MustCompile(`<[A-Za-z0-9 _-]+>`)

// Scanner detects secret-looking material on added lines.
type Scanner struct {
	rules []rule
}

// NewScanner builds a scanner from the builtin rule set plus repository
// custom patterns. Invalid or oversized custom patterns are skipped.
func NewScanner(customPatterns []string) *Scanner {
	rules := make([]rule, len(builtinRules))
	copy(rules, builtinRules)

	for i, pat := range customPatterns {
		if i >= MaxCustomPatterns {
			break
		}
		if len(pat) == 0 || len(pat) > MaxCustomPatternLen {
			continue
		}
		re, err := regexp.Compile(pat)
		if err != nil {
			slog.Warn("invalid custom secret pattern", "pattern_index", i, "error", err)
			continue
		}
		rules = append(rules, rule{kind: "custom", re: re})
	}
	return &Scanner{rules: rules}
}

// Scan inspects only added lines of each file and returns redacted findings,
// deduplicated by (path, line, kind, sample), capped at MaxFindings.
func (s *Scanner) Scan(files []domain.DiffFile) []domain.SecretFinding {
	var findings []domain.SecretFinding
	seen := make(map[string]bool)

	for _, f := range files {
		lines := addedLines(f.Patch)
		for _, al := range lines {
			if looksLikePlaceholder(al.text) {
				continue
			}
			for _, r := range s.rules {
				m := r.re.FindStringSubmatch(al.text)
				if m == nil {
					continue
				}
				matched := m[0]
				if len(m) > 1 && m[1] != "" {
					matched = m[1]
				}
				finding := domain.SecretFinding{
					Path:   f.NewPath,
					Line:   al.line,
					Kind:   r.kind,
					Sample: Redact(matched),
				}
				key := finding.Path + "\x00" + r.kind + "\x00" + finding.Sample + "\x00" + itoa(al.line)
				if seen[key] {
					continue
				}
				seen[key] = true
				findings = append(findings, finding)
				if len(findings) >= MaxFindings {
					return findings
				}
			}
		}
	}
	return findings
}

// Redact keeps first4***last4 of a long value, first2*** of a short one.
func Redact(s string) string {
	if len(s) > 12 {
		return s[:4] + "***" + s[len(s)-4:]
	}
	if len(s) > 2 {
		return s[:2] + "***"
	}
	return "***"
}

type addedLine struct {
	line int
	text string
}

var secretHunkHeader = regexp.MustCompile(`^@@ -\d+(?:,\d+)? \+(\d+)(?:,\d+)? @@`)

func addedLines(patch string) []addedLine {
	var out []addedLine
	newLine := 0
	inHunk := false
	for _, line := range strings.Split(patch, "\n") {
		if m := secretHunkHeader.FindStringSubmatch(line); m != nil {
			newLine = atoi(m[1])
			inHunk = true
			continue
		}
		if !inHunk {
			continue
		}
		switch {
		case strings.HasPrefix(line, "+"):
			out = append(out, addedLine{line: newLine, text: line[1:]})
			newLine++
		case strings.HasPrefix(line, "-"), strings.HasPrefix(line, `\`):
			// old side or no-newline marker, new cursor unchanged
		default:
			newLine++
		}
	}
	return out
}

func looksLikePlaceholder(line string) bool {
	probe := strings.ToLower(line)
	if len(probe) > placeholderCheckSpan {
		probe = probe[:placeholderCheckSpan]
	}
	for _, hint := range placeholderHints {
		if strings.Contains(probe, hint) {
			return true
		}
	}
	return angleToken.MatchString(probe)
}

func atoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}
