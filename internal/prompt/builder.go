package prompt

import (
	"fmt"
	"strings"

	"mr-agent/internal/domain"
)

// Caps applied while composing prompts.
const (
	guidelineCharCap = 2000
	askMaxFiles      = 40
	askMaxTurns      = 6
)

// SystemReview is the review-mode system prompt: role, output contract, and
// the obligations the normaliser relies on.
const SystemReview = `You are an expert code reviewer. Analyse the supplied change set and respond with JSON only, no prose and no markdown fences.

The JSON object must have this shape:
{
  "summary": string,
  "risk_level": "low" | "medium" | "high",
  "reviews": [{"severity": "low"|"medium"|"high", "new_path": string, "old_path": string, "type": "old"|"new", "start_line": int, "end_line": int, "issue_header": string, "issue_content": string, "suggestion": string?}],
  "positives": [string],
  "action_items": [string]
}

Rules:
- Line numbers must come from the (old,new) gutter shown in the diff; never invent numbers.
- An empty "reviews" array is acceptable for clean changes.
- Include a "suggestion" only when it is directly substitutable for the flagged lines.
- When team custom rules are supplied, check every rule and report violations.
- When CI checks show failures, add an action item for each failing check.
- When process or template files are part of the change, add an action item about process-flow quality.`

// SystemAsk is the system prompt for /ask answers.
const SystemAsk = `You are a code-review assistant answering questions about a specific change set. Answer in concise markdown, grounded only in the supplied context. Say so plainly when the context does not contain the answer.`

// SystemDescribe is the system prompt for /describe output.
const SystemDescribe = `You are a release-notes author. Produce a markdown description of the change set: a one-paragraph summary, a "Changes" bullet list grouped by area, and a "Notes" section for anything reviewers should know. No JSON, markdown only.`

// SystemChangelog is the system prompt for /changelog output.
const SystemChangelog = `You are maintaining a Keep-a-Changelog style CHANGELOG. Produce only the new entry block in markdown for the supplied change set, using Added/Changed/Fixed/Removed subsections as applicable.`

// SystemGenerateTests is the system prompt for /generate_tests output.
const SystemGenerateTests = `You are a test engineer. For the supplied change set, propose unit tests covering the changed behaviour, as fenced code blocks per file, each preceded by a one-line rationale.`

// Builder composes deterministic prompts from a ReviewInput.
type Builder struct{}

// NewBuilder creates a Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// header renders the shared context block every prompt starts with.
func (b *Builder) header(in *domain.ReviewInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Platform: %s\n", in.Platform)
	fmt.Fprintf(&sb, "Repository: %s\n", in.Repo)
	fmt.Fprintf(&sb, "Request: #%d\n", in.Number)
	fmt.Fprintf(&sb, "Title: %s\n", in.Title)
	fmt.Fprintf(&sb, "Author: %s\n", in.Author)
	fmt.Fprintf(&sb, "Branches: %s -> %s\n", in.BaseBranch, in.HeadBranch)
	fmt.Fprintf(&sb, "Totals: +%d -%d across %d files\n", in.Additions, in.Deletions, len(in.Files))
	if in.Incremental {
		sb.WriteString("Scope: incremental diff since the last reviewed head\n")
	}
	if in.Truncated {
		sb.WriteString("Scope: file listing was truncated by the forge; this is a partial change set\n")
	}
	if body := strings.TrimSpace(in.Body); body != "" {
		sb.WriteString("\nDescription:\n")
		sb.WriteString(body)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// BuildReview renders the user prompt for a full review: header, process
// files, guidelines, custom rules, feedback signals, CI checks, then the
// diff with true line numbers — always in that order.
func (b *Builder) BuildReview(in *domain.ReviewInput) string {
	var sb strings.Builder
	sb.WriteString(b.header(in))

	if procs := processFiles(in); len(procs) > 0 {
		sb.WriteString("\n## Process and template files in this change\n")
		for _, p := range procs {
			fmt.Fprintf(&sb, "- %s\n", p)
		}
	}

	b.writeGuidelines(&sb, in)
	b.writeCustomRules(&sb, in)
	b.writeFeedback(&sb, in)
	b.writeCIChecks(&sb, in)
	b.writeDiff(&sb, in, len(in.Files))

	return sb.String()
}

// BuildAsk renders the user prompt for /ask: header, capped diff, recent
// session turns, then the question.
func (b *Builder) BuildAsk(in *domain.ReviewInput, question string, turns []domain.AskTurn) string {
	var sb strings.Builder
	sb.WriteString(b.header(in))
	b.writeDiff(&sb, in, askMaxFiles)

	if len(turns) > 0 {
		start := 0
		if len(turns) > askMaxTurns {
			start = len(turns) - askMaxTurns
		}
		sb.WriteString("\n## Previous questions in this session\n")
		for _, t := range turns[start:] {
			fmt.Fprintf(&sb, "Q: %s\nA: %s\n\n", t.Question, t.Answer)
		}
	}

	sb.WriteString("\n## Question\n")
	sb.WriteString(strings.TrimSpace(question))
	sb.WriteByte('\n')
	return sb.String()
}

// BuildDescribe renders the user prompt for /describe.
func (b *Builder) BuildDescribe(in *domain.ReviewInput) string {
	var sb strings.Builder
	sb.WriteString(b.header(in))
	b.writeDiff(&sb, in, len(in.Files))
	return sb.String()
}

// BuildChangelog renders the user prompt for /changelog.
func (b *Builder) BuildChangelog(in *domain.ReviewInput) string {
	var sb strings.Builder
	sb.WriteString(b.header(in))
	b.writeDiff(&sb, in, len(in.Files))
	return sb.String()
}

func (b *Builder) writeGuidelines(sb *strings.Builder, in *domain.ReviewInput) {
	if len(in.Guidelines) == 0 {
		return
	}
	sb.WriteString("\n## Repository process guidelines\n")
	for _, g := range in.Guidelines {
		content := g.Content
		if len(content) > guidelineCharCap {
			content = content[:guidelineCharCap]
		}
		fmt.Fprintf(sb, "### %s\n%s\n", g.Path, content)
	}
}

func (b *Builder) writeCustomRules(sb *strings.Builder, in *domain.ReviewInput) {
	if len(in.CustomRules) == 0 {
		return
	}
	sb.WriteString("\n## Team custom rules\n")
	for i, r := range in.CustomRules {
		fmt.Fprintf(sb, "%d. %s\n", i+1, r)
	}
}

func (b *Builder) writeFeedback(sb *strings.Builder, in *domain.ReviewInput) {
	if len(in.FeedbackSignals) == 0 {
		return
	}
	sb.WriteString("\n## Developer feedback signals\n")
	for _, f := range in.FeedbackSignals {
		fmt.Fprintf(sb, "- %s\n", f)
	}
}

func (b *Builder) writeCIChecks(sb *strings.Builder, in *domain.ReviewInput) {
	if len(in.CIChecks) == 0 {
		return
	}
	sb.WriteString("\n## CI check results\n")
	for _, c := range in.CIChecks {
		fmt.Fprintf(sb, "- %s: %s", c.Name, c.Status)
		if c.Conclusion != "" {
			fmt.Fprintf(sb, " (%s)", c.Conclusion)
		}
		if c.Summary != "" {
			fmt.Fprintf(sb, " - %s", c.Summary)
		}
		sb.WriteByte('\n')
	}
}

func (b *Builder) writeDiff(sb *strings.Builder, in *domain.ReviewInput, maxFiles int) {
	sb.WriteString("\n## Diff with (old,new) line numbers\n")
	for i, f := range in.Files {
		if i >= maxFiles {
			fmt.Fprintf(sb, "\n[%d more files omitted]\n", len(in.Files)-maxFiles)
			break
		}
		fmt.Fprintf(sb, "\n### %s (%s, +%d -%d)\n", f.NewPath, f.Status, f.Additions, f.Deletions)
		if f.Status == domain.FileRenamed && f.OldPath != "" {
			fmt.Fprintf(sb, "renamed from %s\n", f.OldPath)
		}
		diff := f.ExtendedDiff
		if diff == "" {
			diff = f.Patch
		}
		sb.WriteString(diff)
		sb.WriteByte('\n')
	}
}

func processFiles(in *domain.ReviewInput) []string {
	var out []string
	for _, f := range in.Files {
		if domain.IsProcessTemplateFile(in.Platform, f.NewPath) {
			out = append(out, f.NewPath)
		}
	}
	return out
}
