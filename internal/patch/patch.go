package patch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"mr-agent/internal/domain"
)

// hunkHeader matches "@@ -a,b +c,d @@" (counts optional).
var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// Parsed is the result of decoding one unified patch.
type Parsed struct {
	ExtendedDiff string
	OldLines     map[int]string
	NewLines     map[int]string
	Additions    int
	Deletions    int
}

// Parse walks a unified diff, assigning every line to its true old/new line
// number and rendering an extended diff whose fixed-width (old,new) gutter
// shows the model the real numbers.
func Parse(patch string) Parsed {
	p := Parsed{
		OldLines: make(map[int]string),
		NewLines: make(map[int]string),
	}
	if patch == "" {
		return p
	}

	var out strings.Builder
	oldLine, newLine := 0, 0
	inHunk := false

	for _, line := range strings.Split(patch, "\n") {
		if m := hunkHeader.FindStringSubmatch(line); m != nil {
			oldLine, _ = strconv.Atoi(m[1])
			newLine, _ = strconv.Atoi(m[3])
			inHunk = true
			out.WriteString(line)
			out.WriteByte('\n')
			continue
		}
		if !inHunk {
			continue
		}

		switch {
		case strings.HasPrefix(line, "-"):
			text := line[1:]
			p.OldLines[oldLine] = text
			out.WriteString(gutter(oldLine, 0))
			out.WriteString(line)
			oldLine++
			p.Deletions++
		case strings.HasPrefix(line, "+"):
			text := line[1:]
			p.NewLines[newLine] = text
			out.WriteString(gutter(0, newLine))
			out.WriteString(line)
			newLine++
			p.Additions++
		case strings.HasPrefix(line, `\`):
			// "\ No newline at end of file": advance nothing.
			out.WriteString(gutter(0, 0))
			out.WriteString(line)
		default:
			text := strings.TrimPrefix(line, " ")
			p.OldLines[oldLine] = text
			p.NewLines[newLine] = text
			out.WriteString(gutter(oldLine, newLine))
			out.WriteString(line)
			oldLine++
			newLine++
		}
		out.WriteByte('\n')
	}

	p.ExtendedDiff = strings.TrimSuffix(out.String(), "\n")
	return p
}

// gutter renders the fixed-width (old,new) prefix; zero means blank.
func gutter(oldLine, newLine int) string {
	left, right := "     ", "     "
	if oldLine > 0 {
		left = fmt.Sprintf("%5d", oldLine)
	}
	if newLine > 0 {
		right = fmt.Sprintf("%5d", newLine)
	}
	return "(" + left + "," + right + ") "
}

// ResolveLine anchors an issue to a publishable line: the end line, then the
// start line, then a walk back from end to start, on the side the issue
// names. Returns false when no line of that range exists in the diff.
func ResolveLine(f *domain.DiffFile, issue domain.ReviewIssue) (int, bool) {
	lines := f.NewLines
	if issue.Side == domain.SideOld {
		lines = f.OldLines
	}
	if lines == nil {
		return 0, false
	}

	start, end := issue.StartLine, issue.EndLine
	if start > end {
		start, end = end, start
	}
	if _, ok := lines[end]; ok {
		return end, true
	}
	if _, ok := lines[start]; ok {
		return start, true
	}
	for n := end - 1; n > start; n-- {
		if _, ok := lines[n]; ok {
			return n, true
		}
	}
	return 0, false
}

// Markers appended when a patch had to be reduced to fit the byte budget.
const (
	MarkerHunksPrioritized = "[hunks prioritized]"
	MarkerPatchTruncated   = "[patch truncated]"
)

// riskTokens boost a hunk's score when present on added lines.
var riskTokens = []string{
	"password", "secret", "token", "auth", "crypt",
	"exec", "eval", "sql", "unsafe", "panic",
}

type hunk struct {
	header string
	body   []string
	score  int
	size   int
}

// PrioritizeHunks greedily keeps the riskiest hunks of a patch under a byte
// budget. The score favours added-line count and flagged tokens. When
// nothing fits, the patch is hard-truncated instead.
func PrioritizeHunks(patch string, budget int) string {
	if budget <= 0 || len(patch) <= budget {
		return patch
	}

	hunks := splitHunks(patch)
	if len(hunks) <= 1 {
		cut := budget - len(MarkerPatchTruncated) - 1
		if cut < 0 {
			cut = 0
		}
		return patch[:cut] + "\n" + MarkerPatchTruncated
	}

	// Order hunk indexes by score, highest first; keep original order in the
	// output so line numbers stay monotonic.
	byScore := make([]int, len(hunks))
	for i := range byScore {
		byScore[i] = i
	}
	for i := 0; i < len(byScore); i++ {
		for j := i + 1; j < len(byScore); j++ {
			if hunks[byScore[j]].score > hunks[byScore[i]].score {
				byScore[i], byScore[j] = byScore[j], byScore[i]
			}
		}
	}

	keep := make([]bool, len(hunks))
	used := len(MarkerHunksPrioritized) + 1
	for _, idx := range byScore {
		if used+hunks[idx].size > budget {
			continue
		}
		keep[idx] = true
		used += hunks[idx].size
	}

	var out strings.Builder
	for i, h := range hunks {
		if !keep[i] {
			continue
		}
		out.WriteString(h.header)
		out.WriteByte('\n')
		for _, l := range h.body {
			out.WriteString(l)
			out.WriteByte('\n')
		}
	}
	out.WriteString(MarkerHunksPrioritized)
	return out.String()
}

func splitHunks(patch string) []hunk {
	var hunks []hunk
	var cur *hunk

	for _, line := range strings.Split(patch, "\n") {
		if hunkHeader.MatchString(line) {
			if cur != nil {
				hunks = append(hunks, *cur)
			}
			cur = &hunk{header: line, size: len(line) + 1}
			continue
		}
		if cur == nil {
			continue
		}
		cur.body = append(cur.body, line)
		cur.size += len(line) + 1
		if strings.HasPrefix(line, "+") {
			cur.score += 2
			lower := strings.ToLower(line)
			for _, tok := range riskTokens {
				if strings.Contains(lower, tok) {
					cur.score += 5
				}
			}
		}
	}
	if cur != nil {
		hunks = append(hunks, *cur)
	}
	return hunks
}
