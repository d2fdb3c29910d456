package document

import (
	"regexp"
	"strings"
)

var (
	htmlTableRe    = regexp.MustCompile(`(?is)<table\b.*?</table>`)
	wordPipeRe     = regexp.MustCompile(`[\p{L}\p{N}_]\|`)
	separatorRe    = regexp.MustCompile(`^:?-+:?$`)
	emphasisRe     = regexp.MustCompile(`\*\*.+?\*\*|\*.+?\*`)
	headingPrefix  = []string{"### ", "## ", "# "}
	headingLevelOf = map[string]int{"# ": 1, "## ": 2, "### ": 3}
)

// Parse converts one page of normalized text into elements. It never fails;
// constructs it cannot recognize degrade to paragraphs.
func Parse(text string) []Element {
	var out []Element
	last := 0
	for _, loc := range htmlTableRe.FindAllStringIndex(text, -1) {
		out = append(out, parseMarkdown(text[last:loc[0]])...)
		if t := parseHTMLTable(text[loc[0]:loc[1]]); len(t.Rows) > 0 {
			out = append(out, t)
		}
		last = loc[1]
	}
	return append(out, parseMarkdown(text[last:])...)
}

// parseMarkdown handles a chunk without HTML tables, line by line.
func parseMarkdown(chunk string) []Element {
	var out []Element
	var rows []string

	flush := func() {
		if len(rows) == 0 {
			return
		}
		if t := parseMarkdownTable(rows); len(t.Rows) > 0 {
			out = append(out, t)
		}
		rows = rows[:0]
	}

	for _, line := range strings.Split(chunk, "\n") {
		if isTableRow(line) {
			rows = append(rows, line)
			continue
		}
		flush()
		if el := classifyLine(line); el != nil {
			out = append(out, el)
		}
	}
	flush()
	return out
}

// isTableRow reports whether a line looks like a markdown table row. Prose
// that happens to contain "word|" is misclassified; that is accepted.
func isTableRow(line string) bool {
	if !strings.Contains(line, "|") {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(line), "|") || wordPipeRe.MatchString(line)
}

func parseMarkdownTable(lines []string) *Table {
	t := &Table{}
	for _, line := range lines {
		s := strings.TrimSpace(line)
		s = strings.TrimPrefix(s, "|")
		s = strings.TrimSuffix(s, "|")
		cells := strings.Split(s, "|")
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		if isSeparatorRow(cells) {
			continue
		}
		t.Rows = append(t.Rows, cells)
	}
	if len(t.Rows) > 0 {
		t.HeaderRows = []int{0}
	}
	return t
}

// isSeparatorRow matches the |---|:---:| rule under a markdown header.
func isSeparatorRow(cells []string) bool {
	seen := false
	for _, c := range cells {
		if c == "" {
			continue
		}
		if !separatorRe.MatchString(c) {
			return false
		}
		seen = true
	}
	return seen
}

func classifyLine(line string) Element {
	s := strings.TrimSpace(line)
	if s == "" {
		return nil
	}
	for _, p := range headingPrefix {
		if strings.HasPrefix(s, p) {
			return &Heading{Level: headingLevelOf[p], Text: strings.TrimSpace(s[len(p):])}
		}
	}
	return &Paragraph{Spans: parseSpans(s)}
}

// parseSpans splits a paragraph on **bold** and *italic* markers.
func parseSpans(s string) []Span {
	var spans []Span
	last := 0
	for _, loc := range emphasisRe.FindAllStringIndex(s, -1) {
		if loc[0] > last {
			spans = append(spans, Span{Text: s[last:loc[0]]})
		}
		spans = append(spans, styledSpan(s[loc[0]:loc[1]]))
		last = loc[1]
	}
	if last < len(s) {
		spans = append(spans, Span{Text: s[last:]})
	}
	return spans
}

func styledSpan(m string) Span {
	switch {
	case len(m) > 4 && strings.HasPrefix(m, "**") && strings.HasSuffix(m, "**"):
		return Span{Text: m[2 : len(m)-2], Style: Style{Bold: true}}
	case len(m) > 2 && strings.HasPrefix(m, "*") && strings.HasSuffix(m, "*"):
		return Span{Text: m[1 : len(m)-1], Style: Style{Italic: true}}
	default:
		return Span{Text: m}
	}
}
