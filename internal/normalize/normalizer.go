// Package normalize cleans raw OCR output: code fences, LaTeX-like circled
// numbers, fractions and single-symbol inline math.
package normalize

import (
	"cmp"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// maxPasses bounds the fixpoint loop in Normalize. Every substitution
// shortens the text, so real input settles in two or three passes.
const maxPasses = 16

var (
	fenceOpen  = regexp.MustCompile("^```[\\w+-]*[ \\t]*\\n?")
	fenceClose = regexp.MustCompile("\\n?```$")

	circledPattern  = wrapped(`\\(?:textcircled|circled)\{\s*(\d{1,3})\s*\}`, 1, true)
	fractionPattern = wrapped(`\\[dt]?frac\{\s*([^{}$\x60\\()]+?)\s*\}\{\s*([^{}$\x60\\()]+?)\s*\}`, 2, true)
	commandPattern  = wrapped(`\\([A-Za-z]+)`, 1, false)
)

// Normalizer applies the normalization steps. It is immutable and safe for
// concurrent use.
type Normalizer struct {
	tables        *Tables
	symbolPattern *pattern
}

// New builds a normalizer over t. t must not be modified afterwards.
func New(t *Tables) *Normalizer {
	n := &Normalizer{tables: t}
	if len(t.Symbols) > 0 {
		keys := make([]string, 0, len(t.Symbols))
		for k := range t.Symbols {
			keys = append(keys, k)
		}
		// Longest token first so \leftarrow wins over \left.
		slices.SortFunc(keys, func(a, b string) int {
			if c := cmp.Compare(len(b), len(a)); c != 0 {
				return c
			}
			return strings.Compare(a, b)
		})
		quoted := make([]string, len(keys))
		for i, k := range keys {
			quoted[i] = regexp.QuoteMeta(k)
		}
		n.symbolPattern = wrapped("("+strings.Join(quoted, "|")+")", 1, false)
	}
	return n
}

// Default returns a normalizer over the built-in tables.
func Default() *Normalizer {
	return New(DefaultTables())
}

// Normalize cleans s. It never fails and Normalize(Normalize(s)) == Normalize(s).
func (n *Normalizer) Normalize(s string) string {
	for range maxPasses {
		next := n.pass(s)
		if next == s {
			return next
		}
		s = next
	}
	return s
}

func (n *Normalizer) pass(s string) string {
	s = stripFences(s)
	s = n.replaceCircled(s)
	s = n.replaceFractions(s)
	s = n.replaceSymbols(s)
	s = commandPattern.replace(s, func(_ string, args []string) string { return args[0] })
	s = norm.NFC.String(s)
	return strings.TrimSpace(s)
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = fenceOpen.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	return fenceClose.ReplaceAllString(s, "")
}

func (n *Normalizer) replaceCircled(s string) string {
	return circledPattern.replace(s, func(match string, args []string) string {
		num, err := strconv.Atoi(args[0])
		if err != nil {
			return match
		}
		if glyph, ok := n.tables.Circled[num]; ok {
			return glyph
		}
		return match
	})
}

func (n *Normalizer) replaceFractions(s string) string {
	return fractionPattern.replace(s, func(_ string, args []string) string {
		key := strings.TrimSpace(args[0]) + "/" + strings.TrimSpace(args[1])
		if glyph, ok := n.tables.Fractions[key]; ok {
			return glyph
		}
		return key
	})
}

func (n *Normalizer) replaceSymbols(s string) string {
	if n.symbolPattern == nil {
		return s
	}
	return n.symbolPattern.replace(s, func(match string, args []string) string {
		if glyph, ok := n.tables.Symbols[args[0]]; ok {
			return glyph
		}
		return match
	})
}

// pattern matches an inner expression in $...$, \(...\) and optionally bare
// form. Each alternative repeats the inner capture groups.
type pattern struct {
	re     *regexp.Regexp
	groups int
}

func wrapped(inner string, groups int, allowBare bool) *pattern {
	alts := []string{
		`\$\s*` + inner + `\s*\$`,
		`\\\(\s*` + inner + `\s*\\\)`,
	}
	if allowBare {
		alts = append(alts, inner)
	}
	return &pattern{re: regexp.MustCompile(strings.Join(alts, "|")), groups: groups}
}

func (p *pattern) replace(s string, fn func(match string, args []string) string) string {
	idx := p.re.FindAllStringSubmatchIndex(s, -1)
	if len(idx) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, m := range idx {
		b.WriteString(s[last:m[0]])
		b.WriteString(fn(s[m[0]:m[1]], p.args(s, m)))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// args returns the capture groups of whichever alternative matched.
func (p *pattern) args(s string, m []int) []string {
	alts := (len(m)/2 - 1) / p.groups
	for a := range alts {
		base := 2 + a*p.groups*2
		if m[base] < 0 {
			continue
		}
		out := make([]string, p.groups)
		for g := range p.groups {
			out[g] = s[m[base+2*g]:m[base+2*g+1]]
		}
		return out
	}
	return make([]string, p.groups)
}
