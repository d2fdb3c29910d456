package document

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// parseHTMLTable extracts rows from one <table>…</table> fragment. A row is
// a header row when it contains a <th> cell or sits inside <thead>.
// Nested tables are flattened into the text of the enclosing cell.
func parseHTMLTable(fragment string) *Table {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), ctx)
	if err != nil {
		return &Table{}
	}

	t := &Table{}
	var walk func(n *html.Node, inHead bool)
	walk = func(n *html.Node, inHead bool) {
		if n.Type != html.ElementNode {
			return
		}
		switch n.DataAtom {
		case atom.Thead:
			inHead = true
		case atom.Tbody, atom.Tfoot:
			inHead = false
		case atom.Tr:
			cells, header := rowCells(n)
			if len(cells) == 0 {
				return
			}
			if header || inHead {
				t.HeaderRows = append(t.HeaderRows, len(t.Rows))
			}
			t.Rows = append(t.Rows, cells)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inHead)
		}
	}
	for _, n := range nodes {
		walk(n, false)
	}
	return t
}

func rowCells(tr *html.Node) ([]string, bool) {
	var cells []string
	header := false
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.Th:
			header = true
			cells = append(cells, nodeText(c))
		case atom.Td:
			cells = append(cells, nodeText(c))
		}
	}
	return cells, header
}

// nodeText concatenates descendant text with runs of whitespace collapsed.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
		case html.ElementNode:
			if n.DataAtom == atom.Br {
				sb.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && (n.DataAtom == atom.P || n.DataAtom == atom.Div) {
			sb.WriteByte(' ')
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
