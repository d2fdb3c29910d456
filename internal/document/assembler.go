package document

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// DefaultTitle is used for multi-page exports without an explicit title.
const DefaultTitle = "Untitled"

var hexColorRe = regexp.MustCompile(`^[0-9A-Fa-f]{6}$`)

// ExportStyle holds the styling handed to the serializer.
type ExportStyle struct {
	LatinFont    string  `mapstructure:"latin_font" yaml:"latin_font" json:"latin_font"`
	EastAsiaFont string  `mapstructure:"east_asia_font" yaml:"east_asia_font" json:"east_asia_font"`
	BodySize     float64 `mapstructure:"body_size" yaml:"body_size" json:"body_size"`
	FooterSize   float64 `mapstructure:"footer_size" yaml:"footer_size" json:"footer_size"`
	// FooterColor is an RRGGBB hex string.
	FooterColor string `mapstructure:"footer_color" yaml:"footer_color" json:"footer_color"`
}

// DefaultExportStyle returns the built-in styling.
func DefaultExportStyle() ExportStyle {
	return ExportStyle{
		LatinFont:    "Times New Roman",
		EastAsiaFont: "SimSun",
		BodySize:     11,
		FooterSize:   9,
		FooterColor:  "808080",
	}
}

// Validate checks the style values.
func (s ExportStyle) Validate() error {
	if strings.TrimSpace(s.LatinFont) == "" || strings.TrimSpace(s.EastAsiaFont) == "" {
		return fmt.Errorf("font families must not be empty")
	}
	if s.BodySize <= 0 || s.FooterSize <= 0 {
		return fmt.Errorf("font sizes must be positive, got body=%.1f footer=%.1f", s.BodySize, s.FooterSize)
	}
	if !hexColorRe.MatchString(s.FooterColor) {
		return fmt.Errorf("footer color %q is not an RRGGBB hex value", s.FooterColor)
	}
	return nil
}

// PageExportInput is one OCR'd page to export. Number is the page's
// original number and is shown verbatim in its footer.
type PageExportInput struct {
	PageNumber int    `json:"page_number"`
	RawText    string `json:"raw_text"`
}

// Alignment of a paragraph block.
type Alignment string

const (
	AlignLeft   Alignment = "left"
	AlignCenter Alignment = "center"
)

// Run is a styled piece of paragraph text. Zero Size and empty Color mean
// the document defaults.
type Run struct {
	Text   string  `json:"text"`
	Bold   bool    `json:"bold,omitempty"`
	Italic bool    `json:"italic,omitempty"`
	Size   float64 `json:"size,omitempty"`
	Color  string  `json:"color,omitempty"`
}

// Block is one output block: *HeadingBlock, *ParagraphBlock or *TableBlock.
type Block interface {
	block()
}

// HeadingBlock is a heading of level 1 to 3.
type HeadingBlock struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// ParagraphBlock is a sequence of runs.
type ParagraphBlock struct {
	Runs  []Run     `json:"runs"`
	Align Alignment `json:"align"`
}

// TableRow is one grid row, padded to the table's column count.
type TableRow struct {
	Cells []string `json:"cells"`
	Bold  bool     `json:"bold,omitempty"`
}

// TableBlock is a grid with a fixed column count.
type TableBlock struct {
	Columns int        `json:"columns"`
	Rows    []TableRow `json:"rows"`
}

func (*HeadingBlock) block()   {}
func (*ParagraphBlock) block() {}
func (*TableBlock) block()     {}

// Section holds the content of one source page.
type Section struct {
	PageNumber  int             `json:"page_number"`
	Elements    []Element       `json:"-"`
	Blocks      []Block         `json:"-"`
	BreakBefore bool            `json:"break_before"`
	Footer      *ParagraphBlock `json:"footer,omitempty"`
}

// AssembledDocument is the in-memory document handed to a Serializer.
type AssembledDocument struct {
	Title           string      `json:"title"`
	HasTitleHeading bool        `json:"has_title_heading"`
	Style           ExportStyle `json:"style"`
	Sections        []Section   `json:"sections"`
}

// Serializer writes an assembled document in a concrete file format.
type Serializer interface {
	Serialize(w io.Writer, doc *AssembledDocument) error
	// ContentType is the MIME type of the produced bytes.
	ContentType() string
	// Extension is the file extension including the dot.
	Extension() string
}

// Assembler builds documents with a fixed style.
type Assembler struct {
	style ExportStyle
}

// NewAssembler validates the style and returns an assembler.
func NewAssembler(style ExportStyle) (*Assembler, error) {
	if err := style.Validate(); err != nil {
		return nil, fmt.Errorf("invalid export style: %w", err)
	}
	return &Assembler{style: style}, nil
}

// Build parses every page and lays the result out as sections. Multi-page
// documents get a title heading, a break before every section after the
// first and a centered footer carrying the page number.
func (a *Assembler) Build(title string, pages []PageExportInput) *AssembledDocument {
	doc := &AssembledDocument{Title: strings.TrimSpace(title), Style: a.style}
	multi := len(pages) > 1
	if multi {
		doc.HasTitleHeading = true
		if doc.Title == "" {
			doc.Title = DefaultTitle
		}
	}

	for i, p := range pages {
		elements := Parse(p.RawText)
		sec := Section{
			PageNumber:  p.PageNumber,
			Elements:    elements,
			Blocks:      toBlocks(elements),
			BreakBefore: multi && i > 0,
		}
		if multi {
			sec.Footer = a.footer(p.PageNumber)
		}
		doc.Sections = append(doc.Sections, sec)
	}
	return doc
}

func (a *Assembler) footer(page int) *ParagraphBlock {
	return &ParagraphBlock{
		Align: AlignCenter,
		Runs: []Run{{
			Text:  strconv.Itoa(page),
			Size:  a.style.FooterSize,
			Color: a.style.FooterColor,
		}},
	}
}

func toBlocks(elements []Element) []Block {
	blocks := make([]Block, 0, len(elements))
	for _, el := range elements {
		switch e := el.(type) {
		case *Heading:
			blocks = append(blocks, &HeadingBlock{Level: e.Level, Text: e.Text})
		case *Paragraph:
			runs := make([]Run, 0, len(e.Spans))
			for _, s := range e.Spans {
				runs = append(runs, Run{Text: s.Text, Bold: s.Style.Bold, Italic: s.Style.Italic})
			}
			blocks = append(blocks, &ParagraphBlock{Runs: runs, Align: AlignLeft})
		case *Table:
			blocks = append(blocks, tableBlock(e))
		}
	}
	return blocks
}

func tableBlock(t *Table) *TableBlock {
	cols := t.Columns()
	tb := &TableBlock{Columns: cols, Rows: make([]TableRow, 0, len(t.Rows))}
	for i, r := range t.Rows {
		cells := make([]string, cols)
		copy(cells, r)
		tb.Rows = append(tb.Rows, TableRow{Cells: cells, Bold: t.IsHeader(i)})
	}
	return tb
}

// BuildExportDocument assembles pages with the default style.
func BuildExportDocument(title string, pages []PageExportInput) *AssembledDocument {
	a := &Assembler{style: DefaultExportStyle()}
	return a.Build(title, pages)
}
