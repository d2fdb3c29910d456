package docx

import (
	"fmt"
	"strings"

	"github.com/MeKo-Tech/folio/internal/document"
)

func stylesXML(st document.ExportStyle) string {
	fonts := fmt.Sprintf(`<w:rFonts w:ascii="%[1]s" w:hAnsi="%[1]s" w:cs="%[1]s" w:eastAsia="%[2]s"/>`,
		escapeAttr(st.LatinFont), escapeAttr(st.EastAsiaFont))
	body := halfPoints(st.BodySize)

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	sb.WriteString(`<w:styles xmlns:w="` + nsW + `">`)
	fmt.Fprintf(&sb, `<w:docDefaults><w:rPrDefault><w:rPr>%s<w:sz w:val="%d"/><w:szCs w:val="%d"/></w:rPr></w:rPrDefault>`+
		`<w:pPrDefault><w:pPr><w:spacing w:after="120"/></w:pPr></w:pPrDefault></w:docDefaults>`, fonts, body, body)
	sb.WriteString(`<w:style w:type="paragraph" w:default="1" w:styleId="Normal"><w:name w:val="Normal"/></w:style>`)
	fmt.Fprintf(&sb, `<w:style w:type="paragraph" w:styleId="Title"><w:name w:val="Title"/><w:basedOn w:val="Normal"/>`+
		`<w:pPr><w:jc w:val="center"/><w:spacing w:after="240"/></w:pPr><w:rPr><w:b/><w:sz w:val="%d"/></w:rPr></w:style>`,
		halfPoints(st.BodySize*2.5))
	for level, scale := range []float64{2, 1.6, 1.3} {
		fmt.Fprintf(&sb, `<w:style w:type="paragraph" w:styleId="Heading%[1]d"><w:name w:val="heading %[1]d"/>`+
			`<w:basedOn w:val="Normal"/><w:next w:val="Normal"/>`+
			`<w:pPr><w:keepNext/><w:spacing w:before="240" w:after="120"/><w:outlineLvl w:val="%[2]d"/></w:pPr>`+
			`<w:rPr><w:b/><w:sz w:val="%[3]d"/></w:rPr></w:style>`,
			level+1, level, halfPoints(st.BodySize*scale))
	}
	sb.WriteString(`<w:style w:type="paragraph" w:styleId="Footer"><w:name w:val="footer"/><w:basedOn w:val="Normal"/></w:style>`)
	sb.WriteString(`<w:style w:type="table" w:styleId="TableGrid"><w:name w:val="Table Grid"/><w:tblPr><w:tblBorders>`)
	for _, side := range []string{"top", "left", "bottom", "right", "insideH", "insideV"} {
		fmt.Fprintf(&sb, `<w:%s w:val="single" w:sz="4" w:space="0" w:color="auto"/>`, side)
	}
	sb.WriteString(`</w:tblBorders></w:tblPr></w:style>`)
	sb.WriteString(`</w:styles>`)
	return sb.String()
}

func documentXML(doc *document.AssembledDocument, footers []footerPart) string {
	footerFor := make(map[int]string, len(footers))
	for _, f := range footers {
		footerFor[f.section] = f.relID
	}

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	sb.WriteString(`<w:document xmlns:w="` + nsW + `" xmlns:r="` + nsR + `"><w:body>`)

	if doc.HasTitleHeading {
		sb.WriteString(`<w:p><w:pPr><w:pStyle w:val="Title"/></w:pPr>`)
		writeRun(&sb, document.Run{Text: doc.Title})
		sb.WriteString(`</w:p>`)
	}

	for i, sec := range doc.Sections {
		for _, b := range sec.Blocks {
			writeBlock(&sb, b)
		}
		sectPr := sectionProperties(footerFor[i])
		if i < len(doc.Sections)-1 {
			// A section ends with the paragraph that carries its properties;
			// the next one starts on a new page.
			sb.WriteString(`<w:p><w:pPr>` + sectPr + `</w:pPr></w:p>`)
		} else {
			sb.WriteString(sectPr)
		}
	}
	if len(doc.Sections) == 0 {
		sb.WriteString(sectionProperties(""))
	}

	sb.WriteString(`</w:body></w:document>`)
	return sb.String()
}

func sectionProperties(footerRel string) string {
	var sb strings.Builder
	sb.WriteString(`<w:sectPr>`)
	if footerRel != "" {
		fmt.Fprintf(&sb, `<w:footerReference w:type="default" r:id="%s"/>`, footerRel)
	}
	sb.WriteString(`<w:type w:val="nextPage"/>`)
	fmt.Fprintf(&sb, `<w:pgSz w:w="%d" w:h="%d"/>`, pageWidth, pageHeight)
	fmt.Fprintf(&sb, `<w:pgMar w:top="%[1]d" w:right="%[1]d" w:bottom="%[1]d" w:left="%[1]d" w:header="720" w:footer="720" w:gutter="0"/>`, pageMargin)
	sb.WriteString(`</w:sectPr>`)
	return sb.String()
}

func writeBlock(sb *strings.Builder, b document.Block) {
	switch blk := b.(type) {
	case *document.HeadingBlock:
		fmt.Fprintf(sb, `<w:p><w:pPr><w:pStyle w:val="Heading%d"/></w:pPr>`, clampLevel(blk.Level))
		writeRun(sb, document.Run{Text: blk.Text})
		sb.WriteString(`</w:p>`)
	case *document.ParagraphBlock:
		writeParagraph(sb, blk, "")
	case *document.TableBlock:
		writeTable(sb, blk)
	}
}

func clampLevel(level int) int {
	return min(max(level, 1), 3)
}

func writeParagraph(sb *strings.Builder, p *document.ParagraphBlock, style string) {
	sb.WriteString(`<w:p>`)
	if style != "" || p.Align == document.AlignCenter {
		sb.WriteString(`<w:pPr>`)
		if style != "" {
			fmt.Fprintf(sb, `<w:pStyle w:val="%s"/>`, style)
		}
		if p.Align == document.AlignCenter {
			sb.WriteString(`<w:jc w:val="center"/>`)
		}
		sb.WriteString(`</w:pPr>`)
	}
	for _, r := range p.Runs {
		writeRun(sb, r)
	}
	sb.WriteString(`</w:p>`)
}

func writeRun(sb *strings.Builder, r document.Run) {
	sb.WriteString(`<w:r>`)
	if r.Bold || r.Italic || r.Size > 0 || r.Color != "" {
		sb.WriteString(`<w:rPr>`)
		if r.Bold {
			sb.WriteString(`<w:b/>`)
		}
		if r.Italic {
			sb.WriteString(`<w:i/>`)
		}
		if r.Color != "" {
			fmt.Fprintf(sb, `<w:color w:val="%s"/>`, escapeAttr(r.Color))
		}
		if r.Size > 0 {
			fmt.Fprintf(sb, `<w:sz w:val="%[1]d"/><w:szCs w:val="%[1]d"/>`, halfPoints(r.Size))
		}
		sb.WriteString(`</w:rPr>`)
	}
	fmt.Fprintf(sb, `<w:t xml:space="preserve">%s</w:t></w:r>`, escape(r.Text))
}

func writeTable(sb *strings.Builder, t *document.TableBlock) {
	if t.Columns == 0 || len(t.Rows) == 0 {
		return
	}
	colWidth := contentWidth / t.Columns
	sb.WriteString(`<w:tbl><w:tblPr><w:tblStyle w:val="TableGrid"/><w:tblW w:w="0" w:type="auto"/></w:tblPr><w:tblGrid>`)
	for range t.Columns {
		fmt.Fprintf(sb, `<w:gridCol w:w="%d"/>`, colWidth)
	}
	sb.WriteString(`</w:tblGrid>`)
	for _, row := range t.Rows {
		sb.WriteString(`<w:tr>`)
		for _, cell := range row.Cells {
			fmt.Fprintf(sb, `<w:tc><w:tcPr><w:tcW w:w="%d" w:type="dxa"/></w:tcPr><w:p>`, colWidth)
			writeRun(sb, document.Run{Text: cell, Bold: row.Bold})
			sb.WriteString(`</w:p></w:tc>`)
		}
		sb.WriteString(`</w:tr>`)
	}
	sb.WriteString(`</w:tbl>`)
}

func footerXML(p *document.ParagraphBlock) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	sb.WriteString(`<w:ftr xmlns:w="` + nsW + `" xmlns:r="` + nsR + `">`)
	writeParagraph(&sb, p, "Footer")
	sb.WriteString(`</w:ftr>`)
	return sb.String()
}

// escapeAttr escapes attribute values; xml.EscapeText already covers quotes.
func escapeAttr(s string) string { return escape(s) }
