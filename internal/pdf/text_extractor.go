package pdf

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/dslipak/pdf"
)

// DefaultTextQuality is the minimum score for embedded text to replace OCR.
const DefaultTextQuality = 0.7

// TextExtraction is the embedded (vector) text of one PDF page.
type TextExtraction struct {
	PageNumber int     `json:"page_number"`
	Text       string  `json:"text"`
	WordCount  int     `json:"word_count"`
	Score      float64 `json:"score"`
}

// Acceptable reports whether the text is good enough to use instead of OCR.
func (t *TextExtraction) Acceptable(threshold float64) bool {
	return t != nil && t.Score >= threshold
}

// ExtractText reads embedded text from the selected pages. Pages that cannot
// be read are left out of the result.
func ExtractText(filename string, pageRange string) (result map[int]*TextExtraction, err error) {
	pageNumbers, err := parsePageRange(pageRange)
	if err != nil {
		return nil, fmt.Errorf("invalid page range %q: %w", pageRange, err)
	}

	// The reader panics on some malformed content streams.
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("failed to read PDF %q: %v", filename, r)
		}
	}()

	reader, err := pdf.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF %q: %w", filename, err)
	}

	total := reader.NumPage()
	if len(pageNumbers) == 0 {
		for i := 1; i <= total; i++ {
			pageNumbers = append(pageNumbers, i)
		}
	}

	result = make(map[int]*TextExtraction)
	for _, n := range pageNumbers {
		if n < 1 || n > total {
			continue
		}
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		text := pageText(page)
		result[n] = &TextExtraction{
			PageNumber: n,
			Text:       text,
			WordCount:  len(strings.Fields(text)),
			Score:      textScore(text),
		}
	}
	return result, nil
}

func pageText(page pdf.Page) string {
	var sb strings.Builder
	rows, err := page.GetTextByRow()
	if err == nil && len(rows) > 0 {
		for _, row := range rows {
			words := make([]string, 0, len(row.Content))
			for _, t := range row.Content {
				words = append(words, t.S)
			}
			sb.WriteString(strings.Join(words, " "))
			sb.WriteString("\n")
		}
		return strings.TrimSpace(sb.String())
	}

	plain, err := page.GetPlainText(make(map[string]*pdf.Font))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(plain)
}

// textScore rates extracted text between 0 and 1. Scans with an invisible
// junk text layer score low.
func textScore(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	score := 0.4
	if len([]rune(text)) > 40 {
		score += 0.3
	}
	if len(strings.Fields(text)) > 5 {
		score += 0.2
	}
	if letterRatio(text) >= 0.5 {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

func letterRatio(text string) float64 {
	var letters, total int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			letters++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(letters) / float64(total)
}
