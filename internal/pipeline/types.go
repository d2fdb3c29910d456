package pipeline

import (
	"github.com/MeKo-Tech/folio/internal/layout"
)

// Mode identifies which OCR path produced a page outcome.
type Mode string

const (
	// ModeRegions means the layout detector found usable regions.
	ModeRegions Mode = "regions"
	// ModeFallback means the page was cut into horizontal chunks.
	ModeFallback Mode = "fallback"
	// ModeText means the page text came from an embedded PDF text layer.
	ModeText Mode = "text"
)

// State is a step of the per-page state machine.
type State int

const (
	StateDetecting State = iota
	StateRegionOCR
	StateFallbackSplitOCR
	StateStitched
	StateDone
)

func (s State) String() string {
	switch s {
	case StateDetecting:
		return "detecting"
	case StateRegionOCR:
		return "region_ocr"
	case StateFallbackSplitOCR:
		return "fallback_split_ocr"
	case StateStitched:
		return "stitched"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// OcrRegionResult is the recognized text of one region or fallback chunk.
// Label is empty for fallback chunks. Error is only set in lenient mode.
type OcrRegionResult struct {
	Index int         `json:"index"`
	Label string      `json:"label,omitempty"`
	BBox  layout.BBox `json:"bbox"`
	Text  string      `json:"text"`
	Error string      `json:"error,omitempty"`
}

// PageOcrOutcome is the per-page OCR output.
type PageOcrOutcome struct {
	CombinedText string            `json:"combined_text"`
	Regions      []OcrRegionResult `json:"regions"`
	Mode         Mode              `json:"mode"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	Processing   struct {
		DetectionNs int64 `json:"detection_ns"`
		OCRNs       int64 `json:"ocr_ns"`
		TotalNs     int64 `json:"total_ns"`
	} `json:"processing"`
}

// Failed reports how many units carry an error.
func (o *PageOcrOutcome) Failed() int {
	if o == nil {
		return 0
	}
	n := 0
	for _, r := range o.Regions {
		if r.Error != "" {
			n++
		}
	}
	return n
}

// PageInput names one page of a document for batch processing.
type PageInput struct {
	Number    int    `json:"number"`
	ImagePath string `json:"image_path"`
}

// PageResult is the batch outcome for one page. Exactly one of Outcome
// and Err describes the page, except for partial failures where both are set.
type PageResult struct {
	Number  int             `json:"number"`
	Outcome *PageOcrOutcome `json:"outcome,omitempty"`
	Err     error           `json:"-"`
}

// DocumentInput is one document of a multi-document batch.
type DocumentInput struct {
	ID    string      `json:"id"`
	Pages []PageInput `json:"pages"`
}

// DocumentResult holds the page results of one document, in page order.
type DocumentResult struct {
	ID    string       `json:"id"`
	Pages []PageResult `json:"pages"`
	Err   error        `json:"-"`
}
