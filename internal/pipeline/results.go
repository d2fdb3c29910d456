package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ToJSONOutcome serializes a page outcome to pretty JSON.
func ToJSONOutcome(res *PageOcrOutcome) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type pageJSON struct {
	Number  int             `json:"number"`
	Outcome *PageOcrOutcome `json:"outcome,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ToJSONPages serializes batch page results, rendering errors as strings.
func ToJSONPages(results []PageResult) (string, error) {
	out := make([]pageJSON, 0, len(results))
	for _, r := range results {
		p := pageJSON{Number: r.Number, Outcome: r.Outcome}
		if r.Err != nil {
			p.Error = r.Err.Error()
		}
		out = append(out, p)
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToPlainTextPages renders page texts separated by page markers.
func ToPlainTextPages(results []PageResult) string {
	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "--- page %d ---\n", r.Number)
		switch {
		case r.Outcome != nil:
			sb.WriteString(r.Outcome.CombinedText)
			if r.Err != nil {
				fmt.Fprintf(&sb, "\n[warning: %v]", r.Err)
			}
		case r.Err != nil:
			fmt.Fprintf(&sb, "[error: %v]", r.Err)
		}
	}
	return sb.String()
}

// ValidateOutcome performs simple consistency checks on a page outcome.
func ValidateOutcome(res *PageOcrOutcome) error {
	if res == nil {
		return errors.New("nil result")
	}
	if res.Width <= 0 || res.Height <= 0 {
		return fmt.Errorf("invalid image size %dx%d", res.Width, res.Height)
	}
	for i, r := range res.Regions {
		if r.Index != i {
			return fmt.Errorf("region %d has index %d", i, r.Index)
		}
		b := r.BBox
		if b.X1 < 0 || b.Y1 < 0 || b.X2 > res.Width || b.Y2 > res.Height || b.X1 >= b.X2 || b.Y1 >= b.Y2 {
			return fmt.Errorf("region %d has invalid box %+v", i, b)
		}
	}
	return nil
}
