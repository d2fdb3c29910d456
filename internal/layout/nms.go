package layout

import (
	"slices"

	"github.com/MeKo-Tech/folio/internal/mempool"
	"github.com/MeKo-Tech/folio/internal/utils"
)

// NonMaxSuppression removes lower-scored detections that overlap a kept
// detection by more than iouThreshold. With classAware set, only detections
// sharing a label suppress each other. Output is ordered by descending score.
func NonMaxSuppression(regions []RawRegion, iouThreshold float64, classAware bool) []RawRegion {
	if len(regions) <= 1 {
		return slices.Clone(regions)
	}

	order := make([]int, len(regions))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case regions[a].Score > regions[b].Score:
			return -1
		case regions[a].Score < regions[b].Score:
			return 1
		default:
			return 0
		}
	})

	suppressed := mempool.GetBool(len(regions))
	defer mempool.PutBool(suppressed)
	kept := make([]RawRegion, 0, len(regions))
	for i, a := range order {
		if suppressed[a] {
			continue
		}
		kept = append(kept, regions[a])
		boxA := regions[a].Box()
		for _, b := range order[i+1:] {
			if suppressed[b] {
				continue
			}
			if classAware && regions[a].Label != regions[b].Label {
				continue
			}
			if utils.IoU(boxA, regions[b].Box()) > iouThreshold {
				suppressed[b] = true
			}
		}
	}
	return kept
}
