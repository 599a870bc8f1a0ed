package match

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// findLandmark performs an approximate substring search for a textual
// landmark, tolerant of the character substitutions and truncation a
// noisy extraction produces. It slides a window the length of the
// landmark over the text and accepts the closest window within the
// edit-distance budget. The budget is scaled down for short landmarks
// so that a four-letter anchor cannot match arbitrary text.
//
// Returns the start and end offsets of the matched window.
func findLandmark(text, landmark string, tolerance int) (start, end int, ok bool) {
	n := len(landmark)
	if n == 0 || len(text) < n {
		return 0, 0, false
	}

	budget := tolerance
	if scaled := n / 4; scaled < budget {
		budget = scaled
	}

	// Exact search first; the common case costs nothing.
	if idx := strings.Index(text, landmark); idx >= 0 {
		return idx, idx + n, true
	}
	if budget == 0 {
		return 0, 0, false
	}

	bestDist := budget + 1
	bestStart := -1
	for i := 0; i+n <= len(text); i++ {
		d := levenshtein.ComputeDistance(text[i:i+n], landmark)
		if d < bestDist {
			bestDist = d
			bestStart = i
			if d == 0 {
				break
			}
		}
	}

	if bestStart < 0 || bestDist > budget {
		return 0, 0, false
	}
	return bestStart, bestStart + n, true
}
