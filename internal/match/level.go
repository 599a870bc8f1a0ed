package match

import (
	"strconv"
	"strings"

	"telegram-rank-bot/internal/model"
)

// ExtractLevel locates the level number in raw OCR-like text. The
// search is anchored: only the region following the primary landmark
// is scanned, falling back to the region immediately preceding the
// secondary landmark when the primary cannot be located. Returns
// LevelUnknown when no plausible level is found.
func ExtractLevel(text string, p Params) int {
	lower := strings.ToLower(text)

	var region string
	if _, end, ok := findLandmark(lower, strings.ToLower(p.PrimaryLandmark), p.LandmarkTolerance); ok {
		region = window(lower, end, p.RegionWindow)
	} else if start, _, ok := findLandmark(lower, strings.ToLower(p.SecondaryLandmark), p.LandmarkTolerance); ok {
		from := start - p.RegionWindow
		if from < 0 {
			from = 0
		}
		region = lower[from:start]
	} else {
		return model.LevelUnknown
	}

	return scanLevel(region, p)
}

// scanLevel walks the digit runs of the region in order and returns
// the first one that passes every exclusion rule.
func scanLevel(region string, p Params) int {
	for i := 0; i < len(region); i++ {
		if !isDigit(region[i]) {
			continue
		}
		j := i
		for j < len(region) && isDigit(region[j]) {
			j++
		}
		run := region[i:j]

		if ok := admissibleLevel(region, i, j, run, p); ok {
			n, err := strconv.Atoi(run)
			if err == nil && n > 0 {
				return n
			}
		}
		i = j
	}
	return model.LevelUnknown
}

// admissibleLevel applies the exclusion rules to a digit run at
// region[start:end]:
//   - very long runs are identifiers, never levels
//   - length outside the configured digit window
//   - runs adjacent to '/' belong to ratio-like patterns (e.g. 3/10)
//   - runs whose neighboring word is a known unrelated statistic
func admissibleLevel(region string, start, end int, run string, p Params) bool {
	if len(run) >= p.LongDigitRun {
		return false
	}
	if len(run) < p.MinLevelDigits || len(run) > p.MaxLevelDigits {
		return false
	}
	if adjacentRune(region, start, end) == '/' {
		return false
	}

	before := prevWord(region, start)
	after, afterEnd := nextWord(region, end)
	for _, kw := range p.StatKeywords {
		if before == kw {
			return false
		}
		// A trailing keyword introducing its own number labels that
		// number, not this run ("142 wins 9" keeps 142).
		if after == kw && !digitsFollow(region, afterEnd) {
			return false
		}
	}
	return true
}

// adjacentRune returns the nearest non-space character on either side
// of region[start:end], preferring the one that is a slash.
func adjacentRune(region string, start, end int) byte {
	for i := start - 1; i >= 0; i-- {
		if region[i] == ' ' {
			continue
		}
		if region[i] == '/' {
			return '/'
		}
		break
	}
	for i := end; i < len(region); i++ {
		if region[i] == ' ' {
			continue
		}
		if region[i] == '/' {
			return '/'
		}
		break
	}
	return 0
}

// prevWord returns the alphabetic word immediately before position i.
func prevWord(s string, i int) string {
	j := i
	for j > 0 && !isAlpha(s[j-1]) {
		j--
	}
	k := j
	for k > 0 && isAlpha(s[k-1]) {
		k--
	}
	return s[k:j]
}

// nextWord returns the alphabetic word immediately after position i
// and the index just past it.
func nextWord(s string, i int) (string, int) {
	j := i
	for j < len(s) && !isAlpha(s[j]) {
		// Stop at another digit run: that is a separate number, not
		// a label for this one.
		if isDigit(s[j]) {
			return "", j
		}
		j++
	}
	k := j
	for k < len(s) && isAlpha(s[k]) {
		k++
	}
	return s[j:k], k
}

// digitsFollow reports whether the next token after position i starts
// with a digit.
func digitsFollow(s string, i int) bool {
	for ; i < len(s); i++ {
		if isDigit(s[i]) {
			return true
		}
		if isAlpha(s[i]) {
			return false
		}
	}
	return false
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
