// Package match implements the rank-matching algorithm: approximate
// landmark anchoring over OCR-like text, level extraction with
// exclusion rules, fuzzy rank-name matching, and level-range
// cross-validation. Everything here is pure and side-effect free.
//
// The constants in Params are empirically tuned against the game's
// profile screen layout. They are best-effort against noisy input,
// which is why they are parameters and not literals.
package match

import (
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"

	"telegram-rank-bot/internal/model"
)

// Params holds the tunable matching constants.
type Params struct {
	// PrimaryLandmark marks the profile region that carries the level
	// and rank. Matching is tolerant of character substitutions and
	// truncation up to LandmarkTolerance edits (scaled down for short
	// landmarks).
	PrimaryLandmark string
	// SecondaryLandmark is the fallback anchor: when the primary
	// landmark is missing, the level is searched in the region
	// immediately preceding it.
	SecondaryLandmark string
	LandmarkTolerance int

	// FuzzyCutoff is the minimum normalized edit-distance similarity
	// accepted for a rank-name match.
	FuzzyCutoff float64

	// Level digit-run bounds: runs shorter than MinLevelDigits or
	// longer than MaxLevelDigits are never levels, and runs of
	// LongDigitRun or more digits are ids, not levels.
	MinLevelDigits int
	MaxLevelDigits int
	LongDigitRun   int

	// StatKeywords name unrelated statistics whose adjacent numbers
	// must not be mistaken for the level.
	StatKeywords []string

	// RegionWindow bounds how far past (or before) a landmark the
	// search extends, in bytes.
	RegionWindow int
}

// DefaultParams returns the tuning used in production.
func DefaultParams() Params {
	return Params{
		PrimaryLandmark:   "level progress",
		SecondaryLandmark: "rank",
		LandmarkTolerance: 3,
		FuzzyCutoff:       0.6,
		MinLevelDigits:    1,
		MaxLevelDigits:    4,
		LongDigitRun:      6,
		StatKeywords: []string{
			"wins", "losses", "kills", "deaths", "matches",
			"score", "xp", "kd", "games", "trophies",
		},
		RegionWindow: 160,
	}
}

// Match is a successful rank determination. Level is LevelUnknown
// when no level consistent with the chosen rank was found.
type Match struct {
	Rank       model.RankDefinition
	Confidence float64
	Level      int
}

// rankLabelPattern matches an explicit "rank: value" sub-pattern
// inside the anchored region.
var rankLabelPattern = regexp.MustCompile(`rank\s*[:：]\s*([a-z0-9][a-z0-9 ]*)`)

// MatchRank runs the full algorithm over raw OCR-like text: level
// extraction, anchored rank-name matching, and cross-validation.
// It returns nil when no signal clears its threshold; it never falls
// back to a default rank.
func MatchRank(text string, ranks []model.RankDefinition, p Params) *Match {
	if text == "" || len(ranks) == 0 {
		return nil
	}

	level := ExtractLevel(text, p)
	nameMatch := matchNameInText(text, ranks, p)
	return combine(nameMatch, level, ranks)
}

// MatchRankName matches a pre-isolated rank-name hint directly
// against the taxonomy, skipping region and level anchoring. Used
// when the extractor already produced a clean name field.
func MatchRankName(name string, ranks []model.RankDefinition, p Params) *Match {
	candidate := normalize(name)
	if candidate == "" {
		return nil
	}

	best := bestRank(candidate, ranks, p)
	if best == nil {
		return nil
	}
	best.Level = model.LevelUnknown
	return best
}

// MatchProfile matches an extracted profile: the rank-name hint (when
// present) cross-validated against the level-range lookup.
func MatchProfile(profile model.ExtractedProfile, ranks []model.RankDefinition, p Params) *Match {
	var nameMatch *Match
	if profile.RankName != model.Unknown {
		nameMatch = MatchRankName(profile.RankName, ranks, p)
	}
	return combine(nameMatch, profile.Level, ranks)
}

// RankForLevel returns the unique rank whose range contains level, or
// nil. Ranges are expected to be non-overlapping; the first match in
// taxonomy order wins.
func RankForLevel(level int, ranks []model.RankDefinition) *model.RankDefinition {
	if level <= 0 {
		return nil
	}
	for i := range ranks {
		if ranks[i].ContainsLevel(level) {
			return &ranks[i]
		}
	}
	return nil
}

// combine applies the cross-validation rules:
//   - name and level-range signals agree: confidence raised to >= 0.9
//   - name signal only: its own score stands
//   - level-range signal only: fixed 0.8, ranges are authoritative
//   - neither: no match
//
// The level is attached to the result only when it falls inside the
// chosen rank's own range; otherwise it is dropped so the result
// never reports a level inconsistent with the rank it returns.
func combine(nameMatch *Match, level int, ranks []model.RankDefinition) *Match {
	levelRank := RankForLevel(level, ranks)

	var out Match
	switch {
	case nameMatch != nil && levelRank != nil && nameMatch.Rank.Token == levelRank.Token:
		out = Match{Rank: nameMatch.Rank, Confidence: nameMatch.Confidence}
		if out.Confidence < 0.9 {
			out.Confidence = 0.9
		}
	case nameMatch != nil:
		out = Match{Rank: nameMatch.Rank, Confidence: nameMatch.Confidence}
	case levelRank != nil:
		out = Match{Rank: *levelRank, Confidence: 0.8}
	default:
		return nil
	}

	out.Level = model.LevelUnknown
	if level > 0 && out.Rank.ContainsLevel(level) {
		out.Level = level
	}
	return &out
}

// matchNameInText extracts the rank-name candidate from the anchored
// region and matches it against the taxonomy. An explicit
// "rank: value" sub-pattern is preferred; otherwise every window of
// the region is tried.
func matchNameInText(text string, ranks []model.RankDefinition, p Params) *Match {
	lower := strings.ToLower(text)
	region := lower
	if _, end, ok := findLandmark(lower, strings.ToLower(p.PrimaryLandmark), p.LandmarkTolerance); ok {
		region = window(lower, end, p.RegionWindow)
	}

	if m := rankLabelPattern.FindStringSubmatch(region); m != nil {
		if best := bestRank(normalize(m[1]), ranks, p); best != nil {
			best.Level = model.LevelUnknown
			return best
		}
	}

	return bestRankInRegion(normalize(region), ranks, p)
}

// bestRank scores a single candidate string against every taxonomy
// entry, keeping the best score. Both inputs must be normalized.
func bestRank(candidate string, ranks []model.RankDefinition, p Params) *Match {
	var best *Match
	for i := range ranks {
		score := similarityScore(candidate, normalize(ranks[i].DisplayName))
		if score < p.FuzzyCutoff {
			continue
		}
		if best == nil || score > best.Confidence {
			best = &Match{Rank: ranks[i], Confidence: score}
		}
	}
	return best
}

// bestRankInRegion matches taxonomy entries against a normalized
// region without an isolated candidate: exact substring first, then
// fuzzy comparison against token windows of each entry's length.
func bestRankInRegion(region string, ranks []model.RankDefinition, p Params) *Match {
	if region == "" {
		return nil
	}

	var best *Match
	tokens := strings.Fields(region)

	for i := range ranks {
		name := normalize(ranks[i].DisplayName)
		if name == "" {
			continue
		}

		var score float64
		if strings.Contains(region, name) {
			score = 1.0
		} else {
			k := len(strings.Fields(name))
			for j := 0; j+k <= len(tokens); j++ {
				w := strings.Join(tokens[j:j+k], " ")
				if s := similarityScore(w, name); s > score {
					score = s
				}
			}
		}

		if score < p.FuzzyCutoff {
			continue
		}
		if best == nil || score > best.Confidence {
			best = &Match{Rank: ranks[i], Confidence: score, Level: model.LevelUnknown}
		}
	}
	return best
}

// similarityScore applies the matching precedence to two normalized
// strings: exact match 1.0, containment either direction 0.95,
// otherwise normalized edit-distance similarity.
func similarityScore(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.95
	}
	return similarity(a, b)
}

// similarity is 1 - levenshtein(a,b) / max(len(a), len(b)), over runes.
func similarity(a, b string) float64 {
	dist := levenshtein.ComputeDistance(a, b)
	la, lb := len([]rune(a)), len([]rune(b))
	max := la
	if lb > max {
		max = lb
	}
	if max == 0 {
		return 0
	}
	return 1.0 - float64(dist)/float64(max)
}

// normalize lowercases, strips punctuation, and collapses whitespace.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// window returns at most n bytes of s starting at offset.
func window(s string, offset, n int) string {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(s) {
		return ""
	}
	end := offset + n
	if end > len(s) {
		end = len(s)
	}
	return s[offset:end]
}
