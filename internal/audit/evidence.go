package audit

import (
	"fmt"
	"strings"
	"time"

	"telegram-rank-bot/internal/model"
)

// Evidence is the human-readable audit artifact published for one
// verification outcome.
type Evidence struct {
	Identity   int64
	Status     model.VerificationStatus
	RankName   string
	Level      int
	UniqueID   string
	Confidence float64
	Duration   time.Duration
	Image      []byte // optional screenshot attachment
}

// Render produces the grouped evidence text published to the audit
// surface.
func (e Evidence) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Rank verification: %s\n", e.Status)
	fmt.Fprintf(&b, "Identity: %d\n", e.Identity)

	if e.RankName != "" {
		if e.Level > 0 {
			fmt.Fprintf(&b, "Rank: %s (level %d)\n", e.RankName, e.Level)
		} else {
			fmt.Fprintf(&b, "Rank: %s\n", e.RankName)
		}
	}

	if uid := FormatUniqueID(e.UniqueID); uid != "" {
		fmt.Fprintf(&b, "Unique ID: %s\n", uid)
	}

	if e.Confidence > 0 {
		fmt.Fprintf(&b, "Confidence: %.2f\n", e.Confidence)
	}

	fmt.Fprintf(&b, "Processing: %s", e.Duration.Round(time.Millisecond))
	return b.String()
}

// FormatUniqueID reformats a raw extracted identifier into the
// consistent 3-3-3 grouped form regardless of how the extractor
// delimited it. Unknown or empty ids return "".
func FormatUniqueID(raw string) string {
	if raw == "" || raw == model.Unknown {
		return ""
	}

	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	s := digits.String()
	if s == "" {
		return ""
	}

	var out strings.Builder
	for i, r := range s {
		if i > 0 && i%3 == 0 {
			out.WriteByte('-')
		}
		out.WriteRune(r)
	}
	return out.String()
}
