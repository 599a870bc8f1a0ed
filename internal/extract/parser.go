package extract

import (
	"encoding/json"
	"strconv"
	"strings"

	"telegram-rank-bot/internal/model"
)

// parseProfile turns the raw model response into an ExtractedProfile.
// The response is untrusted: it may arrive wrapped in code fences,
// with numbers as strings, or with fields missing entirely. Anything
// that does not type-check cleanly degrades to the UNKNOWN sentinel
// for that field; a response that cannot be parsed at all degrades to
// an all-UNKNOWN profile.
func parseProfile(raw string) model.ExtractedProfile {
	profile := unknownProfile()

	cleaned := stripCodeFence(raw)
	if cleaned == "" {
		return profile
	}

	var fields struct {
		Level    any `json:"level"`
		Rank     any `json:"rank"`
		UniqueID any `json:"uniqueId"`
	}
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		return profile
	}

	profile.Level = coerceLevel(fields.Level)
	profile.RankName = coerceString(fields.Rank)
	profile.UniqueID = coerceUniqueID(fields.UniqueID)
	return profile
}

func unknownProfile() model.ExtractedProfile {
	return model.ExtractedProfile{
		Level:    model.LevelUnknown,
		RankName: model.Unknown,
		UniqueID: model.Unknown,
	}
}

// stripCodeFence removes a surrounding markdown code fence, with or
// without a language tag, and trims whitespace.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	// Drop a language tag such as "json" on the fence line.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		first := strings.TrimSpace(s[:idx])
		if first == "" || !strings.ContainsAny(first, "{[") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// coerceLevel accepts a positive integer in numeric or string form.
// Non-positive, fractional, and non-numeric values are UNKNOWN.
func coerceLevel(v any) int {
	switch lv := v.(type) {
	case float64:
		n := int(lv)
		if float64(n) != lv || n <= 0 {
			return model.LevelUnknown
		}
		return n
	case string:
		s := strings.TrimSpace(lv)
		if s == "" || strings.EqualFold(s, model.Unknown) {
			return model.LevelUnknown
		}
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return model.LevelUnknown
		}
		return n
	default:
		return model.LevelUnknown
	}
}

// coerceString accepts a non-empty string; anything else is UNKNOWN.
func coerceString(v any) string {
	s, ok := v.(string)
	if !ok {
		return model.Unknown
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, model.Unknown) {
		return model.Unknown
	}
	return s
}

// coerceUniqueID accepts a delimited numeric identifier such as
// "123-456-789-0". Only digits and delimiters may appear, and at
// least one digit is required.
func coerceUniqueID(v any) string {
	s := coerceString(v)
	if s == model.Unknown {
		return s
	}

	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '-' || r == ' ' || r == '.':
			// Delimiters the game renders between id groups.
		default:
			return model.Unknown
		}
	}
	if digits == 0 {
		return model.Unknown
	}
	return s
}
