package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"telegram-rank-bot/internal/model"
)

func TestParseProfile(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want model.ExtractedProfile
	}{
		{
			name: "clean json",
			raw:  `{"level": 618, "rank": "Galactic Overlord", "uniqueId": "123-456-789-0"}`,
			want: model.ExtractedProfile{Level: 618, RankName: "Galactic Overlord", UniqueID: "123-456-789-0"},
		},
		{
			name: "fenced json with language tag",
			raw:  "```json\n{\"level\": 42, \"rank\": \"Rookie\", \"uniqueId\": \"111 222 333\"}\n```",
			want: model.ExtractedProfile{Level: 42, RankName: "Rookie", UniqueID: "111 222 333"},
		},
		{
			name: "fenced json without language tag",
			raw:  "```\n{\"level\": 42, \"rank\": \"Rookie\", \"uniqueId\": \"1.2.3\"}\n```",
			want: model.ExtractedProfile{Level: 42, RankName: "Rookie", UniqueID: "1.2.3"},
		},
		{
			name: "level as string",
			raw:  `{"level": "250", "rank": "Elite", "uniqueId": "UNKNOWN"}`,
			want: model.ExtractedProfile{Level: 250, RankName: "Elite", UniqueID: model.Unknown},
		},
		{
			name: "all unknown sentinels",
			raw:  `{"level": "UNKNOWN", "rank": "UNKNOWN", "uniqueId": "UNKNOWN"}`,
			want: model.ExtractedProfile{Level: model.LevelUnknown, RankName: model.Unknown, UniqueID: model.Unknown},
		},
		{
			name: "fractional level rejected",
			raw:  `{"level": 42.5, "rank": "Rookie", "uniqueId": "123"}`,
			want: model.ExtractedProfile{Level: model.LevelUnknown, RankName: "Rookie", UniqueID: "123"},
		},
		{
			name: "non-positive level rejected",
			raw:  `{"level": -3, "rank": "Rookie", "uniqueId": "123"}`,
			want: model.ExtractedProfile{Level: model.LevelUnknown, RankName: "Rookie", UniqueID: "123"},
		},
		{
			name: "unique id with letters rejected",
			raw:  `{"level": 42, "rank": "Rookie", "uniqueId": "abc-123"}`,
			want: model.ExtractedProfile{Level: 42, RankName: "Rookie", UniqueID: model.Unknown},
		},
		{
			name: "unique id with only delimiters rejected",
			raw:  `{"level": 42, "rank": "Rookie", "uniqueId": "---"}`,
			want: model.ExtractedProfile{Level: 42, RankName: "Rookie", UniqueID: model.Unknown},
		},
		{
			name: "missing fields",
			raw:  `{}`,
			want: model.ExtractedProfile{Level: model.LevelUnknown, RankName: model.Unknown, UniqueID: model.Unknown},
		},
		{
			name: "not json at all",
			raw:  "I could not read the image, sorry.",
			want: model.ExtractedProfile{Level: model.LevelUnknown, RankName: model.Unknown, UniqueID: model.Unknown},
		},
		{
			name: "empty",
			raw:  "",
			want: model.ExtractedProfile{Level: model.LevelUnknown, RankName: model.Unknown, UniqueID: model.Unknown},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseProfile(tt.raw))
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{`{"a":1}`, `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripCodeFence(tt.in))
	}
}
