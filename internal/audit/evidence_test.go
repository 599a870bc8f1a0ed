package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"telegram-rank-bot/internal/model"
)

func TestFormatUniqueID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "bare digits grouped in threes",
			raw:  "123456789",
			want: "123-456-789",
		},
		{
			name: "already grouped id passes through",
			raw:  "123-456-789",
			want: "123-456-789",
		},
		{
			name: "ten digit id gets a trailing group",
			raw:  "1234567890",
			want: "123-456-789-0",
		},
		{
			name: "spaces and mixed delimiters stripped",
			raw:  "123 456.789",
			want: "123-456-789",
		},
		{
			name: "unknown sentinel",
			raw:  model.Unknown,
			want: "",
		},
		{
			name: "empty",
			raw:  "",
			want: "",
		},
		{
			name: "no digits at all",
			raw:  "---",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUniqueID(tt.raw))
		})
	}
}

func TestEvidence_Render(t *testing.T) {
	e := Evidence{
		Identity:   42,
		Status:     model.StatusSuccess,
		RankName:   "Galactic Overlord",
		Level:      618,
		UniqueID:   "123456789",
		Confidence: 0.93,
		Duration:   1234 * time.Millisecond,
	}

	out := e.Render()
	assert.Contains(t, out, "Rank verification: SUCCESS")
	assert.Contains(t, out, "Identity: 42")
	assert.Contains(t, out, "Rank: Galactic Overlord (level 618)")
	assert.Contains(t, out, "Unique ID: 123-456-789")
	assert.Contains(t, out, "Confidence: 0.93")
	assert.Contains(t, out, "Processing: 1.234s")
}

func TestEvidence_RenderOmitsUnknownFields(t *testing.T) {
	e := Evidence{
		Identity: 7,
		Status:   model.StatusFailure,
		Level:    model.LevelUnknown,
		UniqueID: model.Unknown,
	}

	out := e.Render()
	assert.Contains(t, out, "Rank verification: FAILURE")
	assert.NotContains(t, out, "Rank:")
	assert.NotContains(t, out, "Unique ID:")
	assert.NotContains(t, out, "Confidence:")
}

func TestEvidence_RenderRankWithoutLevel(t *testing.T) {
	e := Evidence{
		Identity: 7,
		Status:   model.StatusSuccess,
		RankName: "Veteran",
		Level:    model.LevelUnknown,
	}

	out := e.Render()
	assert.Contains(t, out, "Rank: Veteran\n")
	assert.NotContains(t, out, "(level")
}
