// Package model defines the data models for the rank verification bot.
package model

import "time"

// Sentinels for fields the vision extractor could not read.
// The string form matches the extraction contract verbatim.
const (
	Unknown      = "UNKNOWN"
	LevelUnknown = -1
)

// RankDefinition is one tier of the configured rank taxonomy.
// Invariant: LevelMin <= LevelMax. The active set is hot-reloaded
// from the ranks file and swapped atomically.
type RankDefinition struct {
	Token       string `mapstructure:"token"`
	DisplayName string `mapstructure:"display_name"`
	LevelMin    int    `mapstructure:"level_min"`
	LevelMax    int    `mapstructure:"level_max"`
}

// ContainsLevel reports whether level falls inside this rank's range.
func (r RankDefinition) ContainsLevel(level int) bool {
	return level >= r.LevelMin && level <= r.LevelMax
}

// ExtractedProfile holds the structured fields read from one screenshot.
// It is ephemeral: one per attempt, never persisted verbatim.
type ExtractedProfile struct {
	Level    int    `json:"level"`
	RankName string `json:"rank"`
	UniqueID string `json:"uniqueId"`
}

// IsEmpty reports whether the extractor recognized nothing at all.
func (p ExtractedProfile) IsEmpty() bool {
	return p.Level == LevelUnknown && p.RankName == Unknown && p.UniqueID == Unknown
}

// ScreenshotLock binds a screenshot hash (and optionally an in-game
// unique id) to the identity that first claimed it. Each key binds to
// at most one owner; the unique indexes in the database are the
// authority for that invariant.
type ScreenshotLock struct {
	ID             int64     `db:"id"`
	ScreenshotHash string    `db:"screenshot_hash"`
	UniqueID       *string   `db:"unique_id"`
	OwnerID        int64     `db:"owner_id"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Account is a verified in-game account held by an identity.
// One identity may hold several; at most one is primary.
type Account struct {
	ID         int64             `db:"id"`
	OwnerID    int64             `db:"owner_id"`
	UniqueID   string            `db:"unique_id"`
	Level      int               `db:"level"`
	RankName   string            `db:"rank_name"`
	VerifiedAt time.Time         `db:"verified_at"`
	IsPrimary  bool              `db:"is_primary"`
	Metadata   map[string]string `db:"metadata"`
}

// VerificationStatus categorizes the outcome of one verification attempt.
type VerificationStatus string

// Verification status constants.
const (
	StatusSuccess      VerificationStatus = "SUCCESS"
	StatusFailure      VerificationStatus = "FAILURE"
	StatusManualReview VerificationStatus = "MANUAL_REVIEW"
)

// FailureReason is the user-facing failure category. It deliberately
// carries no implementation detail.
type FailureReason string

// Failure reason constants.
const (
	ReasonNone              FailureReason = ""
	ReasonNotProfile        FailureReason = "not_profile"
	ReasonRankNotRecognized FailureReason = "rank_not_recognized"
	ReasonAlreadyClaimed    FailureReason = "already_claimed"
	ReasonInternalError     FailureReason = "internal_error"
)

// VerificationEvent is one immutable row of the verification audit
// trail. Events are append-only: never mutated, never deleted.
type VerificationEvent struct {
	ID             int64              `db:"id"`
	CorrelationID  string             `db:"correlation_id"`
	OwnerID        int64              `db:"owner_id"`
	Status         VerificationStatus `db:"status"`
	Confidence     float64            `db:"confidence"`
	UniqueID       string             `db:"unique_id"`
	ScreenshotHash string             `db:"screenshot_hash"`
	Metadata       map[string]string  `db:"metadata"`
	CreatedAt      time.Time          `db:"created_at"`
}

// MetricsSnapshot holds the rolling verification counters. It is
// maintained from running counters and persisted as a single row,
// never recomputed by scanning the event table.
type MetricsSnapshot struct {
	Total           int64     `db:"total"`
	Successes       int64     `db:"successes"`
	Failures        int64     `db:"failures"`
	ManualReviews   int64     `db:"manual_reviews"`
	ConfidenceSum   float64   `db:"confidence_sum"`
	ConfidenceCount int64     `db:"confidence_count"`
	CleanupRuns     int64     `db:"cleanup_runs"`
	CleanupRemoved  int64     `db:"cleanup_removed"`
	RateLimitHits   int64     `db:"rate_limit_hits"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// AverageConfidence returns the running confidence average, or 0 when
// no confidence-bearing event has been recorded yet.
func (m MetricsSnapshot) AverageConfidence() float64 {
	if m.ConfidenceCount == 0 {
		return 0
	}
	return m.ConfidenceSum / float64(m.ConfidenceCount)
}

// VerificationResult is what the pipeline returns to the caller.
type VerificationResult struct {
	Status        VerificationStatus
	Reason        FailureReason
	RankToken     string
	RankName      string
	Level         int
	UniqueID      string
	Confidence    float64
	ConflictOwner int64
	CacheHit      bool
	Duration      time.Duration
	Err           error
}
