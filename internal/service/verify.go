package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"telegram-rank-bot/internal/audit"
	"telegram-rank-bot/internal/config"
	"telegram-rank-bot/internal/ingest"
	"telegram-rank-bot/internal/match"
	"telegram-rank-bot/internal/model"
)

// Ports consumed by the pipeline. The concrete wiring passes the
// ingestor, extractor, lock service, role state machine, account
// repository, and audit trail; tests substitute fakes.
type (
	imageFetcher interface {
		Fetch(ctx context.Context, src ingest.Source) (*ingest.Image, error)
	}
	profileExtractor interface {
		Extract(ctx context.Context, imageBytes []byte, hash string) (model.ExtractedProfile, bool)
	}
	lockKeeper interface {
		VerifyLock(ctx context.Context, identity int64, hash, uniqueID string) error
		UpsertLock(ctx context.Context, identity int64, hash, uniqueID string) (*model.ScreenshotLock, error)
	}
	roleAssigner interface {
		Assign(ctx context.Context, identity int64, token string) error
	}
	accountStore interface {
		Upsert(ctx context.Context, acct *model.Account) (*model.Account, error)
	}
	recorder interface {
		Record(ctx context.Context, ev *model.VerificationEvent, evidence *audit.Evidence) error
	}
)

// Verifier is the single pipeline entry point: ingest, extract,
// match, lock pre-check, role transition, lock commit, account
// upsert, audit.
type Verifier struct {
	fetcher   imageFetcher
	extractor profileExtractor
	locks     lockKeeper
	roles     roleAssigner
	accounts  accountStore
	trail     recorder

	taxonomy *config.Taxonomy
	params   match.Params

	// reviewThreshold routes matches below it (but above the fuzzy
	// cutoff) to manual review instead of committing.
	reviewThreshold float64

	attachImage bool
}

// NewVerifier creates the verification pipeline.
func NewVerifier(
	fetcher imageFetcher,
	extractor profileExtractor,
	locks lockKeeper,
	roles roleAssigner,
	accounts accountStore,
	trail recorder,
	taxonomy *config.Taxonomy,
	params match.Params,
	reviewThreshold float64,
	attachImage bool,
) *Verifier {
	return &Verifier{
		fetcher:         fetcher,
		extractor:       extractor,
		locks:           locks,
		roles:           roles,
		accounts:        accounts,
		trail:           trail,
		taxonomy:        taxonomy,
		params:          params,
		reviewThreshold: reviewThreshold,
		attachImage:     attachImage,
	}
}

// ProcessAndVerify runs one verification attempt. It always returns a
// result: failures are carried in Status and Reason, with Err set for
// the categories the caller surfaces verbatim (lock conflicts, role
// errors). Extraction failures degrade to a "not recognized" outcome.
func (v *Verifier) ProcessAndVerify(ctx context.Context, src ingest.Source, identity int64) *model.VerificationResult {
	a := &attempt{start: time.Now(), correlationID: uuid.NewString(), identity: identity}

	img, err := v.fetcher.Fetch(ctx, src)
	if err != nil {
		var dlErr *ingest.DownloadError
		reason := model.ReasonInternalError
		if errors.As(err, &dlErr) && dlErr.Reason == ingest.ReasonNonImage {
			reason = model.ReasonNotProfile
		}
		log.Debug().Err(err).Int64("identity", identity).Msg("Screenshot download failed")
		return v.fail(ctx, a, reason, err)
	}
	a.hash = img.SHA256

	profile, cacheHit := v.extractor.Extract(ctx, img.Bytes, img.SHA256)
	a.cacheHit = cacheHit
	if profile.UniqueID != model.Unknown {
		a.uniqueID = profile.UniqueID
	}
	if profile.IsEmpty() {
		return v.fail(ctx, a, model.ReasonNotProfile, nil)
	}

	m := match.MatchProfile(profile, v.taxonomy.Current(), v.params)
	if m == nil {
		return v.fail(ctx, a, model.ReasonRankNotRecognized, nil)
	}
	a.match = m

	if m.Confidence < v.reviewThreshold {
		return v.manualReview(ctx, a, img)
	}

	// Pre-check both keys before any committing effect.
	if err := v.locks.VerifyLock(ctx, identity, img.SHA256, a.uniqueID); err != nil {
		return v.conflictOrFail(ctx, a, err)
	}

	if err := v.roles.Assign(ctx, identity, m.Rank.Token); err != nil {
		log.Error().Err(err).
			Int64("identity", identity).
			Str("rank", m.Rank.Token).
			Msg("Role transition failed")
		return v.fail(ctx, a, model.ReasonInternalError, err)
	}

	// Commit. The unique constraints behind UpsertLock decide races:
	// a conflict here means we lost one after the pre-check.
	if _, err := v.locks.UpsertLock(ctx, identity, img.SHA256, a.uniqueID); err != nil {
		return v.conflictOrFail(ctx, a, err)
	}

	if a.uniqueID != "" {
		if _, err := v.accounts.Upsert(ctx, &model.Account{
			OwnerID:    identity,
			UniqueID:   a.uniqueID,
			Level:      m.Level,
			RankName:   m.Rank.DisplayName,
			VerifiedAt: time.Now(),
			Metadata:   map[string]string{"correlation_id": a.correlationID},
		}); err != nil {
			log.Warn().Err(err).Int64("identity", identity).Msg("Account upsert failed after role grant")
		}
	}

	result := a.result(model.StatusSuccess, model.ReasonNone, nil)
	v.record(ctx, a, model.StatusSuccess, map[string]string{"rank": m.Rank.Token}, v.evidence(a, img, model.StatusSuccess))
	return result
}

// attempt carries the state of one verification attempt through the
// pipeline stages.
type attempt struct {
	start         time.Time
	correlationID string
	identity      int64
	hash          string
	uniqueID      string
	cacheHit      bool
	match         *match.Match
	conflictOwner int64
}

func (a *attempt) result(status model.VerificationStatus, reason model.FailureReason, err error) *model.VerificationResult {
	r := &model.VerificationResult{
		Status:        status,
		Reason:        reason,
		UniqueID:      a.uniqueID,
		CacheHit:      a.cacheHit,
		ConflictOwner: a.conflictOwner,
		Level:         model.LevelUnknown,
		Duration:      time.Since(a.start),
		Err:           err,
	}
	if a.match != nil {
		r.RankToken = a.match.Rank.Token
		r.RankName = a.match.Rank.DisplayName
		r.Level = a.match.Level
		r.Confidence = a.match.Confidence
	}
	return r
}

func (v *Verifier) fail(ctx context.Context, a *attempt, reason model.FailureReason, cause error) *model.VerificationResult {
	v.record(ctx, a, model.StatusFailure, map[string]string{"reason": string(reason)}, nil)
	return a.result(model.StatusFailure, reason, cause)
}

// conflictOrFail distinguishes a lock conflict (surfaced verbatim,
// with the conflicting owner) from an infrastructure error.
func (v *Verifier) conflictOrFail(ctx context.Context, a *attempt, err error) *model.VerificationResult {
	var conflict *LockConflictError
	if errors.As(err, &conflict) {
		a.conflictOwner = conflict.Owner
		v.record(ctx, a, model.StatusFailure, map[string]string{
			"reason":   string(model.ReasonAlreadyClaimed),
			"conflict": string(conflict.Reason),
		}, nil)
		return a.result(model.StatusFailure, model.ReasonAlreadyClaimed, err)
	}

	log.Error().Err(err).Int64("identity", a.identity).Msg("Lock check failed")
	return v.fail(ctx, a, model.ReasonInternalError, err)
}

// manualReview records a low-confidence match without committing any
// effect: no role is granted and no lock is claimed.
func (v *Verifier) manualReview(ctx context.Context, a *attempt, img *ingest.Image) *model.VerificationResult {
	result := a.result(model.StatusManualReview, model.ReasonNone, nil)
	v.record(ctx, a, model.StatusManualReview, map[string]string{"rank": a.match.Rank.Token}, v.evidence(a, img, model.StatusManualReview))
	return result
}

// record appends the event and publishes evidence. Audit failures are
// logged and swallowed: they never undo an already-granted role or
// fail an otherwise-successful verification.
func (v *Verifier) record(ctx context.Context, a *attempt, status model.VerificationStatus, metadata map[string]string, evidence *audit.Evidence) {
	confidence := 0.0
	if a.match != nil {
		confidence = a.match.Confidence
	}

	err := v.trail.Record(ctx, &model.VerificationEvent{
		CorrelationID:  a.correlationID,
		OwnerID:        a.identity,
		Status:         status,
		Confidence:     confidence,
		UniqueID:       a.uniqueID,
		ScreenshotHash: a.hash,
		Metadata:       metadata,
	}, evidence)
	if err != nil {
		log.Warn().Err(err).
			Int64("identity", a.identity).
			Str("correlation_id", a.correlationID).
			Msg("Audit record failed, verification result unaffected")
	}
}

func (v *Verifier) evidence(a *attempt, img *ingest.Image, status model.VerificationStatus) *audit.Evidence {
	e := &audit.Evidence{
		Identity: a.identity,
		Status:   status,
		UniqueID: a.uniqueID,
		Duration: time.Since(a.start),
	}
	if a.match != nil {
		e.RankName = a.match.Rank.DisplayName
		e.Level = a.match.Level
		e.Confidence = a.match.Confidence
	}
	if v.attachImage && img != nil {
		e.Image = img.Bytes
	}
	return e
}
