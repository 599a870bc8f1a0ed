package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-rank-bot/internal/audit"
	"telegram-rank-bot/internal/ingest"
	"telegram-rank-bot/internal/match"
	"telegram-rank-bot/internal/model"
)

// Fakes for the pipeline ports.

type fakeFetcher struct {
	img *ingest.Image
	err error
}

func (f *fakeFetcher) Fetch(context.Context, ingest.Source) (*ingest.Image, error) {
	return f.img, f.err
}

type fakeExtractor struct {
	profile model.ExtractedProfile
	hit     bool
}

func (f *fakeExtractor) Extract(context.Context, []byte, string) (model.ExtractedProfile, bool) {
	return f.profile, f.hit
}

type fakeLocks struct {
	verifyErr  error
	upsertErr  error
	verifyCall int
	upsertCall int
}

func (f *fakeLocks) VerifyLock(context.Context, int64, string, string) error {
	f.verifyCall++
	return f.verifyErr
}

func (f *fakeLocks) UpsertLock(_ context.Context, identity int64, hash, uniqueID string) (*model.ScreenshotLock, error) {
	f.upsertCall++
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	return &model.ScreenshotLock{OwnerID: identity, ScreenshotHash: hash}, nil
}

type fakeAssigner struct {
	err    error
	tokens []string
}

func (f *fakeAssigner) Assign(_ context.Context, _ int64, token string) error {
	if f.err != nil {
		return f.err
	}
	f.tokens = append(f.tokens, token)
	return nil
}

type fakeAccounts struct {
	err      error
	upserted []*model.Account
}

func (f *fakeAccounts) Upsert(_ context.Context, acct *model.Account) (*model.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.upserted = append(f.upserted, acct)
	return acct, nil
}

type fakeTrail struct {
	events   []*model.VerificationEvent
	evidence []*audit.Evidence
	err      error
}

func (f *fakeTrail) Record(_ context.Context, ev *model.VerificationEvent, e *audit.Evidence) error {
	f.events = append(f.events, ev)
	f.evidence = append(f.evidence, e)
	return f.err
}

type pipeline struct {
	fetcher   *fakeFetcher
	extractor *fakeExtractor
	locks     *fakeLocks
	assigner  *fakeAssigner
	accounts  *fakeAccounts
	trail     *fakeTrail
	verifier  *Verifier
}

func goodImage() *ingest.Image {
	return &ingest.Image{
		Bytes:       []byte("screenshot"),
		SHA256:      "deadbeef",
		ContentType: "image/png",
		Size:        10,
	}
}

func goodProfile() model.ExtractedProfile {
	return model.ExtractedProfile{Level: 618, RankName: "Galactic Overlord", UniqueID: "123-456-789"}
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	p := &pipeline{
		fetcher:   &fakeFetcher{img: goodImage()},
		extractor: &fakeExtractor{profile: goodProfile()},
		locks:     &fakeLocks{},
		assigner:  &fakeAssigner{},
		accounts:  &fakeAccounts{},
		trail:     &fakeTrail{},
	}
	p.verifier = NewVerifier(
		p.fetcher, p.extractor, p.locks, p.assigner, p.accounts, p.trail,
		loadTestTaxonomy(t), match.DefaultParams(), 0.7, true,
	)
	return p
}

func TestProcessAndVerify_Success(t *testing.T) {
	p := newPipeline(t)

	res := p.verifier.ProcessAndVerify(context.Background(), ingest.Source{URL: "https://x/y.jpg"}, 42)

	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Equal(t, model.ReasonNone, res.Reason)
	assert.Equal(t, "galactic_overlord", res.RankToken)
	assert.Equal(t, "Galactic Overlord", res.RankName)
	assert.Equal(t, 618, res.Level)
	assert.Equal(t, "123-456-789", res.UniqueID)
	assert.GreaterOrEqual(t, res.Confidence, 0.9)
	assert.NoError(t, res.Err)

	// Committing effects all ran, in order.
	assert.Equal(t, 1, p.locks.verifyCall)
	assert.Equal(t, []string{"galactic_overlord"}, p.assigner.tokens)
	assert.Equal(t, 1, p.locks.upsertCall)
	require.Len(t, p.accounts.upserted, 1)
	assert.Equal(t, int64(42), p.accounts.upserted[0].OwnerID)
	assert.Equal(t, "123-456-789", p.accounts.upserted[0].UniqueID)

	// Evidence carries the screenshot and the outcome.
	require.Len(t, p.trail.events, 1)
	assert.Equal(t, model.StatusSuccess, p.trail.events[0].Status)
	require.NotNil(t, p.trail.evidence[0])
	assert.Equal(t, goodImage().Bytes, p.trail.evidence[0].Image)
	assert.Equal(t, model.StatusSuccess, p.trail.evidence[0].Status)
}

func TestProcessAndVerify_DownloadFailures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantReason model.FailureReason
	}{
		{
			name:       "non-image is not a profile",
			err:        &ingest.DownloadError{Reason: ingest.ReasonNonImage},
			wantReason: model.ReasonNotProfile,
		},
		{
			name:       "timeout is internal",
			err:        &ingest.DownloadError{Reason: ingest.ReasonTimeout},
			wantReason: model.ReasonInternalError,
		},
		{
			name:       "oversize is internal",
			err:        &ingest.DownloadError{Reason: ingest.ReasonOversize},
			wantReason: model.ReasonInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(t)
			p.fetcher.img = nil
			p.fetcher.err = tt.err

			res := p.verifier.ProcessAndVerify(context.Background(), ingest.Source{}, 42)

			assert.Equal(t, model.StatusFailure, res.Status)
			assert.Equal(t, tt.wantReason, res.Reason)
			assert.Zero(t, p.locks.verifyCall, "no lock work after a failed download")
			assert.Empty(t, p.assigner.tokens)
		})
	}
}

func TestProcessAndVerify_EmptyExtractionIsNotProfile(t *testing.T) {
	p := newPipeline(t)
	p.extractor.profile = model.ExtractedProfile{
		Level: model.LevelUnknown, RankName: model.Unknown, UniqueID: model.Unknown,
	}

	res := p.verifier.ProcessAndVerify(context.Background(), ingest.Source{}, 42)

	assert.Equal(t, model.StatusFailure, res.Status)
	assert.Equal(t, model.ReasonNotProfile, res.Reason)
	assert.Empty(t, p.assigner.tokens)
}

func TestProcessAndVerify_UnrecognizedRank(t *testing.T) {
	p := newPipeline(t)
	p.extractor.profile = model.ExtractedProfile{
		Level: model.LevelUnknown, RankName: "Wizard Supreme", UniqueID: "123",
	}

	res := p.verifier.ProcessAndVerify(context.Background(), ingest.Source{}, 42)

	assert.Equal(t, model.StatusFailure, res.Status)
	assert.Equal(t, model.ReasonRankNotRecognized, res.Reason)
	assert.Empty(t, p.assigner.tokens)
	assert.Zero(t, p.locks.upsertCall)
}

func TestProcessAndVerify_LowConfidenceGoesToManualReview(t *testing.T) {
	p := newPipeline(t)
	// Level-only signal carries fixed 0.8 confidence; a review
	// threshold above it routes the attempt to a human.
	p.verifier = NewVerifier(
		p.fetcher, p.extractor, p.locks, p.assigner, p.accounts, p.trail,
		loadTestTaxonomy(t), match.DefaultParams(), 0.85, true,
	)
	p.extractor.profile = model.ExtractedProfile{
		Level: 142, RankName: model.Unknown, UniqueID: "123",
	}

	res := p.verifier.ProcessAndVerify(context.Background(), ingest.Source{}, 42)

	assert.Equal(t, model.StatusManualReview, res.Status)
	assert.Equal(t, model.ReasonNone, res.Reason)
	assert.Equal(t, "veteran", res.RankToken)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)

	// Manual review commits nothing.
	assert.Zero(t, p.locks.verifyCall)
	assert.Zero(t, p.locks.upsertCall)
	assert.Empty(t, p.assigner.tokens)
	assert.Empty(t, p.accounts.upserted)

	// But it is recorded with evidence for a human to act on.
	require.Len(t, p.trail.events, 1)
	assert.Equal(t, model.StatusManualReview, p.trail.events[0].Status)
	require.NotNil(t, p.trail.evidence[0])
	assert.Equal(t, model.StatusManualReview, p.trail.evidence[0].Status)
}

func TestProcessAndVerify_ConflictOnPrecheck(t *testing.T) {
	p := newPipeline(t)
	p.locks.verifyErr = &LockConflictError{Reason: HashConflict, Owner: 777}

	res := p.verifier.ProcessAndVerify(context.Background(), ingest.Source{}, 42)

	assert.Equal(t, model.StatusFailure, res.Status)
	assert.Equal(t, model.ReasonAlreadyClaimed, res.Reason)
	assert.Equal(t, int64(777), res.ConflictOwner)
	assert.Empty(t, p.assigner.tokens, "conflict must block the role grant")
	assert.Zero(t, p.locks.upsertCall)
}

func TestProcessAndVerify_ConflictOnCommit(t *testing.T) {
	// A lost race: the pre-check passed but the insert hit the unique
	// constraint.
	p := newPipeline(t)
	p.locks.upsertErr = &LockConflictError{Reason: UniqueIDConflict, Owner: 888}

	res := p.verifier.ProcessAndVerify(context.Background(), ingest.Source{}, 42)

	assert.Equal(t, model.StatusFailure, res.Status)
	assert.Equal(t, model.ReasonAlreadyClaimed, res.Reason)
	assert.Equal(t, int64(888), res.ConflictOwner)
}

func TestProcessAndVerify_RoleFailureIsInternal(t *testing.T) {
	p := newPipeline(t)
	p.assigner.err = errors.New("capability down")

	res := p.verifier.ProcessAndVerify(context.Background(), ingest.Source{}, 42)

	assert.Equal(t, model.StatusFailure, res.Status)
	assert.Equal(t, model.ReasonInternalError, res.Reason)
	assert.Zero(t, p.locks.upsertCall, "no lock commit after a failed role grant")
}

func TestProcessAndVerify_AccountFailureDoesNotFailVerification(t *testing.T) {
	p := newPipeline(t)
	p.accounts.err = errors.New("accounts table unavailable")

	res := p.verifier.ProcessAndVerify(context.Background(), ingest.Source{}, 42)

	assert.Equal(t, model.StatusSuccess, res.Status)
}

func TestProcessAndVerify_AuditFailureDoesNotFailVerification(t *testing.T) {
	p := newPipeline(t)
	p.trail.err = errors.New("audit surface down")

	res := p.verifier.ProcessAndVerify(context.Background(), ingest.Source{}, 42)

	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Equal(t, []string{"galactic_overlord"}, p.assigner.tokens)
}

func TestProcessAndVerify_CacheHitSurfaces(t *testing.T) {
	p := newPipeline(t)
	p.extractor.hit = true

	res := p.verifier.ProcessAndVerify(context.Background(), ingest.Source{}, 42)

	assert.True(t, res.CacheHit)
	assert.Equal(t, model.StatusSuccess, res.Status)
}

func TestProcessAndVerify_NoUniqueIDSkipsAccountUpsert(t *testing.T) {
	p := newPipeline(t)
	p.extractor.profile = model.ExtractedProfile{
		Level: 618, RankName: "Galactic Overlord", UniqueID: model.Unknown,
	}

	res := p.verifier.ProcessAndVerify(context.Background(), ingest.Source{}, 42)

	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Empty(t, res.UniqueID)
	assert.Empty(t, p.accounts.upserted)
}
