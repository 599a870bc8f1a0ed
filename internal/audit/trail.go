// Package audit persists the immutable verification trail, maintains
// the rolling metrics counters, and publishes human-readable evidence
// records. Nothing in this package may ever fail a verification that
// already succeeded: persistence and publishing failures degrade to
// warnings.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"telegram-rank-bot/internal/model"
)

// Prometheus counters mirror the persisted snapshot for live scraping.
var (
	promVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rankbot_verifications_total",
		Help: "Verification attempts by outcome status.",
	}, []string{"status"})

	promConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rankbot_verification_confidence",
		Help:    "Confidence scores of confidence-bearing verifications.",
		Buckets: prometheus.LinearBuckets(0.5, 0.05, 11),
	})

	promCleanupRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rankbot_cache_cleanup_removed_total",
		Help: "Cache entries removed by the background sweep.",
	})

	promRateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rankbot_cleanup_rate_limit_hits_total",
		Help: "Background sweeps stopped early by the token budget.",
	})
)

// EventStore is the append-only event sink.
type EventStore interface {
	Insert(ctx context.Context, ev *model.VerificationEvent) (*model.VerificationEvent, error)
}

// MetricsStore loads and saves the persisted counter snapshot.
type MetricsStore interface {
	Load(ctx context.Context) (model.MetricsSnapshot, error)
	Save(ctx context.Context, m model.MetricsSnapshot) error
}

// Publisher delivers a rendered evidence record to the audit surface.
type Publisher interface {
	Publish(ctx context.Context, e Evidence) error
}

// Trail records verification events and keeps the rolling metrics.
// Counter updates are coalesced: multiple events inside the flush
// window produce a single snapshot write.
type Trail struct {
	events  EventStore
	metrics MetricsStore
	pub     Publisher // nil when no audit surface is configured

	flushAfter time.Duration

	mu         sync.Mutex
	snap       model.MetricsSnapshot
	dirty      bool
	flushTimer *time.Timer
}

// NewTrail loads the persisted snapshot and returns the trail. A
// corrupted or unreadable snapshot resets to defaults with a warning;
// startup never fails on metrics state.
func NewTrail(ctx context.Context, events EventStore, metrics MetricsStore, pub Publisher, flushAfter time.Duration) *Trail {
	if flushAfter <= 0 {
		flushAfter = 2 * time.Second
	}

	t := &Trail{
		events:     events,
		metrics:    metrics,
		pub:        pub,
		flushAfter: flushAfter,
	}

	snap, err := metrics.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load metrics snapshot, resetting to defaults")
		snap = model.MetricsSnapshot{}
	}
	t.snap = snap

	return t
}

// Record persists the event, updates the rolling counters, and
// publishes the evidence record. The event write error is returned so
// the caller can log it; counter and publish failures are absorbed
// here.
func (t *Trail) Record(ctx context.Context, ev *model.VerificationEvent, evidence *Evidence) error {
	_, err := t.events.Insert(ctx, ev)

	t.bump(ev)

	if evidence != nil && t.pub != nil {
		if pubErr := t.pub.Publish(ctx, *evidence); pubErr != nil {
			log.Warn().Err(pubErr).
				Int64("identity", ev.OwnerID).
				Msg("Evidence publishing failed, verification result unaffected")
		}
	}

	return err
}

// Snapshot returns a copy of the current rolling counters.
func (t *Trail) Snapshot() model.MetricsSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// RecordCleanup folds a background sweep outcome into the counters.
func (t *Trail) RecordCleanup(removed int64, limited bool) {
	t.mu.Lock()
	t.snap.CleanupRuns++
	t.snap.CleanupRemoved += removed
	if limited {
		t.snap.RateLimitHits++
	}
	t.dirty = true
	t.scheduleFlushLocked()
	t.mu.Unlock()

	promCleanupRemoved.Add(float64(removed))
	if limited {
		promRateLimitHits.Inc()
	}
}

// Flush forces a synchronous snapshot write, used at shutdown.
func (t *Trail) Flush(ctx context.Context) {
	t.mu.Lock()
	if t.flushTimer != nil {
		t.flushTimer.Stop()
		t.flushTimer = nil
	}
	dirty := t.dirty
	snap := t.snap
	t.dirty = false
	t.mu.Unlock()

	if !dirty {
		return
	}
	if err := t.metrics.Save(ctx, snap); err != nil {
		log.Warn().Err(err).Msg("Failed to persist metrics snapshot")
	}
}

// bump updates the counters for one event and schedules a debounced
// flush.
func (t *Trail) bump(ev *model.VerificationEvent) {
	t.mu.Lock()
	t.snap.Total++
	switch ev.Status {
	case model.StatusSuccess:
		t.snap.Successes++
	case model.StatusFailure:
		t.snap.Failures++
	case model.StatusManualReview:
		t.snap.ManualReviews++
	}
	if ev.Confidence > 0 {
		t.snap.ConfidenceSum += ev.Confidence
		t.snap.ConfidenceCount++
	}
	t.dirty = true
	t.scheduleFlushLocked()
	t.mu.Unlock()

	promVerifications.WithLabelValues(string(ev.Status)).Inc()
	if ev.Confidence > 0 {
		promConfidence.Observe(ev.Confidence)
	}
}

// scheduleFlushLocked arms the coalescing timer if it is not already
// armed. Caller holds t.mu.
func (t *Trail) scheduleFlushLocked() {
	if t.flushTimer != nil {
		return
	}
	t.flushTimer = time.AfterFunc(t.flushAfter, func() {
		t.mu.Lock()
		t.flushTimer = nil
		t.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		t.Flush(ctx)
	})
}
