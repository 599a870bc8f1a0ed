package audit

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Janitor sweeps expired extraction cache entries and stale download
// temp files. Each sweep spends at most a fixed token budget per time
// window; when the budget runs out the sweep stops early and the
// remainder waits for the next interval rather than overrunning the
// deletion budget.
type Janitor struct {
	dirs     []string
	ttl      time.Duration
	interval time.Duration
	limiter  *rate.Limiter
	trail    *Trail
}

// NewJanitor creates a Janitor over the given directories. budget is
// the number of removals allowed per window.
func NewJanitor(dirs []string, ttl, interval time.Duration, budget int, window time.Duration, trail *Trail) *Janitor {
	if budget < 1 {
		budget = 1
	}
	return &Janitor{
		dirs:     dirs,
		ttl:      ttl,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(window/time.Duration(budget)), budget),
		trail:    trail,
	}
}

// Run sweeps periodically until the context is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, limited := j.Sweep(ctx)
			j.trail.RecordCleanup(removed, limited)
			log.Debug().
				Int64("removed", removed).
				Bool("budget_exhausted", limited).
				Msg("Cache sweep completed")
		}
	}
}

// Sweep removes files older than the TTL, stopping early when the
// token budget is exhausted. Returns the number removed and whether
// the sweep was cut short.
func (j *Janitor) Sweep(ctx context.Context) (removed int64, limited bool) {
	cutoff := time.Now().Add(-j.ttl)

	for _, dir := range j.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}

		for _, entry := range entries {
			if ctx.Err() != nil {
				return removed, limited
			}
			if entry.IsDir() {
				continue
			}

			info, err := entry.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}

			if !j.limiter.Allow() {
				// Budget exhausted: resume on the next window.
				return removed, true
			}

			path := filepath.Join(dir, entry.Name())
			if err := os.Remove(path); err != nil {
				log.Warn().Err(err).Str("file", path).Msg("Failed to remove stale cache file")
				continue
			}
			removed++
		}
	}

	return removed, limited
}
