// Package repository provides data access layer implementations.
// Tests use testcontainers-go to spin up a PostgreSQL container.
package repository

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"telegram-rank-bot/internal/model"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// setupTestDB creates a PostgreSQL container and returns a connection pool
// Skips the test if Docker is not available
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	err = runMigrations(ctx, pool)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

// runMigrations applies the database schema. The named unique
// constraints must match production: classifyUniqueViolation keys
// conflict classification off the constraint name.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS screenshot_locks (
			id BIGSERIAL PRIMARY KEY,
			screenshot_hash CHAR(64) NOT NULL,
			owner_id BIGINT NOT NULL,
			unique_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT screenshot_locks_hash_key UNIQUE (screenshot_hash),
			CONSTRAINT screenshot_locks_unique_id_key UNIQUE (unique_id)
		)
	`)
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id BIGSERIAL PRIMARY KEY,
			owner_id BIGINT NOT NULL,
			unique_id TEXT NOT NULL,
			level INT NOT NULL DEFAULT -1,
			rank_name TEXT NOT NULL DEFAULT '',
			verified_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			is_primary BOOLEAN NOT NULL DEFAULT FALSE,
			metadata JSONB NOT NULL DEFAULT '{}',
			CONSTRAINT accounts_owner_unique_id_key UNIQUE (owner_id, unique_id)
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_one_primary
			ON accounts(owner_id) WHERE is_primary;
	`)
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS verification_events (
			id BIGSERIAL PRIMARY KEY,
			correlation_id TEXT NOT NULL,
			owner_id BIGINT NOT NULL,
			status VARCHAR(20) NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			unique_id TEXT NOT NULL DEFAULT '',
			screenshot_hash TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS verification_metrics (
			id INT PRIMARY KEY CHECK (id = 1),
			total BIGINT NOT NULL DEFAULT 0,
			successes BIGINT NOT NULL DEFAULT 0,
			failures BIGINT NOT NULL DEFAULT 0,
			manual_reviews BIGINT NOT NULL DEFAULT 0,
			confidence_sum DOUBLE PRECISION NOT NULL DEFAULT 0,
			confidence_count BIGINT NOT NULL DEFAULT 0,
			cleanup_runs BIGINT NOT NULL DEFAULT 0,
			cleanup_removed BIGINT NOT NULL DEFAULT 0,
			rate_limit_hits BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// testHash builds a 64-character hex-looking hash from a single seed
// character, matching the CHAR(64) column width.
func testHash(seed byte) string {
	return strings.Repeat(string(seed), 64)
}

func strPtr(s string) *string { return &s }

// ============================================================================
// LockRepository Tests
// ============================================================================

func TestLockRepository_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLockRepository(pool)
	ctx := context.Background()

	lock, err := repo.Insert(ctx, 100, testHash('a'), strPtr("111222333"))
	require.NoError(t, err)
	assert.NotZero(t, lock.ID)
	assert.Equal(t, int64(100), lock.OwnerID)
	assert.Equal(t, testHash('a'), lock.ScreenshotHash)
	require.NotNil(t, lock.UniqueID)
	assert.Equal(t, "111222333", *lock.UniqueID)
	assert.False(t, lock.CreatedAt.IsZero())

	byHash, err := repo.GetByHash(ctx, testHash('a'))
	require.NoError(t, err)
	assert.Equal(t, lock.ID, byHash.ID)

	byUniqueID, err := repo.GetByUniqueID(ctx, "111222333")
	require.NoError(t, err)
	assert.Equal(t, lock.ID, byUniqueID.ID)
}

func TestLockRepository_GetNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLockRepository(pool)
	ctx := context.Background()

	_, err := repo.GetByHash(ctx, testHash('f'))
	assert.ErrorIs(t, err, ErrLockNotFound)

	_, err = repo.GetByUniqueID(ctx, "999999999")
	assert.ErrorIs(t, err, ErrLockNotFound)
}

func TestLockRepository_HashConflict(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLockRepository(pool)
	ctx := context.Background()

	_, err := repo.Insert(ctx, 100, testHash('a'), strPtr("111222333"))
	require.NoError(t, err)

	// Same screenshot, different claimant and unique id.
	_, err = repo.Insert(ctx, 200, testHash('a'), strPtr("444555666"))
	assert.ErrorIs(t, err, ErrHashTaken)
}

func TestLockRepository_UniqueIDConflict(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLockRepository(pool)
	ctx := context.Background()

	_, err := repo.Insert(ctx, 100, testHash('a'), strPtr("111222333"))
	require.NoError(t, err)

	// Different screenshot of the same in-game account.
	_, err = repo.Insert(ctx, 200, testHash('b'), strPtr("111222333"))
	assert.ErrorIs(t, err, ErrUniqueIDTaken)
}

func TestLockRepository_NullUniqueIDsDoNotConflict(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLockRepository(pool)
	ctx := context.Background()

	_, err := repo.Insert(ctx, 100, testHash('a'), nil)
	require.NoError(t, err)

	// A second hash-only lock is fine: the unique index ignores NULLs.
	_, err = repo.Insert(ctx, 200, testHash('b'), nil)
	assert.NoError(t, err)
}

func TestLockRepository_UpdateUniqueID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLockRepository(pool)
	ctx := context.Background()

	lock, err := repo.Insert(ctx, 100, testHash('a'), nil)
	require.NoError(t, err)

	require.NoError(t, repo.UpdateUniqueID(ctx, lock.ID, strPtr("111222333")))

	got, err := repo.GetByHash(ctx, testHash('a'))
	require.NoError(t, err)
	require.NotNil(t, got.UniqueID)
	assert.Equal(t, "111222333", *got.UniqueID)

	// Missing lock.
	err = repo.UpdateUniqueID(ctx, 99999, strPtr("777888999"))
	assert.ErrorIs(t, err, ErrLockNotFound)
}

func TestLockRepository_UpdateUniqueIDConflict(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLockRepository(pool)
	ctx := context.Background()

	_, err := repo.Insert(ctx, 100, testHash('a'), strPtr("111222333"))
	require.NoError(t, err)
	other, err := repo.Insert(ctx, 200, testHash('b'), nil)
	require.NoError(t, err)

	err = repo.UpdateUniqueID(ctx, other.ID, strPtr("111222333"))
	assert.ErrorIs(t, err, ErrUniqueIDTaken)
}

func TestLockRepository_UpdateHash(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLockRepository(pool)
	ctx := context.Background()

	lock, err := repo.Insert(ctx, 100, testHash('a'), strPtr("111222333"))
	require.NoError(t, err)

	require.NoError(t, repo.UpdateHash(ctx, lock.ID, testHash('c')))

	got, err := repo.GetByUniqueID(ctx, "111222333")
	require.NoError(t, err)
	assert.Equal(t, testHash('c'), got.ScreenshotHash)

	// The old hash is released.
	_, err = repo.GetByHash(ctx, testHash('a'))
	assert.ErrorIs(t, err, ErrLockNotFound)
}

func TestLockRepository_UpdateHashConflict(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLockRepository(pool)
	ctx := context.Background()

	_, err := repo.Insert(ctx, 100, testHash('a'), strPtr("111222333"))
	require.NoError(t, err)
	other, err := repo.Insert(ctx, 200, testHash('b'), strPtr("444555666"))
	require.NoError(t, err)

	err = repo.UpdateHash(ctx, other.ID, testHash('a'))
	assert.ErrorIs(t, err, ErrHashTaken)
}

func TestLockRepository_Touch(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLockRepository(pool)
	ctx := context.Background()

	lock, err := repo.Insert(ctx, 100, testHash('a'), nil)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, repo.Touch(ctx, lock.ID))

	got, err := repo.GetByHash(ctx, testHash('a'))
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.After(lock.UpdatedAt))
}

func TestLockRepository_Delete(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLockRepository(pool)
	ctx := context.Background()

	_, err := repo.Insert(ctx, 100, testHash('a'), strPtr("111222333"))
	require.NoError(t, err)
	_, err = repo.Insert(ctx, 200, testHash('b'), strPtr("444555666"))
	require.NoError(t, err)

	n, err := repo.DeleteByHash(ctx, testHash('a'))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.DeleteByUniqueID(ctx, "444555666")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Nothing left to delete.
	n, err = repo.DeleteByHash(ctx, testHash('a'))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

// ============================================================================
// AccountRepository Tests
// ============================================================================

func TestAccountRepository_FirstAccountBecomesPrimary(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewAccountRepository(pool)
	ctx := context.Background()

	first, err := repo.Upsert(ctx, &model.Account{
		OwnerID:    100,
		UniqueID:   "111222333",
		Level:      618,
		RankName:   "Galactic Overlord",
		VerifiedAt: time.Now(),
		Metadata:   map[string]string{"source": "screenshot"},
	})
	require.NoError(t, err)
	assert.True(t, first.IsPrimary)
	assert.Equal(t, map[string]string{"source": "screenshot"}, first.Metadata)

	second, err := repo.Upsert(ctx, &model.Account{
		OwnerID:    100,
		UniqueID:   "444555666",
		Level:      42,
		RankName:   "Rookie",
		VerifiedAt: time.Now(),
		Metadata:   map[string]string{},
	})
	require.NoError(t, err)
	assert.False(t, second.IsPrimary)
}

func TestAccountRepository_UpsertRefreshesInPlace(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewAccountRepository(pool)
	ctx := context.Background()

	first, err := repo.Upsert(ctx, &model.Account{
		OwnerID:    100,
		UniqueID:   "111222333",
		Level:      142,
		RankName:   "Veteran",
		VerifiedAt: time.Now(),
		Metadata:   map[string]string{},
	})
	require.NoError(t, err)

	// Re-verifying the same account updates it rather than duplicating.
	again, err := repo.Upsert(ctx, &model.Account{
		OwnerID:    100,
		UniqueID:   "111222333",
		Level:      250,
		RankName:   "Elite",
		VerifiedAt: time.Now(),
		Metadata:   map[string]string{},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 250, again.Level)
	assert.Equal(t, "Elite", again.RankName)
	assert.True(t, again.IsPrimary)

	accounts, err := repo.GetByOwner(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestAccountRepository_GetByOwnerOrdering(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewAccountRepository(pool)
	ctx := context.Background()

	now := time.Now()
	_, err := repo.Upsert(ctx, &model.Account{OwnerID: 100, UniqueID: "111222333", VerifiedAt: now.Add(-time.Hour), Metadata: map[string]string{}})
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, &model.Account{OwnerID: 100, UniqueID: "444555666", VerifiedAt: now, Metadata: map[string]string{}})
	require.NoError(t, err)

	accounts, err := repo.GetByOwner(ctx, 100)
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	// The primary (first-verified) account sorts ahead of newer ones.
	assert.Equal(t, "111222333", accounts[0].UniqueID)
	assert.True(t, accounts[0].IsPrimary)
	assert.Equal(t, "444555666", accounts[1].UniqueID)
}

func TestAccountRepository_SetPrimary(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewAccountRepository(pool)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, &model.Account{OwnerID: 100, UniqueID: "111222333", VerifiedAt: time.Now(), Metadata: map[string]string{}})
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, &model.Account{OwnerID: 100, UniqueID: "444555666", VerifiedAt: time.Now(), Metadata: map[string]string{}})
	require.NoError(t, err)

	require.NoError(t, repo.SetPrimary(ctx, 100, "444555666"))

	accounts, err := repo.GetByOwner(ctx, 100)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "444555666", accounts[0].UniqueID)
	assert.True(t, accounts[0].IsPrimary)
	assert.False(t, accounts[1].IsPrimary)

	// Unknown account leaves the primary untouched.
	err = repo.SetPrimary(ctx, 100, "999999999")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestAccountRepository_GetByUniqueID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewAccountRepository(pool)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, &model.Account{OwnerID: 100, UniqueID: "111222333", RankName: "Veteran", VerifiedAt: time.Now(), Metadata: map[string]string{}})
	require.NoError(t, err)

	acct, err := repo.GetByUniqueID(ctx, "111222333")
	require.NoError(t, err)
	assert.Equal(t, int64(100), acct.OwnerID)
	assert.Equal(t, "Veteran", acct.RankName)

	_, err = repo.GetByUniqueID(ctx, "999999999")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

// ============================================================================
// EventRepository Tests
// ============================================================================

func TestEventRepository_Insert(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewEventRepository(pool)
	ctx := context.Background()

	ev, err := repo.Insert(ctx, &model.VerificationEvent{
		CorrelationID:  "corr-1",
		OwnerID:        100,
		Status:         model.StatusSuccess,
		Confidence:     0.93,
		UniqueID:       "111222333",
		ScreenshotHash: testHash('a'),
		Metadata:       map[string]string{"rank": "veteran"},
	})
	require.NoError(t, err)
	assert.NotZero(t, ev.ID)
	assert.False(t, ev.CreatedAt.IsZero())
	assert.Equal(t, model.StatusSuccess, ev.Status)
}

func TestEventRepository_RecentByOwner(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewEventRepository(pool)
	ctx := context.Background()

	for i, status := range []model.VerificationStatus{
		model.StatusFailure, model.StatusManualReview, model.StatusSuccess,
	} {
		_, err := repo.Insert(ctx, &model.VerificationEvent{
			CorrelationID: "corr-" + string(rune('a'+i)),
			OwnerID:       100,
			Status:        status,
			Metadata:      map[string]string{},
		})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}
	_, err := repo.Insert(ctx, &model.VerificationEvent{CorrelationID: "other", OwnerID: 200, Status: model.StatusSuccess, Metadata: map[string]string{}})
	require.NoError(t, err)

	events, err := repo.RecentByOwner(ctx, 100, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Newest first, limited, and scoped to the owner.
	assert.Equal(t, model.StatusSuccess, events[0].Status)
	assert.Equal(t, model.StatusManualReview, events[1].Status)
	for _, ev := range events {
		assert.Equal(t, int64(100), ev.OwnerID)
	}
}

// ============================================================================
// MetricsRepository Tests
// ============================================================================

func TestMetricsRepository_LoadMissingRowIsZero(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewMetricsRepository(pool)

	m, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), m.Total)
	assert.Equal(t, int64(0), m.ConfidenceCount)
}

func TestMetricsRepository_SaveLoadRoundtrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewMetricsRepository(pool)
	ctx := context.Background()

	want := model.MetricsSnapshot{
		Total:           10,
		Successes:       6,
		Failures:        3,
		ManualReviews:   1,
		ConfidenceSum:   5.4,
		ConfidenceCount: 7,
		CleanupRuns:     2,
		CleanupRemoved:  15,
		RateLimitHits:   1,
	}
	require.NoError(t, repo.Save(ctx, want))

	got, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.Total, got.Total)
	assert.Equal(t, want.Successes, got.Successes)
	assert.Equal(t, want.Failures, got.Failures)
	assert.Equal(t, want.ManualReviews, got.ManualReviews)
	assert.InDelta(t, want.ConfidenceSum, got.ConfidenceSum, 1e-9)
	assert.Equal(t, want.ConfidenceCount, got.ConfidenceCount)
	assert.Equal(t, want.CleanupRemoved, got.CleanupRemoved)
	assert.False(t, got.UpdatedAt.IsZero())

	// A second save replaces the single row.
	want.Total = 11
	require.NoError(t, repo.Save(ctx, want))
	got, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(11), got.Total)
}
