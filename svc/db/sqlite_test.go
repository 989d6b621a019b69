package db

import (
	"context"
	"fmt"
	"pastebin/pkg/domain"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testPaste(token string, expiresAt time.Time) *domain.Paste {
	return &domain.Paste{
		ID:               "id-" + token,
		Token:            token,
		ContentSizeBytes: 11,
		CreatedAt:        expiresAt.Add(-time.Hour),
		ExpiresAt:        expiresAt,
	}
}

func TestInsertAndFind(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	exp := time.Date(2025, 6, 1, 10, 30, 0, 123456789, time.UTC)
	p := testPaste("abcdef12", exp)
	p.Title = "notes"
	p.Language = "go"
	require.NoError(t, s.InsertPaste(ctx, p))

	got, err := s.FindByToken(ctx, "abcdef12")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, int64(11), got.ContentSizeBytes)
	assert.True(t, got.ExpiresAt.Equal(exp))
	assert.Equal(t, time.UTC, got.ExpiresAt.Location())
	assert.Equal(t, "notes", got.Title)
	assert.Equal(t, "go", got.Language)

	byID, err := s.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "abcdef12", byID.Token)

	ok, err := s.Exists(ctx, "abcdef12")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Exists(ctx, "missing0")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.FindByToken(ctx, "missing0")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertDuplicateToken(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	p := testPaste("dupe0001", time.Now().Add(time.Hour))
	require.NoError(t, s.InsertPaste(ctx, p))
	p2 := testPaste("dupe0001", time.Now().Add(time.Hour))
	p2.ID = "other"
	assert.Error(t, s.InsertPaste(ctx, p2))
}

func TestUpdateFields(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	p := testPaste("upd00001", time.Now().Add(time.Hour))
	require.NoError(t, s.InsertPaste(ctx, p))

	views := int64(7)
	title := "renamed"
	require.NoError(t, s.UpdateFields(ctx, p.ID, domain.PasteUpdate{ViewCount: &views, Title: &title}))
	got, err := s.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.ViewCount)
	assert.Equal(t, "renamed", got.Title)

	require.NoError(t, s.UpdateFields(ctx, p.ID, domain.PasteUpdate{}))
	assert.ErrorIs(t, s.UpdateFields(ctx, "nope", domain.PasteUpdate{Title: &title}), ErrNotFound)
}

func TestIncrementViewsConcurrent(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	p := testPaste("views001", time.Now().Add(time.Hour))
	require.NoError(t, s.InsertPaste(ctx, p))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.IncrementViews(ctx, p.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := s.IncrementViews(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(21), n)

	_, err = s.IncrementViews(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindExpiredOrderAndLimit(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertPaste(ctx, testPaste("late0001", now.Add(-time.Minute))))
	require.NoError(t, s.InsertPaste(ctx, testPaste("old00001", now.Add(-time.Hour))))
	require.NoError(t, s.InsertPaste(ctx, testPaste("edge0001", now)))
	require.NoError(t, s.InsertPaste(ctx, testPaste("live0001", now.Add(time.Second))))

	got, err := s.FindExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "old00001", got[0].Token)
	assert.Equal(t, "late0001", got[1].Token)
	assert.Equal(t, "edge0001", got[2].Token)

	got, err = s.FindExpired(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "old00001", got[0].Token)
}

func TestFindExpiredAfterCursor(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tie := now.Add(-time.Hour)
	require.NoError(t, s.InsertPaste(ctx, testPaste("tie00002", tie)))
	require.NoError(t, s.InsertPaste(ctx, testPaste("tie00001", tie)))
	require.NoError(t, s.InsertPaste(ctx, testPaste("late0001", now.Add(-time.Minute))))

	first, err := s.FindExpiredAfter(ctx, now, domain.ExpiryCursor{}, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "tie00001", first[0].Token)

	rest, err := s.FindExpiredAfter(ctx, now, domain.CursorAt(first[0]), 10)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "tie00002", rest[0].Token)
	assert.Equal(t, "late0001", rest[1].Token)

	none, err := s.FindExpiredAfter(ctx, now, domain.CursorAt(rest[1]), 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDeleteByIDIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	p := testPaste("del00001", time.Now().Add(time.Hour))
	require.NoError(t, s.InsertPaste(ctx, p))

	deleted, err := s.DeleteByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteByID(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDeleteExpiredBulk(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for i := 0; i < 620; i++ {
		require.NoError(t, s.InsertPaste(ctx, testPaste(fmt.Sprintf("exp%05d", i), now.Add(-time.Minute))))
	}
	require.NoError(t, s.InsertPaste(ctx, testPaste("keep0001", now.Add(time.Hour))))

	n, err := s.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 620, n)

	ok, err := s.Exists(ctx, "keep0001")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNextSequenceReservesBlocks(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	last, err := s.NextSequence(ctx, "pool_tokens", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), last)
	last, err = s.NextSequence(ctx, "pool_tokens", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(11), last)
	other, err := s.NextSequence(ctx, "other", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), other)

	_, err = s.NextSequence(ctx, "pool_tokens", 0)
	assert.Error(t, err)
}

func TestNextSequenceConcurrentRangesDisjoint(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	var mu sync.Mutex
	lasts := make(map[int64]bool)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last, err := s.NextSequence(ctx, "pool_tokens", 5)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, lasts[last])
			assert.Zero(t, last%5)
			lasts[last] = true
		}()
	}
	wg.Wait()
	assert.Len(t, lasts, 20)
}

func TestPoolLedger(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()
	tokens := []domain.PoolToken{
		{SequenceID: 1, Token: "00000001", CreatedAt: now},
		{SequenceID: 2, Token: "00000002", CreatedAt: now},
		{SequenceID: 3, Token: "00000003", CreatedAt: now},
	}
	require.NoError(t, s.InsertPoolTokens(ctx, tokens))
	require.NoError(t, s.InsertPoolTokens(ctx, nil))

	n, err := s.UnusedPoolCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := s.GetUnusedPoolToken(ctx, "00000002")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.SequenceID)

	require.NoError(t, s.MarkPoolTokenUsed(ctx, "00000002", now))
	assert.ErrorIs(t, s.MarkPoolTokenUsed(ctx, "00000002", now), ErrNotFound)
	_, err = s.GetUnusedPoolToken(ctx, "00000002")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err = s.UnusedPoolCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestInsertPoolTokensRollsBackOnConflict(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.InsertPoolTokens(ctx, []domain.PoolToken{{SequenceID: 1, Token: "00000001", CreatedAt: now}}))

	err := s.InsertPoolTokens(ctx, []domain.PoolToken{
		{SequenceID: 2, Token: "00000002", CreatedAt: now},
		{SequenceID: 3, Token: "00000001", CreatedAt: now},
	})
	require.Error(t, err)

	n, err := s.UnusedPoolCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCircuitOpensAfterRepeatedFailures(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "circuit.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	ctx := context.Background()
	for i := 0; i < maxFailures; i++ {
		_, err := s.FindByToken(ctx, "whatever")
		require.Error(t, err)
	}
	_, err = s.FindByToken(ctx, "whatever")
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestPingAndWALMaintenance(t *testing.T) {
	s := newTestSQLite(t)
	require.NoError(t, s.Ping(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.RunWALMaintenance(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("WAL maintenance did not stop")
	}
}
