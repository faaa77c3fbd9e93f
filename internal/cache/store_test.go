package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"catalog-rag/internal/model"
)

var baseTime = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time           { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newTestStore(t *testing.T, fast FastTier, opts Options) (*Store, *testClock) {
	t.Helper()
	log, _ := test.NewNullLogger()
	s := New(newTestDB(t), fast, opts, log, nil)
	clock := &testClock{now: baseTime}
	s.now = clock.Now
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func countEntries(t *testing.T, s *Store) int64 {
	t.Helper()
	var n int64
	require.NoError(t, s.db.Model(&model.CacheEntry{}).Count(&n).Error)
	return n
}

// unit returns a 3-d unit vector whose cosine with (1, 0, 0) is cos.
func unit(cos float64) []float32 {
	return []float32{float32(cos), float32(math.Sqrt(1 - cos*cos)), 0}
}

func TestSaveUpsertsPerScope(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, NewMemoryTier(0), Options{})

	require.NoError(t, s.Save(ctx, Record{Query: "Preço da VSF 30S", Response: "first", CatalogID: "cat-1"}))
	require.NoError(t, s.Save(ctx, Record{Query: "preço da  vsf 30s ", Response: "second", CatalogID: "cat-1"}))
	require.NoError(t, s.Save(ctx, Record{Query: "Preço da VSF 30S", Response: "other scope", CatalogID: "cat-2"}))

	assert.EqualValues(t, 2, countEntries(t, s))

	l := s.LookupExact(ctx, HashText("Preço da VSF 30S"), "cat-1", "")
	require.True(t, l.IsHit())
	assert.Equal(t, "second", l.Entry.Response)
	assert.Equal(t, TierFast, l.Tier)

	var durable model.CacheEntry
	require.NoError(t, s.db.Where("catalog_id = ?", "cat-1").Take(&durable).Error)
	assert.Equal(t, "second", durable.Response)
}

func TestLookupExactPromotesDurableHit(t *testing.T) {
	ctx := context.Background()
	fast := NewMemoryTier(0)
	s, _ := newTestStore(t, fast, Options{})

	require.NoError(t, s.Save(ctx, Record{Query: "q", Response: "r", UserID: "u1"}))
	key := s.keys.query("", "u1", HashText("q"))
	_, err := fast.Delete(ctx, key)
	require.NoError(t, err)

	l := s.LookupExact(ctx, HashText("q"), "", "u1")
	require.True(t, l.IsHit())
	assert.Equal(t, TierDurable, l.Tier)

	s.promotions.Wait()
	_, ok, err := fast.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	l = s.LookupExact(ctx, HashText("q"), "", "u1")
	require.True(t, l.IsHit())
	assert.Equal(t, TierFast, l.Tier)
}

func TestLookupExactIgnoresExpiredEntries(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, NewMemoryTier(0), Options{QueryTTL: time.Hour})

	require.NoError(t, s.Save(ctx, Record{Query: "q", Response: "r"}))
	require.True(t, s.LookupExact(ctx, HashText("q"), "", "").IsHit())

	clock.Advance(2 * time.Hour)
	l := s.LookupExact(ctx, HashText("q"), "", "")
	assert.Equal(t, Miss, l.Status)
	assert.Nil(t, l.Entry)

	n, err := s.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLookupSemantic(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, nil, Options{})

	require.NoError(t, s.Save(ctx, Record{
		Query:     "quais seladoras vocês vendem",
		Embedding: []float32{1, 0, 0},
		Response:  "cached answer",
	}))

	t.Run("near duplicate hits", func(t *testing.T) {
		assert.Equal(t, Miss, s.LookupExact(ctx, HashText("que seladoras vocês têm"), "", "").Status)

		l := s.LookupSemantic(ctx, unit(0.97), "", "", 0)
		require.True(t, l.IsHit())
		assert.Equal(t, "cached answer", l.Entry.Response)
		assert.InDelta(t, 0.97, l.Score, 1e-4)
	})

	t.Run("unrelated misses", func(t *testing.T) {
		l := s.LookupSemantic(ctx, unit(0.40), "", "", 0)
		assert.Equal(t, Miss, l.Status)
	})

	t.Run("scope is respected", func(t *testing.T) {
		l := s.LookupSemantic(ctx, unit(0.99), "cat-1", "", 0)
		assert.Equal(t, Miss, l.Status)
	})
}

func TestLookupSemanticSkipsUnusableEmbeddings(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, nil, Options{})

	require.NoError(t, s.Save(ctx, Record{Query: "good", Embedding: []float32{1, 0, 0}, Response: "good"}))
	clock.Advance(time.Second)
	require.NoError(t, s.Save(ctx, Record{Query: "short", Embedding: []float32{1, 0}, Response: "short"}))
	clock.Advance(time.Second)
	require.NoError(t, s.Save(ctx, Record{Query: "broken", Response: "broken"}))
	require.NoError(t, s.db.Model(&model.CacheEntry{}).Where("query = ?", "broken").
		Update("query_embedding", "{not json").Error)

	l := s.LookupSemantic(ctx, []float32{1, 0, 0}, "", "", 0)
	require.True(t, l.IsHit())
	assert.Equal(t, "good", l.Entry.Response)
}

func TestLookupSemanticTiesGoToMostRecent(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, nil, Options{})

	require.NoError(t, s.Save(ctx, Record{Query: "older", Embedding: []float32{0, 1, 0}, Response: "older"}))
	clock.Advance(time.Minute)
	require.NoError(t, s.Save(ctx, Record{Query: "newer", Embedding: []float32{0, 1, 0}, Response: "newer"}))

	l := s.LookupSemantic(ctx, []float32{0, 1, 0}, "", "", 0)
	require.True(t, l.IsHit())
	assert.Equal(t, "newer", l.Entry.Response)
}

func TestLookupSemanticScanIsBounded(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, nil, Options{SemanticScanLimit: 2})

	require.NoError(t, s.Save(ctx, Record{Query: "match", Embedding: []float32{1, 0}, Response: "match"}))
	for i := 0; i < 2; i++ {
		clock.Advance(time.Second)
		require.NoError(t, s.Save(ctx, Record{Query: fmt.Sprintf("filler %d", i), Embedding: []float32{0, 1}, Response: "filler"}))
	}

	assert.Equal(t, Miss, s.LookupSemantic(ctx, []float32{1, 0}, "", "", 0).Status)
}

func TestSaveEvictsOldestTenPercentAtCapacity(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, NewMemoryTier(0), Options{MaxEntries: 100})

	for i := 0; i < 100; i++ {
		e := model.CacheEntry{
			QueryHash: fmt.Sprintf("hash-%03d", i),
			Query:     fmt.Sprintf("query %d", i),
			Response:  "r",
			CreatedAt: baseTime,
			LastUsed:  baseTime.Add(time.Duration(i) * time.Second),
			ExpiresAt: baseTime.Add(time.Hour),
		}
		require.NoError(t, s.db.Create(&e).Error)
	}
	clock.Advance(10 * time.Minute)

	require.NoError(t, s.Save(ctx, Record{Query: "newcomer", Response: "fresh"}))
	assert.EqualValues(t, 91, countEntries(t, s))

	var oldest int64
	require.NoError(t, s.db.Model(&model.CacheEntry{}).Where("query_hash LIKE ? AND query_hash < ?", "hash-%", "hash-010").Count(&oldest).Error)
	assert.Zero(t, oldest)
	assert.True(t, s.LookupExact(ctx, HashText("newcomer"), "", "").IsHit())
}

func TestSaveBelowCapacityDoesNotEvict(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, nil, Options{MaxEntries: 3})

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Save(ctx, Record{Query: fmt.Sprintf("q%d", i), Response: "r"}))
		clock.Advance(time.Second)
	}
	assert.EqualValues(t, 3, countEntries(t, s))

	// at capacity: 10% of 3 rounds down, so exactly one entry goes
	require.NoError(t, s.Save(ctx, Record{Query: "q3", Response: "r"}))
	assert.EqualValues(t, 3, countEntries(t, s))
	assert.Equal(t, Miss, s.LookupExact(ctx, HashText("q0"), "", "").Status)
}

func TestRecordHit(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, nil, Options{})

	require.NoError(t, s.Save(ctx, Record{Query: "q", Response: "r"}))
	l := s.LookupExact(ctx, HashText("q"), "", "")
	require.True(t, l.IsHit())

	clock.Advance(time.Minute)
	require.NoError(t, s.RecordHit(ctx, l.Entry.ID))
	require.NoError(t, s.RecordHit(ctx, l.Entry.ID))

	var e model.CacheEntry
	require.NoError(t, s.db.First(&e, l.Entry.ID).Error)
	assert.Equal(t, 2, e.HitCount)
	assert.True(t, e.LastUsed.Equal(clock.Now()))
}

func TestInvalidateByDocument(t *testing.T) {
	ctx := context.Background()
	fast := NewMemoryTier(0)
	s, _ := newTestStore(t, fast, Options{})

	require.NoError(t, s.Save(ctx, Record{Query: "a", Response: "a", DocumentIDs: []string{"doc-7", "doc-42"}}))
	require.NoError(t, s.Save(ctx, Record{Query: "b", Response: "b", DocumentIDs: []string{"doc-7", "doc-4"}}))
	require.NoError(t, s.PutEmbedding(ctx, "a", []float32{1, 2, 3}))

	n, err := s.InvalidateByDocument(ctx, "doc-42")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	assert.Equal(t, Miss, s.LookupExact(ctx, HashText("a"), "", "").Status)
	assert.True(t, s.LookupExact(ctx, HashText("b"), "", "").IsHit())
	assert.Equal(t, Hit, s.GetEmbedding(ctx, "a").Status)

	n, err = s.InvalidateByDocument(ctx, "doc-42")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.InvalidateByDocument(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyScope)
}

func TestInvalidateByUserSweepsFastTier(t *testing.T) {
	ctx := context.Background()
	fast := NewMemoryTier(0)
	s, _ := newTestStore(t, fast, Options{})

	require.NoError(t, s.Save(ctx, Record{Query: "a", Response: "a", UserID: "u1"}))
	require.NoError(t, s.Save(ctx, Record{Query: "b", Response: "b", UserID: "u1", CatalogID: "cat-1"}))
	require.NoError(t, s.Save(ctx, Record{Query: "a", Response: "a", UserID: "u2"}))

	n, err := s.InvalidateByUser(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, ok, _ := fast.Get(ctx, s.keys.query("", "u1", HashText("a")))
	assert.False(t, ok)
	_, ok, _ = fast.Get(ctx, s.keys.query("cat-1", "u1", HashText("b")))
	assert.False(t, ok)
	_, ok, _ = fast.Get(ctx, s.keys.query("", "u2", HashText("a")))
	assert.True(t, ok)
}

func TestInvalidateByCatalog(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, NewMemoryTier(0), Options{})

	require.NoError(t, s.Save(ctx, Record{Query: "a", Response: "a", CatalogID: "cat-1"}))
	require.NoError(t, s.Save(ctx, Record{Query: "b", Response: "b", CatalogID: "cat-1", UserID: "u1"}))
	require.NoError(t, s.Save(ctx, Record{Query: "a", Response: "a", CatalogID: "cat-2"}))

	n, err := s.InvalidateByCatalog(ctx, "cat-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, Miss, s.LookupExact(ctx, HashText("b"), "cat-1", "u1").Status)
	assert.True(t, s.LookupExact(ctx, HashText("a"), "cat-2", "").IsHit())
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	fast := NewMemoryTier(0)
	s, _ := newTestStore(t, fast, Options{})
	require.NoError(t, fast.Set(ctx, "other:app:key", []byte("x"), time.Hour))

	require.NoError(t, s.Save(ctx, Record{Query: "a", Response: "a"}))
	require.NoError(t, s.Save(ctx, Record{Query: "b", Response: "b"}))
	require.NoError(t, s.PutEmbedding(ctx, "a", []float32{1, 0}))

	res, err := s.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, ClearResult{Queries: 2, Embeddings: 1, FastTier: 3}, res)
	assert.Equal(t, 1, fast.Len())
	assert.Equal(t, Miss, s.GetEmbedding(ctx, "a").Status)
}

// heldSetTier parks Set calls once hold is called, until release is closed.
type heldSetTier struct {
	*MemoryTier
	mu      sync.Mutex
	release chan struct{}
	entered chan struct{}
}

func (t *heldSetTier) hold() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.release = make(chan struct{})
	t.entered = make(chan struct{}, 1)
}

func (t *heldSetTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	t.mu.Lock()
	release, entered := t.release, t.entered
	t.mu.Unlock()
	if release != nil {
		entered <- struct{}{}
		<-release
	}
	return t.MemoryTier.Set(ctx, key, value, ttl)
}

func TestInvalidationBeatsInFlightPromotion(t *testing.T) {
	tests := []struct {
		name       string
		invalidate func(context.Context, *Store) error
	}{
		{"document", func(ctx context.Context, s *Store) error {
			_, err := s.InvalidateByDocument(ctx, "doc-42")
			return err
		}},
		{"catalog", func(ctx context.Context, s *Store) error {
			_, err := s.InvalidateByCatalog(ctx, "cat-1")
			return err
		}},
		{"user", func(ctx context.Context, s *Store) error {
			_, err := s.InvalidateByUser(ctx, "u1")
			return err
		}},
		{"clear", func(ctx context.Context, s *Store) error {
			_, err := s.ClearAll(ctx)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			fast := &heldSetTier{MemoryTier: NewMemoryTier(0)}
			s, _ := newTestStore(t, fast, Options{})

			require.NoError(t, s.Save(ctx, Record{Query: "q", Response: "r", CatalogID: "cat-1", UserID: "u1", DocumentIDs: []string{"doc-42"}}))
			key := s.keys.query("cat-1", "u1", HashText("q"))
			_, err := fast.Delete(ctx, key)
			require.NoError(t, err)

			fast.hold()
			l := s.LookupExact(ctx, HashText("q"), "cat-1", "u1")
			require.True(t, l.IsHit())
			require.Equal(t, TierDurable, l.Tier)
			<-fast.entered

			// both sweeps finish while the warm-up write is still parked
			require.NoError(t, tt.invalidate(ctx, s))
			close(fast.release)
			s.promotions.Wait()

			_, ok, err := fast.Get(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, Miss, s.LookupExact(ctx, HashText("q"), "cat-1", "u1").Status)
		})
	}
}

func TestPromotionKeepsCopyOfLiveEntry(t *testing.T) {
	ctx := context.Background()
	fast := &heldSetTier{MemoryTier: NewMemoryTier(0)}
	s, _ := newTestStore(t, fast, Options{})

	require.NoError(t, s.Save(ctx, Record{Query: "q", Response: "r", DocumentIDs: []string{"doc-1"}}))
	key := s.keys.query("", "", HashText("q"))
	_, err := fast.Delete(ctx, key)
	require.NoError(t, err)

	fast.hold()
	require.True(t, s.LookupExact(ctx, HashText("q"), "", "").IsHit())
	<-fast.entered
	n, err := s.InvalidateByDocument(ctx, "doc-other")
	require.NoError(t, err)
	assert.Zero(t, n)
	close(fast.release)
	s.promotions.Wait()

	_, ok, err := fast.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConcurrentSavesRespectCapacity(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, NewMemoryTier(0), Options{MaxEntries: 10})

	var wg sync.WaitGroup
	errs := make(chan error, 60)
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.Save(ctx, Record{Query: fmt.Sprintf("question %d", i), Response: "r"})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// every save past the cap evicts before inserting, so the table sits at the cap
	assert.EqualValues(t, 10, countEntries(t, s))
}

func TestEmbeddingRoundTripAcrossTiers(t *testing.T) {
	ctx := context.Background()
	fast := NewMemoryTier(0)
	s, clock := newTestStore(t, fast, Options{EmbeddingTTL: time.Hour})

	assert.Equal(t, Miss, s.GetEmbedding(ctx, "Seladora").Status)
	require.NoError(t, s.PutEmbedding(ctx, "Seladora", []float32{0.5, 0.25}))

	l := s.GetEmbedding(ctx, "  seladora ")
	require.Equal(t, Hit, l.Status)
	assert.Equal(t, TierFast, l.Tier)
	assert.Equal(t, []float32{0.5, 0.25}, l.Vector)

	_, err := fast.Delete(ctx, s.keys.embedding(HashText("seladora")))
	require.NoError(t, err)
	l = s.GetEmbedding(ctx, "seladora")
	require.Equal(t, Hit, l.Status)
	assert.Equal(t, TierDurable, l.Tier)

	clock.Advance(2 * time.Hour)
	s.promotions.Wait()
	_, err = fast.Delete(ctx, s.keys.embedding(HashText("seladora")))
	require.NoError(t, err)
	assert.Equal(t, Miss, s.GetEmbedding(ctx, "seladora").Status)
}

type brokenTier struct{}

var errBroken = errors.New("connection refused")

func (brokenTier) Name() string { return "broken" }
func (brokenTier) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errBroken
}
func (brokenTier) Set(context.Context, string, []byte, time.Duration) error { return errBroken }
func (brokenTier) Delete(context.Context, ...string) (int64, error)         { return 0, errBroken }
func (brokenTier) DeletePattern(context.Context, string) (int64, error)    { return 0, errBroken }
func (brokenTier) Ping(context.Context) error                              { return errBroken }
func (brokenTier) Close() error                                            { return nil }

func TestBrokenFastTierDegradesSoftly(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, brokenTier{}, Options{})

	err := s.Save(ctx, Record{Query: "q", Response: "r", DocumentIDs: []string{"doc-1"}})
	require.Error(t, err)
	assert.True(t, IsSoft(err))
	assert.EqualValues(t, 1, countEntries(t, s))

	l := s.LookupExact(ctx, HashText("q"), "", "")
	require.True(t, l.IsHit())
	assert.Equal(t, TierDurable, l.Tier)

	l = s.LookupExact(ctx, HashText("unknown"), "", "")
	assert.Equal(t, Degraded, l.Status)
	assert.True(t, IsSoft(l.Err))
	assert.ErrorIs(t, l.Err, errBroken)

	_, err = s.InvalidateByDocument(ctx, "doc-1")
	assert.ErrorIs(t, err, ErrTierUnavailable)
	assert.EqualValues(t, 1, countEntries(t, s))

	_, err = s.ClearAll(ctx)
	assert.ErrorIs(t, err, ErrTierUnavailable)
	assert.True(t, IsSoft(err))
}

func TestGetStatsAndListRecent(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t, nil, Options{})

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalEntries)
	assert.Nil(t, stats.OldestEntry)
	assert.Equal(t, "none", stats.FastTier)

	require.NoError(t, s.Save(ctx, Record{Query: "first", Response: strings.Repeat("á", 300)}))
	clock.Advance(time.Minute)
	require.NoError(t, s.Save(ctx, Record{Query: "second", Response: "short"}))
	require.NoError(t, s.PutEmbedding(ctx, "first", []float32{1}))

	l := s.LookupExact(ctx, HashText("second"), "", "")
	require.True(t, l.IsHit())
	require.NoError(t, s.RecordHit(ctx, l.Entry.ID))
	require.NoError(t, s.RecordHit(ctx, l.Entry.ID))
	require.NoError(t, s.RecordHit(ctx, l.Entry.ID))

	stats, err = s.GetStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalEntries)
	assert.EqualValues(t, 2, stats.LiveEntries)
	assert.EqualValues(t, 3, stats.TotalHits)
	assert.InDelta(t, 1.5, stats.AvgHitCount, 1e-9)
	assert.EqualValues(t, 1, stats.EmbeddingCacheSize)
	require.NotNil(t, stats.OldestEntry)
	require.NotNil(t, stats.NewestEntry)
	assert.True(t, stats.OldestEntry.Before(*stats.NewestEntry))

	recent, err := s.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "second", recent[0].Query)
	assert.Equal(t, 203, len([]rune(recent[1].Response)))
	assert.True(t, strings.HasSuffix(recent[1].Response, "..."))
}
