package database

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrowderSoup/kanban/board"
)

type stubStore struct {
	loadFn   func(ctx context.Context, boardID string) (*board.Snapshot, error)
	listFn   func(ctx context.Context) ([]board.Board, error)
	saveFn   func(ctx context.Context, snap *board.Snapshot) error
	deleteFn func(ctx context.Context, boardID string) error
}

func (s *stubStore) LoadBoard(ctx context.Context, boardID string) (*board.Snapshot, error) {
	if s.loadFn == nil {
		return nil, errors.New("unexpected LoadBoard call")
	}
	return s.loadFn(ctx, boardID)
}

func (s *stubStore) ListBoards(ctx context.Context) ([]board.Board, error) {
	if s.listFn == nil {
		return nil, errors.New("unexpected ListBoards call")
	}
	return s.listFn(ctx)
}

func (s *stubStore) SaveBoard(ctx context.Context, snap *board.Snapshot) error {
	if s.saveFn == nil {
		return errors.New("unexpected SaveBoard call")
	}
	return s.saveFn(ctx, snap)
}

func (s *stubStore) DeleteBoard(ctx context.Context, boardID string) error {
	if s.deleteFn == nil {
		return errors.New("unexpected DeleteBoard call")
	}
	return s.deleteFn(ctx, boardID)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheLoadBoardMissThenHit(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	var calls int
	cache := NewCache(&stubStore{
		loadFn: func(ctx context.Context, boardID string) (*board.Snapshot, error) {
			calls++
			return sampleSnapshot(boardID, time.Now().UTC()), nil
		},
	}, client, time.Minute)

	first, err := cache.LoadBoard(ctx, "b1")
	require.NoError(t, err)
	second, err := cache.LoadBoard(ctx, "b1")
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first.Board.ID, second.Board.ID)
	assert.Equal(t, "A", second.Lists[0].Title)
	ttl := mr.TTL(boardCacheKey("b1"))
	assert.True(t, ttl > 0 && ttl <= time.Minute, "unexpected TTL: %v", ttl)
}

func TestCacheLoadBoardPropagatesNotFound(t *testing.T) {
	mr, client := newRedis(t)
	cache := NewCache(&stubStore{
		loadFn: func(ctx context.Context, boardID string) (*board.Snapshot, error) {
			return nil, board.ErrNotFound
		},
	}, client, time.Minute)

	_, err := cache.LoadBoard(context.Background(), "nope")
	assert.ErrorIs(t, err, board.ErrNotFound)
	assert.False(t, mr.Exists(boardCacheKey("nope")))
}

func TestCacheSaveWritesThrough(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	var saved int
	cache := NewCache(&stubStore{
		loadFn: func(ctx context.Context, boardID string) (*board.Snapshot, error) {
			return sampleSnapshot(boardID, time.Now().UTC()), nil
		},
		listFn: func(ctx context.Context) ([]board.Board, error) {
			return []board.Board{{ID: "b1"}}, nil
		},
		saveFn: func(ctx context.Context, snap *board.Snapshot) error {
			saved++
			return nil
		},
	}, client, time.Minute)

	_, err := cache.LoadBoard(ctx, "b1")
	require.NoError(t, err)
	_, err = cache.ListBoards(ctx)
	require.NoError(t, err)
	require.True(t, mr.Exists(boardCacheKey("b1")))
	require.True(t, mr.Exists(boardIndexKey))

	next := sampleSnapshot("b1", time.Now())
	next.Board.Title = "Renamed"
	require.NoError(t, cache.SaveBoard(ctx, next))
	assert.Equal(t, 1, saved)
	assert.False(t, mr.Exists(boardIndexKey))

	raw, err := mr.Get(boardCacheKey("b1"))
	require.NoError(t, err)
	var cached board.Snapshot
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	assert.Equal(t, "Renamed", cached.Board.Title)
	ttl := mr.TTL(boardCacheKey("b1"))
	assert.True(t, ttl > 0 && ttl <= time.Minute, "unexpected TTL: %v", ttl)
}

func TestCacheFillKeepsNewerEntry(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	cache := NewCache(&stubStore{
		loadFn: func(ctx context.Context, boardID string) (*board.Snapshot, error) {
			// A save lands between the store read and the cache fill.
			next := sampleSnapshot(boardID, time.Now())
			next.Board.Title = "Newer"
			data, err := json.Marshal(next)
			if err != nil {
				return nil, err
			}
			if err := mr.Set(boardCacheKey(boardID), string(data)); err != nil {
				return nil, err
			}
			return sampleSnapshot(boardID, time.Now()), nil
		},
	}, client, time.Minute)

	stale, err := cache.LoadBoard(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "Board b1", stale.Board.Title)

	got, err := cache.LoadBoard(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "Newer", got.Board.Title)
}

func TestCacheLoadBoardCommittedSkipsRedis(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	require.NoError(t, mr.Set(boardCacheKey("b1"), `{"board":{"id":"b1","title":"Cached"}}`))

	cache := NewCache(&stubStore{
		loadFn: func(ctx context.Context, boardID string) (*board.Snapshot, error) {
			return sampleSnapshot(boardID, time.Now()), nil
		},
	}, client, time.Minute)

	got, err := board.LoadCommitted(ctx, cache, "b1")
	require.NoError(t, err)
	assert.Equal(t, "Board b1", got.Board.Title)

	raw, err := mr.Get(boardCacheKey("b1"))
	require.NoError(t, err)
	assert.Contains(t, raw, "Cached")
}

func TestCacheSaveFailureKeepsCache(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	cache := NewCache(&stubStore{
		saveFn: func(ctx context.Context, snap *board.Snapshot) error {
			return errors.New("disk full")
		},
	}, client, time.Minute)
	require.NoError(t, mr.Set(boardCacheKey("b1"), "{}"))

	assert.Error(t, cache.SaveBoard(ctx, sampleSnapshot("b1", time.Now())))
	assert.True(t, mr.Exists(boardCacheKey("b1")))
}

func TestCacheFallsBackOnCorruptEntry(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	require.NoError(t, mr.Set(boardCacheKey("b1"), "not json"))

	var calls int
	cache := NewCache(&stubStore{
		loadFn: func(ctx context.Context, boardID string) (*board.Snapshot, error) {
			calls++
			return sampleSnapshot(boardID, time.Now().UTC()), nil
		},
	}, client, time.Minute)

	snap, err := cache.LoadBoard(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", snap.Board.ID)
	assert.Equal(t, 1, calls)
}

func TestCacheWithoutRedis(t *testing.T) {
	var calls int
	cache := NewCache(&stubStore{
		listFn: func(ctx context.Context) ([]board.Board, error) {
			calls++
			return []board.Board{}, nil
		},
	}, nil, time.Minute)

	for i := 0; i < 2; i++ {
		_, err := cache.ListBoards(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
}

func TestCacheOverSQLite(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()
	cache := NewCache(openTestStore(t), client, time.Minute)

	require.NoError(t, cache.SaveBoard(ctx, sampleSnapshot("b1", time.Now())))
	got, err := cache.LoadBoard(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "Board b1", got.Board.Title)

	require.NoError(t, cache.DeleteBoard(ctx, "b1"))
	_, err = cache.LoadBoard(ctx, "b1")
	assert.ErrorIs(t, err, board.ErrNotFound)
}

// gatedStore holds the next LoadBoard call after its read until release is closed.
type gatedStore struct {
	*Store

	mu      sync.Mutex
	armed   bool
	parked  chan struct{}
	release chan struct{}
}

func newGatedStore(base *Store) *gatedStore {
	return &gatedStore{Store: base, parked: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedStore) arm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = true
}

func (g *gatedStore) LoadBoard(ctx context.Context, boardID string) (*board.Snapshot, error) {
	snap, err := g.Store.LoadBoard(ctx, boardID)

	g.mu.Lock()
	hold := g.armed
	g.armed = false
	g.mu.Unlock()

	if hold {
		close(g.parked)
		<-g.release
	}
	return snap, err
}

func TestCacheSlowReaderDoesNotLoseWrites(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	gated := newGatedStore(openTestStore(t))
	svc := board.NewService(NewCache(gated, client, time.Minute), nil, logger)

	alice := board.User{ID: "alice", Name: "Alice", Email: "alice@example.com"}
	created, err := svc.CreateBoard(ctx, alice, "Launch", "", "")
	require.NoError(t, err)
	boardID := created.Board.ID
	list, err := svc.CreateList(ctx, alice, boardID, "Todo")
	require.NoError(t, err)
	mr.Del(boardCacheKey(boardID))

	// A reader misses the cache and stalls with the board as it was before "first".
	gated.arm()
	readErr := make(chan error, 1)
	go func() {
		_, err := svc.Board(ctx, alice, boardID)
		readErr <- err
	}()
	select {
	case <-gated.parked:
	case <-time.After(2 * time.Second):
		t.Fatal("reader never reached the store")
	}

	_, err = svc.CreateTask(ctx, alice, boardID, list.ID, "first", "")
	require.NoError(t, err)
	close(gated.release)
	require.NoError(t, <-readErr)

	cached, err := svc.Board(ctx, alice, boardID)
	require.NoError(t, err)
	require.Len(t, cached.Tasks[list.ID], 1)
	assert.Equal(t, "first", cached.Tasks[list.ID][0].Title)

	_, err = svc.CreateTask(ctx, alice, boardID, list.ID, "second", "")
	require.NoError(t, err)

	stored, err := gated.Store.LoadBoard(ctx, boardID)
	require.NoError(t, err)
	var titles []string
	for _, task := range stored.Tasks[list.ID] {
		titles = append(titles, task.Title)
	}
	assert.Equal(t, []string{"first", "second"}, titles)
}
