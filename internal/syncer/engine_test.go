package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketledger/ledgersync/internal/domain"
	domainerrors "github.com/pocketledger/ledgersync/internal/errors"
	"github.com/pocketledger/ledgersync/internal/remote"
	"github.com/pocketledger/ledgersync/internal/store/sqlite"
	"github.com/pocketledger/ledgersync/internal/syncstate"
)

var t10 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type testEnv struct {
	store   *sqlite.Store
	remote  *remote.Memory
	clock   *testClock
	tracker *Tracker
	state   *syncstate.Publisher
	engine  *Engine
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &testClock{now: t10}
	s, err := sqlite.Open(sqlite.MemoryPath, testLogger(), sqlite.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	env := &testEnv{
		store:   s,
		remote:  remote.NewMemory(nil),
		clock:   clock,
		tracker: NewTracker(),
		state:   syncstate.New(),
	}
	env.engine = NewEngine(s, env.remote, env.tracker, env.state, testLogger(), WithClock(clock.Now))
	return env
}

func (env *testEnv) withRemote(rem remote.Adapter) *Engine {
	env.engine = NewEngine(env.store, rem, env.tracker, env.state, testLogger(), WithClock(env.clock.Now))
	return env.engine
}

func newExpense(id, userID string, amount int64) *domain.Expense {
	return &domain.Expense{
		Syncable: domain.Syncable{ID: id},
		UserID:   userID,
		Amount:   decimal.NewFromInt(amount),
		Type:     domain.TypeExpense,
		Date:     t10,
	}
}

func putRemote(t *testing.T, m *remote.Memory, c domain.Collection, rec domain.Record) {
	t.Helper()
	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, m.Upsert(context.Background(), c, raw))
}

func remoteExpense(t *testing.T, m *remote.Memory, id string) *domain.Expense {
	t.Helper()
	raw, ok := m.Get(domain.CollectionExpenses, id)
	require.True(t, ok, "remote has no expense %s", id)
	var e domain.Expense
	require.NoError(t, json.Unmarshal(raw, &e))
	return &e
}

func TestSync_PushesLocalExpense(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.Expenses.Insert(ctx, newExpense("e1", "u1", 42)))
	env.clock.Set(t10.Add(time.Minute))

	res, err := env.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Synced)
	assert.Zero(t, res.Failed)
	assert.Zero(t, res.Conflicts)
	assert.Equal(t, 1, res.Collections[domain.CollectionExpenses].Pushed)

	got := remoteExpense(t, env.remote, "e1")
	assert.True(t, decimal.NewFromInt(42).Equal(got.Amount))
	assert.True(t, t10.Equal(got.UpdatedAt))

	local, err := env.store.Expenses.Get(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, local.Synced)
}

func TestSync_OlderRemoteIsConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c1 := &domain.Category{Syncable: domain.Syncable{ID: "c1"}, UserID: "u1", Name: "Food", Type: domain.TypeExpense, Active: true}
	require.NoError(t, env.store.Categories.Insert(ctx, c1))
	ok, err := env.store.Categories.MarkSynced(ctx, "c1", t10)
	require.NoError(t, err)
	require.True(t, ok)

	stale := &domain.Category{
		Syncable: domain.Syncable{ID: "c1", CreatedAt: t10.Add(-2 * time.Hour), UpdatedAt: t10.Add(-time.Hour)},
		UserID:   "u1", Name: "Groceries", Type: domain.TypeExpense, Active: true,
	}
	putRemote(t, env.remote, domain.CollectionCategories, stale)

	res, err := env.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Conflicts)
	assert.Equal(t, 1, res.Collections[domain.CollectionCategories].Conflicts)

	local, err := env.store.Categories.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Food", local.Name)
	assert.True(t, t10.Equal(local.UpdatedAt))
	assert.Equal(t, syncstate.HealthConflict, env.state.Snapshot().Health)
}

func TestSync_EqualTimestampLocalWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.Expenses.Insert(ctx, newExpense("e1", "u1", 42)))
	env.remote.FailRecord("e1", errors.New("rejected"))

	other := newExpense("e1", "u1", 7)
	other.CreatedAt, other.UpdatedAt = t10, t10
	putRemoteBypass(t, env.remote, other)

	res, err := env.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Conflicts)

	local, err := env.store.Expenses.Get(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(42).Equal(local.Amount))
	assert.False(t, local.Synced)
	assert.True(t, env.tracker.IsDirty(), "failed push leaves work pending")
}

// putRemoteBypass stores rec even if the record is set to fail.
func putRemoteBypass(t *testing.T, m *remote.Memory, e *domain.Expense) {
	t.Helper()
	m.FailRecord(e.ID, nil)
	putRemote(t, m, domain.CollectionExpenses, e)
	m.FailRecord(e.ID, errors.New("rejected"))
}

func TestSync_NewerRemoteReplacesLocal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.Expenses.Insert(ctx, newExpense("e1", "u1", 42)))
	_, err := env.store.Expenses.MarkSynced(ctx, "e1", t10)
	require.NoError(t, err)

	newer := newExpense("e1", "u1", 50)
	newer.CreatedAt, newer.UpdatedAt = t10, t10.Add(time.Minute)
	putRemote(t, env.remote, domain.CollectionExpenses, newer)

	res, err := env.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Collections[domain.CollectionExpenses].Pulled)
	assert.Zero(t, res.Conflicts)

	local, err := env.store.Expenses.Get(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(50).Equal(local.Amount))
	assert.True(t, local.Synced)
}

func TestSync_OwnPushIsNotAConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.Expenses.Insert(ctx, newExpense("e1", "u1", 42)))

	res, err := env.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, res.Conflicts)
	assert.Equal(t, syncstate.HealthSynced, env.state.Snapshot().Health)
}

func TestSync_TombstonesArePushed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.Expenses.Insert(ctx, newExpense("e1", "u1", 42)))
	_, err := env.engine.Sync(ctx, "u1")
	require.NoError(t, err)

	env.clock.Set(t10.Add(time.Minute))
	require.NoError(t, env.store.Expenses.SoftDelete(ctx, "e1"))
	_, err = env.engine.Sync(ctx, "u1")
	require.NoError(t, err)

	assert.NotNil(t, remoteExpense(t, env.remote, "e1").DeletedAt)
}

// gatedRemote blocks upserts until released.
type gatedRemote struct {
	*remote.Memory
	entered chan struct{}
	release chan struct{}
}

func (g *gatedRemote) Upsert(ctx context.Context, c domain.Collection, rec json.RawMessage) error {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return g.Memory.Upsert(ctx, c, rec)
}

func TestSync_ConcurrentCallRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gate := &gatedRemote{Memory: env.remote, entered: make(chan struct{}, 1), release: make(chan struct{})}
	engine := env.withRemote(gate)

	require.NoError(t, env.store.Expenses.Insert(ctx, newExpense("e1", "u1", 42)))

	type outcome struct {
		res Result
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := engine.Sync(ctx, "u1")
		first <- outcome{res, err}
	}()
	<-gate.entered

	res, err := engine.Sync(ctx, "u1")
	assert.True(t, errors.Is(err, domainerrors.ErrConcurrentSync))
	assert.False(t, res.Success)
	history, herr := env.store.SyncHistory(ctx, "u1", 10)
	require.NoError(t, herr)
	assert.Empty(t, history)

	close(gate.release)
	got := <-first
	require.NoError(t, got.err)
	assert.True(t, got.res.Success)
	assert.False(t, engine.Running())

	// The guard is released; the next call runs.
	_, err = engine.Sync(ctx, "u1")
	assert.NoError(t, err)
}

func TestSync_WatermarkMonotonic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	first, ok, err := env.store.LastSync(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, t10.Equal(first))

	// Clock steps backwards.
	env.clock.Set(t10.Add(-time.Hour))
	_, err = env.engine.Sync(ctx, "u1")
	require.NoError(t, err)

	history, err := env.store.SyncHistory(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, entry := range history {
		assert.False(t, entry.LastSyncTime.Before(first))
	}
}

func TestSync_FullyFailedCycleKeepsWatermark(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.Expenses.Insert(ctx, newExpense("e1", "u1", 42)))
	env.remote.SetUnavailable(errors.New("offline"))

	res, err := env.engine.Sync(ctx, "u1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrRemoteUnavailable))
	assert.False(t, res.Success)
	assert.Equal(t, 1+len(domain.Collections()), res.Failed)

	_, ok, err := env.store.LastSync(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok, "watermark must not advance")

	snap := env.state.Snapshot()
	assert.Equal(t, syncstate.StatusError, snap.Status)
	assert.Equal(t, 1, snap.Pending)
	assert.True(t, env.tracker.IsDirty())

	local, err := env.store.Expenses.Get(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, local.Synced)
}

func TestSync_PartialFailureAdvancesWatermark(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.Expenses.Insert(ctx, newExpense("good", "u1", 1)))
	require.NoError(t, env.store.Expenses.Insert(ctx, newExpense("bad", "u1", 2)))
	env.remote.FailRecord("bad", errors.New("rejected"))

	res, err := env.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 1, res.Failed)

	_, ok, err := env.store.LastSync(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	bad, err := env.store.Expenses.Get(ctx, "bad")
	require.NoError(t, err)
	assert.False(t, bad.Synced)
	assert.Equal(t, syncstate.HealthPending, env.state.Snapshot().Health)

	// The failed record is retried on the next cycle.
	env.remote.FailRecord("bad", nil)
	env.clock.Set(t10.Add(time.Minute))
	res, err = env.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Collections[domain.CollectionExpenses].Pushed)
	assert.Equal(t, 2, env.remote.Len(domain.CollectionExpenses))
}

// lostAckRemote stores the first upsert but reports it as failed.
type lostAckRemote struct {
	*remote.Memory
	once sync.Once
}

func (r *lostAckRemote) Upsert(ctx context.Context, c domain.Collection, rec json.RawMessage) error {
	if err := r.Memory.Upsert(ctx, c, rec); err != nil {
		return err
	}
	var lost error
	r.once.Do(func() { lost = domainerrors.RemoteUnavailable(errors.New("timeout"), "upsert") })
	return lost
}

func TestSync_IdempotentPush(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	engine := env.withRemote(&lostAckRemote{Memory: env.remote})

	require.NoError(t, env.store.Expenses.Insert(ctx, newExpense("e1", "u1", 42)))

	res, err := engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	env.clock.Set(t10.Add(time.Minute))
	res, err = engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, res.Failed)

	assert.Equal(t, 2, env.remote.Upserts())
	assert.Equal(t, 1, env.remote.Len(domain.CollectionExpenses))
	local, err := env.store.Expenses.Get(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, local.Synced)
}

func TestSync_DiscoversNewGroups(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A prior cycle set the watermark.
	_, err := env.engine.Sync(ctx, "u1")
	require.NoError(t, err)

	// Older than the watermark: the group's history predates the join.
	old := t10.Add(-24 * time.Hour)
	shared := newExpense("e-shared", "u2", 30)
	shared.GroupID = "g1"
	shared.CreatedAt, shared.UpdatedAt = old, old
	putRemote(t, env.remote, domain.CollectionExpenses, shared)
	putRemote(t, env.remote, domain.CollectionGroups, &domain.Group{
		Syncable: domain.Syncable{ID: "g1", CreatedAt: old, UpdatedAt: old}, Name: "Flat", OwnerID: "u2",
	})
	putRemote(t, env.remote, domain.CollectionGroupMembers, &domain.GroupMember{
		Syncable: domain.Syncable{ID: "m-owner", CreatedAt: old, UpdatedAt: old}, GroupID: "g1", UserID: "u2", Role: domain.RoleOwner,
	})

	// Joined on another device after the watermark.
	joined := t10.Add(time.Minute)
	putRemote(t, env.remote, domain.CollectionGroupMembers, &domain.GroupMember{
		Syncable: domain.Syncable{ID: "m1", CreatedAt: joined, UpdatedAt: joined}, GroupID: "g1", UserID: "u1", Role: domain.RoleMember, JoinedAt: joined,
	})

	env.clock.Set(t10.Add(2 * time.Minute))
	res, err := env.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, res.Conflicts)

	_, err = env.store.Groups.Get(ctx, "g1")
	assert.NoError(t, err)
	_, err = env.store.GroupMembers.Get(ctx, "m-owner")
	assert.NoError(t, err)
	got, err := env.store.Expenses.Get(ctx, "e-shared")
	require.NoError(t, err)
	assert.True(t, got.Synced)
}

func TestSync_ScopeExcludesOtherUsers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stranger := newExpense("e2", "u2", 5)
	stranger.CreatedAt, stranger.UpdatedAt = t10, t10
	putRemote(t, env.remote, domain.CollectionExpenses, stranger)

	_, err := env.engine.Sync(ctx, "u1")
	require.NoError(t, err)

	_, err = env.store.Expenses.Find(ctx, "e2")
	assert.True(t, errors.Is(err, domainerrors.ErrNotFound))
}

func TestSync_OtherUsersChangesAreNotPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.Expenses.Insert(ctx, newExpense("e1", "u1", 10)))
	require.NoError(t, env.store.Expenses.Insert(ctx, newExpense("e2", "u2", 20)))
	env.clock.Set(t10.Add(time.Minute))

	res, err := env.engine.Sync(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)

	snap := env.state.Snapshot()
	assert.Zero(t, snap.Pending)
	assert.Equal(t, syncstate.HealthSynced, snap.Health)

	local, err := env.store.Expenses.Get(ctx, "e2")
	require.NoError(t, err)
	assert.False(t, local.Synced, "u2's expense waits for u2's sync")
}
