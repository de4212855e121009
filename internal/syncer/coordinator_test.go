package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketledger/ledgersync/internal/domain"
	"github.com/pocketledger/ledgersync/internal/syncstate"
)

type fakeListener struct {
	mu      sync.Mutex
	running bool
	starts  int
	stops   int
	userID  string
}

func (l *fakeListener) Start(_ context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = true
	l.starts++
	l.userID = userID
	return nil
}

func (l *fakeListener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = false
	l.stops++
}

func (l *fakeListener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func newTestCoordinator(t *testing.T, env *testEnv, listener RealtimeListener, monitor *Monitor) *Coordinator {
	t.Helper()
	c := NewCoordinator(env.engine, listener, monitor, CoordinatorConfig{
		Debounce: 20 * time.Millisecond,
		AutoSync: true,
	}, testLogger())
	t.Cleanup(c.Stop)
	return c
}

func hasWatermark(t *testing.T, env *testEnv) func() bool {
	return func() bool {
		_, ok, err := env.store.LastSync(context.Background(), "u1")
		require.NoError(t, err)
		return ok
	}
}

func TestCoordinator_StartupSync(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.Expenses.Insert(ctx, newExpense("e1", "u1", 42)))

	listener := &fakeListener{}
	c := newTestCoordinator(t, env, listener, nil)
	require.NoError(t, c.Start(ctx, "u1"))

	assert.True(t, listener.Running())
	listener.mu.Lock()
	assert.Equal(t, "u1", listener.userID)
	listener.mu.Unlock()

	require.Eventually(t, hasWatermark(t, env), 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, env.remote.Len(domain.CollectionExpenses))
	require.Eventually(t, func() bool {
		return env.state.Snapshot().Status == syncstate.StatusIdle
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, syncstate.HealthSynced, env.state.Snapshot().Health)
}

func TestCoordinator_StartTwice(t *testing.T) {
	env := newTestEnv(t)
	c := newTestCoordinator(t, env, nil, nil)

	require.NoError(t, c.Start(context.Background(), "u1"))
	assert.Error(t, c.Start(context.Background(), "u1"))
}

func TestCoordinator_MutationTriggersDebouncedSync(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := newTestCoordinator(t, env, nil, nil)
	require.NoError(t, c.Start(ctx, "u1"))
	require.Eventually(t, hasWatermark(t, env), 2*time.Second, 10*time.Millisecond)

	env.clock.Set(t10.Add(time.Minute))
	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, env.store.Expenses.Insert(ctx, newExpense(id, "u1", 1)))
		c.OnMutation(ctx)
	}

	require.Eventually(t, func() bool {
		return env.remote.Len(domain.CollectionExpenses) == 3
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return env.state.Snapshot().Pending == 0
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, env.remote.Upserts(), "each record pushed once")
}

func TestCoordinator_AutoSyncDisabled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := NewCoordinator(env.engine, nil, nil, CoordinatorConfig{Debounce: 10 * time.Millisecond}, testLogger())
	t.Cleanup(c.Stop)
	require.NoError(t, c.Start(ctx, "u1"))
	require.Eventually(t, hasWatermark(t, env), 2*time.Second, 10*time.Millisecond)

	require.NoError(t, env.store.Expenses.Insert(ctx, newExpense("e1", "u1", 1)))
	c.OnMutation(ctx)

	assert.Never(t, func() bool {
		return env.remote.Len(domain.CollectionExpenses) > 0
	}, 150*time.Millisecond, 10*time.Millisecond)
	assert.True(t, env.tracker.IsDirty())

	res, err := c.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
}

func TestCoordinator_Connectivity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	listener := &fakeListener{}
	c := newTestCoordinator(t, env, listener, nil)
	require.NoError(t, c.Start(ctx, "u1"))
	require.Eventually(t, hasWatermark(t, env), 2*time.Second, 10*time.Millisecond)

	c.SetOnline(false)
	assert.False(t, c.Online())
	assert.False(t, listener.Running())

	require.NoError(t, env.store.Expenses.Insert(ctx, newExpense("e1", "u1", 1)))
	c.OnMutation(ctx)
	assert.Never(t, func() bool {
		return env.remote.Len(domain.CollectionExpenses) > 0
	}, 150*time.Millisecond, 10*time.Millisecond)

	c.SetOnline(true)
	assert.True(t, listener.Running())
	require.Eventually(t, func() bool {
		return env.remote.Len(domain.CollectionExpenses) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Repeated reports of the same state are not transitions.
	c.SetOnline(true)
	listener.mu.Lock()
	assert.Equal(t, 2, listener.starts)
	listener.mu.Unlock()
}

func TestCoordinator_MonitorDrivesConnectivity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.remote.SetUnavailable(errors.New("offline"))

	listener := &fakeListener{}
	monitor := NewMonitor(env.remote, 20*time.Millisecond, testLogger())
	c := newTestCoordinator(t, env, listener, monitor)
	require.NoError(t, c.Start(ctx, "u1"))
	assert.False(t, c.Online())
	assert.False(t, listener.Running())

	env.remote.SetUnavailable(nil)
	require.Eventually(t, c.Online, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, hasWatermark(t, env), 2*time.Second, 10*time.Millisecond)
	assert.True(t, listener.Running())
}

func TestCoordinator_SyncNowRequiresStart(t *testing.T) {
	env := newTestEnv(t)
	c := newTestCoordinator(t, env, nil, nil)

	_, err := c.SyncNow(context.Background())
	assert.Error(t, err)
}

func TestCoordinator_StopIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	listener := &fakeListener{}
	c := newTestCoordinator(t, env, listener, nil)
	require.NoError(t, c.Start(context.Background(), "u1"))

	c.Stop()
	c.Stop()
	assert.False(t, listener.Running())

	_, err := c.SyncNow(context.Background())
	assert.Error(t, err)
}

func TestMonitor_Probe(t *testing.T) {
	env := newTestEnv(t)
	m := NewMonitor(env.remote, time.Second, testLogger())

	assert.True(t, m.Probe(context.Background()))
	env.remote.SetUnavailable(errors.New("down"))
	assert.False(t, m.Probe(context.Background()))
}
