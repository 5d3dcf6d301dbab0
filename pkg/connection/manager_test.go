package connection_test

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adfharrison1/docbind/pkg/connection"
	"github.com/adfharrison1/docbind/pkg/domain"
	"github.com/adfharrison1/docbind/pkg/storage"
)

const uri = "memdb://test"

var quiet = log.New(io.Discard, "", 0)

func newManager(options ...storage.EngineOption) (*connection.Manager, *storage.Engine) {
	engine := storage.NewEngine(append([]storage.EngineOption{storage.WithLogger(quiet)}, options...)...)
	return connection.NewManager(engine, connection.WithLogger(quiet)), engine
}

func TestConnect_ConcurrentCallersShareOneDial(t *testing.T) {
	m, engine := newManager(storage.WithDialDelay(20 * time.Millisecond))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Connect(ctx, uri)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 1, engine.Dials())
	assert.EqualValues(t, 1, engine.OpenClients())
	assert.True(t, m.IsConnected())
	assert.Equal(t, "test", m.CurrentDB().Name())
	assert.NotNil(t, m.CurrentClient())
}

func TestConnect_EstablishedDoesNotRedial(t *testing.T) {
	m, engine := newManager()
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx, uri))
	require.NoError(t, m.Connect(ctx, uri))

	assert.EqualValues(t, 1, engine.Dials())
}

func TestConnect_DialFailure(t *testing.T) {
	refuse := atomic.Bool{}
	refuse.Store(true)
	m, engine := newManager(storage.WithDialHook(func(context.Context, string) error {
		if refuse.Load() {
			return errors.New("connection refused")
		}
		return nil
	}))
	ctx := context.Background()

	err := m.Connect(ctx, uri)
	var driverErr *domain.DriverError
	require.ErrorAs(t, err, &driverErr)
	assert.Equal(t, "connect", driverErr.Op)
	assert.Equal(t, connection.Absent, m.State())
	assert.Nil(t, m.CurrentDB())

	refuse.Store(false)
	require.NoError(t, m.Connect(ctx, uri))
	assert.EqualValues(t, 2, engine.Dials())
}

func TestConnect_WaitsForSubscribers(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()

	var done atomic.Int32
	for i := 0; i < 3; i++ {
		_, err := m.OnConnected(ctx, func(context.Context, domain.Database) error {
			time.Sleep(10 * time.Millisecond)
			done.Add(1)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, m.Connect(ctx, uri))
	assert.EqualValues(t, 3, done.Load())
}

func TestConnect_JoinsSubscriberErrors(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()
	first, second := errors.New("first"), errors.New("second")

	for _, e := range []error{first, nil, second} {
		e := e
		_, err := m.OnConnected(ctx, func(context.Context, domain.Database) error { return e })
		require.NoError(t, err)
	}

	err := m.Connect(ctx, uri)
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
	assert.True(t, m.IsConnected(), "the connection itself succeeded")
}

func TestOnConnected_ReplaysWhenAlreadyConnected(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx, uri))

	var got domain.Database
	_, err := m.OnConnected(ctx, func(_ context.Context, db domain.Database) error {
		got = db
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "test", got.Name())

	boom := errors.New("boom")
	_, err = m.OnConnected(ctx, func(context.Context, domain.Database) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestOnConnected_PersistsAcrossReconnects(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()

	var calls atomic.Int32
	_, err := m.OnConnected(ctx, func(context.Context, domain.Database) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, m.Connect(ctx, uri))
	require.NoError(t, m.Reconnect(ctx, uri))
	require.NoError(t, m.Disconnect(ctx))
	require.NoError(t, m.Connect(ctx, uri))

	assert.EqualValues(t, 3, calls.Load())
}

func TestReconnect_NeverHoldsTwoHandles(t *testing.T) {
	m, engine := newManager()
	ctx := context.Background()

	var maxOpen atomic.Int64
	_, err := m.OnConnected(ctx, func(context.Context, domain.Database) error {
		if n := engine.OpenClients(); n > maxOpen.Load() {
			maxOpen.Store(n)
		}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, m.Connect(ctx, uri))
	first := m.CurrentClient()
	require.NoError(t, m.Reconnect(ctx, uri))

	assert.EqualValues(t, 1, maxOpen.Load())
	assert.EqualValues(t, 1, engine.OpenClients())
	assert.EqualValues(t, 2, engine.Dials())
	assert.NotSame(t, first, m.CurrentClient())
	assert.ErrorIs(t, first.Disconnect(ctx), storage.ErrClientDisconnected, "old handle was released")
}

func TestDisconnect(t *testing.T) {
	m, engine := newManager()
	ctx := context.Background()

	require.NoError(t, m.Disconnect(ctx), "no-op when absent")

	var disconnects atomic.Int32
	unsubscribe := m.OnDisconnected(func(context.Context) error {
		disconnects.Add(1)
		return nil
	})

	require.NoError(t, m.Connect(ctx, uri))
	require.NoError(t, m.Disconnect(ctx))
	assert.EqualValues(t, 1, disconnects.Load())
	assert.False(t, m.IsConnected())
	assert.Nil(t, m.CurrentClient())
	assert.Nil(t, m.CurrentDB())
	assert.EqualValues(t, 0, engine.OpenClients())

	unsubscribe()
	require.NoError(t, m.Connect(ctx, uri))
	require.NoError(t, m.Disconnect(ctx))
	assert.EqualValues(t, 1, disconnects.Load(), "unsubscribed callbacks are not notified")
}

func TestDisconnect_WaitsForPendingConnect(t *testing.T) {
	m, engine := newManager(storage.WithDialDelay(30 * time.Millisecond))
	ctx := context.Background()

	connected := make(chan error, 1)
	go func() { connected <- m.Connect(ctx, uri) }()
	require.Eventually(t, func() bool { return m.State() == connection.Pending }, time.Second, time.Millisecond)

	require.NoError(t, m.Disconnect(ctx))
	require.NoError(t, <-connected)

	assert.Equal(t, connection.Absent, m.State())
	assert.EqualValues(t, 0, engine.OpenClients())
}

func TestDisconnect_JoinsSubscriberErrors(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()
	failure := errors.New("flush failed")
	m.OnDisconnected(func(context.Context) error { return failure })

	require.NoError(t, m.Connect(ctx, uri))
	err := m.Disconnect(ctx)

	assert.ErrorIs(t, err, failure)
	assert.Equal(t, connection.Absent, m.State())
}

func TestState_String(t *testing.T) {
	tests := map[connection.State]string{
		connection.Absent:      "absent",
		connection.Pending:     "pending",
		connection.Established: "established",
		connection.Closing:     "closing",
		connection.State(42):   "unknown",
	}
	for state, want := range tests {
		assert.Equal(t, want, state.String())
	}
}
