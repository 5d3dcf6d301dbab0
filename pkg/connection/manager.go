package connection

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/adfharrison1/docbind/pkg/domain"
)

// ConnectedFunc is notified with the default database of a new connection.
type ConnectedFunc func(ctx context.Context, db domain.Database) error

// DisconnectedFunc is notified after the connection has been released.
type DisconnectedFunc func(ctx context.Context) error

type subscriber[F any] struct {
	id int
	fn F
}

// Manager owns the single connection handle shared by every collection
// binding. It dials at most once per Pending transition and notifies
// subscribers on every connect and disconnect.
//
// Subscribers must not call Connect, Disconnect or Reconnect from inside a
// notification.
type Manager struct {
	dialer domain.Dialer
	logger *log.Logger

	mu      sync.Mutex
	state   State
	current *transition
	client  domain.Client
	db      domain.Database

	nextID         int
	onConnected    []subscriber[ConnectedFunc]
	onDisconnected []subscriber[DisconnectedFunc]
}

type Option func(*Manager)

func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a manager that opens connections through dialer.
func NewManager(dialer domain.Dialer, options ...Option) *Manager {
	m := &Manager{
		dialer: dialer,
		logger: log.Default(),
	}
	for _, option := range options {
		option(m)
	}
	return m
}

// Connect establishes the connection described by uri and waits until every
// connected subscriber has returned. Concurrent callers share one dial. When
// already established it returns immediately without dialing. Subscriber
// errors are joined and returned; the connection stays established.
func (m *Manager) Connect(ctx context.Context, uri string) error {
	for {
		m.mu.Lock()
		switch m.state {
		case Established:
			m.mu.Unlock()
			return nil

		case Pending:
			t := m.current
			m.mu.Unlock()
			return wait(ctx, t)

		case Closing:
			t := m.current
			m.mu.Unlock()
			if err := wait(ctx, t); err != nil && ctx.Err() != nil {
				return err
			}

		case Absent:
			t := newTransition()
			m.state = Pending
			m.current = t
			m.mu.Unlock()
			return m.dial(ctx, uri, t)
		}
	}
}

func (m *Manager) dial(ctx context.Context, uri string, t *transition) error {
	client, err := m.dialer.Dial(ctx, uri)
	if err != nil {
		m.logger.Printf("ERROR: failed to connect: %v", err)
		m.settle(t, Absent, domain.WrapDriver("connect", err))
		return t.err
	}

	db := client.Database()
	m.mu.Lock()
	m.client = client
	m.db = db
	subs := snapshot(m.onConnected)
	m.mu.Unlock()

	m.logger.Printf("INFO: connected to database %s", db.Name())

	err = broadcast(subs, func(fn ConnectedFunc) error { return fn(ctx, db) })
	if err != nil {
		m.logger.Printf("ERROR: connected subscribers failed: %v", err)
	}
	m.settle(t, Established, err)
	return t.err
}

// Disconnect releases the connection and waits until every disconnected
// subscriber has returned. It is a no-op when nothing is connected, and
// waits for an in-flight connect to settle first. The manager always ends
// Absent, even when the driver fails to close.
func (m *Manager) Disconnect(ctx context.Context) error {
	for {
		m.mu.Lock()
		switch m.state {
		case Absent:
			m.mu.Unlock()
			return nil

		case Pending:
			t := m.current
			m.mu.Unlock()
			if err := wait(ctx, t); err != nil && ctx.Err() != nil {
				return err
			}

		case Closing:
			t := m.current
			m.mu.Unlock()
			return wait(ctx, t)

		case Established:
			t := newTransition()
			m.state = Closing
			m.current = t
			client := m.client
			m.mu.Unlock()
			return m.close(ctx, client, t)
		}
	}
}

func (m *Manager) close(ctx context.Context, client domain.Client, t *transition) error {
	closeErr := domain.WrapDriver("disconnect", client.Disconnect(ctx))
	if closeErr != nil {
		m.logger.Printf("WARN: failed to close connection cleanly: %v", closeErr)
	}

	m.mu.Lock()
	m.client = nil
	m.db = nil
	subs := snapshot(m.onDisconnected)
	m.mu.Unlock()

	m.logger.Printf("INFO: disconnected")

	err := broadcast(subs, func(fn DisconnectedFunc) error { return fn(ctx) })
	if err != nil {
		m.logger.Printf("ERROR: disconnected subscribers failed: %v", err)
	}
	m.settle(t, Absent, errors.Join(closeErr, err))
	return t.err
}

// Reconnect fully disconnects and then connects to uri, so two handles are
// never live at once.
func (m *Manager) Reconnect(ctx context.Context, uri string) error {
	disconnectErr := m.Disconnect(ctx)
	if ctx.Err() != nil {
		return errors.Join(disconnectErr, ctx.Err())
	}
	return errors.Join(disconnectErr, m.Connect(ctx, uri))
}

// OnConnected subscribes fn to every future connect. When a connection is
// already established fn also runs immediately and its error is returned.
// While a transition is in flight the call waits for it to settle so fn is
// never missed. The returned func removes the subscription.
func (m *Manager) OnConnected(ctx context.Context, fn ConnectedFunc) (func(), error) {
	for {
		m.mu.Lock()
		if m.state == Pending || m.state == Closing {
			t := m.current
			m.mu.Unlock()
			select {
			case <-t.done:
				continue
			case <-ctx.Done():
				return func() {}, ctx.Err()
			}
		}

		id := m.subscribeConnected(fn)
		db := m.db
		established := m.state == Established
		m.mu.Unlock()

		unsubscribe := func() { m.unsubscribe(id) }
		if established {
			return unsubscribe, fn(ctx, db)
		}
		return unsubscribe, nil
	}
}

// OnDisconnected subscribes fn to every future disconnect. The returned
// func removes the subscription.
func (m *Manager) OnDisconnected(fn DisconnectedFunc) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.onDisconnected = append(m.onDisconnected, subscriber[DisconnectedFunc]{id: id, fn: fn})
	return func() { m.unsubscribe(id) }
}

// subscribeConnected must be called with m.mu held.
func (m *Manager) subscribeConnected(fn ConnectedFunc) int {
	m.nextID++
	m.onConnected = append(m.onConnected, subscriber[ConnectedFunc]{id: m.nextID, fn: fn})
	return m.nextID
}

func (m *Manager) unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = without(m.onConnected, id)
	m.onDisconnected = without(m.onDisconnected, id)
}

// IsConnected reports whether a connection is established.
func (m *Manager) IsConnected() bool {
	return m.State() == Established
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentClient returns the live handle, or nil.
func (m *Manager) CurrentClient() domain.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

// CurrentDB returns the default database of the live handle, or nil.
func (m *Manager) CurrentDB() domain.Database {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db
}

func (m *Manager) settle(t *transition, next State, err error) {
	m.mu.Lock()
	m.state = next
	m.current = nil
	if next == Absent {
		m.client = nil
		m.db = nil
	}
	t.err = err
	m.mu.Unlock()
	close(t.done)
}

func wait(ctx context.Context, t *transition) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// broadcast runs every subscriber concurrently and joins their errors.
func broadcast[F any](subs []F, call func(F) error) error {
	if len(subs) == 0 {
		return nil
	}
	p := pool.New().WithErrors()
	for _, fn := range subs {
		fn := fn
		p.Go(func() error { return call(fn) })
	}
	return p.Wait()
}

func snapshot[F any](subs []subscriber[F]) []F {
	out := make([]F, len(subs))
	for i, s := range subs {
		out[i] = s.fn
	}
	return out
}

func without[F any](subs []subscriber[F], id int) []subscriber[F] {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
