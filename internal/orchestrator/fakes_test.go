package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/events"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/saga"
)

// memStore holds orders and sagas the way the database would: every read
// returns a fresh copy, nothing changes until Update is called, and rows added
// by a transaction stay invisible to other transactions until it commits.
type memStore struct {
	mu     sync.Mutex
	orders map[string]order.Order
	sagas  map[string]saga.Saga
	// order id -> transaction that added it and has not committed yet
	uncommitted map[string]int

	getErr    error
	updateErr error
}

func newMemStore() *memStore {
	return &memStore{orders: map[string]order.Order{}, sagas: map[string]saga.Saga{}, uncommitted: map[string]int{}}
}

type txKey struct{}

func txOf(ctx context.Context) int {
	id, _ := ctx.Value(txKey{}).(int)
	return id
}

// added and visible are called with mu held.
func (m *memStore) added(ctx context.Context, orderID string) {
	if id := txOf(ctx); id != 0 {
		m.uncommitted[orderID] = id
	}
}

func (m *memStore) visible(ctx context.Context, orderID string) bool {
	id, pending := m.uncommitted[orderID]
	return !pending || id == txOf(ctx)
}

func (m *memStore) settle(tx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for orderID, id := range m.uncommitted {
		if id == tx {
			delete(m.uncommitted, orderID)
		}
	}
}

func (m *memStore) snapshot() (map[string]order.Order, map[string]saga.Saga) {
	m.mu.Lock()
	defer m.mu.Unlock()
	orders := make(map[string]order.Order, len(m.orders))
	for k, v := range m.orders {
		orders[k] = v
	}
	sagas := make(map[string]saga.Saga, len(m.sagas))
	for k, v := range m.sagas {
		sagas[k] = v
	}
	return orders, sagas
}

func (m *memStore) restore(orders map[string]order.Order, sagas map[string]saga.Saga) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders, m.sagas = orders, sagas
}

type orderStore struct{ *memStore }

func (s orderStore) Add(ctx context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = *o
	s.added(ctx, o.ID)
	return nil
}

func (s orderStore) Update(ctx context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	if _, ok := s.orders[o.ID]; !ok {
		return order.ErrNotFound
	}
	s.orders[o.ID] = *o
	return nil
}

func (s orderStore) GetByID(ctx context.Context, orderID string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || !s.visible(ctx, orderID) {
		return nil, order.ErrNotFound
	}
	o.Items = append([]order.Item(nil), o.Items...)
	return &o, nil
}

func (s orderStore) ListByUser(ctx context.Context, userID string) ([]*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*order.Order
	for _, o := range s.orders {
		if o.UserID == userID && s.visible(ctx, o.ID) {
			o := o
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type sagaStore struct{ *memStore }

func (s sagaStore) Add(ctx context.Context, sg *saga.Saga) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sagas[sg.OrderID] = *sg
	s.added(ctx, sg.OrderID)
	return nil
}

func (s sagaStore) Update(ctx context.Context, sg *saga.Saga) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sagas[sg.OrderID]; !ok {
		return saga.ErrNotFound
	}
	s.sagas[sg.OrderID] = *sg
	return nil
}

func (s sagaStore) GetByOrderID(ctx context.Context, orderID string) (*saga.Saga, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	sg, ok := s.sagas[orderID]
	if !ok || !s.visible(ctx, orderID) {
		return nil, saga.ErrNotFound
	}
	// loading through Restore mirrors the repository and re-checks the history
	return saga.Restore(sg.ID, sg.OrderID, sg.Status, sg.CurrentStep,
		append([]saga.Entry(nil), sg.History...), sg.CreatedAt, sg.CompletedAt)
}

func (s sagaStore) GetByOrderIDForUpdate(ctx context.Context, orderID string) (*saga.Saga, error) {
	return s.GetByOrderID(ctx, orderID)
}

// memTx rolls the store back when fn fails. Each call is its own
// transaction, nested calls included.
type memTx struct {
	store *memStore
	calls int
}

func (t *memTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.calls++
	id := t.calls
	orders, sagas := t.store.snapshot()
	err := fn(context.WithValue(ctx, txKey{}, id))
	if err != nil {
		t.store.restore(orders, sagas)
	}
	t.store.settle(id)
	return err
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []events.Message
	// failOn makes Publish fail for messages of that topic
	failOn events.Topic
	// block makes Publish wait until ctx ends
	block bool
	// onPublish runs after a message is sent, outside the lock
	onPublish func(msg events.Message)
}

var errBrokerDown = errors.New("broker down")

func (p *recordingPublisher) Publish(ctx context.Context, msg events.Message) error {
	p.mu.Lock()
	if p.block {
		p.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}
	if p.failOn != "" && msg.Topic() == p.failOn {
		p.mu.Unlock()
		return errBrokerDown
	}
	p.sent = append(p.sent, msg)
	hook := p.onPublish
	p.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	return nil
}

func (p *recordingPublisher) topics() []events.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Topic, 0, len(p.sent))
	for _, m := range p.sent {
		out = append(out, m.Topic())
	}
	return out
}

func (p *recordingPublisher) last() events.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sent) == 0 {
		return nil
	}
	return p.sent[len(p.sent)-1]
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = nil
}
