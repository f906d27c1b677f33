package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/unkn0wn-root/authcache"
)

const defaultQueueLen = 1024

// Local is an in-process Bus. Each subscriber gets a bounded queue drained
// by its own goroutine; when the queue is full new events are dropped for
// that subscriber (best-effort delivery, same policy as the async hooks).
type Local struct {
	log  authcache.Logger
	qlen int

	mu     sync.RWMutex
	subs   map[uint64]*localSub
	nextID uint64
	closed bool

	wg sync.WaitGroup
}

type localSub struct {
	q    chan Event
	once sync.Once
}

var _ Bus = (*Local)(nil)

type LocalOptions struct {
	Logger   authcache.Logger
	QueueLen int // per-subscriber; 0 => 1024
}

func NewLocal(opts LocalOptions) *Local {
	qlen := opts.QueueLen
	if qlen <= 0 {
		qlen = defaultQueueLen
	}
	log := opts.Logger
	if log == nil {
		log = authcache.NopLogger{}
	}
	return &Local{
		log:  log,
		qlen: qlen,
		subs: make(map[uint64]*localSub),
	}
}

func (b *Local) Publish(_ context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errors.New("bus: closed")
	}
	for _, s := range b.subs {
		select {
		case s.q <- ev:
		default: // drop
			b.log.Warn("subscriber queue full; event dropped", authcache.Fields{"kind": ev.Kind, "value": ev.Value})
		}
	}
	return nil
}

func (b *Local) Subscribe(h Handler) (cancel func()) {
	s := &localSub{q: make(chan Event, b.qlen)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for ev := range s.q {
			h(ev)
		}
	}()

	return func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			s.once.Do(func() { close(s.q) })
		}
		b.mu.Unlock()
	}
}

func (b *Local) Close(context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		s.once.Do(func() { close(s.q) })
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}
