package bus

import (
	"context"
	"errors"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/authcache"
)

// Redis carries invalidation events across processes over a pub/sub
// channel. Events are msgpack-encoded; malformed payloads are dropped and
// logged, never fatal. Redis pub/sub is itself at-most-once, which matches
// the bus contract.
type Redis struct {
	rdb         goredis.UniversalClient
	channel     string
	log         authcache.Logger
	closeClient bool

	pubsub *goredis.PubSub

	mu     sync.RWMutex
	subs   map[uint64]Handler
	nextID uint64

	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ Bus = (*Redis)(nil)

type RedisConfig struct {
	Client      goredis.UniversalClient
	Channel     string // e.g. "authcache:inval:prod"
	Logger      authcache.Logger
	CloseClient bool // set true only if this bus exclusively owns the client
}

func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Client == nil {
		return nil, errors.New("bus: nil redis client")
	}
	if cfg.Channel == "" {
		return nil, errors.New("bus: channel is required")
	}
	log := cfg.Logger
	if log == nil {
		log = authcache.NopLogger{}
	}

	b := &Redis{
		rdb:         cfg.Client,
		channel:     cfg.Channel,
		log:         log,
		closeClient: cfg.CloseClient,
		subs:        make(map[uint64]Handler),
	}

	b.pubsub = b.rdb.Subscribe(context.Background(), b.channel)
	b.wg.Add(1)
	go b.receiveLoop()

	return b, nil
}

func (b *Redis) Publish(ctx context.Context, ev Event) error {
	payload, err := msgpack.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, payload).Err()
}

func (b *Redis) Subscribe(h Handler) (cancel func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *Redis) receiveLoop() {
	defer b.wg.Done()
	for msg := range b.pubsub.Channel() {
		var ev Event
		if err := msgpack.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			b.log.Warn("undecodable invalidation event dropped", authcache.Fields{"channel": b.channel, "err": err})
			continue
		}
		b.mu.RLock()
		handlers := make([]Handler, 0, len(b.subs))
		for _, h := range b.subs {
			handlers = append(handlers, h)
		}
		b.mu.RUnlock()
		for _, h := range handlers {
			h(ev)
		}
	}
}

func (b *Redis) Close(context.Context) error {
	var err error
	b.closeOnce.Do(func() {
		err = b.pubsub.Close() // ends receiveLoop's channel
		b.wg.Wait()
		if b.closeClient {
			if cerr := b.rdb.Close(); cerr != nil && !errors.Is(cerr, goredis.ErrClosed) && err == nil {
				err = cerr
			}
		}
	})
	return err
}
