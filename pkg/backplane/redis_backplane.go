package backplane

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisBackplane broadcasts connection-layer control messages through Redis
// pub/sub. It holds two connections: one for publishing and one for
// subscribing. They must be independent because a subscribed Redis
// connection cannot issue regular commands; this is a hard constraint, not
// an optimization. Both are process-lifetime singletons created at gateway
// startup.
type RedisBackplane struct {
	pub       *redis.Client
	sub       *redis.Client
	channel   string
	processID string
	logger    *logrus.Entry

	mu sync.RWMutex
	// userID -> origin process id -> live connection count
	membership map[string]map[string]int

	pubsub *redis.PubSub
}

func NewRedisBackplane(pub, sub *redis.Client, prefix string, logger *logrus.Entry) (*RedisBackplane, error) {
	if pub == nil || sub == nil {
		return nil, fmt.Errorf("%w: publish and subscribe clients are required", ErrInvalidConfig)
	}
	if pub == sub {
		return nil, fmt.Errorf("%w: publish and subscribe clients must be independent connections", ErrInvalidConfig)
	}
	if logger == nil {
		nop := logrus.New()
		nop.SetLevel(logrus.PanicLevel)
		logger = logrus.NewEntry(nop)
	}
	return &RedisBackplane{
		pub:        pub,
		sub:        sub,
		channel:    ChannelName(prefix),
		processID:  uuid.New().String(),
		logger:     logger,
		membership: make(map[string]map[string]int),
	}, nil
}

func (b *RedisBackplane) ProcessID() string {
	return b.processID
}

// Start subscribes to the broadcast channel and consumes control messages
// until ctx is cancelled. Broadcasts from sibling processes are handed to
// handler; the backplane ignores its own messages.
func (b *RedisBackplane) Start(ctx context.Context, handler DeliveryHandler) error {
	if handler == nil {
		return fmt.Errorf("%w: handler is required", ErrInvalidConfig)
	}
	if b.pubsub != nil {
		return fmt.Errorf("%w: backplane already started", ErrInvalidConfig)
	}

	b.pubsub = b.sub.Subscribe(ctx, b.channel)
	if _, err := b.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("backplane subscribe: %w", err)
	}

	go func() {
		ch := b.pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = b.pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.handleRaw([]byte(msg.Payload), handler)
			}
		}
	}()
	return nil
}

func (b *RedisBackplane) handleRaw(raw []byte, handler DeliveryHandler) {
	m, err := decodeControlMessage(raw)
	if err != nil {
		b.logger.WithError(err).Warn("backplane: dropping undecodable message")
		return
	}
	b.handleMessage(m, handler)
}

func (b *RedisBackplane) handleMessage(m ControlMessage, handler DeliveryHandler) {
	if m.Origin == b.processID {
		return
	}
	switch m.Kind {
	case KindJoin:
		b.track(m.UserID, m.Origin, 1)
	case KindLeave:
		b.track(m.UserID, m.Origin, -1)
	case KindBroadcast:
		handler.DeliverLocal(m.UserID, m.Event, m.Payload)
	default:
		b.logger.WithField("kind", string(m.Kind)).Warn("backplane: unknown message kind")
	}
}

// Join records a local connection for userID and announces it cluster-wide.
func (b *RedisBackplane) Join(ctx context.Context, userID string) error {
	b.track(userID, b.processID, 1)
	return b.publish(ctx, ControlMessage{Kind: KindJoin, Origin: b.processID, UserID: userID})
}

// Leave records a local disconnect for userID and announces it cluster-wide.
func (b *RedisBackplane) Leave(ctx context.Context, userID string) error {
	b.track(userID, b.processID, -1)
	return b.publish(ctx, ControlMessage{Kind: KindLeave, Origin: b.processID, UserID: userID})
}

// Broadcast asks sibling processes to deliver an event to their local
// connections for userID.
func (b *RedisBackplane) Broadcast(ctx context.Context, userID, event string, payload json.RawMessage) error {
	return b.publish(ctx, ControlMessage{
		Kind:    KindBroadcast,
		Origin:  b.processID,
		UserID:  userID,
		Event:   event,
		Payload: payload,
	})
}

func (b *RedisBackplane) publish(ctx context.Context, m ControlMessage) error {
	raw, err := m.encode()
	if err != nil {
		return err
	}
	if err := b.pub.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("backplane publish: %w", err)
	}
	return nil
}

func (b *RedisBackplane) track(userID, origin string, delta int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	origins := b.membership[userID]
	if origins == nil {
		if delta <= 0 {
			return
		}
		origins = make(map[string]int)
		b.membership[userID] = origins
	}
	origins[origin] += delta
	if origins[origin] <= 0 {
		delete(origins, origin)
	}
	if len(origins) == 0 {
		delete(b.membership, userID)
	}
}

// IsOnline reports whether any process in the cluster currently holds a
// connection for userID, as far as this process's converged view goes.
func (b *RedisBackplane) IsOnline(userID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.membership[userID]) > 0
}

// ConnectionCount returns the cluster-wide connection count for userID.
func (b *RedisBackplane) ConnectionCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := 0
	for _, n := range b.membership[userID] {
		total += n
	}
	return total
}
