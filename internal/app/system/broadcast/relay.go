package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type relayMessage struct {
	channel string
	data    []byte
}

// RedisRelay shares events between instances through Redis pub/sub.
// Publishes go out as PUBLISH session:{id}; a PSUBSCRIBE session:* loop
// hands every received message to the local hub.
type RedisRelay struct {
	client  *redis.Client
	hub     *Hub
	log     *zap.Logger
	outbox  chan relayMessage
	timeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisRelay creates a relay for hub. Call Start to begin relaying.
func NewRedisRelay(client *redis.Client, hub *Hub, logger *zap.Logger, outboxSize int) *RedisRelay {
	if outboxSize <= 0 {
		outboxSize = 1024
	}
	return &RedisRelay{
		client:  client,
		hub:     hub,
		log:     logger,
		outbox:  make(chan relayMessage, outboxSize),
		timeout: 2 * time.Second,
	}
}

// Enqueue queues an event for publishing. It reports false when the outbox
// is full, in which case the hub delivers locally only.
func (r *RedisRelay) Enqueue(channel string, data []byte) bool {
	select {
	case r.outbox <- relayMessage{channel: channel, data: data}:
		return true
	default:
		r.log.Warn("redis relay outbox full; delivering locally", zap.String("channel", channel))
		return false
	}
}

// Start subscribes to session channels, installs the relay on the hub and
// starts the publish pump.
func (r *RedisRelay) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	ps := r.client.PSubscribe(ctx, channelPrefix+"*")
	// Receive waits for the subscription confirmation.
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		_ = ps.Close()
		return err
	}

	r.wg.Add(2)
	go r.subscribeLoop(ctx, ps)
	go r.publishLoop(ctx)
	r.hub.SetRelay(r)
	r.log.Info("redis broadcast relay started")
	return nil
}

func (r *RedisRelay) subscribeLoop(ctx context.Context, ps *redis.PubSub) {
	defer r.wg.Done()
	defer ps.Close()
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.hub.Deliver(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (r *RedisRelay) publishLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-r.outbox:
			pctx, cancel := context.WithTimeout(ctx, r.timeout)
			err := r.client.Publish(pctx, m.channel, m.data).Err()
			cancel()
			if err != nil {
				r.log.Warn("redis publish failed; delivering locally",
					zap.String("channel", m.channel), zap.Error(err))
				r.hub.Deliver(m.channel, m.data)
			}
		}
	}
}

// Stop detaches the relay from the hub and waits for its loops.
func (r *RedisRelay) Stop() {
	r.hub.SetRelay(nil)
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}
