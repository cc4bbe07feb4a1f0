// Package broadcast fans realtime session events out to connected clients.
//
// Delivery is best effort and at most once: every subscriber owns a bounded
// queue and Publish drops the event for a subscriber whose queue is full.
// Clients recover by re-reading state from the API, which stays the source
// of truth.
package broadcast

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/dalemusser/liveplay/internal/app/system/metrics"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Event types.
const (
	EventPositionChanged          = "position_changed"
	EventSessionStatusChanged     = "session_status_changed"
	EventParticipantJoined        = "participant_joined"
	EventParticipantStatusChanged = "participant_status_changed"
	EventParticipantRoleChanged   = "participant_role_changed"
	EventDecisionOpened           = "decision_opened"
	EventDecisionClosed           = "decision_closed"
	EventDecisionRevealed         = "decision_revealed"
	EventVoteCast                 = "vote_cast"
	EventRolesAssigned            = "roles_assigned"
)

// DefaultQueueSize is the per-subscriber buffer used when none is configured.
const DefaultQueueSize = 32

// channelPrefix names session channels: "session:{id}".
const channelPrefix = "session:"

// Event is the JSON frame sent to subscribers. Payloads must only carry
// what every subscriber of the session may see.
type Event struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher is what services depend on.
type Publisher interface {
	Publish(ctx context.Context, sessionID primitive.ObjectID, e Event)
}

// Channel returns the channel name of a session.
func Channel(sessionID primitive.ObjectID) string {
	return channelPrefix + sessionID.Hex()
}

// Relay forwards encoded events to other instances. Enqueue must not block.
type Relay interface {
	Enqueue(channel string, data []byte) bool
}

// Subscriber is one connected client.
type Subscriber struct {
	channel string
	ch      chan []byte
	once    sync.Once
}

// C returns the subscriber's queue. It is closed on Unsubscribe.
func (s *Subscriber) C() <-chan []byte { return s.ch }

// Hub holds the subscribers of every session on this instance.
type Hub struct {
	mu        sync.RWMutex
	subs      map[string]map[*Subscriber]struct{}
	queueSize int
	relay     Relay
	log       *zap.Logger
	now       func() time.Time
}

// NewHub creates a Hub. queueSize <= 0 uses DefaultQueueSize.
func NewHub(logger *zap.Logger, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:      make(map[string]map[*Subscriber]struct{}),
		queueSize: queueSize,
		log:       logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetRelay routes publishes through r. Events then reach local subscribers
// when the relay hands them back through Deliver.
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
}

// Subscribe registers a subscriber for a session.
func (h *Hub) Subscribe(sessionID primitive.ObjectID) *Subscriber {
	sub := &Subscriber{channel: Channel(sessionID), ch: make(chan []byte, h.queueSize)}
	h.mu.Lock()
	set, ok := h.subs[sub.channel]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[sub.channel] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	metrics.Subscribers.Inc()
	return sub
}

// Unsubscribe removes sub and closes its queue. Calling it twice is safe.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	sub.once.Do(func() {
		h.mu.Lock()
		if set, ok := h.subs[sub.channel]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, sub.channel)
			}
		}
		close(sub.ch)
		h.mu.Unlock()
		metrics.Subscribers.Dec()
	})
}

// SubscriberCount returns the number of local subscribers of a session.
func (h *Hub) SubscriberCount(sessionID primitive.ObjectID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[Channel(sessionID)])
}

// Publish encodes e and hands it to the relay or the local subscribers. It
// never blocks on a subscriber and never returns an error; failures are
// logged.
func (h *Hub) Publish(_ context.Context, sessionID primitive.ObjectID, e Event) {
	if h == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = h.now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		h.log.Warn("broadcast encode failed", zap.String("type", e.Type), zap.Error(err))
		return
	}
	channel := Channel(sessionID)

	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay != nil && relay.Enqueue(channel, data) {
		return
	}
	h.Deliver(channel, data)
}

// Deliver pushes an encoded event to the local subscribers of channel.
func (h *Hub) Deliver(channel string, data []byte) {
	if !strings.HasPrefix(channel, channelPrefix) {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[channel] {
		select {
		case sub.ch <- data:
			metrics.BroadcastPublished.Inc()
		default:
			metrics.BroadcastDropped.Inc()
			h.log.Debug("broadcast dropped: subscriber queue full", zap.String("channel", channel))
		}
	}
}

// Close unsubscribes everyone.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*Subscriber
	for _, set := range h.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	h.mu.RUnlock()
	for _, sub := range all {
		h.Unsubscribe(sub)
	}
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, primitive.ObjectID, Event) {}
