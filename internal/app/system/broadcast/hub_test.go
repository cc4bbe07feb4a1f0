package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

func recv(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	select {
	case data := <-sub.C():
		var e Event
		if err := json.Unmarshal(data, &e); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestHub_PublishReachesOnlyThatSession(t *testing.T) {
	hub := NewHub(zap.NewNop(), 4)
	a, b := primitive.NewObjectID(), primitive.NewObjectID()
	subA := hub.Subscribe(a)
	subB := hub.Subscribe(b)
	defer hub.Close()

	hub.Publish(context.Background(), a, Event{Type: EventPositionChanged, Payload: map[string]int{"step": 1}})

	got := recv(t, subA)
	if got.Type != EventPositionChanged {
		t.Errorf("type = %q, want %q", got.Type, EventPositionChanged)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp should be stamped")
	}
	select {
	case <-subB.C():
		t.Error("other session received the event")
	default:
	}
}

func TestHub_PublishNeverBlocksOnFullQueue(t *testing.T) {
	hub := NewHub(zap.NewNop(), 1)
	sid := primitive.NewObjectID()
	sub := hub.Subscribe(sid)
	defer hub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish(context.Background(), sid, Event{Type: EventVoteCast})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber queue")
	}
	if n := len(sub.C()); n != 1 {
		t.Errorf("queued %d events, want 1", n)
	}
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	hub := NewHub(zap.NewNop(), 1)
	sid := primitive.NewObjectID()
	sub := hub.Subscribe(sid)

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)

	if n := hub.SubscriberCount(sid); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}
	if _, ok := <-sub.C(); ok {
		t.Error("queue should be closed")
	}
	hub.Publish(context.Background(), sid, Event{Type: EventVoteCast})
}

type fakeRelay struct {
	accept bool
	got    []string
}

func (f *fakeRelay) Enqueue(channel string, _ []byte) bool {
	f.got = append(f.got, channel)
	return f.accept
}

func TestHub_RelayRouting(t *testing.T) {
	tests := []struct {
		name      string
		accept    bool
		wantLocal bool
	}{
		{name: "relay accepts", accept: true, wantLocal: false},
		{name: "relay full falls back to local", accept: false, wantLocal: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewHub(zap.NewNop(), 2)
			sid := primitive.NewObjectID()
			sub := hub.Subscribe(sid)
			defer hub.Close()
			relay := &fakeRelay{accept: tt.accept}
			hub.SetRelay(relay)

			hub.Publish(context.Background(), sid, Event{Type: EventDecisionRevealed})

			if len(relay.got) != 1 || relay.got[0] != Channel(sid) {
				t.Errorf("relay got %v, want [%s]", relay.got, Channel(sid))
			}
			if local := len(sub.C()) == 1; local != tt.wantLocal {
				t.Errorf("local delivery = %v, want %v", local, tt.wantLocal)
			}
		})
	}
}

func TestHub_DeliverIgnoresForeignChannels(t *testing.T) {
	hub := NewHub(zap.NewNop(), 2)
	sid := primitive.NewObjectID()
	sub := hub.Subscribe(sid)
	defer hub.Close()

	hub.Deliver("other:"+sid.Hex(), []byte(`{}`))
	if len(sub.C()) != 0 {
		t.Error("event on a foreign channel was delivered")
	}
}

func TestServeWS_StreamsEvents(t *testing.T) {
	hub := NewHub(zap.NewNop(), 4)
	defer hub.Close()
	sid := primitive.NewObjectID()
	upgrader := NewUpgrader(nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(&upgrader, w, r, sid)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.SubscriberCount(sid) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hub.Publish(context.Background(), sid, Event{Type: EventVoteCast, Payload: map[string]string{"decision_id": "d1"}})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != EventVoteCast {
		t.Errorf("type = %q, want %q", got.Type, EventVoteCast)
	}
}

func TestUpgrader_CheckOrigin(t *testing.T) {
	up := NewUpgrader([]string{"https://app.example.com"})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://app.example.com", true},
		{"http://example.test", true},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://example.test/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := up.CheckOrigin(r); got != tt.want {
				t.Errorf("CheckOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
