package bus

import (
	"sync"
	"testing"
)

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	b := New()

	var mu sync.Mutex
	got := map[string][]string{}
	for _, id := range []string{"ws-1", "ws-2"} {
		id := id
		b.Subscribe(id, func(ev Event) {
			mu.Lock()
			defer mu.Unlock()
			got[id] = append(got[id], ev.Name)
		})
	}

	b.Broadcast(Event{Name: EventConversationCreated, Payload: ConversationEvent{ConvName: "ari--sam@0-0"}})
	b.Broadcast(Event{Name: EventStepCompleted})

	for _, id := range []string{"ws-1", "ws-2"} {
		if len(got[id]) != 2 {
			t.Fatalf("subscriber %s received %d events, want 2", id, len(got[id]))
		}
		if got[id][0] != EventConversationCreated || got[id][1] != EventStepCompleted {
			t.Errorf("subscriber %s received %v", id, got[id])
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()

	var n int
	b.Subscribe("ws-1", func(Event) { n++ })
	b.Broadcast(Event{Name: EventStepCompleted})
	b.Unsubscribe("ws-1")
	b.Broadcast(Event{Name: EventStepCompleted})

	if n != 1 {
		t.Errorf("handler ran %d times, want 1", n)
	}
}

func TestSubscribeReplacesHandler(t *testing.T) {
	b := New()

	var old, cur int
	b.Subscribe("ws-1", func(Event) { old++ })
	b.Subscribe("ws-1", func(Event) { cur++ })
	b.Broadcast(Event{Name: EventConversationDeleted})

	if old != 0 {
		t.Errorf("replaced handler still ran %d times", old)
	}
	if cur != 1 {
		t.Errorf("current handler ran %d times, want 1", cur)
	}
}

func TestUnsubscribeUnknownIDIsNoOp(t *testing.T) {
	b := New()
	b.Unsubscribe("never-registered")
	b.Broadcast(Event{Name: EventConversationEvicted})
}
