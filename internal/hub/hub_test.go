package hub

import (
	"testing"
	"time"
)

func TestBroadcastReachesAllClients(t *testing.T) {
	h := New()
	a := &Client{ID: "a", Send: make(chan []byte, 1)}
	b := &Client{ID: "b", Send: make(chan []byte, 1)}
	h.Register(a)
	h.Register(b)

	h.Broadcast([]byte(`{"visit_date":"2026-02-03"}`))

	for _, client := range []*Client{a, b} {
		select {
		case payload := <-client.Send:
			if string(payload) != `{"visit_date":"2026-02-03"}` {
				t.Fatalf("client %s got %q", client.ID, payload)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %s received nothing", client.ID)
		}
	}
}

func TestBroadcastDropsSlowClient(t *testing.T) {
	h := New()
	slow := &Client{ID: "slow", Send: make(chan []byte, 1)}
	h.Register(slow)

	h.Broadcast([]byte("one"))
	h.Broadcast([]byte("two"))

	if got := <-slow.Send; string(got) != "one" {
		t.Fatalf("got %q, want the first frame", got)
	}
	select {
	case got := <-slow.Send:
		t.Fatalf("unexpected second frame %q", got)
	default:
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	h := New()
	c := &Client{ID: "c", Send: make(chan []byte, 1)}
	h.Register(c)
	h.Unregister(c)
	h.Unregister(c)

	if _, open := <-c.Send; open {
		t.Fatal("send channel still open after unregister")
	}
	if h.ClientCount() != 0 {
		t.Fatalf("client count = %d, want 0", h.ClientCount())
	}

	h.Broadcast([]byte("after"))
}
