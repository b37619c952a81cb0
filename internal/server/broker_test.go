package server

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newTestBroker() *Broker {
	return NewBroker(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func recvEvent(t *testing.T, ch chan []byte) string {
	t.Helper()
	select {
	case msg := <-ch:
		return string(msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return ""
	}
}

func TestBrokerPublishReachesAllSubscribers(t *testing.T) {
	b := newTestBroker()
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer b.Unsubscribe(sub1)
	defer b.Unsubscribe(sub2)

	b.Publish("agent", map[string]string{"agent_id": "a1"})

	for _, ch := range []chan []byte{sub1, sub2} {
		msg := recvEvent(t, ch)
		if !strings.HasPrefix(msg, "event: agent\n") {
			t.Errorf("unexpected event type line: %q", msg)
		}
		if !strings.Contains(msg, `"agent_id":"a1"`) {
			t.Errorf("payload missing from event: %q", msg)
		}
		if !strings.HasSuffix(msg, "\n\n") {
			t.Errorf("event not terminated with blank line: %q", msg)
		}
	}
}

func TestBrokerSlowSubscriberDropsEvents(t *testing.T) {
	b := newTestBroker()
	slow := b.Subscribe()
	defer b.Unsubscribe(slow)

	// Fill the subscriber buffer without draining it. The extra publishes
	// must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish("activity", map[string]int{"seq": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	if got := len(slow); got != cap(slow) {
		t.Errorf("expected subscriber buffer to be full at %d, got %d", cap(slow), got)
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := newTestBroker()
	sub := b.Subscribe()

	if got := b.SubscriberCount(); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}

	b.Unsubscribe(sub)

	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("expected 0 subscribers after unsubscribe, got %d", got)
	}
	if _, ok := <-sub; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
}

func TestBrokerPublishWithNoSubscribers(t *testing.T) {
	b := newTestBroker()
	// Must not panic or block.
	b.Publish("trace", map[string]string{"trace_id": "t1"})
}

func TestFormatSSE(t *testing.T) {
	got := string(formatSSE("call", `{"id":"c1"}`))
	want := "event: call\ndata: {\"id\":\"c1\"}\n\n"
	if got != want {
		t.Errorf("formatSSE = %q, want %q", got, want)
	}
}
