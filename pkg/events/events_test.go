package events

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestBufferMostRecentFirst(t *testing.T) {
	b := NewBuffer(100)
	b.Add(New("tool-a", "unauthorized", "missing bearer token"))
	b.Add(New("tool-b", "rate_limited", "rate limit exceeded"))

	recent := b.Recent(10, "")
	if len(recent) != 2 {
		t.Fatalf("expected two events, got %d", len(recent))
	}
	if recent[0].Code != "rate_limited" || recent[1].Code != "unauthorized" {
		t.Fatalf("expected newest first, got %+v", recent)
	}
}

func TestBufferBound(t *testing.T) {
	b := NewBuffer(100)
	for i := 0; i < 150; i++ {
		b.Add(New("tool-a", "egress_block", fmt.Sprintf("event %d", i)))
	}
	recent := b.Recent(200, "")
	if len(recent) != 100 {
		t.Fatalf("expected capacity bound of 100, got %d", len(recent))
	}
	if recent[0].Message != "event 149" {
		t.Fatalf("expected most recent event kept, got %+v", recent[0])
	}
}

func TestBufferToolFilterAndLimit(t *testing.T) {
	b := NewBuffer(100)
	for i := 0; i < 15; i++ {
		b.Add(New("tool-a", "dlp_block", "blocked"))
		b.Add(New("tool-b", "not_found", "tool not found"))
	}
	filtered := b.Recent(10, "tool-a")
	if len(filtered) != 10 {
		t.Fatalf("expected limit of 10, got %d", len(filtered))
	}
	for _, evt := range filtered {
		if evt.ToolID != "tool-a" {
			t.Fatalf("filter leaked event for %q", evt.ToolID)
		}
	}
}

func TestBufferConcurrentAddsKeepBound(t *testing.T) {
	b := NewBuffer(100)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				b.Add(New("tool-a", "upstream_error", "upstream down"))
			}
		}()
	}
	wg.Wait()
	if got := len(b.Recent(1000, "")); got != 100 {
		t.Fatalf("expected bound preserved under concurrency, got %d", got)
	}
}

func TestHubPublishAndDrop(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe(1)
	h.Publish(New("tool-a", "forbidden", "no matching grant"))
	// A full subscriber buffer drops rather than blocks.
	h.Publish(New("tool-a", "forbidden", "no matching grant"))

	evt := <-ch
	if evt.Code != "forbidden" {
		t.Fatalf("unexpected event %+v", evt)
	}
	h.Unsubscribe(ch)
	if _, open := <-ch; open {
		t.Fatalf("expected channel closed after unsubscribe")
	}
}

type fakeKafkaWriter struct {
	msgs []kafka.Message
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestKafkaEmitter(t *testing.T) {
	w := &fakeKafkaWriter{}
	e := &KafkaEmitter{writer: w}
	e.Emit(New("tool-a", "schema_input", "input schema validation failed"))
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "tool-a" {
		t.Fatalf("expected tool id key, got %s", w.msgs[0].Key)
	}
}

func TestMultiEmitter(t *testing.T) {
	a := &fakeKafkaWriter{}
	b := &fakeKafkaWriter{}
	m := MultiEmitter{&KafkaEmitter{writer: a}, &KafkaEmitter{writer: b}}
	m.Emit(New("tool-a", "internal_error", "unexpected error"))
	if len(a.msgs) != 1 || len(b.msgs) != 1 {
		t.Fatalf("expected fan-out to both sinks")
	}
}
