// Package events records terminal gateway errors for operational
// inspection: a bounded in-process buffer, optional external emitters,
// and a hub for live streaming.
package events

import (
	"sync"
	"time"
)

// Event is one terminal error produced by the mediation pipeline.
type Event struct {
	ToolID  string `json:"toolId"`
	TS      string `json:"ts"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func New(toolID, code, message string) Event {
	return Event{
		ToolID:  toolID,
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		Code:    code,
		Message: message,
	}
}

const DefaultCapacity = 100

// Buffer holds the most recent events, newest first. Process-lifetime
// only; reset on restart. Concurrent appends preserve the bound but not
// a strict global order.
type Buffer struct {
	mu    sync.RWMutex
	cap   int
	items []Event
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{cap: capacity}
}

func (b *Buffer) Add(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append([]Event{evt}, b.items...)
	if len(b.items) > b.cap {
		b.items = b.items[:b.cap]
	}
}

// Recent returns up to limit events, optionally filtered by tool id.
func (b *Buffer) Recent(limit int, toolID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, 0, limit)
	for _, evt := range b.items {
		if toolID != "" && evt.ToolID != toolID {
			continue
		}
		out = append(out, evt)
		if len(out) >= limit {
			break
		}
	}
	return out
}
