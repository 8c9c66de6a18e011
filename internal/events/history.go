package events

import "sync"

// DefaultHistorySize is the default number of recent events kept.
const DefaultHistorySize = 500

// History maintains a bounded collection of recent events.
// It removes the oldest events when the limit is exceeded.
type History struct {
	mu      sync.RWMutex
	events  []*Event
	maxSize int
}

// NewHistory creates a history holding at most maxSize events.
func NewHistory(maxSize int) *History {
	if maxSize <= 0 {
		maxSize = DefaultHistorySize
	}
	return &History{
		events:  make([]*Event, 0, maxSize),
		maxSize: maxSize,
	}
}

// Add appends an event.
func (h *History) Add(e *Event) {
	if e == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.events) >= h.maxSize {
		// Drop the oldest 10% at once to avoid shifting on every add.
		drop := h.maxSize / 10
		if drop < 1 {
			drop = 1
		}
		h.events = append(h.events[:0], h.events[drop:]...)
	}
	h.events = append(h.events, e)
}

// Last returns up to n of the most recent events matching functionID,
// oldest first. An empty functionID matches every event.
func (h *History) Last(n int, functionID string) []*Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 {
		return nil
	}

	var out []*Event
	for i := len(h.events) - 1; i >= 0 && len(out) < n; i-- {
		if functionID == "" || h.events[i].FunctionID == functionID {
			out = append(out, h.events[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Len returns the number of stored events.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.events)
}
