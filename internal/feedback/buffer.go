// Package feedback holds the delivery surfaces that hand completed
// translations back to submitters: a bounded per-submitter poll buffer and
// a streaming waiter for one specific request.
package feedback

import (
	"sync"

	"github.com/lingorelay/lingorelay/internal/notify"
)

// DefaultBufferCap is the number of most-recent completed events retained
// per submitter before the oldest are evicted.
const DefaultBufferCap = 100

// Buffer is a notify.Observer that accumulates completed events per
// submitter until they are polled. It retains at most cap entries per
// submitter, evicting the oldest first.
type Buffer struct {
	mu      sync.Mutex
	pending map[string][]notify.Event
	cap     int
}

var _ notify.Observer = (*Buffer)(nil)

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferCap
	}
	return &Buffer{
		pending: map[string][]notify.Event{},
		cap:     capacity,
	}
}

func (b *Buffer) Name() string { return "poll_buffer" }

func (b *Buffer) Update(event notify.Event) {
	if event.SubmitterID == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	entries := append(b.pending[event.SubmitterID], event)
	if len(entries) > b.cap {
		entries = entries[len(entries)-b.cap:]
	}
	b.pending[event.SubmitterID] = entries
}

// Drain atomically returns and clears the submitter's pending events.
func (b *Buffer) Drain(submitterID string) []notify.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.pending[submitterID]
	delete(b.pending, submitterID)
	return entries
}

// Take removes and returns the submitter's event for one translation id,
// if buffered.
func (b *Buffer) Take(submitterID, translationID string) (notify.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.pending[submitterID]
	for i, event := range entries {
		if event.TranslationID == translationID {
			b.pending[submitterID] = append(entries[:i], entries[i+1:]...)
			return event, true
		}
	}
	return notify.Event{}, false
}

// Pending returns the number of buffered events for a submitter.
func (b *Buffer) Pending(submitterID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending[submitterID])
}
