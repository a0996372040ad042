package feed

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Entry is one line of the operational event feed. The feed is UI-facing and
// non-authoritative; nothing reads it to make trading decisions.
type Entry struct {
	At      time.Time `json:"at"`
	Event   string    `json:"event"`
	Message string    `json:"message"`
}

// Publisher mirrors feed entries to an external sink, best-effort.
type Publisher interface {
	Publish(Entry)
	Close() error
}

// Feed is a bounded, append-only ring of human-readable events. Once capacity
// is reached the oldest entry is dropped.
type Feed struct {
	mu      sync.Mutex
	entries []Entry
	start   int
	count   int

	pub Publisher
}

func New(capacity int) *Feed {
	if capacity < 1 {
		capacity = 1
	}
	return &Feed{entries: make([]Entry, capacity)}
}

// SetPublisher attaches an external mirror. Call before concurrent use.
func (f *Feed) SetPublisher(pub Publisher) {
	f.pub = pub
}

// Append records an event. format/args follow fmt.Sprintf.
func (f *Feed) Append(event, format string, args ...interface{}) {
	e := Entry{
		At:      time.Now().UTC(),
		Event:   event,
		Message: fmt.Sprintf(format, args...),
	}
	f.mu.Lock()
	idx := (f.start + f.count) % len(f.entries)
	f.entries[idx] = e
	if f.count < len(f.entries) {
		f.count++
	} else {
		f.start = (f.start + 1) % len(f.entries)
	}
	f.mu.Unlock()

	log.Printf("level=INFO event=%s msg=%q", event, e.Message)
	if f.pub != nil {
		f.pub.Publish(e)
	}
}

// Entries returns a copy, oldest first.
func (f *Feed) Entries() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Entry, 0, f.count)
	for i := 0; i < f.count; i++ {
		out = append(out, f.entries[(f.start+i)%len(f.entries)])
	}
	return out
}

// Len returns the number of retained entries.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}
