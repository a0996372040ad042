package alert

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Notifier delivers one rendered message to an external channel.
type Notifier interface {
	Notify(ctx context.Context, msg string) error
}

// Alerter is the fire-and-forget notification surface handed to the rest of
// the engine. Failures are logged, never propagated.
type Alerter interface {
	Important(event string, fields map[string]string)
}

const defaultQueueSize = 128

// Manager queues events and delivers them asynchronously. When the queue is
// full events are dropped and counted rather than blocking a trading path.
type Manager struct {
	venue      string
	instanceID string
	notifier   Notifier
	queue      chan event
	stop       chan struct{}
	done       chan struct{}
	dropped    uint64

	mu     sync.Mutex
	closed bool
}

type event struct {
	name   string
	fields map[string]string
}

func NewManager(venue, instanceID string, notifier Notifier) *Manager {
	if notifier == nil {
		return nil
	}
	m := &Manager{
		venue:      venue,
		instanceID: instanceID,
		notifier:   notifier,
		queue:      make(chan event, defaultQueueSize),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go m.loop()
	return m
}

func (m *Manager) Important(name string, fields map[string]string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	select {
	case m.queue <- event{name: name, fields: cloneFields(fields)}:
	default:
		dropped := atomic.AddUint64(&m.dropped, 1)
		log.Printf(
			"level=WARN event=alert_dropped target_event=%q reason=%q dropped_total=%d",
			name,
			"queue_full",
			dropped,
		)
	}
}

// Close drains the queue and stops the delivery loop.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stop)
	m.mu.Unlock()
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) loop() {
	defer close(m.done)
	for {
		select {
		case ev := <-m.queue:
			m.send(ev)
		case <-m.stop:
			for {
				select {
				case ev := <-m.queue:
					m.send(ev)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) send(ev event) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := m.notifier.Notify(ctx, m.render(ev)); err != nil {
		log.Printf("level=ERROR event=alert_notify_failed target_event=%q err=%q", ev.name, err.Error())
	}
}

func (m *Manager) render(ev event) string {
	lines := []string{
		"[futures-engine] " + ev.name,
		"time: " + time.Now().UTC().Format(time.RFC3339),
		"venue: " + m.venue,
		"instance: " + m.instanceID,
	}
	keys := make([]string, 0, len(ev.fields))
	for k := range ev.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, k+": "+ev.fields[k])
	}
	return strings.Join(lines, "\n")
}

func cloneFields(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
