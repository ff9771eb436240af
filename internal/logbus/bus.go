// Package logbus carries structured server events to two kinds of consumers:
// pollers reading a bounded tail and live subscribers fed over channels.
package logbus

import (
	"fmt"
	"sync"
	"time"
)

// RingCapacity bounds the in-memory tail; the oldest entry is evicted first.
const RingCapacity = 500

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls behind loses pushes but never blocks producers.
const subscriberBuffer = 100

// Entry is one formatted log line with its monotonic sequence number.
type Entry struct {
	Seq  uint64 `json:"id"`
	Line string `json:"message"`
}

// Bus is the process-wide log broadcaster. The zero value is not usable;
// construct with New.
type Bus struct {
	mu      sync.RWMutex
	entries []Entry
	nextSeq uint64

	subMu   sync.RWMutex
	subs    map[uint64]chan Entry
	nextSub uint64

	// mirror receives every formatted line, for stderr echoing. Optional.
	mirror func(line string)
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{
		entries: make([]Entry, 0, RingCapacity),
		subs:    make(map[uint64]chan Entry),
	}
}

// SetMirror installs a secondary sink that receives every line. Call before
// the bus is shared between goroutines.
func (b *Bus) SetMirror(fn func(line string)) {
	b.mirror = fn
}

func timestamp() string {
	return time.Now().UTC().Format("2006-01-02 15:04:05.000")
}

// push records the line in the ring and offers it to every subscriber.
// It never blocks: a full subscriber channel drops the push for that
// subscriber only.
func (b *Bus) push(line string) {
	b.mu.Lock()
	b.nextSeq++
	entry := Entry{Seq: b.nextSeq, Line: line}
	if len(b.entries) >= RingCapacity {
		b.entries = append(b.entries[1:], entry)
	} else {
		b.entries = append(b.entries, entry)
	}
	b.mu.Unlock()

	if b.mirror != nil {
		b.mirror(line)
	}

	b.subMu.RLock()
	for _, ch := range b.subs {
		select {
		case ch <- entry:
		default:
		}
	}
	b.subMu.RUnlock()
}

// Infof records an INFO line.
func (b *Bus) Infof(format string, args ...any) {
	b.push(fmt.Sprintf("%s INFO %s", timestamp(), fmt.Sprintf(format, args...)))
}

// Errorf records an ERROR line.
func (b *Bus) Errorf(format string, args ...any) {
	b.push(fmt.Sprintf("%s ERROR %s", timestamp(), fmt.Sprintf(format, args...)))
}

// Request records an inbound request line.
func (b *Bus) Request(method, endpoint, details string) {
	b.push(fmt.Sprintf("%s → [%s] %s %s", timestamp(), method, endpoint, details))
}

// Response records the paired response line for a handled request.
func (b *Bus) Response(status int, endpoint, details string) {
	b.push(fmt.Sprintf("%s ← [%d] %s %s", timestamp(), status, endpoint, details))
}

// Model records a model lifecycle event such as LOAD, SWAP or DELETE.
func (b *Bus) Model(action, name, details string) {
	b.push(fmt.Sprintf("%s MODEL [%s] %s - %s", timestamp(), action, name, details))
}

// Download records pull-pipeline progress for the named model.
func (b *Bus) Download(name, format string, args ...any) {
	b.push(fmt.Sprintf("%s DOWNLOAD [%s] %s", timestamp(), name, fmt.Sprintf(format, args...)))
}

// Tail returns the last n entries in chronological order.
func (b *Bus) Tail(n int) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n < 0 {
		n = 0
	}
	if n > len(b.entries) {
		n = len(b.entries)
	}
	out := make([]Entry, n)
	copy(out, b.entries[len(b.entries)-n:])
	return out
}

// Len reports the current number of retained entries.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Subscribe registers a live consumer. The returned channel receives entries
// pushed strictly after this call; history is available through Tail.
func (b *Bus) Subscribe() (uint64, <-chan Entry) {
	ch := make(chan Entry, subscriberBuffer)
	b.subMu.Lock()
	b.nextSub++
	id := b.nextSub
	b.subs[id] = ch
	b.subMu.Unlock()
	return id, ch
}

// Unsubscribe removes the consumer and closes its channel.
func (b *Bus) Unsubscribe(id uint64) {
	b.subMu.Lock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
	b.subMu.Unlock()
}

// SubscriberCount reports the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	return len(b.subs)
}
