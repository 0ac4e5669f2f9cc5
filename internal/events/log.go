// internal/events/log.go
package events

import (
	"sync"

	"github.com/fawad-mazhar/cmdhub/internal/models"
)

// DefaultLogCapacity bounds the event log so sustained event pressure cannot grow memory
const DefaultLogCapacity = 1000

// Log is a bounded FIFO of events. When full, the oldest entry is evicted.
type Log struct {
	mu       sync.RWMutex
	items    []models.CommandEvent
	capacity int
	head     int // next write position
	size     int
	seq      uint64
}

func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &Log{
		items:    make([]models.CommandEvent, capacity),
		capacity: capacity,
	}
}

// Append stores the event, assigning its sequence number, and returns the stored copy
func (l *Log) Append(event models.CommandEvent) models.CommandEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	event.Seq = l.seq

	l.items[l.head] = event
	l.head = (l.head + 1) % l.capacity
	if l.size < l.capacity {
		l.size++
	}

	return event
}

func (l *Log) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

func (l *Log) Capacity() int {
	return l.capacity
}

// LastSeq returns the sequence number of the most recent event, 0 if none
func (l *Log) LastSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

// Snapshot returns all retained events, oldest first
func (l *Log) Snapshot() []models.CommandEvent {
	return l.Recent(0)
}

// Recent returns up to n most recent events, oldest first. n <= 0 returns everything.
func (l *Log) Recent(n int) []models.CommandEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > l.size {
		n = l.size
	}

	out := make([]models.CommandEvent, 0, n)
	start := (l.head - n + l.capacity) % l.capacity
	for i := 0; i < n; i++ {
		out = append(out, l.items[(start+i)%l.capacity])
	}
	return out
}

// Since returns retained events with a sequence number greater than seq, oldest first
func (l *Log) Since(seq uint64) []models.CommandEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq >= l.seq {
		return nil
	}
	n := int(l.seq - seq)
	if n > l.size {
		n = l.size
	}

	out := make([]models.CommandEvent, 0, n)
	start := (l.head - n + l.capacity) % l.capacity
	for i := 0; i < n; i++ {
		out = append(out, l.items[(start+i)%l.capacity])
	}
	return out
}
