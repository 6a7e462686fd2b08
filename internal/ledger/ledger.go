// Package ledger keeps a bounded audit trail of executed commands.
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status marks whether a command completed or failed.
type Status string

const (
	// StatusOK marks a successfully executed command.
	StatusOK Status = "ok"
	// StatusError marks a command that raised any error.
	StatusError Status = "error"
)

// Result is the per-command outcome record appended once per execution.
type Result struct {
	ID        uuid.UUID
	Opcode    string
	Status    Status
	Summary   string
	Timestamp time.Time
}

// DefaultCapacity is the ring size used when none is configured.
const DefaultCapacity = 50

// Ledger is a fixed-capacity ring buffer of Results. Append drops the
// oldest entry when full; no other component mutates it.
type Ledger struct {
	mu      sync.Mutex
	entries []Result
	next    int
	size    int
}

// New creates a ledger with the given capacity (DefaultCapacity if <= 0).
func New(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ledger{entries: make([]Result, capacity)}
}

// Append records a result, evicting the oldest entry when at capacity.
func (l *Ledger) Append(result Result) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = result
	l.next = (l.next + 1) % len(l.entries)
	if l.size < len(l.entries) {
		l.size++
	}
}

// Recent returns the last k entries in chronological order. k larger than
// the stored count returns everything.
func (l *Ledger) Recent(k int) []Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	if k <= 0 || l.size == 0 {
		return nil
	}
	if k > l.size {
		k = l.size
	}
	out := make([]Result, 0, k)
	start := l.next - k
	if start < 0 {
		start += len(l.entries)
	}
	for i := 0; i < k; i++ {
		out = append(out, l.entries[(start+i)%len(l.entries)])
	}
	return out
}

// Len reports the number of stored entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Capacity reports the fixed ring size.
func (l *Ledger) Capacity() int {
	return len(l.entries)
}
