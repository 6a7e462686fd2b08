package ledger

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

func entry(opcode string) Result {
	return Result{ID: uuid.New(), Opcode: opcode, Status: StatusOK, Summary: opcode, Timestamp: time.Now()}
}

func TestAppendAndRecentOrder(t *testing.T) {
	l := New(5)
	for i := 0; i < 3; i++ {
		l.Append(entry(fmt.Sprintf("OP%d", i)))
	}

	recent := l.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(recent))
	}
	for i, r := range recent {
		if r.Opcode != fmt.Sprintf("OP%d", i) {
			t.Fatalf("entry %d out of order: %s", i, r.Opcode)
		}
	}
}

func TestCapacityDropsOldest(t *testing.T) {
	l := New(3)
	for i := 0; i < 5; i++ {
		l.Append(entry(fmt.Sprintf("OP%d", i)))
	}
	if l.Len() != 3 {
		t.Fatalf("expected ledger pinned at capacity 3, got %d", l.Len())
	}

	recent := l.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(recent))
	}
	if recent[0].Opcode != "OP2" || recent[2].Opcode != "OP4" {
		t.Fatalf("oldest entries not dropped: %s..%s", recent[0].Opcode, recent[2].Opcode)
	}
}

func TestRecentPartial(t *testing.T) {
	l := New(4)
	for i := 0; i < 4; i++ {
		l.Append(entry(fmt.Sprintf("OP%d", i)))
	}
	recent := l.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(recent))
	}
	if recent[0].Opcode != "OP2" || recent[1].Opcode != "OP3" {
		t.Fatalf("unexpected tail: %s, %s", recent[0].Opcode, recent[1].Opcode)
	}
}

func TestRecentEmpty(t *testing.T) {
	l := New(0)
	if l.Capacity() != DefaultCapacity {
		t.Fatalf("expected default capacity %d, got %d", DefaultCapacity, l.Capacity())
	}
	if got := l.Recent(5); got != nil {
		t.Fatalf("expected nil for empty ledger, got %v", got)
	}
}
