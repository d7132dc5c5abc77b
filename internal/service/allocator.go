package service

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/bank_turns/backend/internal/models"
)

var (
	ErrInvalidPriority = errors.New("invalid priority")
	ErrInvalidTurnID   = errors.New("invalid turn id")
)

// Allocator hands out ticket IDs. Each prefix has its own counter; the
// counters only ever grow for the lifetime of the allocator.
type Allocator struct {
	mu       sync.Mutex
	counters map[string]int
}

func NewAllocator() *Allocator {
	return &Allocator{counters: map[string]int{}}
}

// NewAllocatorFrom starts counters at the given values so the next ID for a
// prefix is start+1. Negative starts are ignored.
func NewAllocatorFrom(start map[string]int) *Allocator {
	a := NewAllocator()
	for prefix, n := range start {
		if n > 0 {
			a.counters[prefix] = n
		}
	}
	return a
}

func (a *Allocator) Allocate(p models.Priority) (string, error) {
	prefix, ok := PrefixFor(p)
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrInvalidPriority, p)
	}
	a.mu.Lock()
	a.counters[prefix]++
	n := a.counters[prefix]
	a.mu.Unlock()
	return FormatID(prefix, n), nil
}

// Reserve claims sequence n for prefix. It fails when n was already handed
// out, and later allocations continue after n.
func (a *Allocator) Reserve(prefix string, n int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n <= a.counters[prefix] {
		return fmt.Errorf("%w: %s already issued", ErrDuplicateTurn, FormatID(prefix, n))
	}
	a.counters[prefix] = n
	return nil
}

// Observe raises the counter for prefix to at least n. Replayed IDs go
// through here since the counters were seeded past them.
func (a *Allocator) Observe(prefix string, n int) {
	a.mu.Lock()
	if n > a.counters[prefix] {
		a.counters[prefix] = n
	}
	a.mu.Unlock()
}

// Current returns the last sequence handed out for prefix.
func (a *Allocator) Current(prefix string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters[prefix]
}

// FormatID pads to three digits and widens past 999.
func FormatID(prefix string, n int) string {
	return fmt.Sprintf("%s%03d", prefix, n)
}

// ParseSequence splits an ID into prefix and sequence number.
func ParseSequence(id string) (string, int, bool) {
	prefix := models.IDPrefix(id)
	if prefix == "" || len(prefix) == len(id) {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[len(prefix):])
	if err != nil || n < 0 {
		return "", 0, false
	}
	return prefix, n, true
}

// CompareIDs orders IDs by prefix, then numerically by sequence, so A1000
// sorts after A999.
func CompareIDs(a, b string) int {
	pa, na, okA := ParseSequence(a)
	pb, nb, okB := ParseSequence(b)
	if !okA || !okB || pa != pb {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	}
	switch {
	case na < nb:
		return -1
	case na > nb:
		return 1
	}
	return 0
}
