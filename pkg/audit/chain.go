package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cleargate-io/cleargate/pkg/canonical"
)

// ErrChainBroken reports a hash chain integrity failure.
var ErrChainBroken = errors.New("audit hash chain is broken")

// ChainedTrail is an in-process append-only trail with hash chaining.
// Each entry's hash covers the previous entry's hash, so truncation or
// mutation anywhere in the chain is detectable.
type ChainedTrail struct {
	mu          sync.RWMutex
	entries     []Event
	sequence    uint64
	resourceSeq map[string]uint64
	chainHead   string
}

// NewChainedTrail creates an empty chained trail.
func NewChainedTrail() *ChainedTrail {
	return &ChainedTrail{
		resourceSeq: make(map[string]uint64),
		chainHead:   "genesis",
	}
}

// Record appends the event, assigning ordering keys and chain hashes.
func (t *ChainedTrail) Record(ctx context.Context, event Event) error {
	_ = ctx
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sequence++
	event.Sequence = t.sequence

	resKey := event.ResourceType + ":" + event.ResourceID
	t.resourceSeq[resKey]++
	event.ResourceSeq = t.resourceSeq[resKey]

	event.PreviousHash = t.chainHead
	entryHash, err := hashEntry(event)
	if err != nil {
		t.sequence--
		t.resourceSeq[resKey]--
		return fmt.Errorf("failed to hash audit entry: %w", err)
	}
	event.EntryHash = entryHash
	t.chainHead = entryHash

	t.entries = append(t.entries, event)
	return nil
}

func hashEntry(event Event) (string, error) {
	hashable := struct {
		Sequence      uint64 `json:"sequence"`
		ResourceSeq   uint64 `json:"resource_seq"`
		Action        string `json:"action"`
		ActorID       string `json:"actor_id"`
		ResourceType  string `json:"resource_type"`
		ResourceID    string `json:"resource_id"`
		PreviousState string `json:"previous_state"`
		NewState      string `json:"new_state"`
		PreviousHash  string `json:"previous_hash"`
	}{
		Sequence:      event.Sequence,
		ResourceSeq:   event.ResourceSeq,
		Action:        event.Action,
		ActorID:       event.ActorID,
		ResourceType:  event.ResourceType,
		ResourceID:    event.ResourceID,
		PreviousState: event.PreviousState,
		NewState:      event.NewState,
		PreviousHash:  event.PreviousHash,
	}
	return canonical.Hash(hashable)
}

// Filter selects entries from a query.
type Filter struct {
	Action       string
	ActorID      string
	ResourceType string
	ResourceID   string
	StartSeq     uint64
	MaxResults   int
}

func (f Filter) matches(e Event) bool {
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.StartSeq > 0 && e.Sequence < f.StartSeq {
		return false
	}
	return true
}

// Query returns entries matching the filter in append order.
func (t *ChainedTrail) Query(filter Filter) []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()

	results := make([]Event, 0)
	for _, e := range t.entries {
		if filter.matches(e) {
			results = append(results, e)
			if filter.MaxResults > 0 && len(results) >= filter.MaxResults {
				break
			}
		}
	}
	return results
}

// Size returns the number of recorded entries.
func (t *ChainedTrail) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// ChainHead returns the current chain head hash.
func (t *ChainedTrail) ChainHead() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.chainHead
}

// VerifyChain recomputes every entry hash and checks chain continuity.
func (t *ChainedTrail) VerifyChain() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	expectedPrev := "genesis"
	for i, entry := range t.entries {
		if entry.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous_hash %s, expected %s",
				ErrChainBroken, i, entry.PreviousHash, expectedPrev)
		}
		computed, err := hashEntry(entry)
		if err != nil {
			return fmt.Errorf("%w: entry %d hash computation failed: %w", ErrChainBroken, i, err)
		}
		if computed != entry.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, i)
		}
		expectedPrev = entry.EntryHash
	}
	return nil
}
