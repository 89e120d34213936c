package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"suarawarga/backend/internal/models"
)

// MemoryLedger is an in-process ledger for development and tests. Blocks are
// produced by Mine, or on every submit with AutoMine.
type MemoryLedger struct {
	mu       sync.Mutex
	seq      int
	block    uint64
	entries  map[string]*memoryEntry
	autoMine bool
	now      func() time.Time

	submitErr  error
	confirmErr error
	submitHook func(ctx context.Context) error
}

type memoryEntry struct {
	anchor   Anchor
	included bool
	rejected string
	block    uint64
	at       time.Time
}

// MemoryCostPerSubmission is the fixed cost recorded for every inclusion.
const MemoryCostPerSubmission = "21000"

func NewMemoryLedger(autoMine bool) *MemoryLedger {
	return &MemoryLedger{
		entries:  make(map[string]*memoryEntry),
		autoMine: autoMine,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// FailSubmissions makes every following Submit return err; nil restores
// normal operation.
func (m *MemoryLedger) FailSubmissions(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErr = err
}

// FailConfirmations makes every following Confirm return err.
func (m *MemoryLedger) FailConfirmations(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmErr = err
}

// OnSubmit runs hook before each submission, outside the lock. Tests use it
// to block a submission until its context ends.
func (m *MemoryLedger) OnSubmit(hook func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitHook = hook
}

func (m *MemoryLedger) Submit(ctx context.Context, a Anchor) (Submission, error) {
	m.mu.Lock()
	hook := m.submitHook
	m.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return Submission{}, classify("submit", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return Submission{}, m.submitErr
	}
	m.seq++
	ref := fmt.Sprintf("0x%064x", m.seq)
	m.entries[ref] = &memoryEntry{anchor: a}
	if m.autoMine {
		m.mineLocked()
	}
	return Submission{Ref: ref, Method: models.AnchorTransfer}, nil
}

// Mine includes every pending submission in a new block and returns its
// number.
func (m *MemoryLedger) Mine() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mineLocked()
}

func (m *MemoryLedger) mineLocked() uint64 {
	m.block++
	at := m.now().Truncate(time.Second)
	for _, e := range m.entries {
		if !e.included && e.rejected == "" {
			e.included = true
			e.block = m.block
			e.at = at
		}
	}
	return m.block
}

// Reject makes a pending submission fail definitively.
func (m *MemoryLedger) Reject(ref, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[ref]; ok && !e.included {
		e.rejected = reason
	}
}

// Submitted returns the anchor recorded under ref.
func (m *MemoryLedger) Submitted(ref string) (Anchor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[ref]
	if !ok {
		return Anchor{}, false
	}
	return e.anchor, true
}

func (m *MemoryLedger) Confirm(ctx context.Context, ref string) (Confirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.confirmErr != nil {
		return Confirmation{}, m.confirmErr
	}
	e, ok := m.entries[ref]
	switch {
	case !ok:
		return Confirmation{}, fmt.Errorf("%s: %w", ref, ErrNotFound)
	case e.rejected != "":
		return Confirmation{State: StateRejected, Reason: e.rejected}, nil
	case !e.included:
		return Confirmation{State: StatePending}, nil
	}
	return Confirmation{State: StateIncluded, BlockNumber: e.block, Timestamp: e.at, Cost: MemoryCostPerSubmission}, nil
}

func (m *MemoryLedger) Lookup(ctx context.Context, ref string) (Proof, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[ref]
	if !ok || !e.included {
		return Proof{Ref: ref}, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return Proof{Found: true, Ref: ref, BlockNumber: e.block, Timestamp: e.at, Cost: MemoryCostPerSubmission}, nil
}
