// Package ledger submits complaint fingerprints to an external ledger and
// reads back their inclusion.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"suarawarga/backend/internal/models"
)

var (
	ErrNotFound          = errors.New("ledger record not found")
	ErrInsufficientFunds = errors.New("insufficient funds for ledger submission")
	ErrUnavailable       = errors.New("ledger unavailable")
)

// Anchor is what gets recorded: the fingerprint, the complaint it belongs
// to and a coarse timestamp.
type Anchor struct {
	Fingerprint string
	ComplaintID string
	Timestamp   time.Time
}

// Submission identifies a sent transaction.
type Submission struct {
	Ref    string
	Method models.AnchorMethod
}

type State int

const (
	StatePending State = iota
	StateIncluded
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateIncluded:
		return "included"
	case StateRejected:
		return "rejected"
	default:
		return "pending"
	}
}

// Confirmation is the answer to a confirmation poll. Position, time and
// cost are set when State is StateIncluded; Reason when StateRejected.
type Confirmation struct {
	State       State
	BlockNumber uint64
	Timestamp   time.Time
	// Cost in the ledger's smallest unit, as a decimal string.
	Cost   string
	Reason string
}

// Proof is the read-only view of an included record.
type Proof struct {
	Found       bool      `json:"found"`
	Ref         string    `json:"ref"`
	BlockNumber uint64    `json:"block_number,omitempty"`
	Timestamp   time.Time `json:"ledger_timestamp,omitempty"`
	Cost        string    `json:"cost,omitempty"`
}

// Client is the ledger contract. Implementations hold their own connection
// state and are passed to whoever needs them.
type Client interface {
	Submit(ctx context.Context, a Anchor) (Submission, error)
	Confirm(ctx context.Context, ref string) (Confirmation, error)
	// Lookup never mutates anything; ErrNotFound when the ref is unknown or
	// not yet included.
	Lookup(ctx context.Context, ref string) (Proof, error)
}

// IsRetryable reports whether a failed submission may succeed later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// classify maps transport and node errors onto the package sentinels. Node
// errors arrive as JSON-RPC messages, so the funds case is matched on text.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "insufficient funds") {
		return fmt.Errorf("%s: %w: %v", op, ErrInsufficientFunds, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "eof") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "429") {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
