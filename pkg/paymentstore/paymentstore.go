// Copyright 2025 Nanomoni Authors
//
// Package paymentstore holds the monotonic payment state for every open
// channel and applies payments with compare-and-swap semantics: a payment
// is only accepted if its index is strictly greater than the channel's
// current stored index.
//
// Each channel is single-writer: Save takes a per-channel lock for the
// duration of the check-then-store step, so two payments racing for the
// same channel are strictly ordered rather than both reading the old state
// and both believing they should win.
package paymentstore

import (
	"sync"
	"time"

	"github.com/nanomoni/channels/pkg/proofcore"
)

// Outcome is the result code of a Save call.
type Outcome int

const (
	// Accepted means the payment was strictly newer than the channel's
	// stored state and has been recorded.
	Accepted Outcome = 1
	// NotNewer means the payment's index was not greater than the
	// channel's current index; it is a duplicate or a replay and is
	// silently ignored rather than erroring, since resubmission is
	// expected under at-least-once delivery.
	NotNewer Outcome = 0
	// ChannelMissing means the store has no state for the given channel id.
	ChannelMissing Outcome = 2
	// ExceedsBounds means the proof verified against the channel's
	// commitment but declaredIndex is above the channel's max index
	// (Payword/Paytree only).
	ExceedsBounds Outcome = 3
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case NotNewer:
		return "not_newer"
	case ChannelMissing:
		return "channel_missing"
	case ExceedsBounds:
		return "exceeds_bounds"
	default:
		return "unknown"
	}
}

// StoredState is the best payment recorded so far for a channel. The zero
// value (Index 0) means no payment has ever been accepted, which is also
// why index 0 itself is never a valid payment: it would be
// indistinguishable from "no payment yet".
type StoredState struct {
	ChannelID      string
	Index          int
	CumulativeOwed int64
	Proof          proofcore.Proof
	UpdatedAt      time.Time
}

type entry struct {
	mu    sync.Mutex
	state StoredState
	known bool
}

// Store holds per-channel payment state in memory, guarded by a per-channel
// mutex so concurrent payments against the same channel are linearized.
type Store struct {
	mu       sync.RWMutex
	channels map[string]*entry
}

// New creates an empty payment store.
func New() *Store {
	return &Store{channels: make(map[string]*entry)}
}

// Open registers channelID with the store so payments can begin arriving
// against it. It is idempotent: opening an already-open channel is a no-op.
func (s *Store) Open(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channelID]; !ok {
		s.channels[channelID] = &entry{}
	}
}

func (s *Store) get(channelID string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.channels[channelID]
	return e, ok
}

// Save attempts to record a verified payment for channelID. Callers must
// have already verified the proof against the channel's commitment and
// computed cumulativeOwed before calling Save; this store only enforces
// monotonicity and bounds, it does not verify proofs itself.
func (s *Store) Save(channelID string, declaredIndex int, maxIndex int, cumulativeOwed int64, proof proofcore.Proof) Outcome {
	e, ok := s.get(channelID)
	if !ok {
		return ChannelMissing
	}
	if maxIndex > 0 && declaredIndex > maxIndex {
		return ExceedsBounds
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.known && declaredIndex <= e.state.Index {
		return NotNewer
	}

	e.state = StoredState{
		ChannelID:      channelID,
		Index:          declaredIndex,
		CumulativeOwed: cumulativeOwed,
		Proof:          proof,
		UpdatedAt:      time.Now(),
	}
	e.known = true
	return Accepted
}

// Best returns the highest-index payment recorded for channelID. The
// second return value is false if the channel has no accepted payments yet
// (including if the channel itself is unknown to the store).
func (s *Store) Best(channelID string) (StoredState, bool) {
	e, ok := s.get(channelID)
	if !ok {
		return StoredState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.known {
		return StoredState{}, false
	}
	return e.state, true
}

// Exists reports whether channelID has been opened in this store.
func (s *Store) Exists(channelID string) bool {
	_, ok := s.get(channelID)
	return ok
}
