// Copyright 2025 Nanomoni Authors
//
// Package issuer implements the Issuer service: it custodies client
// balances, opens channels after verifying a client's signed request,
// accepts settlement requests, and is the vendor's source of truth for a
// channel's commitment.
package issuer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nanomoni/channels/pkg/channel"
	"github.com/nanomoni/channels/pkg/cryptosig"
	"github.com/nanomoni/channels/pkg/ledger"
	"github.com/nanomoni/channels/pkg/proofcore"
	"github.com/nanomoni/channels/pkg/store"
)

var (
	ErrChannelNotFound    = errors.New("issuer: channel not found")
	ErrChannelSettled     = errors.New("issuer: channel already settled")
	ErrInvalidOpenRequest = errors.New("issuer: open request failed verification")
)

// OpenChannelRequest is the client-signed request to open a channel.
//
// ClientPublicKey is the declared signer: OpenChannel verifies Signature
// against it and debits its account. PayloadClientPublicKey is the client
// key claimed inside the signed open payload itself; it is what a dishonest
// envelope could set to a different identity than the one that actually
// signed. Honest callers leave PayloadClientPublicKey empty, meaning "same
// as ClientPublicKey" (see OpenChannel); the two must be byte-identical or
// the request is rejected with cryptosig.ErrMismatchedPublicKey before any
// balance is touched.
type OpenChannelRequest struct {
	ClientPublicKey        []byte
	PayloadClientPublicKey []byte
	VendorPublicKey        []byte
	Amount                 int64
	UnitValue              int64
	Scheme                 proofcore.Scheme
	CommitmentRoot         []byte // empty for the signature scheme
	MaxIndex               int    // 0 for the signature scheme
	Signature              []byte // signs cryptosig.CanonicalOpenPayload of the above fields
}

// SettleChannelRequest carries the best proof the caller knows of for a
// channel, re-verified independently by the Issuer before any funds move.
type SettleChannelRequest struct {
	ChannelID     string
	DeclaredIndex int
	Proof         proofcore.Proof
}

// SettleChannelResult reports what the Issuer actually did.
type SettleChannelResult struct {
	ChannelID      string
	CumulativeOwed int64
	AlreadySettled bool // true if this call found the channel already settled (idempotent replay)
}

// Issuer is the Issuer service's in-process implementation. It keeps
// channel records and settlement status in memory as the operational
// source of truth, optionally mirroring account registrations, new
// channels and settlement flags to a durable Store. Balance changes made
// by opening and settling channels are not mirrored.
type Issuer struct {
	ledger  *ledger.AccountLedger
	durable store.Store // nil if running without a durable backend

	mu       sync.RWMutex
	channels map[string]*channel.Channel

	logger *log.Logger
}

// Option configures an Issuer at construction time.
type Option func(*Issuer)

// WithDurableStore attaches a durable Store that RegisterAccount
// (PutAccount), OpenChannel (PutChannel) and SettleChannel
// (MarkChannelSettled) mirror to, best-effort: a durable-write failure is logged
// but does not roll back the in-memory operation, since the in-memory
// state (not the durable mirror) is this process's source of truth for
// channels it currently holds open.
func WithDurableStore(s store.Store) Option {
	return func(i *Issuer) { i.durable = s }
}

// WithLogger sets a custom logger.
func WithLogger(logger *log.Logger) Option {
	return func(i *Issuer) { i.logger = logger }
}

// New creates an Issuer backed by the given account ledger.
func New(accountLedger *ledger.AccountLedger, opts ...Option) *Issuer {
	iss := &Issuer{
		ledger:   accountLedger,
		channels: make(map[string]*channel.Channel),
		logger:   log.New(log.Writer(), "[Issuer] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(iss)
	}
	return iss
}

// RegisterAccount creates a new account with the given initial balance, or
// returns the existing account unchanged if publicKey is already registered.
func (iss *Issuer) RegisterAccount(publicKey []byte, initialBalance int64) (*ledger.Account, error) {
	acc, err := iss.ledger.Register(publicKey, initialBalance)
	if err != nil {
		return nil, err
	}
	if iss.durable != nil {
		if err := iss.durable.PutAccount(context.Background(), store.AccountRecord{
			PublicKeyHex: acc.PublicKeyHex,
			Balance:      acc.Balance,
			RegisteredAt: acc.RegisteredAt,
		}); err != nil {
			iss.logger.Printf("durable mirror failed for account %s: %v", acc.PublicKeyHex, err)
		}
	}
	return acc, nil
}

// GetAccount returns the registered account for publicKey.
func (iss *Issuer) GetAccount(publicKey []byte) (*ledger.Account, error) {
	return iss.ledger.GetAccount(publicKey)
}

// OpenChannel verifies req's signature, debits the client's balance by
// req.Amount, derives a channel id, and records the new channel.
func (iss *Issuer) OpenChannel(req OpenChannelRequest) (*channel.Channel, error) {
	if req.Amount <= 0 {
		return nil, channel.ErrInvalidAmount
	}

	payloadClientKey := req.PayloadClientPublicKey
	if len(payloadClientKey) == 0 {
		payloadClientKey = req.ClientPublicKey
	}
	if !bytes.Equal(req.ClientPublicKey, payloadClientKey) {
		return nil, fmt.Errorf("issuer: %w", cryptosig.ErrMismatchedPublicKey)
	}

	payload := cryptosig.CanonicalOpenPayload(cryptosig.OpenChannelFields{
		ClientPublicKey: payloadClientKey,
		VendorPublicKey: req.VendorPublicKey,
		Amount:          req.Amount,
		UnitValue:       req.UnitValue,
		Scheme:          byte(req.Scheme),
		Commitment:      req.CommitmentRoot,
		MaxIndex:        int64(req.MaxIndex),
	})

	pub, err := cryptosig.UnmarshalPublicKey(req.ClientPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOpenRequest, err)
	}
	if err := cryptosig.Verify(pub, payload, req.Signature); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOpenRequest, err)
	}

	if err := iss.ledger.Debit(req.ClientPublicKey, req.Amount); err != nil {
		return nil, err
	}

	salt, err := channel.NewSalt()
	if err != nil {
		if refundErr := iss.ledger.Credit(req.ClientPublicKey, req.Amount); refundErr != nil {
			iss.logger.Printf("failed to refund after salt generation failure: %v", refundErr)
		}
		return nil, err
	}
	id := channel.DeriveChannelID(payload, salt)

	ch := &channel.Channel{
		ID:              id,
		ClientPublicKey: req.ClientPublicKey,
		VendorPublicKey: req.VendorPublicKey,
		Amount:          req.Amount,
		UnitValue:       req.UnitValue,
		Commitment: proofcore.Commitment{
			Scheme:          req.Scheme,
			ClientPublicKey: req.ClientPublicKey,
			Root:            req.CommitmentRoot,
			MaxIndex:        req.MaxIndex,
		},
		OpenedAt: time.Now(),
	}
	if err := ch.Validate(); err != nil {
		if refundErr := iss.ledger.Credit(req.ClientPublicKey, req.Amount); refundErr != nil {
			iss.logger.Printf("failed to refund after validation failure: %v", refundErr)
		}
		return nil, err
	}

	iss.mu.Lock()
	iss.channels[ch.ID] = ch
	iss.mu.Unlock()

	if iss.durable != nil {
		if err := iss.durable.PutChannel(context.Background(), toChannelRecord(ch)); err != nil {
			iss.logger.Printf("durable mirror failed for channel %s: %v", ch.ID, err)
		}
	}

	return ch, nil
}

// GetChannel returns the channel record for channelID.
func (iss *Issuer) GetChannel(channelID string) (*channel.Channel, error) {
	iss.mu.RLock()
	ch, ok := iss.channels[channelID]
	iss.mu.RUnlock()
	if !ok {
		return nil, ErrChannelNotFound
	}
	return ch, nil
}

// SettleChannel independently re-verifies req.Proof against the channel's
// own commitment (never trusting a cumulative amount supplied by the
// caller), then atomically credits the vendor and refunds the client the
// remainder of the escrowed amount. Settlement is idempotent: settling an
// already-settled channel returns the same result without moving funds
// again.
func (iss *Issuer) SettleChannel(req SettleChannelRequest) (*SettleChannelResult, error) {
	iss.mu.Lock()
	defer iss.mu.Unlock()

	ch, ok := iss.channels[req.ChannelID]
	if !ok {
		return nil, ErrChannelNotFound
	}
	if ch.Settled {
		return &SettleChannelResult{ChannelID: ch.ID, AlreadySettled: true}, nil
	}

	cumulativeOwed, err := proofcore.Verify(ch.Commitment, req.Proof, ch.ID, req.DeclaredIndex, ch.UnitValue)
	if err != nil {
		return nil, fmt.Errorf("issuer: settlement proof verification failed: %w", err)
	}
	if cumulativeOwed > ch.Amount {
		cumulativeOwed = ch.Amount
	}
	refund := ch.Amount - cumulativeOwed

	// Credit/refund must both land before the channel is marked closed: a
	// failure here (e.g. the vendor never registered an account) leaves
	// the channel open so the caller can fix the underlying problem and
	// retry settlement, instead of stranding the client's escrowed funds
	// behind a channel that already reports itself settled.
	if cumulativeOwed > 0 {
		if err := iss.ledger.Credit(ch.VendorPublicKey, cumulativeOwed); err != nil {
			return nil, fmt.Errorf("issuer: crediting vendor on settlement: %w", err)
		}
	}
	if refund > 0 {
		if err := iss.ledger.Credit(ch.ClientPublicKey, refund); err != nil {
			if cumulativeOwed > 0 {
				if rbErr := iss.ledger.Debit(ch.VendorPublicKey, cumulativeOwed); rbErr != nil {
					iss.logger.Printf("failed to roll back vendor credit for channel %s after refund failure: %v", ch.ID, rbErr)
				}
			}
			return nil, fmt.Errorf("issuer: refunding client on settlement: %w", err)
		}
	}

	now := time.Now()
	ch.Settled = true
	ch.SettledAt = &now

	if iss.durable != nil {
		if err := iss.durable.MarkChannelSettled(context.Background(), ch.ID, now); err != nil {
			iss.logger.Printf("durable mirror failed for settlement of %s: %v", ch.ID, err)
		}
	}

	return &SettleChannelResult{ChannelID: ch.ID, CumulativeOwed: cumulativeOwed}, nil
}

func toChannelRecord(ch *channel.Channel) store.ChannelRecord {
	return store.ChannelRecord{
		ID:              ch.ID,
		ClientPublicKey: ch.ClientPublicKey,
		VendorPublicKey: ch.VendorPublicKey,
		Amount:          ch.Amount,
		UnitValue:       ch.UnitValue,
		Scheme:          ch.Commitment.Scheme,
		CommitmentRoot:  ch.Commitment.Root,
		MaxIndex:        ch.Commitment.MaxIndex,
		OpenedAt:        ch.OpenedAt,
		Settled:         ch.Settled,
		SettledAt:       ch.SettledAt,
	}
}
