// Copyright 2025 Nanomoni Authors
//
// Package store defines the durable persistence boundary the Issuer uses
// for accounts, channels, and payment state. Two implementations satisfy
// it: pkg/store/postgres (lib/pq, the primary deployment target) and
// pkg/store/firestore (Firestore/Firebase, an alternate cloud deployment
// profile). Both are interchangeable behind this interface so an Issuer
// process picks its backend purely from configuration.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nanomoni/channels/pkg/proofcore"
)

var (
	ErrNotFound      = errors.New("store: record not found")
	ErrAlreadyExists = errors.New("store: record already exists")
)

// AccountRecord is the durable form of an account balance.
type AccountRecord struct {
	PublicKeyHex string
	Balance      int64
	RegisteredAt time.Time
}

// ChannelRecord is the durable form of a channel, independent of which
// proof scheme it uses.
type ChannelRecord struct {
	ID              string
	ClientPublicKey []byte
	VendorPublicKey []byte
	Amount          int64
	UnitValue       int64
	Scheme          proofcore.Scheme
	CommitmentRoot  []byte // empty for the signature scheme
	MaxIndex        int    // 0 for the signature scheme
	OpenedAt        time.Time
	Settled         bool
	SettledAt       *time.Time
}

// PaymentStateRecord is the durable form of a channel's best-known payment.
type PaymentStateRecord struct {
	ChannelID      string
	Index          int
	CumulativeOwed int64
	UpdatedAt      time.Time
}

// Store is the durable persistence interface the Issuer's service layer
// depends on. Each method is a single independent write or read; the
// interface offers no multi-record transaction, and the Issuer uses it as
// a best-effort mirror of its in-memory state.
type Store interface {
	PutAccount(ctx context.Context, acc AccountRecord) error
	GetAccount(ctx context.Context, publicKeyHex string) (AccountRecord, error)

	PutChannel(ctx context.Context, ch ChannelRecord) error
	GetChannel(ctx context.Context, channelID string) (ChannelRecord, error)
	MarkChannelSettled(ctx context.Context, channelID string, settledAt time.Time) error

	PutPaymentState(ctx context.Context, state PaymentStateRecord) error
	GetPaymentState(ctx context.Context, channelID string) (PaymentStateRecord, error)

	Close() error
}
