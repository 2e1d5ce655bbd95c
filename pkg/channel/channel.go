// Copyright 2025 Nanomoni Authors
//
// Package channel defines the payment channel record the Issuer owns and
// the Vendor caches: its parties, its proof-scheme commitment, and the
// derivation of its identifier.
package channel

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/nanomoni/channels/pkg/proofcore"
)

var ErrInvalidAmount = errors.New("channel: amount must be positive")

// Channel is the durable record created by OpenChannel and consulted by
// every subsequent payment and settlement.
type Channel struct {
	ID              string             `json:"id"`
	ClientPublicKey []byte             `json:"clientPublicKey"`
	VendorPublicKey []byte             `json:"vendorPublicKey"`
	Amount          int64              `json:"amount"`    // total escrowed by the Issuer at open time
	UnitValue       int64              `json:"unitValue"` // currency units owed per index step
	Commitment      proofcore.Commitment `json:"commitment"`
	OpenedAt        time.Time          `json:"openedAt"`
	Settled         bool               `json:"settled"`
	SettledAt       *time.Time         `json:"settledAt,omitempty"`
}

// DeriveChannelID computes a channel's identifier from the signed open
// payload and a random salt, so the id cannot be predicted before the
// Issuer actually opens the channel and commits it is bound to one
// specific signed request.
func DeriveChannelID(signedPayload []byte, salt []byte) string {
	h := sha256.New()
	h.Write(signedPayload)
	h.Write(salt)
	return hex.EncodeToString(h.Sum(nil))
}

// NewSalt returns a fresh random salt for DeriveChannelID.
func NewSalt() ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("channel: generating salt: %w", err)
	}
	return salt, nil
}

// Validate checks the structural invariants a Channel must hold regardless
// of which proof scheme it uses.
func (c *Channel) Validate() error {
	if c.Amount <= 0 {
		return ErrInvalidAmount
	}
	if c.UnitValue <= 0 {
		return fmt.Errorf("channel: unit value must be positive")
	}
	switch c.Commitment.Scheme {
	case proofcore.SchemeSignature:
		if len(c.ClientPublicKey) == 0 {
			return fmt.Errorf("channel: signature scheme requires a client public key")
		}
	case proofcore.SchemePayword, proofcore.SchemePaytree:
		if len(c.Commitment.Root) != 32 {
			return fmt.Errorf("channel: %s scheme requires a 32-byte commitment root", c.Commitment.Scheme)
		}
		if c.Commitment.MaxIndex <= 0 {
			return fmt.Errorf("channel: %s scheme requires a positive max index", c.Commitment.Scheme)
		}
	default:
		return proofcore.ErrUnknownScheme
	}
	return nil
}
