// Copyright 2025 Nanomoni Authors
//
// Package proofcore unifies the three payment-channel proof schemes behind
// a single tagged-variant dispatch. Every scheme exposes the same shape:
// verify(commitment, proof, declaredIndex) -> (cumulativeOwedAmount, error).
// The verifier functions in pkg/cryptosig, pkg/payword, and pkg/paytree
// remain pure and non-blocking; this package only routes to them.
package proofcore

import (
	"errors"
	"fmt"

	"github.com/nanomoni/channels/pkg/cryptosig"
	"github.com/nanomoni/channels/pkg/payword"
	"github.com/nanomoni/channels/pkg/paytree"
)

// Scheme identifies which proof variant a channel uses. The zero value is
// intentionally invalid so an unset Scheme field in a decoded struct is
// caught rather than silently treated as Signature.
type Scheme byte

const (
	SchemeUnspecified Scheme = iota
	SchemeSignature
	SchemePayword
	SchemePaytree
)

func (s Scheme) String() string {
	switch s {
	case SchemeSignature:
		return "signature"
	case SchemePayword:
		return "payword"
	case SchemePaytree:
		return "paytree"
	default:
		return "unspecified"
	}
}

var ErrUnknownScheme = errors.New("proofcore: unknown proof scheme")

// Commitment is the scheme-tagged data a channel is opened with: the
// information the vendor needs on hand before it can verify any proof
// against that channel, independent of which payment arrives first.
type Commitment struct {
	Scheme Scheme

	// Signature scheme fields.
	ClientPublicKey []byte

	// Payword and Paytree share these two fields: the committed root and
	// the upper bound on the index (max_k for Payword, max_i for Paytree).
	Root     []byte
	MaxIndex int
}

// Proof is the scheme-tagged data a client discloses for a single payment.
type Proof struct {
	Scheme Scheme

	// Signature scheme: the signature and the public key it was produced
	// under (checked against the commitment's ClientPublicKey).
	Signature       []byte
	DeclaredPubKey  []byte

	// Payword: the revealed pre-image token t_k.
	Token []byte

	// Paytree: the disclosed leaf and its sibling path.
	Leaf      []byte
	Siblings  [][]byte
}

// Verify dispatches to the scheme named by commitment.Scheme, checks that
// proof carries the same scheme tag, and returns the cumulative amount the
// client has committed to owing as of declaredIndex. channelID and unit
// value are channel-level parameters needed to reconstruct what the client
// actually signed or folded.
func Verify(commitment Commitment, proof Proof, channelID string, declaredIndex int, unitValue int64) (cumulativeOwed int64, err error) {
	if proof.Scheme != commitment.Scheme {
		return 0, fmt.Errorf("%w: commitment is %s, proof is %s", ErrUnknownScheme, commitment.Scheme, proof.Scheme)
	}

	switch commitment.Scheme {
	case SchemeSignature:
		cumulativeOwed = int64(declaredIndex) * unitValue
		if declaredIndex <= 0 {
			return 0, cryptosigNonPositiveIndexErr()
		}
		if err := cryptosig.VerifyChannelPayment(commitment.ClientPublicKey, proof.DeclaredPubKey, channelID, cumulativeOwed, proof.Signature); err != nil {
			return 0, err
		}
		return cumulativeOwed, nil

	case SchemePayword:
		return payword.Verify(commitment.Root, proof.Token, declaredIndex, commitment.MaxIndex, unitValue)

	case SchemePaytree:
		return paytree.Verify(commitment.Root, proof.Leaf, proof.Siblings, declaredIndex, commitment.MaxIndex, unitValue)

	default:
		return 0, ErrUnknownScheme
	}
}

// cryptosigNonPositiveIndexErr gives the signature scheme's index-zero
// rejection the same sentinel shape the other two schemes use, even though
// the signature scheme has no inherent upper bound to violate.
func cryptosigNonPositiveIndexErr() error {
	return errNonPositiveIndex
}

var errNonPositiveIndex = errors.New("proofcore: index must be positive")
