// Copyright 2025 Nanomoni Authors
//
// Package cryptosig implements the signature-scheme payment channel's
// cryptographic primitives: canonical payload encoding and ECDSA-P256
// signing/verification over SHA-256 digests.
package cryptosig

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math/big"
)

// Errors returned by Verify. Callers distinguish these from generic I/O
// errors when deciding whether a rejection is retry-safe (it never is).
var (
	ErrInvalidSignature    = errors.New("cryptosig: invalid signature")
	ErrMismatchedPublicKey = errors.New("cryptosig: declared public key does not match channel public key")
)

// OpenChannelFields is the canonical, signed payload of an open-channel
// request. Field order and widths are fixed so the encoding never depends
// on map iteration order or JSON whitespace.
type OpenChannelFields struct {
	ClientPublicKey []byte // uncompressed SEC1 point
	VendorPublicKey []byte
	Amount          int64
	UnitValue       int64
	Scheme          byte // proofcore.Scheme value: 1 = signature, 2 = payword, 3 = paytree
	Commitment      []byte // scheme-specific commitment bytes (root or empty for signature scheme)
	MaxIndex        int64  // max_k / max_i; 0 for signature scheme
}

// CanonicalOpenPayload returns the deterministic byte encoding of an open
// request that the client signs and the Issuer re-derives to verify it.
func CanonicalOpenPayload(f OpenChannelFields) []byte {
	buf := make([]byte, 0, 64+len(f.ClientPublicKey)+len(f.VendorPublicKey)+len(f.Commitment))
	buf = appendUint32Prefixed(buf, f.ClientPublicKey)
	buf = appendUint32Prefixed(buf, f.VendorPublicKey)
	buf = appendInt64(buf, f.Amount)
	buf = appendInt64(buf, f.UnitValue)
	buf = append(buf, f.Scheme)
	buf = appendUint32Prefixed(buf, f.Commitment)
	buf = appendInt64(buf, f.MaxIndex)
	return buf
}

// CanonicalPaymentPayload returns the deterministic byte encoding of a
// signature-scheme payment: the channel id and the claimed cumulative owed
// amount. This is what the client signs for every payment.
func CanonicalPaymentPayload(channelID string, cumulativeOwed int64) []byte {
	buf := make([]byte, 0, 16+len(channelID))
	buf = appendUint32Prefixed(buf, []byte(channelID))
	buf = appendInt64(buf, cumulativeOwed)
	return buf
}

func appendUint32Prefixed(buf, data []byte) []byte {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	buf = append(buf, length[:]...)
	return append(buf, data...)
}

func appendInt64(buf []byte, v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

// GenerateKey creates a new P-256 ECDSA key pair. Used by clients and the
// vendor; the Issuer never holds a signing key of its own.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// MarshalPublicKey returns the uncompressed SEC1 encoding of a public key.
func MarshalPublicKey(pub *ecdsa.PublicKey) []byte {
	return elliptic.Marshal(elliptic.P256(), pub.X, pub.Y)
}

// UnmarshalPublicKey parses an uncompressed SEC1-encoded P-256 public key.
func UnmarshalPublicKey(data []byte) (*ecdsa.PublicKey, error) {
	x, y := elliptic.Unmarshal(elliptic.P256(), data)
	if x == nil {
		return nil, errors.New("cryptosig: invalid public key encoding")
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}

// Sign produces an ECDSA-P256 signature over SHA-256(payload), encoded as
// the concatenation of fixed-width r and s (32 bytes each).
func Sign(sk *ecdsa.PrivateKey, payload []byte) ([]byte, error) {
	digest := sha256.Sum256(payload)
	r, s, err := ecdsa.Sign(rand.Reader, sk, digest[:])
	if err != nil {
		return nil, err
	}
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig, nil
}

// Verify checks an ECDSA-P256 signature over SHA-256(payload). It never
// returns anything other than ErrInvalidSignature on a cryptographic
// mismatch, so callers can treat any non-nil error as a rejection.
func Verify(pub *ecdsa.PublicKey, payload, sig []byte) error {
	if len(sig) != 64 {
		return ErrInvalidSignature
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	digest := sha256.Sum256(payload)
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyChannelPayment checks a signature-scheme payment proof: the proof
// must be signed by the channel's client key over
// (channel_id, cumulative_owed_amount), and the declared signer must match
// the channel's client key byte-for-byte.
func VerifyChannelPayment(channelClientPubKey []byte, declaredPubKey []byte, channelID string, cumulativeOwed int64, sig []byte) error {
	if len(declaredPubKey) != len(channelClientPubKey) || !bytesEqual(declaredPubKey, channelClientPubKey) {
		return ErrMismatchedPublicKey
	}
	pub, err := UnmarshalPublicKey(channelClientPubKey)
	if err != nil {
		return ErrInvalidSignature
	}
	payload := CanonicalPaymentPayload(channelID, cumulativeOwed)
	return Verify(pub, payload, sig)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
