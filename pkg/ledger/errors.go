// Copyright 2025 Certen Protocol
//
// Package ledger provides sentinel errors for account ledger operations.
// Explicit errors instead of nil, nil returns.

package ledger

import "errors"

// Sentinel errors for account ledger operations.
var (
	// ErrAccountNotFound is returned when a public key has no registered account.
	ErrAccountNotFound = errors.New("ledger: account not found")

	// ErrInsufficientFunds is returned by Debit when the account balance
	// is lower than the requested amount.
	ErrInsufficientFunds = errors.New("ledger: insufficient balance")

	// ErrNonPositiveAmount is returned by Debit/Credit for amount <= 0.
	ErrNonPositiveAmount = errors.New("ledger: amount must be positive")
)
