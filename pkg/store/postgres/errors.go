// Copyright 2025 Nanomoni Authors
//
// Package postgres provides sentinel errors for repository operations.
// Explicit errors instead of nil, nil returns.

package postgres

import "errors"

// Sentinel errors for missing postgres rows. Repository does not return
// them: it reports a missing row as store.ErrNotFound.
var (
	// ErrAccountNotFound names a missing account row.
	ErrAccountNotFound = errors.New("postgres: account not found")

	// ErrChannelNotFound names a missing channel row.
	ErrChannelNotFound = errors.New("postgres: channel not found")

	// ErrPaymentStateNotFound names a missing payment state row.
	ErrPaymentStateNotFound = errors.New("postgres: payment state not found")
)
