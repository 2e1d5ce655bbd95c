package ledger

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// KV is the minimal key-value interface AccountLedger persists through.
// MemoryKV is the only implementation in this module; the postgres and
// firestore backends in pkg/store implement store.Store, not KV.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
}

// AccountLedger provides atomic balance bookkeeping for registered
// accounts.
//
// CONCURRENCY: the teacher's KV interface assumes single-writer access.
// AccountLedger does not inherit that assumption: it guards every read,
// debit, and credit with its own mutex, so it is safe to call concurrently
// from multiple request-handling goroutines. Debit and Credit are each
// atomic with respect to one another for the same account; they are not
// atomic across two different accounts (settlement does two single-
// account operations, not a cross-account transaction, matching the
// ledger's data model of independent per-account balances).
type AccountLedger struct {
	mu sync.RWMutex
	kv KV
}

// NewAccountLedger creates a ledger backed by kv.
func NewAccountLedger(kv KV) *AccountLedger {
	return &AccountLedger{kv: kv}
}

func accountKey(publicKeyHex string) []byte {
	return append([]byte("account:"), []byte(publicKeyHex)...)
}

// Register creates a new account with the given initial balance. A second
// Register call for the same public key is idempotent: it returns the
// already-registered account unchanged rather than failing, so retries from
// an unreliable caller never need special-case handling.
func (l *AccountLedger) Register(publicKey []byte, initialBalance int64) (*Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	keyHex := hex.EncodeToString(publicKey)
	if existing, err := l.load(keyHex); err == nil {
		return existing, nil
	} else if err != ErrAccountNotFound {
		return nil, err
	}

	acc := &Account{
		PublicKeyHex: keyHex,
		Balance:      initialBalance,
		RegisteredAt: time.Now(),
	}
	if err := l.save(acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// GetAccount returns the account registered for publicKey.
func (l *AccountLedger) GetAccount(publicKey []byte) (*Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.load(hex.EncodeToString(publicKey))
}

// Debit subtracts amount from the account's balance, failing with
// ErrInsufficientFunds if the balance would go negative. amount must be
// positive.
func (l *AccountLedger) Debit(publicKey []byte, amount int64) error {
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	keyHex := hex.EncodeToString(publicKey)
	acc, err := l.load(keyHex)
	if err != nil {
		return err
	}
	if acc.Balance < amount {
		return ErrInsufficientFunds
	}
	acc.Balance -= amount
	return l.save(acc)
}

// Credit adds amount to the account's balance. amount must be positive.
func (l *AccountLedger) Credit(publicKey []byte, amount int64) error {
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	keyHex := hex.EncodeToString(publicKey)
	acc, err := l.load(keyHex)
	if err != nil {
		return err
	}
	acc.Balance += amount
	return l.save(acc)
}

// load and save assume the caller already holds l.mu.
func (l *AccountLedger) load(publicKeyHex string) (*Account, error) {
	b, err := l.kv.Get(accountKey(publicKeyHex))
	if err != nil || len(b) == 0 {
		return nil, ErrAccountNotFound
	}
	var acc Account
	if err := json.Unmarshal(b, &acc); err != nil {
		return nil, fmt.Errorf("ledger: unmarshal account %s: %w", publicKeyHex, err)
	}
	return &acc, nil
}

func (l *AccountLedger) save(acc *Account) error {
	b, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("ledger: marshal account %s: %w", acc.PublicKeyHex, err)
	}
	return l.kv.Set(accountKey(acc.PublicKeyHex), b)
}

// MemoryKV is a process-local KV implementation, useful for tests and for
// running an Issuer without a durable store configured.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryKV creates an empty in-memory KV store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryKV) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[string(key)] = v
	return nil
}
