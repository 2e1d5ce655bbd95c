package ledger

import "time"

// Account is a registered client or vendor balance, addressed by the
// public key that signs (or is designated in) its channel openings.
type Account struct {
	PublicKeyHex string    `json:"publicKeyHex"`
	Balance      int64     `json:"balance"`
	RegisteredAt time.Time `json:"registeredAt"`
}
