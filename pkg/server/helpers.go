// Copyright 2025 Nanomoni Authors
package server

import "encoding/hex"

// decodeHexPublicKey decodes a hex-encoded public key from a URL path
// segment, the form accounts are addressed by in GET requests.
func decodeHexPublicKey(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
