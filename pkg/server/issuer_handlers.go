// Copyright 2025 Nanomoni Authors
//
// Issuer API Handlers
//
// Thin HTTP/JSON binding over pkg/issuer.Issuer: register, get_account,
// open_channel, get_channel, settle_channel.

package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/nanomoni/channels/pkg/channel"
	"github.com/nanomoni/channels/pkg/cryptosig"
	"github.com/nanomoni/channels/pkg/issuer"
	"github.com/nanomoni/channels/pkg/ledger"
	"github.com/nanomoni/channels/pkg/proofcore"
)

// IssuerHandlers provides HTTP handlers for Issuer operations.
type IssuerHandlers struct {
	svc     *issuer.Issuer
	metrics *Metrics
	logger  *log.Logger
}

// NewIssuerHandlers creates new Issuer API handlers.
func NewIssuerHandlers(svc *issuer.Issuer, metrics *Metrics, logger *log.Logger) *IssuerHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[IssuerAPI] ", log.LstdFlags)
	}
	return &IssuerHandlers{svc: svc, metrics: metrics, logger: logger}
}

type registerRequest struct {
	PublicKey      []byte `json:"publicKey"`
	InitialBalance int64  `json:"initialBalance"`
}

type accountResponse struct {
	PublicKeyHex string `json:"publicKeyHex"`
	Balance      int64  `json:"balance"`
	RegisteredAt string `json:"registeredAt"`
}

// HandleRegister handles POST /api/v1/accounts.
func (h *IssuerHandlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}
	requestID := uuid.New().String()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}

	acc, err := h.svc.RegisterAccount(req.PublicKey, req.InitialBalance)
	if err != nil {
		h.logger.Printf("request %s: register failed: %v", requestID, err)
		h.writeError(w, http.StatusBadRequest, "REGISTER_FAILED", err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, toAccountResponse(acc))
}

// HandleGetAccount handles GET /api/v1/accounts/{public_key_hex}.
func (h *IssuerHandlers) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is allowed")
		return
	}

	pubKeyHex := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/accounts/"), "/")
	if pubKeyHex == "" {
		h.writeError(w, http.StatusBadRequest, "INVALID_PUBLIC_KEY", "public key is required")
		return
	}
	pubKey, err := decodeHexPublicKey(pubKeyHex)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_PUBLIC_KEY", err.Error())
		return
	}

	acc, err := h.svc.GetAccount(pubKey)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, toAccountResponse(acc))
}

type openChannelRequest struct {
	ClientPublicKey []byte `json:"clientPublicKey"`
	// PayloadClientPublicKey is the client key claimed inside the signed
	// open payload. It is optional on the wire: omitting it means "same as
	// ClientPublicKey", which is what every honest client does. A caller
	// that declares one key but signs a payload claiming another is
	// rejected with a MISMATCHED_PUBLIC_KEY error.
	PayloadClientPublicKey []byte `json:"payloadClientPublicKey,omitempty"`
	VendorPublicKey        []byte `json:"vendorPublicKey"`
	Amount                 int64  `json:"amount"`
	UnitValue              int64  `json:"unitValue"`
	Scheme                 byte   `json:"scheme"`
	CommitmentRoot         []byte `json:"commitmentRoot,omitempty"`
	MaxIndex               int    `json:"maxIndex,omitempty"`
	Signature              []byte `json:"signature"`
}

type channelResponse struct {
	ID              string `json:"id"`
	ClientPublicKey []byte `json:"clientPublicKey"`
	VendorPublicKey []byte `json:"vendorPublicKey"`
	Amount          int64  `json:"amount"`
	UnitValue       int64  `json:"unitValue"`
	Scheme          byte   `json:"scheme"`
	Settled         bool   `json:"settled"`
}

// HandleOpenChannel handles POST /api/v1/channels.
func (h *IssuerHandlers) HandleOpenChannel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}
	requestID := uuid.New().String()

	var req openChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}

	ch, err := h.svc.OpenChannel(issuer.OpenChannelRequest{
		ClientPublicKey:        req.ClientPublicKey,
		PayloadClientPublicKey: req.PayloadClientPublicKey,
		VendorPublicKey:        req.VendorPublicKey,
		Amount:                 req.Amount,
		UnitValue:              req.UnitValue,
		Scheme:                 proofcore.Scheme(req.Scheme),
		CommitmentRoot:         req.CommitmentRoot,
		MaxIndex:               req.MaxIndex,
		Signature:              req.Signature,
	})
	if err != nil {
		h.logger.Printf("request %s: open channel failed: %v", requestID, err)
		switch {
		case errors.Is(err, cryptosig.ErrMismatchedPublicKey):
			h.writeError(w, http.StatusBadRequest, "MISMATCHED_PUBLIC_KEY", err.Error())
		case errors.Is(err, issuer.ErrInvalidOpenRequest):
			h.writeError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", err.Error())
		case errors.Is(err, ledger.ErrInsufficientFunds):
			h.writeError(w, http.StatusConflict, "INSUFFICIENT_FUNDS", err.Error())
		default:
			h.writeError(w, http.StatusBadRequest, "OPEN_CHANNEL_FAILED", err.Error())
		}
		return
	}
	h.metrics.observeChannelOpened()
	h.writeJSON(w, http.StatusCreated, toChannelResponse(ch))
}

// HandleGetChannel handles GET /api/v1/channels/{channel_id}.
func (h *IssuerHandlers) HandleGetChannel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is allowed")
		return
	}

	channelID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/channels/"), "/")
	if channelID == "" {
		h.writeError(w, http.StatusBadRequest, "INVALID_CHANNEL_ID", "channel id is required")
		return
	}

	ch, err := h.svc.GetChannel(channelID)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "CHANNEL_NOT_FOUND", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, toChannelResponse(ch))
}

type settleChannelRequest struct {
	DeclaredIndex int            `json:"declaredIndex"`
	Proof         proofcore.Proof `json:"proof"`
}

type settleChannelResponse struct {
	ChannelID      string `json:"channelId"`
	CumulativeOwed int64  `json:"cumulativeOwed"`
	AlreadySettled bool   `json:"alreadySettled"`
}

// HandleSettleChannel handles POST /api/v1/channels/{channel_id}/settle.
func (h *IssuerHandlers) HandleSettleChannel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}
	requestID := uuid.New().String()

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/channels/")
	channelID := strings.TrimSuffix(strings.TrimSuffix(path, "/settle"), "/")
	if channelID == "" {
		h.writeError(w, http.StatusBadRequest, "INVALID_CHANNEL_ID", "channel id is required")
		return
	}

	var req settleChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}

	result, err := h.svc.SettleChannel(issuer.SettleChannelRequest{
		ChannelID:     channelID,
		DeclaredIndex: req.DeclaredIndex,
		Proof:         req.Proof,
	})
	if err != nil {
		h.logger.Printf("request %s: settle channel failed: %v", requestID, err)
		if errors.Is(err, issuer.ErrChannelNotFound) {
			h.writeError(w, http.StatusNotFound, "CHANNEL_NOT_FOUND", err.Error())
			return
		}
		h.writeError(w, http.StatusUnprocessableEntity, "INVALID_SETTLEMENT_PROOF", err.Error())
		return
	}
	if !result.AlreadySettled {
		h.metrics.observeChannelSettled(result.CumulativeOwed)
	}
	h.writeJSON(w, http.StatusOK, settleChannelResponse{
		ChannelID:      result.ChannelID,
		CumulativeOwed: result.CumulativeOwed,
		AlreadySettled: result.AlreadySettled,
	})
}

func toAccountResponse(acc *ledger.Account) accountResponse {
	return accountResponse{
		PublicKeyHex: acc.PublicKeyHex,
		Balance:      acc.Balance,
		RegisteredAt: acc.RegisteredAt.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
}

func toChannelResponse(ch *channel.Channel) channelResponse {
	return channelResponse{
		ID:              ch.ID,
		ClientPublicKey: ch.ClientPublicKey,
		VendorPublicKey: ch.VendorPublicKey,
		Amount:          ch.Amount,
		UnitValue:       ch.UnitValue,
		Scheme:          byte(ch.Commitment.Scheme),
		Settled:         ch.Settled,
	}
}

func (h *IssuerHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Printf("error encoding response: %v", err)
	}
}

func (h *IssuerHandlers) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
