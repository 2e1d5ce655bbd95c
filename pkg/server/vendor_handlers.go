// Copyright 2025 Nanomoni Authors
//
// Vendor API Handlers
//
// Thin HTTP/JSON binding over pkg/vendor.Service: get_public_key,
// receive_payment, request_settlement.

package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/nanomoni/channels/pkg/proofcore"
	"github.com/nanomoni/channels/pkg/vendor"
)

// VendorHandlers provides HTTP handlers for Vendor operations.
type VendorHandlers struct {
	svc     *vendor.Service
	metrics *Metrics
	logger  *log.Logger
}

// NewVendorHandlers creates new Vendor API handlers.
func NewVendorHandlers(svc *vendor.Service, metrics *Metrics, logger *log.Logger) *VendorHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[VendorAPI] ", log.LstdFlags)
	}
	return &VendorHandlers{svc: svc, metrics: metrics, logger: logger}
}

type publicKeyResponse struct {
	PublicKey []byte `json:"publicKey"`
}

// HandleGetPublicKey handles GET /api/v1/vendor/public-key.
func (h *VendorHandlers) HandleGetPublicKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is allowed")
		return
	}
	h.writeJSON(w, http.StatusOK, publicKeyResponse{PublicKey: h.svc.GetPublicKey()})
}

type receivePaymentRequest struct {
	DeclaredIndex int             `json:"declaredIndex"`
	Proof         proofcore.Proof `json:"proof"`
}

type receivePaymentResponse struct {
	ChannelID      string `json:"channelId"`
	Index          int    `json:"index"`
	CumulativeOwed int64  `json:"cumulativeOwed"`
	Duplicate      bool   `json:"duplicate"`
}

// HandleReceivePayment handles POST /api/v1/channels/{channel_id}/payments.
func (h *VendorHandlers) HandleReceivePayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}
	requestID := uuid.New().String()

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/channels/")
	channelID := strings.TrimSuffix(strings.TrimSuffix(path, "/payments"), "/")
	if channelID == "" {
		h.writeError(w, http.StatusBadRequest, "INVALID_CHANNEL_ID", "channel id is required")
		return
	}

	var req receivePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body")
		return
	}

	result, err := h.svc.ReceivePayment(channelID, req.DeclaredIndex, req.Proof)
	if err != nil {
		h.logger.Printf("request %s: receive payment failed: %v", requestID, err)
		h.metrics.observePaymentRejected(rejectionReason(err))
		switch {
		case errors.Is(err, vendor.ErrUnknownOrClosedChannel):
			h.writeError(w, http.StatusNotFound, "UNKNOWN_OR_CLOSED_CHANNEL", err.Error())
		case errors.Is(err, vendor.ErrOverspend):
			h.writeError(w, http.StatusConflict, "OVERSPEND", err.Error())
		case errors.Is(err, vendor.ErrNonMonotonic):
			h.writeError(w, http.StatusConflict, "NON_MONOTONIC", err.Error())
		case errors.Is(err, vendor.ErrDuplicateConflict):
			h.writeError(w, http.StatusConflict, "DUPLICATE_CONFLICT", err.Error())
		default:
			h.writeError(w, http.StatusUnprocessableEntity, "INVALID_PROOF", err.Error())
		}
		return
	}
	h.metrics.observePaymentAccepted()
	h.writeJSON(w, http.StatusOK, receivePaymentResponse{
		ChannelID:      result.ChannelID,
		Index:          result.Index,
		CumulativeOwed: result.CumulativeOwed,
		Duplicate:      result.Duplicate,
	})
}

type requestSettlementResponse struct {
	ChannelID      string `json:"channelId"`
	CumulativeOwed int64  `json:"cumulativeOwed"`
	AlreadySettled bool   `json:"alreadySettled"`
}

// HandleRequestSettlement handles POST /api/v1/channels/{channel_id}/settlement.
func (h *VendorHandlers) HandleRequestSettlement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}
	requestID := uuid.New().String()

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/channels/")
	channelID := strings.TrimSuffix(strings.TrimSuffix(path, "/settlement"), "/")
	if channelID == "" {
		h.writeError(w, http.StatusBadRequest, "INVALID_CHANNEL_ID", "channel id is required")
		return
	}

	result, err := h.svc.RequestSettlement(channelID)
	if err != nil {
		h.logger.Printf("request %s: request settlement failed: %v", requestID, err)
		if errors.Is(err, vendor.ErrNoPaymentsReceived) {
			h.writeError(w, http.StatusConflict, "NO_PAYMENTS_RECEIVED", err.Error())
			return
		}
		h.writeError(w, http.StatusBadGateway, "SETTLEMENT_FAILED", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, requestSettlementResponse{
		ChannelID:      result.ChannelID,
		CumulativeOwed: result.CumulativeOwed,
		AlreadySettled: result.AlreadySettled,
	})
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, vendor.ErrUnknownOrClosedChannel):
		return "unknown_or_closed_channel"
	case errors.Is(err, vendor.ErrOverspend):
		return "overspend"
	case errors.Is(err, vendor.ErrNonMonotonic):
		return "non_monotonic"
	case errors.Is(err, vendor.ErrDuplicateConflict):
		return "duplicate_conflict"
	default:
		return "invalid_proof"
	}
}

func (h *VendorHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Printf("error encoding response: %v", err)
	}
}

func (h *VendorHandlers) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
