// Copyright 2025 Nanomoni Authors
//
// Package server wires Issuer and Vendor handlers onto an
// http.ServeMux, matching the teacher's stdlib-only routing style: one
// mux, one HandleFunc per path, no third-party router.
package server

import (
	"net/http"

	"github.com/nanomoni/channels/pkg/issuer"
	"github.com/nanomoni/channels/pkg/vendor"
)

// NewIssuerMux builds the HTTP routing table for an Issuer process.
func NewIssuerMux(svc *issuer.Issuer, metrics *Metrics) *http.ServeMux {
	h := NewIssuerHandlers(svc, metrics, nil)
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/accounts", h.HandleRegister)
	mux.HandleFunc("/api/v1/accounts/", h.HandleGetAccount)
	mux.HandleFunc("/api/v1/channels", h.HandleOpenChannel)
	mux.HandleFunc("/api/v1/channels/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case hasSuffixSegment(r.URL.Path, "/settle"):
			h.HandleSettleChannel(w, r)
		default:
			h.HandleGetChannel(w, r)
		}
	})
	mux.HandleFunc("/healthz", handleHealthz)
	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}
	return mux
}

// NewVendorMux builds the HTTP routing table for a Vendor process.
func NewVendorMux(svc *vendor.Service, metrics *Metrics) *http.ServeMux {
	h := NewVendorHandlers(svc, metrics, nil)
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/vendor/public-key", h.HandleGetPublicKey)
	mux.HandleFunc("/api/v1/channels/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case hasSuffixSegment(r.URL.Path, "/payments"):
			h.HandleReceivePayment(w, r)
		case hasSuffixSegment(r.URL.Path, "/settlement"):
			h.HandleRequestSettlement(w, r)
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("/healthz", handleHealthz)
	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}
	return mux
}

func hasSuffixSegment(path, suffix string) bool {
	n := len(path)
	m := len(suffix)
	return n >= m && path[n-m:] == suffix
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
