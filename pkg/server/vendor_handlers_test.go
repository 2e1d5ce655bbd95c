package server

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nanomoni/channels/pkg/cryptosig"
	"github.com/nanomoni/channels/pkg/issuer"
	"github.com/nanomoni/channels/pkg/ledger"
	"github.com/nanomoni/channels/pkg/paymentstore"
	"github.com/nanomoni/channels/pkg/proofcore"
	"github.com/nanomoni/channels/pkg/vendor"
)

type testTopology struct {
	issuerMux *http.ServeMux
	iss       *issuer.Issuer
	vendorMux *http.ServeMux
	vendorSvc *vendor.Service
	vendorPub []byte
	vendorSK  *ecdsa.PrivateKey
}

func newTestTopology(t *testing.T) *testTopology {
	t.Helper()
	iss := issuer.New(ledger.NewAccountLedger(ledger.NewMemoryKV()))
	vendorSK := mustClientKey(t)
	vendorPub := cryptosig.MarshalPublicKey(&vendorSK.PublicKey)

	vendorSvc := vendor.New(vendorPub, vendor.NewInProcessIssuerClient(iss), paymentstore.New())

	return &testTopology{
		issuerMux: NewIssuerMux(iss, NewMetrics()),
		iss:       iss,
		vendorMux: NewVendorMux(vendorSvc, NewMetrics()),
		vendorSvc: vendorSvc,
		vendorPub: vendorPub,
		vendorSK:  vendorSK,
	}
}

// openFundedSignatureChannel registers a client, opens a signature-scheme
// channel against this topology's vendor, and returns the channel id and
// client key for use with subsequent payments.
func (top *testTopology) openFundedSignatureChannel(t *testing.T, amount, unitValue int64) (string, *ecdsa.PrivateKey) {
	t.Helper()
	clientSK := mustClientKey(t)
	clientPub := cryptosig.MarshalPublicKey(&clientSK.PublicKey)

	regBody, _ := json.Marshal(registerRequest{PublicKey: clientPub, InitialBalance: amount})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", bytes.NewReader(regBody))
	rr := httptest.NewRecorder()
	top.issuerMux.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rr.Code)
	}

	payload := cryptosig.CanonicalOpenPayload(cryptosig.OpenChannelFields{
		ClientPublicKey: clientPub,
		VendorPublicKey: top.vendorPub,
		Amount:          amount,
		UnitValue:       unitValue,
		Scheme:          byte(proofcore.SchemeSignature),
	})
	sig, err := cryptosig.Sign(clientSK, payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	openBody, _ := json.Marshal(openChannelRequest{
		ClientPublicKey: clientPub,
		VendorPublicKey: top.vendorPub,
		Amount:          amount,
		UnitValue:       unitValue,
		Scheme:          byte(proofcore.SchemeSignature),
		Signature:       sig,
	})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/channels", bytes.NewReader(openBody))
	rr = httptest.NewRecorder()
	top.issuerMux.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("open channel status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var opened channelResponse
	json.NewDecoder(rr.Body).Decode(&opened)
	return opened.ID, clientSK
}

func TestHandleGetPublicKey(t *testing.T) {
	top := newTestTopology(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/vendor/public-key", nil)
	rr := httptest.NewRecorder()
	top.vendorMux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp publicKeyResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if !bytes.Equal(resp.PublicKey, top.vendorPub) {
		t.Fatal("returned public key does not match vendor's")
	}
}

func TestHandleReceivePayment_AcceptsAndReportsDuplicate(t *testing.T) {
	top := newTestTopology(t)
	channelID, clientSK := top.openFundedSignatureChannel(t, 1000, 1)
	clientPub := cryptosig.MarshalPublicKey(&clientSK.PublicKey)

	const owed = 100
	paymentSig, err := cryptosig.Sign(clientSK, cryptosig.CanonicalPaymentPayload(channelID, owed))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	paymentBody, _ := json.Marshal(receivePaymentRequest{
		DeclaredIndex: owed,
		Proof: proofcore.Proof{
			Scheme:         proofcore.SchemeSignature,
			Signature:      paymentSig,
			DeclaredPubKey: clientPub,
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/channels/"+channelID+"/payments", bytes.NewReader(paymentBody))
	rr := httptest.NewRecorder()
	top.vendorMux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var resp receivePaymentResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.CumulativeOwed != owed {
		t.Fatalf("CumulativeOwed = %d, want %d", resp.CumulativeOwed, owed)
	}
	if resp.Duplicate {
		t.Fatal("first payment should not be reported duplicate")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/channels/"+channelID+"/payments", bytes.NewReader(paymentBody))
	rr = httptest.NewRecorder()
	top.vendorMux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("replay status = %d", rr.Code)
	}
	var replay receivePaymentResponse
	json.NewDecoder(rr.Body).Decode(&replay)
	if !replay.Duplicate {
		t.Fatal("identical replay should be reported duplicate")
	}
}

func TestHandleReceivePayment_NonMonotonicRejected(t *testing.T) {
	top := newTestTopology(t)
	channelID, clientSK := top.openFundedSignatureChannel(t, 1000, 1)
	clientPub := cryptosig.MarshalPublicKey(&clientSK.PublicKey)

	higherSig, _ := cryptosig.Sign(clientSK, cryptosig.CanonicalPaymentPayload(channelID, 200))
	higherBody, _ := json.Marshal(receivePaymentRequest{
		DeclaredIndex: 200,
		Proof: proofcore.Proof{
			Scheme:         proofcore.SchemeSignature,
			Signature:      higherSig,
			DeclaredPubKey: clientPub,
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/channels/"+channelID+"/payments", bytes.NewReader(higherBody))
	rr := httptest.NewRecorder()
	top.vendorMux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("first payment status = %d", rr.Code)
	}

	lowerSig, _ := cryptosig.Sign(clientSK, cryptosig.CanonicalPaymentPayload(channelID, 50))
	lowerBody, _ := json.Marshal(receivePaymentRequest{
		DeclaredIndex: 50,
		Proof: proofcore.Proof{
			Scheme:         proofcore.SchemeSignature,
			Signature:      lowerSig,
			DeclaredPubKey: clientPub,
		},
	})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/channels/"+channelID+"/payments", bytes.NewReader(lowerBody))
	rr = httptest.NewRecorder()
	top.vendorMux.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d, body=%s", rr.Code, http.StatusConflict, rr.Body.String())
	}
	var errResp map[string]map[string]string
	json.NewDecoder(rr.Body).Decode(&errResp)
	if errResp["error"]["code"] != "NON_MONOTONIC" {
		t.Fatalf("error code = %s, want NON_MONOTONIC", errResp["error"]["code"])
	}
}

func TestHandleReceivePayment_UnknownChannel(t *testing.T) {
	top := newTestTopology(t)
	body, _ := json.Marshal(receivePaymentRequest{
		DeclaredIndex: 1,
		Proof:         proofcore.Proof{Scheme: proofcore.SchemeSignature},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/channels/does-not-exist/payments", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	top.vendorMux.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestHandleRequestSettlement_RequiresPriorPayment(t *testing.T) {
	top := newTestTopology(t)
	channelID, _ := top.openFundedSignatureChannel(t, 1000, 1)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/channels/"+channelID+"/settlement", nil)
	rr := httptest.NewRecorder()
	top.vendorMux.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d, body=%s", rr.Code, http.StatusConflict, rr.Body.String())
	}
}

func TestHandleRequestSettlement_SucceedsAfterPayment(t *testing.T) {
	top := newTestTopology(t)
	channelID, clientSK := top.openFundedSignatureChannel(t, 1000, 1)
	clientPub := cryptosig.MarshalPublicKey(&clientSK.PublicKey)
	// Settlement credits the vendor's account, so the vendor must be registered.
	if _, err := top.iss.RegisterAccount(top.vendorPub, 0); err != nil {
		t.Fatalf("RegisterAccount vendor: %v", err)
	}

	const owed = 300
	paymentSig, _ := cryptosig.Sign(clientSK, cryptosig.CanonicalPaymentPayload(channelID, owed))
	paymentBody, _ := json.Marshal(receivePaymentRequest{
		DeclaredIndex: owed,
		Proof: proofcore.Proof{
			Scheme:         proofcore.SchemeSignature,
			Signature:      paymentSig,
			DeclaredPubKey: clientPub,
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/channels/"+channelID+"/payments", bytes.NewReader(paymentBody))
	rr := httptest.NewRecorder()
	top.vendorMux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("payment status = %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/channels/"+channelID+"/settlement", nil)
	rr = httptest.NewRecorder()
	top.vendorMux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("settlement status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var resp requestSettlementResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.CumulativeOwed != owed {
		t.Fatalf("CumulativeOwed = %d, want %d", resp.CumulativeOwed, owed)
	}
}

func TestHealthzEndpoints(t *testing.T) {
	top := newTestTopology(t)
	for _, mux := range []*http.ServeMux{top.issuerMux, top.vendorMux} {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
	}
}
