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
	"github.com/nanomoni/channels/pkg/proofcore"
)

func newTestIssuerMux(t *testing.T) (*http.ServeMux, *issuer.Issuer) {
	t.Helper()
	iss := issuer.New(ledger.NewAccountLedger(ledger.NewMemoryKV()))
	return NewIssuerMux(iss, NewMetrics()), iss
}

func mustClientKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	sk, err := cryptosig.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return sk
}

func TestHandleRegister_CreatesAccount(t *testing.T) {
	mux, _ := newTestIssuerMux(t)
	sk := mustClientKey(t)
	pub := cryptosig.MarshalPublicKey(&sk.PublicKey)

	body, _ := json.Marshal(registerRequest{PublicKey: pub, InitialBalance: 1000})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body=%s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	var resp accountResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Balance != 1000 {
		t.Fatalf("Balance = %d, want 1000", resp.Balance)
	}
}

func TestHandleRegister_IsIdempotent(t *testing.T) {
	mux, _ := newTestIssuerMux(t)
	sk := mustClientKey(t)
	pub := cryptosig.MarshalPublicKey(&sk.PublicKey)

	body, _ := json.Marshal(registerRequest{PublicKey: pub, InitialBalance: 1000})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("first register: status = %d", rr.Code)
	}
	var first accountResponse
	if err := json.NewDecoder(rr.Body).Decode(&first); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// A replay declaring a different initial balance must not change the
	// account: it is a no-op that returns the existing state.
	replayBody, _ := json.Marshal(registerRequest{PublicKey: pub, InitialBalance: 999999})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/accounts", bytes.NewReader(replayBody))
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("replay register: status = %d", rr.Code)
	}
	var replay accountResponse
	if err := json.NewDecoder(rr.Body).Decode(&replay); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if replay.Balance != first.Balance {
		t.Fatalf("replay Balance = %d, want unchanged %d", replay.Balance, first.Balance)
	}
	if replay.RegisteredAt != first.RegisteredAt {
		t.Fatal("replay must not reset RegisteredAt")
	}
}

func TestHandleRegister_MethodNotAllowed(t *testing.T) {
	mux, _ := newTestIssuerMux(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleGetAccount_NotFound(t *testing.T) {
	mux, _ := newTestIssuerMux(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/deadbeef", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestHandleOpenChannel_AndGetChannel(t *testing.T) {
	mux, _ := newTestIssuerMux(t)
	clientSK := mustClientKey(t)
	vendorSK := mustClientKey(t)
	clientPub := cryptosig.MarshalPublicKey(&clientSK.PublicKey)
	vendorPub := cryptosig.MarshalPublicKey(&vendorSK.PublicKey)

	regBody, _ := json.Marshal(registerRequest{PublicKey: clientPub, InitialBalance: 500})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", bytes.NewReader(regBody))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rr.Code)
	}

	payload := cryptosig.CanonicalOpenPayload(cryptosig.OpenChannelFields{
		ClientPublicKey: clientPub,
		VendorPublicKey: vendorPub,
		Amount:          500,
		UnitValue:       1,
		Scheme:          byte(proofcore.SchemeSignature),
	})
	sig, err := cryptosig.Sign(clientSK, payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	openBody, _ := json.Marshal(openChannelRequest{
		ClientPublicKey: clientPub,
		VendorPublicKey: vendorPub,
		Amount:          500,
		UnitValue:       1,
		Scheme:          byte(proofcore.SchemeSignature),
		Signature:       sig,
	})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/channels", bytes.NewReader(openBody))
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("open channel status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var opened channelResponse
	if err := json.NewDecoder(rr.Body).Decode(&opened); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if opened.ID == "" {
		t.Fatal("expected non-empty channel id")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/channels/"+opened.ID, nil)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("get channel status = %d", rr.Code)
	}
}

func TestHandleOpenChannel_BadSignatureRejected(t *testing.T) {
	mux, _ := newTestIssuerMux(t)
	clientSK := mustClientKey(t)
	vendorSK := mustClientKey(t)
	clientPub := cryptosig.MarshalPublicKey(&clientSK.PublicKey)
	vendorPub := cryptosig.MarshalPublicKey(&vendorSK.PublicKey)

	regBody, _ := json.Marshal(registerRequest{PublicKey: clientPub, InitialBalance: 500})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", bytes.NewReader(regBody))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	openBody, _ := json.Marshal(openChannelRequest{
		ClientPublicKey: clientPub,
		VendorPublicKey: vendorPub,
		Amount:          500,
		UnitValue:       1,
		Scheme:          byte(proofcore.SchemeSignature),
		Signature:       make([]byte, 64),
	})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/channels", bytes.NewReader(openBody))
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d, body=%s", rr.Code, http.StatusUnauthorized, rr.Body.String())
	}
}

func TestHandleOpenChannel_MismatchedPublicKeyClaimRejected(t *testing.T) {
	mux, _ := newTestIssuerMux(t)
	clientASK := mustClientKey(t)
	clientBSK := mustClientKey(t)
	vendorSK := mustClientKey(t)
	clientAPub := cryptosig.MarshalPublicKey(&clientASK.PublicKey)
	clientBPub := cryptosig.MarshalPublicKey(&clientBSK.PublicKey)
	vendorPub := cryptosig.MarshalPublicKey(&vendorSK.PublicKey)

	regBody, _ := json.Marshal(registerRequest{PublicKey: clientAPub, InitialBalance: 500})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", bytes.NewReader(regBody))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rr.Code)
	}

	// clientA signs a payload claiming clientB's key, but the request
	// declares clientA's key, so the signature alone checks out.
	payload := cryptosig.CanonicalOpenPayload(cryptosig.OpenChannelFields{
		ClientPublicKey: clientBPub,
		VendorPublicKey: vendorPub,
		Amount:          500,
		UnitValue:       1,
		Scheme:          byte(proofcore.SchemeSignature),
	})
	sig, err := cryptosig.Sign(clientASK, payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	openBody, _ := json.Marshal(openChannelRequest{
		ClientPublicKey:        clientAPub,
		PayloadClientPublicKey: clientBPub,
		VendorPublicKey:        vendorPub,
		Amount:                 500,
		UnitValue:              1,
		Scheme:                 byte(proofcore.SchemeSignature),
		Signature:              sig,
	})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/channels", bytes.NewReader(openBody))
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d, body=%s", rr.Code, http.StatusBadRequest, rr.Body.String())
	}

	var errResp map[string]map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errResp["error"]["code"] != "MISMATCHED_PUBLIC_KEY" {
		t.Fatalf("error code = %q, want MISMATCHED_PUBLIC_KEY", errResp["error"]["code"])
	}
}

func TestHandleSettleChannel_SplitsFundsAndIsIdempotent(t *testing.T) {
	mux, _ := newTestIssuerMux(t)
	clientSK := mustClientKey(t)
	vendorSK := mustClientKey(t)
	clientPub := cryptosig.MarshalPublicKey(&clientSK.PublicKey)
	vendorPub := cryptosig.MarshalPublicKey(&vendorSK.PublicKey)

	for _, pub := range [][]byte{clientPub, vendorPub} {
		regBody, _ := json.Marshal(registerRequest{PublicKey: pub, InitialBalance: 1000})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", bytes.NewReader(regBody))
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("register status = %d", rr.Code)
		}
	}

	payload := cryptosig.CanonicalOpenPayload(cryptosig.OpenChannelFields{
		ClientPublicKey: clientPub,
		VendorPublicKey: vendorPub,
		Amount:          1000,
		UnitValue:       1,
		Scheme:          byte(proofcore.SchemeSignature),
	})
	sig, _ := cryptosig.Sign(clientSK, payload)
	openBody, _ := json.Marshal(openChannelRequest{
		ClientPublicKey: clientPub,
		VendorPublicKey: vendorPub,
		Amount:          1000,
		UnitValue:       1,
		Scheme:          byte(proofcore.SchemeSignature),
		Signature:       sig,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/channels", bytes.NewReader(openBody))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	var opened channelResponse
	json.NewDecoder(rr.Body).Decode(&opened)

	const owed = 250
	paymentPayload := cryptosig.CanonicalPaymentPayload(opened.ID, owed)
	paymentSig, _ := cryptosig.Sign(clientSK, paymentPayload)

	settleBody, _ := json.Marshal(settleChannelRequest{
		DeclaredIndex: owed,
		Proof: proofcore.Proof{
			Scheme:         proofcore.SchemeSignature,
			Signature:      paymentSig,
			DeclaredPubKey: clientPub,
		},
	})

	req = httptest.NewRequest(http.MethodPost, "/api/v1/channels/"+opened.ID+"/settle", bytes.NewReader(settleBody))
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("settle status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var result settleChannelResponse
	json.NewDecoder(rr.Body).Decode(&result)
	if result.CumulativeOwed != owed {
		t.Fatalf("CumulativeOwed = %d, want %d", result.CumulativeOwed, owed)
	}
	if result.AlreadySettled {
		t.Fatal("first settlement should not report AlreadySettled")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/channels/"+opened.ID+"/settle", bytes.NewReader(settleBody))
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("replay settle status = %d", rr.Code)
	}
	var replay settleChannelResponse
	json.NewDecoder(rr.Body).Decode(&replay)
	if !replay.AlreadySettled {
		t.Fatal("replay should report AlreadySettled")
	}
}

func TestHandleGetChannel_NotFound(t *testing.T) {
	mux, _ := newTestIssuerMux(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/channels/does-not-exist", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}
