package signing

import (
	"strconv"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestHeadersVerify(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	body := []byte(`{"proof_type":65793}`)
	headers, err := Headers(key, "post", "/api/v1/proofs/validate", 1700000000, body)
	if err != nil {
		t.Fatalf("headers: %v", err)
	}
	address := common.HexToAddress(headers[HeaderAddress])
	if address != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("unexpected address %s", address.Hex())
	}
	ts, _ := strconv.ParseInt(headers[HeaderTimestamp], 10, 64)

	if err := Verify(address, "POST", "/api/v1/proofs/validate", ts, body, headers[HeaderSignature]); err != nil {
		t.Fatalf("verify: %v", err)
	}

	cases := []struct {
		name   string
		method string
		path   string
		ts     int64
		body   []byte
	}{
		{"method", "PUT", "/api/v1/proofs/validate", ts, body},
		{"path", "POST", "/api/v1/proofs/process", ts, body},
		{"timestamp", "POST", "/api/v1/proofs/validate", ts + 1, body},
		{"body", "POST", "/api/v1/proofs/validate", ts, []byte(`{}`)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := Verify(address, tc.method, tc.path, tc.ts, tc.body, headers[HeaderSignature]); err == nil {
				t.Fatalf("tampered %s must not verify", tc.name)
			}
		})
	}
}

func TestRecoverAcceptsBothRecoveryIDs(t *testing.T) {
	key, _ := crypto.GenerateKey()
	payload := Payload("GET", "/healthz", 1, nil)
	sig, err := Sign(key, payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if v := sig[crypto.RecoveryIDOffset]; v != 27 && v != 28 {
		t.Fatalf("unexpected v %d", v)
	}
	raw := append([]byte(nil), sig...)
	raw[crypto.RecoveryIDOffset] -= 27
	for _, s := range [][]byte{sig, raw} {
		signer, err := Recover(payload, s)
		if err != nil {
			t.Fatalf("recover: %v", err)
		}
		if signer != crypto.PubkeyToAddress(key.PublicKey) {
			t.Fatalf("unexpected signer %s", signer.Hex())
		}
	}
	if _, err := Recover(payload, sig[:10]); err == nil {
		t.Fatal("short signature must fail")
	}
}
