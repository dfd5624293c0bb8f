// Package signing implements the EIP-191 request signatures that identify
// callers of the OpenACE Chain HTTP API. Both the server middleware and the
// Go SDK build the signed payload through this package so the two sides
// never drift apart.
package signing

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Header names carried by every signed request.
const (
	HeaderAddress   = "X-ACE-Address"
	HeaderTimestamp = "X-ACE-Timestamp"
	HeaderSignature = "X-ACE-Signature"
)

// ErrSignerMismatch is returned when the recovered signer differs from the
// declared address.
var ErrSignerMismatch = errors.New("signature does not match declared address")

// Payload returns the message that is signed for a request. The body is
// committed to by its keccak256 digest.
func Payload(method, path string, timestamp int64, body []byte) []byte {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteByte('\n')
	b.WriteString(crypto.Keccak256Hash(body).Hex())
	return []byte(b.String())
}

// Sign produces a 65 byte [R || S || V] signature with V in {27, 28}.
func Sign(key *ecdsa.PrivateKey, payload []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(payload), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Recover returns the address that signed payload. Both {0, 1} and {27, 28}
// recovery ids are accepted.
func Recover(payload, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	normalized := append([]byte(nil), sig...)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(payload), normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Headers computes the three signature headers for a request.
func Headers(key *ecdsa.PrivateKey, method, path string, timestamp int64, body []byte) (map[string]string, error) {
	sig, err := Sign(key, Payload(method, path, timestamp, body))
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderAddress:   crypto.PubkeyToAddress(key.PublicKey).Hex(),
		HeaderTimestamp: strconv.FormatInt(timestamp, 10),
		HeaderSignature: hexutil.Encode(sig),
	}, nil
}

// Verify checks that sigHex over the request was produced by address.
func Verify(address common.Address, method, path string, timestamp int64, body []byte, sigHex string) error {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	signer, err := Recover(Payload(method, path, timestamp, body), sig)
	if err != nil {
		return err
	}
	if signer != address {
		return ErrSignerMismatch
	}
	return nil
}
