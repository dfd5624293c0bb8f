// Package aceclient is the Go client for the OpenACE Chain HTTP API. Every
// mutating request is signed with the caller's secp256k1 key following the
// EIP-191 scheme verified by the server.
package aceclient

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"OpenACE-Chain/pkg/signing"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the OpenACE Chain API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	now        func() time.Time

	mu      sync.RWMutex
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewClient instantiates a client. When httpClient is nil, a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, now: time.Now}, nil
}

// SetSigner makes the client sign requests with key.
func (c *Client) SetSigner(key *ecdsa.PrivateKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = key
	if key != nil {
		c.address = crypto.PubkeyToAddress(key.PublicKey)
	}
}

// SetAddress declares the caller address without signing. Only servers
// running with authentication disabled accept such requests.
func (c *Client) SetAddress(address common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = nil
	c.address = address
}

// Address returns the caller address used for requests.
func (c *Client) Address() common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.address
}

// SetCRS replaces the common reference string. Owner only.
func (c *Client) SetCRS(ctx context.Context, crs []byte) error {
	return c.send(ctx, http.MethodPut, "/api/v1/crs", nil, crsBody{CRS: crs}, nil)
}

// CRS returns the current common reference string.
func (c *Client) CRS(ctx context.Context) ([]byte, error) {
	var out crsBody
	if err := c.send(ctx, http.MethodGet, "/api/v1/crs", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.CRS, nil
}

// SetValidator binds the catalog validator name to proofType. Owner only.
func (c *Client) SetValidator(ctx context.Context, proofType uint32, name string) (Validator, error) {
	var out Validator
	endpoint := "/api/v1/validators/" + strconv.FormatUint(uint64(proofType), 10)
	if err := c.send(ctx, http.MethodPut, endpoint, nil, validatorRequest{Name: name}, &out); err != nil {
		return Validator{}, err
	}
	return out, nil
}

// Validator returns the binding of proofType.
func (c *Client) Validator(ctx context.Context, proofType uint32) (Validator, error) {
	var out Validator
	endpoint := "/api/v1/validators/" + strconv.FormatUint(uint64(proofType), 10)
	if err := c.send(ctx, http.MethodGet, endpoint, nil, nil, &out); err != nil {
		return Validator{}, err
	}
	return out, nil
}

// Validators lists every binding.
func (c *Client) Validators(ctx context.Context) ([]Validator, error) {
	var out []Validator
	if err := c.send(ctx, http.MethodGet, "/api/v1/validators", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidateProof validates proof data and records the outputs under the caller.
func (c *Client) ValidateProof(ctx context.Context, proofType uint32, sender common.Address, proof []byte) (Validation, error) {
	var out Validation
	req := proofRequest{ProofType: proofType, Sender: sender, Proof: proof}
	if err := c.send(ctx, http.MethodPost, "/api/v1/proofs/validate", nil, req, &out); err != nil {
		return Validation{}, err
	}
	return out, nil
}

// ProofStatus reports whether sender validated proofHash for proofType.
func (c *Client) ProofStatus(ctx context.Context, proofType uint32, proofHash common.Hash, sender common.Address) (ProofStatus, error) {
	var out ProofStatus
	query := url.Values{}
	query.Set("proof_type", strconv.FormatUint(uint64(proofType), 10))
	query.Set("sender", sender.Hex())
	if err := c.send(ctx, http.MethodGet, "/api/v1/proofs/"+proofHash.Hex(), query, nil, &out); err != nil {
		return ProofStatus{}, err
	}
	return out, nil
}

// ClearProofs removes validation records made by the caller.
func (c *Client) ClearProofs(ctx context.Context, proofType uint32, proofHashes ...common.Hash) error {
	req := clearRequest{ProofType: proofType, ProofHashes: proofHashes}
	return c.send(ctx, http.MethodPost, "/api/v1/proofs/clear", nil, req, nil)
}

// ProcessProof validates a proof and applies every output to the caller's registry.
func (c *Client) ProcessProof(ctx context.Context, proofType uint32, sender common.Address, proof []byte) ([]Receipt, error) {
	var out processResponse
	req := proofRequest{ProofType: proofType, Sender: sender, Proof: proof}
	if err := c.send(ctx, http.MethodPost, "/api/v1/proofs/process", nil, req, &out); err != nil {
		return nil, err
	}
	return out.Receipts, nil
}

// CreateRegistry creates a note registry owned by the caller.
func (c *Client) CreateRegistry(ctx context.Context, settings RegistrySettings) (Registry, error) {
	var out Registry
	if err := c.send(ctx, http.MethodPost, "/api/v1/registries", nil, settings, &out); err != nil {
		return Registry{}, err
	}
	return out, nil
}

// Registry returns the registry owned by owner.
func (c *Client) Registry(ctx context.Context, owner common.Address) (Registry, error) {
	var out Registry
	if err := c.send(ctx, http.MethodGet, "/api/v1/registries/"+owner.Hex(), nil, nil, &out); err != nil {
		return Registry{}, err
	}
	return out, nil
}

// Note returns a note from owner's registry.
func (c *Client) Note(ctx context.Context, owner common.Address, noteHash common.Hash) (Note, error) {
	var out Note
	endpoint := "/api/v1/registries/" + owner.Hex() + "/notes/" + noteHash.Hex()
	if err := c.send(ctx, http.MethodGet, endpoint, nil, nil, &out); err != nil {
		return Note{}, err
	}
	return out, nil
}

// Approve adds value to the caller's approval for proofHash on owner's registry.
func (c *Client) Approve(ctx context.Context, owner common.Address, proofHash common.Hash, value *big.Int) (Approval, error) {
	var out Approval
	endpoint := "/api/v1/registries/" + owner.Hex() + "/approvals"
	if err := c.send(ctx, http.MethodPost, endpoint, nil, approveRequest{ProofHash: proofHash, Value: value}, &out); err != nil {
		return Approval{}, err
	}
	return out, nil
}

// Approval returns the remaining approval of approver for proofHash.
func (c *Client) Approval(ctx context.Context, owner, approver common.Address, proofHash common.Hash) (Approval, error) {
	var out Approval
	query := url.Values{}
	query.Set("approver", approver.Hex())
	endpoint := "/api/v1/registries/" + owner.Hex() + "/approvals/" + proofHash.Hex()
	if err := c.send(ctx, http.MethodGet, endpoint, query, nil, &out); err != nil {
		return Approval{}, err
	}
	return out, nil
}

// UpdateRegistry applies one encoded proof output, validated by proofSender,
// to the caller's registry.
func (c *Client) UpdateRegistry(ctx context.Context, proofType uint32, proofSender common.Address, output []byte) (Receipt, error) {
	var out Receipt
	req := updateRequest{ProofType: proofType, ProofSender: proofSender, Output: output}
	if err := c.send(ctx, http.MethodPost, "/api/v1/registries/updates", nil, req, &out); err != nil {
		return Receipt{}, err
	}
	return out, nil
}

// Health checks the liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.send(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, payload any, out any) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.identify(req, u.Path, body); err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) identify(req *http.Request, signedPath string, body []byte) error {
	c.mu.RLock()
	key, address := c.key, c.address
	c.mu.RUnlock()

	if key == nil {
		if address != (common.Address{}) {
			req.Header.Set(signing.HeaderAddress, address.Hex())
		} else if req.Method != http.MethodGet {
			return errors.New("aceclient: signer is not set")
		}
		return nil
	}
	headers, err := signing.Headers(key, req.Method, signedPath, c.now().Unix(), body)
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
