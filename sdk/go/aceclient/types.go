package aceclient

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Validator describes a proof type binding.
type Validator struct {
	ProofType uint32    `json:"proof_type"`
	Epoch     uint8     `json:"epoch"`
	Category  string    `json:"category"`
	ID        uint8     `json:"id"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
	Replaced  bool      `json:"replaced,omitempty"`
}

// Validation is the result of validating a proof.
type Validation struct {
	Outputs     hexutil.Bytes `json:"outputs"`
	ProofHashes []common.Hash `json:"proof_hashes"`
}

// ProofStatus reports whether a sender validated a proof output.
type ProofStatus struct {
	ProofType uint32         `json:"proof_type"`
	ProofHash common.Hash    `json:"proof_hash"`
	Sender    common.Address `json:"sender"`
	Valid     bool           `json:"valid"`
}

// RegistrySettings are the parameters of a new note registry.
type RegistrySettings struct {
	LinkedToken     common.Address `json:"linked_token"`
	ScalingFactor   *big.Int       `json:"scaling_factor"`
	CanAdjustSupply bool           `json:"can_adjust_supply"`
	CanConvert      bool           `json:"can_convert"`
}

// Registry is the state of a note registry.
type Registry struct {
	Owner                   common.Address `json:"owner"`
	LinkedToken             common.Address `json:"linked_token"`
	ScalingFactor           *big.Int       `json:"scaling_factor"`
	CanAdjustSupply         bool           `json:"can_adjust_supply"`
	CanConvert              bool           `json:"can_convert"`
	TotalSupply             *big.Int       `json:"total_supply"`
	ConfidentialTotalMinted common.Hash    `json:"confidential_total_minted"`
	ConfidentialTotalBurned common.Hash    `json:"confidential_total_burned"`
	CreatedAt               int64          `json:"created_at"`
	UpdatedAt               int64          `json:"updated_at"`
}

// Note is a note stored in a registry.
type Note struct {
	Hash      common.Hash    `json:"hash"`
	Owner     common.Address `json:"owner"`
	Status    string         `json:"status"`
	CreatedBy common.Hash    `json:"created_by"`
	SpentBy   *common.Hash   `json:"spent_by,omitempty"`
	CreatedAt int64          `json:"created_at"`
	SpentAt   int64          `json:"spent_at,omitempty"`
}

// Approval is the accumulated public approval for a proof hash.
type Approval struct {
	Registry  common.Address `json:"registry"`
	Approver  common.Address `json:"approver"`
	ProofHash common.Hash    `json:"proof_hash"`
	Total     *big.Int       `json:"total"`
}

// Receipt summarises one registry update. Token amounts are in base units.
type Receipt struct {
	Registry     common.Address `json:"registry"`
	ProofType    uint32         `json:"proof_type"`
	ProofHash    common.Hash    `json:"proof_hash"`
	Spent        []common.Hash  `json:"spent"`
	Created      []common.Hash  `json:"created"`
	PublicOwner  common.Address `json:"public_owner"`
	PublicValue  *big.Int       `json:"public_value"`
	TokensIn     *big.Int       `json:"tokens_in"`
	TokensOut    *big.Int       `json:"tokens_out"`
	TokensMinted *big.Int       `json:"tokens_minted"`
	AppliedAt    int64          `json:"applied_at"`
}

// APIError represents an error response from the engine.
type APIError struct {
	StatusCode int
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("ace api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("ace api error (%d): %s", e.StatusCode, e.Message)
}

type proofRequest struct {
	ProofType uint32         `json:"proof_type"`
	Sender    common.Address `json:"sender"`
	Proof     hexutil.Bytes  `json:"proof"`
}

type crsBody struct {
	CRS hexutil.Bytes `json:"crs"`
}

type validatorRequest struct {
	Name string `json:"name"`
}

type clearRequest struct {
	ProofType   uint32        `json:"proof_type"`
	ProofHashes []common.Hash `json:"proof_hashes"`
}

type approveRequest struct {
	ProofHash common.Hash `json:"proof_hash"`
	Value     *big.Int    `json:"value"`
}

type updateRequest struct {
	ProofType   uint32         `json:"proof_type"`
	ProofSender common.Address `json:"proof_sender"`
	Output      hexutil.Bytes  `json:"output"`
}

type processResponse struct {
	Receipts []Receipt `json:"receipts"`
}
