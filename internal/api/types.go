package api

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"OpenACE-Chain/internal/noteregistry"
	"OpenACE-Chain/internal/validator"
)

// CRSRequest 是设置公共参考串的请求体。
type CRSRequest struct {
	CRS hexutil.Bytes `json:"crs"`
}

// CRSResponse 返回当前公共参考串。
type CRSResponse struct {
	CRS hexutil.Bytes `json:"crs"`
}

// ValidatorRequest 按目录名称绑定验证器。
type ValidatorRequest struct {
	Name string `json:"name"`
}

// ValidatorResponse 描述一条验证器绑定。
type ValidatorResponse struct {
	ProofType uint32    `json:"proof_type"`
	Epoch     uint8     `json:"epoch"`
	Category  string    `json:"category"`
	ID        uint8     `json:"id"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
	Replaced  bool      `json:"replaced,omitempty"`
}

// ProofRequest 是校验与处理证明共用的请求体。
type ProofRequest struct {
	ProofType uint32         `json:"proof_type"`
	Sender    common.Address `json:"sender"`
	Proof     hexutil.Bytes  `json:"proof"`
}

// ValidateResponse 返回验证器产出的输出编码及其哈希。
type ValidateResponse struct {
	Outputs     hexutil.Bytes `json:"outputs"`
	ProofHashes []common.Hash `json:"proof_hashes"`
}

// ProofStatusResponse 返回校验缓存的查询结果。
type ProofStatusResponse struct {
	ProofType uint32         `json:"proof_type"`
	ProofHash common.Hash    `json:"proof_hash"`
	Sender    common.Address `json:"sender"`
	Valid     bool           `json:"valid"`
}

// ClearRequest 清除调用者自己记录的校验结果。
type ClearRequest struct {
	ProofType   uint32        `json:"proof_type"`
	ProofHashes []common.Hash `json:"proof_hashes"`
}

// CreateRegistryRequest 为调用者创建注册表。
type CreateRegistryRequest struct {
	LinkedToken     common.Address `json:"linked_token"`
	ScalingFactor   *big.Int       `json:"scaling_factor"`
	CanAdjustSupply bool           `json:"can_adjust_supply"`
	CanConvert      bool           `json:"can_convert"`
}

// RegistryResponse 描述注册表的当前状态。
type RegistryResponse struct {
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

// NoteResponse 描述注册表中的一张票据。
type NoteResponse struct {
	Hash      common.Hash    `json:"hash"`
	Owner     common.Address `json:"owner"`
	Status    string         `json:"status"`
	CreatedBy common.Hash    `json:"created_by"`
	SpentBy   *common.Hash   `json:"spent_by,omitempty"`
	CreatedAt int64          `json:"created_at"`
	SpentAt   int64          `json:"spent_at,omitempty"`
}

// ApproveRequest 为某个证明哈希追加公开授权。
type ApproveRequest struct {
	ProofHash common.Hash `json:"proof_hash"`
	Value     *big.Int    `json:"value"`
}

// ApprovalResponse 返回累计授权额度。
type ApprovalResponse struct {
	Registry  common.Address `json:"registry"`
	Approver  common.Address `json:"approver"`
	ProofHash common.Hash    `json:"proof_hash"`
	Total     *big.Int       `json:"total"`
}

// UpdateRequest 把一条已校验的输出应用到调用者的注册表。
type UpdateRequest struct {
	ProofType   uint32         `json:"proof_type"`
	ProofSender common.Address `json:"proof_sender"`
	Output      hexutil.Bytes  `json:"output"`
}

// ReceiptResponse 汇总一次注册表更新的效果。
type ReceiptResponse struct {
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

// ProcessResponse 返回按输出顺序排列的回执。
type ProcessResponse struct {
	Receipts []ReceiptResponse `json:"receipts"`
}

// ErrorResponse 是所有错误响应的格式。
type ErrorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func validatorResponse(entry validator.Entry, replaced bool) ValidatorResponse {
	return ValidatorResponse{
		ProofType: uint32(entry.ProofType),
		Epoch:     entry.ProofType.Epoch(),
		Category:  entry.ProofType.Category().String(),
		ID:        entry.ProofType.ID(),
		Name:      entry.Name,
		UpdatedAt: entry.UpdatedAt,
		Replaced:  replaced,
	}
}

func registryResponse(r noteregistry.Registry) RegistryResponse {
	return RegistryResponse{
		Owner:                   r.Owner,
		LinkedToken:             r.LinkedToken,
		ScalingFactor:           r.ScalingFactor,
		CanAdjustSupply:         r.CanAdjustSupply,
		CanConvert:              r.CanConvert,
		TotalSupply:             r.TotalSupply,
		ConfidentialTotalMinted: r.ConfidentialTotalMinted,
		ConfidentialTotalBurned: r.ConfidentialTotalBurned,
		CreatedAt:               r.CreatedAt,
		UpdatedAt:               r.UpdatedAt,
	}
}

func noteResponse(n noteregistry.NoteRecord) NoteResponse {
	resp := NoteResponse{
		Hash:      n.Hash,
		Owner:     n.Owner,
		Status:    string(n.Status),
		CreatedBy: n.CreatedBy,
		CreatedAt: n.CreatedAt,
		SpentAt:   n.SpentAt,
	}
	if n.Status == noteregistry.NoteSpent {
		spentBy := n.SpentBy
		resp.SpentBy = &spentBy
	}
	return resp
}

func receiptResponse(r noteregistry.Receipt) ReceiptResponse {
	return ReceiptResponse{
		Registry:     r.Registry,
		ProofType:    uint32(r.ProofType),
		ProofHash:    r.ProofHash,
		Spent:        nonNil(r.Spent),
		Created:      nonNil(r.Created),
		PublicOwner:  r.PublicOwner,
		PublicValue:  r.PublicValue,
		TokensIn:     r.TokensIn,
		TokensOut:    r.TokensOut,
		TokensMinted: r.TokensMinted,
		AppliedAt:    r.AppliedAt,
	}
}

func nonNil(hashes []common.Hash) []common.Hash {
	if hashes == nil {
		return []common.Hash{}
	}
	return hashes
}
