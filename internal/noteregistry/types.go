package noteregistry

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"OpenACE-Chain/internal/proofs"
)

// NoteStatus 表示票据的生命周期状态。
type NoteStatus string

const (
	NoteUnspent NoteStatus = "unspent"
	NoteSpent   NoteStatus = "spent"
)

// Registry 是一个资产的注册表配置与账户状态。
type Registry struct {
	Owner       common.Address
	LinkedToken common.Address
	// ScalingFactor 为一个机密单位对应的代币基本单位数。
	ScalingFactor   *big.Int
	CanAdjustSupply bool
	CanConvert      bool
	// TotalSupply 为注册表托管的公开代币数量，以机密单位计。
	TotalSupply *big.Int
	// ConfidentialTotalMinted 与 ConfidentialTotalBurned 为累计增发量与销毁量的承诺哈希。
	ConfidentialTotalMinted common.Hash
	ConfidentialTotalBurned common.Hash
	CreatedAt               int64
	UpdatedAt               int64
}

// Clone 返回深拷贝。
func (r Registry) Clone() Registry {
	out := r
	out.ScalingFactor = cloneInt(r.ScalingFactor)
	out.TotalSupply = cloneInt(r.TotalSupply)
	return out
}

// NoteRecord 是注册表中一张票据的存储形式。
type NoteRecord struct {
	Hash      common.Hash
	Owner     common.Address
	Status    NoteStatus
	CreatedBy common.Hash
	SpentBy   common.Hash
	CreatedAt int64
	SpentAt   int64
}

// Receipt 汇总一次 Apply 的效果，代币数量以基本单位计。
type Receipt struct {
	Registry     common.Address
	ProofType    proofs.ProofType
	ProofHash    common.Hash
	Spent        []common.Hash
	Created      []common.Hash
	PublicOwner  common.Address
	PublicValue  *big.Int
	TokensIn     *big.Int
	TokensOut    *big.Int
	TokensMinted *big.Int
	AppliedAt    int64
}

// CreateRequest 描述新注册表的参数。
type CreateRequest struct {
	Owner           common.Address
	LinkedToken     common.Address
	ScalingFactor   *big.Int
	CanAdjustSupply bool
	CanConvert      bool
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
