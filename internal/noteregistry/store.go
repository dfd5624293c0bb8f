package noteregistry

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"OpenACE-Chain/internal/proofs"
)

// Store 持久化注册表状态。
//
// Update 在事务中执行 fn：fn 返回错误时所有暂存修改被丢弃且错误原样返回；
// 注册表不存在时返回 NOT_FOUND，提交失败时返回 STORAGE_FAILURE。
type Store interface {
	CreateRegistry(ctx context.Context, registry Registry) error
	Registry(ctx context.Context, owner common.Address) (Registry, error)
	Note(ctx context.Context, owner common.Address, hash common.Hash) (NoteRecord, error)
	Allowance(ctx context.Context, owner, approver common.Address, proofHash common.Hash) (*big.Int, error)
	Update(ctx context.Context, owner common.Address, fn func(tx Tx) error) error
	Close() error
}

// Tx 是单个注册表上的事务视图，读操作能看到本事务内的暂存写入。
type Tx interface {
	Registry() Registry
	SetRegistry(registry Registry)
	Note(ctx context.Context, hash common.Hash) (NoteRecord, bool, error)
	PutNote(ctx context.Context, note NoteRecord) error
	Allowance(ctx context.Context, approver common.Address, proofHash common.Hash) (*big.Int, error)
	SetAllowance(ctx context.Context, approver common.Address, proofHash common.Hash, amount *big.Int) error
	ProofApplied(ctx context.Context, proofHash common.Hash) (bool, error)
	MarkProofApplied(ctx context.Context, proofHash common.Hash, proofType proofs.ProofType, at int64) error
}
