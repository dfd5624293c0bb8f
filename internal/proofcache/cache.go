package proofcache

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "OpenACE-Chain/internal/errors"
	"OpenACE-Chain/internal/proofs"
)

// Store 抽象缓存键的持久化。
type Store interface {
	Put(ctx context.Context, key common.Hash) error
	Has(ctx context.Context, key common.Hash) (bool, error)
	Delete(ctx context.Context, keys ...common.Hash) error
	Close() error
}

// Key 计算 keccak256(pad32(proofHash) ‖ pad32(proofType) ‖ pad32(sender))。
func Key(proofHash common.Hash, proofType proofs.ProofType, sender common.Address) common.Hash {
	return crypto.Keccak256Hash(
		proofHash.Bytes(),
		common.LeftPadBytes(new(big.Int).SetUint64(uint64(proofType)).Bytes(), 32),
		common.LeftPadBytes(sender.Bytes(), 32),
	)
}

// Cache 在 Store 之上提供按证明语义的读写。
type Cache struct {
	store Store
}

// New 创建缓存。
func New(store Store) *Cache {
	return &Cache{store: store}
}

// RecordValid 标记 (proofHash, proofType, sender) 已通过校验。
func (c *Cache) RecordValid(ctx context.Context, proofType proofs.ProofType, sender common.Address, proofHash common.Hash) error {
	if err := c.store.Put(ctx, Key(proofHash, proofType, sender)); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "record validated proof",
			xerrors.WithMetadata("proof_hash", proofHash.Hex()))
	}
	return nil
}

// IsValid 查询是否存在对应的校验记录。
func (c *Cache) IsValid(ctx context.Context, proofType proofs.ProofType, proofHash common.Hash, sender common.Address) (bool, error) {
	ok, err := c.store.Has(ctx, Key(proofHash, proofType, sender))
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "lookup validated proof")
	}
	return ok, nil
}

// Clear 删除 sender 自己的校验记录，不存在的记录直接忽略。
func (c *Cache) Clear(ctx context.Context, proofType proofs.ProofType, sender common.Address, proofHashes ...common.Hash) error {
	if len(proofHashes) == 0 {
		return nil
	}
	keys := make([]common.Hash, len(proofHashes))
	for i, h := range proofHashes {
		keys[i] = Key(h, proofType, sender)
	}
	if err := c.store.Delete(ctx, keys...); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "clear validated proofs")
	}
	return nil
}

// Close 释放底层存储。
func (c *Cache) Close() error {
	return c.store.Close()
}
