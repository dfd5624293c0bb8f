package noteregistry

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenACE-Chain/internal/errors"
	"OpenACE-Chain/internal/proofs"
)

type allowanceKey struct {
	approver  common.Address
	proofHash common.Hash
}

type appliedProof struct {
	proofType proofs.ProofType
	at        int64
}

type memoryRegistry struct {
	registry   Registry
	notes      map[common.Hash]NoteRecord
	allowances map[allowanceKey]*big.Int
	applied    map[common.Hash]appliedProof
}

// MemoryStore 在进程内保存注册表状态，事务写入先暂存，提交时一次性合并。
type MemoryStore struct {
	mu         sync.RWMutex
	registries map[common.Address]*memoryRegistry
	commitErr  error
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建空的内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{registries: make(map[common.Address]*memoryRegistry)}
}

// FailNextCommit 令下一次提交失败，用于演练提交失败后的补偿流程。
func (s *MemoryStore) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

// CreateRegistry 实现 Store。
func (s *MemoryStore) CreateRegistry(_ context.Context, registry Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registries[registry.Owner]; ok {
		return xerrors.New(xerrors.CodeAlreadyExists, fmt.Sprintf("registry %s already exists", registry.Owner.Hex()))
	}
	s.registries[registry.Owner] = &memoryRegistry{
		registry:   registry.Clone(),
		notes:      make(map[common.Hash]NoteRecord),
		allowances: make(map[allowanceKey]*big.Int),
		applied:    make(map[common.Hash]appliedProof),
	}
	return nil
}

func (s *MemoryStore) lookup(owner common.Address) (*memoryRegistry, error) {
	state, ok := s.registries[owner]
	if !ok {
		return nil, registryNotFound(owner)
	}
	return state, nil
}

// Registry 实现 Store。
func (s *MemoryStore) Registry(_ context.Context, owner common.Address) (Registry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, err := s.lookup(owner)
	if err != nil {
		return Registry{}, err
	}
	return state.registry.Clone(), nil
}

// Note 实现 Store。
func (s *MemoryStore) Note(_ context.Context, owner common.Address, hash common.Hash) (NoteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, err := s.lookup(owner)
	if err != nil {
		return NoteRecord{}, err
	}
	note, ok := state.notes[hash]
	if !ok {
		return NoteRecord{}, noteNotFound(hash)
	}
	return note, nil
}

// Allowance 实现 Store。
func (s *MemoryStore) Allowance(_ context.Context, owner, approver common.Address, proofHash common.Hash) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, err := s.lookup(owner)
	if err != nil {
		return nil, err
	}
	return cloneInt(state.allowances[allowanceKey{approver, proofHash}]), nil
}

// Update 实现 Store。
func (s *MemoryStore) Update(_ context.Context, owner common.Address, fn func(tx Tx) error) error {
	s.mu.RLock()
	state, err := s.lookup(owner)
	var registry Registry
	if err == nil {
		registry = state.registry.Clone()
	}
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	tx := &memoryTx{
		store:      s,
		base:       state,
		registry:   registry,
		notes:      make(map[common.Hash]NoteRecord),
		allowances: make(map[allowanceKey]*big.Int),
		applied:    make(map[common.Hash]appliedProof),
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		cause := s.commitErr
		s.commitErr = nil
		return xerrors.Wrap(xerrors.CodeStorageFailure, cause, "commit registry update")
	}
	state.registry = tx.registry.Clone()
	for hash, note := range tx.notes {
		state.notes[hash] = note
	}
	for key, amount := range tx.allowances {
		state.allowances[key] = amount
	}
	for hash, applied := range tx.applied {
		state.applied[hash] = applied
	}
	return nil
}

// Close 实现 Store。
func (s *MemoryStore) Close() error { return nil }

type memoryTx struct {
	store      *MemoryStore
	base       *memoryRegistry
	registry   Registry
	notes      map[common.Hash]NoteRecord
	allowances map[allowanceKey]*big.Int
	applied    map[common.Hash]appliedProof
}

func (t *memoryTx) Registry() Registry { return t.registry.Clone() }

func (t *memoryTx) SetRegistry(registry Registry) { t.registry = registry.Clone() }

func (t *memoryTx) Note(_ context.Context, hash common.Hash) (NoteRecord, bool, error) {
	if note, ok := t.notes[hash]; ok {
		return note, true, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	note, ok := t.base.notes[hash]
	return note, ok, nil
}

func (t *memoryTx) PutNote(_ context.Context, note NoteRecord) error {
	t.notes[note.Hash] = note
	return nil
}

func (t *memoryTx) Allowance(_ context.Context, approver common.Address, proofHash common.Hash) (*big.Int, error) {
	key := allowanceKey{approver, proofHash}
	if amount, ok := t.allowances[key]; ok {
		return cloneInt(amount), nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return cloneInt(t.base.allowances[key]), nil
}

func (t *memoryTx) SetAllowance(_ context.Context, approver common.Address, proofHash common.Hash, amount *big.Int) error {
	t.allowances[allowanceKey{approver, proofHash}] = cloneInt(amount)
	return nil
}

func (t *memoryTx) ProofApplied(_ context.Context, proofHash common.Hash) (bool, error) {
	if _, ok := t.applied[proofHash]; ok {
		return true, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	_, ok := t.base.applied[proofHash]
	return ok, nil
}

func (t *memoryTx) MarkProofApplied(_ context.Context, proofHash common.Hash, proofType proofs.ProofType, at int64) error {
	t.applied[proofHash] = appliedProof{proofType: proofType, at: at}
	return nil
}

func registryNotFound(owner common.Address) error {
	return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("no note registry for %s", owner.Hex()),
		xerrors.WithMetadata("registry", owner.Hex()))
}

func noteNotFound(hash common.Hash) error {
	return xerrors.New(xerrors.CodeNoteNotFound, fmt.Sprintf("note %s not found", hash.Hex()),
		xerrors.WithMetadata("note", hash.Hex()))
}
