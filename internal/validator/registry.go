package validator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenACE-Chain/internal/errors"
	"OpenACE-Chain/internal/proofs"
	"OpenACE-Chain/pkg/logger"
)

// CRS 是验证器共享的公共参考串。
type CRS []byte

// Validator 校验证明数据并返回编码后的 ProofOutputs。
// 校验失败时必须返回 INVALID_PROOF 错误。
type Validator interface {
	Verify(ctx context.Context, proofData []byte, sender common.Address, crs CRS) ([]byte, error)
}

// ValidatorFunc 允许普通函数充当 Validator。
type ValidatorFunc func(ctx context.Context, proofData []byte, sender common.Address, crs CRS) ([]byte, error)

// Verify 实现 Validator 接口。
func (f ValidatorFunc) Verify(ctx context.Context, proofData []byte, sender common.Address, crs CRS) ([]byte, error) {
	return f(ctx, proofData, sender, crs)
}

// Entry 是注册表中的一条记录。
type Entry struct {
	ProofType proofs.ProofType
	Name      string
	Validator Validator
	UpdatedAt time.Time
}

// Option 定义注册表的可选项。
type Option func(*Registry)

// WithLockedEntries 禁止覆盖已注册的证明类型。
func WithLockedEntries() Option {
	return func(r *Registry) { r.locked = true }
}

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry 维护 proofType 到验证器的映射，只有 owner 可以修改。
type Registry struct {
	mu      sync.RWMutex
	owner   common.Address
	entries map[proofs.ProofType]Entry
	locked  bool
	now     func() time.Time
}

// NewRegistry 创建空注册表。
func NewRegistry(owner common.Address, opts ...Option) *Registry {
	r := &Registry{
		owner:   owner,
		entries: make(map[proofs.ProofType]Entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Owner 返回注册表所有者。
func (r *Registry) Owner() common.Address {
	return r.owner
}

// Set 为 proofType 绑定验证器，返回是否覆盖了旧记录。
func (r *Registry) Set(caller common.Address, proofType proofs.ProofType, name string, v Validator) (bool, error) {
	if caller != r.owner {
		logger.Audit().Warn("validator_set_denied",
			slog.String("caller", caller.Hex()),
			slog.Uint64("proof_type", uint64(proofType)))
		return false, xerrors.New(xerrors.CodeUnauthorized, "only the engine owner can register validators",
			xerrors.WithMetadata("caller", caller.Hex()))
	}
	if proofType == 0 {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "proof type must be positive")
	}
	if v == nil {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "validator is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	previous, replaced := r.entries[proofType]
	if replaced && r.locked {
		return false, xerrors.New(xerrors.CodeAlreadyExists,
			fmt.Sprintf("proof type %d already bound to %s", proofType, previous.Name))
	}
	r.entries[proofType] = Entry{ProofType: proofType, Name: name, Validator: v, UpdatedAt: r.now()}

	if replaced {
		logger.Audit().Warn("validator_replaced",
			slog.Uint64("proof_type", uint64(proofType)),
			slog.String("previous", previous.Name),
			slog.String("current", name))
	} else {
		logger.Audit().Info("validator_registered",
			slog.Uint64("proof_type", uint64(proofType)),
			slog.String("name", name))
	}
	return replaced, nil
}

// Get 返回 proofType 对应的记录。
func (r *Registry) Get(proofType proofs.ProofType) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[proofType]
	if !ok {
		return Entry{}, xerrors.New(xerrors.CodeNotRegistered,
			fmt.Sprintf("no validator registered for proof type %d", proofType))
	}
	return entry, nil
}

// List 按 proofType 升序返回全部记录。
func (r *Registry) List() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].ProofType < entries[j].ProofType })
	return entries
}
