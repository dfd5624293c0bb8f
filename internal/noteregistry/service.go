package noteregistry

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenACE-Chain/internal/errors"
	"OpenACE-Chain/internal/observability/alerting"
	"OpenACE-Chain/internal/proofs"
	"OpenACE-Chain/internal/token"
	"OpenACE-Chain/pkg/logger"
)

// Option 调整 Service 的行为。
type Option func(*Service)

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAlerts 设置补偿失败等严重事件的告警出口。
func WithAlerts(dispatcher alerting.Dispatcher) Option {
	return func(s *Service) {
		s.alerts = dispatcher
	}
}

// Service 实现注册表的创建、授权与证明应用。
type Service struct {
	store  Store
	tokens *token.Directory
	engine common.Address
	locks  keyedMutex
	alerts alerting.Dispatcher
	now    func() time.Time
	log    *slog.Logger
}

// NewService 构造服务。engine 是引擎在代币账本上的地址，用于接收与支付公开代币。
func NewService(store Store, tokens *token.Directory, engine common.Address, opts ...Option) *Service {
	s := &Service{
		store:  store,
		tokens: tokens,
		engine: engine,
		now:    time.Now,
		log:    logger.Named("noteregistry"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create 为 req.Owner 创建注册表，每个所有者只能创建一次。
func (s *Service) Create(ctx context.Context, req CreateRequest) (Registry, error) {
	if req.Owner == (common.Address{}) {
		return Registry{}, xerrors.New(xerrors.CodeInvalidArgument, "registry owner is required")
	}
	if req.ScalingFactor == nil || req.ScalingFactor.Sign() <= 0 {
		return Registry{}, xerrors.New(xerrors.CodeInvalidArgument, "scaling factor must be positive")
	}
	if req.CanConvert {
		if _, err := s.tokens.Lookup(req.LinkedToken); err != nil {
			return Registry{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err,
				fmt.Sprintf("linked token %s has no ledger", req.LinkedToken.Hex()))
		}
	}

	now := s.now().Unix()
	registry := Registry{
		Owner:                   req.Owner,
		LinkedToken:             req.LinkedToken,
		ScalingFactor:           new(big.Int).Set(req.ScalingFactor),
		CanAdjustSupply:         req.CanAdjustSupply,
		CanConvert:              req.CanConvert,
		TotalSupply:             new(big.Int),
		ConfidentialTotalMinted: proofs.ZeroNoteHash,
		ConfidentialTotalBurned: proofs.ZeroNoteHash,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := s.store.CreateRegistry(ctx, registry); err != nil {
		return Registry{}, err
	}
	logger.Audit().Info("registry_created",
		slog.String("owner", req.Owner.Hex()),
		slog.String("linked_token", req.LinkedToken.Hex()),
		slog.String("scaling_factor", req.ScalingFactor.String()),
		slog.Bool("can_adjust_supply", req.CanAdjustSupply),
		slog.Bool("can_convert", req.CanConvert))
	return registry, nil
}

// Approve 为 (approver, proofHash) 追加公开授权额度，返回累计额度。额度以机密单位计。
func (s *Service) Approve(ctx context.Context, owner, approver common.Address, proofHash common.Hash, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "approval amount must be positive")
	}
	unlock := s.locks.Lock(owner)
	defer unlock()

	var total *big.Int
	err := s.store.Update(ctx, owner, func(tx Tx) error {
		current, err := tx.Allowance(ctx, approver, proofHash)
		if err != nil {
			return err
		}
		total = new(big.Int).Add(current, amount)
		return tx.SetAllowance(ctx, approver, proofHash, total)
	})
	if err != nil {
		return nil, err
	}
	logger.Audit().Info("registry_approved",
		slog.String("owner", owner.Hex()),
		slog.String("approver", approver.Hex()),
		slog.String("proof_hash", proofHash.Hex()),
		slog.String("amount", amount.String()),
		slog.String("total", total.String()))
	return total, nil
}

// settlement 记录一次应用需要完成的代币移动，数量均为基本单位。
// pulled、minted 与 paid 记录已经在账本上生效的步骤。
type settlement struct {
	ledger token.Ledger
	owner  common.Address
	pull   *big.Int
	mint   *big.Int
	pay    *big.Int

	pulled bool
	minted bool
	paid   bool
}

func (st *settlement) execute(ctx context.Context, engine common.Address) error {
	if st.pull != nil {
		if err := st.ledger.TransferFrom(ctx, st.owner, engine, st.pull); err != nil {
			return err
		}
		st.pulled = true
	}
	if st.mint != nil {
		if err := st.ledger.Mint(ctx, engine, st.mint); err != nil {
			return err
		}
		st.minted = true
	}
	if st.pay != nil {
		if err := st.ledger.Transfer(ctx, st.owner, st.pay); err != nil {
			return err
		}
		st.paid = true
	}
	return nil
}

// moved 报告是否已有任何一步代币移动生效。
func (st *settlement) moved() bool {
	return st.pulled || st.minted || st.paid
}

// Apply 把一条已校验的证明输出应用到 owner 的注册表。
// 任何一步失败都会丢弃全部暂存修改，代币移动在所有状态检查通过后才执行。
func (s *Service) Apply(ctx context.Context, owner common.Address, proofType proofs.ProofType, proofHash common.Hash, output proofs.ProofOutput) (Receipt, error) {
	unlock := s.locks.Lock(owner)
	defer unlock()

	pv := output.Value()
	receipt := Receipt{
		Registry:    owner,
		ProofType:   proofType,
		ProofHash:   proofHash,
		PublicOwner: output.PublicOwner,
		PublicValue: pv,
	}
	st := &settlement{owner: output.PublicOwner}

	err := s.store.Update(ctx, owner, func(tx Tx) error {
		now := s.now().Unix()
		registry := tx.Registry()

		if err := gate(registry, proofType, pv); err != nil {
			return err
		}
		applied, err := tx.ProofApplied(ctx, proofHash)
		if err != nil {
			return err
		}
		if applied {
			return xerrors.New(xerrors.CodeAlreadySpent, fmt.Sprintf("proof %s already applied", proofHash.Hex()),
				xerrors.WithMetadata("proof_hash", proofHash.Hex()))
		}

		switch proofType.Category() {
		case proofs.CategoryMint:
			if len(output.InputNotes) != 1 || len(output.OutputNotes) < 1 {
				return invalidProof("mint output must carry the old and new supply commitments")
			}
			if output.InputNotes[0].NoteHash != registry.ConfidentialTotalMinted {
				return invalidProof("mint proof does not start from the current minted total")
			}
			registry.ConfidentialTotalMinted = output.OutputNotes[0].NoteHash
			if receipt.Created, err = createNotes(ctx, tx, output.OutputNotes[1:], proofHash, now); err != nil {
				return err
			}
		case proofs.CategoryBurn:
			if len(output.InputNotes) < 1 || len(output.OutputNotes) != 1 {
				return invalidProof("burn output must carry the old and new burned commitments")
			}
			if output.InputNotes[0].NoteHash != registry.ConfidentialTotalBurned {
				return invalidProof("burn proof does not start from the current burned total")
			}
			if receipt.Spent, err = spendNotes(ctx, tx, output.InputNotes[1:], proofHash, now); err != nil {
				return err
			}
			registry.ConfidentialTotalBurned = output.OutputNotes[0].NoteHash
		default:
			if receipt.Spent, err = spendNotes(ctx, tx, output.InputNotes, proofHash, now); err != nil {
				return err
			}
			if receipt.Created, err = createNotes(ctx, tx, output.OutputNotes, proofHash, now); err != nil {
				return err
			}
			if pv.Sign() != 0 {
				if err := s.stageSettlement(ctx, tx, &registry, proofHash, output.PublicOwner, pv, st); err != nil {
					return err
				}
			}
		}

		if err := tx.MarkProofApplied(ctx, proofHash, proofType, now); err != nil {
			return err
		}
		registry.UpdatedAt = now
		tx.SetRegistry(registry)
		receipt.AppliedAt = now

		if st.ledger == nil {
			return nil
		}
		return st.execute(ctx, s.engine)
	})
	if err != nil {
		if st.moved() {
			s.compensate(ctx, owner, proofHash, st, err)
		}
		return Receipt{}, err
	}

	receipt.TokensIn = cloneInt(st.pull)
	receipt.TokensOut = cloneInt(st.pay)
	receipt.TokensMinted = cloneInt(st.mint)
	logger.Audit().Info("registry_updated",
		slog.String("owner", owner.Hex()),
		slog.String("proof_type", proofType.String()),
		slog.String("proof_hash", proofHash.Hex()),
		slog.Int("spent", len(receipt.Spent)),
		slog.Int("created", len(receipt.Created)),
		slog.String("public_value", pv.String()))
	return receipt, nil
}

// gate 按证明类别检查注册表是否允许该操作。
func gate(registry Registry, proofType proofs.ProofType, pv *big.Int) error {
	switch proofType.Category() {
	case proofs.CategoryBalanced:
		if pv.Sign() != 0 && !registry.CanConvert {
			return unsupported(fmt.Sprintf("registry %s cannot convert public value", registry.Owner.Hex()))
		}
	case proofs.CategoryMint, proofs.CategoryBurn:
		if !registry.CanAdjustSupply {
			return unsupported(fmt.Sprintf("registry %s cannot adjust supply", registry.Owner.Hex()))
		}
		if pv.Sign() != 0 {
			return invalidProof("supply adjustment must not move public value")
		}
	default:
		return unsupported(fmt.Sprintf("proof category %s cannot update a note registry", proofType.Category()))
	}
	return nil
}

func (s *Service) stageSettlement(ctx context.Context, tx Tx, registry *Registry, proofHash common.Hash, publicOwner common.Address, pv *big.Int, st *settlement) error {
	ledger, err := s.tokens.Lookup(registry.LinkedToken)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeLedgerFailure, err, fmt.Sprintf("linked token %s unavailable", registry.LinkedToken.Hex()))
	}
	st.ledger = ledger
	amount := new(big.Int).Abs(pv)

	if pv.Sign() < 0 {
		allowance, err := tx.Allowance(ctx, publicOwner, proofHash)
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return xerrors.New(xerrors.CodeInsufficientAllowance,
				fmt.Sprintf("allowance %s for proof %s is below %s", allowance, proofHash.Hex(), amount),
				xerrors.WithMetadata("approver", publicOwner.Hex()))
		}
		if err := tx.SetAllowance(ctx, publicOwner, proofHash, new(big.Int).Sub(allowance, amount)); err != nil {
			return err
		}
		registry.TotalSupply = new(big.Int).Add(registry.TotalSupply, amount)
		st.pull = new(big.Int).Mul(amount, registry.ScalingFactor)
		return nil
	}

	supply := cloneInt(registry.TotalSupply)
	if supply.Cmp(amount) < 0 {
		if !registry.CanAdjustSupply {
			return xerrors.New(xerrors.CodeInsufficientBalance,
				fmt.Sprintf("registry holds %s units, %s requested", supply, amount))
		}
		shortfall := new(big.Int).Sub(amount, supply)
		st.mint = new(big.Int).Mul(shortfall, registry.ScalingFactor)
		supply.Add(supply, shortfall)
	}
	registry.TotalSupply = supply.Sub(supply, amount)
	st.pay = new(big.Int).Mul(amount, registry.ScalingFactor)
	return nil
}

// compensate 在部分或全部代币移动已生效、但本次应用失败时尽力回退，
// 无法回退的部分触发告警。
func (s *Service) compensate(ctx context.Context, owner common.Address, proofHash common.Hash, st *settlement, cause error) {
	log := s.log.With(slog.String("owner", owner.Hex()), slog.String("proof_hash", proofHash.Hex()))
	alertErr := cause
	alert := false
	if st.pulled {
		if err := st.ledger.Transfer(ctx, st.owner, st.pull); err != nil {
			log.Error("退还已转入的代币失败", slog.String("amount", st.pull.String()), slog.Any("error", err))
			alertErr = xerrors.Wrap(xerrors.CodeLedgerFailure, err, "refund after failed commit",
				xerrors.WithSeverity(xerrors.SeverityCritical), xerrors.WithMetadata("amount", st.pull.String()))
			alert = true
		} else {
			log.Warn("注册表未更新，已退还转入的代币", slog.String("amount", st.pull.String()))
		}
	}
	switch {
	case st.paid:
		log.Error("注册表未更新，但代币已支付", slog.String("amount", st.pay.String()))
		alert = true
	case st.minted:
		// 账本接口不提供销毁，新铸造的代币只能留在引擎账户等待人工处理
		log.Error("注册表未更新，新铸造的代币滞留在引擎账户", slog.String("amount", st.mint.String()))
		alertErr = xerrors.Wrap(xerrors.CodeLedgerFailure, cause, "minted tokens stranded on engine account",
			xerrors.WithSeverity(xerrors.SeverityCritical), xerrors.WithMetadata("amount", st.mint.String()))
		alert = true
	}
	if !alert || s.alerts == nil {
		return
	}
	event := alerting.FromError(alertErr, owner.Hex(), proofHash.Hex())
	event.Severity = xerrors.SeverityCritical
	if err := s.alerts.Notify(ctx, event); err != nil {
		log.Warn("发送告警失败", slog.Any("error", err))
	}
}

func spendNotes(ctx context.Context, tx Tx, notes []proofs.Note, proofHash common.Hash, now int64) ([]common.Hash, error) {
	spent := make([]common.Hash, 0, len(notes))
	for _, note := range notes {
		record, ok, err := tx.Note(ctx, note.NoteHash)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, noteNotFound(note.NoteHash)
		}
		if record.Status == NoteSpent {
			return nil, xerrors.New(xerrors.CodeAlreadySpent, fmt.Sprintf("note %s already spent", note.NoteHash.Hex()),
				xerrors.WithMetadata("note", note.NoteHash.Hex()))
		}
		if record.Owner != note.Owner {
			return nil, invalidProof(fmt.Sprintf("note %s is not owned by %s", note.NoteHash.Hex(), note.Owner.Hex()))
		}
		record.Status = NoteSpent
		record.SpentBy = proofHash
		record.SpentAt = now
		if err := tx.PutNote(ctx, record); err != nil {
			return nil, err
		}
		spent = append(spent, note.NoteHash)
	}
	return spent, nil
}

func createNotes(ctx context.Context, tx Tx, notes []proofs.Note, proofHash common.Hash, now int64) ([]common.Hash, error) {
	created := make([]common.Hash, 0, len(notes))
	for _, note := range notes {
		_, exists, err := tx.Note(ctx, note.NoteHash)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, xerrors.New(xerrors.CodeNoteExists, fmt.Sprintf("note %s already exists", note.NoteHash.Hex()),
				xerrors.WithMetadata("note", note.NoteHash.Hex()))
		}
		record := NoteRecord{
			Hash:      note.NoteHash,
			Owner:     note.Owner,
			Status:    NoteUnspent,
			CreatedBy: proofHash,
			CreatedAt: now,
		}
		if err := tx.PutNote(ctx, record); err != nil {
			return nil, err
		}
		created = append(created, note.NoteHash)
	}
	return created, nil
}

// Registry 返回注册表快照。
func (s *Service) Registry(ctx context.Context, owner common.Address) (Registry, error) {
	return s.store.Registry(ctx, owner)
}

// Note 返回票据记录。
func (s *Service) Note(ctx context.Context, owner common.Address, hash common.Hash) (NoteRecord, error) {
	return s.store.Note(ctx, owner, hash)
}

// Allowance 返回 (approver, proofHash) 的剩余授权额度。
func (s *Service) Allowance(ctx context.Context, owner, approver common.Address, proofHash common.Hash) (*big.Int, error) {
	return s.store.Allowance(ctx, owner, approver, proofHash)
}

// Close 关闭底层存储。
func (s *Service) Close() error {
	return s.store.Close()
}

func invalidProof(msg string) error {
	return xerrors.New(xerrors.CodeInvalidProof, msg)
}

func unsupported(msg string) error {
	return xerrors.New(xerrors.CodeUnsupportedOperation, msg)
}

// keyedMutex 为每个注册表惰性创建一把互斥锁，不同注册表互不阻塞。
type keyedMutex struct {
	mu    sync.Mutex
	locks map[common.Address]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock 获取 key 对应的锁并返回释放函数。
func (k *keyedMutex) Lock(key common.Address) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[common.Address]*keyedEntry)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
