package ace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenACE-Chain/internal/errors"
	"OpenACE-Chain/internal/events"
	"OpenACE-Chain/internal/noteregistry"
	"OpenACE-Chain/internal/observability/alerting"
	"OpenACE-Chain/internal/observability/metrics"
	"OpenACE-Chain/internal/proofcache"
	"OpenACE-Chain/internal/proofs"
	"OpenACE-Chain/internal/validator"
	"OpenACE-Chain/pkg/logger"
)

// Dependencies 汇总引擎依赖的组件，Validators、Cache 与 Registries 必须提供。
type Dependencies struct {
	Validators *validator.Registry
	Catalog    *validator.Catalog
	Cache      *proofcache.Cache
	Registries *noteregistry.Service
	Events     events.Publisher
	Metrics    *metrics.Metrics
	Alerts     alerting.Dispatcher
}

// Engine 组合验证器注册表、校验缓存与票据注册表。
type Engine struct {
	owner common.Address

	crsMu sync.RWMutex
	crs   validator.CRS

	validators *validator.Registry
	catalog    *validator.Catalog
	cache      *proofcache.Cache
	registries *noteregistry.Service
	events     events.Publisher
	metrics    *metrics.Metrics
	alerts     alerting.Dispatcher
	log        *slog.Logger
}

// New 构造引擎，owner 与验证器注册表的所有者一致。
func New(deps Dependencies) (*Engine, error) {
	if deps.Validators == nil || deps.Cache == nil || deps.Registries == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "engine requires validators, cache and registries")
	}
	e := &Engine{
		owner:      deps.Validators.Owner(),
		validators: deps.Validators,
		catalog:    deps.Catalog,
		cache:      deps.Cache,
		registries: deps.Registries,
		events:     deps.Events,
		metrics:    deps.Metrics,
		alerts:     deps.Alerts,
		log:        logger.Named("ace"),
	}
	if e.events == nil {
		e.events = events.Noop{}
	}
	return e, nil
}

// Owner 返回引擎所有者。
func (e *Engine) Owner() common.Address {
	return e.owner
}

func (e *Engine) requireOwner(caller common.Address, action string) error {
	if caller == e.owner {
		return nil
	}
	logger.Audit().Warn("owner_action_denied",
		slog.String("caller", caller.Hex()),
		slog.String("action", action))
	return xerrors.New(xerrors.CodeUnauthorized, fmt.Sprintf("only the engine owner can %s", action),
		xerrors.WithMetadata("caller", caller.Hex()))
}

// SetCommonReferenceString 替换公共参考串，只有所有者可以调用。
func (e *Engine) SetCommonReferenceString(ctx context.Context, caller common.Address, crs validator.CRS) error {
	if err := e.requireOwner(caller, "set the common reference string"); err != nil {
		return err
	}
	if len(crs) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "common reference string is empty")
	}
	e.crsMu.Lock()
	e.crs = append(validator.CRS(nil), crs...)
	e.crsMu.Unlock()

	logger.Audit().Info("crs_set", slog.String("caller", caller.Hex()), slog.Int("size", len(crs)))
	e.publish(ctx, events.New(events.KindCRSSet, caller).With("size", strconv.Itoa(len(crs))))
	return nil
}

// CommonReferenceString 返回当前参考串的副本，未设置时为 nil。
func (e *Engine) CommonReferenceString() validator.CRS {
	e.crsMu.RLock()
	defer e.crsMu.RUnlock()
	if e.crs == nil {
		return nil
	}
	return append(validator.CRS(nil), e.crs...)
}

// SetProof 按目录名称为 proofType 绑定验证器，返回是否覆盖了旧绑定。
func (e *Engine) SetProof(ctx context.Context, caller common.Address, proofType proofs.ProofType, name string) (bool, error) {
	if err := e.requireOwner(caller, "register validators"); err != nil {
		return false, err
	}
	if e.catalog == nil {
		return false, xerrors.New(xerrors.CodeInitializationFailure, "validator catalog not configured")
	}
	v, err := e.catalog.Build(name)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("unknown validator %q", name))
	}
	return e.SetValidator(ctx, caller, proofType, name, v)
}

// SetValidator 直接绑定一个验证器实例。
func (e *Engine) SetValidator(ctx context.Context, caller common.Address, proofType proofs.ProofType, name string, v validator.Validator) (bool, error) {
	replaced, err := e.validators.Set(caller, proofType, name, v)
	if err != nil {
		return false, err
	}
	event := events.New(events.KindValidatorSet, caller).With("name", name).With("replaced", strconv.FormatBool(replaced))
	event.ProofType = uint32(proofType)
	e.publish(ctx, event)
	return replaced, nil
}

// BindDefinitions 以所有者身份批量绑定启动配置中的验证器。
func (e *Engine) BindDefinitions(ctx context.Context, defs validator.Definitions) error {
	for _, def := range defs.Validators {
		if _, err := e.SetProof(ctx, e.owner, def.ProofType, def.Name); err != nil {
			return fmt.Errorf("绑定验证器 %s 到 %d 失败: %w", def.Name, def.ProofType, err)
		}
	}
	return nil
}

// ValidatorOf 返回 proofType 的绑定。
func (e *Engine) ValidatorOf(proofType proofs.ProofType) (validator.Entry, error) {
	return e.validators.Get(proofType)
}

// Validators 返回全部绑定。
func (e *Engine) Validators() []validator.Entry {
	return e.validators.List()
}

// ValidateProof 校验证明并以 caller 的身份记录每条输出的哈希，返回验证器产出的输出编码。
// 查找、校验与解码失败时不修改任何状态。
func (e *Engine) ValidateProof(ctx context.Context, caller common.Address, proofType proofs.ProofType, sender common.Address, proofData []byte) ([]byte, error) {
	start := time.Now()
	blob, hashes, err := e.verify(ctx, proofType, sender, proofData)
	if err != nil {
		result := metrics.ResultRejected
		if !isRejection(err) {
			result = metrics.ResultError
		}
		e.metrics.ObserveValidation(proofType.String(), result, time.Since(start))
		return nil, err
	}

	if err := e.record(ctx, proofType, caller, hashes); err != nil {
		e.metrics.ObserveValidation(proofType.String(), metrics.ResultError, time.Since(start))
		return nil, err
	}
	e.metrics.ObserveValidation(proofType.String(), metrics.ResultOK, time.Since(start))

	for _, hash := range hashes {
		event := events.New(events.KindProofValidated, caller).With("sender", sender.Hex())
		event.ProofType = uint32(proofType)
		event.ProofHash = hash.Hex()
		e.publish(ctx, event)
	}
	return blob, nil
}

// record 记录全部输出哈希。任一条写入失败时撤销本次新增的记录，
// 调用前已存在的记录保持不变。
func (e *Engine) record(ctx context.Context, proofType proofs.ProofType, caller common.Address, hashes []common.Hash) error {
	added := make([]common.Hash, 0, len(hashes))
	for _, hash := range hashes {
		known, err := e.cache.IsValid(ctx, proofType, hash, caller)
		if err == nil && !known {
			err = e.cache.RecordValid(ctx, proofType, caller, hash)
		}
		if err != nil {
			if clearErr := e.cache.Clear(ctx, proofType, caller, added...); clearErr != nil {
				e.alert(ctx, clearErr, caller, hash)
			}
			e.alert(ctx, err, caller, hash)
			return err
		}
		if !known {
			added = append(added, hash)
		}
	}
	return nil
}

func (e *Engine) verify(ctx context.Context, proofType proofs.ProofType, sender common.Address, proofData []byte) ([]byte, []common.Hash, error) {
	entry, err := e.validators.Get(proofType)
	if err != nil {
		return nil, nil, err
	}
	crs := e.CommonReferenceString()
	if crs == nil {
		return nil, nil, xerrors.New(xerrors.CodeInitializationFailure, "common reference string not set")
	}
	blob, err := entry.Validator.Verify(ctx, proofData, sender, crs)
	if err != nil {
		if _, ok := xerrors.From(err); ok || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, err
		}
		return nil, nil, xerrors.Wrap(xerrors.CodeInvalidProof, err, fmt.Sprintf("validator %s rejected the proof", entry.Name))
	}

	count, err := proofs.CountProofOutputs(blob)
	if err != nil {
		return nil, nil, xerrors.Wrap(xerrors.CodeInvalidProof, err, "validator returned malformed outputs")
	}
	hashes := make([]common.Hash, 0, count)
	for i := 0; i < count; i++ {
		record, err := proofs.ProofOutputAt(blob, i)
		if err != nil {
			return nil, nil, xerrors.Wrap(xerrors.CodeInvalidProof, err, "validator returned malformed outputs")
		}
		if _, err := proofs.DecodeProofOutput(record); err != nil {
			return nil, nil, xerrors.Wrap(xerrors.CodeInvalidProof, err, fmt.Sprintf("output %d is malformed", i))
		}
		hashes = append(hashes, proofs.HashProofOutput(record))
	}
	return blob, hashes, nil
}

// ValidateProofByHash 查询 sender 是否已校验过该证明输出。
func (e *Engine) ValidateProofByHash(ctx context.Context, proofType proofs.ProofType, proofHash common.Hash, sender common.Address) (bool, error) {
	return e.cache.IsValid(ctx, proofType, proofHash, sender)
}

// ClearProofByHashes 删除 caller 自己记录的校验结果，对不存在的记录是幂等的。
func (e *Engine) ClearProofByHashes(ctx context.Context, caller common.Address, proofType proofs.ProofType, proofHashes []common.Hash) error {
	if len(proofHashes) == 0 {
		return nil
	}
	if err := e.cache.Clear(ctx, proofType, caller, proofHashes...); err != nil {
		return err
	}
	for _, hash := range proofHashes {
		event := events.New(events.KindProofCleared, caller)
		event.ProofType = uint32(proofType)
		event.ProofHash = hash.Hex()
		e.publish(ctx, event)
	}
	return nil
}

// CreateNoteRegistry 为 caller 创建注册表。
func (e *Engine) CreateNoteRegistry(ctx context.Context, caller, linkedToken common.Address, scalingFactor *big.Int, canAdjustSupply, canConvert bool) (noteregistry.Registry, error) {
	registry, err := e.registries.Create(ctx, noteregistry.CreateRequest{
		Owner:           caller,
		LinkedToken:     linkedToken,
		ScalingFactor:   scalingFactor,
		CanAdjustSupply: canAdjustSupply,
		CanConvert:      canConvert,
	})
	if err != nil {
		return noteregistry.Registry{}, err
	}
	event := events.New(events.KindRegistryCreated, caller).
		With("linked_token", linkedToken.Hex()).
		With("scaling_factor", scalingFactor.String())
	event.Registry = caller.Hex()
	e.publish(ctx, event)
	return registry, nil
}

// PublicApprove 由 caller 为 registryOwner 上的 proofHash 追加公开授权，返回累计额度。
func (e *Engine) PublicApprove(ctx context.Context, caller, registryOwner common.Address, proofHash common.Hash, value *big.Int) (*big.Int, error) {
	total, err := e.registries.Approve(ctx, registryOwner, caller, proofHash, value)
	if err != nil {
		return nil, err
	}
	event := events.New(events.KindRegistryApprove, caller).With("value", value.String()).With("total", total.String())
	event.Registry = registryOwner.Hex()
	event.ProofHash = proofHash.Hex()
	e.publish(ctx, event)
	return total, nil
}

// UpdateNoteRegistry 把一条已由 proofSender 校验过的输出应用到 caller 的注册表。
func (e *Engine) UpdateNoteRegistry(ctx context.Context, caller common.Address, proofType proofs.ProofType, proofSender common.Address, record []byte) (noteregistry.Receipt, error) {
	output, err := proofs.DecodeProofOutput(record)
	if err != nil {
		e.metrics.ObserveRegistryUpdate(metrics.ResultRejected)
		return noteregistry.Receipt{}, err
	}
	hash := proofs.HashProofOutput(record)
	valid, err := e.cache.IsValid(ctx, proofType, hash, proofSender)
	if err != nil {
		e.metrics.ObserveRegistryUpdate(metrics.ResultError)
		return noteregistry.Receipt{}, err
	}
	if !valid {
		e.metrics.ObserveRegistryUpdate(metrics.ResultRejected)
		return noteregistry.Receipt{}, xerrors.New(xerrors.CodeInvalidProof,
			fmt.Sprintf("proof output %s was not validated by %s", hash.Hex(), proofSender.Hex()),
			xerrors.WithMetadata("proof_hash", hash.Hex()))
	}

	receipt, err := e.registries.Apply(ctx, caller, proofType, hash, output)
	if err != nil {
		result := metrics.ResultRejected
		if !isRejection(err) {
			result = metrics.ResultError
		}
		e.metrics.ObserveRegistryUpdate(result)
		return noteregistry.Receipt{}, err
	}
	e.metrics.ObserveRegistryUpdate(metrics.ResultOK)

	event := events.New(events.KindRegistryUpdated, caller).
		With("spent", strconv.Itoa(len(receipt.Spent))).
		With("created", strconv.Itoa(len(receipt.Created))).
		With("public_value", receipt.PublicValue.String())
	event.ProofType = uint32(proofType)
	event.ProofHash = hash.Hex()
	event.Registry = caller.Hex()
	e.publish(ctx, event)
	return receipt, nil
}

// ProcessProof 校验证明并把全部输出应用到 caller 的注册表。
// 输出按顺序应用，某条失败时之前已应用的输出保持生效。
func (e *Engine) ProcessProof(ctx context.Context, caller common.Address, proofType proofs.ProofType, sender common.Address, proofData []byte) ([]noteregistry.Receipt, error) {
	blob, err := e.ValidateProof(ctx, caller, proofType, sender, proofData)
	if err != nil {
		return nil, err
	}
	count, err := proofs.CountProofOutputs(blob)
	if err != nil {
		return nil, err
	}
	receipts := make([]noteregistry.Receipt, 0, count)
	for i := 0; i < count; i++ {
		record, err := proofs.ProofOutputAt(blob, i)
		if err != nil {
			return receipts, err
		}
		receipt, err := e.UpdateNoteRegistry(ctx, caller, proofType, caller, record)
		if err != nil {
			return receipts, fmt.Errorf("应用第 %d 条证明输出失败: %w", i, err)
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

// NoteRegistry 返回 owner 的注册表。
func (e *Engine) NoteRegistry(ctx context.Context, owner common.Address) (noteregistry.Registry, error) {
	return e.registries.Registry(ctx, owner)
}

// Note 返回 owner 注册表中的票据。
func (e *Engine) Note(ctx context.Context, owner common.Address, noteHash common.Hash) (noteregistry.NoteRecord, error) {
	return e.registries.Note(ctx, owner, noteHash)
}

// PublicApproval 返回剩余授权额度。
func (e *Engine) PublicApproval(ctx context.Context, owner, approver common.Address, proofHash common.Hash) (*big.Int, error) {
	return e.registries.Allowance(ctx, owner, approver, proofHash)
}

// Close 释放缓存、注册表与事件发布器。
func (e *Engine) Close() error {
	return errors.Join(e.cache.Close(), e.registries.Close(), e.events.Close())
}

func (e *Engine) publish(ctx context.Context, event events.Event) {
	if err := e.events.Publish(ctx, event); err != nil {
		wrapped := xerrors.Wrap(xerrors.CodeQueueFailure, err, "publish event")
		e.metrics.ObserveEventFailure()
		e.log.Warn("事件发布失败",
			slog.String("kind", string(event.Kind)),
			slog.String("event_id", event.ID),
			slog.Any("error", wrapped))
	}
}

func (e *Engine) alert(ctx context.Context, err error, caller common.Address, proofHash common.Hash) {
	e.log.Error("记录校验结果失败", slog.String("caller", caller.Hex()), slog.String("proof_hash", proofHash.Hex()), slog.Any("error", err))
	if e.alerts == nil || !xerrors.ShouldAlert(err) {
		return
	}
	if notifyErr := e.alerts.Notify(ctx, alerting.FromError(err, caller.Hex(), proofHash.Hex())); notifyErr != nil {
		e.log.Warn("发送告警失败", slog.Any("error", notifyErr))
	}
}

// isRejection 区分业务拒绝与基础设施故障。
func isRejection(err error) bool {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeStorageFailure, xerrors.CodeLedgerFailure, xerrors.CodeQueueFailure,
		xerrors.CodeInitializationFailure, xerrors.CodeUnknown:
		return false
	default:
		return true
	}
}
