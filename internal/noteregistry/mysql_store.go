package noteregistry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	mysqldriver "github.com/go-sql-driver/mysql"

	xerrors "OpenACE-Chain/internal/errors"
	"OpenACE-Chain/internal/proofs"
)

// mysqlDuplicateEntry 是 MySQL 主键冲突的错误号。
const mysqlDuplicateEntry = 1062

// MySQLStore 基于 MySQL 持久化注册表，Update 通过 SELECT ... FOR UPDATE 锁定注册表行，
// 多个引擎实例共享同一数据库时仍能串行化同一注册表的更新。
type MySQLStore struct {
	db *sql.DB
}

var _ Store = (*MySQLStore)(nil)

// NewMySQLStore 使用已完成迁移的连接池构造存储。
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

const registryColumns = `owner, linked_token, scaling_factor, can_adjust_supply, can_convert, total_supply,
        confidential_total_minted, confidential_total_burned, created_at, updated_at`

// CreateRegistry 实现 Store。
func (s *MySQLStore) CreateRegistry(ctx context.Context, registry Registry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO note_registries (`+registryColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		addressKey(registry.Owner),
		addressKey(registry.LinkedToken),
		cloneInt(registry.ScalingFactor).String(),
		registry.CanAdjustSupply,
		registry.CanConvert,
		cloneInt(registry.TotalSupply).String(),
		registry.ConfidentialTotalMinted.Hex(),
		registry.ConfidentialTotalBurned.Hex(),
		registry.CreatedAt,
		registry.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysqldriver.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return xerrors.New(xerrors.CodeAlreadyExists, fmt.Sprintf("registry %s already exists", registry.Owner.Hex()))
		}
		return storageFailure(err, "insert note registry")
	}
	return nil
}

// Registry 实现 Store。
func (s *MySQLStore) Registry(ctx context.Context, owner common.Address) (Registry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+registryColumns+` FROM note_registries WHERE owner = ?`, addressKey(owner))
	return scanRegistry(row, owner)
}

// Note 实现 Store。
func (s *MySQLStore) Note(ctx context.Context, owner common.Address, hash common.Hash) (NoteRecord, error) {
	if _, err := s.Registry(ctx, owner); err != nil {
		return NoteRecord{}, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM registry_notes
        WHERE registry_owner = ? AND note_hash = ?`, addressKey(owner), hash.Hex())
	note, ok, err := scanNote(row)
	if err != nil {
		return NoteRecord{}, err
	}
	if !ok {
		return NoteRecord{}, noteNotFound(hash)
	}
	return note, nil
}

// Allowance 实现 Store。
func (s *MySQLStore) Allowance(ctx context.Context, owner, approver common.Address, proofHash common.Hash) (*big.Int, error) {
	if _, err := s.Registry(ctx, owner); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT amount FROM public_approvals
        WHERE registry_owner = ? AND approver = ? AND proof_hash = ?`, addressKey(owner), addressKey(approver), proofHash.Hex())
	return scanAmount(row)
}

// Update 实现 Store。
func (s *MySQLStore) Update(ctx context.Context, owner common.Address, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageFailure(err, "begin registry transaction")
	}
	row := sqlTx.QueryRowContext(ctx, `SELECT `+registryColumns+` FROM note_registries WHERE owner = ? FOR UPDATE`, addressKey(owner))
	registry, err := scanRegistry(row, owner)
	if err != nil {
		sqlTx.Rollback()
		return err
	}

	tx := &mysqlTx{tx: sqlTx, owner: owner, registry: registry}
	if err := fn(tx); err != nil {
		sqlTx.Rollback()
		return err
	}

	if _, err := sqlTx.ExecContext(ctx, `UPDATE note_registries SET total_supply = ?, confidential_total_minted = ?,
        confidential_total_burned = ?, updated_at = ? WHERE owner = ?`,
		cloneInt(tx.registry.TotalSupply).String(),
		tx.registry.ConfidentialTotalMinted.Hex(),
		tx.registry.ConfidentialTotalBurned.Hex(),
		tx.registry.UpdatedAt,
		addressKey(owner),
	); err != nil {
		sqlTx.Rollback()
		return storageFailure(err, "update note registry")
	}
	if err := sqlTx.Commit(); err != nil {
		return storageFailure(err, "commit registry update")
	}
	return nil
}

// Close 关闭连接池。
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

type mysqlTx struct {
	tx       *sql.Tx
	owner    common.Address
	registry Registry
}

func (t *mysqlTx) Registry() Registry { return t.registry.Clone() }

func (t *mysqlTx) SetRegistry(registry Registry) { t.registry = registry.Clone() }

func (t *mysqlTx) Note(ctx context.Context, hash common.Hash) (NoteRecord, bool, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM registry_notes
        WHERE registry_owner = ? AND note_hash = ? FOR UPDATE`, addressKey(t.owner), hash.Hex())
	return scanNote(row)
}

func (t *mysqlTx) PutNote(ctx context.Context, note NoteRecord) error {
	var spentBy sql.NullString
	var spentAt sql.NullInt64
	if note.Status == NoteSpent {
		spentBy = sql.NullString{String: note.SpentBy.Hex(), Valid: true}
		spentAt = sql.NullInt64{Int64: note.SpentAt, Valid: true}
	}
	_, err := t.tx.ExecContext(ctx, `INSERT INTO registry_notes (registry_owner, note_hash, note_owner, status,
        created_by, spent_by, created_at, spent_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE status = VALUES(status), spent_by = VALUES(spent_by), spent_at = VALUES(spent_at)`,
		addressKey(t.owner), note.Hash.Hex(), addressKey(note.Owner), string(note.Status),
		note.CreatedBy.Hex(), spentBy, note.CreatedAt, spentAt)
	if err != nil {
		return storageFailure(err, "write note")
	}
	return nil
}

func (t *mysqlTx) Allowance(ctx context.Context, approver common.Address, proofHash common.Hash) (*big.Int, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT amount FROM public_approvals
        WHERE registry_owner = ? AND approver = ? AND proof_hash = ? FOR UPDATE`,
		addressKey(t.owner), addressKey(approver), proofHash.Hex())
	return scanAmount(row)
}

func (t *mysqlTx) SetAllowance(ctx context.Context, approver common.Address, proofHash common.Hash, amount *big.Int) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO public_approvals (registry_owner, approver, proof_hash, amount, updated_at)
        VALUES (?, ?, ?, ?, UNIX_TIMESTAMP())
        ON DUPLICATE KEY UPDATE amount = VALUES(amount), updated_at = VALUES(updated_at)`,
		addressKey(t.owner), addressKey(approver), proofHash.Hex(), cloneInt(amount).String())
	if err != nil {
		return storageFailure(err, "write public approval")
	}
	return nil
}

func (t *mysqlTx) ProofApplied(ctx context.Context, proofHash common.Hash) (bool, error) {
	var exists int
	err := t.tx.QueryRowContext(ctx, `SELECT 1 FROM applied_proofs WHERE registry_owner = ? AND proof_hash = ?`,
		addressKey(t.owner), proofHash.Hex()).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageFailure(err, "query applied proof")
	}
	return true, nil
}

func (t *mysqlTx) MarkProofApplied(ctx context.Context, proofHash common.Hash, proofType proofs.ProofType, at int64) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO applied_proofs (registry_owner, proof_hash, proof_type, applied_at)
        VALUES (?, ?, ?, ?)`, addressKey(t.owner), proofHash.Hex(), uint32(proofType), at)
	if err != nil {
		return storageFailure(err, "record applied proof")
	}
	return nil
}

const noteColumns = `note_hash, note_owner, status, created_by, spent_by, created_at, spent_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistry(row rowScanner, owner common.Address) (Registry, error) {
	var (
		ownerHex, tokenHex     string
		scaling, supply        string
		minted, burned         string
		canAdjust, canConvert  bool
		createdAt, updatedAtTs int64
	)
	err := row.Scan(&ownerHex, &tokenHex, &scaling, &canAdjust, &canConvert, &supply, &minted, &burned, &createdAt, &updatedAtTs)
	if errors.Is(err, sql.ErrNoRows) {
		return Registry{}, registryNotFound(owner)
	}
	if err != nil {
		return Registry{}, storageFailure(err, "load note registry")
	}
	scalingFactor, err := parseDecimal(scaling)
	if err != nil {
		return Registry{}, err
	}
	totalSupply, err := parseDecimal(supply)
	if err != nil {
		return Registry{}, err
	}
	return Registry{
		Owner:                   common.HexToAddress(ownerHex),
		LinkedToken:             common.HexToAddress(tokenHex),
		ScalingFactor:           scalingFactor,
		CanAdjustSupply:         canAdjust,
		CanConvert:              canConvert,
		TotalSupply:             totalSupply,
		ConfidentialTotalMinted: common.HexToHash(minted),
		ConfidentialTotalBurned: common.HexToHash(burned),
		CreatedAt:               createdAt,
		UpdatedAt:               updatedAtTs,
	}, nil
}

func scanNote(row rowScanner) (NoteRecord, bool, error) {
	var (
		hash, owner, status, createdBy string
		spentBy                        sql.NullString
		createdAt                      int64
		spentAt                        sql.NullInt64
	)
	err := row.Scan(&hash, &owner, &status, &createdBy, &spentBy, &createdAt, &spentAt)
	if errors.Is(err, sql.ErrNoRows) {
		return NoteRecord{}, false, nil
	}
	if err != nil {
		return NoteRecord{}, false, storageFailure(err, "load note")
	}
	record := NoteRecord{
		Hash:      common.HexToHash(hash),
		Owner:     common.HexToAddress(owner),
		Status:    NoteStatus(status),
		CreatedBy: common.HexToHash(createdBy),
		CreatedAt: createdAt,
	}
	if spentBy.Valid {
		record.SpentBy = common.HexToHash(spentBy.String)
	}
	if spentAt.Valid {
		record.SpentAt = spentAt.Int64
	}
	return record, true, nil
}

func scanAmount(row rowScanner) (*big.Int, error) {
	var raw string
	err := row.Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, storageFailure(err, "load public approval")
	}
	return parseDecimal(raw)
}

func parseDecimal(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, xerrors.New(xerrors.CodeStorageFailure, fmt.Sprintf("corrupt decimal value %q", raw))
	}
	return v, nil
}

func addressKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func storageFailure(err error, action string) error {
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, action)
}
