package token

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenACE-Chain/internal/errors"
)

// MemoryToken 是进程内的 ERC20Mintable 实现，用于开发环境和测试。
type MemoryToken struct {
	mu         sync.Mutex
	symbol     string
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
	minters    map[common.Address]struct{}
	failNext   error
}

// NewMemoryToken 创建代币，minters 拥有铸造权限。
func NewMemoryToken(symbol string, minters ...common.Address) *MemoryToken {
	t := &MemoryToken{
		symbol:     symbol,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
		minters:    make(map[common.Address]struct{}),
	}
	for _, m := range minters {
		t.minters[m] = struct{}{}
	}
	return t
}

// Symbol 返回代币符号。
func (t *MemoryToken) Symbol() string { return t.symbol }

// AddMinter 授予铸造权限。
func (t *MemoryToken) AddMinter(account common.Address) {
	t.mu.Lock()
	t.minters[account] = struct{}{}
	t.mu.Unlock()
}

// FailNext 让下一次状态变更返回 err，用于模拟链上失败。
func (t *MemoryToken) FailNext(err error) {
	t.mu.Lock()
	t.failNext = err
	t.mu.Unlock()
}

func (t *MemoryToken) takeFailure() error {
	err := t.failNext
	t.failNext = nil
	return err
}

func rejected(format string, args ...any) error {
	return xerrors.New(xerrors.CodeLedgerFailure, fmt.Sprintf(format, args...), xerrors.WithAlert(false))
}

// MintBy 由 minter 给 to 铸造代币。
func (t *MemoryToken) MintBy(minter, to common.Address, amount *big.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.takeFailure(); err != nil {
		return err
	}
	if _, ok := t.minters[minter]; !ok {
		return rejected("%s is not a minter of %s", minter.Hex(), t.symbol)
	}
	t.credit(to, amount)
	return nil
}

// ApproveBy 设置 owner 给 spender 的授权额度。
func (t *MemoryToken) ApproveBy(owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "allowance must be non-negative")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[owner][spender] = new(big.Int).Set(amount)
	return nil
}

// TransferBy 从 from 转账到 to。
func (t *MemoryToken) TransferBy(from, to common.Address, amount *big.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.takeFailure(); err != nil {
		return err
	}
	return t.move(from, to, amount)
}

// TransferFromBy 由 spender 消耗 from 的授权转账到 to。
func (t *MemoryToken) TransferFromBy(spender, from, to common.Address, amount *big.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.takeFailure(); err != nil {
		return err
	}
	allowed := t.allowanceLocked(from, spender)
	if allowed.Cmp(amount) < 0 {
		return rejected("allowance %s of %s for %s below %s", allowed, from.Hex(), spender.Hex(), amount)
	}
	if err := t.move(from, to, amount); err != nil {
		return err
	}
	t.allowances[from][spender] = allowed.Sub(allowed, amount)
	return nil
}

// BalanceOfAccount 返回余额。
func (t *MemoryToken) BalanceOfAccount(account common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// AllowanceOf 返回授权额度。
func (t *MemoryToken) AllowanceOf(owner, spender common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowanceLocked(owner, spender)
}

func (t *MemoryToken) allowanceLocked(owner, spender common.Address) *big.Int {
	if m, ok := t.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return new(big.Int).Set(a)
		}
	}
	return new(big.Int)
}

func (t *MemoryToken) move(from, to common.Address, amount *big.Int) error {
	balance := t.balances[from]
	if balance == nil || balance.Cmp(amount) < 0 {
		return rejected("balance of %s below %s", from.Hex(), amount)
	}
	balance.Sub(balance, amount)
	t.credit(to, amount)
	return nil
}

func (t *MemoryToken) credit(to common.Address, amount *big.Int) {
	if t.balances[to] == nil {
		t.balances[to] = new(big.Int)
	}
	t.balances[to].Add(t.balances[to], amount)
}

// Operator 返回以 operator 为操作者的账本视图。
func (t *MemoryToken) Operator(operator common.Address) Ledger {
	return &memoryLedger{token: t, operator: operator}
}

type memoryLedger struct {
	token    *MemoryToken
	operator common.Address
}

var _ Ledger = (*memoryLedger)(nil)

func (l *memoryLedger) TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.token.TransferFromBy(l.operator, from, to, amount)
}

func (l *memoryLedger) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.token.TransferBy(l.operator, to, amount)
}

func (l *memoryLedger) Mint(ctx context.Context, to common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.token.MintBy(l.operator, to, amount)
}

func (l *memoryLedger) BalanceOf(_ context.Context, account common.Address) (*big.Int, error) {
	return l.token.BalanceOfAccount(account), nil
}

func (l *memoryLedger) Allowance(_ context.Context, owner, spender common.Address) (*big.Int, error) {
	return l.token.AllowanceOf(owner, spender), nil
}
