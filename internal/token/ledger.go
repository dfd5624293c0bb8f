package token

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenACE-Chain/internal/errors"
)

// Ledger 是以引擎地址为操作者的代币账本视图。
type Ledger interface {
	// TransferFrom 以操作者身份消耗 from 对操作者的授权。
	TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) error
	// Transfer 从操作者账户转出。
	Transfer(ctx context.Context, to common.Address, amount *big.Int) error
	// Mint 要求操作者具备铸造权限。
	Mint(ctx context.Context, to common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
}

// Directory 把代币合约地址解析为账本。
type Directory struct {
	mu      sync.RWMutex
	ledgers map[common.Address]Ledger
}

// NewDirectory 创建空目录。
func NewDirectory() *Directory {
	return &Directory{ledgers: make(map[common.Address]Ledger)}
}

// Register 绑定代币地址与账本。
func (d *Directory) Register(address common.Address, ledger Ledger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ledgers[address] = ledger
}

// Lookup 返回地址对应的账本。
func (d *Directory) Lookup(address common.Address) (Ledger, error) {
	if d == nil {
		return nil, xerrors.New(xerrors.CodeNotFound, "token directory not configured")
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	ledger, ok := d.ledgers[address]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("no ledger for token %s", address.Hex()))
	}
	return ledger, nil
}

// Addresses 返回已登记的代币地址。
func (d *Directory) Addresses() []common.Address {
	d.mu.RLock()
	out := make([]common.Address, 0, len(d.ledgers))
	for addr := range d.ledgers {
		out = append(out, addr)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func requirePositive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "token amount must be positive")
	}
	return nil
}
