package ethereum

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	xerrors "OpenACE-Chain/internal/errors"
	"OpenACE-Chain/internal/token"
)

// contract 是 bind.BoundContract 中账本用到的部分。
type contract interface {
	Call(opts *bind.CallOpts, results *[]interface{}, method string, params ...interface{}) error
	Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*coretypes.Transaction, error)
}

type (
	optsFunc func(ctx context.Context) (*bind.TransactOpts, func())
	waitFunc func(ctx context.Context, tx *coretypes.Transaction) (*coretypes.Receipt, error)
)

// ERC20 是链上 ERC-20 合约的账本实现，每次写操作都会等待回执。
type ERC20 struct {
	address  common.Address
	operator common.Address
	contract contract
	opts     optsFunc
	wait     waitFunc
}

var _ token.Ledger = (*ERC20)(nil)

func newERC20(address, operator common.Address, c contract, opts optsFunc, wait waitFunc) *ERC20 {
	return &ERC20{address: address, operator: operator, contract: c, opts: opts, wait: wait}
}

// Address 返回合约地址。
func (e *ERC20) Address() common.Address { return e.address }

// TransferFrom 实现 token.Ledger。
func (e *ERC20) TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) error {
	return e.transact(ctx, "transferFrom", amount, from, to, amount)
}

// Transfer 实现 token.Ledger。
func (e *ERC20) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	return e.transact(ctx, "transfer", amount, to, amount)
}

// Mint 实现 token.Ledger。
func (e *ERC20) Mint(ctx context.Context, to common.Address, amount *big.Int) error {
	return e.transact(ctx, "mint", amount, to, amount)
}

// BalanceOf 实现 token.Ledger。
func (e *ERC20) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return e.callUint(ctx, "balanceOf", account)
}

// Allowance 实现 token.Ledger。
func (e *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return e.callUint(ctx, "allowance", owner, spender)
}

func (e *ERC20) callUint(ctx context.Context, method string, params ...interface{}) (*big.Int, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx, From: e.operator}
	if err := e.contract.Call(opts, &out, method, params...); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLedgerFailure, err, fmt.Sprintf("call %s on %s", method, e.address.Hex()))
	}
	if len(out) != 1 {
		return nil, xerrors.New(xerrors.CodeLedgerFailure, fmt.Sprintf("%s returned %d values", method, len(out)))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, xerrors.New(xerrors.CodeLedgerFailure, fmt.Sprintf("%s returned %T", method, out[0]))
	}
	return v, nil
}

func (e *ERC20) transact(ctx context.Context, method string, amount *big.Int, params ...interface{}) error {
	if amount == nil || amount.Sign() <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "token amount must be positive")
	}
	opts, release := e.opts(ctx)
	tx, err := e.contract.Transact(opts, method, params...)
	release()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeLedgerFailure, err, fmt.Sprintf("send %s to %s", method, e.address.Hex()))
	}
	receipt, err := e.wait(ctx, tx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeLedgerFailure, err, fmt.Sprintf("wait for %s", tx.Hash().Hex()))
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return xerrors.New(xerrors.CodeLedgerFailure, fmt.Sprintf("%s reverted in tx %s", method, tx.Hash().Hex()),
			xerrors.WithMetadata("tx", tx.Hash().Hex()))
	}
	return nil
}
