package token

import (
	"context"
	stdErrors "errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenACE-Chain/internal/errors"
)

var (
	engine = common.HexToAddress("0xace0000000000000000000000000000000000ace")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestMemoryTokenOperatorFlow(t *testing.T) {
	ctx := context.Background()
	tok := NewMemoryToken("ZKD", alice)
	if err := tok.MintBy(alice, alice, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := tok.ApproveBy(alice, engine, big.NewInt(150)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	ledger := tok.Operator(engine)

	if err := ledger.TransferFrom(ctx, alice, engine, big.NewInt(100)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	if err := ledger.TransferFrom(ctx, alice, engine, big.NewInt(100)); xerrors.CodeOf(err) != xerrors.CodeLedgerFailure {
		t.Fatalf("expected allowance rejection, got %v", err)
	}
	allowance, _ := ledger.Allowance(ctx, alice, engine)
	if allowance.Int64() != 50 {
		t.Fatalf("allowance = %s", allowance)
	}
	if err := ledger.Transfer(ctx, bob, big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	for account, want := range map[common.Address]int64{alice: 900, engine: 60, bob: 40} {
		got, _ := ledger.BalanceOf(ctx, account)
		if got.Int64() != want {
			t.Fatalf("balance of %s = %s, want %d", account.Hex(), got, want)
		}
	}

	if err := ledger.Mint(ctx, engine, big.NewInt(1)); xerrors.CodeOf(err) != xerrors.CodeLedgerFailure {
		t.Fatalf("engine is not a minter yet, got %v", err)
	}
	tok.AddMinter(engine)
	if err := ledger.Mint(ctx, engine, big.NewInt(5)); err != nil {
		t.Fatalf("mint as operator: %v", err)
	}
	if err := ledger.Transfer(ctx, bob, big.NewInt(0)); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("zero amount must be rejected, got %v", err)
	}
}

func TestMemoryTokenFailNext(t *testing.T) {
	tok := NewMemoryToken("ZKD", alice)
	boom := stdErrors.New("rpc unavailable")
	tok.FailNext(boom)
	if err := tok.MintBy(alice, alice, big.NewInt(1)); !stdErrors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if err := tok.MintBy(alice, alice, big.NewInt(1)); err != nil {
		t.Fatalf("failure must only apply once: %v", err)
	}
}

func TestDirectory(t *testing.T) {
	dir := NewDirectory()
	addr := common.HexToAddress("0x0000000000000000000000000000000000001234")
	if _, err := dir.Lookup(addr); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	dir.Register(addr, NewMemoryToken("ZKD").Operator(engine))
	if _, err := dir.Lookup(addr); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got := dir.Addresses(); len(got) != 1 || got[0] != addr {
		t.Fatalf("unexpected addresses %v", got)
	}
	var nilDir *Directory
	if _, err := nilDir.Lookup(addr); err == nil {
		t.Fatalf("nil directory must fail lookups")
	}
}
