package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestNewRegistryMemoryTokens(t *testing.T) {
	engine := common.HexToAddress("0x000000000000000000000000000000000000ace1")
	holder := "0x00000000000000000000000000000000000a11ce"
	path := writeFile(t, `tokens:
  zkdai:
    type: memory
    address: "0x0000000000000000000000000000000000001001"
    engine_is_minter: true
    balances:
      "`+holder+`": "1000"
  plain:
    address: "0x0000000000000000000000000000000000001002"
`)
	reg, err := NewRegistry(context.Background(), Options{DefinitionsPath: path, Engine: engine})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer reg.Close()

	zkdai := common.HexToAddress("0x0000000000000000000000000000000000001001")
	ledger, err := reg.Directory().Lookup(zkdai)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	balance, _ := ledger.BalanceOf(context.Background(), common.HexToAddress(holder))
	if balance.Int64() != 1000 {
		t.Fatalf("seeded balance = %s", balance)
	}
	if err := ledger.Mint(context.Background(), engine, balance); err != nil {
		t.Fatalf("engine should be a minter: %v", err)
	}
	if _, ok := reg.MemoryToken(zkdai); !ok {
		t.Fatalf("memory token not exposed")
	}
	if len(reg.Directory().Addresses()) != 2 {
		t.Fatalf("expected two tokens, got %v", reg.Directory().Addresses())
	}
}

func TestNewRegistryRejectsBadDefinitions(t *testing.T) {
	cases := map[string]string{
		"bad address": "tokens:\n  x:\n    address: nope\n",
		"bad type":    "tokens:\n  x:\n    type: cash\n    address: \"0x0000000000000000000000000000000000001001\"\n",
		"bad balance": "tokens:\n  x:\n    address: \"0x0000000000000000000000000000000000001001\"\n    balances:\n      \"0x0000000000000000000000000000000000000001\": \"-5\"\n",
		"erc20 without rpc": "tokens:\n  x:\n    type: erc20\n    address: \"0x0000000000000000000000000000000000001001\"\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewRegistry(context.Background(), Options{DefinitionsPath: writeFile(t, content)}); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestNewRegistryWithoutDefinitions(t *testing.T) {
	reg, err := NewRegistry(context.Background(), Options{})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if len(reg.Directory().Addresses()) != 0 {
		t.Fatalf("expected empty directory")
	}
}
