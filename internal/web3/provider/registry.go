package provider

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"OpenACE-Chain/internal/token"
	"OpenACE-Chain/internal/web3"
	"OpenACE-Chain/internal/web3/ethereum"
)

// Options 描述构建代币目录所需的上下文。
type Options struct {
	// DefinitionsPath 指向 tokens.yaml。
	DefinitionsPath string
	// Engine 是引擎在账本上的地址，memory 代币以它为操作者。
	Engine common.Address
	// RPCURL 与 OperatorKey 为 erc20 代币的默认连接参数。
	RPCURL      string
	OperatorKey string
	GasLimit    uint64
}

// Registry 持有代币目录以及为其建立的链上连接。
type Registry struct {
	directory *token.Directory
	memory    map[common.Address]*token.MemoryToken
	clients   map[string]*ethereum.Client
}

// NewRegistry 加载代币定义并实例化账本。
func NewRegistry(ctx context.Context, opts Options) (*Registry, error) {
	defs, err := web3.LoadTokenDefinitions(opts.DefinitionsPath)
	if err != nil {
		return nil, err
	}

	reg := &Registry{
		directory: token.NewDirectory(),
		memory:    make(map[common.Address]*token.MemoryToken),
		clients:   make(map[string]*ethereum.Client),
	}

	names := make([]string, 0, len(defs.Tokens))
	for name := range defs.Tokens {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := defs.Tokens[name]
		address := common.HexToAddress(def.Address)
		switch strings.ToLower(string(def.Type)) {
		case string(web3.TokenKindMemory):
			tok, err := newMemoryToken(name, def, opts.Engine)
			if err != nil {
				reg.Close()
				return nil, err
			}
			reg.memory[address] = tok
			reg.directory.Register(address, tok.Operator(opts.Engine))
		case string(web3.TokenKindERC20):
			client, err := reg.client(ctx, def, opts)
			if err != nil {
				reg.Close()
				return nil, fmt.Errorf("初始化代币 %s 失败: %w", name, err)
			}
			ledger, err := client.ERC20(address)
			if err != nil {
				reg.Close()
				return nil, err
			}
			reg.directory.Register(address, ledger)
		default:
			reg.Close()
			return nil, fmt.Errorf("代币 %s 使用了不支持的类型 %s", name, def.Type)
		}
	}
	return reg, nil
}

func newMemoryToken(name string, def web3.TokenDefinition, engine common.Address) (*token.MemoryToken, error) {
	tok := token.NewMemoryToken(name)
	if def.EngineIsMinter {
		tok.AddMinter(engine)
	}
	// 预置余额通过一个仅在此处使用的铸造者完成
	genesis := common.BytesToAddress([]byte("genesis"))
	tok.AddMinter(genesis)
	for holder, raw := range def.Balances {
		if !common.IsHexAddress(holder) {
			return nil, fmt.Errorf("代币 %s 的余额账户无效: %s", name, holder)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 0)
		if !ok || amount.Sign() <= 0 {
			return nil, fmt.Errorf("代币 %s 的余额无效: %s", name, raw)
		}
		if err := tok.MintBy(genesis, common.HexToAddress(holder), amount); err != nil {
			return nil, err
		}
	}
	return tok, nil
}

func (r *Registry) client(ctx context.Context, def web3.TokenDefinition, opts Options) (*ethereum.Client, error) {
	rpcURL := strings.TrimSpace(def.RPCURL)
	if rpcURL == "" {
		rpcURL = strings.TrimSpace(opts.RPCURL)
	}
	if client, ok := r.clients[rpcURL]; ok {
		return client, nil
	}
	client, err := ethereum.NewClient(ctx, ethereum.Config{
		RPCURL:      rpcURL,
		OperatorKey: opts.OperatorKey,
		GasLimit:    opts.GasLimit,
	})
	if err != nil {
		return nil, err
	}
	if opts.Engine != (common.Address{}) && client.Operator() != opts.Engine {
		client.Close()
		return nil, fmt.Errorf("引擎私钥地址 %s 与配置的引擎地址 %s 不一致", client.Operator().Hex(), opts.Engine.Hex())
	}
	r.clients[rpcURL] = client
	return client, nil
}

// Directory 返回代币目录。
func (r *Registry) Directory() *token.Directory {
	return r.directory
}

// MemoryToken 返回 memory 类型代币，便于开发环境直接操作余额与授权。
func (r *Registry) MemoryToken(address common.Address) (*token.MemoryToken, bool) {
	tok, ok := r.memory[address]
	return tok, ok
}

// Close 释放所有链上连接。
func (r *Registry) Close() {
	for _, client := range r.clients {
		client.Close()
	}
	r.clients = map[string]*ethereum.Client{}
}
