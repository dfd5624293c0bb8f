package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"OpenACE-Chain/internal/web3"
)

// Config 描述连接 EVM 节点并以引擎身份签名所需的参数。
type Config struct {
	RPCURL string
	// OperatorKey 为十六进制私钥，对应的地址即引擎在链上的身份。
	OperatorKey string
	GasLimit    uint64
}

// Client 持有一条 RPC 连接和引擎的交易签名器，可为多个代币合约共享。
type Client struct {
	eth      *ethclient.Client
	signer   *bind.TransactOpts
	operator common.Address
	// 同一签名者的交易需串行发送以保证 nonce 顺序
	txMu sync.Mutex
}

// NewClient 连接节点并构造签名器。
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	key, err := parseKey(cfg.OperatorKey)
	if err != nil {
		return nil, err
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	signer, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("创建交易签名器失败: %w", err)
	}
	signer.GasLimit = cfg.GasLimit

	return &Client{eth: eth, signer: signer, operator: signer.From}, nil
}

func parseKey(raw string) (*ecdsa.PrivateKey, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		return nil, errors.New("未配置引擎私钥")
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("解析引擎私钥失败: %w", err)
	}
	return key, nil
}

// Operator 返回签名者地址。
func (c *Client) Operator() common.Address {
	return c.operator
}

// ERC20 绑定一个 ERC-20 合约，返回的账本以签名者为操作者。
func (c *Client) ERC20(address common.Address) (*ERC20, error) {
	parsed, err := abi.JSON(strings.NewReader(web3.ERC20ABI))
	if err != nil {
		return nil, fmt.Errorf("解析 ERC20 ABI 失败: %w", err)
	}
	bound := bind.NewBoundContract(address, parsed, c.eth, c.eth, c.eth)
	return newERC20(address, c.operator, bound, c.transactOpts, c.waitMined), nil
}

func (c *Client) transactOpts(ctx context.Context) (*bind.TransactOpts, func()) {
	c.txMu.Lock()
	opts := *c.signer
	opts.Context = ctx
	return &opts, c.txMu.Unlock
}

func (c *Client) waitMined(ctx context.Context, tx *coretypes.Transaction) (*coretypes.Receipt, error) {
	return bind.WaitMined(ctx, c.eth, tx)
}

// ChainID 返回所连链的 ID。
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.eth.ChainID(ctx)
}

// Close 释放网络连接。
func (c *Client) Close() {
	if c != nil && c.eth != nil {
		c.eth.Close()
	}
}
