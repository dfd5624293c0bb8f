package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"OpenACE-Chain/sdk/go/aceclient"
)

const (
	envServer     = "ACE_SERVER"
	envKey        = "ACE_KEY"
	defaultServer = "http://127.0.0.1:8080"
)

// globalFlags 是所有子命令共享的连接参数。
type globalFlags struct {
	Server  string
	Key     string
	KeyFile string
	Address string
	Timeout time.Duration
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "acectl",
		Short: "ACE 机密资产引擎命令行客户端",
		Long: `acectl 通过 HTTP API 操作 ACE 引擎:
  管理公共参考串与校验器绑定
  校验、查询、清除证明
  创建票据注册表并提交注册表更新
  在本地构造 join split 与铸造证明

写操作使用 --key 或 --key-file 指定的私钥签名。`,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.Server, "server", envOr(envServer, defaultServer), "引擎 API 地址 (环境变量 ACE_SERVER)")
	pf.StringVar(&flags.Key, "key", os.Getenv(envKey), "十六进制私钥 (环境变量 ACE_KEY)")
	pf.StringVar(&flags.KeyFile, "key-file", "", "私钥文件路径")
	pf.StringVar(&flags.Address, "address", "", "未签名请求使用的调用方地址，仅适用于关闭认证的引擎")
	pf.DurationVar(&flags.Timeout, "timeout", 30*time.Second, "单次请求超时")

	root.AddCommand(
		newKeygenCmd(),
		newCRSCmd(flags),
		newValidatorCmd(flags),
		newProofCmd(flags),
		newRegistryCmd(flags),
		newProveCmd(flags),
		newEventsCmd(),
	)
	return root
}

// client 根据全局参数创建 SDK 客户端。
func (f *globalFlags) client() (*aceclient.Client, error) {
	c, err := aceclient.NewClient(f.Server, &http.Client{Timeout: f.Timeout})
	if err != nil {
		return nil, err
	}
	key, err := f.key()
	if err != nil {
		return nil, err
	}
	if key != nil {
		c.SetSigner(key)
		return c, nil
	}
	if f.Address != "" {
		if !common.IsHexAddress(f.Address) {
			return nil, fmt.Errorf("无效的地址: %s", f.Address)
		}
		c.SetAddress(common.HexToAddress(f.Address))
	}
	return c, nil
}

// key 读取签名私钥，未配置时返回 nil。
func (f *globalFlags) key() (*ecdsa.PrivateKey, error) {
	raw := f.Key
	if f.KeyFile != "" {
		data, err := os.ReadFile(f.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("读取私钥文件失败: %w", err)
		}
		raw = string(data)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return parseKey(raw)
}

// sender 返回证明发送方，默认是签名私钥对应的地址。
func (f *globalFlags) sender(explicit string) (common.Address, error) {
	if explicit != "" {
		return parseAddress(explicit)
	}
	key, err := f.key()
	if err != nil {
		return common.Address{}, err
	}
	if key != nil {
		return crypto.PubkeyToAddress(key.PublicKey), nil
	}
	if f.Address != "" {
		return parseAddress(f.Address)
	}
	return common.Address{}, fmt.Errorf("需要 --sender、--key 或 --address 之一")
}

func (f *globalFlags) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), f.Timeout)
}

func parseKey(raw string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return nil, fmt.Errorf("无效的私钥: %w", err)
	}
	return key, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("无效的地址: %s", s)
	}
	return common.HexToAddress(s), nil
}

func parseHash(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if len(strings.TrimPrefix(s, "0x")) != 2*common.HashLength {
		return common.Hash{}, fmt.Errorf("无效的哈希: %s", s)
	}
	return common.HexToHash(s), nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
