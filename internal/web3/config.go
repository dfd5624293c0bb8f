package web3

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// TokenDefinitions 对应 configs/tokens.yaml 的结构。
type TokenDefinitions struct {
	Tokens map[string]TokenDefinition `yaml:"tokens"`
}

// TokenDefinition 描述一个可被票据注册表关联的代币。
type TokenDefinition struct {
	Type        TokenKind `yaml:"type"`
	Address     string    `yaml:"address"`
	RPCURL      string    `yaml:"rpc_url"`
	Description string    `yaml:"description"`
	// Balances 仅对 memory 类型生效，用于预置开发账户余额。
	Balances map[string]string `yaml:"balances"`
	// EngineIsMinter 为 true 时引擎可铸造该代币（memory 类型）。
	EngineIsMinter bool `yaml:"engine_is_minter"`
}

// LoadTokenDefinitions 解析代币定义文件，路径为空时返回空集合。
func LoadTokenDefinitions(path string) (TokenDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return TokenDefinitions{Tokens: map[string]TokenDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return TokenDefinitions{}, fmt.Errorf("读取代币配置失败: %w", err)
	}

	var defs TokenDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return TokenDefinitions{}, fmt.Errorf("解析代币配置失败: %w", err)
	}
	if defs.Tokens == nil {
		defs.Tokens = map[string]TokenDefinition{}
	}
	for name, def := range defs.Tokens {
		if !common.IsHexAddress(def.Address) {
			return TokenDefinitions{}, fmt.Errorf("代币 %s 的地址无效: %q", name, def.Address)
		}
		if def.Type == "" {
			def.Type = TokenKindMemory
			defs.Tokens[name] = def
		}
	}
	return defs, nil
}
