package validator

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	xerrors "OpenACE-Chain/internal/errors"
	"OpenACE-Chain/internal/proofs"
)

// Factory 构造一个验证器实例。
type Factory func() Validator

// Catalog 按名称登记可用的验证器实现。
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog 创建空目录。
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register 登记一个验证器实现，同名覆盖。
func (c *Catalog) Register(name string, factory Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[strings.ToLower(strings.TrimSpace(name))] = factory
}

// Build 根据名称创建验证器。
func (c *Catalog) Build(name string) (Validator, error) {
	c.mu.RLock()
	factory, ok := c.factories[strings.ToLower(strings.TrimSpace(name))]
	c.mu.RUnlock()
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown validator %q", name))
	}
	return factory(), nil
}

// Names 返回已登记的名称。
func (c *Catalog) Names() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Definitions 对应 configs/validators.yaml 的结构。
type Definitions struct {
	Validators []Definition `yaml:"validators"`
}

// Definition 描述启动时需要绑定的一条验证器。
type Definition struct {
	ProofType proofs.ProofType `yaml:"proof_type"`
	Name      string           `yaml:"name"`
}

// LoadDefinitions 解析验证器绑定文件，路径为空时返回空列表。
func LoadDefinitions(path string) (Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return Definitions{}, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("读取验证器配置失败: %w", err)
	}
	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Definitions{}, fmt.Errorf("解析验证器配置失败: %w", err)
	}
	for i, def := range defs.Validators {
		if def.ProofType == 0 || strings.TrimSpace(def.Name) == "" {
			return Definitions{}, fmt.Errorf("验证器配置第 %d 项缺少 proof_type 或 name", i+1)
		}
	}
	return defs, nil
}
