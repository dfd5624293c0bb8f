// Package builtin registers the validators shipped with the engine.
package builtin

import (
	"strings"

	"OpenACE-Chain/internal/proofs"
	"OpenACE-Chain/internal/validator"
	"OpenACE-Chain/internal/validator/adjustsupply"
	"OpenACE-Chain/internal/validator/joinsplit"
)

// Catalog 返回包含 joinsplit、mint 与 burn 的目录。
func Catalog() *validator.Catalog {
	c := validator.NewCatalog()
	c.Register(joinsplit.Name, func() validator.Validator { return joinsplit.New() })
	c.Register(adjustsupply.MintName, func() validator.Validator { return adjustsupply.NewMint() })
	c.Register(adjustsupply.BurnName, func() validator.Validator { return adjustsupply.NewBurn() })
	return c
}

// DefaultDefinitions 是未提供 validators.yaml 时使用的绑定。
func DefaultDefinitions() validator.Definitions {
	return validator.Definitions{Validators: []validator.Definition{
		{ProofType: proofs.JoinSplitProof, Name: joinsplit.Name},
		{ProofType: proofs.MintProof, Name: adjustsupply.MintName},
		{ProofType: proofs.BurnProof, Name: adjustsupply.BurnName},
	}}
}

// Reference 报告 name 是否为内置的参考验证器。参考验证器没有范围证明，
// 金额只在标量域阶意义下守恒，不能用于承载真实资产的部署。
func Reference(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case joinsplit.Name, adjustsupply.MintName, adjustsupply.BurnName:
		return true
	}
	return false
}
