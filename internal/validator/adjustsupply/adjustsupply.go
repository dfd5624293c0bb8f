// Package adjustsupply implements the mint and burn validators used by
// registries that may change their confidential supply. Both carry the
// running supply commitment as the first note: mint replaces the total
// minted commitment and creates notes, burn replaces the total burned
// commitment and destroys notes.
//
// Like joinsplit, these validators have no range proof and balance only
// modulo the BN254 scalar field order. They are for development and tests.
package adjustsupply

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenACE-Chain/internal/errors"
	"OpenACE-Chain/internal/proofs"
	"OpenACE-Chain/internal/validator"
	"OpenACE-Chain/internal/validator/kernel"
)

const (
	MintName = "mint"
	BurnName = "burn"

	mintDomain = "openace/mint/v1"
	burnDomain = "openace/burn/v1"
)

// Mint 校验 new − old − Σminted = 0。
// 输入为 [oldSupply]，输出为 [newSupply, minted...]。
type Mint struct{}

// Burn 校验 new − old − Σburned = 0。
// 输入为 [oldBurned, burned...]，输出为 [newBurned]。
type Burn struct{}

// NewMint 创建铸造验证器。
func NewMint() *Mint { return &Mint{} }

// NewBurn 创建销毁验证器。
func NewBurn() *Burn { return &Burn{} }

var (
	_ validator.Validator = (*Mint)(nil)
	_ validator.Validator = (*Burn)(nil)
)

// Verify 实现 validator.Validator。
func (m *Mint) Verify(ctx context.Context, proofData []byte, sender common.Address, crs validator.CRS) ([]byte, error) {
	env, digest, err := open(ctx, mintDomain, proofData, sender, crs)
	if err != nil {
		return nil, err
	}
	if len(env.Inputs) != 1 || len(env.Outputs) < 2 {
		return nil, xerrors.New(xerrors.CodeInvalidProof, "mint expects one supply input and at least one minted note")
	}
	if len(env.Signatures) != 0 {
		return nil, xerrors.New(xerrors.CodeInvalidProof, "mint carries no spend signatures")
	}
	negative := append([]proofs.Note{env.Inputs[0]}, env.Outputs[1:]...)
	return finish(crs, env, digest, env.Outputs[:1], negative)
}

// Verify 实现 validator.Validator。
func (b *Burn) Verify(ctx context.Context, proofData []byte, sender common.Address, crs validator.CRS) ([]byte, error) {
	env, digest, err := open(ctx, burnDomain, proofData, sender, crs)
	if err != nil {
		return nil, err
	}
	if len(env.Inputs) < 2 || len(env.Outputs) != 1 {
		return nil, xerrors.New(xerrors.CodeInvalidProof, "burn expects a supply input, burned notes and one supply output")
	}
	burned := env.Inputs[1:]
	if len(env.Signatures) != len(burned) {
		return nil, xerrors.New(xerrors.CodeInvalidProof,
			fmt.Sprintf("expected %d spend signatures, got %d", len(burned), len(env.Signatures)))
	}
	for i, note := range burned {
		if err := kernel.VerifySpend(env.Signatures[i], digest, note, sender); err != nil {
			return nil, fmt.Errorf("burned note %d: %w", i, err)
		}
	}
	return finish(crs, env, digest, env.Outputs, env.Inputs)
}

func open(ctx context.Context, domain string, proofData []byte, sender common.Address, crs validator.CRS) (kernel.Envelope, common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return kernel.Envelope{}, common.Hash{}, err
	}
	if _, err := kernel.ParseCRS(crs); err != nil {
		return kernel.Envelope{}, common.Hash{}, xerrors.Wrap(xerrors.CodeInvalidProof, err, "supply adjustment requires a valid crs")
	}
	env, err := kernel.UnpackEnvelope(proofData)
	if err != nil {
		return kernel.Envelope{}, common.Hash{}, err
	}
	if env.PublicValue.Sign() != 0 {
		return kernel.Envelope{}, common.Hash{}, xerrors.New(xerrors.CodeInvalidProof, "supply adjustment cannot move public value")
	}
	if err := kernel.DistinctNotes(env.Inputs, env.Outputs); err != nil {
		return kernel.Envelope{}, common.Hash{}, err
	}
	digest := statement(domain, crs, sender, env.Inputs, env.Outputs).Digest()
	return env, digest, nil
}

func finish(crs validator.CRS, env kernel.Envelope, digest common.Hash, positive, negative []proofs.Note) ([]byte, error) {
	h, _ := kernel.ParseCRS(crs)
	excess := kernel.Excess(positive, negative, nil)
	if err := kernel.VerifyExcess(h, excess, env.Commitment, env.Response, digest); err != nil {
		return nil, err
	}
	return proofs.EncodeProofOutputs(proofs.ProofOutputs{env.Output()})
}

func statement(domain string, crs validator.CRS, sender common.Address, in, out []proofs.Note) kernel.Statement {
	return kernel.Statement{Domain: domain, CRS: crs, Sender: sender, Inputs: in, Outputs: out}
}
