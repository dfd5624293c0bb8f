// Package joinsplit implements the balanced transfer validator: input notes
// are destroyed, output notes are created and the difference is settled
// against a public token amount.
//
// The validator carries no range proof. Note values are only checked to
// balance modulo the BN254 scalar field order, so a sender can pair a note
// of value v with one of value r-v and create value from nothing. It is a
// reference implementation for development and tests; aced refuses to bind
// it unless ace.allow_reference_validators is set.
package joinsplit

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenACE-Chain/internal/errors"
	"OpenACE-Chain/internal/proofs"
	"OpenACE-Chain/internal/validator"
	"OpenACE-Chain/internal/validator/kernel"
)

// Name 是在验证器目录中的名称。
const Name = "joinsplit"

const domain = "openace/joinsplit/v1"

// Validator 校验 Σin − Σout − publicValue = 0。
type Validator struct{}

// New 创建验证器。
func New() *Validator { return &Validator{} }

var _ validator.Validator = (*Validator)(nil)

// Verify 实现 validator.Validator。
func (v *Validator) Verify(ctx context.Context, proofData []byte, sender common.Address, crs validator.CRS) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := kernel.ParseCRS(crs)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidProof, err, "join split requires a valid crs")
	}
	env, err := kernel.UnpackEnvelope(proofData)
	if err != nil {
		return nil, err
	}
	if len(env.Inputs)+len(env.Outputs) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidProof, "join split without notes")
	}
	if err := kernel.DistinctNotes(env.Inputs, env.Outputs); err != nil {
		return nil, err
	}
	if len(env.Signatures) != len(env.Inputs) {
		return nil, xerrors.New(xerrors.CodeInvalidProof,
			fmt.Sprintf("expected %d spend signatures, got %d", len(env.Inputs), len(env.Signatures)))
	}

	digest := statement(crs, sender, env.Inputs, env.Outputs, env.PublicOwner, env.PublicValue).Digest()
	for i, note := range env.Inputs {
		if err := kernel.VerifySpend(env.Signatures[i], digest, note, sender); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
	}
	excess := kernel.Excess(env.Inputs, env.Outputs, env.PublicValue)
	if err := kernel.VerifyExcess(h, excess, env.Commitment, env.Response, digest); err != nil {
		return nil, err
	}
	return proofs.EncodeProofOutputs(proofs.ProofOutputs{env.Output()})
}

func statement(crs validator.CRS, sender common.Address, in, out []proofs.Note, owner common.Address, pv *big.Int) kernel.Statement {
	return kernel.Statement{
		Domain:      domain,
		CRS:         crs,
		Sender:      sender,
		Inputs:      in,
		Outputs:     out,
		PublicOwner: owner,
		PublicValue: pv,
	}
}

// Request 描述构造一次 join split 所需的私密输入。
type Request struct {
	CRS         validator.CRS
	Sender      common.Address
	Inputs      []kernel.Secret
	Outputs     []kernel.Secret
	PublicOwner common.Address
	// PublicValue 为负表示存入代币，为正表示提取。
	PublicValue *big.Int
}

// Proof 是证明方的产物。
type Proof struct {
	Data   []byte
	Output proofs.ProofOutput
}

// Prove 构造证明数据，输入票据使用各自的私钥签名。
func Prove(req Request) (*Proof, error) {
	h, err := kernel.ParseCRS(req.CRS)
	if err != nil {
		return nil, err
	}
	pv := new(big.Int)
	if req.PublicValue != nil {
		pv.Set(req.PublicValue)
	}
	if kernel.ValueExcess(req.Inputs, req.Outputs).Cmp(pv) != 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "inputs minus outputs must equal the public value")
	}
	inputs, err := kernel.Notes(h, req.Inputs)
	if err != nil {
		return nil, err
	}
	outputs, err := kernel.Notes(h, req.Outputs)
	if err != nil {
		return nil, err
	}

	digest := statement(req.CRS, req.Sender, inputs, outputs, req.PublicOwner, pv).Digest()
	sigs := make([][]byte, len(inputs))
	for i, secret := range req.Inputs {
		sig, err := kernel.SignSpend(secret.Key, digest, inputs[i].NoteHash, req.Sender)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		sigs[i] = sig
	}
	r, s, err := kernel.ProveExcess(h, kernel.BlindingExcess(req.Inputs, req.Outputs), digest)
	if err != nil {
		return nil, err
	}
	env := kernel.Envelope{
		Inputs:      inputs,
		Outputs:     outputs,
		PublicOwner: req.PublicOwner,
		PublicValue: pv,
		Commitment:  r,
		Response:    s,
		Signatures:  sigs,
	}
	data, err := env.Pack()
	if err != nil {
		return nil, err
	}
	return &Proof{Data: data, Output: env.Output()}, nil
}
