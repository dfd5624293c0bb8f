package adjustsupply

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenACE-Chain/internal/errors"
	"OpenACE-Chain/internal/proofs"
	"OpenACE-Chain/internal/validator"
	"OpenACE-Chain/internal/validator/kernel"
)

// MintRequest 描述一次铸造。OldSupply 为当前已铸造总量的开口，
// 首次铸造时使用 kernel.ZeroSecret。
type MintRequest struct {
	CRS       validator.CRS
	Sender    common.Address
	OldSupply kernel.Secret
	NewSupply kernel.Secret
	Minted    []kernel.Secret
}

// BurnRequest 描述一次销毁，Burned 中的开口必须带有所有者私钥。
type BurnRequest struct {
	CRS       validator.CRS
	Sender    common.Address
	OldBurned kernel.Secret
	NewBurned kernel.Secret
	Burned    []kernel.Secret
}

// Proof 是证明方的产物。
type Proof struct {
	Data   []byte
	Output proofs.ProofOutput
}

// ProveMint 构造铸造证明。
func ProveMint(req MintRequest) (*Proof, error) {
	negative := append([]kernel.Secret{req.OldSupply}, req.Minted...)
	if kernel.ValueExcess([]kernel.Secret{req.NewSupply}, negative).Sign() != 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "new supply must equal old supply plus minted value")
	}
	inputs := []kernel.Secret{req.OldSupply}
	outputs := append([]kernel.Secret{req.NewSupply}, req.Minted...)
	return prove(mintDomain, req.CRS, req.Sender, inputs, outputs, nil, []kernel.Secret{req.NewSupply}, negative)
}

// ProveBurn 构造销毁证明。
func ProveBurn(req BurnRequest) (*Proof, error) {
	negative := append([]kernel.Secret{req.OldBurned}, req.Burned...)
	if kernel.ValueExcess([]kernel.Secret{req.NewBurned}, negative).Sign() != 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "new burned total must equal old total plus burned value")
	}
	inputs := negative
	outputs := []kernel.Secret{req.NewBurned}
	return prove(burnDomain, req.CRS, req.Sender, inputs, outputs, req.Burned, []kernel.Secret{req.NewBurned}, negative)
}

func prove(domain string, crs validator.CRS, sender common.Address, inSecrets, outSecrets, signers, positive, negative []kernel.Secret) (*Proof, error) {
	h, err := kernel.ParseCRS(crs)
	if err != nil {
		return nil, err
	}
	inputs, err := kernel.Notes(h, inSecrets)
	if err != nil {
		return nil, err
	}
	outputs, err := kernel.Notes(h, outSecrets)
	if err != nil {
		return nil, err
	}
	digest := statement(domain, crs, sender, inputs, outputs).Digest()

	// 签名者总是输入列表的尾部
	offset := len(inputs) - len(signers)
	sigs := make([][]byte, len(signers))
	for i, secret := range signers {
		sig, err := kernel.SignSpend(secret.Key, digest, inputs[offset+i].NoteHash, sender)
		if err != nil {
			return nil, fmt.Errorf("burned note %d: %w", i, err)
		}
		sigs[i] = sig
	}
	r, s, err := kernel.ProveExcess(h, kernel.BlindingExcess(positive, negative), digest)
	if err != nil {
		return nil, err
	}
	env := kernel.Envelope{
		Inputs:     inputs,
		Outputs:    outputs,
		Commitment: r,
		Response:   s,
		Signatures: sigs,
	}
	data, err := env.Pack()
	if err != nil {
		return nil, err
	}
	return &Proof{Data: data, Output: env.Output()}, nil
}
