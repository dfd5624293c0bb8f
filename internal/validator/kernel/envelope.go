package kernel

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenACE-Chain/internal/errors"
	"OpenACE-Chain/internal/proofs"
)

// Envelope 是内置验证器的证明数据，使用 ABI 编码:
// (bytes inputNotes, bytes outputNotes, address publicOwner, int256 publicValue,
// bytes kernelCommitment, uint256 kernelResponse, bytes[] spendSignatures)。
type Envelope struct {
	Inputs      []proofs.Note
	Outputs     []proofs.Note
	PublicOwner common.Address
	PublicValue *big.Int
	Commitment  bn254.G1Affine
	Response    *big.Int
	Signatures  [][]byte
}

var envelopeArgs = mustArguments("bytes", "bytes", "address", "int256", "bytes", "uint256", "bytes[]")

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(fmt.Sprintf("abi type %s: %v", t, err))
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}

// Pack 编码证明数据。
func (e Envelope) Pack() ([]byte, error) {
	pv := new(big.Int)
	if e.PublicValue != nil {
		pv.Set(e.PublicValue)
	}
	response := new(big.Int)
	if e.Response != nil {
		response.Set(e.Response)
	}
	sigs := e.Signatures
	if sigs == nil {
		sigs = [][]byte{}
	}
	data, err := envelopeArgs.Pack(
		proofs.EncodeNotes(e.Inputs),
		proofs.EncodeNotes(e.Outputs),
		e.PublicOwner,
		pv,
		proofs.EncodePoint(&e.Commitment),
		response,
		sigs,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "pack proof data")
	}
	return data, nil
}

// UnpackEnvelope 解析证明数据，任何格式问题都视为无效证明。
func UnpackEnvelope(data []byte) (Envelope, error) {
	values, err := envelopeArgs.Unpack(data)
	if err != nil {
		return Envelope{}, xerrors.Wrap(xerrors.CodeInvalidProof, err, "malformed proof data")
	}
	if len(values) != len(envelopeArgs) {
		return Envelope{}, xerrors.New(xerrors.CodeInvalidProof, "malformed proof data")
	}
	inBytes, ok1 := values[0].([]byte)
	outBytes, ok2 := values[1].([]byte)
	owner, ok3 := values[2].(common.Address)
	pv, ok4 := values[3].(*big.Int)
	commitment, ok5 := values[4].([]byte)
	response, ok6 := values[5].(*big.Int)
	sigs, ok7 := values[6].([][]byte)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
		return Envelope{}, xerrors.New(xerrors.CodeInvalidProof, "unexpected proof data layout")
	}

	inputs, err := proofs.DecodeNotes(inBytes)
	if err != nil {
		return Envelope{}, xerrors.Wrap(xerrors.CodeInvalidProof, err, "input notes")
	}
	outputs, err := proofs.DecodeNotes(outBytes)
	if err != nil {
		return Envelope{}, xerrors.Wrap(xerrors.CodeInvalidProof, err, "output notes")
	}
	r, err := proofs.DecodePoint(commitment)
	if err != nil {
		return Envelope{}, xerrors.Wrap(xerrors.CodeInvalidProof, err, "kernel commitment")
	}
	for _, n := range append(append([]proofs.Note(nil), inputs...), outputs...) {
		if !n.HashConsistent() {
			return Envelope{}, xerrors.New(xerrors.CodeInvalidProof, "note hash does not match commitment",
				xerrors.WithMetadata("note", n.NoteHash.Hex()))
		}
	}
	return Envelope{
		Inputs:      inputs,
		Outputs:     outputs,
		PublicOwner: owner,
		PublicValue: pv,
		Commitment:  r,
		Response:    response,
		Signatures:  sigs,
	}, nil
}

// DistinctNotes 拒绝在同一证明中重复出现的票据哈希。
func DistinctNotes(groups ...[]proofs.Note) error {
	seen := make(map[common.Hash]struct{})
	for _, group := range groups {
		for _, n := range group {
			if _, dup := seen[n.NoteHash]; dup {
				return xerrors.New(xerrors.CodeInvalidProof, "note appears twice in proof",
					xerrors.WithMetadata("note", n.NoteHash.Hex()))
			}
			seen[n.NoteHash] = struct{}{}
		}
	}
	return nil
}

// Output 把信封转换成单条 ProofOutput。
func (e Envelope) Output() proofs.ProofOutput {
	pv := new(big.Int)
	if e.PublicValue != nil {
		pv.Set(e.PublicValue)
	}
	return proofs.ProofOutput{
		InputNotes:  e.Inputs,
		OutputNotes: e.Outputs,
		PublicOwner: e.PublicOwner,
		PublicValue: pv,
	}
}
