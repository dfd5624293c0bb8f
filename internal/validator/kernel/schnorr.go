package kernel

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "OpenACE-Chain/internal/errors"
	"OpenACE-Chain/internal/proofs"
	"OpenACE-Chain/internal/validator"
)

// Statement 是被 Fiat-Shamir 挑战绑定的公开内容。
type Statement struct {
	Domain      string
	CRS         validator.CRS
	Sender      common.Address
	Inputs      []proofs.Note
	Outputs     []proofs.Note
	PublicOwner common.Address
	PublicValue *big.Int
}

// Digest 对声明做哈希，证明与输入票据签名都基于它。
func (s Statement) Digest() common.Hash {
	pv := new(big.Int)
	if s.PublicValue != nil {
		pv.Set(s.PublicValue)
	}
	return crypto.Keccak256Hash(
		[]byte(s.Domain),
		crypto.Keccak256(s.CRS),
		common.LeftPadBytes(s.Sender.Bytes(), 32),
		proofs.EncodeNotes(s.Inputs),
		proofs.EncodeNotes(s.Outputs),
		common.LeftPadBytes(s.PublicOwner.Bytes(), 32),
		math.U256Bytes(pv),
	)
}

func challenge(digest common.Hash, commitment *bn254.G1Affine) *big.Int {
	c := new(big.Int).SetBytes(crypto.Keccak256(digest.Bytes(), proofs.EncodePoint(commitment)))
	return c.Mod(c, Order())
}

// ProveExcess 证明 excess = e·H 且证明方知道 e。
func ProveExcess(h bn254.G1Affine, e *big.Int, digest common.Hash) (bn254.G1Affine, *big.Int, error) {
	k, err := RandomScalar()
	if err != nil {
		return bn254.G1Affine{}, nil, err
	}
	var r bn254.G1Affine
	r.ScalarMultiplication(&h, k)
	c := challenge(digest, &r)
	s := new(big.Int).Mul(c, e)
	s.Add(s, k)
	s.Mod(s, Order())
	return r, s, nil
}

// VerifyExcess 检查 s·H == R + c·excess。
func VerifyExcess(h, excess, r bn254.G1Affine, s *big.Int, digest common.Hash) error {
	if s == nil || s.Sign() < 0 || s.Cmp(Order()) >= 0 {
		return xerrors.New(xerrors.CodeInvalidProof, "kernel response out of range")
	}
	c := challenge(digest, &r)
	var lhs, cE bn254.G1Affine
	lhs.ScalarMultiplication(&h, s)
	cE.ScalarMultiplication(&excess, c)
	rhs := sum([]bn254.G1Affine{r, cE}, nil)
	if !lhs.Equal(&rhs) {
		return xerrors.New(xerrors.CodeInvalidProof, "balance kernel does not verify")
	}
	return nil
}

func spendMessage(digest, noteHash common.Hash, sender common.Address) []byte {
	return crypto.Keccak256(digest.Bytes(), noteHash.Bytes(), common.LeftPadBytes(sender.Bytes(), 32))
}

// SignSpend 由票据所有者签署对 noteHash 的花费授权。
func SignSpend(key *ecdsa.PrivateKey, digest, noteHash common.Hash, sender common.Address) ([]byte, error) {
	if key == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "input note requires its owner key")
	}
	return crypto.Sign(spendMessage(digest, noteHash, sender), key)
}

// VerifySpend 校验签名恢复出的地址与票据所有者一致。
func VerifySpend(sig []byte, digest common.Hash, note proofs.Note, sender common.Address) error {
	if len(sig) != crypto.SignatureLength {
		return xerrors.New(xerrors.CodeInvalidProof, "malformed spend signature")
	}
	pub, err := crypto.SigToPub(spendMessage(digest, note.NoteHash, sender), sig)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidProof, err, "unrecoverable spend signature")
	}
	if crypto.PubkeyToAddress(*pub) != note.Owner {
		return xerrors.New(xerrors.CodeInvalidProof, "spend signature does not match note owner",
			xerrors.WithMetadata("note", note.NoteHash.Hex()))
	}
	return nil
}
