// Package kernel contains the Pedersen commitment and balance-kernel
// primitives shared by the built-in validators. A note commits to
// value·G + blinding·H, where H is taken from the common reference string,
// and a proof shows knowledge of the blinding excess of a balanced
// transfer with a Schnorr signature over H.
package kernel

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "OpenACE-Chain/internal/errors"
	"OpenACE-Chain/internal/proofs"
	"OpenACE-Chain/internal/validator"
)

var (
	crsDST   = []byte("OPENACE-V01-CS01-with-BN254G1_XMD:SHA-256_SVDW_RO_CRS_")
	ownerDST = []byte("OPENACE-V01-CS01-with-BN254G1_XMD:SHA-256_SVDW_RO_OWNER_")
)

// Order 返回标量域的阶。
func Order() *big.Int {
	return fr.Modulus()
}

// Generator 返回 G1 的标准生成元 G。
func Generator() bn254.G1Affine {
	_, _, g, _ := bn254.Generators()
	return g
}

// DefaultCRS 返回由固定种子哈希得到的生成元 H 的编码。
func DefaultCRS() validator.CRS {
	h, err := bn254.HashToG1([]byte("pedersen-h"), crsDST)
	if err != nil {
		panic(fmt.Sprintf("derive default crs: %v", err))
	}
	return validator.CRS(proofs.EncodePoint(&h))
}

// ParseCRS 解析 CRS 中的生成元 H。
func ParseCRS(crs validator.CRS) (bn254.G1Affine, error) {
	h, err := proofs.DecodePoint(crs)
	if err != nil {
		return bn254.G1Affine{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid common reference string")
	}
	if h.IsInfinity() {
		return bn254.G1Affine{}, xerrors.New(xerrors.CodeInvalidArgument, "common reference string is the identity")
	}
	return h, nil
}

// OwnerPoint 把地址映射到 G1 上，作为 sigma 的底。
func OwnerPoint(owner common.Address) (bn254.G1Affine, error) {
	return bn254.HashToG1(owner.Bytes(), ownerDST)
}

// RandomScalar 返回 [1, r) 内的随机数。
func RandomScalar() (*big.Int, error) {
	for {
		k, err := rand.Int(rand.Reader, Order())
		if err != nil {
			return nil, err
		}
		if k.Sign() > 0 {
			return k, nil
		}
	}
}

// Secret 是票据的开口，只在证明方本地出现。
type Secret struct {
	Owner    common.Address
	Value    *big.Int
	Blinding *big.Int
	// Key 仅在票据作为输入时需要，用于签署花费授权。
	Key *ecdsa.PrivateKey
}

// NewSecret 为 owner 生成一个随机盲化因子的开口。
func NewSecret(owner common.Address, value int64) (Secret, error) {
	blinding, err := RandomScalar()
	if err != nil {
		return Secret{}, err
	}
	return Secret{Owner: owner, Value: big.NewInt(value), Blinding: blinding}, nil
}

// NewOwnedSecret 用私钥对应的地址作为 owner。
func NewOwnedSecret(key *ecdsa.PrivateKey, value int64) (Secret, error) {
	s, err := NewSecret(crypto.PubkeyToAddress(key.PublicKey), value)
	if err != nil {
		return Secret{}, err
	}
	s.Key = key
	return s, nil
}

// ZeroSecret 是金额与盲化因子都为零的开口，其票据哈希等于 proofs.ZeroNoteHash。
func ZeroSecret(owner common.Address) Secret {
	return Secret{Owner: owner, Value: new(big.Int), Blinding: new(big.Int)}
}

// Note 计算开口对应的票据。
func (s Secret) Note(h bn254.G1Affine) (proofs.Note, error) {
	if s.Value == nil || s.Value.Sign() < 0 {
		return proofs.Note{}, xerrors.New(xerrors.CodeInvalidArgument, "note value must be non-negative")
	}
	blinding := s.blinding()
	g := Generator()
	var vG, bH bn254.G1Affine
	vG.ScalarMultiplication(&g, new(big.Int).Mod(s.Value, Order()))
	bH.ScalarMultiplication(&h, blinding)
	gamma := sum([]bn254.G1Affine{vG, bH}, nil)

	j, err := OwnerPoint(s.Owner)
	if err != nil {
		return proofs.Note{}, err
	}
	var sigma bn254.G1Affine
	sigma.ScalarMultiplication(&j, blinding)
	return proofs.NewNote(s.Owner, gamma, sigma), nil
}

func (s Secret) blinding() *big.Int {
	if s.Blinding == nil {
		return new(big.Int)
	}
	return new(big.Int).Mod(s.Blinding, Order())
}

// sum 计算 Σpos − Σneg。
func sum(pos, neg []bn254.G1Affine) bn254.G1Affine {
	var acc bn254.G1Jac
	for i := range pos {
		acc.AddMixed(&pos[i])
	}
	for i := range neg {
		var n bn254.G1Affine
		n.Neg(&neg[i])
		acc.AddMixed(&n)
	}
	var out bn254.G1Affine
	out.FromJacobian(&acc)
	return out
}

func gammas(notes []proofs.Note) []bn254.G1Affine {
	points := make([]bn254.G1Affine, len(notes))
	for i := range notes {
		points[i] = notes[i].Gamma
	}
	return points
}

// Excess 计算 Σpositive.gamma − Σnegative.gamma − publicValue·G。
// 余额平衡时结果只剩 H 分量。
func Excess(positive, negative []proofs.Note, publicValue *big.Int) bn254.G1Affine {
	neg := gammas(negative)
	if publicValue != nil && publicValue.Sign() != 0 {
		g := Generator()
		var pv bn254.G1Affine
		pv.ScalarMultiplication(&g, new(big.Int).Mod(publicValue, Order()))
		neg = append(neg, pv)
	}
	return sum(gammas(positive), neg)
}

// BlindingExcess 计算 Σpositive.blinding − Σnegative.blinding mod r。
func BlindingExcess(positive, negative []Secret) *big.Int {
	e := new(big.Int)
	for _, s := range positive {
		e.Add(e, s.blinding())
	}
	for _, s := range negative {
		e.Sub(e, s.blinding())
	}
	return e.Mod(e, Order())
}

// ValueExcess 计算 Σpositive.value − Σnegative.value。
func ValueExcess(positive, negative []Secret) *big.Int {
	v := new(big.Int)
	for _, s := range positive {
		v.Add(v, s.Value)
	}
	for _, s := range negative {
		v.Sub(v, s.Value)
	}
	return v
}

// Notes 批量计算票据。
func Notes(h bn254.G1Affine, secrets []Secret) ([]proofs.Note, error) {
	notes := make([]proofs.Note, len(secrets))
	for i, s := range secrets {
		n, err := s.Note(h)
		if err != nil {
			return nil, fmt.Errorf("note %d: %w", i, err)
		}
		notes[i] = n
	}
	return notes, nil
}
