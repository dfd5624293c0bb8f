package proofs

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Category 表示证明类型所属的大类，决定其对票据注册表的影响方式。
type Category uint8

const (
	CategoryBalanced Category = 1
	CategoryMint     Category = 2
	CategoryBurn     Category = 3
	CategoryUtility  Category = 4
)

func (c Category) String() string {
	switch c {
	case CategoryBalanced:
		return "balanced"
	case CategoryMint:
		return "mint"
	case CategoryBurn:
		return "burn"
	case CategoryUtility:
		return "utility"
	default:
		return "category(" + strconv.Itoa(int(c)) + ")"
	}
}

// ProofType 按 epoch<<16 | category<<8 | id 的方式编码证明类型。
type ProofType uint32

const (
	JoinSplitProof ProofType = 65793
	MintProof      ProofType = 66049
	BurnProof      ProofType = 66305
)

// NewProofType 组装证明类型编号。
func NewProofType(epoch uint8, category Category, id uint8) ProofType {
	return ProofType(uint32(epoch)<<16 | uint32(category)<<8 | uint32(id))
}

// Epoch 返回证明所属的版本号。
func (p ProofType) Epoch() uint8 { return uint8(p >> 16) }

// Category 返回证明大类。
func (p ProofType) Category() Category { return Category(p >> 8) }

// ID 返回大类内的编号。
func (p ProofType) ID() uint8 { return uint8(p) }

func (p ProofType) String() string {
	return strconv.FormatUint(uint64(p), 10)
}

// ParseProofType 解析十进制或 0x 前缀的十六进制证明类型。
func ParseProofType(s string) (ProofType, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid proof type %q: %w", s, err)
	}
	if v == 0 {
		return 0, fmt.Errorf("proof type must be positive")
	}
	return ProofType(v), nil
}

// Note 是一笔隐藏金额的承诺。gamma 与 sigma 均为 BN254 G1 上的点。
type Note struct {
	Owner    common.Address
	NoteHash common.Hash
	Gamma    bn254.G1Affine
	Sigma    bn254.G1Affine
}

// NewNote 根据承诺点构造票据并计算其哈希。
func NewNote(owner common.Address, gamma, sigma bn254.G1Affine) Note {
	return Note{
		Owner:    owner,
		NoteHash: ComputeNoteHash(&gamma, &sigma),
		Gamma:    gamma,
		Sigma:    sigma,
	}
}

// ComputeNoteHash 计算 keccak256(gamma.X ‖ gamma.Y ‖ sigma.X ‖ sigma.Y)。
func ComputeNoteHash(gamma, sigma *bn254.G1Affine) common.Hash {
	gx, gy := gamma.X.Bytes(), gamma.Y.Bytes()
	sx, sy := sigma.X.Bytes(), sigma.Y.Bytes()
	return crypto.Keccak256Hash(gx[:], gy[:], sx[:], sy[:])
}

// ZeroNoteHash 是金额与盲化因子均为零的票据哈希，用作供应量承诺的初始值。
var ZeroNoteHash = ComputeNoteHash(&bn254.G1Affine{}, &bn254.G1Affine{})

// HashConsistent 判断携带的哈希是否与承诺点一致。
func (n Note) HashConsistent() bool {
	return n.NoteHash == ComputeNoteHash(&n.Gamma, &n.Sigma)
}

// Equal 比较两张票据的全部字段。
func (n Note) Equal(other Note) bool {
	return n.Owner == other.Owner &&
		n.NoteHash == other.NoteHash &&
		n.Gamma.Equal(&other.Gamma) &&
		n.Sigma.Equal(&other.Sigma)
}

// ProofOutput 描述一次证明对票据与公开代币的影响。
// PublicValue 小于零表示注册表收取代币，大于零表示向 PublicOwner 支付。
type ProofOutput struct {
	InputNotes  []Note
	OutputNotes []Note
	PublicOwner common.Address
	PublicValue *big.Int
}

// ProofOutputs 是一次证明产生的全部输出。
type ProofOutputs []ProofOutput

// Value 返回公开金额，nil 视为零。
func (o ProofOutput) Value() *big.Int {
	if o.PublicValue == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(o.PublicValue)
}

// Equal 逐字段比较，nil 的 PublicValue 等同于零。
func (o ProofOutput) Equal(other ProofOutput) bool {
	if o.PublicOwner != other.PublicOwner || o.Value().Cmp(other.Value()) != 0 {
		return false
	}
	return notesEqual(o.InputNotes, other.InputNotes) && notesEqual(o.OutputNotes, other.OutputNotes)
}

// Equal 比较两组输出。
func (p ProofOutputs) Equal(other ProofOutputs) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if !p[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

func notesEqual(a, b []Note) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
