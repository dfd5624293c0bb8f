package proofs

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "OpenACE-Chain/internal/errors"
)

// 所有结构均以 32 字节大端字为单位，偏移量相对所在结构的起始位置:
//
//	blob   := len | count | offset[count] | record...
//	record := len | offIn | offOut | publicOwner | publicValue | notes | notes
//	notes  := len | count | offset[count] | note...
//	note   := len(0xc0) | owner | noteHash | gamma.X | gamma.Y | sigma.X | sigma.Y
//
// len 字记录其后的字节数。publicValue 使用 int256 补码。
const (
	wordSize       = 32
	noteBodySize   = 6 * wordSize
	noteSize       = wordSize + noteBodySize
	recordHeadSize = 5 * wordSize
)

var (
	minPublicValue = new(big.Int).Neg(math.BigPow(2, 255))
	maxPublicValue = new(big.Int).Sub(math.BigPow(2, 255), big.NewInt(1))
)

func malformed(format string, args ...any) error {
	return xerrors.New(xerrors.CodeInvalidArgument, "malformed proof output: "+fmt.Sprintf(format, args...))
}

// EncodeProofOutputs 将多条输出编码为一个 blob。
func EncodeProofOutputs(outputs ProofOutputs) ([]byte, error) {
	records := make([][]byte, len(outputs))
	for i, output := range outputs {
		record, err := EncodeProofOutput(output)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		records[i] = record
	}
	return encodeTable(records), nil
}

// EncodeProofOutput 编码单条带长度前缀的输出记录。
func EncodeProofOutput(output ProofOutput) ([]byte, error) {
	value := output.Value()
	if value.Cmp(minPublicValue) < 0 || value.Cmp(maxPublicValue) > 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "public value does not fit in int256")
	}
	inputs := EncodeNotes(output.InputNotes)
	outputs := EncodeNotes(output.OutputNotes)

	total := recordHeadSize + len(inputs) + len(outputs)
	buf := make([]byte, 0, total)
	buf = appendUint(buf, uint64(total-wordSize))
	buf = appendUint(buf, recordHeadSize)
	buf = appendUint(buf, uint64(recordHeadSize+len(inputs)))
	buf = append(buf, common.LeftPadBytes(output.PublicOwner.Bytes(), wordSize)...)
	buf = append(buf, math.U256Bytes(value)...)
	buf = append(buf, inputs...)
	buf = append(buf, outputs...)
	return buf, nil
}

// EncodeNotes 编码票据列表。
func EncodeNotes(notes []Note) []byte {
	encoded := make([][]byte, len(notes))
	for i := range notes {
		encoded[i] = encodeNote(&notes[i])
	}
	return encodeTable(encoded)
}

func encodeNote(n *Note) []byte {
	buf := make([]byte, 0, noteSize)
	buf = appendUint(buf, noteBodySize)
	buf = append(buf, common.LeftPadBytes(n.Owner.Bytes(), wordSize)...)
	buf = append(buf, n.NoteHash.Bytes()...)
	buf = appendPoint(buf, &n.Gamma)
	buf = appendPoint(buf, &n.Sigma)
	return buf
}

// encodeTable 写出 len | count | offsets | items。
func encodeTable(items [][]byte) []byte {
	head := 2*wordSize + len(items)*wordSize
	total := head
	for _, item := range items {
		total += len(item)
	}
	buf := make([]byte, 0, total)
	buf = appendUint(buf, uint64(total-wordSize))
	buf = appendUint(buf, uint64(len(items)))
	offset := head
	for _, item := range items {
		buf = appendUint(buf, uint64(offset))
		offset += len(item)
	}
	for _, item := range items {
		buf = append(buf, item...)
	}
	return buf
}

// DecodeProofOutputs 是 EncodeProofOutputs 的逆运算。
func DecodeProofOutputs(blob []byte) (ProofOutputs, error) {
	records, err := tableItems(blob)
	if err != nil {
		return nil, err
	}
	outputs := make(ProofOutputs, 0, len(records))
	for i, record := range records {
		output, err := DecodeProofOutput(record)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		outputs = append(outputs, output)
	}
	return outputs, nil
}

// ProofOutputAt 返回第 index 条输出记录的原始字节（含长度前缀）。
func ProofOutputAt(blob []byte, index int) ([]byte, error) {
	records, err := tableItems(blob)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(records) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("proof output index %d out of range (count %d)", index, len(records)))
	}
	return common.CopyBytes(records[index]), nil
}

// CountProofOutputs 返回 blob 中的输出条数。
func CountProofOutputs(blob []byte) (int, error) {
	records, err := tableItems(blob)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// signed256 把 32 字节补码字解释为 int256。
func signed256(word []byte) *big.Int {
	v := new(big.Int).SetBytes(word)
	if v.Bit(255) == 1 {
		v.Sub(v, math.BigPow(2, 256))
	}
	return v
}

// HashProofOutput 计算输出记录的证明哈希。
func HashProofOutput(record []byte) common.Hash {
	return crypto.Keccak256Hash(record)
}

// DecodeProofOutput 解码单条输出记录，要求记录恰好覆盖整个切片。
func DecodeProofOutput(record []byte) (ProofOutput, error) {
	body, err := framed(record)
	if err != nil {
		return ProofOutput{}, err
	}
	if len(body) != len(record) {
		return ProofOutput{}, malformed("%d trailing bytes after record", len(record)-len(body))
	}
	if len(body) < recordHeadSize {
		return ProofOutput{}, malformed("record shorter than header")
	}
	offIn, err := readOffset(body, wordSize)
	if err != nil {
		return ProofOutput{}, err
	}
	offOut, err := readOffset(body, 2*wordSize)
	if err != nil {
		return ProofOutput{}, err
	}
	if offIn < recordHeadSize || offOut < recordHeadSize {
		return ProofOutput{}, malformed("note list offsets overlap record header")
	}
	owner, err := readAddress(body, 3*wordSize)
	if err != nil {
		return ProofOutput{}, err
	}
	value := signed256(body[4*wordSize : 5*wordSize])

	inputs, err := decodeNotesAt(body, offIn)
	if err != nil {
		return ProofOutput{}, fmt.Errorf("input notes: %w", err)
	}
	outputs, err := decodeNotesAt(body, offOut)
	if err != nil {
		return ProofOutput{}, fmt.Errorf("output notes: %w", err)
	}
	return ProofOutput{
		InputNotes:  inputs,
		OutputNotes: outputs,
		PublicOwner: owner,
		PublicValue: value,
	}, nil
}

// DecodeNotes 解码 EncodeNotes 生成的票据列表。
func DecodeNotes(data []byte) ([]Note, error) {
	body, err := framed(data)
	if err != nil {
		return nil, err
	}
	if len(body) != len(data) {
		return nil, malformed("%d trailing bytes after note list", len(data)-len(body))
	}
	return decodeNotesAt(data, 0)
}

func decodeNotesAt(parent []byte, offset int) ([]Note, error) {
	if offset < 0 || offset > len(parent) {
		return nil, malformed("note list offset %d out of bounds", offset)
	}
	items, err := tableItems(parent[offset:])
	if err != nil {
		return nil, err
	}
	notes := make([]Note, 0, len(items))
	for i, item := range items {
		note, err := decodeNote(item)
		if err != nil {
			return nil, fmt.Errorf("note %d: %w", i, err)
		}
		notes = append(notes, note)
	}
	return notes, nil
}

func decodeNote(item []byte) (Note, error) {
	if len(item) != noteSize {
		return Note{}, malformed("note length %d, want %d", len(item)-wordSize, noteBodySize)
	}
	owner, err := readAddress(item, wordSize)
	if err != nil {
		return Note{}, err
	}
	gamma, err := readPoint(item, 3*wordSize)
	if err != nil {
		return Note{}, fmt.Errorf("gamma: %w", err)
	}
	sigma, err := readPoint(item, 5*wordSize)
	if err != nil {
		return Note{}, fmt.Errorf("sigma: %w", err)
	}
	return Note{
		Owner:    owner,
		NoteHash: common.BytesToHash(item[2*wordSize : 3*wordSize]),
		Gamma:    gamma,
		Sigma:    sigma,
	}, nil
}

// tableItems 校验 len | count | offsets 结构并返回各元素切片（含其长度前缀）。
func tableItems(data []byte) ([][]byte, error) {
	body, err := framed(data)
	if err != nil {
		return nil, err
	}
	count, err := readOffset(body, wordSize)
	if err != nil {
		return nil, err
	}
	if count > (len(body)-2*wordSize)/wordSize {
		return nil, malformed("count %d exceeds available data", count)
	}
	items := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		off, err := readOffset(body, 2*wordSize+i*wordSize)
		if err != nil {
			return nil, err
		}
		if off < 2*wordSize+count*wordSize || off > len(body) {
			return nil, malformed("item %d offset %d out of bounds", i, off)
		}
		item, err := framed(body[off:])
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// framed 读取开头的长度字，返回 len 字与其后 len 个字节组成的切片。
func framed(data []byte) ([]byte, error) {
	length, err := readOffset(data, 0)
	if err != nil {
		return nil, err
	}
	if length > len(data)-wordSize {
		return nil, malformed("declared length %d exceeds %d available bytes", length, len(data)-wordSize)
	}
	return data[:wordSize+length], nil
}

func readWord(data []byte, at int) ([]byte, error) {
	if at < 0 || at+wordSize > len(data) {
		return nil, malformed("word at %d out of bounds (size %d)", at, len(data))
	}
	return data[at : at+wordSize], nil
}

// readOffset 读取一个必须能放入 int 的无符号字。
func readOffset(data []byte, at int) (int, error) {
	word, err := readWord(data, at)
	if err != nil {
		return 0, err
	}
	for _, b := range word[:wordSize-4] {
		if b != 0 {
			return 0, malformed("integer at %d too large", at)
		}
	}
	v := new(big.Int).SetBytes(word).Uint64()
	return int(v), nil
}

func readAddress(data []byte, at int) (common.Address, error) {
	word, err := readWord(data, at)
	if err != nil {
		return common.Address{}, err
	}
	for _, b := range word[:wordSize-common.AddressLength] {
		if b != 0 {
			return common.Address{}, malformed("address at %d has dirty padding", at)
		}
	}
	return common.BytesToAddress(word[wordSize-common.AddressLength:]), nil
}

func readPoint(data []byte, at int) (bn254.G1Affine, error) {
	var p bn254.G1Affine
	if at < 0 || at+2*wordSize > len(data) {
		return p, malformed("point at %d out of bounds", at)
	}
	if err := p.X.SetBytesCanonical(data[at : at+wordSize]); err != nil {
		return p, malformed("point x not canonical: %v", err)
	}
	if err := p.Y.SetBytesCanonical(data[at+wordSize : at+2*wordSize]); err != nil {
		return p, malformed("point y not canonical: %v", err)
	}
	if !p.IsInfinity() && !p.IsOnCurve() {
		return p, malformed("point at %d not on curve", at)
	}
	return p, nil
}

func appendUint(buf []byte, v uint64) []byte {
	var word [wordSize]byte
	new(big.Int).SetUint64(v).FillBytes(word[:])
	return append(buf, word[:]...)
}

func appendPoint(buf []byte, p *bn254.G1Affine) []byte {
	x, y := p.X.Bytes(), p.Y.Bytes()
	buf = append(buf, x[:]...)
	return append(buf, y[:]...)
}

// EncodePoint 返回点的 64 字节未压缩编码，无穷远点为全零。
func EncodePoint(p *bn254.G1Affine) []byte {
	return appendPoint(make([]byte, 0, 2*wordSize), p)
}

// DecodePoint 解析 EncodePoint 的输出并校验点在曲线上。
func DecodePoint(data []byte) (bn254.G1Affine, error) {
	if len(data) != 2*wordSize {
		return bn254.G1Affine{}, malformed("point must be %d bytes, got %d", 2*wordSize, len(data))
	}
	return readPoint(data, 0)
}
