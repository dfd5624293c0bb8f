package proofs

import (
	"bytes"
	stdErrors "errors"
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenACE-Chain/internal/errors"
)

func point(k int64) bn254.G1Affine {
	_, _, g, _ := bn254.Generators()
	var p bn254.G1Affine
	p.ScalarMultiplication(&g, big.NewInt(k))
	return p
}

func sampleNote(owner byte, k int64) Note {
	return NewNote(common.BytesToAddress([]byte{owner}), point(k), point(k+1000))
}

func TestProofOutputsRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		outputs ProofOutputs
	}{
		{name: "empty blob", outputs: ProofOutputs{}},
		{name: "no notes", outputs: ProofOutputs{{PublicValue: big.NewInt(0)}}},
		{
			name: "adjust supply shape",
			outputs: ProofOutputs{{
				InputNotes:  []Note{sampleNote(1, 50)},
				OutputNotes: []Note{sampleNote(1, 30), sampleNote(2, 10), sampleNote(3, 10)},
				PublicValue: big.NewInt(0),
			}},
		},
		{
			name: "negative public value",
			outputs: ProofOutputs{{
				OutputNotes: []Note{sampleNote(4, 7), sampleNote(4, 8)},
				PublicOwner: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
				PublicValue: big.NewInt(-130),
			}},
		},
		{
			name: "multiple outputs",
			outputs: ProofOutputs{
				{InputNotes: []Note{sampleNote(5, 11)}, PublicValue: big.NewInt(40)},
				{OutputNotes: []Note{sampleNote(6, 12)}, PublicValue: new(big.Int).Neg(maxPublicValue)},
			},
		},
		{
			name: "infinity points",
			outputs: ProofOutputs{{
				InputNotes:  []Note{NewNote(common.Address{}, bn254.G1Affine{}, bn254.G1Affine{})},
				PublicValue: minPublicValue,
			}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			blob, err := EncodeProofOutputs(tc.outputs)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			decoded, err := DecodeProofOutputs(blob)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !decoded.Equal(tc.outputs) {
				t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", tc.outputs, decoded)
			}
			again, err := EncodeProofOutputs(decoded)
			if err != nil {
				t.Fatalf("re-encode: %v", err)
			}
			if !bytes.Equal(blob, again) {
				t.Fatalf("encoding is not canonical")
			}
		})
	}
}

func TestProofOutputAtAndHash(t *testing.T) {
	outputs := ProofOutputs{
		{InputNotes: []Note{sampleNote(1, 1)}, OutputNotes: []Note{sampleNote(1, 2)}, PublicValue: big.NewInt(0)},
		{OutputNotes: []Note{sampleNote(2, 3)}, PublicValue: big.NewInt(-10)},
	}
	blob, err := EncodeProofOutputs(outputs)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	count, err := CountProofOutputs(blob)
	if err != nil || count != 2 {
		t.Fatalf("count = %d, %v", count, err)
	}
	for i, want := range outputs {
		record, err := ProofOutputAt(blob, i)
		if err != nil {
			t.Fatalf("ProofOutputAt(%d): %v", i, err)
		}
		expected, err := EncodeProofOutput(want)
		if err != nil {
			t.Fatalf("encode record: %v", err)
		}
		if !bytes.Equal(record, expected) {
			t.Fatalf("record %d differs from standalone encoding", i)
		}
		if HashProofOutput(record) != HashProofOutput(expected) {
			t.Fatalf("hash mismatch for record %d", i)
		}
		got, err := DecodeProofOutput(record)
		if err != nil {
			t.Fatalf("decode record: %v", err)
		}
		if !got.Equal(want) {
			t.Fatalf("record %d decoded to %+v", i, got)
		}
	}
	first, _ := ProofOutputAt(blob, 0)
	second, _ := ProofOutputAt(blob, 1)
	if HashProofOutput(first) == HashProofOutput(second) {
		t.Fatalf("distinct records must hash differently")
	}
	if _, err := ProofOutputAt(blob, 2); !stdErrors.Is(err, xerrors.Sentinel(xerrors.CodeInvalidArgument)) {
		t.Fatalf("expected INVALID_ARGUMENT for out of range index, got %v", err)
	}
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	// the note is the last item so the final byte belongs to sigma.Y
	valid, err := EncodeProofOutputs(ProofOutputs{{
		OutputNotes: []Note{sampleNote(1, 9)},
		PublicValue: big.NewInt(3),
	}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	truncated := valid[:len(valid)-1]
	hugeCount := append([]byte(nil), valid...)
	hugeCount[wordSize+wordSize-1] = 0xff
	offCurve := append([]byte(nil), valid...)
	offCurve[len(offCurve)-1] ^= 0x01
	dirtyOwner := append([]byte(nil), valid...)
	// blob header(3 words) + record len + offIn + offOut, owner padding starts here
	dirtyOwner[3*wordSize+3*wordSize] = 0x01

	cases := map[string][]byte{
		"empty":       nil,
		"short":       make([]byte, 16),
		"truncated":   truncated,
		"huge count":  hugeCount,
		"off curve":   offCurve,
		"dirty owner": dirtyOwner,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeProofOutputs(data)
			if err == nil {
				t.Fatalf("expected error")
			}
			if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
				t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
			}
		})
	}
}

func TestEncodeRejectsOversizedPublicValue(t *testing.T) {
	tooBig := new(big.Int).Add(maxPublicValue, big.NewInt(1))
	if _, err := EncodeProofOutput(ProofOutput{PublicValue: tooBig}); err == nil {
		t.Fatalf("expected error for 2^255")
	}
	tooSmall := new(big.Int).Sub(minPublicValue, big.NewInt(1))
	if _, err := EncodeProofOutput(ProofOutput{PublicValue: tooSmall}); err == nil {
		t.Fatalf("expected error for -2^255-1")
	}
}

func TestPublicValueBoundsRoundTrip(t *testing.T) {
	for _, want := range []*big.Int{minPublicValue, maxPublicValue, big.NewInt(-1), big.NewInt(0)} {
		record, err := EncodeProofOutput(ProofOutput{PublicValue: want})
		if err != nil {
			t.Fatalf("encode %s: %v", want, err)
		}
		got, err := DecodeProofOutput(record)
		if err != nil {
			t.Fatalf("decode %s: %v", want, err)
		}
		if got.Value().Cmp(want) != 0 {
			t.Fatalf("public value %s decoded as %s", want, got.Value())
		}
	}
}

func TestProofTypeParts(t *testing.T) {
	if JoinSplitProof != NewProofType(1, CategoryBalanced, 1) {
		t.Fatalf("join split proof id mismatch")
	}
	if MintProof.Category() != CategoryMint || BurnProof.Category() != CategoryBurn {
		t.Fatalf("unexpected categories %s %s", MintProof.Category(), BurnProof.Category())
	}
	if JoinSplitProof.Epoch() != 1 || JoinSplitProof.ID() != 1 {
		t.Fatalf("unexpected epoch/id")
	}
	parsed, err := ParseProofType("0x010101")
	if err != nil || parsed != JoinSplitProof {
		t.Fatalf("ParseProofType = %d, %v", parsed, err)
	}
	if _, err := ParseProofType("0"); err == nil {
		t.Fatalf("zero proof type must be rejected")
	}
}

func TestNoteHashConsistency(t *testing.T) {
	n := sampleNote(7, 21)
	if !n.HashConsistent() {
		t.Fatalf("fresh note must be consistent")
	}
	n.NoteHash[0] ^= 0xff
	if n.HashConsistent() {
		t.Fatalf("tampered hash accepted")
	}
	encoded := EncodePoint(&n.Gamma)
	decoded, err := DecodePoint(encoded)
	if err != nil || !decoded.Equal(&n.Gamma) {
		t.Fatalf("point round trip failed: %v", err)
	}
}
