package joinsplit

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	xerrors "OpenACE-Chain/internal/errors"
	"OpenACE-Chain/internal/proofs"
	"OpenACE-Chain/internal/validator"
	"OpenACE-Chain/internal/validator/kernel"
)

var sender = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func owned(t *testing.T, key *ecdsa.PrivateKey, value int64) kernel.Secret {
	t.Helper()
	s, err := kernel.NewOwnedSecret(key, value)
	require.NoError(t, err)
	return s
}

func TestDepositTransferWithdraw(t *testing.T) {
	ctx := context.Background()
	crs := kernel.DefaultCRS()
	alice, bob := newKey(t), newKey(t)
	bobAddr := crypto.PubkeyToAddress(bob.PublicKey)

	cases := []struct {
		name    string
		inputs  []kernel.Secret
		outputs []kernel.Secret
		pv      int64
	}{
		{name: "deposit", outputs: []kernel.Secret{owned(t, alice, 7), owned(t, alice, 3)}, pv: -10},
		{name: "transfer", inputs: []kernel.Secret{owned(t, alice, 7)}, outputs: []kernel.Secret{owned(t, bob, 5), owned(t, alice, 2)}, pv: 0},
		{name: "withdraw", inputs: []kernel.Secret{owned(t, bob, 50), owned(t, bob, 20)}, outputs: []kernel.Secret{owned(t, bob, 30)}, pv: 40},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			proof, err := Prove(Request{
				CRS:         crs,
				Sender:      sender,
				Inputs:      tc.inputs,
				Outputs:     tc.outputs,
				PublicOwner: bobAddr,
				PublicValue: big.NewInt(tc.pv),
			})
			require.NoError(t, err)

			blob, err := New().Verify(ctx, proof.Data, sender, crs)
			require.NoError(t, err)
			outputs, err := proofs.DecodeProofOutputs(blob)
			require.NoError(t, err)
			require.Len(t, outputs, 1)
			require.True(t, outputs[0].Equal(proof.Output))
			require.Equal(t, 0, outputs[0].PublicValue.Cmp(big.NewInt(tc.pv)))
		})
	}
}

func TestRejections(t *testing.T) {
	ctx := context.Background()
	crs := kernel.DefaultCRS()
	alice, mallory := newKey(t), newKey(t)
	in := owned(t, alice, 10)
	out := owned(t, alice, 10)

	proof, err := Prove(Request{CRS: crs, Sender: sender, Inputs: []kernel.Secret{in}, Outputs: []kernel.Secret{out}})
	require.NoError(t, err)

	t.Run("wrong sender", func(t *testing.T) {
		_, err := New().Verify(ctx, proof.Data, common.HexToAddress("0xbeef"), crs)
		require.Equal(t, xerrors.CodeInvalidProof, xerrors.CodeOf(err))
	})

	t.Run("mismatched crs", func(t *testing.T) {
		other, err := bn254.HashToG1([]byte("other"), []byte("TEST-DST"))
		require.NoError(t, err)
		_, err = New().Verify(ctx, proof.Data, sender, validator.CRS(proofs.EncodePoint(&other)))
		require.Equal(t, xerrors.CodeInvalidProof, xerrors.CodeOf(err))
	})

	t.Run("garbage data", func(t *testing.T) {
		_, err := New().Verify(ctx, []byte{1, 2, 3}, sender, crs)
		require.Equal(t, xerrors.CodeInvalidProof, xerrors.CodeOf(err))
	})

	t.Run("stolen input", func(t *testing.T) {
		stolen := in
		stolen.Key = mallory
		forged, err := Prove(Request{CRS: crs, Sender: sender, Inputs: []kernel.Secret{stolen}, Outputs: []kernel.Secret{owned(t, mallory, 10)}})
		require.NoError(t, err)
		_, err = New().Verify(ctx, forged.Data, sender, crs)
		require.Equal(t, xerrors.CodeInvalidProof, xerrors.CodeOf(err))
	})

	t.Run("inflated output", func(t *testing.T) {
		env, err := kernel.UnpackEnvelope(proof.Data)
		require.NoError(t, err)
		bigger := owned(t, alice, 11)
		h, err := kernel.ParseCRS(crs)
		require.NoError(t, err)
		note, err := bigger.Note(h)
		require.NoError(t, err)
		env.Outputs = []proofs.Note{note}
		data, err := env.Pack()
		require.NoError(t, err)
		_, err = New().Verify(ctx, data, sender, crs)
		require.Equal(t, xerrors.CodeInvalidProof, xerrors.CodeOf(err))
	})

	t.Run("unbalanced request", func(t *testing.T) {
		_, err := Prove(Request{CRS: crs, Sender: sender, Outputs: []kernel.Secret{owned(t, alice, 5)}, PublicValue: big.NewInt(-4)})
		require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
	})
}
