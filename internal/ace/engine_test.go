package ace

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	xerrors "OpenACE-Chain/internal/errors"
	"OpenACE-Chain/internal/events"
	"OpenACE-Chain/internal/noteregistry"
	"OpenACE-Chain/internal/observability/metrics"
	"OpenACE-Chain/internal/proofcache"
	"OpenACE-Chain/internal/proofs"
	"OpenACE-Chain/internal/token"
	"OpenACE-Chain/internal/validator"
	"OpenACE-Chain/internal/validator/adjustsupply"
	"OpenACE-Chain/internal/validator/builtin"
	"OpenACE-Chain/internal/validator/joinsplit"
	"OpenACE-Chain/internal/validator/kernel"
)

var (
	ownerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	engineAddr = common.HexToAddress("0x000000000000000000000000000000000000ace1")
	assetAddr  = common.HexToAddress("0x0000000000000000000000000000000000000a55")
	tokenAddr  = common.HexToAddress("0x0000000000000000000000000000000000001001")
	treasury   = common.HexToAddress("0x0000000000000000000000000000000000007777")
)

type harness struct {
	engine *Engine
	token  *token.MemoryToken
	events *events.MemoryPublisher
	cache  *proofcache.MemoryStore
	alice  *ecdsa.PrivateKey
	bob    *ecdsa.PrivateKey
}

func (h *harness) aliceAddr() common.Address { return crypto.PubkeyToAddress(h.alice.PublicKey) }
func (h *harness) bobAddr() common.Address   { return crypto.PubkeyToAddress(h.bob.PublicKey) }

func newHarness(t *testing.T) *harness {
	t.Helper()
	alice, err := crypto.GenerateKey()
	require.NoError(t, err)
	bob, err := crypto.GenerateKey()
	require.NoError(t, err)

	tok := token.NewMemoryToken("ZKD", treasury, engineAddr)
	require.NoError(t, tok.MintBy(treasury, crypto.PubkeyToAddress(alice.PublicKey), big.NewInt(1000)))
	dir := token.NewDirectory()
	dir.Register(tokenAddr, tok.Operator(engineAddr))

	cacheStore := proofcache.NewMemoryStore()
	pub := events.NewMemoryPublisher(0)
	engine, err := New(Dependencies{
		Validators: validator.NewRegistry(ownerAddr),
		Catalog:    builtin.Catalog(),
		Cache:      proofcache.New(cacheStore),
		Registries: noteregistry.NewService(noteregistry.NewMemoryStore(), dir, engineAddr),
		Events:     pub,
		Metrics:    metrics.New(),
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, engine.SetCommonReferenceString(ctx, ownerAddr, kernel.DefaultCRS()))
	require.NoError(t, engine.BindDefinitions(ctx, builtin.DefaultDefinitions()))
	return &harness{engine: engine, token: tok, events: pub, cache: cacheStore, alice: alice, bob: bob}
}

func owned(t *testing.T, key *ecdsa.PrivateKey, value int64) kernel.Secret {
	t.Helper()
	s, err := kernel.NewOwnedSecret(key, value)
	require.NoError(t, err)
	return s
}

func outputHash(t *testing.T, output proofs.ProofOutput) (common.Hash, []byte) {
	t.Helper()
	record, err := proofs.EncodeProofOutput(output)
	require.NoError(t, err)
	return proofs.HashProofOutput(record), record
}

func requireCode(t *testing.T, err error, code xerrors.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, xerrors.CodeOf(err), "unexpected error: %v", err)
}

// deposit 让 alice 以 scaling factor 10 存入 10 个机密单位，返回生成的两张票据的开口。
func (h *harness) deposit(t *testing.T) (kernel.Secret, kernel.Secret) {
	t.Helper()
	ctx := context.Background()
	_, err := h.engine.CreateNoteRegistry(ctx, assetAddr, tokenAddr, big.NewInt(10), false, true)
	require.NoError(t, err)

	seven, three := owned(t, h.alice, 7), owned(t, h.alice, 3)
	proof, err := joinsplit.Prove(joinsplit.Request{
		CRS:         kernel.DefaultCRS(),
		Sender:      h.aliceAddr(),
		Outputs:     []kernel.Secret{seven, three},
		PublicOwner: h.aliceAddr(),
		PublicValue: big.NewInt(-10),
	})
	require.NoError(t, err)
	hash, _ := outputHash(t, proof.Output)

	require.NoError(t, h.token.ApproveBy(h.aliceAddr(), engineAddr, big.NewInt(100)))
	_, err = h.engine.PublicApprove(ctx, h.aliceAddr(), assetAddr, hash, big.NewInt(10))
	require.NoError(t, err)

	receipts, err := h.engine.ProcessProof(ctx, assetAddr, proofs.JoinSplitProof, h.aliceAddr(), proof.Data)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	require.Equal(t, int64(100), receipts[0].TokensIn.Int64())
	return seven, three
}

func TestDepositWithScalingFactor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seven, three := h.deposit(t)

	require.Equal(t, int64(900), h.token.BalanceOfAccount(h.aliceAddr()).Int64())
	require.Equal(t, int64(100), h.token.BalanceOfAccount(engineAddr).Int64())

	crsH, err := kernel.ParseCRS(kernel.DefaultCRS())
	require.NoError(t, err)
	for _, s := range []kernel.Secret{seven, three} {
		n, err := s.Note(crsH)
		require.NoError(t, err)
		record, err := h.engine.Note(ctx, assetAddr, n.NoteHash)
		require.NoError(t, err)
		require.Equal(t, noteregistry.NoteUnspent, record.Status)
	}

	registry, err := h.engine.NoteRegistry(ctx, assetAddr)
	require.NoError(t, err)
	require.Equal(t, int64(10), registry.TotalSupply.Int64())
	require.Contains(t, h.events.Kinds(), events.KindRegistryUpdated)
}

func TestConfidentialTransferMovesNoTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seven, _ := h.deposit(t)

	proof, err := joinsplit.Prove(joinsplit.Request{
		CRS:     kernel.DefaultCRS(),
		Sender:  h.aliceAddr(),
		Inputs:  []kernel.Secret{seven},
		Outputs: []kernel.Secret{owned(t, h.bob, 5), owned(t, h.alice, 2)},
	})
	require.NoError(t, err)
	receipts, err := h.engine.ProcessProof(ctx, assetAddr, proofs.JoinSplitProof, h.aliceAddr(), proof.Data)
	require.NoError(t, err)
	require.Len(t, receipts[0].Spent, 1)
	require.Len(t, receipts[0].Created, 2)
	require.Zero(t, receipts[0].TokensIn.Sign())
	require.Zero(t, receipts[0].TokensOut.Sign())

	require.Equal(t, int64(900), h.token.BalanceOfAccount(h.aliceAddr()).Int64())
	require.Equal(t, int64(100), h.token.BalanceOfAccount(engineAddr).Int64())

	spent, err := h.engine.Note(ctx, assetAddr, proof.Output.InputNotes[0].NoteHash)
	require.NoError(t, err)
	require.Equal(t, noteregistry.NoteSpent, spent.Status)

	// 再次提交同一证明：校验仍然通过，但注册表拒绝重复应用
	_, err = h.engine.ProcessProof(ctx, assetAddr, proofs.JoinSplitProof, h.aliceAddr(), proof.Data)
	requireCode(t, err, xerrors.CodeAlreadySpent)

	// 另一份花费同一票据的证明同样被拒绝
	again, err := joinsplit.Prove(joinsplit.Request{
		CRS:     kernel.DefaultCRS(),
		Sender:  h.aliceAddr(),
		Inputs:  []kernel.Secret{seven},
		Outputs: []kernel.Secret{owned(t, h.bob, 7)},
	})
	require.NoError(t, err)
	_, err = h.engine.ProcessProof(ctx, assetAddr, proofs.JoinSplitProof, h.aliceAddr(), again.Data)
	requireCode(t, err, xerrors.CodeAlreadySpent)
}

func TestSetProofRequiresOwner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	before, err := h.engine.ValidatorOf(proofs.JoinSplitProof)
	require.NoError(t, err)

	_, err = h.engine.SetProof(ctx, h.aliceAddr(), proofs.JoinSplitProof, adjustsupply.MintName)
	requireCode(t, err, xerrors.CodeUnauthorized)
	_, err = h.engine.SetProof(ctx, h.aliceAddr(), proofs.NewProofType(1, proofs.CategoryBalanced, 9), joinsplit.Name)
	requireCode(t, err, xerrors.CodeUnauthorized)

	after, err := h.engine.ValidatorOf(proofs.JoinSplitProof)
	require.NoError(t, err)
	require.Equal(t, before.Name, after.Name)
	require.Equal(t, before.UpdatedAt, after.UpdatedAt)
	_, err = h.engine.ValidatorOf(proofs.NewProofType(1, proofs.CategoryBalanced, 9))
	requireCode(t, err, xerrors.CodeNotRegistered)

	err = h.engine.SetCommonReferenceString(ctx, h.aliceAddr(), kernel.DefaultCRS())
	requireCode(t, err, xerrors.CodeUnauthorized)

	_, err = h.engine.SetProof(ctx, ownerAddr, proofs.NewProofType(1, proofs.CategoryBalanced, 9), "unknown")
	requireCode(t, err, xerrors.CodeInvalidArgument)
	replaced, err := h.engine.SetProof(ctx, ownerAddr, proofs.JoinSplitProof, joinsplit.Name)
	require.NoError(t, err)
	require.True(t, replaced)
}

func TestValidationCacheLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	proof, err := joinsplit.Prove(joinsplit.Request{
		CRS:         kernel.DefaultCRS(),
		Sender:      h.aliceAddr(),
		Outputs:     []kernel.Secret{owned(t, h.alice, 4)},
		PublicOwner: h.aliceAddr(),
		PublicValue: big.NewInt(-4),
	})
	require.NoError(t, err)
	hash, _ := outputHash(t, proof.Output)

	blob, err := h.engine.ValidateProof(ctx, assetAddr, proofs.JoinSplitProof, h.aliceAddr(), proof.Data)
	require.NoError(t, err)
	outputs, err := proofs.DecodeProofOutputs(blob)
	require.NoError(t, err)
	require.True(t, outputs[0].Equal(proof.Output))

	// 重复校验是幂等的
	_, err = h.engine.ValidateProof(ctx, assetAddr, proofs.JoinSplitProof, h.aliceAddr(), proof.Data)
	require.NoError(t, err)
	require.Equal(t, 1, h.cache.Len())

	ok, err := h.engine.ValidateProofByHash(ctx, proofs.JoinSplitProof, hash, assetAddr)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = h.engine.ValidateProofByHash(ctx, proofs.JoinSplitProof, hash, h.bobAddr())
	require.NoError(t, err)
	require.False(t, ok, "records are scoped to the validating caller")
	ok, err = h.engine.ValidateProofByHash(ctx, proofs.MintProof, hash, assetAddr)
	require.NoError(t, err)
	require.False(t, ok, "records are scoped to the proof type")

	// 其他调用者只能清除自己的记录
	require.NoError(t, h.engine.ClearProofByHashes(ctx, h.bobAddr(), proofs.JoinSplitProof, []common.Hash{hash}))
	ok, _ = h.engine.ValidateProofByHash(ctx, proofs.JoinSplitProof, hash, assetAddr)
	require.True(t, ok)

	require.NoError(t, h.engine.ClearProofByHashes(ctx, assetAddr, proofs.JoinSplitProof, []common.Hash{hash}))
	ok, _ = h.engine.ValidateProofByHash(ctx, proofs.JoinSplitProof, hash, assetAddr)
	require.False(t, ok)
	require.NoError(t, h.engine.ClearProofByHashes(ctx, assetAddr, proofs.JoinSplitProof, []common.Hash{hash}))

	kinds := h.events.Kinds()
	require.Contains(t, kinds, events.KindProofValidated)
	require.Contains(t, kinds, events.KindProofCleared)
}

func TestUpdateRequiresValidationBySender(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.engine.CreateNoteRegistry(ctx, assetAddr, tokenAddr, big.NewInt(1), false, false)
	require.NoError(t, err)

	proof, err := joinsplit.Prove(joinsplit.Request{
		CRS:     kernel.DefaultCRS(),
		Sender:  h.aliceAddr(),
		Outputs: []kernel.Secret{owned(t, h.alice, 0)},
	})
	require.NoError(t, err)
	_, record := outputHash(t, proof.Output)

	_, err = h.engine.UpdateNoteRegistry(ctx, assetAddr, proofs.JoinSplitProof, assetAddr, record)
	requireCode(t, err, xerrors.CodeInvalidProof)

	_, err = h.engine.ValidateProof(ctx, h.bobAddr(), proofs.JoinSplitProof, h.aliceAddr(), proof.Data)
	require.NoError(t, err)
	_, err = h.engine.UpdateNoteRegistry(ctx, assetAddr, proofs.JoinSplitProof, assetAddr, record)
	requireCode(t, err, xerrors.CodeInvalidProof)

	// 由 bob 校验的输出可以由注册表所有者以 bob 为 proofSender 应用
	receipt, err := h.engine.UpdateNoteRegistry(ctx, assetAddr, proofs.JoinSplitProof, h.bobAddr(), record)
	require.NoError(t, err)
	require.Len(t, receipt.Created, 1)

	_, err = h.engine.UpdateNoteRegistry(ctx, assetAddr, proofs.JoinSplitProof, h.bobAddr(), []byte{1, 2, 3})
	requireCode(t, err, xerrors.CodeInvalidArgument)
}

func TestValidateProofFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	proof, err := joinsplit.Prove(joinsplit.Request{
		CRS:     kernel.DefaultCRS(),
		Sender:  h.aliceAddr(),
		Outputs: []kernel.Secret{owned(t, h.alice, 0)},
	})
	require.NoError(t, err)

	_, err = h.engine.ValidateProof(ctx, assetAddr, proofs.NewProofType(1, proofs.CategoryUtility, 1), h.aliceAddr(), proof.Data)
	requireCode(t, err, xerrors.CodeNotRegistered)

	_, err = h.engine.ValidateProof(ctx, assetAddr, proofs.JoinSplitProof, h.bobAddr(), proof.Data)
	requireCode(t, err, xerrors.CodeInvalidProof)

	// 换成另一个合法但不同的参考串后，旧证明失效
	g := kernel.Generator()
	require.NoError(t, h.engine.SetCommonReferenceString(ctx, ownerAddr, validator.CRS(proofs.EncodePoint(&g))))
	_, err = h.engine.ValidateProof(ctx, assetAddr, proofs.JoinSplitProof, h.aliceAddr(), proof.Data)
	requireCode(t, err, xerrors.CodeInvalidProof)
	require.Zero(t, h.cache.Len(), "failed validations must not be recorded")

	custom := validator.ValidatorFunc(func(context.Context, []byte, common.Address, validator.CRS) ([]byte, error) {
		return nil, errors.New("opaque failure")
	})
	pt := proofs.NewProofType(1, proofs.CategoryBalanced, 7)
	_, err = h.engine.SetValidator(ctx, ownerAddr, pt, "custom", custom)
	require.NoError(t, err)
	_, err = h.engine.ValidateProof(ctx, assetAddr, pt, h.aliceAddr(), nil)
	requireCode(t, err, xerrors.CodeInvalidProof)

	garbage := validator.ValidatorFunc(func(context.Context, []byte, common.Address, validator.CRS) ([]byte, error) {
		return []byte{0xde, 0xad}, nil
	})
	_, err = h.engine.SetValidator(ctx, ownerAddr, pt, "garbage", garbage)
	require.NoError(t, err)
	_, err = h.engine.ValidateProof(ctx, assetAddr, pt, h.aliceAddr(), nil)
	requireCode(t, err, xerrors.CodeInvalidProof)
}

// flakyStore 在第 failAt 次 Put 时返回错误。
type flakyStore struct {
	*proofcache.MemoryStore
	puts   int
	failAt int
}

func (s *flakyStore) Put(ctx context.Context, key common.Hash) error {
	s.puts++
	if s.puts == s.failAt {
		return errors.New("disk full")
	}
	return s.MemoryStore.Put(ctx, key)
}

func TestValidateProofRecordsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: proofcache.NewMemoryStore(), failAt: 2}
	engine, err := New(Dependencies{
		Validators: validator.NewRegistry(ownerAddr),
		Catalog:    builtin.Catalog(),
		Cache:      proofcache.New(store),
		Registries: noteregistry.NewService(noteregistry.NewMemoryStore(), token.NewDirectory(), engineAddr),
	})
	require.NoError(t, err)
	require.NoError(t, engine.SetCommonReferenceString(ctx, ownerAddr, kernel.DefaultCRS()))

	outputs := proofs.ProofOutputs{
		{PublicOwner: treasury, PublicValue: big.NewInt(-1)},
		{PublicOwner: treasury, PublicValue: big.NewInt(1)},
	}
	blob, err := proofs.EncodeProofOutputs(outputs)
	require.NoError(t, err)
	twoOutputs := validator.ValidatorFunc(func(context.Context, []byte, common.Address, validator.CRS) ([]byte, error) {
		return blob, nil
	})
	pt := proofs.NewProofType(1, proofs.CategoryBalanced, 9)
	_, err = engine.SetValidator(ctx, ownerAddr, pt, "two-outputs", twoOutputs)
	require.NoError(t, err)

	_, err = engine.ValidateProof(ctx, assetAddr, pt, treasury, nil)
	requireCode(t, err, xerrors.CodeStorageFailure)
	require.Zero(t, store.Len(), "a failed validation must not leave records behind")

	first, record := outputHash(t, outputs[0])
	ok, err := engine.ValidateProofByHash(ctx, pt, first, assetAddr)
	require.NoError(t, err)
	require.False(t, ok)
	_, err = engine.UpdateNoteRegistry(ctx, assetAddr, pt, assetAddr, record)
	requireCode(t, err, xerrors.CodeInvalidProof)

	// 存储恢复后重新校验，两条输出都被记录
	_, err = engine.ValidateProof(ctx, assetAddr, pt, treasury, nil)
	require.NoError(t, err)
	require.Equal(t, 2, store.Len())

	// 回滚只撤销本次新增的记录，已有记录保留
	third := proofs.ProofOutput{PublicOwner: treasury, PublicValue: big.NewInt(3)}
	overlapping, err := proofs.EncodeProofOutputs(proofs.ProofOutputs{outputs[0], third})
	require.NoError(t, err)
	_, err = engine.SetValidator(ctx, ownerAddr, pt, "overlapping", validator.ValidatorFunc(
		func(context.Context, []byte, common.Address, validator.CRS) ([]byte, error) { return overlapping, nil }))
	require.NoError(t, err)
	store.failAt = store.puts + 1
	_, err = engine.ValidateProof(ctx, assetAddr, pt, treasury, nil)
	requireCode(t, err, xerrors.CodeStorageFailure)
	ok, err = engine.ValidateProofByHash(ctx, pt, first, assetAddr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, store.Len())
}

func TestValidateRequiresCRS(t *testing.T) {
	engine, err := New(Dependencies{
		Validators: validator.NewRegistry(ownerAddr),
		Catalog:    builtin.Catalog(),
		Cache:      proofcache.New(proofcache.NewMemoryStore()),
		Registries: noteregistry.NewService(noteregistry.NewMemoryStore(), token.NewDirectory(), engineAddr),
	})
	require.NoError(t, err)
	require.Nil(t, engine.CommonReferenceString())
	require.NoError(t, engine.BindDefinitions(context.Background(), builtin.DefaultDefinitions()))
	_, err = engine.ValidateProof(context.Background(), assetAddr, proofs.JoinSplitProof, assetAddr, []byte{})
	requireCode(t, err, xerrors.CodeInitializationFailure)

	_, err = New(Dependencies{})
	requireCode(t, err, xerrors.CodeInitializationFailure)
}

func TestMintThroughEngine(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.engine.CreateNoteRegistry(ctx, assetAddr, tokenAddr, big.NewInt(1), true, false)
	require.NoError(t, err)

	supply, err := kernel.NewSecret(assetAddr, 30)
	require.NoError(t, err)
	minted := owned(t, h.alice, 30)
	proof, err := adjustsupply.ProveMint(adjustsupply.MintRequest{
		CRS:       kernel.DefaultCRS(),
		Sender:    assetAddr,
		OldSupply: kernel.ZeroSecret(assetAddr),
		NewSupply: supply,
		Minted:    []kernel.Secret{minted},
	})
	require.NoError(t, err)

	receipts, err := h.engine.ProcessProof(ctx, assetAddr, proofs.MintProof, assetAddr, proof.Data)
	require.NoError(t, err)
	require.Len(t, receipts[0].Created, 1)

	registry, err := h.engine.NoteRegistry(ctx, assetAddr)
	require.NoError(t, err)
	require.Equal(t, proof.Output.OutputNotes[0].NoteHash, registry.ConfidentialTotalMinted)

	// 同一份铸造证明不能再次从旧的总量出发
	_, err = h.engine.ProcessProof(ctx, assetAddr, proofs.MintProof, assetAddr, proof.Data)
	require.Error(t, err)
}

func TestAdjustSupplyRejectedWithoutCapability(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.engine.CreateNoteRegistry(ctx, assetAddr, tokenAddr, big.NewInt(1), false, false)
	require.NoError(t, err)

	supply, err := kernel.NewSecret(assetAddr, 5)
	require.NoError(t, err)
	proof, err := adjustsupply.ProveMint(adjustsupply.MintRequest{
		CRS:       kernel.DefaultCRS(),
		Sender:    assetAddr,
		OldSupply: kernel.ZeroSecret(assetAddr),
		NewSupply: supply,
		Minted:    []kernel.Secret{owned(t, h.alice, 5)},
	})
	require.NoError(t, err)
	_, err = h.engine.ProcessProof(ctx, assetAddr, proofs.MintProof, assetAddr, proof.Data)
	requireCode(t, err, xerrors.CodeUnsupportedOperation)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, events.Event) error { return errors.New("broker down") }
func (failingPublisher) Close() error                                 { return nil }

func TestEventFailureDoesNotFailOperation(t *testing.T) {
	engine, err := New(Dependencies{
		Validators: validator.NewRegistry(ownerAddr),
		Catalog:    builtin.Catalog(),
		Cache:      proofcache.New(proofcache.NewMemoryStore()),
		Registries: noteregistry.NewService(noteregistry.NewMemoryStore(), token.NewDirectory(), engineAddr),
		Events:     failingPublisher{},
	})
	require.NoError(t, err)
	require.NoError(t, engine.SetCommonReferenceString(context.Background(), ownerAddr, kernel.DefaultCRS()))
	_, err = engine.CreateNoteRegistry(context.Background(), assetAddr, common.Address{}, big.NewInt(1), false, false)
	require.NoError(t, err)
}

func TestSentinelErrors(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.SetProof(context.Background(), h.bobAddr(), proofs.JoinSplitProof, joinsplit.Name)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.NotErrorIs(t, err, ErrInvalidProof)

	_, err = h.engine.ValidatorOf(proofs.NewProofType(2, proofs.CategoryBalanced, 1))
	require.ErrorIs(t, err, ErrNotRegistered)
}
