package noteregistry

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	xerrors "OpenACE-Chain/internal/errors"
	"OpenACE-Chain/internal/observability/alerting"
	"OpenACE-Chain/internal/proofs"
	"OpenACE-Chain/internal/token"
)

var (
	engineAddr   = common.HexToAddress("0x000000000000000000000000000000000000ace1")
	registryAddr = common.HexToAddress("0x0000000000000000000000000000000000000a55")
	tokenAddr    = common.HexToAddress("0x0000000000000000000000000000000000001001")
	alice        = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob          = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	treasury     = common.HexToAddress("0x0000000000000000000000000000000000007777")
)

type fixture struct {
	store   *MemoryStore
	tok     *token.MemoryToken
	service *Service
	alerts  *recordingDispatcher
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func newFixture(t *testing.T, req CreateRequest) *fixture {
	t.Helper()
	tok := token.NewMemoryToken("ZKD", treasury, engineAddr)
	require.NoError(t, tok.MintBy(treasury, alice, big.NewInt(1000)))
	dir := token.NewDirectory()
	dir.Register(tokenAddr, tok.Operator(engineAddr))

	store := NewMemoryStore()
	alerts := &recordingDispatcher{}
	svc := NewService(store, dir, engineAddr, WithAlerts(alerts))
	if req.Owner == (common.Address{}) {
		req.Owner = registryAddr
	}
	if req.LinkedToken == (common.Address{}) {
		req.LinkedToken = tokenAddr
	}
	if req.ScalingFactor == nil {
		req.ScalingFactor = big.NewInt(10)
	}
	_, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	return &fixture{store: store, tok: tok, service: svc, alerts: alerts}
}

func note(owner common.Address, label string) proofs.Note {
	return proofs.Note{Owner: owner, NoteHash: crypto.Keccak256Hash([]byte(label))}
}

func proofHash(label string) common.Hash {
	return crypto.Keccak256Hash([]byte("proof:" + label))
}

func requireCode(t *testing.T, err error, code xerrors.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, xerrors.CodeOf(err), "unexpected error: %v", err)
}

// deposit 把 alice 的 amount 个机密单位转入注册表并生成两张票据。
func (f *fixture) deposit(t *testing.T, label string, amount int64, outputs ...proofs.Note) common.Hash {
	t.Helper()
	ctx := context.Background()
	hash := proofHash(label)
	registry, err := f.service.Registry(ctx, registryAddr)
	require.NoError(t, err)
	base := new(big.Int).Mul(big.NewInt(amount), registry.ScalingFactor)
	require.NoError(t, f.tok.ApproveBy(alice, engineAddr, base))
	_, err = f.service.Approve(ctx, registryAddr, alice, hash, big.NewInt(amount))
	require.NoError(t, err)
	_, err = f.service.Apply(ctx, registryAddr, proofs.JoinSplitProof, hash, proofs.ProofOutput{
		OutputNotes: outputs,
		PublicOwner: alice,
		PublicValue: big.NewInt(-amount),
	})
	require.NoError(t, err)
	return hash
}

func TestCreateRegistry(t *testing.T) {
	f := newFixture(t, CreateRequest{CanConvert: true})
	ctx := context.Background()

	_, err := f.service.Create(ctx, CreateRequest{Owner: registryAddr, LinkedToken: tokenAddr, ScalingFactor: big.NewInt(1)})
	requireCode(t, err, xerrors.CodeAlreadyExists)

	_, err = f.service.Create(ctx, CreateRequest{Owner: bob, ScalingFactor: big.NewInt(0)})
	requireCode(t, err, xerrors.CodeInvalidArgument)

	_, err = f.service.Create(ctx, CreateRequest{Owner: bob, LinkedToken: bob, ScalingFactor: big.NewInt(1), CanConvert: true})
	requireCode(t, err, xerrors.CodeInvalidArgument)

	registry, err := f.service.Registry(ctx, registryAddr)
	require.NoError(t, err)
	require.Equal(t, proofs.ZeroNoteHash, registry.ConfidentialTotalMinted)
	require.Equal(t, proofs.ZeroNoteHash, registry.ConfidentialTotalBurned)
	require.Zero(t, registry.TotalSupply.Sign())

	_, err = f.service.Registry(ctx, bob)
	requireCode(t, err, xerrors.CodeNotFound)
}

func TestDepositPullsScaledTokens(t *testing.T) {
	f := newFixture(t, CreateRequest{CanConvert: true})
	ctx := context.Background()
	n1, n2 := note(alice, "n1"), note(bob, "n2")

	hash := f.deposit(t, "deposit", 10, n1, n2)

	require.Equal(t, int64(900), f.tok.BalanceOfAccount(alice).Int64())
	require.Equal(t, int64(100), f.tok.BalanceOfAccount(engineAddr).Int64())
	for _, n := range []proofs.Note{n1, n2} {
		record, err := f.service.Note(ctx, registryAddr, n.NoteHash)
		require.NoError(t, err)
		require.Equal(t, NoteUnspent, record.Status)
		require.Equal(t, n.Owner, record.Owner)
		require.Equal(t, hash, record.CreatedBy)
	}
	registry, err := f.service.Registry(ctx, registryAddr)
	require.NoError(t, err)
	require.Equal(t, int64(10), registry.TotalSupply.Int64())

	remaining, err := f.service.Allowance(ctx, registryAddr, alice, hash)
	require.NoError(t, err)
	require.Zero(t, remaining.Sign())
}

func TestApprovalsAccumulate(t *testing.T) {
	f := newFixture(t, CreateRequest{CanConvert: true})
	ctx := context.Background()
	hash := proofHash("funded")

	_, err := f.service.Approve(ctx, registryAddr, alice, hash, big.NewInt(4))
	require.NoError(t, err)
	total, err := f.service.Approve(ctx, registryAddr, alice, hash, big.NewInt(6))
	require.NoError(t, err)
	require.Equal(t, int64(10), total.Int64())

	_, err = f.service.Approve(ctx, registryAddr, alice, hash, big.NewInt(0))
	requireCode(t, err, xerrors.CodeInvalidArgument)
	_, err = f.service.Approve(ctx, bob, alice, hash, big.NewInt(1))
	requireCode(t, err, xerrors.CodeNotFound)
}

func TestInsufficientAllowanceLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, CreateRequest{CanConvert: true})
	ctx := context.Background()
	hash := proofHash("short")
	out := note(alice, "out")

	_, err := f.service.Approve(ctx, registryAddr, alice, hash, big.NewInt(5))
	require.NoError(t, err)
	_, err = f.service.Apply(ctx, registryAddr, proofs.JoinSplitProof, hash, proofs.ProofOutput{
		OutputNotes: []proofs.Note{out},
		PublicOwner: alice,
		PublicValue: big.NewInt(-10),
	})
	requireCode(t, err, xerrors.CodeInsufficientAllowance)

	_, err = f.service.Note(ctx, registryAddr, out.NoteHash)
	requireCode(t, err, xerrors.CodeNoteNotFound)
	remaining, err := f.service.Allowance(ctx, registryAddr, alice, hash)
	require.NoError(t, err)
	require.Equal(t, int64(5), remaining.Int64())
	require.Equal(t, int64(1000), f.tok.BalanceOfAccount(alice).Int64())
}

func TestNoteLifecycleViolations(t *testing.T) {
	f := newFixture(t, CreateRequest{CanConvert: true})
	ctx := context.Background()
	n1, n2 := note(alice, "n1"), note(bob, "n2")
	depositHash := f.deposit(t, "deposit", 10, n1, n2)

	transfer := func(label string, in []proofs.Note, out []proofs.Note) error {
		_, err := f.service.Apply(ctx, registryAddr, proofs.JoinSplitProof, proofHash(label), proofs.ProofOutput{
			InputNotes:  in,
			OutputNotes: out,
		})
		return err
	}

	// 同一证明不能应用两次
	_, err := f.service.Apply(ctx, registryAddr, proofs.JoinSplitProof, depositHash, proofs.ProofOutput{})
	requireCode(t, err, xerrors.CodeAlreadySpent)

	requireCode(t, transfer("missing", []proofs.Note{note(alice, "ghost")}, nil), xerrors.CodeNoteNotFound)
	requireCode(t, transfer("owner", []proofs.Note{{Owner: bob, NoteHash: n1.NoteHash}}, nil), xerrors.CodeInvalidProof)
	requireCode(t, transfer("dup-out", []proofs.Note{n1}, []proofs.Note{n2}), xerrors.CodeNoteExists)
	requireCode(t, transfer("repeat-in", []proofs.Note{n1, n1}, nil), xerrors.CodeAlreadySpent)
	requireCode(t, transfer("repeat-out", nil, []proofs.Note{note(bob, "x"), note(bob, "x")}), xerrors.CodeNoteExists)

	// 失败的尝试没有留下任何痕迹
	record, err := f.service.Note(ctx, registryAddr, n1.NoteHash)
	require.NoError(t, err)
	require.Equal(t, NoteUnspent, record.Status)

	n3 := note(bob, "n3")
	require.NoError(t, transfer("spend", []proofs.Note{n1}, []proofs.Note{n3}))
	record, err = f.service.Note(ctx, registryAddr, n1.NoteHash)
	require.NoError(t, err)
	require.Equal(t, NoteSpent, record.Status)
	require.Equal(t, proofHash("spend"), record.SpentBy)

	requireCode(t, transfer("double", []proofs.Note{n1}, []proofs.Note{note(bob, "n4")}), xerrors.CodeAlreadySpent)
	requireCode(t, transfer("recreate", nil, []proofs.Note{n1}), xerrors.CodeNoteExists)
}

func TestConcurrentDoubleSpendHasOneWinner(t *testing.T) {
	f := newFixture(t, CreateRequest{CanConvert: true})
	ctx := context.Background()
	n1 := note(alice, "n1")
	f.deposit(t, "deposit", 10, n1)

	const attempts = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		spentErr int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			label := string(rune('a' + i))
			_, err := f.service.Apply(ctx, registryAddr, proofs.JoinSplitProof, proofHash("race"+label), proofs.ProofOutput{
				InputNotes:  []proofs.Note{n1},
				OutputNotes: []proofs.Note{note(bob, "race-out"+label)},
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if xerrors.CodeOf(err) == xerrors.CodeAlreadySpent {
				spentErr++
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, wins)
	require.Equal(t, attempts-1, spentErr)
}

func TestWithdrawal(t *testing.T) {
	t.Run("pays from held supply", func(t *testing.T) {
		f := newFixture(t, CreateRequest{CanConvert: true})
		n1 := note(alice, "n1")
		f.deposit(t, "deposit", 10, n1)

		receipt, err := f.service.Apply(context.Background(), registryAddr, proofs.JoinSplitProof, proofHash("withdraw"), proofs.ProofOutput{
			InputNotes:  []proofs.Note{n1},
			OutputNotes: []proofs.Note{note(alice, "change")},
			PublicOwner: bob,
			PublicValue: big.NewInt(7),
		})
		require.NoError(t, err)
		require.Equal(t, int64(70), receipt.TokensOut.Int64())
		require.Equal(t, int64(70), f.tok.BalanceOfAccount(bob).Int64())
		registry, _ := f.service.Registry(context.Background(), registryAddr)
		require.Equal(t, int64(3), registry.TotalSupply.Int64())
	})

	t.Run("insufficient balance without supply adjustment", func(t *testing.T) {
		f := newFixture(t, CreateRequest{CanConvert: true})
		_, err := f.service.Apply(context.Background(), registryAddr, proofs.JoinSplitProof, proofHash("withdraw"), proofs.ProofOutput{
			PublicOwner: bob,
			PublicValue: big.NewInt(1),
		})
		requireCode(t, err, xerrors.CodeInsufficientBalance)
	})

	t.Run("mints the shortfall when supply is adjustable", func(t *testing.T) {
		f := newFixture(t, CreateRequest{CanConvert: true, CanAdjustSupply: true})
		f.deposit(t, "deposit", 2, note(alice, "n1"))
		receipt, err := f.service.Apply(context.Background(), registryAddr, proofs.JoinSplitProof, proofHash("withdraw"), proofs.ProofOutput{
			PublicOwner: bob,
			PublicValue: big.NewInt(5),
		})
		require.NoError(t, err)
		require.Equal(t, int64(30), receipt.TokensMinted.Int64())
		require.Equal(t, int64(50), f.tok.BalanceOfAccount(bob).Int64())
		require.Zero(t, f.tok.BalanceOfAccount(engineAddr).Sign())
		registry, _ := f.service.Registry(context.Background(), registryAddr)
		require.Zero(t, registry.TotalSupply.Sign())
	})
}

func TestLedgerFailureRollsBack(t *testing.T) {
	f := newFixture(t, CreateRequest{CanConvert: true})
	ctx := context.Background()
	hash := proofHash("deposit")
	out := note(alice, "out")
	require.NoError(t, f.tok.ApproveBy(alice, engineAddr, big.NewInt(100)))
	_, err := f.service.Approve(ctx, registryAddr, alice, hash, big.NewInt(10))
	require.NoError(t, err)

	f.tok.FailNext(errors.New("execution reverted"))
	_, err = f.service.Apply(ctx, registryAddr, proofs.JoinSplitProof, hash, proofs.ProofOutput{
		OutputNotes: []proofs.Note{out},
		PublicOwner: alice,
		PublicValue: big.NewInt(-10),
	})
	require.Error(t, err)

	_, err = f.service.Note(ctx, registryAddr, out.NoteHash)
	requireCode(t, err, xerrors.CodeNoteNotFound)
	remaining, _ := f.service.Allowance(ctx, registryAddr, alice, hash)
	require.Equal(t, int64(10), remaining.Int64())
	registry, _ := f.service.Registry(ctx, registryAddr)
	require.Zero(t, registry.TotalSupply.Sign())

	// 失败后同一证明仍可重新应用
	_, err = f.service.Apply(ctx, registryAddr, proofs.JoinSplitProof, hash, proofs.ProofOutput{
		OutputNotes: []proofs.Note{out},
		PublicOwner: alice,
		PublicValue: big.NewInt(-10),
	})
	require.NoError(t, err)
}

func TestCommitFailureRefundsPulledTokens(t *testing.T) {
	f := newFixture(t, CreateRequest{CanConvert: true})
	ctx := context.Background()
	hash := proofHash("deposit")
	require.NoError(t, f.tok.ApproveBy(alice, engineAddr, big.NewInt(100)))
	_, err := f.service.Approve(ctx, registryAddr, alice, hash, big.NewInt(10))
	require.NoError(t, err)

	f.store.FailNextCommit(errors.New("disk full"))
	_, err = f.service.Apply(ctx, registryAddr, proofs.JoinSplitProof, hash, proofs.ProofOutput{
		OutputNotes: []proofs.Note{note(alice, "out")},
		PublicOwner: alice,
		PublicValue: big.NewInt(-10),
	})
	requireCode(t, err, xerrors.CodeStorageFailure)
	require.Equal(t, int64(1000), f.tok.BalanceOfAccount(alice).Int64())
	require.Zero(t, f.tok.BalanceOfAccount(engineAddr).Sign())
	require.Empty(t, f.alerts.events)
}

func TestCommitFailureAfterPayoutAlerts(t *testing.T) {
	f := newFixture(t, CreateRequest{CanConvert: true})
	n1 := note(alice, "n1")
	f.deposit(t, "deposit", 10, n1)

	f.store.FailNextCommit(errors.New("connection reset"))
	_, err := f.service.Apply(context.Background(), registryAddr, proofs.JoinSplitProof, proofHash("withdraw"), proofs.ProofOutput{
		InputNotes:  []proofs.Note{n1},
		PublicOwner: bob,
		PublicValue: big.NewInt(10),
	})
	requireCode(t, err, xerrors.CodeStorageFailure)
	require.Len(t, f.alerts.events, 1)
	require.Equal(t, xerrors.SeverityCritical, f.alerts.events[0].Severity)
	require.Equal(t, proofHash("withdraw").Hex(), f.alerts.events[0].ProofHash)
}

func TestCategoryGating(t *testing.T) {
	ctx := context.Background()
	plain := newFixture(t, CreateRequest{})

	_, err := plain.service.Apply(ctx, registryAddr, proofs.JoinSplitProof, proofHash("convert"), proofs.ProofOutput{
		PublicOwner: alice,
		PublicValue: big.NewInt(-1),
	})
	requireCode(t, err, xerrors.CodeUnsupportedOperation)

	_, err = plain.service.Apply(ctx, registryAddr, proofs.MintProof, proofHash("mint"), proofs.ProofOutput{
		InputNotes:  []proofs.Note{{NoteHash: proofs.ZeroNoteHash}},
		OutputNotes: []proofs.Note{note(alice, "supply")},
	})
	requireCode(t, err, xerrors.CodeUnsupportedOperation)

	utility := proofs.NewProofType(1, proofs.CategoryUtility, 1)
	_, err = plain.service.Apply(ctx, registryAddr, utility, proofHash("utility"), proofs.ProofOutput{})
	requireCode(t, err, xerrors.CodeUnsupportedOperation)

	// 纯机密转账不需要任何能力
	_, err = plain.service.Apply(ctx, registryAddr, proofs.JoinSplitProof, proofHash("confidential"), proofs.ProofOutput{
		OutputNotes: []proofs.Note{note(alice, "gift")},
	})
	require.NoError(t, err)
}

func TestMintAndBurnTrackSupplyCommitments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, CreateRequest{CanAdjustSupply: true})
	supply1 := note(registryAddr, "supply-1")
	minted := note(alice, "minted")

	_, err := f.service.Apply(ctx, registryAddr, proofs.MintProof, proofHash("mint-bad"), proofs.ProofOutput{
		InputNotes:  []proofs.Note{note(registryAddr, "not-current")},
		OutputNotes: []proofs.Note{supply1, minted},
	})
	requireCode(t, err, xerrors.CodeInvalidProof)

	_, err = f.service.Apply(ctx, registryAddr, proofs.MintProof, proofHash("mint-pv"), proofs.ProofOutput{
		InputNotes:  []proofs.Note{{NoteHash: proofs.ZeroNoteHash}},
		OutputNotes: []proofs.Note{supply1, minted},
		PublicOwner: alice,
		PublicValue: big.NewInt(3),
	})
	requireCode(t, err, xerrors.CodeInvalidProof)

	receipt, err := f.service.Apply(ctx, registryAddr, proofs.MintProof, proofHash("mint"), proofs.ProofOutput{
		InputNotes:  []proofs.Note{{NoteHash: proofs.ZeroNoteHash}},
		OutputNotes: []proofs.Note{supply1, minted},
	})
	require.NoError(t, err)
	require.Equal(t, []common.Hash{minted.NoteHash}, receipt.Created)

	registry, err := f.service.Registry(ctx, registryAddr)
	require.NoError(t, err)
	require.Equal(t, supply1.NoteHash, registry.ConfidentialTotalMinted)
	_, err = f.service.Note(ctx, registryAddr, supply1.NoteHash)
	requireCode(t, err, xerrors.CodeNoteNotFound)

	burned := note(registryAddr, "burned-1")
	receipt, err = f.service.Apply(ctx, registryAddr, proofs.BurnProof, proofHash("burn"), proofs.ProofOutput{
		InputNotes:  []proofs.Note{{NoteHash: proofs.ZeroNoteHash}, minted},
		OutputNotes: []proofs.Note{burned},
	})
	require.NoError(t, err)
	require.Equal(t, []common.Hash{minted.NoteHash}, receipt.Spent)

	registry, err = f.service.Registry(ctx, registryAddr)
	require.NoError(t, err)
	require.Equal(t, burned.NoteHash, registry.ConfidentialTotalBurned)
	record, err := f.service.Note(ctx, registryAddr, minted.NoteHash)
	require.NoError(t, err)
	require.Equal(t, NoteSpent, record.Status)
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	var k keyedMutex
	unlockA := k.Lock(alice)
	unlockB := k.Lock(bob)
	unlockB()
	unlockA()
	require.Empty(t, k.locks)
}

// transferFailingLedger 让 Transfer 始终失败，其余调用透传。
type transferFailingLedger struct {
	token.Ledger
	err error
}

func (l transferFailingLedger) Transfer(context.Context, common.Address, *big.Int) error {
	return l.err
}

func TestPayoutFailureAfterMintAlerts(t *testing.T) {
	ctx := context.Background()
	tok := token.NewMemoryToken("ZKD", treasury, engineAddr)
	dir := token.NewDirectory()
	dir.Register(tokenAddr, transferFailingLedger{Ledger: tok.Operator(engineAddr), err: errors.New("execution reverted")})
	alerts := &recordingDispatcher{}
	svc := NewService(NewMemoryStore(), dir, engineAddr, WithAlerts(alerts))
	_, err := svc.Create(ctx, CreateRequest{
		Owner:           registryAddr,
		LinkedToken:     tokenAddr,
		ScalingFactor:   big.NewInt(10),
		CanConvert:      true,
		CanAdjustSupply: true,
	})
	require.NoError(t, err)

	_, err = svc.Apply(ctx, registryAddr, proofs.JoinSplitProof, proofHash("withdraw"), proofs.ProofOutput{
		PublicOwner: bob,
		PublicValue: big.NewInt(5),
	})
	require.Error(t, err)

	// 铸造已生效而支付失败，代币留在引擎账户，注册表保持原状
	require.Equal(t, int64(50), tok.BalanceOfAccount(engineAddr).Int64())
	require.Zero(t, tok.BalanceOfAccount(bob).Sign())
	registry, err := svc.Registry(ctx, registryAddr)
	require.NoError(t, err)
	require.Zero(t, registry.TotalSupply.Sign())

	require.Len(t, alerts.events, 1)
	require.Equal(t, xerrors.SeverityCritical, alerts.events[0].Severity)
	require.Equal(t, proofHash("withdraw").Hex(), alerts.events[0].ProofHash)
}
