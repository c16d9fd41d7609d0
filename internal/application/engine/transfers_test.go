package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/auctionbets/internal/adapters/ledger"
	"github.com/alejandrodnm/auctionbets/internal/application/engine"
	"github.com/alejandrodnm/auctionbets/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// laggingLedger emite transferencias cuyo receipt no llega a tiempo, como un
// nodo atrasado. Con reverts=true la tx termina revertida y no mueve fondos.
type laggingLedger struct {
	*ledger.Memory
	lagIn, lagOut bool
	reverts       bool
	nonce         byte
	status        map[common.Hash]domain.TransferStatus
}

func newLaggingLedger(m *ledger.Memory) *laggingLedger {
	return &laggingLedger{Memory: m, status: make(map[common.Hash]domain.TransferStatus)}
}

func (l *laggingLedger) TransferIn(ctx context.Context, from common.Address, amount *uint256.Int) error {
	if !l.lagIn {
		return l.Memory.TransferIn(ctx, from, amount)
	}
	return l.broadcast(func() error { return l.Memory.TransferIn(ctx, from, amount) })
}

func (l *laggingLedger) TransferOut(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if !l.lagOut {
		return l.Memory.TransferOut(ctx, to, amount)
	}
	return l.broadcast(func() error { return l.Memory.TransferOut(ctx, to, amount) })
}

func (l *laggingLedger) broadcast(move func() error) error {
	l.nonce++
	hash := common.BytesToHash([]byte{0xee, l.nonce})
	if l.reverts {
		l.status[hash] = domain.TransferStatusFailed
	} else {
		if err := move(); err != nil {
			return err
		}
		l.status[hash] = domain.TransferStatusPending
	}
	return &domain.PendingTransferError{TxHash: hash, Err: context.DeadlineExceeded}
}

func (l *laggingLedger) TransferStatus(_ context.Context, txHash common.Hash) (domain.TransferStatus, error) {
	if s, ok := l.status[txHash]; ok {
		return s, nil
	}
	return domain.TransferStatusPending, nil
}

// confirmAll simula que el nodo por fin minó las txs pendientes.
func (l *laggingLedger) confirmAll() {
	for h, s := range l.status {
		if s == domain.TransferStatusPending {
			l.status[h] = domain.TransferStatusConfirmed
		}
	}
}

func withLaggingLedger(h *harness) *laggingLedger {
	l := newLaggingLedger(h.ledger)
	h.eng = engine.New(engine.Config{Operator: operator, Now: h.clock.Now}, l, nil, h.sink)
	return l
}

func resolvedYesNoMarket(h *harness) uint64 {
	h.t.Helper()
	id := yesNoMarket(h)
	h.clock.Advance(time.Hour)
	h.settle(painting, 1500)
	_, err := h.eng.ResolveOne(h.ctx, operator, id)
	require.NoError(h.t, err)
	return id
}

func TestClaim_UnconfirmedPayoutKeepsClaim(t *testing.T) {
	h := newHarness(t)
	l := withLaggingLedger(h)
	id := resolvedYesNoMarket(h)
	l.lagOut = true

	paid, err := h.eng.Claim(h.ctx, alice, id)
	require.ErrorIs(t, err, domain.ErrTransferPending)
	assert.Equal(t, domain.CategoryPending, domain.Classify(err))
	assert.Equal(t, uint64(200), paid.Uint64())

	p, err := h.eng.Position(h.ctx, id, alice)
	require.NoError(t, err)
	assert.True(t, p.Claimed)

	// Un segundo claim con el pago en vuelo no vuelve a pagar.
	l.lagOut = false
	_, err = h.eng.Claim(h.ctx, alice, id)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	assert.Equal(t, uint64(200), h.ledger.BalanceOf(alice).Uint64())
	assert.Zero(t, h.ledger.BalanceOf(custody).Uint64())

	pending, err := h.eng.PendingTransfers(h.ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.TransferOut, pending[0].Direction)
	assert.Equal(t, alice, pending[0].Account)
	assert.Equal(t, uint64(200), pending[0].Amount.Uint64())

	kinds := h.sink.kinds()
	assert.Equal(t, []domain.EventKind{domain.EventPayoutClaimed, domain.EventTransferPending}, kinds[len(kinds)-2:])
	assert.Equal(t, pending[0].TxHash, h.sink.events[len(h.sink.events)-1].TxHash)

	l.confirmAll()
	done, err := h.eng.Reconcile(h.ctx, operator)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, domain.TransferStatusConfirmed, done[0].Status)

	pending, err = h.eng.PendingTransfers(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	p, err = h.eng.Position(h.ctx, id, alice)
	require.NoError(t, err)
	assert.True(t, p.Claimed)
}

func TestBuy_UnconfirmedDepositIsCredited(t *testing.T) {
	h := newHarness(t)
	l := withLaggingLedger(h)
	h.fund(alice, 100)
	h.configure(painting, time.Hour)
	id := h.create(painting, 1000)
	l.lagIn = true

	q, err := h.eng.Buy(h.ctx, alice, id, domain.SideYes, amt(100), amt(0))
	require.ErrorIs(t, err, domain.ErrTransferPending)
	assert.Equal(t, uint64(133), q.SharesOut.Uint64())

	// El stake está en custodia y el libro lo refleja.
	assert.Equal(t, uint64(100), h.ledger.BalanceOf(custody).Uint64())
	m, err := h.eng.Market(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), m.YesPool.Uint64())
	p, err := h.eng.Position(h.ctx, id, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(133), p.YesShares.Uint64())

	// Con el depósito sin confirmar el mercado no se resuelve.
	h.clock.Advance(time.Hour)
	h.settle(painting, 1500)
	_, err = h.eng.ResolveOne(h.ctx, operator, id)
	assert.ErrorIs(t, err, domain.ErrPendingDeposits)
	ids, err := h.eng.ResolveAllForSubject(h.ctx, operator, painting)
	require.NoError(t, err)
	assert.Empty(t, ids)

	l.confirmAll()
	done, err := h.eng.Reconcile(h.ctx, operator)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, domain.TransferIn, done[0].Transfer.Direction)

	ids, err = h.eng.ResolveAllForSubject(h.ctx, operator, painting)
	require.NoError(t, err)
	assert.Equal(t, []uint64{id}, ids)
	paid, err := h.eng.Claim(h.ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), paid.Uint64())
}

func TestReconcile_FailedDepositIsReverted(t *testing.T) {
	h := newHarness(t)
	l := withLaggingLedger(h)
	h.fund(alice, 100)
	h.fund(bob, 50)
	h.configure(painting, time.Hour)
	id := h.create(painting, 1000)
	h.buy(bob, id, domain.SideNo, 50)
	before, err := h.eng.Market(h.ctx, id)
	require.NoError(t, err)

	l.lagIn, l.reverts = true, true
	_, err = h.eng.Buy(h.ctx, alice, id, domain.SideYes, amt(100), amt(0))
	require.ErrorIs(t, err, domain.ErrTransferPending)

	done, err := h.eng.Reconcile(h.ctx, operator)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, domain.TransferStatusFailed, done[0].Status)

	m, err := h.eng.Market(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before, m)
	assert.Equal(t, m.TotalPool().Uint64(), h.ledger.BalanceOf(custody).Uint64())
	p, err := h.eng.Position(h.ctx, id, alice)
	require.NoError(t, err)
	assert.True(t, p.Empty())
	assert.Equal(t, domain.EventTransferFailed, h.sink.events[len(h.sink.events)-1].Kind)
}

func TestReconcile_FailedPayoutReleasesClaim(t *testing.T) {
	h := newHarness(t)
	l := withLaggingLedger(h)
	id := resolvedYesNoMarket(h)

	l.lagOut, l.reverts = true, true
	_, err := h.eng.Claim(h.ctx, alice, id)
	require.ErrorIs(t, err, domain.ErrTransferPending)
	assert.Zero(t, h.ledger.BalanceOf(alice).Uint64())

	done, err := h.eng.Reconcile(h.ctx, operator)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, domain.TransferStatusFailed, done[0].Status)

	p, err := h.eng.Position(h.ctx, id, alice)
	require.NoError(t, err)
	assert.False(t, p.Claimed)
	assert.True(t, p.Payout.IsZero())

	l.lagOut, l.reverts = false, false
	paid, err := h.eng.Claim(h.ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), paid.Uint64())
	assert.Equal(t, uint64(200), h.ledger.BalanceOf(alice).Uint64())
}

func TestReconcile_LeavesUnminedTransfers(t *testing.T) {
	h := newHarness(t)
	l := withLaggingLedger(h)
	id := resolvedYesNoMarket(h)
	l.lagOut = true
	_, err := h.eng.Claim(h.ctx, alice, id)
	require.ErrorIs(t, err, domain.ErrTransferPending)

	done, err := h.eng.Reconcile(h.ctx, operator)
	require.NoError(t, err)
	assert.Empty(t, done)
	pending, err := h.eng.PendingTransfers(h.ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	_, err = h.eng.Reconcile(h.ctx, alice)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestReconcile_PendingSurvivesRestore(t *testing.T) {
	h := newHarness(t)
	l := withLaggingLedger(h)
	h.fund(alice, 100)
	h.configure(painting, time.Hour)
	id := h.create(painting, 1000)
	l.lagIn = true
	_, err := h.eng.Buy(h.ctx, alice, id, domain.SideYes, amt(100), amt(0))
	require.ErrorIs(t, err, domain.ErrTransferPending)

	snap, err := h.eng.Snapshot(h.ctx)
	require.NoError(t, err)
	require.Len(t, snap.Pending, 1)

	// Sin un ledger capaz de consultar receipts no hay forma de cerrarla.
	plain := engine.New(engine.Config{Operator: operator, Now: h.clock.Now}, h.ledger, nil)
	require.NoError(t, plain.Restore(h.ctx, snap))
	_, err = plain.Reconcile(h.ctx, operator)
	assert.ErrorIs(t, err, engine.ErrNoTransferChecker)

	restored := engine.New(engine.Config{Operator: operator, Now: h.clock.Now}, l, nil)
	require.NoError(t, restored.Restore(h.ctx, snap))
	h.clock.Advance(time.Hour)
	_, err = restored.SetClearingPrice(h.ctx, operator, painting, amt(1500))
	require.NoError(t, err)
	_, err = restored.ResolveOne(h.ctx, operator, id)
	assert.ErrorIs(t, err, domain.ErrPendingDeposits)

	l.confirmAll()
	_, err = restored.Reconcile(h.ctx, operator)
	require.NoError(t, err)
	outcome, err := restored.ResolveOne(h.ctx, operator, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeYes, outcome)
}

func TestReconcile_NothingPendingIsNoop(t *testing.T) {
	h := newHarness(t)
	done, err := h.eng.Reconcile(h.ctx, operator)
	require.NoError(t, err)
	assert.Empty(t, done)
}
