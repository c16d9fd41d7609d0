package engine_test

import (
	"context"
	"errors"
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

// --- hostile ledgers ---

// flakyLedger delega en Memory pero puede fallar TransferOut a pedido.
type flakyLedger struct {
	*ledger.Memory
	failOut error
	outs    int
}

func (l *flakyLedger) TransferOut(ctx context.Context, to common.Address, amount *uint256.Int) error {
	l.outs++
	if l.failOut != nil {
		return l.failOut
	}
	return l.Memory.TransferOut(ctx, to, amount)
}

// reentrantLedger intenta volver a entrar al motor desde dentro de la transferencia.
type reentrantLedger struct {
	*ledger.Memory
	eng     *engine.Engine
	errs    []error
	reenter func(ctx context.Context, eng *engine.Engine) error
}

func (l *reentrantLedger) TransferIn(ctx context.Context, from common.Address, amount *uint256.Int) error {
	l.errs = append(l.errs, l.reenter(ctx, l.eng))
	return l.Memory.TransferIn(ctx, from, amount)
}

func (l *reentrantLedger) TransferOut(ctx context.Context, to common.Address, amount *uint256.Int) error {
	l.errs = append(l.errs, l.reenter(ctx, l.eng))
	return l.Memory.TransferOut(ctx, to, amount)
}

// yesNoMarket arma el escenario clásico: alice 100 a YES, bob 100 a NO.
func yesNoMarket(h *harness) uint64 {
	h.t.Helper()
	h.fund(alice, 100)
	h.fund(bob, 100)
	h.configure(painting, time.Hour)
	id := h.create(painting, 1000)
	h.buy(alice, id, domain.SideYes, 100)
	h.buy(bob, id, domain.SideNo, 100)
	return id
}

// --- resolution ---

func TestResolveOne_Guards(t *testing.T) {
	h := newHarness(t)
	id := yesNoMarket(h)

	_, err := h.eng.ResolveOne(h.ctx, operator, 42)
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)

	_, err = h.eng.ResolveOne(h.ctx, operator, id)
	assert.ErrorIs(t, err, domain.ErrPriceNotSet)

	h.clock.Advance(time.Hour)
	_, err = h.eng.ResolveOne(h.ctx, operator, id)
	assert.ErrorIs(t, err, domain.ErrPriceNotSet)

	h.settle(painting, 1500)
	out, err := h.eng.ResolveOne(h.ctx, operator, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeYes, out)

	_, err = h.eng.ResolveOne(h.ctx, operator, id)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
}

func TestResolveOne_ThresholdIsInclusive(t *testing.T) {
	h := newHarness(t)
	h.configure(painting, time.Hour)
	atThreshold := h.create(painting, 1000)
	above := h.create(painting, 1001)
	h.clock.Advance(time.Hour)
	h.settle(painting, 1000)

	out, err := h.eng.ResolveOne(h.ctx, operator, atThreshold)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeYes, out)

	out, err = h.eng.ResolveOne(h.ctx, operator, above)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNo, out)
}

func TestResolveAllForSubject_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.configure(painting, time.Hour)
	h.configure(vase, time.Hour)
	first := h.create(painting, 100)
	other := h.create(vase, 100)
	second := h.create(painting, 200)
	third := h.create(painting, 300)
	h.clock.Advance(time.Hour)
	h.settle(painting, 250)

	// Uno ya resuelto individualmente se salta.
	_, err := h.eng.ResolveOne(h.ctx, operator, second)
	require.NoError(t, err)

	ids, err := h.eng.ResolveAllForSubject(h.ctx, operator, painting)
	require.NoError(t, err)
	assert.Equal(t, []uint64{first, third}, ids)

	for id, want := range map[uint64]domain.Outcome{
		first:  domain.OutcomeYes,
		second: domain.OutcomeYes,
		third:  domain.OutcomeNo,
	} {
		m, err := h.eng.Market(h.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, m.Outcome, "market %d", id)
	}
	m, err := h.eng.Market(h.ctx, other)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUndecided, m.Outcome)

	count := len(h.sink.events)
	ids, err = h.eng.ResolveAllForSubject(h.ctx, operator, painting)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Len(t, h.sink.events, count, "second pass emits nothing")

	var resolvedEvents, subjectEvents int
	for _, e := range h.sink.events {
		switch e.Kind {
		case domain.EventMarketResolved:
			resolvedEvents++
		case domain.EventSubjectResolved:
			subjectEvents++
			assert.Equal(t, []uint64{first, third}, e.MarketIDs)
		}
	}
	assert.Equal(t, 3, resolvedEvents)
	assert.Equal(t, 1, subjectEvents)
}

func TestResolveAllForSubject_Guards(t *testing.T) {
	h := newHarness(t)

	_, err := h.eng.ResolveAllForSubject(h.ctx, operator, painting)
	assert.ErrorIs(t, err, domain.ErrNotConfigured)

	h.configure(painting, time.Hour)
	h.create(painting, 1)
	_, err = h.eng.ResolveAllForSubject(h.ctx, operator, painting)
	assert.ErrorIs(t, err, domain.ErrPriceNotSet)
}

// --- claims ---

func TestClaim_WinnerTakesCombinedPool(t *testing.T) {
	h := newHarness(t)
	id := yesNoMarket(h)
	h.clock.Advance(time.Hour)
	h.settle(painting, 1500)
	_, err := h.eng.ResolveOne(h.ctx, operator, id)
	require.NoError(t, err)

	preview, err := h.eng.PreviewClaim(h.ctx, id, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), preview.Uint64())

	paid, err := h.eng.Claim(h.ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), paid.Uint64())
	assert.Equal(t, uint64(200), h.ledger.BalanceOf(alice).Uint64())
	assert.True(t, h.ledger.BalanceOf(custody).IsZero())

	p, err := h.eng.Position(h.ctx, id, alice)
	require.NoError(t, err)
	assert.True(t, p.Claimed)
	assert.Equal(t, uint64(200), p.Payout.Uint64())

	_, err = h.eng.Claim(h.ctx, bob, id)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
	_, err = h.eng.Claim(h.ctx, carol, id)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
}

func TestClaim_BeforeResolution(t *testing.T) {
	h := newHarness(t)
	id := yesNoMarket(h)

	_, err := h.eng.Claim(h.ctx, alice, id)
	assert.ErrorIs(t, err, domain.ErrNotResolved)
	_, err = h.eng.Claim(h.ctx, alice, 77)
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestClaim_SecondClaimPaysNothing(t *testing.T) {
	h := newHarness(t)
	l := &flakyLedger{Memory: h.ledger}
	h.eng = engine.New(engine.Config{Operator: operator, Now: h.clock.Now}, l, nil, h.sink)
	id := yesNoMarket(h)
	h.clock.Advance(time.Hour)
	h.settle(painting, 10) // NO gana
	_, err := h.eng.ResolveOne(h.ctx, operator, id)
	require.NoError(t, err)

	paid, err := h.eng.Claim(h.ctx, bob, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), paid.Uint64())

	_, err = h.eng.Claim(h.ctx, bob, id)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	assert.Equal(t, 1, l.outs)
	assert.Equal(t, uint64(200), h.ledger.BalanceOf(bob).Uint64())
}

func TestClaim_FailedTransferRevertsClaimedFlag(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("rpc unavailable")
	l := &flakyLedger{Memory: h.ledger, failOut: boom}
	h.eng = engine.New(engine.Config{Operator: operator, Now: h.clock.Now}, l, nil, h.sink)
	id := yesNoMarket(h)
	h.clock.Advance(time.Hour)
	h.settle(painting, 1500)
	_, err := h.eng.ResolveOne(h.ctx, operator, id)
	require.NoError(t, err)

	_, err = h.eng.Claim(h.ctx, alice, id)
	assert.ErrorIs(t, err, boom)

	p, err := h.eng.Position(h.ctx, id, alice)
	require.NoError(t, err)
	assert.False(t, p.Claimed)
	assert.True(t, p.Payout.IsZero())

	l.failOut = nil
	paid, err := h.eng.Claim(h.ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), paid.Uint64())
}

func TestClaim_DustStaysInCustody(t *testing.T) {
	h := newHarness(t)
	h.configure(painting, time.Hour)
	id := h.create(painting, 1)
	for _, who := range []common.Address{alice, bob, carol} {
		h.fund(who, 33)
		h.buy(who, id, domain.SideYes, 33)
	}
	h.fund(operator, 1)
	h.buy(operator, id, domain.SideNo, 1)
	h.clock.Advance(time.Hour)
	h.settle(painting, 1)
	_, err := h.eng.ResolveAllForSubject(h.ctx, operator, painting)
	require.NoError(t, err)

	var total uint64
	for _, who := range []common.Address{alice, bob, carol} {
		paid, err := h.eng.Claim(h.ctx, who, id)
		require.NoError(t, err)
		total += paid.Uint64()
	}
	assert.LessOrEqual(t, total, uint64(100))
	// Cada claim trunca menos de una unidad: el polvo es menor que los claimants.
	assert.Less(t, 100-total, uint64(3))
	assert.Equal(t, 100-total, h.ledger.BalanceOf(custody).Uint64())
}

// --- reentrancy ---

func TestReentrantCallsAreRejected(t *testing.T) {
	h := newHarness(t)
	l := &reentrantLedger{Memory: h.ledger}
	l.reenter = func(ctx context.Context, eng *engine.Engine) error {
		_, err := eng.Buy(ctx, alice, 1, domain.SideYes, amt(10), amt(0))
		return err
	}
	h.eng = engine.New(engine.Config{Operator: operator, Now: h.clock.Now}, l, nil, h.sink)
	l.eng = h.eng

	id := yesNoMarket(h)
	h.clock.Advance(time.Hour)
	h.settle(painting, 1500)
	_, err := h.eng.ResolveOne(h.ctx, operator, id)
	require.NoError(t, err)

	l.reenter = func(ctx context.Context, eng *engine.Engine) error {
		_, err := eng.Claim(ctx, alice, id)
		return err
	}
	paid, err := h.eng.Claim(h.ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), paid.Uint64())

	require.Len(t, l.errs, 3)
	for _, err := range l.errs {
		assert.ErrorIs(t, err, domain.ErrReentrantCall)
	}
	assert.Equal(t, uint64(200), h.ledger.BalanceOf(alice).Uint64())
}

func TestReentrantViewIsRejected(t *testing.T) {
	h := newHarness(t)
	l := &reentrantLedger{Memory: h.ledger}
	l.reenter = func(ctx context.Context, eng *engine.Engine) error {
		_, err := eng.Market(ctx, 1)
		return err
	}
	h.eng = engine.New(engine.Config{Operator: operator, Now: h.clock.Now}, l, nil, h.sink)
	l.eng = h.eng

	h.fund(alice, 10)
	h.configure(painting, time.Hour)
	id := h.create(painting, 1)
	h.buy(alice, id, domain.SideYes, 10)

	require.Len(t, l.errs, 1)
	assert.ErrorIs(t, l.errs[0], domain.ErrReentrantCall)
}
