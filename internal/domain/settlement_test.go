package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolvedMarket(yesPool, noPool, yesShares, noShares uint64, outcome Outcome) Market {
	m := emptyMarket()
	m.YesPool.SetUint64(yesPool)
	m.NoPool.SetUint64(noPool)
	m.YesShares.SetUint64(yesShares)
	m.NoShares.SetUint64(noShares)
	m.Outcome = outcome
	return m
}

func TestClaimPayout_WinnerTakesWholePool(t *testing.T) {
	m := resolvedMarket(100, 100, 133, 400, OutcomeYes)
	p := Position{MarketID: 1}
	p.YesShares.SetUint64(133)

	payout, err := ClaimPayout(m, p)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), payout.Uint64())
}

func TestClaimPayout_LoserHasNothing(t *testing.T) {
	m := resolvedMarket(100, 100, 133, 400, OutcomeYes)
	p := Position{MarketID: 1}
	p.NoShares.SetUint64(400)

	_, err := ClaimPayout(m, p)
	assert.ErrorIs(t, err, ErrNothingToClaim)
}

func TestClaimPayout_Guards(t *testing.T) {
	p := Position{MarketID: 1}
	p.YesShares.SetUint64(10)

	_, err := ClaimPayout(resolvedMarket(10, 0, 10, 0, OutcomeUndecided), p)
	assert.ErrorIs(t, err, ErrNotResolved)

	p.Claimed = true
	_, err = ClaimPayout(resolvedMarket(10, 0, 10, 0, OutcomeYes), p)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestClaimPayout_DustStaysInPool(t *testing.T) {
	// 3 holders with 1 share each split 100 → 33 each, 1 unit of dust.
	m := resolvedMarket(60, 40, 3, 50, OutcomeYes)
	p := Position{MarketID: 1}
	p.YesShares.SetUint64(1)

	var total uint64
	for i := 0; i < 3; i++ {
		payout, err := ClaimPayout(m, p)
		require.NoError(t, err)
		total += payout.Uint64()
	}
	assert.Equal(t, uint64(99), total)
	assert.LessOrEqual(t, total, m.TotalPool().Uint64())
	assert.Less(t, m.TotalPool().Uint64()-total, uint64(3))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorCategory
	}{
		{nil, CategoryNone},
		{ErrAlreadyConfigured, CategoryConfiguration},
		{fmt.Errorf("engine.Buy: %w", ErrTradingClosed), CategoryLifecycle},
		{ErrSlippageExceeded, CategoryEconomic},
		{ErrAlreadyClaimed, CategoryClaim},
		{ErrUnauthorized, CategoryAuthorization},
		{fmt.Errorf("ledger: %w", ErrInsufficientAllowance), CategoryLedger},
		{ErrPendingDeposits, CategoryLifecycle},
		{&PendingTransferError{Err: context.DeadlineExceeded}, CategoryPending},
		{errors.New("disk on fire"), CategoryInternal},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.err), "err=%v", c.err)
	}
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount(" 1500 ")
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), v.Uint64())

	_, err = ParseAmount("")
	assert.Error(t, err)
	_, err = ParseAmount("-3")
	assert.Error(t, err)
	_, err = ParseAmount("1.5")
	assert.Error(t, err)
}
