package domain

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingTransferError_Unwrap(t *testing.T) {
	hash := common.HexToHash("0xabc")
	err := error(&PendingTransferError{TxHash: hash, Err: context.DeadlineExceeded})

	assert.ErrorIs(t, err, ErrTransferPending)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), hash.Hex())

	var pending *PendingTransferError
	require.True(t, errors.As(err, &pending))
	assert.Equal(t, hash, pending.TxHash)
}

func TestWithoutTrade_UndoesWithTrade(t *testing.T) {
	m, _ := applyQuote(t, emptyMarket(), SideNo, 250)
	before := m
	m, q := applyQuote(t, m, SideYes, 100)

	p, err := Position{MarketID: 1}.WithTrade(q)
	require.NoError(t, err)

	m, err = m.WithoutTrade(SideYes, &q.AmountIn, &q.SharesOut)
	require.NoError(t, err)
	assert.Equal(t, before, m)

	p, err = p.WithoutTrade(SideYes, &q.AmountIn, &q.SharesOut)
	require.NoError(t, err)
	assert.True(t, p.Empty())
}

func TestWithoutTrade_RejectsMoreThanCredited(t *testing.T) {
	m, q := applyQuote(t, emptyMarket(), SideYes, 100)

	_, err := m.WithoutTrade(SideYes, amt(101), &q.SharesOut)
	assert.ErrorIs(t, err, ErrOverflow)
	_, err = m.WithoutTrade(SideNo, &q.AmountIn, &q.SharesOut)
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = Position{MarketID: 1}.WithoutTrade(SideYes, amt(1), amt(0))
	assert.ErrorIs(t, err, ErrOverflow)
}
