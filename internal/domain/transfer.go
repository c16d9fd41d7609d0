package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TransferDirection indica hacia dónde se movían los fondos.
type TransferDirection string

const (
	TransferIn  TransferDirection = "IN"  // stake de una compra hacia custodia
	TransferOut TransferDirection = "OUT" // payout de un claim desde custodia
)

// TransferStatus es el estado on-chain de una transferencia ya emitida.
type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "PENDING"
	TransferStatusConfirmed TransferStatus = "CONFIRMED"
	TransferStatusFailed    TransferStatus = "FAILED"
)

// PendingTransfer es una transferencia emitida al ledger cuya confirmación no
// llegó a tiempo. El libro ya la refleja: una compra quedó acreditada, o un
// claim quedó marcado. Se mantiene hasta reconciliarla.
type PendingTransfer struct {
	TxHash    common.Hash
	Direction TransferDirection
	MarketID  uint64
	Account   common.Address
	Amount    uint256.Int
	Side      Side        // lado de la compra, o lado ganador del claim
	Shares    uint256.Int // shares acreditadas por la compra; cero en claims
	At        time.Time
}

// ReconciledTransfer es una transferencia pendiente que ya tiene estado final.
type ReconciledTransfer struct {
	Transfer PendingTransfer
	Status   TransferStatus
}

// PendingTransferError lo devuelve un ledger cuando la transacción salió pero
// no hay receipt. Nada garantiza que no se vaya a ejecutar.
type PendingTransferError struct {
	TxHash common.Hash
	Err    error
}

func (e *PendingTransferError) Error() string {
	return fmt.Sprintf("%s: tx %s: %v", ErrTransferPending, e.TxHash.Hex(), e.Err)
}

func (e *PendingTransferError) Unwrap() []error { return []error{ErrTransferPending, e.Err} }

// WithoutTrade revierte un trade acreditado con un depósito que nunca llegó.
func (m Market) WithoutTrade(side Side, amount, shares *uint256.Int) (Market, error) {
	pool, shareTotal := m.Pool(side), m.Shares(side)
	if pool.Lt(amount) || shareTotal.Lt(shares) {
		return m, fmt.Errorf("%w: revert exceeds market %d totals", ErrOverflow, m.ID)
	}
	pool.Sub(pool, amount)
	shareTotal.Sub(shareTotal, shares)
	next := m
	if side == SideYes {
		next.YesPool, next.YesShares = *pool, *shareTotal
	} else {
		next.NoPool, next.NoShares = *pool, *shareTotal
	}
	return next, nil
}

// WithoutTrade revierte en la posición un trade cuyo depósito falló.
func (p Position) WithoutTrade(side Side, amount, shares *uint256.Int) (Position, error) {
	held := p.SharesOn(side)
	if held.Lt(shares) || p.Staked.Lt(amount) {
		return p, fmt.Errorf("%w: revert exceeds position %d/%s", ErrOverflow, p.MarketID, p.Account.Hex())
	}
	held.Sub(held, shares)
	next := p
	if side == SideYes {
		next.YesShares = *held
	} else {
		next.NoShares = *held
	}
	next.Staked.Sub(&p.Staked, amount)
	return next, nil
}
