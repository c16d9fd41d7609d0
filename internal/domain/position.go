package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Position es la posición de una cuenta en un mercado.
// Claimed pasa a true una sola vez; después no hay más pagos.
type Position struct {
	MarketID  uint64
	Account   common.Address
	YesShares uint256.Int
	NoShares  uint256.Int
	Staked    uint256.Int // total depositado por la cuenta, ambos lados
	Claimed   bool
	Payout    uint256.Int
	ClaimedAt time.Time
}

// SharesOn devuelve las shares de la cuenta en el lado dado.
func (p Position) SharesOn(side Side) *uint256.Int {
	if side == SideYes {
		return p.YesShares.Clone()
	}
	return p.NoShares.Clone()
}

// Empty devuelve true si la cuenta nunca operó en el mercado.
func (p Position) Empty() bool {
	return p.YesShares.IsZero() && p.NoShares.IsZero() && p.Staked.IsZero()
}

// WithTrade devuelve una copia de la posición con el trade acreditado.
func (p Position) WithTrade(q TradeQuote) (Position, error) {
	shares, err := addChecked(p.SharesOn(q.Side), &q.SharesOut)
	if err != nil {
		return p, err
	}
	staked, err := addChecked(&p.Staked, &q.AmountIn)
	if err != nil {
		return p, err
	}
	next := p
	if q.Side == SideYes {
		next.YesShares = *shares
	} else {
		next.NoShares = *shares
	}
	next.Staked = *staked
	return next, nil
}
