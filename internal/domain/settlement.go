package domain

import "github.com/holiman/uint256"

// ClaimPayout calcula lo que cobra p en el mercado resuelto m:
//
//	payout = winningShares · (yesPool+noPool) / totalWinningShares
//
// La división trunca, así que la suma de todos los pagos nunca supera el pool;
// el polvo de redondeo queda en custodia.
func ClaimPayout(m Market, p Position) (*uint256.Int, error) {
	if !m.Outcome.Resolved() {
		return nil, ErrNotResolved
	}
	if p.Claimed {
		return nil, ErrAlreadyClaimed
	}
	winning := m.Outcome.WinningSide()
	mine := p.SharesOn(winning)
	if mine.IsZero() {
		return nil, ErrNothingToClaim
	}
	// mine > 0 implica que el lado ganador tiene shares emitidas.
	return mulDiv(mine, m.TotalPool(), m.Shares(winning))
}
