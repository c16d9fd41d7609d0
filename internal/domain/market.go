package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Side es uno de los dos lados de un mercado binario.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// ParseSide acepta "yes"/"no" en cualquier combinación de mayúsculas.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideYes:
		return SideYes, nil
	case SideNo:
		return SideNo, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
}

// Valid devuelve true para SideYes y SideNo.
func (s Side) Valid() bool { return s == SideYes || s == SideNo }

// Outcome es el estado de resolución de un mercado.
// Transiciona UNDECIDED → YES|NO una sola vez.
type Outcome string

const (
	OutcomeUndecided Outcome = "UNDECIDED"
	OutcomeYes       Outcome = "YES"
	OutcomeNo        Outcome = "NO"
)

// Resolved devuelve true si el mercado ya tiene resultado.
func (o Outcome) Resolved() bool { return o == OutcomeYes || o == OutcomeNo }

// WinningSide devuelve el lado que cobra. Solo tiene sentido si Resolved().
func (o Outcome) WinningSide() Side {
	if o == OutcomeYes {
		return SideYes
	}
	return SideNo
}

// OutcomeFor compara el precio de cierre con el umbral: YES si price >= threshold.
func OutcomeFor(clearingPrice, threshold *uint256.Int) Outcome {
	if clearingPrice.Cmp(threshold) >= 0 {
		return OutcomeYes
	}
	return OutcomeNo
}

// Market es un mercado binario sobre un subject y un umbral.
// Los pools están en unidades base del activo de liquidación; las shares
// son las emitidas por la curva de precio.
type Market struct {
	ID         uint64
	Subject    common.Address
	Threshold  uint256.Int
	Outcome    Outcome
	YesPool    uint256.Int
	NoPool     uint256.Int
	YesShares  uint256.Int
	NoShares   uint256.Int
	CreatedAt  time.Time
	ResolvedAt time.Time // zero hasta que se resuelve
}

// NewMarket crea un mercado vacío y sin decidir.
func NewMarket(id uint64, subject common.Address, threshold *uint256.Int, now time.Time) Market {
	return Market{
		ID:        id,
		Subject:   subject,
		Threshold: *threshold,
		Outcome:   OutcomeUndecided,
		CreatedAt: now,
	}
}

// TotalPool devuelve yesPool + noPool.
// Los pools suman stakes que ya pasaron por addChecked, así que no desborda.
func (m Market) TotalPool() *uint256.Int {
	return new(uint256.Int).Add(&m.YesPool, &m.NoPool)
}

// Pool devuelve el stake acumulado en el lado dado.
func (m Market) Pool(side Side) *uint256.Int {
	if side == SideYes {
		return m.YesPool.Clone()
	}
	return m.NoPool.Clone()
}

// Shares devuelve las shares emitidas en el lado dado.
func (m Market) Shares(side Side) *uint256.Int {
	if side == SideYes {
		return m.YesShares.Clone()
	}
	return m.NoShares.Clone()
}

// WithTrade devuelve una copia del mercado con el trade aplicado.
// No modifica m: quien llama decide si la copia se confirma.
func (m Market) WithTrade(q TradeQuote) (Market, error) {
	pool, err := addChecked(m.Pool(q.Side), &q.AmountIn)
	if err != nil {
		return m, err
	}
	shares, err := addChecked(m.Shares(q.Side), &q.SharesOut)
	if err != nil {
		return m, err
	}
	if _, err := addChecked(pool, m.Pool(opposite(q.Side))); err != nil {
		return m, err
	}
	next := m
	if q.Side == SideYes {
		next.YesPool, next.YesShares = *pool, *shares
	} else {
		next.NoPool, next.NoShares = *pool, *shares
	}
	return next, nil
}

// Resolve fija el resultado a partir del precio de cierre.
func (m *Market) Resolve(clearingPrice *uint256.Int, now time.Time) error {
	if m.Outcome.Resolved() {
		return ErrAlreadyResolved
	}
	m.Outcome = OutcomeFor(clearingPrice, &m.Threshold)
	m.ResolvedAt = now
	return nil
}

func opposite(s Side) Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}
