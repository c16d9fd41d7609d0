package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SubjectConfig es el registro de subasta de un subject: deadline de trading
// y el precio de cierre inyectado después del deadline.
//
// Deadline se escribe una sola vez al configurar. ClearingPrice solo es
// válido cuando PriceSet es true, y también se escribe una sola vez.
type SubjectConfig struct {
	Subject       common.Address
	Deadline      time.Time
	ClearingPrice uint256.Int
	PriceSet      bool
	ConfiguredAt  time.Time
	PriceSetAt    time.Time
}

// Configured devuelve true si el subject tiene deadline.
func (s SubjectConfig) Configured() bool { return !s.Deadline.IsZero() }

// TradingOpen devuelve true mientras now es estrictamente anterior al deadline.
func (s SubjectConfig) TradingOpen(now time.Time) bool { return now.Before(s.Deadline) }

// Price devuelve el precio de cierre, o nil si todavía no se inyectó.
func (s SubjectConfig) Price() *uint256.Int {
	if !s.PriceSet {
		return nil
	}
	return s.ClearingPrice.Clone()
}
