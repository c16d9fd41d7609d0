package domain

// pricing.go — curva de precio lineal de dos puntos.
//
// Para un stake amountIn en el lado S:
//
//	p0  = pool(S)·U / total          (U/2 si total == 0)
//	p1  = (pool(S)+amountIn)·U / (total+amountIn)
//	avg = (p0+p1) / 2
//	out = amountIn·U / avg
//
// Todas las divisiones truncan; el pool recibe siempre el amountIn completo.

import "github.com/holiman/uint256"

// TradeQuote es el resultado de simular un stake sobre un mercado.
type TradeQuote struct {
	Side      Side
	AmountIn  uint256.Int
	P0        uint256.Int // precio del lado antes del trade
	P1        uint256.Int // precio del lado después del trade
	AvgPrice  uint256.Int
	SharesOut uint256.Int
}

// PoolQuote es el precio implícito de cada lado según la razón de pools.
type PoolQuote struct {
	Yes uint256.Int
	No  uint256.Int
}

// SidePrice devuelve pool·U/total, o U/2 si el mercado está vacío.
func SidePrice(pool, total *uint256.Int) (*uint256.Int, error) {
	if total.IsZero() {
		return HalfUnit(), nil
	}
	return mulDiv(pool, Unit(), total)
}

// QuotePools devuelve el precio YES y NO del mercado.
// Con pools vacíos ambos valen U/2.
func QuotePools(m Market) (PoolQuote, error) {
	total := m.TotalPool()
	yes, err := SidePrice(&m.YesPool, total)
	if err != nil {
		return PoolQuote{}, err
	}
	no, err := SidePrice(&m.NoPool, total)
	if err != nil {
		return PoolQuote{}, err
	}
	return PoolQuote{Yes: *yes, No: *no}, nil
}

// QuoteTrade simula un stake de amountIn en side sin tocar el mercado.
// amountIn debe ser > 0; con eso p1 > 0 y avg nunca es cero.
func QuoteTrade(m Market, side Side, amountIn *uint256.Int) (TradeQuote, error) {
	if !side.Valid() {
		return TradeQuote{}, ErrInvalidSide
	}
	if amountIn.IsZero() {
		return TradeQuote{}, ErrBelowMinimum
	}

	total0 := m.TotalPool()
	pool0 := m.Pool(side)

	p0, err := SidePrice(pool0, total0)
	if err != nil {
		return TradeQuote{}, err
	}

	postPool, err := addChecked(pool0, amountIn)
	if err != nil {
		return TradeQuote{}, err
	}
	postTotal, err := addChecked(total0, amountIn)
	if err != nil {
		return TradeQuote{}, err
	}
	p1, err := mulDiv(postPool, Unit(), postTotal)
	if err != nil {
		return TradeQuote{}, err
	}

	// p0, p1 <= U, la suma no desborda.
	avg := new(uint256.Int).Add(p0, p1)
	avg.Rsh(avg, 1)

	out, err := mulDiv(amountIn, Unit(), avg)
	if err != nil {
		return TradeQuote{}, err
	}

	return TradeQuote{
		Side:      side,
		AmountIn:  *amountIn,
		P0:        *p0,
		P1:        *p1,
		AvgPrice:  *avg,
		SharesOut: *out,
	}, nil
}
