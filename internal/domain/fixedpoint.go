package domain

// fixedpoint.go — aritmética entera de punto fijo.
//
// Los precios se expresan escalados por U = 10^18 (100%). Pools y shares son
// enteros de 256 bits: cada producto seguido de división pasa por mulDiv,
// que trunca hacia cero y falla con ErrOverflow en vez de envolver.

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// UnitScale es U: el valor de punto fijo que representa el 100%.
const UnitScale uint64 = 1_000_000_000_000_000_000

// UnitDecimals es log10(U).
const UnitDecimals = 18

// Unit devuelve una copia nueva de U.
func Unit() *uint256.Int { return uint256.NewInt(UnitScale) }

// HalfUnit devuelve U/2, el precio de referencia de un pool vacío.
func HalfUnit() *uint256.Int { return uint256.NewInt(UnitScale / 2) }

// ParseAmount interpreta un entero decimal sin signo ("1500", "0").
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("domain.ParseAmount: empty amount")
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("domain.ParseAmount: %q: %w", s, err)
	}
	return v, nil
}

// MustAmount es ParseAmount para constantes y tests; panica si s no es válido.
func MustAmount(s string) *uint256.Int {
	v, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return v
}

// mulDiv calcula x*y/d con truncamiento. El producto intermedio es de 512 bits,
// así que solo falla si el cociente final no cabe en 256.
func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("%w: division by zero", ErrOverflow)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// addChecked suma x+y y falla con ErrOverflow si el resultado envuelve.
func addChecked(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}
