package domain

import "errors"

// Configuration errors.
var (
	ErrAlreadyConfigured = errors.New("subject already configured")
	ErrDeadlineInPast    = errors.New("deadline in past")
	ErrAlreadySet        = errors.New("clearing price already set")
)

// Lifecycle errors.
var (
	ErrNotConfigured   = errors.New("subject not configured")
	ErrMarketNotFound  = errors.New("market not found")
	ErrTradingClosed   = errors.New("trading closed")
	ErrAlreadyResolved = errors.New("market already resolved")
	ErrPriceNotSet     = errors.New("clearing price not set")
	ErrBeforeDeadline  = errors.New("before deadline")
)

// Economic errors.
var (
	ErrBelowMinimum     = errors.New("stake below minimum")
	ErrSlippageExceeded = errors.New("slippage exceeded")
	ErrInvalidSide      = errors.New("invalid side")
	ErrOverflow         = errors.New("arithmetic overflow")
)

// Claim errors.
var (
	ErrNotResolved    = errors.New("market not resolved")
	ErrAlreadyClaimed = errors.New("already claimed")
	ErrNothingToClaim = errors.New("nothing to claim")
)

// Authorization and guard errors.
var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrReentrantCall = errors.New("reentrant call")
)

// Ledger errors, returned by ports.Ledger implementations.
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	// ErrTransferPending: la transacción se emitió pero no se confirmó. La
	// operación quedó aplicada y la transferencia queda para reconciliar.
	ErrTransferPending = errors.New("transfer pending confirmation")
	// ErrPendingDeposits: el mercado tiene depósitos sin confirmar y no se
	// puede resolver todavía.
	ErrPendingDeposits = errors.New("market has unconfirmed deposits")
)

// ErrorCategory agrupa los errores según la taxonomía del motor.
type ErrorCategory string

const (
	CategoryNone          ErrorCategory = ""
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryLifecycle     ErrorCategory = "lifecycle"
	CategoryEconomic      ErrorCategory = "economic"
	CategoryClaim         ErrorCategory = "claim"
	CategoryAuthorization ErrorCategory = "authorization"
	CategoryLedger        ErrorCategory = "ledger"
	CategoryPending       ErrorCategory = "pending"
	CategoryInternal      ErrorCategory = "internal"
)

var categories = []struct {
	cat  ErrorCategory
	errs []error
}{
	// Primero: un pending envuelve además la causa del timeout.
	{CategoryPending, []error{ErrTransferPending}},
	{CategoryConfiguration, []error{ErrAlreadyConfigured, ErrDeadlineInPast, ErrAlreadySet}},
	{CategoryLifecycle, []error{ErrNotConfigured, ErrMarketNotFound, ErrTradingClosed, ErrAlreadyResolved, ErrPriceNotSet, ErrBeforeDeadline, ErrPendingDeposits}},
	{CategoryEconomic, []error{ErrBelowMinimum, ErrSlippageExceeded, ErrInvalidSide, ErrOverflow}},
	{CategoryClaim, []error{ErrNotResolved, ErrAlreadyClaimed, ErrNothingToClaim}},
	{CategoryAuthorization, []error{ErrUnauthorized, ErrReentrantCall}},
	{CategoryLedger, []error{ErrInsufficientBalance, ErrInsufficientAllowance}},
}

// Classify devuelve la categoría de err, recorriendo la cadena de wrapping.
// Un error no nil que no pertenece a la taxonomía es CategoryInternal.
func Classify(err error) ErrorCategory {
	if err == nil {
		return CategoryNone
	}
	for _, c := range categories {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.cat
			}
		}
	}
	return CategoryInternal
}
