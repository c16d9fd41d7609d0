package ledger

// memory.go — ledger custodial en memoria.
//
// Modelo ERC-20 simplificado: balances por cuenta y un allowance por cuenta
// hacia la custodia del motor. Se usa en escenarios, en el modo serve sin
// cadena, y en tests.

import (
	"context"
	"fmt"
	"sync"

	"github.com/alejandrodnm/auctionbets/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Memory implementa ports.Ledger sin red.
type Memory struct {
	custody common.Address

	mu         sync.Mutex
	balances   map[common.Address]uint256.Int
	allowances map[common.Address]uint256.Int
}

// NewMemory crea un ledger vacío cuya cuenta de custodia es custody.
func NewMemory(custody common.Address) *Memory {
	return &Memory{
		custody:    custody,
		balances:   make(map[common.Address]uint256.Int),
		allowances: make(map[common.Address]uint256.Int),
	}
}

// Custody devuelve la cuenta de custodia del motor.
func (l *Memory) Custody() common.Address { return l.custody }

// Mint acredita amount a to. Solo para fondear cuentas en simulación.
func (l *Memory) Mint(to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balances[to]
	if _, overflow := bal.AddOverflow(&bal, amount); overflow {
		return fmt.Errorf("ledger.Mint: %w", domain.ErrOverflow)
	}
	l.balances[to] = bal
	return nil
}

// Approve fija el allowance de owner hacia la custodia (reemplaza, no suma).
func (l *Memory) Approve(owner common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[owner] = *amount
}

// BalanceOf devuelve el balance de account.
func (l *Memory) BalanceOf(account common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balances[account]
	return &bal
}

// Allowance devuelve lo que owner todavía permite mover a la custodia.
func (l *Memory) Allowance(owner common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.allowances[owner]
	return &a
}

// TransferIn mueve amount de from a la custodia consumiendo allowance.
func (l *Memory) TransferIn(_ context.Context, from common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	allowance := l.allowances[from]
	if allowance.Lt(amount) {
		return fmt.Errorf("ledger.TransferIn: %w: have %s, need %s",
			domain.ErrInsufficientAllowance, allowance.Dec(), amount.Dec())
	}
	if err := l.moveLocked(from, l.custody, amount); err != nil {
		return fmt.Errorf("ledger.TransferIn: %w", err)
	}
	allowance.Sub(&allowance, amount)
	l.allowances[from] = allowance
	return nil
}

// TransferOut mueve amount de la custodia a to.
func (l *Memory) TransferOut(_ context.Context, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.moveLocked(l.custody, to, amount); err != nil {
		return fmt.Errorf("ledger.TransferOut: %w", err)
	}
	return nil
}

func (l *Memory) moveLocked(from, to common.Address, amount *uint256.Int) error {
	src := l.balances[from]
	if src.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, need %s",
			domain.ErrInsufficientBalance, from.Hex(), src.Dec(), amount.Dec())
	}
	if from == to {
		return nil
	}
	dst := l.balances[to]
	if _, overflow := dst.AddOverflow(&dst, amount); overflow {
		return domain.ErrOverflow
	}
	src.Sub(&src, amount)
	l.balances[from] = src
	l.balances[to] = dst
	return nil
}
