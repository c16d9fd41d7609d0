package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/auctionbets/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Claim paga a caller su parte pro-rata del pool combinado de un mercado
// resuelto. El flag claimed se fija antes de TransferOut y solo se revierte si
// el ledger garantiza que no se movió nada. Con ErrTransferPending el claim
// queda marcado, se registra como PendingTransfer y se devuelve el payout
// junto con el error.
func (e *Engine) Claim(ctx context.Context, caller common.Address, marketID uint64) (*uint256.Int, error) {
	if err := e.lock(ctx); err != nil {
		return nil, rejected("Claim", err)
	}
	defer e.mu.Unlock()

	m, err := e.market(marketID)
	if err != nil {
		return nil, rejected("Claim", err)
	}
	prev := e.position(marketID, caller)
	payout, err := domain.ClaimPayout(*m, prev)
	if err != nil {
		return nil, rejected("Claim", err, "market_id", marketID, "caller", caller.Hex())
	}

	now := e.now()
	claimed := prev
	claimed.Claimed = true
	claimed.Payout = *payout
	claimed.ClaimedAt = now
	e.putPosition(claimed)

	var txHash common.Hash
	err = e.ledger.TransferOut(e.external(ctx), caller, payout)
	var pending *domain.PendingTransferError
	switch {
	case errors.As(err, &pending):
		// El pago puede ejecutarse: claimed se mantiene.
		txHash = pending.TxHash
	case err != nil:
		e.putPosition(prev)
		return nil, rejected("Claim", fmt.Errorf("transfer out: %w", err),
			"market_id", marketID, "caller", caller.Hex())
	}

	winning := m.Outcome.WinningSide()
	e.persistPosition(ctx, claimed)
	e.emit(ctx, domain.Event{
		Kind:     domain.EventPayoutClaimed,
		At:       now,
		Caller:   caller,
		Subject:  m.Subject,
		MarketID: marketID,
		Side:     winning,
		Amount:   *payout,
		Shares:   *claimed.SharesOn(winning),
		TxHash:   txHash,
	})
	slog.Info("engine: payout claimed",
		"market_id", marketID,
		"caller", caller.Hex(),
		"payout", payout.Dec(),
	)

	if pending != nil {
		e.recordPending(ctx, domain.PendingTransfer{
			TxHash:    txHash,
			Direction: domain.TransferOut,
			MarketID:  marketID,
			Account:   caller,
			Amount:    *payout,
			Side:      winning,
		})
		return payout, fmt.Errorf("engine.Claim: transfer out: %w", err)
	}
	return payout, nil
}

// PreviewClaim devuelve lo que account cobraría con Claim, o el error con
// el que Claim fallaría.
func (e *Engine) PreviewClaim(ctx context.Context, marketID uint64, account common.Address) (*uint256.Int, error) {
	if err := e.lock(ctx); err != nil {
		return nil, rejected("PreviewClaim", err)
	}
	defer e.mu.Unlock()

	m, err := e.market(marketID)
	if err != nil {
		return nil, fmt.Errorf("engine.PreviewClaim: %w", err)
	}
	payout, err := domain.ClaimPayout(*m, e.position(marketID, account))
	if err != nil {
		return nil, fmt.Errorf("engine.PreviewClaim: %w", err)
	}
	return payout, nil
}
