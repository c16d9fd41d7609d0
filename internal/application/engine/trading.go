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

// Buy deposita amountIn en el lado dado y emite shares según la curva lineal.
// Falla con ErrSlippageExceeded si la curva entrega menos de minSharesOut.
//
// Orden: validaciones → simulación completa (pool y posición) → TransferIn →
// confirmación. Si el ledger falla no queda ningún efecto, salvo que la
// transferencia haya quedado pendiente: entonces el trade se acredita, se
// registra como PendingTransfer y se devuelve junto con ErrTransferPending.
func (e *Engine) Buy(ctx context.Context, caller common.Address, marketID uint64, side domain.Side, amountIn, minSharesOut *uint256.Int) (domain.TradeQuote, error) {
	if err := e.lock(ctx); err != nil {
		return domain.TradeQuote{}, rejected("Buy", err)
	}
	defer e.mu.Unlock()

	m, q, err := e.quoteLocked(marketID, side, amountIn)
	if err != nil {
		return domain.TradeQuote{}, rejected("Buy", err, "market_id", marketID, "side", side)
	}
	if q.SharesOut.Lt(minSharesOut) {
		return domain.TradeQuote{}, rejected("Buy",
			fmt.Errorf("%w: got %s, want >= %s", domain.ErrSlippageExceeded, q.SharesOut.Dec(), minSharesOut.Dec()),
			"market_id", marketID)
	}

	nextMarket, err := m.WithTrade(q)
	if err != nil {
		return domain.TradeQuote{}, rejected("Buy", err, "market_id", marketID)
	}
	nextPos, err := e.position(marketID, caller).WithTrade(q)
	if err != nil {
		return domain.TradeQuote{}, rejected("Buy", err, "market_id", marketID)
	}

	if err := e.ledger.TransferIn(e.external(ctx), caller, amountIn); err != nil {
		var pending *domain.PendingTransferError
		if !errors.As(err, &pending) {
			return domain.TradeQuote{}, rejected("Buy", fmt.Errorf("transfer in: %w", err),
				"market_id", marketID, "caller", caller.Hex())
		}
		// El stake puede llegar a custodia: se acredita y queda por reconciliar.
		e.commitTrade(ctx, caller, m, nextMarket, nextPos, q, pending.TxHash)
		e.recordPending(ctx, domain.PendingTransfer{
			TxHash:    pending.TxHash,
			Direction: domain.TransferIn,
			MarketID:  marketID,
			Account:   caller,
			Amount:    q.AmountIn,
			Side:      side,
			Shares:    q.SharesOut,
		})
		return q, fmt.Errorf("engine.Buy: transfer in: %w", err)
	}

	e.commitTrade(ctx, caller, m, nextMarket, nextPos, q, common.Hash{})
	return q, nil
}

// commitTrade confirma un trade ya simulado. Requiere e.mu.
func (e *Engine) commitTrade(ctx context.Context, caller common.Address, m *domain.Market, next domain.Market, pos domain.Position, q domain.TradeQuote, txHash common.Hash) {
	*m = next
	e.putPosition(pos)

	e.persistMarket(ctx, next)
	e.persistPosition(ctx, pos)
	e.emit(ctx, domain.Event{
		Kind:     domain.EventSharesBought,
		Caller:   caller,
		Subject:  m.Subject,
		MarketID: m.ID,
		Side:     q.Side,
		Amount:   q.AmountIn,
		Shares:   q.SharesOut,
		Price:    q.AvgPrice,
		TxHash:   txHash,
	})
	slog.Info("engine: shares bought",
		"market_id", m.ID,
		"side", q.Side,
		"caller", caller.Hex(),
		"amount_in", q.AmountIn.Dec(),
		"shares_out", q.SharesOut.Dec(),
		"avg_price", q.AvgPrice.Dec(),
	)
}

// PreviewBuy devuelve lo que Buy emitiría ahora mismo, con las mismas
// validaciones, sin mover fondos ni tocar el libro.
func (e *Engine) PreviewBuy(ctx context.Context, marketID uint64, side domain.Side, amountIn *uint256.Int) (domain.TradeQuote, error) {
	if err := e.lock(ctx); err != nil {
		return domain.TradeQuote{}, rejected("PreviewBuy", err)
	}
	defer e.mu.Unlock()

	_, q, err := e.quoteLocked(marketID, side, amountIn)
	if err != nil {
		return domain.TradeQuote{}, fmt.Errorf("engine.PreviewBuy: %w", err)
	}
	return q, nil
}

// quoteLocked aplica las validaciones de compra en el orden documentado y
// simula el trade. Requiere e.mu.
func (e *Engine) quoteLocked(marketID uint64, side domain.Side, amountIn *uint256.Int) (*domain.Market, domain.TradeQuote, error) {
	if amountIn.IsZero() || amountIn.Lt(&e.cfg.MinStake) {
		return nil, domain.TradeQuote{}, fmt.Errorf("%w: %s < %s", domain.ErrBelowMinimum, amountIn.Dec(), e.cfg.MinStake.Dec())
	}
	if !side.Valid() {
		return nil, domain.TradeQuote{}, fmt.Errorf("%w: %q", domain.ErrInvalidSide, side)
	}
	m, err := e.market(marketID)
	if err != nil {
		return nil, domain.TradeQuote{}, err
	}
	if m.Outcome.Resolved() {
		return nil, domain.TradeQuote{}, domain.ErrAlreadyResolved
	}
	cfg, ok := e.subjects[m.Subject]
	if !ok {
		return nil, domain.TradeQuote{}, domain.ErrNotConfigured
	}
	if !cfg.TradingOpen(e.now()) {
		return nil, domain.TradeQuote{}, domain.ErrTradingClosed
	}
	q, err := domain.QuoteTrade(*m, side, amountIn)
	if err != nil {
		return nil, domain.TradeQuote{}, err
	}
	return m, q, nil
}
