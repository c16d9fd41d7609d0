package engine

import (
	"context"
	"log/slog"

	"github.com/alejandrodnm/auctionbets/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// CreateMarket abre un mercado nuevo sobre subject con el umbral dado y
// devuelve su id. Los ids empiezan en 1 y son consecutivos.
// Varios mercados pueden compartir subject y umbral.
func (e *Engine) CreateMarket(ctx context.Context, caller, subject common.Address, threshold *uint256.Int) (uint64, error) {
	if err := e.lock(ctx); err != nil {
		return 0, rejected("CreateMarket", err)
	}
	defer e.mu.Unlock()

	if err := e.authorize(caller); err != nil {
		return 0, rejected("CreateMarket", err, "caller", caller.Hex())
	}
	cfg, ok := e.subjects[subject]
	if !ok || !cfg.Configured() {
		return 0, rejected("CreateMarket", domain.ErrNotConfigured, "subject", subject.Hex())
	}
	now := e.now()
	if !cfg.TradingOpen(now) {
		return 0, rejected("CreateMarket", domain.ErrDeadlineInPast,
			"subject", subject.Hex(), "deadline", cfg.Deadline)
	}

	id := uint64(len(e.markets)) + 1
	m := domain.NewMarket(id, subject, threshold, now)
	e.markets = append(e.markets, m)
	e.bySubject[subject] = append(e.bySubject[subject], id)

	e.persistMarket(ctx, m)
	e.emit(ctx, domain.Event{
		Kind:      domain.EventMarketCreated,
		At:        now,
		Caller:    caller,
		Subject:   subject,
		MarketID:  id,
		Threshold: *threshold,
	})
	slog.Info("engine: market created", "market_id", id, "subject", subject.Hex(), "threshold", threshold.Dec())
	return id, nil
}
