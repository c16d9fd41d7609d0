package engine

import (
	"context"
	"log/slog"

	"github.com/alejandrodnm/auctionbets/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// ResolveOne resuelve un mercado comparando el precio de cierre de su
// subject con el umbral.
func (e *Engine) ResolveOne(ctx context.Context, caller common.Address, marketID uint64) (domain.Outcome, error) {
	if err := e.lock(ctx); err != nil {
		return "", rejected("ResolveOne", err)
	}
	defer e.mu.Unlock()

	if err := e.authorize(caller); err != nil {
		return "", rejected("ResolveOne", err, "caller", caller.Hex())
	}
	m, err := e.market(marketID)
	if err != nil {
		return "", rejected("ResolveOne", err)
	}
	cfg, err := e.resolvableSubject(m.Subject)
	if err != nil {
		return "", rejected("ResolveOne", err, "market_id", marketID, "subject", m.Subject.Hex())
	}
	if m.Outcome.Resolved() {
		return "", rejected("ResolveOne", domain.ErrAlreadyResolved, "market_id", marketID)
	}
	if e.hasPendingDeposits(marketID) {
		return "", rejected("ResolveOne", domain.ErrPendingDeposits, "market_id", marketID)
	}

	e.resolveLocked(ctx, caller, m, cfg)
	return m.Outcome, nil
}

// ResolveAllForSubject resuelve todos los mercados todavía sin decidir del
// subject con su único precio de cierre. Los ya resueltos se saltan sin error
// y sin evento; los que tienen depósitos pendientes quedan para otra llamada. Devuelve los ids resueltos en esta llamada, en orden.
func (e *Engine) ResolveAllForSubject(ctx context.Context, caller, subject common.Address) ([]uint64, error) {
	if err := e.lock(ctx); err != nil {
		return nil, rejected("ResolveAllForSubject", err)
	}
	defer e.mu.Unlock()

	if err := e.authorize(caller); err != nil {
		return nil, rejected("ResolveAllForSubject", err, "caller", caller.Hex())
	}
	cfg, err := e.resolvableSubject(subject)
	if err != nil {
		return nil, rejected("ResolveAllForSubject", err, "subject", subject.Hex())
	}

	var resolved []uint64
	for _, id := range e.bySubject[subject] {
		m := &e.markets[id-1]
		if m.Outcome.Resolved() {
			continue
		}
		if e.hasPendingDeposits(id) {
			slog.Warn("engine: market deferred, unconfirmed deposits", "market_id", id, "subject", subject.Hex())
			continue
		}
		e.resolveLocked(ctx, caller, m, cfg)
		resolved = append(resolved, id)
	}

	if len(resolved) > 0 {
		e.emit(ctx, domain.Event{
			Kind:      domain.EventSubjectResolved,
			Caller:    caller,
			Subject:   subject,
			Price:     cfg.ClearingPrice,
			MarketIDs: resolved,
		})
	}
	slog.Info("engine: subject resolved",
		"subject", subject.Hex(),
		"resolved", len(resolved),
		"markets", len(e.bySubject[subject]),
	)
	return resolved, nil
}

// resolvableSubject valida que el subject tenga precio de cierre y deadline vencido.
func (e *Engine) resolvableSubject(subject common.Address) (*domain.SubjectConfig, error) {
	cfg, ok := e.subjects[subject]
	if !ok || !cfg.Configured() {
		return nil, domain.ErrNotConfigured
	}
	if !cfg.PriceSet {
		return nil, domain.ErrPriceNotSet
	}
	if cfg.TradingOpen(e.now()) {
		return nil, domain.ErrBeforeDeadline
	}
	return cfg, nil
}

// resolveLocked fija el resultado de m, que debe estar sin decidir. Requiere e.mu.
func (e *Engine) resolveLocked(ctx context.Context, caller common.Address, m *domain.Market, cfg *domain.SubjectConfig) {
	// m.Outcome es UNDECIDED: Resolve no falla.
	_ = m.Resolve(&cfg.ClearingPrice, e.now())

	e.persistMarket(ctx, *m)
	e.emit(ctx, domain.Event{
		Kind:      domain.EventMarketResolved,
		At:        m.ResolvedAt,
		Caller:    caller,
		Subject:   m.Subject,
		MarketID:  m.ID,
		Price:     cfg.ClearingPrice,
		Threshold: m.Threshold,
		Outcome:   m.Outcome,
	})
	slog.Info("engine: market resolved",
		"market_id", m.ID,
		"outcome", m.Outcome,
		"clearing_price", cfg.ClearingPrice.Dec(),
		"threshold", m.Threshold.Dec(),
	)
}
