package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/alejandrodnm/auctionbets/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ConfigureSubject registra el deadline de trading de un subject.
// Es un setter de una sola vez: una segunda llamada siempre falla.
func (e *Engine) ConfigureSubject(ctx context.Context, caller, subject common.Address, deadline time.Time) (domain.SubjectConfig, error) {
	if err := e.lock(ctx); err != nil {
		return domain.SubjectConfig{}, rejected("ConfigureSubject", err)
	}
	defer e.mu.Unlock()

	if err := e.authorize(caller); err != nil {
		return domain.SubjectConfig{}, rejected("ConfigureSubject", err, "caller", caller.Hex())
	}
	if s, ok := e.subjects[subject]; ok && s.Configured() {
		return domain.SubjectConfig{}, rejected("ConfigureSubject", domain.ErrAlreadyConfigured, "subject", subject.Hex())
	}
	now := e.now()
	if !deadline.After(now) {
		return domain.SubjectConfig{}, rejected("ConfigureSubject", domain.ErrDeadlineInPast,
			"subject", subject.Hex(), "deadline", deadline)
	}

	cfg := &domain.SubjectConfig{
		Subject:      subject,
		Deadline:     deadline.UTC(),
		ConfiguredAt: now,
	}
	e.subjects[subject] = cfg

	e.persistSubject(ctx, *cfg)
	e.emit(ctx, domain.Event{
		Kind:     domain.EventSubjectConfigured,
		At:       now,
		Caller:   caller,
		Subject:  subject,
		Deadline: cfg.Deadline,
	})
	slog.Info("engine: subject configured", "subject", subject.Hex(), "deadline", cfg.Deadline)
	return *cfg, nil
}

// SetClearingPrice inyecta el precio de cierre del subject, una sola vez y
// solo después del deadline.
func (e *Engine) SetClearingPrice(ctx context.Context, caller, subject common.Address, price *uint256.Int) (domain.SubjectConfig, error) {
	if err := e.lock(ctx); err != nil {
		return domain.SubjectConfig{}, rejected("SetClearingPrice", err)
	}
	defer e.mu.Unlock()

	if err := e.authorize(caller); err != nil {
		return domain.SubjectConfig{}, rejected("SetClearingPrice", err, "caller", caller.Hex())
	}
	cfg, ok := e.subjects[subject]
	if !ok || !cfg.Configured() {
		return domain.SubjectConfig{}, rejected("SetClearingPrice", domain.ErrNotConfigured, "subject", subject.Hex())
	}
	if cfg.PriceSet {
		return domain.SubjectConfig{}, rejected("SetClearingPrice", domain.ErrAlreadySet, "subject", subject.Hex())
	}
	now := e.now()
	if cfg.TradingOpen(now) {
		return domain.SubjectConfig{}, rejected("SetClearingPrice", domain.ErrBeforeDeadline,
			"subject", subject.Hex(), "deadline", cfg.Deadline)
	}

	cfg.ClearingPrice = *price
	cfg.PriceSet = true
	cfg.PriceSetAt = now

	e.persistSubject(ctx, *cfg)
	e.emit(ctx, domain.Event{
		Kind:    domain.EventClearingPriceSet,
		At:      now,
		Caller:  caller,
		Subject: subject,
		Price:   *price,
	})
	slog.Info("engine: clearing price set", "subject", subject.Hex(), "price", price.Dec())
	return *cfg, nil
}
