package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/auctionbets/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Restore reemplaza el libro en memoria por snap. Pensado para el arranque,
// antes de aceptar operaciones. Los ids de mercado deben ser 1..n sin huecos
// y cada mercado debe referenciar un subject configurado.
func (e *Engine) Restore(ctx context.Context, snap domain.Snapshot) error {
	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.mu.Unlock()

	subjects := make(map[common.Address]*domain.SubjectConfig, len(snap.Subjects))
	for _, s := range snap.Subjects {
		cp := s
		subjects[s.Subject] = &cp
	}

	markets := make([]domain.Market, len(snap.Markets))
	bySubject := make(map[common.Address][]uint64)
	for i, m := range snap.Markets {
		if m.ID != uint64(i)+1 {
			return fmt.Errorf("engine.Restore: market ids not contiguous: position %d has id %d", i, m.ID)
		}
		if _, ok := subjects[m.Subject]; !ok {
			return fmt.Errorf("engine.Restore: market %d: %w: %s", m.ID, domain.ErrNotConfigured, m.Subject.Hex())
		}
		markets[i] = m
		bySubject[m.Subject] = append(bySubject[m.Subject], m.ID)
	}

	positions := make(map[positionKey]*domain.Position, len(snap.Positions))
	for _, p := range snap.Positions {
		if p.MarketID == 0 || p.MarketID > uint64(len(markets)) {
			return fmt.Errorf("engine.Restore: position for %w: %d", domain.ErrMarketNotFound, p.MarketID)
		}
		cp := p
		positions[positionKey{p.MarketID, p.Account}] = &cp
	}

	pending := make(map[common.Hash]*domain.PendingTransfer, len(snap.Pending))
	for _, t := range snap.Pending {
		if t.MarketID == 0 || t.MarketID > uint64(len(markets)) {
			return fmt.Errorf("engine.Restore: pending transfer %s: %w: %d", t.TxHash.Hex(), domain.ErrMarketNotFound, t.MarketID)
		}
		cp := t
		pending[t.TxHash] = &cp
	}

	e.subjects = subjects
	e.markets = markets
	e.bySubject = bySubject
	e.positions = positions
	e.pending = pending
	e.events = nil
	e.seq = snap.LastSeq

	slog.Info("engine: book restored",
		"subjects", len(subjects),
		"markets", len(markets),
		"positions", len(positions),
		"pending_transfers", len(pending),
		"last_seq", snap.LastSeq,
	)
	return nil
}
