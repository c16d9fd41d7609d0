package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/alejandrodnm/auctionbets/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Subject devuelve la configuración del subject.
func (e *Engine) Subject(ctx context.Context, subject common.Address) (domain.SubjectConfig, error) {
	if err := e.lock(ctx); err != nil {
		return domain.SubjectConfig{}, err
	}
	defer e.mu.Unlock()

	cfg, ok := e.subjects[subject]
	if !ok {
		return domain.SubjectConfig{}, fmt.Errorf("engine.Subject: %w: %s", domain.ErrNotConfigured, subject.Hex())
	}
	return *cfg, nil
}

// Market devuelve una copia del registro del mercado.
func (e *Engine) Market(ctx context.Context, marketID uint64) (domain.Market, error) {
	if err := e.lock(ctx); err != nil {
		return domain.Market{}, err
	}
	defer e.mu.Unlock()

	m, err := e.market(marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine.Market: %w", err)
	}
	return *m, nil
}

// Markets devuelve todos los mercados ordenados por id.
func (e *Engine) Markets(ctx context.Context) ([]domain.Market, error) {
	if err := e.lock(ctx); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	out := make([]domain.Market, len(e.markets))
	copy(out, e.markets)
	return out, nil
}

// Quote devuelve el precio implícito YES/NO según la razón de pools.
func (e *Engine) Quote(ctx context.Context, marketID uint64) (domain.PoolQuote, error) {
	if err := e.lock(ctx); err != nil {
		return domain.PoolQuote{}, err
	}
	defer e.mu.Unlock()

	m, err := e.market(marketID)
	if err != nil {
		return domain.PoolQuote{}, fmt.Errorf("engine.Quote: %w", err)
	}
	return domain.QuotePools(*m)
}

// SubjectMarkets devuelve los ids de mercados del subject en orden de creación.
func (e *Engine) SubjectMarkets(ctx context.Context, subject common.Address) ([]uint64, error) {
	if err := e.lock(ctx); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	if _, ok := e.subjects[subject]; !ok {
		return nil, fmt.Errorf("engine.SubjectMarkets: %w: %s", domain.ErrNotConfigured, subject.Hex())
	}
	ids := e.bySubject[subject]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out, nil
}

// Position devuelve la posición de account en el mercado. Una cuenta que
// nunca operó obtiene una posición vacía, no un error.
func (e *Engine) Position(ctx context.Context, marketID uint64, account common.Address) (domain.Position, error) {
	if err := e.lock(ctx); err != nil {
		return domain.Position{}, err
	}
	defer e.mu.Unlock()

	if _, err := e.market(marketID); err != nil {
		return domain.Position{}, fmt.Errorf("engine.Position: %w", err)
	}
	return e.position(marketID, account), nil
}

// MarketPositions devuelve todas las posiciones no vacías del mercado, por cuenta.
func (e *Engine) MarketPositions(ctx context.Context, marketID uint64) ([]domain.Position, error) {
	if err := e.lock(ctx); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	if _, err := e.market(marketID); err != nil {
		return nil, fmt.Errorf("engine.MarketPositions: %w", err)
	}
	var out []domain.Position
	for k, p := range e.positions {
		if k.market == marketID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Account.Cmp(out[j].Account) < 0
	})
	return out, nil
}

// Events devuelve los eventos del journal en memoria con Seq > since.
func (e *Engine) Events(ctx context.Context, since uint64) ([]domain.Event, error) {
	if err := e.lock(ctx); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	i := sort.Search(len(e.events), func(i int) bool { return e.events[i].Seq > since })
	out := make([]domain.Event, len(e.events)-i)
	copy(out, e.events[i:])
	return out, nil
}

// Snapshot devuelve la imagen completa del libro.
func (e *Engine) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	if err := e.lock(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	defer e.mu.Unlock()

	snap := domain.Snapshot{
		Markets: make([]domain.Market, len(e.markets)),
		LastSeq: e.seq,
	}
	copy(snap.Markets, e.markets)
	for _, s := range e.subjects {
		snap.Subjects = append(snap.Subjects, *s)
	}
	sort.Slice(snap.Subjects, func(i, j int) bool {
		return snap.Subjects[i].Subject.Cmp(snap.Subjects[j].Subject) < 0
	})
	for _, p := range e.positions {
		snap.Positions = append(snap.Positions, *p)
	}
	sort.Slice(snap.Positions, func(i, j int) bool {
		a, b := snap.Positions[i], snap.Positions[j]
		if a.MarketID != b.MarketID {
			return a.MarketID < b.MarketID
		}
		return a.Account.Cmp(b.Account) < 0
	})
	snap.Pending = e.pendingSorted()
	return snap, nil
}
