package engine

// transfers.go — transferencias que el ledger emitió sin poder confirmar.
//
// Buy y Claim las dejan aplicadas en el libro; Reconcile consulta su estado
// y, si la tx falló, deshace el efecto. Mientras un mercado tenga depósitos
// pendientes no se resuelve, así un revert nunca toca un pool ya repartido.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/auctionbets/internal/domain"
	"github.com/alejandrodnm/auctionbets/internal/ports"
	"github.com/ethereum/go-ethereum/common"
)

// ErrNoTransferChecker: hay transferencias pendientes pero el ledger no sabe
// consultar su estado.
var ErrNoTransferChecker = errors.New("ledger cannot check transfer status")

// recordPending registra t como pendiente. Requiere e.mu.
func (e *Engine) recordPending(ctx context.Context, t domain.PendingTransfer) {
	if t.At.IsZero() {
		t.At = e.now()
	}
	cp := t
	e.pending[t.TxHash] = &cp
	e.persistPending(ctx, t)
	e.emit(ctx, domain.Event{
		Kind:     domain.EventTransferPending,
		At:       t.At,
		Caller:   t.Account,
		MarketID: t.MarketID,
		Side:     t.Side,
		Amount:   t.Amount,
		Shares:   t.Shares,
		TxHash:   t.TxHash,
	})
	slog.Warn("engine: transfer pending confirmation",
		"tx", t.TxHash.Hex(),
		"direction", t.Direction,
		"market_id", t.MarketID,
		"account", t.Account.Hex(),
		"amount", t.Amount.Dec(),
	)
}

// PendingTransfers devuelve las transferencias sin reconciliar, por antigüedad.
func (e *Engine) PendingTransfers(ctx context.Context) ([]domain.PendingTransfer, error) {
	if err := e.lock(ctx); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return e.pendingSorted(), nil
}

// Reconcile consulta al ledger cada transferencia pendiente. Las confirmadas
// se cierran; las fallidas se deshacen: un depósito que no llegó retira el
// trade del pool y de la posición, un pago que no salió libera el claim.
// Las que siguen sin receipt quedan como estaban.
func (e *Engine) Reconcile(ctx context.Context, caller common.Address) ([]domain.ReconciledTransfer, error) {
	if err := e.lock(ctx); err != nil {
		return nil, rejected("Reconcile", err)
	}
	defer e.mu.Unlock()

	if err := e.authorize(caller); err != nil {
		return nil, rejected("Reconcile", err, "caller", caller.Hex())
	}
	if len(e.pending) == 0 {
		return nil, nil
	}
	checker, ok := e.ledger.(ports.TransferChecker)
	if !ok {
		return nil, rejected("Reconcile", ErrNoTransferChecker, "pending", len(e.pending))
	}

	var out []domain.ReconciledTransfer
	for _, t := range e.pendingSorted() {
		status, err := checker.TransferStatus(e.external(ctx), t.TxHash)
		if err != nil {
			slog.Warn("engine: transfer status lookup failed", "tx", t.TxHash.Hex(), "err", err)
			continue
		}
		switch status {
		case domain.TransferStatusConfirmed:
		case domain.TransferStatusFailed:
			if err := e.revertTransfer(ctx, t); err != nil {
				slog.Error("engine: cannot revert failed transfer", "tx", t.TxHash.Hex(), "err", err)
				continue
			}
		default:
			continue
		}
		e.settlePending(ctx, caller, t, status)
		out = append(out, domain.ReconciledTransfer{Transfer: t, Status: status})
	}
	return out, nil
}

// revertTransfer deshace el efecto en el libro de una transferencia fallida.
func (e *Engine) revertTransfer(ctx context.Context, t domain.PendingTransfer) error {
	m, err := e.market(t.MarketID)
	if err != nil {
		return err
	}
	pos := e.position(t.MarketID, t.Account)

	switch t.Direction {
	case domain.TransferIn:
		if m.Outcome.Resolved() {
			return fmt.Errorf("%w: market %d", domain.ErrAlreadyResolved, m.ID)
		}
		nextMarket, err := m.WithoutTrade(t.Side, &t.Amount, &t.Shares)
		if err != nil {
			return err
		}
		nextPos, err := pos.WithoutTrade(t.Side, &t.Amount, &t.Shares)
		if err != nil {
			return err
		}
		*m = nextMarket
		e.putPosition(nextPos)
		e.persistMarket(ctx, nextMarket)
		e.persistPosition(ctx, nextPos)

	case domain.TransferOut:
		pos.Claimed = false
		pos.Payout.Clear()
		pos.ClaimedAt = time.Time{}
		e.putPosition(pos)
		e.persistPosition(ctx, pos)

	default:
		return fmt.Errorf("unknown transfer direction %q", t.Direction)
	}
	return nil
}

// settlePending cierra t y deja el evento correspondiente. Requiere e.mu.
func (e *Engine) settlePending(ctx context.Context, caller common.Address, t domain.PendingTransfer, status domain.TransferStatus) {
	e.forgetPending(ctx, t.TxHash)

	kind := domain.EventTransferConfirmed
	if status == domain.TransferStatusFailed {
		kind = domain.EventTransferFailed
	}
	e.emit(ctx, domain.Event{
		Kind:     kind,
		Caller:   caller,
		MarketID: t.MarketID,
		Side:     t.Side,
		Amount:   t.Amount,
		Shares:   t.Shares,
		TxHash:   t.TxHash,
	})
	slog.Info("engine: transfer reconciled",
		"tx", t.TxHash.Hex(),
		"direction", t.Direction,
		"status", status,
		"market_id", t.MarketID,
	)
}

// hasPendingDeposits informa si el mercado tiene stakes sin confirmar. Requiere e.mu.
func (e *Engine) hasPendingDeposits(marketID uint64) bool {
	for _, t := range e.pending {
		if t.Direction == domain.TransferIn && t.MarketID == marketID {
			return true
		}
	}
	return false
}

func (e *Engine) pendingSorted() []domain.PendingTransfer {
	if len(e.pending) == 0 {
		return nil
	}
	out := make([]domain.PendingTransfer, 0, len(e.pending))
	for _, t := range e.pending {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].TxHash.Cmp(out[j].TxHash) < 0
	})
	return out
}
