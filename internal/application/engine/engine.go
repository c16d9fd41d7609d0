package engine

// engine.go — motor de mercados binarios sobre precios de subasta.
//
// Cada operación pública es atómica: toma e.mu durante toda la llamada, valida
// todo antes de mutar, y solo confirma estado después de que la llamada
// externa al ledger tuvo éxito. El contexto que se pasa al ledger y a los
// sinks va marcado; cualquier operación del motor invocada con ese contexto
// falla con ErrReentrantCall en vez de bloquearse o releer estado a medias.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/auctionbets/internal/domain"
	"github.com/alejandrodnm/auctionbets/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// DefaultMinStake es el stake mínimo si Config.MinStake es cero.
const DefaultMinStake = 1

// Config holds engine-level settings.
type Config struct {
	Operator common.Address   // única identidad con permisos de configuración
	MinStake uint256.Int      // stake mínimo por compra, en unidades base
	Now      func() time.Time // reloj; time.Now si es nil
}

type positionKey struct {
	market  uint64
	account common.Address
}

// externalCallKey marca los contextos que el motor entrega a colaboradores externos.
type externalCallKey struct{}

// Engine is the market book plus the subject registry.
type Engine struct {
	cfg    Config
	ledger ports.Ledger
	store  ports.BookStorage // nil: sin persistencia
	sinks  []ports.EventSink

	mu        sync.Mutex
	subjects  map[common.Address]*domain.SubjectConfig
	markets   []domain.Market // markets[id-1]
	bySubject map[common.Address][]uint64
	positions map[positionKey]*domain.Position
	pending   map[common.Hash]*domain.PendingTransfer
	events    []domain.Event
	seq       uint64
}

// New creates an engine with an empty book. store may be nil.
func New(cfg Config, ledger ports.Ledger, store ports.BookStorage, sinks ...ports.EventSink) *Engine {
	if cfg.MinStake.IsZero() {
		cfg.MinStake.SetUint64(DefaultMinStake)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		cfg:       cfg,
		ledger:    ledger,
		store:     store,
		sinks:     sinks,
		subjects:  make(map[common.Address]*domain.SubjectConfig),
		bySubject: make(map[common.Address][]uint64),
		positions: make(map[positionKey]*domain.Position),
		pending:   make(map[common.Hash]*domain.PendingTransfer),
	}
}

// Operator devuelve la identidad privilegiada del motor.
func (e *Engine) Operator() common.Address { return e.cfg.Operator }

// MinStake devuelve el stake mínimo configurado.
func (e *Engine) MinStake() *uint256.Int { return e.cfg.MinStake.Clone() }

// lock rechaza llamadas reentrantes y luego serializa con el resto.
func (e *Engine) lock(ctx context.Context) error {
	if ctx.Value(externalCallKey{}) != nil {
		return domain.ErrReentrantCall
	}
	e.mu.Lock()
	return nil
}

// external devuelve el contexto marcado para ledger, store y sinks.
func (e *Engine) external(ctx context.Context) context.Context {
	return context.WithValue(ctx, externalCallKey{}, e)
}

func (e *Engine) authorize(caller common.Address) error {
	if caller != e.cfg.Operator {
		return domain.ErrUnauthorized
	}
	return nil
}

func (e *Engine) now() time.Time { return e.cfg.Now().UTC() }

// market devuelve un puntero al mercado dentro del arena, o ErrMarketNotFound.
// El id 0 está reservado.
func (e *Engine) market(id uint64) (*domain.Market, error) {
	if id == 0 || id > uint64(len(e.markets)) {
		return nil, fmt.Errorf("%w: %d", domain.ErrMarketNotFound, id)
	}
	return &e.markets[id-1], nil
}

// position devuelve la posición de account en el mercado, o una vacía.
func (e *Engine) position(marketID uint64, account common.Address) domain.Position {
	if p, ok := e.positions[positionKey{marketID, account}]; ok {
		return *p
	}
	return domain.Position{MarketID: marketID, Account: account}
}

func (e *Engine) putPosition(p domain.Position) {
	cp := p
	e.positions[positionKey{p.MarketID, p.Account}] = &cp
}

// emit registra el evento en el journal en memoria, lo persiste y lo publica.
// Se llama con e.mu tomado, después de confirmar la operación.
func (e *Engine) emit(ctx context.Context, ev domain.Event) domain.Event {
	e.seq++
	ev.Seq = e.seq
	ev.ID = uuid.New().String()
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	e.events = append(e.events, ev)

	xctx := e.external(ctx)
	if e.store != nil {
		if err := e.store.AppendEvent(xctx, ev); err != nil {
			slog.Warn("engine: failed to journal event", "kind", ev.Kind, "seq", ev.Seq, "err", err)
		}
	}
	for _, sink := range e.sinks {
		if err := sink.Publish(xctx, ev); err != nil {
			slog.Warn("engine: event sink error", "kind", ev.Kind, "seq", ev.Seq, "err", err)
		}
	}
	return ev
}

func (e *Engine) persistSubject(ctx context.Context, s domain.SubjectConfig) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveSubject(e.external(ctx), s); err != nil {
		slog.Warn("engine: failed to persist subject", "subject", s.Subject.Hex(), "err", err)
	}
}

func (e *Engine) persistMarket(ctx context.Context, m domain.Market) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveMarket(e.external(ctx), m); err != nil {
		slog.Warn("engine: failed to persist market", "market_id", m.ID, "err", err)
	}
}

func (e *Engine) persistPosition(ctx context.Context, p domain.Position) {
	if e.store == nil {
		return
	}
	if err := e.store.SavePosition(e.external(ctx), p); err != nil {
		slog.Warn("engine: failed to persist position",
			"market_id", p.MarketID, "account", p.Account.Hex(), "err", err)
	}
}

func (e *Engine) persistPending(ctx context.Context, t domain.PendingTransfer) {
	if e.store == nil {
		return
	}
	if err := e.store.SavePendingTransfer(e.external(ctx), t); err != nil {
		slog.Warn("engine: failed to persist pending transfer", "tx", t.TxHash.Hex(), "err", err)
	}
}

func (e *Engine) forgetPending(ctx context.Context, txHash common.Hash) {
	delete(e.pending, txHash)
	if e.store == nil {
		return
	}
	if err := e.store.DeletePendingTransfer(e.external(ctx), txHash); err != nil {
		slog.Warn("engine: failed to delete pending transfer", "tx", txHash.Hex(), "err", err)
	}
}

// rejected deja traza de una llamada fallida y devuelve el error envuelto.
func rejected(op string, err error, args ...any) error {
	slog.Debug("engine: call rejected", append([]any{"op", op, "err", err}, args...)...)
	return fmt.Errorf("engine.%s: %w", op, err)
}
