package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alejandrodnm/auctionbets/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Book es lo que la API necesita del motor.
type Book interface {
	Operator() common.Address

	ConfigureSubject(ctx context.Context, caller, subject common.Address, deadline time.Time) (domain.SubjectConfig, error)
	SetClearingPrice(ctx context.Context, caller, subject common.Address, price *uint256.Int) (domain.SubjectConfig, error)
	CreateMarket(ctx context.Context, caller, subject common.Address, threshold *uint256.Int) (uint64, error)
	Buy(ctx context.Context, caller common.Address, marketID uint64, side domain.Side, amountIn, minSharesOut *uint256.Int) (domain.TradeQuote, error)
	ResolveOne(ctx context.Context, caller common.Address, marketID uint64) (domain.Outcome, error)
	ResolveAllForSubject(ctx context.Context, caller, subject common.Address) ([]uint64, error)
	Claim(ctx context.Context, caller common.Address, marketID uint64) (*uint256.Int, error)

	PreviewBuy(ctx context.Context, marketID uint64, side domain.Side, amountIn *uint256.Int) (domain.TradeQuote, error)
	PreviewClaim(ctx context.Context, marketID uint64, account common.Address) (*uint256.Int, error)
	Subject(ctx context.Context, subject common.Address) (domain.SubjectConfig, error)
	Market(ctx context.Context, marketID uint64) (domain.Market, error)
	Markets(ctx context.Context) ([]domain.Market, error)
	Quote(ctx context.Context, marketID uint64) (domain.PoolQuote, error)
	SubjectMarkets(ctx context.Context, subject common.Address) ([]uint64, error)
	Position(ctx context.Context, marketID uint64, account common.Address) (domain.Position, error)
	Events(ctx context.Context, since uint64) ([]domain.Event, error)

	PendingTransfers(ctx context.Context) ([]domain.PendingTransfer, error)
	Reconcile(ctx context.Context, caller common.Address) ([]domain.ReconciledTransfer, error)
}

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	APIKey      string // vacío: rutas de operador sin autenticación
	CORSOrigins []string
	RatePerSec  float64 // por caller; 0 desactiva el límite
	Burst       int
	Now         func() time.Time // reloj para trading_open; time.Now si es nil
}

// Server es la API HTTP + WebSocket del motor.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registra las rutas y arma la cadena de middleware. hub puede ser nil.
func NewServer(cfg Config, book Book, hub *Hub, logger *slog.Logger) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	api := &handlers{book: book, logger: logger, now: cfg.Now}
	operator := requireAPIKey(cfg.APIKey)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", api.health)

	// Lecturas.
	mux.HandleFunc("GET /api/subjects/{subject}", api.getSubject)
	mux.HandleFunc("GET /api/subjects/{subject}/markets", api.listSubjectMarkets)
	mux.HandleFunc("GET /api/markets", api.listMarkets)
	mux.HandleFunc("GET /api/markets/{id}", api.getMarket)
	mux.HandleFunc("GET /api/markets/{id}/quote", api.getQuote)
	mux.HandleFunc("GET /api/markets/{id}/preview", api.previewBuy)
	mux.HandleFunc("GET /api/markets/{id}/positions/{account}", api.getPosition)
	mux.HandleFunc("GET /api/markets/{id}/positions/{account}/claim", api.previewClaim)
	mux.HandleFunc("GET /api/events", api.listEvents)
	mux.HandleFunc("GET /api/transfers/pending", api.listPendingTransfers)

	// Operador.
	mux.Handle("POST /api/subjects", operator(http.HandlerFunc(api.configureSubject)))
	mux.Handle("POST /api/subjects/{subject}/price", operator(http.HandlerFunc(api.setClearingPrice)))
	mux.Handle("POST /api/subjects/{subject}/resolve", operator(http.HandlerFunc(api.resolveSubject)))
	mux.Handle("POST /api/markets", operator(http.HandlerFunc(api.createMarket)))
	mux.Handle("POST /api/markets/{id}/resolve", operator(http.HandlerFunc(api.resolveMarket)))
	mux.Handle("POST /api/transfers/reconcile", operator(http.HandlerFunc(api.reconcile)))

	// Usuarios.
	mux.HandleFunc("POST /api/markets/{id}/buy", api.buy)
	mux.HandleFunc("POST /api/markets/{id}/claim", api.claim)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	if cfg.RatePerSec > 0 {
		h = rateLimit(cfg.RatePerSec, cfg.Burst)(h)
	}
	h = logging(logger)(h)
	h = cors(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		handler: h,
		logger:  logger,
	}
}

// Handler devuelve la cadena completa, útil con httptest.
func (s *Server) Handler() http.Handler { return s.handler }

// Start escucha hasta que el server falla o se apaga.
func (s *Server) Start() error {
	s.logger.Info("server: starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown espera a las requests en curso dentro del deadline de ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
