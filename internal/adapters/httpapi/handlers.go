package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alejandrodnm/auctionbets/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// callerHeader lleva la identidad del que llama, autenticada aguas arriba.
const callerHeader = "X-Caller"

const maxBodyBytes = 1 << 16

type handlers struct {
	book   Book
	logger *slog.Logger
	now    func() time.Time
}

// GET /api/health
func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"operator": h.book.Operator().Hex(),
	})
}

// --- subjects ---

// GET /api/subjects/{subject}
func (h *handlers) getSubject(w http.ResponseWriter, r *http.Request) {
	subject, ok := addressParam(w, r, "subject")
	if !ok {
		return
	}
	cfg, err := h.book.Subject(r.Context(), subject)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubjectDTO(cfg, h.now()))
}

// GET /api/subjects/{subject}/markets
func (h *handlers) listSubjectMarkets(w http.ResponseWriter, r *http.Request) {
	subject, ok := addressParam(w, r, "subject")
	if !ok {
		return
	}
	ids, err := h.book.SubjectMarkets(r.Context(), subject)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"subject": subject.Hex(), "market_ids": ids})
}

// POST /api/subjects {"subject": "0x…", "deadline": "2026-03-01T12:00:00Z"}
func (h *handlers) configureSubject(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req configureRequest
	if !decodeBody(w, r, &req) {
		return
	}
	subject, err := parseAddress(req.Subject)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Deadline.IsZero() {
		writeError(w, http.StatusBadRequest, "deadline is required")
		return
	}
	cfg, err := h.book.ConfigureSubject(r.Context(), caller, subject, req.Deadline)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubjectDTO(cfg, h.now()))
}

// POST /api/subjects/{subject}/price {"price": "1500"}
func (h *handlers) setClearingPrice(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	subject, ok := addressParam(w, r, "subject")
	if !ok {
		return
	}
	var req priceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	price, err := domain.ParseAmount(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg, err := h.book.SetClearingPrice(r.Context(), caller, subject, price)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubjectDTO(cfg, h.now()))
}

// POST /api/subjects/{subject}/resolve
func (h *handlers) resolveSubject(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	subject, ok := addressParam(w, r, "subject")
	if !ok {
		return
	}
	ids, err := h.book.ResolveAllForSubject(r.Context(), caller, subject)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"subject": subject.Hex(), "resolved": ids})
}

// --- markets ---

// GET /api/markets
func (h *handlers) listMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.book.Markets(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]marketDTO, len(markets))
	for i, m := range markets {
		out[i] = toMarketDTO(m)
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": out})
}

// GET /api/markets/{id}
func (h *handlers) getMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	m, err := h.book.Market(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketDTO(m))
}

// GET /api/markets/{id}/quote
func (h *handlers) getQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	q, err := h.book.Quote(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuoteDTO(id, q))
}

// GET /api/markets/{id}/preview?side=YES&amount=100
func (h *handlers) previewBuy(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	side, err := domain.ParseSide(q.Get("side"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := domain.ParseAmount(q.Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	quote, err := h.book.PreviewBuy(r.Context(), id, side, amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTradeDTO(id, quote))
}

// POST /api/markets {"subject": "0x…", "threshold": "1000"}
func (h *handlers) createMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req createMarketRequest
	if !decodeBody(w, r, &req) {
		return
	}
	subject, err := parseAddress(req.Subject)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	threshold, err := domain.ParseAmount(req.Threshold)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := h.book.CreateMarket(r.Context(), caller, subject, threshold)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.book.Market(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMarketDTO(m))
}

// POST /api/markets/{id}/buy {"side": "YES", "amount": "100", "min_shares_out": "130"}
func (h *handlers) buy(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	var req buyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	side, err := domain.ParseSide(req.Side)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	minShares := new(uint256.Int)
	if req.MinSharesOut != "" {
		if minShares, err = domain.ParseAmount(req.MinSharesOut); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	q, err := h.book.Buy(r.Context(), caller, id, side, amount, minShares)
	if tx, ok := pendingTx(err); ok {
		// El trade quedó acreditado; falta el receipt del depósito.
		dto := toTradeDTO(id, q)
		dto.PendingTx = tx
		writeJSON(w, http.StatusAccepted, dto)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTradeDTO(id, q))
}

// POST /api/markets/{id}/resolve
func (h *handlers) resolveMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	outcome, err := h.book.ResolveOne(r.Context(), caller, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"market_id": id, "outcome": outcome})
}

// POST /api/markets/{id}/claim
func (h *handlers) claim(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	payout, err := h.book.Claim(r.Context(), caller, id)
	tx, pending := pendingTx(err)
	if err != nil && !pending {
		h.fail(w, r, err)
		return
	}
	body := map[string]any{
		"market_id": id,
		"account":   caller.Hex(),
		"payout":    payout.Dec(),
	}
	status := http.StatusOK
	if pending {
		body["pending_tx"] = tx
		status = http.StatusAccepted
	}
	writeJSON(w, status, body)
}

// --- positions ---

// GET /api/markets/{id}/positions/{account}
func (h *handlers) getPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	account, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	p, err := h.book.Position(r.Context(), id, account)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPositionDTO(p))
}

// GET /api/markets/{id}/positions/{account}/claim
func (h *handlers) previewClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	account, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	payout, err := h.book.PreviewClaim(r.Context(), id, account)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"account":   account.Hex(),
		"payout":    payout.Dec(),
	})
}

// --- events ---

// GET /api/events?since=0
func (h *handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since")
			return
		}
		since = n
	}
	events, err := h.book.Events(r.Context(), since)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]eventDTO, len(events))
	for i, e := range events {
		out[i] = toEventDTO(e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

// --- transfers ---

// GET /api/transfers/pending
func (h *handlers) listPendingTransfers(w http.ResponseWriter, r *http.Request) {
	pending, err := h.book.PendingTransfers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]pendingTransferDTO, len(pending))
	for i, t := range pending {
		out[i] = toPendingTransferDTO(t)
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": out})
}

// POST /api/transfers/reconcile
func (h *handlers) reconcile(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	done, err := h.book.Reconcile(r.Context(), caller)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]reconciledDTO, len(done))
	for i, d := range done {
		out[i] = reconciledDTO{pendingTransferDTO: toPendingTransferDTO(d.Transfer), Status: string(d.Status)}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reconciled": out})
}

// --- helpers ---

// pendingTx extrae el hash de una transferencia emitida sin confirmar.
func pendingTx(err error) (string, bool) {
	var pending *domain.PendingTransferError
	if !errors.As(err, &pending) {
		return "", false
	}
	return pending.TxHash.Hex(), true
}

// fail traduce el error del motor a un status HTTP según su categoría.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "handler: request failed",
			"path", r.URL.Path,
			"error", err.Error(),
		)
		writeErrorCategory(w, status, "internal error", domain.CategoryInternal)
		return
	}
	writeErrorCategory(w, status, err.Error(), domain.Classify(err))
}

func statusFor(err error) int {
	if errors.Is(err, domain.ErrMarketNotFound) || errors.Is(err, domain.ErrNotConfigured) {
		return http.StatusNotFound
	}
	switch domain.Classify(err) {
	case domain.CategoryConfiguration, domain.CategoryLifecycle, domain.CategoryClaim:
		return http.StatusConflict
	case domain.CategoryEconomic:
		return http.StatusUnprocessableEntity
	case domain.CategoryAuthorization:
		return http.StatusForbidden
	case domain.CategoryLedger:
		return http.StatusPaymentRequired
	case domain.CategoryPending:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeErrorCategory(w http.ResponseWriter, status int, msg string, cat domain.ErrorCategory) {
	writeJSON(w, status, map[string]string{"error": msg, "category": string(cat)})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func callerFrom(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := r.Header.Get(callerHeader)
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing "+callerHeader+" header")
		return common.Address{}, false
	}
	addr, err := parseAddress(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, callerHeader+": "+err.Error())
		return common.Address{}, false
	}
	return addr, true
}

func addressParam(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	addr, err := parseAddress(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, name+": "+err.Error())
		return common.Address{}, false
	}
	return addr, true
}

func marketIDParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return 0, false
	}
	return id, true
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}
