package storage

// sqlite.go — persistencia del libro de mercados.
//
// Estrategia:
//   - `subjects`, `markets`, `positions`: una fila por entidad (UPSERT). Es la
//     imagen vigente del libro; LoadSnapshot la lee completa al arrancar.
//   - `pending_transfers`: txs emitidas sin receipt; se borran al reconciliar.
//   - `events`: journal append-only, una fila por evento confirmado. El seq más
//     alto se usa para continuar la numeración tras un reinicio.
//   - Montos en TEXT decimal: uint256 no cabe en INTEGER de SQLite.
//   - Tiempos en INTEGER (unix nanos, 0 = sin valor).

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/auctionbets/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS subjects (
    subject         TEXT PRIMARY KEY,
    deadline        INTEGER NOT NULL,
    clearing_price  TEXT    NOT NULL DEFAULT '0',
    price_set       INTEGER NOT NULL DEFAULT 0,
    configured_at   INTEGER NOT NULL DEFAULT 0,
    price_set_at    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS markets (
    id          INTEGER PRIMARY KEY,
    subject     TEXT    NOT NULL,
    threshold   TEXT    NOT NULL,
    yes_pool    TEXT    NOT NULL DEFAULT '0',
    no_pool     TEXT    NOT NULL DEFAULT '0',
    yes_shares  TEXT    NOT NULL DEFAULT '0',
    no_shares   TEXT    NOT NULL DEFAULT '0',
    outcome     TEXT    NOT NULL,
    created_at  INTEGER NOT NULL DEFAULT 0,
    resolved_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS positions (
    market_id  INTEGER NOT NULL,
    account    TEXT    NOT NULL,
    yes_shares TEXT    NOT NULL DEFAULT '0',
    no_shares  TEXT    NOT NULL DEFAULT '0',
    staked     TEXT    NOT NULL DEFAULT '0',
    claimed    INTEGER NOT NULL DEFAULT 0,
    payout     TEXT    NOT NULL DEFAULT '0',
    claimed_at INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (market_id, account)
);

CREATE TABLE IF NOT EXISTS events (
    seq        INTEGER PRIMARY KEY,
    id         TEXT    NOT NULL,
    kind       TEXT    NOT NULL,
    at         INTEGER NOT NULL,
    caller     TEXT    NOT NULL DEFAULT '',
    subject    TEXT    NOT NULL DEFAULT '',
    market_id  INTEGER NOT NULL DEFAULT 0,
    side       TEXT    NOT NULL DEFAULT '',
    amount     TEXT    NOT NULL DEFAULT '0',
    shares     TEXT    NOT NULL DEFAULT '0',
    price      TEXT    NOT NULL DEFAULT '0',
    threshold  TEXT    NOT NULL DEFAULT '0',
    outcome    TEXT    NOT NULL DEFAULT '',
    deadline   INTEGER NOT NULL DEFAULT 0,
    market_ids TEXT    NOT NULL DEFAULT '',
    tx_hash    TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS pending_transfers (
    tx_hash    TEXT PRIMARY KEY,
    direction  TEXT    NOT NULL,
    market_id  INTEGER NOT NULL,
    account    TEXT    NOT NULL,
    amount     TEXT    NOT NULL,
    side       TEXT    NOT NULL DEFAULT '',
    shares     TEXT    NOT NULL DEFAULT '0',
    at         INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_markets_subject ON markets(subject);
CREATE INDEX IF NOT EXISTS idx_events_market   ON events(market_id);
CREATE INDEX IF NOT EXISTS idx_events_kind     ON events(kind);
`

// SQLiteStorage implementa ports.BookStorage usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica el schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	for _, stmt := range []string{
		"ALTER TABLE events ADD COLUMN tx_hash TEXT NOT NULL DEFAULT ''",
	} {
		db.Exec(stmt) // ignore errors (column already exists)
	}
	return &SQLiteStorage{db: db}, nil
}

// SaveSubject hace upsert del registro del subject.
func (s *SQLiteStorage) SaveSubject(ctx context.Context, sub domain.SubjectConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subjects (subject, deadline, clearing_price, price_set, configured_at, price_set_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(subject) DO UPDATE SET
			deadline       = excluded.deadline,
			clearing_price = excluded.clearing_price,
			price_set      = excluded.price_set,
			configured_at  = excluded.configured_at,
			price_set_at   = excluded.price_set_at`,
		sub.Subject.Hex(), nanos(sub.Deadline), sub.ClearingPrice.Dec(), boolInt(sub.PriceSet),
		nanos(sub.ConfiguredAt), nanos(sub.PriceSetAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveSubject: %w", err)
	}
	return nil
}

// SaveMarket hace upsert de la fila del mercado.
func (s *SQLiteStorage) SaveMarket(ctx context.Context, m domain.Market) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO markets (id, subject, threshold, yes_pool, no_pool, yes_shares, no_shares, outcome, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			yes_pool    = excluded.yes_pool,
			no_pool     = excluded.no_pool,
			yes_shares  = excluded.yes_shares,
			no_shares   = excluded.no_shares,
			outcome     = excluded.outcome,
			resolved_at = excluded.resolved_at`,
		m.ID, m.Subject.Hex(), m.Threshold.Dec(),
		m.YesPool.Dec(), m.NoPool.Dec(), m.YesShares.Dec(), m.NoShares.Dec(),
		string(m.Outcome), nanos(m.CreatedAt), nanos(m.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveMarket: market %d: %w", m.ID, err)
	}
	return nil
}

// SavePosition hace upsert de la posición (market_id, account).
func (s *SQLiteStorage) SavePosition(ctx context.Context, p domain.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (market_id, account, yes_shares, no_shares, staked, claimed, payout, claimed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(market_id, account) DO UPDATE SET
			yes_shares = excluded.yes_shares,
			no_shares  = excluded.no_shares,
			staked     = excluded.staked,
			claimed    = excluded.claimed,
			payout     = excluded.payout,
			claimed_at = excluded.claimed_at`,
		p.MarketID, p.Account.Hex(), p.YesShares.Dec(), p.NoShares.Dec(), p.Staked.Dec(),
		boolInt(p.Claimed), p.Payout.Dec(), nanos(p.ClaimedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SavePosition: market %d account %s: %w", p.MarketID, p.Account.Hex(), err)
	}
	return nil
}

// SavePendingTransfer registra una tx sin confirmar, una fila por hash.
func (s *SQLiteStorage) SavePendingTransfer(ctx context.Context, t domain.PendingTransfer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO pending_transfers (tx_hash, direction, market_id, account, amount, side, shares, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TxHash.Hex(), string(t.Direction), t.MarketID, t.Account.Hex(), t.Amount.Dec(),
		string(t.Side), t.Shares.Dec(), nanos(t.At),
	)
	if err != nil {
		return fmt.Errorf("storage.SavePendingTransfer: tx %s: %w", t.TxHash.Hex(), err)
	}
	return nil
}

// DeletePendingTransfer borra la fila de una tx ya reconciliada.
func (s *SQLiteStorage) DeletePendingTransfer(ctx context.Context, txHash common.Hash) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_transfers WHERE tx_hash = ?`, txHash.Hex()); err != nil {
		return fmt.Errorf("storage.DeletePendingTransfer: tx %s: %w", txHash.Hex(), err)
	}
	return nil
}

// AppendEvent agrega el evento al journal. Un seq repetido es un error.
func (s *SQLiteStorage) AppendEvent(ctx context.Context, e domain.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (seq, id, kind, at, caller, subject, market_id, side, amount, shares, price, threshold, outcome, deadline, market_ids, tx_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Seq, e.ID, string(e.Kind), nanos(e.At), e.Caller.Hex(), e.Subject.Hex(), e.MarketID,
		string(e.Side), e.Amount.Dec(), e.Shares.Dec(), e.Price.Dec(), e.Threshold.Dec(),
		string(e.Outcome), nanos(e.Deadline), joinIDs(e.MarketIDs), hashText(e.TxHash),
	)
	if err != nil {
		return fmt.Errorf("storage.AppendEvent: seq %d: %w", e.Seq, err)
	}
	return nil
}

// LoadSnapshot lee el libro completo: subjects, mercados por id, posiciones
// por (mercado, cuenta) y el último seq del journal.
func (s *SQLiteStorage) LoadSnapshot(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot
	var err error

	if snap.Subjects, err = s.loadSubjects(ctx); err != nil {
		return domain.Snapshot{}, fmt.Errorf("storage.LoadSnapshot: %w", err)
	}
	if snap.Markets, err = s.loadMarkets(ctx); err != nil {
		return domain.Snapshot{}, fmt.Errorf("storage.LoadSnapshot: %w", err)
	}
	if snap.Positions, err = s.loadPositions(ctx); err != nil {
		return domain.Snapshot{}, fmt.Errorf("storage.LoadSnapshot: %w", err)
	}
	if snap.Pending, err = s.loadPending(ctx); err != nil {
		return domain.Snapshot{}, fmt.Errorf("storage.LoadSnapshot: %w", err)
	}
	var last sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events`).Scan(&last); err != nil {
		return domain.Snapshot{}, fmt.Errorf("storage.LoadSnapshot: last seq: %w", err)
	}
	if last.Valid {
		snap.LastSeq = uint64(last.Int64)
	}
	return snap, nil
}

// LoadEvents devuelve los eventos con seq > since, en orden. limit <= 0 no limita.
func (s *SQLiteStorage) LoadEvents(ctx context.Context, since uint64, limit int) ([]domain.Event, error) {
	q := `SELECT seq, id, kind, at, caller, subject, market_id, side, amount, shares, price, threshold, outcome, deadline, market_ids, tx_hash
		FROM events WHERE seq > ? ORDER BY seq`
	args := []any{since}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadEvents: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var (
			e                                 domain.Event
			kind, caller, subject, side, outc string
			amount, shares, price, threshold  string
			ids, txHash                       string
			at, deadline                      int64
		)
		if err := rows.Scan(&e.Seq, &e.ID, &kind, &at, &caller, &subject, &e.MarketID, &side,
			&amount, &shares, &price, &threshold, &outc, &deadline, &ids, &txHash); err != nil {
			return nil, fmt.Errorf("storage.LoadEvents: scan: %w", err)
		}
		e.Kind = domain.EventKind(kind)
		e.At = fromNanos(at)
		e.Caller = common.HexToAddress(caller)
		e.Subject = common.HexToAddress(subject)
		e.Side = domain.Side(side)
		e.Outcome = domain.Outcome(outc)
		e.Deadline = fromNanos(deadline)
		if txHash != "" {
			e.TxHash = common.HexToHash(txHash)
		}
		if err := decodeAmounts(
			field{"amount", amount, &e.Amount},
			field{"shares", shares, &e.Shares},
			field{"price", price, &e.Price},
			field{"threshold", threshold, &e.Threshold},
		); err != nil {
			return nil, fmt.Errorf("storage.LoadEvents: seq %d: %w", e.Seq, err)
		}
		if e.MarketIDs, err = splitIDs(ids); err != nil {
			return nil, fmt.Errorf("storage.LoadEvents: seq %d: %w", e.Seq, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close cierra la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers ---

func (s *SQLiteStorage) loadSubjects(ctx context.Context) ([]domain.SubjectConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject, deadline, clearing_price, price_set, configured_at, price_set_at
		FROM subjects ORDER BY subject`)
	if err != nil {
		return nil, fmt.Errorf("query subjects: %w", err)
	}
	defer rows.Close()

	var out []domain.SubjectConfig
	for rows.Next() {
		var (
			sub                         domain.SubjectConfig
			addr, price                 string
			priceSet                    int
			deadline, configured, setAt int64
		)
		if err := rows.Scan(&addr, &deadline, &price, &priceSet, &configured, &setAt); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		sub.Subject = common.HexToAddress(addr)
		sub.Deadline = fromNanos(deadline)
		sub.PriceSet = priceSet != 0
		sub.ConfiguredAt = fromNanos(configured)
		sub.PriceSetAt = fromNanos(setAt)
		if err := decodeAmounts(field{"clearing_price", price, &sub.ClearingPrice}); err != nil {
			return nil, fmt.Errorf("subject %s: %w", addr, err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) loadMarkets(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject, threshold, yes_pool, no_pool, yes_shares, no_shares, outcome, created_at, resolved_at
		FROM markets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		var (
			m                                    domain.Market
			subject, threshold, outcome          string
			yesPool, noPool, yesShares, noShares string
			created, resolved                    int64
		)
		if err := rows.Scan(&m.ID, &subject, &threshold, &yesPool, &noPool, &yesShares, &noShares,
			&outcome, &created, &resolved); err != nil {
			return nil, fmt.Errorf("scan market: %w", err)
		}
		m.Subject = common.HexToAddress(subject)
		m.Outcome = domain.Outcome(outcome)
		m.CreatedAt = fromNanos(created)
		m.ResolvedAt = fromNanos(resolved)
		if err := decodeAmounts(
			field{"threshold", threshold, &m.Threshold},
			field{"yes_pool", yesPool, &m.YesPool},
			field{"no_pool", noPool, &m.NoPool},
			field{"yes_shares", yesShares, &m.YesShares},
			field{"no_shares", noShares, &m.NoShares},
		); err != nil {
			return nil, fmt.Errorf("market %d: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) loadPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT market_id, account, yes_shares, no_shares, staked, claimed, payout, claimed_at
		FROM positions ORDER BY market_id, account`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var (
			p                                domain.Position
			account, yes, no, staked, payout string
			claimed                          int
			claimedAt                        int64
		)
		if err := rows.Scan(&p.MarketID, &account, &yes, &no, &staked, &claimed, &payout, &claimedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.Account = common.HexToAddress(account)
		p.Claimed = claimed != 0
		p.ClaimedAt = fromNanos(claimedAt)
		if err := decodeAmounts(
			field{"yes_shares", yes, &p.YesShares},
			field{"no_shares", no, &p.NoShares},
			field{"staked", staked, &p.Staked},
			field{"payout", payout, &p.Payout},
		); err != nil {
			return nil, fmt.Errorf("position %d/%s: %w", p.MarketID, account, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) loadPending(ctx context.Context) ([]domain.PendingTransfer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tx_hash, direction, market_id, account, amount, side, shares, at
		FROM pending_transfers ORDER BY at, tx_hash`)
	if err != nil {
		return nil, fmt.Errorf("query pending transfers: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingTransfer
	for rows.Next() {
		var (
			t                                    domain.PendingTransfer
			hash, dir, account, amount, side, sh string
			at                                   int64
		)
		if err := rows.Scan(&hash, &dir, &t.MarketID, &account, &amount, &side, &sh, &at); err != nil {
			return nil, fmt.Errorf("scan pending transfer: %w", err)
		}
		t.TxHash = common.HexToHash(hash)
		t.Direction = domain.TransferDirection(dir)
		t.Account = common.HexToAddress(account)
		t.Side = domain.Side(side)
		t.At = fromNanos(at)
		if err := decodeAmounts(
			field{"amount", amount, &t.Amount},
			field{"shares", sh, &t.Shares},
		); err != nil {
			return nil, fmt.Errorf("pending transfer %s: %w", hash, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type field struct {
	name string
	raw  string
	dst  *uint256.Int
}

func decodeAmounts(fields ...field) error {
	for _, f := range fields {
		v, err := uint256.FromDecimal(f.raw)
		if err != nil {
			return fmt.Errorf("decode %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = *v
	}
	return nil
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// hashText guarda "" para el hash cero.
func hashText(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func joinIDs(ids []uint64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return strings.Join(parts, ",")
}

func splitIDs(s string) ([]uint64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]uint64, len(parts))
	for i, p := range parts {
		id, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode market_ids %q: %w", s, err)
		}
		out[i] = id
	}
	return out, nil
}
