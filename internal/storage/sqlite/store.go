package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/trenchlab/trenchwatch/internal/storage"
)

// ---------------------------------------------------------------------------
// SQLite state store
// ---------------------------------------------------------------------------

const schema = `
CREATE TABLE IF NOT EXISTS tokens (
	token_address          TEXT PRIMARY KEY,
	chain_id               TEXT NOT NULL,
	first_seen_at          INTEGER NOT NULL,
	last_checked_at        INTEGER NOT NULL,
	known_eligible         INTEGER NOT NULL DEFAULT 0,
	last_eligible          INTEGER NOT NULL DEFAULT 0,
	last_eligible_at       INTEGER NOT NULL DEFAULT 0,
	last_ineligible_at     INTEGER NOT NULL DEFAULT 0,
	last_alerted_at        INTEGER NOT NULL DEFAULT 0,
	alert_count            INTEGER NOT NULL DEFAULT 0,
	eligible_first_at      INTEGER NOT NULL DEFAULT 0,
	eligible_first_metrics TEXT,
	last_seen_metrics      TEXT,
	last_name              TEXT,
	last_symbol            TEXT,
	called_price_usd       TEXT,
	max_price_usd          TEXT,
	max_market_cap         TEXT,
	hit_2x_at              INTEGER NOT NULL DEFAULT 0,
	hit_3x_at              INTEGER NOT NULL DEFAULT 0,
	hit_5x_at              INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pair_pool (
	pair_address  TEXT PRIMARY KEY,
	chain_id      TEXT NOT NULL,
	token_address TEXT NOT NULL,
	source        TEXT NOT NULL DEFAULT '',
	hot_score     REAL NOT NULL DEFAULT 0,
	first_seen_at INTEGER NOT NULL,
	last_seen_at  INTEGER NOT NULL,
	metrics       TEXT
);
CREATE INDEX IF NOT EXISTS idx_pair_pool_seen ON pair_pool (last_seen_at);
CREATE INDEX IF NOT EXISTS idx_pair_pool_score ON pair_pool (hot_score);

CREATE TABLE IF NOT EXISTS state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store is the SQLite-backed storage.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite writes serialize; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	log.Info().Str("path", path).Msg("sqlite store opened")
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func nullStr(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func scanDecimal(raw sql.NullString) decimal.NullDecimal {
	if !raw.Valid || raw.String == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(raw.String)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func (s *Store) GetToken(ctx context.Context, tokenAddress string) (*storage.TokenState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token_address, chain_id, first_seen_at, last_checked_at,
		       known_eligible, last_eligible, last_eligible_at, last_ineligible_at,
		       last_alerted_at, alert_count, eligible_first_at,
		       COALESCE(eligible_first_metrics, ''), COALESCE(last_seen_metrics, ''),
		       COALESCE(last_name, ''), COALESCE(last_symbol, ''),
		       called_price_usd, max_price_usd, max_market_cap,
		       hit_2x_at, hit_3x_at, hit_5x_at
		FROM tokens WHERE token_address = ? COLLATE NOCASE`, tokenAddress)

	var tok storage.TokenState
	var knownEligible, lastEligible int
	var called, maxPrice, maxMC sql.NullString
	err := row.Scan(
		&tok.TokenAddress, &tok.ChainID, &tok.FirstSeenAt, &tok.LastCheckedAt,
		&knownEligible, &lastEligible, &tok.Eligibility.LastEligibleAt,
		&tok.Eligibility.LastIneligibleAt, &tok.Eligibility.LastAlertedAt,
		&tok.Eligibility.AlertCount, &tok.EligibleFirstAt,
		&tok.EligibleFirstMetrics, &tok.LastSeenMetrics,
		&tok.LastName, &tok.LastSymbol,
		&called, &maxPrice, &maxMC,
		&tok.Hit2xAt, &tok.Hit3xAt, &tok.Hit5xAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	tok.Eligibility.KnownEligible = knownEligible != 0
	tok.Eligibility.LastEligible = lastEligible != 0
	tok.CalledPriceUSD = scanDecimal(called)
	tok.MaxPriceUSD = scanDecimal(maxPrice)
	tok.MaxMarketCap = scanDecimal(maxMC)
	return &tok, nil
}

func (s *Store) UpsertTokenSeen(ctx context.Context, tokenAddress, chainID string, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (token_address, chain_id, first_seen_at, last_checked_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(token_address) DO UPDATE SET last_checked_at = excluded.last_checked_at`,
		tokenAddress, chainID, now, now)
	if err != nil {
		return fmt.Errorf("upsert token seen: %w", err)
	}
	return nil
}

func (s *Store) UpdateTokenState(ctx context.Context, tok *storage.TokenState) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tokens SET
			chain_id = ?, last_checked_at = ?,
			known_eligible = ?, last_eligible = ?, last_eligible_at = ?,
			last_ineligible_at = ?, last_alerted_at = ?, alert_count = ?,
			eligible_first_at = ?, eligible_first_metrics = ?, last_seen_metrics = ?,
			last_name = ?, last_symbol = ?,
			called_price_usd = ?, max_price_usd = ?, max_market_cap = ?,
			hit_2x_at = ?, hit_3x_at = ?, hit_5x_at = ?
		WHERE token_address = ? COLLATE NOCASE`,
		tok.ChainID, tok.LastCheckedAt,
		boolInt(tok.Eligibility.KnownEligible), boolInt(tok.Eligibility.LastEligible),
		tok.Eligibility.LastEligibleAt, tok.Eligibility.LastIneligibleAt,
		tok.Eligibility.LastAlertedAt, tok.Eligibility.AlertCount,
		tok.EligibleFirstAt, tok.EligibleFirstMetrics, tok.LastSeenMetrics,
		tok.LastName, tok.LastSymbol,
		nullStr(tok.CalledPriceUSD), nullStr(tok.MaxPriceUSD), nullStr(tok.MaxMarketCap),
		tok.Hit2xAt, tok.Hit3xAt, tok.Hit5xAt,
		tok.TokenAddress)
	if err != nil {
		return fmt.Errorf("update token state: %w", err)
	}
	return nil
}

func (s *Store) UpdateAlerted(ctx context.Context, tokenAddress string, now int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tokens SET last_alerted_at = ?, alert_count = alert_count + 1
		WHERE token_address = ? COLLATE NOCASE`, now, tokenAddress)
	if err != nil {
		return fmt.Errorf("update alerted: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) TokensForPerformanceRefresh(ctx context.Context, limit int, minFirstAt int64) ([]storage.TokenState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token_address FROM tokens
		WHERE eligible_first_at > 0 AND eligible_first_at >= ?
		ORDER BY last_checked_at ASC LIMIT ?`, minFirstAt, limit)
	if err != nil {
		return nil, fmt.Errorf("performance refresh query: %w", err)
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]storage.TokenState, 0, len(addrs))
	for _, addr := range addrs {
		tok, err := s.GetToken(ctx, addr)
		if err != nil {
			continue
		}
		out = append(out, *tok)
	}
	return out, nil
}

func (s *Store) UpsertPoolEntry(ctx context.Context, entry storage.PoolEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pair_pool (pair_address, chain_id, token_address, source,
			hot_score, first_seen_at, last_seen_at, metrics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pair_address) DO UPDATE SET
			hot_score = excluded.hot_score,
			last_seen_at = excluded.last_seen_at,
			metrics = excluded.metrics,
			source = excluded.source`,
		entry.PairAddress, entry.ChainID, entry.TokenAddress, entry.Source,
		entry.HotScore, entry.FirstSeenAt, entry.LastSeenAt, entry.MetricsJSON)
	if err != nil {
		return fmt.Errorf("upsert pool entry: %w", err)
	}
	return nil
}

func (s *Store) PurgePool(ctx context.Context, minSeenAt int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pair_pool WHERE last_seen_at < ?`, minSeenAt)
	if err != nil {
		return fmt.Errorf("purge pool: %w", err)
	}
	return nil
}

func (s *Store) TrimPool(ctx context.Context, maxSize int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM pair_pool WHERE pair_address NOT IN (
			SELECT pair_address FROM pair_pool
			ORDER BY hot_score DESC, last_seen_at DESC LIMIT ?)`, maxSize)
	if err != nil {
		return fmt.Errorf("trim pool: %w", err)
	}
	return nil
}

func (s *Store) LoadPool(ctx context.Context, limit int, minSeenAt int64) ([]storage.PoolEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pair_address, chain_id, token_address, source, hot_score,
		       first_seen_at, last_seen_at, COALESCE(metrics, '')
		FROM pair_pool WHERE last_seen_at >= ?
		ORDER BY hot_score DESC LIMIT ?`, minSeenAt, limit)
	if err != nil {
		return nil, fmt.Errorf("load pool: %w", err)
	}
	defer rows.Close()

	var out []storage.PoolEntry
	for rows.Next() {
		var e storage.PoolEntry
		if err := rows.Scan(&e.PairAddress, &e.ChainID, &e.TokenAddress, &e.Source,
			&e.HotScore, &e.FirstSeenAt, &e.LastSeenAt, &e.MetricsJSON); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetOperationalState(ctx context.Context) (storage.OperationalState, error) {
	op := storage.OperationalState{}
	if raw, err := s.GetState(ctx, "paused"); err == nil {
		op.Paused = raw == "true"
	}
	if raw, err := s.GetState(ctx, "mute_until"); err == nil {
		op.MuteUntil, _ = strconv.ParseInt(raw, 10, 64)
	}
	return op, nil
}

func (s *Store) SetPaused(ctx context.Context, paused bool) error {
	return s.SetState(ctx, "paused", strconv.FormatBool(paused))
}

func (s *Store) SetMuteUntil(ctx context.Context, until int64) error {
	return s.SetState(ctx, "mute_until", strconv.FormatInt(until, 10))
}

func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

func (s *Store) IncrementCounter(ctx context.Context, key string, delta int64) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = CAST(CAST(value AS INTEGER) + ? AS TEXT)`,
		key, strconv.FormatInt(delta, 10), delta)
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", key, err)
	}
	raw, err := s.GetState(ctx, key)
	if err != nil {
		return 0, err
	}
	val, _ := strconv.ParseInt(raw, 10, 64)
	return val, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
