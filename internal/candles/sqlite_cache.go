package candles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"autoclose/internal/market"

	_ "modernc.org/sqlite"
)

// SQLiteCache 是 klines 表的持久化缓存，主键 (symbol, timeframe, start_time)。
type SQLiteCache struct {
	db *sql.DB
}

var _ Cache = (*SQLiteCache)(nil)

// OpenSQLiteCache opens (or creates) the cache database. Use ":memory:" in tests.
func OpenSQLiteCache(path string) (*SQLiteCache, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("candle cache path cannot be empty")
	}
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// a single connection keeps :memory: databases coherent and serialises sqlite writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteCache{db: db}, nil
}

func (c *SQLiteCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Ping is used by health checks.
func (c *SQLiteCache) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS klines (
			symbol     TEXT    NOT NULL,
			timeframe  TEXT    NOT NULL,
			start_time INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     REAL    NOT NULL DEFAULT 0,
			turnover   REAL    NOT NULL DEFAULT 0,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000),
			PRIMARY KEY (symbol, timeframe, start_time)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertCandles 批量写入 K 线；主键冲突直接忽略（已完成的 bar 不可变）。
// Returns the number of rows actually inserted.
func (c *SQLiteCache) InsertCandles(ctx context.Context, symbol, timeframe string, candles []market.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO klines (symbol, timeframe, start_time, open, high, low, close, volume, turnover)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timeframe, start_time) DO NOTHING`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	inserted := 0
	for _, k := range candles {
		res, err := stmt.ExecContext(ctx, symbol, timeframe, k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume, k.Turnover)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// LatestStart returns the newest cached bar start, or ok=false when nothing is cached.
func (c *SQLiteCache) LatestStart(ctx context.Context, symbol, timeframe string) (int64, bool, error) {
	var latest sql.NullInt64
	err := c.db.QueryRowContext(ctx,
		`SELECT MAX(start_time) FROM klines WHERE symbol = ? AND timeframe = ?`,
		symbol, timeframe).Scan(&latest)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return latest.Int64, latest.Valid, nil
}

// RangeCandles 返回 start~end（开盘时间闭区间）的 K 线，升序。
func (c *SQLiteCache) RangeCandles(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error) {
	if end < start {
		return nil, nil
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT start_time, open, high, low, close, volume, turnover
		FROM klines
		WHERE symbol = ? AND timeframe = ? AND start_time BETWEEN ? AND ?
		ORDER BY start_time ASC`, symbol, timeframe, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tf, tfErr := market.ParseTimeframe(timeframe)
	var list []market.Candle
	for rows.Next() {
		var k market.Candle
		if err := rows.Scan(&k.OpenTime, &k.Open, &k.High, &k.Low, &k.Close, &k.Volume, &k.Turnover); err != nil {
			return nil, err
		}
		if tfErr == nil {
			k.CloseTime = k.OpenTime + tf.Millis() - 1
		}
		list = append(list, k)
	}
	return list, rows.Err()
}
