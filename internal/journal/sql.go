package journal

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const createTrades = `
CREATE TABLE IF NOT EXISTS trades (
	time   TIMESTAMP NOT NULL,
	action TEXT NOT NULL,
	symbol TEXT NOT NULL,
	price  DOUBLE PRECISION NOT NULL,
	amount DOUBLE PRECISION NOT NULL,
	value  DOUBLE PRECISION NOT NULL,
	note   TEXT NOT NULL DEFAULT ''
)`

const insertTrade = `INSERT INTO trades (time, action, symbol, price, amount, value, note) VALUES (?, ?, ?, ?, ?, ?, ?)`

// SQLLedger inserts trades into a "trades" table. Driver is "postgres" or
// "sqlite".
type SQLLedger struct {
	db     *sql.DB
	driver string
	insert string
}

func OpenSQL(ctx context.Context, driver, dsn string) (*SQLLedger, error) {
	if driver != "postgres" && driver != "sqlite" {
		return nil, errors.Errorf("unsupported ledger driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s ledger", driver)
	}
	if driver == "sqlite" {
		// a single connection keeps in-memory databases shared
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "ping %s ledger", driver)
	}
	if _, err := db.ExecContext(ctx, createTrades); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create trades table")
	}
	return &SQLLedger{db: db, driver: driver, insert: rebind(driver, insertTrade)}, nil
}

// rebind rewrites ? placeholders to $n for postgres.
func rebind(driver, query string) string {
	if driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (l *SQLLedger) Append(ctx context.Context, t Trade) error {
	_, err := l.db.ExecContext(ctx, l.insert,
		t.Time.UTC(), t.Action, t.Symbol, t.Price, t.Amount, t.Value(), t.Note)
	return errors.Wrap(err, "insert trade")
}

// Trades returns every row for symbol, oldest first.
func (l *SQLLedger) Trades(ctx context.Context, symbol string) ([]Trade, error) {
	rows, err := l.db.QueryContext(ctx,
		rebind(l.driver, `SELECT time, action, symbol, price, amount, note FROM trades WHERE symbol = ? ORDER BY time ASC`), symbol)
	if err != nil {
		return nil, errors.Wrap(err, "query trades")
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.Time, &t.Action, &t.Symbol, &t.Price, &t.Amount, &t.Note); err != nil {
			return nil, errors.Wrap(err, "scan trade")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (l *SQLLedger) Close() error {
	return l.db.Close()
}
