package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/johnayoung/go-trade-tape/internal/models"
)

const (
	selectLogQuery    = "SELECT trade_count FROM trade_logs WHERE market = ?"
	selectTradesQuery = `SELECT time, global_trade_id, trade_id, type, amount, total
		FROM trades WHERE market = ? ORDER BY seq`
	selectMarketsQuery = "SELECT market FROM trade_logs ORDER BY market"
	deleteTradesQuery  = "DELETE FROM trades WHERE market = ?"
	deleteLogQuery     = "DELETE FROM trade_logs WHERE market = ?"
	insertLogQuery     = "INSERT INTO trade_logs (market, trade_count, saved_at) VALUES (?, ?, ?)"
	insertTradeQuery   = `INSERT INTO trades (market, seq, time, global_trade_id, trade_id, type, amount, total)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
)

// queryer is satisfied by *sql.DB, *sql.Conn and *sql.Tx
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// loadTrades reads one market's log from the shared trade tables
func loadTrades(ctx context.Context, q queryer, market string) ([]models.Trade, error) {
	var expected int
	if err := q.QueryRowContext(ctx, selectLogQuery, market).Scan(&expected); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, NewStorageError("load", market, selectLogQuery, err)
	}

	rows, err := q.QueryContext(ctx, selectTradesQuery, market)
	if err != nil {
		return nil, NewStorageError("load", market, selectTradesQuery, err)
	}
	defer rows.Close()

	trades := make([]models.Trade, 0, expected)
	for rows.Next() {
		var (
			t         models.Trade
			tradeType string
		)
		if err := rows.Scan(&t.Time, &t.GlobalTradeID, &t.TradeID, &tradeType, &t.Amount, &t.Total); err != nil {
			return nil, newCorruptError(market, selectTradesQuery, err)
		}
		t.Type = models.TradeType(tradeType)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("load", market, selectTradesQuery, err)
	}

	if len(trades) != expected {
		return nil, newCorruptError(market, selectTradesQuery,
			fmt.Errorf("expected %d trades, found %d", expected, len(trades)))
	}
	if err := checkLoaded(market, trades); err != nil {
		return nil, err
	}
	return trades, nil
}

func listMarkets(ctx context.Context, q queryer) ([]string, error) {
	rows, err := q.QueryContext(ctx, selectMarketsQuery)
	if err != nil {
		return nil, NewStorageError("markets", "", selectMarketsQuery, err)
	}
	defer rows.Close()

	markets := []string{}
	for rows.Next() {
		var market string
		if err := rows.Scan(&market); err != nil {
			return nil, NewStorageError("markets", "", selectMarketsQuery, err)
		}
		markets = append(markets, market)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("markets", "", selectMarketsQuery, err)
	}
	return markets, nil
}
