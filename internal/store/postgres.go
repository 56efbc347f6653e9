package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradewire/order-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Prices are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InsertOrder(ctx context.Context, rec *model.OrderRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO signal_orders
		   (id, symbol, market, direction, side, position_side, quantity,
		    price, leverage, close_position, status, detail, exchange_order_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9, $10, $11, $12, $13, $14)`,
		rec.ID, rec.Symbol, string(rec.Market), string(rec.Direction),
		string(rec.Side), string(rec.PositionSide), rec.Quantity,
		rec.Price.String(), rec.Leverage, rec.ClosePosition,
		rec.Status, rec.Detail, rec.ExchangeOrderID, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.OrderRecord, error) {
	rec, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT id, symbol, market, direction, side, position_side, quantity,
		        price::TEXT, leverage, close_position, status, detail, exchange_order_id, created_at
		 FROM signal_orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return rec, nil
}

func (s *PostgresStore) ListOrders(ctx context.Context, limit int) ([]model.OrderRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, symbol, market, direction, side, position_side, quantity,
		        price::TEXT, leverage, close_position, status, detail, exchange_order_id, created_at
		 FROM signal_orders ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.OrderRecord
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*model.OrderRecord, error) {
	var rec model.OrderRecord
	var market, direction, side, positionSide, price string

	if err := row.Scan(&rec.ID, &rec.Symbol, &market, &direction,
		&side, &positionSide, &rec.Quantity,
		&price, &rec.Leverage, &rec.ClosePosition,
		&rec.Status, &rec.Detail, &rec.ExchangeOrderID, &rec.CreatedAt); err != nil {
		return nil, err
	}

	rec.Market = model.MarketType(market)
	rec.Direction = model.Direction(direction)
	rec.Side = model.Side(side)
	rec.PositionSide = model.PositionSide(positionSide)
	rec.Price, _ = decimal.NewFromString(price)

	return &rec, nil
}
