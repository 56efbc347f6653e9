// Package store defines the persistence interface for processed signal
// records. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
//
// Only the audit ledger is persisted here. Symbol rules and market
// snapshots are never stored — the engine fetches them fresh per call.
package store

import (
	"context"
	"errors"

	"github.com/tradewire/order-engine/internal/model"
)

// ErrNotFound is returned when an order record does not exist.
var ErrNotFound = errors.New("store: order record not found")

// Store is the persistence interface for the signal audit ledger.
type Store interface {
	// InsertOrder appends an immutable record of one processed signal.
	InsertOrder(ctx context.Context, rec *model.OrderRecord) error

	// GetOrder retrieves a record by its ID.
	GetOrder(ctx context.Context, id string) (*model.OrderRecord, error)

	// ListOrders returns the most recent records, newest first.
	ListOrders(ctx context.Context, limit int) ([]model.OrderRecord, error)
}
