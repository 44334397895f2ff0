package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidLine = errors.New("invalid reservation line")
)

// DBPool matches the methods from *pgxpool.Pool that we use.
// This allows us to mock the database in tests.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type Repository interface {
	Get(ctx context.Context, productID string) (StockItem, error)
	SetAvailable(ctx context.Context, productID, name string, available int) error
}

type TransactionalRepository interface {
	Repository
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	ReserveWithTx(ctx context.Context, tx pgx.Tx, orderID string, lines []Line) (ReserveResult, error)
}

type PostgresRepository struct {
	pool DBPool
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Get(ctx context.Context, productID string) (StockItem, error) {
	var item StockItem
	row := r.pool.QueryRow(ctx, `SELECT product_id, name, available FROM inventory_stock WHERE product_id=$1`, productID)
	if err := row.Scan(&item.ProductID, &item.Name, &item.Available); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockItem{}, ErrNotFound
		}
		return StockItem{}, err
	}
	return item, nil
}

// SetAvailable upserts a stock row. An empty name keeps the stored one.
func (r *PostgresRepository) SetAvailable(ctx context.Context, productID, name string, available int) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inventory_stock(product_id, name, available)
		VALUES($1, $2, $3)
		ON CONFLICT (product_id) DO UPDATE
		SET name = COALESCE(NULLIF(EXCLUDED.name, ''), inventory_stock.name),
			available = EXCLUDED.available,
			updated_at = now()
	`, productID, name, available)
	return err
}

func (r *PostgresRepository) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	return r.pool.BeginTx(ctx, txOptions)
}

// ReserveWithTx runs the reservation inside a caller-owned transaction. The
// caller commits, or rolls back when Depleted is non-empty.
func (r *PostgresRepository) ReserveWithTx(ctx context.Context, tx pgx.Tx, orderID string, lines []Line) (ReserveResult, error) {
	return r.reserveWithTx(ctx, tx, orderID, lines)
}

func (r *PostgresRepository) reserveWithTx(ctx context.Context, tx pgx.Tx, orderID string, lines []Line) (ReserveResult, error) {
	res := ReserveResult{}

	// a non-positive quantity would add stock instead of taking it
	for _, line := range lines {
		if err := line.Validate(); err != nil {
			return res, fmt.Errorf("%w: order %s product %s: %v", ErrInvalidLine, orderID, line.ProductID, err)
		}
	}

	// lines for the same product are reserved together, and rows are locked in
	// product order so concurrent reservations cannot deadlock
	requested := make(map[string]int, len(lines))
	for _, line := range lines {
		requested[line.ProductID] += line.Quantity
	}
	productIDs := make([]string, 0, len(requested))
	for id := range requested {
		productIDs = append(productIDs, id)
	}
	sort.Strings(productIDs)

	available := make(map[string]int, len(productIDs))
	for _, id := range productIDs {
		var n int
		err := tx.QueryRow(ctx, `
			SELECT available
			FROM inventory_stock
			WHERE product_id=$1
			FOR UPDATE
		`, id).Scan(&n)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return res, fmt.Errorf("lock %s for order %s: %w", id, orderID, err)
		}
		available[id] = n
	}

	// depleted lines are reported in the order they were requested
	seen := make(map[string]bool, len(productIDs))
	for _, line := range lines {
		if seen[line.ProductID] {
			continue
		}
		seen[line.ProductID] = true
		if available[line.ProductID] < requested[line.ProductID] {
			res.Depleted = append(res.Depleted, DepletedLine{
				ProductID: line.ProductID,
				Requested: requested[line.ProductID],
				Available: available[line.ProductID],
			})
		}
	}
	if len(res.Depleted) > 0 {
		return res, nil
	}

	for _, id := range productIDs {
		_, err := tx.Exec(ctx, `
			UPDATE inventory_stock
			SET available = available - $2, updated_at=now()
			WHERE product_id=$1
		`, id, requested[id])
		if err != nil {
			return res, fmt.Errorf("decrement %s for order %s: %w", id, orderID, err)
		}
		res.Reserved = append(res.Reserved, Line{ProductID: id, Quantity: requested[id]})
	}

	return res, nil
}
