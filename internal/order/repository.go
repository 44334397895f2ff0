package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/db"
)

type Repository interface {
	Add(ctx context.Context, o *Order) error
	Update(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, orderID string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]*Order, error)
}

type repo struct {
	conn *sql.DB
}

func NewRepository(conn *sql.DB) Repository {
	return &repo{conn: conn}
}

func (r *repo) Add(ctx context.Context, o *Order) error {
	return db.WithinTx(ctx, r.conn, func(ctx context.Context) error {
		exec := db.Conn(ctx, r.conn)

		_, err := exec.ExecContext(ctx,
			`INSERT INTO orders (id, user_id, status, total_amount, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6)`,
			o.ID, o.UserID, string(o.Status), o.TotalAmount, o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for i, it := range o.Items {
			_, err = exec.ExecContext(ctx,
				`INSERT INTO order_items (id, order_id, line_no, product_id, product_name, quantity, price)
             VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				uuid.NewString(), o.ID, i+1, it.ProductID, it.ProductName, it.Quantity, it.Price,
			)
			if err != nil {
				return fmt.Errorf("insert order_item: %w", err)
			}
		}
		return nil
	})
}

// Update persists status changes. Items and total are immutable after Add.
func (r *repo) Update(ctx context.Context, o *Order) error {
	res, err := db.Conn(ctx, r.conn).ExecContext(ctx,
		`UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`,
		o.ID, string(o.Status), o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update order %s: %w", o.ID, ErrNotFound)
	}
	return nil
}

func (r *repo) GetByID(ctx context.Context, orderID string) (*Order, error) {
	o, err := scanOrder(db.Conn(ctx, r.conn).QueryRowContext(ctx,
		`SELECT id, user_id, status, total_amount, created_at, updated_at
         FROM orders WHERE id = $1`,
		orderID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select order: %w", err)
	}

	items, err := r.items(ctx, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return o, nil
}

func (r *repo) ListByUser(ctx context.Context, userID string) ([]*Order, error) {
	rows, err := db.Conn(ctx, r.conn).QueryContext(ctx,
		`SELECT id, user_id, status, total_amount, created_at, updated_at
         FROM orders WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var (
		orders []*Order
		ids    []string
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	items, err := r.items(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		o.Items = items[o.ID]
	}
	return orders, nil
}

// items loads the lines of several orders in one round trip.
func (r *repo) items(ctx context.Context, orderIDs []string) (map[string][]Item, error) {
	rows, err := db.Conn(ctx, r.conn).QueryContext(ctx,
		`SELECT order_id, product_id, product_name, quantity, price
         FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, line_no`,
		pq.Array(orderIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("select order_items: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]Item, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			it      Item
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.Price); err != nil {
			return nil, fmt.Errorf("scan order_item: %w", err)
		}
		out[orderID] = append(out[orderID], it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*Order, error) {
	var (
		o      Order
		status string
	)
	if err := row.Scan(&o.ID, &o.UserID, &status, &o.TotalAmount, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	return Restore(o.ID, o.UserID, nil, o.TotalAmount, Status(status), o.CreatedAt, o.UpdatedAt), nil
}
