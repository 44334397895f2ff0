package saga

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/db"
)

type Repository interface {
	GetByOrderID(ctx context.Context, orderID string) (*Saga, error)
	// GetByOrderIDForUpdate locks the saga row until the surrounding transaction ends.
	GetByOrderIDForUpdate(ctx context.Context, orderID string) (*Saga, error)
	Add(ctx context.Context, s *Saga) error
	Update(ctx context.Context, s *Saga) error
}

type repo struct {
	conn *sql.DB
}

func NewRepository(conn *sql.DB) Repository {
	return &repo{conn: conn}
}

func (r *repo) Add(ctx context.Context, s *Saga) error {
	return db.WithinTx(ctx, r.conn, func(ctx context.Context) error {
		_, err := db.Conn(ctx, r.conn).ExecContext(ctx,
			`INSERT INTO sagas (id, order_id, status, current_step, created_at, completed_at)
         VALUES ($1, $2, $3, $4, $5, $6)`,
			s.ID, s.OrderID, string(s.Status), string(s.CurrentStep), s.CreatedAt, s.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("insert saga: %w", err)
		}
		return r.appendHistory(ctx, s)
	})
}

func (r *repo) Update(ctx context.Context, s *Saga) error {
	return db.WithinTx(ctx, r.conn, func(ctx context.Context) error {
		res, err := db.Conn(ctx, r.conn).ExecContext(ctx,
			`UPDATE sagas SET status = $2, current_step = $3, completed_at = $4 WHERE id = $1`,
			s.ID, string(s.Status), string(s.CurrentStep), s.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("update saga: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("update saga %s: %w", s.ID, ErrNotFound)
		}
		return r.appendHistory(ctx, s)
	})
}

// appendHistory inserts only the entries recorded since the saga was loaded.
func (r *repo) appendHistory(ctx context.Context, s *Saga) error {
	for i, e := range s.Unsaved() {
		seq := s.persisted + i + 1
		_, err := db.Conn(ctx, r.conn).ExecContext(ctx,
			`INSERT INTO saga_history (saga_id, seq, step, outcome, message, occurred_at)
             VALUES ($1, $2, $3, $4, $5, $6)`,
			s.ID, seq, string(e.Step), string(e.Outcome), e.Message, e.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert saga history %d: %w", seq, err)
		}
	}
	s.persisted = len(s.History)
	return nil
}

func (r *repo) GetByOrderID(ctx context.Context, orderID string) (*Saga, error) {
	return r.get(ctx, orderID, false)
}

func (r *repo) GetByOrderIDForUpdate(ctx context.Context, orderID string) (*Saga, error) {
	return r.get(ctx, orderID, true)
}

func (r *repo) get(ctx context.Context, orderID string, lock bool) (*Saga, error) {
	q := `SELECT id, order_id, status, current_step, created_at, completed_at
         FROM sagas WHERE order_id = $1`
	if lock {
		q += ` FOR UPDATE`
	}

	var (
		id, oid, status, step string
		createdAt             time.Time
		completedAt           sql.NullTime
	)
	err := db.Conn(ctx, r.conn).QueryRowContext(ctx, q, orderID).
		Scan(&id, &oid, &status, &step, &createdAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select saga: %w", err)
	}

	history, err := r.history(ctx, id)
	if err != nil {
		return nil, err
	}

	var done *time.Time
	if completedAt.Valid {
		t := completedAt.Time
		done = &t
	}
	return Restore(id, oid, Status(status), Step(step), history, createdAt, done)
}

func (r *repo) history(ctx context.Context, sagaID string) ([]Entry, error) {
	rows, err := db.Conn(ctx, r.conn).QueryContext(ctx,
		`SELECT step, outcome, message, occurred_at
         FROM saga_history WHERE saga_id = $1 ORDER BY seq`, sagaID)
	if err != nil {
		return nil, fmt.Errorf("select saga history: %w", err)
	}
	defer rows.Close()

	var history []Entry
	for rows.Next() {
		var (
			e             Entry
			step, outcome string
		)
		if err := rows.Scan(&step, &outcome, &e.Message, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan saga history: %w", err)
		}
		e.Step, e.Outcome = Step(step), Outcome(outcome)
		history = append(history, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate saga history: %w", err)
	}
	return history, nil
}
