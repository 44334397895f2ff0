package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestPostgresRepository_Get(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectQuery(`SELECT product_id, name, available FROM inventory_stock`).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "name", "available"}).AddRow("p1", "Laptop", 7))

	item, err := NewPostgresRepository(mock).Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, StockItem{ProductID: "p1", Name: "Laptop", Available: 7}, item)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetMissing(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectQuery(`SELECT product_id, name, available FROM inventory_stock`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := NewPostgresRepository(mock).Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresRepository_SetAvailable(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectExec(`INSERT INTO inventory_stock`).
		WithArgs("p1", "Laptop", 10).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewPostgresRepository(mock).SetAvailable(context.Background(), "p1", "Laptop", 10))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ReserveWithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("locks in product order and decrements", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBeginTx(pgx.TxOptions{})
		mock.ExpectQuery(`FOR UPDATE`).WithArgs("p1").
			WillReturnRows(pgxmock.NewRows([]string{"available"}).AddRow(5))
		mock.ExpectQuery(`FOR UPDATE`).WithArgs("p2").
			WillReturnRows(pgxmock.NewRows([]string{"available"}).AddRow(3))
		mock.ExpectExec(`available - \$2`).WithArgs("p1", 2).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(`available - \$2`).WithArgs("p2", 1).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		repo := NewPostgresRepository(mock)
		tx, err := repo.BeginTx(ctx, pgx.TxOptions{})
		require.NoError(t, err)

		res, err := repo.ReserveWithTx(ctx, tx, "order-1", []Line{
			{ProductID: "p2", Quantity: 1},
			{ProductID: "p1", Quantity: 2},
		})
		require.NoError(t, err)
		assert.Empty(t, res.Depleted)
		assert.Equal(t, []Line{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 1}}, res.Reserved)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("repeated product lines are reserved together", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBeginTx(pgx.TxOptions{})
		mock.ExpectQuery(`FOR UPDATE`).WithArgs("p1").
			WillReturnRows(pgxmock.NewRows([]string{"available"}).AddRow(3))

		repo := NewPostgresRepository(mock)
		tx, err := repo.BeginTx(ctx, pgx.TxOptions{})
		require.NoError(t, err)

		res, err := repo.ReserveWithTx(ctx, tx, "order-2", []Line{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p1", Quantity: 2},
		})
		require.NoError(t, err)
		assert.Empty(t, res.Reserved)
		assert.Equal(t, []DepletedLine{{ProductID: "p1", Requested: 4, Available: 3}}, res.Depleted)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown product is depleted and nothing is updated", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBeginTx(pgx.TxOptions{})
		mock.ExpectQuery(`FOR UPDATE`).WithArgs("missing").WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery(`FOR UPDATE`).WithArgs("p1").
			WillReturnRows(pgxmock.NewRows([]string{"available"}).AddRow(9))

		repo := NewPostgresRepository(mock)
		tx, err := repo.BeginTx(ctx, pgx.TxOptions{})
		require.NoError(t, err)

		res, err := repo.ReserveWithTx(ctx, tx, "order-3", []Line{
			{ProductID: "p1", Quantity: 1},
			{ProductID: "missing", Quantity: 1},
		})
		require.NoError(t, err)
		assert.Equal(t, []DepletedLine{{ProductID: "missing", Requested: 1, Available: 0}}, res.Depleted)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive quantity is refused before locking", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectBeginTx(pgx.TxOptions{})

		repo := NewPostgresRepository(mock)
		tx, err := repo.BeginTx(ctx, pgx.TxOptions{})
		require.NoError(t, err)

		res, err := repo.ReserveWithTx(ctx, tx, "order-5", []Line{
			{ProductID: "p1", Quantity: 3},
			{ProductID: "p2", Quantity: -5},
		})
		require.ErrorIs(t, err, ErrInvalidLine)
		assert.Empty(t, res.Reserved)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lock error surfaces", func(t *testing.T) {
		mock := newMockPool(t)
		boom := errors.New("lock timeout")
		mock.ExpectBeginTx(pgx.TxOptions{})
		mock.ExpectQuery(`FOR UPDATE`).WithArgs("p1").WillReturnError(boom)

		repo := NewPostgresRepository(mock)
		tx, err := repo.BeginTx(ctx, pgx.TxOptions{})
		require.NoError(t, err)

		_, err = repo.ReserveWithTx(ctx, tx, "order-4", []Line{{ProductID: "p1", Quantity: 1}})
		require.ErrorIs(t, err, boom)
	})
}
