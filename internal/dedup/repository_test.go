package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkProcessed(t *testing.T) {
	tests := map[string]struct {
		rows    int64
		want    bool
		execErr error
	}{
		"first time":   {rows: 1, want: true},
		"already seen": {rows: 0, want: false},
		"exec error":   {execErr: errors.New("connection reset")},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			exp := mock.ExpectExec(`INSERT INTO processed_commands`).
				WithArgs("inventory-reserve", "order-1")
			if tc.execErr != nil {
				exp.WillReturnError(tc.execErr)
			} else {
				exp.WillReturnResult(pgxmock.NewResult("INSERT", tc.rows))
			}

			got, err := NewRepository(mock).MarkProcessed(context.Background(), "inventory-reserve", "order-1")
			if tc.execErr != nil {
				require.ErrorIs(t, err, tc.execErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.want, got)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestWithExecutor_UsesTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO processed_commands`).
		WithArgs("inventory-reserve", "order-2").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := mock.Begin(ctx)
	require.NoError(t, err)

	ok, err := NewRepository(mock).WithExecutor(tx).MarkProcessed(ctx, "inventory-reserve", "order-2")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}
