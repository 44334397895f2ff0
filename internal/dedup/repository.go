package dedup

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Executor represents the subset of pgx methods required for dedup operations.
type Executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type Repository struct {
	executor Executor
}

func NewRepository(exec Executor) *Repository {
	return &Repository{executor: exec}
}

// WithExecutor returns a shallow copy using the provided executor (e.g., a transaction).
func (r *Repository) WithExecutor(exec Executor) *Repository {
	return &Repository{executor: exec}
}

// MarkProcessed records key as handled by consumer. It returns false when the
// key was already recorded, in which case the caller must skip the command.
// Run it in the same transaction as the side effects it guards.
func (r *Repository) MarkProcessed(ctx context.Context, consumer, key string) (bool, error) {
	tag, err := r.executor.Exec(ctx, `
		INSERT INTO processed_commands (consumer_name, message_key)
		VALUES ($1, $2)
		ON CONFLICT (consumer_name, message_key) DO NOTHING
	`, consumer, key)
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
