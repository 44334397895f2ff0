package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/dedup"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/logger"
)

const reserveConsumerName = "inventory-reserve"

// Service answers the inventory commands of an order saga.
type Service struct {
	repo   TransactionalRepository
	dedup  *dedup.Repository
	logger *zap.Logger
}

func NewService(repo TransactionalRepository, dedupRepo *dedup.Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, dedup: dedupRepo, logger: logger}
}

// ValidateInventory checks every product against current stock without changing
// it. Repeated lines for one product are checked against their sum, as
// reservation does. It stops at the first product that cannot be served.
func (s *Service) ValidateInventory(ctx context.Context, orderID string, lines []Line) (Validation, error) {
	if reason := invalidLineReason(lines); reason != "" {
		return Validation{Reason: reason}, nil
	}
	for _, line := range mergeLines(lines) {
		item, err := s.repo.Get(ctx, line.ProductID)
		if errors.Is(err, ErrNotFound) {
			return Validation{Reason: fmt.Sprintf("Product %s not found", line.ProductID)}, nil
		}
		if err != nil {
			return Validation{}, fmt.Errorf("validate order %s: %w", orderID, err)
		}
		if item.Available < line.Quantity {
			return Validation{Reason: fmt.Sprintf("Insufficient stock for %s", item.Name)}, nil
		}
	}
	return Validation{Valid: true}, nil
}

// ReserveInventory decrements stock for every line or for none. A redelivered
// command for an order that was already reserved succeeds without touching stock.
func (s *Service) ReserveInventory(ctx context.Context, orderID string, lines []Line) Reservation {
	log := logger.FromContext(ctx, s.logger).With(zap.String("order_id", orderID))

	res, err := s.reserve(ctx, log, orderID, lines)
	if err != nil {
		log.Error("reserve failed", zap.Error(err))
		return Reservation{Reason: err.Error()}
	}
	return res
}

func (s *Service) reserve(ctx context.Context, log *zap.Logger, orderID string, lines []Line) (Reservation, error) {
	if reason := invalidLineReason(lines); reason != "" {
		log.Warn("rejecting reservation", zap.String("reason", reason))
		return Reservation{Reason: reason}, nil
	}

	tx, err := s.repo.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Reservation{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	first, err := s.dedup.WithExecutor(tx).MarkProcessed(ctx, reserveConsumerName, orderID)
	if err != nil {
		return Reservation{}, err
	}
	if !first {
		log.Info("order already reserved, skipping")
		return Reservation{Success: true}, nil
	}

	result, err := s.repo.ReserveWithTx(ctx, tx, orderID, lines)
	if err != nil {
		return Reservation{}, err
	}
	if len(result.Depleted) > 0 {
		d := result.Depleted[0]
		log.Info("stock depleted",
			zap.String("product_id", d.ProductID),
			zap.Int("requested", d.Requested),
			zap.Int("available", d.Available))
		return Reservation{Reason: fmt.Sprintf("Failed to reserve product %s", d.ProductID)}, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return Reservation{}, fmt.Errorf("commit reserve: %w", err)
	}
	log.Info("stock reserved", zap.Int("lines", len(result.Reserved)))
	return Reservation{Success: true}, nil
}

// ReleaseInventory is a no-op: the command carries only the order id and no
// reservation record exists to tell what to restore.
func (s *Service) ReleaseInventory(ctx context.Context, orderID string) {
	logger.FromContext(ctx, s.logger).Warn("release requested but reservations are not tracked, nothing restored",
		zap.String("order_id", orderID))
}

func (s *Service) Get(ctx context.Context, productID string) (StockItem, error) {
	return s.repo.Get(ctx, productID)
}

func (s *Service) SetAvailable(ctx context.Context, productID, name string, available int) error {
	return s.repo.SetAvailable(ctx, productID, name, available)
}
