package store

import (
	"context"
	"database/sql"
	"fmt"

	"settlement-service/internal/models"
)

// GetOrderByID retrieves an order with its affiliate chain
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatus updates order status
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	return err
}

// GetAffiliateByID retrieves an affiliate by ID
func (s *Store) GetAffiliateByID(ctx context.Context, id int64) (*models.Affiliate, error) {
	var affiliate models.Affiliate
	err := s.db.GetContext(ctx, &affiliate, "SELECT * FROM affiliates WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &affiliate, nil
}

// UpsertPayment inserts a payment record or refreshes its value on conflict.
// Status is applied separately through ApplyPaymentStatus so replays cannot
// overwrite a later state.
func (s *Store) UpsertPayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (provider_payment_id, order_id, status, value_cents)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider_payment_id) DO UPDATE
		SET value_cents = EXCLUDED.value_cents, updated_at = NOW()
		RETURNING id, provider_payment_id, order_id, status, value_cents,
		          confirmed_at, paid_at, created_at, updated_at`

	return s.db.GetContext(ctx, payment, query,
		payment.ProviderPaymentID, payment.OrderID, payment.Status, payment.ValueCents)
}

// GetPaymentByProviderID retrieves a payment by the provider's id
func (s *Store) GetPaymentByProviderID(ctx context.Context, providerPaymentID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE provider_payment_id = $1", providerPaymentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// ApplyPaymentStatus transitions a payment to the given status only if the
// lattice allows it from the payment's current status. The guarded UPDATE
// makes concurrent applies race-safe: the row's own status decides, not a
// value read earlier. Returns whether the transition was applied.
func (s *Store) ApplyPaymentStatus(ctx context.Context, paymentID int64, from, to string) (bool, error) {
	if !models.CanTransitionPayment(from, to) {
		return false, nil
	}

	query := `
		UPDATE payments
		SET status = $1,
		    confirmed_at = CASE WHEN $1 = 'CONFIRMED' THEN NOW() ELSE confirmed_at END,
		    paid_at      = CASE WHEN $1 = 'RECEIVED'  THEN NOW() ELSE paid_at END,
		    updated_at = NOW()
		WHERE id = $2 AND status = $3`

	res, err := s.db.ExecContext(ctx, query, to, paymentID, from)
	if err != nil {
		return false, fmt.Errorf("failed to apply payment status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// InsertCommission inserts one (order, level) commission row. The unique
// constraint on (order_id, level) makes recomputation after a crash a no-op;
// returns whether a new row was created.
func (s *Store) InsertCommission(ctx context.Context, c *models.Commission) (bool, error) {
	query := `
		INSERT INTO commissions (order_id, affiliate_id, level, percent_bp, amount_cents, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id, level) DO NOTHING
		RETURNING id, created_at, updated_at`

	err := s.db.GetContext(ctx, c, query,
		c.OrderID, c.AffiliateID, c.Level, c.PercentBP, c.AmountCents, c.Status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert commission: %w", err)
	}
	return true, nil
}

// GetCommissionsByOrderID retrieves all commission rows for an order
func (s *Store) GetCommissionsByOrderID(ctx context.Context, orderID int64) ([]models.Commission, error) {
	var commissions []models.Commission
	err := s.db.SelectContext(ctx, &commissions,
		"SELECT * FROM commissions WHERE order_id = $1 ORDER BY level", orderID)
	return commissions, err
}

// MarkCommissionPaid transitions a commission from pending to paid. Paid is
// terminal; returns whether this call made the transition, so notification
// fires exactly once per commission.
func (s *Store) MarkCommissionPaid(ctx context.Context, commissionID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE commissions SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		models.CommissionStatusPaid, commissionID, models.CommissionStatusPending)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// RejectPendingCommissions rejects all still-pending commissions for an
// order, recording the reason. Paid rows are untouched; rejection is a
// status, never a deletion.
func (s *Store) RejectPendingCommissions(ctx context.Context, orderID int64, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE commissions SET status = $1, reason = $2, updated_at = NOW()
		WHERE order_id = $3 AND status = $4`,
		models.CommissionStatusRejected, reason, orderID, models.CommissionStatusPending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateSplit creates the pending split row for an order. The unique
// constraint on order_id keeps exactly one split aggregate per order;
// a concurrent create loses cleanly and the caller re-reads.
func (s *Store) CreateSplit(ctx context.Context, split *models.CommissionSplit) (bool, error) {
	query := `
		INSERT INTO commission_splits (order_id, total_cents, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING id, created_at, updated_at`

	err := s.db.GetContext(ctx, split, query, split.OrderID, split.TotalCents, split.Status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create split: %w", err)
	}
	return true, nil
}

// GetSplitByOrderID retrieves the split aggregate for an order
func (s *Store) GetSplitByOrderID(ctx context.Context, orderID int64) (*models.CommissionSplit, error) {
	var split models.CommissionSplit
	err := s.db.GetContext(ctx, &split,
		"SELECT * FROM commission_splits WHERE order_id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &split, nil
}

// MarkSplitExecuted records a provider-confirmed split execution
func (s *Store) MarkSplitExecuted(ctx context.Context, splitID int64, providerSplitID, providerResponse string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE commission_splits
		SET status = $1, provider_split_id = $2, provider_response = $3, updated_at = NOW()
		WHERE id = $4`,
		models.SplitStatusExecuted, providerSplitID, providerResponse, splitID)
	return err
}

// MarkSplitFailed marks a split as failed, retaining the raw provider
// response for diagnostics. A failed split is never silently converted back.
func (s *Store) MarkSplitFailed(ctx context.Context, splitID int64, providerResponse string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE commission_splits
		SET status = $1, provider_response = $2, updated_at = NOW()
		WHERE id = $3 AND status <> $4`,
		models.SplitStatusFailed, providerResponse, splitID, models.SplitStatusExecuted)
	return err
}

// RecordSplitAttempt increments the retry counter and stores the latest
// provider response after a transient failure.
func (s *Store) RecordSplitAttempt(ctx context.Context, splitID int64, providerResponse string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE commission_splits
		SET retry_count = retry_count + 1, provider_response = $1, updated_at = NOW()
		WHERE id = $2`,
		providerResponse, splitID)
	return err
}
