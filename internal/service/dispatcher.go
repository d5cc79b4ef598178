package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-service/internal/models"
	"settlement-service/internal/provider"
	"settlement-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrSplitRejected means the provider refused the split; retrying the same
// request cannot succeed and the split is terminally failed.
var ErrSplitRejected = errors.New("split rejected by provider")

// ErrSplitExhausted means transient failures consumed the retry budget; the
// split is failed and waits for operator intervention.
var ErrSplitExhausted = errors.New("split retry budget exhausted")

// ErrWalletUnavailable means a commission's affiliate can no longer be
// resolved to a wallet, so the split request cannot be built.
var ErrWalletUnavailable = errors.New("affiliate wallet unavailable")

// SplitAPI is the provider call that moves the money. Kept narrow so a
// per-affiliate split implementation can be swapped in without touching the
// calculator or the ledger. Implemented by *provider.Client.
type SplitAPI interface {
	CreateSplit(ctx context.Context, req *provider.SplitRequest) (*provider.SplitResponse, error)
}

// SplitStore is the split-ledger surface the dispatcher needs. Implemented
// by *store.Store.
type SplitStore interface {
	CreateSplit(ctx context.Context, split *models.CommissionSplit) (bool, error)
	GetSplitByOrderID(ctx context.Context, orderID int64) (*models.CommissionSplit, error)
	MarkSplitExecuted(ctx context.Context, splitID int64, providerSplitID, providerResponse string) error
	MarkSplitFailed(ctx context.Context, splitID int64, providerResponse string) error
	RecordSplitAttempt(ctx context.Context, splitID int64, providerResponse string) error
}

// OperatorPublisher surfaces terminally failed splits to the operator queue.
// Implemented by *broker.EventPublisher.
type OperatorPublisher interface {
	PublishSplitFailed(ctx context.Context, event *models.SplitFailedEvent) error
}

// SplitDispatcher tracks one CommissionSplit aggregate per order and drives
// it to executed or failed against the provider, with a bounded retry
// budget. An executed split is the single source of truth for "the
// affiliates have actually been paid".
type SplitDispatcher struct {
	store       SplitStore
	api         SplitAPI
	publisher   OperatorPublisher
	logger      *zap.Logger
	maxAttempts int
	retryDelay  time.Duration
}

// NewSplitDispatcher creates a new split dispatcher
func NewSplitDispatcher(store SplitStore, api SplitAPI, publisher OperatorPublisher, maxAttempts int) *SplitDispatcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &SplitDispatcher{
		store:       store,
		api:         api,
		publisher:   publisher,
		logger:      util.GetLogger(),
		maxAttempts: maxAttempts,
		retryDelay:  2 * time.Second,
	}
}

// Dispatch ensures the order's aggregate split is executed. Safe to re-run:
// an already-executed split returns immediately, a terminally failed one
// returns its terminal error, and a pending one is (re)attempted within the
// remaining retry budget. Returns the split row in its final state.
func (d *SplitDispatcher) Dispatch(ctx context.Context, providerPaymentID string, order *models.Order, commissions []models.Commission, wallets map[int64]string) (*models.CommissionSplit, error) {
	ctx, span := util.StartSpan(ctx, "SplitDispatcher.Dispatch")
	defer span.End()

	req, totalCents, err := buildSplitRequest(providerPaymentID, commissions, wallets)
	if err != nil {
		return nil, err
	}

	split, err := d.ensureSplit(ctx, order.ID, totalCents)
	if err != nil {
		return nil, err
	}

	switch split.Status {
	case models.SplitStatusExecuted:
		return split, nil
	case models.SplitStatusFailed:
		return split, ErrSplitExhausted
	}

	for split.RetryCount < d.maxAttempts {
		util.SplitAttemptsTotal.Inc()
		start := time.Now()
		resp, err := d.api.CreateSplit(ctx, req)
		util.SplitRequestLatency.Observe(time.Since(start).Seconds())

		if err == nil {
			if err := d.store.MarkSplitExecuted(ctx, split.ID, resp.ID, resp.RawBody); err != nil {
				return split, fmt.Errorf("split executed but ledger update failed: %w", err)
			}
			split.Status = models.SplitStatusExecuted
			util.SplitExecutedTotal.Inc()
			d.logger.Info("Split executed",
				zap.Int64("order_id", order.ID),
				zap.String("provider_split_id", resp.ID),
				zap.Int64("total_cents", totalCents))
			return split, nil
		}

		if !provider.IsTransient(err) {
			d.failSplit(ctx, split, order, totalCents, err.Error())
			return split, fmt.Errorf("%w: %s", ErrSplitRejected, err.Error())
		}

		split.RetryCount++
		d.logger.Warn("Transient split failure",
			zap.Int64("order_id", order.ID),
			zap.Int("attempt", split.RetryCount),
			zap.Error(err))
		if err := d.store.RecordSplitAttempt(ctx, split.ID, err.Error()); err != nil {
			return split, fmt.Errorf("failed to record split attempt: %w", err)
		}

		if split.RetryCount >= d.maxAttempts {
			d.failSplit(ctx, split, order, totalCents, "retry budget exhausted: "+err.Error())
			return split, ErrSplitExhausted
		}

		select {
		case <-ctx.Done():
			return split, ctx.Err()
		case <-time.After(d.retryDelay):
		}
	}

	d.failSplit(ctx, split, order, totalCents, "retry budget exhausted")
	return split, ErrSplitExhausted
}

// ensureSplit reads or creates the order's split row. A lost creation race
// re-reads the winner's row.
func (d *SplitDispatcher) ensureSplit(ctx context.Context, orderID, totalCents int64) (*models.CommissionSplit, error) {
	split, err := d.store.GetSplitByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load split: %w", err)
	}
	if split != nil {
		return split, nil
	}

	split = &models.CommissionSplit{
		OrderID:    orderID,
		TotalCents: totalCents,
		Status:     models.SplitStatusPending,
	}
	created, err := d.store.CreateSplit(ctx, split)
	if err != nil {
		return nil, err
	}
	if created {
		return split, nil
	}

	split, err = d.store.GetSplitByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload split after race: %w", err)
	}
	if split == nil {
		return nil, fmt.Errorf("split for order %d vanished after insert conflict", orderID)
	}
	return split, nil
}

func (d *SplitDispatcher) failSplit(ctx context.Context, split *models.CommissionSplit, order *models.Order, totalCents int64, response string) {
	split.Status = models.SplitStatusFailed
	util.SplitFailedTotal.Inc()
	if err := d.store.MarkSplitFailed(ctx, split.ID, response); err != nil {
		d.logger.Error("Failed to mark split failed",
			zap.Int64("split_id", split.ID),
			zap.Error(err))
	}

	event := &models.SplitFailedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeSplitFailed,
			Timestamp: time.Now(),
		},
		OrderID:    order.ID,
		TotalCents: totalCents,
		Reason:     response,
	}
	if err := d.publisher.PublishSplitFailed(ctx, event); err != nil {
		d.logger.Error("Failed to publish split failure to operator queue",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}

// buildSplitRequest turns non-rejected commission rows into one
// multi-recipient split request. Every row needs a wallet: a commission that
// cannot be paid out must block processing, not be dropped.
func buildSplitRequest(providerPaymentID string, commissions []models.Commission, wallets map[int64]string) (*provider.SplitRequest, int64, error) {
	req := &provider.SplitRequest{ProviderPaymentID: providerPaymentID}
	var totalCents int64

	for _, c := range commissions {
		if c.Status == models.CommissionStatusRejected {
			continue
		}
		walletID, ok := wallets[c.AffiliateID]
		if !ok || walletID == "" {
			return nil, 0, fmt.Errorf("%w: affiliate %d", ErrWalletUnavailable, c.AffiliateID)
		}
		req.Items = append(req.Items, provider.SplitItem{
			WalletID:        walletID,
			FixedValueCents: c.AmountCents,
		})
		totalCents += c.AmountCents
	}

	if len(req.Items) == 0 {
		return nil, 0, fmt.Errorf("no payable commissions for payment %s", providerPaymentID)
	}
	return req, totalCents, nil
}
