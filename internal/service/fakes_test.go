package service

import (
	"context"
	"fmt"
	"time"

	"settlement-service/internal/models"
	"settlement-service/internal/provider"
	"settlement-service/internal/store"
)

// fakeLedger is an in-memory stand-in for *store.Store covering the Ledger,
// SplitStore and AffiliateStore surfaces.
type fakeLedger struct {
	events      map[string]*models.InboundEvent
	orders      map[int64]*models.Order
	affiliates  map[int64]*models.Affiliate
	payments    map[string]*models.Payment
	commissions []*models.Commission
	splits      map[int64]*models.CommissionSplit
	nextID      int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		events:     make(map[string]*models.InboundEvent),
		orders:     make(map[int64]*models.Order),
		affiliates: make(map[int64]*models.Affiliate),
		payments:   make(map[string]*models.Payment),
		splits:     make(map[int64]*models.CommissionSplit),
	}
}

func (f *fakeLedger) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeLedger) seedEvent(externalID, eventType string, raw []byte) *models.InboundEvent {
	event := &models.InboundEvent{
		ID:              f.id(),
		ExternalEventID: externalID,
		EventType:       eventType,
		RawPayload:      raw,
		ReceivedAt:      time.Now(),
	}
	f.events[externalID] = event
	return event
}

func (f *fakeLedger) InsertEvent(_ context.Context, externalID, eventType string, raw []byte) (*models.InboundEvent, error) {
	if _, exists := f.events[externalID]; exists {
		return nil, errDuplicate
	}
	return f.seedEvent(externalID, eventType, raw), nil
}

func (f *fakeLedger) GetEventByExternalID(_ context.Context, externalID string) (*models.InboundEvent, error) {
	event, ok := f.events[externalID]
	if !ok {
		return nil, fmt.Errorf("event not found: %s", externalID)
	}
	return event, nil
}

func (f *fakeLedger) MarkEventProcessed(_ context.Context, eventID int64) error {
	for _, e := range f.events {
		if e.ID == eventID {
			e.Processed = true
			e.ProcessingError.Valid = false
		}
	}
	return nil
}

func (f *fakeLedger) MarkEventFailed(_ context.Context, eventID int64, processingError string) error {
	for _, e := range f.events {
		if e.ID == eventID {
			e.Attempts++
			e.ProcessingError.String = processingError
			e.ProcessingError.Valid = true
		}
	}
	return nil
}

func (f *fakeLedger) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	order, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("order not found: %d", id)
	}
	return order, nil
}

func (f *fakeLedger) UpdateOrderStatus(_ context.Context, orderID int64, status string) error {
	if order, ok := f.orders[orderID]; ok {
		order.Status = status
	}
	return nil
}

func (f *fakeLedger) GetAffiliateByID(_ context.Context, id int64) (*models.Affiliate, error) {
	return f.affiliates[id], nil
}

func (f *fakeLedger) UpsertPayment(_ context.Context, payment *models.Payment) error {
	if existing, ok := f.payments[payment.ProviderPaymentID]; ok {
		existing.ValueCents = payment.ValueCents
		*payment = *existing
		return nil
	}
	payment.ID = f.id()
	stored := *payment
	f.payments[payment.ProviderPaymentID] = &stored
	return nil
}

func (f *fakeLedger) ApplyPaymentStatus(_ context.Context, paymentID int64, from, to string) (bool, error) {
	if !models.CanTransitionPayment(from, to) {
		return false, nil
	}
	for _, p := range f.payments {
		if p.ID == paymentID && p.Status == from {
			p.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLedger) InsertCommission(_ context.Context, c *models.Commission) (bool, error) {
	for _, existing := range f.commissions {
		if existing.OrderID == c.OrderID && existing.Level == c.Level {
			return false, nil
		}
	}
	c.ID = f.id()
	stored := *c
	f.commissions = append(f.commissions, &stored)
	return true, nil
}

func (f *fakeLedger) GetCommissionsByOrderID(_ context.Context, orderID int64) ([]models.Commission, error) {
	var rows []models.Commission
	for _, c := range f.commissions {
		if c.OrderID == orderID {
			rows = append(rows, *c)
		}
	}
	return rows, nil
}

func (f *fakeLedger) MarkCommissionPaid(_ context.Context, commissionID int64) (bool, error) {
	for _, c := range f.commissions {
		if c.ID == commissionID && c.Status == models.CommissionStatusPending {
			c.Status = models.CommissionStatusPaid
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLedger) RejectPendingCommissions(_ context.Context, orderID int64, reason string) (int64, error) {
	var count int64
	for _, c := range f.commissions {
		if c.OrderID == orderID && c.Status == models.CommissionStatusPending {
			c.Status = models.CommissionStatusRejected
			c.Reason.String = reason
			c.Reason.Valid = true
			count++
		}
	}
	return count, nil
}

func (f *fakeLedger) CreateSplit(_ context.Context, split *models.CommissionSplit) (bool, error) {
	if _, exists := f.splits[split.OrderID]; exists {
		return false, nil
	}
	split.ID = f.id()
	stored := *split
	f.splits[split.OrderID] = &stored
	return true, nil
}

func (f *fakeLedger) GetSplitByOrderID(_ context.Context, orderID int64) (*models.CommissionSplit, error) {
	split, ok := f.splits[orderID]
	if !ok {
		return nil, nil
	}
	copied := *split
	return &copied, nil
}

func (f *fakeLedger) MarkSplitExecuted(_ context.Context, splitID int64, providerSplitID, providerResponse string) error {
	for _, s := range f.splits {
		if s.ID == splitID {
			s.Status = models.SplitStatusExecuted
			s.ProviderSplitID.String = providerSplitID
			s.ProviderSplitID.Valid = true
			s.ProviderResponse.String = providerResponse
			s.ProviderResponse.Valid = true
		}
	}
	return nil
}

func (f *fakeLedger) MarkSplitFailed(_ context.Context, splitID int64, providerResponse string) error {
	for _, s := range f.splits {
		if s.ID == splitID && s.Status != models.SplitStatusExecuted {
			s.Status = models.SplitStatusFailed
			s.ProviderResponse.String = providerResponse
			s.ProviderResponse.Valid = true
		}
	}
	return nil
}

func (f *fakeLedger) RecordSplitAttempt(_ context.Context, splitID int64, providerResponse string) error {
	for _, s := range f.splits {
		if s.ID == splitID {
			s.RetryCount++
			s.ProviderResponse.String = providerResponse
			s.ProviderResponse.Valid = true
		}
	}
	return nil
}

var errDuplicate = fmt.Errorf("insert event: %w", store.ErrDuplicateEvent)

// fakePublisher records published events and covers every publisher surface.
type fakePublisher struct {
	workItems     []*models.EventReceivedEvent
	notifications []*models.CommissionPaidEvent
	splitFailures []*models.SplitFailedEvent
	failPublish   bool
}

func (f *fakePublisher) PublishEventReceived(_ context.Context, e *models.EventReceivedEvent) error {
	if f.failPublish {
		return fmt.Errorf("broker unavailable")
	}
	f.workItems = append(f.workItems, e)
	return nil
}

func (f *fakePublisher) PublishCommissionPaid(_ context.Context, e *models.CommissionPaidEvent) error {
	if f.failPublish {
		return fmt.Errorf("broker unavailable")
	}
	f.notifications = append(f.notifications, e)
	return nil
}

func (f *fakePublisher) PublishSplitFailed(_ context.Context, e *models.SplitFailedEvent) error {
	if f.failPublish {
		return fmt.Errorf("broker unavailable")
	}
	f.splitFailures = append(f.splitFailures, e)
	return nil
}

func permanentErr() error {
	return &provider.APIError{StatusCode: 400, Body: "invalid wallet"}
}

func transientErr() error {
	return &provider.APIError{StatusCode: 503, Body: "provider unavailable"}
}

// fakeSplitAPI returns a scripted sequence of responses, then succeeds.
type fakeSplitAPI struct {
	calls    int
	requests []*provider.SplitRequest
	script   []error
}

func (f *fakeSplitAPI) CreateSplit(_ context.Context, req *provider.SplitRequest) (*provider.SplitResponse, error) {
	f.calls++
	copied := *req
	f.requests = append(f.requests, &copied)

	if len(f.script) > 0 {
		err := f.script[0]
		f.script = f.script[1:]
		if err != nil {
			return nil, err
		}
	}

	return &provider.SplitResponse{
		ID:      fmt.Sprintf("split_%d", f.calls),
		Status:  "DONE",
		RawBody: `{"status":"DONE"}`,
	}, nil
}
