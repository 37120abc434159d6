package order

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Jamesmallon1/event-driven-shop/internal/catalog"
	"github.com/Jamesmallon1/event-driven-shop/internal/events"
)

type fakeRepo struct {
	createFunc     func(ctx context.Context, o *Order, evt OutboxEvent) error
	getByIDFunc    func(ctx context.Context, orderID string) (*Order, error)
	markFailedFunc func(ctx context.Context, orderID string) error
}

func (f *fakeRepo) Create(ctx context.Context, o *Order, evt OutboxEvent) error {
	if f.createFunc != nil {
		return f.createFunc(ctx, o, evt)
	}
	return nil
}

func (f *fakeRepo) GetByID(ctx context.Context, orderID string) (*Order, error) {
	if f.getByIDFunc != nil {
		return f.getByIDFunc(ctx, orderID)
	}
	return nil, nil
}

func (f *fakeRepo) MarkFailed(ctx context.Context, orderID string) error {
	if f.markFailedFunc != nil {
		return f.markFailedFunc(ctx, orderID)
	}
	return nil
}

type fakeStock struct {
	stockFunc func(ctx context.Context, itemID int64) (catalog.StockLevel, error)
}

func (f *fakeStock) Stock(ctx context.Context, itemID int64) (catalog.StockLevel, error) {
	if f.stockFunc != nil {
		return f.stockFunc(ctx, itemID)
	}
	return catalog.StockLevel{ItemID: itemID, Quantity: 100}, nil
}

type fakePublisher struct {
	buildFunc   func(ctx context.Context, meta events.EventMeta, payload events.OrderPlacedPayload) (string, []byte, error)
	publishFunc func(ctx context.Context, key string, body []byte) error
}

func (f *fakePublisher) BuildOrderPlaced(ctx context.Context, meta events.EventMeta, payload events.OrderPlacedPayload) (string, []byte, error) {
	if f.buildFunc != nil {
		return f.buildFunc(ctx, meta, payload)
	}
	return "1", []byte(`{"eventName":"OrderPlaced"}`), nil
}

func (f *fakePublisher) Publish(ctx context.Context, key string, body []byte) error {
	if f.publishFunc != nil {
		return f.publishFunc(ctx, key, body)
	}
	return nil
}

func (f *fakePublisher) Topic() string { return "orders" }

type fakeOutbox struct {
	markFunc func(ctx context.Context, orderID string) error
}

func (f *fakeOutbox) MarkPublished(ctx context.Context, orderID string) error {
	if f.markFunc != nil {
		return f.markFunc(ctx, orderID)
	}
	return nil
}

func validRequest() Request {
	return Request{ItemID: 1, Name: "Ada Lovelace", Address: "12 Analytical Row", Quantity: 2}
}

func TestIntakePlace_Success(t *testing.T) {
	var stored *Order
	var storedEvt OutboxEvent
	var marked string

	repo := &fakeRepo{createFunc: func(ctx context.Context, o *Order, evt OutboxEvent) error {
		stored = o
		storedEvt = evt
		return nil
	}}
	outbox := &fakeOutbox{markFunc: func(ctx context.Context, orderID string) error {
		marked = orderID
		return nil
	}}
	pub := &fakePublisher{buildFunc: func(ctx context.Context, meta events.EventMeta, payload events.OrderPlacedPayload) (string, []byte, error) {
		assert.NotEmpty(t, meta.CorrelationID)
		assert.Equal(t, int64(1), payload.ItemID)
		assert.Equal(t, 2, payload.Quantity)
		return "1", []byte(`{"ok":true}`), nil
	}}

	intake := NewIntake(repo, outbox, &fakeStock{}, pub, zap.NewNop(), IntakeOptions{})

	o, err := intake.Place(context.Background(), validRequest())
	require.NoError(t, err)
	require.NotNil(t, o)

	assert.NotEmpty(t, o.ID)
	assert.Equal(t, StatusCreated, o.Status)
	assert.Equal(t, int64(1), o.ItemID)
	require.NotNil(t, stored)
	assert.Equal(t, o.ID, stored.ID)
	assert.Equal(t, "orders", storedEvt.Topic)
	assert.Equal(t, "1", storedEvt.PartitionKey)
	assert.Equal(t, []byte(`{"ok":true}`), storedEvt.Payload)
	assert.Equal(t, o.ID, marked)
}

func TestIntakePlace_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		req  Request
		want string
	}{
		{"missing item", Request{Name: "n", Address: "a", Quantity: 1}, "item_id"},
		{"blank name", Request{ItemID: 1, Name: "  ", Address: "a", Quantity: 1}, "name"},
		{"blank address", Request{ItemID: 1, Name: "n", Quantity: 1}, "address"},
		{"zero quantity", Request{ItemID: 1, Name: "n", Address: "a"}, "quantity"},
	}

	created := false
	repo := &fakeRepo{createFunc: func(ctx context.Context, o *Order, evt OutboxEvent) error {
		created = true
		return nil
	}}
	intake := NewIntake(repo, &fakeOutbox{}, &fakeStock{}, &fakePublisher{}, zap.NewNop(), IntakeOptions{})

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o, err := intake.Place(context.Background(), tc.req)
			require.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, err.Error(), tc.want)
			assert.Nil(t, o)
		})
	}
	assert.False(t, created)
}

func TestIntakePlace_UnknownItem(t *testing.T) {
	stock := &fakeStock{stockFunc: func(ctx context.Context, itemID int64) (catalog.StockLevel, error) {
		return catalog.StockLevel{}, catalog.ErrNotFound
	}}
	created := false
	repo := &fakeRepo{createFunc: func(ctx context.Context, o *Order, evt OutboxEvent) error {
		created = true
		return nil
	}}

	intake := NewIntake(repo, &fakeOutbox{}, stock, &fakePublisher{}, zap.NewNop(), IntakeOptions{})

	o, err := intake.Place(context.Background(), validRequest())
	require.ErrorIs(t, err, ErrUnknownItem)
	assert.Nil(t, o)
	assert.False(t, created)
}

func TestIntakePlace_InsufficientStock(t *testing.T) {
	stock := &fakeStock{stockFunc: func(ctx context.Context, itemID int64) (catalog.StockLevel, error) {
		return catalog.StockLevel{ItemID: itemID, Quantity: 1}, nil
	}}

	intake := NewIntake(&fakeRepo{}, &fakeOutbox{}, stock, &fakePublisher{}, zap.NewNop(), IntakeOptions{})

	o, err := intake.Place(context.Background(), validRequest())
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Nil(t, o)
}

func TestIntakePlace_StockServiceDown(t *testing.T) {
	stock := &fakeStock{stockFunc: func(ctx context.Context, itemID int64) (catalog.StockLevel, error) {
		return catalog.StockLevel{}, errors.New("connection refused")
	}}

	intake := NewIntake(&fakeRepo{}, &fakeOutbox{}, stock, &fakePublisher{}, zap.NewNop(), IntakeOptions{})

	o, err := intake.Place(context.Background(), validRequest())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrUnknownItem)
	assert.Nil(t, o)
}

func TestIntakePlace_PersistError(t *testing.T) {
	repo := &fakeRepo{createFunc: func(ctx context.Context, o *Order, evt OutboxEvent) error {
		return errors.New("db down")
	}}

	intake := NewIntake(repo, &fakeOutbox{}, &fakeStock{}, &fakePublisher{}, zap.NewNop(), IntakeOptions{})

	o, err := intake.Place(context.Background(), validRequest())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Nil(t, o)
}

func TestIntakePlace_PublishFailureLeavesOrderPending(t *testing.T) {
	var attempts atomic.Int32
	pub := &fakePublisher{publishFunc: func(ctx context.Context, key string, body []byte) error {
		attempts.Add(1)
		return errors.New("broker gone")
	}}
	marked := false
	outbox := &fakeOutbox{markFunc: func(ctx context.Context, orderID string) error {
		marked = true
		return nil
	}}

	intake := NewIntake(&fakeRepo{}, outbox, &fakeStock{}, pub, zap.NewNop(), IntakeOptions{
		PublishTimeout:    100 * time.Millisecond,
		PublishMaxRetries: 2,
	})

	o, err := intake.Place(context.Background(), validRequest())
	require.ErrorIs(t, err, events.ErrBusUnavailable)
	require.NotNil(t, o)
	assert.Equal(t, StatusCreated, o.Status)
	assert.Equal(t, int32(2), attempts.Load())
	assert.False(t, marked)
}

func TestIntakePlace_MarkPublishedErrorIsNonFatal(t *testing.T) {
	outbox := &fakeOutbox{markFunc: func(ctx context.Context, orderID string) error {
		return errors.New("update lost")
	}}

	intake := NewIntake(&fakeRepo{}, outbox, &fakeStock{}, &fakePublisher{}, zap.NewNop(), IntakeOptions{})

	o, err := intake.Place(context.Background(), validRequest())
	require.NoError(t, err)
	require.NotNil(t, o)
}
