package worker_test

import (
	"context"
	"errors"
	"testing"

	kafkax "github.com/ariefcatur/go-card-shop/internal/kafka"
	"github.com/ariefcatur/go-card-shop/internal/orders"
	"github.com/ariefcatur/go-card-shop/internal/worker"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCommitter struct{ mock.Mock }

func (m *MockCommitter) CommitUse(ctx context.Context, code string) { m.Called(ctx, code) }

type MockDeduper struct{ mock.Mock }

func (m *MockDeduper) FirstSeen(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockDeduper) Forget(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type MockCache struct{ mock.Mock }

func (m *MockCache) Invalidate(ctx context.Context, orderID string) error {
	return m.Called(ctx, orderID).Error(0)
}

type mocks struct {
	committer *MockCommitter
	dedup     *MockDeduper
	cache     *MockCache
	svc       *worker.Service
}

func newMocks() *mocks {
	m := &mocks{committer: new(MockCommitter), dedup: new(MockDeduper), cache: new(MockCache)}
	m.svc = &worker.Service{Discounts: m.committer, Dedup: m.dedup, Cache: m.cache}
	return m
}

func message(eventType string, payload any) (kafkago.Message, orders.Envelope) {
	env := kafkax.NewEnvelope("test", eventType, "o1", "", payload)
	return kafkago.Message{Value: kafkax.MustMarshal(env)}, env
}

func TestHandleOrderFinalized_CommitsUsageOnce(t *testing.T) {
	m := newMocks()
	msg, env := message(orders.EventOrderFinalized, orders.OrderFinalizedPayload{OrderID: "o1", Status: orders.StatusDelivered, DiscountCode: "FIVE"})

	m.dedup.On("FirstSeen", mock.Anything, env.EventID).Return(true, nil).Once()
	m.dedup.On("FirstSeen", mock.Anything, env.EventID).Return(false, nil).Once()
	m.committer.On("CommitUse", mock.Anything, "FIVE").Once()
	m.cache.On("Invalidate", mock.Anything, "o1").Return(nil).Once()

	require.NoError(t, m.svc.HandleOrderFinalized(context.Background(), msg))
	require.NoError(t, m.svc.HandleOrderFinalized(context.Background(), msg))

	m.committer.AssertExpectations(t)
	m.dedup.AssertExpectations(t)
	m.cache.AssertExpectations(t)
}

func TestHandleOrderFinalized_NoCode(t *testing.T) {
	m := newMocks()
	msg, _ := message(orders.EventOrderFinalized, orders.OrderFinalizedPayload{OrderID: "o1", Status: orders.StatusPaid})

	m.dedup.On("FirstSeen", mock.Anything, mock.Anything).Return(true, nil)
	m.cache.On("Invalidate", mock.Anything, "o1").Return(errors.New("redis down"))

	require.NoError(t, m.svc.HandleOrderFinalized(context.Background(), msg))
	m.committer.AssertNotCalled(t, "CommitUse", mock.Anything, mock.Anything)
}

func TestHandleOrderFinalized_DedupDownStillProcesses(t *testing.T) {
	m := newMocks()
	msg, _ := message(orders.EventOrderFinalized, orders.OrderFinalizedPayload{OrderID: "o1", DiscountCode: "FIVE"})

	m.dedup.On("FirstSeen", mock.Anything, mock.Anything).Return(false, errors.New("redis down"))
	m.committer.On("CommitUse", mock.Anything, "FIVE").Once()
	m.cache.On("Invalidate", mock.Anything, "o1").Return(nil)

	require.NoError(t, m.svc.HandleOrderFinalized(context.Background(), msg))
	m.committer.AssertExpectations(t)
}

func TestHandlers_IgnoreOtherEventTypes(t *testing.T) {
	m := newMocks()
	msg, _ := message(orders.EventOrderCreated, orders.OrderCreatedPayload{OrderID: "o1"})

	for topic, h := range m.svc.Handlers() {
		require.NoError(t, h(context.Background(), msg), topic)
	}
	m.dedup.AssertNotCalled(t, "FirstSeen", mock.Anything, mock.Anything)
}

func TestHandlers_BadEnvelope(t *testing.T) {
	m := newMocks()
	err := m.svc.HandleOrderCancelled(context.Background(), kafkago.Message{Value: []byte("{")})
	require.Error(t, err)
}

func TestHandleOrderPaidUnfulfilled(t *testing.T) {
	m := newMocks()
	msg, _ := message(orders.EventOrderPaidUnfulfilled, orders.OrderPaidUnfulfilledPayload{OrderID: "o1", ProductID: "p1", Quantity: 2, TradeNo: "T1"})

	m.dedup.On("FirstSeen", mock.Anything, mock.Anything).Return(true, nil)
	m.cache.On("Invalidate", mock.Anything, "o1").Return(nil).Once()

	require.NoError(t, m.svc.HandleOrderPaidUnfulfilled(context.Background(), msg))
	m.cache.AssertExpectations(t)
}

func TestHandleOrderCancelled_InvalidatesCache(t *testing.T) {
	m := newMocks()
	msg, _ := message(orders.EventOrderCancelled, orders.OrderCancelledPayload{OrderID: "o1", Reason: orders.CancelReasonExpired})

	m.dedup.On("FirstSeen", mock.Anything, mock.Anything).Return(true, nil)
	m.cache.On("Invalidate", mock.Anything, "o1").Return(nil).Once()

	require.NoError(t, m.svc.HandleOrderCancelled(context.Background(), msg))
	m.cache.AssertExpectations(t)
}
