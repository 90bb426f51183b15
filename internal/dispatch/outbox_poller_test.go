package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rs-labo46/ec-checkout/internal/contracts"
	"github.com/rs-labo46/ec-checkout/internal/domain/model"
	"github.com/rs-labo46/ec-checkout/internal/infra/memstore"
	"github.com/rs-labo46/ec-checkout/internal/infra/messaging"
	repo "github.com/rs-labo46/ec-checkout/internal/repository"
	"github.com/rs-labo46/ec-checkout/internal/usecase"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type PublisherMock struct{ mock.Mock }

func (m *PublisherMock) Publish(ctx context.Context, msg messaging.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type sweeperStub struct {
	mu    sync.Mutex
	calls int
}

func (s *sweeperStub) Sweep(ctx context.Context) (usecase.RecoveryReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return usecase.RecoveryReport{}, nil
}

func (s *sweeperStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedOutbox(t *testing.T, store *memstore.Store, eventID, eventType, key string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	err = store.WithinTx(context.Background(), func(r repo.TxRepos) error {
		return r.Outbox().Create(context.Background(), model.OutboxEvent{
			EventID:   eventID,
			EventType: eventType,
			Key:       key,
			Payload:   string(data),
		})
	})
	require.NoError(t, err)
}

func TestDispatchOnce_PublishesAndNotifies(t *testing.T) {
	store := memstore.New()
	pub := &PublisherMock{}
	order := contracts.OrderConfirmed{OrderID: 7, ContactEmail: "taro@example.com", Total: 2000, Currency: "USD"}
	seedOutbox(t, store, "ev-1", contracts.EventOrderConfirmed, "7", order)
	seedOutbox(t, store, "ev-2", contracts.EventPaymentRefunded, "pay_1", contracts.PaymentRefunded{PaymentReference: "pay_1"})

	pub.On("Publish", mock.Anything, mock.MatchedBy(func(m messaging.Message) bool {
		return m.EventID == "ev-1" && m.EventType == contracts.EventOrderConfirmed && m.Key == "7"
	})).Return(nil).Once()
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(m messaging.Message) bool {
		if m.EventType != contracts.EventNotificationEmitted {
			return false
		}
		var c contracts.OrderConfirmation
		return json.Unmarshal(m.Payload, &c) == nil && c.Recipient == "taro@example.com" && c.Order.OrderID == 7
	})).Return(nil).Once()
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(m messaging.Message) bool {
		return m.EventID == "ev-2"
	})).Return(nil).Once()

	p := NewOutboxPoller(store, pub, messaging.NewNotifier(pub), nil, discardLogger(), nil, Options{})
	sent, err := p.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	for _, e := range store.AllOutbox() {
		assert.NotNil(t, e.SentAt, e.EventID)
	}
	// 送信済みは二度と出さない
	sent, err = p.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	pub.AssertExpectations(t)
}

func TestDispatchOnce_FailureIsRetriedUntilMaxAttempts(t *testing.T) {
	store := memstore.New()
	pub := &PublisherMock{}
	seedOutbox(t, store, "ev-1", contracts.EventPaymentRefunded, "pay_1", contracts.PaymentRefunded{PaymentReference: "pay_1"})
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	p := NewOutboxPoller(store, pub, nil, nil, discardLogger(), nil, Options{MaxAttempts: 3})
	for i := 0; i < 5; i++ {
		sent, err := p.DispatchOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, sent)
	}

	pub.AssertNumberOfCalls(t, "Publish", 3)
	events := store.AllOutbox()
	require.Len(t, events, 1)
	assert.Equal(t, 3, events[0].Attempts)
	assert.Nil(t, events[0].SentAt)
	assert.Contains(t, events[0].LastError, "broker down")
}

func TestDispatchOnce_NotifyFailureKeepsEventPending(t *testing.T) {
	store := memstore.New()
	pub := &PublisherMock{}
	seedOutbox(t, store, "ev-1", contracts.EventOrderConfirmed, "7", contracts.OrderConfirmed{OrderID: 7, ContactEmail: "taro@example.com"})

	pub.On("Publish", mock.Anything, mock.MatchedBy(func(m messaging.Message) bool {
		return m.EventType == contracts.EventOrderConfirmed
	})).Return(nil)
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(m messaging.Message) bool {
		return m.EventType == contracts.EventNotificationEmitted
	})).Return(errors.New("timeout")).Once()
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(m messaging.Message) bool {
		return m.EventType == contracts.EventNotificationEmitted
	})).Return(nil).Once()

	p := NewOutboxPoller(store, pub, messaging.NewNotifier(pub), nil, discardLogger(), nil, Options{})
	sent, err := p.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)

	sent, err = p.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 2, store.AllOutbox()[0].Attempts)
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := memstore.New()
	pub := &PublisherMock{}
	seedOutbox(t, store, "ev-1", contracts.EventPaymentRefunded, "pay_1", contracts.PaymentRefunded{PaymentReference: "pay_1"})
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)
	sweeper := &sweeperStub{}

	p := NewOutboxPoller(store, pub, nil, sweeper, discardLogger(), nil, Options{
		EventTick:    5 * time.Millisecond,
		RecoveryTick: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	assert.Eventually(t, func() bool {
		e := store.AllOutbox()[0]
		return e.SentAt != nil && sweeper.count() > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
