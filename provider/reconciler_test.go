package provider

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memOrderStore struct {
	mu     sync.Mutex
	orders map[string]*Order
}

func newMemOrderStore(orders ...*Order) *memOrderStore {
	store := &memOrderStore{orders: map[string]*Order{}}
	for _, order := range orders {
		copied := *order
		store.orders[order.ID] = &copied
	}
	return store
}

func (s *memOrderStore) GetOrder(_ context.Context, orderID string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (s *memOrderStore) SetOrderStatus(_ context.Context, orderID string, status OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	order.Status = status
	return nil
}

func (s *memOrderStore) MarkOrderPaid(_ context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok || order.Status == StatusPaid {
		return false, nil
	}
	order.Status = StatusPaid
	return true, nil
}

func (s *memOrderStore) SetOrderReceiptRef(_ context.Context, orderID, receiptRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	order.ReceiptRef = receiptRef
	return nil
}

func (s *memOrderStore) SetOrderMessageRef(_ context.Context, orderID, messageRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	order.MessageRef = messageRef
	return nil
}

type countingNotifier struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (n *countingNotifier) Notify(_ context.Context, _ *Order, _ string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.fail {
		return "", errors.New("channel down")
	}
	return "msg-1", nil
}

func TestConfirmPaymentTransitionsOnce(t *testing.T) {
	store := newMemOrderStore(&Order{ID: "42", Status: StatusPendingPayment, TotalPrice: 50000})
	notifier := &countingNotifier{}
	rc := NewReconciler(store, notifier)

	require.NoError(t, rc.ConfirmPayment(context.Background(), "42"))

	order, err := store.GetOrder(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, order.Status)
	assert.Equal(t, "msg-1", order.MessageRef)
	assert.Equal(t, 1, notifier.calls)
}

func TestConfirmPaymentReplayIsNoop(t *testing.T) {
	store := newMemOrderStore(&Order{ID: "42", Status: StatusPendingPayment})
	notifier := &countingNotifier{}
	rc := NewReconciler(store, notifier)

	require.NoError(t, rc.ConfirmPayment(context.Background(), "42"))
	require.NoError(t, rc.ConfirmPayment(context.Background(), "42"))
	require.NoError(t, rc.ConfirmPayment(context.Background(), "42"))

	assert.Equal(t, 1, notifier.calls)
}

func TestConfirmPaymentConcurrent(t *testing.T) {
	store := newMemOrderStore(&Order{ID: "42", Status: StatusPendingPayment})
	notifier := &countingNotifier{}
	rc := NewReconciler(store, notifier)

	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			assert.NoError(t, rc.ConfirmPayment(context.Background(), "42"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, notifier.calls)
}

func TestConfirmPaymentNotifierFailureIsNonFatal(t *testing.T) {
	store := newMemOrderStore(&Order{ID: "42", Status: StatusPendingPayment})
	notifier := &countingNotifier{fail: true}
	rc := NewReconciler(store, notifier)

	require.NoError(t, rc.ConfirmPayment(context.Background(), "42"))

	order, err := store.GetOrder(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, order.Status)
	assert.Empty(t, order.MessageRef)
}

func TestConfirmPaymentNilNotifier(t *testing.T) {
	store := newMemOrderStore(&Order{ID: "42", Status: StatusPendingPayment})
	rc := NewReconciler(store, nil)

	require.NoError(t, rc.ConfirmPayment(context.Background(), "42"))

	order, err := store.GetOrder(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, order.Status)
}

func TestItemSummary(t *testing.T) {
	summary := ItemSummary([]Item{
		{Name: "Rose bouquet", Price: 50000, Quantity: 2},
		{Name: "Card", Price: 5000},
	})
	assert.Equal(t, "Rose bouquet x2 = 50000\nCard x1 = 5000", summary)

	assert.Empty(t, ItemSummary(nil))
}
