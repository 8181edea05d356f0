package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/richgarden/paygate/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "paygate_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedOrder(t *testing.T, store *SQLiteStore, id string, price float64, status provider.OrderStatus) {
	t.Helper()
	err := store.SaveOrder(context.Background(), &provider.Order{
		ID:            id,
		CustomerName:  "Test Customer",
		CustomerPhone: "+998901234567",
		TotalPrice:    price,
		Status:        status,
		Items: []provider.Item{
			{Name: "Rose bouquet", Price: price, Quantity: 1},
		},
	})
	require.NoError(t, err)
}

func TestSQLiteOrderRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedOrder(t, store, "42", 50000, provider.StatusPendingPayment)

	order, err := store.GetOrder(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "42", order.ID)
	assert.Equal(t, provider.StatusPendingPayment, order.Status)
	assert.Equal(t, 50000.0, order.TotalPrice)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "Rose bouquet", order.Items[0].Name)
	assert.False(t, order.CreatedAt.IsZero())
}

func TestSQLiteGetOrderNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, provider.ErrOrderNotFound)
}

func TestSQLiteMarkOrderPaidOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedOrder(t, store, "42", 50000, provider.StatusPendingPayment)

	transitioned, err := store.MarkOrderPaid(ctx, "42")
	require.NoError(t, err)
	assert.True(t, transitioned)

	// Replay must observe the terminal state and report no transition.
	transitioned, err = store.MarkOrderPaid(ctx, "42")
	require.NoError(t, err)
	assert.False(t, transitioned)

	order, err := store.GetOrder(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, provider.StatusPaid, order.Status)
}

func TestSQLiteMarkOrderPaidMissing(t *testing.T) {
	store := newTestStore(t)

	transitioned, err := store.MarkOrderPaid(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, transitioned)
}

func TestSQLiteOrderRefs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedOrder(t, store, "42", 50000, provider.StatusNew)

	require.NoError(t, store.SetOrderReceiptRef(ctx, "42", "rcpt_001"))
	require.NoError(t, store.SetOrderMessageRef(ctx, "42", "777"))
	require.NoError(t, store.SetOrderStatus(ctx, "42", provider.StatusPendingPayment))

	order, err := store.GetOrder(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "rcpt_001", order.ReceiptRef)
	assert.Equal(t, "777", order.MessageRef)
	assert.Equal(t, provider.StatusPendingPayment, order.Status)

	assert.ErrorIs(t, store.SetOrderReceiptRef(ctx, "missing", "x"), provider.ErrOrderNotFound)
}

func TestSQLiteTransactionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx := &provider.PaymentTransaction{
		TransactionID: "tx1",
		OrderID:       "42",
		Amount:        5000000,
		State:         provider.StateCreated,
		CreateTime:    1700000000000,
	}
	require.NoError(t, store.CreateTransaction(ctx, tx))

	// A second insert with the same id is a duplicate, not a new row.
	assert.ErrorIs(t, store.CreateTransaction(ctx, tx), provider.ErrDuplicateTransaction)

	stored, err := store.GetTransaction(ctx, "tx1")
	require.NoError(t, err)
	assert.Equal(t, provider.StateCreated, stored.State)
	assert.Equal(t, int64(5000000), stored.Amount)

	updated, err := store.PerformTransaction(ctx, "tx1", 1700000001000)
	require.NoError(t, err)
	assert.True(t, updated)

	updated, err = store.PerformTransaction(ctx, "tx1", 1700000002000)
	require.NoError(t, err)
	assert.False(t, updated)

	stored, err = store.GetTransaction(ctx, "tx1")
	require.NoError(t, err)
	assert.Equal(t, provider.StatePerformed, stored.State)
	assert.Equal(t, int64(1700000001000), stored.PerformTime)

	// A performed transaction cannot be cancelled through the conditional write.
	updated, err = store.CancelTransaction(ctx, "tx1", 1700000003000, 5)
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestSQLiteCancelTransaction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTransaction(ctx, &provider.PaymentTransaction{
		TransactionID: "tx2",
		OrderID:       "42",
		Amount:        5000000,
		State:         provider.StateCreated,
		CreateTime:    1700000000000,
	}))

	updated, err := store.CancelTransaction(ctx, "tx2", 1700000005000, 3)
	require.NoError(t, err)
	assert.True(t, updated)

	stored, err := store.GetTransaction(ctx, "tx2")
	require.NoError(t, err)
	assert.Equal(t, provider.StateCancelled, stored.State)
	assert.Equal(t, int64(1700000005000), stored.CancelTime)
	assert.Equal(t, 3, stored.CancelReason)
}

func TestSQLiteGetTransactionNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetTransaction(context.Background(), "missing")
	assert.ErrorIs(t, err, provider.ErrTransactionNotFound)
}
