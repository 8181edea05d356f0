package provider

import (
	"context"
	"errors"
	"time"
)

// OrderStatus represents the lifecycle state of an order
type OrderStatus string

const (
	StatusNew            OrderStatus = "new"
	StatusPendingPayment OrderStatus = "pending_payment"
	StatusPaid           OrderStatus = "paid"
	StatusProcessing     OrderStatus = "processing"
	StatusShipping       OrderStatus = "shipping"
	StatusDone           OrderStatus = "done"
	StatusCancelled      OrderStatus = "cancelled"
)

// TransactionState represents the state of a gateway transaction in the ledger.
// The numeric values are part of the Payme Merchant API wire protocol.
type TransactionState int

const (
	StateCreated   TransactionState = 0
	StatePerformed TransactionState = 1
	StateCancelled TransactionState = -1
)

var (
	// ErrOrderNotFound is returned by stores when no order matches the given ID
	ErrOrderNotFound = errors.New("order not found")

	// ErrTransactionNotFound is returned by stores when no ledger row matches
	// the given transaction ID
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrDuplicateTransaction is returned on insert when a ledger row with the
	// same transaction ID already exists
	ErrDuplicateTransaction = errors.New("transaction already exists")
)

// Item represents a single order line used in notifications and receipts
type Item struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// Order is the payment-relevant projection of a storefront order.
// TotalPrice is in major currency units (UZS sum).
type Order struct {
	ID            string      `json:"id"`
	CustomerName  string      `json:"customerName,omitempty"`
	CustomerPhone string      `json:"customerPhone,omitempty"`
	TotalPrice    float64     `json:"totalPrice"`
	Status        OrderStatus `json:"status"`
	Items         []Item      `json:"items,omitempty"`
	Address       string      `json:"address,omitempty"`
	Comment       string      `json:"comment,omitempty"`
	PaymentMethod string      `json:"paymentMethod,omitempty"`
	ReceiptRef    string      `json:"receiptRef,omitempty"`
	MessageRef    string      `json:"messageRef,omitempty"`
	CreatedAt     time.Time   `json:"createdAt,omitempty"`
}

// PaymentTransaction is a ledger row for a Payme Merchant transaction.
// Amount is in minor units (tiyin). Timestamps are provider-supplied unix
// milliseconds stored verbatim so that replayed callbacks see identical data.
type PaymentTransaction struct {
	TransactionID string           `json:"transactionId"`
	OrderID       string           `json:"orderId"`
	Amount        int64            `json:"amount"`
	State         TransactionState `json:"state"`
	CreateTime    int64            `json:"createTime"`
	PerformTime   int64            `json:"performTime,omitempty"`
	CancelTime    int64            `json:"cancelTime,omitempty"`
	CancelReason  int              `json:"cancelReason,omitempty"`
}

// OrderStore is the order persistence surface the payment core depends on.
// The order CRUD itself is owned by the storefront; only the operations the
// reconciliation flow needs are exposed here.
type OrderStore interface {
	// GetOrder returns the order or ErrOrderNotFound
	GetOrder(ctx context.Context, orderID string) (*Order, error)

	// SetOrderStatus unconditionally writes the order status
	SetOrderStatus(ctx context.Context, orderID string, status OrderStatus) error

	// MarkOrderPaid atomically flips the order to paid and reports whether
	// this call performed the transition. The update must be conditional
	// (status <> paid) so that concurrent confirmations race safely.
	MarkOrderPaid(ctx context.Context, orderID string) (bool, error)

	// SetOrderReceiptRef stores the Payme Subscribe receipt identifier
	SetOrderReceiptRef(ctx context.Context, orderID, receiptRef string) error

	// SetOrderMessageRef stores the external notification message reference
	SetOrderMessageRef(ctx context.Context, orderID, messageRef string) error
}

// TransactionStore is the ledger persistence surface for Payme Merchant
// transactions. State transitions are conditional writes; the bool results
// report whether this call performed the transition.
type TransactionStore interface {
	// GetTransaction returns the ledger row or ErrTransactionNotFound
	GetTransaction(ctx context.Context, transactionID string) (*PaymentTransaction, error)

	// CreateTransaction inserts a new Created row. Returns
	// ErrDuplicateTransaction when the transaction ID is already present.
	CreateTransaction(ctx context.Context, tx *PaymentTransaction) error

	// PerformTransaction moves Created -> Performed with the provider-supplied
	// perform time. Returns false when the row was not in Created state.
	PerformTransaction(ctx context.Context, transactionID string, performTime int64) (bool, error)

	// CancelTransaction moves Created -> Cancelled with the provider-supplied
	// cancel time and reason. Returns false when the row was not in Created state.
	CancelTransaction(ctx context.Context, transactionID string, cancelTime int64, reason int) (bool, error)
}

// Notifier delivers a human-readable order summary over an external channel
// and returns an opaque message reference. Implementations must be safe to
// fail: the reconciliation flow treats errors as non-fatal.
type Notifier interface {
	Notify(ctx context.Context, order *Order, itemSummary string) (string, error)
}
