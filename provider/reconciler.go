package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/richgarden/paygate/infra/logger"
)

// Reconciler is the single authority that flips an order to paid and fires
// the notification collaborator. However many confirmation callbacks arrive,
// and over whichever gateway, the paid transition and the notification happen
// at most once per order.
type Reconciler struct {
	orders        OrderStore
	notifier      Notifier
	notifyTimeout time.Duration
}

// NewReconciler creates a new order reconciler. notifier may be nil when no
// notification channel is configured.
func NewReconciler(orders OrderStore, notifier Notifier) *Reconciler {
	return &Reconciler{
		orders:        orders,
		notifier:      notifier,
		notifyTimeout: 10 * time.Second,
	}
}

// ConfirmPayment records a verified payment confirmation for the order.
// The paid transition is a conditional write; only the caller that actually
// performed it sends the notification. Notification failure is logged and
// never rolled back into the payment result: payment truth comes from the
// gateway, not from the messenger.
func (rc *Reconciler) ConfirmPayment(ctx context.Context, orderID string) error {
	transitioned, err := rc.orders.MarkOrderPaid(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to mark order %s paid: %w", orderID, err)
	}
	if !transitioned {
		// Replay or concurrent duplicate; nothing left to do.
		return nil
	}

	logger.Info("order marked paid", logger.LogContext{OrderID: orderID})

	if rc.notifier == nil {
		return nil
	}

	order, err := rc.orders.GetOrder(ctx, orderID)
	if err != nil {
		logger.Error("order paid but snapshot read failed, notification skipped", err,
			logger.LogContext{OrderID: orderID})
		return nil
	}

	notifyCtx, cancel := context.WithTimeout(ctx, rc.notifyTimeout)
	defer cancel()

	messageRef, err := rc.notifier.Notify(notifyCtx, order, ItemSummary(order.Items))
	if err != nil {
		logger.Error("order notification failed", err, logger.LogContext{OrderID: orderID})
		return nil
	}

	if messageRef != "" {
		if err := rc.orders.SetOrderMessageRef(ctx, orderID, messageRef); err != nil {
			logger.Warn("failed to store notification message ref", logger.LogContext{
				OrderID: orderID,
				Fields:  map[string]any{"error": err.Error()},
			})
		}
	}

	return nil
}

// ItemSummary renders a human-readable one-line-per-item order summary
func ItemSummary(items []Item) string {
	if len(items) == 0 {
		return ""
	}
	lines := make([]string, 0, len(items))
	for _, item := range items {
		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		lines = append(lines, fmt.Sprintf("%s x%d = %.0f", item.Name, qty, item.Price))
	}
	return strings.Join(lines, "\n")
}
