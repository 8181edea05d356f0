package payme

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/richgarden/paygate/infra/config"
	"github.com/richgarden/paygate/infra/logger"
	"github.com/richgarden/paygate/provider"
)

// ReceiptStatePaid is the receipts.get state denoting a settled receipt
const ReceiptStatePaid = 4

// ErrNoReceipt is returned when a status check targets an order that never
// had a receipt created
var ErrNoReceipt = errors.New("order has no receipt")

// Subscribe is the Payme Subscribe machine: a create-and-poll receipt flow
// with no local ledger row. Receipt state lives on the provider side and is
// fetched on demand; the reconciler call on a paid observation is the
// idempotency boundary.
type Subscribe struct {
	cfg        config.PaymeConfig
	orders     provider.OrderStore
	reconciler *provider.Reconciler
	httpClient *provider.GatewayHTTPClient
}

// NewSubscribe creates a Payme Subscribe machine with explicit credentials
func NewSubscribe(cfg config.PaymeConfig, orders provider.OrderStore, reconciler *provider.Reconciler) *Subscribe {
	return &Subscribe{
		cfg:        cfg,
		orders:     orders,
		reconciler: reconciler,
		httpClient: provider.NewGatewayHTTPClient(provider.CreateHTTPClientConfig(cfg.APIURL, 0)),
	}
}

type receiptEnvelope struct {
	Result *struct {
		Receipt struct {
			ID    string `json:"_id"`
			State int    `json:"state"`
		} `json:"receipt"`
	} `json:"result"`
	Error *RPCError `json:"error"`
}

// CreateReceipt builds the upstream receipt resource for the order, stores
// its identifier on the order and moves the order to pending payment.
func (s *Subscribe) CreateReceipt(ctx context.Context, order *provider.Order) (string, error) {
	amountTiyin := int64(math.Round(order.TotalPrice * 100))

	items := make([]map[string]any, 0, len(order.Items))
	for _, item := range order.Items {
		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		items = append(items, map[string]any{
			"name":     item.Name,
			"price":    int64(math.Round(item.Price * 100)),
			"quantity": qty,
		})
	}
	if len(items) == 0 {
		items = append(items, map[string]any{"name": "Order", "price": amountTiyin, "quantity": 1})
	}

	envelope, err := s.call(ctx, "receipts.create", map[string]any{
		"merchant_id": s.cfg.MerchantID,
		"order_id":    order.ID,
		"amount":      amountTiyin,
		"currency":    "UZS",
		"description": fmt.Sprintf("Order #%s payment", order.ID),
		"items":       items,
	})
	if err != nil {
		return "", err
	}

	receiptID := envelope.Result.Receipt.ID
	if receiptID == "" {
		return "", errors.New("payme: receipts.create returned no receipt id")
	}

	if err := s.orders.SetOrderReceiptRef(ctx, order.ID, receiptID); err != nil {
		return "", fmt.Errorf("payme: failed to store receipt ref: %w", err)
	}
	if err := s.orders.SetOrderStatus(ctx, order.ID, provider.StatusPendingPayment); err != nil {
		return "", fmt.Errorf("payme: failed to set order pending: %w", err)
	}

	return receiptID, nil
}

// SendReceipt pushes the receipt link to the customer's phone. Best effort:
// callers treat failure as non-fatal and only log it.
func (s *Subscribe) SendReceipt(ctx context.Context, receiptID, phone string) error {
	_, err := s.call(ctx, "receipts.send", map[string]any{
		"id":    receiptID,
		"phone": normalizePhone(phone),
	})
	return err
}

// CheckReceiptStatus fetches the receipt's remote state for the order. The
// first paid observation confirms the order payment through the reconciler;
// polling is driven by the client and may repeat arbitrarily.
func (s *Subscribe) CheckReceiptStatus(ctx context.Context, orderID string) (int, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	if order.ReceiptRef == "" {
		return 0, ErrNoReceipt
	}

	envelope, err := s.call(ctx, "receipts.get", map[string]any{"id": order.ReceiptRef})
	if err != nil {
		return 0, err
	}

	state := envelope.Result.Receipt.State
	if state == ReceiptStatePaid {
		if err := s.reconciler.ConfirmPayment(ctx, orderID); err != nil {
			return state, fmt.Errorf("payme: payment confirmation failed: %w", err)
		}
	}

	return state, nil
}

// call performs one Subscribe API JSON-RPC request with the X-Auth header
func (s *Subscribe) call(ctx context.Context, method string, params map[string]any) (*receiptEnvelope, error) {
	resp, err := s.httpClient.SendJSON(ctx, &provider.HTTPRequest{
		Method:   "POST",
		Endpoint: "",
		Headers: map[string]string{
			"X-Auth": s.cfg.MerchantID + ":" + s.cfg.Key,
		},
		Body: map[string]any{
			"jsonrpc": "2.0",
			"id":      time.Now().Unix(),
			"method":  method,
			"params":  params,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("payme: %s request failed: %w", method, err)
	}

	var envelope receiptEnvelope
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, fmt.Errorf("payme: invalid %s response: %w", method, err)
	}
	if envelope.Error != nil {
		logger.Warn("payme subscribe call rejected", logger.LogContext{
			Gateway: "payme",
			Fields:  map[string]any{"method": method, "code": envelope.Error.Code},
		})
		return nil, fmt.Errorf("payme: %s rejected: %d %s", method, envelope.Error.Code, envelope.Error.Message)
	}
	if envelope.Result == nil {
		return nil, fmt.Errorf("payme: %s returned no result", method)
	}

	return &envelope, nil
}

// normalizePhone reduces a customer phone to the 998XXXXXXXXX form the
// Subscribe API expects
func normalizePhone(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	clean := digits.String()
	if strings.HasPrefix(clean, "998") {
		return clean
	}
	if len(clean) >= 9 {
		return "998" + clean[len(clean)-9:]
	}
	return clean
}
