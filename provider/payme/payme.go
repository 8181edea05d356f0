// Package payme implements the Payme gateway in both flavors: the Merchant
// JSON-RPC transaction lifecycle driven by inbound callbacks against a
// persisted ledger, and the Subscribe polling-receipt flow with no local
// ledger row.
package payme

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/richgarden/paygate/infra/config"
	"github.com/richgarden/paygate/infra/logger"
	"github.com/richgarden/paygate/provider"
)

// Payme Merchant API error codes
const (
	CodeBadAccount          = -31050
	CodeBadAmount           = -31001
	CodeTransactionNotFound = -31003
	CodeAlreadyPaid         = -31007
	CodeCancelled           = -31008
	CodeInternal            = -32400
	CodeAuthFailure         = -32504
	CodeMethodNotFound      = -32601
	CodeInvalidRequest      = -32600
	CodeParseError          = -32700
)

// RPCRequest is the JSON-RPC envelope Payme posts to the merchant endpoint
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// RPCError is the JSON-RPC error object
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// RPCResponse is the JSON-RPC envelope returned for every request, echoing
// the request id as received (Payme sends both numbers and strings).
type RPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// flexString tolerates account references arriving as JSON numbers or strings
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = flexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*s = flexString(num.String())
	return nil
}

type account struct {
	OrderID flexString `json:"order_id"`
}

type checkPerformParams struct {
	Amount  int64   `json:"amount"`
	Account account `json:"account"`
}

type createParams struct {
	ID      string  `json:"id"`
	Time    int64   `json:"time"`
	Amount  int64   `json:"amount"`
	Account account `json:"account"`
}

type performParams struct {
	ID   string `json:"id"`
	Time int64  `json:"time"`
}

type cancelParams struct {
	ID     string `json:"id"`
	Time   int64  `json:"time"`
	Reason int    `json:"reason"`
}

type checkParams struct {
	ID string `json:"id"`
}

type checkResult struct {
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
	CreateTime  int64  `json:"create_time"`
	PerformTime int64  `json:"perform_time"`
	CancelTime  int64  `json:"cancel_time"`
	Reason      *int   `json:"reason"`
}

// Merchant is the Payme Merchant JSON-RPC machine driving the transaction ledger
type Merchant struct {
	cfg        config.PaymeConfig
	orders     provider.OrderStore
	ledger     provider.TransactionStore
	reconciler *provider.Reconciler
}

// NewMerchant creates a Payme Merchant machine with explicit credentials
func NewMerchant(cfg config.PaymeConfig, orders provider.OrderStore, ledger provider.TransactionStore, reconciler *provider.Reconciler) *Merchant {
	return &Merchant{cfg: cfg, orders: orders, ledger: ledger, reconciler: reconciler}
}

// VerifyAuth checks the Authorization header against the shared secret:
// base64(merchant_id:key), optionally Basic-prefixed. Comparison is
// constant-time to avoid leaking prefix matches.
func (m *Merchant) VerifyAuth(header string) bool {
	token := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(header), "Basic"))
	if token == "" {
		return false
	}
	expected := base64.StdEncoding.EncodeToString([]byte(m.cfg.MerchantID + ":" + m.cfg.Key))
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

// Handle dispatches a JSON-RPC request to the matching transaction method.
// Every outcome, including internal failures, is a well-formed JSON-RPC
// response; the gateway never sees a transport-level error.
func (m *Merchant) Handle(ctx context.Context, req RPCRequest) (resp RPCResponse) {
	resp = RPCResponse{JSONRPC: "2.0", ID: req.ID}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("payme handler panic", fmt.Errorf("%v", rec), logger.LogContext{
				Gateway: "payme",
				Fields:  map[string]any{"method": req.Method},
			})
			resp.Result = nil
			resp.Error = &RPCError{Code: CodeInternal, Message: "Internal error"}
		}
	}()

	var result any
	var rpcErr *RPCError

	switch req.Method {
	case "CheckPerformTransaction":
		result, rpcErr = m.checkPerformTransaction(ctx, req.Params)
	case "CreateTransaction":
		result, rpcErr = m.createTransaction(ctx, req.Params)
	case "PerformTransaction":
		result, rpcErr = m.performTransaction(ctx, req.Params)
	case "CheckTransaction":
		result, rpcErr = m.checkTransaction(ctx, req.Params)
	case "CancelTransaction":
		result, rpcErr = m.cancelTransaction(ctx, req.Params)
	default:
		rpcErr = &RPCError{Code: CodeMethodNotFound, Message: "Method not found", Data: req.Method}
	}

	resp.Result = result
	resp.Error = rpcErr
	return resp
}

// checkPerformTransaction validates that the referenced order can accept a
// payment of the given amount
func (m *Merchant) checkPerformTransaction(ctx context.Context, raw json.RawMessage) (any, *RPCError) {
	var params checkPerformParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &RPCError{Code: CodeInvalidRequest, Message: "Invalid request parameters"}
	}

	if rpcErr := m.validateOrder(ctx, string(params.Account.OrderID), params.Amount); rpcErr != nil {
		return nil, rpcErr
	}

	return map[string]any{"allow": true}, nil
}

// createTransaction inserts a Created ledger row using the provider-supplied
// id and timestamp. A replay with a known id returns the stored row without
// re-validating anything.
func (m *Merchant) createTransaction(ctx context.Context, raw json.RawMessage) (any, *RPCError) {
	var params createParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &RPCError{Code: CodeInvalidRequest, Message: "Invalid request parameters"}
	}
	if params.ID == "" || params.Time == 0 || params.Amount == 0 {
		return nil, &RPCError{Code: CodeInvalidRequest, Message: "Invalid request parameters"}
	}

	existing, err := m.ledger.GetTransaction(ctx, params.ID)
	if err == nil {
		return createResultOf(existing), nil
	}
	if !errors.Is(err, provider.ErrTransactionNotFound) {
		return nil, m.internal("payme create: ledger lookup failed", err)
	}

	if rpcErr := m.validateOrder(ctx, string(params.Account.OrderID), params.Amount); rpcErr != nil {
		return nil, rpcErr
	}

	tx := &provider.PaymentTransaction{
		TransactionID: params.ID,
		OrderID:       string(params.Account.OrderID),
		Amount:        params.Amount,
		State:         provider.StateCreated,
		CreateTime:    params.Time,
	}

	if err := m.ledger.CreateTransaction(ctx, tx); err != nil {
		if errors.Is(err, provider.ErrDuplicateTransaction) {
			// Lost the race to a concurrent duplicate; replay its row.
			if winner, readErr := m.ledger.GetTransaction(ctx, params.ID); readErr == nil {
				return createResultOf(winner), nil
			}
		}
		return nil, m.internal("payme create: ledger insert failed", err)
	}

	return createResultOf(tx), nil
}

// performTransaction moves the ledger row to Performed and confirms the
// order payment. Replays return the stored perform time; a replay also
// re-asserts the order's paid status through the reconciler, which is a
// no-op once the transition has happened.
func (m *Merchant) performTransaction(ctx context.Context, raw json.RawMessage) (any, *RPCError) {
	var params performParams
	if err := json.Unmarshal(raw, &params); err != nil || params.ID == "" || params.Time == 0 {
		return nil, &RPCError{Code: CodeInvalidRequest, Message: "Invalid request parameters"}
	}

	tx, rpcErr := m.lookup(ctx, params.ID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	switch tx.State {
	case provider.StatePerformed:
		if err := m.reconciler.ConfirmPayment(ctx, tx.OrderID); err != nil {
			return nil, m.internal("payme perform: confirmation replay failed", err)
		}
		return performResultOf(tx.TransactionID, tx.PerformTime), nil

	case provider.StateCancelled:
		return nil, &RPCError{Code: CodeCancelled, Message: "Transaction cancelled", Data: "id"}
	}

	updated, err := m.ledger.PerformTransaction(ctx, params.ID, params.Time)
	if err != nil {
		return nil, m.internal("payme perform: ledger update failed", err)
	}
	if !updated {
		// Concurrent transition won; settle on whatever state stuck.
		return m.performTransaction(ctx, raw)
	}

	if err := m.reconciler.ConfirmPayment(ctx, tx.OrderID); err != nil {
		return nil, m.internal("payme perform: order confirmation failed", err)
	}

	return performResultOf(params.ID, params.Time), nil
}

// checkTransaction is a read-only projection of the ledger row
func (m *Merchant) checkTransaction(ctx context.Context, raw json.RawMessage) (any, *RPCError) {
	var params checkParams
	if err := json.Unmarshal(raw, &params); err != nil || params.ID == "" {
		return nil, &RPCError{Code: CodeInvalidRequest, Message: "Invalid request parameters"}
	}

	tx, rpcErr := m.lookup(ctx, params.ID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	result := checkResult{
		Transaction: tx.TransactionID,
		State:       int(tx.State),
		CreateTime:  tx.CreateTime,
		PerformTime: tx.PerformTime,
		CancelTime:  tx.CancelTime,
	}
	if tx.State == provider.StateCancelled {
		reason := tx.CancelReason
		result.Reason = &reason
	}

	return result, nil
}

// cancelTransaction moves a Created row to Cancelled. A Performed row can
// never be cancelled; a Cancelled row replays its stored cancellation.
func (m *Merchant) cancelTransaction(ctx context.Context, raw json.RawMessage) (any, *RPCError) {
	var params cancelParams
	if err := json.Unmarshal(raw, &params); err != nil || params.ID == "" || params.Time == 0 {
		return nil, &RPCError{Code: CodeInvalidRequest, Message: "Invalid request parameters"}
	}

	tx, rpcErr := m.lookup(ctx, params.ID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	switch tx.State {
	case provider.StatePerformed:
		return nil, &RPCError{Code: CodeAlreadyPaid, Message: "Transaction already performed", Data: "id"}

	case provider.StateCancelled:
		return cancelResultOf(tx.TransactionID, tx.CancelTime), nil
	}

	updated, err := m.ledger.CancelTransaction(ctx, params.ID, params.Time, params.Reason)
	if err != nil {
		return nil, m.internal("payme cancel: ledger update failed", err)
	}
	if !updated {
		return m.cancelTransaction(ctx, raw)
	}

	return cancelResultOf(params.ID, params.Time), nil
}

// validateOrder runs the shared pre-checks: order exists, amount matches in
// tiyin, order not already paid
func (m *Merchant) validateOrder(ctx context.Context, orderID string, amount int64) *RPCError {
	if orderID == "" {
		return &RPCError{Code: CodeBadAccount, Message: "Order reference missing", Data: "order_id"}
	}

	order, err := m.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, provider.ErrOrderNotFound) {
			return &RPCError{Code: CodeBadAccount, Message: "Order not found", Data: "order_id"}
		}
		return m.internal("payme: order lookup failed", err)
	}

	expected := int64(math.Round(order.TotalPrice * 100))
	if amount != expected {
		return &RPCError{Code: CodeBadAmount, Message: "Incorrect amount", Data: "amount"}
	}

	if order.Status == provider.StatusPaid {
		return &RPCError{Code: CodeAlreadyPaid, Message: "Order already paid", Data: "order_id"}
	}

	return nil
}

func (m *Merchant) lookup(ctx context.Context, transactionID string) (*provider.PaymentTransaction, *RPCError) {
	tx, err := m.ledger.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, provider.ErrTransactionNotFound) {
			return nil, &RPCError{Code: CodeTransactionNotFound, Message: "Transaction not found", Data: "id"}
		}
		return nil, m.internal("payme: ledger lookup failed", err)
	}
	return tx, nil
}

func (m *Merchant) internal(message string, err error) *RPCError {
	logger.Error(message, err, logger.LogContext{Gateway: "payme"})
	return &RPCError{Code: CodeInternal, Message: "Internal error"}
}

func createResultOf(tx *provider.PaymentTransaction) map[string]any {
	return map[string]any{
		"create_time": tx.CreateTime,
		"transaction": tx.TransactionID,
		"state":       int(tx.State),
	}
}

func performResultOf(transactionID string, performTime int64) map[string]any {
	return map[string]any{
		"transaction":  transactionID,
		"perform_time": performTime,
		"state":        int(provider.StatePerformed),
	}
}

func cancelResultOf(transactionID string, cancelTime int64) map[string]any {
	return map[string]any{
		"transaction": transactionID,
		"cancel_time": cancelTime,
		"state":       int(provider.StateCancelled),
	}
}

// CheckoutURL builds the GET-method checkout link that sends the customer to
// the hosted Payme payment page for the order
func (m *Merchant) CheckoutURL(orderID string, totalPrice float64, returnURL string) string {
	amountTiyin := int64(math.Round(totalPrice * 100))

	params := url.Values{}
	params.Set("amount", fmt.Sprintf("%d", amountTiyin))
	params.Set("account[order_id]", orderID)
	params.Set("lang", "ru")
	params.Set("timeout", "15000")
	if returnURL != "" {
		params.Set("back", returnURL)
	}

	return fmt.Sprintf("%s/%s?%s", strings.TrimSuffix(m.cfg.CheckoutURL, "/"), m.cfg.MerchantID, params.Encode())
}
