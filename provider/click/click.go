// Package click implements the Click two-phase webhook protocol: a
// Prepare/Complete challenge-response where the order itself carries the
// authoritative payment state, plus outbound invoice creation.
package click

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/richgarden/paygate/infra/config"
	"github.com/richgarden/paygate/infra/logger"
	"github.com/richgarden/paygate/provider"
)

// Click callback error codes. Returned inside HTTP 200 bodies; the gateway
// only interprets the JSON error field.
const (
	CodeSuccess       = 0
	CodeInvalidSign   = -1
	CodeBadAmount     = -2
	CodeOrderNotFound = -5
	CodeInternal      = -8
	CodeAlreadyPaid   = -9
)

// Callback actions
const (
	ActionPrepare  = "0"
	ActionComplete = "1"
)

// amountTolerance is the accepted drift between the callback amount and the
// order total, in major currency units.
const amountTolerance = 0.01

// CallbackRequest carries the fields Click sends to /check and /result.
// Amount keeps the provider's own string rendering because it participates
// in the signature exactly as formatted.
type CallbackRequest struct {
	ClickTransID      string
	ServiceID         string
	MerchantTransID   string
	MerchantPrepareID string
	Amount            string
	Action            string
	Error             string
	SignTime          string
	SignString        string
}

// CallbackResponse is the protocol body returned for both endpoints
type CallbackResponse struct {
	ClickTransID      string `json:"click_trans_id"`
	MerchantTransID   string `json:"merchant_trans_id"`
	MerchantPrepareID string `json:"merchant_prepare_id,omitempty"`
	MerchantConfirmID string `json:"merchant_confirm_id,omitempty"`
	Error             int    `json:"error"`
	ErrorNote         string `json:"error_note"`
}

// InvoiceResponse is Click's answer to an invoice creation call
type InvoiceResponse struct {
	InvoiceID int64  `json:"invoice_id"`
	ErrorCode int    `json:"error_code"`
	ErrorNote string `json:"error_note"`
}

// Gateway is the Click payment machine
type Gateway struct {
	cfg        config.ClickConfig
	orders     provider.OrderStore
	reconciler *provider.Reconciler
	httpClient *provider.GatewayHTTPClient
}

// New creates a Click gateway machine with explicit credentials
func New(cfg config.ClickConfig, orders provider.OrderStore, reconciler *provider.Reconciler) *Gateway {
	return &Gateway{
		cfg:        cfg,
		orders:     orders,
		reconciler: reconciler,
		httpClient: provider.NewGatewayHTTPClient(provider.CreateHTTPClientConfig(cfg.APIURL, 0)),
	}
}

// Prepare handles the action=0 callback: verify the caller, check the order
// is payable, and echo back a prepare id for the Complete step to reference.
func (g *Gateway) Prepare(ctx context.Context, req CallbackRequest, clientIP string) CallbackResponse {
	g.checkSourceIP(clientIP)

	if !g.VerifySignature(req, false) {
		return g.fail(req, CodeInvalidSign, "Invalid signature")
	}

	order, err := g.orders.GetOrder(ctx, req.MerchantTransID)
	if err != nil {
		if errors.Is(err, provider.ErrOrderNotFound) {
			return g.fail(req, CodeOrderNotFound, "Order not found")
		}
		logger.Error("click prepare: order lookup failed", err, logger.LogContext{
			Gateway: "click", OrderID: req.MerchantTransID,
		})
		return g.fail(req, CodeInternal, "Internal error")
	}

	if order.Status == provider.StatusPaid {
		return g.fail(req, CodeAlreadyPaid, "Order already paid")
	}

	incomingAmount, err := strconv.ParseFloat(req.Amount, 64)
	if err != nil || math.Abs(incomingAmount-order.TotalPrice) > amountTolerance {
		return g.fail(req, CodeBadAmount, "Incorrect amount")
	}

	return CallbackResponse{
		ClickTransID:      req.ClickTransID,
		MerchantTransID:   order.ID,
		MerchantPrepareID: order.ID,
		Error:             CodeSuccess,
		ErrorNote:         "Success",
	}
}

// Complete handles the action=1 callback: the signature now covers the
// prepare id issued by Prepare, and a verified call confirms the payment.
// Replays against an already paid order succeed without side effects.
func (g *Gateway) Complete(ctx context.Context, req CallbackRequest, clientIP string) CallbackResponse {
	g.checkSourceIP(clientIP)

	if req.MerchantPrepareID == "" || !g.VerifySignature(req, true) {
		return g.fail(req, CodeInvalidSign, "Invalid signature")
	}

	if upstream, err := strconv.Atoi(req.Error); err == nil && upstream < 0 {
		return g.fail(req, CodeAlreadyPaid, "Transaction failed on gateway side")
	}

	order, err := g.orders.GetOrder(ctx, req.MerchantTransID)
	if err != nil {
		if errors.Is(err, provider.ErrOrderNotFound) {
			return g.fail(req, CodeOrderNotFound, "Order not found")
		}
		logger.Error("click complete: order lookup failed", err, logger.LogContext{
			Gateway: "click", OrderID: req.MerchantTransID,
		})
		return g.fail(req, CodeInternal, "Internal error")
	}

	if order.Status == provider.StatusPaid {
		return CallbackResponse{
			ClickTransID:      req.ClickTransID,
			MerchantTransID:   order.ID,
			MerchantConfirmID: order.ID,
			Error:             CodeSuccess,
			ErrorNote:         "Already paid",
		}
	}

	if err := g.reconciler.ConfirmPayment(ctx, order.ID); err != nil {
		logger.Error("click complete: payment confirmation failed", err, logger.LogContext{
			Gateway: "click", OrderID: order.ID,
		})
		return g.fail(req, CodeInternal, "Internal error")
	}

	return CallbackResponse{
		ClickTransID:      req.ClickTransID,
		MerchantTransID:   order.ID,
		MerchantConfirmID: order.ID,
		Error:             CodeSuccess,
		ErrorNote:         "Success",
	}
}

// VerifySignature checks the md5 digest Click computes over the concatenated
// callback fields and the shared secret. The Complete step additionally
// covers the prepare id. Click formats the amount inconsistently (integer,
// one or two decimals), so every plausible rendering of the received amount
// is tried; the shared secret still gates all of them.
func (g *Gateway) VerifySignature(req CallbackRequest, withPrepareID bool) bool {
	incoming := strings.ToLower(strings.TrimSpace(req.SignString))
	if incoming == "" {
		return false
	}

	var lastComputed string
	for _, amount := range amountRenderings(req.Amount) {
		var sb strings.Builder
		sb.WriteString(req.ClickTransID)
		sb.WriteString(req.ServiceID)
		sb.WriteString(g.cfg.SecretKey)
		sb.WriteString(req.MerchantTransID)
		if withPrepareID {
			sb.WriteString(req.MerchantPrepareID)
		}
		sb.WriteString(amount)
		sb.WriteString(req.Action)
		sb.WriteString(req.SignTime)

		sum := md5.Sum([]byte(sb.String()))
		lastComputed = hex.EncodeToString(sum[:])
		if lastComputed == incoming {
			return true
		}
	}

	logger.Warn("click signature mismatch", logger.LogContext{
		Gateway: "click",
		OrderID: req.MerchantTransID,
		Fields: map[string]any{
			"computed": lastComputed,
			"received": incoming,
		},
	})
	return false
}

// amountRenderings returns the candidate string forms of a callback amount:
// the raw value as received plus the integer, one-decimal and two-decimal
// renderings of its numeric value.
func amountRenderings(raw string) []string {
	seen := map[string]bool{}
	renderings := []string{}
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			renderings = append(renderings, s)
		}
	}

	add(strings.TrimSpace(raw))

	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return renderings
	}
	if value == math.Trunc(value) {
		add(strconv.FormatInt(int64(value), 10))
	}
	add(strconv.FormatFloat(value, 'f', 1, 64))
	add(strconv.FormatFloat(value, 'f', 2, 64))

	return renderings
}

// checkSourceIP logs callbacks arriving from outside Click's published
// address range. The check is deliberately soft: the signature is the
// authentication boundary, the allow-list only feeds monitoring.
func (g *Gateway) checkSourceIP(clientIP string) {
	if clientIP == "" || clientIP == "127.0.0.1" || clientIP == "::1" {
		return
	}
	for _, allowed := range g.cfg.AllowedIPs {
		if clientIP == allowed {
			return
		}
	}
	logger.Warn("click callback from unlisted source", logger.LogContext{
		Gateway: "click",
		Fields:  map[string]any{"client_ip": clientIP},
	})
}

func (g *Gateway) fail(req CallbackRequest, code int, note string) CallbackResponse {
	return CallbackResponse{
		ClickTransID:    req.ClickTransID,
		MerchantTransID: req.MerchantTransID,
		Error:           code,
		ErrorNote:       note,
	}
}

// CreateInvoice asks Click to issue an invoice for the order. Click rejects
// fractional amounts, so the total is truncated to whole sums.
func (g *Gateway) CreateInvoice(ctx context.Context, order *provider.Order, returnURL string) (*InvoiceResponse, error) {
	serviceID, err := strconv.Atoi(g.cfg.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("click: invalid service id: %w", err)
	}
	merchantID, err := strconv.Atoi(g.cfg.MerchantID)
	if err != nil {
		return nil, fmt.Errorf("click: invalid merchant id: %w", err)
	}
	merchantUserID, err := strconv.Atoi(g.cfg.MerchantUserID)
	if err != nil {
		return nil, fmt.Errorf("click: invalid merchant user id: %w", err)
	}

	payload := map[string]any{
		"service_id":       serviceID,
		"merchant_id":      merchantID,
		"merchant_user_id": merchantUserID,
		"amount":           int64(order.TotalPrice),
		"currency":         "UZS",
		"description":      fmt.Sprintf("Order #%s payment", order.ID),
		"order_id":         order.ID,
	}
	// Click validates back_url and refuses plain-http and local addresses.
	if strings.HasPrefix(returnURL, "https://") {
		payload["back_url"] = returnURL
	}

	resp, err := g.httpClient.SendJSON(ctx, &provider.HTTPRequest{
		Method:   "POST",
		Endpoint: "/invoice/create",
		Headers:  g.authHeaders(time.Now()),
		Body:     payload,
	})
	if err != nil {
		return nil, fmt.Errorf("click: invoice request failed: %w", err)
	}

	var invoice InvoiceResponse
	if err := g.httpClient.ParseJSONResponse(resp, &invoice); err != nil {
		return nil, fmt.Errorf("click: invalid invoice response: %w", err)
	}
	if invoice.ErrorCode != 0 {
		return nil, fmt.Errorf("click: invoice rejected: %d %s", invoice.ErrorCode, invoice.ErrorNote)
	}

	return &invoice, nil
}

// authHeaders builds the Click merchant API digest header:
// Auth: {merchant_user_id}:{sha1(timestamp+secret)}:{timestamp}
func (g *Gateway) authHeaders(now time.Time) map[string]string {
	timestamp := strconv.FormatInt(now.Unix(), 10)
	sum := sha1.Sum([]byte(timestamp + g.cfg.SecretKey))
	return map[string]string{
		"Auth": fmt.Sprintf("%s:%s:%s", g.cfg.MerchantUserID, hex.EncodeToString(sum[:]), timestamp),
	}
}
