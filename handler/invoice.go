package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/richgarden/paygate/infra/logger"
	"github.com/richgarden/paygate/infra/response"
	"github.com/richgarden/paygate/provider"
	"github.com/richgarden/paygate/provider/click"
	"github.com/richgarden/paygate/provider/payme"
)

// ClickInvoicerInterface defines the outbound Click operations the handler needs
type ClickInvoicerInterface interface {
	CreateInvoice(ctx context.Context, order *provider.Order, returnURL string) (*click.InvoiceResponse, error)
}

// PaymeSubscribeInterface defines the Payme Subscribe operations the handler needs
type PaymeSubscribeInterface interface {
	CreateReceipt(ctx context.Context, order *provider.Order) (string, error)
	SendReceipt(ctx context.Context, receiptID, phone string) error
	CheckReceiptStatus(ctx context.Context, orderID string) (int, error)
}

// PaymeCheckoutInterface builds hosted checkout links
type PaymeCheckoutInterface interface {
	CheckoutURL(orderID string, totalPrice float64, returnURL string) string
}

// InvoiceHandler handles merchant-facing invoice and payment-status requests
type InvoiceHandler struct {
	orders    provider.OrderStore
	clickGw   ClickInvoicerInterface
	subscribe PaymeSubscribeInterface
	checkout  PaymeCheckoutInterface
	validate  *validator.Validate
}

// NewInvoiceHandler creates a new invoice handler
func NewInvoiceHandler(orders provider.OrderStore, clickGw ClickInvoicerInterface, subscribe PaymeSubscribeInterface, checkout PaymeCheckoutInterface, validate *validator.Validate) *InvoiceHandler {
	return &InvoiceHandler{
		orders:    orders,
		clickGw:   clickGw,
		subscribe: subscribe,
		checkout:  checkout,
		validate:  validate,
	}
}

type invoiceRequest struct {
	OrderID   string `json:"order_id" validate:"required"`
	ReturnURL string `json:"return_url" validate:"omitempty,url"`
	SendSMS   bool   `json:"send_sms"`
}

// CreateClickInvoice issues a Click invoice for the order and moves it to
// pending payment
func (h *InvoiceHandler) CreateClickInvoice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	req, order, ok := h.loadPayableOrder(ctx, w, r)
	if !ok {
		return
	}

	invoice, err := h.clickGw.CreateInvoice(ctx, order, req.ReturnURL)
	if err != nil {
		response.Error(w, http.StatusBadGateway, "Invoice creation failed", err)
		return
	}

	if err := h.orders.SetOrderStatus(ctx, order.ID, provider.StatusPendingPayment); err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to update order", err)
		return
	}

	response.Success(w, http.StatusOK, "Invoice created", map[string]any{
		"order_id":   order.ID,
		"invoice_id": invoice.InvoiceID,
	})
}

// CreatePaymeInvoice creates a Payme Subscribe receipt for the order,
// optionally pushes it to the customer's phone, and returns the hosted
// checkout link alongside the receipt id
func (h *InvoiceHandler) CreatePaymeInvoice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	req, order, ok := h.loadPayableOrder(ctx, w, r)
	if !ok {
		return
	}

	receiptID, err := h.subscribe.CreateReceipt(ctx, order)
	if err != nil {
		response.Error(w, http.StatusBadGateway, "Receipt creation failed", err)
		return
	}

	if req.SendSMS && order.CustomerPhone != "" {
		if err := h.subscribe.SendReceipt(ctx, receiptID, order.CustomerPhone); err != nil {
			logger.Warn("payme receipt send failed", logger.LogContext{
				Gateway: "payme",
				OrderID: order.ID,
				Fields:  map[string]any{"error": err.Error()},
			})
		}
	}

	response.Success(w, http.StatusOK, "Receipt created", map[string]any{
		"order_id":     order.ID,
		"receipt_id":   receiptID,
		"checkout_url": h.checkout.CheckoutURL(order.ID, order.TotalPrice, req.ReturnURL),
	})
}

// ReceiptStatus polls the remote receipt state for the order. A paid
// observation has already confirmed the order by the time the response is
// written.
func (h *InvoiceHandler) ReceiptStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		response.Error(w, http.StatusBadRequest, "Missing order ID", nil)
		return
	}

	state, err := h.subscribe.CheckReceiptStatus(ctx, orderID)
	if err != nil {
		switch {
		case errors.Is(err, provider.ErrOrderNotFound):
			response.Error(w, http.StatusNotFound, "Order not found", err)
		case errors.Is(err, payme.ErrNoReceipt):
			response.Error(w, http.StatusBadRequest, "Order has no receipt", err)
		default:
			response.Error(w, http.StatusBadGateway, "Status check failed", err)
		}
		return
	}

	response.Success(w, http.StatusOK, "Receipt status retrieved", map[string]any{
		"order_id": orderID,
		"state":    state,
		"paid":     state == payme.ReceiptStatePaid,
	})
}

// loadPayableOrder parses and validates the invoice request and fetches an
// order that is still payable
func (h *InvoiceHandler) loadPayableOrder(ctx context.Context, w http.ResponseWriter, r *http.Request) (invoiceRequest, *provider.Order, bool) {
	var req invoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return req, nil, false
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", err)
		return req, nil, false
	}

	order, err := h.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, provider.ErrOrderNotFound) {
			response.Error(w, http.StatusNotFound, "Order not found", err)
		} else {
			response.Error(w, http.StatusInternalServerError, "Order lookup failed", err)
		}
		return req, nil, false
	}

	if order.Status == provider.StatusPaid {
		response.Error(w, http.StatusConflict, "Order already paid", nil)
		return req, nil, false
	}

	return req, order, true
}
