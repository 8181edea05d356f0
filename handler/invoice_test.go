package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/richgarden/paygate/infra/response"
	"github.com/richgarden/paygate/provider"
	"github.com/richgarden/paygate/provider/click"
	"github.com/richgarden/paygate/provider/payme"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOrderStore struct {
	mu     sync.Mutex
	orders map[string]*provider.Order
}

func newStubOrderStore(orders ...*provider.Order) *stubOrderStore {
	store := &stubOrderStore{orders: map[string]*provider.Order{}}
	for _, order := range orders {
		copied := *order
		store.orders[order.ID] = &copied
	}
	return store
}

func (s *stubOrderStore) GetOrder(_ context.Context, orderID string) (*provider.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, provider.ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (s *stubOrderStore) SetOrderStatus(_ context.Context, orderID string, status provider.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order, ok := s.orders[orderID]; ok {
		order.Status = status
		return nil
	}
	return provider.ErrOrderNotFound
}

func (s *stubOrderStore) MarkOrderPaid(_ context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok || order.Status == provider.StatusPaid {
		return false, nil
	}
	order.Status = provider.StatusPaid
	return true, nil
}

func (s *stubOrderStore) SetOrderReceiptRef(_ context.Context, orderID, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order, ok := s.orders[orderID]; ok {
		order.ReceiptRef = ref
		return nil
	}
	return provider.ErrOrderNotFound
}

func (s *stubOrderStore) SetOrderMessageRef(_ context.Context, orderID, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order, ok := s.orders[orderID]; ok {
		order.MessageRef = ref
		return nil
	}
	return provider.ErrOrderNotFound
}

type mockClickInvoicer struct {
	invoice *click.InvoiceResponse
	err     error
}

func (m *mockClickInvoicer) CreateInvoice(_ context.Context, _ *provider.Order, _ string) (*click.InvoiceResponse, error) {
	return m.invoice, m.err
}

type mockSubscribe struct {
	receiptID string
	sendErr   error
	state     int
	stateErr  error
	sendCalls int
}

func (m *mockSubscribe) CreateReceipt(_ context.Context, _ *provider.Order) (string, error) {
	if m.receiptID == "" {
		return "", errStub
	}
	return m.receiptID, nil
}

func (m *mockSubscribe) SendReceipt(_ context.Context, _, _ string) error {
	m.sendCalls++
	return m.sendErr
}

func (m *mockSubscribe) CheckReceiptStatus(_ context.Context, _ string) (int, error) {
	return m.state, m.stateErr
}

type mockCheckout struct{}

func (mockCheckout) CheckoutURL(orderID string, _ float64, _ string) string {
	return "https://checkout.paycom.uz/merchant-1?account%5Border_id%5D=" + orderID
}

var errStub = errors.New("stub failure")

func newTestInvoiceHandler(store *stubOrderStore, clickGw ClickInvoicerInterface, sub PaymeSubscribeInterface) *InvoiceHandler {
	return NewInvoiceHandler(store, clickGw, sub, mockCheckout{}, validator.New())
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateClickInvoice(t *testing.T) {
	store := newStubOrderStore(&provider.Order{ID: "42", Status: provider.StatusNew, TotalPrice: 15000})
	h := newTestInvoiceHandler(store, &mockClickInvoicer{invoice: &click.InvoiceResponse{InvoiceID: 555}}, &mockSubscribe{})

	req := httptest.NewRequest(http.MethodPost, "/payments/invoice/click",
		strings.NewReader(`{"order_id":"42","return_url":"https://shop.example/thanks"}`))
	rec := httptest.NewRecorder()

	h.CreateClickInvoice(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)

	order, err := store.GetOrder(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, provider.StatusPendingPayment, order.Status)
}

func TestCreateClickInvoiceOrderNotFound(t *testing.T) {
	h := newTestInvoiceHandler(newStubOrderStore(), &mockClickInvoicer{}, &mockSubscribe{})

	req := httptest.NewRequest(http.MethodPost, "/payments/invoice/click", strings.NewReader(`{"order_id":"missing"}`))
	rec := httptest.NewRecorder()

	h.CreateClickInvoice(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateClickInvoiceAlreadyPaid(t *testing.T) {
	store := newStubOrderStore(&provider.Order{ID: "42", Status: provider.StatusPaid, TotalPrice: 15000})
	h := newTestInvoiceHandler(store, &mockClickInvoicer{}, &mockSubscribe{})

	req := httptest.NewRequest(http.MethodPost, "/payments/invoice/click", strings.NewReader(`{"order_id":"42"}`))
	rec := httptest.NewRecorder()

	h.CreateClickInvoice(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateClickInvoiceValidation(t *testing.T) {
	h := newTestInvoiceHandler(newStubOrderStore(), &mockClickInvoicer{}, &mockSubscribe{})

	req := httptest.NewRequest(http.MethodPost, "/payments/invoice/click", strings.NewReader(`{"return_url":"https://x.example"}`))
	rec := httptest.NewRecorder()

	h.CreateClickInvoice(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePaymeInvoice(t *testing.T) {
	store := newStubOrderStore(&provider.Order{
		ID:            "42",
		Status:        provider.StatusNew,
		TotalPrice:    50000,
		CustomerPhone: "+998901234567",
	})
	sub := &mockSubscribe{receiptID: "rcpt_001"}
	h := newTestInvoiceHandler(store, &mockClickInvoicer{}, sub)

	req := httptest.NewRequest(http.MethodPost, "/payments/invoice/payme",
		strings.NewReader(`{"order_id":"42","send_sms":true}`))
	rec := httptest.NewRecorder()

	h.CreatePaymeInvoice(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "rcpt_001", data["receipt_id"])
	assert.Contains(t, data["checkout_url"], "order_id")
	assert.Equal(t, 1, sub.sendCalls)
}

func TestCreatePaymeInvoiceSendFailureIsNonFatal(t *testing.T) {
	store := newStubOrderStore(&provider.Order{
		ID:            "42",
		Status:        provider.StatusNew,
		TotalPrice:    50000,
		CustomerPhone: "+998901234567",
	})
	sub := &mockSubscribe{receiptID: "rcpt_001", sendErr: errStub}
	h := newTestInvoiceHandler(store, &mockClickInvoicer{}, sub)

	req := httptest.NewRequest(http.MethodPost, "/payments/invoice/payme",
		strings.NewReader(`{"order_id":"42","send_sms":true}`))
	rec := httptest.NewRecorder()

	h.CreatePaymeInvoice(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeResponse(t, rec).Success)
}

func TestReceiptStatus(t *testing.T) {
	store := newStubOrderStore(&provider.Order{ID: "42", Status: provider.StatusPendingPayment, ReceiptRef: "rcpt_001"})
	sub := &mockSubscribe{state: payme.ReceiptStatePaid}
	h := newTestInvoiceHandler(store, &mockClickInvoicer{}, sub)

	r := chi.NewRouter()
	r.Get("/payments/receipt-status/{orderID}", h.ReceiptStatus)

	req := httptest.NewRequest(http.MethodGet, "/payments/receipt-status/42", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(payme.ReceiptStatePaid), data["state"])
	assert.Equal(t, true, data["paid"])
}

func TestReceiptStatusNoReceipt(t *testing.T) {
	store := newStubOrderStore(&provider.Order{ID: "42", Status: provider.StatusNew})
	sub := &mockSubscribe{stateErr: payme.ErrNoReceipt}
	h := newTestInvoiceHandler(store, &mockClickInvoicer{}, sub)

	r := chi.NewRouter()
	r.Get("/payments/receipt-status/{orderID}", h.ReceiptStatus)

	req := httptest.NewRequest(http.MethodGet, "/payments/receipt-status/42", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReceiptStatusOrderNotFound(t *testing.T) {
	sub := &mockSubscribe{stateErr: provider.ErrOrderNotFound}
	h := newTestInvoiceHandler(newStubOrderStore(), &mockClickInvoicer{}, sub)

	r := chi.NewRouter()
	r.Get("/payments/receipt-status/{orderID}", h.ReceiptStatus)

	req := httptest.NewRequest(http.MethodGet, "/payments/receipt-status/missing", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
