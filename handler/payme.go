package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/richgarden/paygate/provider/payme"
)

// maxRPCBodySize bounds inbound JSON-RPC bodies
const maxRPCBodySize = 1 << 20

// PaymeMerchantInterface defines the Payme Merchant machine operations the
// handler needs
type PaymeMerchantInterface interface {
	VerifyAuth(header string) bool
	Handle(ctx context.Context, req payme.RPCRequest) payme.RPCResponse
}

// PaymeHandler handles Payme Merchant JSON-RPC HTTP requests
type PaymeHandler struct {
	merchant PaymeMerchantInterface
}

// NewPaymeHandler creates a new Payme callback handler
func NewPaymeHandler(merchant PaymeMerchantInterface) *PaymeHandler {
	return &PaymeHandler{merchant: merchant}
}

// Callback handles the single Payme Merchant endpoint. Auth and parse
// failures are JSON-RPC errors inside HTTP 200 bodies; the gateway retries on
// anything else.
func (h *PaymeHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if !h.merchant.VerifyAuth(r.Header.Get("Authorization")) {
		writeRPCResponse(w, payme.RPCResponse{
			JSONRPC: "2.0",
			Error:   &payme.RPCError{Code: payme.CodeAuthFailure, Message: "Authorization failed"},
		})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRPCBodySize))
	if err != nil {
		writeRPCResponse(w, payme.RPCResponse{
			JSONRPC: "2.0",
			Error:   &payme.RPCError{Code: payme.CodeParseError, Message: "Parse error"},
		})
		return
	}

	var req payme.RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeRPCResponse(w, payme.RPCResponse{
			JSONRPC: "2.0",
			Error:   &payme.RPCError{Code: payme.CodeParseError, Message: "Parse error"},
		})
		return
	}

	writeRPCResponse(w, h.merchant.Handle(r.Context(), req))
}

func writeRPCResponse(w http.ResponseWriter, resp payme.RPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
