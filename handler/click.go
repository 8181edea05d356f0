// Package handler exposes the gateway machines over HTTP: the inbound
// callback endpoints the gateways post to and the merchant-facing invoice
// endpoints the storefront calls.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/richgarden/paygate/infra/logger"
	"github.com/richgarden/paygate/infra/middle"
	"github.com/richgarden/paygate/provider/click"
)

// ClickGatewayInterface defines the Click machine operations the handler needs
type ClickGatewayInterface interface {
	Prepare(ctx context.Context, req click.CallbackRequest, clientIP string) click.CallbackResponse
	Complete(ctx context.Context, req click.CallbackRequest, clientIP string) click.CallbackResponse
}

// ClickHandler handles Click callback HTTP requests
type ClickHandler struct {
	gateway ClickGatewayInterface
}

// NewClickHandler creates a new Click callback handler
func NewClickHandler(gateway ClickGatewayInterface) *ClickHandler {
	return &ClickHandler{gateway: gateway}
}

// Check handles the Prepare callback (action=0)
func (h *ClickHandler) Check(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.gateway.Prepare)
}

// Result handles the Complete callback (action=1)
func (h *ClickHandler) Result(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.gateway.Complete)
}

// handle runs one callback through the machine. The protocol requires HTTP
// 200 with a JSON body for every outcome, so parse failures and panics are
// folded into protocol-level error responses instead of HTTP errors.
func (h *ClickHandler) handle(w http.ResponseWriter, r *http.Request, fn func(context.Context, click.CallbackRequest, string) click.CallbackResponse) {
	req, err := parseClickCallback(r)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("click handler panic", fmt.Errorf("%v", rec), logger.LogContext{Gateway: "click"})
			writeClickResponse(w, click.CallbackResponse{
				ClickTransID:    req.ClickTransID,
				MerchantTransID: req.MerchantTransID,
				Error:           click.CodeInternal,
				ErrorNote:       "Internal error",
			})
		}
	}()

	if err != nil {
		writeClickResponse(w, click.CallbackResponse{
			Error:     click.CodeInvalidSign,
			ErrorNote: "Invalid request",
		})
		return
	}

	writeClickResponse(w, fn(r.Context(), req, middle.GetClientIP(r)))
}

func writeClickResponse(w http.ResponseWriter, resp click.CallbackResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// parseClickCallback reads the callback fields from either a form-encoded or
// a JSON body. Numeric JSON values are normalized to the string forms the
// signature check works with.
func parseClickCallback(r *http.Request) (click.CallbackRequest, error) {
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var raw map[string]any
		decoder := json.NewDecoder(r.Body)
		decoder.UseNumber()
		if err := decoder.Decode(&raw); err != nil {
			return click.CallbackRequest{}, err
		}
		return click.CallbackRequest{
			ClickTransID:      fieldString(raw, "click_trans_id"),
			ServiceID:         fieldString(raw, "service_id"),
			MerchantTransID:   fieldString(raw, "merchant_trans_id"),
			MerchantPrepareID: fieldString(raw, "merchant_prepare_id"),
			Amount:            fieldString(raw, "amount"),
			Action:            fieldString(raw, "action"),
			Error:             fieldString(raw, "error"),
			SignTime:          fieldString(raw, "sign_time"),
			SignString:        fieldString(raw, "sign_string"),
		}, nil
	}

	if err := r.ParseForm(); err != nil {
		return click.CallbackRequest{}, err
	}
	return click.CallbackRequest{
		ClickTransID:      r.PostFormValue("click_trans_id"),
		ServiceID:         r.PostFormValue("service_id"),
		MerchantTransID:   r.PostFormValue("merchant_trans_id"),
		MerchantPrepareID: r.PostFormValue("merchant_prepare_id"),
		Amount:            r.PostFormValue("amount"),
		Action:            r.PostFormValue("action"),
		Error:             r.PostFormValue("error"),
		SignTime:          r.PostFormValue("sign_time"),
		SignString:        r.PostFormValue("sign_string"),
	}, nil
}

func fieldString(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
