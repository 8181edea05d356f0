// Package router wires the HTTP surface: gateway callback endpoints,
// merchant invoice endpoints and the health probe.
package router

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/richgarden/paygate/handler"
	"github.com/richgarden/paygate/infra/middle"
	"github.com/richgarden/paygate/infra/opensearch"
	"github.com/richgarden/paygate/provider"
)

// Deps carries the constructed machines the routes are built on
type Deps struct {
	Orders      provider.OrderStore
	Click       handler.ClickGatewayInterface
	ClickOut    handler.ClickInvoicerInterface
	Merchant    handler.PaymeMerchantInterface
	Checkout    handler.PaymeCheckoutInterface
	Subscribe   handler.PaymeSubscribeInterface
	Environment string
	OSLogger    *opensearch.Logger
}

// Routes registers all API routes
func Routes(r chi.Router, deps Deps) {
	validate := validator.New()

	clickHandler := handler.NewClickHandler(deps.Click)
	paymeHandler := handler.NewPaymeHandler(deps.Merchant)
	invoiceHandler := handler.NewInvoiceHandler(deps.Orders, deps.ClickOut, deps.Subscribe, deps.Checkout, validate)
	healthHandler := handler.NewHealthHandler(deps.Orders, deps.Environment, map[string]bool{
		"click": deps.Click != nil,
		"payme": deps.Merchant != nil,
	})

	r.Get("/health", healthHandler.CheckHealth)

	r.Route("/payments", func(r chi.Router) {
		// Inbound gateway callbacks. Each group ships its raw request and
		// response bodies to the audit index.
		r.Route("/click", func(r chi.Router) {
			r.Use(middle.CallbackLoggingMiddleware(deps.OSLogger, "click"))
			r.Post("/check", clickHandler.Check)
			r.Post("/result", clickHandler.Result)
		})

		r.Route("/merchant", func(r chi.Router) {
			r.Use(middle.CallbackLoggingMiddleware(deps.OSLogger, "payme"))
			r.Post("/", paymeHandler.Callback)
		})

		// Merchant-facing invoice and status endpoints
		r.Post("/invoice/click", invoiceHandler.CreateClickInvoice)
		r.Post("/invoice/payme", invoiceHandler.CreatePaymeInvoice)
		r.Get("/receipt-status/{orderID}", invoiceHandler.ReceiptStatus)
	})
}
