// Package paygate is the payment reconciliation core for the Rich Garden
// storefront. It verifies and answers gateway callbacks from Click and Payme,
// keeps the authoritative record of which orders are paid, and notifies the
// shop operators exactly once per paid order.
//
// # Overview
//
// Uzbek payment gateways confirm payments by calling the merchant back, each
// with its own protocol:
//
//   - Click posts a two-phase Prepare/Complete webhook pair signed with an
//     md5 digest over the callback fields and a shared secret.
//   - Payme Merchant drives a JSON-RPC transaction lifecycle
//     (CheckPerformTransaction, CreateTransaction, PerformTransaction,
//     CheckTransaction, CancelTransaction) against a persisted ledger.
//   - Payme Subscribe creates receipts upstream and leaves the merchant to
//     poll their state.
//
// Whatever the protocol, the outcome funnels through one reconciler: the
// order flips from pending_payment to paid with a conditional write, and only
// the caller that performed the transition fires the operator notification.
// Duplicate callbacks, concurrent retries and repeated polls are replays.
//
// # Layout
//
//   - provider: shared domain types, the reconciler and the gateway HTTP client
//   - provider/click, provider/payme: the gateway machines
//   - storage: SQLite and Postgres persistence for orders and the ledger
//   - handler, router: the HTTP surface
//   - notify: the Telegram operator channel
//   - infra: configuration, logging and the OpenSearch audit trail
package paygate
