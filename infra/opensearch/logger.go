package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// CallbackLog is the audit record written for every inbound gateway callback.
// Bodies are stored verbatim; the gateway never sends us card data, and the
// shared secret only appears as a digest.
type CallbackLog struct {
	Timestamp        time.Time `json:"timestamp"`
	Gateway          string    `json:"gateway"`
	Endpoint         string    `json:"endpoint"`
	RequestID        string    `json:"request_id"`
	ClientIP         string    `json:"client_ip,omitempty"`
	RequestBody      string    `json:"request_body,omitempty"`
	ResponseBody     string    `json:"response_body,omitempty"`
	OrderID          string    `json:"order_id,omitempty"`
	TransactionID    string    `json:"transaction_id,omitempty"`
	ErrorCode        int       `json:"error_code"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
}

// Logger handles OpenSearch indexing for audit and system logs
type Logger struct {
	client *Client
}

// NewLogger creates a new OpenSearch logger
func NewLogger(client *Client) *Logger {
	return &Logger{client: client}
}

// LogCallback indexes a callback audit record. A nil receiver or disabled
// client is a no-op so callers never need to guard.
func (l *Logger) LogCallback(ctx context.Context, entry CallbackLog) error {
	if l == nil || !l.client.IsEnabled() {
		return nil
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.RequestID == "" {
		entry.RequestID = uuid.New().String()
	}

	return l.index(ctx, l.client.CallbackIndexName(entry.Gateway), entry)
}

// LogSystem indexes a structured system log entry
func (l *Logger) LogSystem(ctx context.Context, entry any) error {
	if l == nil || !l.client.IsEnabled() {
		return nil
	}
	return l.index(ctx, l.client.SystemIndexName(), entry)
}

func (l *Logger) index(ctx context.Context, indexName string, doc any) error {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index: indexName,
		Body:  bytes.NewReader(docJSON),
	}

	res, err := req.Do(ctx, l.client.GetClient())
	if err != nil {
		return fmt.Errorf("failed to index log entry: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch error: %s", res.String())
	}

	return nil
}
