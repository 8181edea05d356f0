package opensearch

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/richgarden/paygate/infra/config"
)

// Client wraps the OpenSearch client used for callback audit logging
type Client struct {
	client *opensearch.Client
	config *config.AppConfig
}

// NewClient creates a new OpenSearch client
func NewClient(cfg *config.AppConfig) (*Client, error) {
	opensearchConfig := opensearch.Config{
		Addresses: []string{cfg.OpenSearchURL},
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.Environment != "production",
			},
		},
		MaxRetries:    3,
		RetryOnStatus: []int{502, 503, 504, 429},
		RetryBackoff: func(i int) time.Duration {
			return time.Duration(i) * 100 * time.Millisecond
		},
	}

	if cfg.OpenSearchUser != "" && cfg.OpenSearchPass != "" {
		opensearchConfig.Username = cfg.OpenSearchUser
		opensearchConfig.Password = cfg.OpenSearchPass
	}

	client, err := opensearch.NewClient(opensearchConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	osClient := &Client{client: client, config: cfg}

	if err := osClient.setupIndices(); err != nil {
		return nil, fmt.Errorf("failed to setup opensearch indices: %w", err)
	}

	return osClient, nil
}

// GetClient returns the underlying OpenSearch client
func (c *Client) GetClient() *opensearch.Client {
	return c.client
}

// IsEnabled reports whether audit logging is configured and usable
func (c *Client) IsEnabled() bool {
	return c != nil && c.client != nil && c.config.EnableLogging
}

// CallbackIndexName returns the index name for a gateway's callback logs
func (c *Client) CallbackIndexName(gateway string) string {
	return fmt.Sprintf("paygate-callbacks-%s", strings.ToLower(gateway))
}

// SystemIndexName returns the index name for system logs
func (c *Client) SystemIndexName() string {
	return "paygate-system-logs"
}

// setupIndices creates the callback indices for the configured gateways
func (c *Client) setupIndices() error {
	indices := []string{
		c.CallbackIndexName("click"),
		c.CallbackIndexName("payme"),
		c.SystemIndexName(),
	}

	for _, indexName := range indices {
		exists, err := c.indexExists(indexName)
		if err != nil {
			return err
		}
		if !exists {
			if err := c.createIndex(indexName); err != nil {
				return err
			}
		}
	}

	return nil
}

func (c *Client) indexExists(indexName string) (bool, error) {
	req := opensearchapi.IndicesExistsRequest{Index: []string{indexName}}
	res, err := req.Do(context.Background(), c.client)
	if err != nil {
		return false, fmt.Errorf("failed to check index %s: %w", indexName, err)
	}
	defer res.Body.Close()
	return res.StatusCode == http.StatusOK, nil
}

func (c *Client) createIndex(indexName string) error {
	mapping := `{
		"settings": {"number_of_shards": 1, "number_of_replicas": 0},
		"mappings": {
			"properties": {
				"timestamp": {"type": "date"},
				"gateway": {"type": "keyword"},
				"endpoint": {"type": "keyword"},
				"request_id": {"type": "keyword"},
				"order_id": {"type": "keyword"},
				"transaction_id": {"type": "keyword"},
				"client_ip": {"type": "ip", "ignore_malformed": true},
				"error_code": {"type": "integer"},
				"processing_time_ms": {"type": "long"}
			}
		}
	}`

	req := opensearchapi.IndicesCreateRequest{
		Index: indexName,
		Body:  strings.NewReader(mapping),
	}
	res, err := req.Do(context.Background(), c.client)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", indexName, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch error creating index %s: %s", indexName, res.String())
	}

	return nil
}
