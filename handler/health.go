package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/richgarden/paygate/infra/response"
	"github.com/richgarden/paygate/provider"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	orders      provider.OrderStore
	environment string
	gateways    map[string]bool
	startTime   time.Time
}

// HealthStatus represents overall system health
type HealthStatus struct {
	Status      string          `json:"status"`
	Version     string          `json:"version"`
	Timestamp   time.Time       `json:"timestamp"`
	Uptime      string          `json:"uptime"`
	Environment string          `json:"environment"`
	Storage     *StorageHealth  `json:"storage"`
	Gateways    map[string]bool `json:"gateways"`
	System      map[string]any  `json:"system"`
}

// StorageHealth represents storage health status
type StorageHealth struct {
	Status       string `json:"status"`
	ResponseTime string `json:"response_time"`
	Error        string `json:"error,omitempty"`
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(orders provider.OrderStore, environment string, gateways map[string]bool) *HealthHandler {
	return &HealthHandler{
		orders:      orders,
		environment: environment,
		gateways:    gateways,
		startTime:   time.Now(),
	}
}

// CheckHealth reports storage reachability and configured gateways
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	health := &HealthStatus{
		Version:     "1.0.0",
		Timestamp:   time.Now().UTC(),
		Uptime:      time.Since(h.startTime).String(),
		Environment: h.environment,
		Storage:     h.checkStorage(ctx),
		Gateways:    h.gateways,
		System: map[string]any{
			"goroutines": runtime.NumGoroutine(),
			"alloc_mb":   memStats.Alloc / 1024 / 1024,
			"gc_runs":    memStats.NumGC,
		},
	}

	health.Status = "healthy"
	statusCode := http.StatusOK
	if health.Storage.Status != "healthy" {
		health.Status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	_ = response.WriteJSON(w, statusCode, response.Response{
		Success: health.Status == "healthy",
		Message: fmt.Sprintf("Service is %s", health.Status),
		Data:    health,
	})
}

// checkStorage probes the order store with a lookup that is expected to miss
func (h *HealthHandler) checkStorage(ctx context.Context) *StorageHealth {
	start := time.Now()
	_, err := h.orders.GetOrder(ctx, "health-check-probe")
	elapsed := time.Since(start)

	storage := &StorageHealth{
		ResponseTime: fmt.Sprintf("%.0fms", float64(elapsed.Nanoseconds())/1e6),
	}
	if err != nil && err != provider.ErrOrderNotFound {
		storage.Status = "unhealthy"
		storage.Error = err.Error()
		return storage
	}
	if elapsed > time.Second {
		storage.Status = "degraded"
		return storage
	}
	storage.Status = "healthy"
	return storage
}
