package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"licensed/internal/infrastructure"
	"licensed/internal/license"
	"licensed/pkg/contracts"
)

// ClientCounter reports connected event feed clients.
type ClientCounter interface {
	ClientCount() int
}

// HealthService provides health check functionality
type HealthService struct {
	store     license.Store
	feed      ClientCounter
	driver    string
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Runtime   map[string]interface{}   `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// NewHealthService creates a health service. feed may be nil when the
// event feed is disabled.
func NewHealthService(store license.Store, driver string, feed ClientCounter, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		store:     store,
		feed:      feed,
		driver:    driver,
		startTime: time.Now(),
		logger:    infrastructure.WithComponent(logger, "health_service"),
	}
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now().UTC(),
		Version:   contracts.Version,
		Runtime: map[string]interface{}{
			"uptime_seconds": time.Since(hs.startTime).Seconds(),
			"go_version":     runtime.Version(),
			"goroutines":     runtime.NumGoroutine(),
		},
	}
}

// ReadinessCheck pings the license store. Ready reports whether traffic
// should be routed here.
func (hs *HealthService) ReadinessCheck(ctx context.Context) (status HealthStatus, ready bool) {
	status = HealthStatus{
		Status:    "ready",
		Timestamp: time.Now().UTC(),
		Version:   contracts.Version,
		Services:  map[string]ServiceHealth{},
	}

	status.Services["store"] = hs.checkStore(ctx)
	if hs.feed != nil {
		status.Services["event_feed"] = ServiceHealth{
			Status:  "ready",
			Message: pluralClients(hs.feed.ClientCount()),
		}
	}

	ready = true
	for _, sh := range status.Services {
		if sh.Status != "ready" {
			ready = false
		}
	}
	if !ready {
		status.Status = "not_ready"
		hs.logger.WarnContext(ctx, "readiness check failed", slog.Any("services", status.Services))
	}
	return status, ready
}

func (hs *HealthService) checkStore(ctx context.Context) ServiceHealth {
	pinger, ok := hs.store.(license.Pinger)
	if !ok {
		return ServiceHealth{Status: "ready", Message: hs.driver}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := pinger.Ping(ctx); err != nil {
		return ServiceHealth{Status: "not_ready", Message: hs.driver + ": " + err.Error()}
	}
	return ServiceHealth{Status: "ready", Message: hs.driver, Latency: time.Since(start).String()}
}

// Version returns version information
func (hs *HealthService) Version() contracts.VersionInfo {
	return contracts.GetVersionInfo()
}

func pluralClients(n int) string {
	if n == 1 {
		return "1 client connected"
	}
	return fmt.Sprintf("%d clients connected", n)
}
