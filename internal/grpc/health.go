package server

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/tejusbharadwaj/pulsegate/internal/health"
)

// Health service names. The empty name reports the whole process: it serves only
// while the gateway and the database both serve.
const (
	OverallService  = ""
	DatabaseService = "database"
)

// Pinger runs a no-op query against a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker implements the gRPC health checking protocol
type HealthChecker struct {
	grpc_health_v1.UnimplementedHealthServer
	mu     sync.RWMutex
	status map[string]grpc_health_v1.HealthCheckResponse_ServingStatus
	logger *logrus.Logger
}

func NewHealthChecker(logger *logrus.Logger) *HealthChecker {
	h := &HealthChecker{
		status: make(map[string]grpc_health_v1.HealthCheckResponse_ServingStatus),
		logger: logger,
	}
	h.status[GatewayServiceName] = grpc_health_v1.HealthCheckResponse_SERVING
	h.status[DatabaseService] = grpc_health_v1.HealthCheckResponse_SERVING
	h.status[OverallService] = grpc_health_v1.HealthCheckResponse_SERVING
	return h
}

func (h *HealthChecker) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if status, ok := h.status[req.Service]; ok {
		return &grpc_health_v1.HealthCheckResponse{
			Status: status,
		}, nil
	}

	return nil, status.Error(codes.NotFound, "unknown service")
}

func (h *HealthChecker) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "watching is not supported")
}

// SetServingStatus sets the serving status of a service and recomputes the overall status.
func (h *HealthChecker) SetServingStatus(service string, st grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status[service] = st

	overall := grpc_health_v1.HealthCheckResponse_SERVING
	for name, s := range h.status {
		if name != OverallService && s != grpc_health_v1.HealthCheckResponse_SERVING {
			overall = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
	}
	h.status[OverallService] = overall
}

// ObserveGateway follows gateway health transitions. DEGRADED still serves; DOWN does not.
func (h *HealthChecker) ObserveGateway(tr health.Transition) {
	st := grpc_health_v1.HealthCheckResponse_SERVING
	if tr.To == health.Down {
		st = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	h.SetServingStatus(GatewayServiceName, st)
}

// ProbeStore pings the store once and records the result under DatabaseService.
func (h *HealthChecker) ProbeStore(ctx context.Context, store Pinger) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := store.Ping(ctx)
	st := grpc_health_v1.HealthCheckResponse_SERVING
	if err != nil {
		st = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	h.SetServingStatus(DatabaseService, st)
	return err
}

// WatchStore probes the store every interval until ctx is done.
func (h *HealthChecker) WatchStore(ctx context.Context, store Pinger, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := h.ProbeStore(ctx, store); err != nil && ctx.Err() == nil {
			h.logger.Errorf("Database health check failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
