package server

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/tejusbharadwaj/pulsegate/internal/api"
	middleware "github.com/tejusbharadwaj/pulsegate/internal/grpc/middlewares"
	"github.com/tejusbharadwaj/pulsegate/internal/health"
	"github.com/tejusbharadwaj/pulsegate/internal/metrics"
	"github.com/tejusbharadwaj/pulsegate/internal/models"
	"github.com/tejusbharadwaj/pulsegate/internal/plc"
)

// ServerConfig holds configuration options for the gRPC server
type ServerConfig struct {
	RateLimit      float64 // Requests per second
	RateLimitBurst int     // Maximum burst size for rate limiting
}

// DefaultServerConfig returns a ServerConfig with sensible defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		RateLimit:      5.0,
		RateLimitBurst: 10,
	}
}

// Gateway is the engine surface served over gRPC.
type Gateway interface {
	Health() health.Snapshot
	DigitalInputs() uint16
	LastUpdate() time.Time
	Readings() []api.MeterReading
	Reading(meterID string) (api.MeterReading, error)
	TriggerPoll(ctx context.Context) error
	ResetCounter(ctx context.Context, meterID string) (plc.ResetCommand, error)
}

type StatusRequest struct{}

type StatusResponse struct {
	Status        string    `json:"status"`
	Failures      int       `json:"failures"`
	DigitalInputs uint16    `json:"digital_inputs"`
	LastUpdate    time.Time `json:"last_update"`
}

type ListReadingsRequest struct{}

type ListReadingsResponse struct {
	Readings []api.MeterReading `json:"readings"`
}

type MeterRequest struct {
	MeterID string `json:"meter_id"`
}

type ReadingResponse struct {
	Reading api.MeterReading `json:"reading"`
}

type TriggerPollRequest struct{}

type ResetCounterResponse struct {
	MeterID  string `json:"meter_id"`
	Index    int    `json:"index"`
	Register int    `json:"register"`
	Mask     uint16 `json:"mask"`
}

// GatewayServer is the server API of the gateway service.
type GatewayServer interface {
	GetStatus(context.Context, *StatusRequest) (*StatusResponse, error)
	ListReadings(context.Context, *ListReadingsRequest) (*ListReadingsResponse, error)
	GetReading(context.Context, *MeterRequest) (*ReadingResponse, error)
	TriggerPoll(context.Context, *TriggerPollRequest) (*StatusResponse, error)
	ResetCounter(context.Context, *MeterRequest) (*ResetCounterResponse, error)
}

// GatewayService maps gRPC calls onto the gateway façade.
type GatewayService struct {
	gateway   Gateway
	validator *RequestValidator
}

func NewGatewayService(gateway Gateway) *GatewayService {
	return &GatewayService{
		gateway:   gateway,
		validator: NewRequestValidator(),
	}
}

func (s *GatewayService) GetStatus(ctx context.Context, _ *StatusRequest) (*StatusResponse, error) {
	return s.status(), nil
}

func (s *GatewayService) status() *StatusResponse {
	h := s.gateway.Health()
	return &StatusResponse{
		Status:        h.Status.String(),
		Failures:      h.Failures,
		DigitalInputs: s.gateway.DigitalInputs(),
		LastUpdate:    s.gateway.LastUpdate(),
	}
}

func (s *GatewayService) ListReadings(ctx context.Context, _ *ListReadingsRequest) (*ListReadingsResponse, error) {
	return &ListReadingsResponse{Readings: s.gateway.Readings()}, nil
}

func (s *GatewayService) GetReading(ctx context.Context, req *MeterRequest) (*ReadingResponse, error) {
	if err := s.validator.ValidateMeterID(req.MeterID); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	reading, err := s.gateway.Reading(req.MeterID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ReadingResponse{Reading: reading}, nil
}

func (s *GatewayService) TriggerPoll(ctx context.Context, _ *TriggerPollRequest) (*StatusResponse, error) {
	if err := s.gateway.TriggerPoll(ctx); err != nil {
		return nil, toStatus(err)
	}
	return s.status(), nil
}

func (s *GatewayService) ResetCounter(ctx context.Context, req *MeterRequest) (*ResetCounterResponse, error) {
	if err := s.validator.ValidateMeterID(req.MeterID); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	cmd, err := s.gateway.ResetCounter(ctx, req.MeterID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ResetCounterResponse{
		MeterID:  req.MeterID,
		Index:    cmd.Index,
		Register: cmd.Register,
		Mask:     cmd.Mask,
	}, nil
}

// toStatus maps engine errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, api.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, api.ErrUnknownMeter):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, api.ErrNoReading), errors.Is(err, models.ErrProtocol):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, models.ErrTransport):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Errorf(codes.Internal, "gateway: %v", err)
	}
}

// SetupServer initializes and configures the gRPC server with all middleware
func SetupServer(
	gateway Gateway,
	healthChecker *HealthChecker,
	config ServerConfig,
	m *metrics.Metrics,
	logger *logrus.Logger,
) (*grpc.Server, error) {
	if config.RateLimit <= 0 || config.RateLimitBurst < 1 {
		return nil, errors.New("rate limit and burst must be positive")
	}

	server := grpc.NewServer(
		grpc.UnaryInterceptor(
			chainUnaryInterceptors(
				middleware.ContextMiddleware, // Add request ID first
				middleware.NewRateLimitingInterceptor(config.RateLimit, config.RateLimitBurst),
				middleware.NewLoggingInterceptor(logger),
				middleware.NewMetricsInterceptor(middleware.RPCCollectors{
					Requests: m.GRPCRequests,
					Latency:  m.GRPCLatency,
					InFlight: m.GRPCInFlight,
				}),
			),
		),
	)

	RegisterGatewayServer(server, NewGatewayService(gateway))
	grpc_health_v1.RegisterHealthServer(server, healthChecker)

	return server, nil
}

// chainUnaryInterceptors creates a single interceptor from multiple interceptors
func chainUnaryInterceptors(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		chain := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			interceptor := interceptors[i]
			chainedInterceptor := chain
			chain = func(currentCtx context.Context, currentReq interface{}) (interface{}, error) {
				return interceptor(currentCtx, currentReq, info, chainedInterceptor)
			}
		}
		return chain(ctx, req)
	}
}

var _ GatewayServer = (*GatewayService)(nil)
