package middleware

import (
	"context"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Mock handler to simulate gRPC handler behavior.
func mockHandler(ctx context.Context, req interface{}) (interface{}, error) {
	return "response-" + req.(string), nil
}

var info = &grpc.UnaryServerInfo{FullMethod: "/pulsegate.v1.Gateway/GetStatus"}

func TestContextMiddleware(t *testing.T) {
	var seen string
	capture := func(ctx context.Context, req interface{}) (interface{}, error) {
		seen = RequestIDFromContext(ctx)
		return nil, nil
	}

	_, err := ContextMiddleware(context.Background(), "req", info, capture)
	require.NoError(t, err)
	assert.Len(t, seen, 36, "generated ids are UUIDs")

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDHeader, "abc-123"))
	_, err = ContextMiddleware(ctx, "req", info, capture)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", seen)

	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestRateLimitingInterceptor(t *testing.T) {
	interceptor := NewRateLimitingInterceptor(0.001, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		resp, err := interceptor(ctx, "r", info, mockHandler)
		require.NoError(t, err)
		assert.Equal(t, "response-r", resp)
	}

	_, err := interceptor(ctx, "r", info, mockHandler)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	healthInfo := &grpc.UnaryServerInfo{FullMethod: healthCheckMethod}
	_, err = interceptor(ctx, "r", healthInfo, mockHandler)
	assert.NoError(t, err, "health checks bypass the limiter")
}

func TestMetricsInterceptor(t *testing.T) {
	collectors := RPCCollectors{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "req_total"}, []string{"service", "method", "code"}),
		Latency:  prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "req_seconds"}, []string{"service", "method"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{Name: "req_in_flight"}),
	}
	interceptor := NewMetricsInterceptor(collectors)

	var inFlight float64
	observing := func(ctx context.Context, req interface{}) (interface{}, error) {
		inFlight = testutil.ToFloat64(collectors.InFlight)
		return mockHandler(ctx, req)
	}
	_, err := interceptor(context.Background(), "r", info, observing)
	require.NoError(t, err)
	assert.Equal(t, 1.0, inFlight)
	assert.Equal(t, 0.0, testutil.ToFloat64(collectors.InFlight))

	failing := func(context.Context, interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "no such meter")
	}
	_, err = interceptor(context.Background(), "r", info, failing)
	require.Error(t, err)

	service, method := splitMethod(info.FullMethod)
	assert.Equal(t, 1.0, testutil.ToFloat64(collectors.Requests.WithLabelValues(service, method, "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collectors.Requests.WithLabelValues(service, method, "NotFound")))
	assert.Equal(t, 1, testutil.CollectAndCount(collectors.Latency))
}

func TestSplitMethod(t *testing.T) {
	service, method := splitMethod("/pulsegate.v1.Gateway/GetReading")
	assert.Equal(t, "pulsegate.v1.Gateway", service)
	assert.Equal(t, "GetReading", method)

	service, method = splitMethod("Bare")
	assert.Equal(t, "unknown", service)
	assert.Equal(t, "Bare", method)
}

func TestLoggingInterceptor(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	interceptor := NewLoggingInterceptor(logger)

	resp, err := interceptor(context.Background(), "r", info, mockHandler)
	require.NoError(t, err)
	assert.Equal(t, "response-r", resp)
}
