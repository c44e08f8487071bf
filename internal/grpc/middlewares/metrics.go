package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// RPCCollectors are the collectors fed by NewMetricsInterceptor. Requests carries
// service, method and code labels; Latency carries service and method.
type RPCCollectors struct {
	Requests *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
	InFlight prometheus.Gauge
}

// splitMethod turns "/pulsegate.v1.Gateway/GetReading" into its service and method.
func splitMethod(fullMethod string) (service, method string) {
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	if i := strings.LastIndex(fullMethod, "/"); i >= 0 {
		return fullMethod[:i], fullMethod[i+1:]
	}
	return "unknown", fullMethod
}

func NewMetricsInterceptor(c RPCCollectors) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		service, method := splitMethod(info.FullMethod)

		c.InFlight.Inc()
		defer c.InFlight.Dec()

		start := time.Now()
		resp, err := handler(ctx, req)

		c.Requests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		c.Latency.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		return resp, err
	}
}
