package server

import (
	"context"

	"google.golang.org/grpc"
)

// GatewayServiceName is the fully qualified gRPC service name.
const GatewayServiceName = "pulsegate.v1.Gateway"

func unaryMethod[Req any, Resp any](name string, call func(GatewayServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + GatewayServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(GatewayServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(GatewayServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var gatewayServiceDesc = grpc.ServiceDesc{
	ServiceName: GatewayServiceName,
	HandlerType: (*GatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("GetStatus", GatewayServer.GetStatus),
		unaryMethod("ListReadings", GatewayServer.ListReadings),
		unaryMethod("GetReading", GatewayServer.GetReading),
		unaryMethod("TriggerPoll", GatewayServer.TriggerPoll),
		unaryMethod("ResetCounter", GatewayServer.ResetCounter),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pulsegate/v1/gateway",
}

// RegisterGatewayServer registers srv on s.
func RegisterGatewayServer(s grpc.ServiceRegistrar, srv GatewayServer) {
	s.RegisterService(&gatewayServiceDesc, srv)
}

// GatewayClient calls the gateway service with the JSON codec.
type GatewayClient struct {
	cc grpc.ClientConnInterface
}

func NewGatewayClient(cc grpc.ClientConnInterface) *GatewayClient {
	return &GatewayClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in interface{}, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+GatewayServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GatewayClient) GetStatus(ctx context.Context, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, "GetStatus", &StatusRequest{}, opts)
}

func (c *GatewayClient) ListReadings(ctx context.Context, opts ...grpc.CallOption) (*ListReadingsResponse, error) {
	return invoke[ListReadingsResponse](ctx, c.cc, "ListReadings", &ListReadingsRequest{}, opts)
}

func (c *GatewayClient) GetReading(ctx context.Context, meterID string, opts ...grpc.CallOption) (*ReadingResponse, error) {
	return invoke[ReadingResponse](ctx, c.cc, "GetReading", &MeterRequest{MeterID: meterID}, opts)
}

func (c *GatewayClient) TriggerPoll(ctx context.Context, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, "TriggerPoll", &TriggerPollRequest{}, opts)
}

func (c *GatewayClient) ResetCounter(ctx context.Context, meterID string, opts ...grpc.CallOption) (*ResetCounterResponse, error) {
	return invoke[ResetCounterResponse](ctx, c.cc, "ResetCounter", &MeterRequest{MeterID: meterID}, opts)
}
