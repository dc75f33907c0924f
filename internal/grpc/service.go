package grpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/mr1hm/go-quake-forecast/internal/models"
)

const serviceName = "quakecast.v1.EventStream"

const (
	methodSubscribe         = "/" + serviceName + "/Subscribe"
	methodListForecasts     = "/" + serviceName + "/ListForecasts"
	methodAcknowledgeAlerts = "/" + serviceName + "/AcknowledgeAlerts"
)

type SubscribeRequest struct {
	MinMagnitude float64 `json:"min_magnitude,omitempty"`
}

type ListForecastsRequest struct{}

type ListForecastsResponse struct {
	Forecasts []models.Payload `json:"forecasts"`
}

type AcknowledgeAlertsRequest struct {
	IDs []string `json:"ids"`
}

type AcknowledgeAlertsResponse struct {
	AcknowledgedCount int64 `json:"acknowledged_count"`
}

// EventStreamServer is the server API of quakecast.v1.EventStream.
type EventStreamServer interface {
	Subscribe(*SubscribeRequest, EventStream_SubscribeServer) error
	ListForecasts(context.Context, *ListForecastsRequest) (*ListForecastsResponse, error)
	AcknowledgeAlerts(context.Context, *AcknowledgeAlertsRequest) (*AcknowledgeAlertsResponse, error)
}

type EventStream_SubscribeServer interface {
	Send(*models.Payload) error
	grpc.ServerStream
}

type subscribeServer struct {
	grpc.ServerStream
}

func (s *subscribeServer) Send(p *models.Payload) error { return s.ServerStream.SendMsg(p) }

func RegisterEventStreamServer(s grpc.ServiceRegistrar, srv EventStreamServer) {
	s.RegisterService(&eventStreamDesc, srv)
}

var eventStreamDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*EventStreamServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListForecasts", Handler: listForecastsHandler},
		{MethodName: "AcknowledgeAlerts", Handler: acknowledgeAlertsHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "quakecast/v1/events.proto",
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(SubscribeRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(EventStreamServer).Subscribe(in, &subscribeServer{stream})
}

func listForecastsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListForecastsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EventStreamServer).ListForecasts(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListForecasts}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EventStreamServer).ListForecasts(ctx, req.(*ListForecastsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func acknowledgeAlertsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AcknowledgeAlertsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EventStreamServer).AcknowledgeAlerts(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodAcknowledgeAlerts}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EventStreamServer).AcknowledgeAlerts(ctx, req.(*AcknowledgeAlertsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Client is a typed client for quakecast.v1.EventStream.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) ListForecasts(ctx context.Context, in *ListForecastsRequest, opts ...grpc.CallOption) (*ListForecastsResponse, error) {
	out := new(ListForecastsResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, methodListForecasts, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AcknowledgeAlerts(ctx context.Context, in *AcknowledgeAlertsRequest, opts ...grpc.CallOption) (*AcknowledgeAlertsResponse, error) {
	out := new(AcknowledgeAlertsResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, methodAcknowledgeAlerts, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Subscribe opens the event stream. Call Recv until it returns an error.
func (c *Client) Subscribe(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (*SubscribeClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &eventStreamDesc.Streams[0], methodSubscribe, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &SubscribeClient{stream}, nil
}

type SubscribeClient struct {
	grpc.ClientStream
}

func (x *SubscribeClient) Recv() (*models.Payload, error) {
	m := new(models.Payload)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
