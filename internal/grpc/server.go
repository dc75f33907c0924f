package grpc

import (
	"context"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mr1hm/go-quake-forecast/internal/models"
	"github.com/mr1hm/go-quake-forecast/internal/repository"
)

// Store is the subset of the event repository the service reads and acknowledges.
type Store interface {
	ListEvents(ctx context.Context, opts repository.Filter) ([]models.Event, error)
	MarkAlertSent(ctx context.Context, ids []string) (int64, error)
}

type Server struct {
	repo        Store
	broadcaster *Broadcaster
	grpcServer  *grpc.Server
}

func NewServer(repo Store, broadcaster *Broadcaster) *Server {
	s := &Server{
		repo:        repo,
		broadcaster: broadcaster,
		grpcServer:  grpc.NewServer(),
	}
	RegisterEventStreamServer(s.grpcServer, s)
	return s
}

func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	slog.Info("gRPC server listening", "addr", addr)
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

func (s *Server) ListForecasts(ctx context.Context, _ *ListForecastsRequest) (*ListForecastsResponse, error) {
	prov := models.ProvenancePredicted
	events, err := s.repo.ListEvents(ctx, repository.Filter{Provenance: &prov, Ascending: true})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to list forecasts: %v", err)
	}
	return &ListForecastsResponse{Forecasts: models.Payloads(events)}, nil
}

func (s *Server) AcknowledgeAlerts(ctx context.Context, req *AcknowledgeAlertsRequest) (*AcknowledgeAlertsResponse, error) {
	if len(req.IDs) == 0 {
		return &AcknowledgeAlertsResponse{}, nil
	}

	count, err := s.repo.MarkAlertSent(ctx, req.IDs)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to acknowledge alerts: %v", err)
	}

	slog.Info("alerts acknowledged", "count", count, "ids", req.IDs)
	return &AcknowledgeAlertsResponse{AcknowledgedCount: count}, nil
}

func (s *Server) Subscribe(req *SubscribeRequest, stream EventStream_SubscribeServer) error {
	if req.MinMagnitude < 0 {
		return status.Error(codes.InvalidArgument, "min_magnitude must not be negative")
	}

	id, ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)

	slog.Info("client subscribed to event stream", "subscriber_id", id, "min_magnitude", req.MinMagnitude)

	for {
		select {
		case <-stream.Context().Done():
			slog.Info("client disconnected from event stream", "subscriber_id", id)
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if e.Magnitude < req.MinMagnitude {
				continue
			}

			p := e.Payload()
			if err := stream.Send(&p); err != nil {
				slog.Error("failed to send event to stream", "error", err, "subscriber_id", id)
				return err
			}
		}
	}
}
