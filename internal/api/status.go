package api

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	tcstatus "tradecore/internal/status"
	"tradecore/pkg/tradecore"
)

// StatusService is the server API of tradecore.status.v1.Status.
type StatusService interface {
	GetSnapshot(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// statusServiceDesc describes the service for grpc.Server.RegisterService.
// Messages are protobuf well-known types, so no generated code is needed.
var statusServiceDesc = grpc.ServiceDesc{
	ServiceName: tradecore.ServiceName,
	HandlerType: (*StatusService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSnapshot", Handler: getSnapshotHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchEvents", Handler: watchEventsHandler, ServerStreams: true},
	},
	Metadata: "tradecore/status/v1/status.proto",
}

func getSnapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatusService).GetSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: tradecore.GetSnapshotMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StatusService).GetSnapshot(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(StatusService).WatchEvents(m, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// StatusServer serves the status board over gRPC.
type StatusServer struct {
	board *tcstatus.Board
	log   *slog.Logger
}

// NewStatusServer creates a StatusServer backed by the given board.
func NewStatusServer(board *tcstatus.Board, log *slog.Logger) *StatusServer {
	if log == nil {
		log = slog.Default().With("component", "grpc")
	}
	return &StatusServer{board: board, log: log}
}

// RegisterGRPC registers the service on the given gRPC server instance.
func (s *StatusServer) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&statusServiceDesc, s)
}

// GetSnapshot returns the current board snapshot.
func (s *StatusServer) GetSnapshot(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out, err := tradecore.EncodeStruct(s.board.Snapshot().Wire())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding snapshot: %v", err)
	}
	return out, nil
}

// WatchEvents streams board events as they are recorded. The request may
// carry a "kinds" list to filter by event kind. The stream ends when the
// client disconnects.
func (s *StatusServer) WatchEvents(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	kinds := map[string]bool{}
	for _, v := range req.GetFields()["kinds"].GetListValue().GetValues() {
		if k := v.GetStringValue(); k != "" {
			kinds[k] = true
		}
	}

	subID, ch := s.board.Subscribe(4096)
	defer s.board.Unsubscribe(subID)

	s.log.Info("grpc client subscribed", "subID", subID, "kinds", len(kinds))

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("grpc client disconnected", "subID", subID)
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			if len(kinds) > 0 && !kinds[string(evt.Kind)] {
				continue
			}
			msg, err := tradecore.EncodeStruct(evt.Wire())
			if err != nil {
				s.log.Error("encoding event", "kind", evt.Kind, "error", err)
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}
