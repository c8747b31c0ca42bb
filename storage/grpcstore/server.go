package grpcstore

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/feedsync/contenthash"
	"xdao.co/feedsync/storage"
)

// Server exposes a blob store and a feed store over the Storage gRPC service.
// Feeds may be nil, in which case feed RPCs fail with Unimplemented.
type Server struct {
	UnimplementedStorageServer
	Blobs storage.Blobs
	Feeds storage.FeedStore
}

func (s *Server) PutBlob(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	if s == nil || s.Blobs == nil {
		return nil, status.Error(codes.Unavailable, "missing blob store")
	}
	b := in.GetValue()
	h, err := s.Blobs.Write(ctx, b)
	if err != nil {
		return nil, mapErr(err)
	}
	// Enforce the content-addressing contract on the server side too.
	if h != contenthash.Sum(b) {
		return nil, status.Error(codes.DataLoss, storage.ErrHashMismatch.Error())
	}
	return wrapperspb.String(h.String()), nil
}

func (s *Server) GetBlob(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Blobs == nil {
		return nil, status.Error(codes.Unavailable, "missing blob store")
	}
	h, err := contenthash.Parse(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, storage.ErrInvalidHash.Error())
	}
	b, err := s.Blobs.Read(ctx, h)
	if err != nil {
		return nil, mapErr(err)
	}
	if !h.Matches(b) {
		return nil, status.Error(codes.DataLoss, storage.ErrHashMismatch.Error())
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) PutFeed(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	if s == nil || s.Feeds == nil {
		return nil, status.Error(codes.Unimplemented, "backend does not store feeds")
	}
	u, err := updateFromStruct(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	// Reject forged updates before they reach the backend.
	if err := storage.CheckUpdate(nil, u); err != nil {
		return nil, mapErr(err)
	}
	if err := s.Feeds.Put(ctx, u); err != nil {
		return nil, mapErr(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) GetFeed(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s == nil || s.Feeds == nil {
		return nil, status.Error(codes.Unimplemented, "backend does not store feeds")
	}
	address, topic, err := feedKeyFromStruct(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	u, err := s.Feeds.Get(ctx, address, topic)
	if err != nil {
		return nil, mapErr(err)
	}
	return updateToStruct(u), nil
}

// LoggingInterceptor logs every unary call with its status code and latency.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("latency", time.Since(start)),
		}
		switch code {
		case codes.OK, codes.NotFound:
			logger.Debug("rpc", fields...)
		case codes.Internal, codes.DataLoss, codes.Unknown:
			logger.Error("rpc failed", append(fields, zap.Error(err))...)
		default:
			logger.Warn("rpc rejected", append(fields, zap.Error(err))...)
		}
		return resp, err
	}
}
