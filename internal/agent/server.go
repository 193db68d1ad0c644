package agent

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/roach88/churnprobe/internal/dht"
	"github.com/roach88/churnprobe/internal/record"
)

// Server serves a dht.Client over gRPC.
type Server struct {
	client dht.Client
	srv    *grpc.Server
}

var _ DHTServer = (*Server)(nil)

// NewServer creates a server backed by client.
func NewServer(client dht.Client, opts ...grpc.ServerOption) *Server {
	s := &Server{
		client: client,
		srv:    grpc.NewServer(opts...),
	}
	RegisterDHTServer(s.srv, s)
	return s
}

// Serve accepts connections on lis until ctx is cancelled, then stops
// gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(lis)
	}()
	slog.Info("agent listening", "addr", lis.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.srv.GracefulStop()
		<-errCh
		return nil
	}
}

// Publish stores a binary-encoded signed record.
func (s *Server) Publish(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	var rec record.Signed
	if err := rec.UnmarshalBinary(in.GetValue()); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode record: %v", err)
	}
	if err := s.client.Publish(ctx, &rec); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// CountStoringNodes counts the nodes storing the given public key.
func (s *Server) CountStoringNodes(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.UInt32Value, error) {
	key, err := record.PublicKeyFromBytes(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	n, err := s.client.CountStoringNodes(ctx, key)
	if err != nil {
		return nil, toStatus(err)
	}
	if n < 0 {
		n = 0
	}
	return wrapperspb.UInt32(uint32(n)), nil
}

// Resolve returns the binary-encoded record stored under the given key.
func (s *Server) Resolve(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	key, err := record.PublicKeyFromBytes(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	rec, err := s.client.Resolve(ctx, key)
	if err != nil {
		return nil, toStatus(err)
	}
	b, err := rec.MarshalBinary()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode record: %v", err)
	}
	return wrapperspb.Bytes(b), nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, dht.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, record.ErrBadSignature):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Unavailable, err.Error())
	}
}
