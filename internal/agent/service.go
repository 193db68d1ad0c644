// Package agent exposes a dht.Client over gRPC so that monitors in other
// processes can probe the same network.
//
// The service uses the protobuf well-known wrapper types as its messages,
// so no generated code is needed:
//
//	service churnprobe.dht.v1.DHT {
//	  rpc Publish(google.protobuf.BytesValue) returns (google.protobuf.Empty);
//	  rpc CountStoringNodes(google.protobuf.BytesValue) returns (google.protobuf.UInt32Value);
//	  rpc Resolve(google.protobuf.BytesValue) returns (google.protobuf.BytesValue);
//	}
//
// Publish takes a binary-encoded record.Signed; the other two take a raw
// 32-byte public key. Resolve answers NOT_FOUND when no node has the record.
package agent

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "churnprobe.dht.v1.DHT"

const (
	methodPublish           = "/" + ServiceName + "/Publish"
	methodCountStoringNodes = "/" + ServiceName + "/CountStoringNodes"
	methodResolve           = "/" + ServiceName + "/Resolve"
)

// DHTServer is the server API of the DHT service.
type DHTServer interface {
	Publish(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
	CountStoringNodes(context.Context, *wrapperspb.BytesValue) (*wrapperspb.UInt32Value, error)
	Resolve(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

// RegisterDHTServer registers srv on s.
func RegisterDHTServer(s grpc.ServiceRegistrar, srv DHTServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DHTServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: publishHandler},
		{MethodName: "CountStoringNodes", Handler: countHandler},
		{MethodName: "Resolve", Handler: resolveHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "churnprobe/dht/v1/dht.proto",
}

func publishHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DHTServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodPublish}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DHTServer).Publish(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func countHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DHTServer).CountStoringNodes(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodCountStoringNodes}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DHTServer).CountStoringNodes(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func resolveHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DHTServer).Resolve(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodResolve}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DHTServer).Resolve(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}
