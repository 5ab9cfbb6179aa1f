package rfc822

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/dynamicpb"
)

// DelivererClient is the client API for the Deliverer service.
type DelivererClient interface {
	Deliver(ctx context.Context, in *Request, opts ...grpc.CallOption) (*Response, error)
}

type delivererClient struct {
	cc grpc.ClientConnInterface
}

func NewDelivererClient(cc grpc.ClientConnInterface) DelivererClient {
	return &delivererClient{cc}
}

func (c *delivererClient) Deliver(ctx context.Context, in *Request, opts ...grpc.CallOption) (*Response, error) {
	out := newResponseMessage()
	if err := c.cc.Invoke(ctx, DeliverFullMethod, in.ProtoMessage(), out, opts...); err != nil {
		return nil, err
	}
	return &Response{}, nil
}

// DelivererServer is the server API for the Deliverer service.
type DelivererServer interface {
	Deliver(context.Context, *Request) (*Response, error)
}

// UnimplementedDelivererServer can be embedded to have forward compatible
// implementations.
type UnimplementedDelivererServer struct{}

func (UnimplementedDelivererServer) Deliver(context.Context, *Request) (*Response, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Deliver not implemented")
}

func RegisterDelivererServer(s grpc.ServiceRegistrar, srv DelivererServer) {
	s.RegisterService(&Deliverer_ServiceDesc, srv)
}

func _Deliverer_Deliver_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := newRequestMessage()
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		m, ok := req.(*dynamicpb.Message)
		if !ok {
			return nil, status.Errorf(codes.Internal, "unexpected request type %T", req)
		}
		if _, err := srv.(DelivererServer).Deliver(ctx, requestFromMessage(m)); err != nil {
			return nil, err
		}
		return newResponseMessage(), nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: DeliverFullMethod,
	}
	return interceptor(ctx, in, info, handler)
}

// Deliverer_ServiceDesc is the grpc.ServiceDesc for the Deliverer service.
var Deliverer_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DelivererServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    _Deliverer_Deliver_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rfc822.proto",
}
