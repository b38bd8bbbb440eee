package envserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "dentalscanner.env.v1.EnvironmentService"

const (
	MethodCreateEnvironment = "CreateEnvironment"
	MethodReset             = "Reset"
	MethodStep              = "Step"
	MethodObserve           = "Observe"
	MethodCloseEnvironment  = "CloseEnvironment"
)

// EnvironmentServiceServer is the server API. Requests and responses are
// google.protobuf.Struct messages; field names are documented on Server.
type EnvironmentServiceServer interface {
	CreateEnvironment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reset(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Step(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Observe(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CloseEnvironment(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(EnvironmentServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(EnvironmentServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: FullMethod(method),
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(EnvironmentServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// EnvironmentService_ServiceDesc describes the service for grpc.Server registration
var EnvironmentService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EnvironmentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: MethodCreateEnvironment,
			Handler: unaryHandler(MethodCreateEnvironment, func(s EnvironmentServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.CreateEnvironment(ctx, in)
			}),
		},
		{
			MethodName: MethodReset,
			Handler: unaryHandler(MethodReset, func(s EnvironmentServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.Reset(ctx, in)
			}),
		},
		{
			MethodName: MethodStep,
			Handler: unaryHandler(MethodStep, func(s EnvironmentServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.Step(ctx, in)
			}),
		},
		{
			MethodName: MethodObserve,
			Handler: unaryHandler(MethodObserve, func(s EnvironmentServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.Observe(ctx, in)
			}),
		},
		{
			MethodName: MethodCloseEnvironment,
			Handler: unaryHandler(MethodCloseEnvironment, func(s EnvironmentServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.CloseEnvironment(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: ProtoFile,
}

// RegisterEnvironmentServiceServer registers srv on s
func RegisterEnvironmentServiceServer(s grpc.ServiceRegistrar, srv EnvironmentServiceServer) {
	s.RegisterService(&EnvironmentService_ServiceDesc, srv)
}

// FullMethod returns "/<service>/<method>"
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Client is a thin client for EnvironmentService
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a client connection
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateEnvironment(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodCreateEnvironment, in, opts...)
}

func (c *Client) Reset(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodReset, in, opts...)
}

func (c *Client) Step(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodStep, in, opts...)
}

func (c *Client) Observe(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodObserve, in, opts...)
}

func (c *Client) CloseEnvironment(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodCloseEnvironment, in, opts...)
}
