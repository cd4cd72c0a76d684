package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "basejwt.v1.Auth"

// Full method names, as seen by interceptors.
const (
	MethodLogin                = "/" + ServiceName + "/Login"
	MethodRefresh              = "/" + ServiceName + "/Refresh"
	MethodLogout               = "/" + ServiceName + "/Logout"
	MethodLogoutAll            = "/" + ServiceName + "/LogoutAll"
	MethodAuthorize            = "/" + ServiceName + "/Authorize"
	MethodRequestPasswordReset = "/" + ServiceName + "/RequestPasswordReset"
	MethodResetPassword        = "/" + ServiceName + "/ResetPassword"
)

// BearerMethods require an access token in the authorization metadata.
var BearerMethods = []string{MethodLogoutAll, MethodAuthorize}

// AuthServer is the handler set registered under ServiceName.
// Requests and responses are free-form structs.
type AuthServer interface {
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Refresh(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Logout(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LogoutAll(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Authorize(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RequestPasswordReset(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResetPassword(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(AuthServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if ic == nil {
				return call(srv.(AuthServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return ic(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(AuthServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes the Auth service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Login", AuthServer.Login),
		unary("Refresh", AuthServer.Refresh),
		unary("Logout", AuthServer.Logout),
		unary("LogoutAll", AuthServer.LogoutAll),
		unary("Authorize", AuthServer.Authorize),
		unary("RequestPasswordReset", AuthServer.RequestPasswordReset),
		unary("ResetPassword", AuthServer.ResetPassword),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "basejwt/v1/auth.proto",
}

// Client invokes the Auth service over a client connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

// Call invokes a unary method by its full name.
func (c *Client) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
