package auth

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/elskow/authcore/internal/api"
)

// AuthServer is the gRPC surface of the service. Requests and responses are
// google.protobuf.Struct messages.
type AuthServer interface {
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Logout(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ValidateSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RefreshSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Me(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type authMethod func(AuthServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call authMethod) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AuthServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AuthServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// AuthServiceDesc describes authcore.v1.Auth for grpc.Server.RegisterService.
var AuthServiceDesc = grpc.ServiceDesc{
	ServiceName: api.AuthService,
	HandlerType: (*AuthServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: unaryHandler(api.AuthRegister, AuthServer.Register)},
		{MethodName: "Login", Handler: unaryHandler(api.AuthLogin, AuthServer.Login)},
		{MethodName: "Logout", Handler: unaryHandler(api.AuthLogout, AuthServer.Logout)},
		{MethodName: "ValidateSession", Handler: unaryHandler(api.AuthValidateSession, AuthServer.ValidateSession)},
		{MethodName: "RefreshSession", Handler: unaryHandler(api.AuthRefreshSession, AuthServer.RefreshSession)},
		{MethodName: "Me", Handler: unaryHandler(api.AuthMe, AuthServer.Me)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "authcore/v1/auth.proto",
}
