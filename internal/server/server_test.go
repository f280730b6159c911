package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/elskow/authcore/internal/api"
	"github.com/elskow/authcore/internal/auth"
	"github.com/elskow/authcore/internal/config"
)

func newTestClient(t *testing.T) *grpc.ClientConn {
	t.Helper()

	cfg := &config.AppConfig{
		GRPC: config.GRPCConfig{
			MaxReceiveMessageSize: 4 << 20,
			MaxSendMessageSize:    4 << 20,
		},
		Auth: config.AuthConfig{
			BcryptCost:          bcrypt.MinCost,
			TokenBytes:          32,
			SessionDuration:     time.Hour,
			AutoLoginOnRegister: true,
			MaxFailedLogins:     5,
			LockoutDuration:     time.Minute,
			MinPasswordLength:   6,
		},
	}
	log := zap.NewNop()
	svc := auth.NewService(&cfg.Auth, log, auth.NewMemoryRepository())

	srv := NewServer(Params{
		Config:         cfg,
		Logger:         log,
		AuthHandler:    auth.NewHandler(svc, log),
		AuthMiddleware: auth.NewAuthMiddleware(svc, log),
	})

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func call(ctx context.Context, conn *grpc.ClientConn, method string, fields map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func TestServer_SessionLifecycle(t *testing.T) {
	conn := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := call(ctx, conn, api.AuthRegister, map[string]any{
		"email": "a@x.com", "password": "pw123!", "username": "alice",
	})
	require.NoError(t, err)

	login, err := call(ctx, conn, api.AuthLogin, map[string]any{
		"email": "a@x.com", "password": "pw123!",
	})
	require.NoError(t, err)
	token := login.Fields["session"].GetStructValue().Fields["token"].GetStringValue()
	require.NotEmpty(t, token)

	_, err = call(ctx, conn, api.AuthMe, nil)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	authed := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	me, err := call(authed, conn, api.AuthMe, nil)
	require.NoError(t, err)
	assert.Equal(t, "alice", me.Fields["user"].GetStructValue().Fields["username"].GetStringValue())

	_, err = call(authed, conn, api.AuthLogout, nil)
	require.NoError(t, err)

	_, err = call(authed, conn, api.AuthMe, nil)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	valid, err := call(ctx, conn, api.AuthValidateSession, map[string]any{"token": token})
	require.NoError(t, err)
	assert.False(t, valid.Fields["valid"].GetBoolValue())
}

func TestServer_ErrorCodes(t *testing.T) {
	conn := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	register := map[string]any{"email": "a@x.com", "password": "pw123!", "username": "alice"}
	_, err := call(ctx, conn, api.AuthRegister, register)
	require.NoError(t, err)

	tests := []struct {
		name     string
		method   string
		request  map[string]any
		wantCode codes.Code
	}{
		{name: "duplicate registration", method: api.AuthRegister, request: register, wantCode: codes.AlreadyExists},
		{
			name:     "invalid email",
			method:   api.AuthRegister,
			request:  map[string]any{"email": "nope", "password": "pw123!", "username": "bob"},
			wantCode: codes.InvalidArgument,
		},
		{
			name:     "wrong password",
			method:   api.AuthLogin,
			request:  map[string]any{"email": "a@x.com", "password": "wrong-pw"},
			wantCode: codes.Unauthenticated,
		},
		{name: "unregistered method", method: "/authcore.v1.Auth/Delete", wantCode: codes.Unimplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call(ctx, conn, tt.method, tt.request)
			assert.Equal(t, tt.wantCode, status.Code(err))
		})
	}
}
