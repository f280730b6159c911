package auth

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func newRequest(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	req, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	return req
}

func withBearer(ctx context.Context, token string) context.Context {
	return metadata.NewIncomingContext(ctx, metadata.Pairs("authorization", "Bearer "+token))
}

func TestHandler_Register(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	_, err := h.Register(ctx, newRequest(t, map[string]any{
		"email": "taken@example.com", "password": "testpass123", "username": "taken",
	}))
	require.NoError(t, err)

	tests := []struct {
		name     string
		request  map[string]any
		wantCode codes.Code
	}{
		{
			name: "valid registration",
			request: map[string]any{
				"email": "test@example.com", "password": "testpass123", "username": "testuser",
			},
			wantCode: codes.OK,
		},
		{
			name: "empty password",
			request: map[string]any{
				"email": "other@example.com", "password": "", "username": "other",
			},
			wantCode: codes.InvalidArgument,
		},
		{
			name: "duplicate email",
			request: map[string]any{
				"email": "taken@example.com", "password": "testpass123", "username": "fresh",
			},
			wantCode: codes.AlreadyExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := h.Register(ctx, newRequest(t, tt.request))

			if tt.wantCode != codes.OK {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, status.Code(err))
				return
			}

			require.NoError(t, err)
			assert.True(t, resp.Fields["success"].GetBoolValue())
			user := resp.Fields["user"].GetStructValue()
			assert.Equal(t, "test@example.com", user.Fields["email"].GetStringValue())
			assert.NotContains(t, user.Fields, "password_hash")
			session := resp.Fields["session"].GetStructValue()
			assert.Len(t, session.Fields["token"].GetStringValue(), 64)
		})
	}
}

func TestHandler_Login(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	_, err := h.Register(ctx, newRequest(t, map[string]any{
		"email": "test@example.com", "password": "testpass123", "username": "testuser",
	}))
	require.NoError(t, err)

	tests := []struct {
		name     string
		request  map[string]any
		wantCode codes.Code
	}{
		{
			name:     "valid credentials",
			request:  map[string]any{"email": "test@example.com", "password": "testpass123"},
			wantCode: codes.OK,
		},
		{
			name:     "wrong password",
			request:  map[string]any{"email": "test@example.com", "password": "wrongpass"},
			wantCode: codes.Unauthenticated,
		},
		{
			name:     "unknown email",
			request:  map[string]any{"email": "nobody@example.com", "password": "testpass123"},
			wantCode: codes.Unauthenticated,
		},
		{
			name:     "missing email",
			request:  map[string]any{"password": "testpass123"},
			wantCode: codes.InvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := h.Login(ctx, newRequest(t, tt.request))

			if tt.wantCode != codes.OK {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, status.Code(err))
				return
			}

			require.NoError(t, err)
			assert.True(t, resp.Fields["success"].GetBoolValue())
			assert.NotEmpty(t, resp.Fields["session"].GetStructValue().Fields["token"].GetStringValue())
		})
	}
}

func TestHandler_AuthenticationFailuresShareAMessage(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	_, err := h.Register(ctx, newRequest(t, map[string]any{
		"email": "test@example.com", "password": "testpass123", "username": "testuser",
	}))
	require.NoError(t, err)

	_, wrongErr := h.Login(ctx, newRequest(t, map[string]any{"email": "test@example.com", "password": "nope-nope"}))
	_, unknownErr := h.Login(ctx, newRequest(t, map[string]any{"email": "ghost@example.com", "password": "nope-nope"}))

	assert.Equal(t, status.Convert(wrongErr).Message(), status.Convert(unknownErr).Message())
}

func TestHandler_ValidateAndLogout(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	resp, err := h.Register(ctx, newRequest(t, map[string]any{
		"email": "test@example.com", "password": "testpass123", "username": "testuser",
	}))
	require.NoError(t, err)
	token := resp.Fields["session"].GetStructValue().Fields["token"].GetStringValue()

	valid, err := h.ValidateSession(ctx, newRequest(t, map[string]any{"token": token}))
	require.NoError(t, err)
	assert.True(t, valid.Fields["valid"].GetBoolValue())
	assert.Equal(t, "testuser", valid.Fields["user"].GetStructValue().Fields["username"].GetStringValue())
	assert.NotContains(t, valid.Fields["session"].GetStructValue().Fields, "token")

	_, err = h.Logout(withBearer(ctx, token), newRequest(t, nil))
	require.NoError(t, err)

	// a second logout with the same token still succeeds
	_, err = h.Logout(ctx, newRequest(t, map[string]any{"token": token}))
	require.NoError(t, err)

	invalid, err := h.ValidateSession(ctx, newRequest(t, map[string]any{"token": token}))
	require.NoError(t, err)
	assert.False(t, invalid.Fields["valid"].GetBoolValue())

	missing, err := h.ValidateSession(ctx, newRequest(t, nil))
	require.NoError(t, err)
	assert.False(t, missing.Fields["valid"].GetBoolValue())
}

func TestHandler_MeRequiresAuth(t *testing.T) {
	h := newTestHandler(t)

	_, err := h.Me(context.Background(), newRequest(t, nil))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = h.RefreshSession(context.Background(), newRequest(t, nil))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestClientFromContext(t *testing.T) {
	ctx := peer.NewContext(context.Background(), &peer.Peer{
		Addr: &net.TCPAddr{IP: net.ParseIP("192.0.2.10"), Port: 4242},
	})
	ctx = metadata.NewIncomingContext(ctx, metadata.Pairs("user-agent", "grpc-go/1.70"))

	client := clientFromContext(ctx)
	assert.Equal(t, "192.0.2.10:4242", client.IPAddress)
	assert.Equal(t, "grpc-go/1.70", client.UserAgent)

	assert.Equal(t, ClientInfo{}, clientFromContext(context.Background()))
}
