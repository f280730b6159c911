package auth

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/elskow/authcore/internal/api"
)

// Define a custom type for context keys
type contextKey string

const (
	// AuthContextKey holds the *Authenticated for the current call
	AuthContextKey contextKey = "auth"
	// TokenContextKey holds the raw session token for the current call
	TokenContextKey contextKey = "session_token"
)

type AuthMiddleware struct {
	service *Service
	log     *zap.Logger
}

func NewAuthMiddleware(service *Service, log *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		service: service,
		log:     log,
	}
}

func (m *AuthMiddleware) AuthenticationMiddleware(ctx context.Context) (context.Context, error) {
	token := tokenFromMetadata(ctx)
	if token == "" {
		return nil, status.Error(codes.Unauthenticated, "missing session token")
	}

	auth, ok, err := m.service.ValidateSession(ctx, token)
	if err != nil {
		m.log.Error("session validation failed", zap.Error(err))
		return nil, status.Error(codes.Internal, "session validation failed")
	}
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "invalid or expired session")
	}

	ctx = context.WithValue(ctx, AuthContextKey, auth)
	return context.WithValue(ctx, TokenContextKey, token), nil
}

// UnaryInterceptor authenticates calls to protected methods.
func (m *AuthMiddleware) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !api.IsProtected(info.FullMethod) {
			return handler(ctx, req)
		}

		newCtx, err := m.AuthenticationMiddleware(ctx)
		if err != nil {
			m.log.Warn("authentication failed",
				zap.String("method", info.FullMethod),
				zap.Error(err))
			return nil, err
		}

		return handler(newCtx, req)
	}
}

// GetAuthFromContext returns the session and user attached by the interceptor.
func GetAuthFromContext(ctx context.Context) (*Authenticated, error) {
	auth, ok := ctx.Value(AuthContextKey).(*Authenticated)
	if !ok || auth == nil {
		return nil, errors.New("no authenticated session in context")
	}
	return auth, nil
}

func tokenFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(values[0], "Bearer "))
}
