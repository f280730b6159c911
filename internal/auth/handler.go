package auth

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type Handler struct {
	service *Service
	log     *zap.Logger
}

var _ AuthServer = (*Handler)(nil)

func NewHandler(service *Service, log *zap.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log,
	}
}

func (h *Handler) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in := RegisterInput{
		Email:    stringField(req, "email"),
		Password: stringField(req, "password"),
		Username: stringField(req, "username"),
		Client:   clientFromContext(ctx),
	}

	h.log.Info("handling register request", zap.String("username", in.Username))

	res, err := h.service.Register(ctx, in)
	if err != nil {
		return nil, h.toStatus("register", err)
	}

	fields := map[string]*structpb.Value{
		"success": structpb.NewBoolValue(true),
		"message": structpb.NewStringValue("User registered successfully"),
		"user":    structpb.NewStructValue(userStruct(res.User)),
	}
	if res.Session != nil {
		fields["session"] = structpb.NewStructValue(sessionStruct(res.Session, true))
	}
	return &structpb.Struct{Fields: fields}, nil
}

func (h *Handler) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res, err := h.service.Login(ctx, LoginInput{
		Email:    stringField(req, "email"),
		Password: stringField(req, "password"),
		Client:   clientFromContext(ctx),
	})
	if err != nil {
		return nil, h.toStatus("login", err)
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"success": structpb.NewBoolValue(true),
		"message": structpb.NewStringValue("Login successful"),
		"user":    structpb.NewStructValue(userStruct(res.User)),
		"session": structpb.NewStructValue(sessionStruct(res.Session, true)),
	}}, nil
}

func (h *Handler) Logout(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	token := stringField(req, "token")
	if token == "" {
		token = tokenFromMetadata(ctx)
	}

	if err := h.service.Logout(ctx, token); err != nil {
		return nil, h.toStatus("logout", err)
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"success": structpb.NewBoolValue(true),
	}}, nil
}

// ValidateSession never fails for a bad token; it answers valid=false.
func (h *Handler) ValidateSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	token := stringField(req, "token")
	if token == "" {
		token = tokenFromMetadata(ctx)
	}
	if token == "" {
		return invalidSession("token is required"), nil
	}

	auth, ok, err := h.service.ValidateSession(ctx, token)
	if err != nil {
		return nil, h.toStatus("validate session", err)
	}
	if !ok {
		return invalidSession("session is invalid or expired"), nil
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"valid":   structpb.NewBoolValue(true),
		"message": structpb.NewStringValue("Session is valid"),
		"user":    structpb.NewStructValue(userStruct(auth.User)),
		"session": structpb.NewStructValue(sessionStruct(auth.Session, false)),
	}}, nil
}

func (h *Handler) RefreshSession(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	token, _ := ctx.Value(TokenContextKey).(string)

	session, ok, err := h.service.RefreshSession(ctx, token)
	if err != nil {
		return nil, h.toStatus("refresh session", err)
	}
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "invalid or expired session")
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"success": structpb.NewBoolValue(true),
		"session": structpb.NewStructValue(sessionStruct(session, false)),
	}}, nil
}

func (h *Handler) Me(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	auth, err := GetAuthFromContext(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"user":    structpb.NewStructValue(userStruct(auth.User)),
		"session": structpb.NewStructValue(sessionStruct(auth.Session, false)),
	}}, nil
}

func (h *Handler) toStatus(op string, err error) error {
	var validationErr *ValidationError
	var conflictErr *ConflictError

	switch {
	case errors.As(err, &validationErr):
		return status.Error(codes.InvalidArgument, validationErr.Error())
	case errors.As(err, &conflictErr):
		return status.Error(codes.AlreadyExists, conflictErr.Error())
	case errors.Is(err, ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, "invalid credentials")
	case errors.Is(err, ErrPersistence):
		h.log.Error(op+" failed", zap.Error(err))
		return status.Error(codes.Unavailable, op+" failed")
	default:
		h.log.Error(op+" failed", zap.Error(err))
		return status.Error(codes.Internal, op+" failed")
	}
}

func invalidSession(message string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"valid":   structpb.NewBoolValue(false),
		"message": structpb.NewStringValue(message),
	}}
}

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

func userStruct(u *User) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"id":                    structpb.NewStringValue(u.ID),
		"email":                 structpb.NewStringValue(u.Email),
		"username":              structpb.NewStringValue(u.Username),
		"role":                  structpb.NewStringValue(string(u.Role)),
		"failed_login_attempts": structpb.NewNumberValue(float64(u.FailedLoginAttempts)),
		"created_at":            timeValue(u.CreatedAt),
	}
	if u.LastLoginAt != nil {
		fields["last_login_at"] = timeValue(*u.LastLoginAt)
	}
	return &structpb.Struct{Fields: fields}
}

func sessionStruct(s *Session, withToken bool) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"id":             structpb.NewStringValue(s.ID),
		"user_id":        structpb.NewStringValue(s.UserID),
		"expires_at":     timeValue(s.ExpiresAt),
		"last_active_at": timeValue(s.LastActiveAt),
	}
	if withToken {
		fields["token"] = structpb.NewStringValue(s.Token)
	}
	return &structpb.Struct{Fields: fields}
}

func timeValue(t time.Time) *structpb.Value {
	return structpb.NewStringValue(t.UTC().Format(time.RFC3339Nano))
}

func clientFromContext(ctx context.Context) ClientInfo {
	var client ClientInfo
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		client.IPAddress = p.Addr.String()
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ua := md.Get("user-agent"); len(ua) > 0 {
			client.UserAgent = ua[0]
		}
	}
	return client
}
