// Package grpcserver exposes the credential services over gRPC.
package grpcserver

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/basejwt/internal/errs"
	"github.com/and161185/basejwt/internal/model"
	"github.com/and161185/basejwt/internal/service"
)

// Options tune the transport.
type Options struct {
	Clock clockwork.Clock
	Log   *zap.Logger

	// ExposeResetToken returns the issued reset token from RequestPasswordReset.
	// Only for development setups without an out-of-band delivery channel.
	ExposeResetToken bool
}

// Server implements AuthServer over the application services.
type Server struct {
	auth    service.AuthService
	refresh service.RefreshService
	access  service.AccessService
	reset   service.ResetService

	clock       clockwork.Clock
	log         *zap.Logger
	exposeReset bool
}

var _ AuthServer = (*Server)(nil)

// New constructs a Server.
func New(auth service.AuthService, refresh service.RefreshService, access service.AccessService, reset service.ResetService, opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Server{
		auth:        auth,
		refresh:     refresh,
		access:      access,
		reset:       reset,
		clock:       opts.Clock,
		log:         opts.Log.Named("grpc"),
		exposeReset: opts.ExposeResetToken,
	}
}

// NewGRPCServer builds a grpc.Server with recovery, logging and bearer
// interceptors and registers s on it.
func NewGRPCServer(s *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(
		RecoverUnary(s.log),
		LoggingUnary(s.log),
		AuthUnary(s.auth, s.log, BearerMethods...),
	))
	gs := grpc.NewServer(opts...)
	gs.RegisterService(&ServiceDesc, s)
	return gs
}

func str(in *structpb.Struct, key string) string {
	return in.GetFields()[key].GetStringValue()
}

func required(in *structpb.Struct, keys ...string) error {
	var missing []string
	for _, k := range keys {
		if str(in, k) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return status.Errorf(codes.InvalidArgument, "missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func (s *Server) tokensStruct(t model.Tokens, extra map[string]any) (*structpb.Struct, error) {
	m := map[string]any{
		"access_token":       t.AccessToken,
		"token_type":         "Bearer",
		"expires_in":         t.ExpiresInSeconds(s.clock.Now()),
		"refresh_token":      t.RefreshToken,
		"refresh_expires_at": t.RefreshExpiresAt.UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		m[k] = v
	}
	return structpb.NewStruct(m)
}

// Login exchanges email and password for a token pair.
func (s *Server) Login(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := required(in, "email", "password"); err != nil {
		return nil, err
	}
	res, err := s.auth.Login(ctx, str(in, "email"), str(in, "password"))
	if err != nil {
		return nil, toStatus(s.log, err)
	}
	return s.tokensStruct(res.Tokens, map[string]any{
		"user_id": res.User.ID.String(),
		"role_id": res.User.RoleID,
	})
}

// Refresh rotates a refresh token.
func (s *Server) Refresh(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := required(in, "refresh_token"); err != nil {
		return nil, err
	}
	t, err := s.refresh.Rotate(ctx, str(in, "refresh_token"))
	if err != nil {
		return nil, toStatus(s.log, err)
	}
	return s.tokensStruct(t, nil)
}

// Logout revokes a single refresh token.
func (s *Server) Logout(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := required(in, "refresh_token"); err != nil {
		return nil, err
	}
	if err := s.refresh.Logout(ctx, str(in, "refresh_token")); err != nil {
		return nil, toStatus(s.log, err)
	}
	return &structpb.Struct{}, nil
}

// LogoutAll revokes every refresh token of the caller.
func (s *Server) LogoutAll(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, ok := UserIDFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	n, err := s.refresh.RevokeAll(ctx, userID)
	if err != nil {
		return nil, toStatus(s.log, err)
	}
	if c, ok := ClaimsFromCtx(ctx); ok {
		s.log.Info("logout all", zap.Stringer("user_id", userID), zap.String("jti", c.ID), zap.Int("revoked", n))
	}
	return structpb.NewStruct(map[string]any{"revoked": n})
}

// Authorize reports whether the caller currently holds a privilege.
func (s *Server) Authorize(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	userID, ok := UserIDFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	if err := required(in, "privilege"); err != nil {
		return nil, err
	}
	allowed, err := s.access.AuthorizeUser(ctx, userID, str(in, "privilege"))
	if err != nil {
		return nil, toStatus(s.log, err)
	}
	return structpb.NewStruct(map[string]any{"allowed": allowed})
}

// RequestPasswordReset issues a reset token. The response does not reveal
// whether the email is registered.
func (s *Server) RequestPasswordReset(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := required(in, "email"); err != nil {
		return nil, err
	}
	t, err := s.reset.RequestByEmail(ctx, str(in, "email"))
	if errors.Is(err, errs.ErrNotFound) {
		return &structpb.Struct{}, nil
	}
	if err != nil {
		return nil, toStatus(s.log, err)
	}
	if !s.exposeReset {
		return &structpb.Struct{}, nil
	}
	return structpb.NewStruct(map[string]any{
		"user_id":     t.UserID.String(),
		"reset_token": t.Token,
		"expires_at":  t.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// ResetPassword consumes a reset token and sets a new password.
func (s *Server) ResetPassword(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := required(in, "user_id", "reset_token", "new_password"); err != nil {
		return nil, err
	}
	userID, err := uuid.FromString(str(in, "user_id"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "bad user_id")
	}
	err = s.reset.ResetPassword(ctx, userID, str(in, "reset_token"), str(in, "new_password"), str(in, "confirm_password"))
	if err != nil {
		return nil, toStatus(s.log, err)
	}
	return &structpb.Struct{}, nil
}

// bearerTokenFromMD extracts the token from "authorization: Bearer <token>".
func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}
