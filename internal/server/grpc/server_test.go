package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	pkgcrypto "github.com/and161185/basejwt/internal/crypto"
	"github.com/and161185/basejwt/internal/guard"
	"github.com/and161185/basejwt/internal/model"
	"github.com/and161185/basejwt/internal/repository/memory"
	"github.com/and161185/basejwt/internal/service"
	"github.com/and161185/basejwt/internal/token"
)

const (
	bufSize      = 1 << 20
	testEmail    = "dana@clinic.test"
	testPassword = "correct-horse"
)

type harness struct {
	cl    *Client
	svc   *service.Services
	clock *clockwork.FakeClock
	user  *model.User
}

func startBufGRPC(t *testing.T, exposeReset bool) *harness {
	t.Helper()
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := memory.New(memory.WithClock(clock))
	signer := token.NewHS256Signer([]byte("0123456789abcdef0123456789abcdef"), 0, clock)
	issuer := token.NewIssuer(token.Policy{
		Issuer:     "test",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		ResetTTL:   time.Hour,
	}, signer, pkgcrypto.NewHMACHasher([]byte("pepper")), clock)
	log := zaptest.NewLogger(t)

	svc := service.New(service.Deps{
		Users:  store.Users(),
		Roles:  store.Roles(),
		Tokens: store.RefreshTokens(),
		Resets: store.ResetTokens(),
		Issuer: issuer,
		Guard:  guard.New(guard.Policy{Threshold: 3, LockoutDuration: 15 * time.Minute}, clock),
		Clock:  clock,
		Log:    log,
	})
	role, err := svc.Access.CreateRole(ctx, "Clinician", "CLN", "Clinical staff", true)
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	view, err := svc.Access.CreatePrivilege(ctx, "ViewRecords")
	if err != nil {
		t.Fatalf("create privilege: %v", err)
	}
	if err := svc.Access.GrantPrivilege(ctx, role.ID, view.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}
	u, err := svc.Auth.Register(ctx, model.NewUserParams{
		FullName:       "Dana Reyes",
		PhoneNumber:    "071-234-5678",
		Email:          testEmail,
		IdentityNumber: "123456789012",
		Address:        "1 Main St",
		DateOfBirth:    time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC),
	}, testPassword)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	srv := New(svc.Auth, svc.Refresh, svc.Access, svc.Reset, Options{
		Clock:            clock,
		Log:              log,
		ExposeResetToken: exposeReset,
	})
	lis := bufconn.Listen(bufSize)
	gs := NewGRPCServer(srv)
	go func() { _ = gs.Serve(lis) }()

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close(); gs.Stop(); _ = lis.Close() })
	return &harness{cl: NewClient(cc), svc: svc, clock: clock, user: u}
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	return s
}

func withBearer(token string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

func wantCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	if st, ok := status.FromError(err); !ok || st.Code() != code {
		t.Fatalf("want %s, got %v", code, err)
	}
}

func (h *harness) login(t *testing.T) *structpb.Struct {
	t.Helper()
	out, err := h.cl.Call(context.Background(), MethodLogin,
		mustStruct(t, map[string]any{"email": testEmail, "password": testPassword}))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return out
}

func TestServer_LoginRefreshLogout(t *testing.T) {
	t.Parallel()
	h := startBufGRPC(t, false)
	ctx := context.Background()

	lr := h.login(t)
	if str(lr, "access_token") == "" || str(lr, "refresh_token") == "" {
		t.Fatalf("login response missing tokens: %v", lr)
	}
	if str(lr, "token_type") != "Bearer" || str(lr, "user_id") != h.user.ID.String() {
		t.Fatalf("bad login response: %v", lr)
	}
	if got := lr.GetFields()["expires_in"].GetNumberValue(); got != 900 {
		t.Fatalf("expires_in = %v, want 900", got)
	}

	rr, err := h.cl.Call(ctx, MethodRefresh, mustStruct(t, map[string]any{"refresh_token": str(lr, "refresh_token")}))
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if str(rr, "refresh_token") == str(lr, "refresh_token") {
		t.Fatalf("refresh must rotate the secret")
	}

	if _, err := h.cl.Call(ctx, MethodLogout, mustStruct(t, map[string]any{"refresh_token": str(rr, "refresh_token")})); err != nil {
		t.Fatalf("logout: %v", err)
	}
	_, err = h.cl.Call(ctx, MethodLogout, mustStruct(t, map[string]any{"refresh_token": "unknown"}))
	wantCode(t, err, codes.Unauthenticated)
}

func TestServer_RefreshReplayRevokesSessions(t *testing.T) {
	t.Parallel()
	h := startBufGRPC(t, false)
	ctx := context.Background()

	lr := h.login(t)
	old := mustStruct(t, map[string]any{"refresh_token": str(lr, "refresh_token")})
	rr, err := h.cl.Call(ctx, MethodRefresh, old)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	_, err = h.cl.Call(ctx, MethodRefresh, old)
	wantCode(t, err, codes.Unauthenticated)
	if st, _ := status.FromError(err); st.Message() == "invalid credentials" {
		t.Fatalf("replay must be reported distinctly, got %q", st.Message())
	}

	_, err = h.cl.Call(ctx, MethodRefresh, mustStruct(t, map[string]any{"refresh_token": str(rr, "refresh_token")}))
	wantCode(t, err, codes.Unauthenticated)
}

func TestServer_LoginErrors(t *testing.T) {
	t.Parallel()
	h := startBufGRPC(t, false)
	ctx := context.Background()

	_, err := h.cl.Call(ctx, MethodLogin, mustStruct(t, map[string]any{"email": testEmail}))
	wantCode(t, err, codes.InvalidArgument)

	_, err = h.cl.Call(ctx, MethodLogin, mustStruct(t, map[string]any{"email": "nobody@clinic.test", "password": "whatever1"}))
	wantCode(t, err, codes.Unauthenticated)

	bad := mustStruct(t, map[string]any{"email": testEmail, "password": "wrong-password"})
	for i := 0; i < 2; i++ {
		_, err = h.cl.Call(ctx, MethodLogin, bad)
		wantCode(t, err, codes.Unauthenticated)
	}
	_, err = h.cl.Call(ctx, MethodLogin, bad)
	wantCode(t, err, codes.ResourceExhausted)

	_, err = h.cl.Call(ctx, MethodLogin, mustStruct(t, map[string]any{"email": testEmail, "password": testPassword}))
	wantCode(t, err, codes.ResourceExhausted)

	h.clock.Advance(16 * time.Minute)
	h.login(t)
}

func TestServer_BearerMethods(t *testing.T) {
	t.Parallel()
	h := startBufGRPC(t, false)

	_, err := h.cl.Call(context.Background(), MethodLogoutAll, &structpb.Struct{})
	wantCode(t, err, codes.Unauthenticated)
	_, err = h.cl.Call(withBearer("garbage"), MethodAuthorize, mustStruct(t, map[string]any{"privilege": "ViewRecords"}))
	wantCode(t, err, codes.Unauthenticated)

	lr := h.login(t)
	h.login(t)
	ctx := withBearer(str(lr, "access_token"))

	ar, err := h.cl.Call(ctx, MethodAuthorize, mustStruct(t, map[string]any{"privilege": "ViewRecords"}))
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !ar.GetFields()["allowed"].GetBoolValue() {
		t.Fatalf("ViewRecords must be allowed")
	}
	ar, err = h.cl.Call(ctx, MethodAuthorize, mustStruct(t, map[string]any{"privilege": "DeleteRecords"}))
	if err != nil || ar.GetFields()["allowed"].GetBoolValue() {
		t.Fatalf("DeleteRecords must be denied: %v %v", ar, err)
	}
	_, err = h.cl.Call(ctx, MethodAuthorize, &structpb.Struct{})
	wantCode(t, err, codes.InvalidArgument)

	out, err := h.cl.Call(ctx, MethodLogoutAll, &structpb.Struct{})
	if err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if got := out.GetFields()["revoked"].GetNumberValue(); got != 2 {
		t.Fatalf("revoked = %v, want 2", got)
	}
	_, err = h.cl.Call(context.Background(), MethodRefresh, mustStruct(t, map[string]any{"refresh_token": str(lr, "refresh_token")}))
	wantCode(t, err, codes.Unauthenticated)
}

func TestServer_PasswordReset(t *testing.T) {
	t.Parallel()
	h := startBufGRPC(t, true)
	ctx := context.Background()

	out, err := h.cl.Call(ctx, MethodRequestPasswordReset, mustStruct(t, map[string]any{"email": "nobody@clinic.test"}))
	if err != nil || len(out.GetFields()) != 0 {
		t.Fatalf("unknown email must succeed silently: %v %v", out, err)
	}

	rq, err := h.cl.Call(ctx, MethodRequestPasswordReset, mustStruct(t, map[string]any{"email": testEmail}))
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	reset := map[string]any{
		"user_id":          str(rq, "user_id"),
		"reset_token":      str(rq, "reset_token"),
		"new_password":     "brand-new-pass",
		"confirm_password": "brand-new-pass-typo",
	}
	_, err = h.cl.Call(ctx, MethodResetPassword, mustStruct(t, reset))
	wantCode(t, err, codes.InvalidArgument)

	reset["confirm_password"] = "brand-new-pass"
	if _, err := h.cl.Call(ctx, MethodResetPassword, mustStruct(t, reset)); err != nil {
		t.Fatalf("reset: %v", err)
	}
	_, err = h.cl.Call(ctx, MethodResetPassword, mustStruct(t, reset))
	wantCode(t, err, codes.FailedPrecondition)

	if _, err := h.cl.Call(ctx, MethodLogin, mustStruct(t, map[string]any{"email": testEmail, "password": "brand-new-pass"})); err != nil {
		t.Fatalf("login with new password: %v", err)
	}

	reset["user_id"] = "not-a-uuid"
	_, err = h.cl.Call(ctx, MethodResetPassword, mustStruct(t, reset))
	wantCode(t, err, codes.InvalidArgument)
}

func TestServer_ResetTokenHiddenByDefault(t *testing.T) {
	t.Parallel()
	h := startBufGRPC(t, false)

	out, err := h.cl.Call(context.Background(), MethodRequestPasswordReset, mustStruct(t, map[string]any{"email": testEmail}))
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if len(out.GetFields()) != 0 {
		t.Fatalf("reset token leaked: %v", out)
	}
}

func Test_bearerTokenFromMD(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		md   metadata.MD
		want string
		ok   bool
	}{
		{"none", nil, "", false},
		{"basic", metadata.Pairs("authorization", "Basic abc"), "", false},
		{"empty bearer", metadata.Pairs("authorization", "Bearer   "), "", false},
		{"bearer", metadata.Pairs("authorization", "Bearer abc"), "abc", true},
		{"case", metadata.Pairs("authorization", "bEaReR  xyz "), "xyz", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			if tc.md != nil {
				ctx = metadata.NewIncomingContext(ctx, tc.md)
			}
			got, err := bearerTokenFromMD(ctx)
			if (err == nil) != tc.ok || got != tc.want {
				t.Fatalf("got %q, %v", got, err)
			}
		})
	}
}
