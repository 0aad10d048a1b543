package grpcserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	pb "github.com/and161185/medgate/api/medgate/v1"
	"github.com/and161185/medgate/internal/auth"
	"github.com/and161185/medgate/internal/metrics"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:12345" }

func TestLoggingUnary_Passthrough(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := LoggingUnary(log)

	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})
	ctx = WithIdentity(ctx, uuid.Must(uuid.NewV4()))

	h := func(ctx context.Context, req any) (any, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: "/mg.Service/Method"}

	resp, err := ic(ctx, "req", info, h)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s, _ := resp.(string); s != "ok" {
		t.Fatalf("resp mismatch: %v", resp)
	}

	wantErr := errors.New("boom")
	hErr := func(ctx context.Context, req any) (any, error) { return nil, wantErr }
	_, err = ic(ctx, "req", info, hErr)
	if !errors.Is(err, wantErr) {
		t.Fatalf("want original error, got: %v", err)
	}
}

func TestRecoverUnary_CatchesPanic(t *testing.T) {
	t.Parallel()

	ic := RecoverUnary(zaptest.NewLogger(t))
	info := &grpc.UnaryServerInfo{FullMethod: "/mg.Service/Panic"}

	panicH := func(ctx context.Context, req any) (any, error) {
		panic("oh no")
	}

	_, err := ic(context.Background(), "req", info, panicH)
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}
}

func TestRecoverUnary_NoPanicPassThrough(t *testing.T) {
	t.Parallel()

	ic := RecoverUnary(zaptest.NewLogger(t))
	info := &grpc.UnaryServerInfo{FullMethod: "/mg.Service/Ok"}
	h := func(ctx context.Context, req any) (any, error) { return 42, nil }

	resp, err := ic(context.Background(), "req", info, h)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if resp.(int) != 42 {
		t.Fatalf("resp mismatch: %v", resp)
	}
}

func TestMetricsUnary_CountsByMethodAndCode(t *testing.T) {
	t.Parallel()

	m := metrics.New(prometheus.NewRegistry())
	ic := MetricsUnary(m)
	info := &grpc.UnaryServerInfo{FullMethod: pb.FullMethod(pb.MethodGetRecord)}

	_, _ = ic(context.Background(), nil, info, func(context.Context, any) (any, error) { return nil, nil })
	_, _ = ic(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.PermissionDenied, "no")
	})

	if got := testutil.ToFloat64(m.Requests.WithLabelValues("grpc", "GetRecord", "OK")); got != 1 {
		t.Fatalf("ok count = %v", got)
	}
	if got := testutil.ToFloat64(m.Requests.WithLabelValues("grpc", "GetRecord", "PermissionDenied")); got != 1 {
		t.Fatalf("denied count = %v", got)
	}
}

func TestAuthUnary(t *testing.T) {
	t.Parallel()

	key := []byte("secret")
	ic := AuthUnary(auth.NewVerifier(key), PublicMethods)
	sub := uuid.Must(uuid.NewV4())

	var seen uuid.UUID
	var authed bool
	h := func(ctx context.Context, req any) (any, error) {
		seen, authed = IdentityFromCtx(ctx)
		return "ok", nil
	}
	private := &grpc.UnaryServerInfo{FullMethod: pb.FullMethod(pb.MethodGetRecord)}
	public := &grpc.UnaryServerInfo{FullMethod: pb.FullMethod(pb.MethodListPublicRecords)}

	// valid token
	tok := jwtFor(t, sub.String(), key, time.Minute)
	if _, err := ic(ctxAuth(tok), nil, private, h); err != nil || !authed || seen != sub {
		t.Fatalf("valid token: err=%v authed=%v seen=%s", err, authed, seen)
	}

	// no token on private method
	if _, err := ic(context.Background(), nil, private, h); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("want Unauthenticated, got %v", err)
	}

	// no token on public method
	authed = true
	if _, err := ic(context.Background(), nil, public, h); err != nil || authed {
		t.Fatalf("public anonymous: err=%v authed=%v", err, authed)
	}

	// bad token is rejected even on public methods
	if _, err := ic(ctxAuth("garbage"), nil, public, h); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("want Unauthenticated on bad token, got %v", err)
	}

	// wrong key
	other := jwtFor(t, sub.String(), []byte("other"), time.Minute)
	if _, err := ic(ctxAuth(other), nil, private, h); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("want Unauthenticated on wrong key, got %v", err)
	}
}

type denyAll struct{ keys []string }

func (d *denyAll) Allow(key string) (bool, time.Duration) {
	d.keys = append(d.keys, key)
	return false, 1500 * time.Millisecond
}

type allowAll struct{ keys []string }

func (a *allowAll) Allow(key string) (bool, time.Duration) {
	a.keys = append(a.keys, key)
	return true, 0
}

func TestRateLimitUnary(t *testing.T) {
	t.Parallel()

	info := &grpc.UnaryServerInfo{FullMethod: pb.FullMethod(pb.MethodListPublicRecords)}
	h := func(ctx context.Context, req any) (any, error) { return "ok", nil }

	d := &denyAll{}
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})
	if _, err := RateLimitUnary(d)(ctx, nil, info, h); status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("want ResourceExhausted, got %v", err)
	}
	if len(d.keys) != 1 || d.keys[0][:3] != "ip:" {
		t.Fatalf("anonymous callers are keyed by peer: %v", d.keys)
	}

	a := &allowAll{}
	id := uuid.Must(uuid.NewV4())
	if _, err := RateLimitUnary(a)(WithIdentity(ctx, id), nil, info, h); err != nil {
		t.Fatalf("allowed call failed: %v", err)
	}
	if len(a.keys) != 1 || a.keys[0] != "id:"+id.String() {
		t.Fatalf("authenticated callers are keyed by identity: %v", a.keys)
	}
}

func Test_bearerTokenFromMD(t *testing.T) {
	t.Parallel()

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer abc.def.ghi"))
	got, err := bearerTokenFromMD(ctx)
	if err != nil || got != "abc.def.ghi" {
		t.Fatalf("ok: got=%q err=%v", got, err)
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Basic foo"))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on non-bearer")
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer   "))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on empty token")
	}

	if _, err := bearerTokenFromMD(context.Background()); err == nil {
		t.Fatalf("want error on no metadata")
	}
}

func Test_remoteIPAndShortMethod(t *testing.T) {
	t.Parallel()

	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})
	if ip := remoteIP(ctx); ip != "127.0.0.1" {
		t.Fatalf("remoteIP = %q", ip)
	}
	if ip := remoteIP(context.Background()); ip != "" {
		t.Fatalf("remoteIP without peer = %q", ip)
	}
	if m := shortMethod("/medgate.v1.MedGate/AddRecord"); m != "AddRecord" {
		t.Fatalf("shortMethod = %q", m)
	}
}
