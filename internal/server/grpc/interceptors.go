package grpcserver

import (
	"context"
	"net"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	pb "github.com/and161185/medgate/api/medgate/v1"
	"github.com/and161185/medgate/internal/auth"
	"github.com/and161185/medgate/internal/limiter"
	"github.com/and161185/medgate/internal/metrics"
)

// PublicMethods may be called without a bearer token.
var PublicMethods = map[string]bool{
	pb.FullMethod(pb.MethodIsInitialized):            true,
	pb.FullMethod(pb.MethodIsHealthCenterAuthorized): true,
	pb.FullMethod(pb.MethodIsDoctorAuthorized):       true,
	pb.FullMethod(pb.MethodListPublicRecords):        true,
	pb.FullMethod(pb.MethodGetDataSharing):           true,
}

// LoggingUnary returns a unary server interceptor for structured logging.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		// metadata only, never payloads
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", remoteAddr(ctx)),
		}
		if id, ok := IdentityFromCtx(ctx); ok {
			fields = append(fields, zap.Stringer("caller", id))
		}
		log.Info("grpc", fields...)
		return resp, err
	}
}

// RecoverUnary returns a unary server interceptor that recovers from panics.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", info.FullMethod),
				)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}

// MetricsUnary records request count and latency per method and code.
func MetricsUnary(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		m.ObserveRequest("grpc", shortMethod(info.FullMethod), status.Code(err).String(), time.Since(start))
		return resp, err
	}
}

// AuthUnary resolves the bearer token into the caller identity. A present but
// invalid token is always rejected; a missing one only on non-public methods.
func AuthUnary(v *auth.Verifier, public map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		tok, err := bearerTokenFromMD(ctx)
		if err != nil {
			if public[info.FullMethod] {
				return next(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "no auth")
		}
		id, err := v.Verify(tok)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return next(WithIdentity(ctx, id), req)
	}
}

// RateLimitUnary throttles callers by identity, or by peer address when anonymous.
// It must run after AuthUnary.
func RateLimitUnary(l limiter.Limiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		key := limiter.PeerKey(remoteIP(ctx))
		if id, ok := IdentityFromCtx(ctx); ok {
			key = limiter.IdentityKey(id)
		}
		if ok, retry := l.Allow(key); !ok {
			_ = grpc.SetHeader(ctx, metadata.Pairs("retry-after", strconv.FormatInt(limiter.RetrySeconds(retry), 10)))
			return nil, status.Error(codes.ResourceExhausted, "rate limited")
		}
		return next(ctx, req)
	}
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	for _, v := range md.Get("authorization") {
		if tok, err := auth.BearerToken(v); err == nil {
			return tok, nil
		}
	}
	return auth.BearerToken("")
}

func remoteAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

func remoteIP(ctx context.Context) string {
	addr := remoteAddr(ctx)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func shortMethod(full string) string {
	if i := strings.LastIndexByte(full, '/'); i >= 0 {
		return full[i+1:]
	}
	return full
}
