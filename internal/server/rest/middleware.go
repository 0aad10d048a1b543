package rest

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/and161185/medgate/internal/auth"
	"github.com/and161185/medgate/internal/errs"
	"github.com/and161185/medgate/internal/limiter"
	"github.com/and161185/medgate/internal/metrics"
	"github.com/and161185/medgate/internal/model"
)

const callerKey = "mg.caller"

// Recovery turns panics into 500s.
func Recovery(log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic",
						zap.Any("reason", r),
						zap.ByteString("stack", debug.Stack()),
						zap.String("path", c.Path()),
					)
					err = echo.NewHTTPError(http.StatusInternalServerError, "internal")
				}
			}()
			return next(c)
		}
	}
}

// Logger logs request metadata and records metrics. Errors are rendered here
// so the logged status is the one the client sees.
func Logger(log *zap.Logger, m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			dur := time.Since(start)
			st := c.Response().Status

			fields := []zap.Field{
				zap.String("method", c.Request().Method),
				zap.String("route", c.Path()),
				zap.Int("status", st),
				zap.Duration("dur", dur),
				zap.String("peer", c.RealIP()),
			}
			if id, ok := Caller(c); ok {
				fields = append(fields, zap.Stringer("caller", id))
			}
			log.Info("http", fields...)
			m.ObserveRequest("http", c.Request().Method+" "+c.Path(), strconv.Itoa(st), dur)
			return nil
		}
	}
}

// Authenticate resolves an optional bearer token. A present but invalid token
// is rejected; a missing one leaves the request anonymous.
func Authenticate(v *auth.Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header.Get(echo.HeaderAuthorization)
			if h == "" {
				return next(c)
			}
			tok, err := auth.BearerToken(h)
			if err != nil {
				return err
			}
			id, err := v.Verify(tok)
			if err != nil {
				return err
			}
			c.Set(callerKey, id)
			return next(c)
		}
	}
}

// RequireCaller rejects anonymous requests.
func RequireCaller(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := Caller(c); !ok {
			return errs.ErrUnauthenticated
		}
		return next(c)
	}
}

// RateLimit throttles by caller identity, or by client address when anonymous.
func RateLimit(l limiter.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := limiter.PeerKey(c.RealIP())
			if id, ok := Caller(c); ok {
				key = limiter.IdentityKey(id)
			}
			if ok, retry := l.Allow(key); !ok {
				c.Response().Header().Set("Retry-After", strconv.FormatInt(limiter.RetrySeconds(retry), 10))
				return errs.ErrRateLimited
			}
			return next(c)
		}
	}
}

// Caller returns the authenticated identity of the request.
func Caller(c echo.Context) (model.Identity, bool) {
	id, ok := c.Get(callerKey).(model.Identity)
	return id, ok && id != model.NilIdentity
}
