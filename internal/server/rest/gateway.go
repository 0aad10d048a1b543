// Package rest is the HTTP/JSON gateway of the MedGate engine. It mirrors the
// gRPC surface under /v1 and serves /healthz and /metrics.
package rest

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/and161185/medgate/internal/auth"
	"github.com/and161185/medgate/internal/limiter"
	"github.com/and161185/medgate/internal/metrics"
	"github.com/and161185/medgate/internal/service"
)

// Gateway serves the REST API.
type Gateway struct {
	svc      service.Service
	verifier *auth.Verifier
	lim      limiter.Limiter
	log      *zap.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	ready    func() error
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(g *Gateway) { g.log = l } }

// WithLimiter enables rate limiting.
func WithLimiter(l limiter.Limiter) Option { return func(g *Gateway) { g.lim = l } }

// WithMetrics records request metrics and exposes gatherer on /metrics.
func WithMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) Option {
	return func(g *Gateway) { g.metrics, g.gatherer = m, gatherer }
}

// WithReadiness makes /healthz report 503 while check fails.
func WithReadiness(check func() error) Option { return func(g *Gateway) { g.ready = check } }

// New builds a gateway over svc.
func New(svc service.Service, v *auth.Verifier, opts ...Option) *Gateway {
	g := &Gateway{
		svc:      svc,
		verifier: v,
		lim:      limiter.New(0, 0),
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Handler returns the configured echo instance.
func (g *Gateway) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(g.log)

	e.Use(Recovery(g.log))
	e.Use(Logger(g.log, g.metrics))
	e.Use(echomw.BodyLimit("64K"))

	e.GET("/healthz", g.healthz)
	if g.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(g.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := e.Group("/v1", Authenticate(g.verifier), RateLimit(g.lim))

	// anonymous reads
	v1.GET("/patients/:patient/initialized", g.isInitialized)
	v1.GET("/patients/:patient/centers/:subject/authorized", g.isHealthCenterAuthorized)
	v1.GET("/patients/:patient/doctors/:subject/authorized", g.isDoctorAuthorized)
	v1.GET("/patients/:patient/sharing", g.getDataSharing)
	v1.GET("/records/public", g.listPublicRecords)

	// authenticated
	v1.POST("/patients", g.initialize, RequireCaller)
	v1.PUT("/allowlist/:center", g.setAllowlist, RequireCaller)
	v1.PUT("/consents/centers/:subject", g.setCenterConsent, RequireCaller)
	v1.PUT("/consents/doctors/:subject", g.setDoctorConsent, RequireCaller)
	v1.POST("/patients/:patient/record", g.addRecord, RequireCaller)
	v1.PUT("/patients/:patient/record", g.updateRecord, RequireCaller)
	v1.GET("/patients/:patient/record", g.getRecord, RequireCaller)
	v1.PUT("/sharing", g.setDataSharing, RequireCaller)
	v1.POST("/patients/:patient/reviews", g.addReview, RequireCaller)
	v1.GET("/patients/:patient/reviews", g.getReviews, RequireCaller)
	v1.GET("/events", g.listEvents, RequireCaller)

	return e
}

func (g *Gateway) healthz(c echo.Context) error {
	if g.ready != nil {
		if err := g.ready(); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
