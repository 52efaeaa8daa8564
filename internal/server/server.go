package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/onsol-labs/gpl/internal/authority"
	"github.com/onsol-labs/gpl/internal/health"
	"github.com/onsol-labs/gpl/internal/session"
	"github.com/onsol-labs/gpl/internal/syncer"
)

// Config holds the HTTP router configuration.
type Config struct {
	CORSOrigins  []string
	RateLimitRPS int
}

// NewRouter builds the service's Gin engine with all routes and middleware
// mounted. issuer may be nil to disable session tokens.
func NewRouter(
	cfg Config,
	store authority.Store,
	sync *syncer.Syncer,
	sessions *session.Manager,
	issuer *session.TokenIssuer,
	logger *zap.Logger,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(PrometheusMiddleware())

	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	if cfg.RateLimitRPS > 0 {
		r.Use(RateLimiter(cfg.RateLimitRPS, cfg.RateLimitRPS*2))
	}

	checker := health.NewChecker(store, sync, logger)
	r.GET("/healthz", func(c *gin.Context) {
		rep := checker.Check(c.Request.Context())
		status := http.StatusOK
		if rep.Status == health.StatusUnavailable {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, rep)
	})
	r.GET("/metrics", MetricsHandler())

	v1 := r.Group("/v1")
	NewTreeHandler(store, sync, logger).Register(v1)
	NewSessionHandler(sessions, issuer, logger).Register(v1)

	return r
}
