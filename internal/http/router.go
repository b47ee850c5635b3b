package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/getourhome/agentservice/internal/auth"
	"github.com/getourhome/agentservice/internal/config"
	"github.com/getourhome/agentservice/internal/domain/agent"
	"github.com/getourhome/agentservice/internal/http/handlers"
	"github.com/getourhome/agentservice/internal/http/middlewares"
	"github.com/getourhome/agentservice/internal/notifications"
	"github.com/getourhome/agentservice/internal/observability"
	"github.com/getourhome/agentservice/internal/repo/postgres"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func NewRouter(log *slog.Logger, pool *pgxpool.Pool, notifier notifications.Notifier, cfg config.Config) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// metrics registry
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	prom := observability.NewProm(reg)

	// middleware
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(log))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware([]string{"https://getourhome.com"}))
	r.Use(middlewares.RequireJSON())
	r.Use(prom.GinHandleMiddleware())

	if cfg.OTLPEndpoint != "" {
		r.Use(otelgin.Middleware("agentservice"))
	}

	// health
	ping := func() error {
		if pool == nil {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		return pool.Ping(ctx)
	}

	h := handlers.NewHealthHandler(ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// wire up repositories and services
	agentsRepo := postgres.NewAgentsRepo(pool, prom)
	jwtManager := auth.NewManager(cfg.JWTSecret)

	if notifier == nil {
		notifier = notifications.NewLogNotifier(log)
	}

	notifier = notifications.NewInstrumentedNotifier(notifier, prom.NotifyResults)

	authHandler := handlers.NewAuthHandler(agentsRepo, agentsRepo, jwtManager, notifier, log)
	managementHandler := handlers.NewManagementHandler(agentsRepo)

	authMW := middlewares.NewAuthMiddleware(jwtManager)

	r.POST("/register", authHandler.Register)
	r.POST("/login", authHandler.Login)

	me := r.Group("/agents/me", authMW.RequireAuth())
	me.PATCH("/agency-name", authHandler.UpdateAgencyName)

	admin := r.Group("/admin/registrations", authMW.RequireAuth(), authMW.RequireRole(agent.RoleAdmin))
	admin.GET("", managementHandler.List)
	admin.PATCH("/:agentId/accept", managementHandler.Accept)
	admin.PATCH("/:agentId/reject", managementHandler.Reject)

	return r
}
