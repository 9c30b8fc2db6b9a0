package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/taskhubio/taskhub/internal/auth"
	"github.com/taskhubio/taskhub/internal/cache"
	"github.com/taskhubio/taskhub/internal/config"
	"github.com/taskhubio/taskhub/internal/http/handlers"
	"github.com/taskhubio/taskhub/internal/http/middlewares"
	"github.com/taskhubio/taskhub/internal/observability"
	"github.com/taskhubio/taskhub/internal/queue/redisclient"
	"github.com/taskhubio/taskhub/internal/repo/postgres"
)

const maxBodyBytes = 1 << 20 // 1 MiB

type RouterDeps struct {
	Cfg   config.Config
	Log   *slog.Logger
	Pool  *pgxpool.Pool
	Redis *redisclient.Client
	Prom  *observability.Prom
	Reg   *prometheus.Registry
}

func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// middleware, outermost first
	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(deps.Log))
	r.Use(otelgin.Middleware("taskhub-api"))
	if deps.Prom != nil {
		r.Use(deps.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(deps.Cfg.CORSAllowedOrigins))
	r.Use(middlewares.RequireJSON())
	r.Use(middlewares.MaxBodyBytes(maxBodyBytes))

	// health + metrics
	dbPing := func(ctx context.Context) error {
		if deps.Pool == nil {
			return nil
		}
		return deps.Pool.Ping(ctx)
	}

	var redisPing handlers.PingFunc
	if deps.Redis != nil {
		redisPing = deps.Redis.Ping
	}

	health := handlers.NewHealthHandler(dbPing, redisPing)
	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)

	if deps.Reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Reg, promhttp.HandlerOpts{})))
	}

	// wire up repositories
	usersRepo := postgres.NewUsersRepo(deps.Pool, deps.Prom)
	tasksRepo := postgres.NewTasksRepo(deps.Pool, deps.Prom)
	jobsRepo := postgres.NewJobsRepo(deps.Pool, deps.Prom)

	jwtManager := auth.NewManager(deps.Cfg.JWTSecret)
	authenticator := auth.NewAuthenticator(usersRepo)
	listCache := cache.New(5 * time.Second)

	authHandler := handlers.NewAuthHandler(usersRepo, authenticator, jobsRepo, jwtManager, deps.Cfg)
	tasksHandler := handlers.NewTasksHandler(tasksRepo, jobsRepo, listCache)

	requireAuth := middlewares.NewAuthMiddleware(jwtManager, usersRepo).RequireAuth()

	// brute-force protection on the unauthenticated auth endpoints; redis
	// keeps the window shared across replicas when configured
	var authLimit gin.HandlerFunc
	if deps.Redis != nil {
		authLimit = middlewares.NewRedisRateLimiter(deps.Redis.Raw(), deps.Cfg.AuthRateLimit, deps.Cfg.AuthRateWindow).Middleware(middlewares.KeyByIP)
	} else {
		authLimit = middlewares.NewRateLimiter(deps.Cfg.AuthRateLimit, deps.Cfg.AuthRateWindow).Middleware(middlewares.KeyByIP)
	}

	authGroup := r.Group("/auth")
	authGroup.Use(authLimit)
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)

	r.GET("/me", requireAuth, authHandler.Me)

	tasks := r.Group("/tasks")
	tasks.Use(requireAuth)
	tasks.POST("", tasksHandler.Create)
	tasks.GET("", tasksHandler.List)
	tasks.GET("/:id", tasksHandler.Get)
	tasks.PUT("/:id", tasksHandler.Update)
	tasks.DELETE("/:id", tasksHandler.Delete)
	tasks.POST("/digest", tasksHandler.Digest)

	return r
}
