package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/karipay/toyyibpay-bridge/internal/config"
	"github.com/karipay/toyyibpay-bridge/internal/ghl"
	"github.com/karipay/toyyibpay-bridge/internal/integration"
	integrationdomain "github.com/karipay/toyyibpay-bridge/internal/integration/domain"
	"github.com/karipay/toyyibpay-bridge/internal/metrics"
	"github.com/karipay/toyyibpay-bridge/internal/toyyibpay"
	"github.com/karipay/toyyibpay-bridge/internal/transaction"
	transactiondomain "github.com/karipay/toyyibpay-bridge/internal/transaction/domain"
	"github.com/karipay/toyyibpay-bridge/internal/transaction/ingress"
)

var Module = fx.Module("http.server",
	metrics.Module,
	toyyibpay.Module,
	ghl.Module,
	integration.Module,
	transaction.Module,
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, registry *prometheus.Registry, log *zap.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.ListenAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	integrationSvc integrationdomain.Service
	transactionSvc transactiondomain.Service
	ingressSvc     *ingress.Service
	ghlClient      *ghl.Client
	gateway        *toyyibpay.Client
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	IntegrationSvc integrationdomain.Service
	TransactionSvc transactiondomain.Service
	IngressSvc     *ingress.Service
	GHLClient      *ghl.Client
	Gateway        *toyyibpay.Client
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		log:            p.Log.Named("server"),
		genID:          p.GenID,
		integrationSvc: p.IntegrationSvc,
		transactionSvc: p.TransactionSvc,
		ingressSvc:     p.IngressSvc,
		ghlClient:      p.GHLClient,
		gateway:        p.Gateway,
	}

	svc.registerOAuthRoutes()
	svc.registerGHLRoutes()
	svc.registerProviderRoutes()
	svc.registerPaymentRoutes()

	return svc
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		requestID := ensureRequestID(c)
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.String("request_id", requestID),
			zap.Duration("latency", time.Since(start)),
		}
		if status >= http.StatusInternalServerError {
			log.Error("request", fields...)
			return
		}
		log.Info("request", fields...)
	}
}

func ensureRequestID(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader("X-Request-Id"))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set("request_id", requestID)
	c.Header("X-Request-Id", requestID)
	return requestID
}
