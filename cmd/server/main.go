package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/om-surushe/SMTP-Server/internal/auth"
	jwtpkg "github.com/om-surushe/SMTP-Server/internal/auth/jwt"
	"github.com/om-surushe/SMTP-Server/internal/config"
	"github.com/om-surushe/SMTP-Server/internal/health"
	"github.com/om-surushe/SMTP-Server/internal/logger"
	"github.com/om-surushe/SMTP-Server/internal/monitoring"
	"github.com/om-surushe/SMTP-Server/internal/pool"
	"github.com/om-surushe/SMTP-Server/internal/relay"
	"github.com/om-surushe/SMTP-Server/internal/service"
	"github.com/om-surushe/SMTP-Server/internal/smtp"
	"github.com/om-surushe/SMTP-Server/internal/status"
	httptransport "github.com/om-surushe/SMTP-Server/internal/transport/http"
)

// main 启动同时包含 SMTP 入站网关与 HTTP API 的服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting smtp gateway",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.String("smtp_addr", cfg.SMTP.ListenAddr()),
		zap.String("relay_addr", cfg.Relay.RelayAddr()),
		zap.String("relay_mode", string(cfg.Relay.Mode)),
	)

	// 初始化监控系统
	metrics := monitoring.NewMetrics()

	// 状态存储（内存，进程重启即清空）
	store := status.NewStore(cfg.SMTP.Hostname)

	// 上游投递
	forwarder := relay.NewForwarder(cfg.Relay, cfg.SMTP.Hostname, log)

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 异步投递协程池
	workerPool := pool.NewWorkerPool(4, 64, log)
	workerPool.Start(ctx)
	defer workerPool.Stop()

	mailer := service.NewMailerService(forwarder, store, workerPool, metrics, log, cfg.Relay.Timeout)

	// SMTP 网关
	var authenticator *auth.Authenticator
	if cfg.SMTP.EnableAuth {
		authenticator = auth.NewAuthenticator(cfg.SMTP.Username, cfg.SMTP.Password)
		log.Info("smtp authentication enabled",
			zap.String("username", cfg.SMTP.Username),
			zap.Bool("require_tls", cfg.SMTP.AuthRequireTLS),
		)
	}
	limiter := smtp.NewConnectionLimiter(cfg.SMTP.MaxConnections, cfg.SMTP.MaxConnRate)
	backend := smtp.NewBackend(mailer, authenticator, limiter, metrics, log)
	smtpServer, err := smtp.NewServer(cfg.SMTP, backend)
	if err != nil {
		log.Fatal("failed to build smtp server", zap.Error(err))
	}

	// JWT 管理器（密钥为空时 API 不鉴权）
	var jwtManager *jwtpkg.Manager
	if cfg.JWT.Secret != "" {
		jwtManager = jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiry)
	}

	// 健康检查
	healthChecker := health.NewChecker(cfg.Relay.RelayAddr())

	// HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:     cfg,
		Mailer:     mailer,
		JWTManager: jwtManager,
		Metrics:    metrics,
		Health:     healthChecker,
		Logger:     log,
	})
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// SMTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.ListenAddr()),
			zap.String("hostname", cfg.SMTP.Hostname),
			zap.String("tls_mode", string(cfg.SMTP.TLSMode)),
		)
		var err error
		if cfg.SMTP.TLSMode == config.TransportTLS {
			err = smtpServer.ListenAndServeTLS()
		} else {
			err = smtpServer.ListenAndServe()
		}
		if err != nil {
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := smtpServer.Close(); err != nil {
			log.Warn("SMTP server close warning", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
