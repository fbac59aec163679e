package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	jwtpkg "github.com/om-surushe/SMTP-Server/internal/auth/jwt"
	"github.com/om-surushe/SMTP-Server/internal/config"
	"github.com/om-surushe/SMTP-Server/internal/health"
	"github.com/om-surushe/SMTP-Server/internal/middleware"
	"github.com/om-surushe/SMTP-Server/internal/monitoring"
	"github.com/om-surushe/SMTP-Server/internal/service"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config     *config.Config
	Mailer     *service.MailerService
	JWTManager *jwtpkg.Manager // nil 表示关闭接口认证
	Metrics    *monitoring.Metrics
	Health     *health.Checker
	Logger     *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)
	router.Use(monitor.PanicRecovery())
	router.Use(monitor.HTTPMetrics())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(deps.Config.SMTP.MaxMessageSize))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 允许所有来源时需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	emailHandler := NewEmailHandler(deps.Mailer)

	// Swagger 文档
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		Success(c, deps.Health.Summary())
	})
	router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
	router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))

	// Prometheus 指标
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	// API
	api := router.Group("/api")
	if deps.JWTManager != nil {
		jwtAuth := middleware.NewJWTAuth(deps.JWTManager, deps.Logger)
		api.Use(jwtAuth.RequireAuth())
	}
	{
		api.POST("/emails", emailHandler.SubmitEmail)
		api.GET("/emails/:id", emailHandler.GetEmailStatus)
		api.GET("/status", emailHandler.GetGatewayStatus)
	}

	return router
}
