package handlers

import (
	"context"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/seoulchess/backend/internal/config"
	"github.com/seoulchess/backend/internal/metrics"
	"github.com/seoulchess/backend/internal/middleware"
	"github.com/seoulchess/backend/internal/services"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

// Deps is everything the HTTP layer needs. Redis may be nil.
type Deps struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.Client

	Verification *services.VerificationService
	Auth         *services.AuthService
	Users        *services.UserService
	Meetings     *services.MeetingService
	Operators    *services.OperatorService
	QR           *services.QRService
	Chat         *services.ChatService
	Knowledge    *services.KnowledgeService
	Audit        *services.AuditService
	Apple        AppleTokenVerifier
	Kakao        KakaoTokenVerifier
}

// NewRouter builds the gin engine with every API route registered.
func NewRouter(d Deps) *gin.Engine {
	cfg := d.Config
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		ginzap.GinzapWithConfig(zap.L(), &ginzap.Config{
			TimeFormat: "15:04:05.000",
			UTC:        true,
			Skipper: func(c *gin.Context) bool {
				return c.Request.Method == http.MethodHead || c.FullPath() == "/health"
			},
			Context: func(c *gin.Context) []zapcore.Field {
				fields := []zapcore.Field{}
				if v := c.GetString("requestID"); v != "" {
					fields = append(fields, zap.String("request_id", v))
				}
				if v := middleware.UserID(c); v != 0 {
					fields = append(fields, zap.Uint("user_id", v))
				}
				return fields
			},
		}),
		metrics.Middleware(),
		middleware.CORS(cfg),
	)

	verificationHandler := NewVerificationHandler(d.Verification, d.Auth)
	authHandler := NewAuthHandler(d.Auth, d.Apple, d.Kakao)
	userHandler := NewUserHandler(d.Users, d.Meetings, d.QR)
	meetingHandler := NewMeetingHandler(d.Meetings)
	operatorHandler := NewOperatorHandler(d.Operators, d.Meetings, d.Users, d.QR, d.Knowledge, d.Audit, cfg.KnowledgeBasePath)
	chatHandler := NewChatHandler(d.Chat)

	router.GET("/health", healthCheck(d.DB))
	router.GET("/metrics", metrics.Handler())

	api := router.Group("/api/v1")
	api.Use(middleware.RateLimiter(d.Redis, cfg))
	{
		sms := api.Group("/sms")
		{
			sms.POST("/request", middleware.DailyQuota(d.Redis, "sms", cfg.SMSDailyLimit, nil), verificationHandler.RequestCode)
			sms.POST("/verify", verificationHandler.VerifyCode)
		}

		api.POST("/register", userHandler.Register)
		api.GET("/users/by-phone", userHandler.GetByPhone)

		auth := api.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.Refresh)
			auth.POST("/logout", middleware.Auth(d.Auth), authHandler.Logout)
			auth.POST("/apple", authHandler.AppleLogin)
			auth.POST("/kakao", authHandler.KakaoLogin)
		}

		user := api.Group("/user")
		user.Use(middleware.TokenFromQuery(), middleware.Auth(d.Auth))
		{
			user.GET("/me", userHandler.GetMe)
			user.GET("/profile", userHandler.GetMe)
			user.PUT("/profile", userHandler.UpdateProfile)
			user.GET("/meetings", userHandler.GetMyMeetings)
			user.GET("/meetings/:id/qr.png", userHandler.GetRegistrationQR)
		}

		meetings := api.Group("/meetings")
		meetings.Use(middleware.OptionalAuth(d.Auth))
		{
			meetings.GET("", meetingHandler.ListMeetings)
			meetings.GET("/:id", meetingHandler.GetMeeting)
			meetings.POST("/register", meetingHandler.Register)
			meetings.POST("/register_interest", meetingHandler.RegisterInterest)
			meetings.POST("/cancel", middleware.Auth(d.Auth), meetingHandler.Cancel)
		}

		api.POST("/chat", chatHandler.Chat)
		api.POST("/parse_cs", chatHandler.ParseCS)

		api.POST("/operator/login",
			middleware.LoginGuard(d.Redis, "operator", cfg.LoginMaxFailures, cfg.LoginFailureWindow, cfg.LoginBlockDuration),
			operatorHandler.Login,
		)

		operator := api.Group("/operator")
		operator.Use(middleware.TokenFromQuery(), middleware.OperatorOnly(d.Operators))
		{
			operator.POST("/meetings", operatorHandler.CreateMeeting)
			operator.GET("/users", operatorHandler.ListUsers)
			operator.GET("/meetings/:id/roster", operatorHandler.GetRoster)
			operator.GET("/meetings/:id/roster.pdf", operatorHandler.GetRosterPDF)
			operator.POST("/meetings/:id/roster/archive", operatorHandler.ArchiveRoster)
			operator.POST("/checkin", operatorHandler.CheckIn)
			operator.POST("/knowledge/reload", operatorHandler.ReloadKnowledge)
			operator.GET("/audit", operatorHandler.GetAuditLogs)
			operator.GET("/audit/stats", operatorHandler.GetAuditStats)
		}
	}

	return router
}

func healthCheck(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			zap.L().Error("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": "unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": "ok"})
	}
}
