package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/seoulchess/backend/internal/config"
	"github.com/seoulchess/backend/internal/handlers"
	"github.com/seoulchess/backend/internal/logger"
	"github.com/seoulchess/backend/internal/models"
	"github.com/seoulchess/backend/internal/services"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	configPath string
	v          = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "api",
	Short: "Seoul Chess Club community backend",
	Long: `Runs the community backend: SMS verification, member registration,
meeting signups, operator tools and the club chatbot.

Without a subcommand the HTTP server is started.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and the cleanup scheduler",
	RunE:  runServe,
}

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Chatbot knowledge base commands",
}

var knowledgeLoadCmd = &cobra.Command{
	Use:   "load [path]",
	Short: "Embed a knowledge base file and replace the stored chunks",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runKnowledgeLoad,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (toml, yaml or json)")
	rootCmd.PersistentFlags().String("env", "", "Environment (development, production)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level")
	rootCmd.PersistentFlags().String("port", "", "HTTP port")

	_ = v.BindPFlag("env", rootCmd.PersistentFlags().Lookup("env"))
	_ = v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))

	knowledgeCmd.AddCommand(knowledgeLoadCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(knowledgeCmd)
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, using environment variables")
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the wired services shared by the subcommands.
type app struct {
	cfg          *config.Config
	db           *gorm.DB
	verification *services.VerificationService
	auth         *services.AuthService
	users        *services.UserService
	meetings     *services.MeetingService
	operators    *services.OperatorService
	qr           *services.QRService
	chat         *services.ChatService
	knowledge    *services.KnowledgeService
	deps         handlers.Deps
	closers      []func() error
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return nil, err
	}

	if _, err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := models.InitDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := models.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	a := &app{cfg: cfg, db: db}
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	redisClient := models.InitRedis(cfg)
	a.closers = append(a.closers, redisClient.Close)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		zap.L().Warn("Redis not reachable, rate limits fall back to memory and logout blacklist is disabled", zap.Error(err))
	}

	var generator services.TextGenerator
	var embedder services.Embedder
	if cfg.GeminiAPIKey != "" {
		gemini, err := services.NewGeminiClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		generator, embedder = gemini, gemini
	} else {
		zap.L().Warn("GEMINI_API_KEY not set, chatbot endpoints will return 503")
	}

	a.verification = services.NewVerificationService(db, cfg, services.NewSMSService(cfg))
	a.auth = services.NewAuthService(db, redisClient, cfg)
	a.users = services.NewUserService(db, cfg)
	a.meetings = services.NewMeetingService(db)
	a.operators = services.NewOperatorService(db, cfg)
	a.qr = services.NewQRService(db, cfg)
	a.knowledge = services.NewKnowledgeService(db, embedder)
	if cfg.S3Enabled {
		store, err := services.NewS3Service(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.qr.WithArchive(store)
		a.knowledge.WithObjectReader(store)
	}
	a.chat = services.NewChatService(generator, a.knowledge)

	a.deps = handlers.Deps{
		Config:       cfg,
		DB:           db,
		Redis:        redisClient,
		Verification: a.verification,
		Auth:         a.auth,
		Users:        a.users,
		Meetings:     a.meetings,
		Operators:    a.operators,
		QR:           a.qr,
		Chat:         a.chat,
		Knowledge:    a.knowledge,
		Audit:        services.NewAuditService(db),
		Apple:        services.NewAppleVerifier(cfg),
		Kakao:        services.NewKakaoClient(cfg),
	}
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			zap.L().Warn("Close failed", zap.Error(err))
		}
	}
	_ = zap.L().Sync()
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	cfg := a.cfg

	if err := a.operators.EnsureDefault(ctx); err != nil {
		return fmt.Errorf("failed to seed operator: %w", err)
	}

	if cfg.KnowledgeLoadOnBoot && a.chat.Available() {
		if count, err := a.knowledge.Count(ctx); err == nil && count == 0 {
			if n, err := a.knowledge.LoadFile(ctx, cfg.KnowledgeBasePath); err != nil {
				zap.L().Warn("Knowledge base not loaded", zap.String("path", cfg.KnowledgeBasePath), zap.Error(err))
			} else {
				zap.L().Info("Knowledge base loaded on boot", zap.Int("chunks", n))
			}
		}
	}

	cleanup, err := services.NewCleanupService(cfg.CleanupSchedule, a.verification, a.auth)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handlers.NewRouter(a.deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zap.L().Info("Starting server", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return cleanup.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		zap.L().Error("Server stopped with error", zap.Error(err))
		return err
	}
	zap.L().Info("Server exited")
	return nil
}

func runKnowledgeLoad(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	path := a.cfg.KnowledgeBasePath
	if len(args) == 1 {
		path = args[0]
	}

	n, err := a.knowledge.LoadFile(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to load knowledge base %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d sections from %s\n", n, path)
	return nil
}
