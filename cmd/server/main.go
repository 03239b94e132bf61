package main

import (
	// Standard library
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	// External dependencies
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	// Internal packages
	"github.com/scholarbase/meetsvc/cmd/server/internal/api"
	"github.com/scholarbase/meetsvc/cmd/server/internal/audit"
	"github.com/scholarbase/meetsvc/cmd/server/internal/chat"
	"github.com/scholarbase/meetsvc/cmd/server/internal/config"
	"github.com/scholarbase/meetsvc/cmd/server/internal/domain/meetings"
	"github.com/scholarbase/meetsvc/cmd/server/internal/idp"
	"github.com/scholarbase/meetsvc/cmd/server/internal/middleware"
	"github.com/scholarbase/meetsvc/cmd/server/internal/orchestrator"
	"github.com/scholarbase/meetsvc/cmd/server/internal/store"
	"github.com/scholarbase/meetsvc/cmd/server/internal/users"
	"github.com/scholarbase/meetsvc/pkg/logger"
	"github.com/scholarbase/meetsvc/pkg/transport"
)

// generateRandomPassword generates a cryptographically secure random password
func generateRandomPassword(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		panic(fmt.Sprintf("failed to generate random password: %v", err))
	}
	return base64.URLEncoding.EncodeToString(bytes)[:length]
}

func main() {
	logInstance, err := logger.Init(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: os.Getenv("ENV"),
		WithSource:  !strings.EqualFold(os.Getenv("ENV"), "production"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	appLogger := logInstance.With("component", "meet-server")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		appLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := config.ValidateConfig(cfg); err != nil {
		appLogger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	appLogger.Info("configuration loaded", "env", cfg.Server.Env, "port", cfg.Server.Port, "store", cfg.Data.Driver)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	// Initialize persistence
	var meetingStore meetings.Store
	switch cfg.Data.Driver {
	case "postgres":
		meetingStore, err = store.OpenPostgres(ctx, cfg.Data.PostgresDSN)
	default:
		meetingStore, err = store.NewFileStore(cfg.Data.Dir)
	}
	if err != nil {
		appLogger.Error("store init failed", "driver", cfg.Data.Driver, "error", err)
		os.Exit(1)
	}
	defer meetingStore.Close()

	// Initialize user manager
	userManager, err := users.NewManager(cfg.Data.Dir, []byte(cfg.Security.JWTSecret))
	if err != nil {
		appLogger.Error("user manager init failed", "error", err)
		os.Exit(1)
	}

	// Ensure default admin with config-based password
	adminPassword := cfg.Security.AdminDefaultPassword
	if adminPassword == "" {
		if cfg.IsDevelopment() {
			adminPassword = generateRandomPassword(16)
			appLogger.Warn("generated random admin password", "password", adminPassword)
		} else {
			appLogger.Error("admin default password not set in production/staging")
			os.Exit(1)
		}
	}
	if err := userManager.EnsureDefaultAdmin(adminPassword); err != nil {
		appLogger.Warn("failed to ensure default admin", "error", err)
	}

	// Load the meeting registry from the store
	reg := meetings.NewRegistry()
	loaded, err := meetingStore.LoadMeetings(ctx)
	if err != nil {
		appLogger.Error("failed to load meetings", "error", err)
		os.Exit(1)
	}
	for _, m := range loaded {
		reg.Set(m)
	}
	appLogger.Info("loaded meeting registry", "meetings", len(loaded))

	// Initialize audit logger
	auditLogger := audit.NewFileAuditLogger(cfg.Data.AuditLogPath)
	appLogger.Info("audit logger ready", "path", cfg.Data.AuditLogPath)

	// Scheduler, transport and session orchestrator
	sched := meetings.NewScheduler(reg, meetingStore, nil, logInstance.With("component", "scheduler"))
	sched.SetAuditor(auditLogger)
	provider := transport.NewLoopback(cfg.Transport.MaxConcurrentConnects, logInstance.With("component", "transport"))

	orch, err := orchestrator.New(orchestrator.Config{
		TokenSecret:         cfg.Security.RoomTokenSecret,
		JoinTokenTTL:        cfg.Session.JoinTokenTTL,
		WaitingTimeout:      cfg.Session.WaitingTimeout,
		EmptyMeetingTimeout: cfg.Session.EmptyMeetingTimeout,
		CoHostMayEnd:        cfg.Session.CoHostMayEnd,
	}, reg, meetingStore, provider, auditLogger, logInstance.With("component", "orchestrator"))
	if err != nil {
		appLogger.Error("orchestrator init failed", "error", err)
		os.Exit(1)
	}

	chatSvc := chat.NewService(meetingStore, orch, logInstance.With("component", "chat"))
	orch.SetOnMeetingEnded(chatSvc.CloseRoom)

	go orch.RunJanitor(ctx, cfg.Session.JanitorInterval)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())

	// Unauthenticated surface: health, metrics, login
	startTime := time.Now()
	r.GET("/health", api.HandleHealth(cfg, reg, startTime))
	r.GET("/readiness", api.HandleReadiness(meetingStore))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/api/v1/auth/login", api.HandleLogin(userManager))

	// Optional SSO login path
	if cfg.OIDCEnabled() {
		oidcAuth, err := idp.NewAuthenticator(ctx, idp.Options{
			IssuerURL:    cfg.OIDC.IssuerURL,
			ClientID:     cfg.OIDC.ClientID,
			ClientSecret: cfg.OIDC.ClientSecret,
			RedirectURL:  cfg.OIDC.RedirectURL,
		})
		if err != nil {
			appLogger.Error("oidc init failed", "issuer", cfg.OIDC.IssuerURL, "error", err)
			os.Exit(1)
		}
		r.GET("/api/v1/auth/oidc/url", api.HandleOIDCAuthURL(oidcAuth))
		r.POST("/api/v1/auth/oidc", api.HandleOIDCLogin(oidcAuth, userManager))
		appLogger.Info("oidc login enabled", "issuer", cfg.OIDC.IssuerURL)
	}

	// Authenticated API
	authed := r.Group("/", middleware.RequireAuth(userManager))
	{
		authed.POST("/api/v1/auth/password", api.HandleChangePassword(userManager))

		// User management
		authed.GET("/api/v1/users", api.HandleListUsers(userManager))
		authed.POST("/api/v1/users", middleware.RequireScope(users.ScopeUserManage), api.HandleCreateUser(userManager))
		authed.GET("/api/v1/users/:username", api.HandleGetUser(userManager))
		authed.PUT("/api/v1/users/:username", middleware.RequireScope(users.ScopeUserManage), api.HandleUpdateUser(userManager))
		authed.DELETE("/api/v1/users/:username", middleware.RequireScope(users.ScopeUserManage), api.HandleDeleteUser(userManager))

		// Meeting scheduling
		authed.POST("/api/v1/meetings", middleware.RequireScope(users.ScopeMeetingWrite), api.HandleCreateMeeting(sched))
		authed.GET("/api/v1/meetings", api.HandleListMeetings(reg))
		authed.GET("/api/v1/meetings/:id", api.HandleGetMeeting(reg))
		authed.PUT("/api/v1/meetings/:id", middleware.RequireScope(users.ScopeMeetingWrite), api.HandleRescheduleMeeting(sched))
		authed.DELETE("/api/v1/meetings/:id", middleware.RequireScope(users.ScopeMeetingWrite), api.HandleCancelMeeting(sched))

		// Live session control
		authed.POST("/api/v1/meetings/:id/join", api.HandleJoinMeeting(orch))
		authed.POST("/api/v1/meetings/:id/leave", api.HandleLeaveMeeting(orch))
		authed.POST("/api/v1/meetings/:id/end", api.HandleEndMeeting(orch))
		authed.GET("/api/v1/meetings/:id/participants", api.HandleGetRoster(orch))
		authed.POST("/api/v1/meetings/:id/participants/:user_id/admit", api.HandleAdmitParticipant(orch))
		authed.POST("/api/v1/meetings/:id/participants/:user_id/deny", api.HandleDenyParticipant(orch))
		authed.POST("/api/v1/meetings/:id/participants/:user_id/kick", api.HandleKickParticipant(orch))
		authed.PUT("/api/v1/meetings/:id/media", api.HandleUpdateMedia(orch))

		// Chat
		authed.POST("/api/v1/meetings/:id/chat", api.HandleSendChat(chatSvc))
		authed.GET("/ws/meetings/:id/chat", api.HandleChatSocket(chatSvc, reg))
		authed.GET("/ws/meetings/:id/events", api.HandleEventSocket(orch))
	}

	// Create HTTP server with graceful shutdown
	srv := &http.Server{
		Addr:    cfg.GetServerAddr(),
		Handler: r,
	}

	go func() {
		appLogger.Info("server starting", "addr", srv.Addr, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutdown signal received, shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	appLogger.Info("server shutdown complete")
}
