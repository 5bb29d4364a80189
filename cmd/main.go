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

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"invite-giveaway-system/internal/config"
	"invite-giveaway-system/internal/handler"
	"invite-giveaway-system/internal/models"
	"invite-giveaway-system/internal/platform"
	"invite-giveaway-system/internal/repository"
	"invite-giveaway-system/internal/scheduler"
	"invite-giveaway-system/internal/service"
	"invite-giveaway-system/pkg/logger"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}

	db, err := initDatabase(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database:", err)
	}
	defer closeDatabase(db)

	inviteCodeRepo := repository.NewInviteCodeRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	relationRepo := repository.NewRelationshipRepository(db)
	giveawayRepo := repository.NewGiveawayRepository(db)
	entryRepo := repository.NewEntryRepository(db)

	rest := platform.NewRestClient(&cfg.Platform)

	attributionSvc := service.NewAttributionService(inviteCodeRepo, ledgerRepo, relationRepo, rest, &cfg.Invites)
	ledgerSvc := service.NewLedgerService(ledgerRepo)
	giveawaySvc := service.NewGiveawayService(giveawayRepo, entryRepo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动时为每个启用的 guild 预热邀请码快照，失败不致命
	for _, guildCfg := range cfg.GetEnabledGuilds() {
		if err := attributionSvc.RefreshGuildInvites(ctx, guildCfg.ID); err != nil {
			logger.Error("Failed to warm invite snapshot:", guildCfg.ID, err)
		}
	}

	gateway := platform.NewGateway(&cfg.Platform)
	defer gateway.Stop()
	go gateway.Start(ctx)
	go runEventLoop(ctx, cfg, gateway, attributionSvc, giveawaySvc, rest)

	sweeper := scheduler.NewGiveawaySweeper(giveawaySvc, rest, cfg.Giveaways.Cron())
	if err := sweeper.Start(); err != nil {
		logger.Fatal("Failed to start scheduler:", err)
	}
	defer sweeper.Stop()

	router := setupHTTPRouter(ledgerSvc, attributionSvc, giveawaySvc, sweeper, rest)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("Server starting on port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error:", err)
	}

	logger.Info("Server stopped")
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	err = db.AutoMigrate(
		&models.InviteCode{},
		&models.UserInvites{},
		&models.InviteRelationship{},
		&models.Giveaway{},
		&models.GiveawayEntry{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}

func closeDatabase(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logger.Error("Failed to get database instance:", err)
		return
	}
	sqlDB.Close()
}

// runEventLoop 消费网关事件并分发给各引擎
// 单条事件的失败只记日志，循环本身永不退出
func runEventLoop(
	ctx context.Context,
	cfg *config.Config,
	gateway *platform.Gateway,
	attributionSvc *service.AttributionService,
	giveawaySvc *service.GiveawayService,
	messenger platform.Messenger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-gateway.Events():
			switch e := event.(type) {
			case *platform.MemberJoinEvent:
				handleMemberJoin(ctx, cfg, attributionSvc, messenger, e)
			case *platform.MemberLeaveEvent:
				if err := attributionSvc.HandleMemberLeave(ctx, e.GuildID, e.UserID); err != nil {
					logger.Error("Failed to handle member leave:", err)
				}
			case *platform.EntryInteraction:
				handleEntryInteraction(ctx, giveawaySvc, e)
			case *platform.InviteChangeEvent:
				if err := attributionSvc.RefreshGuildInvites(ctx, e.GuildID); err != nil {
					logger.Error("Failed to refresh invite snapshot:", err)
				}
			}
		}
	}
}

func handleMemberJoin(
	ctx context.Context,
	cfg *config.Config,
	attributionSvc *service.AttributionService,
	messenger platform.Messenger,
	e *platform.MemberJoinEvent,
) {
	result, err := attributionSvc.HandleMemberJoin(ctx, e)
	if err != nil {
		logger.Error("Failed to handle member join:", err)
		return
	}
	if result.Duplicate {
		return
	}

	guildCfg, err := cfg.GetGuildConfig(e.GuildID)
	if err != nil || !guildCfg.Enabled || guildCfg.WelcomeChannelID == 0 {
		return
	}

	inviterText := "Unknown"
	if result.Attributed {
		inviterText = fmt.Sprintf("<@%d>", result.InviterID)
	}
	content := fmt.Sprintf("👋 Welcome to **%s**, <@%d>!\nInvited by: %s", guildCfg.Name, e.UserID, inviterText)
	if result.Fake {
		content += "\n⚠️ Account is new, counted as a fake invite."
	}
	if result.PreviouslyInvited {
		content += "\nThis member was invited by the same person before."
	}

	if _, err := messenger.CreateMessage(ctx, guildCfg.WelcomeChannelID, content); err != nil {
		logger.Error("Failed to send welcome message:", err)
	}
}

func handleEntryInteraction(ctx context.Context, giveawaySvc *service.GiveawayService, e *platform.EntryInteraction) {
	giveaway, err := giveawaySvc.GetByMessage(ctx, e.MessageID)
	if err != nil {
		logger.Error("Failed to look up giveaway:", err)
		return
	}
	if giveaway == nil {
		return
	}

	result, err := giveawaySvc.ToggleEntry(ctx, giveaway.ID, e.UserID)
	if errors.Is(err, service.ErrGiveawayEnded) {
		logger.Debug("Entry toggle rejected, giveaway ended:", giveaway.ID)
		return
	}
	if err != nil {
		logger.Error("Failed to toggle entry:", err)
		return
	}

	logger.WithFields(map[string]interface{}{
		"giveaway_id": giveaway.ID,
		"user_id":     e.UserID,
		"result":      string(result),
	}).Info("报名状态已切换")
}

func setupHTTPRouter(
	ledgerSvc *service.LedgerService,
	attributionSvc *service.AttributionService,
	giveawaySvc *service.GiveawayService,
	sweeper *scheduler.GiveawaySweeper,
	rest *platform.RestClient,
) http.Handler {
	router := http.NewServeMux()

	inviteHandler := handler.NewInviteHandler(ledgerSvc, attributionSvc, rest)
	giveawayHandler := handler.NewGiveawayHandler(giveawaySvc, sweeper, rest)

	router.HandleFunc("/api/invites/", inviteHandler.GetInvites)
	router.HandleFunc("/api/invites/codes", inviteHandler.ListCodes)
	router.HandleFunc("/api/invites/leaderboard", inviteHandler.Leaderboard)
	router.HandleFunc("/api/invites/claims", inviteHandler.UpdateClaims)
	router.HandleFunc("/api/invites/bonus", inviteHandler.AddBonus)
	router.HandleFunc("/api/invites/sync", inviteHandler.SyncInvites)
	router.HandleFunc("/api/giveaways", giveawayHandler.CreateGiveaway)
	router.HandleFunc("/api/giveaways/active", giveawayHandler.ActiveGiveaways)
	router.HandleFunc("/api/giveaways/", giveawayHandler.GiveawayAction)
	router.HandleFunc("/health", handler.HandleHealth)

	return router
}
