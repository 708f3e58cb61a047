package main

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"github.com/pusherbot/pusherbot/internal/config"
	"github.com/pusherbot/pusherbot/internal/service"
	"github.com/pusherbot/pusherbot/internal/store"
	"github.com/pusherbot/pusherbot/pkg/log"
	"github.com/pusherbot/pusherbot/pkg/migrations"
	"go.uber.org/zap"
)

// setup reads the configuration and installs the global logger. The returned
// function flushes and restores the previous logger.
func setup() (*config.Config, func(), error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	cfg, err := config.New()
	if err != nil {
		return nil, nil, fmt.Errorf("reading configuration: %w", err)
	}

	logger := log.InitLog(log.ParseLevel(cfg.Service.LogLevel), cfg.Service.LogEncoding)
	undo := zap.ReplaceGlobals(logger)

	return cfg, func() {
		_ = logger.Sync()
		undo()
	}, nil
}

// openStore connects to the database and brings the schema up to date.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	zap.S().Info("initializing data store")
	db, err := store.InitDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing data store: %w", err)
	}

	s := store.NewStore(db)

	if err := s.InitialMigration(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("running initial migration: %w", err)
	}

	if cfg.Service.MigrationFolder != "" {
		if err := migrations.MigrateStore(db, cfg); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	if err := s.Seed(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("seeding data store: %w", err)
	}

	return s, nil
}

func newSession(cfg *config.Config) (*discordgo.Session, error) {
	if cfg.Discord.Token == "" {
		return nil, fmt.Errorf("DISCORD_TOKEN is not set")
	}
	if cfg.Discord.GuildID == "" {
		return nil, fmt.Errorf("DISCORD_GUILD_ID is not set")
	}

	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
	return session, nil
}

func newPolicy(cfg *config.Config) *service.AuthorizationPolicy {
	return &service.AuthorizationPolicy{
		MemberRoleIDs: cfg.Discord.MemberRoleIDs,
		AdminRoleIDs:  cfg.Discord.AdminRoleIDs,
		WorkerRoleID:  cfg.Discord.WorkerRoleID,
		SuperAdminID:  cfg.Discord.SuperAdminID,
		Completion:    service.CompletionPolicy(cfg.Board.CompletionPolicy),
	}
}

func boardConfig(cfg *config.Config) service.BoardConfig {
	return service.BoardConfig{
		CancelTeardownDelay:   cfg.Board.CancelTeardownDelay,
		CompleteTeardownDelay: cfg.Board.CompleteTeardownDelay,
		ForceCloseDelay:       cfg.Board.ForceCloseDelay,
	}
}

// cliActor is who the maintenance commands act as: the super admin when one
// is configured, otherwise a holder of the admin roles.
func cliActor(cfg *config.Config) service.Actor {
	if cfg.Discord.SuperAdminID != "" {
		return service.NewActor(cfg.Discord.SuperAdminID, "cli")
	}
	return service.NewActor("cli", "cli", cfg.Discord.AdminRoleIDs...)
}
