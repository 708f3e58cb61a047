package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	apiserver "github.com/pusherbot/pusherbot/internal/api_server"
	"github.com/pusherbot/pusherbot/internal/events"
	"github.com/pusherbot/pusherbot/internal/gateway/discord"
	"github.com/pusherbot/pusherbot/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to discord and serve the job board",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, done, err := setup()
		if err != nil {
			return err
		}
		defer done()

		zap.S().Infow("starting pusherbot", "config", cfg.String())
		defer zap.S().Info("pusherbot stopped")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		s, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		session, err := newSession(cfg)
		if err != nil {
			return err
		}
		client := discord.NewClient(session, cfg.Discord.GuildID, cfg.Discord.PrivateCategoryID)

		// the displays need the board and the board needs somewhere to publish
		displays := &events.DeferredWriter{}
		producer := events.NewEventProducer(displays)

		policy := newPolicy(cfg)
		teardown := service.NewTeardownScheduler(client)
		board := service.NewJobBoard(s, client, policy, teardown, producer, boardConfig(cfg))
		permanent := service.NewPermanentJobService(s, client, policy, teardown, producer, boardConfig(cfg))
		refresher := service.NewStatsRefresher(board, client, cfg.Discord.WorkerRoleID, cfg.Board.StatsRefreshInterval)

		scoring := service.Scoring(cfg.Board.Scoring)
		repainter := discord.NewRepainter(client, board, permanent, discord.RepainterConfig{
			BoardChannelID:    cfg.Discord.BoardChannelID,
			MemberChannelID:   cfg.Discord.MemberChannelID,
			StatsChannelID:    cfg.Discord.StatsChannelID,
			WorkerRoleID:      cfg.Discord.WorkerRoleID,
			Scoring:           scoring,
			RecentCompletions: cfg.Board.RecentCompletions,
		})
		switch {
		case cfg.Discord.BoardChannelID == "" && cfg.Discord.MemberChannelID == "" && cfg.Discord.StatsChannelID == "":
			zap.S().Warn("no display channels configured, board events are only logged")
			displays.Attach(&events.StdoutWriter{})
		case zap.L().Core().Enabled(zap.DebugLevel):
			displays.Attach(events.MultiWriter{&events.StdoutWriter{}, repainter})
		default:
			displays.Attach(repainter)
		}

		dispatcher := discord.NewDispatcher(client, board, permanent, refresher, cfg.Discord.WorkerRoleID)
		removeHandlers := dispatcher.Register()

		ready := make(chan struct{})
		session.AddHandlerOnce(func(_ *discordgo.Session, _ *discordgo.Ready) { close(ready) })

		if err := session.Open(); err != nil {
			return fmt.Errorf("connecting to discord: %w", err)
		}

		defer func() {
			removeHandlers()
			teardown.Stop()
			_ = producer.Close()
			if err := session.Close(); err != nil {
				zap.S().Warnw("closing discord session", "error", err)
			}
		}()

		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
		zap.S().Infow("connected to discord", "user", session.State.User.Username, "guild", cfg.Discord.GuildID)

		if err := discord.RegisterCommands(session, cfg.Discord.GuildID); err != nil {
			return err
		}

		if err := repainter.Setup(ctx); err != nil {
			zap.S().Warnw("initial paint incomplete", "error", err)
		}

		listener, err := newListener(cfg.Service.Address)
		if err != nil {
			return fmt.Errorf("creating listener: %w", err)
		}

		handler := apiserver.NewHandler(board, permanent, client, apiserver.HandlerConfig{
			WorkerRoleID:      cfg.Discord.WorkerRoleID,
			Scoring:           scoring,
			RecentCompletions: cfg.Board.RecentCompletions,
		})
		server := apiserver.New(handler, listener)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			refresher.Run(gctx)
			return nil
		})
		g.Go(func() error {
			defer cancel()
			if err := server.Run(gctx); err != nil {
				return fmt.Errorf("running api server: %w", err)
			}
			return nil
		})

		return g.Wait()
	},
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
