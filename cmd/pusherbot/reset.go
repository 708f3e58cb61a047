package main

import (
	"context"

	"github.com/pusherbot/pusherbot/internal/gateway"
	"github.com/pusherbot/pusherbot/internal/gateway/discord"
	"github.com/pusherbot/pusherbot/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Wipe the jobs, the completion ledger and the worker stats",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, done, err := setup()
		if err != nil {
			return err
		}
		defer done()

		ctx := context.Background()
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

		teardown := service.NewTeardownScheduler(client)
		defer teardown.Stop()
		board := service.NewJobBoard(s, client, newPolicy(cfg), teardown, nil, boardConfig(cfg))

		jobs, err := board.ListActiveJobs(ctx)
		if err != nil {
			return err
		}

		if err := board.Reset(ctx, cliActor(cfg)); err != nil {
			return err
		}

		for _, j := range jobs {
			handle := gateway.ChannelHandle(j.Channel())
			if !teardown.Cancel(handle) || handle.IsZero() {
				continue
			}
			if err := client.DeleteChannel(ctx, handle); err != nil {
				zap.S().Warnw("failed to delete channel", "channel", handle, "error", err)
			}
		}

		zap.S().Infow("board reset", "jobs", len(jobs))
		return nil
	},
}
