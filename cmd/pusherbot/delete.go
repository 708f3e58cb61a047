package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pusherbot/pusherbot/internal/gateway/discord"
	"github.com/pusherbot/pusherbot/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var deleteJobCmd = &cobra.Command{
	Use:   "delete-job NUMBER",
	Short: "Delete a job by its number and remove its private channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || number <= 0 {
			return fmt.Errorf("invalid job number %q", args[0])
		}

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

		handle, err := board.DeleteJob(ctx, service.JobByNumber(number), cliActor(cfg))
		if err != nil {
			return err
		}

		// nothing waits for the scheduled teardown in a one-shot command
		if teardown.Cancel(handle) && !handle.IsZero() {
			if err := client.DeleteChannel(ctx, handle); err != nil {
				zap.S().Warnw("failed to delete channel", "channel", handle, "error", err)
			}
		}

		zap.S().Infow("job deleted", "number", number)
		return nil
	},
}
