package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

const (
	commandDelete  = "pusherbot-delete"
	commandPerm    = "pusherbot-perm"
	commandRefresh = "pusherbot-refresh"
	commandReset   = "pusherbot-reset"

	optionNumber = "number"

	subcommandAdd    = "add"
	subcommandEdit   = "edit"
	subcommandRemove = "remove"
)

func commandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        commandDelete,
			Description: "Delete a job by its number",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        optionNumber,
					Description: "Job number",
					Required:    true,
				},
			},
		},
		{
			Name:        commandPerm,
			Description: "Manage the permanent jobs",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: subcommandAdd, Description: "Add a permanent job"},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: subcommandEdit, Description: "Edit a permanent job"},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: subcommandRemove, Description: "Remove a permanent job"},
			},
		},
		{
			Name:        commandRefresh,
			Description: "Refresh the worker statistics",
		},
		{
			Name:        commandReset,
			Description: "Delete every job and all statistics",
		},
	}
}

// RegisterCommands replaces the guild commands of the application with ours.
func RegisterCommands(s *discordgo.Session, guildID string) error {
	if s.State == nil || s.State.User == nil {
		return fmt.Errorf("session is not open")
	}
	if _, err := s.ApplicationCommandBulkOverwrite(s.State.User.ID, guildID, commandDefinitions()); err != nil {
		return fmt.Errorf("registering commands: %w", err)
	}
	return nil
}
