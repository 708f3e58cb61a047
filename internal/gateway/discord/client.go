package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/pusherbot/pusherbot/internal/gateway"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

const guildMembersPageSize = 1000

const participantPermissions = discordgo.PermissionViewChannel |
	discordgo.PermissionSendMessages |
	discordgo.PermissionReadMessageHistory

// Client implements gateway.Gateway on top of a discordgo session bound to a
// single guild.
type Client struct {
	session    *discordgo.Session
	guildID    string
	categoryID string
	log        *zap.SugaredLogger
}

func NewClient(session *discordgo.Session, guildID, categoryID string) *Client {
	return &Client{
		session:    session,
		guildID:    guildID,
		categoryID: categoryID,
		log:        zap.S().Named("discord_client"),
	}
}

func (c *Client) Session() *discordgo.Session {
	return c.session
}

// CreatePrivateChannel creates a text channel under the configured category.
// @everyone is denied and each participant gets read and write access.
func (c *Client) CreatePrivateChannel(ctx context.Context, name string, participants []string) (gateway.ChannelHandle, error) {
	data := discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 discordgo.ChannelTypeGuildText,
		ParentID:             c.categoryID,
		PermissionOverwrites: privateOverwrites(c.guildID, c.botID(), participants),
	}

	ch, err := c.session.GuildChannelCreateComplex(c.guildID, data, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("creating channel %q: %w", name, err)
	}

	c.log.Debugw("private channel created", "channel", ch.ID, "name", name, "participants", participants)
	return gateway.ChannelHandle(ch.ID), nil
}

// DeleteChannel treats an already deleted channel as success.
func (c *Client) DeleteChannel(ctx context.Context, handle gateway.ChannelHandle) error {
	if handle.IsZero() {
		return nil
	}
	if _, err := c.session.ChannelDelete(string(handle), discordgo.WithContext(ctx)); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("deleting channel %s: %w", handle, err)
	}
	return nil
}

func (c *Client) SendMessage(ctx context.Context, handle gateway.ChannelHandle, content string) error {
	if _, err := c.session.ChannelMessageSend(string(handle), content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("sending message to %s: %w", handle, err)
	}
	return nil
}

// SendComplex posts a message with embeds and components.
func (c *Client) SendComplex(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	m, err := c.session.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("sending message to %s: %w", channelID, err)
	}
	return m, nil
}

// QueryRoleMembers pages through the guild members and keeps the holders of
// the role.
func (c *Client) QueryRoleMembers(ctx context.Context, roleID string) ([]gateway.Member, error) {
	members := []gateway.Member{}
	after := ""
	for {
		page, err := c.session.GuildMembers(c.guildID, after, guildMembersPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("listing guild members: %w", err)
		}
		for _, m := range page {
			if m.User == nil || m.User.Bot {
				continue
			}
			if funk.ContainsString(m.Roles, roleID) {
				members = append(members, toMember(m))
			}
		}
		if len(page) < guildMembersPageSize {
			return members, nil
		}
		after = page[len(page)-1].User.ID
	}
}

// IsChannelMember reports whether the user was given a member overwrite on
// the channel, which is how private channels record their participants.
func (c *Client) IsChannelMember(ctx context.Context, channelID, userID string) (bool, error) {
	ch, err := c.session.State.Channel(channelID)
	if err != nil {
		ch, err = c.session.Channel(channelID, discordgo.WithContext(ctx))
		if err != nil {
			return false, fmt.Errorf("fetching channel %s: %w", channelID, err)
		}
	}
	return hasMemberOverwrite(ch, userID), nil
}

// Purge deletes the recent messages the bot posted in the channel.
func (c *Client) Purge(ctx context.Context, channelID string) error {
	msgs, err := c.session.ChannelMessages(channelID, 100, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("listing messages of %s: %w", channelID, err)
	}
	botID := c.botID()
	for _, m := range msgs {
		if m.Author == nil || m.Author.ID != botID {
			continue
		}
		if err := c.DeleteMessage(ctx, channelID, m.ID); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := c.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil && !isNotFound(err) {
		return fmt.Errorf("deleting message %s: %w", messageID, err)
	}
	return nil
}

func (c *Client) botID() string {
	if c.session.State != nil && c.session.State.User != nil {
		return c.session.State.User.ID
	}
	return ""
}

func privateOverwrites(everyoneRoleID, botID string, participants []string) []*discordgo.PermissionOverwrite {
	overwrites := []*discordgo.PermissionOverwrite{
		{
			ID:   everyoneRoleID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionViewChannel,
		},
	}

	allowed := funk.UniqString(append(append([]string{}, participants...), botID))
	for _, id := range allowed {
		if id == "" {
			continue
		}
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:    id,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: participantPermissions,
		})
	}
	return overwrites
}

func hasMemberOverwrite(ch *discordgo.Channel, userID string) bool {
	if ch == nil || userID == "" {
		return false
	}
	for _, o := range ch.PermissionOverwrites {
		if o.Type == discordgo.PermissionOverwriteTypeMember && o.ID == userID && o.Allow&discordgo.PermissionViewChannel != 0 {
			return true
		}
	}
	return false
}

func toMember(m *discordgo.Member) gateway.Member {
	return gateway.Member{ID: m.User.ID, DisplayName: displayName(m)}
}

// displayName prefers the guild nickname, then the global name.
func displayName(m *discordgo.Member) string {
	if m == nil {
		return ""
	}
	if m.Nick != "" {
		return m.Nick
	}
	if m.User == nil {
		return ""
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}

func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}
