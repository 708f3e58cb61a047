// Package gateway describes the chat platform the job board runs on: the
// calls the board makes into it and the action identifiers it receives back
// from buttons and forms.
package gateway

import (
	"context"
)

// ChannelHandle identifies a channel on the chat platform. The zero value
// means "no channel".
type ChannelHandle string

func (h ChannelHandle) IsZero() bool {
	return h == ""
}

type Member struct {
	ID          string
	DisplayName string
}

type Gateway interface {
	// CreatePrivateChannel creates a channel only the participants (and the
	// bot) can see.
	CreatePrivateChannel(ctx context.Context, name string, participants []string) (ChannelHandle, error)
	DeleteChannel(ctx context.Context, handle ChannelHandle) error
	SendMessage(ctx context.Context, handle ChannelHandle, content string) error
	QueryRoleMembers(ctx context.Context, roleID string) ([]Member, error)
}
