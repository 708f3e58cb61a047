package discord

import (
	"context"
	"errors"
	"sync"

	"github.com/bwmarrin/discordgo"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/pusherbot/pusherbot/internal/events"
	"github.com/pusherbot/pusherbot/internal/gateway"
	"github.com/pusherbot/pusherbot/internal/service"
	"go.uber.org/zap"
)

const (
	sectionMember      = "member"
	sectionBoardHeader = "board_header"
	sectionBoard       = "board"
	sectionStats       = "stats"
)

// surface is the part of the Discord client the repainter draws on.
type surface interface {
	SendComplex(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	Purge(ctx context.Context, channelID string) error
	QueryRoleMembers(ctx context.Context, roleID string) ([]gateway.Member, error)
}

type RepainterConfig struct {
	BoardChannelID    string
	MemberChannelID   string
	StatsChannelID    string
	WorkerRoleID      string
	Scoring           service.Scoring
	RecentCompletions int
}

type postedSection struct {
	channelID  string
	messageIDs []string
}

// Repainter is an events.Writer that keeps the board, member and stats
// channels in sync with the store. Each section is replaced as a whole.
type Repainter struct {
	surface   surface
	board     *service.JobBoard
	permanent *service.PermanentJobService
	cfg       RepainterConfig
	mu        sync.Mutex
	sections  map[string]postedSection
	log       *zap.SugaredLogger
}

func NewRepainter(s surface, board *service.JobBoard, permanent *service.PermanentJobService, cfg RepainterConfig) *Repainter {
	return &Repainter{
		surface:   s,
		board:     board,
		permanent: permanent,
		cfg:       cfg,
		sections:  map[string]postedSection{},
		log:       zap.S().Named("repainter"),
	}
}

// Setup clears what a previous run left in the channels and paints
// everything once.
func (r *Repainter) Setup(ctx context.Context) error {
	for _, ch := range []string{r.cfg.MemberChannelID, r.cfg.BoardChannelID, r.cfg.StatsChannelID} {
		if ch == "" {
			continue
		}
		if err := r.surface.Purge(ctx, ch); err != nil {
			r.log.Warnw("failed to purge channel", "channel", ch, "error", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	if r.cfg.MemberChannelID != "" {
		errs = append(errs, r.replace(ctx, sectionMember, r.cfg.MemberChannelID, memberMessage()))
	}
	if r.cfg.BoardChannelID != "" {
		errs = append(errs, r.replace(ctx, sectionBoardHeader, r.cfg.BoardChannelID, boardHeader()))
	}
	errs = append(errs, r.repaintBoard(ctx), r.repaintStats(ctx))
	return errors.Join(errs...)
}

func (r *Repainter) Write(ctx context.Context, topic string, e cloudevents.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e.Type() {
	case events.BoardMessageKind:
		return r.repaintBoard(ctx)
	case events.StatsMessageKind:
		return r.repaintStats(ctx)
	default:
		r.log.Debugw("ignoring event", "type", e.Type(), "topic", topic)
		return nil
	}
}

func (r *Repainter) Close(_ context.Context) error {
	return nil
}

func (r *Repainter) repaintBoard(ctx context.Context) error {
	if r.cfg.BoardChannelID == "" {
		return nil
	}

	jobs, err := r.board.ListActiveJobs(ctx)
	if err != nil {
		return err
	}
	catalogue, err := r.permanent.List(ctx)
	if err != nil {
		return err
	}

	return r.replace(ctx, sectionBoard, r.cfg.BoardChannelID, boardMessages(jobs, catalogue)...)
}

func (r *Repainter) repaintStats(ctx context.Context) error {
	if r.cfg.StatsChannelID == "" {
		return nil
	}

	eligible := []string{}
	if r.cfg.WorkerRoleID != "" {
		workers, err := r.surface.QueryRoleMembers(ctx, r.cfg.WorkerRoleID)
		if err != nil {
			return err
		}
		for _, w := range workers {
			eligible = append(eligible, w.ID)
		}
	}

	rankings, err := r.board.WorkerRankings(ctx, eligible, r.cfg.Scoring)
	if err != nil {
		return err
	}
	recent, err := r.board.RecentCompletions(ctx, eligible, r.cfg.RecentCompletions)
	if err != nil {
		return err
	}

	return r.replace(ctx, sectionStats, r.cfg.StatsChannelID, statsMessage(rankings, recent, r.cfg.Scoring))
}

// replace deletes the messages previously posted for the section and posts
// the new ones. Callers hold mu.
func (r *Repainter) replace(ctx context.Context, section, channelID string, msgs ...*discordgo.MessageSend) error {
	if prev, ok := r.sections[section]; ok {
		for _, id := range prev.messageIDs {
			if err := r.surface.DeleteMessage(ctx, prev.channelID, id); err != nil {
				r.log.Warnw("failed to delete message", "section", section, "message", id, "error", err)
			}
		}
		delete(r.sections, section)
	}

	posted := postedSection{channelID: channelID}
	for _, m := range msgs {
		sent, err := r.surface.SendComplex(ctx, channelID, m)
		if err != nil {
			r.sections[section] = posted
			return err
		}
		posted.messageIDs = append(posted.messageIDs, sent.ID)
	}
	r.sections[section] = posted

	r.log.Debugw("section repainted", "section", section, "messages", len(posted.messageIDs))
	return nil
}
