package discord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pusherbot/pusherbot/internal/gateway"
	"github.com/pusherbot/pusherbot/internal/service"
	"github.com/pusherbot/pusherbot/internal/store/model"
	"github.com/pusherbot/pusherbot/pkg/metrics"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

const interactionTimeout = 30 * time.Second

const genericFailure = "Something went wrong, please try again later."

// Dispatcher routes Discord interactions and member events to the board.
type Dispatcher struct {
	client       *Client
	board        *service.JobBoard
	permanent    *service.PermanentJobService
	refresher    *service.StatsRefresher
	workerRoleID string
	log          *zap.SugaredLogger
}

func NewDispatcher(client *Client, board *service.JobBoard, permanent *service.PermanentJobService, refresher *service.StatsRefresher, workerRoleID string) *Dispatcher {
	return &Dispatcher{
		client:       client,
		board:        board,
		permanent:    permanent,
		refresher:    refresher,
		workerRoleID: workerRoleID,
		log:          zap.S().Named("dispatcher"),
	}
}

// Register installs the handlers on the session. It returns a function that
// removes them.
func (d *Dispatcher) Register() func() {
	s := d.client.Session()
	removers := []func(){
		s.AddHandler(d.onInteraction),
		s.AddHandler(d.onMemberUpdate),
		s.AddHandler(d.onMemberRemove),
	}
	return func() {
		for _, remove := range removers {
			remove()
		}
	}
}

func (d *Dispatcher) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Member == nil || i.Member.User == nil {
		d.respond(i, "Use the bot from the server.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	switch i.Type {
	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		d.handleAction(ctx, i, data.CustomID, data.Values)
	case discordgo.InteractionModalSubmit:
		data := i.ModalSubmitData()
		d.handleModal(ctx, i, data.CustomID, modalValues(data.Components))
	case discordgo.InteractionApplicationCommand:
		d.handleCommand(ctx, i, i.ApplicationCommandData())
	}
}

func (d *Dispatcher) handleAction(ctx context.Context, i *discordgo.InteractionCreate, customID string, values []string) {
	action, err := gateway.ParseAction(customID)
	if err != nil {
		d.log.Warnw("unknown component", "custom_id", customID, "error", err)
		d.respond(i, "This button is no longer valid.")
		return
	}
	actor := actorOf(i.Member)
	d.log.Debugw("action", "kind", action.Kind, "target", action.Target, "actor", actor.ID)

	switch action.Kind {
	case gateway.ActionCreateJob:
		if !d.board.Policy().CanCreate(actor) {
			d.respond(i, replyFor(service.NewErrNotAuthorized(actor.ID, "create jobs")))
			return
		}
		d.openModal(i, createJobModal())

	case gateway.ActionTakeJob:
		d.deferred(ctx, i, func(ctx context.Context) (string, error) {
			return d.takeJob(ctx, action.Target, actor)
		})

	case gateway.ActionCancelJob:
		d.deferred(ctx, i, func(ctx context.Context) (string, error) {
			if err := d.board.CancelJob(ctx, action.Target, actor); err != nil {
				return "", err
			}
			return "The job is back on the board. This channel will be deleted shortly.", nil
		})

	case gateway.ActionCompleteJob:
		job, err := d.board.GetJob(ctx, service.JobByID(action.Target))
		if err != nil {
			d.respond(i, d.replyFor(err))
			return
		}
		if !d.board.Policy().CanComplete(actor, *job) {
			d.respond(i, replyFor(service.NewErrNotAuthorized(actor.ID, "complete job "+job.ID)))
			return
		}
		d.openModal(i, completeJobModal(action.Target))

	case gateway.ActionForceClose:
		d.deferred(ctx, i, func(ctx context.Context) (string, error) {
			if err := d.board.ForceClose(ctx, action.Target, gateway.ChannelHandle(i.ChannelID), actor); err != nil {
				return "", err
			}
			return "Force closing this channel.", nil
		})

	case gateway.ActionTakePermanent:
		d.deferred(ctx, i, func(ctx context.Context) (string, error) {
			return d.takePermanent(ctx, action.Target, actor)
		})

	case gateway.ActionClosePermanent:
		d.deferred(ctx, i, func(ctx context.Context) (string, error) {
			participant, err := d.client.IsChannelMember(ctx, i.ChannelID, actor.ID)
			if err != nil {
				return "", service.NewErrGateway("close permanent job", err)
			}
			if err := d.permanent.Close(ctx, gateway.ChannelHandle(i.ChannelID), actor, participant); err != nil {
				return "", err
			}
			return "This channel will be deleted shortly.", nil
		})

	case gateway.ActionForceClosePerm:
		d.deferred(ctx, i, func(ctx context.Context) (string, error) {
			if err := d.permanent.ForceClose(ctx, gateway.ChannelHandle(i.ChannelID), actor); err != nil {
				return "", err
			}
			return "Force closing this channel.", nil
		})

	case gateway.ActionEditPermanentPick:
		entry, err := d.permanentByID(ctx, values)
		if err != nil {
			d.respond(i, d.replyFor(err))
			return
		}
		d.openModal(i, permanentTextModal(gateway.ActionEditPermanentModal, fmt.Sprint(entry.ID), "Edit permanent job", entry.Text))

	case gateway.ActionRemovePermanent:
		d.deferred(ctx, i, func(ctx context.Context) (string, error) {
			entry, err := d.permanentByID(ctx, values)
			if err != nil {
				return "", err
			}
			if err := d.permanent.Remove(ctx, actor, entry.Text); err != nil {
				return "", err
			}
			return fmt.Sprintf("Removed %q.", entry.Text), nil
		})

	default:
		d.respond(i, "This button is no longer valid.")
	}
}

func (d *Dispatcher) handleModal(ctx context.Context, i *discordgo.InteractionCreate, customID string, values map[string]string) {
	action, err := gateway.ParseAction(customID)
	if err != nil {
		d.log.Warnw("unknown modal", "custom_id", customID, "error", err)
		d.respond(i, "This form is no longer valid.")
		return
	}
	actor := actorOf(i.Member)

	switch action.Kind {
	case gateway.ActionCreateJobModal:
		d.deferred(ctx, i, func(ctx context.Context) (string, error) {
			job, err := d.board.CreateJob(ctx, service.JobForm{
				RequesterID:   actor.ID,
				RequesterName: actor.DisplayName,
				Title:         values[fieldTitle],
				Description:   values[fieldDescription],
				Reward:        values[fieldReward],
			})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Job **#%d** is on the board.", job.SequenceNumber), nil
		})

	case gateway.ActionCompleteJobModal:
		d.deferred(ctx, i, func(ctx context.Context) (string, error) {
			points, err := parsePoints(values[fieldPoints])
			if err != nil {
				return "", err
			}
			record, err := d.board.CompleteJob(ctx, action.Target, actor, points)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Job **#%d** completed, %d points to %s. This channel will be deleted shortly.",
				record.SequenceNumber, record.RewardPoints, record.ClaimantDisplayName), nil
		})

	case gateway.ActionAddPermanentModal:
		d.deferred(ctx, i, func(ctx context.Context) (string, error) {
			job, err := d.permanent.Add(ctx, actor, values[fieldText])
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Added %q.", job.Text), nil
		})

	case gateway.ActionEditPermanentModal:
		d.deferred(ctx, i, func(ctx context.Context) (string, error) {
			entry, err := d.permanentByID(ctx, []string{action.Target})
			if err != nil {
				return "", err
			}
			if err := d.permanent.Edit(ctx, actor, entry.Text, values[fieldText]); err != nil {
				return "", err
			}
			return "Permanent job updated.", nil
		})

	default:
		d.respond(i, "This form is no longer valid.")
	}
}

func (d *Dispatcher) handleCommand(ctx context.Context, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	actor := actorOf(i.Member)
	d.log.Debugw("command", "name", data.Name, "actor", actor.ID)

	switch data.Name {
	case commandDelete:
		d.deferred(ctx, i, func(ctx context.Context) (string, error) {
			if len(data.Options) == 0 {
				return "", service.NewErrInvalidInput("a job number is required")
			}
			n := data.Options[0].IntValue()
			if _, err := d.board.DeleteJob(ctx, service.JobByNumber(n), actor); err != nil {
				return "", err
			}
			return fmt.Sprintf("Job **#%d** deleted.", n), nil
		})

	case commandPerm:
		if !d.board.Policy().CanAdminister(actor) {
			d.respond(i, replyFor(service.NewErrNotAuthorized(actor.ID, "manage permanent jobs")))
			return
		}
		sub := ""
		if len(data.Options) > 0 {
			sub = data.Options[0].Name
		}
		d.handlePermCommand(ctx, i, sub)

	case commandRefresh:
		d.deferred(ctx, i, func(ctx context.Context) (string, error) {
			if !d.board.Policy().CanAdminister(actor) {
				return "", service.NewErrNotAuthorized(actor.ID, "refresh statistics")
			}
			d.refresher.Refresh(ctx)
			return "Statistics refreshed.", nil
		})

	case commandReset:
		d.deferred(ctx, i, func(ctx context.Context) (string, error) {
			if err := d.board.Reset(ctx, actor); err != nil {
				return "", err
			}
			return "The board and all statistics have been reset.", nil
		})

	default:
		d.respond(i, "Unknown command.")
	}
}

func (d *Dispatcher) handlePermCommand(ctx context.Context, i *discordgo.InteractionCreate, sub string) {
	switch sub {
	case subcommandAdd:
		d.openModal(i, permanentTextModal(gateway.ActionAddPermanentModal, "", "Add permanent job", ""))
	case subcommandEdit, subcommandRemove:
		catalogue, err := d.permanent.List(ctx)
		if err != nil {
			d.respond(i, d.replyFor(err))
			return
		}
		if len(catalogue) == 0 {
			d.respond(i, "There are no permanent jobs.")
			return
		}
		kind, placeholder := gateway.ActionEditPermanentPick, "Pick the job to edit"
		if sub == subcommandRemove {
			kind, placeholder = gateway.ActionRemovePermanent, "Pick the job to remove"
		}
		d.respondWith(i, &discordgo.InteractionResponseData{
			Flags:      discordgo.MessageFlagsEphemeral,
			Components: permanentPicker(kind, placeholder, catalogue),
		})
	default:
		d.respond(i, "Unknown subcommand.")
	}
}

func (d *Dispatcher) takeJob(ctx context.Context, jobID string, actor service.Actor) (string, error) {
	if !d.board.Policy().CanClaim(actor) {
		return "", service.NewErrNotAuthorized(actor.ID, "take jobs")
	}

	handle, err := d.board.ClaimJob(ctx, jobID, actor.ID, actor.DisplayName)
	if err != nil {
		return "", err
	}

	job, err := d.board.GetJob(ctx, service.JobByID(jobID))
	if err != nil {
		// completed or cancelled in the meantime; the channel is in the
		// board's hands now
		return fmt.Sprintf("Your channel: <#%s>", handle), nil
	}
	if _, err := d.client.SendComplex(ctx, string(handle), controlPanel(job)); err != nil {
		metrics.IncreaseGatewayErrorMetric("send_message")
		d.log.Warnw("failed to post control panel", "channel", handle, "error", err)
	}
	return fmt.Sprintf("You took job **#%d**: <#%s>", job.SequenceNumber, handle), nil
}

func (d *Dispatcher) takePermanent(ctx context.Context, target string, actor service.Actor) (string, error) {
	position, err := strconv.Atoi(target)
	if err != nil {
		return "", service.NewErrInvalidInput("invalid permanent job %q", target)
	}

	assignment, err := d.permanent.Take(ctx, position, actor)
	if err != nil {
		return "", err
	}
	if _, err := d.client.SendComplex(ctx, string(assignment.Channel), permanentPanel(assignment)); err != nil {
		metrics.IncreaseGatewayErrorMetric("send_message")
		d.log.Warnw("failed to post permanent panel", "channel", assignment.Channel, "error", err)
	}
	return fmt.Sprintf("Your channel with %s: <#%s>", assignment.Coordinator.DisplayName, assignment.Channel), nil
}

// permanentByID resolves the row id carried by a picker or an edit form to
// the current catalogue entry.
func (d *Dispatcher) permanentByID(ctx context.Context, values []string) (model.PermanentJob, error) {
	if len(values) == 0 {
		return model.PermanentJob{}, service.NewErrInvalidInput("no permanent job selected")
	}
	catalogue, err := d.permanent.List(ctx)
	if err != nil {
		return model.PermanentJob{}, err
	}
	return catalogueEntry(catalogue, values[0])
}

func catalogueEntry(catalogue model.PermanentJobList, value string) (model.PermanentJob, error) {
	id, err := strconv.ParseUint(value, 10, 0)
	if err != nil {
		return model.PermanentJob{}, service.NewErrInvalidInput("invalid permanent job %q", value)
	}
	for _, p := range catalogue {
		if uint64(p.ID) == id {
			return p, nil
		}
	}
	return model.PermanentJob{}, service.NewErrInvalidInput("that permanent job no longer exists")
}

func (d *Dispatcher) onMemberUpdate(s *discordgo.Session, u *discordgo.GuildMemberUpdate) {
	if d.workerRoleID == "" || u.Member == nil {
		return
	}
	had := u.BeforeUpdate != nil && funk.ContainsString(u.BeforeUpdate.Roles, d.workerRoleID)
	has := funk.ContainsString(u.Roles, d.workerRoleID)
	if u.BeforeUpdate != nil && had == has {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()
	d.log.Infow("worker role changed", "user", u.User.ID, "has_role", has)
	d.refresher.Refresh(ctx)
}

func (d *Dispatcher) onMemberRemove(s *discordgo.Session, r *discordgo.GuildMemberRemove) {
	if !departedWorker(r.Member, d.workerRoleID, d.refresher.KnowsWorker) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()
	d.log.Infow("member left", "user", r.User.ID)
	d.board.RefreshStats(ctx, "member left")
}

// departedWorker reports whether a member who left the guild counted as a
// worker. The state cache drops the member before handlers run and the event
// carries no roles, so the last synced roster is consulted as well.
func departedWorker(m *discordgo.Member, roleID string, known func(userID string) bool) bool {
	if roleID == "" || m == nil || m.User == nil {
		return false
	}
	return funk.ContainsString(m.Roles, roleID) || known(m.User.ID)
}

// deferred acknowledges the interaction right away and answers with the
// outcome of fn once it is done.
func (d *Dispatcher) deferred(ctx context.Context, i *discordgo.InteractionCreate, fn func(ctx context.Context) (string, error)) {
	s := d.client.Session()
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		d.log.Warnw("failed to acknowledge interaction", "error", err)
		return
	}

	content, err := fn(ctx)
	if err != nil {
		content = d.replyFor(err)
	}
	if _, err := s.FollowupMessageCreate(i.Interaction, false, &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	}); err != nil {
		d.log.Warnw("failed to answer interaction", "error", err)
	}
}

func (d *Dispatcher) respond(i *discordgo.InteractionCreate, content string) {
	d.respondWith(i, &discordgo.InteractionResponseData{Content: content, Flags: discordgo.MessageFlagsEphemeral})
}

func (d *Dispatcher) respondWith(i *discordgo.InteractionCreate, data *discordgo.InteractionResponseData) {
	err := d.client.Session().InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		d.log.Warnw("failed to answer interaction", "error", err)
	}
}

func (d *Dispatcher) openModal(i *discordgo.InteractionCreate, data *discordgo.InteractionResponseData) {
	err := d.client.Session().InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: data,
	})
	if err != nil {
		d.log.Warnw("failed to open modal", "custom_id", data.CustomID, "error", err)
	}
}

// replyFor logs the failures users cannot act on before translating them.
func (d *Dispatcher) replyFor(err error) string {
	var (
		storageErr *service.ErrStorage
		gatewayErr *service.ErrGateway
	)
	switch {
	case errors.As(err, &storageErr), errors.As(err, &gatewayErr):
		d.log.Errorw("interaction failed", "error", err)
	default:
		d.log.Debugw("interaction rejected", "error", err)
	}
	return replyFor(err)
}

// replyFor turns a board error into the message shown to the user.
func replyFor(err error) string {
	var (
		notFound     *service.ErrJobNotFound
		invalidState *service.ErrInvalidState
		notAllowed   *service.ErrNotAuthorized
		invalidInput *service.ErrInvalidInput
	)
	switch {
	case errors.As(err, &notFound):
		if notFound.Completed {
			return "This job has already been completed."
		}
		return "This job no longer exists."
	case errors.As(err, &invalidState):
		switch invalidState.Reason {
		case service.ReasonAlreadyClaimed:
			return "Someone else already took this job."
		case service.ReasonNotClaimed:
			return "Nobody has taken this job."
		case service.ReasonNoCoordinator:
			return "No admin is available to coordinate right now."
		case service.ReasonClaimLost:
			return "The job changed hands while your channel was being created."
		}
		return "The job cannot do that right now."
	case errors.As(err, &notAllowed):
		return "You are not allowed to do that."
	case errors.As(err, &invalidInput):
		return "Invalid input: " + invalidInput.Error()
	default:
		return genericFailure
	}
}

func parsePoints(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	points, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, service.NewErrInvalidInput("reward points must be a whole number: %q", value)
	}
	if points < 0 {
		return 0, service.NewErrInvalidReward(points)
	}
	return points, nil
}

func actorOf(m *discordgo.Member) service.Actor {
	return service.NewActor(m.User.ID, displayName(m), m.Roles...)
}

