package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/pusherbot/pusherbot/internal/events"
	"github.com/pusherbot/pusherbot/internal/gateway"
	"github.com/pusherbot/pusherbot/internal/store"
	"github.com/pusherbot/pusherbot/internal/store/model"
	"github.com/pusherbot/pusherbot/internal/validator"
	"github.com/pusherbot/pusherbot/pkg/metrics"
	"go.uber.org/zap"
)

const permanentJobTextTag = "notblank,single_line,max=100"

// PermanentAssignment describes the channel opened when a worker takes a
// permanent job.
type PermanentAssignment struct {
	Position    int
	Text        string
	Worker      Actor
	Coordinator gateway.Member
	Channel     gateway.ChannelHandle
}

// PermanentJobService manages the standing catalogue of permanent jobs.
// Taking one pairs the worker with an admin in a private channel; nothing
// about it is stored on the board.
type PermanentJobService struct {
	store     store.Store
	gw        gateway.Gateway
	policy    *AuthorizationPolicy
	teardown  *TeardownScheduler
	notifier  Notifier
	cfg       BoardConfig
	validator *validator.Validator
	log       *zap.SugaredLogger
}

func NewPermanentJobService(s store.Store, gw gateway.Gateway, policy *AuthorizationPolicy, teardown *TeardownScheduler, notifier Notifier, cfg BoardConfig) *PermanentJobService {
	v := validator.NewValidator()
	v.Register(validator.NewPermanentJobValidationRules()...)

	return &PermanentJobService{
		store:     s,
		gw:        gw,
		policy:    policy,
		teardown:  teardown,
		notifier:  notifier,
		cfg:       cfg,
		validator: v,
		log:       zap.S().Named("permanent_jobs"),
	}
}

func (p *PermanentJobService) List(ctx context.Context) (model.PermanentJobList, error) {
	jobs, err := p.store.PermanentJob().List(ctx)
	if err != nil {
		return nil, NewErrStorage("list permanent jobs", err)
	}
	return jobs, nil
}

func (p *PermanentJobService) Add(ctx context.Context, actor Actor, text string) (*model.PermanentJob, error) {
	if !p.policy.CanAdminister(actor) {
		return nil, NewErrNotAuthorized(actor.ID, "add permanent jobs")
	}
	text = strings.TrimSpace(text)
	if err := p.validator.Var("text", text, permanentJobTextTag); err != nil {
		return nil, &ErrInvalidInput{err}
	}

	job, err := p.store.PermanentJob().Create(ctx, text)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, NewErrInvalidInput("permanent job %q already exists", text)
		}
		return nil, NewErrStorage("add permanent job", err)
	}

	p.log.Infow("permanent job added", "text", text, "actor", actor.ID)
	p.catalogueChanged(ctx)
	return job, nil
}

func (p *PermanentJobService) Edit(ctx context.Context, actor Actor, oldText, newText string) error {
	if !p.policy.CanAdminister(actor) {
		return NewErrNotAuthorized(actor.ID, "edit permanent jobs")
	}
	newText = strings.TrimSpace(newText)
	if err := p.validator.Var("text", newText, permanentJobTextTag); err != nil {
		return &ErrInvalidInput{err}
	}

	if err := p.store.PermanentJob().UpdateText(ctx, oldText, newText); err != nil {
		switch {
		case errors.Is(err, store.ErrRecordNotFound):
			return NewErrInvalidInput("permanent job %q does not exist", oldText)
		case errors.Is(err, store.ErrDuplicateKey):
			return NewErrInvalidInput("permanent job %q already exists", newText)
		default:
			return NewErrStorage("edit permanent job", err)
		}
	}

	p.log.Infow("permanent job edited", "old", oldText, "new", newText, "actor", actor.ID)
	p.catalogueChanged(ctx)
	return nil
}

func (p *PermanentJobService) Remove(ctx context.Context, actor Actor, text string) error {
	if !p.policy.CanAdminister(actor) {
		return NewErrNotAuthorized(actor.ID, "remove permanent jobs")
	}

	if err := p.store.PermanentJob().DeleteByText(ctx, text); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return NewErrInvalidInput("permanent job %q does not exist", text)
		}
		return NewErrStorage("remove permanent job", err)
	}

	p.log.Infow("permanent job removed", "text", text, "actor", actor.ID)
	p.catalogueChanged(ctx)
	return nil
}

// Take opens a coordination channel between the worker and the first
// available admin for the permanent job at the 1-based position.
func (p *PermanentJobService) Take(ctx context.Context, position int, worker Actor) (*PermanentAssignment, error) {
	jobs, err := p.List(ctx)
	if err != nil {
		return nil, err
	}
	if position < 1 || position > len(jobs) {
		return nil, NewErrInvalidInput("no permanent job at position %d", position)
	}
	if !p.policy.CanTakePermanent(worker) {
		return nil, NewErrNotAuthorized(worker.ID, "take permanent jobs")
	}

	coordinator, err := p.coordinator(ctx, worker.ID)
	if err != nil {
		return nil, err
	}

	handle, err := p.gw.CreatePrivateChannel(ctx, channelName("perm", int64(position), worker.DisplayName), []string{worker.ID, coordinator.ID})
	if err != nil {
		metrics.IncreaseGatewayErrorMetric("create_channel")
		return nil, NewErrGateway("take permanent job", err)
	}

	assignment := &PermanentAssignment{
		Position:    position,
		Text:        jobs[position-1].Text,
		Worker:      worker,
		Coordinator: coordinator,
		Channel:     handle,
	}
	p.log.Infow("permanent job taken", "position", position, "worker", worker.ID, "coordinator", coordinator.ID, "channel", handle)
	return assignment, nil
}

// Close tears the coordination channel down after the regular delay.
func (p *PermanentJobService) Close(ctx context.Context, channel gateway.ChannelHandle, actor Actor, participant bool) error {
	if !p.policy.CanClosePermanent(actor, participant) {
		return NewErrNotAuthorized(actor.ID, fmt.Sprintf("close channel %s", channel))
	}
	if channel.IsZero() {
		return NewErrInvalidInput("no channel to close")
	}
	announce(ctx, p.gw, p.log, channel, fmt.Sprintf("%s closed this channel. It will be deleted in %s.", actor.DisplayName, p.cfg.CancelTeardownDelay))
	p.teardown.Schedule(channel, p.cfg.CancelTeardownDelay)
	return nil
}

func (p *PermanentJobService) ForceClose(ctx context.Context, channel gateway.ChannelHandle, actor Actor) error {
	if !p.policy.CanForceClose(actor) {
		return NewErrNotAuthorized(actor.ID, fmt.Sprintf("force close channel %s", channel))
	}
	if channel.IsZero() {
		return NewErrInvalidInput("no channel to close")
	}
	announce(ctx, p.gw, p.log, channel, fmt.Sprintf("An administrator force closed this channel. It will be deleted in %s.", p.cfg.ForceCloseDelay))
	p.teardown.Schedule(channel, p.cfg.ForceCloseDelay)
	return nil
}

// coordinator picks the admin with the lowest id among the members of the
// admin roles, skipping the worker.
func (p *PermanentJobService) coordinator(ctx context.Context, workerID string) (gateway.Member, error) {
	admins := map[string]gateway.Member{}
	for _, roleID := range p.policy.AdminRoleIDs {
		members, err := p.gw.QueryRoleMembers(ctx, roleID)
		if err != nil {
			metrics.IncreaseGatewayErrorMetric("query_role_members")
			return gateway.Member{}, NewErrGateway("find coordinator", err)
		}
		for _, m := range members {
			if m.ID != workerID {
				admins[m.ID] = m
			}
		}
	}
	if len(admins) == 0 {
		return gateway.Member{}, NewErrNoCoordinator()
	}

	candidates := make([]gateway.Member, 0, len(admins))
	for _, m := range admins {
		candidates = append(candidates, m)
	}
	slices.SortFunc(candidates, func(a, b gateway.Member) int { return cmp.Compare(a.ID, b.ID) })

	return candidates[0], nil
}

func (p *PermanentJobService) catalogueChanged(ctx context.Context) {
	publish(ctx, p.notifier, events.BoardMessageKind, events.BoardEvent{Operation: events.BoardOperationCatalogue})
}
