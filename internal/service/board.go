package service

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pusherbot/pusherbot/internal/events"
	"github.com/pusherbot/pusherbot/internal/gateway"
	"github.com/pusherbot/pusherbot/internal/store"
	"github.com/pusherbot/pusherbot/internal/store/model"
	"github.com/pusherbot/pusherbot/internal/validator"
	"github.com/pusherbot/pusherbot/pkg/metrics"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

const channelNameMaxUserChars = 10

// Notifier receives the board-changed and stats-changed signals.
type Notifier interface {
	Write(ctx context.Context, kind string, body io.Reader) error
}

type Scoring string

const (
	ScoreByCount  Scoring = "count"
	ScoreByPoints Scoring = "points"
)

type BoardConfig struct {
	CancelTeardownDelay   time.Duration
	CompleteTeardownDelay time.Duration
	ForceCloseDelay       time.Duration
}

func DefaultBoardConfig() BoardConfig {
	return BoardConfig{
		CancelTeardownDelay:   10 * time.Second,
		CompleteTeardownDelay: 10 * time.Second,
		ForceCloseDelay:       5 * time.Second,
	}
}

type JobForm struct {
	RequesterID   string `validate:"required"`
	RequesterName string `validate:"required"`
	Title         string `validate:"notblank,single_line,max=100"`
	Description   string `validate:"notblank,max=500"`
	Reward        string `validate:"max=100"`
}

func (f JobForm) normalize() JobForm {
	f.Title = strings.TrimSpace(f.Title)
	f.Description = strings.TrimSpace(f.Description)
	f.Reward = strings.TrimSpace(f.Reward)
	return f
}

func (f JobForm) toJob(id string, sequenceNumber int64, createdAt time.Time) model.Job {
	return model.Job{
		ID:                   id,
		SequenceNumber:       sequenceNumber,
		Title:                f.Title,
		Description:          f.Description,
		RewardDescription:    f.Reward,
		RequesterID:          f.RequesterID,
		RequesterDisplayName: f.RequesterName,
		Status:               model.JobStatusOpen,
		CreatedAt:            createdAt,
	}
}

// JobRef selects a job by id or, when the id is empty, by its number.
type JobRef struct {
	ID             string
	SequenceNumber int64
}

func JobByID(id string) JobRef {
	return JobRef{ID: id}
}

func JobByNumber(n int64) JobRef {
	return JobRef{SequenceNumber: n}
}

func (r JobRef) String() string {
	if r.ID != "" {
		return r.ID
	}
	return fmt.Sprintf("#%d", r.SequenceNumber)
}

type Ranking struct {
	WorkerID    string `json:"worker_id"`
	DisplayName string `json:"display_name"`
	Completed   int64  `json:"completed"`
	Points      int64  `json:"points"`
	Score       int64  `json:"score"`
}

// JobBoard owns the active jobs and their claim/complete/cancel lifecycle.
type JobBoard struct {
	store     store.Store
	gw        gateway.Gateway
	policy    *AuthorizationPolicy
	teardown  *TeardownScheduler
	notifier  Notifier
	cfg       BoardConfig
	validator *validator.Validator
	now       func() time.Time
	log       *zap.SugaredLogger
}

func NewJobBoard(s store.Store, gw gateway.Gateway, policy *AuthorizationPolicy, teardown *TeardownScheduler, notifier Notifier, cfg BoardConfig) *JobBoard {
	v := validator.NewValidator()
	v.Register(validator.NewJobValidationRules()...)

	return &JobBoard{
		store:     s,
		gw:        gw,
		policy:    policy,
		teardown:  teardown,
		notifier:  notifier,
		cfg:       cfg,
		validator: v,
		now:       func() time.Time { return time.Now().UTC() },
		log:       zap.S().Named("job_board"),
	}
}

func (b *JobBoard) Policy() *AuthorizationPolicy {
	return b.policy
}

func (b *JobBoard) CreateJob(ctx context.Context, form JobForm) (*model.Job, error) {
	form = form.normalize()
	if err := b.validator.Struct(form); err != nil {
		return nil, &ErrInvalidInput{err}
	}

	var job *model.Job
	err := b.inTransaction(ctx, func(ctx context.Context) error {
		n, err := b.store.Settings().NextSequence(ctx)
		if err != nil {
			return NewErrStorage("allocate job number", err)
		}

		job, err = b.store.Job().Create(ctx, form.toJob(uuid.NewString(), n, b.now()))
		if err != nil {
			return NewErrStorage("create job", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.IncreaseJobTransitionMetric(metrics.TransitionCreated)
	b.log.Infow("job created", "job_id", job.ID, "number", job.SequenceNumber, "requester", job.RequesterID)
	b.boardChanged(ctx, events.BoardOperationCreated, job)

	return job, nil
}

// ClaimJob assigns an open job to the claimant and provisions the private
// channel of the claim. When the channel cannot be created the claim is
// given back.
func (b *JobBoard) ClaimJob(ctx context.Context, jobID, claimantID, claimantName string) (gateway.ChannelHandle, error) {
	if claimantID == "" {
		return "", NewErrInvalidInput("claimant is required")
	}

	job, err := b.store.Job().Claim(ctx, jobID, claimantID, claimantName, b.now())
	if err != nil {
		switch {
		case errors.Is(err, store.ErrRecordNotFound):
			return "", b.notFound(ctx, jobID)
		case errors.Is(err, store.ErrStaleState):
			return "", NewErrAlreadyClaimed(jobID)
		default:
			return "", NewErrStorage("claim job", err)
		}
	}

	participants := funk.UniqString([]string{job.RequesterID, claimantID})
	handle, err := b.gw.CreatePrivateChannel(ctx, channelName("job", job.SequenceNumber, job.RequesterDisplayName), participants)
	if err != nil {
		metrics.IncreaseGatewayErrorMetric("create_channel")
		b.revertClaim(ctx, jobID, claimantID)
		return "", NewErrGateway("claim job", err)
	}

	if err := b.store.Job().SetChannel(ctx, jobID, claimantID, string(handle)); err != nil {
		// nobody will use the channel
		b.teardown.Schedule(handle, 0)
		switch {
		case errors.Is(err, store.ErrRecordNotFound):
			return "", b.notFound(ctx, jobID)
		case errors.Is(err, store.ErrStaleState):
			return "", NewErrClaimLost(jobID)
		default:
			return "", NewErrStorage("claim job", err)
		}
	}

	metrics.IncreaseJobTransitionMetric(metrics.TransitionClaimed)
	b.log.Infow("job claimed", "job_id", jobID, "number", job.SequenceNumber, "claimant", claimantID, "channel", handle)
	b.boardChanged(ctx, events.BoardOperationClaimed, job)

	return handle, nil
}

func (b *JobBoard) CancelJob(ctx context.Context, jobID string, actor Actor) error {
	var released *model.Job
	err := b.inTransaction(ctx, func(ctx context.Context) error {
		job, err := b.store.Job().Lock(ctx, jobID)
		if err != nil {
			return b.lookupError(ctx, "cancel job", jobID, err)
		}
		if !b.policy.CanCancel(actor, *job) {
			return NewErrNotAuthorized(actor.ID, "cancel job "+jobID)
		}
		if !job.IsClaimed() {
			return NewErrNotClaimed(jobID)
		}

		released, err = b.store.Job().Release(ctx, jobID)
		if err != nil {
			return NewErrStorage("cancel job", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// the handle was captured before the release cleared it
	handle := gateway.ChannelHandle(released.Channel())
	announce(ctx, b.gw, b.log, handle, fmt.Sprintf("%s cancelled job **#%d**. It is back on the board and this channel will be deleted in %s.",
		actor.DisplayName, released.SequenceNumber, b.cfg.CancelTeardownDelay))
	b.teardown.Schedule(handle, b.cfg.CancelTeardownDelay)

	metrics.IncreaseJobTransitionMetric(metrics.TransitionCancelled)
	b.log.Infow("job cancelled", "job_id", jobID, "number", released.SequenceNumber, "actor", actor.ID)
	b.boardChanged(ctx, events.BoardOperationReleased, released)

	return nil
}

// CompleteJob moves a claimed job to the ledger and credits its claimant.
// The ledger row, the stats update and the removal from the board commit
// together or not at all.
func (b *JobBoard) CompleteJob(ctx context.Context, jobID string, actor Actor, rewardPoints int64) (*model.CompletionRecord, error) {
	if rewardPoints < 0 {
		return nil, NewErrInvalidReward(rewardPoints)
	}

	var (
		job    *model.Job
		record *model.CompletionRecord
	)
	err := b.inTransaction(ctx, func(ctx context.Context) error {
		var err error
		job, err = b.store.Job().Lock(ctx, jobID)
		if err != nil {
			return b.lookupError(ctx, "complete job", jobID, err)
		}
		if !job.IsClaimed() {
			return NewErrNotClaimed(jobID)
		}
		if !b.policy.CanComplete(actor, *job) {
			return NewErrNotAuthorized(actor.ID, "complete job "+jobID)
		}

		record, err = b.store.Ledger().Append(ctx, model.NewCompletionRecord(*job, actor.ID, actor.DisplayName, rewardPoints, b.now()))
		if err != nil {
			return NewErrStorage("record completion", err)
		}

		claimantID, claimantName := job.Claimant()
		if err := b.store.WorkerStats().Increment(ctx, claimantID, claimantName, 1, rewardPoints); err != nil {
			return NewErrStorage("update worker stats", err)
		}

		if err := b.store.Job().Delete(ctx, jobID, model.JobStatusClaimed); err != nil {
			if errors.Is(err, store.ErrStaleState) {
				return NewErrNotClaimed(jobID)
			}
			return NewErrStorage("remove completed job", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	handle := gateway.ChannelHandle(job.Channel())
	announce(ctx, b.gw, b.log, handle, fmt.Sprintf("Job **#%d** was completed by %s, %d points to %s. This channel will be deleted in %s.",
		job.SequenceNumber, actor.DisplayName, rewardPoints, record.ClaimantDisplayName, b.cfg.CompleteTeardownDelay))
	b.teardown.Schedule(handle, b.cfg.CompleteTeardownDelay)

	metrics.IncreaseJobTransitionMetric(metrics.TransitionCompleted)
	b.log.Infow("job completed", "job_id", jobID, "number", job.SequenceNumber, "claimant", record.ClaimantID, "points", rewardPoints)
	b.boardChanged(ctx, events.BoardOperationCompleted, job)
	b.statsChanged(ctx, "job completed")

	return record, nil
}

// ForceClose releases the job if it is still claimed and tears down the
// channel the request came from along with the job's own channel.
func (b *JobBoard) ForceClose(ctx context.Context, jobID string, channel gateway.ChannelHandle, actor Actor) error {
	if !b.policy.CanForceClose(actor) {
		return NewErrNotAuthorized(actor.ID, "force close job "+jobID)
	}

	var (
		found    bool
		released *model.Job
	)
	err := b.inTransaction(ctx, func(ctx context.Context) error {
		job, err := b.store.Job().Lock(ctx, jobID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return nil
			}
			return NewErrStorage("force close job", err)
		}
		found = true
		if !job.IsClaimed() {
			return nil
		}

		released, err = b.store.Job().Release(ctx, jobID)
		if err != nil {
			return NewErrStorage("force close job", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	targets := []string{string(channel)}
	if released != nil {
		targets = append(targets, released.Channel())
	}
	targets = funk.UniqString(funk.FilterString(targets, func(s string) bool { return s != "" }))
	if len(targets) == 0 {
		if !found {
			return b.notFound(ctx, jobID)
		}
		return NewErrNotClaimed(jobID)
	}
	for _, t := range targets {
		announce(ctx, b.gw, b.log, gateway.ChannelHandle(t), fmt.Sprintf("An administrator force closed this channel. It will be deleted in %s.", b.cfg.ForceCloseDelay))
		b.teardown.Schedule(gateway.ChannelHandle(t), b.cfg.ForceCloseDelay)
	}

	b.log.Infow("job force closed", "job_id", jobID, "released", released != nil, "actor", actor.ID)
	if released != nil {
		metrics.IncreaseJobTransitionMetric(metrics.TransitionForceClose)
		b.boardChanged(ctx, events.BoardOperationForceClose, released)
	}

	return nil
}

// DeleteJob removes a job whatever its status without writing a ledger row.
// It returns the channel of the job, whose teardown is already scheduled.
func (b *JobBoard) DeleteJob(ctx context.Context, ref JobRef, actor Actor) (gateway.ChannelHandle, error) {
	if !b.policy.CanAdminister(actor) {
		return "", NewErrNotAuthorized(actor.ID, "delete job "+ref.String())
	}

	var job *model.Job
	err := b.inTransaction(ctx, func(ctx context.Context) error {
		var err error
		job, err = b.find(ctx, ref)
		if err != nil {
			return err
		}
		if err := b.store.Job().Delete(ctx, job.ID); err != nil {
			return b.lookupError(ctx, "delete job", job.ID, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	handle := gateway.ChannelHandle(job.Channel())
	b.teardown.Schedule(handle, b.cfg.CancelTeardownDelay)

	metrics.IncreaseJobTransitionMetric(metrics.TransitionDeleted)
	b.log.Infow("job deleted", "job_id", job.ID, "number", job.SequenceNumber, "actor", actor.ID)
	b.boardChanged(ctx, events.BoardOperationDeleted, job)

	return handle, nil
}

func (b *JobBoard) GetJob(ctx context.Context, ref JobRef) (*model.Job, error) {
	return b.find(ctx, ref)
}

// ListActiveJobs returns the open and claimed jobs by ascending number.
func (b *JobBoard) ListActiveJobs(ctx context.Context) (model.JobList, error) {
	jobs, err := b.store.Job().List(ctx, nil, store.NewJobQueryOptions().WithSortOrder(store.SortBySequenceNumber))
	if err != nil {
		return nil, NewErrStorage("list jobs", err)
	}
	return jobs, nil
}

func (b *JobBoard) Statistics(ctx context.Context) (model.BoardStats, error) {
	stats, err := b.store.Statistics(ctx)
	if err != nil {
		return model.BoardStats{}, NewErrStorage("board statistics", err)
	}
	return stats, nil
}

// WorkerRankings ranks the eligible workers by score. Stats of workers
// outside the eligible set are kept but not shown.
func (b *JobBoard) WorkerRankings(ctx context.Context, eligible []string, scoring Scoring) ([]Ranking, error) {
	eligible = funk.UniqString(eligible)
	if len(eligible) == 0 {
		return []Ranking{}, nil
	}

	stats, err := b.store.WorkerStats().List(ctx, store.NewWorkerStatsQueryFilter().ByWorkerIDs(eligible))
	if err != nil {
		return nil, NewErrStorage("list worker stats", err)
	}

	rankings := make([]Ranking, 0, len(stats))
	for _, s := range stats {
		r := Ranking{
			WorkerID:    s.WorkerID,
			DisplayName: s.DisplayName,
			Completed:   s.TotalCompleted,
			Points:      s.TotalPoints,
			Score:       s.TotalPoints,
		}
		if scoring == ScoreByCount {
			r.Score = s.TotalCompleted
		}
		rankings = append(rankings, r)
	}

	slices.SortFunc(rankings, func(a, b Ranking) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName)); c != 0 {
			return c
		}
		return cmp.Compare(a.WorkerID, b.WorkerID)
	})

	return rankings, nil
}

// RecentCompletions returns the latest ledger rows, newest first. A nil
// eligible set disables the claimant filter.
func (b *JobBoard) RecentCompletions(ctx context.Context, eligible []string, limit int) (model.CompletionRecordList, error) {
	if eligible != nil && len(eligible) == 0 {
		return model.CompletionRecordList{}, nil
	}

	var filter *store.CompletionQueryFilter
	if eligible != nil {
		filter = store.NewCompletionQueryFilter().ByClaimants(funk.UniqString(eligible))
	}
	opts := store.NewCompletionQueryOptions().WithSortOrder(store.SortByCompletedTime)
	if limit > 0 {
		opts = opts.WithLimit(limit)
	}

	records, err := b.store.Ledger().List(ctx, filter, opts)
	if err != nil {
		return nil, NewErrStorage("list completions", err)
	}
	return records, nil
}

// SyncWorkers makes sure every current worker has a stats row and refreshes
// their display names. Rows are never removed.
func (b *JobBoard) SyncWorkers(ctx context.Context, workers []gateway.Member) error {
	rows := make([]model.WorkerStats, 0, len(workers))
	seen := map[string]bool{}
	for _, w := range workers {
		if w.ID == "" || seen[w.ID] {
			continue
		}
		seen[w.ID] = true
		rows = append(rows, model.WorkerStats{WorkerID: w.ID, DisplayName: w.DisplayName})
	}

	if err := b.store.WorkerStats().Ensure(ctx, rows); err != nil {
		return NewErrStorage("sync workers", err)
	}

	b.log.Debugw("workers synced", "count", len(rows))
	b.statsChanged(ctx, "workers synced")
	return nil
}

// Reset wipes the board, the ledger and the stats. Job numbers keep counting
// from where they were.
func (b *JobBoard) Reset(ctx context.Context, actor Actor) error {
	if !b.policy.CanAdminister(actor) {
		return NewErrNotAuthorized(actor.ID, "reset the board")
	}

	withChannel, err := b.store.Job().List(ctx, store.NewJobQueryFilter().WithChannel(), nil)
	if err != nil {
		return NewErrStorage("reset", err)
	}

	if err := b.store.Reset(ctx); err != nil {
		return NewErrStorage("reset", err)
	}

	for _, j := range withChannel {
		b.teardown.Schedule(gateway.ChannelHandle(j.Channel()), b.cfg.CancelTeardownDelay)
	}

	metrics.IncreaseJobTransitionMetric(metrics.TransitionReset)
	b.log.Warnw("board reset", "actor", actor.ID, "channels", len(withChannel))
	b.boardChanged(ctx, events.BoardOperationReset, nil)
	b.statsChanged(ctx, "reset")

	return nil
}

// RefreshStats asks the displays to repaint the rankings.
func (b *JobBoard) RefreshStats(ctx context.Context, reason string) {
	b.statsChanged(ctx, reason)
}

func (b *JobBoard) find(ctx context.Context, ref JobRef) (*model.Job, error) {
	var (
		job *model.Job
		err error
	)
	switch {
	case ref.ID != "":
		job, err = b.store.Job().Get(ctx, ref.ID)
	case ref.SequenceNumber > 0:
		job, err = b.store.Job().GetBySequenceNumber(ctx, ref.SequenceNumber)
	default:
		return nil, NewErrInvalidInput("invalid job reference %q", ref.String())
	}
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, store.ErrRecordNotFound) {
		return nil, NewErrStorage("get job", err)
	}
	if ref.ID != "" {
		return nil, b.notFound(ctx, ref.ID)
	}
	return nil, NewErrJobNumberNotFound(ref.SequenceNumber)
}

func (b *JobBoard) lookupError(ctx context.Context, op string, jobID string, err error) error {
	if errors.Is(err, store.ErrRecordNotFound) {
		return b.notFound(ctx, jobID)
	}
	return NewErrStorage(op, err)
}

// notFound tells a completed job apart from one that never existed or was deleted.
func (b *JobBoard) notFound(ctx context.Context, jobID string) error {
	n, err := b.store.Ledger().Count(ctx, store.NewCompletionQueryFilter().ByJobID(jobID))
	if err == nil && n > 0 {
		return NewErrJobAlreadyCompleted(jobID)
	}
	return NewErrJobNotFound(jobID)
}

func (b *JobBoard) revertClaim(ctx context.Context, jobID, claimantID string) {
	err := b.inTransaction(ctx, func(ctx context.Context) error {
		job, err := b.store.Job().Lock(ctx, jobID)
		if err != nil {
			return err
		}
		if id, _ := job.Claimant(); id != claimantID {
			return nil
		}
		_, err = b.store.Job().Release(ctx, jobID)
		return err
	})
	if err != nil {
		b.log.Errorw("failed to revert claim", "job_id", jobID, "claimant", claimantID, "error", err)
		return
	}
	b.log.Infow("claim reverted", "job_id", jobID, "claimant", claimantID)
}

// inTransaction runs fn in a transaction and commits when fn returns nil.
func (b *JobBoard) inTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return inTransaction(ctx, b.store, fn)
}

func inTransaction(ctx context.Context, s store.Store, fn func(ctx context.Context) error) error {
	txCtx, err := s.NewTransactionContext(ctx)
	if err != nil {
		return NewErrStorage("begin transaction", err)
	}

	if err := fn(txCtx); err != nil {
		_, _ = store.Rollback(txCtx)
		return err
	}

	if _, err := store.Commit(txCtx); err != nil {
		return NewErrStorage("commit transaction", err)
	}
	return nil
}

func (b *JobBoard) boardChanged(ctx context.Context, operation string, job *model.Job) {
	e := events.BoardEvent{Operation: operation}
	if job != nil {
		e.JobID = job.ID
		e.SequenceNumber = job.SequenceNumber
	}
	publish(ctx, b.notifier, events.BoardMessageKind, e)

	if stats, err := b.store.Statistics(ctx); err == nil {
		metrics.UpdateActiveJobsMetric(string(model.JobStatusOpen), stats.Open)
		metrics.UpdateActiveJobsMetric(string(model.JobStatusClaimed), stats.Claimed)
	}
}

func (b *JobBoard) statsChanged(ctx context.Context, reason string) {
	publish(ctx, b.notifier, events.StatsMessageKind, events.StatsEvent{Reason: reason})
}

func publish(ctx context.Context, n Notifier, kind string, payload any) {
	if n == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		zap.S().Named("job_board").Errorw("failed to encode event", "kind", kind, "error", err)
		return
	}
	if err := n.Write(ctx, kind, bytes.NewReader(data)); err != nil {
		zap.S().Named("job_board").Errorw("failed to publish event", "kind", kind, "error", err)
	}
}

// announce posts a notice both parties can read before their channel goes
// away. The transition has already committed, so a failure is only logged.
func announce(ctx context.Context, gw gateway.Gateway, log *zap.SugaredLogger, handle gateway.ChannelHandle, content string) {
	if handle.IsZero() {
		return
	}
	if err := gw.SendMessage(ctx, handle, content); err != nil {
		metrics.IncreaseGatewayErrorMetric("send_message")
		log.Warnw("failed to post channel notice", "channel", handle, "error", err)
	}
}

func channelName(prefix string, n int64, who string) string {
	who = strings.ToLower(strings.Join(strings.Fields(who), "-"))
	if utf8.RuneCountInString(who) > channelNameMaxUserChars {
		who = string([]rune(who)[:channelNameMaxUserChars])
	}
	if who == "" {
		return fmt.Sprintf("%s-%d", prefix, n)
	}
	return fmt.Sprintf("%s-%d-%s", prefix, n, who)
}
