package service

import (
	"context"
	"sync"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"github.com/pusherbot/pusherbot/internal/gateway"
	"github.com/pusherbot/pusherbot/pkg/metrics"
	"go.uber.org/zap"
)

// StatsRefresher periodically syncs the worker role members into the stats
// table, which also asks the displays to repaint the rankings.
type StatsRefresher struct {
	board        *JobBoard
	gw           gateway.Gateway
	workerRoleID string
	interval     time.Duration
	log          *zap.SugaredLogger

	lock    sync.RWMutex
	workers map[string]bool
}

func NewStatsRefresher(board *JobBoard, gw gateway.Gateway, workerRoleID string, interval time.Duration) *StatsRefresher {
	return &StatsRefresher{
		board:        board,
		gw:           gw,
		workerRoleID: workerRoleID,
		interval:     interval,
		log:          zap.S().Named("stats_refresher"),
		workers:      map[string]bool{},
	}
}

// Run refreshes once and then on every tick until ctx is done.
func (r *StatsRefresher) Run(ctx context.Context) {
	ticker := jitterbug.New(r.interval, &jitterbug.Norm{Stdev: r.interval / 100, Mean: 0})
	defer ticker.Stop()

	r.Refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Refresh(ctx)
		}
	}
}

func (r *StatsRefresher) Refresh(ctx context.Context) {
	if r.workerRoleID == "" {
		r.board.RefreshStats(ctx, "periodic")
		return
	}

	members, err := r.gw.QueryRoleMembers(ctx, r.workerRoleID)
	if err != nil {
		metrics.IncreaseGatewayErrorMetric("query_role_members")
		r.log.Warnw("failed to list workers", "role", r.workerRoleID, "error", err)
		return
	}

	if err := r.board.SyncWorkers(ctx, members); err != nil {
		r.log.Errorw("failed to sync workers", "error", err)
		return
	}
	roster := make(map[string]bool, len(members))
	for _, m := range members {
		roster[m.ID] = true
	}
	r.lock.Lock()
	r.workers = roster
	r.lock.Unlock()

	r.log.Debugw("stats refreshed", "workers", len(members))
}

// KnowsWorker reports whether the user held the worker role at the last
// successful refresh.
func (r *StatsRefresher) KnowsWorker(userID string) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.workers[userID]
}
