package service

import (
	"context"
	"sync"
	"time"

	"github.com/pusherbot/pusherbot/internal/gateway"
	"github.com/pusherbot/pusherbot/pkg/metrics"
	"go.uber.org/zap"
)

const teardownCallTimeout = 30 * time.Second

type afterFunc func(d time.Duration, f func()) stopper

type stopper interface {
	Stop() bool
}

func realAfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

type pendingTeardown struct {
	timer stopper
}

// TeardownScheduler deletes private channels after a delay. Each pending
// deletion is keyed by the channel handle captured when it was scheduled, so
// it never looks up a job's current channel.
type TeardownScheduler struct {
	gw        gateway.Gateway
	afterFunc afterFunc
	lock      sync.Mutex
	pending   map[gateway.ChannelHandle]*pendingTeardown
	stopped   bool
	wg        sync.WaitGroup
	log       *zap.SugaredLogger
}

func NewTeardownScheduler(gw gateway.Gateway) *TeardownScheduler {
	return &TeardownScheduler{
		gw:        gw,
		afterFunc: realAfterFunc,
		pending:   make(map[gateway.ChannelHandle]*pendingTeardown),
		log:       zap.S().Named("teardown_scheduler"),
	}
}

// Schedule deletes the channel after delay. Scheduling a handle that is
// already pending replaces the previous timer.
func (t *TeardownScheduler) Schedule(handle gateway.ChannelHandle, delay time.Duration) {
	if handle.IsZero() {
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	if t.stopped {
		return
	}

	if prev, found := t.pending[handle]; found && prev.timer.Stop() {
		t.wg.Done()
	}

	entry := &pendingTeardown{}
	t.wg.Add(1)
	entry.timer = t.afterFunc(delay, func() { t.fire(handle, entry) })
	t.pending[handle] = entry

	t.log.Debugw("channel teardown scheduled", "channel", handle, "delay", delay)
}

// Cancel drops a pending deletion. It reports whether one was pending.
func (t *TeardownScheduler) Cancel(handle gateway.ChannelHandle) bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	entry, found := t.pending[handle]
	if !found {
		return false
	}
	delete(t.pending, handle)
	if entry.timer.Stop() {
		t.wg.Done()
		metrics.IncreaseChannelTeardownMetric(metrics.TeardownCancelled)
		return true
	}
	return false
}

func (t *TeardownScheduler) Pending() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.pending)
}

// Stop cancels every pending deletion and waits for running ones.
func (t *TeardownScheduler) Stop() {
	t.lock.Lock()
	t.stopped = true
	for handle, entry := range t.pending {
		if entry.timer.Stop() {
			t.wg.Done()
		}
		delete(t.pending, handle)
	}
	t.lock.Unlock()

	t.wg.Wait()
}

func (t *TeardownScheduler) fire(handle gateway.ChannelHandle, entry *pendingTeardown) {
	defer t.wg.Done()

	t.lock.Lock()
	if current, found := t.pending[handle]; found && current == entry {
		delete(t.pending, handle)
	}
	t.lock.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), teardownCallTimeout)
	defer cancel()

	if err := t.gw.DeleteChannel(ctx, handle); err != nil {
		t.log.Warnw("failed to delete channel", "channel", handle, "error", err)
		metrics.IncreaseChannelTeardownMetric(metrics.TeardownFailed)
		return
	}

	t.log.Infow("channel deleted", "channel", handle)
	metrics.IncreaseChannelTeardownMetric(metrics.TeardownSucceeded)
}
