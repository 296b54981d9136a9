package console

import (
	"context"
	"fmt"
	"time"

	"agent-console/internal/calls"
	"agent-console/internal/notify"
	"agent-console/internal/timer"
)

// queueState is the last queue snapshot. The countdown is derived from it
// every second without fetching again.
type queueState struct {
	status      calls.QueueStatus
	fetchedAt   time.Time
	fetched     bool
	dueNotified bool
}

func (q queueState) due(now time.Time) bool {
	return q.status.NextCallbackAt != nil && !q.status.NextCallbackAt.After(now)
}

func (q queueState) countdown(now time.Time) (time.Duration, bool) {
	if q.status.NextCallbackAt == nil {
		return 0, false
	}
	d := q.status.NextCallbackAt.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

func (c *Controller) startPoller() {
	c.mu.Lock()
	// Work may have stopped while a campaign switch was restarting it.
	if c.stopPoll != nil || c.disposed || c.status != Active {
		c.mu.Unlock()
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	c.stopPoll, c.pollDone = stop, done
	c.mu.Unlock()

	go c.pollLoop(stop, done)
}

func (c *Controller) stopPoller() {
	c.mu.Lock()
	stop, done := c.stopPoll, c.pollDone
	c.stopPoll, c.pollDone = nil, nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

func (c *Controller) restartPoller() {
	c.stopPoller()
	c.startPoller()
}

func (c *Controller) pollLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	_, _ = c.PollQueue(ctx)

	poll := time.NewTicker(c.pollInterval)
	defer poll.Stop()
	countdown := time.NewTicker(timer.TickInterval)
	defer countdown.Stop()

	for {
		select {
		case <-stop:
			return
		case <-poll.C:
			_, _ = c.PollQueue(ctx)
		case <-countdown.C:
			c.tickCountdown()
		}
	}
}

// PollQueue fetches the queue status for the selected campaign. Failures are
// logged only; the poller tries again on its next tick.
func (c *Controller) PollQueue(ctx context.Context) (calls.QueueStatus, error) {
	c.mu.Lock()
	campaignID := c.campaignID
	c.mu.Unlock()
	if campaignID == "" {
		return calls.QueueStatus{}, nil
	}

	qs, err := c.deps.Backend.QueueStatus(ctx, campaignID)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn("queue status poll failed", "campaign_id", campaignID, "err", err)
		}
		return calls.QueueStatus{}, err
	}

	c.mu.Lock()
	if c.campaignID != campaignID {
		c.mu.Unlock()
		return qs, nil
	}
	c.queue.status = qs
	c.queue.fetchedAt = c.now()
	c.queue.fetched = true
	notifyDue := c.checkDueLocked()
	c.mu.Unlock()

	if notifyDue {
		c.notifyDue(qs.PendingCallbacks)
	}
	c.publishState()
	return qs, nil
}

func (c *Controller) tickCountdown() {
	c.mu.Lock()
	now := c.now()
	remaining, ok := c.queue.countdown(now)
	pending := c.queue.status.PendingCallbacks
	notifyDue := c.checkDueLocked()
	c.mu.Unlock()

	if ok {
		c.notify.Display(notify.KindTick, TickView{Timer: "callback", Elapsed: timer.Format(remaining)})
	}
	if notifyDue {
		c.notifyDue(pending)
	}
}

// checkDueLocked reports whether a due callback was not announced yet. The
// notice is repeated only after the due state cleared.
func (c *Controller) checkDueLocked() bool {
	due := c.queue.due(c.now())
	announce := due && !c.queue.dueNotified
	c.queue.dueNotified = due
	return announce
}

func (c *Controller) notifyDue(pending int) {
	c.notify.Warning(fmt.Sprintf("A scheduled callback is due (%d pending).", pending))
}
