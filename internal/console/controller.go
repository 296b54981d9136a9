package console

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"agent-console/internal/audit"
	"agent-console/internal/calls"
	"agent-console/internal/fault"
	"agent-console/internal/notify"
	"agent-console/internal/reporting"
	"agent-console/internal/scheduler"
	"agent-console/internal/session"
	"agent-console/internal/timer"
	"agent-console/internal/worktime"
)

// Status of the agent's work session.
type Status string

const (
	Inactive Status = "inactive"
	Active   Status = "active"
)

const (
	DefaultAutoAdvanceDelay     = 3 * time.Second
	DefaultCallbackPollInterval = 60 * time.Second
)

// Backend is the part of the CRM REST API the controller drives directly.
// Call records are opened and closed by the transports.
type Backend interface {
	StartWork(ctx context.Context) error
	StopWork(ctx context.Context) error
	NextContact(ctx context.Context, campaignID string) (*calls.Contact, error)
	SaveOutcome(ctx context.Context, out calls.CallOutcome) error
	CallHistory(ctx context.Context, contactID string) ([]calls.HistoryEntry, error)
	QueueStatus(ctx context.Context, campaignID string) (calls.QueueStatus, error)
	AddNote(ctx context.Context, contactID, text string) error
}

// Deps are the collaborators of one controller. Audit and Stats are optional.
type Deps struct {
	Backend    Backend
	Transports session.Picker
	Scheduler  *scheduler.Scheduler
	WorkStore  worktime.Store
	Notifier   *notify.Notifier
	Audit      *audit.Service
	Stats      *reporting.Service
	Logger     *slog.Logger
}

type Options struct {
	AutoAdvanceDelay     time.Duration
	CallbackPollInterval time.Duration
	WorkAutosave         time.Duration
	// Location is the agent's calendar zone; its name travels with callbacks.
	Location *time.Location
	Now      func() time.Time
	// Schedule runs f once after d and returns a cancel func. Defaults to
	// time.AfterFunc; tests replace it.
	Schedule func(d time.Duration, f func()) (cancel func())
}

// Controller is one agent's console: the work-session state machine, the
// current contact and call, and the background callback poller.
//
// Every transition happens under mu. Network calls run outside the lock; the
// pending operation name and the session state keep them from re-entering.
type Controller struct {
	agentID string
	deps    Deps
	log     *slog.Logger
	notify  *notify.Notifier
	now     func() time.Time
	loc     *time.Location

	advanceDelay time.Duration
	pollInterval time.Duration
	schedule     func(time.Duration, func()) func()

	callTimer   *timer.Timer
	recordTimer *timer.Timer
	work        *worktime.Tracker

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	status        Status
	campaignID    string
	contact       *calls.Contact
	history       []calls.HistoryEntry
	sess          *session.Session
	plan          *scheduler.Plan
	lastOutcome   *calls.CallOutcome
	pending       string
	cancelAdvance func()
	queue         queueState
	stopPoll      chan struct{}
	pollDone      chan struct{}
	disposed      bool
}

// New builds a stopped controller. Call Init before use.
func New(agentID string, deps Deps, opts Options) *Controller {
	c := &Controller{
		agentID:      agentID,
		deps:         deps,
		log:          deps.Logger,
		notify:       deps.Notifier,
		now:          opts.Now,
		loc:          opts.Location,
		advanceDelay: opts.AutoAdvanceDelay,
		pollInterval: opts.CallbackPollInterval,
		schedule:     opts.Schedule,
		status:       Inactive,
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("agent_id", agentID)
	if c.notify == nil {
		c.notify = notify.New(agentID)
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.loc == nil {
		c.loc = time.Local
	}
	if c.advanceDelay <= 0 {
		c.advanceDelay = DefaultAutoAdvanceDelay
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultCallbackPollInterval
	}
	if c.schedule == nil {
		c.schedule = func(d time.Duration, f func()) func() {
			t := time.AfterFunc(d, f)
			return func() { t.Stop() }
		}
	}

	c.callTimer = timer.New("call", c.onTimerTick, timer.WithClock(c.now))
	c.recordTimer = timer.New("record", c.onTimerTick, timer.WithClock(c.now))
	store := deps.WorkStore
	if store == nil {
		store = worktime.NewMemoryStore()
	}
	c.work = worktime.NewTracker(store, worktime.Options{
		Namespace: agentID,
		Location:  c.loc,
		Now:       c.now,
		Autosave:  opts.WorkAutosave,
		OnDisplay: c.onWorkTick,
		Logger:    c.log,
	})
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

func (c *Controller) AgentID() string { return c.agentID }

func (c *Controller) Notifier() *notify.Notifier { return c.notify }

// Location is the business zone callbacks are planned in.
func (c *Controller) Location() *time.Location { return c.loc }

// Init restores today's work time.
func (c *Controller) Init(ctx context.Context) error {
	if err := c.work.Load(ctx); err != nil {
		c.log.Warn("restoring daily work time failed", "err", err)
		return err
	}
	c.publishState()
	return nil
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SelectCampaign sets the campaign context for queue fetching and polling.
func (c *Controller) SelectCampaign(campaignID string) error {
	const op = "console.select_campaign"
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return c.fail(fault.Validation(op, "campaign_required", "campaign id is required"))
	}

	c.mu.Lock()
	if err := c.usableLocked(op); err != nil {
		c.mu.Unlock()
		return c.fail(err)
	}
	if c.sess != nil && c.sess.Busy() {
		c.mu.Unlock()
		return c.fail(fault.Precondition(op, "finish the current call before switching campaigns"))
	}
	changed := c.campaignID != campaignID
	c.campaignID = campaignID
	if changed {
		c.queue = queueState{}
	}
	restart := changed && c.status == Active
	c.mu.Unlock()

	if restart {
		c.restartPoller()
	}
	c.log.Info("campaign selected", "campaign_id", campaignID)
	c.publishState()
	return nil
}

// StartWork registers the agent as working, opens the daily work interval and
// fetches the first contact.
func (c *Controller) StartWork(ctx context.Context) error {
	const op = "console.start_work"

	c.mu.Lock()
	if err := c.usableLocked(op); err != nil {
		c.mu.Unlock()
		return c.fail(err)
	}
	if c.status == Active {
		c.mu.Unlock()
		return c.fail(fault.Precondition(op, "work is already started"))
	}
	if c.pending != "" {
		c.mu.Unlock()
		return c.fail(fault.Precondition(op, "wait for the current action to finish"))
	}
	c.pending = op
	c.mu.Unlock()

	if err := c.deps.Backend.StartWork(ctx); err != nil {
		c.clearPending(op)
		return c.fail(err)
	}

	c.mu.Lock()
	c.status = Active
	c.pending = ""
	campaignID := c.campaignID
	c.mu.Unlock()

	c.work.StartSession()
	c.startPoller()
	c.record(ctx, audit.EventWorkStarted, audit.Ref{CampaignID: campaignID}, "work started", nil)
	c.log.Info("work started", "campaign_id", campaignID)
	c.notify.Success("Work started.")
	c.publishState()

	if campaignID == "" {
		c.notify.Warning("Select a campaign to receive contacts.")
		return nil
	}
	// A failed first fetch is reported by nextContact; work stays started.
	_, _ = c.nextContact(ctx, false)
	return nil
}

// StopWork ends the work session. It is refused while a call is being placed,
// is running, or waits for its outcome.
func (c *Controller) StopWork(ctx context.Context) error {
	const op = "console.stop_work"

	c.mu.Lock()
	if err := c.usableLocked(op); err != nil {
		c.mu.Unlock()
		return c.fail(err)
	}
	if c.status != Active {
		c.mu.Unlock()
		return c.fail(fault.Precondition(op, "work is not started"))
	}
	if c.sess != nil && c.sess.Busy() {
		st := c.sess.State()
		c.mu.Unlock()
		return c.fail(fault.Precondition(op, "cannot stop work while the call is "+string(st)))
	}
	if c.pending != "" {
		c.mu.Unlock()
		return c.fail(fault.Precondition(op, "wait for the current action to finish"))
	}
	c.pending = op
	c.mu.Unlock()

	if err := c.deps.Backend.StopWork(ctx); err != nil {
		c.clearPending(op)
		return c.fail(err)
	}

	c.mu.Lock()
	c.status = Inactive
	c.pending = ""
	c.cancelAdvanceLocked()
	orphan := c.clearContactLocked()
	campaignID := c.campaignID
	c.mu.Unlock()

	c.releaseOrphan(ctx, orphan)
	c.stopPoller()
	if err := c.work.StopSession(ctx); err != nil {
		c.log.Warn("saving daily work time failed", "err", err)
	}
	c.record(ctx, audit.EventWorkStopped, audit.Ref{CampaignID: campaignID}, "work stopped",
		map[string]int{"work_today_seconds": int(c.work.Total() / time.Second)})
	c.log.Info("work stopped")
	c.notify.Success("Work stopped.")
	c.publishState()
	return nil
}

// NextContact fetches the next queue contact and shows it. An empty queue
// leaves no contact and returns nil.
func (c *Controller) NextContact(ctx context.Context) (*calls.Contact, error) {
	return c.nextContact(ctx, false)
}

func (c *Controller) nextContact(ctx context.Context, auto bool) (*calls.Contact, error) {
	const op = "console.next_contact"

	c.mu.Lock()
	err := c.usableLocked(op)
	switch {
	case err != nil:
	case c.status != Active:
		err = fault.Precondition(op, "start work first")
	case c.campaignID == "":
		err = fault.Precondition(op, "select a campaign first")
	case c.sess != nil && c.sess.Busy():
		err = fault.Precondition(op, "finish the current call first")
	case c.pending != "":
		err = fault.Precondition(op, "wait for the current action to finish")
	}
	if err != nil {
		c.mu.Unlock()
		if auto {
			c.log.Info("auto-advance skipped", "reason", err.Error())
			return nil, err
		}
		return nil, c.fail(err)
	}
	c.pending = op
	c.cancelAdvanceLocked()
	campaignID := c.campaignID
	c.mu.Unlock()

	contact, err := c.deps.Backend.NextContact(ctx, campaignID)
	if err != nil {
		c.clearPending(op)
		return nil, c.fail(err)
	}

	c.mu.Lock()
	c.pending = ""
	orphan := c.clearContactLocked()
	if contact == nil {
		c.mu.Unlock()
		c.releaseOrphan(ctx, orphan)
		c.log.Info("queue empty", "campaign_id", campaignID)
		c.notify.Warning("No contacts in the queue.")
		c.publishState()
		return nil, nil
	}
	shown := *contact
	c.contact = &shown
	c.sess = session.New(shown, c.deps.Transports, c.callTimer, c.recordTimer, session.Options{
		Logger:    c.log,
		OnDropped: c.onDropped,
	})
	c.recordTimer.Start()
	c.mu.Unlock()

	c.releaseOrphan(ctx, orphan)
	c.log.Info("contact shown", "contact_id", shown.ID, "priority", shown.Priority)
	c.publishState()
	c.loadHistory(ctx, shown.ID)
	return &shown, nil
}

// loadHistory is display only; failures are logged.
func (c *Controller) loadHistory(ctx context.Context, contactID string) {
	h, err := c.deps.Backend.CallHistory(ctx, contactID)
	if err != nil {
		c.log.Warn("call history unavailable", "contact_id", contactID, "err", err)
		return
	}
	c.mu.Lock()
	if c.contact == nil || c.contact.ID != contactID {
		c.mu.Unlock()
		return
	}
	c.history = h
	c.mu.Unlock()
	c.publishState()
}

// Dial places the call to the current contact.
func (c *Controller) Dial(ctx context.Context) error {
	const op = "console.dial"

	c.mu.Lock()
	sess, err := c.sessionLocked(op)
	if err == nil && c.pending != "" {
		err = fault.Precondition(op, "wait for the current action to finish")
	}
	if err != nil {
		c.mu.Unlock()
		return c.fail(err)
	}
	// Held until the placement settles so the contact cannot be replaced
	// or work stopped under a call that is about to go live.
	c.pending = op
	c.mu.Unlock()

	err = sess.Dial(ctx)
	c.clearPending(op)
	if err != nil {
		c.publishState()
		return c.fail(err)
	}
	p := sess.Placement()
	c.record(ctx, audit.EventCallPlaced, c.ref(p.CallID, ""), "call placed via "+p.Transport, nil)
	c.publishState()
	return nil
}

// EndCall hangs up. Hangup failures never keep the call open.
func (c *Controller) EndCall(ctx context.Context) error {
	const op = "console.end_call"

	c.mu.Lock()
	sess, err := c.sessionLocked(op)
	c.mu.Unlock()
	if err != nil {
		return c.fail(err)
	}

	wasEnded := sess.State() == session.Ended
	if err := sess.End(ctx); err != nil {
		return c.fail(err)
	}
	if !wasEnded {
		callSec, _ := sess.Durations()
		c.record(ctx, audit.EventCallEnded, c.ref(sess.CallID(), ""), "call ended",
			map[string]int{"call_duration_seconds": callSec})
	}
	c.publishState()
	return nil
}

func (c *Controller) onDropped() {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return
	}
	c.record(c.ctx, audit.EventCallDropped, c.ref(sess.CallID(), ""), "call dropped by transport", nil)
	c.notify.Warning("The call was disconnected.")
	c.publishState()
}

// PlanCallback validates a callback time and keeps the corrected plan for
// confirmation. A plan must be confirmed before a callback outcome is saved.
func (c *Controller) PlanCallback(at time.Time, notes string) (*scheduler.Plan, error) {
	const op = "console.plan_callback"

	c.mu.Lock()
	if _, err := c.sessionLocked(op); err != nil {
		c.mu.Unlock()
		return nil, c.fail(err)
	}
	c.plan = nil
	c.mu.Unlock()

	plan, err := c.deps.Scheduler.Plan(at, notes)
	if err != nil {
		c.publishState()
		return nil, c.fail(err)
	}

	c.mu.Lock()
	c.plan = plan
	c.mu.Unlock()

	for _, n := range plan.Notices {
		c.notify.Warning(n)
	}
	c.publishState()
	return plan, nil
}

// ConfirmCallback marks the pending plan as confirmed by the agent.
func (c *Controller) ConfirmCallback() (*scheduler.Plan, error) {
	const op = "console.confirm_callback"

	c.mu.Lock()
	plan := c.plan
	if plan == nil {
		c.mu.Unlock()
		return nil, c.fail(fault.Precondition(op, "no callback to confirm; plan one first"))
	}
	plan.Confirm()
	c.mu.Unlock()

	c.publishState()
	return plan, nil
}

// SaveOutcome classifies the ended call and submits it. On success the call
// is discarded and the next contact is fetched once after the auto-advance
// delay. On failure nothing changes and the agent may retry.
func (c *Controller) SaveOutcome(ctx context.Context, outcome calls.Outcome, notes string) error {
	const op = "console.save_outcome"

	if !outcome.Valid() {
		return c.fail(fault.Validation(op, "outcome", "unknown outcome "+string(outcome)))
	}

	c.mu.Lock()
	sess, err := c.sessionLocked(op)
	if err == nil && c.pending != "" {
		err = fault.Precondition(op, "wait for the current action to finish")
	}
	var callbackAt *time.Time
	if err == nil && outcome == calls.OutcomeCallback {
		switch {
		case c.plan == nil:
			err = fault.Validation(op, "callback_date_required", "plan a callback date first")
		case !c.plan.Confirmed():
			err = fault.Validation(op, "confirmation_required", "confirm the callback date first")
		default:
			at := c.plan.At
			callbackAt = &at
			if strings.TrimSpace(notes) == "" {
				notes = c.plan.Notes
			}
		}
	}
	if err != nil {
		c.mu.Unlock()
		return c.fail(err)
	}
	c.pending = op
	c.mu.Unlock()

	// Time may have passed since the plan was confirmed.
	if callbackAt != nil {
		if err := c.deps.Scheduler.Check(*callbackAt); err != nil {
			c.clearPending(op)
			return c.fail(err)
		}
	}

	out, err := sess.Outcome(outcome, strings.TrimSpace(notes), callbackAt, c.loc.String())
	if err != nil {
		c.clearPending(op)
		return c.fail(err)
	}
	if err := c.deps.Backend.SaveOutcome(ctx, out); err != nil {
		sess.Reopen()
		c.clearPending(op)
		c.publishState()
		return c.fail(err)
	}

	c.mu.Lock()
	c.pending = ""
	c.sess = nil
	c.plan = nil
	c.lastOutcome = &out
	campaignID := c.campaignID
	if c.status == Active {
		c.cancelAdvanceLocked()
		c.cancelAdvance = c.schedule(c.advanceDelay, c.autoAdvance)
	}
	c.mu.Unlock()

	if c.deps.Stats != nil {
		if err := c.deps.Stats.RecordOutcome(ctx, c.agentID, campaignID, out); err != nil {
			c.log.Warn("recording outcome stats failed", "call_id", out.CallID, "err", err)
		}
	}
	c.record(ctx, audit.EventOutcomeSaved, c.ref(out.CallID, string(out.Outcome)), "outcome saved", out)
	if out.CallbackDate != nil {
		c.record(ctx, audit.EventCallbackScheduled, c.ref(out.CallID, string(out.Outcome)),
			"callback on "+out.CallbackDate.Format(time.RFC3339), nil)
	}
	c.log.Info("outcome saved", "call_id", out.CallID, "outcome", out.Outcome,
		"call_seconds", out.CallDurationSeconds, "record_seconds", out.RecordDurationSeconds)
	c.notify.Success("Outcome saved. Next contact in " + timer.Format(c.advanceDelay) + ".")
	c.publishState()
	return nil
}

func (c *Controller) autoAdvance() {
	c.mu.Lock()
	c.cancelAdvance = nil
	active := c.status == Active && !c.disposed
	c.mu.Unlock()
	if !active {
		return
	}
	_, _ = c.nextContact(c.ctx, true)
}

// AddNote appends a free-text note to the current contact.
func (c *Controller) AddNote(ctx context.Context, text string) error {
	const op = "console.add_note"

	text = strings.TrimSpace(text)
	if text == "" {
		return c.fail(fault.Validation(op, "note_empty", "note text is required"))
	}

	c.mu.Lock()
	err := c.usableLocked(op)
	var contactID string
	if err == nil {
		if c.contact == nil {
			err = fault.Precondition(op, "no contact is shown")
		} else {
			contactID = c.contact.ID
		}
	}
	c.mu.Unlock()
	if err != nil {
		return c.fail(err)
	}

	if err := c.deps.Backend.AddNote(ctx, contactID, text); err != nil {
		return c.fail(err)
	}
	c.record(ctx, audit.EventNoteAdded, audit.Ref{ContactID: contactID}, text, nil)
	c.notify.Success("Note added.")
	return nil
}

// Dispose is the unload path: it persists the day's work time, stops every
// background loop and releases the transport of a live call. The backend is
// not told that work stopped.
func (c *Controller) Dispose(ctx context.Context) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.cancelAdvanceLocked()
	sess := c.sess
	c.mu.Unlock()

	c.stopPoller()
	if sess != nil {
		sess.Close(ctx)
	}
	c.callTimer.Reset()
	c.recordTimer.Reset()
	if err := c.work.Close(ctx); err != nil {
		c.log.Warn("persisting daily work time on dispose failed", "err", err)
	}
	c.cancel()
	c.log.Info("console disposed")
}

func (c *Controller) usableLocked(op string) error {
	if c.disposed {
		return fault.Precondition(op, "console is closed")
	}
	return nil
}

func (c *Controller) sessionLocked(op string) (*session.Session, error) {
	if err := c.usableLocked(op); err != nil {
		return nil, err
	}
	if c.sess == nil {
		return nil, fault.Precondition(op, "no contact to call")
	}
	return c.sess, nil
}

// clearContactLocked drops the shown contact. A session that still holds a
// call is returned so the caller can release it outside the lock.
func (c *Controller) clearContactLocked() *session.Session {
	var orphan *session.Session
	if c.sess != nil && c.sess.Busy() {
		orphan = c.sess
	}
	c.contact = nil
	c.history = nil
	c.sess = nil
	c.plan = nil
	c.lastOutcome = nil
	c.callTimer.Reset()
	c.recordTimer.Reset()
	return orphan
}

func (c *Controller) releaseOrphan(ctx context.Context, sess *session.Session) {
	if sess == nil {
		return
	}
	c.log.Warn("releasing call of a cleared contact", "call_id", sess.CallID(), "state", sess.State())
	sess.Close(context.WithoutCancel(ctx))
}

func (c *Controller) cancelAdvanceLocked() {
	if c.cancelAdvance != nil {
		c.cancelAdvance()
		c.cancelAdvance = nil
	}
}

func (c *Controller) clearPending(op string) {
	c.mu.Lock()
	if c.pending == op {
		c.pending = ""
	}
	c.mu.Unlock()
}

func (c *Controller) fail(err error) error {
	c.notify.Fail(err)
	return err
}

func (c *Controller) ref(callID, outcome string) audit.Ref {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := audit.Ref{CampaignID: c.campaignID, CallID: callID, Outcome: outcome}
	if c.contact != nil {
		r.ContactID = c.contact.ID
	}
	return r
}

// record appends an audit event. Audit never blocks the console.
func (c *Controller) record(ctx context.Context, typ audit.EventType, ref audit.Ref, msg string, meta any) {
	if c.deps.Audit == nil {
		return
	}
	if err := c.deps.Audit.Record(context.WithoutCancel(ctx), c.agentID, typ, ref, msg, meta); err != nil {
		c.log.Warn("audit append failed", "type", typ, "err", err)
	}
}

func (c *Controller) onTimerTick(name string, elapsed time.Duration) {
	c.notify.Display(notify.KindTick, TickView{Timer: name, Elapsed: timer.Format(elapsed)})
}

func (c *Controller) onWorkTick(total time.Duration) {
	c.notify.Display(notify.KindTick, TickView{Timer: "work", Elapsed: timer.Format(total)})
}

func (c *Controller) publishState() {
	c.notify.Display(notify.KindState, c.Snapshot())
}
