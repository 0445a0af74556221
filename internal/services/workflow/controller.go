// -----------------------------------------------------------------------
// Workflow Controller - single owner of all per-job workflow state
// -----------------------------------------------------------------------

package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/opsdeck/internal/common"
	"github.com/ternarybob/opsdeck/internal/interfaces"
	"github.com/ternarybob/opsdeck/internal/models"
	"github.com/ternarybob/opsdeck/internal/services/dedup"
	"github.com/ternarybob/opsdeck/internal/services/extractor"
	"github.com/ternarybob/opsdeck/internal/services/progress"
	"github.com/ternarybob/opsdeck/internal/services/subscriptions"
)

// Options tunes a Controller
type Options struct {
	ProgressMode           progress.Mode
	DebounceWindow         time.Duration
	SettleDelay            time.Duration // Delay before event-driven phase changes; 0 applies them at once
	DedupCapacity          int
	MaxLogEntries          int
	TextCompletionFallback bool
	Clock                  common.Clock
}

// OptionsFromConfig converts the [workflow] config section
func OptionsFromConfig(cfg common.WorkflowConfig) Options {
	return Options{
		ProgressMode:           progress.Mode(cfg.ProgressMode),
		DebounceWindow:         common.ParseDuration(cfg.DebounceWindow, progress.DefaultWindow),
		SettleDelay:            common.ParseDuration(cfg.SettleDelay, 1500*time.Millisecond),
		DedupCapacity:          cfg.DedupCapacity,
		MaxLogEntries:          cfg.MaxLogEntries,
		TextCompletionFallback: cfg.TextCompletionFallback,
	}
}

const defaultMaxLogEntries = 2000

// Dependencies are the collaborators of a Controller. Storage and Events are optional.
type Dependencies struct {
	Transport interfaces.Transport
	Starter   interfaces.OperationStarter
	Storage   interfaces.JobHistoryStorage
	Events    interfaces.EventService
	Logger    arbor.ILogger
}

type pendingTransition struct {
	target models.Phase
	timer  common.Timer
}

// Controller owns the workflow: phase, job handles, derived job state, log history.
// All of that state is confined to one goroutine started by Start; every public method
// passes a closure to it and waits, so callers never touch state directly.
type Controller struct {
	instanceID string
	opts       Options
	clock      common.Clock
	transport  interfaces.Transport
	starter    interfaces.OperationStarter
	storage    interfaces.JobHistoryStorage
	events     interfaces.EventService
	logger     arbor.ILogger

	inbox     chan func()
	quit      chan struct{}
	dirty     chan struct{}
	startOnce sync.Once
	closeOnce sync.Once

	// Owned by the loop goroutine
	phase         models.Phase
	connection    models.ConnectionStatus
	preCheckJob   *models.JobHandle
	executeJob    *models.JobHandle
	request       *models.OperationRequest
	state         *jobState
	logs          []models.JobLogEntry
	logSeq        int64
	pending       *pendingTransition
	transitionGen uint64
	resetGen      uint64
	startInFlight bool
	jobStarted    map[models.Slot]time.Time
	finishedJobs  map[string]bool
	updatedAt     time.Time

	subs     *subscriptions.Manager
	dedup    *dedup.Deduplicator
	progress *progress.Aggregator
	router   *Router
}

// NewController creates a controller in the configure phase. Call Start before use.
func NewController(deps Dependencies, opts Options) (*Controller, error) {
	if deps.Transport == nil {
		return nil, fmt.Errorf("workflow controller requires a transport")
	}
	if deps.Starter == nil {
		return nil, fmt.Errorf("workflow controller requires an operation starter")
	}
	if deps.Logger == nil {
		deps.Logger = common.GetLogger()
	}
	if opts.Clock == nil {
		opts.Clock = common.NewRealClock()
	}
	if opts.MaxLogEntries <= 0 {
		opts.MaxLogEntries = defaultMaxLogEntries
	}

	deduper, err := dedup.New(opts.DedupCapacity, deps.Logger)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		instanceID:   common.NewInstanceID(),
		opts:         opts,
		clock:        opts.Clock,
		transport:    deps.Transport,
		starter:      deps.Starter,
		storage:      deps.Storage,
		events:       deps.Events,
		logger:       deps.Logger,
		inbox:        make(chan func(), 64),
		quit:         make(chan struct{}),
		dirty:        make(chan struct{}, 1),
		phase:        models.PhaseConfigure,
		connection:   models.ConnectionDisconnected,
		state:        newJobState(),
		jobStarted:   make(map[models.Slot]time.Time),
		finishedJobs: make(map[string]bool),
		subs:         subscriptions.NewManager(deps.Transport, deps.Logger),
		dedup:        deduper,
	}
	if deps.Transport.IsConnected() {
		c.connection = models.ConnectionConnected
	}

	c.progress = progress.NewAggregator(opts.ProgressMode, opts.DebounceWindow, c.clock, c.onProgressChanged, deps.Logger)
	c.router = newRouter(c.state, c.progress, c.appendLog, opts.TextCompletionFallback, deps.Logger)
	c.updatedAt = c.clock.Now()

	return c, nil
}

// InstanceID identifies this controller
func (c *Controller) InstanceID() string {
	return c.instanceID
}

// Start runs the state-owning loop until ctx is cancelled or Close is called
func (c *Controller) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		common.SafeGo(c.logger, "workflow-controller", func() {
			c.run(ctx)
		})
		c.logger.Info().
			Str("instance_id", c.instanceID).
			Str("progress_mode", string(c.progress.Mode())).
			Str("settle_delay", c.opts.SettleDelay.String()).
			Msg("Workflow controller started")
	})
}

// Close stops the loop. Every later action returns ErrControllerClosed.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		close(c.quit)
	})
	return nil
}

func (c *Controller) run(ctx context.Context) {
	defer c.shutdown()
	for {
		select {
		case fn := <-c.inbox:
			fn()
		case <-c.dirty:
			c.changed()
		case <-ctx.Done():
			_ = c.Close()
			return
		case <-c.quit:
			return
		}
	}
}

// shutdown runs on the loop goroutine after it stops receiving work
func (c *Controller) shutdown() {
	c.cancelPendingTransition()
	c.progress.Reset()
	c.logger.Info().Str("instance_id", c.instanceID).Msg("Workflow controller stopped")
}

// do runs fn on the loop goroutine and waits for it to finish. ctx bounds only the wait
// to enqueue: once fn is queued it runs to completion, so its effects are always observed.
func (c *Controller) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}

	select {
	case <-c.quit:
		return ErrControllerClosed
	default:
	}

	select {
	case c.inbox <- wrapped:
	case <-c.quit:
		return ErrControllerClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-c.quit:
		return ErrControllerClosed
	}
}

// post queues fn without waiting. Used by timer callbacks.
func (c *Controller) post(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.quit:
	}
}

// ---------------------------------------------------------------------
// Inbound stream
// ---------------------------------------------------------------------

// Deliver processes one raw relay frame and returns once its side effects are applied.
// Frames must be delivered from a single reader to keep per-channel order.
func (c *Controller) Deliver(ctx context.Context, raw []byte) error {
	ev := extractor.Extract(raw)
	return c.do(ctx, func() {
		c.process(ev)
	})
}

func (c *Controller) process(ev models.NormalizedEvent) {
	if ev.Channel != "" && !c.subs.Matches(ev.Channel) {
		c.logger.Debug().
			Str("channel", ev.Channel).
			Str("event_type", string(ev.EventType)).
			Msg("Frame for inactive channel dropped")
		return
	}

	if !c.dedup.ShouldProcess(ev) {
		return
	}

	decision := c.router.Route(ev, c.phase)

	if decision.Finished {
		c.jobFinished()
	}
	if decision.Transition != "" {
		c.requestTransition(decision.Transition)
	}

	c.changed()
}

// SetConnection records a transport status change. On reconnect, held subscriptions are re-sent.
func (c *Controller) SetConnection(status models.ConnectionStatus) {
	c.post(func() {
		previous := c.connection
		c.connection = status
		if status == models.ConnectionConnected && previous != models.ConnectionConnected {
			if err := c.subs.Resubscribe(context.Background()); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to resubscribe after reconnect")
			}
		}
		if status != previous {
			c.logger.Info().
				Str("from", string(previous)).
				Str("to", string(status)).
				Msg("Relay connection status changed")
			c.changed()
		}
	})
}

// ---------------------------------------------------------------------
// User actions
// ---------------------------------------------------------------------

// StartPreCheck validates the request, starts a pre-check job on the backend and subscribes to its channel.
// Returns ValidationError, ConnectionError, GuardError or OperationError; on any error nothing is subscribed.
func (c *Controller) StartPreCheck(ctx context.Context, req models.OperationRequest) (*models.JobHandle, error) {
	if err := req.Validate(); err != nil {
		verr := newValidationError(err)
		_ = c.do(ctx, func() { c.systemLog(models.LevelWarning, verr.Error()) })
		return nil, verr
	}
	if req.RequestID == "" {
		req.RequestID = common.NewRequestID()
	}

	var gen uint64
	var guardErr error
	if err := c.do(ctx, func() {
		guardErr = c.checkStart("start pre-check", models.PhaseConfigure)
		if guardErr == nil {
			c.startInFlight = true
			gen = c.resetGen
		}
	}); err != nil {
		return nil, err
	}
	if guardErr != nil {
		return nil, guardErr
	}

	c.logger.Info().
		Str("request_id", req.RequestID).
		Str("target", req.Target()).
		Str("command", req.Command).
		Int("checks", len(req.SelectedChecks)).
		Msg("Starting pre-check job")

	resp, err := c.starter.StartPreCheck(ctx, req)
	return c.commitStart(models.PhasePreCheck, gen, &req, resp, err)
}

// StartExecute starts the reviewed operation. The review gate must be open: phase REVIEW,
// a summary with can_proceed, and a connected transport.
func (c *Controller) StartExecute(ctx context.Context) (*models.JobHandle, error) {
	var gen uint64
	var guardErr error
	var execReq models.ExecuteRequest

	if err := c.do(ctx, func() {
		guardErr = c.checkStart("start execute", models.PhaseReview)
		if guardErr != nil {
			return
		}
		switch {
		case c.state.summary == nil:
			guardErr = &GuardError{Action: "start execute", Phase: c.phase, Reason: "no pre-check summary"}
		case !c.state.summary.CanProceed:
			guardErr = &GuardError{Action: "start execute", Phase: c.phase, Reason: "pre-check summary does not allow proceeding"}
		case c.request == nil || c.preCheckJob == nil:
			guardErr = &GuardError{Action: "start execute", Phase: c.phase, Reason: "no reviewed pre-check request"}
		}
		if guardErr != nil {
			c.systemLog(models.LevelWarning, guardErr.Error())
			return
		}
		c.startInFlight = true
		gen = c.resetGen
		execReq = models.ExecuteRequest{OperationRequest: *c.request, PreCheckJobID: c.preCheckJob.JobID}
	}); err != nil {
		return nil, err
	}
	if guardErr != nil {
		return nil, guardErr
	}

	c.logger.Info().
		Str("pre_check_job_id", execReq.PreCheckJobID).
		Str("target", execReq.Target()).
		Msg("Starting execute job")

	resp, err := c.starter.StartExecute(ctx, execReq)
	return c.commitStart(models.PhaseExecute, gen, nil, resp, err)
}

// checkStart enforces the phase, connection and single-flight guards of a start action
func (c *Controller) checkStart(action string, want models.Phase) error {
	if c.phase != want {
		return &GuardError{Action: action, Phase: c.phase, Reason: fmt.Sprintf("requires phase %s", want)}
	}
	if c.startInFlight {
		return &GuardError{Action: action, Phase: c.phase, Reason: "a job start is already in progress"}
	}
	if !c.transport.IsConnected() {
		err := &ConnectionError{Action: action, Status: c.connection}
		c.systemLog(models.LevelError, err.Error())
		return err
	}
	return nil
}

// commitStart applies the backend reply on the loop goroutine. A failed call never subscribes;
// a reply that arrives after a reset is discarded.
func (c *Controller) commitStart(
	phase models.Phase,
	gen uint64,
	req *models.OperationRequest,
	resp *models.JobStartResponse,
	callErr error,
) (*models.JobHandle, error) {
	slot := models.SlotPreCheck
	if phase == models.PhaseExecute {
		slot = models.SlotExecute
	}
	if callErr == nil && (resp == nil || resp.JobID == "") {
		callErr = fmt.Errorf("backend response carried no job_id")
	}

	var handle *models.JobHandle
	var result error

	// Committed even if the caller's context is done, so the in-flight flag is always cleared
	if err := c.do(context.Background(), func() {
		// After a reset the flag belongs to whichever start came next, and the reply is stale
		if gen != c.resetGen {
			result = &GuardError{Action: "start " + string(slot), Phase: c.phase, Reason: "workflow changed while the job was starting"}
			event := c.logger.Warn()
			if callErr == nil {
				event = event.Str("job_id", resp.JobID)
			}
			event.Msg("Discarding job start reply after workflow reset")
			return
		}
		c.startInFlight = false

		if callErr != nil {
			result = &OperationError{Slot: slot, Message: "failed to start job", Err: callErr}
			c.state.lastError = result.Error()
			c.systemLog(models.LevelError, result.Error())
			c.changed()
			return
		}

		wantPhase := models.PhaseConfigure
		if phase == models.PhaseExecute {
			wantPhase = models.PhaseReview
		}
		if c.phase != wantPhase {
			result = &GuardError{Action: "start " + string(slot), Phase: c.phase, Reason: "workflow changed while the job was starting"}
			c.logger.Warn().Str("job_id", resp.JobID).Msg("Discarding job start reply, phase changed")
			return
		}

		h := models.NewJobHandle(resp.JobID, resp.Channel, phase)
		handle = &h
		c.beginJob(h, req)
	}); err != nil {
		return nil, err
	}

	if result != nil {
		return nil, result
	}
	return handle, nil
}

// beginJob resets derived state for the new job, subscribes and enters the job phase
func (c *Controller) beginJob(h models.JobHandle, req *models.OperationRequest) {
	slot := h.Slot()
	c.state.startJob(slot)
	c.progress.Reset()
	c.dedup.Reset()

	if slot == models.SlotPreCheck {
		c.logs = nil
		c.preCheckJob = &h
		c.executeJob = nil
		c.request = req
	} else {
		c.executeJob = &h
	}
	c.jobStarted[slot] = c.clock.Now()

	c.transition(h.Phase)

	if err := c.subs.Subscribe(context.Background(), h); err != nil {
		c.state.lastError = err.Error()
		c.systemLog(models.LevelError, fmt.Sprintf("Subscription to %s failed, will retry on reconnect: %v", h.Channel, err))
	}
	c.systemLog(models.LevelInfo, fmt.Sprintf("%s job %s started on channel %s", slot, h.JobID, h.Channel))
	c.changed()
}

// Reset returns the workflow to configure: cancels pending timers, unsubscribes, clears
// summary, progress and log history. In-flight job starts are discarded when they return.
func (c *Controller) Reset(ctx context.Context) error {
	return c.do(ctx, func() {
		c.cancelPendingTransition()
		c.resetGen++
		c.startInFlight = false

		for _, h := range []*models.JobHandle{c.preCheckJob, c.executeJob} {
			if h != nil && !c.finishedJobs[h.JobID] {
				c.persistJob(*h, models.JobStatusFailed, "workflow reset before the job finished")
			}
		}
		if err := c.subs.UnsubscribeAll(context.Background()); err != nil {
			c.logger.Warn().Err(err).Msg("Unsubscribe during reset failed")
		}

		c.progress.Reset()
		c.dedup.Reset()
		*c.state = *newJobState()
		c.logs = nil
		c.preCheckJob = nil
		c.executeJob = nil
		c.request = nil
		c.finishedJobs = make(map[string]bool)
		c.jobStarted = make(map[models.Slot]time.Time)

		from := c.phase
		c.phase = models.PhaseConfigure
		c.logger.Info().Str("from", from.String()).Msg("Workflow reset")
		c.changed()
	})
}

// ---------------------------------------------------------------------
// Read-only views
// ---------------------------------------------------------------------

// Snapshot returns the current workflow view
func (c *Controller) Snapshot(ctx context.Context) (models.WorkflowSnapshot, error) {
	var snap models.WorkflowSnapshot
	err := c.do(ctx, func() {
		snap = c.snapshot()
	})
	return snap, err
}

// Logs returns the newest limit log entries in order (all when limit <= 0)
func (c *Controller) Logs(ctx context.Context, limit int) ([]models.JobLogEntry, error) {
	var out []models.JobLogEntry
	err := c.do(ctx, func() {
		start := 0
		if limit > 0 && len(c.logs) > limit {
			start = len(c.logs) - limit
		}
		out = append([]models.JobLogEntry(nil), c.logs[start:]...)
	})
	return out, err
}

// WaitForPhase polls until the workflow reaches one of phases or ctx ends
func (c *Controller) WaitForPhase(ctx context.Context, phases ...models.Phase) (models.WorkflowSnapshot, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		snap, err := c.Snapshot(ctx)
		if err != nil {
			return snap, err
		}
		for _, p := range phases {
			if snap.Phase == p {
				return snap, nil
			}
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Controller) snapshot() models.WorkflowSnapshot {
	snap := models.WorkflowSnapshot{
		InstanceID:     c.instanceID,
		Phase:          c.phase,
		Connection:     c.connection,
		PreCheckStatus: c.state.preCheckStatus,
		ExecuteStatus:  c.state.executeStatus,
		Progress:       c.progress.State(),
		Summary:        c.state.summary.Clone(),
		TotalSteps:     c.state.totalSteps,
		CompletedSteps: c.state.completedSteps,
		LogCount:       len(c.logs),
		LastError:      c.state.lastError,
		UpdatedAt:      c.updatedAt,
	}
	if c.preCheckJob != nil {
		h := *c.preCheckJob
		snap.PreCheckJob = &h
	}
	if c.executeJob != nil {
		h := *c.executeJob
		snap.ExecuteJob = &h
	}
	if c.state.result != nil {
		snap.Result = make(map[string]interface{}, len(c.state.result))
		for k, v := range c.state.result {
			snap.Result[k] = v
		}
	}
	return snap
}

// ---------------------------------------------------------------------
// Phase changes
// ---------------------------------------------------------------------

// requestTransition applies an event-driven phase change after the settle delay.
// A second request while one is pending is ignored.
func (c *Controller) requestTransition(target models.Phase) {
	if c.pending != nil {
		return
	}
	if c.opts.SettleDelay <= 0 {
		c.applyTransition(target)
		return
	}

	c.transitionGen++
	gen := c.transitionGen
	p := &pendingTransition{target: target}
	p.timer = c.clock.AfterFunc(c.opts.SettleDelay, func() {
		c.post(func() {
			if gen != c.transitionGen || c.pending == nil {
				return
			}
			c.pending = nil
			c.applyTransition(target)
			c.changed()
		})
	})
	c.pending = p
}

func (c *Controller) applyTransition(target models.Phase) {
	if err := c.transition(target); err != nil {
		c.logger.Warn().Err(err).Msg("Event-driven transition rejected")
	}
}

func (c *Controller) cancelPendingTransition() {
	c.transitionGen++
	if c.pending != nil {
		c.pending.timer.Stop()
		c.pending = nil
	}
}

// transition moves to target if the phase table allows it. Leaving a job phase
// unsubscribes that job's channel exactly once; every phase change clears dedup signatures.
func (c *Controller) transition(target models.Phase) error {
	from := c.phase
	if from == target {
		return nil
	}
	if !from.CanTransitionTo(target) {
		return &GuardError{Action: "transition to " + target.String(), Phase: from, Reason: "not allowed by the phase table"}
	}

	if from.IsJobPhase() {
		if h := c.jobFor(from); h != nil {
			c.progress.Flush()
			if err := c.subs.Unsubscribe(context.Background(), *h); err != nil {
				c.logger.Warn().Err(err).Str("channel", h.Channel).Msg("Unsubscribe failed")
			}
		}
	}

	c.phase = target
	c.dedup.Reset()
	c.logger.Info().Str("from", from.String()).Str("to", target.String()).Msg("Workflow phase changed")
	return nil
}

func (c *Controller) jobFor(phase models.Phase) *models.JobHandle {
	switch phase {
	case models.PhasePreCheck:
		return c.preCheckJob
	case models.PhaseExecute:
		return c.executeJob
	default:
		return nil
	}
}

// ---------------------------------------------------------------------
// Side-effect sinks
// ---------------------------------------------------------------------

// appendLog is the router's LogSink
func (c *Controller) appendLog(ev models.NormalizedEvent, level models.Level, message string) {
	now := c.clock.Now()
	jobID := ev.JobID
	if jobID == "" {
		if h := c.jobFor(c.phase); h != nil {
			jobID = h.JobID
		}
	}
	timestamp := ev.Timestamp
	if timestamp == "" {
		timestamp = now.UTC().Format(time.RFC3339Nano)
	}

	c.logSeq++
	entry := models.JobLogEntry{
		ID:              common.NewLogEntryID(),
		Sequence:        c.logSeq,
		AssociatedJobID: jobID,
		Phase:           c.phase,
		EventType:       ev.EventType,
		Level:           level,
		Message:         message,
		Timestamp:       timestamp,
		ReceivedAt:      now,
	}

	c.logs = append(c.logs, entry)
	if over := len(c.logs) - c.opts.MaxLogEntries; over > 0 {
		c.logs = append(c.logs[:0], c.logs[over:]...)
	}

	c.publish(interfaces.EventLogAppended, entry)
}

// systemLog records a controller-originated entry
func (c *Controller) systemLog(level models.Level, message string) {
	c.appendLog(models.NormalizedEvent{EventType: models.EventLogMessage, Level: level}, level, message)
}

// onProgressChanged may run on the debounce timer goroutine; it only flags the loop
func (c *Controller) onProgressChanged(models.ProgressState) {
	select {
	case c.dirty <- struct{}{}:
	default:
	}
}

// changed stamps the update time and pushes a snapshot to subscribers
func (c *Controller) changed() {
	c.updatedAt = c.clock.Now()
	c.publish(interfaces.EventWorkflowChanged, c.snapshot())
}

func (c *Controller) publish(eventType interfaces.EventType, payload interface{}) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(context.Background(), interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		c.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish workflow event")
	}
}

// jobFinished records the outcome of the active job once
func (c *Controller) jobFinished() {
	h := c.jobFor(c.phase)
	if h == nil || c.finishedJobs[h.JobID] {
		return
	}
	status := c.state.preCheckStatus
	if h.Slot() == models.SlotExecute {
		status = c.state.executeStatus
	}
	c.persistJob(*h, status, c.state.lastError)
}

// persistJob saves the job record and its log entries in the background
func (c *Controller) persistJob(h models.JobHandle, status models.JobStatus, lastError string) {
	c.finishedJobs[h.JobID] = true

	record := &models.JobRecord{
		JobID:      h.JobID,
		Channel:    h.Channel,
		Slot:       h.Slot(),
		Status:     status,
		LastError:  lastError,
		StartedAt:  c.jobStarted[h.Slot()],
		FinishedAt: c.clock.Now(),
	}
	if c.request != nil {
		record.Operation = c.request.Command
		record.Hostname = c.request.Target()
	}
	if h.Slot() == models.SlotPreCheck {
		record.Summary = c.state.summary.Clone()
	} else if c.state.result != nil {
		record.Result = make(map[string]interface{}, len(c.state.result))
		for k, v := range c.state.result {
			record.Result[k] = v
		}
	}

	var entries []models.JobLogEntry
	for _, e := range c.logs {
		if e.AssociatedJobID == h.JobID {
			entries = append(entries, e)
		}
	}

	c.publish(interfaces.EventJobFinished, *record)

	if c.storage == nil {
		return
	}
	storage := c.storage
	logger := c.logger
	common.SafeGo(logger, "persist-job", func() {
		ctx := context.Background()
		if err := storage.SaveJob(ctx, record); err != nil {
			logger.Error().Err(err).Str("job_id", record.JobID).Msg("Failed to save job record")
			return
		}
		if len(entries) == 0 {
			return
		}
		if err := storage.AppendLogs(ctx, record.JobID, entries); err != nil {
			logger.Error().Err(err).Str("job_id", record.JobID).Msg("Failed to save job logs")
		}
	})
}
