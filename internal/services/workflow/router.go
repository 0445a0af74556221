// -----------------------------------------------------------------------
// Event Router - applies normalized events to the active job's state
// -----------------------------------------------------------------------

package workflow

import (
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/opsdeck/internal/models"
	"github.com/ternarybob/opsdeck/internal/services/progress"
)

// jobState is the state derived from the active job's event stream.
// Created at job start, mutated only by the Router, cleared on reset.
type jobState struct {
	totalSteps     int
	completedSteps int
	seenSteps      map[int]bool
	summary        *models.CheckSummary
	results        []models.CheckResult // PRE_CHECK_RESULT events received before the summary
	preCheckStatus models.JobStatus
	executeStatus  models.JobStatus
	result         map[string]interface{}
	lastError      string
}

func newJobState() *jobState {
	return &jobState{
		seenSteps:      make(map[int]bool),
		preCheckStatus: models.JobStatusIdle,
		executeStatus:  models.JobStatusIdle,
	}
}

// startJob clears per-job counters when a new job begins in a slot. The summary survives
// an execute start because it is what allowed execution.
func (s *jobState) startJob(slot models.Slot) {
	s.totalSteps = 0
	s.completedSteps = 0
	s.seenSteps = make(map[int]bool)
	s.lastError = ""
	switch slot {
	case models.SlotPreCheck:
		s.summary = nil
		s.results = nil
		s.result = nil
		s.preCheckStatus = models.JobStatusRunning
		s.executeStatus = models.JobStatusIdle
	case models.SlotExecute:
		s.result = nil
		s.executeStatus = models.JobStatusRunning
	}
}

// Decision is what the router asks of the state machine after one event
type Decision struct {
	Transition models.Phase // Empty when no phase change is requested
	Finished   bool         // The active job reached a terminal event
}

// LogSink appends one entry to the workflow log history
type LogSink func(ev models.NormalizedEvent, level models.Level, message string)

// Router dispatches normalized events on (phase, event type).
// Its side effects are limited to the log sink, the progress aggregator and the job state.
type Router struct {
	state        *jobState
	progress     *progress.Aggregator
	appendLog    LogSink
	textFallback bool
	logger       arbor.ILogger
}

// newRouter creates a router over the given state and sinks
func newRouter(state *jobState, agg *progress.Aggregator, sink LogSink, textFallback bool, logger arbor.ILogger) *Router {
	return &Router{
		state:        state,
		progress:     agg,
		appendLog:    sink,
		textFallback: textFallback,
		logger:       logger,
	}
}

// Route applies one event received while the workflow is in phase
func (r *Router) Route(ev models.NormalizedEvent, phase models.Phase) Decision {
	if !phase.IsJobPhase() {
		r.routeIdle(ev, phase)
		return Decision{}
	}

	switch ev.EventType {
	case models.EventOperationStart, models.EventUploadStart:
		r.onStart(ev)
	case models.EventStepComplete:
		r.onStepComplete(ev)
	case models.EventStepProgress:
		r.onLabel(ev)
	case models.EventDeviceProgress:
		r.onDeviceProgress(ev)
	case models.EventUpgradeProgress, models.EventProgressUpdate:
		r.onProgress(ev)
	case models.EventUploadComplete:
		r.onLabel(ev)
	case models.EventPreCheckResult:
		r.onCheckResult(ev, phase)
	case models.EventPreCheckComplete:
		return r.onPreCheckComplete(ev, phase)
	case models.EventOperationComplete:
		return r.onOperationComplete(ev, phase)
	case models.EventLogMessage, models.EventOrchestratorLog:
		r.appendLog(ev, ev.Level, ev.Message)
	case models.EventError:
		r.onError(ev)
	case models.EventParseError:
		r.onParseError(ev)
	default:
		r.logger.Debug().
			Str("event_type", string(ev.EventType)).
			Str("phase", phase.String()).
			Msg("Unrecognized event type ignored")
	}
	return Decision{}
}

// routeIdle handles frames that arrive while no job is running: log only, no state change
func (r *Router) routeIdle(ev models.NormalizedEvent, phase models.Phase) {
	switch ev.EventType {
	case models.EventParseError:
		r.onParseError(ev)
	case models.EventError, models.EventLogMessage, models.EventOrchestratorLog:
		if ev.Message != "" {
			r.appendLog(ev, ev.Level, ev.Message)
		}
	default:
		r.logger.Debug().
			Str("event_type", string(ev.EventType)).
			Str("phase", phase.String()).
			Msg("Event outside an active job ignored")
	}
}

func (r *Router) onStart(ev models.NormalizedEvent) {
	if total := intValue(ev.Data["total_steps"]); total > 0 {
		r.state.totalSteps = total
	}
	message := ev.Message
	if message == "" {
		message = fmt.Sprintf("Operation started (%d steps)", r.state.totalSteps)
	}
	r.progress.SetLabel(message)
	r.appendLog(ev, ev.Level, message)
}

// onStepComplete counts each distinct step number once
func (r *Router) onStepComplete(ev models.NormalizedEvent) {
	step := intValue(ev.Data["step"])
	message := ev.Message
	if message == "" {
		message = fmt.Sprintf("Step %d complete", step)
	}

	if step <= 0 {
		r.appendLog(ev, ev.Level, message)
		return
	}
	if r.state.seenSteps[step] {
		r.logger.Debug().Int("step", step).Msg("Step already counted")
		return
	}

	r.state.seenSteps[step] = true
	r.state.completedSteps++
	if r.state.totalSteps > 0 && r.state.completedSteps > r.state.totalSteps {
		r.logger.Warn().
			Int("completed_steps", r.state.completedSteps).
			Int("total_steps", r.state.totalSteps).
			Msg("More steps completed than announced")
	}

	if pct, ok := progress.Percent(r.state.completedSteps, r.state.totalSteps); ok {
		r.progress.OnProgress(pct)
	}
	r.progress.SetLabel(message)
	r.appendLog(ev, ev.Level, message)
}

func (r *Router) onLabel(ev models.NormalizedEvent) {
	if ev.Message == "" {
		return
	}
	r.progress.SetLabel(ev.Message)
	r.appendLog(ev, ev.Level, ev.Message)
}

// onDeviceProgress maps step/total_steps to a percentage without counting the step as completed
func (r *Router) onDeviceProgress(ev models.NormalizedEvent) {
	step := intValue(ev.Data["step"])
	total := intValue(ev.Data["total_steps"])
	if total <= 0 {
		total = r.state.totalSteps
	}
	if pct, ok := progress.Percent(step, total); ok {
		r.progress.OnProgress(pct)
	}
	r.onLabel(ev)
}

func (r *Router) onProgress(ev models.NormalizedEvent) {
	value, ok := floatValue(ev.Data["progress"])
	if !ok {
		value, ok = floatValue(ev.Data["percentage"])
	}
	if !ok {
		r.logger.Debug().Str("event_type", string(ev.EventType)).Msg("Progress event without a progress value")
	} else {
		r.progress.OnProgress(value)
	}
	r.onLabel(ev)
}

func (r *Router) onCheckResult(ev models.NormalizedEvent, phase models.Phase) {
	result := checkResultFromMap(ev.Data)
	if result.Message == "" {
		result.Message = ev.Message
	}

	level := models.LevelInfo
	switch result.Severity {
	case models.SeverityWarning:
		level = models.LevelWarning
	case models.SeverityCritical:
		level = models.LevelError
	}
	r.appendLog(ev, level, fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(result.Severity)), result.Name, result.Message))

	if phase != models.PhasePreCheck || r.state.summary != nil {
		return
	}
	r.state.results = append(r.state.results, result)
}

func (r *Router) onPreCheckComplete(ev models.NormalizedEvent, phase models.Phase) Decision {
	if phase != models.PhasePreCheck {
		r.appendLog(ev, ev.Level, nonEmpty(ev.Message, "Pre-check complete"))
		return Decision{}
	}
	if r.state.summary != nil {
		r.logger.Debug().Msg("Pre-check summary already set; later completion ignored")
		return Decision{}
	}

	summary := parseSummary(ev.Data)
	if summary == nil {
		r.appendLog(ev, models.LevelWarning, "Pre-check completion received without a summary payload")
		return Decision{}
	}

	r.setSummary(summary)
	r.state.preCheckStatus = models.JobStatusSucceeded
	r.progress.Complete()
	r.appendLog(ev, ev.Level, describeSummary(summary))

	return Decision{Transition: models.PhaseReview, Finished: true}
}

func (r *Router) onOperationComplete(ev models.NormalizedEvent, phase models.Phase) Decision {
	r.progress.Complete()
	outcome := deriveOutcome(ev, r.textFallback)

	if phase == models.PhasePreCheck {
		return r.completePreCheck(ev, outcome)
	}

	r.state.result = ev.Data
	if outcome.Succeeded {
		r.state.executeStatus = models.JobStatusSucceeded
		r.appendLog(ev, ev.Level, nonEmpty(ev.Message, "Operation completed successfully"))
	} else {
		r.state.executeStatus = models.JobStatusFailed
		err := &OperationError{Slot: models.SlotExecute, JobID: ev.JobID, Message: nonEmpty(ev.Message, "job reported failure")}
		r.state.lastError = err.Error()
		r.appendLog(ev, models.LevelError, err.Error())
	}
	r.logger.Info().
		Bool("succeeded", outcome.Succeeded).
		Str("source", outcome.Source).
		Msg("Execute job finished")

	return Decision{Transition: models.PhaseResults, Finished: true}
}

// completePreCheck handles OPERATION_COMPLETE on the pre-check channel.
// A summary set by PRE_CHECK_COMPLETE is authoritative; otherwise one is recovered from the payload if possible.
func (r *Router) completePreCheck(ev models.NormalizedEvent, outcome Outcome) Decision {
	if r.state.summary != nil {
		r.appendLog(ev, ev.Level, nonEmpty(ev.Message, "Pre-check job finished"))
		return Decision{Transition: models.PhaseReview, Finished: true}
	}

	if summary := parseSummary(ev.Data); summary != nil {
		r.setSummary(summary)
		r.state.preCheckStatus = models.JobStatusSucceeded
		r.appendLog(ev, ev.Level, describeSummary(summary))
		return Decision{Transition: models.PhaseReview, Finished: true}
	}

	r.state.preCheckStatus = models.JobStatusFailed
	reason := "pre-check finished without a summary"
	if !outcome.Succeeded {
		reason = nonEmpty(ev.Message, "pre-check job reported failure")
	}
	err := &OperationError{Slot: models.SlotPreCheck, JobID: ev.JobID, Message: reason}
	r.state.lastError = err.Error()
	r.appendLog(ev, models.LevelError, err.Error())

	return Decision{Transition: models.PhaseReview, Finished: true}
}

func (r *Router) onError(ev models.NormalizedEvent) {
	message := nonEmpty(ev.Message, "Unspecified error reported by job")
	r.state.lastError = message
	r.appendLog(ev, models.LevelError, message)
}

// onParseError keeps malformed payloads visible in the log history
func (r *Router) onParseError(ev models.NormalizedEvent) {
	message := ev.Message
	if ev.Raw != "" {
		message = fmt.Sprintf("%s [raw: %s]", message, truncate(ev.Raw, 200))
	}
	r.appendLog(ev, models.LevelError, message)
	r.logger.Warn().
		Str("channel", ev.Channel).
		Str("error", stringValue(ev.Data["error"])).
		Msg("Unparseable event payload")
}

// setSummary installs the summary, keeping individually streamed results when the summary lists none
func (r *Router) setSummary(summary *models.CheckSummary) {
	if len(summary.Results) == 0 && len(r.state.results) > 0 {
		summary.Results = append([]models.CheckResult(nil), r.state.results...)
	}
	r.state.summary = summary
}

func describeSummary(s *models.CheckSummary) string {
	return fmt.Sprintf("Pre-check complete: %d/%d passed, %d warnings, %d critical (can proceed: %t)",
		s.Passed, s.TotalChecks, s.Warnings, s.CriticalFailures, s.CanProceed)
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
