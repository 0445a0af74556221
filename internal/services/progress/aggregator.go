package progress

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/opsdeck/internal/common"
	"github.com/ternarybob/opsdeck/internal/models"
)

// Mode selects how raw progress values reach the displayed percentage
type Mode string

const (
	// ModeImmediate shows every accepted value as it arrives, lower ones included
	ModeImmediate Mode = common.ProgressModeImmediate
	// ModeDebounced commits only the maximum value seen in each window
	ModeDebounced Mode = common.ProgressModeDebounced
)

// DefaultWindow is the debounce window used when none is configured
const DefaultWindow = 100 * time.Millisecond

// Aggregator turns a stream of progress signals into a monotonic displayed percentage.
// A value >= 100 commits 100 at once, cancels any pending window and ends the job's progress.
// The debounce timer is the only asynchronous path, so state is guarded by a mutex.
type Aggregator struct {
	mu         sync.Mutex
	mode       Mode
	window     time.Duration
	clock      common.Clock
	state      models.ProgressState
	pending    float64
	hasPending bool
	timer      common.Timer
	generation uint64

	onChange func(models.ProgressState)
	logger   arbor.ILogger
}

// NewAggregator creates an aggregator. onChange, when set, is called after every
// change to the displayed state, outside the aggregator lock.
func NewAggregator(
	mode Mode,
	window time.Duration,
	clock common.Clock,
	onChange func(models.ProgressState),
	logger arbor.ILogger,
) *Aggregator {
	if mode != ModeImmediate {
		mode = ModeDebounced
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = common.NewRealClock()
	}

	return &Aggregator{
		mode:     mode,
		window:   window,
		clock:    clock,
		onChange: onChange,
		logger:   logger,
	}
}

// Mode returns the configured policy
func (a *Aggregator) Mode() Mode {
	return a.mode
}

// OnProgress records one raw progress value (0-100).
// Non-finite and negative values are logged and ignored; values above 100 are clamped.
// Returns false when the value was rejected or progress is already complete.
func (a *Aggregator) OnProgress(raw float64) bool {
	if err := validate(raw); err != nil {
		a.logger.Warn().Err(err).Msg("Progress value rejected")
		return false
	}
	value := math.Min(raw, 100)

	a.mu.Lock()
	if a.state.Complete {
		a.mu.Unlock()
		a.logger.Debug().Float64("progress", value).Msg("Progress ignored after completion")
		return false
	}

	a.state.MaxSeen = math.Max(a.state.MaxSeen, value)

	if value >= 100 {
		a.completeLocked()
		state := a.state
		a.mu.Unlock()
		a.notify(state)
		return true
	}

	if a.mode == ModeImmediate {
		a.state.Displayed = value
		state := a.state
		a.mu.Unlock()
		a.notify(state)
		return true
	}

	if !a.hasPending || value > a.pending {
		a.pending = value
	}
	a.hasPending = true
	if a.timer == nil {
		gen := a.generation
		a.timer = a.clock.AfterFunc(a.window, func() { a.fire(gen) })
	}
	a.mu.Unlock()
	return true
}

// Complete marks the job's progress terminal and shows exactly 100
func (a *Aggregator) Complete() {
	a.mu.Lock()
	if a.state.Complete && a.state.Displayed == 100 {
		a.mu.Unlock()
		return
	}
	a.state.MaxSeen = 100
	a.completeLocked()
	state := a.state
	a.mu.Unlock()
	a.notify(state)
}

// SetLabel sets the human-readable current step
func (a *Aggregator) SetLabel(label string) {
	a.mu.Lock()
	if a.state.PhaseLabel == label {
		a.mu.Unlock()
		return
	}
	a.state.PhaseLabel = label
	state := a.state
	a.mu.Unlock()
	a.notify(state)
}

// Flush commits any pending window value now
func (a *Aggregator) Flush() {
	a.mu.Lock()
	changed := a.commitPendingLocked()
	a.stopTimerLocked()
	state := a.state
	a.mu.Unlock()
	if changed {
		a.notify(state)
	}
}

// Reset cancels any pending window and returns to zero progress
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.stopTimerLocked()
	a.generation++
	a.pending = 0
	a.hasPending = false
	a.state = models.ProgressState{}
	state := a.state
	a.mu.Unlock()
	a.notify(state)
}

// State returns a copy of the current progress
func (a *Aggregator) State() models.ProgressState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// fire is the debounce timer callback; gen guards against a timer stopped too late
func (a *Aggregator) fire(gen uint64) {
	a.mu.Lock()
	if gen != a.generation || a.timer == nil {
		a.mu.Unlock()
		return
	}
	a.timer = nil
	changed := a.commitPendingLocked()
	state := a.state
	a.mu.Unlock()
	if changed {
		a.notify(state)
	}
}

func (a *Aggregator) completeLocked() {
	a.stopTimerLocked()
	a.generation++
	a.pending = 0
	a.hasPending = false
	a.state.Displayed = 100
	a.state.Complete = true
}

// commitPendingLocked applies the window maximum without ever lowering the display
func (a *Aggregator) commitPendingLocked() bool {
	if !a.hasPending {
		return false
	}
	a.hasPending = false
	if a.pending <= a.state.Displayed {
		return false
	}
	a.state.Displayed = a.pending
	return true
}

func (a *Aggregator) stopTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Aggregator) notify(state models.ProgressState) {
	if a.onChange != nil {
		a.onChange(state)
	}
}

func validate(raw float64) error {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return fmt.Errorf("progress value %v is not finite", raw)
	}
	if raw < 0 {
		return fmt.Errorf("progress value %v is below 0", raw)
	}
	return nil
}

// Percent converts completed/total steps to a percentage. Returns false when total is not positive.
func Percent(completed, total int) (float64, bool) {
	if total <= 0 {
		return 0, false
	}
	return math.Min(float64(completed)/float64(total)*100, 100), true
}
