package models

// ProgressState is the visible progress of the active job.
// In debounced mode Displayed never decreases within a job except on reset; immediate mode
// shows each accepted value as sent. Both reach exactly 100 on completion, which is final.
type ProgressState struct {
	Displayed  float64 `json:"displayed"`   // 0-100 percentage shown to the user
	MaxSeen    float64 `json:"max_seen"`    // Highest accepted raw value
	PhaseLabel string  `json:"phase_label"` // Human-readable current step
	Complete   bool    `json:"complete"`    // Terminal progress signal received
}
