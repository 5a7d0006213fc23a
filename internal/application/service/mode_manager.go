package service

import (
	"sync"
	"time"

	"github.com/hshk99/autopack/internal/application/port/output"
)

// Mode is the engine's operating mode
type Mode string

const (
	// ModeActive allows autonomous execution with side effects
	ModeActive Mode = "ACTIVE"
	// ModeShadow evaluates decisions without performing side effects
	ModeShadow Mode = "SHADOW"
	// ModeKilled halts all autonomous activity until explicitly re-enabled
	ModeKilled Mode = "KILLED"
)

// ModeChange records one mode transition for the audit trail
type ModeChange struct {
	EngagedAt    time.Time `json:"engaged_at"`
	Reason       string    `json:"reason"`
	PreviousMode Mode      `json:"previous_mode"`
	NewMode      Mode      `json:"new_mode"`
}

// ModeManager owns the engine's operating mode. The kill switch forces
// KILLED; removing the switch demotes to SHADOW, never back to ACTIVE.
// Returning to ACTIVE always requires an explicit Enable call.
type ModeManager struct {
	mu      sync.RWMutex
	mode    Mode
	history []ModeChange
	logger  output.Logger
}

// NewModeManager starts in SHADOW so a fresh process observes before it
// acts.
func NewModeManager(logger output.Logger) *ModeManager {
	if logger == nil {
		logger = output.NopLogger{}
	}
	return &ModeManager{
		mode:   ModeShadow,
		logger: logger,
	}
}

// Mode returns the current operating mode
func (m *ModeManager) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// IsActive reports whether side effects are currently permitted
func (m *ModeManager) IsActive() bool {
	return m.Mode() == ModeActive
}

// Enable explicitly promotes the engine to ACTIVE. Promotion is refused
// while the kill switch is engaged.
func (m *ModeManager) Enable(reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode == ModeKilled {
		m.logger.Warn("refusing to enable while kill switch engaged")
		return false
	}
	m.record(ModeActive, reason)
	return true
}

// Kill engages the kill switch
func (m *ModeManager) Kill(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode == ModeKilled {
		return
	}
	m.record(ModeKilled, reason)
	m.logger.Warn("kill switch engaged: %s", reason)
}

// Release clears the kill switch, demoting to SHADOW. The engine never
// resumes side effects without a subsequent Enable.
func (m *ModeManager) Release(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode != ModeKilled {
		return
	}
	m.record(ModeShadow, reason)
	m.logger.Info("kill switch released, running in shadow mode")
}

// History returns a copy of recorded mode changes, oldest first
func (m *ModeManager) History() []ModeChange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ModeChange, len(m.history))
	copy(out, m.history)
	return out
}

// record must be called with the lock held
func (m *ModeManager) record(next Mode, reason string) {
	m.history = append(m.history, ModeChange{
		EngagedAt:    time.Now().UTC(),
		Reason:       reason,
		PreviousMode: m.mode,
		NewMode:      next,
	})
	m.mode = next
}
