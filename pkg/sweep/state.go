package sweep

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"aeo-audit/pkg/lifecycle"
)

// RunState is the record of the most recent sweep
type RunState struct {
	LastRunTime    time.Time              `json:"last_run_time"`
	LastRunSuccess bool                   `json:"last_run_success"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	Report         *lifecycle.SweepReport `json:"report,omitempty"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// StateManager keeps the last sweep in memory and, when a path is set, on disk
type StateManager struct {
	statePath string
	state     RunState
	hasRun    bool
	mu        sync.RWMutex
}

// NewStateManager creates a state manager. An empty statePath keeps state in memory only.
func NewStateManager(statePath string) *StateManager {
	return &StateManager{statePath: statePath}
}

// Load reads the state file; a missing file means the sweep never ran
func (m *StateManager) Load() error {
	if m.statePath == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read sweep state: %w", err)
	}
	if err := json.Unmarshal(data, &m.state); err != nil {
		return fmt.Errorf("failed to parse sweep state: %w", err)
	}
	m.hasRun = !m.state.LastRunTime.IsZero()
	return nil
}

// Save writes the state file
func (m *StateManager) Save() error {
	if m.statePath == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = time.Now()
	if err := os.MkdirAll(filepath.Dir(m.statePath), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sweep state: %w", err)
	}
	if err := os.WriteFile(m.statePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write sweep state: %w", err)
	}
	return nil
}

// Record stores the outcome of a sweep that started at ranAt
func (m *StateManager) Record(ranAt time.Time, report *lifecycle.SweepReport, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.LastRunTime = ranAt
	m.state.LastRunSuccess = err == nil
	m.state.ErrorMessage = ""
	if err != nil {
		m.state.ErrorMessage = err.Error()
	}
	m.state.Report = report
	m.hasRun = true
}

// Last returns the most recent run, if any
func (m *StateManager) Last() (RunState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.hasRun
}

// ShouldRun reports whether interval has passed since the last sweep
func (m *StateManager) ShouldRun(now time.Time, interval time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.hasRun {
		return true
	}
	return now.Sub(m.state.LastRunTime) >= interval
}

// NextRunTime returns when the next sweep is due
func (m *StateManager) NextRunTime(now time.Time, interval time.Duration) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.hasRun {
		return now
	}
	return m.state.LastRunTime.Add(interval)
}
