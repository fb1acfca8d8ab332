package mission

import "time"

// statusProgressEntries is how many recent progress entries Status includes.
const statusProgressEntries = 10

// Status is a read-only summary of the mission.
type Status struct {
	RunID         string        `json:"run_id,omitempty"`
	Phase         Phase         `json:"phase"`
	Pending       Phase         `json:"pending,omitempty"`
	Active        bool          `json:"active"`
	Started       bool          `json:"started"`
	StartedBy     string        `json:"started_by,omitempty"`
	CurrentTask   string        `json:"current_task"`
	Goal          string        `json:"goal,omitempty"`
	Strategy      string        `json:"strategy,omitempty"`
	Items         []string      `json:"items,omitempty"`
	ResearchKind  ResultKind    `json:"research_kind,omitempty"`
	DragonSighted bool          `json:"dragon_sighted"`
	CombatsWon    int           `json:"combats_won"`
	CombatsFought int           `json:"combats_fought"`
	Elapsed       time.Duration `json:"elapsed"`
	ProgressTotal int           `json:"progress_total"`
	Progress      []Entry       `json:"progress"`
}

// Status returns the current mission summary.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Status{
		RunID:         m.runID,
		Phase:         m.phase,
		Pending:       m.pending,
		Active:        m.active,
		Started:       m.started,
		StartedBy:     m.startedBy,
		CurrentTask:   m.currentTask,
		Goal:          m.research.CurrentGoal,
		Strategy:      m.research.StrategySummary,
		Items:         append([]string(nil), m.research.RequiredItems...),
		ResearchKind:  m.researchKind,
		DragonSighted: m.dragonSighted,
		CombatsWon:    m.combatsWon,
		CombatsFought: m.combatsFought,
		ProgressTotal: m.progress.Len(),
		Progress:      m.progress.Last(statusProgressEntries),
	}
	if m.started {
		s.Elapsed = m.clock.Now().Sub(m.startedAt)
	}
	return s
}
