package combat

import "time"

// Status is a point-in-time summary of the engagement.
type Status struct {
	State             string        `json:"state"`
	SessionID         string        `json:"session_id,omitempty"`
	Target            *Target       `json:"target,omitempty"`
	Strategy          *Strategy     `json:"strategy,omitempty"`
	SessionAge        time.Duration `json:"session_age,omitempty"`
	RetreatReason     string        `json:"retreat_reason,omitempty"`
	CooldownRemaining time.Duration `json:"cooldown_remaining"`
	Stats             Stats         `json:"stats"`
	Provider          ProviderStats `json:"provider"`
}

// Status returns the current engagement summary.
func (e *Engagement) Status() Status {
	e.mu.Lock()
	now := e.clock.Now()
	st := Status{
		State:             e.state.String(),
		CooldownRemaining: max(e.retreat.until.Sub(now), 0),
		Stats:             e.stats.clone(),
	}
	if st.CooldownRemaining > 0 {
		st.RetreatReason = e.retreat.reason
	}
	if s := e.session; s != nil {
		target := s.Target
		strategy := s.Strategy
		strategy.Tactics = append([]string(nil), strategy.Tactics...)
		st.SessionID = s.ID
		st.Target = &target
		st.Strategy = &strategy
		st.SessionAge = now.Sub(s.StartTime)
	}
	e.mu.Unlock()
	st.Provider = e.strategies.Stats()
	return st
}
