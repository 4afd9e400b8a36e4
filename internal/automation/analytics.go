package automation

import (
	"github.com/shehryarbajwa/autoaccept/pkg/models"
)

type counters struct {
	clicks           int64
	blocked          int64
	fileEdits        int64
	terminalCommands int64
	actionsWhileAway int64
	unverified       int64
}

func (c *counters) stats() models.Stats {
	return models.Stats{
		Clicks:           c.clicks,
		Blocked:          c.blocked,
		FileEdits:        c.fileEdits,
		TerminalCommands: c.terminalCommands,
		ActionsWhileAway: c.actionsWhileAway,
		Unverified:       c.unverified,
	}
}

// bump applies fn to both counter sets so that collecting and peeking never
// interfere with each other.
func (s *Session) bump(fn func(*counters)) {
	s.mu.Lock()
	fn(&s.pending)
	fn(&s.totals)
	s.mu.Unlock()
}

func (s *Session) recordClick(kind ActionKind, away bool) {
	s.bump(func(c *counters) {
		c.clicks++
		switch kind {
		case KindEdit:
			c.fileEdits++
		case KindCommand:
			c.terminalCommands++
		}
		if away {
			c.actionsWhileAway++
		}
	})
	if away {
		s.mu.Lock()
		s.awayActions++
		s.mu.Unlock()
	}
}

func (s *Session) recordUnverified() {
	s.bump(func(c *counters) { c.unverified++ })
}

// recordBlocked counts a banned control once for as long as it stays on the page
func (s *Session) recordBlocked(id string) bool {
	s.mu.Lock()
	seen := s.blockedIDs[id]
	s.blockedIDs[id] = true
	s.mu.Unlock()
	if seen {
		return false
	}
	s.bump(func(c *counters) { c.blocked++ })
	return true
}

// retainBlocked forgets blocked ids that are no longer rendered
func (s *Session) retainBlocked(present map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.blockedIDs {
		if !present[id] {
			delete(s.blockedIDs, id)
		}
	}
}

// GetStats reads the session counters without zeroing anything
func (s *Session) GetStats() models.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.totals.stats()
	st.SessionStartTime = s.startedAt
	return st
}

// ResetStats returns the counters accumulated since the previous call and
// zeroes them. Session totals are unaffected.
func (s *Session) ResetStats() models.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.pending.stats()
	st.SessionStartTime = s.startedAt
	s.pending = counters{}
	return st
}

// GetAwayActions returns the number of verified activations made while the
// user was away since the previous call, and zeroes it.
func (s *Session) GetAwayActions() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.awayActions
	s.awayActions = 0
	return n
}

// GetSessionSummary is the end-of-session view of this page
func (s *Session) GetSessionSummary() models.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.totals.stats()
	st.SessionStartTime = s.startedAt
	sum := models.SessionSummary{
		PageID:     s.pageID,
		Variant:    s.mode.Variant,
		Generation: s.generation,
		Running:    s.running,
		Stats:      st,
	}
	if !s.startedAt.IsZero() {
		sum.Duration = s.opts.Now().Sub(s.startedAt)
	}
	return sum
}

// isAway combines the host focus flag with the page's activity report.
// Recent input forces present even when the pushed flag is stale.
func (s *Session) isAway(p Presence) bool {
	s.mu.Lock()
	hostFocused := s.hostFocused
	s.mu.Unlock()

	recent := p.IdleFor < s.opts.ActivityWindow
	return !recent && !p.DocumentFocused && !hostFocused
}
