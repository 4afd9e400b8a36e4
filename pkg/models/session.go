package models

import "time"

// Variant selects the UI target a session drives
type Variant string

const (
	VariantCursor      Variant = "cursor"
	VariantAntigravity Variant = "antigravity"
)

// Valid reports whether v names a supported variant
func (v Variant) Valid() bool {
	return v == VariantCursor || v == VariantAntigravity
}

// SessionConfig is supplied by the caller and applied idempotently
type SessionConfig struct {
	Variant               Variant  `json:"variant" yaml:"variant"`
	BackgroundModeEnabled bool     `json:"backgroundModeEnabled" yaml:"backgroundModeEnabled"`
	PollIntervalMs        int      `json:"pollIntervalMs" yaml:"pollIntervalMs"`
	BannedPatterns        []string `json:"bannedPatterns" yaml:"bannedPatterns"`
}

// Mode is the part of a SessionConfig that decides whether a running loop
// must be replaced.
type Mode struct {
	Variant    Variant `json:"variant"`
	Background bool    `json:"background"`
}

// Mode derives the requested mode from the config
func (c SessionConfig) Mode() Mode {
	return Mode{Variant: c.Variant, Background: c.BackgroundModeEnabled}
}

// Stats holds per-page session counters
type Stats struct {
	Clicks           int64     `json:"clicks"`
	Blocked          int64     `json:"blocked"`
	FileEdits        int64     `json:"fileEdits"`
	TerminalCommands int64     `json:"terminalCommands"`
	ActionsWhileAway int64     `json:"actionsWhileAway"`
	Unverified       int64     `json:"unverified"`
	SessionStartTime time.Time `json:"sessionStartTime"`
}

// Add sums o into s. The earliest non-zero start time wins.
func (s *Stats) Add(o Stats) {
	s.Clicks += o.Clicks
	s.Blocked += o.Blocked
	s.FileEdits += o.FileEdits
	s.TerminalCommands += o.TerminalCommands
	s.ActionsWhileAway += o.ActionsWhileAway
	s.Unverified += o.Unverified
	if !o.SessionStartTime.IsZero() && (s.SessionStartTime.IsZero() || o.SessionStartTime.Before(s.SessionStartTime)) {
		s.SessionStartTime = o.SessionStartTime
	}
}

// IsZero reports whether no counter has moved
func (s Stats) IsZero() bool {
	return s.Clicks == 0 && s.Blocked == 0 && s.FileEdits == 0 && s.TerminalCommands == 0 &&
		s.ActionsWhileAway == 0 && s.Unverified == 0
}

// SessionSummary is the end-of-session view of a page session
type SessionSummary struct {
	PageID     string        `json:"pageId"`
	Variant    Variant       `json:"variant"`
	Generation uint64        `json:"generation"`
	Running    bool          `json:"running"`
	Stats      Stats         `json:"stats"`
	Duration   time.Duration `json:"duration"`
}

// Rollup is a periodic aggregate persisted to history
type Rollup struct {
	ID          int64     `json:"id"`
	OwnerID     string    `json:"ownerId"`
	CollectedAt time.Time `json:"collectedAt"`
	Pages       int       `json:"pages"`
	Stats       Stats     `json:"stats"`
}
