package automation

import (
	"context"
	"errors"
	"time"

	"github.com/shehryarbajwa/autoaccept/internal/dom"
)

// ErrNotReady is returned when the page has not finished injection, or lost
// its control script to a reload.
var ErrNotReady = errors.New("control script not ready")

// Query scopes a snapshot to the interaction roots of a variant
type Query struct {
	Roots      []string `json:"roots"`
	Candidates string   `json:"candidates"`
}

// Snapshot holds the interaction roots found in one pass. Candidate elements
// carry dom.IDAttr; elements not rendered carry dom.HiddenAttr.
type Snapshot struct {
	Roots []*dom.Node
}

// ElementState is the observed state of a dispatched control
type ElementState struct {
	Present  bool   `json:"present"`
	Visible  bool   `json:"visible"`
	Disabled bool   `json:"disabled"`
	Label    string `json:"label"`
}

// Tab is one conversation tab of the chat UI
type Tab struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
	Status string `json:"status"`
}

// Presence is the page's view of user activity
type Presence struct {
	DocumentFocused bool          `json:"documentFocused"`
	IdleFor         time.Duration `json:"idleFor"`
}

// OverlayEntry is one badge of the per-tab completion overlay
type OverlayEntry struct {
	Tab    string `json:"tab"`
	Status string `json:"status"`
}

// PageModel is everything a session needs from a page
type PageModel interface {
	Snapshot(ctx context.Context, q Query) (*Snapshot, error)
	Click(ctx context.Context, id string) error
	Probe(ctx context.Context, id string) (ElementState, error)
	Tabs(ctx context.Context, selector string) ([]Tab, error)
	ActivateTab(ctx context.Context, id string) error
	SyncOverlay(ctx context.Context, badge string, upserts []OverlayEntry, removals []string) error
	ClearOverlay(ctx context.Context) error
	Presence(ctx context.Context) (Presence, error)
	SendPrompt(ctx context.Context, selector, text string) error
}
