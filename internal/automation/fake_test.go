package automation

import (
	"context"
	"sync"

	"github.com/shehryarbajwa/autoaccept/internal/dom"
)

// fakePage is an in-memory PageModel over a static HTML snapshot
type fakePage struct {
	mu sync.Mutex

	html     string
	gone     map[string]bool
	disabled map[string]bool

	// removeOnClick makes a click take the control off the page
	removeOnClick bool
	notReady      bool

	clicks    []string
	tabs      []Tab
	activated []string
	presence  Presence
	overlays  []overlaySync
	cleared   int
	prompts   []string
}

type overlaySync struct {
	badge    string
	upserts  []OverlayEntry
	removals []string
}

func newFakePage(html string) *fakePage {
	return &fakePage{
		html:     html,
		gone:     make(map[string]bool),
		disabled: make(map[string]bool),
	}
}

func (f *fakePage) Snapshot(_ context.Context, _ Query) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notReady {
		return nil, ErrNotReady
	}
	root, err := dom.Parse(f.html)
	if err != nil {
		return nil, err
	}
	for id := range f.gone {
		if n := root.ByID(id); n != nil && n.Parent != nil {
			detach(n)
		}
	}
	for id := range f.disabled {
		if n := root.ByID(id); n != nil {
			n.Attrs["disabled"] = ""
		}
	}
	return &Snapshot{Roots: []*dom.Node{root}}, nil
}

func detach(n *dom.Node) {
	p := n.Parent
	idx := n.Index()
	p.Children = append(p.Children[:idx], p.Children[idx+1:]...)
	n.Parent = nil
}

func (f *fakePage) Click(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks = append(f.clicks, id)
	if f.removeOnClick {
		f.gone[id] = true
	}
	return nil
}

func (f *fakePage) Probe(_ context.Context, id string) (ElementState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone[id] {
		return ElementState{}, nil
	}
	root, err := dom.Parse(f.html)
	if err != nil {
		return ElementState{}, err
	}
	n := root.ByID(id)
	if n == nil {
		return ElementState{}, nil
	}
	return ElementState{
		Present:  true,
		Visible:  !n.Hidden(),
		Disabled: n.Disabled() || f.disabled[id],
		Label:    n.Label(),
	}, nil
}

func (f *fakePage) Tabs(_ context.Context, _ string) ([]Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Tab(nil), f.tabs...), nil
}

func (f *fakePage) ActivateTab(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activated = append(f.activated, id)
	for i := range f.tabs {
		f.tabs[i].Active = f.tabs[i].ID == id
	}
	return nil
}

func (f *fakePage) SyncOverlay(_ context.Context, badge string, upserts []OverlayEntry, removals []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overlays = append(f.overlays, overlaySync{badge: badge, upserts: upserts, removals: removals})
	return nil
}

func (f *fakePage) ClearOverlay(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	return nil
}

func (f *fakePage) Presence(_ context.Context) (Presence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presence, nil
}

func (f *fakePage) SendPrompt(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notReady {
		return ErrNotReady
	}
	f.prompts = append(f.prompts, text)
	return nil
}

func (f *fakePage) clickCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clicks)
}

func (f *fakePage) clearedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleared
}
