package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shehryarbajwa/autoaccept/internal/dom"
	"github.com/shehryarbajwa/autoaccept/internal/inject"
)

// Evaluator runs an expression in a page and returns its JSON value
type Evaluator interface {
	Evaluate(ctx context.Context, pageID, expression string, awaitPromise bool) (json.RawMessage, error)
}

// RemotePage is a PageModel backed by the control script injected into a
// live page.
type RemotePage struct {
	pageID string
	eval   Evaluator
}

// NewRemotePage binds a page id to an evaluator
func NewRemotePage(pageID string, eval Evaluator) *RemotePage {
	return &RemotePage{pageID: pageID, eval: eval}
}

var notReadyValue = []byte(`"` + inject.NotReady + `"`)

// invoke calls window.__autoAccept.fn(args...) and decodes the result into out
func (p *RemotePage) invoke(ctx context.Context, fn string, out any, args ...any) error {
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to encode %s argument: %w", fn, err)
		}
		encoded[i] = string(b)
	}

	raw, err := p.eval.Evaluate(ctx, p.pageID, inject.CallExpression(fn, strings.Join(encoded, ",")), true)
	if err != nil {
		return fmt.Errorf("%s: %w", fn, err)
	}
	if bytes.Equal(bytes.TrimSpace(raw), notReadyValue) {
		return fmt.Errorf("%s: %w", fn, ErrNotReady)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", fn, err)
	}
	return nil
}

func (p *RemotePage) Snapshot(ctx context.Context, q Query) (*Snapshot, error) {
	var res struct {
		Roots []string `json:"roots"`
	}
	if err := p.invoke(ctx, "snapshot", &res, q); err != nil {
		return nil, err
	}

	snap := &Snapshot{Roots: make([]*dom.Node, 0, len(res.Roots))}
	for _, html := range res.Roots {
		root, err := dom.Parse(html)
		if err != nil {
			return nil, fmt.Errorf("failed to parse snapshot: %w", err)
		}
		snap.Roots = append(snap.Roots, root)
	}
	return snap, nil
}

func (p *RemotePage) Click(ctx context.Context, id string) error {
	var ok bool
	if err := p.invoke(ctx, "click", &ok, id); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("element %s is gone", id)
	}
	return nil
}

// Probe reads the element state. The label is recomputed from the element's
// markup so that it matches the label the snapshot produced.
func (p *RemotePage) Probe(ctx context.Context, id string) (ElementState, error) {
	var res struct {
		ElementState
		HTML string `json:"html"`
	}
	if err := p.invoke(ctx, "probe", &res, id); err != nil {
		return ElementState{}, err
	}

	state := res.ElementState
	if res.HTML != "" {
		if root, err := dom.Parse(res.HTML); err == nil {
			if n := root.ByID(id); n != nil {
				state.Label = n.Label()
			}
		}
	}
	return state, nil
}

func (p *RemotePage) Tabs(ctx context.Context, selector string) ([]Tab, error) {
	var tabs []Tab
	err := p.invoke(ctx, "tabs", &tabs, selector)
	return tabs, err
}

func (p *RemotePage) ActivateTab(ctx context.Context, id string) error {
	var ok bool
	if err := p.invoke(ctx, "activateTab", &ok, id); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("tab %s is gone", id)
	}
	return nil
}

func (p *RemotePage) SyncOverlay(ctx context.Context, badge string, upserts []OverlayEntry, removals []string) error {
	if upserts == nil {
		upserts = []OverlayEntry{}
	}
	if removals == nil {
		removals = []string{}
	}
	return p.invoke(ctx, "syncOverlay", nil, badge, upserts, removals)
}

func (p *RemotePage) ClearOverlay(ctx context.Context) error {
	return p.invoke(ctx, "clearOverlay", nil)
}

func (p *RemotePage) Presence(ctx context.Context) (Presence, error) {
	var res struct {
		DocumentFocused bool  `json:"documentFocused"`
		IdleMs          int64 `json:"idleMs"`
	}
	if err := p.invoke(ctx, "presence", &res); err != nil {
		return Presence{}, err
	}
	return Presence{
		DocumentFocused: res.DocumentFocused,
		IdleFor:         time.Duration(res.IdleMs) * time.Millisecond,
	}, nil
}

func (p *RemotePage) SendPrompt(ctx context.Context, selector, text string) error {
	var ok bool
	if err := p.invoke(ctx, "sendPrompt", &ok, selector, text); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no chat input matches %q", selector)
	}
	return nil
}
