package automation

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/autoaccept/internal/denylist"
	"github.com/shehryarbajwa/autoaccept/internal/dom"
	"github.com/shehryarbajwa/autoaccept/pkg/models"
)

// candidate is an accept-worthy control found in one pass
type candidate struct {
	id    string
	label string
	kind  ActionKind
	node  *dom.Node
}

type passState struct {
	strategy   Strategy
	banned     *denylist.Matcher
	background bool
	intervalMs int
}

func (s *Session) current() passState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return passState{
		strategy:   s.strategy,
		banned:     s.banned,
		background: s.mode.Background,
		intervalMs: s.config.PollIntervalMs,
	}
}

// run is the polling loop of one generation
func (s *Session) run(ctx context.Context, gen uint64) {
	defer s.wg.Done()

	for {
		if !s.alive(gen) {
			s.logger.Debug("loop exiting", zap.Uint64("generation", gen))
			return
		}

		st := s.current()
		s.pass(ctx, gen, st)

		timer := time.NewTimer(st.strategy.IntervalFor(st.background, st.intervalMs))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Session) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.CallTimeout)
}

// pass is one iteration of the loop body
func (s *Session) pass(ctx context.Context, gen uint64, st passState) {
	callCtx, cancel := s.call(ctx)
	snap, err := s.page.Snapshot(callCtx, st.strategy.Query())
	cancel()
	if err != nil {
		s.checkNotReady(err)
		s.logger.Debug("snapshot failed", zap.Error(err))
		return
	}
	if snap == nil || len(snap.Roots) == 0 {
		return
	}

	away := false
	callCtx, cancel = s.call(ctx)
	presence, err := s.page.Presence(callCtx)
	cancel()
	if err == nil {
		away = s.isAway(presence)
	}

	candidates, present := s.candidates(snap.Roots)

	var survivors []candidate
	for _, c := range candidates {
		if c.kind == KindCommand {
			if s.screen(c, st.banned) {
				continue
			}
		}
		survivors = append(survivors, c)
	}
	s.retainBlocked(present)

	for _, c := range survivors {
		if !s.alive(gen) {
			return
		}
		if !s.opts.Limiter.Allow(s.pageID) {
			s.logger.Debug("activation budget exhausted", zap.String("label", c.label))
			break
		}
		s.activate(ctx, c, away)
	}

	if !st.background || !s.alive(gen) {
		return
	}

	callCtx, cancel = s.call(ctx)
	tabs, err := s.page.Tabs(callCtx, st.strategy.Tabs)
	cancel()
	if err != nil {
		s.logger.Debug("failed to list tabs", zap.Error(err))
		return
	}
	s.observeTabs(tabs)

	if away && len(tabs) > 1 {
		s.rotate(ctx, tabs)
	}
	s.reconcileOverlay(ctx, st.strategy.Badge, tabs)
}

// candidates enumerates accept-worthy controls, each deduplicated to its
// nearest interactive ancestor. It also returns every control id seen.
func (s *Session) candidates(roots []*dom.Node) ([]candidate, map[string]bool) {
	var out []candidate
	seen := make(map[*dom.Node]bool)
	present := make(map[string]bool)

	for _, root := range roots {
		for _, n := range root.FindAll(func(n *dom.Node) bool { return n.HasAttr(dom.IDAttr) }) {
			present[n.ID()] = true

			target := dom.InteractiveTarget(n)
			if seen[target] || target.ID() == "" {
				continue
			}
			seen[target] = true

			if target.Hidden() || target.Disabled() {
				continue
			}
			label := target.Label()
			if !IsAccept(label) {
				continue
			}
			out = append(out, candidate{
				id:    target.ID(),
				label: label,
				kind:  Classify(label),
				node:  target,
			})
		}
	}
	return out, present
}

// screen reports whether a command candidate is banned
func (s *Session) screen(c candidate, banned *denylist.Matcher) bool {
	text := dom.NearbyCommandText(c.node, dom.DefaultAncestorDepth, dom.DefaultSiblingBreadth)
	if text == "" {
		return false
	}
	pattern, ok := banned.Match(text)
	if !ok {
		return false
	}
	if s.recordBlocked(c.id) {
		s.logger.Info("blocked banned command",
			zap.String("pattern", pattern),
			zap.String("command", text))
		s.emit(models.EventBlocked, map[string]any{"pattern": pattern, "command": text})
	}
	return true
}

// activate dispatches a click and counts it only once verified
func (s *Session) activate(ctx context.Context, c candidate, away bool) {
	callCtx, cancel := s.call(ctx)
	err := s.page.Click(callCtx, c.id)
	cancel()
	if err != nil {
		s.checkNotReady(err)
		s.logger.Debug("click failed", zap.String("label", c.label), zap.Error(err))
		return
	}

	if !s.verify(ctx, c.id, c.label) {
		s.recordUnverified()
		s.logger.Debug("click unverified", zap.String("label", c.label))
		return
	}

	s.recordClick(c.kind, away)
	s.logger.Info("clicked",
		zap.String("label", c.label),
		zap.String("kind", c.kind.String()),
		zap.Bool("away", away))
	s.emit(models.EventClick, map[string]any{"label": c.label, "kind": c.kind.String(), "away": away})
}

// verify polls the element until it disappears, is disabled or relabeled,
// or the observation window closes. A relabel counts only when the label
// differs from the one the snapshot saw and no longer reads as accept.
func (s *Session) verify(ctx context.Context, id, label string) bool {
	before := NormalizeLabel(label)

	window := time.NewTimer(s.opts.VerifyWindow)
	defer window.Stop()
	step := time.NewTicker(s.opts.VerifyStep)
	defer step.Stop()

	for {
		callCtx, cancel := s.call(ctx)
		state, err := s.page.Probe(callCtx, id)
		cancel()
		if err == nil && (!state.Present || !state.Visible || state.Disabled || relabeled(before, state.Label)) {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-window.C:
			return false
		case <-step.C:
		}
	}
}

func relabeled(before, after string) bool {
	return NormalizeLabel(after) != before && !IsAccept(after)
}

func (s *Session) observeTabs(tabs []Tab) {
	names := make([]string, 0, len(tabs))
	status := make(map[string]string, len(tabs))
	for _, t := range tabs {
		names = append(names, t.Name)
		if t.Status != "" {
			status[t.Name] = t.Status
		}
	}
	s.mu.Lock()
	s.tabNames = names
	s.completion = status
	s.mu.Unlock()
}

// rotate activates the tab after the active one, wrapping around
func (s *Session) rotate(ctx context.Context, tabs []Tab) {
	active := -1
	for i, t := range tabs {
		if t.Active {
			active = i
			break
		}
	}
	next := tabs[(active+1)%len(tabs)]

	callCtx, cancel := s.call(ctx)
	err := s.page.ActivateTab(callCtx, next.ID)
	cancel()
	if err != nil {
		s.checkNotReady(err)
		s.logger.Debug("failed to rotate tab", zap.String("tab", next.Name), zap.Error(err))
		return
	}
	s.emit(models.EventTabRotated, map[string]any{"tab": next.Name})
}

// reconcileOverlay sends only the badges that changed since the last sync
func (s *Session) reconcileOverlay(ctx context.Context, badge string, tabs []Tab) {
	want := make(map[string]string, len(tabs))
	for _, t := range tabs {
		if t.Status != "" {
			want[t.Name] = t.Status
		}
	}

	s.mu.Lock()
	var upserts []OverlayEntry
	var removals []string
	for name, status := range want {
		if s.overlay[name] != status {
			upserts = append(upserts, OverlayEntry{Tab: name, Status: status})
		}
	}
	for name := range s.overlay {
		if _, ok := want[name]; !ok {
			removals = append(removals, name)
		}
	}
	s.mu.Unlock()

	if len(upserts) == 0 && len(removals) == 0 {
		return
	}
	sort.Slice(upserts, func(i, j int) bool { return upserts[i].Tab < upserts[j].Tab })
	sort.Strings(removals)

	callCtx, cancel := s.call(ctx)
	err := s.page.SyncOverlay(callCtx, badge, upserts, removals)
	cancel()
	if err != nil {
		s.checkNotReady(err)
		s.logger.Debug("failed to sync overlay", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.overlay = want
	s.mu.Unlock()
}

func (s *Session) emit(t models.EventType, data map[string]any) {
	if s.opts.OnEvent == nil {
		return
	}
	s.opts.OnEvent(models.Event{Type: t, PageID: s.pageID, Time: s.opts.Now(), Data: data})
}

func (s *Session) checkNotReady(err error) {
	if !errors.Is(err, ErrNotReady) {
		return
	}
	s.ResetPageState()
	if s.opts.OnNotReady != nil {
		s.opts.OnNotReady(s.pageID)
	}
}
