package automation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/autoaccept/internal/denylist"
	"github.com/shehryarbajwa/autoaccept/internal/ratelimit"
	"github.com/shehryarbajwa/autoaccept/pkg/models"
)

const acceptSnapshot = `<div class="composer-bar"><p>Apply these edits?</p><button data-aa-id="a1"><span>Accept</span></button><button data-aa-id="r1">Reject</button></div>`

const runSnapshot = `<div class="composer-bar"><div class="terminal"><pre>rm -rf /</pre><button data-aa-id="run1">Run</button></div></div>`

func testOptions() Options {
	return Options{
		VerifyWindow: 60 * time.Millisecond,
		VerifyStep:   5 * time.Millisecond,
	}
}

func fastConfig(variant models.Variant) models.SessionConfig {
	return models.SessionConfig{Variant: variant, PollIntervalMs: 10}
}

func TestStart_IdempotentForSameMode(t *testing.T) {
	s := NewSession("p1", newFakePage(""), testOptions())
	defer s.Stop()

	g1, err := s.Start(fastConfig(models.VariantCursor))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), g1)

	cfg := fastConfig(models.VariantCursor)
	cfg.BannedPatterns = []string{"rm -rf"}
	g2, err := s.Start(cfg)
	require.NoError(t, err)
	assert.Equal(t, g1, g2)
	assert.Equal(t, []string{"rm -rf"}, s.BannedPatterns())

	cfg.BackgroundModeEnabled = true
	g3, err := s.Start(cfg)
	require.NoError(t, err)
	assert.Greater(t, g3, g2)

	cfg.Variant = models.VariantAntigravity
	g4, err := s.Start(cfg)
	require.NoError(t, err)
	assert.Greater(t, g4, g3)
	assert.Equal(t, models.Mode{Variant: models.VariantAntigravity, Background: true}, s.Mode())
}

func TestStart_UnknownVariant(t *testing.T) {
	s := NewSession("p1", newFakePage(""), testOptions())
	_, err := s.Start(models.SessionConfig{Variant: "vim"})
	assert.Error(t, err)
	assert.False(t, s.IsRunning())
}

func TestStart_AfterStopBumpsGeneration(t *testing.T) {
	page := newFakePage("")
	s := NewSession("p1", page, testOptions())

	g1, err := s.Start(fastConfig(models.VariantCursor))
	require.NoError(t, err)
	s.Stop()
	s.Wait()
	assert.False(t, s.IsRunning())
	assert.Eventually(t, func() bool { return page.clearedCount() == 1 }, time.Second, 5*time.Millisecond)

	g2, err := s.Start(fastConfig(models.VariantCursor))
	require.NoError(t, err)
	assert.Equal(t, g1+1, g2)
	s.Stop()
	s.Wait()
}

func TestLoop_VerifiedClickIsCounted(t *testing.T) {
	page := newFakePage(acceptSnapshot)
	page.removeOnClick = true

	var mu sync.Mutex
	var events []models.Event
	opts := testOptions()
	opts.OnEvent = func(e models.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	s := NewSession("p1", page, opts)
	_, err := s.Start(fastConfig(models.VariantCursor))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.GetStats().Clicks == 1 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	s.Wait()

	st := s.GetStats()
	assert.Equal(t, int64(1), st.FileEdits)
	assert.Zero(t, st.TerminalCommands)
	assert.Zero(t, st.Unverified)
	assert.False(t, st.SessionStartTime.IsZero())
	assert.Equal(t, []string{"a1"}, page.clicks)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	assert.Equal(t, models.EventClick, events[0].Type)
	assert.Equal(t, "p1", events[0].PageID)
}

func TestPass_UnverifiedClickIsExcluded(t *testing.T) {
	page := newFakePage(acceptSnapshot)
	s := NewSession("p1", page, testOptions())
	gen := prime(t, s, models.VariantCursor)

	s.pass(context.Background(), gen, s.current())

	st := s.GetStats()
	assert.Zero(t, st.Clicks)
	assert.Equal(t, int64(1), st.Unverified)
	assert.Equal(t, []string{"a1"}, page.clicks)
}

func TestPass_DisabledAfterClickCountsAsVerified(t *testing.T) {
	page := newFakePage(acceptSnapshot)
	s := NewSession("p1", page, testOptions())
	gen := prime(t, s, models.VariantCursor)

	go func() {
		time.Sleep(15 * time.Millisecond)
		page.mu.Lock()
		page.disabled["a1"] = true
		page.mu.Unlock()
	}()
	s.pass(context.Background(), gen, s.current())

	assert.Equal(t, int64(1), s.GetStats().Clicks)
}

func TestPass_BannedCommandIsBlockedOnce(t *testing.T) {
	page := newFakePage(runSnapshot)
	page.removeOnClick = true
	s := NewSession("p1", page, testOptions())
	gen := prime(t, s, models.VariantCursor)
	s.UpdateBannedCommands([]string{"/rm\\s+-rf/"})

	for i := 0; i < 3; i++ {
		s.pass(context.Background(), gen, s.current())
	}

	st := s.GetStats()
	assert.Equal(t, int64(1), st.Blocked)
	assert.Zero(t, st.Clicks)
	assert.Empty(t, page.clicks)
	assert.Equal(t, uint64(gen), s.Generation())
}

func TestPass_AllowedCommandIsClicked(t *testing.T) {
	page := newFakePage(runSnapshot)
	page.removeOnClick = true
	s := NewSession("p1", page, testOptions())
	gen := prime(t, s, models.VariantCursor)
	s.UpdateBannedCommands([]string{"shutdown"})

	s.pass(context.Background(), gen, s.current())

	st := s.GetStats()
	assert.Equal(t, int64(1), st.Clicks)
	assert.Equal(t, int64(1), st.TerminalCommands)
	assert.Zero(t, st.Blocked)
}

func TestPass_StaleGenerationDoesNotClick(t *testing.T) {
	page := newFakePage(acceptSnapshot)
	page.removeOnClick = true
	s := NewSession("p1", page, testOptions())
	gen := prime(t, s, models.VariantCursor)

	// A newer generation supersedes the captured one
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()

	s.pass(context.Background(), gen, s.current())
	assert.Empty(t, page.clicks)
}

func TestLoop_ExitsAfterStop(t *testing.T) {
	page := newFakePage(acceptSnapshot)
	s := NewSession("p1", page, testOptions())
	_, err := s.Start(fastConfig(models.VariantCursor))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return page.clickCount() > 0 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	s.Wait()

	n := page.clickCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, page.clickCount())
}

func TestPass_DedupesToInteractiveAncestor(t *testing.T) {
	page := newFakePage(`<div><div role="button" data-aa-id="outer"><span data-aa-id="inner">Accept all</span></div></div>`)
	page.removeOnClick = true
	s := NewSession("p1", page, testOptions())
	gen := prime(t, s, models.VariantCursor)

	s.pass(context.Background(), gen, s.current())
	assert.Equal(t, []string{"outer"}, page.clicks)
}

func TestPass_LimiterCapsActivations(t *testing.T) {
	page := newFakePage(`<div><button data-aa-id="a">Accept</button><button data-aa-id="b">Apply</button></div>`)
	page.removeOnClick = true
	opts := testOptions()
	opts.Limiter = ratelimit.PerMinute(1, 1)
	s := NewSession("p1", page, opts)
	gen := prime(t, s, models.VariantCursor)

	s.pass(context.Background(), gen, s.current())
	assert.Equal(t, []string{"a"}, page.clicks)
}

func TestPass_RotatesTabsOnlyWhenAway(t *testing.T) {
	page := newFakePage(acceptSnapshot)
	page.removeOnClick = true
	page.tabs = []Tab{
		{ID: "t1", Name: "Chat 1", Active: true},
		{ID: "t2", Name: "Chat 2"},
	}
	page.presence = Presence{IdleFor: time.Hour}

	s := NewSession("p1", page, testOptions())
	gen := prime(t, s, models.VariantCursor)
	background := s.current()
	background.background = true

	s.SetFocusState(true)
	s.pass(context.Background(), gen, background)
	assert.Empty(t, page.activated, "host focus keeps the user present")

	s.SetFocusState(false)
	s.pass(context.Background(), gen, background)
	assert.Equal(t, []string{"t2"}, page.activated)

	s.pass(context.Background(), gen, background)
	assert.Equal(t, []string{"t2", "t1"}, page.activated)

	page.presence = Presence{IdleFor: time.Second}
	s.pass(context.Background(), gen, background)
	assert.Len(t, page.activated, 2, "recent activity overrides a stale focus flag")

	// The verified click from the first pass counts as present work
	assert.Zero(t, s.GetAwayActions())
}

func TestPass_ForegroundNeverRotates(t *testing.T) {
	page := newFakePage(acceptSnapshot)
	page.tabs = []Tab{{ID: "t1", Active: true}, {ID: "t2"}}
	page.presence = Presence{IdleFor: time.Hour}
	s := NewSession("p1", page, testOptions())
	gen := prime(t, s, models.VariantCursor)

	s.pass(context.Background(), gen, s.current())
	assert.Empty(t, page.activated)
}

func TestPass_AwayClicksAreTracked(t *testing.T) {
	page := newFakePage(acceptSnapshot)
	page.removeOnClick = true
	page.presence = Presence{IdleFor: time.Hour}
	s := NewSession("p1", page, testOptions())
	gen := prime(t, s, models.VariantCursor)

	s.pass(context.Background(), gen, s.current())

	assert.Equal(t, int64(1), s.GetStats().ActionsWhileAway)
	assert.Equal(t, int64(1), s.GetAwayActions())
	assert.Zero(t, s.GetAwayActions())
}

func TestReconcileOverlay_SendsOnlyChanges(t *testing.T) {
	page := newFakePage("")
	s := NewSession("p1", page, testOptions())
	ctx := context.Background()

	tabs := []Tab{{Name: "A", Status: "working"}, {Name: "B", Status: "done"}, {Name: "C"}}
	s.reconcileOverlay(ctx, "badge", tabs)
	s.reconcileOverlay(ctx, "badge", tabs)
	require.Len(t, page.overlays, 1)
	assert.Equal(t, []OverlayEntry{{Tab: "A", Status: "working"}, {Tab: "B", Status: "done"}}, page.overlays[0].upserts)
	assert.Empty(t, page.overlays[0].removals)

	tabs[0].Status = "done"
	tabs = tabs[:1]
	s.reconcileOverlay(ctx, "badge", tabs)
	require.Len(t, page.overlays, 2)
	assert.Equal(t, []OverlayEntry{{Tab: "A", Status: "done"}}, page.overlays[1].upserts)
	assert.Equal(t, []string{"B"}, page.overlays[1].removals)
}

func TestStats_CollectAndPeekDoNotInterfere(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	opts := testOptions()
	opts.Now = func() time.Time { return now }
	s := NewSession("p1", newFakePage(""), opts)
	prime(t, s, models.VariantCursor)

	s.recordClick(KindCommand, false)
	s.recordClick(KindEdit, true)

	collected := s.ResetStats()
	assert.Equal(t, int64(2), collected.Clicks)
	assert.Equal(t, int64(1), collected.TerminalCommands)
	assert.Equal(t, int64(1), collected.FileEdits)
	assert.Equal(t, int64(1), collected.ActionsWhileAway)

	assert.Zero(t, s.ResetStats().Clicks)
	assert.Equal(t, int64(2), s.GetStats().Clicks)

	s.recordClick(KindOther, false)
	assert.Equal(t, int64(1), s.ResetStats().Clicks)
	assert.Equal(t, int64(3), s.GetStats().Clicks)

	now = now.Add(time.Minute)
	sum := s.GetSessionSummary()
	assert.Equal(t, "p1", sum.PageID)
	assert.Equal(t, models.VariantCursor, sum.Variant)
	assert.Equal(t, int64(3), sum.Stats.Clicks)
	assert.Equal(t, time.Minute, sum.Duration)
}

func TestNotReady_IsReported(t *testing.T) {
	page := newFakePage(acceptSnapshot)
	page.notReady = true

	var reported []string
	opts := testOptions()
	opts.OnNotReady = func(id string) { reported = append(reported, id) }
	s := NewSession("p1", page, opts)
	gen := prime(t, s, models.VariantCursor)

	s.pass(context.Background(), gen, s.current())
	assert.Equal(t, []string{"p1"}, reported)

	err := s.SendPrompt(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestSendPrompt(t *testing.T) {
	page := newFakePage("")
	s := NewSession("p1", page, testOptions())

	assert.Error(t, s.SendPrompt(context.Background(), "hi"), "no variant yet")

	prime(t, s, models.VariantAntigravity)
	require.NoError(t, s.SendPrompt(context.Background(), "continue"))
	assert.Equal(t, []string{"continue"}, page.prompts)
}

func TestUpdateBannedCommands_KeepsGeneration(t *testing.T) {
	s := NewSession("p1", newFakePage(""), testOptions())
	gen := prime(t, s, models.VariantCursor)

	s.UpdateBannedCommands([]string{"sudo"})
	assert.Equal(t, gen, s.Generation())
	_, banned := s.current().banned.Match("sudo reboot")
	assert.True(t, banned)
	assert.Equal(t, 1, denylist.Compile(s.BannedPatterns()).Len())
}

// prime puts a session in the running state without spawning a loop so that
// tests can drive passes by hand.
func prime(t *testing.T, s *Session, v models.Variant) uint64 {
	t.Helper()
	strategy, ok := StrategyFor(v)
	require.True(t, ok)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.generation++
	s.mode = models.Mode{Variant: v}
	s.strategy = strategy
	s.config = models.SessionConfig{Variant: v}
	s.banned = denylist.Compile(nil)
	if s.startedAt.IsZero() {
		s.startedAt = s.opts.Now()
	}
	return s.generation
}

func TestVerify_IconTextIsNotARelabel(t *testing.T) {
	// The page reports raw text content including the icon's title; the
	// probe must still read the label the snapshot saw.
	eval := &scriptedEvaluator{replies: map[string]string{
		"probe": `{"present":true,"visible":true,"disabled":false,"label":"play iconRun",` +
			`"html":"<button data-aa-id=\"b\"><svg><title>play icon</title></svg>Run</button>"}`,
	}}
	s := NewSession("p1", NewRemotePage("p1", eval), testOptions())

	assert.False(t, s.verify(context.Background(), "b", "Run"))
}

func TestVerify_CosmeticLabelChangeIsNotARelabel(t *testing.T) {
	page := newFakePage(`<div class="composer-bar"><button data-aa-id="b" aria-label="Run!">Run</button></div>`)
	s := NewSession("p1", page, testOptions())

	assert.False(t, s.verify(context.Background(), "b", "run"))
}

func TestNotReady_ResetsOverlayAndBlockedIDs(t *testing.T) {
	page := newFakePage(runSnapshot)
	s := NewSession("p1", page, testOptions())
	gen := prime(t, s, models.VariantCursor)
	s.UpdateBannedCommands([]string{"rm -rf"})
	ctx := context.Background()

	tabs := []Tab{{Name: "A", Status: "working"}}
	s.reconcileOverlay(ctx, "badge", tabs)
	s.pass(ctx, gen, s.current())
	require.Len(t, page.overlays, 1)
	require.Equal(t, int64(1), s.GetStats().Blocked)

	// The page reloads: script gone for one pass, then restored
	page.mu.Lock()
	page.notReady = true
	page.mu.Unlock()
	s.pass(ctx, gen, s.current())
	page.mu.Lock()
	page.notReady = false
	page.mu.Unlock()

	s.reconcileOverlay(ctx, "badge", tabs)
	require.Len(t, page.overlays, 2, "badges are rebuilt after a reload")
	assert.Equal(t, []OverlayEntry{{Tab: "A", Status: "working"}}, page.overlays[1].upserts)

	s.pass(ctx, gen, s.current())
	assert.Equal(t, int64(2), s.GetStats().Blocked, "a reused control id is a new control")
}
