// Package automation runs one session per attached page: a generation-scoped
// polling loop that finds accept/run controls, screens commands against the
// denylist, activates and verifies controls, and keeps per-page analytics.
package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/autoaccept/internal/denylist"
	"github.com/shehryarbajwa/autoaccept/internal/ratelimit"
	"github.com/shehryarbajwa/autoaccept/pkg/models"
)

// Defaults for Options
const (
	DefaultVerifyWindow   = 1500 * time.Millisecond
	DefaultVerifyStep     = 100 * time.Millisecond
	DefaultActivityWindow = 30 * time.Second
	DefaultCallTimeout    = 3 * time.Second
)

// Options tune a session
type Options struct {
	Logger *zap.Logger

	// Limiter caps activations per page; nil disables the cap
	Limiter *ratelimit.Limiter

	VerifyWindow   time.Duration
	VerifyStep     time.Duration
	ActivityWindow time.Duration
	CallTimeout    time.Duration

	// OnEvent receives clicks, blocked commands and tab rotations
	OnEvent func(models.Event)
	// OnNotReady fires when the page reports its control script missing
	OnNotReady func(pageID string)

	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.VerifyWindow <= 0 {
		o.VerifyWindow = DefaultVerifyWindow
	}
	if o.VerifyStep <= 0 {
		o.VerifyStep = DefaultVerifyStep
	}
	if o.ActivityWindow <= 0 {
		o.ActivityWindow = DefaultActivityWindow
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Session is the per-page session context. It survives re-injection and
// reconnection of its page; only the controller discards it.
type Session struct {
	pageID string
	page   PageModel
	opts   Options
	logger *zap.Logger

	mu         sync.Mutex
	running    bool
	generation uint64
	mode       models.Mode
	config     models.SessionConfig
	strategy   Strategy
	banned     *denylist.Matcher
	cancel     context.CancelFunc

	hostFocused bool

	tabNames   []string
	completion map[string]string
	overlay    map[string]string
	blockedIDs map[string]bool

	startedAt   time.Time
	pending     counters
	totals      counters
	awayActions int64

	wg sync.WaitGroup
}

// NewSession creates a stopped session for a page
func NewSession(pageID string, page PageModel, opts Options) *Session {
	opts.setDefaults()
	return &Session{
		pageID:     pageID,
		page:       page,
		opts:       opts,
		logger:     opts.Logger.With(zap.String("page", pageID)),
		completion: make(map[string]string),
		overlay:    make(map[string]string),
		blockedIDs: make(map[string]bool),
	}
}

// PageID returns the page the session drives
func (s *Session) PageID() string {
	return s.pageID
}

// ResetPageState forgets what the session believes the page renders: the
// synced overlay badges and the blocked control ids. A reloaded page starts
// with neither, and reuses control ids.
func (s *Session) ResetPageState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlay = make(map[string]string)
	s.blockedIDs = make(map[string]bool)
}

// Start applies cfg. With an identical mode already running only the side
// channel fields (banned patterns, poll interval) are refreshed and the
// generation is kept. Otherwise the running loop is superseded by a new
// generation. It returns the generation in effect.
func (s *Session) Start(cfg models.SessionConfig) (uint64, error) {
	strategy, ok := StrategyFor(cfg.Variant)
	if !ok {
		return 0, fmt.Errorf("unknown variant %q", cfg.Variant)
	}
	mode := cfg.Mode()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.config = cfg
	s.banned = denylist.Compile(cfg.BannedPatterns)

	if s.running && s.mode == mode {
		return s.generation, nil
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.generation++
	s.running = true
	s.mode = mode
	s.strategy = strategy
	if s.startedAt.IsZero() {
		s.startedAt = s.opts.Now()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	gen := s.generation
	s.wg.Add(1)
	go s.run(ctx, gen)

	s.logger.Info("session started",
		zap.Uint64("generation", gen),
		zap.String("variant", string(mode.Variant)),
		zap.Bool("background", mode.Background))
	return gen, nil
}

// Stop halts the loop. Teardown is eventually consistent: the loop exits at
// its next check and the overlay is cleared in the background.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.overlay = make(map[string]string)
	gen := s.generation
	s.mu.Unlock()

	s.logger.Info("session stopped", zap.Uint64("generation", gen))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.CallTimeout)
		defer cancel()
		if err := s.page.ClearOverlay(ctx); err != nil {
			s.logger.Debug("failed to clear overlay", zap.Error(err))
		}
	}()
}

// Wait blocks until every loop this session spawned has exited
func (s *Session) Wait() {
	s.wg.Wait()
}

// IsRunning reports the running flag
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Generation returns the current generation
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Mode returns the mode of the current generation
func (s *Session) Mode() models.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// alive is the cancellation token check of a loop captured at gen
func (s *Session) alive(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && s.generation == gen
}

// SetFocusState records the host window focus pushed by the host process
func (s *Session) SetFocusState(focused bool) {
	s.mu.Lock()
	s.hostFocused = focused
	s.mu.Unlock()
}

// UpdateBannedCommands replaces the denylist without touching the generation
func (s *Session) UpdateBannedCommands(patterns []string) {
	m := denylist.Compile(patterns)
	s.mu.Lock()
	s.banned = m
	s.config.BannedPatterns = append([]string(nil), patterns...)
	s.mu.Unlock()
}

// BannedPatterns returns the active denylist
func (s *Session) BannedPatterns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.banned.Patterns()
}

// SendPrompt types text into the chat input of the current variant and submits it
func (s *Session) SendPrompt(ctx context.Context, text string) error {
	s.mu.Lock()
	strategy := s.strategy
	if strategy.Variant == "" {
		strategy, _ = StrategyFor(s.config.Variant)
	}
	s.mu.Unlock()
	if strategy.Input == "" {
		return fmt.Errorf("session has no variant configured")
	}

	if err := s.page.SendPrompt(ctx, strategy.Input, text); err != nil {
		s.checkNotReady(err)
		return fmt.Errorf("failed to send prompt: %w", err)
	}
	return nil
}

// tabState returns the tab names and completion statuses seen in the last pass
func (s *Session) tabState() ([]string, map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := append([]string(nil), s.tabNames...)
	status := make(map[string]string, len(s.completion))
	for k, v := range s.completion {
		status[k] = v
	}
	return names, status
}
