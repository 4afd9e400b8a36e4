// Package controller runs the host cycle: gate on leadership, discover and
// attach pages, make each one ready, and keep one session per page.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/autoaccept/internal/automation"
	"github.com/shehryarbajwa/autoaccept/internal/discovery"
	"github.com/shehryarbajwa/autoaccept/internal/inject"
	"github.com/shehryarbajwa/autoaccept/internal/leader"
	"github.com/shehryarbajwa/autoaccept/internal/ratelimit"
	"github.com/shehryarbajwa/autoaccept/internal/stats"
	"github.com/shehryarbajwa/autoaccept/pkg/models"
)

var (
	// ErrUnknownPage is returned for a page id with no session
	ErrUnknownPage = errors.New("unknown page")
	// ErrNotLeader is returned for page operations while on standby
	ErrNotLeader = errors.New("instance is on standby")
	// ErrNoRelauncher is returned when relaunch support is not wired
	ErrNoRelauncher = errors.New("relaunch is not supported")
)

// Discoverer finds debuggable pages
type Discoverer interface {
	Scan(ctx context.Context, ports []int) []models.PortScan
	IsAvailable(ctx context.Context, ports []int) bool
}

// Connections is the connection manager surface the controller drives
type Connections interface {
	inject.Target
	Attach(ctx context.Context, page models.Page) bool
	Has(pageID string) bool
	PageIDs() []string
	Page(pageID string) (models.Page, bool)
	Detach(pageID string)
	DetachAll()
}

// History persists rollups
type History interface {
	InsertRollup(ctx context.Context, r models.Rollup) (int64, error)
	ListRollups(ctx context.Context, limit int) ([]models.Rollup, error)
	Totals(ctx context.Context) (models.Stats, error)
}

// Publisher receives dashboard events
type Publisher interface {
	Publish(ev models.Event)
}

// Relauncher restarts the host application with its debug port enabled
type Relauncher interface {
	Relaunch(ctx context.Context) error
}

// Options wire a controller
type Options struct {
	Ports         []int
	MaxAttaching  int
	CommandWindow time.Duration

	Session      models.SessionConfig
	ClickLimiter *ratelimit.Limiter

	History    History
	Publisher  Publisher
	Relauncher Relauncher

	// SessionOptions are the base options of every session; the controller
	// sets the logger, limiter and hooks.
	SessionOptions automation.Options

	Logger *zap.Logger
}

// CycleReport is the outcome of one RunCycle
type CycleReport struct {
	Election   models.ElectionStatus `json:"election"`
	Discovered int                   `json:"discovered"`
	Attached   int                   `json:"attached"`
	Ready      int                   `json:"ready"`
}

// Status is the controller snapshot served by the API
type Status struct {
	Election    models.ElectionStatus `json:"election"`
	Config      models.SessionConfig  `json:"config"`
	HostFocused bool                  `json:"hostFocused"`
	Pages       int                   `json:"pages"`
	Running     int                   `json:"running"`
	LastCycle   time.Time             `json:"lastCycle"`
}

// Controller orchestrates every component of the daemon
type Controller struct {
	discoverer Discoverer
	conns      Connections
	pipeline   *inject.Pipeline
	elector    leader.Elector
	aggregator *stats.Aggregator
	opts       Options
	logger     *zap.Logger
	attachSem  *semaphore.Weighted

	mu          sync.Mutex
	sessions    map[string]*automation.Session
	retired     []*automation.Session
	config      models.SessionConfig
	hostFocused bool
	role        models.Role
	lastCycle   time.Time
}

// New creates a controller
func New(discoverer Discoverer, conns Connections, elector leader.Elector, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxAttaching <= 0 {
		opts.MaxAttaching = 4
	}
	if opts.CommandWindow <= 0 {
		opts.CommandWindow = 10 * time.Second
	}

	c := &Controller{
		discoverer: discoverer,
		conns:      conns,
		pipeline:   inject.NewPipeline(conns, opts.Logger.With(zap.String("component", "inject"))),
		elector:    elector,
		aggregator: stats.NewAggregator(0, opts.Logger.With(zap.String("component", "stats"))),
		opts:       opts,
		logger:     opts.Logger,
		attachSem:  semaphore.NewWeighted(int64(opts.MaxAttaching)),
		sessions:   make(map[string]*automation.Session),
		config:     opts.Session,
		role:       models.RoleStandby,
	}
	c.pipeline.OnInjected(func(pageID string) {
		c.mu.Lock()
		sess := c.sessions[pageID]
		c.mu.Unlock()
		if sess != nil {
			sess.ResetPageState()
		}
		c.publish(models.EventInjected, pageID, nil)
	})
	return c
}

// RunCycle performs one controller cycle
func (c *Controller) RunCycle(ctx context.Context) CycleReport {
	status := c.elector.Tick(ctx)
	prev := c.observeRole(status)

	c.mu.Lock()
	c.lastCycle = time.Now()
	c.mu.Unlock()

	report := CycleReport{Election: status}
	if !status.IsLeader() {
		c.stopAll()
		if prev == models.RoleLeader {
			// Flush what was earned while leading before the new owner takes over
			if _, err := c.Rollup(ctx); err != nil {
				c.logger.Warn("handover rollup failed", zap.Error(err))
			}
		}
		return report
	}

	scans := c.discoverer.Scan(ctx, c.opts.Ports)
	pages := discovery.Candidates(discovery.Pages(scans))
	report.Discovered = len(pages)

	discovered := make(map[string]bool, len(pages))
	for _, p := range pages {
		discovered[p.ID] = true
	}
	if len(scans) > 0 {
		c.detachUnlisted(discovered)
	}

	c.attachAll(ctx, pages)
	c.reconcile(discovered)

	cfg := c.Config()
	ids := c.conns.PageIDs()
	report.Attached = len(ids)

	var ready int
	var readyMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		sess := c.session(id)
		g.Go(func() error {
			readyCtx, cancel := context.WithTimeout(gctx, c.opts.CommandWindow)
			defer cancel()
			if err := c.pipeline.EnsureReady(readyCtx, id, cfg, sess); err != nil {
				c.logger.Warn("page not ready", zap.String("page", id), zap.Error(err))
				return nil
			}
			readyMu.Lock()
			ready++
			readyMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	report.Ready = ready

	c.logger.Debug("cycle complete",
		zap.Int("discovered", report.Discovered),
		zap.Int("attached", report.Attached),
		zap.Int("ready", report.Ready))
	return report
}

// observeRole records the election outcome and returns the previous role
func (c *Controller) observeRole(status models.ElectionStatus) models.Role {
	c.mu.Lock()
	prev := c.role
	c.role = status.Role
	c.mu.Unlock()
	if prev == status.Role {
		return prev
	}
	c.logger.Info("controller role changed",
		zap.String("role", string(status.Role)),
		zap.String("owner", status.OwnerID))
	c.publish(models.EventRoleChanged, "", map[string]any{"role": status.Role, "owner": status.OwnerID})
	return prev
}

// attachAll attaches every page not yet connected, a bounded number at a time
func (c *Controller) attachAll(ctx context.Context, pages []models.Page) {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pages {
		if c.conns.Has(p.ID) {
			continue
		}
		if err := c.attachSem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer c.attachSem.Release(1)
			if c.conns.Attach(gctx, p) {
				c.logger.Info("attached page", zap.String("page", p.ID), zap.String("title", p.Title))
				c.publish(models.EventPageAttached, p.ID, map[string]any{"title": p.Title, "url": p.URL})
			}
			return nil
		})
	}
	_ = g.Wait()
}

// detachUnlisted closes connections to pages the answering endpoint no
// longer lists, or that stopped passing the page filter.
func (c *Controller) detachUnlisted(discovered map[string]bool) {
	for _, id := range c.conns.PageIDs() {
		if discovered[id] {
			continue
		}
		c.conns.Detach(id)
		c.logger.Info("detached unlisted page", zap.String("page", id))
	}
}

// reconcile stops sessions whose connection is gone. A session whose page
// also vanished from discovery is retired until the next rollup.
func (c *Controller) reconcile(discovered map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, sess := range c.sessions {
		if c.conns.Has(id) {
			continue
		}
		if sess.IsRunning() {
			sess.Stop()
			c.logger.Info("page connection lost", zap.String("page", id))
		}
		if !discovered[id] {
			delete(c.sessions, id)
			c.retired = append(c.retired, sess)
			c.opts.ClickLimiter.Forget(id)
			c.publish(models.EventPageDetached, id, nil)
		}
	}
}

// session returns the page's session, creating it on first sight
func (c *Controller) session(pageID string) *automation.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess, ok := c.sessions[pageID]; ok {
		return sess
	}

	opts := c.opts.SessionOptions
	opts.Logger = c.logger.With(zap.String("component", "session"))
	opts.Limiter = c.opts.ClickLimiter
	opts.OnEvent = func(ev models.Event) {
		if c.opts.Publisher != nil {
			c.opts.Publisher.Publish(ev)
		}
	}
	opts.OnNotReady = c.pipeline.Invalidate

	sess := automation.NewSession(pageID, automation.NewRemotePage(pageID, c.conns), opts)
	sess.SetFocusState(c.hostFocused)
	c.sessions[pageID] = sess
	return sess
}

func (c *Controller) stopAll() {
	for _, sess := range c.Sessions() {
		sess.Stop()
	}
}

// Sessions returns the live sessions ordered by page id
func (c *Controller) Sessions() []*automation.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*automation.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageID() < out[j].PageID() })
	return out
}

// Config returns the session config applied every cycle
func (c *Controller) Config() models.SessionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg := c.config
	cfg.BannedPatterns = append([]string(nil), c.config.BannedPatterns...)
	return cfg
}

// UpdateConfig replaces the session config. Running sessions pick it up
// immediately; a changed mode starts a new generation.
func (c *Controller) UpdateConfig(cfg models.SessionConfig) error {
	if !cfg.Variant.Valid() {
		return fmt.Errorf("unknown variant %q", cfg.Variant)
	}
	if cfg.PollIntervalMs < 0 {
		return fmt.Errorf("pollIntervalMs must not be negative")
	}

	c.mu.Lock()
	c.config = cfg
	leader := c.role == models.RoleLeader
	c.mu.Unlock()

	if !leader {
		return nil
	}
	for _, sess := range c.Sessions() {
		if !sess.IsRunning() {
			continue
		}
		if _, err := sess.Start(cfg); err != nil {
			return fmt.Errorf("failed to apply config to %s: %w", sess.PageID(), err)
		}
	}
	return nil
}

// UpdateBannedCommands replaces the denylist everywhere without restarting loops
func (c *Controller) UpdateBannedCommands(patterns []string) {
	c.mu.Lock()
	c.config.BannedPatterns = append([]string(nil), patterns...)
	c.mu.Unlock()

	for _, sess := range c.Sessions() {
		sess.UpdateBannedCommands(patterns)
	}
	c.logger.Info("banned commands updated", zap.Int("patterns", len(patterns)))
}

// SetFocus records the host window focus and pushes it to every page
func (c *Controller) SetFocus(focused bool) {
	c.mu.Lock()
	c.hostFocused = focused
	c.mu.Unlock()

	for _, sess := range c.Sessions() {
		sess.SetFocusState(focused)
	}
}

// SendPrompt types text into a page's chat input
func (c *Controller) SendPrompt(ctx context.Context, pageID, text string) error {
	c.mu.Lock()
	sess, ok := c.sessions[pageID]
	leader := c.role == models.RoleLeader
	c.mu.Unlock()

	if !leader {
		return ErrNotLeader
	}
	if !ok {
		return fmt.Errorf("%s: %w", pageID, ErrUnknownPage)
	}
	return sess.SendPrompt(ctx, text)
}

// Pages lists attached pages and their session state
func (c *Controller) Pages() []models.PageStatus {
	var out []models.PageStatus
	for _, id := range c.conns.PageIDs() {
		page, ok := c.conns.Page(id)
		if !ok {
			continue
		}
		st := models.PageStatus{Page: page, Injected: c.conns.Injected(id)}

		c.mu.Lock()
		sess := c.sessions[id]
		c.mu.Unlock()
		if sess != nil {
			st.Running = sess.IsRunning()
			st.Generation = sess.Generation()
		}
		out = append(out, st)
	}
	return out
}

// Summaries returns the end-of-session view of every page
func (c *Controller) Summaries() []models.SessionSummary {
	sessions := c.Sessions()
	out := make([]models.SessionSummary, len(sessions))
	for i, s := range sessions {
		out[i] = s.GetSessionSummary()
	}
	return out
}

// Stats sums session counters without resetting them
func (c *Controller) Stats(ctx context.Context) stats.Result {
	return c.aggregator.Peek(ctx, stats.Sources(c.Sessions()))
}

// AwayActions sums and zeroes the away counters
func (c *Controller) AwayActions(ctx context.Context) stats.Result {
	return c.aggregator.AwayActions(ctx, stats.Sources(c.Sessions()))
}

// Rollup collects pending counters from every session, including retired
// ones. The sum is persisted while leading, and on standby whenever it is
// non-empty so that nothing collected is dropped.
func (c *Controller) Rollup(ctx context.Context) (models.Rollup, error) {
	c.mu.Lock()
	sessions := make([]*automation.Session, 0, len(c.sessions)+len(c.retired))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	sessions = append(sessions, c.retired...)
	c.retired = nil
	leading := c.role == models.RoleLeader
	c.mu.Unlock()

	res := c.aggregator.Collect(ctx, stats.Sources(sessions))
	rollup := models.Rollup{
		OwnerID:     c.elector.ID(),
		CollectedAt: time.Now().UTC(),
		Pages:       res.Pages,
		Stats:       res.Stats,
	}

	if c.opts.History == nil || (!leading && rollup.Stats.IsZero()) {
		return rollup, nil
	}
	id, err := c.opts.History.InsertRollup(ctx, rollup)
	if err != nil {
		return rollup, fmt.Errorf("failed to persist rollup: %w", err)
	}
	rollup.ID = id
	return rollup, nil
}

// History returns persisted rollups, newest first
func (c *Controller) History(ctx context.Context, limit int) ([]models.Rollup, error) {
	if c.opts.History == nil {
		return nil, nil
	}
	return c.opts.History.ListRollups(ctx, limit)
}

// Totals sums every persisted rollup
func (c *Controller) Totals(ctx context.Context) (models.Stats, error) {
	if c.opts.History == nil {
		return models.Stats{}, nil
	}
	return c.opts.History.Totals(ctx)
}

// Available reports whether any debug port answers
func (c *Controller) Available(ctx context.Context) bool {
	return c.discoverer.IsAvailable(ctx, c.opts.Ports)
}

// Relaunch restarts the host application if a relauncher is wired
func (c *Controller) Relaunch(ctx context.Context) error {
	if c.opts.Relauncher == nil {
		return ErrNoRelauncher
	}
	return c.opts.Relauncher.Relaunch(ctx)
}

// Status returns a snapshot for the control API
func (c *Controller) Status() Status {
	sessions := c.Sessions()
	running := 0
	for _, s := range sessions {
		if s.IsRunning() {
			running++
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Election:    c.elector.Status(),
		Config:      c.config,
		HostFocused: c.hostFocused,
		Pages:       len(sessions),
		Running:     running,
		LastCycle:   c.lastCycle,
	}
}

// Run drives cycles and rollups until ctx is done
func (c *Controller) Run(ctx context.Context, cycleInterval, rollupInterval time.Duration) {
	cycle := time.NewTicker(cycleInterval)
	defer cycle.Stop()
	rollup := time.NewTicker(rollupInterval)
	defer rollup.Stop()

	c.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-cycle.C:
			c.RunCycle(ctx)
		case <-rollup.C:
			if _, err := c.Rollup(ctx); err != nil {
				c.logger.Warn("rollup failed", zap.Error(err))
			}
		}
	}
}

// Shutdown stops every session, persists a final rollup, closes every
// connection and releases leadership.
func (c *Controller) Shutdown(ctx context.Context) error {
	sessions := c.Sessions()
	for _, s := range sessions {
		s.Stop()
	}
	for _, s := range sessions {
		s.Wait()
	}

	var errs []error
	if _, err := c.Rollup(ctx); err != nil {
		errs = append(errs, err)
	}
	c.conns.DetachAll()
	if err := c.elector.Release(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Controller) publish(t models.EventType, pageID string, data map[string]any) {
	if c.opts.Publisher == nil {
		return
	}
	c.opts.Publisher.Publish(models.Event{Type: t, PageID: pageID, Time: time.Now(), Data: data})
}
