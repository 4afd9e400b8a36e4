// Package stats sums per-page session counters. Each page is read on its own;
// there is never a single global counter.
package stats

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shehryarbajwa/autoaccept/internal/automation"
	"github.com/shehryarbajwa/autoaccept/pkg/models"
)

// DefaultTimeout bounds the read of a single page
const DefaultTimeout = 2 * time.Second

// Source is one page's counters
type Source interface {
	PageID() string
	// Collect returns the counters accumulated since the last collect and zeroes them
	Collect(ctx context.Context) (models.Stats, error)
	// Peek reads the session counters without zeroing
	Peek(ctx context.Context) (models.Stats, error)
	// AwayActions returns the away count and zeroes it
	AwayActions(ctx context.Context) (int64, error)
}

// Result is the sum over every page that answered
type Result struct {
	Stats  models.Stats `json:"stats"`
	Pages  int          `json:"pages"`
	Failed []string     `json:"failed,omitempty"`
}

// Aggregator fans reads out over all sources
type Aggregator struct {
	timeout time.Duration
	logger  *zap.Logger
}

// NewAggregator creates a new aggregator
func NewAggregator(timeout time.Duration, logger *zap.Logger) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{timeout: timeout, logger: logger}
}

// Collect sums and zeroes the pending counters of every page
func (a *Aggregator) Collect(ctx context.Context, sources []Source) Result {
	return a.sum(ctx, sources, "collect", func(ctx context.Context, s Source) (models.Stats, error) {
		return s.Collect(ctx)
	})
}

// Peek sums the session counters of every page
func (a *Aggregator) Peek(ctx context.Context, sources []Source) Result {
	return a.sum(ctx, sources, "peek", func(ctx context.Context, s Source) (models.Stats, error) {
		return s.Peek(ctx)
	})
}

// AwayActions sums and zeroes the away counters of every page
func (a *Aggregator) AwayActions(ctx context.Context, sources []Source) Result {
	return a.sum(ctx, sources, "away", func(ctx context.Context, s Source) (models.Stats, error) {
		n, err := s.AwayActions(ctx)
		return models.Stats{ActionsWhileAway: n}, err
	})
}

func (a *Aggregator) sum(ctx context.Context, sources []Source, op string, read func(context.Context, Source) (models.Stats, error)) Result {
	var (
		mu  sync.Mutex
		res Result
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		g.Go(func() error {
			readCtx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()

			st, err := read(readCtx, src)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				a.logger.Warn("failed to read page stats",
					zap.String("op", op),
					zap.String("page", src.PageID()),
					zap.Error(err))
				res.Failed = append(res.Failed, src.PageID())
				return nil
			}
			res.Stats.Add(st)
			res.Pages++
			return nil
		})
	}
	_ = g.Wait()
	return res
}

// SessionSource adapts an in-process session
type SessionSource struct {
	Session *automation.Session
}

func (s SessionSource) PageID() string {
	return s.Session.PageID()
}

func (s SessionSource) Collect(ctx context.Context) (models.Stats, error) {
	if err := ctx.Err(); err != nil {
		return models.Stats{}, err
	}
	return s.Session.ResetStats(), nil
}

func (s SessionSource) Peek(ctx context.Context) (models.Stats, error) {
	if err := ctx.Err(); err != nil {
		return models.Stats{}, err
	}
	return s.Session.GetStats(), nil
}

func (s SessionSource) AwayActions(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.Session.GetAwayActions(), nil
}

// Sources wraps sessions for the aggregator
func Sources(sessions []*automation.Session) []Source {
	out := make([]Source, len(sessions))
	for i, s := range sessions {
		out[i] = SessionSource{Session: s}
	}
	return out
}
