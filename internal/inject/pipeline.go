// Package inject installs the control script into attached pages at most
// once per page lifetime and applies the session config on every cycle.
package inject

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/autoaccept/pkg/models"
)

// Script is the control script evaluated in each page
//
//go:embed control.js
var Script string

// Global is the window property the control script installs
const Global = "__autoAccept"

// NotReady is returned by calls made before the control script is installed
const NotReady = "__autoaccept_not_ready__"

// EntryPoints must all be functions for a page to count as injected
var EntryPoints = []string{
	"snapshot",
	"click",
	"probe",
	"tabs",
	"activateTab",
	"syncOverlay",
	"clearOverlay",
	"presence",
	"sendPrompt",
}

// ErrVerifyFailed means the script ran but the entry points are missing
var ErrVerifyFailed = errors.New("control script verification failed")

// VerifyExpression evaluates to true when every entry point is present
func VerifyExpression() string {
	names, _ := json.Marshal(EntryPoints)
	return fmt.Sprintf(`(function(){var aa=window.%s;return !!aa&&%s.every(function(k){return typeof aa[k]==="function";});})()`,
		Global, names)
}

// CallExpression calls an entry point with pre-encoded JSON arguments. It
// evaluates to the NotReady sentinel when the script is missing.
func CallExpression(fn, args string) string {
	return fmt.Sprintf(`(function(){var aa=window.%s;if(!aa||typeof aa.%s!=="function"){return %q;}return aa.%s(%s);})()`,
		Global, fn, NotReady, fn, args)
}

// Target is the connection layer the pipeline injects through
type Target interface {
	Evaluate(ctx context.Context, pageID, expression string, awaitPromise bool) (json.RawMessage, error)
	Injected(pageID string) bool
	SetInjected(pageID string, injected bool)
}

// Starter applies a session config idempotently
type Starter interface {
	Start(cfg models.SessionConfig) (uint64, error)
}

// Pipeline makes pages ready for automation
type Pipeline struct {
	target     Target
	logger     *zap.Logger
	onInjected func(pageID string)
}

// NewPipeline creates a new injection pipeline
func NewPipeline(target Target, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{target: target, logger: logger}
}

// OnInjected registers a callback fired after a page passes verification
func (p *Pipeline) OnInjected(fn func(pageID string)) {
	p.onInjected = fn
}

// EnsureReady injects the control script if the page does not have it yet,
// then applies cfg. A failed injection leaves the page not injected so the
// next cycle retries from scratch.
func (p *Pipeline) EnsureReady(ctx context.Context, pageID string, cfg models.SessionConfig, starter Starter) error {
	if !p.target.Injected(pageID) {
		if err := p.inject(ctx, pageID); err != nil {
			p.target.SetInjected(pageID, false)
			return err
		}
		p.target.SetInjected(pageID, true)
		p.logger.Info("control script injected", zap.String("page", pageID))
		if p.onInjected != nil {
			p.onInjected(pageID)
		}
	}

	if _, err := starter.Start(cfg); err != nil {
		return fmt.Errorf("failed to start session on %s: %w", pageID, err)
	}
	return nil
}

func (p *Pipeline) inject(ctx context.Context, pageID string) error {
	if _, err := p.target.Evaluate(ctx, pageID, Script, false); err != nil {
		p.logger.Warn("control script evaluation failed",
			zap.String("page", pageID),
			zap.Error(err))
		return fmt.Errorf("failed to inject control script into %s: %w", pageID, err)
	}

	raw, err := p.target.Evaluate(ctx, pageID, VerifyExpression(), false)
	if err != nil {
		return fmt.Errorf("failed to verify control script in %s: %w", pageID, err)
	}
	if strings.TrimSpace(string(raw)) != "true" {
		p.logger.Warn("control script entry points missing", zap.String("page", pageID))
		return fmt.Errorf("%s: %w", pageID, ErrVerifyFailed)
	}
	return nil
}

// Invalidate forgets that a page was injected, forcing re-injection
func (p *Pipeline) Invalidate(pageID string) {
	p.target.SetInjected(pageID, false)
}
