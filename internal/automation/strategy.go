package automation

import (
	"regexp"
	"strings"
	"time"

	"github.com/shehryarbajwa/autoaccept/pkg/models"
)

// ActionKind says what an accepted control does
type ActionKind int

const (
	KindOther ActionKind = iota
	KindEdit
	KindCommand
)

func (k ActionKind) String() string {
	switch k {
	case KindEdit:
		return "edit"
	case KindCommand:
		return "command"
	default:
		return "other"
	}
}

// maxLabelLength keeps container elements with long text from matching
const maxLabelLength = 48

var (
	acceptPattern  = regexp.MustCompile(`^(accept|accept all|apply|apply all|keep|keep all|run|run command|run all|execute|allow|always allow|allow once|continue|retry|resume|confirm|approve|yes)\b`)
	rejectPattern  = regexp.MustCompile(`\b(reject|skip|cancel|deny|discard|undo|revert|stop|decline|dismiss|never|don't|do not|close)\b`)
	commandPattern = regexp.MustCompile(`^(run|execute|allow|always allow|allow once|approve)\b`)
	editPattern    = regexp.MustCompile(`^(accept|apply|keep)\b`)
)

// NormalizeLabel lowercases a label and strips keyboard hints and symbols
func NormalizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	label = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ', r == '\'':
			return r
		default:
			return ' '
		}
	}, label)
	return strings.Join(strings.Fields(label), " ")
}

// IsAccept reports whether a label is accept-worthy. Reject wins ties.
func IsAccept(label string) bool {
	l := NormalizeLabel(label)
	if l == "" || len(l) > maxLabelLength {
		return false
	}
	if rejectPattern.MatchString(l) {
		return false
	}
	return acceptPattern.MatchString(l)
}

// Classify returns the kind of an accept-worthy label
func Classify(label string) ActionKind {
	l := NormalizeLabel(label)
	switch {
	case commandPattern.MatchString(l):
		return KindCommand
	case editPattern.MatchString(l):
		return KindEdit
	default:
		return KindOther
	}
}

// Strategy holds everything that differs between UI variants
type Strategy struct {
	Variant            models.Variant
	Roots              []string
	Candidates         string
	Tabs               string
	Badge              string
	Input              string
	Interval           time.Duration
	BackgroundInterval time.Duration
}

// Query is the snapshot query for this variant
func (s Strategy) Query() Query {
	return Query{Roots: s.Roots, Candidates: s.Candidates}
}

// IntervalFor picks the loop cadence for the mode. A positive override from
// the session config wins.
func (s Strategy) IntervalFor(background bool, overrideMs int) time.Duration {
	if overrideMs > 0 {
		return time.Duration(overrideMs) * time.Millisecond
	}
	if background {
		return s.BackgroundInterval
	}
	return s.Interval
}

var strategies = map[models.Variant]Strategy{
	models.VariantCursor: {
		Variant: models.VariantCursor,
		Roots: []string{
			"#workbench\\.parts\\.auxiliarybar",
			".composer-bar",
			".chat-view",
		},
		Candidates:         "button, [role=button], a.monaco-button, .anysphere-button, .composer-run-button",
		Tabs:               ".composer-tab, .chat-tabs [role=tab]",
		Badge:              "aa-badge-cursor",
		Input:              ".aislash-editor-input, .chat-input textarea, [contenteditable=true]",
		Interval:           800 * time.Millisecond,
		BackgroundInterval: 1500 * time.Millisecond,
	},
	models.VariantAntigravity: {
		Variant: models.VariantAntigravity,
		Roots: []string{
			"#antigravity\\.agentPanel",
			".agent-panel",
			"[data-testid=agent-manager]",
		},
		Candidates:         "button, [role=button], .action-button",
		Tabs:               ".agent-tabs [role=tab], .conversation-tab",
		Badge:              "aa-badge-antigravity",
		Input:              ".agent-input textarea, [contenteditable=true]",
		Interval:           1000 * time.Millisecond,
		BackgroundInterval: 2000 * time.Millisecond,
	},
}

// StrategyFor returns the strategy of a variant
func StrategyFor(v models.Variant) (Strategy, bool) {
	s, ok := strategies[v]
	return s, ok
}
