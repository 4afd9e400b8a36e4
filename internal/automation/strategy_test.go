package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/shehryarbajwa/autoaccept/pkg/models"
)

func TestIsAccept(t *testing.T) {
	tests := []struct {
		label string
		want  bool
	}{
		{"Accept", true},
		{"Accept All", true},
		{"Run ⌘⏎", true},
		{"Run command", true},
		{"Always Allow", true},
		{"Continue", true},
		{"Reject", false},
		{"Skip", false},
		{"Accept or Reject", false},
		{"Don't allow", false},
		{"Cancel run", false},
		{"Running tests in the background for this workspace, please hold on", false},
		{"Settings", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAccept(tt.label))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindCommand, Classify("Run"))
	assert.Equal(t, KindCommand, Classify("Allow once"))
	assert.Equal(t, KindEdit, Classify("Accept all"))
	assert.Equal(t, KindEdit, Classify("Keep"))
	assert.Equal(t, KindOther, Classify("Continue"))
	assert.Equal(t, "command", KindCommand.String())
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, "run", NormalizeLabel("  Run ⌘⏎ "))
	assert.Equal(t, "accept all", NormalizeLabel("Accept\n  All"))
}

func TestStrategy_IntervalFor(t *testing.T) {
	s, ok := StrategyFor(models.VariantCursor)
	assert.True(t, ok)
	assert.Equal(t, 800*time.Millisecond, s.IntervalFor(false, 0))
	assert.Equal(t, 1500*time.Millisecond, s.IntervalFor(true, 0))
	assert.Equal(t, 250*time.Millisecond, s.IntervalFor(true, 250))

	_, ok = StrategyFor("emacs")
	assert.False(t, ok)
}
