package subject

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesLabel_NumericComparisons(t *testing.T) {
	p := NewProduction("Prod0", "bilby")
	p.SetLabel("priority", 10)

	tests := []struct {
		spec string
		want bool
	}{
		{"priority>5", true},
		{"priority>=10", true},
		{"priority<10", false},
		{"priority<=10", true},
		{"priority==10", true},
		{"priority!=10", false},
		{"priority > 5", true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			assert.Equal(t, tt.want, p.MatchesLabel(tt.spec))
		})
	}
}

func TestMatchesLabel_MissingLabelIsFalse(t *testing.T) {
	p := NewProduction("Prod0", "bilby")

	for _, spec := range []string{"priority>5", "priority==0", "priority", "interesting"} {
		assert.False(t, p.MatchesLabel(spec), "spec %q against empty labels", spec)
	}
}

func TestMatchesLabel_BareNameAndBooleans(t *testing.T) {
	p := NewProduction("Prod0", "bilby")
	p.SetLabel("interesting", true)

	assert.True(t, p.MatchesLabel("interesting"))
	assert.True(t, p.MatchesLabel("interesting==1"))
	assert.False(t, p.MatchesLabel("interesting==0"))

	p.SetLabel("interesting", false)
	assert.False(t, p.MatchesLabel("interesting"))
	assert.True(t, p.MatchesLabel("interesting==0"))
}

func TestMatchesLabel_Strings(t *testing.T) {
	p := NewProduction("Prod0", "bilby")
	p.SetLabel("review", "approved")

	assert.True(t, p.MatchesLabel("review==approved"))
	assert.False(t, p.MatchesLabel("review!=approved"))
	assert.True(t, p.MatchesLabel("review"))
	// Ordering is undefined for non-numeric labels.
	assert.False(t, p.MatchesLabel("review>a"))
}

func TestMatchesFilter(t *testing.T) {
	p := NewProduction("Prod0", "bilby")
	p.Status = StatusRunning
	p.SetLabel("priority", 10)
	p.Meta["review"] = "deprecated"

	assert.True(t, p.MatchesFilter([]string{"status"}, "running"))
	assert.False(t, p.MatchesFilter([]string{"status"}, "ready"))
	assert.True(t, p.MatchesFilter([]string{"pipeline"}, "bilby"))
	assert.True(t, p.MatchesFilter([]string{"name"}, "Prod0"))
	assert.True(t, p.MatchesFilter([]string{"label"}, "priority>5"))
	assert.True(t, p.MatchesFilter([]string{"review"}, "deprecated"))
	assert.False(t, p.MatchesFilter([]string{"missing"}, "anything"))
	assert.False(t, p.MatchesFilter(nil, "anything"))
}
