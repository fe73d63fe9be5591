package subject

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusHelpers(t *testing.T) {
	assert.True(t, StatusFinished.IsTerminal())
	assert.True(t, StatusUploaded.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusStopped.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())

	assert.True(t, StatusFinished.Finished())
	assert.True(t, StatusUploaded.Finished())
	assert.False(t, StatusStuck.Finished())

	assert.True(t, StatusRunning.Tracked())
	assert.True(t, StatusProcessing.Tracked())
	assert.True(t, StatusStuck.Tracked())
	assert.False(t, StatusReady.Tracked())
	assert.False(t, StatusWait.Tracked())
	assert.False(t, StatusFinished.Tracked())

	assert.True(t, IsValidStatus("ready"))
	assert.True(t, IsValidStatus("restart"))
	assert.False(t, IsValidStatus("exploded"))
}

func TestNewProduction(t *testing.T) {
	p := NewProduction("Prod0", "bilby")

	assert.Equal(t, "Prod0", p.Name)
	assert.Equal(t, "bilby", p.Pipeline)
	assert.Equal(t, StatusReady, p.Status)
	assert.Empty(t, p.JobID)
	assert.NotNil(t, p.Labels)
	assert.NotNil(t, p.Meta)
}

func TestProductionRoundTrip(t *testing.T) {
	p := NewProduction("Prod0", "bilby")
	p.Status = StatusRunning
	p.Comment = "high priority reanalysis"
	p.Dependencies = []string{"Prod1", "Prod2[priority>5]"}
	p.Needs = &NeedsPolicy{Condition: ConditionInteresting, Minimum: 2}
	p.JobID = "42"
	p.SetLabel("priority", 10)
	p.Resurrections = 3
	p.Meta["approximant"] = "IMRPhenomXPHM"

	data := p.ToMap()
	restored, err := ProductionFromMap("Prod0", data)
	require.NoError(t, err)

	assert.Equal(t, p.Name, restored.Name)
	assert.Equal(t, p.Pipeline, restored.Pipeline)
	assert.Equal(t, p.Status, restored.Status)
	assert.Equal(t, p.Comment, restored.Comment)
	assert.Equal(t, p.Dependencies, restored.Dependencies)
	require.NotNil(t, restored.Needs)
	assert.Equal(t, ConditionInteresting, restored.Needs.Condition)
	assert.Equal(t, 2, restored.Needs.Minimum)
	assert.Equal(t, "42", restored.JobID)
	assert.Equal(t, 10, restored.Labels["priority"])
	assert.Equal(t, 3, restored.Resurrections)
	assert.Equal(t, "IMRPhenomXPHM", restored.Meta["approximant"])
}

func TestProductionFromMap_DefaultNeedsSettings(t *testing.T) {
	p, err := ProductionFromMap("Prod0", map[string]interface{}{
		"pipeline":       "bilby",
		"needs settings": "default",
	})
	require.NoError(t, err)
	assert.Nil(t, p.Needs)
}

func TestProductionFromMap_NoPipeline(t *testing.T) {
	_, err := ProductionFromMap("Prod0", map[string]interface{}{
		"status": "ready",
	})
	assert.Error(t, err)
}

func TestProductionFromMap_NumericJobID(t *testing.T) {
	p, err := ProductionFromMap("Prod0", map[string]interface{}{
		"pipeline": "bilby",
		"job id":   42,
	})
	require.NoError(t, err)
	assert.Equal(t, "42", p.JobID)
}

func TestInteresting(t *testing.T) {
	p := NewProduction("Prod0", "bilby")
	assert.False(t, p.Interesting())

	p.SetLabel("interesting", true)
	assert.True(t, p.Interesting())

	p.SetLabel("interesting", 0)
	assert.False(t, p.Interesting())

	p.SetLabel("interesting", "True")
	assert.True(t, p.Interesting())
}

func TestSetErrorAndStage(t *testing.T) {
	p := &Production{Name: "Prod0", Pipeline: "bilby"}
	p.SetError("sampler diverged")
	p.SetStage("post-processing")

	assert.Equal(t, "sampler diverged", p.Meta["error"])
	assert.Equal(t, "post-processing", p.Meta["stage"])
}
