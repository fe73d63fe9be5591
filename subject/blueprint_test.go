package subject

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleBlueprints = `kind: event
name: GW150914
working directory: /data/GW150914
---
kind: analysis
name: Prod0
pipeline: bilby
needs:
  - Prod1
---
kind: configuration
quality:
  minimum frequency: 20
`

func TestParseBlueprints(t *testing.T) {
	blueprints, err := ParseBlueprintString(exampleBlueprints)
	require.NoError(t, err)
	require.Len(t, blueprints, 3)

	assert.Equal(t, "event", blueprints[0].Kind)
	assert.Equal(t, "analysis", blueprints[1].Kind)
	assert.Equal(t, "configuration", blueprints[2].Kind)

	s, err := blueprints[0].Subject()
	require.NoError(t, err)
	assert.Equal(t, "GW150914", s.Name)
	assert.Equal(t, "/data/GW150914", s.WorkingDirectory)

	p, err := blueprints[1].Production()
	require.NoError(t, err)
	assert.Equal(t, "Prod0", p.Name)
	assert.Equal(t, "bilby", p.Pipeline)
	assert.Equal(t, []string{"Prod1"}, p.Dependencies)
}

func TestParseBlueprints_StrategyExpansion(t *testing.T) {
	blueprints, err := ParseBlueprintString(`kind: analysis
name: Prod
pipeline: bilby
strategy:
  matrix:
    waveform.approximant: [A, B]
`)
	require.NoError(t, err)
	require.Len(t, blueprints, 2)
	for _, blueprint := range blueprints {
		assert.Equal(t, "analysis", blueprint.Kind)
		assert.NotContains(t, blueprint.Data, "strategy")
	}
}

func TestParseBlueprints_MissingKind(t *testing.T) {
	_, err := ParseBlueprintString("name: GW150914\n")
	assert.Error(t, err)
}

func TestBlueprint_KindMismatch(t *testing.T) {
	blueprint := Blueprint{Kind: "event", Data: map[string]interface{}{"name": "GW150914"}}
	_, err := blueprint.Production()
	assert.Error(t, err)

	blueprint = Blueprint{Kind: "analysis", Data: map[string]interface{}{"name": "Prod0", "pipeline": "bilby"}}
	_, err = blueprint.Subject()
	assert.Error(t, err)
}
