package problem

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntitiesOrdering(t *testing.T) {
	p := &Problem{
		AffectedFlights:  []string{"UAL123", "DAL456"},
		AffectedEntities: []string{"feeder-7", "substation-3"},
	}
	assert.Equal(t, []string{"UAL123", "DAL456", "feeder-7", "substation-3"}, p.Entities())

	empty := &Problem{}
	assert.Empty(t, empty.Entities())
}

func TestDetailFloat(t *testing.T) {
	p := &Problem{Details: map[string]any{
		"closure_rate_kn": 420.5,
		"flight_count":    12,
		"parsed":          json.Number("7.25"),
		"label":           "not a number",
	}}

	assert.Equal(t, 420.5, p.DetailFloat("closure_rate_kn", 0))
	assert.Equal(t, 12.0, p.DetailFloat("flight_count", 0))
	assert.Equal(t, 7.25, p.DetailFloat("parsed", 0))
	assert.Equal(t, 99.0, p.DetailFloat("label", 99))
	assert.Equal(t, 99.0, p.DetailFloat("missing", 99))

	none := &Problem{}
	assert.Equal(t, 1.5, none.DetailFloat("anything", 1.5))
}

func TestDetailString(t *testing.T) {
	p := &Problem{Details: map[string]any{"runway": "22L", "count": 3}}
	assert.Equal(t, "22L", p.DetailString("runway"))
	assert.Equal(t, "", p.DetailString("count"))
	assert.Equal(t, "", p.DetailString("missing"))
}

func TestValidate(t *testing.T) {
	valid := &Problem{ProblemID: "CONF-001", ProblemType: TypeConflict}
	require.NoError(t, valid.Validate())

	missing := &Problem{ProblemType: TypeHotspot}
	assert.ErrorContains(t, missing.Validate(), "problem_id")

	unknown := &Problem{ProblemID: "X-1", ProblemType: Type("meltdown")}
	assert.ErrorContains(t, unknown.Validate(), "meltdown")
}

func TestJSONRoundTrip(t *testing.T) {
	in := &Problem{
		ProblemID:       "HOT-007",
		ProblemType:     TypeHotspot,
		AffectedFlights: []string{"SWA88"},
		Severity:        SeverityWarning,
		SectorID:        "ZLA-20",
		Details:         map[string]any{"projected_count": 14.0},
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Problem
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in.ProblemID, out.ProblemID)
	assert.Equal(t, in.ProblemType, out.ProblemType)
	assert.Equal(t, 14.0, out.DetailFloat("projected_count", 0))
}
