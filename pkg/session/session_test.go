package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlance-data/parlance/pkg/correction"
	"github.com/parlance-data/parlance/pkg/phase"
)

func TestStatusDerivedFromPhase(t *testing.T) {
	s := New("show revenue by region")
	assert.Equal(t, StatusActive, s.Status())

	require.NoError(t, s.Machine.Transition(phase.SchemaLoading, "", nil))
	require.NoError(t, s.Machine.Transition(phase.QueryUnderstanding, "", nil))
	assert.Equal(t, StatusActive, s.Status())

	require.NoError(t, s.Machine.Transition(phase.AwaitingCorrection, "ambiguity", nil))
	assert.Equal(t, StatusAwaitingCorrection, s.Status())

	require.NoError(t, s.Machine.Transition(phase.Failed, "gave up", nil))
	assert.Equal(t, StatusFailed, s.Status())
}

func TestRecordAttemptStampsIteration(t *testing.T) {
	s := New("q")
	s.IncrementIteration()
	s.RecordAttempt("SELECT 1", false, "boom", "")
	s.IncrementIteration()
	s.RecordAttempt("SELECT 2", true, "", "42 rows")

	require.Len(t, s.Attempts, 2)
	assert.Equal(t, 1, s.Attempts[0].Iteration)
	assert.Equal(t, 2, s.Attempts[1].Iteration)
	assert.Equal(t, "SELECT 2", s.FinalStatement())
}

func TestFinalStatementEmptyWithoutSuccess(t *testing.T) {
	s := New("q")
	assert.Empty(t, s.FinalStatement())
	s.RecordAttempt("SELECT 1", false, "boom", "")
	assert.Empty(t, s.FinalStatement())
}

func TestAddCorrectionDerivesConstraintAndCounts(t *testing.T) {
	s := New("q")

	s.AddCorrection(correction.NewRelationSelection("customers", []string{"clients"}))
	s.AddCorrection(correction.NewFreeText("only last quarter"))

	require.Len(t, s.Corrections, 2)
	assert.Equal(t, 0, s.Corrections[0].AttemptNumber)
	assert.Equal(t, 1, s.Corrections[1].AttemptNumber)
	assert.Equal(t, 2, s.CorrectionAttempt)

	require.Len(t, s.HardConstraints, 2)
	assert.Contains(t, s.HardConstraints[0], "customers")
	assert.Contains(t, s.HardConstraints[0], "DO NOT use: clients")
}

// Round-trip with a non-trivial transition history, 2 corrections, and 3
// attempts must reproduce counters, attempt order, and transition order.
func TestSessionJSONRoundTrip(t *testing.T) {
	s := New("total orders per customer")
	require.NoError(t, s.Machine.Transition(phase.SchemaLoading, "start", nil))
	require.NoError(t, s.Machine.Transition(phase.QueryUnderstanding, "catalog ready", nil))
	require.NoError(t, s.Machine.Transition(phase.RelationshipInference, "two relations", nil))
	require.NoError(t, s.Machine.Transition(phase.GeneratingStatement, "joins resolved", nil))

	s.AddMessage("user", "total orders per customer", nil)
	s.IdentifiedRelations = []string{"orders", "customers"}
	s.InferredRelationships = []RelationshipCandidate{
		{LeftRelation: "orders", LeftAttribute: "customer_id", RightRelation: "customers", RightAttribute: "customer_id", Confidence: 0.92},
	}

	s.AddCorrection(correction.NewRelationSelection("customers", nil))
	s.AddCorrection(correction.NewFreeText("exclude test accounts"))

	s.IncrementIteration()
	s.RecordAttempt("SELECT 1", false, "validation: bad column", "")
	s.RecordAttempt("SELECT 2", false, "execution: timeout", "")
	s.IncrementIteration()
	s.RecordAttempt("SELECT 3", true, "", "10 rows")

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var restored Session
	require.NoError(t, json.Unmarshal(data, &restored))

	assert.Equal(t, s.ID, restored.ID)
	assert.Equal(t, 2, restored.IterationCount)
	assert.Equal(t, 2, restored.CorrectionAttempt)

	require.Len(t, restored.Attempts, 3)
	assert.Equal(t, "SELECT 1", restored.Attempts[0].Statement)
	assert.Equal(t, "SELECT 2", restored.Attempts[1].Statement)
	assert.Equal(t, "SELECT 3", restored.Attempts[2].Statement)
	assert.Equal(t, 1, restored.Attempts[0].Iteration)
	assert.Equal(t, 2, restored.Attempts[2].Iteration)

	require.Len(t, restored.Machine.History(), 4)
	assert.Equal(t, phase.SchemaLoading, restored.Machine.History()[0].To)
	assert.Equal(t, phase.GeneratingStatement, restored.Machine.History()[3].To)
	assert.Equal(t, phase.GeneratingStatement, restored.Machine.Current())

	require.Len(t, restored.Corrections, 2)
	assert.Equal(t, correction.KindRelationSelection, restored.Corrections[0].Kind)
	assert.Equal(t, s.HardConstraints, restored.HardConstraints)
	assert.Equal(t, s.IdentifiedRelations, restored.IdentifiedRelations)
	assert.Equal(t, s.InferredRelationships, restored.InferredRelationships)
}
