// Package phase implements the execution phase state machine that gates every
// step of the query workflow. Transitions are validated against a fixed
// successor table so that persisted histories stay replayable.
package phase

import (
	"encoding/json"
	"fmt"
	"time"
)

// Phase is a discrete step in the workflow.
type Phase string

const (
	Initializing          Phase = "initializing"
	SchemaLoading         Phase = "schema_loading"
	QueryUnderstanding    Phase = "query_understanding"
	RelationshipInference Phase = "relationship_inference"
	ExecutingExploration  Phase = "executing_exploration"
	GeneratingStatement   Phase = "generating_statement"
	ExecutingStatement    Phase = "executing_statement"
	AwaitingCorrection    Phase = "awaiting_correction"
	Completed             Phase = "completed"
	Failed                Phase = "failed"
	Interrupted           Phase = "interrupted"
)

// successors is the fixed transition table. It is shared by all machines;
// per-instance customization would make persisted histories unreplayable.
var successors = map[Phase][]Phase{
	Initializing:          {SchemaLoading, Failed, Interrupted},
	SchemaLoading:         {QueryUnderstanding, Failed, Interrupted},
	QueryUnderstanding:    {RelationshipInference, ExecutingExploration, GeneratingStatement, AwaitingCorrection, Failed, Interrupted},
	RelationshipInference: {ExecutingExploration, GeneratingStatement, AwaitingCorrection, Failed, Interrupted},
	ExecutingExploration:  {RelationshipInference, GeneratingStatement, AwaitingCorrection, Failed, Interrupted},
	GeneratingStatement:   {ExecutingStatement, AwaitingCorrection, Failed, Interrupted},
	ExecutingStatement:    {Completed, GeneratingStatement, AwaitingCorrection, Failed, Interrupted},
	AwaitingCorrection:    {QueryUnderstanding, Failed, Interrupted},
	Completed:             {},
	Failed:                {},
	Interrupted:           {SchemaLoading, QueryUnderstanding, RelationshipInference, ExecutingExploration, GeneratingStatement, ExecutingStatement},
}

// Transition records one accepted phase change.
type Transition struct {
	From      Phase          `json:"from"`
	To        Phase          `json:"to"`
	Timestamp time.Time      `json:"timestamp"`
	Reason    string         `json:"reason,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// InvalidTransitionError is returned when a target phase is not a legal
// successor of the current phase.
type InvalidTransitionError struct {
	From Phase
	To   Phase
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid phase transition from %s to %s", e.From, e.To)
}

// Machine tracks the current phase and the full transition history.
type Machine struct {
	current Phase
	history []Transition
	now     func() time.Time
}

// NewMachine creates a machine starting in the Initializing phase.
func NewMachine() *Machine {
	return NewMachineAt(Initializing)
}

// NewMachineAt creates a machine starting in the given phase. Used when
// restoring a persisted session.
func NewMachineAt(p Phase) *Machine {
	return &Machine{current: p, now: time.Now}
}

// Current returns the current phase.
func (m *Machine) Current() Phase {
	return m.current
}

// CanTransition reports whether a transition to the target phase is legal.
func (m *Machine) CanTransition(to Phase) bool {
	for _, p := range successors[m.current] {
		if p == to {
			return true
		}
	}
	return false
}

// Transition moves the machine to the target phase, appending a record to the
// history. On an illegal transition the machine is left unchanged and an
// *InvalidTransitionError is returned.
func (m *Machine) Transition(to Phase, reason string, metadata map[string]any) error {
	if !m.CanTransition(to) {
		return &InvalidTransitionError{From: m.current, To: to}
	}
	m.history = append(m.history, Transition{
		From:      m.current,
		To:        to,
		Timestamp: m.now(),
		Reason:    reason,
		Metadata:  metadata,
	})
	m.current = to
	return nil
}

// IsTerminal reports whether the current phase admits no further transitions.
func (m *Machine) IsTerminal() bool {
	return m.current == Completed || m.current == Failed
}

// IsAwaitingInput reports whether the machine is suspended waiting on the
// user.
func (m *Machine) IsAwaitingInput() bool {
	return m.current == AwaitingCorrection || m.current == Interrupted
}

// History returns the ordered transition log.
func (m *Machine) History() []Transition {
	return m.history
}

// SetNowFunc overrides the clock used to stamp transitions. Intended for
// tests.
func (m *Machine) SetNowFunc(now func() time.Time) {
	m.now = now
}

type machineSnapshot struct {
	Current     Phase        `json:"current"`
	Transitions []Transition `json:"transitions"`
}

// MarshalJSON serializes the current phase and the full transition log.
func (m *Machine) MarshalJSON() ([]byte, error) {
	return json.Marshal(machineSnapshot{Current: m.current, Transitions: m.history})
}

// UnmarshalJSON restores a machine from a snapshot produced by MarshalJSON.
func (m *Machine) UnmarshalJSON(data []byte) error {
	var snap machineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	m.current = snap.Current
	m.history = snap.Transitions
	m.now = time.Now
	return nil
}
