// Package session holds the durable record of one request lifecycle and the
// stores that persist it. A session is checkpointed after every externally
// observable mutation so the workflow can resume after any failure or pause.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/parlance-data/parlance/pkg/correction"
	"github.com/parlance-data/parlance/pkg/phase"
)

// ErrNotFound is returned by Store.Load when no session exists for the id.
var ErrNotFound = errors.New("session not found")

// Status is derived purely from the session's current phase.
type Status string

const (
	StatusActive             Status = "active"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusInterrupted        Status = "interrupted"
	StatusAwaitingCorrection Status = "awaiting_correction"
)

// Message is one entry in the session's conversation log.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RelationshipCandidate is a snapshot of an inferred join hypothesis.
type RelationshipCandidate struct {
	LeftRelation   string  `json:"left_relation"`
	LeftAttribute  string  `json:"left_attribute"`
	RightRelation  string  `json:"right_relation"`
	RightAttribute string  `json:"right_attribute"`
	Confidence     float64 `json:"confidence"`
	Rationale      string  `json:"rationale,omitempty"`
}

// Attempt records one generation/validation/execution attempt.
type Attempt struct {
	Statement string    `json:"statement"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	ResultRef string    `json:"result_ref,omitempty"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
}

// FailureSummary is the structured post-mortem attached to a failed session.
type FailureSummary struct {
	Request             string   `json:"request"`
	IdentifiedRelations []string `json:"identified_relations"`
	Iterations          int      `json:"iterations"`
	CorrectionAttempts  int      `json:"correction_attempts"`
	AttemptCount        int      `json:"attempt_count"`
	Error               string   `json:"error"`
	Recommendations     []string `json:"recommendations"`
}

// Session is the full durable state of one request lifecycle. The ID never
// changes after creation. Exactly one workflow execution owns a session at a
// time; persistence is last-writer-wins.
type Session struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`

	Request  string         `json:"request"`
	Messages []Message      `json:"messages"`
	Machine  *phase.Machine `json:"machine"`

	IterationCount    int `json:"iteration_count"`
	CorrectionAttempt int `json:"correction_attempt"`

	IdentifiedRelations   []string                `json:"identified_relations"`
	InferredRelationships []RelationshipCandidate `json:"inferred_relationships"`

	Corrections     []correction.Correction `json:"corrections"`
	HardConstraints []string                `json:"hard_constraints"`

	Attempts       []Attempt       `json:"attempts"`
	FailureSummary *FailureSummary `json:"failure_summary,omitempty"`

	now func() time.Time
}

// New creates a session for the given request.
func New(request string) *Session {
	now := time.Now()
	return &Session{
		ID:          uuid.NewString(),
		CreatedAt:   now,
		LastUpdated: now,
		Request:     request,
		Machine:     phase.NewMachine(),
		now:         time.Now,
	}
}

// SetNowFunc overrides the clock used for timestamps. Intended for tests.
func (s *Session) SetNowFunc(now func() time.Time) {
	s.now = now
}

func (s *Session) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func (s *Session) touch() {
	s.LastUpdated = s.clock()
}

// Status derives the session status from the current phase.
func (s *Session) Status() Status {
	switch s.Machine.Current() {
	case phase.Completed:
		return StatusCompleted
	case phase.Failed:
		return StatusFailed
	case phase.Interrupted:
		return StatusInterrupted
	case phase.AwaitingCorrection:
		return StatusAwaitingCorrection
	default:
		return StatusActive
	}
}

// AddMessage appends a message to the conversation log.
func (s *Session) AddMessage(role, content string, metadata map[string]any) {
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: s.clock(),
		Metadata:  metadata,
	})
	s.touch()
}

// RecordAttempt appends a statement attempt stamped with the current
// iteration.
func (s *Session) RecordAttempt(statement string, success bool, errText, resultRef string) {
	s.Attempts = append(s.Attempts, Attempt{
		Statement: statement,
		Success:   success,
		Error:     errText,
		ResultRef: resultRef,
		Iteration: s.IterationCount,
		Timestamp: s.clock(),
	})
	s.touch()
}

// AddCorrection stamps the correction with the current attempt number,
// appends it, derives its hard constraint, and bumps the correction counter.
func (s *Session) AddCorrection(c correction.Correction) {
	c.AttemptNumber = s.CorrectionAttempt
	s.Corrections = append(s.Corrections, c)
	if constraint := c.ConstraintString(); constraint != "" {
		s.HardConstraints = append(s.HardConstraints, constraint)
	}
	s.CorrectionAttempt++
	s.touch()
}

// IncrementIteration bumps the iteration counter.
func (s *Session) IncrementIteration() {
	s.IterationCount++
	s.touch()
}

// SetFailureSummary attaches the post-mortem for a terminal failure.
func (s *Session) SetFailureSummary(summary FailureSummary) {
	s.FailureSummary = &summary
	s.touch()
}

// FinalStatement returns the statement of the most recent successful attempt,
// or "" when none succeeded.
func (s *Session) FinalStatement() string {
	for i := len(s.Attempts) - 1; i >= 0; i-- {
		if s.Attempts[i].Success {
			return s.Attempts[i].Statement
		}
	}
	return ""
}

// Summary is the listing projection of a session.
type Summary struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
	Status      Status    `json:"status"`
	Request     string    `json:"request"`
}

// RetentionPolicy controls the sweep of terminal sessions, bucketed by
// status.
type RetentionPolicy struct {
	CompletedAge time.Duration
	FailedAge    time.Duration
}

// Store persists sessions keyed by id. Save is an idempotent full overwrite;
// concurrent resumption of a single session id is unsupported and resolves
// last-writer-wins.
type Store interface {
	Create(ctx context.Context, request string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Load(ctx context.Context, id string) (*Session, error)
	List(ctx context.Context, statusFilter Status, limit int) ([]Summary, error)
	Delete(ctx context.Context, id string) error
	Sweep(ctx context.Context, policy RetentionPolicy) (int, error)
}
