// Package orchestrator drives the request lifecycle: understanding, relation
// reasoning, statement generation, validation and execution, with durable
// checkpointing so any pause or crash is resumable.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/parlance-data/parlance/pkg/catalog"
	"github.com/parlance-data/parlance/pkg/correction"
	"github.com/parlance-data/parlance/pkg/engine"
	"github.com/parlance-data/parlance/pkg/llm"
	"github.com/parlance-data/parlance/pkg/metrics"
	"github.com/parlance-data/parlance/pkg/phase"
	"github.com/parlance-data/parlance/pkg/reasoning"
	"github.com/parlance-data/parlance/pkg/retry"
	"github.com/parlance-data/parlance/pkg/session"
)

// Outcome error kinds. Every non-success outcome carries exactly one.
const (
	KindAmbiguity         = "ambiguity"
	KindInferenceError    = "inference_error"
	KindMaxIterations     = "max_iterations"
	KindMaxCorrections    = "max_corrections"
	KindRetryExhausted    = "retry_exhausted"
	KindInterrupted       = "interrupted"
	KindValidationFailed  = "validation_failed"
	KindProcessingFailed  = "processing_failed"
	KindSessionNotFound   = "session_not_found"
	KindInvalidCorrection = "invalid_correction"
)

const (
	defaultMaxStatementAttempts  = 3
	defaultMaxCorrectionAttempts = 3
	defaultMaxIterations         = 5
	defaultMaxResultRows         = 1000
)

// RelationshipReasoner infers joins between two relations.
type RelationshipReasoner interface {
	Infer(ctx context.Context, left, right string, constraints []string) ([]reasoning.Candidate, error)
}

// Config wires the orchestrator's collaborators and limits.
type Config struct {
	Logger   *slog.Logger
	Store    session.Store
	Catalog  *catalog.Catalog
	LLM      llm.Client
	Engine   engine.Engine
	Reasoner RelationshipReasoner

	// MaxStatementAttempts bounds the generate/validate/execute loop per run.
	MaxStatementAttempts int
	// MaxCorrectionAttempts bounds how many times a session can be resumed
	// with a correction.
	MaxCorrectionAttempts int
	// MaxIterations bounds workflow passes over a single session.
	MaxIterations int
	// MaxResultRows caps rows returned from statement execution.
	MaxResultRows int
	// Retry schedules reasoning-service calls.
	Retry retry.Config
	// GenerateOnly skips validation and execution; the workflow stops after
	// producing a statement.
	GenerateOnly bool
}

// Outcome is the discriminated result of Submit or Resume. Success carries a
// statement (and result unless generation-only); failure carries an ErrorKind
// plus kind-specific context. Infrastructure failures never escape as bare
// errors.
type Outcome struct {
	Success   bool                  `json:"success"`
	SessionID string                `json:"session_id"`
	Statement string                `json:"statement,omitempty"`
	Result    *engine.Result        `json:"result,omitempty"`
	ErrorKind string                `json:"error_kind,omitempty"`
	Message   string                `json:"message,omitempty"`
	Options   []reasoning.Candidate `json:"options,omitempty"`

	FailureSummary *session.FailureSummary `json:"failure_summary,omitempty"`
}

// Orchestrator coordinates the full workflow over durable sessions.
type Orchestrator struct {
	log      *slog.Logger
	store    session.Store
	catalog  *catalog.Catalog
	llm      llm.Client
	engine   engine.Engine
	reasoner RelationshipReasoner
	retry    *retry.Coordinator

	maxStatementAttempts  int
	maxCorrectionAttempts int
	maxIterations         int
	maxResultRows         int
	generateOnly          bool
}

// New validates cfg and builds an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("orchestrator: catalog is required")
	}
	if cfg.LLM == nil {
		return nil, errors.New("orchestrator: llm client is required")
	}
	if cfg.Reasoner == nil {
		return nil, errors.New("orchestrator: reasoner is required")
	}
	if cfg.Engine == nil && !cfg.GenerateOnly {
		return nil, errors.New("orchestrator: engine is required unless generate-only")
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	retryCfg := cfg.Retry
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.DefaultConfig()
	}
	coordinator, err := retry.New(retryCfg, log)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	o := &Orchestrator{
		log:      log,
		store:    cfg.Store,
		catalog:  cfg.Catalog,
		llm:      cfg.LLM,
		engine:   cfg.Engine,
		reasoner: cfg.Reasoner,
		retry:    coordinator,

		maxStatementAttempts:  cfg.MaxStatementAttempts,
		maxCorrectionAttempts: cfg.MaxCorrectionAttempts,
		maxIterations:         cfg.MaxIterations,
		maxResultRows:         cfg.MaxResultRows,
		generateOnly:          cfg.GenerateOnly,
	}
	if o.maxStatementAttempts <= 0 {
		o.maxStatementAttempts = defaultMaxStatementAttempts
	}
	if o.maxCorrectionAttempts <= 0 {
		o.maxCorrectionAttempts = defaultMaxCorrectionAttempts
	}
	if o.maxIterations <= 0 {
		o.maxIterations = defaultMaxIterations
	}
	if o.maxResultRows <= 0 {
		o.maxResultRows = defaultMaxResultRows
	}
	return o, nil
}

// Submit runs the workflow for a new request.
func (o *Orchestrator) Submit(ctx context.Context, request string) Outcome {
	request = strings.TrimSpace(request)
	if request == "" {
		return Outcome{ErrorKind: KindProcessingFailed, Message: "empty request"}
	}

	sess, err := o.store.Create(ctx, request)
	if err != nil {
		return Outcome{ErrorKind: KindProcessingFailed, Message: err.Error()}
	}
	metrics.SessionsStarted.Inc()
	o.log.Info("processing request", "session_id", sess.ID, "request", request)

	sess.AddMessage("user", request, nil)
	if err := o.store.Save(ctx, sess); err != nil {
		return Outcome{SessionID: sess.ID, ErrorKind: KindProcessingFailed, Message: err.Error()}
	}

	return o.run(ctx, sess)
}

// Resume applies a user correction to a paused session and re-runs the
// workflow from understanding.
func (o *Orchestrator) Resume(ctx context.Context, sessionID, rawCorrection string) Outcome {
	sess, err := o.store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return Outcome{SessionID: sessionID, ErrorKind: KindSessionNotFound, Message: err.Error()}
		}
		return Outcome{SessionID: sessionID, ErrorKind: KindProcessingFailed, Message: err.Error()}
	}

	current := sess.Machine.Current()
	if current != phase.AwaitingCorrection && current != phase.Interrupted {
		return Outcome{
			SessionID: sessionID,
			ErrorKind: KindInvalidCorrection,
			Message:   fmt.Sprintf("session is %s, not awaiting input", current),
		}
	}

	if sess.CorrectionAttempt >= o.maxCorrectionAttempts {
		return Outcome{
			SessionID: sessionID,
			ErrorKind: KindMaxCorrections,
			Message:   fmt.Sprintf("maximum correction attempts (%d) reached", o.maxCorrectionAttempts),
		}
	}

	rawCorrection = strings.TrimSpace(rawCorrection)
	if rawCorrection == "" {
		return Outcome{SessionID: sessionID, ErrorKind: KindInvalidCorrection, Message: "empty correction"}
	}

	parsed := correction.Parse(rawCorrection)
	sess.AddCorrection(parsed)
	sess.AddMessage("user", rawCorrection, map[string]any{"correction_kind": string(parsed.Kind)})
	metrics.CorrectionsApplied.WithLabelValues(string(parsed.Kind)).Inc()
	o.log.Info("resuming session with correction",
		"session_id", sessionID,
		"kind", parsed.Kind,
		"constraint", parsed.ConstraintString())

	sess.IterationCount = 0
	if err := sess.Machine.Transition(phase.QueryUnderstanding, "restarting with user correction", nil); err != nil {
		return Outcome{SessionID: sessionID, ErrorKind: KindInvalidCorrection, Message: err.Error()}
	}
	if err := o.store.Save(ctx, sess); err != nil {
		return Outcome{SessionID: sessionID, ErrorKind: KindProcessingFailed, Message: err.Error()}
	}

	return o.run(ctx, sess)
}

// ListSessions returns session summaries, optionally filtered by status.
func (o *Orchestrator) ListSessions(ctx context.Context, statusFilter session.Status, limit int) ([]session.Summary, error) {
	return o.store.List(ctx, statusFilter, limit)
}

// run executes the workflow and maps its result onto a persisted session and
// a discriminated Outcome.
func (o *Orchestrator) run(ctx context.Context, sess *session.Session) Outcome {
	start := time.Now()

	statement, result, err := o.runWorkflow(ctx, sess)
	if err != nil {
		return o.finishFailure(ctx, sess, err, start)
	}

	if terr := sess.Machine.Transition(phase.Completed, "statement produced successfully", nil); terr != nil {
		return o.finishFailure(ctx, sess, terr, start)
	}
	o.saveBestEffort(ctx, sess)

	metrics.SessionsFinished.WithLabelValues("completed").Inc()
	metrics.WorkflowDuration.WithLabelValues("completed").Observe(time.Since(start).Seconds())
	o.log.Info("request completed", "session_id", sess.ID, "duration", time.Since(start))

	return Outcome{
		Success:   true,
		SessionID: sess.ID,
		Statement: statement,
		Result:    result,
	}
}

// finishFailure classifies a workflow error, moves the session to the right
// phase, persists it, and builds the outcome.
func (o *Orchestrator) finishFailure(ctx context.Context, sess *session.Session, err error, start time.Time) Outcome {
	outcome := Outcome{SessionID: sess.ID, Message: err.Error()}

	var ambiguity *reasoning.AmbiguityError
	var exhausted *retry.ExhaustedError
	var service *serviceFailureError
	var iterations *maxIterationsError
	var statement *statementExhaustedError

	switch {
	case errors.As(err, &ambiguity):
		outcome.ErrorKind = KindAmbiguity
		outcome.Options = ambiguity.Options
		o.transitionBestEffort(sess, phase.AwaitingCorrection, "ambiguity requires user clarification")

	case errors.As(err, &exhausted):
		outcome.ErrorKind = KindRetryExhausted
		o.transitionBestEffort(sess, phase.Interrupted, "reasoning service retries exhausted")

	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		outcome.ErrorKind = KindInterrupted
		o.transitionBestEffort(sess, phase.Interrupted, "workflow interrupted")

	case errors.As(err, &service):
		outcome.ErrorKind = KindInterrupted
		o.transitionBestEffort(sess, phase.Interrupted, "reasoning service unavailable")

	case errors.As(err, &iterations):
		outcome.ErrorKind = KindMaxIterations
		o.transitionBestEffort(sess, phase.Failed, "maximum iterations reached")
		o.attachFailureSummary(sess, err)
		outcome.FailureSummary = sess.FailureSummary

	case errors.As(err, &statement):
		outcome.ErrorKind = KindValidationFailed
		o.transitionBestEffort(sess, phase.Failed, "statement attempts exhausted")
		o.attachFailureSummary(sess, err)
		outcome.FailureSummary = sess.FailureSummary

	case errors.Is(err, reasoning.ErrNoRelationship):
		outcome.ErrorKind = KindInferenceError
		o.transitionBestEffort(sess, phase.Failed, "relationship inference failed")
		o.attachFailureSummary(sess, err)
		outcome.FailureSummary = sess.FailureSummary

	default:
		outcome.ErrorKind = KindProcessingFailed
		o.transitionBestEffort(sess, phase.Failed, "error: "+err.Error())
		o.attachFailureSummary(sess, err)
		outcome.FailureSummary = sess.FailureSummary
	}

	o.saveBestEffort(ctx, sess)
	metrics.SessionsFinished.WithLabelValues(outcome.ErrorKind).Inc()
	metrics.WorkflowDuration.WithLabelValues(outcome.ErrorKind).Observe(time.Since(start).Seconds())
	o.log.Warn("request did not complete",
		"session_id", sess.ID,
		"error_kind", outcome.ErrorKind,
		"error", err)
	return outcome
}

// transitionBestEffort moves the machine when the target is a legal
// successor; on a terminal or already-correct phase it leaves state alone.
func (o *Orchestrator) transitionBestEffort(sess *session.Session, to phase.Phase, reason string) {
	if sess.Machine.Current() == to {
		return
	}
	if err := sess.Machine.Transition(to, reason, nil); err != nil {
		o.log.Error("phase transition rejected", "session_id", sess.ID, "error", err)
	}
}

func (o *Orchestrator) saveBestEffort(ctx context.Context, sess *session.Session) {
	if err := o.store.Save(ctx, sess); err != nil {
		o.log.Error("session save failed", "session_id", sess.ID, "error", err)
	}
}

func (o *Orchestrator) attachFailureSummary(sess *session.Session, err error) {
	sess.SetFailureSummary(session.FailureSummary{
		Request:             sess.Request,
		IdentifiedRelations: sess.IdentifiedRelations,
		Iterations:          sess.IterationCount,
		CorrectionAttempts:  sess.CorrectionAttempt,
		AttemptCount:        len(sess.Attempts),
		Error:               err.Error(),
		Recommendations:     o.recommendations(sess, err),
	})
}

func (o *Orchestrator) recommendations(sess *session.Session, err error) []string {
	var recs []string
	text := strings.ToLower(err.Error())

	if strings.Contains(text, "ambigu") {
		recs = append(recs, "Provide clarification on the ambiguous relations or joins")
	}
	if len(sess.IdentifiedRelations) == 0 {
		recs = append(recs, "Try rephrasing the request with more specific relation or entity names")
	}
	if sess.CorrectionAttempt >= o.maxCorrectionAttempts {
		recs = append(recs, "Consider authoring the statement manually")
	}
	if strings.Contains(text, "validation") {
		recs = append(recs, "Check statement syntax and relation/attribute names")
	}
	return recs
}
