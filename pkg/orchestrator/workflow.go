package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/parlance-data/parlance/pkg/engine"
	"github.com/parlance-data/parlance/pkg/llm"
	"github.com/parlance-data/parlance/pkg/metrics"
	"github.com/parlance-data/parlance/pkg/phase"
	"github.com/parlance-data/parlance/pkg/reasoning"
	"github.com/parlance-data/parlance/pkg/retry"
	"github.com/parlance-data/parlance/pkg/session"
)

// serviceFailureError marks a reasoning-service call that failed fatally.
// The session is parked as interrupted so it can be resumed once the service
// recovers.
type serviceFailureError struct {
	err error
}

func (e *serviceFailureError) Error() string { return "reasoning service: " + e.err.Error() }
func (e *serviceFailureError) Unwrap() error { return e.err }

type maxIterationsError struct {
	limit int
}

func (e *maxIterationsError) Error() string {
	return fmt.Sprintf("maximum iterations (%d) reached", e.limit)
}

type statementExhaustedError struct {
	attempts  int
	lastError string
}

func (e *statementExhaustedError) Error() string {
	return fmt.Sprintf("statement validation failed after %d attempts: %s", e.attempts, e.lastError)
}

// understanding is the structured analysis of a request.
type understanding struct {
	Relations    []string `json:"relations"`
	Attributes   []string `json:"attributes"`
	JoinsNeeded  bool     `json:"joins_needed"`
	Filters      string   `json:"filters,omitempty"`
	Aggregations string   `json:"aggregations,omitempty"`
	Ordering     string   `json:"ordering,omitempty"`
	Reasoning    string   `json:"reasoning,omitempty"`
}

// runWorkflow executes understanding, relationship inference and the
// statement loop against a session, checkpointing after every externally
// observable mutation.
func (o *Orchestrator) runWorkflow(ctx context.Context, sess *session.Session) (string, *engine.Result, error) {
	if sess.Machine.Current() == phase.Initializing {
		if err := sess.Machine.Transition(phase.SchemaLoading, "attaching catalog", nil); err != nil {
			return "", nil, err
		}
		o.saveBestEffort(ctx, sess)
	}

	if sess.IterationCount >= o.maxIterations {
		return "", nil, &maxIterationsError{limit: o.maxIterations}
	}

	// Step 1: understand the request.
	if sess.Machine.Current() != phase.QueryUnderstanding {
		if err := sess.Machine.Transition(phase.QueryUnderstanding, "analyzing request", nil); err != nil {
			return "", nil, err
		}
		o.saveBestEffort(ctx, sess)
	}

	u, err := o.understand(ctx, sess)
	if err != nil {
		return "", nil, err
	}
	sess.IdentifiedRelations = o.knownRelations(u.Relations)
	o.saveBestEffort(ctx, sess)
	o.log.Info("request understood",
		"session_id", sess.ID,
		"relations", sess.IdentifiedRelations,
		"joins_needed", u.JoinsNeeded)

	// Step 2: infer relationships pairwise.
	var candidates []reasoning.Candidate
	if u.JoinsNeeded && len(sess.IdentifiedRelations) >= 2 {
		if err := sess.Machine.Transition(phase.RelationshipInference, "determining relation joins", nil); err != nil {
			return "", nil, err
		}
		o.saveBestEffort(ctx, sess)

		relations := sess.IdentifiedRelations
		for i, left := range relations {
			for _, right := range relations[i+1:] {
				inferred, err := o.reasoner.Infer(ctx, left, right, sess.HardConstraints)
				if err != nil {
					return "", nil, err
				}
				if len(inferred) > 0 {
					candidates = append(candidates, inferred[0])
					o.log.Info("relationship found", "session_id", sess.ID, "join", inferred[0].String())
				}
			}
		}

		sess.InferredRelationships = snapshotCandidates(candidates)
		o.saveBestEffort(ctx, sess)
	}

	// Step 3+4: generate, validate, execute with error feedback.
	if err := sess.Machine.Transition(phase.GeneratingStatement, "creating statement", nil); err != nil {
		return "", nil, err
	}
	sess.IncrementIteration()
	o.saveBestEffort(ctx, sess)

	var statement, lastError string
	for attempt := 1; attempt <= o.maxStatementAttempts; attempt++ {
		if attempt > 1 {
			if err := sess.Machine.Transition(phase.GeneratingStatement,
				fmt.Sprintf("refining statement (attempt %d)", attempt), nil); err != nil {
				return "", nil, err
			}
			o.saveBestEffort(ctx, sess)
		}

		statement, err = o.generate(ctx, sess, u, candidates, statement, lastError, attempt)
		if err != nil {
			return "", nil, err
		}
		o.log.Info("statement generated", "session_id", sess.ID, "attempt", attempt)

		if o.generateOnly {
			sess.RecordAttempt(statement, true, "", "")
			if err := sess.Machine.Transition(phase.ExecutingStatement, "execution skipped", nil); err != nil {
				return "", nil, err
			}
			o.saveBestEffort(ctx, sess)
			metrics.StatementAttempts.WithLabelValues("generated").Inc()
			return statement, nil, nil
		}

		if err := sess.Machine.Transition(phase.ExecutingStatement,
			fmt.Sprintf("running statement (attempt %d)", attempt), nil); err != nil {
			return "", nil, err
		}
		o.saveBestEffort(ctx, sess)

		validation, err := o.engine.Validate(ctx, statement)
		if err != nil {
			return "", nil, fmt.Errorf("engine validation: %w", err)
		}
		if !validation.OK {
			lastError = validation.Error
			sess.RecordAttempt(statement, false, "validation: "+validation.Error, "")
			o.saveBestEffort(ctx, sess)
			metrics.StatementAttempts.WithLabelValues("validation_failed").Inc()
			o.log.Warn("statement validation failed",
				"session_id", sess.ID, "attempt", attempt, "error", validation.Error)
			continue
		}

		result, err := o.engine.Execute(ctx, statement, o.maxResultRows)
		if err != nil {
			return "", nil, fmt.Errorf("engine execution: %w", err)
		}
		if !result.OK {
			lastError = result.Error
			sess.RecordAttempt(statement, false, "execution: "+result.Error, "")
			o.saveBestEffort(ctx, sess)
			metrics.StatementAttempts.WithLabelValues("execution_failed").Inc()
			o.log.Warn("statement execution failed",
				"session_id", sess.ID, "attempt", attempt, "error", result.Error)
			continue
		}

		sess.RecordAttempt(statement, true, "", fmt.Sprintf("%d rows", result.RowCount))
		sess.AddMessage("assistant", statement, map[string]any{"row_count": result.RowCount})
		o.saveBestEffort(ctx, sess)
		metrics.StatementAttempts.WithLabelValues("succeeded").Inc()
		o.log.Info("statement executed",
			"session_id", sess.ID,
			"attempt", attempt,
			"rows", result.RowCount,
			"bytes_scanned", result.BytesScanned)
		return statement, &result, nil
	}

	return "", nil, &statementExhaustedError{attempts: o.maxStatementAttempts, lastError: lastError}
}

// understand asks the reasoning service which relations and operations the
// request needs. Calls go through the retry coordinator; the session is
// checkpointed around every attempt.
func (o *Orchestrator) understand(ctx context.Context, sess *session.Session) (understanding, error) {
	var sb strings.Builder
	sb.WriteString("Analyze this request and identify the relations and attributes needed to answer it.\n\n")
	sb.WriteString("REQUEST:\n" + sess.Request + "\n\n")
	sb.WriteString("AVAILABLE RELATIONS:\n" + o.catalog.Describe())
	writeConstraints(&sb, sess.HardConstraints)

	var out understanding
	err := o.retry.Do(ctx, "understanding", func(ctx context.Context) error {
		v, err := llm.Structured[understanding](ctx, o.llm, understandingSystemPrompt, sb.String())
		if err != nil {
			metrics.LLMCalls.WithLabelValues("understanding", "error").Inc()
			return err
		}
		metrics.LLMCalls.WithLabelValues("understanding", "ok").Inc()
		out = v
		return nil
	}, llm.Classify, o.checkpoint(sess))
	if err != nil {
		return out, &serviceFailureError{err: err}
	}
	return out, nil
}

// generate produces a statement; on attempts past the first it refines the
// previous statement using the engine's error message.
func (o *Orchestrator) generate(ctx context.Context, sess *session.Session, u understanding, candidates []reasoning.Candidate, previous, lastError string, attempt int) (string, error) {
	var sb strings.Builder
	if attempt == 1 {
		sb.WriteString("Generate a SQL statement answering this request.\n\n")
	} else {
		sb.WriteString("The previous statement failed. Analyze the error and generate a corrected statement.\n\n")
	}
	sb.WriteString("REQUEST:\n" + sess.Request + "\n\n")

	sb.WriteString("RELEVANT RELATIONS:\n")
	if len(sess.IdentifiedRelations) > 0 {
		sb.WriteString(o.catalog.DescribeRelations(sess.IdentifiedRelations...))
	} else {
		sb.WriteString(o.catalog.Describe())
	}

	if len(candidates) > 0 {
		sb.WriteString("\nJOIN CONDITIONS:\n")
		for _, c := range candidates {
			sb.WriteString(fmt.Sprintf("- %s (confidence %.2f)\n", c.Condition(), c.Confidence))
		}
	}
	if len(u.Attributes) > 0 {
		sb.WriteString("\nATTRIBUTES OF INTEREST: " + strings.Join(u.Attributes, ", ") + "\n")
	}
	if u.Filters != "" {
		sb.WriteString("\nFILTERS: " + u.Filters + "\n")
	}
	if u.Aggregations != "" {
		sb.WriteString("AGGREGATIONS: " + u.Aggregations + "\n")
	}
	if u.Ordering != "" {
		sb.WriteString("ORDERING: " + u.Ordering + "\n")
	}
	writeConstraints(&sb, sess.HardConstraints)

	if attempt > 1 {
		sb.WriteString("\nPREVIOUS STATEMENT:\n" + previous + "\n")
		sb.WriteString("\nERROR:\n" + lastError + "\n")
		sb.WriteString(fmt.Sprintf("\nATTEMPT NUMBER: %d\n", attempt))
	}
	sb.WriteString("\nReturn only the SQL statement, without explanation.\n")

	var statement string
	err := o.retry.Do(ctx, "generation", func(ctx context.Context) error {
		response, err := o.llm.Complete(ctx, generationSystemPrompt, sb.String())
		if err != nil {
			metrics.LLMCalls.WithLabelValues("generation", "error").Inc()
			return err
		}
		cleaned := extractStatement(response)
		if cleaned == "" {
			metrics.LLMCalls.WithLabelValues("generation", "error").Inc()
			return fmt.Errorf("empty statement in response: %w", llm.ErrMalformedResponse)
		}
		metrics.LLMCalls.WithLabelValues("generation", "ok").Inc()
		statement = cleaned
		return nil
	}, llm.Classify, o.checkpoint(sess))
	if err != nil {
		return "", &serviceFailureError{err: err}
	}
	return statement, nil
}

// checkpoint persists the session around each retry attempt so in-flight
// retry state survives a crash.
func (o *Orchestrator) checkpoint(sess *session.Session) retry.Checkpoint {
	return func(ctx context.Context, rc retry.Context) {
		if rc.LastErr != nil {
			metrics.LLMRetries.WithLabelValues(llm.Classify(rc.LastErr).String()).Inc()
		}
		o.saveBestEffort(ctx, sess)
	}
}

// knownRelations keeps only relations present in the catalog, preserving
// order.
func (o *Orchestrator) knownRelations(names []string) []string {
	var out []string
	for _, name := range names {
		if o.catalog.Relation(name) != nil {
			out = append(out, name)
		} else {
			o.log.Warn("reasoning service named an unknown relation", "relation", name)
		}
	}
	return out
}

func snapshotCandidates(candidates []reasoning.Candidate) []session.RelationshipCandidate {
	out := make([]session.RelationshipCandidate, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, session.RelationshipCandidate{
			LeftRelation:   c.LeftRelation,
			LeftAttribute:  c.LeftAttribute,
			RightRelation:  c.RightRelation,
			RightAttribute: c.RightAttribute,
			Confidence:     c.Confidence,
			Rationale:      c.Rationale,
		})
	}
	return out
}

func writeConstraints(sb *strings.Builder, constraints []string) {
	if len(constraints) == 0 {
		return
	}
	sb.WriteString("\nMANDATORY CONSTRAINTS (from user corrections):\n")
	for _, c := range constraints {
		sb.WriteString("- " + c + "\n")
	}
	sb.WriteString("You MUST follow these constraints exactly.\n")
}

// extractStatement strips markdown fences and trailing semicolons from a
// generation response.
func extractStatement(response string) string {
	response = strings.TrimSpace(response)
	if start := strings.Index(response, "```"); start != -1 {
		rest := response[start+3:]
		if nl := strings.Index(rest, "\n"); nl != -1 {
			tag := strings.ToLower(strings.TrimSpace(rest[:nl]))
			if tag == "" || tag == "sql" || tag == "clickhouse" {
				rest = rest[nl+1:]
			}
		}
		if end := strings.Index(rest, "```"); end != -1 {
			response = rest[:end]
		} else {
			response = rest
		}
	}
	return engine.CleanStatement(response)
}

const understandingSystemPrompt = `You are a database request analyzer. Given a request and the available relations, identify which relations and attributes are needed, whether joins are required, and any filters, aggregations or ordering.`

const generationSystemPrompt = `You are an expert SQL generator for ClickHouse. Generate correct, efficient SELECT statements. Use only the relations and attributes provided. Honor every mandatory constraint exactly.`
