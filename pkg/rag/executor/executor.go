// Package executor runs one conversation turn through the retrieval state
// machine: classify, then alternate tool calls and sufficiency checks until
// the evidence answers the query or a budget runs out.
package executor

import (
	"context"
	"errors"
	"time"

	"agentic-retrieval-be/internal/pkg/logger"
	"agentic-retrieval-be/pkg/metrics"
	"agentic-retrieval-be/pkg/rag/chain"
	"agentic-retrieval-be/pkg/rag/evidence"
	"agentic-retrieval-be/pkg/rag/history"
	"agentic-retrieval-be/pkg/rag/intent"
	"agentic-retrieval-be/pkg/rag/query"
	"agentic-retrieval-be/pkg/rag/response"
	"agentic-retrieval-be/pkg/rag/synthesis"
	"agentic-retrieval-be/pkg/rag/tools"
	"agentic-retrieval-be/pkg/search"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type State string

const (
	StateClassifying    State = "Classifying"
	StateShortCircuited State = "ShortCircuited"
	StateRetrieving     State = "Retrieving"
	StateEvaluating     State = "Evaluating"
	StateAnswering      State = "Answering"
	StateFallback       State = "FallbackReasoning"
)

// Terminal reports whether the turn ends in s.
func (s State) Terminal() bool {
	return s == StateShortCircuited || s == StateAnswering || s == StateFallback
}

const (
	DefaultMaxIterations = 5
	DefaultTurnTimeout   = 45 * time.Second
)

type Budget struct {
	MaxIterations int
	TurnTimeout   time.Duration
}

func (b Budget) withDefaults() Budget {
	if b.MaxIterations <= 0 {
		b.MaxIterations = DefaultMaxIterations
	}
	if b.TurnTimeout <= 0 {
		b.TurnTimeout = DefaultTurnTimeout
	}
	return b
}

type Classifier interface {
	Classify(ctx context.Context, in intent.Input) (*intent.Result, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, q string, fragments []evidence.Fragment) (synthesis.Judgment, error)
}

type Responder interface {
	Answer(ctx context.Context, q string, fragments []evidence.Fragment, turns []history.Turn) (string, error)
	Fallback(ctx context.Context, in response.FallbackInput) string
}

// Input is one user turn. Chains belongs to the calling session and is only
// touched at turn start and turn end.
type Input struct {
	Index  int
	Query  string
	Scope  search.Scope
	Turns  []history.Turn
	Chains *chain.Tracker
	Now    time.Time
}

// Outcome is the user-visible result of a turn plus what produced it.
type Outcome struct {
	State          State
	Answer         string
	Citations      []evidence.Fragment
	Classification *query.Classification
	Degraded       bool
	ToolLog        []tools.Invocation
	Judgment       *synthesis.Judgment
	Transition     *chain.Transition
	FallbackReason response.Reason
	Iterations     int
	// Trace lists every state the turn passed through, in order.
	Trace []State
}

func (o *Outcome) enter(s State) {
	o.State = s
	o.Trace = append(o.Trace, s)
}

type Executor struct {
	classifier Classifier
	invoker    *tools.Invoker
	planner    *Planner
	evaluator  Evaluator
	responder  Responder
	budget     Budget
	logger     logger.ILogger
	tracer     trace.Tracer
}

func NewExecutor(
	classifier Classifier,
	invoker *tools.Invoker,
	evaluator Evaluator,
	responder Responder,
	budget Budget,
	log logger.ILogger,
) *Executor {
	return &Executor{
		classifier: classifier,
		invoker:    invoker,
		planner:    NewPlanner(invoker.Registry()),
		evaluator:  evaluator,
		responder:  responder,
		budget:     budget.withDefaults(),
		logger:     log,
		tracer:     otel.Tracer("agentic-retrieval-be/pkg/rag/executor"),
	}
}

// errTurnTimeout marks the wall-clock budget running out inside the turn.
var errTurnTimeout = errors.New("turn budget exceeded")

// Execute always ends in a terminal state unless ctx itself is cancelled,
// in which case ctx.Err() is returned, nothing is delivered and the chain
// tracker is left as it was before the turn.
func (e *Executor) Execute(ctx context.Context, in Input) (*Outcome, error) {
	started := time.Now()
	if in.Now.IsZero() {
		in.Now = started
	}
	if in.Chains == nil {
		in.Chains = chain.NewTracker(chain.DefaultMaxArchived)
	}

	ctx, span := e.tracer.Start(ctx, "executor.Execute", trace.WithAttributes(
		attribute.Int("turn.index", in.Index),
	))
	defer span.End()

	turnCtx, cancel := context.WithTimeout(tools.WithScope(ctx, in.Scope), e.budget.TurnTimeout)
	defer cancel()

	checkpoint := in.Chains.Checkpoint()
	out, err := e.run(turnCtx, ctx, in)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		in.Chains.Restore(checkpoint)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Info("EXECUTOR", "Turn cancelled", map[string]interface{}{
			"turn":  in.Index,
			"error": err.Error(),
		})
		return nil, err
	}

	span.SetAttributes(
		attribute.String("turn.state", string(out.State)),
		attribute.Int("turn.iterations", out.Iterations),
		attribute.Int("turn.citations", len(out.Citations)),
	)
	metrics.TurnsTotal.WithLabelValues(string(out.State)).Inc()
	metrics.TurnDuration.Observe(time.Since(started).Seconds())
	metrics.TurnIterations.Observe(float64(out.Iterations))

	e.logger.Info("EXECUTOR", "Turn finished", map[string]interface{}{
		"turn":       in.Index,
		"state":      string(out.State),
		"iterations": out.Iterations,
		"citations":  len(out.Citations),
		"fallback":   string(out.FallbackReason),
		"duration":   time.Since(started).String(),
	})
	return out, nil
}

func (e *Executor) run(ctx, parent context.Context, in Input) (*Outcome, error) {
	out := &Outcome{}
	out.enter(StateClassifying)

	res, err := e.classifier.Classify(ctx, intent.Input{
		Query:  in.Query,
		Turns:  in.Turns,
		Chains: in.Chains.Snapshot(),
		Now:    in.Now,
	})
	if err != nil {
		ierr := interrupted(ctx, parent)
		switch {
		case ierr == nil:
			e.logger.Warn("EXECUTOR", "Classification failed, searching unfiltered", map[string]interface{}{
				"turn":  in.Index,
				"error": err.Error(),
			})
			res = &intent.Result{Classification: query.Unfiltered(in.Query), Degraded: true}
		case errors.Is(ierr, errTurnTimeout):
			res = &intent.Result{Classification: query.Unfiltered(in.Query), Degraded: true}
			return e.fallback(ctx, in, out, res, evidence.NewStore(), nil, response.ReasonTimeout), nil
		default:
			return nil, ierr
		}
	}

	if res.ShortCircuit() {
		out.enter(StateShortCircuited)
		out.Answer = res.Answer
		return out, nil
	}

	out.Classification = res.Classification
	out.Degraded = res.Degraded

	transition := in.Chains.OnTurnClassified(in.Index, res.Classification, in.Query, res.FollowUpOf)
	out.Transition = &transition

	store := evidence.NewStore()
	store.Seed(transition.Seed)

	e.logger.Debug("EXECUTOR", "Turn classified", map[string]interface{}{
		"turn":      in.Index,
		"type":      string(res.Classification.Type),
		"follow_up": res.Classification.IsFollowUp,
		"chain":     string(transition.Action),
		"seeded":    store.Len(),
	})

	if res.NoSource {
		return e.fallback(ctx, in, out, res, store, nil, response.ReasonNoSource), nil
	}

	q := res.Classification.EffectiveQuery(in.Query)
	pad := tools.NewScratchpad()
	var judgment *synthesis.Judgment

	for out.Iterations < e.budget.MaxIterations {
		out.enter(StateRetrieving)
		step, ok := e.planner.Next(Situation{
			Query:          in.Query,
			Classification: res.Classification,
			Scratchpad:     pad,
			Store:          store,
			Judgment:       judgment,
		})
		if !ok {
			return e.fallback(ctx, in, out, res, store, judgment, e.exhaustedReason(judgment, response.ReasonNoMoreTools)), nil
		}

		var excluded []string
		if step.Exclude {
			excluded = store.SeenIDs()
		}
		inv := e.invoker.Invoke(ctx, store, pad, step.Tool, step.Args, excluded)
		out.ToolLog = pad.All()
		out.Iterations++

		if err := interrupted(ctx, parent); err != nil {
			if errors.Is(err, errTurnTimeout) {
				return e.fallback(ctx, in, out, res, store, judgment, response.ReasonTimeout), nil
			}
			return nil, err
		}

		e.logger.Debug("EXECUTOR", "Tool step", map[string]interface{}{
			"turn":      in.Index,
			"iteration": out.Iterations,
			"tool":      step.Tool,
			"reason":    step.Reason,
			"new":       len(inv.Fragments),
			"failed":    inv.Failed(),
		})

		if step.Discovery {
			continue
		}

		out.enter(StateEvaluating)
		j, err := e.evaluator.Evaluate(ctx, q, store.All())
		if err != nil {
			ierr := interrupted(ctx, parent)
			switch {
			case ierr == nil:
				j = synthesis.Heuristic(q, store.All())
			case errors.Is(ierr, errTurnTimeout):
				return e.fallback(ctx, in, out, res, store, judgment, response.ReasonTimeout), nil
			default:
				return nil, ierr
			}
		}
		judgment = &j
		out.Judgment = judgment

		if j.Verdict == synthesis.Complete {
			return e.answer(ctx, parent, in, out, res, store, judgment)
		}
	}

	return e.fallback(ctx, in, out, res, store, judgment, e.exhaustedReason(judgment, response.ReasonBudget)), nil
}

func (e *Executor) answer(ctx, parent context.Context, in Input, out *Outcome, res *intent.Result, store *evidence.Store, judgment *synthesis.Judgment) (*Outcome, error) {
	out.enter(StateAnswering)
	fragments := store.All()
	q := res.Classification.EffectiveQuery(in.Query)

	text, err := e.responder.Answer(ctx, q, fragments, in.Turns)
	if err != nil {
		if ierr := interrupted(ctx, parent); ierr != nil {
			if errors.Is(ierr, errTurnTimeout) {
				return e.fallback(ctx, in, out, res, store, judgment, response.ReasonTimeout), nil
			}
			return nil, ierr
		}
		e.logger.Warn("EXECUTOR", "Answer generation failed", map[string]interface{}{
			"turn":  in.Index,
			"error": err.Error(),
		})
		return e.fallback(ctx, in, out, res, store, judgment, response.ReasonAnswerFailed), nil
	}

	out.Answer = text
	out.Citations = response.ExtractCitations(text, fragments)
	in.Chains.OnTurnCompleted(in.Index, res.Classification, synthesis.Complete, fragments)
	return out, nil
}

func (e *Executor) fallback(ctx context.Context, in Input, out *Outcome, res *intent.Result, store *evidence.Store, judgment *synthesis.Judgment, reason response.Reason) *Outcome {
	if reason != response.ReasonNoSource && reason != response.ReasonTimeout && res.Degraded {
		reason = response.ReasonDegradedIntent
	}
	out.enter(StateFallback)
	out.FallbackReason = reason
	out.Classification = res.Classification
	out.Judgment = judgment

	fin := response.FallbackInput{
		Query:          in.Query,
		Classification: res.Classification,
		Fragments:      store.All(),
		Judgment:       judgment,
		Reason:         reason,
		Tried:          toolNames(out.ToolLog),
	}
	if reason == response.ReasonTimeout {
		out.Answer = response.FallbackTemplate(fin)
	} else {
		out.Answer = e.responder.Fallback(ctx, fin)
	}
	out.Citations = nil

	verdict := synthesis.NotFound
	if judgment != nil {
		verdict = judgment.Verdict
	}
	if out.Transition != nil {
		in.Chains.OnTurnCompleted(in.Index, res.Classification, verdict, nil)
	}
	return out
}

func (e *Executor) exhaustedReason(judgment *synthesis.Judgment, otherwise response.Reason) response.Reason {
	if judgment != nil && judgment.Verdict == synthesis.NotFound {
		return response.ReasonNotFound
	}
	return otherwise
}

// interrupted distinguishes the caller going away from the turn budget
// running out. It returns nil while both contexts are live.
func interrupted(turnCtx, parent context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if turnCtx.Err() != nil {
		return errTurnTimeout
	}
	return nil
}

func toolNames(log []tools.Invocation) []string {
	out := make([]string, 0, len(log))
	for _, inv := range log {
		out = append(out, inv.ToolName)
	}
	return out
}
