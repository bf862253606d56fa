package nlsearch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ortelius/cvefeed-backend/internal/search"
)

// DefaultMaxRetries bounds the corrections requested after the first reply.
const DefaultMaxRetries = 5

// ErrModelUnavailable wraps failures of the language model itself, as
// opposed to replies that fail validation.
var ErrModelUnavailable = errors.New("language model unavailable")

// LanguageModel answers the conversation so far with a function call body.
type LanguageModel interface {
	Complete(ctx context.Context, transcript Transcript) (string, error)
}

// State is a step of the orchestration state machine.
type State int

// Orchestration states.
const (
	StateInit State = iota
	StateAwaitModel
	StateValidate
	StateRetry
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateAwaitModel:
		return "AWAIT_MODEL"
	case StateValidate:
		return "VALIDATE"
	case StateRetry:
		return "RETRY"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Result is the terminal value of an orchestration. Exactly one of Payload
// and Errors is set.
type Result struct {
	Payload    *search.Payload
	Errors     []string
	Retries    int
	Transcript Transcript
}

// machine is one immutable snapshot of the state machine.
type machine struct {
	state      State
	transcript Transcript
	reply      string
	retries    int
	errs       []string
	payload    *search.Payload
}

// Orchestrator resolves free-text queries into validated payloads.
type Orchestrator struct {
	validator  *search.Validator
	model      LanguageModel
	maxRetries int
	logger     *zap.Logger
	now        func() time.Time
}

// NewOrchestrator returns an orchestrator that validates with v. A
// non-positive maxRetries selects DefaultMaxRetries.
func NewOrchestrator(v *search.Validator, model LanguageModel, maxRetries int, logger *zap.Logger) *Orchestrator {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{validator: v, model: model, maxRetries: maxRetries, logger: logger, now: time.Now}
}

// Resolve runs the state machine for query. Validation failures that survive
// every retry come back in Result.Errors; a returned error means the model
// could not be reached and wraps ErrModelUnavailable.
func (o *Orchestrator) Resolve(ctx context.Context, query string) (Result, error) {
	m := machine{state: StateInit}
	for {
		next, err := o.step(ctx, m, query)
		if err != nil {
			return Result{Retries: m.retries, Transcript: m.transcript}, err
		}
		m = next

		switch m.state {
		case StateDone:
			return Result{Payload: m.payload, Retries: m.retries, Transcript: m.transcript}, nil
		case StateFailed:
			o.logger.Info("Natural language search gave up",
				zap.Int("retries", m.retries), zap.Strings("errors", m.errs))
			return Result{Errors: m.errs, Retries: m.retries, Transcript: m.transcript}, nil
		}
	}
}

// step performs one transition.
func (o *Orchestrator) step(ctx context.Context, m machine, query string) (machine, error) {
	switch m.state {
	case StateInit:
		m.transcript = NewTranscript(BuildUserPrompt(o.validator.Registry(), query, o.now()))
		m.state = StateAwaitModel

	case StateAwaitModel:
		reply, err := o.model.Complete(ctx, m.transcript)
		if err != nil {
			return m, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
		}
		m.reply = reply
		m.transcript = m.transcript.With(Message{Role: RoleAssistant, Content: reply})
		m.state = StateValidate

	case StateValidate:
		filters, sorts, errs := ParseReply(m.reply)
		if len(errs) == 0 {
			m.payload, errs = o.validator.Validate(filters, sorts)
		}
		m.errs = errs
		switch {
		case len(errs) == 0:
			m.state = StateDone
		case m.retries < o.maxRetries:
			m.state = StateRetry
		default:
			m.payload = nil
			m.state = StateFailed
		}

	case StateRetry:
		o.logger.Debug("Asking model to correct function call",
			zap.Int("retry", m.retries+1), zap.Strings("errors", m.errs))
		m.transcript = m.transcript.With(Message{Role: RoleUser, Content: Reprompt(m.errs)})
		m.retries++
		m.payload = nil
		m.state = StateAwaitModel

	default:
		return m, fmt.Errorf("no transition from state %s", m.state)
	}
	return m, nil
}
