// Package reviewloop drives iterative refinement of an Agent CLI
// conversation: a main pass produces work, a review pass judges whether to
// continue, and the result is folded back into the conversation store
// (spec §4.E).
package reviewloop

import (
	"context"
	"fmt"
	"time"

	"github.com/cursorrunner/cursor-runner/internal/apierr"
	"github.com/cursorrunner/cursor-runner/internal/conversation"
	"github.com/cursorrunner/cursor-runner/internal/cursorcli"
	"github.com/cursorrunner/cursor-runner/internal/outputparser"
	"github.com/cursorrunner/cursor-runner/internal/supervisor"
)

const (
	// DefaultMaxIterations is the review-loop cap absent an override.
	DefaultMaxIterations = 5
	// MaxIterationsCeiling is the absolute ceiling regardless of override.
	MaxIterationsCeiling = 25
)

// reviewPromptTemplate is the fixed prompt sent to the review pass,
// embedding the main round's stdout so the reviewer judges this round's
// actual output rather than the conversation history at large.
const reviewPromptTemplate = `You are reviewing the following agent output for completeness.

--- BEGIN AGENT OUTPUT ---
%s
--- END AGENT OUTPUT ---

Respond with a single JSON object of the form
{"code_complete": <bool>, "break_iteration": <bool>, "justification": "<string>"}
and nothing else.`

// Reason enumerates the terminal reasons a loop can stop without erroring.
type Reason string

const (
	ReasonSuccess              Reason = "Success"
	ReasonReviewBreak          Reason = "ReviewBreak"
	ReasonMaxIterationsReached Reason = "MaxIterationsReached"
	ReasonFailure              Reason = "Failure"
)

// Params is one loop invocation's inputs.
type Params struct {
	RequestID      string
	ConversationID string
	WorkDir        string
	Prompt         string
	Env            map[string]string
	HardTimeout    time.Duration // 0 means use the supervisor's configured default
	MaxIterations  int           // 0 means DefaultMaxIterations
}

// Outcome is the loop's terminal result.
type Outcome struct {
	Success             bool
	Reason              Reason
	Output              string // final/original main-pass stdout
	ExitCode            int
	TouchedFiles        []string
	ReviewJustification string
	Iterations          int
	Err                 *apierr.Error
}

// Loop drives the RUN_MAIN -> PARSE_REVIEW -> DECIDE state machine over a
// Process Supervisor and a conversation Store.
type Loop struct {
	sup     *supervisor.Supervisor
	convo   conversation.Store
	cliPath string
}

// New constructs a Loop over the given Process Supervisor and conversation
// store. cliPath is the resolved Agent CLI program path.
func New(sup *supervisor.Supervisor, convo conversation.Store, cliPath string) *Loop {
	return &Loop{sup: sup, convo: convo, cliPath: cliPath}
}

// Run executes the state machine to completion (success, break, ceiling, or
// failure) and returns the terminal Outcome. It never panics; all failure
// paths are represented in the returned Outcome.
func (l *Loop) Run(ctx context.Context, p Params) Outcome {
	maxIter := p.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	if maxIter > MaxIterationsCeiling {
		maxIter = MaxIterationsCeiling
	}

	iteration := 0
	for {
		mainResult, mainErr := l.runMain(ctx, p, iteration)
		if mainErr != nil {
			return Outcome{
				Success:    false,
				Reason:     ReasonFailure,
				Err:        mainErr,
				Iterations: iteration,
			}
		}

		l.appendAssistantMessage(ctx, p.ConversationID, mainResult.Stdout)

		envelope, reviewErr := l.runReview(ctx, p, mainResult.Stdout)
		if reviewErr != nil || envelope == nil {
			// A broken review pass must never hide useful main-pass work.
			out := Outcome{
				Success:      false,
				Reason:       ReasonFailure,
				Output:       mainResult.Stdout,
				ExitCode:     mainResult.ExitCode,
				TouchedFiles: mainResult.TouchedFiles,
				Iterations:   iteration,
			}
			if reviewErr != nil {
				out.Err = reviewErr
			} else {
				out.Err = apierr.New(apierr.ReviewParseFailed, p.RequestID, "review pass produced no parseable envelope")
			}
			return out
		}

		// break_iteration wins over code_complete when both are set: the
		// circuit breaker is authoritative.
		if envelope.BreakIteration {
			return Outcome{
				Success:             false,
				Reason:              ReasonReviewBreak,
				Output:              mainResult.Stdout,
				ExitCode:            mainResult.ExitCode,
				TouchedFiles:        mainResult.TouchedFiles,
				ReviewJustification: envelope.Justification,
				Iterations:          iteration,
				Err:                 apierr.New(apierr.ReviewBreak, p.RequestID, envelope.Justification),
			}
		}

		if envelope.CodeComplete {
			return Outcome{
				Success:      true,
				Reason:       ReasonSuccess,
				Output:       mainResult.Stdout,
				ExitCode:     mainResult.ExitCode,
				TouchedFiles: mainResult.TouchedFiles,
				Iterations:   iteration,
			}
		}

		if iteration+1 >= maxIter {
			return Outcome{
				Success:      false,
				Reason:       ReasonMaxIterationsReached,
				Output:       mainResult.Stdout,
				ExitCode:     mainResult.ExitCode,
				TouchedFiles: mainResult.TouchedFiles,
				Iterations:   iteration,
				Err:          apierr.New(apierr.MaxIterationsReached, p.RequestID, "review loop reached max_iterations without code_complete"),
			}
		}
		iteration++
	}
}

func (l *Loop) runMain(ctx context.Context, p Params, iteration int) (*supervisor.Result, *apierr.Error) {
	opts := cursorcli.Options{
		CLIPath: l.cliPath,
		Print:   true,
		Force:   true,
		Prompt:  p.Prompt,
	}
	if iteration >= 1 {
		opts.Resume = p.ConversationID
	}
	argv := cursorcli.Build(opts)

	// Rounds after the first get a resume-style prompt referencing the
	// conversation identifier, appended to the prompt-bearing flag's value
	// (spec §2 data flow, §6 prompt-injection step).
	if iteration >= 1 && p.ConversationID != "" {
		argv = cursorcli.InjectPrompt(argv, fmt.Sprintf("\n\n(resuming conversation %s)", p.ConversationID))
	}

	req := supervisor.Request{
		Args:        argv[1:],
		WorkDir:     p.WorkDir,
		Env:         p.Env,
		HardTimeout: p.HardTimeout,
	}

	result, err := l.sup.Run(ctx, req)
	if err != nil {
		return nil, supervisorErrToAPIErr(err, p.RequestID)
	}
	return result, nil
}

func (l *Loop) runReview(ctx context.Context, p Params, mainStdout string) (*outputparser.Envelope, *apierr.Error) {
	reviewPrompt := fmt.Sprintf(reviewPromptTemplate, mainStdout)

	argv := cursorcli.Build(cursorcli.Options{
		CLIPath: l.cliPath,
		Print:   true,
		Force:   true,
		Prompt:  reviewPrompt,
	})

	req := supervisor.Request{
		Args:       argv[1:],
		WorkDir:    p.WorkDir,
		Env:        p.Env,
		DisablePTY: true, // review pass always runs pipe-only, spec §4.E
	}

	result, err := l.sup.Run(ctx, req)
	if err != nil {
		return nil, supervisorErrToAPIErr(err, p.RequestID)
	}
	return outputparser.ExtractReviewEnvelope(result.Stdout), nil
}

func (l *Loop) appendAssistantMessage(ctx context.Context, conversationID, content string) {
	if l.convo == nil || conversationID == "" {
		return
	}
	_ = l.convo.Append(ctx, conversationID, conversation.Message{
		Role:      conversation.RoleAssistant,
		Content:   content,
		Source:    "agent-cli",
		Timestamp: time.Now().UTC(),
	})
}

func supervisorErrToAPIErr(err *supervisor.Error, requestID string) *apierr.Error {
	var kind apierr.Kind
	switch err.Kind {
	case supervisor.SpawnFailed:
		kind = apierr.SpawnFailed
	case supervisor.HardTimeout:
		kind = apierr.HardTimeout
	case supervisor.IdleTimeout:
		kind = apierr.IdleTimeout
	case supervisor.OutputOverflow:
		kind = apierr.OutputOverflow
	case supervisor.Cancelled:
		kind = apierr.Cancelled
	default:
		kind = apierr.Internal
	}
	return apierr.New(kind, requestID, err.Message)
}
