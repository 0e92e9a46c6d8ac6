package execution

import (
	"context"
	"time"

	"github.com/cursorrunner/cursor-runner/internal/apierr"
	"github.com/cursorrunner/cursor-runner/internal/callback"
	"github.com/cursorrunner/cursor-runner/internal/cloudlog"
	"github.com/cursorrunner/cursor-runner/internal/conversation"
	"github.com/cursorrunner/cursor-runner/internal/reviewloop"
	"github.com/cursorrunner/cursor-runner/internal/semaphore"
)

// Facade ties the Admission Semaphore, Conversation Store, Review Loop, and
// Callback Dispatcher together behind the execute / execute_async contract
// (spec §4.G).
type Facade struct {
	sem                  *semaphore.Semaphore
	convo                conversation.Store
	loop                 *reviewloop.Loop
	dispatcher           *callback.Dispatcher
	logger               cloudlog.Logger
	defaultMaxIterations int
}

// New constructs a Facade. defaultMaxIterations is the configured
// max_iterations absent a per-request override.
func New(sem *semaphore.Semaphore, convo conversation.Store, loop *reviewloop.Loop, dispatcher *callback.Dispatcher, logger cloudlog.Logger, defaultMaxIterations int) *Facade {
	if logger == nil {
		logger = cloudlog.NewStderrLogger("execution")
	}
	return &Facade{
		sem:                  sem,
		convo:                convo,
		loop:                 loop,
		dispatcher:           dispatcher,
		logger:               logger,
		defaultMaxIterations: defaultMaxIterations,
	}
}

// Execute runs the loop to completion synchronously and returns the final
// Result (never nil). Errors are folded into the Result per spec §7.
func (f *Facade) Execute(ctx context.Context, req Request) Result {
	if req.RequestID == "" {
		req.RequestID = NewRequestID()
	}
	req.QueueType = NormalizeQueueType(req.RequestID, req.QueueType)

	start := time.Now()

	ticket, err := f.sem.Acquire(ctx)
	if err != nil {
		return f.errorResult(req, start, apierr.New(apierr.Cancelled, req.RequestID, "cancelled while waiting for an admission slot"))
	}
	defer f.sem.Release(ticket)

	conversationID, apiErr := f.resolveConversation(ctx, req)
	if apiErr != nil {
		return f.errorResult(req, start, apiErr)
	}
	req.ConversationID = conversationID

	f.appendUserMessage(ctx, req)

	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = f.defaultMaxIterations
	}

	outcome := f.loop.Run(ctx, reviewloop.Params{
		RequestID:      req.RequestID,
		ConversationID: req.ConversationID,
		WorkDir:        req.WorkDir,
		Prompt:         req.Prompt,
		Env:            req.Env,
		HardTimeout:    req.HardTimeout,
		MaxIterations:  maxIter,
	})

	return f.toResult(req, start, outcome)
}

// ExecuteAsync validates inputs, generates a request id if needed, and
// returns immediately; the caller is responsible for actually running the
// work on an independent task (the asynq-backed dispatch lives in
// internal/execution/queue.go so the Facade itself stays transport-agnostic
// and synchronously testable).
func (f *Facade) ExecuteAsync(req Request) (Request, *apierr.Error) {
	if req.RequestID == "" {
		req.RequestID = NewRequestID()
	}
	req.QueueType = NormalizeQueueType(req.RequestID, req.QueueType)

	if req.Prompt == "" {
		return req, apierr.New(apierr.InvalidArgument, req.RequestID, "prompt is required")
	}
	if req.CallbackURL == "" {
		return req, apierr.New(apierr.InvalidArgument, req.RequestID, "callbackUrl is required for async execution")
	}
	return req, nil
}

// RunAndDispatch executes req to completion and delivers the result via the
// Callback Dispatcher. It is the body of the background task an asynq
// handler (or any other task runner) invokes.
func (f *Facade) RunAndDispatch(ctx context.Context, req Request) {
	result := f.Execute(ctx, req)
	if f.dispatcher != nil && req.CallbackURL != "" {
		f.dispatcher.Deliver(ctx, req.RequestID, req.CallbackURL, result)
	}
}

func (f *Facade) resolveConversation(ctx context.Context, req Request) (string, *apierr.Error) {
	if req.ConversationID != "" {
		return req.ConversationID, nil
	}
	if f.convo == nil {
		return conversation.NewConversationID(), nil
	}
	rec, err := f.convo.Create(ctx, "", nil, string(req.QueueType))
	if err != nil {
		if err.Kind == apierr.StoreUnavailable {
			// Degrade gracefully: a transient conversation id keeps the
			// loop running without persistence, per spec §4.D durability
			// clause.
			f.logger.Warn("conversation store unavailable, using transient id", "requestId", req.RequestID)
			return conversation.NewConversationID(), nil
		}
		return "", err
	}
	return rec.ID, nil
}

func (f *Facade) appendUserMessage(ctx context.Context, req Request) {
	if f.convo == nil || req.ConversationID == "" {
		return
	}
	_ = f.convo.Append(ctx, req.ConversationID, conversation.Message{
		Role:      conversation.RoleUser,
		Content:   req.Prompt,
		Source:    "text",
		Timestamp: time.Now().UTC(),
	})
}

func (f *Facade) errorResult(req Request, start time.Time, err *apierr.Error) Result {
	return Result{
		Success:        false,
		RequestID:      req.RequestID,
		Repository:     req.Repository,
		BranchName:     req.BranchName,
		Duration:       time.Since(start).Seconds(),
		Timestamp:      time.Now().UTC(),
		ConversationID: req.ConversationID,
		Error:          err.Message,
		Reason:         string(err.Kind),
	}
}

func (f *Facade) toResult(req Request, start time.Time, outcome reviewloop.Outcome) Result {
	res := Result{
		Success:             outcome.Success,
		RequestID:           req.RequestID,
		Repository:          req.Repository,
		BranchName:          req.BranchName,
		Output:              outcome.Output,
		ExitCode:            outcome.ExitCode,
		Duration:            time.Since(start).Seconds(),
		Timestamp:           time.Now().UTC(),
		ConversationID:      req.ConversationID,
		ReviewJustification: outcome.ReviewJustification,
	}
	if outcome.Err != nil {
		res.Error = outcome.Err.Message
		res.Reason = string(outcome.Err.Kind)
	}
	if outcome.Reason == reviewloop.ReasonReviewBreak || outcome.Reason == reviewloop.ReasonMaxIterationsReached {
		res.OriginalOutput = outcome.Output
	}
	return res
}
