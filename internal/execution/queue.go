package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/cursorrunner/cursor-runner/internal/cloudlog"
)

const taskTypeExecute = "execution:run"

// AsyncQueue dispatches Requests onto one asynq queue per QueueType and
// runs a Facade against each as a background task (spec §4.G "run the loop
// on an independent task"). Construction mirrors reefline's RedisQueue:
// one asynq.Client for enqueueing, one asynq.Server/ServeMux pair for
// consuming.
type AsyncQueue struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	facade *Facade
	logger cloudlog.Logger
}

// NewAsyncQueue builds an AsyncQueue against a Redis instance addressed by
// redisAddr (host:port), running facade.RunAndDispatch for every dequeued
// task with concurrency workers across the three queue types.
func NewAsyncQueue(redisAddr, redisPassword string, facade *Facade, logger cloudlog.Logger) *AsyncQueue {
	if logger == nil {
		logger = cloudlog.NewStderrLogger("execution-queue")
	}
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr, Password: redisPassword}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 10,
		Queues: map[string]int{
			string(QueueAPI):      3,
			string(QueueDefault):  2,
			string(QueueTelegram): 1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("execution task failed", "type", task.Type(), "error", err.Error())
		}),
	})

	q := &AsyncQueue{
		client: asynq.NewClient(redisOpt),
		server: server,
		mux:    asynq.NewServeMux(),
		facade: facade,
		logger: logger,
	}
	q.mux.HandleFunc(taskTypeExecute, q.handle)
	return q
}

// Enqueue places req onto the queue named by req.QueueType, returning
// immediately. The caller has already acknowledged the request to its own
// caller by the time this returns.
func (q *AsyncQueue) Enqueue(ctx context.Context, req Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal execution request: %w", err)
	}
	task := asynq.NewTask(taskTypeExecute, payload)
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(string(req.QueueType)),
		asynq.Retention(24*time.Hour),
		asynq.MaxRetry(0), // the Review Loop itself is the unit of work; retries would re-spend CLI invocations
	)
	return err
}

func (q *AsyncQueue) handle(ctx context.Context, task *asynq.Task) error {
	var req Request
	if err := json.Unmarshal(task.Payload(), &req); err != nil {
		return fmt.Errorf("unmarshal execution request: %w", err)
	}
	q.facade.RunAndDispatch(ctx, req)
	return nil
}

// Start runs the asynq server's task-processing loop in the background.
func (q *AsyncQueue) Start() error {
	go func() {
		if err := q.server.Run(q.mux); err != nil {
			q.logger.Error("execution queue server stopped", "error", err.Error())
		}
	}()
	return nil
}

// Stop gracefully shuts the queue down, draining in-flight tasks.
func (q *AsyncQueue) Stop() {
	q.client.Close()
	q.server.Shutdown()
}
