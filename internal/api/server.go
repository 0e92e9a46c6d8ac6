// Package api is the gin-based HTTP surface exposing the Execution
// Supervisor and Conversation Store to callers (spec §6 HTTP surface).
package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cursorrunner/cursor-runner/internal/apierr"
	"github.com/cursorrunner/cursor-runner/internal/cloudlog"
	"github.com/cursorrunner/cursor-runner/internal/conversation"
	"github.com/cursorrunner/cursor-runner/internal/execution"
	"github.com/cursorrunner/cursor-runner/internal/semaphore"
)

// repositoriesRoot is the workspace directory the Agent CLI is launched
// inside of when a caller names a repository (spec.md:261 "runs Agent CLI
// in ./repositories/repo-A").
const repositoriesRoot = "./repositories"

// resolveWorkDir maps an optional repository name onto the workspace
// convention; an omitted repository runs the Agent CLI in the server's own
// working directory.
func resolveWorkDir(repository string) string {
	if repository == "" {
		return "."
	}
	return filepath.Join(repositoriesRoot, repository)
}

// Server wires the Execution Facade, Conversation Store, and Admission
// Semaphore behind the HTTP surface.
type Server struct {
	facade *execution.Facade
	queue  *execution.AsyncQueue
	convo  conversation.Store
	sem    *semaphore.Semaphore
	logger cloudlog.Logger

	serviceName string
}

// NewServer constructs a Server. queue may be nil; async requests then run
// on a goroutine in this process instead of through the queue.
func NewServer(facade *execution.Facade, queue *execution.AsyncQueue, convo conversation.Store, sem *semaphore.Semaphore, logger cloudlog.Logger, serviceName string) *Server {
	if logger == nil {
		logger = cloudlog.NewStderrLogger("api")
	}
	if serviceName == "" {
		serviceName = "cursor-runner"
	}
	return &Server{facade: facade, queue: queue, convo: convo, sem: sem, logger: logger, serviceName: serviceName}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	r.POST("/cursor/execute", s.handleExecute)
	r.POST("/cursor/execute/async", s.handleExecuteAsync)
	r.POST("/cursor/iterate/async", s.handleExecuteAsync)

	r.POST("/api/agent/new", s.handleAgentNew)
	r.POST("/api/agent/:id/message", s.handleAgentMessage)
	r.GET("/api/agent/:id", s.handleAgentGet)
	r.GET("/api/agent/list", s.handleAgentList)

	r.GET("/health", s.handleHealth)
	r.GET("/health/queue", s.handleHealthQueue)

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": s.serviceName})
}

func (s *Server) handleHealthQueue(c *gin.Context) {
	status := s.sem.Status()
	resp := gin.H{
		"status":  "ok",
		"service": s.serviceName,
		"queue": gin.H{
			"available":     status.Available,
			"waiting":       status.Waiting,
			"maxConcurrent": status.MaxConcurrent,
		},
	}
	if status.Available == 0 {
		resp["warning"] = "no admission slots available"
	}
	c.JSON(http.StatusOK, resp)
}

type executeRequestBody struct {
	Prompt         string `json:"prompt" binding:"required"`
	Repository     string `json:"repository"`
	BranchName     string `json:"branchName"`
	QueueType      string `json:"queueType"`
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	CallbackURL    string `json:"callbackUrl"`
}

func (s *Server) toExecutionRequest(body executeRequestBody) execution.Request {
	req := execution.Request{
		RequestID:      body.ID,
		ConversationID: body.ConversationID,
		Repository:     body.Repository,
		BranchName:     body.BranchName,
		Prompt:         body.Prompt,
		QueueType:      execution.QueueType(body.QueueType),
		CallbackURL:    body.CallbackURL,
		WorkDir:        resolveWorkDir(body.Repository),
	}
	if req.RequestID == "" {
		req.RequestID = execution.NewRequestID()
	}
	req.QueueType = execution.NormalizeQueueType(req.RequestID, req.QueueType)
	return req
}

func (s *Server) handleExecute(c *gin.Context) {
	var body executeRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeAPIError(c, apierr.New(apierr.InvalidArgument, "", err.Error()))
		return
	}

	req := s.toExecutionRequest(body)
	if body.Repository != "" {
		if fi, statErr := os.Stat(req.WorkDir); statErr != nil || !fi.IsDir() {
			writeAPIError(c, apierr.Newf(apierr.NotFound, req.RequestID, "repository path not found: %s", req.WorkDir))
			return
		}
	}

	result := s.facade.Execute(c.Request.Context(), req)
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleExecuteAsync(c *gin.Context) {
	var body executeRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeAPIError(c, apierr.New(apierr.InvalidArgument, "", err.Error()))
		return
	}

	req := s.toExecutionRequest(body)
	req, apiErr := s.facade.ExecuteAsync(req)
	if apiErr != nil {
		writeAPIError(c, apiErr)
		return
	}

	if s.queue != nil {
		if err := s.queue.Enqueue(c.Request.Context(), req); err != nil {
			writeAPIError(c, apierr.Newf(apierr.Internal, req.RequestID, "enqueue failed: %v", err))
			return
		}
	} else {
		// The request context is cancelled once this handler returns; the
		// background run must outlive it to reach the callback.
		go s.facade.RunAndDispatch(context.WithoutCancel(c.Request.Context()), req)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "execution accepted",
		"requestId": req.RequestID,
	})
}

type agentNewRequestBody struct {
	AgentID  string         `json:"agentId"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) handleAgentNew(c *gin.Context) {
	var body agentNewRequestBody
	_ = c.ShouldBindJSON(&body) // both fields optional

	rec, err := s.convo.Create(c.Request.Context(), body.AgentID, body.Metadata, "")
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"conversationId": rec.ID,
		"message":        "conversation created",
	})
}

type agentMessageRequestBody struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
	Source  string `json:"source"`
}

func (s *Server) handleAgentMessage(c *gin.Context) {
	id := c.Param("id")
	var body agentMessageRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeAPIError(c, apierr.New(apierr.InvalidArgument, "", err.Error()))
		return
	}

	msg := conversation.Message{
		Role:    conversation.Role(body.Role),
		Content: body.Content,
		Source:  body.Source,
	}
	if err := s.convo.Append(c.Request.Context(), id, msg); err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"conversationId": id,
		"message":        "message appended",
	})
}

func (s *Server) handleAgentGet(c *gin.Context) {
	id := c.Param("id")
	rec, err := s.convo.Get(c.Request.Context(), id)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversationId": rec.ID,
		"messages":       rec.Messages,
		"createdAt":      rec.CreatedAt,
		"lastAccessedAt": rec.LastAccessedAt,
		"agentId":        rec.AgentID,
		"metadata":       rec.Metadata,
	})
}

func (s *Server) handleAgentList(c *gin.Context) {
	limit, err1 := strconv.Atoi(defaultQuery(c, "limit", "20"))
	offset, err2 := strconv.Atoi(defaultQuery(c, "offset", "0"))
	if err1 != nil || err2 != nil {
		writeAPIError(c, apierr.New(apierr.InvalidArgument, "", "limit and offset must be integers"))
		return
	}

	filter := conversation.ListFilter{
		Limit:     limit,
		Offset:    offset,
		SortBy:    conversation.SortField(c.Query("sortBy")),
		SortOrder: conversation.SortOrder(c.Query("sortOrder")),
	}

	result, err := s.convo.List(c.Request.Context(), filter)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversations": result.Items,
		"pagination": gin.H{
			"total":  result.Total,
			"limit":  filter.Limit,
			"offset": filter.Offset,
		},
	})
}

func defaultQuery(c *gin.Context, key, def string) string {
	if v := c.Query(key); v != "" {
		return v
	}
	return def
}

func writeAPIError(c *gin.Context, err *apierr.Error) {
	c.JSON(apierr.HTTPStatus(err.Kind), gin.H{
		"error":     err.Message,
		"kind":      err.Kind,
		"requestId": err.RequestID,
		"timestamp": err.Timestamp,
	})
}
