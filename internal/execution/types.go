// Package execution is the Async Execution Facade: it accepts an
// ExecutionRequest, admits it through the Admission Semaphore, drives the
// Review Loop, and either returns synchronously or dispatches the result to
// a webhook via the Callback Dispatcher (spec §4.G).
package execution

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// QueueType selects which background queue an async request is dispatched
// on; it has no bearing on synchronous execution.
type QueueType string

const (
	QueueDefault  QueueType = "default"
	QueueAPI      QueueType = "api"
	QueueTelegram QueueType = "telegram"
)

func validQueueType(q QueueType) bool {
	switch q {
	case QueueDefault, QueueAPI, QueueTelegram:
		return true
	default:
		return false
	}
}

// Request is one caller-submitted execution (spec §3 ExecutionRequest).
type Request struct {
	RequestID      string // caller-supplied or generated
	ConversationID string // optional; created lazily if empty
	Repository     string // optional; internal/api resolves this to WorkDir under ./repositories/<name>
	BranchName     string // optional
	Prompt         string
	QueueType      QueueType
	CallbackURL    string // required for execute_async
	HardTimeout    time.Duration
	MaxIterations  int
	WorkDir        string // resolved workspace directory (may be relative to the server's working directory); caller's responsibility
	Env            map[string]string
}

// Result is the outcome handed back synchronously or via the callback.
type Result struct {
	Success             bool      `json:"success"`
	RequestID           string    `json:"requestId"`
	Repository          string    `json:"repository,omitempty"`
	BranchName          string    `json:"branchName,omitempty"`
	Output              string    `json:"output"`
	ExitCode            int       `json:"exitCode"`
	Duration            float64   `json:"duration"` // seconds
	Timestamp           time.Time `json:"timestamp"`
	ConversationID      string    `json:"conversationId,omitempty"`
	Error               string    `json:"error,omitempty"`
	Reason              string    `json:"reason,omitempty"`
	ReviewJustification string    `json:"reviewJustification,omitempty"`
	OriginalOutput      string    `json:"originalOutput,omitempty"`
}

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func randomBase36(n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(base36Alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			out[i] = base36Alphabet[0]
			continue
		}
		out[i] = base36Alphabet[idx.Int64()]
	}
	return string(out)
}

// NewRequestID generates the "req-<unix-ms>-<random-base36>" convention.
func NewRequestID() string {
	return fmt.Sprintf("req-%d-%s", time.Now().UnixMilli(), randomBase36(8))
}

// NormalizeQueueType applies the "telegram-" caller-id-prefix override and
// defaults an empty queue type to "default" (spec §6 request identifier
// convention).
func NormalizeQueueType(requestID string, q QueueType) QueueType {
	if strings.HasPrefix(requestID, "telegram-") {
		return QueueTelegram
	}
	if q == "" {
		return QueueDefault
	}
	return q
}
