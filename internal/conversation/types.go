// Package conversation persists append-only ConversationRecord message logs
// keyed by conversation identifier, with atomic per-identifier writes and
// TTL-based expiry (spec §4.D).
package conversation

import "time"

// Role is the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry in a ConversationRecord's ordered, append-only log.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is a conversation's persisted state: metadata plus its ordered
// message log. The wire field is "identifier"; decodeRecord also
// accepts the legacy "id" field name on read.
type Record struct {
	ID             string         `json:"identifier"`
	CreatedAt      time.Time      `json:"createdAt"`
	LastAccessedAt time.Time      `json:"lastAccessedAt"`
	AgentID        string         `json:"agentId,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Messages       []Message      `json:"messages"`
}

// SortField is a field list() may order results by.
type SortField string

const (
	SortCreatedAt      SortField = "createdAt"
	SortLastAccessedAt SortField = "lastAccessedAt"
	SortMessageCount   SortField = "messageCount"
)

// SortOrder is the direction list() orders results in.
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// ListFilter describes a paginated, sorted list() query.
type ListFilter struct {
	Limit     int
	Offset    int
	SortBy    SortField
	SortOrder SortOrder
	QueueType string // optional: restrict to one queue type's index
}

// ListResult is the paginated response to list().
type ListResult struct {
	Items []Record
	Total int
}

func validSortField(f SortField) bool {
	switch f {
	case SortCreatedAt, SortLastAccessedAt, SortMessageCount:
		return true
	default:
		return false
	}
}

func validSortOrder(o SortOrder) bool {
	switch o {
	case Asc, Desc:
		return true
	default:
		return false
	}
}
