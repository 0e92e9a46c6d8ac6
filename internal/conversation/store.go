package conversation

import (
	"context"
	"sort"
	"time"

	"github.com/cursorrunner/cursor-runner/internal/apierr"
)

// Store is the conversation persistence contract shared by the Redis-backed
// implementation and its in-memory fallback. Every method returns an
// *apierr.Error with Kind StoreUnavailable, NotFound, or InvalidArgument on
// failure, per spec §4.D / §7, or Internal when a stored record cannot be
// encoded or decoded.
type Store interface {
	Create(ctx context.Context, agentID string, metadata map[string]any, queueType string) (Record, *apierr.Error)
	Get(ctx context.Context, id string) (Record, *apierr.Error)
	Append(ctx context.Context, id string, msg Message) *apierr.Error
	List(ctx context.Context, filter ListFilter) (ListResult, *apierr.Error)
	UpdateLastAccessed(ctx context.Context, id string) *apierr.Error
	// LastConversationID returns the most recently created conversation
	// identifier for a queue type, or "" if none exists yet.
	LastConversationID(ctx context.Context, queueType string) (string, *apierr.Error)
}

func validateListFilter(f ListFilter) *apierr.Error {
	if f.Limit <= 0 {
		return apierr.New(apierr.InvalidArgument, "", "limit must be a positive integer")
	}
	if f.Offset < 0 {
		return apierr.New(apierr.InvalidArgument, "", "offset must be a non-negative integer")
	}
	if f.SortBy != "" && !validSortField(f.SortBy) {
		return apierr.New(apierr.InvalidArgument, "", "sortBy must be one of createdAt, lastAccessedAt, messageCount")
	}
	if f.SortOrder != "" && !validSortOrder(f.SortOrder) {
		return apierr.New(apierr.InvalidArgument, "", "sortOrder must be one of asc, desc")
	}
	return nil
}

// sortRecords orders recs in place per filter, defaulting to createdAt/desc
// when unset, matching the newest-first listing a caller expects absent an
// explicit preference.
func sortRecords(recs []Record, filter ListFilter) {
	by := filter.SortBy
	if by == "" {
		by = SortCreatedAt
	}
	order := filter.SortOrder
	if order == "" {
		order = Desc
	}

	less := func(i, j int) bool {
		var a, b bool
		switch by {
		case SortLastAccessedAt:
			a = recs[i].LastAccessedAt.Before(recs[j].LastAccessedAt)
			b = recs[j].LastAccessedAt.Before(recs[i].LastAccessedAt)
		case SortMessageCount:
			a = len(recs[i].Messages) < len(recs[j].Messages)
			b = len(recs[j].Messages) < len(recs[i].Messages)
		default: // SortCreatedAt
			a = recs[i].CreatedAt.Before(recs[j].CreatedAt)
			b = recs[j].CreatedAt.Before(recs[i].CreatedAt)
		}
		if order == Desc {
			return b
		}
		return a
	}
	sort.SliceStable(recs, less)
}

func paginate(recs []Record, filter ListFilter) []Record {
	total := len(recs)
	if filter.Offset >= total {
		return []Record{}
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return recs[filter.Offset:end]
}

func newRecord(id, agentID string, metadata map[string]any) Record {
	now := time.Now().UTC()
	return Record{
		ID:             id,
		CreatedAt:      now,
		LastAccessedAt: now,
		AgentID:        agentID,
		Metadata:       metadata,
		Messages:       []Message{},
	}
}
