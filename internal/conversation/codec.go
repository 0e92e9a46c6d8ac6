package conversation

import (
	"encoding/json"
	"time"
)

// legacyRecord tolerates a blob that carries the pre-rename "id" field
// instead of "identifier" (spec §4.D "legacy read tolerance").
type legacyRecord struct {
	LegacyID       string         `json:"id"`
	ID             string         `json:"identifier"`
	CreatedAt      time.Time      `json:"createdAt"`
	LastAccessedAt time.Time      `json:"lastAccessedAt"`
	AgentID        string         `json:"agentId,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Messages       []Message      `json:"messages"`
}

func encodeRecord(r Record) ([]byte, error) {
	return json.Marshal(r)
}

func decodeRecord(blob []byte) (Record, error) {
	var lr legacyRecord
	if err := json.Unmarshal(blob, &lr); err != nil {
		return Record{}, err
	}
	id := lr.ID
	if id == "" {
		id = lr.LegacyID
	}
	return Record{
		ID:             id,
		CreatedAt:      lr.CreatedAt,
		LastAccessedAt: lr.LastAccessedAt,
		AgentID:        lr.AgentID,
		Metadata:       lr.Metadata,
		Messages:       lr.Messages,
	}, nil
}
