package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	TopicHierarchyChangedV1 = "hierarchy.changed.v1"
	EventVersionV1          = 1
)

const (
	ChangeNodeCreated       = "node.created"
	ChangeNodeMoved         = "node.moved"
	ChangeNodeStatusChanged = "node.status_changed"
	ChangeNodeDeleted       = "node.deleted"
	ChangeTreeRepaired      = "tree.repaired"
)

type HierarchyEventV1 struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventVersion    int             `json:"event_version"`
	Topic           string          `json:"topic"`
	RequestID       string          `json:"request_id"`
	TenantID        uuid.UUID       `json:"tenant_id"`
	Kind            string          `json:"kind"`
	TransactionTime time.Time       `json:"transaction_time"`
	ChangeType      string          `json:"change_type"`
	EntityID        uuid.UUID       `json:"entity_id"`
	AffectedCount   int             `json:"affected_count"`
	OldValues       json.RawMessage `json:"old_values,omitempty"`
	NewValues       json.RawMessage `json:"new_values"`
}
