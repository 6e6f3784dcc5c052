package node

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("hierarchy node not found")

type Kind string

const (
	KindDepartment   Kind = "department"
	KindOrganization Kind = "organization"
	KindEnterprise   Kind = "enterprise"
)

var Kinds = []Kind{KindOrganization, KindEnterprise, KindDepartment}

func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	switch k {
	case KindDepartment, KindOrganization, KindEnterprise:
		return k, nil
	default:
		return "", fmt.Errorf("invalid kind %q (expected department|organization|enterprise)", raw)
	}
}

// Scope identifies one set of trees: every node of a kind owned by a tenant.
type Scope struct {
	TenantID uuid.UUID
	Kind     Kind
}

func (s Scope) String() string {
	return s.TenantID.String() + ":" + string(s.Kind)
}

// Position holds both encoding families. Only the fields of the tree's
// encoding carry meaning; the others stay zero.
type Position struct {
	Path  string `json:"path,omitempty"`
	Left  int    `json:"left,omitempty"`
	Right int    `json:"right,omitempty"`
}

type Node struct {
	ID       uuid.UUID  `json:"id"`
	TenantID uuid.UUID  `json:"tenant_id"`
	Kind     Kind       `json:"kind"`
	ParentID *uuid.UUID `json:"parent_id,omitempty"`
	Code     string     `json:"code,omitempty"`
	Name     string     `json:"name"`
	Level    int        `json:"level"`
	Position
	Status       Status    `json:"status"`
	DisplayOrder int       `json:"display_order"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (n Node) IsRoot() bool {
	return n.ParentID == nil
}

func (n Node) Scope() Scope {
	return Scope{TenantID: n.TenantID, Kind: n.Kind}
}

// HasParent reports whether n's parent pointer references id.
func (n Node) HasParent(id uuid.UUID) bool {
	return n.ParentID != nil && *n.ParentID == id
}

func (n Node) Clone() Node {
	out := n
	if n.ParentID != nil {
		p := *n.ParentID
		out.ParentID = &p
	}
	return out
}

func Ptr(id uuid.UUID) *uuid.UUID {
	return &id
}
