package domain

import (
	"encoding/json"
	"fmt"
)

// Role is the closed set of user roles. Unknown strings are rejected when
// parsed or deserialized rather than carried through.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleEmployee Role = "employee"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleOwner, RoleEmployee:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (r Role) String() string { return string(r) }

func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// TaskStatus is the closed set of task states. Any member is settable via
// update; there is no transition graph beyond enum membership.
type TaskStatus string

const (
	StatusOpen       TaskStatus = "open"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusRejected   TaskStatus = "rejected"
)

func ParseTaskStatus(s string) (TaskStatus, error) {
	switch TaskStatus(s) {
	case StatusOpen, StatusInProgress, StatusCompleted, StatusRejected:
		return TaskStatus(s), nil
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

func (s TaskStatus) String() string { return string(s) }

func (s *TaskStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseTaskStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type Building struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type User struct {
	ID         string `json:"id"`
	BuildingID string `json:"building_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Role       Role   `json:"role" enum:"owner,employee"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// Comment belongs to exactly one task and is append-only: no edit or delete
// exists, and order is insertion order.
type Comment struct {
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp" format:"date-time"`
}

type Task struct {
	ID         string     `json:"id"`
	BuildingID string     `json:"building_id"`
	Creator    string     `json:"creator"`
	Assignee   *string    `json:"assignee"`
	Status     TaskStatus `json:"status" enum:"open,in_progress,completed,rejected"`
	Summary    string     `json:"summary"`
	Comments   []Comment  `json:"comments"`
	CreatedAt  string     `json:"created_at" format:"date-time"`
	UpdatedAt  string     `json:"updated_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	BuildingID string `json:"building_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
