package server

import (
	"encoding/json"

	"upkeep/internal/domain"
)

// Request payloads

type CreateTaskRequest struct {
	BuildingID string  `json:"building_id"`
	Summary    string  `json:"summary"`
	Assignee   *string `json:"assignee,omitempty"`
}

type UpdateTaskRequest struct {
	Status   *domain.TaskStatus `json:"status,omitempty" enum:"open,in_progress,completed,rejected"`
	Assignee *string            `json:"assignee,omitempty"`
}

type AddCommentRequest struct {
	Text string `json:"text"`
}

type DevLoginRequest struct {
	Email string `json:"email" format:"email"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type BuildingResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type UserResponse struct {
	ID         string `json:"id"`
	BuildingID string `json:"building_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Role       string `json:"role" enum:"owner,employee"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type CommentResponse struct {
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp" format:"date-time"`
}

type TaskResponse struct {
	ID         string            `json:"id"`
	BuildingID string            `json:"building_id"`
	Creator    string            `json:"creator"`
	Assignee   *string           `json:"assignee"`
	Status     string            `json:"status" enum:"open,in_progress,completed,rejected"`
	Summary    string            `json:"summary"`
	Comments   []CommentResponse `json:"comments"`
	CreatedAt  string            `json:"created_at" format:"date-time"`
	UpdatedAt  string            `json:"updated_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	BuildingID string         `json:"building_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func buildingResponse(b domain.Building) BuildingResponse {
	return BuildingResponse(b)
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:         u.ID,
		BuildingID: u.BuildingID,
		Name:       u.Name,
		Email:      u.Email,
		Role:       string(u.Role),
		CreatedAt:  u.CreatedAt,
	}
}

func taskResponse(t domain.Task) TaskResponse {
	comments := make([]CommentResponse, 0, len(t.Comments))
	for _, c := range t.Comments {
		comments = append(comments, CommentResponse(c))
	}
	return TaskResponse{
		ID:         t.ID,
		BuildingID: t.BuildingID,
		Creator:    t.Creator,
		Assignee:   t.Assignee,
		Status:     string(t.Status),
		Summary:    t.Summary,
		Comments:   comments,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		BuildingID: e.BuildingID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(strPtr(e.Payload)),
	}
}

func mapBuildings(items []domain.Building) []BuildingResponse {
	res := make([]BuildingResponse, 0, len(items))
	for _, b := range items {
		res = append(res, buildingResponse(b))
	}
	return res
}

func mapUsers(items []domain.User) []UserResponse {
	res := make([]UserResponse, 0, len(items))
	for _, u := range items {
		res = append(res, userResponse(u))
	}
	return res
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw *string) map[string]any {
	if raw == nil || *raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(*raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func strPtr(in string) *string {
	return &in
}
