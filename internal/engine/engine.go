package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"upkeep/internal/config"
	"upkeep/internal/domain"
	"upkeep/internal/engine/auth"
	"upkeep/internal/events"
	"upkeep/internal/repo"
)

// ValidationError reports a request field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

const maxSummaryLen = 255

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// writer returns the event writer stamped with the engine's clock, so an
// injected clock also drives audit-event timestamps.
func (e Engine) writer() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) ListBuildings(ctx context.Context) ([]domain.Building, error) {
	return e.Repo.ListBuildings(ctx)
}

// GetBuilding fetches a building the acting user may view. Missing buildings
// are NotFound; buildings outside the user's own are Forbidden.
func (e Engine) GetBuilding(ctx context.Context, actingUser domain.User, id string) (domain.Building, error) {
	b, err := e.Repo.GetBuilding(ctx, id)
	if err != nil {
		return domain.Building{}, err
	}
	if !auth.CanViewBuilding(actingUser, b.ID) {
		return domain.Building{}, auth.ForbiddenError{Permission: "building.view"}
	}
	return b, nil
}

// TaskFilters narrow ListTasks. Date bounds compare inclusively against
// created_at; filters compose with AND.
type TaskFilters struct {
	AssigneeID string
	DateFrom   string
	DateTo     string
}

// ListTasks returns tasks matching the filters in creation order. Listing is
// not scoped to the acting user's building.
func (e Engine) ListTasks(ctx context.Context, actingUser domain.User, f TaskFilters) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, repo.TaskFilters{
		AssigneeID: f.AssigneeID,
		DateFrom:   f.DateFrom,
		DateTo:     f.DateTo,
	})
}

func (e Engine) GetTask(ctx context.Context, actingUser domain.User, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id)
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	BuildingID string
	Summary    string
	AssigneeID string
}

// CreateTask creates an open task with an empty comment sequence. The
// authorization check runs before body validation so a non-owner gets
// Forbidden even for an invalid payload.
func (e Engine) CreateTask(ctx context.Context, actingUser domain.User, opts TaskCreateOptions) (domain.Task, error) {
	if !auth.CanCreateTask(actingUser, opts.BuildingID) {
		return domain.Task{}, auth.ForbiddenError{Permission: "task.create"}
	}
	if _, err := e.Repo.GetBuilding(ctx, opts.BuildingID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Task{}, ValidationError{Field: "building_id", Message: "building does not exist"}
		}
		return domain.Task{}, err
	}
	summary := strings.TrimSpace(opts.Summary)
	if summary == "" {
		return domain.Task{}, ValidationError{Field: "summary", Message: "summary is required"}
	}
	if utf8.RuneCountInString(summary) > maxSummaryLen {
		return domain.Task{}, ValidationError{Field: "summary", Message: fmt.Sprintf("summary must be at most %d characters", maxSummaryLen)}
	}
	if opts.AssigneeID != "" {
		ok, err := e.Repo.UserExists(ctx, opts.AssigneeID)
		if err != nil {
			return domain.Task{}, err
		}
		if !ok {
			return domain.Task{}, ValidationError{Field: "assignee", Message: "assignee does not exist"}
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:         uuid.New().String(),
		BuildingID: opts.BuildingID,
		Creator:    actingUser.ID,
		Assignee:   optionalString(opts.AssigneeID),
		Status:     domain.StatusOpen,
		Summary:    summary,
		Comments:   []domain.Comment{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.writer().Append(ctx, tx, "task.created", t.BuildingID, "task", t.ID, actingUser.ID, events.EventPayload{
		"summary": t.Summary,
		"status":  string(t.Status),
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskUpdateOptions encapsulates the mutable task fields. A nil pointer means
// the field was absent from the patch; an Assignee pointing at the empty
// string clears the assignee.
type TaskUpdateOptions struct {
	Status   *domain.TaskStatus
	Assignee *string
}

// UpdateTask applies a partial update to status and assignee. Other fields
// are immutable through this operation.
func (e Engine) UpdateTask(ctx context.Context, actingUser domain.User, id string, opts TaskUpdateOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return t, err
	}
	if !auth.CanUpdateTask(actingUser, t) {
		return t, auth.ForbiddenError{Permission: "task.update"}
	}
	original := t
	if opts.Status != nil {
		t.Status = *opts.Status
	}
	if opts.Assignee != nil {
		if *opts.Assignee == "" {
			t.Assignee = nil
		} else {
			ok, err := e.Repo.UserExists(ctx, *opts.Assignee)
			if err != nil {
				return t, err
			}
			if !ok {
				return t, ValidationError{Field: "assignee", Message: "assignee does not exist"}
			}
			t.Assignee = opts.Assignee
		}
	}
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.writer().Append(ctx, tx, "task.updated", t.BuildingID, "task", t.ID, actingUser.ID, events.EventPayload{
		"from_status": string(original.Status),
		"to_status":   string(t.Status),
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// DeleteTask removes a task permanently.
func (e Engine) DeleteTask(ctx context.Context, actingUser domain.User, id string) error {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if !auth.CanDeleteTask(actingUser, t) {
		return auth.ForbiddenError{Permission: "task.delete"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return err
	}
	if err := e.writer().Append(ctx, tx, "task.deleted", t.BuildingID, "task", t.ID, actingUser.ID, events.EventPayload{}); err != nil {
		return err
	}
	return tx.Commit()
}

// AddComment appends a comment to a task's sequence and returns the updated
// task. The append happens inside one transaction so concurrent comments
// never lose each other.
func (e Engine) AddComment(ctx context.Context, actingUser domain.User, taskID, text string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if !auth.CanComment(actingUser, t) {
		return t, auth.ForbiddenError{Permission: "task.comment"}
	}
	if strings.TrimSpace(text) == "" {
		return t, ValidationError{Field: "text", Message: "text is required"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	c := domain.Comment{
		UserID:    actingUser.ID,
		Text:      text,
		Timestamp: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	if err := e.Repo.AppendComment(ctx, tx, t.ID, c); err != nil {
		return t, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET updated_at=? WHERE id=?`, now, t.ID); err != nil {
		return t, err
	}
	if err := e.writer().Append(ctx, tx, "comment.added", t.BuildingID, "task", t.ID, actingUser.ID, events.EventPayload{"text": text}); err != nil {
		return t, err
	}
	updated, err := e.Repo.GetTaskTx(ctx, tx, t.ID)
	if err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return updated, nil
}

func (e Engine) ListUsers(ctx context.Context, buildingID string) ([]domain.User, error) {
	return e.Repo.ListUsers(ctx, buildingID)
}

// SeedOptions bootstrap a building with its initial users. Seeding is
// idempotent on building name and user emails.
type SeedOptions struct {
	BuildingName string
	Users        []SeedUser
}

type SeedUser struct {
	Name  string
	Email string
	Role  domain.Role
}

// Seed ensures the configured building and users exist.
func (e Engine) Seed(ctx context.Context, opts SeedOptions) (domain.Building, error) {
	if opts.BuildingName == "" {
		return domain.Building{}, ValidationError{Field: "building", Message: "building name is required"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	b, err := e.Repo.GetBuildingByName(ctx, opts.BuildingName)
	if errors.Is(err, repo.ErrNotFound) {
		b = domain.Building{ID: uuid.New().String(), Name: opts.BuildingName, CreatedAt: now}
		if err := e.Repo.InsertBuilding(ctx, b); err != nil {
			return domain.Building{}, err
		}
	} else if err != nil {
		return domain.Building{}, err
	}
	for _, su := range opts.Users {
		if _, err := e.Repo.GetUserByEmail(ctx, su.Email); err == nil {
			continue
		} else if !errors.Is(err, repo.ErrNotFound) {
			return domain.Building{}, err
		}
		u := domain.User{
			ID:         uuid.New().String(),
			BuildingID: b.ID,
			Name:       su.Name,
			Email:      su.Email,
			Role:       su.Role,
			CreatedAt:  now,
		}
		if err := e.Repo.InsertUser(ctx, u); err != nil {
			return domain.Building{}, err
		}
	}
	return b, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
