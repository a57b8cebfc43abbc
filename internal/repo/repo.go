package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"upkeep/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func (r Repo) InsertBuilding(ctx context.Context, b domain.Building) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO buildings(id,name,created_at) VALUES (?,?,?)`,
		b.ID, b.Name, b.CreatedAt)
	return err
}

func (r Repo) GetBuilding(ctx context.Context, id string) (domain.Building, error) {
	var b domain.Building
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM buildings WHERE id=?`, id).
		Scan(&b.ID, &b.Name, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	return b, err
}

func (r Repo) GetBuildingByName(ctx context.Context, name string) (domain.Building, error) {
	var b domain.Building
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM buildings WHERE name=?`, name).
		Scan(&b.ID, &b.Name, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	return b, err
}

func (r Repo) ListBuildings(ctx context.Context) ([]domain.Building, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM buildings ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Building
	for rows.Next() {
		var b domain.Building
		if err := rows.Scan(&b.ID, &b.Name, &b.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	var role string
	err := row.Scan(&u.ID, &u.BuildingID, &u.Name, &u.Email, &role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	u.Role, err = domain.ParseRole(role)
	return u, err
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,building_id,name,email,role,created_at) VALUES (?,?,?,?,?,?)`,
		u.ID, u.BuildingID, u.Name, u.Email, string(u.Role), u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,building_id,name,email,role,created_at FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,building_id,name,email,role,created_at FROM users WHERE email=?`, email))
}

func (r Repo) UserExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id=?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r Repo) ListUsers(ctx context.Context, buildingID string) ([]domain.User, error) {
	var clauses []string
	var args []any
	if buildingID != "" {
		clauses = append(clauses, "building_id=?")
		args = append(args, buildingID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,building_id,name,email,role,created_at FROM users ` + where + ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		var role string
		if err := rows.Scan(&u.ID, &u.BuildingID, &u.Name, &u.Email, &role, &u.CreatedAt); err != nil {
			return nil, err
		}
		if u.Role, err = domain.ParseRole(role); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,building_id,creator_id,assignee_id,status,summary,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.BuildingID, t.Creator, nullableStringPtr(t.Assignee), string(t.Status), t.Summary, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET assignee_id=?, status=?, summary=?, updated_at=? WHERE id=?`,
		nullableStringPtr(t.Assignee), string(t.Status), t.Summary, t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask removes a task row. Comments go with it via ON DELETE CASCADE.
func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTaskRow(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var assignee sql.NullString
	var status string
	err := scan(&t.ID, &t.BuildingID, &t.Creator, &assignee, &status, &t.Summary, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	if assignee.Valid {
		t.Assignee = &assignee.String
	}
	t.Status, err = domain.ParseTaskStatus(status)
	return t, err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := scanTaskRow(r.DB.QueryRowContext(ctx, `SELECT id,building_id,creator_id,assignee_id,status,summary,created_at,updated_at FROM tasks WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Comments, err = r.ListComments(ctx, t.ID)
	return t, err
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	t, err := scanTaskRow(tx.QueryRowContext(ctx, `SELECT id,building_id,creator_id,assignee_id,status,summary,created_at,updated_at FROM tasks WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Comments, err = r.ListCommentsTx(ctx, tx, t.ID)
	return t, err
}

type TaskFilters struct {
	BuildingID string
	AssigneeID string
	Status     string
	DateFrom   string
	DateTo     string
	Limit      int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.BuildingID != "" {
		clauses = append(clauses, "building_id=?")
		args = append(args, f.BuildingID)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.DateFrom != "" {
		clauses = append(clauses, "created_at>=?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		clauses = append(clauses, "created_at<=?")
		args = append(args, f.DateTo)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,building_id,creator_id,assignee_id,status,summary,created_at,updated_at FROM tasks ` + where + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTaskRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].Comments, err = r.ListComments(ctx, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// AppendComment assigns the next sequence number inside the caller's
// transaction so concurrent appends never overwrite each other.
func (r Repo) AppendComment(ctx context.Context, tx *sql.Tx, taskID string, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_comments(task_id,seq,user_id,text,ts)
VALUES (?, (SELECT COALESCE(MAX(seq),0)+1 FROM task_comments WHERE task_id=?), ?, ?, ?)`,
		taskID, taskID, c.UserID, c.Text, c.Timestamp)
	return err
}

func (r Repo) ListComments(ctx context.Context, taskID string) ([]domain.Comment, error) {
	return listComments(ctx, r.DB.QueryContext, taskID)
}

func (r Repo) ListCommentsTx(ctx context.Context, tx *sql.Tx, taskID string) ([]domain.Comment, error) {
	return listComments(ctx, tx.QueryContext, taskID)
}

func listComments(ctx context.Context, query func(ctx context.Context, q string, args ...any) (*sql.Rows, error), taskID string) ([]domain.Comment, error) {
	rows, err := query(ctx, `SELECT user_id,text,ts FROM task_comments WHERE task_id=? ORDER BY seq ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Comment{}
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.UserID, &c.Text, &c.Timestamp); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) CountTasksByStatus(ctx context.Context, buildingID string) (map[string]int, error) {
	query := `SELECT status, count(*) FROM tasks`
	var args []any
	if buildingID != "" {
		query += ` WHERE building_id=?`
		args = append(args, buildingID)
	}
	query += ` GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, buildingID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, buildingID, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, buildingID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if buildingID != "" {
		clauses = append(clauses, "building_id=?")
		args = append(args, buildingID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,building_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var buildingID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &buildingID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if buildingID.Valid {
			e.BuildingID = buildingID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, buildingID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if buildingID != "" {
		clauses = append(clauses, "building_id=?")
		args = append(args, buildingID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,building_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var buildingID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &buildingID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if buildingID.Valid {
			e.BuildingID = buildingID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID, optionally scoped to a building.
func (r Repo) LatestEventID(ctx context.Context, buildingID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if buildingID != "" {
		query += ` WHERE building_id=?`
		args = append(args, buildingID)
	}
	row := r.DB.QueryRowContext(ctx, query, args...)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

