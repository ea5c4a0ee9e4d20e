package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Anomyking/RP/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- principals ---

func (r Repo) InsertPrincipal(ctx context.Context, p domain.Principal) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO principals(id,name,email,role,password_hash,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Name, strings.ToLower(p.Email), string(p.Role), p.PasswordHash, p.CreatedAt)
	return err
}

func scanPrincipal(row *sql.Row) (domain.Principal, error) {
	var p domain.Principal
	var role string
	err := row.Scan(&p.ID, &p.Name, &p.Email, &role, &p.PasswordHash, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	p.Role = domain.Role(role)
	return p, err
}

func (r Repo) GetPrincipal(ctx context.Context, id string) (domain.Principal, error) {
	return scanPrincipal(r.DB.QueryRowContext(ctx, `SELECT id,name,email,role,password_hash,created_at FROM principals WHERE id=?`, id))
}

func (r Repo) GetPrincipalByEmail(ctx context.Context, email string) (domain.Principal, error) {
	return scanPrincipal(r.DB.QueryRowContext(ctx, `SELECT id,name,email,role,password_hash,created_at FROM principals WHERE email=?`, strings.ToLower(email)))
}

func (r Repo) ListPrincipals(ctx context.Context, role domain.Role) ([]domain.Principal, error) {
	query := `SELECT id,name,email,role,password_hash,created_at FROM principals`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, string(role))
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Principal
	for rows.Next() {
		var p domain.Principal
		var roleCol string
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &roleCol, &p.PasswordHash, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Role = domain.Role(roleCol)
		res = append(res, p)
	}
	return res, rows.Err()
}

// SuperadminIDs returns the escalation pool for broadcast fan-out.
func (r Repo) SuperadminIDs(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM principals WHERE role=? ORDER BY id`, string(domain.RoleSuperadmin))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- reports ---

func (r Repo) InsertReportTx(ctx context.Context, tx *sql.Tx, rep domain.Report) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reports(id,owner_id,title,description,category,status,assigned_to,version,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rep.ID, rep.OwnerID, rep.Title, rep.Description, nullable(rep.Category), string(rep.Status), nullableStrPtr(rep.AssignedTo), rep.Version, rep.CreatedAt, rep.UpdatedAt)
	return err
}

func scanReport(scan func(dest ...any) error) (domain.Report, error) {
	var rep domain.Report
	var category, assignedTo sql.NullString
	var status string
	err := scan(&rep.ID, &rep.OwnerID, &rep.Title, &rep.Description, &category, &status, &assignedTo, &rep.Version, &rep.CreatedAt, &rep.UpdatedAt)
	if err == sql.ErrNoRows {
		return rep, ErrNotFound
	}
	if err != nil {
		return rep, err
	}
	rep.Status = domain.Status(status)
	if category.Valid {
		rep.Category = category.String
	}
	if assignedTo.Valid {
		assignee := assignedTo.String
		rep.AssignedTo = &assignee
	}
	return rep, nil
}

const reportColumns = `id,owner_id,title,description,category,status,assigned_to,version,created_at,updated_at`

func (r Repo) GetReport(ctx context.Context, id string) (domain.Report, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id=?`, id)
	return scanReport(row.Scan)
}

// ReportFilters narrows and pages report listings.
type ReportFilters struct {
	OwnerID         string
	Status          string
	AssignedTo      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListReports(ctx context.Context, f ReportFilters) ([]domain.Report, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at > ? OR (created_at = ? AND id > ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM reports WHERE %s ORDER BY created_at ASC, id ASC LIMIT ?`, reportColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Report
	for rows.Next() {
		rep, err := scanReport(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}

// ApplyTransitionTx commits the status change on an optimistic version
// check. It reports false when another transition won the race.
func (r Repo) ApplyTransitionTx(ctx context.Context, tx *sql.Tx, rep domain.Report, expectedVersion int) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE reports SET status=?, assigned_to=?, version=?, updated_at=? WHERE id=? AND version=?`,
		string(rep.Status), nullableStrPtr(rep.AssignedTo), rep.Version, rep.UpdatedAt, rep.ID, expectedVersion)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r Repo) InsertTransitionTx(ctx context.Context, tx *sql.Tx, t domain.Transition) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO report_history(report_id,seq,from_status,to_status,actor_id,ts) VALUES (?,?,?,?,?,?)`,
		t.ReportID, t.Seq, string(t.FromStatus), string(t.ToStatus), t.ActorID, t.TS)
	return err
}

// ListHistory returns the report's transition trail in commit order.
func (r Repo) ListHistory(ctx context.Context, reportID string) ([]domain.Transition, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT report_id,seq,from_status,to_status,actor_id,ts FROM report_history WHERE report_id=? ORDER BY seq ASC`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Transition
	for rows.Next() {
		var t domain.Transition
		var from, to string
		if err := rows.Scan(&t.ReportID, &t.Seq, &from, &to, &t.ActorID, &t.TS); err != nil {
			return nil, err
		}
		t.FromStatus = domain.Status(from)
		t.ToStatus = domain.Status(to)
		res = append(res, t)
	}
	return res, rows.Err()
}

// --- events ---

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE %s ORDER BY id ASC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStrPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
