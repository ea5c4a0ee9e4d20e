package repo

import (
	"context"
	"database/sql"

	"github.com/Anomyking/RP/internal/domain"
)

// Enqueue persists a notification record. The insert is keyed by the
// record's deterministic ID, so re-fanning the same event is a no-op.
func (r Repo) Enqueue(ctx context.Context, n domain.Notification) error {
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO notifications(id,recipient_id,report_id,payload_json,created_at) VALUES (?,?,?,?,?)`,
		n.ID, n.RecipientID, n.ReportID, n.PayloadJSON, n.CreatedAt)
	return err
}

const notificationColumns = `id,recipient_id,report_id,payload_json,created_at,delivered_at,read_at`

func scanNotification(scan func(dest ...any) error) (domain.Notification, error) {
	var n domain.Notification
	var delivered, read sql.NullString
	err := scan(&n.ID, &n.RecipientID, &n.ReportID, &n.PayloadJSON, &n.CreatedAt, &delivered, &read)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	if delivered.Valid {
		v := delivered.String
		n.DeliveredAt = &v
	}
	if read.Valid {
		v := read.String
		n.ReadAt = &v
	}
	return n, nil
}

func (r Repo) GetNotification(ctx context.Context, id string) (domain.Notification, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id=?`, id)
	return scanNotification(row.Scan)
}

// ListUndelivered returns pending records in creation order for
// reconnect catch-up.
func (r Repo) ListUndelivered(ctx context.Context, recipientID string) ([]domain.Notification, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE recipient_id=? AND delivered_at IS NULL ORDER BY created_at ASC, id ASC`, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// NotificationFilters pages a recipient's inbox.
type NotificationFilters struct {
	RecipientID     string
	Unread          bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListNotifications(ctx context.Context, f NotificationFilters) ([]domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE recipient_id=?`
	args := []any{f.RecipientID}
	if f.Unread {
		query += ` AND read_at IS NULL`
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		query += ` AND (created_at > ? OR (created_at = ? AND id > ?))`
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// MarkDelivered stamps the delivery time once; an already-delivered
// record keeps its original timestamp.
func (r Repo) MarkDelivered(ctx context.Context, id, ts string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE notifications SET delivered_at=? WHERE id=? AND delivered_at IS NULL`, ts, id)
	return err
}

// MarkRead acknowledges a notification on behalf of its recipient.
func (r Repo) MarkRead(ctx context.Context, id, recipientID, ts string) (domain.Notification, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read_at=COALESCE(read_at,?) WHERE id=? AND recipient_id=?`, ts, id, recipientID)
	if err != nil {
		return domain.Notification{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Notification{}, err
	}
	if affected == 0 {
		return domain.Notification{}, ErrNotFound
	}
	return r.GetNotification(ctx, id)
}

func collectNotifications(rows *sql.Rows) ([]domain.Notification, error) {
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}
