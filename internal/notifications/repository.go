package notifications

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/porteria/backend/internal/models"
	"github.com/porteria/backend/pkg/apperr"
	"github.com/porteria/backend/pkg/utils"
)

// Repository handles notifications persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a notifications repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const notificationSelect = `SELECT id, user_id, organization_id, kind, title, body, data, read_at, created_at FROM notifications`

func scanNotification(row pgx.Row) (*models.Notification, error) {
	var n models.Notification
	if err := row.Scan(&n.ID, &n.UserID, &n.OrganizationID, &n.Kind, &n.Title, &n.Body, &n.Data, &n.ReadAt, &n.CreatedAt); err != nil {
		return nil, err
	}
	return &n, nil
}

// Create inserts a notification with a caller-chosen id. It reports false when
// the id already exists, so a retried job does not notify twice.
func (r *Repository) Create(ctx context.Context, n *models.Notification) (bool, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO notifications (id, user_id, organization_id, kind, title, body, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at`,
		n.ID, n.UserID, n.OrganizationID, n.Kind, n.Title, n.Body, n.Data,
	).Scan(&n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.FromDB(err, "")
	}
	return true, nil
}

// List returns the user's notifications, newest first, with the total and unread counts.
func (r *Repository) List(ctx context.Context, userID uuid.UUID, unreadOnly bool, page utils.Page) ([]models.Notification, int, int, error) {
	var total, unread int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FILTER (WHERE NOT $2 OR read_at IS NULL), count(*) FILTER (WHERE read_at IS NULL)
		FROM notifications WHERE user_id = $1`, userID, unreadOnly).Scan(&total, &unread)
	if err != nil {
		return nil, 0, 0, apperr.FromDB(err, "")
	}
	rows, err := r.pool.Query(ctx, notificationSelect+`
		WHERE user_id = $1 AND (NOT $2 OR read_at IS NULL)
		ORDER BY created_at DESC, id LIMIT $3 OFFSET $4`, userID, unreadOnly, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, 0, apperr.FromDB(err, "")
	}
	defer rows.Close()
	list := []models.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, 0, err
		}
		list = append(list, *n)
	}
	return list, total, unread, rows.Err()
}

// MarkRead marks one of the user's notifications as read. Reading twice keeps the first read_at.
func (r *Repository) MarkRead(ctx context.Context, userID, id uuid.UUID) (*models.Notification, error) {
	n, err := scanNotification(r.pool.QueryRow(ctx, `UPDATE notifications SET read_at = COALESCE(read_at, now())
		WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, organization_id, kind, title, body, data, read_at, created_at`, id, userID))
	if err != nil {
		return nil, apperr.FromDB(err, "Notificación no encontrada")
	}
	return n, nil
}

// MarkAllRead marks every unread notification of the user and returns how many changed.
func (r *Repository) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE notifications SET read_at = now() WHERE user_id = $1 AND read_at IS NULL`, userID)
	if err != nil {
		return 0, apperr.FromDB(err, "")
	}
	return tag.RowsAffected(), nil
}
