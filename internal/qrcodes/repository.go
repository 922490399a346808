package qrcodes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/porteria/backend/internal/models"
	"github.com/porteria/backend/pkg/apperr"
	"github.com/porteria/backend/pkg/database"
	"github.com/porteria/backend/pkg/utils"
)

// Repository is the PostgreSQL Store.
type Repository struct {
	pool database.DB
}

// NewRepository creates a QR repository.
func NewRepository(pool database.DB) *Repository {
	return &Repository{pool: pool}
}

const codeColumns = `q.id, q.token, q.organization_id, q.created_by, q.status, q.is_used, q.expires_at,
	q.visitor_name, COALESCE(q.visitor_id, ''), q.validated_at, q.validated_by, q.created_at`

func scanCode(row pgx.Row) (*models.QRCode, error) {
	var q models.QRCode
	err := row.Scan(&q.ID, &q.Token, &q.OrganizationID, &q.CreatedBy, &q.Status, &q.IsUsed, &q.ExpiresAt,
		&q.VisitorName, &q.VisitorID, &q.ValidatedAt, &q.ValidatedBy, &q.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// Create inserts an active code and fills its id and created_at.
func (r *Repository) Create(ctx context.Context, code *models.QRCode) error {
	err := r.pool.QueryRow(ctx, `INSERT INTO qr_codes (token, organization_id, created_by, expires_at, visitor_name, visitor_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING id, status, is_used, created_at`,
		code.Token, code.OrganizationID, code.CreatedBy, code.ExpiresAt, code.VisitorName, code.VisitorID,
	).Scan(&code.ID, &code.Status, &code.IsUsed, &code.CreatedAt)
	return apperr.FromDB(err, "Organización no encontrada")
}

// GetByToken returns the code with token in any organization.
func (r *Repository) GetByToken(ctx context.Context, token string) (*models.QRCode, error) {
	code, err := scanCode(r.pool.QueryRow(ctx, `SELECT `+codeColumns+` FROM qr_codes q WHERE q.token = $1`, token))
	if err != nil {
		return nil, apperr.FromDB(err, "Código QR no encontrado")
	}
	return code, nil
}

// Get returns a code of the organization.
func (r *Repository) Get(ctx context.Context, orgID, id uuid.UUID) (*models.QRCode, error) {
	code, err := scanCode(r.pool.QueryRow(ctx, `SELECT `+codeColumns+` FROM qr_codes q
		WHERE q.id = $1 AND q.organization_id = $2`, id, orgID))
	if err != nil {
		return nil, apperr.FromDB(err, "Código QR no encontrado")
	}
	return code, nil
}

// List returns codes newest first.
func (r *Repository) List(ctx context.Context, orgID uuid.UUID, createdBy *uuid.UUID, page utils.Page) ([]models.QRCode, int, error) {
	const where = `q.organization_id = $1 AND ($2::uuid IS NULL OR q.created_by = $2)`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM qr_codes q WHERE `+where, orgID, createdBy).Scan(&total); err != nil {
		return nil, 0, apperr.FromDB(err, "")
	}
	rows, err := r.pool.Query(ctx, `SELECT `+codeColumns+` FROM qr_codes q WHERE `+where+`
		ORDER BY q.created_at DESC LIMIT $3 OFFSET $4`, orgID, createdBy, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, apperr.FromDB(err, "")
	}
	defer rows.Close()
	var list []models.QRCode
	for rows.Next() {
		code, err := scanCode(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, *code)
	}
	return list, total, rows.Err()
}

// Revoke cancels an unexpired active code owned by userID.
func (r *Repository) Revoke(ctx context.Context, orgID, id, userID uuid.UUID, now time.Time) (*models.QRCode, bool, error) {
	code, err := scanCode(r.pool.QueryRow(ctx, `UPDATE qr_codes AS q SET status = 'revoked'
		WHERE q.id = $1 AND q.organization_id = $2 AND q.created_by = $3
		AND q.status = 'active' AND q.expires_at > $4
		RETURNING `+codeColumns, id, orgID, userID, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.FromDB(err, "Código QR no encontrado")
	}
	return code, true, nil
}

// Consume swaps active to used and appends the entry log in the same transaction.
func (r *Repository) Consume(ctx context.Context, token string, orgID, scannedBy uuid.UUID, notes string, now time.Time) (*Consumed, bool, error) {
	var out *Consumed
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		code, err := scanCode(tx.QueryRow(ctx, `UPDATE qr_codes AS q
			SET status = 'used', is_used = true, validated_at = $4, validated_by = $3
			WHERE q.token = $1 AND q.organization_id = $2
			AND q.status = 'active' AND NOT q.is_used AND q.expires_at > $4
			RETURNING `+codeColumns, token, orgID, scannedBy, now))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return apperr.FromDB(err, "Código QR no encontrado")
		}
		log := models.AccessLog{
			QRCodeID:       code.ID,
			ScannedBy:      scannedBy,
			OrganizationID: orgID,
			EntryType:      models.EntryTypeEntry,
			Notes:          notes,
			VisitorName:    code.VisitorName,
		}
		err = tx.QueryRow(ctx, `INSERT INTO access_logs (qr_code_id, scanned_by, organization_id, entry_type, "timestamp", notes)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
			RETURNING id, "timestamp"`,
			log.QRCodeID, log.ScannedBy, log.OrganizationID, log.EntryType, now, log.Notes,
		).Scan(&log.ID, &log.Timestamp)
		if err != nil {
			return apperr.FromDB(err, "")
		}
		out = &Consumed{QRCode: *code, AccessLog: log}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

// MarkExpired records the derived expiry of an active code.
func (r *Repository) MarkExpired(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE qr_codes SET status = 'expired'
		WHERE id = $1 AND status = 'active' AND expires_at <= now()`, id)
	return apperr.FromDB(err, "")
}

// LogExit appends the exit of a used code.
func (r *Repository) LogExit(ctx context.Context, orgID, qrID, scannedBy uuid.UUID, notes string) (*models.AccessLog, error) {
	var log *models.AccessLog
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var status models.QRStatus
		var visitor string
		err := tx.QueryRow(ctx, `SELECT status, visitor_name FROM qr_codes
			WHERE id = $1 AND organization_id = $2 FOR SHARE`, qrID, orgID).Scan(&status, &visitor)
		if err != nil {
			return apperr.FromDB(err, "Código QR no encontrado")
		}
		if status != models.QRUsed {
			return apperr.Validation("El visitante aún no registra su entrada")
		}
		l := models.AccessLog{
			QRCodeID:       qrID,
			ScannedBy:      scannedBy,
			OrganizationID: orgID,
			EntryType:      models.EntryTypeExit,
			Notes:          notes,
			VisitorName:    visitor,
		}
		err = tx.QueryRow(ctx, `INSERT INTO access_logs (qr_code_id, scanned_by, organization_id, entry_type, notes)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''))
			RETURNING id, "timestamp"`,
			l.QRCodeID, l.ScannedBy, l.OrganizationID, l.EntryType, l.Notes,
		).Scan(&l.ID, &l.Timestamp)
		if err != nil {
			if apperr.IsUniqueViolation(err) {
				return apperr.Conflict("La salida de este visitante ya fue registrada")
			}
			return apperr.FromDB(err, "")
		}
		log = &l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return log, nil
}

const logSelect = `SELECT l.id, l.qr_code_id, l.scanned_by, l.organization_id, l.entry_type, l."timestamp",
	COALESCE(l.notes, ''), q.visitor_name
	FROM access_logs l JOIN qr_codes q ON q.id = l.qr_code_id`

func logWhere(orgID uuid.UUID, f LogFilter) (string, []any) {
	conds := []string{"l.organization_id = $1"}
	args := []any{orgID}
	if f.From != nil {
		args = append(args, *f.From)
		conds = append(conds, fmt.Sprintf(`l."timestamp" >= $%d`, len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		conds = append(conds, fmt.Sprintf(`l."timestamp" < $%d`, len(args)))
	}
	if f.EntryType != "" {
		args = append(args, f.EntryType)
		conds = append(conds, fmt.Sprintf(`l.entry_type = $%d`, len(args)))
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanLog(row pgx.Row) (models.AccessLog, error) {
	var l models.AccessLog
	err := row.Scan(&l.ID, &l.QRCodeID, &l.ScannedBy, &l.OrganizationID, &l.EntryType, &l.Timestamp, &l.Notes, &l.VisitorName)
	return l, err
}

// ListAccessLogs returns a page of gate events, newest first.
func (r *Repository) ListAccessLogs(ctx context.Context, orgID uuid.UUID, filter LogFilter, page utils.Page) ([]models.AccessLog, int, error) {
	where, args := logWhere(orgID, filter)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM access_logs l`+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.FromDB(err, "")
	}
	n := len(args)
	q := logSelect + where + fmt.Sprintf(` ORDER BY l."timestamp" DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	rows, err := r.pool.Query(ctx, q, append(args, page.Limit, page.Offset())...)
	if err != nil {
		return nil, 0, apperr.FromDB(err, "")
	}
	defer rows.Close()
	var list []models.AccessLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, l)
	}
	return list, total, rows.Err()
}

// EachAccessLog streams every matching event in chronological order.
func (r *Repository) EachAccessLog(ctx context.Context, orgID uuid.UUID, filter LogFilter, fn func(models.AccessLog) error) error {
	where, args := logWhere(orgID, filter)
	rows, err := r.pool.Query(ctx, logSelect+where+` ORDER BY l."timestamp"`, args...)
	if err != nil {
		return apperr.FromDB(err, "")
	}
	defer rows.Close()
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return err
		}
		if err := fn(l); err != nil {
			return err
		}
	}
	return rows.Err()
}
