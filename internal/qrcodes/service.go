// Package qrcodes issues single-use visitor QR codes, validates them at the gate
// and keeps the organization's access log.
package qrcodes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/porteria/backend/internal/models"
	"github.com/porteria/backend/pkg/apperr"
	"github.com/porteria/backend/pkg/metrics"
	"github.com/porteria/backend/pkg/utils"
)

// TokenBytes is the entropy of a QR token before encoding.
const TokenBytes = 32

// LogFilter narrows access-log listings and exports.
type LogFilter struct {
	From      *time.Time
	To        *time.Time
	EntryType models.EntryType
}

// Consumed is a code that was just validated together with its entry log.
type Consumed struct {
	QRCode    models.QRCode    `json:"qr_code"`
	AccessLog models.AccessLog `json:"access_log"`
}

// Store persists codes and access logs.
type Store interface {
	Create(ctx context.Context, code *models.QRCode) error
	GetByToken(ctx context.Context, token string) (*models.QRCode, error)
	Get(ctx context.Context, orgID, id uuid.UUID) (*models.QRCode, error)
	// List returns the organization's codes, only those created by createdBy when set.
	List(ctx context.Context, orgID uuid.UUID, createdBy *uuid.UUID, page utils.Page) ([]models.QRCode, int, error)
	// Revoke moves an unexpired active code owned by userID to revoked. ok is
	// false when no row matched.
	Revoke(ctx context.Context, orgID, id, userID uuid.UUID, now time.Time) (*models.QRCode, bool, error)
	// Consume marks the code used and inserts its entry log in one transaction,
	// but only while it is active, unused and unexpired at now. ok is false when
	// the swap did not happen; nothing is written then.
	Consume(ctx context.Context, token string, orgID, scannedBy uuid.UUID, notes string, now time.Time) (*Consumed, bool, error)
	MarkExpired(ctx context.Context, id uuid.UUID) error
	// LogExit records the exit of a used code. A second exit is an apperr Conflict.
	LogExit(ctx context.Context, orgID, qrID, scannedBy uuid.UUID, notes string) (*models.AccessLog, error)
	ListAccessLogs(ctx context.Context, orgID uuid.UUID, filter LogFilter, page utils.Page) ([]models.AccessLog, int, error)
	EachAccessLog(ctx context.Context, orgID uuid.UUID, filter LogFilter, fn func(models.AccessLog) error) error
}

// Config bounds code lifetimes.
type Config struct {
	DefaultTTL time.Duration
	MaxTTL     time.Duration
}

var (
	errQRNotFound = apperr.NotFound("Código QR no encontrado")
	errQRUsed     = apperr.Conflict("Este código QR ya fue utilizado")
	errQRExpired  = apperr.Gone("El código QR expiró")
	errQRRevoked  = apperr.Gone("El código QR fue revocado")
)

// Service implements the QR lifecycle.
type Service struct {
	store    Store
	exporter *Exporter
	cfg      Config
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a QR service. Exporter and metrics are optional.
func NewService(store Store, exporter *Exporter, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, exporter: exporter, cfg: cfg, metrics: m, logger: logger, now: time.Now}
}

// CreateInput is what a resident provides for a visitor.
type CreateInput struct {
	VisitorName string
	VisitorID   string
	ExpiresAt   *time.Time
}

// Create issues a new active code.
func (s *Service) Create(ctx context.Context, orgID, createdBy uuid.UUID, in CreateInput) (*models.QRCode, error) {
	name := strings.TrimSpace(in.VisitorName)
	if name == "" {
		return nil, apperr.Validation("El nombre del visitante es obligatorio")
	}
	if utf8.RuneCountInString(name) > 200 {
		return nil, apperr.Validation("El nombre del visitante es demasiado largo")
	}
	now := s.now()
	expiresAt := now.Add(s.cfg.DefaultTTL)
	if in.ExpiresAt != nil {
		expiresAt = *in.ExpiresAt
		if !expiresAt.After(now) {
			return nil, apperr.Validation("La fecha de expiración debe ser futura")
		}
		if expiresAt.Sub(now) > s.cfg.MaxTTL {
			return nil, apperr.Validation(fmt.Sprintf("La expiración no puede superar %s", s.cfg.MaxTTL))
		}
	}
	token, err := utils.GenerateToken(TokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate qr token: %w", err)
	}
	code := &models.QRCode{
		Token:          token,
		OrganizationID: orgID,
		CreatedBy:      createdBy,
		Status:         models.QRActive,
		ExpiresAt:      expiresAt.UTC(),
		VisitorName:    name,
		VisitorID:      strings.TrimSpace(in.VisitorID),
	}
	if err := s.store.Create(ctx, code); err != nil {
		return nil, err
	}
	return code, nil
}

// List returns the caller's codes, or every code of the organization for
// members holding qr:view_history. Statuses are reported as of now.
func (s *Service) List(ctx context.Context, m *models.Membership, page utils.Page) (utils.Paginated[models.QRCode], error) {
	var createdBy *uuid.UUID
	if !m.HasPermission(models.PermQRViewHistory) {
		id := m.UserID
		createdBy = &id
	}
	items, total, err := s.store.List(ctx, m.Organization.ID, createdBy, page)
	if err != nil {
		return utils.Paginated[models.QRCode]{}, err
	}
	now := s.now()
	for i := range items {
		items[i].Status = items[i].EffectiveStatus(now)
	}
	return utils.NewPaginated(items, total, page), nil
}

// Revoke cancels one of the caller's active codes.
func (s *Service) Revoke(ctx context.Context, orgID, userID, qrID uuid.UUID) (*models.QRCode, error) {
	now := s.now()
	code, ok, err := s.store.Revoke(ctx, orgID, qrID, userID, now)
	if err != nil {
		return nil, err
	}
	if ok {
		return code, nil
	}
	current, err := s.store.Get(ctx, orgID, qrID)
	if err != nil {
		return nil, err
	}
	if current.CreatedBy != userID {
		return nil, errQRNotFound
	}
	if err := models.QRLifecycle.Transition(current.EffectiveStatus(now), models.QRRevoked); err != nil {
		return nil, apperr.Validation("Solo se pueden revocar códigos activos")
	}
	return nil, fmt.Errorf("qr code %s is active but could not be revoked", current.ID)
}

// Validate admits a visitor: the code becomes used and exactly one entry is
// logged. A code can win this only once, however many guards scan it.
func (s *Service) Validate(ctx context.Context, orgID, scannedBy uuid.UUID, token, notes string) (*Consumed, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errQRNotFound
	}
	now := s.now()
	consumed, ok, err := s.store.Consume(ctx, token, orgID, scannedBy, strings.TrimSpace(notes), now)
	if err != nil {
		return nil, err
	}
	if ok {
		s.count("valid")
		return consumed, nil
	}

	code, err := s.store.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			s.count("not_found")
			return nil, errQRNotFound
		}
		return nil, err
	}
	if code.OrganizationID != orgID {
		s.count("not_found")
		return nil, errQRNotFound
	}
	switch code.EffectiveStatus(now) {
	case models.QRUsed:
		s.count("used")
		return nil, errQRUsed
	case models.QRRevoked:
		s.count("revoked")
		return nil, errQRRevoked
	case models.QRExpired:
		if models.QRLifecycle.CanTransition(code.Status, models.QRExpired) {
			if err := s.store.MarkExpired(ctx, code.ID); err != nil {
				s.logger.Warn("mark qr expired", zap.String("qr_code_id", code.ID.String()), zap.Error(err))
			}
		}
		s.count("expired")
		return nil, errQRExpired
	}
	if err := models.QRLifecycle.Transition(code.EffectiveStatus(now), models.QRUsed); err != nil {
		return nil, fmt.Errorf("qr code %s: %w", code.ID, err)
	}
	return nil, fmt.Errorf("qr code %s is %s but could not be consumed", code.ID, code.Status)
}

// LogExit records a visitor leaving.
func (s *Service) LogExit(ctx context.Context, orgID, scannedBy, qrID uuid.UUID, notes string) (*models.AccessLog, error) {
	return s.store.LogExit(ctx, orgID, qrID, scannedBy, strings.TrimSpace(notes))
}

// AccessLogs lists the organization's gate events, newest first.
func (s *Service) AccessLogs(ctx context.Context, orgID uuid.UUID, filter LogFilter, page utils.Page) (utils.Paginated[models.AccessLog], error) {
	if err := filter.validate(); err != nil {
		return utils.Paginated[models.AccessLog]{}, err
	}
	items, total, err := s.store.ListAccessLogs(ctx, orgID, filter, page)
	if err != nil {
		return utils.Paginated[models.AccessLog]{}, err
	}
	return utils.NewPaginated(items, total, page), nil
}

// Export writes the filtered access log to object storage and returns a download link.
func (s *Service) Export(ctx context.Context, orgID uuid.UUID, filter LogFilter) (*ExportResult, error) {
	if s.exporter == nil {
		return nil, apperr.Validation("La exportación no está configurada")
	}
	if err := filter.validate(); err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, orgID, func(fn func(models.AccessLog) error) error {
		return s.store.EachAccessLog(ctx, orgID, filter, fn)
	})
}

func (f LogFilter) validate() error {
	if f.EntryType != "" && f.EntryType != models.EntryTypeEntry && f.EntryType != models.EntryTypeExit {
		return apperr.Validation("entry_type debe ser entry o exit")
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return apperr.Validation("El rango de fechas es inválido")
	}
	return nil
}

func (s *Service) count(result string) {
	if s.metrics != nil {
		s.metrics.QRValidations.WithLabelValues(result).Inc()
	}
}
