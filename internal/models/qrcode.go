package models

import (
	"time"

	"github.com/google/uuid"
)

// QRStatus is the lifecycle state of a visitor QR code.
type QRStatus string

const (
	QRActive  QRStatus = "active"
	QRUsed    QRStatus = "used"
	QRExpired QRStatus = "expired"
	QRRevoked QRStatus = "revoked"
)

// QRCode is a single-use visitor pass. IsUsed is true exactly when Status is QRUsed.
type QRCode struct {
	ID             uuid.UUID  `json:"id"`
	Token          string     `json:"token"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	CreatedBy      uuid.UUID  `json:"created_by"`
	Status         QRStatus   `json:"status"`
	IsUsed         bool       `json:"is_used"`
	ExpiresAt      time.Time  `json:"expires_at"`
	VisitorName    string     `json:"visitor_name"`
	VisitorID      string     `json:"visitor_id,omitempty"`
	ValidatedAt    *time.Time `json:"validated_at,omitempty"`
	ValidatedBy    *uuid.UUID `json:"validated_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// EffectiveStatus reports the status as seen at now: an active code past its
// expiry reads as expired without any background job having touched the row.
func (q *QRCode) EffectiveStatus(now time.Time) QRStatus {
	if q.Status == QRActive && !now.Before(q.ExpiresAt) {
		return QRExpired
	}
	return q.Status
}

// EntryType distinguishes entries from exits in the access log.
type EntryType string

const (
	EntryTypeEntry EntryType = "entry"
	EntryTypeExit  EntryType = "exit"
)

// AccessLog is an append-only record of a gate event.
type AccessLog struct {
	ID             uuid.UUID `json:"id"`
	QRCodeID       uuid.UUID `json:"qr_code_id"`
	ScannedBy      uuid.UUID `json:"scanned_by"`
	OrganizationID uuid.UUID `json:"organization_id"`
	EntryType      EntryType `json:"entry_type"`
	Timestamp      time.Time `json:"timestamp"`
	Notes          string    `json:"notes,omitempty"`
	VisitorName    string    `json:"visitor_name,omitempty"`
}
