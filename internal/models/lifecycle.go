package models

import "github.com/porteria/backend/pkg/statemachine"

// Lifecycles of the persisted entities. Stores enforce the same rules with
// conditional updates; these let services reject a move before touching the row.
var (
	InvitationLifecycle = statemachine.New[InvitationStatus]("invitation").
				Allow(InvitationPending, InvitationAccepted, InvitationCancelled).
				Allow(InvitationPendingApproval, InvitationAccepted, InvitationRejected)

	QRLifecycle = statemachine.New[QRStatus]("qr_code").
			Allow(QRActive, QRUsed, QRExpired, QRRevoked)

	ConversationLifecycle = statemachine.New[ConversationStatus]("conversation").
				Allow(ConversationActive, ConversationResolved).
				Allow(ConversationResolved, ConversationArchived)

	ResolutionLifecycle = statemachine.New[ResolutionStatus]("resolution_request").
				Allow(ResolutionPending, ResolutionApproved, ResolutionRejected)
)
