package chat

import (
	"context"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porteria/backend/pkg/apperr"
)

func newMockRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewRepository(mock), mock
}

func TestRepository_ResolutionRequestNeedsActiveRoleConversation(t *testing.T) {
	repo, mock := newMockRepo(t)
	convID, by := uuid.New(), uuid.New()
	guard := regexp.QuoteMeta("WHERE c.id = $1 AND c.role_id IS NOT NULL AND c.status = 'active'")

	mock.ExpectQuery(guard).WithArgs(convID, by, "").WillReturnRows(pgxmock.NewRows([]string{"id"}))
	_, err := repo.CreateResolutionRequest(context.Background(), convID, by, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	mock.ExpectQuery(guard).WithArgs(convID, by, "listo").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "chat_resolution_requests_one_pending"})
	_, err = repo.CreateResolutionRequest(context.Background(), convID, by, "listo")
	assert.ErrorIs(t, err, apperr.ErrConflict, "the partial unique index allows one pending request")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_DecideOnlyPending(t *testing.T) {
	repo, mock := newMockRepo(t)
	reqID, by := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE r.id = $1 AND r.status = 'pending'")).
		WithArgs(reqID, pgxmock.AnyArg(), by).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := repo.DecideResolution(context.Background(), reqID, by, true)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ArchiveOnlyResolved(t *testing.T) {
	repo, mock := newMockRepo(t)
	convID, by := uuid.New(), uuid.New()

	mock.ExpectQuery("(?s)"+regexp.QuoteMeta("SET status = 'archived'")+".*"+
		regexp.QuoteMeta("WHERE c.id = $1 AND c.status = 'resolved'")).
		WithArgs(convID, by).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := repo.ArchiveConversation(context.Background(), convID, by)
	assert.ErrorIs(t, err, ErrArchiveNotResolved)
	assert.NoError(t, mock.ExpectationsWereMet())
}
