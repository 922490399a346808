package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porteria/backend/internal/models"
	"github.com/porteria/backend/pkg/apperr"
)

type memProfiles struct {
	byID map[uuid.UUID]models.Profile
}

func (m *memProfiles) Upsert(_ context.Context, p *models.Profile) error {
	if stored, ok := m.byID[p.ID]; ok && p.FullName == "" {
		p.FullName = stored.FullName
	}
	m.byID[p.ID] = *p
	return nil
}

func (m *memProfiles) UpdateName(_ context.Context, id uuid.UUID, fullName string) (*models.Profile, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, apperr.NotFound("Perfil no encontrado")
	}
	p.FullName = fullName
	m.byID[id] = p
	return &p, nil
}

func newProfileServer(store ProfileStore, userID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api", func(c *gin.Context) {
		c.Set(contextUserID, userID)
		c.Set(contextUserEmail, "ana@example.com")
	})
	NewHandler(store, nil).Register(api)
	return r
}

func TestMe_UpsertsProfile(t *testing.T) {
	store := &memProfiles{byID: map[uuid.UUID]models.Profile{}}
	userID := uuid.New()
	r := newProfileServer(store, userID)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ana@example.com", store.byID[userID].Email)

	var body struct {
		Data models.Profile `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, userID, body.Data.ID)
}

func TestUpdateMe(t *testing.T) {
	store := &memProfiles{byID: map[uuid.UUID]models.Profile{}}
	userID := uuid.New()
	r := newProfileServer(store, userID)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/me", strings.NewReader(`{"full_name":"  Ana   Pérez "}`)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Ana Pérez", store.byID[userID].FullName)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/me", strings.NewReader(`{"full_name":"   "}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/me", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
