package chat

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porteria/backend/internal/access"
	"github.com/porteria/backend/internal/models"
	"github.com/porteria/backend/pkg/response"
)

func resolveRouter(f *fixture, caller Caller) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(f.svc, nil)
	r := gin.New()
	r.POST("/organizations/:id/chat/conversations/:cid/resolve", func(c *gin.Context) {
		c.Set(access.ContextMembership, &models.Membership{UserID: caller.UserID, Role: models.OrganizationRole{ID: caller.RoleID}})
	}, h.RequestResolution)
	return r
}

func postResolve(r *gin.Engine, orgPath, convPath, body string) (*httptest.ResponseRecorder, response.Body) {
	req := httptest.NewRequest(http.MethodPost, "/organizations/"+orgPath+"/chat/conversations/"+convPath+"/resolve", strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var out response.Body
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestRequestResolutionHandler_Body(t *testing.T) {
	f := newFixture(t)
	resident := f.store.addMember(models.RoleResident)
	f.store.addMember(models.RoleSecurity)
	r := resolveRouter(f, resident)
	org := f.store.orgID.String()

	cases := []struct {
		name string
		body string
	}{
		{"malformed", `{"resolution_note":`},
		{"wrong type", `{"resolution_note": 5}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conv := f.openRoleConversation(t, resident)
			w, out := postResolve(r, org, conv.ID.String(), tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.True(t, out.Error)
			assert.Empty(t, f.store.requests, "no request is opened from a rejected body")
		})
	}

	conv := f.openRoleConversation(t, resident)
	w, out := postResolve(r, org, conv.ID.String(), "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.False(t, out.Error)
	assert.Len(t, f.store.requests, 1, "the note is optional")
}
