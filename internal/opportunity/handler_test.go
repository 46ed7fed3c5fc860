package opportunity

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"OpportunityFinder/internal/auth"
	"OpportunityFinder/pkg/apperrors"
	"OpportunityFinder/pkg/middleware"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*echo.Echo, *fixture) {
	t.Helper()
	f := newFixture(t)
	h := NewHandler(f.svc)

	e := echo.New()
	e.Validator = middleware.NewValidator()
	e.HTTPErrorHandler = middleware.ErrorHandler
	g := e.Group("/api", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if email := c.Request().Header.Get("X-Test-User"); email != "" {
				c.Set(auth.ContextKey, &auth.JWTClaims{Email: email, Name: strings.Split(email, "@")[0], Access: auth.AccessMember})
			}
			return next(c)
		}
	})
	g.POST("/opportunities", h.Create)
	g.GET("/opportunities", h.List)
	g.GET("/opportunities/mine", h.ListOwned)
	g.GET("/opportunities/applied", h.ListApplied)
	g.GET("/opportunities/:id", h.Get)
	g.PUT("/opportunities/:id", h.Update)
	g.POST("/opportunities/:id/apply", h.Apply)
	g.POST("/opportunities/:id/not-interested", h.NotInterested)
	g.POST("/opportunities/:id/decisions", h.Decide)
	g.GET("/opportunities/:id/decisions/:email/sync", h.SyncStatus)
	g.POST("/opportunities/:id/close", h.Close)
	g.POST("/opportunities/:id/reopen", h.Reopen)
	g.GET("/admin/decision-syncs", h.ListSyncs)
	g.POST("/admin/decision-syncs/:id/retry", h.RetrySync)
	return e, f
}

func send(e *echo.Echo, method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

const createBody = `{"title":"Go Intern","description":"Build services","type":"internship","domain":"backend",
"start_date":"2026-04-01","end_date":"2026-06-30","hours_per_week":20,"skills":["go"]}`

func TestOpportunityHandlersLifecycle(t *testing.T) {
	e, f := newTestServer(t)

	rec := send(e, http.MethodPost, "/api/opportunities", "a@x.com", createBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created.ID

	f.notifier.On("NotifyNewApplication", mock.Anything, "a@x.com", "b", id, "Go Intern").Return(nil)
	rec = send(e, http.MethodPost, "/api/opportunities/"+id+"/apply", "b@x.com", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var applied ApplyResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &applied))
	assert.True(t, applied.Applied)

	f.notifier.On("NotifyApplicationAccepted", mock.Anything, "b@x.com", id, "Go Intern").Return(nil)
	rec = send(e, http.MethodPost, "/api/opportunities/"+id+"/decisions", "a@x.com",
		`{"applicant_email":"b@x.com","decision":"accept"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var decided DecisionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decided))
	assert.Equal(t, SyncPending, decided.Sync.State)
	f.waitSyncs(t)

	rec = send(e, http.MethodGet, "/api/opportunities/"+id+"/decisions/b@x.com/sync", "b@x.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"synced"`)

	rec = send(e, http.MethodGet, "/api/opportunities/"+id, "a@x.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"application_statuses":{"b@x.com":"accepted"}`)
	assert.Contains(t, rec.Body.String(), `"posted_by":"Ada"`)

	rec = send(e, http.MethodGet, "/api/opportunities/applied", "b@x.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var mine []View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mine))
	require.Len(t, mine, 1)

	f.notifier.On("NotifyOpportunityClosed", mock.Anything, "b@x.com", id, "Go Intern").Return(nil)
	rec = send(e, http.MethodPost, "/api/opportunities/"+id+"/close", "a@x.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"closed"`)

	rec = send(e, http.MethodGet, "/api/opportunities?status=closed", "c@x.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var closed []View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &closed))
	require.Len(t, closed, 1)
	assert.Empty(t, closed[0].Applied)
}

func TestListHandlerQueryFilters(t *testing.T) {
	e, _ := newTestServer(t)
	rec := send(e, http.MethodPost, "/api/opportunities", "a@x.com", createBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = send(e, http.MethodPost, "/api/opportunities/"+created.ID+"/not-interested", "b@x.com", "")
	require.Equal(t, http.StatusOK, rec.Code)

	count := func(path string) int {
		rec := send(e, http.MethodGet, path, "b@x.com", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var views []View
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
		return len(views)
	}
	assert.Equal(t, 0, count("/api/opportunities"))
	assert.Equal(t, 1, count("/api/opportunities?show_not_interested=true"))
	assert.Equal(t, 1, count("/api/opportunities?status=not_interested"))
	assert.Equal(t, 0, count("/api/opportunities?status=applied"))

	rec = send(e, http.MethodGet, "/api/opportunities?status=archived", "b@x.com", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOpportunityHandlerErrors(t *testing.T) {
	e, f := newTestServer(t)
	rec := send(e, http.MethodPost, "/api/opportunities", "a@x.com", createBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	f.notifier.On("NotifyNewApplication", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   string
		status int
		code   apperrors.ErrorCode
	}{
		{"missing identity", http.MethodGet, "/api/opportunities", "", "", http.StatusUnauthorized, apperrors.CodeUnauthorized},
		{"invalid body", http.MethodPost, "/api/opportunities", "a@x.com", `{"title":`, http.StatusBadRequest, apperrors.CodeValidationFailed},
		{"invalid fields", http.MethodPost, "/api/opportunities", "a@x.com", `{"title":"x"}`, http.StatusBadRequest, apperrors.CodeValidationFailed},
		{"unknown opportunity", http.MethodGet, "/api/opportunities/000000000000000000000000", "a@x.com", "", http.StatusNotFound, apperrors.CodeNotFound},
		{"owner applies", http.MethodPost, "/api/opportunities/" + created.ID + "/apply", "a@x.com", "", http.StatusBadRequest, apperrors.CodeInvalidOperation},
		{"stranger closes", http.MethodPost, "/api/opportunities/" + created.ID + "/close", "b@x.com", "", http.StatusForbidden, apperrors.CodeForbidden},
		{"decision verb", http.MethodPost, "/api/opportunities/" + created.ID + "/decisions", "a@x.com",
			`{"applicant_email":"b@x.com","decision":"maybe"}`, http.StatusBadRequest, apperrors.CodeValidationFailed},
		{"bad sync state", http.MethodGet, "/api/admin/decision-syncs?state=lost", "a@x.com", "", http.StatusBadRequest, apperrors.CodeValidationFailed},
		{"retry unknown sync", http.MethodPost, "/api/admin/decision-syncs/nope/retry", "a@x.com", "", http.StatusNotFound, apperrors.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := send(e, tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			var body middleware.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
		})
	}
}
