package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/resolveit/platform/internal/blob"
	"github.com/resolveit/platform/internal/case/domain"
	"github.com/resolveit/platform/internal/case/infrastructure"
	"github.com/resolveit/platform/internal/case/query"
	"github.com/resolveit/platform/internal/case/workflow"
	"github.com/resolveit/platform/internal/realtime"
	"github.com/resolveit/platform/internal/shared/auth"
	"github.com/resolveit/platform/internal/shared/config"
	"github.com/resolveit/platform/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type testServer struct {
	*httptest.Server
	repo  *infrastructure.MemoryRepository
	hub   *realtime.Hub
	owner auth.User
	other auth.User
	admin auth.User
}

func newTestServer(t *testing.T, repo domain.Repository) *testServer {
	t.Helper()
	mem := infrastructure.NewMemoryRepository()
	priya := mem.PutUser(domain.User{Name: "Priya Sharma", Email: "priya.sharma@example.com", Role: domain.RoleUser})
	amit := mem.PutUser(domain.User{Name: "Amit Patel", Email: "amit.patel@example.com", Role: domain.RoleUser})
	admin := mem.PutUser(domain.User{Name: "Admin User", Email: "admin@resolveit.com", Role: domain.RoleAdmin})
	if repo == nil {
		repo = mem
	}

	logger := zap.NewNop()
	blobs, err := blob.NewLocalStore(t.TempDir(), "/uploads")
	require.NoError(t, err)

	hub := realtime.NewHub(16, logger)
	t.Cleanup(hub.Close)

	engine := workflow.NewEngine(repo, hub, nil, logger)
	registrar := workflow.NewRegistrar(repo, blobs, hub, nil, logger)
	h := NewHandler(engine, registrar, query.NewService(repo), nil, logger)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(config.AuthConfig{JWTSecret: testSecret}))
		r.Mount("/cases", h.Routes())
		r.Mount("/admin", h.AdminRoutes())
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testServer{
		Server: srv,
		repo:   mem,
		hub:    hub,
		owner:  auth.User{ID: priya.ID, Role: auth.RoleUser},
		other:  auth.User{ID: amit.ID, Role: auth.RoleUser},
		admin:  auth.User{ID: admin.ID, Role: auth.RoleAdmin},
	}
}

func (s *testServer) do(t *testing.T, user *auth.User, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return s.send(t, user, req)
}

func (s *testServer) send(t *testing.T, user *auth.User, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	if user != nil {
		token, err := auth.IssueToken(testSecret, *user, jwt.RegisteredClaims{})
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded any
	json.NewDecoder(resp.Body).Decode(&decoded)
	if m, ok := decoded.(map[string]any); ok {
		return resp, m
	}
	return resp, map[string]any{"items": decoded}
}

func multipartRegistration(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for name, mediaType := range files {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="evidence"; filename="%s"`, name))
		hdr.Set("Content-Type", mediaType)
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write([]byte("content of " + name))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (s *testServer) register(t *testing.T, user auth.User) types.ID {
	t.Helper()
	body, contentType := multipartRegistration(t, map[string]string{
		"case_type":            "BUSINESS",
		"description":          "Supplier never delivered the ordered fabric",
		"is_pending_in_court":  "false",
		"opposite_party_name":  "Rohan Mehta",
		"opposite_party_email": "rohan@example.com",
	}, map[string]string{"invoice.pdf": "application/pdf"})

	req, err := http.NewRequest(http.MethodPost, s.URL+"/api/cases/register", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)

	resp, out := s.send(t, &user, req)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "%v", out)
	return types.ID(out["id"].(float64))
}

func TestRegisterAndMediationFlow(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.register(t, s.owner)
	base := "/api/cases/" + id.String()

	resp, detail := s.do(t, &s.owner, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "REGISTERED", detail["status"])
	evidence := detail["evidence"].([]any)
	require.Len(t, evidence, 1)
	assert.Equal(t, "DOCUMENT", evidence[0].(map[string]any)["file_type"])

	resp, out := s.do(t, &s.other, http.MethodPost, base+"/submit-opposite-response", map[string]any{"agreed_to_mediate": "true"})
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", out)
	assert.Equal(t, "ACCEPTED", out["status"])
	assert.Equal(t, "Response submitted successfully", out["message"])

	admin := "/api/admin/cases/" + id.String()
	resp, out = s.do(t, &s.admin, http.MethodPost, admin+"/create-panel", map[string]any{
		"panel_members": []map[string]string{{"name": "Adv. Sunita Rao", "type": "LAWYER"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", out)

	resp, _ = s.do(t, &s.admin, http.MethodPost, admin+"/start-mediation", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, out = s.do(t, &s.admin, http.MethodPost, admin+"/conclude", map[string]any{"resolved": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "UNRESOLVED", out["case"].(map[string]any)["status"])

	resp, out = s.do(t, &s.admin, http.MethodGet, "/api/admin/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), out["totalCases"])
	assert.Equal(t, float64(1), out["unresolved"])

	resp, out = s.do(t, &s.admin, http.MethodGet, admin+"/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(5), out["total"])
}

func TestMyCasesAndAdminList(t *testing.T) {
	s := newTestServer(t, nil)
	mine := s.register(t, s.owner)
	s.register(t, s.other)

	resp, out := s.do(t, &s.owner, http.MethodGet, "/api/cases/mycases", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := out["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, float64(mine), items[0].(map[string]any)["id"])

	resp, out = s.do(t, &s.admin, http.MethodGet, "/api/admin/cases?search=amit&status=registered", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out["items"].([]any), 1)

	resp, out = s.do(t, &s.admin, http.MethodGet, "/api/admin/cases?type=PROPERTY", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", out["code"])
	assert.Contains(t, out["details"], "type")
}

func TestAccessControl(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.register(t, s.owner)

	tests := []struct {
		name   string
		user   *auth.User
		method string
		path   string
		body   any
		want   int
	}{
		{"no token", nil, http.MethodGet, "/api/cases/mycases", nil, http.StatusUnauthorized},
		{"other user reads case", &s.other, http.MethodGet, "/api/cases/" + id.String(), nil, http.StatusForbidden},
		{"admin reads case", &s.admin, http.MethodGet, "/api/cases/" + id.String(), nil, http.StatusOK},
		{"user lists all cases", &s.owner, http.MethodGet, "/api/admin/cases", nil, http.StatusForbidden},
		{"user overrides status", &s.owner, http.MethodPost, "/api/admin/cases/" + id.String() + "/update-status", map[string]string{"status": "RESOLVED"}, http.StatusForbidden},
		{"other user adds witnesses", &s.other, http.MethodPost, "/api/cases/" + id.String() + "/nominate-witnesses", map[string]any{"witnesses": []map[string]string{{"name": "Neha"}}}, http.StatusForbidden},
		{"owner adds witnesses", &s.owner, http.MethodPost, "/api/cases/" + id.String() + "/nominate-witnesses", map[string]any{"witnesses": []map[string]string{{"name": "Neha"}}}, http.StatusCreated},
		{"unknown case", &s.admin, http.MethodGet, "/api/admin/cases/999", nil, http.StatusNotFound},
		{"malformed id", &s.admin, http.MethodGet, "/api/admin/cases/abc", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := s.do(t, tt.user, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode, "%v", out)
		})
	}

	c, err := s.repo.FindByID(context.Background(), id, domain.DepthSummary)
	require.NoError(t, err)
	assert.Equal(t, domain.CaseStatusRegistered, c.Status)
}

func TestAdminOverride(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.register(t, s.owner)
	path := "/api/admin/cases/" + id.String() + "/update-status"

	resp, out := s.do(t, &s.admin, http.MethodPost, path, map[string]string{"status": "ARCHIVED"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, out["details"], "status")

	resp, out = s.do(t, &s.admin, http.MethodPost, path, map[string]string{"status": "RESOLVED"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Case status updated to RESOLVED", out["message"])

	history, err := s.repo.StatusHistory(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, history[len(history)-1].Override)
}

func TestRegisterValidationDetails(t *testing.T) {
	s := newTestServer(t, nil)

	resp, out := s.do(t, &s.owner, http.MethodPost, "/api/cases/register", map[string]any{
		"case_type":           "PROPERTY",
		"is_pending_in_court": "maybe",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", out["code"])

	details := out["details"].(map[string]any)
	for _, field := range []string{"case_type", "description", "opposite_party_name", "is_pending_in_court"} {
		assert.Contains(t, details, field)
	}
}

func TestRegisterRejectsDisallowedFile(t *testing.T) {
	s := newTestServer(t, nil)
	body, contentType := multipartRegistration(t, map[string]string{
		"case_type":           "OTHER",
		"description":         "Damaged fence",
		"is_pending_in_court": "false",
		"opposite_party_name": "Neighbour",
	}, map[string]string{"script.sh": "application/x-sh"})

	req, err := http.NewRequest(http.MethodPost, s.URL+"/api/cases/register", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)

	resp, out := s.send(t, &s.owner, req)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, out["details"], "evidence[0]")

	cases, err := s.repo.FindMany(context.Background(), domain.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, cases)
}

func TestResponseRequiresBoolean(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.register(t, s.owner)

	resp, out := s.do(t, &s.owner, http.MethodPost, "/api/cases/"+id.String()+"/submit-opposite-response", map[string]any{"agreed_to_mediate": "yes please"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, out["details"], "agreed_to_mediate")
}

// brokenStore fails every list with a driver error
type brokenStore struct {
	domain.Repository
}

func (brokenStore) FindMany(context.Context, domain.ListFilter) ([]domain.Case, error) {
	return nil, fmt.Errorf("dial tcp 10.0.0.5:5432: connection refused")
}

func TestInternalErrorsAreGeneric(t *testing.T) {
	s := newTestServer(t, brokenStore{infrastructure.NewMemoryRepository()})

	resp, out := s.do(t, &s.admin, http.MethodGet, "/api/admin/cases", nil)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal server error", out["error"])
	assert.Equal(t, "INTERNAL_ERROR", out["code"])
	assert.NotContains(t, fmt.Sprint(out), "10.0.0.5")
}

func TestAuthorizeRoom(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.register(t, s.owner)

	h := NewHandler(nil, nil, query.NewService(s.repo), nil, zap.NewNop())
	ctx := context.Background()

	assert.NoError(t, h.AuthorizeRoom(ctx, &s.owner, id))
	assert.NoError(t, h.AuthorizeRoom(ctx, &s.admin, id))
	assert.Error(t, h.AuthorizeRoom(ctx, &s.other, id))
	assert.Error(t, h.AuthorizeRoom(ctx, &s.admin, 999))
}
