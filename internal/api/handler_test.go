package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/punchamoorthee/cashflow/internal/artifact"
	"github.com/punchamoorthee/cashflow/internal/directory"
	"github.com/punchamoorthee/cashflow/internal/domain"
	"github.com/punchamoorthee/cashflow/internal/service"
	"github.com/punchamoorthee/cashflow/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	adminID      int64 = 1
	signerID     int64 = 10
	otherSigner  int64 = 11
	accountantID int64 = 20
	viewerID     int64 = 30
)

type testServer struct {
	t      *testing.T
	router http.Handler
	auth   *Authenticator
	tokens map[int64]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := directory.Static{
		adminID:      {Active: true, Role: domain.RoleAdmin, Name: "Admin"},
		signerID:     {Active: true, Role: domain.RoleSigner, Name: "Signer"},
		otherSigner:  {Active: true, Role: domain.RoleSigner, Name: "Other"},
		accountantID: {Active: true, Role: domain.RoleAccountant, Name: "Accountant"},
		viewerID:     {Active: true, Role: domain.RoleViewer, Name: "Viewer"},
	}
	arts, err := artifact.NewFileStore(t.TempDir())
	require.NoError(t, err)
	svc := service.NewCashflowService(memory.New(), dir, arts, nil, zap.NewNop())
	auth := NewAuthenticator("test-secret")

	ts := &testServer{t: t, router: NewRouter(NewHandler(svc, time.UTC, zap.NewNop()), auth), auth: auth, tokens: map[int64]string{}}
	for id, e := range dir {
		tok, err := auth.IssueToken(id, e.Role, e.Name, time.Hour)
		require.NoError(t, err)
		ts.tokens[id] = tok
	}
	return ts
}

func (ts *testServer) do(method, path string, as int64, body interface{}) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if tok, ok := ts.tokens[as]; ok {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) create() int64 {
	ts.t.Helper()
	rec := ts.do("POST", "/api/v1/cash-requests", accountantID, map[string]interface{}{
		"account": "main", "op_type": "withdraw", "amount": "100.00",
	})
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
	var view domain.RequestView
	require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), &view))
	return view.Request.ID
}

func signatureURL(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(10, 5, color.White), imaging.PNG))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func path(id int64, suffix string) string {
	return "/api/v1/cash-requests/" + strconv.FormatInt(id, 10) + suffix
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do("GET", "/api/v1/cash-requests", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest("GET", "/api/v1/cash-requests", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other := NewAuthenticator("other-secret")
	tok, err := other.IssueToken(adminID, domain.RoleAdmin, "", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest("GET", "/api/v1/cash-requests", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do("GET", "/health", 0, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateRequest(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		as   int64
		body map[string]interface{}
		want int
	}{
		{"accountant", accountantID, map[string]interface{}{"account": "alpha", "op_type": "collect", "amount": 12.5}, http.StatusCreated},
		{"admin", adminID, map[string]interface{}{"account": "praise", "op_type": "withdraw", "amount": "3"}, http.StatusCreated},
		{"signer not allowed", signerID, map[string]interface{}{"account": "main", "op_type": "collect", "amount": "1"}, http.StatusForbidden},
		{"zero amount", accountantID, map[string]interface{}{"account": "main", "op_type": "collect", "amount": "0"}, http.StatusUnprocessableEntity},
		{"bad account", accountantID, map[string]interface{}{"account": "offshore", "op_type": "collect", "amount": "1"}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do("POST", "/api/v1/cash-requests", tt.as, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestWorkflowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create()

	rec := ts.do("POST", path(id, "/sign"), signerID, map[string]string{"signature": signatureURL(t)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do("POST", path(id, "/sign"), signerID, map[string]string{"signature": signatureURL(t)})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do("POST", path(id, "/sign"), adminID, map[string]string{"signature": signatureURL(t)})
	assert.Equal(t, http.StatusForbidden, rec.Code, "admins use admin-sign")

	rec = ts.do("POST", path(id, "/refuse"), otherSigner, map[string]string{"reason": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = ts.do("POST", path(id, "/refuse"), otherSigner, map[string]string{"reason": "wrong amount"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do("POST", path(id, "/resend"), adminID, map[string]interface{}{"target_ids": []int64{otherSigner}, "admin_comment": "recheck"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resend struct {
		Targets []int64 `json:"targets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resend))
	assert.Equal(t, []int64{otherSigner}, resend.Targets)

	rec = ts.do("POST", path(id, "/sign"), otherSigner, map[string]string{"signature": signatureURL(t)})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do("POST", path(id, "/admin-sign"), adminID, map[string]string{"signature": signatureURL(t)})
	require.Equal(t, http.StatusOK, rec.Code)

	var view domain.RequestView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, domain.StatusFinal, view.Request.Status)

	rec = ts.do("GET", path(id, "/participants/"+strconv.FormatInt(signerID, 10)+"/signature.png"), signerID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = ts.do("POST", path(id, "/cancel"), adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var req domain.CashRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &req))
	assert.Equal(t, domain.StatusFinal, req.Status, "closed requests are left as they are")

	rec = ts.do("GET", "/api/v1/act-rows?account=main&date_from="+time.Now().UTC().Format(dateLayout), signerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows struct {
		Items []domain.ActRow `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows.Items, 3)
	for _, row := range rows.Items {
		assert.Equal(t, domain.ActSigned, row.Mark)
	}
}

func TestVisibility(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create()

	assert.Equal(t, http.StatusOK, ts.do("GET", path(id, ""), signerID, nil).Code)
	assert.Equal(t, http.StatusOK, ts.do("GET", path(id, ""), adminID, nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do("GET", path(id, ""), viewerID, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do("GET", path(404, ""), adminID, nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do("GET", "/api/v1/cash-requests", signerID, nil).Code)

	rec := ts.do("GET", "/api/v1/cash-requests/my?only_open=true", signerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var mine struct {
		Items []domain.CashRequest `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mine))
	require.Len(t, mine.Items, 1)
	assert.Equal(t, id, mine.Items[0].ID)

	rec = ts.do("GET", "/api/v1/cash-requests/my", viewerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[]}`, rec.Body.String())
}

func TestAdminOnlyOperations(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create()

	assert.Equal(t, http.StatusForbidden, ts.do("POST", path(id, "/cancel"), signerID, nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do("POST", path(id, "/resend"), signerID, nil).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, ts.do("POST", path(id, "/resend"), adminID, nil).Code)

	rec := ts.do("POST", path(id, "/recompute"), adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"request_id":`+strconv.FormatInt(id, 10)+`,"status":"PENDING_SIGNERS"}`, rec.Body.String())

	rec = ts.do("GET", "/api/v1/act-rows?date_from=yesterday", adminID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidArgument, http.StatusUnprocessableEntity},
		{domain.ErrNoValidTargets, http.StatusUnprocessableEntity},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrAdminCannotRefuse, http.StatusForbidden},
		{domain.ErrAlreadyDecided, http.StatusConflict},
		{domain.ErrRequestClosed, http.StatusConflict},
		{domain.ErrNoAdminAvailable, http.StatusServiceUnavailable},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
