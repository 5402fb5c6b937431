package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"GraderUsageETL/internal/auth"
	"GraderUsageETL/internal/extract"
	"GraderUsageETL/internal/models"
	"GraderUsageETL/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStats struct {
	stats models.TableStats
	err   error
}

func (f *fakeStats) TableStats(context.Context) (models.TableStats, error) { return f.stats, f.err }

type fakeRuns struct {
	runs      []models.Run
	lastLimit int
}

func (f *fakeRuns) ListRuns(_ context.Context, limit int) ([]models.Run, error) {
	f.lastLimit = limit
	return f.runs, nil
}

func (f *fakeRuns) GetRun(_ context.Context, id string) (models.Run, error) {
	for _, r := range f.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return models.Run{}, fmt.Errorf("GetRun(): %w: %s", storage.ErrRunNotFound, id)
}

// blockingRunner holds every run until release is closed.
type blockingRunner struct {
	mu      sync.Mutex
	ids     []string
	windows []models.Window
	started chan struct{}
	release chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{}, 4), release: make(chan struct{})}
}

func (r *blockingRunner) RunWithID(_ context.Context, id string, w models.Window) (models.Run, error) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.windows = append(r.windows, w)
	r.mu.Unlock()
	r.started <- struct{}{}
	<-r.release
	return models.Run{ID: id, Status: models.RunSucceeded}, nil
}

var testWindow = models.Window{
	Start: time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC),
}

type testServer struct {
	h      *Handler
	router *gin.Engine
	issuer *auth.Issuer
	stats  *fakeStats
	runs   *fakeRuns
	runner *blockingRunner
	hub    *Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	ts := &testServer{
		issuer: issuer,
		stats:  &fakeStats{},
		runs:   &fakeRuns{},
		runner: newBlockingRunner(),
		hub:    NewHub(nil),
	}
	ts.h = New(context.Background(), Deps{
		Issuer: issuer,
		Admin:  Admin{Username: "admin", PasswordHash: string(hash)},
		Stats:  ts.stats,
		Runs:   ts.runs,
		Runner: ts.runner,
		Resolve: func(_ context.Context, start, end string) (models.Window, error) {
			switch start {
			case "bad":
				_, err := time.Parse(time.DateOnly, start)
				return models.Window{}, fmt.Errorf("ResolveWindow(): START_DATE: %w", err)
			case "2030-01-01":
				return models.Window{}, fmt.Errorf("ResolveWindow(): %w", extract.ErrInvalidWindow)
			case "journal-down":
				return models.Window{}, errors.New("LastSuccessful(): database is locked")
			}
			return testWindow, nil
		},
		Hub: ts.hub,
	}, zap.NewNop())
	ts.router = NewRouter(ts.h, RouterOptions{}, zap.NewNop())
	return ts
}

func (ts *testServer) token(t *testing.T) string {
	t.Helper()
	tok, err := ts.issuer.GenerateToken("admin")
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+ts.token(t))
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"valid", `{"username":"admin","password":"s3cret"}`, http.StatusOK},
		{"wrong password", `{"username":"admin","password":"nope"}`, http.StatusUnauthorized},
		{"unknown user", `{"username":"root","password":"s3cret"}`, http.StatusUnauthorized},
		{"empty fields", `{}`, http.StatusUnauthorized},
		{"broken json", `{"username":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/login", tt.body, false)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}

	w := ts.do(t, http.MethodPost, "/login", `{"username":"admin","password":"s3cret"}`, false)
	var resp LoginSuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	claims, err := ts.issuer.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/api/stats", "/api/runs", "/api/runs/x"} {
		w := ts.do(t, http.MethodGet, path, "", false)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestGetStats(t *testing.T) {
	ts := newTestServer(t)
	ts.stats.stats = models.TableStats{TotalRecords: 10, UniqueUsers: 3}

	w := ts.do(t, http.MethodGet, "/api/stats", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var got models.TableStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, int64(10), got.TotalRecords)
	assert.Equal(t, int64(3), got.UniqueUsers)

	ts.stats.err = errors.New("connection refused")
	w = ts.do(t, http.MethodGet, "/api/stats", "", true)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestListAndGetRuns(t *testing.T) {
	ts := newTestServer(t)
	ts.runs.runs = []models.Run{{ID: "a", Status: models.RunSucceeded}, {ID: "b", Status: models.RunFailed}}

	w := ts.do(t, http.MethodGet, "/api/runs?limit=10", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	var list RunsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Runs, 2)
	assert.Equal(t, 10, ts.runs.lastLimit)

	w = ts.do(t, http.MethodGet, "/api/runs?limit=zero", "", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/runs/b", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	var run models.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, models.RunFailed, run.Status)

	w = ts.do(t, http.MethodGet, "/api/runs/missing", "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListRuns_EmptyJournal(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/api/runs", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"runs":[]}`, w.Body.String())
	assert.Equal(t, 0, ts.runs.lastLimit)
}

func TestTriggerRun_OneAtATime(t *testing.T) {
	ts := newTestServer(t)
	defer ts.h.Wait()

	w := ts.do(t, http.MethodPost, "/api/runs", "", true)
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp TriggerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RunID)
	assert.True(t, testWindow.Start.Equal(resp.Window.Start))

	<-ts.runner.started

	w = ts.do(t, http.MethodPost, "/api/runs", `{"start":"2026-10-01"}`, true)
	assert.Equal(t, http.StatusConflict, w.Code)

	health := ts.do(t, http.MethodGet, "/healthz", "", false)
	assert.JSONEq(t, `{"status":"ok","running":true}`, health.Body.String())

	close(ts.runner.release)
	ts.h.Wait()

	ts.runner.mu.Lock()
	assert.Equal(t, []string{resp.RunID}, ts.runner.ids)
	ts.runner.mu.Unlock()

	health = ts.do(t, http.MethodGet, "/healthz", "", false)
	assert.JSONEq(t, `{"status":"ok","running":false}`, health.Body.String())
}

func TestTriggerRun_BadWindow(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/runs", `{"start":"bad"}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "START_DATE")

	w = ts.do(t, http.MethodPost, "/api/runs", `{"start":"2030-01-01"}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/runs", `{"start":`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// the busy flag was released
	health := ts.do(t, http.MethodGet, "/healthz", "", false)
	assert.JSONEq(t, `{"status":"ok","running":false}`, health.Body.String())
}

func TestTriggerRun_JournalFailureIsServerError(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/runs", `{"start":"journal-down"}`, true)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "database is locked")

	health := ts.do(t, http.MethodGet, "/healthz", "", false)
	assert.JSONEq(t, `{"status":"ok","running":false}`, health.Body.String())
}

func TestRouter_CORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/stats", bytes.NewReader(nil))
	req.Header.Set("Origin", "https://dashboard.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
