package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kno-canvas/internal/canvas"
	"kno-canvas/internal/models"
	"kno-canvas/internal/openai"
	"kno-canvas/internal/repository"
)

type mockLibrary struct {
	mock.Mock
}

func (m *mockLibrary) CreateNote(ctx context.Context, in *models.NoteCreate) (*models.Note, error) {
	args := m.Called(ctx, in)
	n, _ := args.Get(0).(*models.Note)
	return n, args.Error(1)
}

func (m *mockLibrary) GetNote(ctx context.Context, id string) (*models.Note, error) {
	args := m.Called(ctx, id)
	n, _ := args.Get(0).(*models.Note)
	return n, args.Error(1)
}

func (m *mockLibrary) ListNotes(ctx context.Context, kind models.NoteKind, limit, offset int) ([]*models.Note, error) {
	args := m.Called(ctx, kind, limit, offset)
	n, _ := args.Get(0).([]*models.Note)
	return n, args.Error(1)
}

func (m *mockLibrary) NoteLinks(ctx context.Context, id string) (*models.GraphNode, error) {
	args := m.Called(ctx, id)
	n, _ := args.Get(0).(*models.GraphNode)
	return n, args.Error(1)
}

type fixedBreaker string

func (b fixedBreaker) State() string { return string(b) }

type testServer struct {
	router    http.Handler
	workspace *canvas.Workspace
	library   *mockLibrary
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	p := canvas.NewPersistence(canvas.NewMemoryStore(), nil)
	p.Start()
	t.Cleanup(p.Close)

	engine := canvas.New(canvas.WithPersistence(p))
	t.Cleanup(engine.Close)
	ws := canvas.NewWorkspace(canvas.NewRegistry(p, nil), engine, p, nil)
	t.Cleanup(ws.Close)
	require.NoError(t, ws.Open(context.Background()))

	lib := &mockLibrary{}
	h := NewHandler(ws, lib, fixedBreaker("closed"), zap.NewNop())
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "kno_canvas_commits_total 0")
	})
	return &testServer{
		router:    SetupRoutes(h, metrics, nil, zap.NewNop()),
		workspace: ws,
		library:   lib,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]string](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "closed", body["generator"])
	assert.NotEmpty(t, body["active_document"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCanvasLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/canvases", `{"title":"Research"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	doc := decode[models.CanvasDocument](t, rec)
	assert.Equal(t, "Research", doc.Title)
	assert.Equal(t, doc.ID, s.workspace.Engine().DocumentID())

	rec = s.do(t, http.MethodGet, "/api/canvases", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Documents []models.CanvasDocument `json:"documents"`
		Selected  string                  `json:"selected"`
	}](t, rec)
	assert.Len(t, list.Documents, 2)
	assert.Equal(t, doc.ID, list.Selected)

	rec = s.do(t, http.MethodPatch, "/api/canvases/"+doc.ID, `{"title":"  "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Untitled Canvas", decode[models.CanvasDocument](t, rec).Title)

	rec = s.do(t, http.MethodDelete, "/api/canvases/"+doc.ID+"?hard=true", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/canvases/"+doc.ID, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEqual(t, doc.ID, s.workspace.Engine().DocumentID())

	rec = s.do(t, http.MethodPost, "/api/canvases/"+doc.ID+"/restore", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/canvases/"+doc.ID+"/activate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, doc.ID, decode[canvas.View](t, rec).DocumentID)

	rec = s.do(t, http.MethodPost, "/api/canvases/nope/activate", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/canvases", `{"title":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommandsAndExport(t *testing.T) {
	s := newTestServer(t)
	id := s.workspace.Engine().DocumentID()
	_, err := s.workspace.Rename(id, "Brief")
	require.NoError(t, err)

	rec := s.do(t, http.MethodPost, "/api/canvas/commands", `{"type":"ADD_NOTE","payload":{"screen_width":800,"screen_height":600}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[canvas.View](t, rec)
	require.Len(t, view.Nodes, 1)
	assert.Equal(t, "New Note", view.Nodes[0].Title)

	rec = s.do(t, http.MethodPost, "/api/canvas/commands", `{"type":"COMMIT_EDIT"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/canvas/export.md", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# Kno Brief: Brief")
	assert.Contains(t, rec.Body.String(), "### 1. New Note")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "Brief_Brief.md")

	rec = s.do(t, http.MethodGet, "/api/canvas/export.png", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\x89PNG"))

	rec = s.do(t, http.MethodPost, "/api/canvas/undo", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[canvas.View](t, rec).Nodes)

	rec = s.do(t, http.MethodPost, "/api/canvas/redo", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[canvas.View](t, rec).Nodes, 1)

	rec = s.do(t, http.MethodGet, "/api/canvas", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decode[canvas.View](t, rec).DocumentID)
}

func TestBadCommands(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"unknown type", `{"type":"TELEPORT"}`},
		{"invalid payload", `{"type":"RUN_OPERATOR","payload":{"operator":"magic"}}`},
		{"not json", `hello`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/canvas/commands", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestExportPNGOfEmptyCanvas(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/canvas/export.png", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotes(t *testing.T) {
	s := newTestServer(t)
	created := &models.Note{ID: "n1", Title: "Entropy", Kind: models.NoteKindNote}
	s.library.On("CreateNote", mock.Anything, mock.MatchedBy(func(in *models.NoteCreate) bool {
		return in.Title == "Entropy"
	})).Return(created, nil).Once()
	s.library.On("GetNote", mock.Anything, "missing").
		Return(nil, fmt.Errorf("%w: note missing", repository.ErrNotFound))
	s.library.On("ListNotes", mock.Anything, models.NoteKindSpark, 10, 0).
		Return([]*models.Note{created}, nil)
	s.library.On("NoteLinks", mock.Anything, "n1").
		Return(&models.GraphNode{ID: "n1", IncomingLinks: 2}, nil)

	rec := s.do(t, http.MethodPost, "/api/notes", `{"title":"Entropy"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "n1", decode[models.Note](t, rec).ID)

	rec = s.do(t, http.MethodPost, "/api/notes", `{"content":"no title"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/notes", `{"title":"x","source_url":"not a url"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/notes/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/notes?kind=spark&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[struct {
		Notes []models.Note `json:"notes"`
	}](t, rec).Notes, 1)

	rec = s.do(t, http.MethodGet, "/api/notes/n1/links", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[models.GraphNode](t, rec).IncomingLinks)

	s.library.AssertExpectations(t)
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kno_canvas_commits_total")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", canvas.ErrDocumentNotFound), http.StatusNotFound},
		{repository.ErrNotFound, http.StatusNotFound},
		{canvas.ErrInteractionActive, http.StatusConflict},
		{canvas.ErrNotInTrash, http.StatusConflict},
		{canvas.ErrUnknownCommand, http.StatusBadRequest},
		{fmt.Errorf("%w: boom", openai.ErrCircuitOpen), http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
