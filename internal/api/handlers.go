package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"kno-canvas/internal/canvas"
	"kno-canvas/internal/export"
	"kno-canvas/internal/middleware"
	"kno-canvas/internal/models"
)

// Handler handles HTTP requests
// Learning: the canvas workspace is concrete (there is exactly one), the
// library and breaker are interfaces defined in this package.
type Handler struct {
	workspace *canvas.Workspace
	library   NoteLibrary
	breaker   BreakerState
	logger    *zap.Logger
	validate  *validator.Validate
	now       func() time.Time
}

func NewHandler(workspace *canvas.Workspace, library NoteLibrary, breaker BreakerState, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		workspace: workspace,
		library:   library,
		breaker:   breaker,
		logger:    logger,
		validate:  validator.New(),
		now:       time.Now,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":          "ok",
		"active_document": h.workspace.Engine().DocumentID(),
	}
	if h.breaker != nil {
		resp["generator"] = h.breaker.State()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Canvas document handlers

type canvasRequest struct {
	Title string `json:"title" validate:"max=200"`
}

func (h *Handler) decodeCanvasRequest(r *http.Request) (canvasRequest, error) {
	var req canvasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		return req, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return req, h.validate.Struct(req)
}

func (h *Handler) ListCanvases(w http.ResponseWriter, r *http.Request) {
	reg := h.workspace.Registry()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": reg.List(),
		"trash":     reg.Trash(),
		"selected":  reg.Selected(),
	})
}

func (h *Handler) CreateCanvas(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeCanvasRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	doc, err := h.workspace.Create(r.Context(), req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (h *Handler) GetCanvas(w http.ResponseWriter, r *http.Request) {
	doc, err := h.workspace.Document(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) RenameCanvas(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeCanvasRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	doc, err := h.workspace.Rename(mux.Vars(r)["id"], req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DeleteCanvas moves a canvas to the trash, or with ?hard=true deletes a
// trashed canvas forever.
func (h *Handler) DeleteCanvas(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var err error
	if r.URL.Query().Get("hard") == "true" {
		err = h.workspace.DeleteForever(r.Context(), id)
	} else {
		err = h.workspace.MoveToTrash(r.Context(), id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ActivateCanvas(w http.ResponseWriter, r *http.Request) {
	if err := h.workspace.Select(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.workspace.Engine().View())
}

func (h *Handler) RestoreCanvas(w http.ResponseWriter, r *http.Request) {
	if err := h.workspace.Restore(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Engine handlers

func (h *Handler) View(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.workspace.Engine().View())
}

// Command accepts the same envelope as the live channel and answers with
// the view after the command ran.
func (h *Handler) Command(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cmd, err := canvas.DecodeCommand(body)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.workspace.Engine().Dispatch(r.Context(), cmd); err != nil {
		h.logger.Debug("command rejected",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("command", string(cmd.Type())), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.workspace.Engine().View())
}

func (h *Handler) Undo(w http.ResponseWriter, r *http.Request) {
	if err := h.workspace.Engine().Undo(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.workspace.Engine().View())
}

func (h *Handler) Redo(w http.ResponseWriter, r *http.Request) {
	if err := h.workspace.Engine().Redo(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.workspace.Engine().View())
}

// Export handlers

func (h *Handler) activeTitle() (string, error) {
	id := h.workspace.Engine().DocumentID()
	doc, ok := h.workspace.Registry().Get(id)
	if !ok {
		return "", canvas.ErrNoActiveDocument
	}
	return doc.Title, nil
}

func (h *Handler) ExportMarkdown(w http.ResponseWriter, r *http.Request) {
	title, err := h.activeTitle()
	if err != nil {
		writeError(w, err)
		return
	}
	snap := h.workspace.Engine().Snapshot()
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(title, "md")))
	io.WriteString(w, export.Markdown(title, snap.Nodes, h.now()))
}

func (h *Handler) ExportPNG(w http.ResponseWriter, r *http.Request) {
	title, err := h.activeTitle()
	if err != nil {
		writeError(w, err)
		return
	}
	snap := h.workspace.Engine().Snapshot()
	if len(snap.Nodes) == 0 {
		http.Error(w, export.ErrEmpty.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(title, "png")))
	if err := export.PNG(w, snap.Nodes, snap.Edges); err != nil {
		h.logger.Error("png export failed", zap.Error(err))
	}
}

// Library handlers

func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var in models.NoteCreate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(in); err != nil {
		writeError(w, err)
		return
	}
	note, err := h.library.CreateNote(r.Context(), &in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	offset := 0
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	kind := models.NoteKind(q.Get("kind"))

	notes, err := h.library.ListNotes(r.Context(), kind, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notes":  notes,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.library.GetNote(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (h *Handler) NoteLinks(w http.ResponseWriter, r *http.Request) {
	node, err := h.library.NoteLinks(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}
