// Package api exposes the file-intake operations over HTTP in front of the
// embedded widget frontend.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/exam-intake/backend/internal/format"
	"github.com/exam-intake/backend/internal/intake"
	"github.com/exam-intake/backend/internal/models"
	"github.com/exam-intake/backend/internal/storage"
)

// Handler holds the dependencies shared by all endpoint implementations.
type Handler struct {
	intake  *intake.Manager
	store   storage.Store
	version string
}

// NewHandler creates a Handler backed by the given intake manager and
// payload store.
func NewHandler(mgr *intake.Manager, store storage.Store, version string) *Handler {
	return &Handler{
		intake:  mgr,
		store:   store,
		version: version,
	}
}

// fileView decorates a tracked file with the presentation helpers the
// frontend rows need: a human-readable size and an icon glyph.
type fileView struct {
	models.TrackedFile
	SizeLabel string `json:"sizeLabel"`
	Glyph     string `json:"glyph"`
}

func newFileView(f models.TrackedFile) fileView {
	return fileView{
		TrackedFile: f,
		SizeLabel:   format.FileSize(f.Size),
		Glyph:       format.TypeGlyph(f.Type),
	}
}

func fileViews(files []models.TrackedFile) []fileView {
	views := make([]fileView, len(files))
	for i, f := range files {
		views[i] = newFileView(f)
	}
	return views
}

// HandleHealth reports service status and intake capabilities.
func (h *Handler) HandleHealth(c echo.Context) error {
	rules := h.intake.Rules()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "exam-intake",
		"version": h.version,
		"capabilities": map[string]interface{}{
			"allowedTypes": rules.AllowedTypes,
			"maxFileBytes": rules.MaxFileBytes,
			"operations":   []string{"intake", "remove", "batch_upload", "cleanup"},
		},
	})
}
