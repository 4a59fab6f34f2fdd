// handlers_files.go - Intake and collection handlers
package api

import (
	"bytes"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/exam-intake/backend/internal/intake"
	"github.com/exam-intake/backend/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

type intakeFileEntry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
	Data string `json:"data,omitempty"` // base64 payload, optional
}

type intakeRequest struct {
	Exam  string            `json:"exam,omitempty"`
	Files []intakeFileEntry `json:"files"`
}

func (r *intakeRequest) validate() error {
	if len(r.Files) == 0 {
		return NewValidationError("files")
	}
	for _, f := range r.Files {
		if f.Name == "" {
			return NewValidationError("name")
		}
	}
	return nil
}

type intakeResponse struct {
	Accepted []fileView            `json:"accepted"`
	Rejected []models.RejectedFile `json:"rejected"`
}

// HandleIntake accepts a batch of files from the drop surface or the file
// picker. Two encodings are supported: JSON metadata with optional base64
// content, and multipart/form-data with a repeated "files" field. Every
// candidate is answered - accepted entries become tracked files, rejected
// ones carry the reason the widget shows to the user.
func (h *Handler) HandleIntake(c echo.Context) error {
	contentType := c.Request().Header.Get(echo.HeaderContentType)
	if strings.HasPrefix(contentType, echo.MIMEMultipartForm) {
		return h.intakeMultipart(c)
	}
	return h.intakeJSON(c)
}

func (h *Handler) intakeJSON(c echo.Context) error {
	var req intakeRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	metas := make([]intake.FileMeta, len(req.Files))
	payloads := make([][]byte, len(req.Files))
	for i, f := range req.Files {
		size := f.Size
		if f.Data != "" {
			decoded, err := base64.StdEncoding.DecodeString(f.Data)
			if err != nil {
				return NewBadRequestError("invalid base64 data for "+f.Name, err)
			}
			payloads[i] = decoded
			if size == 0 {
				size = int64(len(decoded))
			}
		}
		metas[i] = intake.FileMeta{Name: f.Name, Size: size, Type: f.Type}
	}

	results, err := h.intake.Add(metas, req.Exam)
	if err != nil {
		if errors.Is(err, intake.ErrUnknownExam) {
			return NewNotFoundError("exam profile", req.Exam)
		}
		return NewInternalError("intake failed", err)
	}

	resp := intakeResponse{Accepted: []fileView{}, Rejected: []models.RejectedFile{}}
	for i, res := range results {
		if !res.Accepted {
			resp.Rejected = append(resp.Rejected, *res.Rejected)
			continue
		}
		if payloads[i] != nil {
			if _, err := h.store.Put(res.File.ID, bytes.NewReader(payloads[i])); err != nil {
				return NewInternalError("failed to store payload", err)
			}
		}
		resp.Accepted = append(resp.Accepted, newFileView(*res.File))
	}

	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) intakeMultipart(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return NewBadRequestError("invalid multipart form", err)
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return NewValidationError("files")
	}
	exam := c.FormValue("exam")

	metas := make([]intake.FileMeta, len(headers))
	for i, fh := range headers {
		metas[i] = intake.FileMeta{
			Name: fh.Filename,
			Size: fh.Size,
			Type: fh.Header.Get("Content-Type"),
		}
	}

	results, err := h.intake.Add(metas, exam)
	if err != nil {
		if errors.Is(err, intake.ErrUnknownExam) {
			return NewNotFoundError("exam profile", exam)
		}
		return NewInternalError("intake failed", err)
	}

	resp := intakeResponse{Accepted: []fileView{}, Rejected: []models.RejectedFile{}}
	for i, res := range results {
		if !res.Accepted {
			resp.Rejected = append(resp.Rejected, *res.Rejected)
			continue
		}
		src, err := headers[i].Open()
		if err != nil {
			return NewInternalError("failed to open uploaded file", err)
		}
		_, putErr := h.store.Put(res.File.ID, src)
		src.Close()
		if putErr != nil {
			return NewInternalError("failed to store payload", putErr)
		}
		resp.Accepted = append(resp.Accepted, newFileView(*res.File))
	}

	return c.JSON(http.StatusOK, resp)
}

// HandleListFiles returns the tracked collection in intake order.
func (h *Handler) HandleListFiles(c echo.Context) error {
	return c.JSON(http.StatusOK, fileViews(h.intake.List()))
}

// HandleListFilesMsgpack returns the collection plus summary in MessagePack
// for consumers that prefer the compact encoding.
func (h *Handler) HandleListFilesMsgpack(c echo.Context) error {
	data, err := msgpack.Marshal(map[string]interface{}{
		"files":   fileViews(h.intake.List()),
		"summary": h.intake.Summary(),
	})
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleSummary returns the aggregate counts for the summary panel.
func (h *Handler) HandleSummary(c echo.Context) error {
	return c.JSON(http.StatusOK, h.intake.Summary())
}

// HandleGetFile returns metadata for one tracked file.
func (h *Handler) HandleGetFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	f, ok := h.intake.Get(id)
	if !ok {
		return NewNotFoundError("file", id)
	}
	return c.JSON(http.StatusOK, newFileView(f))
}

// HandleGetFileContent streams the stored payload of a tracked file.
func (h *Handler) HandleGetFileContent(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	f, ok := h.intake.Get(id)
	if !ok {
		return NewNotFoundError("file", id)
	}

	rc, err := h.store.Open(id)
	if err != nil {
		return NewNotFoundError("payload", id)
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+f.Name+`"`)
	return c.Stream(http.StatusOK, f.Type, rc)
}

// HandleRemoveFile discards a tracked file and its payload. Removal is
// idempotent - an unknown id still answers 204 - but a file whose transfer
// is active is refused with 409.
func (h *Handler) HandleRemoveFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	if err := h.intake.Remove(id); err != nil {
		if errors.Is(err, intake.ErrFileUploading) {
			return NewConflictError("file transfer in progress")
		}
		return NewInternalError("failed to remove file", err)
	}
	if err := h.store.Delete(id); err != nil {
		return NewInternalError("failed to delete payload", err)
	}

	return c.NoContent(http.StatusNoContent)
}

// HandleCleanup discards every settled file together with its payload.
func (h *Handler) HandleCleanup(c echo.Context) error {
	removed := h.intake.Cleanup()
	for _, f := range removed {
		if err := h.store.Delete(f.ID); err != nil {
			return NewInternalError("failed to delete payload", err)
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"removed": len(removed),
		"status":  "success",
	})
}
