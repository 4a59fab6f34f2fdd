// handlers_upload.go - Simulated batch upload handlers
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/exam-intake/backend/internal/intake"
)

// HandleStartUpload triggers a batch upload run over every pending file.
// A trigger while a run is active answers 409; a trigger with nothing
// pending is a no-op and reports zero started files.
func (h *Handler) HandleStartUpload(c echo.Context) error {
	started, err := h.intake.UploadAll()
	if err != nil {
		if errors.Is(err, intake.ErrUploadInProgress) {
			return NewConflictError("batch upload already in progress")
		}
		return NewInternalError("failed to start upload", err)
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"started":    started,
		"inProgress": started > 0,
	})
}

// HandleUploadStatus reports the in-progress flag plus the live summary.
func (h *Handler) HandleUploadStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"inProgress": h.intake.Uploading(),
		"summary":    h.intake.Summary(),
	})
}

// HandleUploadProgressStream streams intake events via SSE until the current
// batch settles. Clients connect right after triggering an upload and render
// the per-file progress bars from the stream.
func (h *Handler) HandleUploadProgressStream(c echo.Context) error {
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	events, cancel := h.intake.Subscribe()
	defer cancel()

	// Initial snapshot so late subscribers render current state.
	h.sendSSEData(c, map[string]interface{}{
		"type":       "snapshot",
		"files":      fileViews(h.intake.List()),
		"inProgress": h.intake.Uploading(),
	})

	if !h.intake.Uploading() {
		return nil
	}

	timeout := time.NewTimer(5 * time.Minute)
	defer timeout.Stop()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			h.sendSSEData(c, ev)
			if ev.Type == intake.EventBatchFinished {
				return nil
			}
		case <-timeout.C:
			h.sendSSEData(c, map[string]string{"type": "error", "message": "stream timeout"})
			return nil
		}
	}
}

func (h *Handler) sendSSEData(c echo.Context, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Response(), "data: %s\n\n", data)
	c.Response().Flush()
}
