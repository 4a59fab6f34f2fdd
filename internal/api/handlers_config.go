// handlers_config.go - Intake rule and exam profile handlers
package api

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"

	"github.com/exam-intake/backend/internal/format"
)

type intakeConfigResponse struct {
	AllowedTypes     []string `json:"allowedTypes"`
	MaxFileBytes     int64    `json:"maxFileBytes"`
	MaxFileSizeLabel string   `json:"maxFileSizeLabel"`
	PickerExtensions string   `json:"pickerExtensions"`
}

// HandleGetIntakeConfig returns the enforced validation rules together with
// the advisory picker extension hint. The extension list and the MIME
// allow-list are published side by side on purpose: acceptance is decided by
// the MIME/size rule, the extensions only pre-filter the browser dialog.
func (h *Handler) HandleGetIntakeConfig(c echo.Context) error {
	rules := h.intake.Rules()
	return c.JSON(http.StatusOK, intakeConfigResponse{
		AllowedTypes:     rules.AllowedTypes,
		MaxFileBytes:     rules.MaxFileBytes,
		MaxFileSizeLabel: format.FileSize(rules.MaxFileBytes),
		PickerExtensions: rules.PickerExtensions,
	})
}

type examView struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Formats  []string         `json:"formats"`
	MaxSizes map[string]int64 `json:"maxSizes"`
}

// HandleListExams returns every configured exam profile.
func (h *Handler) HandleListExams(c echo.Context) error {
	exams := h.intake.Exams()

	views := make([]examView, 0, len(exams))
	for id, p := range exams {
		views = append(views, examView{
			ID:       id,
			Name:     p.Name,
			Formats:  p.Formats(),
			MaxSizes: p.MaxSizes,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })

	return c.JSON(http.StatusOK, views)
}

// HandleGetExam returns one exam profile.
func (h *Handler) HandleGetExam(c echo.Context) error {
	id := c.Param("exam")
	if id == "" {
		return NewValidationError("exam")
	}

	p, ok := h.intake.Exam(id)
	if !ok {
		return NewNotFoundError("exam profile", id)
	}

	return c.JSON(http.StatusOK, examView{
		ID:       id,
		Name:     p.Name,
		Formats:  p.Formats(),
		MaxSizes: p.MaxSizes,
	})
}
