// handlers_test.go - Tests for intake, collection and config handlers
package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/exam-intake/backend/internal/config"
	"github.com/exam-intake/backend/internal/intake"
	"github.com/exam-intake/backend/internal/testutil"
)

func newTestHandler() (*Handler, *intake.Manager, *testutil.MockStorage) {
	mgr := intake.NewManager(config.Default())
	mgr.SetSleepFunc(func(time.Duration) {})
	store := testutil.NewMockStorage()
	return NewHandler(mgr, store, "test"), mgr, store
}

func newJSONContext(method, target string, body interface{}) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

// waitForSettle blocks until the running batch publishes its finished event.
func waitForSettle(t *testing.T, mgr *intake.Manager, events <-chan intake.Event) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == intake.EventBatchFinished {
				return
			}
		case <-deadline:
			t.Fatal("batch did not settle in time")
		}
	}
}

func TestHandleIntakeJSON(t *testing.T) {
	tests := []struct {
		name         string
		request      intakeRequest
		wantErr      bool
		errCode      string
		wantAccepted int
		wantRejected int
	}{
		{
			name: "valid pdf",
			request: intakeRequest{Files: []intakeFileEntry{
				{Name: "syllabus.pdf", Size: 2048, Type: "application/pdf"},
			}},
			wantAccepted: 1,
		},
		{
			name: "mixed batch keeps survivors",
			request: intakeRequest{Files: []intakeFileEntry{
				{Name: "notes.txt", Size: 100, Type: "text/plain"},
				{Name: "huge.png", Size: 15 * 1024 * 1024, Type: "image/png"},
				{Name: "archive.zip", Size: 10, Type: "application/zip"},
			}},
			wantAccepted: 1,
			wantRejected: 2,
		},
		{
			name:    "empty batch",
			request: intakeRequest{},
			wantErr: true,
			errCode: "VALIDATION_ERROR",
		},
		{
			name: "missing name",
			request: intakeRequest{Files: []intakeFileEntry{
				{Size: 10, Type: "application/pdf"},
			}},
			wantErr: true,
			errCode: "VALIDATION_ERROR",
		},
		{
			name: "invalid base64",
			request: intakeRequest{Files: []intakeFileEntry{
				{Name: "a.pdf", Size: 10, Type: "application/pdf", Data: "not base64!!!"},
			}},
			wantErr: true,
			errCode: "BAD_REQUEST",
		},
		{
			name: "unknown exam",
			request: intakeRequest{Exam: "olympiad", Files: []intakeFileEntry{
				{Name: "a.pdf", Size: 10, Type: "application/pdf"},
			}},
			wantErr: true,
			errCode: "NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, _, _ := newTestHandler()
			c, rec := newJSONContext(http.MethodPost, "/api/files", tt.request)

			err := handler.HandleIntake(c)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				apiErr, ok := err.(*APIError)
				if !ok {
					t.Fatalf("expected APIError, got %T", err)
				}
				if apiErr.Code != tt.errCode {
					t.Errorf("expected error code %s, got %s", tt.errCode, apiErr.Code)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != http.StatusOK {
				t.Errorf("expected status 200, got %d", rec.Code)
			}

			var resp intakeResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("invalid response JSON: %v", err)
			}
			if len(resp.Accepted) != tt.wantAccepted {
				t.Errorf("expected %d accepted, got %d", tt.wantAccepted, len(resp.Accepted))
			}
			if len(resp.Rejected) != tt.wantRejected {
				t.Errorf("expected %d rejected, got %d", tt.wantRejected, len(resp.Rejected))
			}
			for _, f := range resp.Accepted {
				if f.Status != "pending" {
					t.Errorf("accepted file %s not pending: %s", f.Name, f.Status)
				}
				if f.SizeLabel == "" || f.Glyph == "" {
					t.Errorf("accepted file %s missing presentation fields", f.Name)
				}
			}
			for _, r := range resp.Rejected {
				if r.Reason == "" {
					t.Errorf("rejected file %s has empty reason", r.Name)
				}
			}
		})
	}
}

func TestHandleIntakeStoresPayload(t *testing.T) {
	handler, mgr, store := newTestHandler()

	payload := []byte("%PDF-1.4 test content")
	c, rec := newJSONContext(http.MethodPost, "/api/files", intakeRequest{
		Files: []intakeFileEntry{{
			Name: "admit-card.pdf",
			Type: "application/pdf",
			Data: base64.StdEncoding.EncodeToString(payload),
		}},
	})

	if err := handler.HandleIntake(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp intakeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if len(resp.Accepted) != 1 {
		t.Fatalf("expected 1 accepted file, got %d", len(resp.Accepted))
	}

	id := resp.Accepted[0].ID
	if !store.Has(id) {
		t.Error("payload not stored")
	}
	// Size was omitted, so it falls back to the decoded payload length.
	f, ok := mgr.Get(id)
	if !ok {
		t.Fatal("file not tracked")
	}
	if f.Size != int64(len(payload)) {
		t.Errorf("expected size %d, got %d", len(payload), f.Size)
	}
}

func TestHandleIntakeMultipart(t *testing.T) {
	handler, _, store := newTestHandler()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="files"; filename="photo.jpg"`)
	hdr.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(hdr)
	if err != nil {
		t.Fatalf("creating part: %v", err)
	}
	part.Write([]byte("jpeg bytes"))
	w.WriteField("exam", "")
	w.Close()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/files", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := handler.HandleIntake(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp intakeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if len(resp.Accepted) != 1 {
		t.Fatalf("expected 1 accepted file, got %d", len(resp.Accepted))
	}
	if !store.Has(resp.Accepted[0].ID) {
		t.Error("multipart payload not stored")
	}
}

func TestHandleListFilesAndSummary(t *testing.T) {
	handler, mgr, _ := newTestHandler()
	mgr.Add([]intake.FileMeta{
		{Name: "a.pdf", Size: 1024, Type: "application/pdf"},
		{Name: "b.txt", Size: 512, Type: "text/plain"},
	}, "")

	c, rec := newJSONContext(http.MethodGet, "/api/files", nil)
	if err := handler.HandleListFiles(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var files []fileView
	if err := json.Unmarshal(rec.Body.Bytes(), &files); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
	if files[0].Name != "a.pdf" || files[1].Name != "b.txt" {
		t.Error("files not in intake order")
	}

	c, rec = newJSONContext(http.MethodGet, "/api/files/summary", nil)
	if err := handler.HandleSummary(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var summary map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if summary["totalFiles"].(float64) != 2 {
		t.Errorf("expected totalFiles 2, got %v", summary["totalFiles"])
	}
	if summary["totalSizeLabel"].(string) != "1.5 KB" {
		t.Errorf("expected totalSizeLabel 1.5 KB, got %v", summary["totalSizeLabel"])
	}
}

func TestHandleListFilesMsgpack(t *testing.T) {
	handler, mgr, _ := newTestHandler()
	mgr.Add([]intake.FileMeta{
		{Name: "a.pdf", Size: 1024, Type: "application/pdf"},
	}, "")

	c, rec := newJSONContext(http.MethodGet, "/api/files/msgpack", nil)
	if err := handler.HandleListFilesMsgpack(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/msgpack" {
		t.Errorf("expected msgpack content type, got %s", ct)
	}

	var decoded map[string]interface{}
	if err := msgpack.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid msgpack payload: %v", err)
	}
	if _, ok := decoded["files"]; !ok {
		t.Error("msgpack payload missing files")
	}
	if _, ok := decoded["summary"]; !ok {
		t.Error("msgpack payload missing summary")
	}
}

func TestHandleGetFile(t *testing.T) {
	handler, mgr, _ := newTestHandler()
	results, _ := mgr.Add([]intake.FileMeta{
		{Name: "a.pdf", Size: 1024, Type: "application/pdf"},
	}, "")
	id := results[0].File.ID

	c, rec := newJSONContext(http.MethodGet, "/api/files/"+id, nil)
	c.SetParamNames("id")
	c.SetParamValues(id)
	if err := handler.HandleGetFile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var f fileView
	if err := json.Unmarshal(rec.Body.Bytes(), &f); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if f.ID != id || f.Glyph != "pdf" {
		t.Errorf("unexpected file view: %+v", f)
	}

	c, _ = newJSONContext(http.MethodGet, "/api/files/nope", nil)
	c.SetParamNames("id")
	c.SetParamValues("nope")
	err := handler.HandleGetFile(c)
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Status != http.StatusNotFound {
		t.Errorf("expected 404 APIError, got %v", err)
	}
}

func TestHandleGetFileContent(t *testing.T) {
	handler, mgr, store := newTestHandler()
	results, _ := mgr.Add([]intake.FileMeta{
		{Name: "a.pdf", Size: 4, Type: "application/pdf"},
	}, "")
	id := results[0].File.ID
	store.Put(id, bytes.NewReader([]byte("data")))

	c, rec := newJSONContext(http.MethodGet, "/api/files/"+id+"/content", nil)
	c.SetParamNames("id")
	c.SetParamValues(id)
	if err := handler.HandleGetFileContent(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Body.String() != "data" {
		t.Errorf("expected payload bytes, got %q", rec.Body.String())
	}
	if cd := rec.Header().Get(echo.HeaderContentDisposition); cd != `attachment; filename="a.pdf"` {
		t.Errorf("unexpected content disposition %q", cd)
	}
}

func TestHandleRemoveFile(t *testing.T) {
	handler, mgr, store := newTestHandler()
	results, _ := mgr.Add([]intake.FileMeta{
		{Name: "a.pdf", Size: 1024, Type: "application/pdf"},
	}, "")
	id := results[0].File.ID
	store.Put(id, bytes.NewReader([]byte("data")))

	c, rec := newJSONContext(http.MethodDelete, "/api/files/"+id, nil)
	c.SetParamNames("id")
	c.SetParamValues(id)
	if err := handler.HandleRemoveFile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rec.Code)
	}
	if store.Has(id) {
		t.Error("payload not deleted")
	}

	// Removal is idempotent.
	c, rec = newJSONContext(http.MethodDelete, "/api/files/"+id, nil)
	c.SetParamNames("id")
	c.SetParamValues(id)
	if err := handler.HandleRemoveFile(c); err != nil {
		t.Fatalf("unexpected error on repeat removal: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected status 204 on repeat removal, got %d", rec.Code)
	}
}

func TestHandleRemoveFileDuringUpload(t *testing.T) {
	handler, mgr, _ := newTestHandler()

	gate := make(chan struct{})
	mgr.SetSleepFunc(func(time.Duration) { <-gate })

	results, _ := mgr.Add([]intake.FileMeta{
		{Name: "a.pdf", Size: 1024, Type: "application/pdf"},
	}, "")
	id := results[0].File.ID

	events, cancel := mgr.Subscribe()
	defer cancel()

	if _, err := mgr.UploadAll(); err != nil {
		t.Fatalf("upload trigger failed: %v", err)
	}

	c, _ := newJSONContext(http.MethodDelete, "/api/files/"+id, nil)
	c.SetParamNames("id")
	c.SetParamValues(id)
	err := handler.HandleRemoveFile(c)
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Status != http.StatusConflict {
		t.Errorf("expected 409 APIError, got %v", err)
	}

	close(gate)
	waitForSettle(t, mgr, events)
}

func TestHandleStartUpload(t *testing.T) {
	handler, mgr, _ := newTestHandler()
	mgr.Add([]intake.FileMeta{
		{Name: "a.pdf", Size: 1024, Type: "application/pdf"},
	}, "")

	gate := make(chan struct{})
	mgr.SetSleepFunc(func(time.Duration) { <-gate })

	events, cancel := mgr.Subscribe()
	defer cancel()

	c, rec := newJSONContext(http.MethodPost, "/api/uploads", nil)
	if err := handler.HandleStartUpload(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", rec.Code)
	}
	var resp map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["started"].(float64) != 1 {
		t.Errorf("expected 1 started file, got %v", resp["started"])
	}

	// A second trigger while the batch runs is refused.
	c, _ = newJSONContext(http.MethodPost, "/api/uploads", nil)
	err := handler.HandleStartUpload(c)
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Status != http.StatusConflict {
		t.Errorf("expected 409 APIError, got %v", err)
	}

	close(gate)
	waitForSettle(t, mgr, events)
}

func TestHandleStartUploadNothingPending(t *testing.T) {
	handler, _, _ := newTestHandler()

	c, rec := newJSONContext(http.MethodPost, "/api/uploads", nil)
	if err := handler.HandleStartUpload(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["started"].(float64) != 0 {
		t.Errorf("expected 0 started files, got %v", resp["started"])
	}
	if resp["inProgress"].(bool) {
		t.Error("expected inProgress false")
	}
}

func TestHandleUploadStatus(t *testing.T) {
	handler, mgr, _ := newTestHandler()
	mgr.Add([]intake.FileMeta{
		{Name: "a.pdf", Size: 1024, Type: "application/pdf"},
	}, "")

	c, rec := newJSONContext(http.MethodGet, "/api/uploads/status", nil)
	if err := handler.HandleUploadStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["inProgress"].(bool) {
		t.Error("expected inProgress false before trigger")
	}
	summary := resp["summary"].(map[string]interface{})
	if summary["pending"].(float64) != 1 {
		t.Errorf("expected 1 pending, got %v", summary["pending"])
	}
}

func TestHandleCleanup(t *testing.T) {
	handler, mgr, store := newTestHandler()
	results, _ := mgr.Add([]intake.FileMeta{
		{Name: "a.pdf", Size: 1024, Type: "application/pdf"},
	}, "")
	id := results[0].File.ID
	store.Put(id, bytes.NewReader([]byte("data")))

	events, cancel := mgr.Subscribe()
	defer cancel()
	mgr.UploadAll()
	waitForSettle(t, mgr, events)

	c, rec := newJSONContext(http.MethodPost, "/api/cleanup", nil)
	if err := handler.HandleCleanup(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["removed"].(float64) != 1 {
		t.Errorf("expected 1 removed file, got %v", resp["removed"])
	}
	if store.Has(id) {
		t.Error("payload not deleted on cleanup")
	}
	if len(mgr.List()) != 0 {
		t.Error("collection not empty after cleanup")
	}
}

func TestHandleGetIntakeConfig(t *testing.T) {
	handler, _, _ := newTestHandler()

	c, rec := newJSONContext(http.MethodGet, "/api/config/intake", nil)
	if err := handler.HandleGetIntakeConfig(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp intakeConfigResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if resp.MaxFileBytes != config.DefaultMaxFileBytes {
		t.Errorf("expected max bytes %d, got %d", config.DefaultMaxFileBytes, resp.MaxFileBytes)
	}
	if resp.MaxFileSizeLabel != "10 MB" {
		t.Errorf("expected label 10 MB, got %s", resp.MaxFileSizeLabel)
	}
	if len(resp.AllowedTypes) != 7 {
		t.Errorf("expected 7 allowed types, got %d", len(resp.AllowedTypes))
	}
	if resp.PickerExtensions != config.DefaultPickerExtensions {
		t.Errorf("unexpected picker extensions %s", resp.PickerExtensions)
	}
}

func TestHandleListExams(t *testing.T) {
	handler, _, _ := newTestHandler()

	c, rec := newJSONContext(http.MethodGet, "/api/exams", nil)
	if err := handler.HandleListExams(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var views []examView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if len(views) != 5 {
		t.Fatalf("expected 5 exam profiles, got %d", len(views))
	}
	for i := 1; i < len(views); i++ {
		if views[i-1].ID >= views[i].ID {
			t.Errorf("exams not sorted: %s before %s", views[i-1].ID, views[i].ID)
		}
	}
}

func TestHandleGetExam(t *testing.T) {
	handler, _, _ := newTestHandler()

	c, rec := newJSONContext(http.MethodGet, "/api/exams/neet", nil)
	c.SetParamNames("exam")
	c.SetParamValues("neet")
	if err := handler.HandleGetExam(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var view examView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if view.Name != "NEET" {
		t.Errorf("expected NEET, got %s", view.Name)
	}
	if view.MaxSizes["application/pdf"] != 2*1024*1024 {
		t.Errorf("unexpected pdf cap %d", view.MaxSizes["application/pdf"])
	}

	c, _ = newJSONContext(http.MethodGet, "/api/exams/olympiad", nil)
	c.SetParamNames("exam")
	c.SetParamValues("olympiad")
	err := handler.HandleGetExam(c)
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.Status != http.StatusNotFound {
		t.Errorf("expected 404 APIError, got %v", err)
	}
}

func TestHandleHealth(t *testing.T) {
	handler, _, _ := newTestHandler()

	c, rec := newJSONContext(http.MethodGet, "/health", nil)
	if err := handler.HandleHealth(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != "healthy" {
		t.Errorf("expected healthy status, got %v", resp["status"])
	}
	if resp["service"] != "exam-intake" {
		t.Errorf("expected service exam-intake, got %v", resp["service"])
	}
}
