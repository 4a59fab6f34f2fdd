package models

import "time"

// FileStatus represents the lifecycle status of a tracked file.
type FileStatus string

const (
	StatusPending   FileStatus = "pending"
	StatusUploading FileStatus = "uploading"
	StatusSuccess   FileStatus = "success"
	StatusError     FileStatus = "error"
)

// Terminal reports whether the status permits no further transitions.
func (s FileStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// TrackedFile is the application record for one user-selected file,
// distinct from the raw payload held by the storage layer.
type TrackedFile struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Size     int64      `json:"size"`
	Type     string     `json:"type"` // MIME type as declared at intake
	Status   FileStatus `json:"status"`
	Progress int        `json:"progress"` // 0-100, meaningful while uploading
	Error    string     `json:"error,omitempty"`
	AddedAt  time.Time  `json:"addedAt"`
}

// NewTrackedFile creates a TrackedFile in pending status.
func NewTrackedFile(id, name string, size int64, mimeType string) *TrackedFile {
	return &TrackedFile{
		ID:      id,
		Name:    name,
		Size:    size,
		Type:    mimeType,
		Status:  StatusPending,
		AddedAt: time.Now(),
	}
}

// RejectedFile describes an intake candidate that failed validation.
type RejectedFile struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// Summary aggregates the live collection for the summary panel.
// It is recomputed on every request, never cached.
type Summary struct {
	TotalFiles     int    `json:"totalFiles"`
	TotalSize      int64  `json:"totalSize"`
	TotalSizeLabel string `json:"totalSizeLabel"`
	Pending        int    `json:"pending"`
	Uploading      int    `json:"uploading"`
	Success        int    `json:"success"`
	Errors         int    `json:"errors"`
}
