package store

import "time"

type Thread struct {
	ThreadID  string    `json:"threadId"` // UUID
	UserID    string    `json:"-"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	MsgCount  int       `json:"msgCount"`
}

type Message struct {
	MessageID  string    `json:"messageId"` // UUID
	UserID     string    `json:"-"`
	ThreadID   string    `json:"threadId"`
	Role       string    `json:"role"` // "user" or "assistant"
	Content    string    `json:"content"`
	Relevant   bool      `json:"relevant"`
	AnalysisID *int64    `json:"analysisId"` // Nullable, set only on relevant turns
	CreatedAt  time.Time `json:"createdAt"`
}

type UploadedFile struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"-"`
	ThreadID    string    `json:"-"`
	SessionID   string    `json:"-"` // Pre-message correlation token
	MessageID   *string   `json:"-"` // Set once the owning chat turn completes
	AnalysisID  *int64    `json:"-"`
	FileName    string    `json:"fileName"`
	FileType    string    `json:"fileType"`
	FileSize    int64     `json:"fileSize"`
	StorageKey  string    `json:"storageKey"`
	UploadedAt  time.Time `json:"uploadedAt"`
	DownloadURL string    `json:"downloadUrl,omitempty"`
}

type Analysis struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"-"`
	ThreadID  *string   `json:"threadId"`
	Plan      string    `json:"plan"`
	Metrics   string    `json:"metrics"`
	Comment   string    `json:"comment"`
	Result    string    `json:"result"`
	CreatedAt time.Time `json:"createdAt"`
}

type MessageWithFiles struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Relevant  bool           `json:"relevant"`
	MessageID string         `json:"messageId"`
	CreatedAt time.Time      `json:"createdAt"`
	Files     []UploadedFile `json:"files"`
}
