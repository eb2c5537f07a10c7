package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"finops-copilot/internal/core"
	"finops-copilot/internal/objstore"
	"finops-copilot/internal/store"
)

// The application is single-tenant: every request runs as the guest user.
// userId stays a column on every record so the store remains correct if a
// real identity layer is added later.
const defaultUserID = "guest"

const maxUploadBytes = 10 * 1024 * 1024

type APIHandler struct {
	chatService *core.ChatService
	dbStore     *store.SQLiteStore
	objects     objstore.ObjectStore
	logger      *zap.Logger
}

func NewAPIHandler(cs *core.ChatService, db *store.SQLiteStore, objects objstore.ObjectStore, logger *zap.Logger) *APIHandler {
	return &APIHandler{
		chatService: cs,
		dbStore:     db,
		objects:     objects,
		logger:      logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Chat handlers

func (h *APIHandler) NewThreadHandler(w http.ResponseWriter, r *http.Request) {
	threadID, err := h.chatService.NewThread(defaultUserID)
	if err != nil {
		h.logger.Error("Failed to create new thread", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create new chat")
		return
	}
	h.logger.Info("New thread created", zap.String("threadId", threadID))
	writeJSON(w, http.StatusOK, map[string]interface{}{"threadId": threadID, "success": true})
}

type ChatRequest struct {
	Message   string  `json:"message"`
	FileIDs   []int64 `json:"fileIds"`
	SessionID string  `json:"sessionId"`
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	reply, err := h.chatService.ProcessMessage(r.Context(), defaultUserID, req.Message, req.FileIDs, req.SessionID)
	if err != nil {
		h.logger.Error("Chat processing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

type MessageResponse struct {
	Role      string               `json:"role"`
	Text      string               `json:"text"`
	Files     []store.UploadedFile `json:"files"`
	MessageID string               `json:"messageId"`
	Timestamp *time.Time           `json:"timestamp,omitempty"`
}

func messageResponses(messages []store.MessageWithFiles, withTimestamp bool) []MessageResponse {
	out := make([]MessageResponse, 0, len(messages))
	for _, msg := range messages {
		resp := MessageResponse{
			Role:      msg.Role,
			Text:      msg.Content,
			Files:     msg.Files,
			MessageID: msg.MessageID,
		}
		if withTimestamp {
			ts := msg.CreatedAt
			resp.Timestamp = &ts
		}
		out = append(out, resp)
	}
	return out
}

func (h *APIHandler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chatService.History(defaultUserID)
	if err != nil {
		h.logger.Error("Failed to load history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messageResponses(messages, false)})
}

func (h *APIHandler) ListThreadsHandler(w http.ResponseWriter, r *http.Request) {
	threads, err := h.chatService.ListThreads(defaultUserID)
	if err != nil {
		h.logger.Error("Failed to list threads", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list threads")
		return
	}
	if threads == nil {
		threads = []store.Thread{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"threads": threads})
}

func (h *APIHandler) ThreadMessagesHandler(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	if threadID == "" {
		writeError(w, http.StatusBadRequest, "Thread ID required")
		return
	}

	messages, err := h.chatService.ThreadMessages(defaultUserID, threadID)
	if err != nil {
		h.logger.Error("Failed to load thread messages", zap.String("threadId", threadID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messageResponses(messages, true)})
}

func (h *APIHandler) DeleteThreadHandler(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	if threadID == "" {
		writeError(w, http.StatusBadRequest, "Thread ID required")
		return
	}

	if err := h.chatService.DeleteThread(r.Context(), defaultUserID, threadID); err != nil {
		h.logger.Error("Failed to delete thread", zap.String("threadId", threadID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to delete thread")
		return
	}
	h.logger.Info("Thread deleted", zap.String("threadId", threadID))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type SummarizeRequest struct {
	ThreadID string `json:"threadId"`
}

func (h *APIHandler) SummarizeHandler(w http.ResponseWriter, r *http.Request) {
	var req SummarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.ThreadID == "" {
		writeError(w, http.StatusBadRequest, "threadId is required")
		return
	}

	summary, err := h.chatService.SummarizeThread(defaultUserID, req.ThreadID)
	if err != nil {
		h.logger.Error("Failed to summarize thread", zap.String("threadId", req.ThreadID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to summarize thread")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

// File handlers

func (h *APIHandler) UploadFileHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+64*1024)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "File too large. Maximum size is 10MB.")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	sessionID := r.FormValue("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "Session ID required")
		return
	}

	if header.Size > maxUploadBytes {
		writeError(w, http.StatusBadRequest, "File too large. Maximum size is 10MB.")
		return
	}

	fileType := header.Header.Get("Content-Type")
	if ft := r.FormValue("fileType"); ft != "" {
		fileType = ft
	}
	if fileType == "" {
		fileType = "application/octet-stream"
	}

	threadID := r.URL.Query().Get("threadId")
	if threadID == "" {
		threadID, err = h.chatService.GetLatestThreadID(defaultUserID)
		if err != nil {
			h.logger.Error("Failed to resolve thread for upload", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "File upload failed")
			return
		}
	}
	if threadID == "" {
		threadID, err = h.chatService.NewThread(defaultUserID)
		if err != nil {
			h.logger.Error("Failed to create thread for upload", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "File upload failed")
			return
		}
	}

	key := objstore.NewObjectKey(defaultUserID, threadID, header.Filename)
	if err := h.objects.Put(r.Context(), key, fileType, header.Filename, file); err != nil {
		h.logger.Error("Object storage failed", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "File storage failed. Please try again.")
		return
	}

	meta := store.UploadedFile{
		UserID:     defaultUserID,
		ThreadID:   threadID,
		SessionID:  sessionID,
		FileName:   header.Filename,
		FileType:   fileType,
		FileSize:   header.Size,
		StorageKey: key,
	}
	if err := h.dbStore.SaveFileMetadata(&meta); err != nil {
		h.logger.Error("Failed to save file metadata", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "File upload failed")
		return
	}
	meta.DownloadURL = core.DownloadURL(key)

	h.logger.Info("File uploaded",
		zap.String("fileName", header.Filename),
		zap.Int64("fileSize", header.Size),
		zap.String("key", key))
	writeJSON(w, http.StatusOK, map[string]interface{}{"file": meta})
}

func (h *APIHandler) DownloadFileHandler(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		writeError(w, http.StatusBadRequest, "File key required")
		return
	}

	obj, info, err := h.objects.Get(r.Context(), key)
	if err != nil {
		if err == objstore.ErrObjectNotFound {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		h.logger.Error("File download failed", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Download failed")
		return
	}
	defer obj.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(info.FileName))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	io.Copy(w, obj)
}

func (h *APIHandler) DeleteFileHandler(w http.ResponseWriter, r *http.Request) {
	fileID, err := strconv.ParseInt(chi.URLParam(r, "fileID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid file ID")
		return
	}

	file, err := h.dbStore.GetFileByID(fileID)
	if err != nil {
		h.logger.Error("Failed to look up file", zap.Int64("fileId", fileID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to delete file")
		return
	}
	if file == nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	if err := h.objects.Delete(r.Context(), file.StorageKey); err != nil && err != objstore.ErrObjectNotFound {
		h.logger.Error("Failed to delete object", zap.String("key", file.StorageKey), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to delete file")
		return
	}

	if err := h.dbStore.DeleteFile(fileID); err != nil {
		h.logger.Error("Failed to delete file metadata", zap.Int64("fileId", fileID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to delete file")
		return
	}
	h.logger.Info("File deleted", zap.Int64("fileId", fileID), zap.String("key", file.StorageKey))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// DebugFilesHandler lists stored objects next to the newest metadata rows.
// Only mounted when DEBUG_ENDPOINTS=true.
func (h *APIHandler) DebugFilesHandler(w http.ResponseWriter, r *http.Request) {
	objects, err := h.objects.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list objects", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Debug listing failed")
		return
	}

	dbFiles, err := h.dbStore.ListRecentFiles(10)
	if err != nil {
		h.logger.Error("Failed to list file metadata", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Debug listing failed")
		return
	}
	if dbFiles == nil {
		dbFiles = []store.UploadedFile{}
	}
	if objects == nil {
		objects = []objstore.ObjectInfo{}
	}

	var totalBytes int64
	for _, obj := range objects {
		totalBytes += obj.Size
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"objects":       objects,
		"databaseFiles": dbFiles,
		"totalStorage":  totalBytes,
	})
}
