package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/zap"

	"finops-copilot/internal/core"
	"finops-copilot/internal/objstore"
	"finops-copilot/internal/store"
)

type stubClassifier struct{ relevant bool }

func (s *stubClassifier) IsRelevant(text string) bool { return s.relevant }

type stubLLM struct{ result string }

func (s *stubLLM) AnalyzeCosts(plan, metrics, comment, contextText string) (string, error) {
	return s.result, nil
}
func (s *stubLLM) SummarizeThread(fullText string) (string, error) { return "summary", nil }
func (s *stubLLM) GenerateTitle(basis string) (string, error)      { return "Cost Review", nil }

func newTestServer(t *testing.T, relevant bool, debugEndpoints bool) (*httptest.Server, *store.SQLiteStore) {
	t.Helper()

	dbStore, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { dbStore.Close() })

	objects := objstore.NewMemoryStore()
	logger := zap.NewNop()
	chatService := core.NewChatService(dbStore, objects, &stubClassifier{relevant: relevant}, &stubLLM{result: "Reduce EC2 spend."}, logger)
	handler := NewAPIHandler(chatService, dbStore, objects, logger)

	srv := httptest.NewServer(NewRouter(handler, t.TempDir(), debugEndpoints))
	t.Cleanup(srv.Close)
	return srv, dbStore
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body
}

func uploadFile(t *testing.T, srv *httptest.Server, fileName, contentType, sessionID, content string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if sessionID != "" {
		if err := mw.WriteField("sessionId", sessionID); err != nil {
			t.Fatalf("failed to write sessionId field: %v", err)
		}
	}
	if contentType != "" {
		if err := mw.WriteField("fileType", contentType); err != nil {
			t.Fatalf("failed to write fileType field: %v", err)
		}
	}
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		t.Fatalf("failed to write file content: %v", err)
	}
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/files/upload", &buf)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload request failed: %v", err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, true, false)

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestNewThread_DistinctIDs(t *testing.T) {
	srv, _ := newTestServer(t, true, false)

	var ids []string
	for i := 0; i < 2; i++ {
		resp, err := http.Post(srv.URL+"/api/chat/new", "application/json", nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		body := decodeBody(t, resp)
		id, _ := body["threadId"].(string)
		if id == "" {
			t.Fatal("expected non-empty threadId")
		}
		ids = append(ids, id)
	}
	if ids[0] == ids[1] {
		t.Errorf("expected distinct thread ids, both were %s", ids[0])
	}
}

func TestChat_RelevantMessage(t *testing.T) {
	srv, _ := newTestServer(t, true, false)

	payload := `{"message": "why is my aws bill so high?"}`
	resp, err := http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeBody(t, resp)
	if body["reply"] != "Reduce EC2 spend." {
		t.Errorf("unexpected reply: %v", body["reply"])
	}
	if body["threadId"] == "" || body["threadId"] == nil {
		t.Error("expected threadId in response")
	}
	if body["analysisId"] == nil {
		t.Error("expected analysisId in response")
	}
	if body["messageId"] == "" || body["messageId"] == nil {
		t.Error("expected messageId in response")
	}
}

func TestChat_IrrelevantMessage(t *testing.T) {
	srv, _ := newTestServer(t, false, false)

	payload := `{"message": "what's your favorite movie?"}`
	resp, err := http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeBody(t, resp)
	reply, _ := body["reply"].(string)
	if !strings.Contains(reply, "cloud cost optimization") {
		t.Errorf("expected redirect reply, got %q", reply)
	}
	if _, present := body["analysisId"]; present {
		t.Error("irrelevant turn must not include an analysisId")
	}
}

func TestChat_InvalidBody(t *testing.T) {
	srv, _ := newTestServer(t, true, false)

	resp, err := http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestUploadDownload_RoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, true, false)

	const content = "service,cost\nec2,42.50"
	resp := uploadFile(t, srv, "billing.csv", "text/csv", "sess-1", content)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)

	file, ok := body["file"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected file object in response, got %v", body)
	}
	if file["fileName"] != "billing.csv" {
		t.Errorf("unexpected fileName: %v", file["fileName"])
	}
	downloadURL, _ := file["downloadUrl"].(string)
	if downloadURL == "" {
		t.Fatal("expected downloadUrl in upload response")
	}

	dl, err := http.Get(srv.URL + downloadURL)
	if err != nil {
		t.Fatalf("download request failed: %v", err)
	}
	defer dl.Body.Close()

	if dl.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on download, got %d", dl.StatusCode)
	}
	data, err := io.ReadAll(dl.Body)
	if err != nil {
		t.Fatalf("failed to read download body: %v", err)
	}
	if string(data) != content {
		t.Errorf("downloaded bytes differ from upload: %q", data)
	}
	if disp := dl.Header.Get("Content-Disposition"); !strings.Contains(disp, "billing.csv") {
		t.Errorf("expected original filename in Content-Disposition, got %q", disp)
	}
}

func TestUpload_MissingSessionID(t *testing.T) {
	srv, _ := newTestServer(t, true, false)

	resp := uploadFile(t, srv, "billing.csv", "text/csv", "", "data")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestUpload_TooLarge(t *testing.T) {
	srv, _ := newTestServer(t, true, false)

	big := strings.Repeat("x", maxUploadBytes+1)
	resp := uploadFile(t, srv, "huge.csv", "text/csv", "sess-1", big)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestDownload_UnknownKey(t *testing.T) {
	srv, _ := newTestServer(t, true, false)

	resp, err := http.Get(srv.URL + "/api/files/guest/none/missing.csv")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestDeleteFile(t *testing.T) {
	srv, dbStore := newTestServer(t, true, false)

	resp := uploadFile(t, srv, "billing.csv", "text/csv", "sess-1", "data")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload failed with %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	file := body["file"].(map[string]interface{})
	fileID := int64(file["id"].(float64))
	downloadURL := file["downloadUrl"].(string)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/files/"+strconv.FormatInt(fileID, 10), nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	del, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete request failed: %v", err)
	}
	defer del.Body.Close()

	if del.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", del.StatusCode)
	}

	gone, err := dbStore.GetFileByID(fileID)
	if err != nil {
		t.Fatalf("GetFileByID failed: %v", err)
	}
	if gone != nil {
		t.Error("expected metadata row removed")
	}

	dl, err := http.Get(srv.URL + downloadURL)
	if err != nil {
		t.Fatalf("download request failed: %v", err)
	}
	defer dl.Body.Close()
	if dl.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", dl.StatusCode)
	}
}

func TestListThreads_OnlyNonEmpty(t *testing.T) {
	srv, _ := newTestServer(t, true, false)

	// One thread with a message, then a newer empty one.
	resp, err := http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader(`{"message": "aws bill"}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	resp, err = http.Post(srv.URL+"/api/chat/new", "application/json", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	list, err := http.Get(srv.URL + "/api/chat/list")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body := decodeBody(t, list)
	threads, ok := body["threads"].([]interface{})
	if !ok {
		t.Fatalf("expected threads array, got %v", body)
	}
	if len(threads) != 1 {
		t.Errorf("expected 1 listed thread, got %d", len(threads))
	}
}

func TestDeleteThread(t *testing.T) {
	srv, dbStore := newTestServer(t, true, false)

	resp, err := http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader(`{"message": "aws bill"}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body := decodeBody(t, resp)
	threadID := body["threadId"].(string)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/chat/threads/"+threadID, nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	del, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete request failed: %v", err)
	}
	defer del.Body.Close()

	if del.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", del.StatusCode)
	}

	thread, err := dbStore.GetThreadByID("guest", threadID)
	if err != nil {
		t.Fatalf("GetThreadByID failed: %v", err)
	}
	if thread != nil {
		t.Error("expected thread removed")
	}
}

func TestSummarize_RequiresThreadID(t *testing.T) {
	srv, _ := newTestServer(t, true, false)

	resp, err := http.Post(srv.URL+"/api/chat/summarize", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestDebugFiles_GatedByFlag(t *testing.T) {
	disabled, _ := newTestServer(t, true, false)
	resp, err := http.Get(disabled.URL + "/api/debug/files")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 when disabled, got %d", resp.StatusCode)
	}

	enabled, _ := newTestServer(t, true, true)
	resp, err = http.Get(enabled.URL + "/api/debug/files")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 when enabled, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	for _, key := range []string{"objects", "databaseFiles", "totalStorage"} {
		if _, present := body[key]; !present {
			t.Errorf("expected %s in debug payload", key)
		}
	}
}
