package core

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"finops-copilot/internal/objstore"
	"finops-copilot/internal/store"
)

const (
	filePreviewMaxChars    = 1000
	contextMessageLimit    = 10
	contextMessageMaxChars = 500

	defaultThreadTitle = "New Conversation"

	replyNoContent = "Please enter a message or upload files to start a conversation."

	replyIrrelevantFilesAndMessage = "The uploaded files and message don't appear to be related to cloud cost optimization. " +
		"Please upload cloud billing files, usage metrics, or ask FinOps-related questions."

	replyIrrelevantFilesOnly = "The uploaded files don't appear to be related to cloud cost optimization. " +
		"Please upload cloud billing files (AWS, Azure, GCP invoices), usage metrics, or infrastructure configuration files."

	replyIrrelevantNoFiles = "I'm specialized in cloud cost optimization and FinOps. " +
		"Please ask me about cloud billing, cost optimization strategies, usage metrics analysis, or upload relevant cloud infrastructure files."
)

type ChatReply struct {
	Reply      string `json:"reply"`
	ThreadID   string `json:"threadId,omitempty"`
	AnalysisID *int64 `json:"analysisId,omitempty"`
	MessageID  string `json:"messageId,omitempty"`
}

type ChatService struct {
	dbStore    *store.SQLiteStore
	objects    objstore.ObjectStore
	classifier Classifier
	llm        LLM
	logger     *zap.Logger
}

func NewChatService(db *store.SQLiteStore, objects objstore.ObjectStore, classifier Classifier, llm LLM, logger *zap.Logger) *ChatService {
	return &ChatService{
		dbStore:    db,
		objects:    objects,
		classifier: classifier,
		llm:        llm,
		logger:     logger,
	}
}

func (s *ChatService) NewThread(userID string) (string, error) {
	thread, err := s.dbStore.CreateThread(userID)
	if err != nil {
		return "", fmt.Errorf("failed to create thread: %w", err)
	}
	return thread.ThreadID, nil
}

// ProcessMessage orchestrates one chat turn: resolve the active thread,
// gather the session's files, run the relevance gate, branch to the
// cost-optimization prompt or a canned refusal, and persist the results.
func (s *ChatService) ProcessMessage(ctx context.Context, userID, message string, fileIDs []int64, sessionID string) (*ChatReply, error) {
	hasContent := strings.TrimSpace(message) != "" || len(fileIDs) > 0

	threadID, err := s.dbStore.GetLatestThreadID(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve latest thread: %w", err)
	}
	if threadID == "" {
		if !hasContent {
			return &ChatReply{Reply: replyNoContent}, nil
		}
		threadID, err = s.NewThread(userID)
		if err != nil {
			return nil, err
		}
	}

	s.logger.Info("Processing chat message",
		zap.String("threadId", threadID),
		zap.String("sessionId", sessionID),
		zap.Int("fileIds", len(fileIDs)))

	files, err := s.resolveFiles(userID, threadID, fileIDs, sessionID)
	if err != nil {
		return nil, err
	}

	messageID := uuid.NewString()

	fileContents, planText, metricsText := s.readFileContents(ctx, files)
	relevanceText := buildRelevanceText(files, fileContents, message)

	if !s.classifier.IsRelevant(relevanceText) {
		return s.finishIrrelevantTurn(userID, threadID, messageID, message, files)
	}

	contextText, err := s.relevantContext(userID, threadID)
	if err != nil {
		s.logger.Warn("Failed to fetch relevant context, proceeding without it", zap.Error(err))
		contextText = ""
	}

	result, err := s.llm.AnalyzeCosts(planText, metricsText, message, contextText)
	if err != nil {
		return nil, fmt.Errorf("cost analysis failed: %w", err)
	}

	// An Analysis is persisted for every reply produced by the
	// cost-optimization prompt, with or without files.
	analysis := &store.Analysis{
		UserID:   userID,
		ThreadID: &threadID,
		Plan:     planText,
		Metrics:  metricsText,
		Comment:  message,
		Result:   result,
	}
	if err := s.dbStore.SaveAnalysis(analysis); err != nil {
		return nil, fmt.Errorf("failed to save analysis: %w", err)
	}
	analysisID := analysis.ID

	if len(files) > 0 && sessionID != "" {
		if err := s.dbStore.LinkSessionFiles(userID, threadID, sessionID, messageID, &analysisID); err != nil {
			return nil, fmt.Errorf("failed to link session files: %w", err)
		}
		s.logger.Info("Linked session files to message",
			zap.Int("files", len(files)),
			zap.String("messageId", messageID))
	}

	userMsg := store.Message{
		MessageID:  messageID,
		UserID:     userID,
		ThreadID:   threadID,
		Role:       "user",
		Content:    userMessageContent(message, files),
		Relevant:   true,
		AnalysisID: &analysisID,
	}
	if err := s.dbStore.SaveMessage(&userMsg); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	assistantMsg := store.Message{
		UserID:     userID,
		ThreadID:   threadID,
		Role:       "assistant",
		Content:    result,
		Relevant:   true,
		AnalysisID: &analysisID,
	}
	if err := s.dbStore.SaveMessage(&assistantMsg); err != nil {
		return nil, fmt.Errorf("failed to save assistant message: %w", err)
	}

	s.maybeGenerateTitle(userID, threadID, userMsg.Content)

	return &ChatReply{
		Reply:      result,
		ThreadID:   threadID,
		AnalysisID: &analysisID,
		MessageID:  messageID,
	}, nil
}

func (s *ChatService) resolveFiles(userID, threadID string, fileIDs []int64, sessionID string) ([]store.UploadedFile, error) {
	if len(fileIDs) > 0 {
		files, err := s.dbStore.GetFilesByIDs(userID, threadID, fileIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch files by ids: %w", err)
		}
		return files, nil
	}
	if sessionID != "" {
		files, err := s.dbStore.GetFilesBySession(sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch files by session: %w", err)
		}
		return files, nil
	}
	return nil, nil
}

// readFileContents pulls each file's bytes from the object store and splits
// them into the plan/billing input and the usage-metrics input by filename
// heuristic. Only the last-seen file of each category is retained. Unreadable
// files are skipped, not fatal.
func (s *ChatService) readFileContents(ctx context.Context, files []store.UploadedFile) (fileContents, planText, metricsText string) {
	var sb strings.Builder
	for _, file := range files {
		sb.WriteString("File: " + file.FileName + "\n")

		r, _, err := s.objects.Get(ctx, file.StorageKey)
		if err != nil {
			s.logger.Warn("Could not read file from object store",
				zap.String("key", file.StorageKey),
				zap.Error(err))
			continue
		}
		data, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			s.logger.Warn("Could not read file bytes",
				zap.String("key", file.StorageKey),
				zap.Error(err))
			continue
		}

		content := string(data)
		sb.WriteString("Content preview: " + truncate(content, filePreviewMaxChars) + "\n\n")

		name := strings.ToLower(file.FileName)
		if strings.Contains(name, "plan") || strings.Contains(name, "billing") {
			planText = content
		} else {
			metricsText = content
		}
	}
	return sb.String(), planText, metricsText
}

func buildRelevanceText(files []store.UploadedFile, fileContents, message string) string {
	if len(files) == 0 {
		return "User message: " + message
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.FileName)
	}
	return fmt.Sprintf("Files: %s\n\n%s\n\nUser message: %s", strings.Join(names, ", "), fileContents, message)
}

// relevantContext assembles the bounded context window: up to 10 prior
// messages in the thread marked relevant, each truncated to 500 characters.
func (s *ChatService) relevantContext(userID, threadID string) (string, error) {
	messages, err := s.dbStore.GetRelevantMessages(userID, threadID, contextMessageLimit)
	if err != nil {
		return "", err
	}
	if len(messages) == 0 {
		return "", nil
	}

	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		lines = append(lines, msg.Role+": "+truncate(msg.Content, contextMessageMaxChars))
	}
	return "Previous relevant context:\n" + strings.Join(lines, "\n") + "\n\n", nil
}

func (s *ChatService) finishIrrelevantTurn(userID, threadID, messageID, message string, files []store.UploadedFile) (*ChatReply, error) {
	s.logger.Info("Content is irrelevant, saving as non-relevant message", zap.String("threadId", threadID))

	userMsg := store.Message{
		MessageID: messageID,
		UserID:    userID,
		ThreadID:  threadID,
		Role:      "user",
		Content:   userMessageContent(message, files),
		Relevant:  false,
	}
	if err := s.dbStore.SaveMessage(&userMsg); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	var reply string
	switch {
	case len(files) > 0 && strings.TrimSpace(message) != "":
		reply = replyIrrelevantFilesAndMessage
	case len(files) > 0:
		reply = replyIrrelevantFilesOnly
	default:
		reply = replyIrrelevantNoFiles
	}

	assistantMsg := store.Message{
		UserID:   userID,
		ThreadID: threadID,
		Role:     "assistant",
		Content:  reply,
		Relevant: false,
	}
	if err := s.dbStore.SaveMessage(&assistantMsg); err != nil {
		return nil, fmt.Errorf("failed to save assistant message: %w", err)
	}

	return &ChatReply{Reply: reply, ThreadID: threadID}, nil
}

func userMessageContent(message string, files []store.UploadedFile) string {
	if strings.TrimSpace(message) != "" || len(files) == 0 {
		return message
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.FileName)
	}
	return "[Uploaded Files: " + strings.Join(names, ", ") + "]"
}

// maybeGenerateTitle replaces the placeholder thread title after the first
// relevant exchange, in the background.
func (s *ChatService) maybeGenerateTitle(userID, threadID, basis string) {
	thread, err := s.dbStore.GetThreadByID(userID, threadID)
	if err != nil || thread == nil || thread.Title != defaultThreadTitle {
		return
	}
	go func() {
		title, err := s.llm.GenerateTitle(basis)
		if err != nil {
			s.logger.Warn("Failed to generate thread title", zap.String("threadId", threadID), zap.Error(err))
			return
		}
		if err := s.dbStore.UpdateThreadTitle(userID, threadID, title); err != nil {
			s.logger.Warn("Failed to save thread title", zap.String("threadId", threadID), zap.Error(err))
		}
	}()
}

// Thread manager operations

func (s *ChatService) ListThreads(userID string) ([]store.Thread, error) {
	return s.dbStore.ListThreads(userID)
}

func (s *ChatService) GetLatestThreadID(userID string) (string, error) {
	return s.dbStore.GetLatestThreadID(userID)
}

// DeleteThread cascades metadata deletion and purges the backing object
// bytes. Object deletions are best-effort: a missing or failing object never
// blocks metadata cleanup.
func (s *ChatService) DeleteThread(ctx context.Context, userID, threadID string) error {
	keys, err := s.dbStore.GetThreadFileKeys(userID, threadID)
	if err != nil {
		return err
	}
	if err := s.dbStore.DeleteThread(userID, threadID); err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.objects.Delete(ctx, key); err != nil && err != objstore.ErrObjectNotFound {
			s.logger.Warn("Failed to purge object for deleted thread",
				zap.String("key", key),
				zap.Error(err))
		}
	}
	return nil
}

// ThreadMessages returns the thread's messages with their linked files, each
// file annotated with its download URL.
func (s *ChatService) ThreadMessages(userID, threadID string) ([]store.MessageWithFiles, error) {
	messages, err := s.dbStore.GetThreadMessagesWithFiles(userID, threadID)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		for j := range messages[i].Files {
			messages[i].Files[j].DownloadURL = DownloadURL(messages[i].Files[j].StorageKey)
		}
	}
	return messages, nil
}

// History returns the latest thread's messages, or an empty list when the
// user has no thread or the latest thread has no messages yet.
func (s *ChatService) History(userID string) ([]store.MessageWithFiles, error) {
	threadID, err := s.dbStore.GetLatestThreadID(userID)
	if err != nil {
		return nil, err
	}
	if threadID == "" {
		return []store.MessageWithFiles{}, nil
	}
	messages, err := s.ThreadMessages(userID, threadID)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []store.MessageWithFiles{}
	}
	return messages, nil
}

// SummarizeThread condenses the whole thread into key spend drivers and
// actions.
func (s *ChatService) SummarizeThread(userID, threadID string) (string, error) {
	messages, err := s.dbStore.GetThreadMessages(userID, threadID)
	if err != nil {
		return "", err
	}

	fullText := "No messages."
	if len(messages) > 0 {
		lines := make([]string, 0, len(messages))
		for _, msg := range messages {
			lines = append(lines, msg.Role+": "+msg.Content)
		}
		fullText = strings.Join(lines, "\n")
	}

	return s.llm.SummarizeThread(fullText)
}

// DownloadURL is the route serving a stored object's bytes.
func DownloadURL(storageKey string) string {
	return "/api/files/" + storageKey
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
