package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS conversations (
        threadId TEXT PRIMARY KEY, -- UUID
        userId TEXT NOT NULL,
        title TEXT NOT NULL,
        createdAt DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS messages (
        messageId TEXT PRIMARY KEY, -- UUID
        userId TEXT NOT NULL,
        threadId TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        relevant BOOLEAN NOT NULL DEFAULT FALSE,
        analysisId INTEGER,
        createdAt DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (threadId) REFERENCES conversations (threadId)
    );

    CREATE TABLE IF NOT EXISTS uploaded_files (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        userId TEXT NOT NULL,
        threadId TEXT NOT NULL,
        sessionId TEXT NOT NULL,
        messageId TEXT, -- Set once the owning chat turn completes
        analysisId INTEGER,
        fileName TEXT NOT NULL,
        fileType TEXT NOT NULL,
        fileSize INTEGER NOT NULL,
        storageKey TEXT NOT NULL,
        uploadedAt DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS analyses (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        userId TEXT NOT NULL,
        threadId TEXT,
        plan TEXT NOT NULL,
        metrics TEXT NOT NULL,
        comment TEXT NOT NULL,
        result TEXT NOT NULL,
        createdAt DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// Thread methods

func (s *SQLiteStore) CreateThread(userID string) (*Thread, error) {
	threadID := uuid.NewString()
	stmt, err := s.db.Prepare("INSERT INTO conversations (threadId, userId, title, createdAt) VALUES (?, ?, ?, ?)")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare thread insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	title := "New Conversation"
	_, err = stmt.Exec(threadID, userID, title, now)
	if err != nil {
		return nil, fmt.Errorf("failed to execute thread insert: %w", err)
	}
	return &Thread{ThreadID: threadID, UserID: userID, Title: title, CreatedAt: now}, nil
}

func (s *SQLiteStore) GetThreadByID(userID, threadID string) (*Thread, error) {
	var t Thread
	err := s.db.QueryRow("SELECT threadId, userId, title, createdAt FROM conversations WHERE threadId = ? AND userId = ?", threadID, userID).
		Scan(&t.ThreadID, &t.UserID, &t.Title, &t.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	return &t, nil
}

// GetLatestThreadID returns the most recently created thread for the user, or
// "" when the user has none. The latest thread is the implicit active thread.
func (s *SQLiteStore) GetLatestThreadID(userID string) (string, error) {
	var threadID string
	err := s.db.QueryRow("SELECT threadId FROM conversations WHERE userId = ? ORDER BY datetime(createdAt) DESC, rowid DESC LIMIT 1", userID).Scan(&threadID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to get latest thread: %w", err)
	}
	return threadID, nil
}

// ListThreads returns the user's threads that have at least one message,
// newest first, each annotated with its message count. Empty threads may
// exist in storage but are never listed.
func (s *SQLiteStore) ListThreads(userID string) ([]Thread, error) {
	query := `
        SELECT c.threadId, c.userId, c.title, c.createdAt,
            (SELECT COUNT(*) FROM messages m WHERE m.threadId = c.threadId) AS msgCount
        FROM conversations c
        WHERE c.userId = ?
        AND EXISTS (SELECT 1 FROM messages m WHERE m.threadId = c.threadId)
        ORDER BY datetime(c.createdAt) DESC, c.rowid DESC
    `
	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query threads: %w", err)
	}
	defer rows.Close()

	var threads []Thread
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.ThreadID, &t.UserID, &t.Title, &t.CreatedAt, &t.MsgCount); err != nil {
			return nil, fmt.Errorf("failed to scan thread row: %w", err)
		}
		threads = append(threads, t)
	}
	return threads, nil
}

func (s *SQLiteStore) UpdateThreadTitle(userID, threadID, title string) error {
	stmt, err := s.db.Prepare("UPDATE conversations SET title = ? WHERE threadId = ? AND userId = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare thread title update: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.Exec(title, threadID, userID)
	if err != nil {
		return fmt.Errorf("failed to execute thread title update: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("thread not found or not owned by user, title not updated")
	}
	return nil
}

// DeleteThread cascades deletion across uploaded-file metadata, messages and
// analyses scoped to the thread, then removes the conversation record itself.
// Object-store bytes are the caller's responsibility; collect their keys with
// GetThreadFileKeys before calling this.
func (s *SQLiteStore) DeleteThread(userID, threadID string) error {
	if _, err := s.db.Exec("DELETE FROM uploaded_files WHERE threadId = ?", threadID); err != nil {
		return fmt.Errorf("failed to delete thread files: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM messages WHERE threadId = ?", threadID); err != nil {
		return fmt.Errorf("failed to delete thread messages: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM analyses WHERE threadId = ?", threadID); err != nil {
		return fmt.Errorf("failed to delete thread analyses: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM conversations WHERE threadId = ? AND userId = ?", threadID, userID); err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	return nil
}

// Message methods

func (s *SQLiteStore) SaveMessage(msg *Message) error {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	msg.CreatedAt = time.Now()

	stmt, err := s.db.Prepare("INSERT INTO messages (messageId, userId, threadId, role, content, relevant, analysisId, createdAt) VALUES (?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(msg.MessageID, msg.UserID, msg.ThreadID, msg.Role, msg.Content, msg.Relevant, msg.AnalysisID, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute message insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetThreadMessages(userID, threadID string) ([]Message, error) {
	query := "SELECT messageId, userId, threadId, role, content, relevant, analysisId, createdAt FROM messages WHERE userId = ? AND threadId = ? ORDER BY datetime(createdAt) ASC, rowid ASC"
	rows, err := s.db.Query(query, userID, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// GetRelevantMessages returns up to limit of the earliest messages in the
// thread marked relevant, in chronological order. They form the bounded
// context window prepended to the cost-optimization prompt.
func (s *SQLiteStore) GetRelevantMessages(userID, threadID string, limit int) ([]Message, error) {
	query := `
        SELECT messageId, userId, threadId, role, content, relevant, analysisId, createdAt
        FROM messages
        WHERE userId = ? AND threadId = ? AND relevant = 1
        ORDER BY datetime(createdAt) ASC, rowid ASC
        LIMIT ?
    `
	rows, err := s.db.Query(query, userID, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query relevant messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		var msg Message
		var analysisID sql.NullInt64
		if err := rows.Scan(&msg.MessageID, &msg.UserID, &msg.ThreadID, &msg.Role, &msg.Content, &msg.Relevant, &analysisID, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if analysisID.Valid {
			msg.AnalysisID = &analysisID.Int64
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// GetThreadMessagesWithFiles returns the thread's messages in chronological
// order, each carrying the uploaded files linked to it. Files whose owning
// turn never completed (messageId still NULL) are omitted.
func (s *SQLiteStore) GetThreadMessagesWithFiles(userID, threadID string) ([]MessageWithFiles, error) {
	messages, err := s.GetThreadMessages(userID, threadID)
	if err != nil {
		return nil, err
	}

	query := `
        SELECT id, fileName, fileType, fileSize, storageKey, uploadedAt, messageId
        FROM uploaded_files
        WHERE userId = ? AND threadId = ?
        ORDER BY datetime(uploadedAt) ASC, id ASC
    `
	rows, err := s.db.Query(query, userID, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query thread files: %w", err)
	}
	defer rows.Close()

	filesByMessage := make(map[string][]UploadedFile)
	for rows.Next() {
		var f UploadedFile
		var messageID sql.NullString
		if err := rows.Scan(&f.ID, &f.FileName, &f.FileType, &f.FileSize, &f.StorageKey, &f.UploadedAt, &messageID); err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
		}
		if messageID.Valid && messageID.String != "" {
			filesByMessage[messageID.String] = append(filesByMessage[messageID.String], f)
		}
	}

	result := make([]MessageWithFiles, 0, len(messages))
	for _, msg := range messages {
		files := filesByMessage[msg.MessageID]
		if files == nil {
			files = []UploadedFile{}
		}
		result = append(result, MessageWithFiles{
			Role:      msg.Role,
			Content:   msg.Content,
			Relevant:  msg.Relevant,
			MessageID: msg.MessageID,
			CreatedAt: msg.CreatedAt,
			Files:     files,
		})
	}
	return result, nil
}

// Analysis methods

func (s *SQLiteStore) SaveAnalysis(a *Analysis) error {
	a.CreatedAt = time.Now()
	stmt, err := s.db.Prepare("INSERT INTO analyses (userId, threadId, plan, metrics, comment, result, createdAt) VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare analysis insert: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.Exec(a.UserID, a.ThreadID, a.Plan, a.Metrics, a.Comment, a.Result, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute analysis insert: %w", err)
	}
	a.ID, _ = res.LastInsertId()
	return nil
}

// UploadedFile methods

func (s *SQLiteStore) SaveFileMetadata(f *UploadedFile) error {
	f.UploadedAt = time.Now()
	stmt, err := s.db.Prepare("INSERT INTO uploaded_files (userId, threadId, sessionId, messageId, analysisId, fileName, fileType, fileSize, storageKey, uploadedAt) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare file insert: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.Exec(f.UserID, f.ThreadID, f.SessionID, f.MessageID, f.AnalysisID, f.FileName, f.FileType, f.FileSize, f.StorageKey, f.UploadedAt)
	if err != nil {
		return fmt.Errorf("failed to execute file insert: %w", err)
	}
	f.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) GetFilesByIDs(userID, threadID string, fileIDs []int64) ([]UploadedFile, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(fileIDs)), ",")
	query := fmt.Sprintf(`
        SELECT id, userId, threadId, sessionId, messageId, analysisId, fileName, fileType, fileSize, storageKey, uploadedAt
        FROM uploaded_files
        WHERE userId = ? AND threadId = ? AND id IN (%s)
        ORDER BY fileName ASC
    `, placeholders)

	args := make([]interface{}, 0, len(fileIDs)+2)
	args = append(args, userID, threadID)
	for _, id := range fileIDs {
		args = append(args, id)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query files by ids: %w", err)
	}
	defer rows.Close()

	return scanFiles(rows)
}

func (s *SQLiteStore) GetFilesBySession(sessionID string) ([]UploadedFile, error) {
	query := `
        SELECT id, userId, threadId, sessionId, messageId, analysisId, fileName, fileType, fileSize, storageKey, uploadedAt
        FROM uploaded_files
        WHERE sessionId = ?
        ORDER BY datetime(uploadedAt) ASC, id ASC
    `
	rows, err := s.db.Query(query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query files by session: %w", err)
	}
	defer rows.Close()

	return scanFiles(rows)
}

func scanFiles(rows *sql.Rows) ([]UploadedFile, error) {
	var files []UploadedFile
	for rows.Next() {
		var f UploadedFile
		var messageID sql.NullString
		var analysisID sql.NullInt64
		if err := rows.Scan(&f.ID, &f.UserID, &f.ThreadID, &f.SessionID, &messageID, &analysisID, &f.FileName, &f.FileType, &f.FileSize, &f.StorageKey, &f.UploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
		}
		if messageID.Valid {
			f.MessageID = &messageID.String
		}
		if analysisID.Valid {
			f.AnalysisID = &analysisID.Int64
		}
		files = append(files, f)
	}
	return files, nil
}

// LinkSessionFiles is phase 2 of the upload handshake: a single conditional
// update pointing every file of one upload session at the chat turn that
// consumed it. Keying on (userId, threadId, sessionId) keeps concurrent
// sessions from linking each other's uploads.
func (s *SQLiteStore) LinkSessionFiles(userID, threadID, sessionID, messageID string, analysisID *int64) error {
	stmt, err := s.db.Prepare("UPDATE uploaded_files SET messageId = ?, analysisId = ? WHERE userId = ? AND threadId = ? AND sessionId = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare file link update: %w", err)
	}
	defer stmt.Close()

	if _, err := stmt.Exec(messageID, analysisID, userID, threadID, sessionID); err != nil {
		return fmt.Errorf("failed to execute file link update: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetFileByID(id int64) (*UploadedFile, error) {
	query := `
        SELECT id, userId, threadId, sessionId, messageId, analysisId, fileName, fileType, fileSize, storageKey, uploadedAt
        FROM uploaded_files
        WHERE id = ?
    `
	rows, err := s.db.Query(query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query file: %w", err)
	}
	defer rows.Close()

	files, err := scanFiles(rows)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil // Not found
	}
	return &files[0], nil
}

func (s *SQLiteStore) DeleteFile(id int64) error {
	if _, err := s.db.Exec("DELETE FROM uploaded_files WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRecentFiles(limit int) ([]UploadedFile, error) {
	query := `
        SELECT id, userId, threadId, sessionId, messageId, analysisId, fileName, fileType, fileSize, storageKey, uploadedAt
        FROM uploaded_files
        ORDER BY datetime(uploadedAt) DESC, id DESC
        LIMIT ?
    `
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent files: %w", err)
	}
	defer rows.Close()

	return scanFiles(rows)
}

// GetThreadFileKeys returns the storage keys of every file uploaded to the
// thread, for purging object bytes when the thread is deleted.
func (s *SQLiteStore) GetThreadFileKeys(userID, threadID string) ([]string, error) {
	rows, err := s.db.Query("SELECT storageKey FROM uploaded_files WHERE userId = ? AND threadId = ?", userID, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query thread file keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan file key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
