package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// SQLiteStore 基于 SQLite (WAL 模式) 的持久化实现
// SQLiteStore implements Store using SQLite with WAL mode
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore 创建并初始化 SQLite 数据库
// NewSQLiteStore creates and initializes a SQLite database
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// 启用 WAL 模式和优化 PRAGMA / Enable WAL and performance PRAGMAs
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	store := &SQLiteStore{db: db, path: dbPath}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id                 TEXT PRIMARY KEY,
		title              TEXT NOT NULL DEFAULT '',
		summary            TEXT NOT NULL DEFAULT '',
		summarized_through INTEGER NOT NULL DEFAULT -1,
		created_at         TEXT NOT NULL,
		updated_at         TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS turns (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		seq             INTEGER NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL DEFAULT '',
		reasoning       TEXT NOT NULL DEFAULT '',
		tool_calls      TEXT NOT NULL DEFAULT '[]',
		created_at      TEXT NOT NULL,
		UNIQUE(conversation_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, seq);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close 关闭数据库连接 / Close the database connection
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- Conversation Operations ---

func (s *SQLiteStore) CreateConversation() (Conversation, error) {
	now := nowUTC()
	conv := Conversation{
		ID:                uuid.NewString(),
		SummarizedThrough: -1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	_, err := s.db.Exec(`
		INSERT INTO conversations (id, title, summary, summarized_through, created_at, updated_at)
		VALUES (?, '', '', -1, ?, ?)`,
		conv.ID, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) ListConversations() ([]Conversation, error) {
	rows, err := s.db.Query(`
		SELECT id, title, summary, summarized_through, created_at, updated_at
		FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.Summary, &c.SummarizedThrough, &c.CreatedAt, &c.UpdatedAt); err != nil {
			continue
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func (s *SQLiteStore) GetConversation(id string) (Conversation, []Turn, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Conversation{}, nil, fmt.Errorf("conversation id is empty")
	}
	row := s.db.QueryRow(`
		SELECT id, title, summary, summarized_through, created_at, updated_at
		FROM conversations WHERE id=?`, id)

	var conv Conversation
	err := row.Scan(&conv.ID, &conv.Title, &conv.Summary, &conv.SummarizedThrough, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return Conversation{}, nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
		}
		return Conversation{}, nil, fmt.Errorf("load conversation: %w", err)
	}

	turns, err := s.loadTurns(id)
	if err != nil {
		return Conversation{}, nil, err
	}
	return conv, turns, nil
}

func (s *SQLiteStore) loadTurns(conversationID string) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT id, seq, role, content, reasoning, tool_calls, created_at
		FROM turns WHERE conversation_id=? ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var toolCallsJSON string
		if err := rows.Scan(&t.ID, &t.Seq, &t.Role, &t.Content, &t.Reasoning,
			&toolCallsJSON, &t.CreatedAt); err != nil {
			continue
		}
		t.ConversationID = conversationID
		if toolCallsJSON != "" && toolCallsJSON != "[]" {
			var calls []ToolCallRecord
			if err := json.Unmarshal([]byte(toolCallsJSON), &calls); err == nil {
				t.ToolCalls = calls
			}
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (s *SQLiteStore) DeleteConversation(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("conversation id is empty")
	}
	res, err := s.db.Exec("DELETE FROM conversations WHERE id=?", id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	return nil
}

// --- Turn Operations ---

// AppendTurn 追加一条 turn；首条用户消息会顺带设置会话标题。
// AppendTurn appends a turn at the next sequence number. The first user turn
// also sets the conversation title from its content.
func (s *SQLiteStore) AppendTurn(conversationID string, turn Turn) (Turn, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return Turn{}, fmt.Errorf("conversation id is empty")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Turn{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var title string
	row := tx.QueryRow("SELECT title FROM conversations WHERE id=?", conversationID)
	if err := row.Scan(&title); err != nil {
		if err == sql.ErrNoRows {
			return Turn{}, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
		}
		return Turn{}, fmt.Errorf("load conversation: %w", err)
	}

	var nextSeq int
	row = tx.QueryRow("SELECT COALESCE(MAX(seq), -1) + 1 FROM turns WHERE conversation_id=?", conversationID)
	if err := row.Scan(&nextSeq); err != nil {
		return Turn{}, fmt.Errorf("next seq: %w", err)
	}

	toolCallsJSON := "[]"
	if len(turn.ToolCalls) > 0 {
		data, marshalErr := json.Marshal(turn.ToolCalls)
		if marshalErr == nil {
			toolCallsJSON = string(data)
		}
	}

	now := nowUTC()
	res, err := tx.Exec(`
		INSERT INTO turns (conversation_id, seq, role, content, reasoning, tool_calls, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conversationID, nextSeq, turn.Role, turn.Content, turn.Reasoning, toolCallsJSON, now)
	if err != nil {
		return Turn{}, fmt.Errorf("insert turn: %w", err)
	}
	rowID, _ := res.LastInsertId()

	if turn.Role == RoleUser && strings.TrimSpace(title) == "" {
		if _, err := tx.Exec("UPDATE conversations SET title=?, updated_at=? WHERE id=?",
			inferTitle(turn.Content), now, conversationID); err != nil {
			return Turn{}, fmt.Errorf("set title: %w", err)
		}
	} else {
		if _, err := tx.Exec("UPDATE conversations SET updated_at=? WHERE id=?",
			now, conversationID); err != nil {
			return Turn{}, fmt.Errorf("update conversation timestamp: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Turn{}, fmt.Errorf("commit turn: %w", err)
	}

	turn.ID = rowID
	turn.ConversationID = conversationID
	turn.Seq = nextSeq
	turn.CreatedAt = now
	return turn, nil
}

// UpdateSummary 覆写会话摘要并推进已压缩边界（不追加）
// UpdateSummary overwrites the conversation summary (not append) and advances
// the summarized-through boundary.
func (s *SQLiteStore) UpdateSummary(conversationID, summary string, throughSeq int) error {
	res, err := s.db.Exec("UPDATE conversations SET summary=?, summarized_through=?, updated_at=? WHERE id=?",
		summary, throughSeq, nowUTC(), conversationID)
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}
	return nil
}

// --- Helpers ---

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// inferTitle 从首条用户消息截取标题（约 50 字符）
// inferTitle derives a title from the first user message (~50 chars).
func inferTitle(content string) string {
	title := strings.TrimSpace(content)
	r := []rune(title)
	if len(r) > 50 {
		return string(r[:47]) + "..."
	}
	return title
}
