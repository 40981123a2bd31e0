package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/querylab/orchestrator/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id TEXT PRIMARY KEY,
			scope_key TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			metadata TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			run_id TEXT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			display_order INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, display_order)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			scope_key TEXT,
			question TEXT NOT NULL,
			model TEXT,
			engine TEXT NOT NULL,
			status TEXT NOT NULL,
			result TEXT,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME,
			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_conversation ON runs(conversation_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			display_order INTEGER NOT NULL,
			type TEXT NOT NULL,
			subtype TEXT NOT NULL,
			content TEXT,
			metadata TEXT,
			ts DATETIME NOT NULL,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_run_seq ON events(run_id, sequence)`,
		`CREATE TABLE IF NOT EXISTS approvals (
			approval_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			tool_call_id TEXT NOT NULL,
			request_preview TEXT,
			status TEXT NOT NULL,
			decision TEXT,
			edited_args TEXT,
			decided_by TEXT,
			reason TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			decided_at DATETIME,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_run ON approvals(run_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateConversation creates a new conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	metadata := "null"
	if conv.Metadata != nil {
		metadata = string(conv.Metadata)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (conversation_id, scope_key, created_at, metadata) VALUES (?, ?, ?, ?)`,
		conv.ConversationID, conv.ScopeKey, conv.CreatedAt, metadata)
	return err
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	var scopeKey, metadata sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, scope_key, created_at, metadata FROM conversations WHERE conversation_id = ?`,
		conversationID).Scan(&conv.ConversationID, &scopeKey, &conv.CreatedAt, &metadata)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	conv.ScopeKey = scopeKey.String
	if metadata.Valid && metadata.String != "null" {
		conv.Metadata = json.RawMessage(metadata.String)
	}
	return &conv, nil
}

// AppendMessage appends a message to a conversation.
func (s *SQLiteStore) AppendMessage(ctx context.Context, message *domain.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, conversation_id, run_id, role, content, display_order, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		message.MessageID, message.ConversationID, message.RunID, message.Role,
		message.Content, message.DisplayOrder, message.CreatedAt)
	return err
}

// GetMessages retrieves messages for a conversation in display order.
func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, conversation_id, run_id, role, content, display_order, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY display_order ASC, created_at ASC LIMIT ?`,
		conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		var runID sql.NullString
		if err := rows.Scan(&m.MessageID, &m.ConversationID, &runID, &m.Role, &m.Content, &m.DisplayOrder, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.RunID = runID.String
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkRunStarted inserts the initial record for a run.
func (s *SQLiteStore) MarkRunStarted(ctx context.Context, run *domain.RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, conversation_id, scope_key, question, model, engine, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.ConversationID, run.ScopeKey, run.Question, run.Model,
		run.Engine, run.Status, run.StartedAt)
	return err
}

// MarkRunCompleted records a run's terminal status and result.
func (s *SQLiteStore) MarkRunCompleted(ctx context.Context, runID string, status domain.RunStatus, result []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, result = ?, ended_at = ? WHERE run_id = ?`,
		status, nullableText(result), time.Now(), runID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// GetRun retrieves a run record by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.RunRecord, error) {
	var run domain.RunRecord
	var scopeKey, model, result sql.NullString
	var endedAt sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, conversation_id, scope_key, question, model, engine, status, result, started_at, ended_at
		 FROM runs WHERE run_id = ?`, runID).
		Scan(&run.RunID, &run.ConversationID, &scopeKey, &run.Question, &model,
			&run.Engine, &run.Status, &result, &run.StartedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.ScopeKey = scopeKey.String
	run.Model = model.String
	if result.Valid {
		run.Result = json.RawMessage(result.String)
	}
	if endedAt.Valid {
		run.EndedAt = &endedAt.Time
	}
	return &run, nil
}

// InsertEvent writes one event through to the store.
func (s *SQLiteStore) InsertEvent(ctx context.Context, event *domain.Event) error {
	content, err := json.Marshal(event.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal event content: %w", err)
	}
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal event metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, run_id, sequence, display_order, type, subtype, content, metadata, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventID, event.RunID, event.Sequence, event.DisplayOrder,
		event.Type, event.Subtype, string(content), string(metadata), event.Ts)
	return err
}

// GetEvents retrieves persisted events for a run in sequence order.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID string, afterSequence int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, run_id, sequence, display_order, type, subtype, content, metadata, ts
		 FROM events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC LIMIT ?`,
		runID, afterSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		var content, metadata sql.NullString
		if err := rows.Scan(&e.EventID, &e.RunID, &e.Sequence, &e.DisplayOrder,
			&e.Type, &e.Subtype, &content, &metadata, &e.Ts); err != nil {
			return nil, err
		}
		if content.Valid && content.String != "null" {
			if err := json.Unmarshal([]byte(content.String), &e.Content); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event content: %w", err)
			}
		}
		if metadata.Valid && metadata.String != "null" {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event metadata: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CreateApproval inserts a pending approval record.
func (s *SQLiteStore) CreateApproval(ctx context.Context, approval *domain.Approval) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals (approval_id, run_id, tool_name, tool_call_id, request_preview, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		approval.ApprovalID, approval.RunID, approval.ToolName, approval.ToolCallID,
		nullableText(approval.RequestPreview), approval.Status, approval.CreatedAt)
	return err
}

// GetApproval retrieves an approval by ID.
func (s *SQLiteStore) GetApproval(ctx context.Context, approvalID string) (*domain.Approval, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT approval_id, run_id, tool_name, tool_call_id, request_preview, status, decision, edited_args, decided_by, reason, created_at, decided_at
		 FROM approvals WHERE approval_id = ?`, approvalID)
	approval, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return approval, nil
}

// ListApprovals retrieves all approvals for a run ordered by creation.
func (s *SQLiteStore) ListApprovals(ctx context.Context, runID string) ([]domain.Approval, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT approval_id, run_id, tool_name, tool_call_id, request_preview, status, decision, edited_args, decided_by, reason, created_at, decided_at
		 FROM approvals WHERE run_id = ? ORDER BY created_at ASC, approval_id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var approvals []domain.Approval
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, *approval)
	}
	return approvals, rows.Err()
}

// DecideApproval records the decision on a pending approval.
func (s *SQLiteStore) DecideApproval(ctx context.Context, approvalID string, status domain.ApprovalStatus, decision domain.Decision, editedArgs []byte, decidedBy, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ?, decision = ?, edited_args = ?, decided_by = ?, reason = ?, decided_at = ?
		 WHERE approval_id = ? AND status = ?`,
		status, decision, nullableText(editedArgs), decidedBy, reason, time.Now(),
		approvalID, domain.ApprovalStatusPending)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("approval %s not pending", approvalID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApproval(row rowScanner) (*domain.Approval, error) {
	var a domain.Approval
	var preview, decision, editedArgs, decidedBy, reason sql.NullString
	var decidedAt sql.NullTime

	err := row.Scan(&a.ApprovalID, &a.RunID, &a.ToolName, &a.ToolCallID,
		&preview, &a.Status, &decision, &editedArgs, &decidedBy, &reason,
		&a.CreatedAt, &decidedAt)
	if err != nil {
		return nil, err
	}
	if preview.Valid {
		a.RequestPreview = json.RawMessage(preview.String)
	}
	a.Decision = domain.Decision(decision.String)
	if editedArgs.Valid {
		a.EditedArgs = json.RawMessage(editedArgs.String)
	}
	a.DecidedBy = decidedBy.String
	a.Reason = reason.String
	if decidedAt.Valid {
		a.DecidedAt = &decidedAt.Time
	}
	return &a, nil
}

func nullableText(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
