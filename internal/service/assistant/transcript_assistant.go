package assistant

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"policycopilot/internal/models"
)

// Service persists conversation transcripts.
type Service struct {
	db  *sql.DB
	log *zap.Logger
}

// NewService builds a new assistant service.
func NewService(db *sql.DB, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, log: log}
}

// StartConversation inserts the conversation record.
func (s *Service) StartConversation(ctx context.Context, c models.Conversation) error {
	if c.ID == "" {
		return errors.New("conversation id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, workspace_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.WorkspaceID, c.Title, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// AppendMessage stores a message and updates the conversation's updated_at timestamp.
func (s *Service) AppendMessage(ctx context.Context, msg models.Message) error {
	citations, err := marshalOptional(msg.Citations, len(msg.Citations))
	if err != nil {
		return fmt.Errorf("encode citations: %w", err)
	}
	suggestions, err := marshalOptional(msg.Suggestions, len(msg.Suggestions))
	if err != nil {
		return fmt.Errorf("encode suggestions: %w", err)
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, citations, suggestions, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ConversationID, string(msg.Role), msg.Content, citations, suggestions, createdAt,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, createdAt, msg.ConversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit message: %w", err)
	}
	return nil
}

// RetitleConversation sets the conversation title.
func (s *Service) RetitleConversation(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.New("title cannot be empty")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return fmt.Errorf("update conversation title: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListConversations returns conversations ordered by last activity. An empty
// workspaceID lists all of them.
func (s *Service) ListConversations(ctx context.Context, workspaceID string) ([]models.Conversation, error) {
	query := `SELECT id, workspace_id, title, created_at, updated_at FROM conversations`
	var args []interface{}
	if workspaceID != "" {
		query += ` WHERE workspace_id = ?`
		args = append(args, workspaceID)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	convs := make([]models.Conversation, 0)
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversationWithMessages returns one conversation and its ordered messages.
func (s *Service) GetConversationWithMessages(ctx context.Context, id string) (*models.Conversation, []models.Message, error) {
	var c models.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, title, created_at, updated_at FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.WorkspaceID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("get conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, citations, suggestions, created_at FROM messages WHERE conversation_id = ? ORDER BY id ASC`,
		id,
	)
	if err != nil {
		return &c, nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var (
			m           models.Message
			role        string
			citations   sql.NullString
			suggestions sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &citations, &suggestions, &m.CreatedAt); err != nil {
			return &c, nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = models.Role(role)
		if citations.Valid {
			if err := json.Unmarshal([]byte(citations.String), &m.Citations); err != nil {
				s.log.Warn("decode stored citations", zap.Int64("message", m.ID), zap.Error(err))
			}
		}
		if suggestions.Valid {
			if err := json.Unmarshal([]byte(suggestions.String), &m.Suggestions); err != nil {
				s.log.Warn("decode stored suggestions", zap.Int64("message", m.ID), zap.Error(err))
			}
		}
		messages = append(messages, m)
	}
	return &c, messages, rows.Err()
}

// DeleteConversation removes a conversation and its messages.
func (s *Service) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete conversation: %w", err)
	}
	return nil
}

func marshalOptional(v interface{}, n int) (sql.NullString, error) {
	if n == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
