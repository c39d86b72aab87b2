package session

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/strideai/stride/internal/convo"
	"github.com/strideai/stride/internal/llm"
)

// Store is the interface for session persistence.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error

	List(ctx context.Context, limit int) ([]Summary, error)

	// Message operations store full llm.Message parts so tool calls
	// and results survive a resume round trip.
	AddMessage(ctx context.Context, sessionID string, msg *Message) error
	GetMessages(ctx context.Context, sessionID string) ([]Message, error)
	ReplaceMessages(ctx context.Context, sessionID string, msgs []*Message) error

	Close() error
}

// Config holds session storage configuration.
type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	DataDir string `mapstructure:"-"`
}

// DBPath returns the path to the sessions database under the data dir.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, "sessions.db")
}

// NewStore creates a Store based on the configuration. When sessions are
// disabled a no-op store is returned so callers never branch.
func NewStore(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return &NoopStore{}, nil
	}
	return NewSQLiteStore(cfg)
}

// SaveConversation writes the full conversation state for a session,
// replacing any previously stored messages. Creates the session record on
// first save.
func SaveConversation(ctx context.Context, store Store, id string, conv *convo.Conversation, model, title string) error {
	existing, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		sess := &Session{ID: id, Title: title, Model: model, Status: StatusActive}
		if err := store.Create(ctx, sess); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
	} else if title != "" && existing.Title == "" {
		existing.Title = title
		if err := store.Update(ctx, existing); err != nil {
			return fmt.Errorf("update session: %w", err)
		}
	}

	msgs := conv.WireMessages()
	stored := make([]*Message, 0, len(msgs))
	for i, m := range msgs {
		stored = append(stored, NewMessage(id, m, i))
	}
	if err := store.ReplaceMessages(ctx, id, stored); err != nil {
		return fmt.Errorf("save messages: %w", err)
	}
	return nil
}

// LoadConversation reconstructs a conversation from a stored session.
func LoadConversation(ctx context.Context, store Store, id string) (*convo.Conversation, *Session, error) {
	sess, err := store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if sess == nil {
		return nil, nil, fmt.Errorf("session not found: %s", id)
	}

	stored, err := store.GetMessages(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("load messages: %w", err)
	}

	msgs := make([]llm.Message, 0, len(stored))
	for _, m := range stored {
		msgs = append(msgs, m.ToLLMMessage())
	}
	return convo.FromMessages(msgs), sess, nil
}
