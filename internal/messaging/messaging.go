// Package messaging owns the conversation list, the selected thread, and the
// compose buffer. Thread loads are guarded by a selection generation so a
// slow response for a conversation the actor already left never overwrites
// the current thread.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"studymatch/internal/apiclient"
	"studymatch/internal/session"
	"studymatch/pkg/domain"
)

var (
	// ErrNoConversationSelected rejects a send without a selected peer,
	// before any network round-trip.
	ErrNoConversationSelected = errors.New("no conversation selected")
	// ErrEmptyMessage rejects a blank or whitespace-only compose buffer
	// locally.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNoStudyOwner means the study carries no researcher reference, so
	// there is nobody to open a conversation with.
	ErrNoStudyOwner = errors.New("study has no owner")
)

// MessageAPI is the slice of the backend client the messaging manager needs.
type MessageAPI interface {
	ListConversations(ctx context.Context, token string) ([]domain.Conversation, error)
	ListMessages(ctx context.Context, token, otherUserID, studyID string) ([]domain.Message, error)
	SendMessage(ctx context.Context, token string, req apiclient.SendMessageRequest) (domain.Message, error)
}

// Selection identifies a thread: the peer, optionally scoped to a study.
type Selection struct {
	Peer    domain.UserRef
	StudyID string
}

// Manager is the messaging session manager.
type Manager struct {
	api     MessageAPI
	session *session.Session
	logger  *slog.Logger

	mu            sync.RWMutex
	conversations []domain.Conversation
	selected      *Selection
	generation    uint64
	thread        []domain.Message
	compose       string
}

// New constructs the messaging manager.
func New(api MessageAPI, sess *session.Session, logger *slog.Logger) (*Manager, error) {
	if api == nil {
		return nil, errors.New("message API required")
	}
	if sess == nil {
		return nil, errors.New("session required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		api:           api,
		session:       sess,
		logger:        logger,
		conversations: []domain.Conversation{},
		thread:        []domain.Message{},
	}, nil
}

// LoadConversations reloads the conversation list. The backend returns it
// most-recent-first and that order is kept as-is. A fetch failure keeps the
// prior list rendered; a rejected credential propagates so the caller can
// route to re-auth.
func (m *Manager) LoadConversations(ctx context.Context) error {
	_, token, err := m.session.Identity()
	if err != nil {
		return err
	}
	conversations, err := m.api.ListConversations(ctx, token)
	if err != nil {
		if errors.Is(err, apiclient.ErrUnauthorized) {
			return err
		}
		m.logger.Warn("conversation list fetch failed", "error", err)
		return nil
	}
	if conversations == nil {
		conversations = []domain.Conversation{}
	}
	m.mu.Lock()
	m.conversations = conversations
	m.mu.Unlock()
	return nil
}

// Select switches to the given thread and fetches it. Selecting the same
// conversation again refetches. The thread clears immediately so the old
// conversation's messages never show under the new header.
func (m *Manager) Select(ctx context.Context, sel Selection) error {
	_, token, err := m.session.Identity()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.generation++
	generation := m.generation
	m.selected = &sel
	m.thread = []domain.Message{}
	m.mu.Unlock()
	return m.loadThread(ctx, token, sel, generation)
}

// loadThread fetches the thread for sel and installs it only if the
// selection has not moved on since the fetch started.
func (m *Manager) loadThread(ctx context.Context, token string, sel Selection, generation uint64) error {
	messages, err := m.api.ListMessages(ctx, token, sel.Peer.ID, sel.StudyID)
	if err != nil {
		m.logger.Warn("thread fetch failed", "peer_id", sel.Peer.ID, "error", err)
		return nil
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if generation != m.generation {
		m.logger.Debug("discarding stale thread response", "peer_id", sel.Peer.ID)
		return nil
	}
	m.thread = messages
	return nil
}

// SetCompose replaces the compose buffer.
func (m *Manager) SetCompose(text string) {
	m.mu.Lock()
	m.compose = text
	m.mu.Unlock()
}

// Compose returns the current compose buffer.
func (m *Manager) Compose() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.compose
}

// Selected returns the current selection, or nil.
func (m *Manager) Selected() *Selection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.selected == nil {
		return nil
	}
	sel := *m.selected
	return &sel
}

// Conversations returns the current conversation list.
func (m *Manager) Conversations() []domain.Conversation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Conversation{}, m.conversations...)
}

// Thread returns the selected thread, oldest first as the backend delivers
// it.
func (m *Manager) Thread() []domain.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Message{}, m.thread...)
}

// Send submits the compose buffer to the selected peer. On success the
// buffer clears and the thread, then the conversation list, reload in that
// order. On any failure the buffer keeps the actor's text.
func (m *Manager) Send(ctx context.Context) error {
	_, token, err := m.session.Identity()
	if err != nil {
		return err
	}
	m.mu.RLock()
	sel := m.selected
	content := m.compose
	generation := m.generation
	m.mu.RUnlock()
	if sel == nil {
		return ErrNoConversationSelected
	}
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}

	req := apiclient.SendMessageRequest{
		ReceiverID: sel.Peer.ID,
		Content:    content,
		StudyID:    sel.StudyID,
	}
	if _, err := m.api.SendMessage(ctx, token, req); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	m.mu.Lock()
	m.compose = ""
	m.mu.Unlock()

	if err := m.loadThread(ctx, token, *sel, generation); err != nil {
		return err
	}
	return m.LoadConversations(ctx)
}

// ContactStudyOwner sends a templated greeting to the study's researcher,
// study-scoped, without requiring an existing conversation, then selects the
// new thread and reloads it and the conversation list. The study must carry
// its researcher reference.
func (m *Manager) ContactStudyOwner(ctx context.Context, study domain.StudyRecord) error {
	if study.Researcher == nil {
		return ErrNoStudyOwner
	}
	_, token, err := m.session.Identity()
	if err != nil {
		return err
	}
	greeting := fmt.Sprintf("Hi %s, I'm a participant in your study \"%s\".", study.Researcher.Name, study.Title)
	req := apiclient.SendMessageRequest{
		ReceiverID: study.Researcher.ID,
		Content:    greeting,
		StudyID:    study.ID,
	}
	if _, err := m.api.SendMessage(ctx, token, req); err != nil {
		return fmt.Errorf("contact study owner: %w", err)
	}

	sel := Selection{Peer: *study.Researcher, StudyID: study.ID}
	m.mu.Lock()
	m.generation++
	generation := m.generation
	m.selected = &sel
	m.thread = []domain.Message{}
	m.mu.Unlock()

	if err := m.loadThread(ctx, token, sel, generation); err != nil {
		return err
	}
	return m.LoadConversations(ctx)
}
