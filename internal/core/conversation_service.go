package core

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"gwi.com/answer-engine/internal/metrics"
	"gwi.com/answer-engine/internal/store"
	"gwi.com/answer-engine/internal/utils"
)

const maxTitleRunes = 100

// ConversationStore is the persistence the conversation service needs.
// *store.SQLiteStore implements it.
type ConversationStore interface {
	CreateConversation(ctx context.Context, userID int64, title string) (*store.Conversation, error)
	GetConversation(ctx context.Context, id, userID int64) (*store.Conversation, error)
	ListConversationsWithCounts(ctx context.Context, userID int64) ([]store.ConversationSummary, error)
	DeleteConversation(ctx context.Context, id, userID int64) (bool, error)
	DeleteConversationsByUser(ctx context.Context, userID int64) (int64, error)
	CreateMessage(ctx context.Context, msg *store.Message) error
	GetMessagesByConversationID(ctx context.Context, conversationID int64) ([]store.Message, error)
}

// ConversationWithMessages is a conversation and its messages, oldest first.
type ConversationWithMessages struct {
	store.Conversation
	Messages []store.Message `json:"messages"`
}

type ConversationService struct {
	store  ConversationStore
	logger *zap.Logger
}

func NewConversationService(s ConversationStore, logger *zap.Logger) *ConversationService {
	return &ConversationService{store: s, logger: logger}
}

// DeriveTitle trims message and keeps its first 100 characters, adding an
// ellipsis when something was cut.
func DeriveTitle(message string) string {
	return utils.Preview(strings.TrimSpace(message), maxTitleRunes)
}

// CreateConversation stores a conversation seeded with a user message. When
// the message insert fails the new conversation is deleted again.
func (s *ConversationService) CreateConversation(ctx context.Context, ownerID int64, title, firstMessage string) (*ConversationWithMessages, error) {
	message := strings.TrimSpace(firstMessage)
	if message == "" {
		return nil, invalid(CodeMissingMessage, "Message is required and must be a non-empty string")
	}
	if title = strings.TrimSpace(title); title == "" {
		title = DeriveTitle(message)
	}

	conv, err := s.store.CreateConversation(ctx, ownerID, title)
	if err != nil {
		return nil, persistence(CodeCreateFailed, "Failed to create conversation", err)
	}

	msg := &store.Message{ConversationID: conv.ID, Role: store.RoleUser, Content: message}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		// Compensate on a context that outlives a cancelled request.
		if _, delErr := s.store.DeleteConversation(context.WithoutCancel(ctx), conv.ID, ownerID); delErr != nil {
			s.logger.Error("failed to remove conversation after message insert failure",
				zap.Int64("conversation_id", conv.ID),
				zap.Error(delErr),
			)
		}
		return nil, persistence(CodeMessageFailed, "Failed to create initial message", err)
	}
	metrics.MessagesTotal.WithLabelValues(msg.Role).Inc()

	conv.UpdatedAt = msg.CreatedAt
	s.logger.Info("conversation created",
		zap.Int64("conversation_id", conv.ID),
		zap.Int64("user_id", ownerID),
	)
	return &ConversationWithMessages{Conversation: *conv, Messages: []store.Message{*msg}}, nil
}

// ListConversations returns the owner's conversations, most recently updated
// first, each with its message count.
func (s *ConversationService) ListConversations(ctx context.Context, ownerID int64) ([]store.ConversationSummary, error) {
	list, err := s.store.ListConversationsWithCounts(ctx, ownerID)
	if err != nil {
		return nil, persistence(CodeInternal, "Failed to list conversations", err)
	}
	return list, nil
}

func (s *ConversationService) GetConversation(ctx context.Context, id, ownerID int64) (*ConversationWithMessages, error) {
	conv, err := s.store.GetConversation(ctx, id, ownerID)
	if err != nil {
		return nil, persistence(CodeInternal, "Failed to load conversation", err)
	}
	if conv == nil {
		return nil, ErrNotFound
	}
	msgs, err := s.store.GetMessagesByConversationID(ctx, id)
	if err != nil {
		return nil, persistence(CodeInternal, "Failed to load messages", err)
	}
	return &ConversationWithMessages{Conversation: *conv, Messages: msgs}, nil
}

// AppendMessage validates and stores a message in an owned conversation. A
// blank modelUsed is stored as NULL.
func (s *ConversationService) AppendMessage(ctx context.Context, conversationID, ownerID int64, role, content, modelUsed string) (*store.Message, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		return nil, invalid(CodeMissingRole, "Role is required")
	}
	if strings.TrimSpace(content) == "" {
		return nil, invalid(CodeInvalidContent, "Content is required and must be a non-empty string")
	}
	if role != store.RoleUser && role != store.RoleAssistant {
		return nil, invalid(CodeInvalidRole, `Role must be either "user" or "assistant"`)
	}

	conv, err := s.store.GetConversation(ctx, conversationID, ownerID)
	if err != nil {
		return nil, persistence(CodeInternal, "Failed to load conversation", err)
	}
	if conv == nil {
		return nil, ErrNotFound
	}

	msg := &store.Message{ConversationID: conversationID, Role: role, Content: content}
	if modelUsed = strings.TrimSpace(modelUsed); modelUsed != "" {
		msg.ModelUsed = &modelUsed
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, persistence(CodeMessageFailed, "Failed to create message", err)
	}
	metrics.MessagesTotal.WithLabelValues(role).Inc()
	return msg, nil
}

// DeleteConversation removes an owned conversation; the store cascades the
// delete to its messages.
func (s *ConversationService) DeleteConversation(ctx context.Context, id, ownerID int64) error {
	deleted, err := s.store.DeleteConversation(ctx, id, ownerID)
	if err != nil {
		return persistence(CodeInternal, "Failed to delete conversation", err)
	}
	if !deleted {
		return ErrNotFound
	}
	s.logger.Info("conversation deleted", zap.Int64("conversation_id", id), zap.Int64("user_id", ownerID))
	return nil
}

// ClearAllConversations deletes everything the owner has. Having nothing is not
// an error.
func (s *ConversationService) ClearAllConversations(ctx context.Context, ownerID int64) (int64, error) {
	n, err := s.store.DeleteConversationsByUser(ctx, ownerID)
	if err != nil {
		return 0, persistence(CodeInternal, "Failed to clear conversations", err)
	}
	s.logger.Info("conversations cleared", zap.Int64("user_id", ownerID), zap.Int64("deleted", n))
	return n, nil
}
