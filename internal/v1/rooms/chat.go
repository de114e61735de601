package rooms

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bitwar/backend/go/internal/v1/bus"
	"github.com/bitwar/backend/go/internal/v1/logging"
	"github.com/bitwar/backend/go/internal/v1/types"
)

// systemSender is the reserved author of lifecycle announcements.
const systemSender = "System"

// chatHistoryLimit caps the retained backlog a client can replay.
const chatHistoryLimit = 100

// Chat persists and broadcasts one user chat line. The socket layer trims
// and pre-validates; the checks here are the backstop for other callers.
func (s *Service) Chat(ctx context.Context, roomID, sender, body string) (*types.ChatMessage, error) {
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("message cannot be empty: %w", types.ErrInvalidConfig)
	}
	if utf8.RuneCountInString(body) > types.MaxChatBodyLen {
		return nil, fmt.Errorf("message exceeds %d characters: %w", types.MaxChatBodyLen, types.ErrInvalidConfig)
	}

	msg := &types.ChatMessage{
		ID:     uuid.NewString(),
		RoomID: roomID,
		Sender: sender,
		Body:   body,
	}
	if err := s.store.SaveChat(ctx, msg); err != nil {
		return nil, err
	}
	s.publishFrame(ctx, bus.RoomTopic(roomID), types.EventChatMessage, types.ChatFrameFrom(*msg), sender)
	return msg, nil
}

// ChatHistory returns the retained backlog, oldest first.
func (s *Service) ChatHistory(ctx context.Context, roomID string) ([]types.ChatMessage, error) {
	return s.store.ChatHistory(ctx, roomID, chatHistoryLimit)
}

// systemChat persists and broadcasts a lifecycle announcement. Persistence
// failures downgrade to broadcast only; the announcement still reaches
// everyone currently connected.
func (s *Service) systemChat(ctx context.Context, roomID, body string) {
	msg := &types.ChatMessage{
		ID:       uuid.NewString(),
		RoomID:   roomID,
		Sender:   systemSender,
		Body:     body,
		IsSystem: true,
	}
	if err := s.store.SaveChat(ctx, msg); err != nil {
		logging.Warn(ctx, "System chat not persisted", zap.String("roomId", roomID), zap.Error(err))
		msg.Timestamp = time.Now()
	}
	s.publishFrame(ctx, bus.RoomTopic(roomID), types.EventChatMessage, types.ChatFrameFrom(*msg), "")
}
