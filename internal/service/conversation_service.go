package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/relaychat/relay-api/internal/dto"
	"github.com/relaychat/relay-api/internal/models"
	"github.com/relaychat/relay-api/internal/repository"
)

// ConversationService is the directory surface: creation, listing and
// per-member settings. Conversations are never hard-deleted.
type ConversationService interface {
	Create(ctx context.Context, creatorID string, payload dto.ConversationCreateRequest) (dto.ConversationResponse, error)
	Get(ctx context.Context, userID, conversationID string) (dto.ConversationResponse, error)
	List(ctx context.Context, userID string) ([]dto.ConversationResponse, error)
	SetMuted(ctx context.Context, userID, conversationID string, muted bool) error
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
}

type conversationService struct {
	directory repository.ConversationRepository
	ledger    repository.UnreadRepository
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewConversationService wires the directory.
func NewConversationService(directory repository.ConversationRepository, ledger repository.UnreadRepository, validate *validator.Validate, logger zerolog.Logger) ConversationService {
	return &conversationService{
		directory: directory,
		ledger:    ledger,
		validator: validate,
		logger:    logger.With().Str("component", "conversation_service").Logger(),
	}
}

// Create opens a conversation. Direct threads dedupe on the sorted member
// pair: asking again for the same peer returns the existing thread. Cloud
// is the caller's self-notes thread, keyed the same way with both sides
// being the caller.
func (s *conversationService) Create(ctx context.Context, creatorID string, payload dto.ConversationCreateRequest) (dto.ConversationResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ConversationResponse{}, err
	}

	switch payload.Type {
	case models.ConversationTypeDirect:
		return s.createKeyed(ctx, creatorID, payload)
	case models.ConversationTypeCloud:
		payload.MemberIDs = nil
		return s.createKeyed(ctx, creatorID, payload)
	default:
		return s.createGroup(ctx, creatorID, payload)
	}
}

func (s *conversationService) createKeyed(ctx context.Context, creatorID string, payload dto.ConversationCreateRequest) (dto.ConversationResponse, error) {
	peerID := creatorID
	if payload.Type == models.ConversationTypeDirect {
		peers := uniqueMembers(payload.MemberIDs, creatorID)
		if len(peers) != 1 {
			return dto.ConversationResponse{}, ErrDirectPeerRequired
		}
		peerID = peers[0]
	}

	directKey := repository.DirectKey(creatorID, peerID)
	if existing, err := s.directory.GetByDirectKey(ctx, directKey); err == nil {
		return dto.NewConversationResponse(existing, creatorID), nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.ConversationResponse{}, err
	}

	members := []string{creatorID}
	if peerID != creatorID {
		members = append(members, peerID)
	}

	conversation := models.Conversation{
		ID:        uuid.NewString(),
		Type:      payload.Type,
		DirectKey: &directKey,
	}

	if err := s.directory.Create(ctx, &conversation, members); err != nil {
		// Lost the race against a concurrent create for the same pair; the
		// unique index on direct_key guarantees the winner exists.
		if existing, getErr := s.directory.GetByDirectKey(ctx, directKey); getErr == nil {
			return dto.NewConversationResponse(existing, creatorID), nil
		}
		return dto.ConversationResponse{}, err
	}

	created, err := s.directory.Get(ctx, conversation.ID)
	if err != nil {
		return dto.ConversationResponse{}, err
	}
	return dto.NewConversationResponse(created, creatorID), nil
}

func (s *conversationService) createGroup(ctx context.Context, creatorID string, payload dto.ConversationCreateRequest) (dto.ConversationResponse, error) {
	members := append([]string{creatorID}, uniqueMembers(payload.MemberIDs, creatorID)...)

	conversation := models.Conversation{
		ID:    uuid.NewString(),
		Type:  models.ConversationTypeGroup,
		Title: strings.TrimSpace(payload.Title),
	}

	if err := s.directory.Create(ctx, &conversation, members); err != nil {
		return dto.ConversationResponse{}, err
	}

	created, err := s.directory.Get(ctx, conversation.ID)
	if err != nil {
		return dto.ConversationResponse{}, err
	}
	return dto.NewConversationResponse(created, creatorID), nil
}

func (s *conversationService) Get(ctx context.Context, userID, conversationID string) (dto.ConversationResponse, error) {
	conversation, err := s.directory.Get(ctx, conversationID)
	if err != nil {
		return dto.ConversationResponse{}, err
	}

	response := dto.NewConversationResponse(conversation, userID)
	if !containsMember(conversation.Members, userID) {
		return dto.ConversationResponse{}, ErrNotAMember
	}

	if counter, err := s.ledger.Get(ctx, userID, conversationID); err == nil {
		response.Unread = counter.Unread
	}
	return response, nil
}

// List renders the user's conversations from the lastMessage snapshot and
// the ledger; no join against the messages table.
func (s *conversationService) List(ctx context.Context, userID string) ([]dto.ConversationResponse, error) {
	conversations, err := s.directory.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	counters, err := s.ledger.Summary(ctx, userID)
	if err != nil {
		return nil, err
	}
	unreadByConversation := make(map[string]int64, len(counters))
	for _, counter := range counters {
		unreadByConversation[counter.ConversationID] = counter.Unread
	}

	out := make([]dto.ConversationResponse, 0, len(conversations))
	for _, conversation := range conversations {
		response := dto.NewConversationResponse(conversation, userID)
		response.Unread = unreadByConversation[conversation.ID]
		out = append(out, response)
	}
	return out, nil
}

func (s *conversationService) SetMuted(ctx context.Context, userID, conversationID string, muted bool) error {
	return s.directory.SetMuted(ctx, conversationID, userID, muted)
}

func (s *conversationService) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	return s.directory.IsMember(ctx, conversationID, userID)
}

func uniqueMembers(memberIDs []string, exclude string) []string {
	seen := make(map[string]struct{}, len(memberIDs))
	out := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		id = strings.TrimSpace(id)
		if id == "" || id == exclude {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func containsMember(members []models.ConversationMember, userID string) bool {
	for _, member := range members {
		if member.UserID == userID {
			return true
		}
	}
	return false
}
