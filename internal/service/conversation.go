package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/tullo/bazaar/internal/apperr"
	"github.com/tullo/bazaar/internal/models"
	"github.com/tullo/bazaar/internal/repository"
	"github.com/tullo/bazaar/pkg/metrics"
	"go.uber.org/zap"
)

const (
	maxMessageLength  = 5000
	maxPhotoBytes     = 10 << 20
	notificationChars = 100
)

// PhotoInput is an image to post into a conversation.
type PhotoInput struct {
	ContentType string
	Data        []byte
	Caption     *string
}

type ConversationService struct {
	engine
}

func NewConversationService(d Deps) *ConversationService {
	return &ConversationService{engine: newEngine(d)}
}

// FindOrCreate returns the conversation for the triple, creating it on first contact.
// created reports whether this call created it.
func (s *ConversationService) FindOrCreate(ctx context.Context, buyerID, sellerID, listingID uuid.UUID) (conv *models.Conversation, created bool, err error) {
	if buyerID == uuid.Nil || sellerID == uuid.Nil || listingID == uuid.Nil {
		return nil, false, apperr.Validation("MissingParticipant", "buyer, seller and listing are required")
	}
	if buyerID == sellerID {
		return nil, false, apperr.Validation("SameParticipant", "a conversation needs two different participants")
	}

	if existing, err := s.store.FindConversation(ctx, buyerID, sellerID, listingID); err == nil {
		return existing, false, nil
	} else if !apperr.IsKind(err, apperr.KindNotFound) {
		return nil, false, err
	}

	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		now := s.now()
		c := &models.Conversation{
			ID:        uuid.New(),
			BuyerID:   buyerID,
			SellerID:  sellerID,
			ListingID: listingID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		ok, err := tx.CreateConversation(ctx, c)
		if err != nil {
			return err
		}
		if ok {
			conv, created = c, true
			return nil
		}
		conv, err = tx.FindConversation(ctx, buyerID, sellerID, listingID)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		s.logger.Info("conversation created",
			zap.String("conversation_id", conv.ID.String()),
			zap.String("listing_id", listingID.String()))
	}
	return conv, created, nil
}

// Get loads a conversation with its thread header context.
func (s *ConversationService) Get(ctx context.Context, conversationID, userID uuid.UUID) (*models.Conversation, error) {
	conv, err := conversationFor(ctx, s.store, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.decorate(ctx, conv, userID); err != nil {
		return nil, err
	}
	return conv, nil
}

// List returns the user's conversations, most recently active first.
func (s *ConversationService) List(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range convs {
		if err := s.decorate(ctx, &convs[i], userID); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

func (s *ConversationService) decorate(ctx context.Context, conv *models.Conversation, userID uuid.UUID) error {
	conv.Listing = s.listing(ctx, conv.ListingID)

	last, err := s.store.LastMessage(ctx, conv.ID)
	if err != nil {
		return err
	}
	conv.LastMessage = last

	unread, err := s.store.UnreadCount(ctx, conv.ID, userID)
	if err != nil {
		return err
	}
	conv.UnreadCount = unread
	return nil
}

// SendMessage appends a text message and notifies the counterpart.
func (s *ConversationService) SendMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.Validation("EmptyMessage", "message content is required")
	}
	if len([]rune(content)) > maxMessageLength {
		return nil, apperr.Validation("MessageTooLong", "message exceeds %d characters", maxMessageLength)
	}

	msg := &models.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Kind:           models.MessageKindText,
	}
	if err := s.appendUserMessage(ctx, msg, truncate(content, notificationChars)); err != nil {
		return nil, err
	}
	return msg, nil
}

// SendPhoto uploads the image to the media store, then appends a photo message carrying
// the returned URL.
func (s *ConversationService) SendPhoto(ctx context.Context, conversationID, senderID uuid.UUID, in PhotoInput) (*models.Message, error) {
	if s.media == nil {
		return nil, apperr.Transport("photo uploads are not configured", nil)
	}
	if len(in.Data) == 0 {
		return nil, apperr.Validation("EmptyPhoto", "photo data is required")
	}
	if len(in.Data) > maxPhotoBytes {
		return nil, apperr.Validation("PhotoTooLarge", "photo exceeds %d bytes", maxPhotoBytes)
	}
	if !strings.HasPrefix(in.ContentType, "image/") {
		return nil, apperr.Validation("InvalidContentType", "unsupported content type %q", in.ContentType)
	}

	if _, err := conversationFor(ctx, s.store, conversationID, senderID); err != nil {
		return nil, err
	}

	url, err := s.media.UploadConversationPhoto(ctx, conversationID, in.ContentType, in.Data)
	if err != nil {
		return nil, apperr.Transport("photo upload failed", err)
	}

	msg := &models.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Kind:           models.MessageKindPhoto,
		PhotoURL:       &url,
		PhotoCaption:   in.Caption,
	}
	if in.Caption != nil {
		msg.Content = *in.Caption
	}
	if err := s.appendUserMessage(ctx, msg, "Sent a photo"); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *ConversationService) appendUserMessage(ctx context.Context, msg *models.Message, preview string) error {
	err := s.commit(ctx, func(tx repository.Tx) error {
		conv, err := conversationFor(ctx, tx, msg.ConversationID, msg.SenderID)
		if err != nil {
			return err
		}
		recipient, _ := conv.Counterpart(msg.SenderID)

		now := s.now()
		msg.CreatedAt = now
		if err := tx.AppendMessage(ctx, msg); err != nil {
			return err
		}

		draft, err := models.NewNotificationDraft(recipient, "New Message", preview, models.NewMessageData{
			ConversationID: conv.ID,
			ListingID:      conv.ListingID,
			MessageID:      msg.ID,
			SenderID:       msg.SenderID,
		})
		if err != nil {
			return err
		}
		return stage(ctx, tx, conv, models.TopicMessageNew, msg.ID, msg.SenderID, 1, msg, draft, now)
	})
	if err != nil {
		return err
	}
	metrics.MessagesTotal.WithLabelValues(string(msg.Kind)).Inc()
	return nil
}

// ListMessages returns a page of the timeline in replay order.
func (s *ConversationService) ListMessages(ctx context.Context, conversationID, userID uuid.UUID, limit, offset int) ([]models.Message, error) {
	if _, err := conversationFor(ctx, s.store, conversationID, userID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, conversationID, limit, offset)
}

// MarkRead marks the counterpart's messages read. It returns how many changed; a repeat
// call returns 0 and stages nothing.
func (s *ConversationService) MarkRead(ctx context.Context, conversationID, readerID uuid.UUID) (int64, error) {
	receipt, err := s.MarkReadReceipt(ctx, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	return receipt.Count, nil
}

// MarkReadReceipt is MarkRead returning the committed receipt, so callers keeping a local
// copy can stamp it with the server's read time. ReadAt is zero when nothing changed.
func (s *ConversationService) MarkReadReceipt(ctx context.Context, conversationID, readerID uuid.UUID) (*models.WSMessageReadPayload, error) {
	receipt := &models.WSMessageReadPayload{ConversationID: conversationID, ReaderID: readerID}
	err := s.commit(ctx, func(tx repository.Tx) error {
		conv, err := conversationFor(ctx, tx, conversationID, readerID)
		if err != nil {
			return err
		}

		now := s.now()
		changed, err := tx.MarkMessagesRead(ctx, conversationID, readerID, now)
		if err != nil || changed == 0 {
			return err
		}

		receipt.Count, receipt.ReadAt = changed, now
		return stage(ctx, tx, conv, models.TopicMessageRead, uuid.New(), readerID, 1, *receipt, nil, now)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}
