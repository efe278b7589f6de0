// Package media sends photo and video messages: the attachment is uploaded
// first and the message is only written once a reference exists.
package media

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/messenger/internal/blob"
	"github.com/matheus3301/messenger/internal/bus"
	"github.com/matheus3301/messenger/internal/chat"
	"github.com/matheus3301/messenger/internal/message"
	"github.com/matheus3301/messenger/internal/metrics"
	"github.com/matheus3301/messenger/internal/session"
	"go.uber.org/zap"
)

// Bus events.
const (
	EventUploadFailed = "media.upload_failed"
	EventSent         = "media.sent"
)

// MessageSender appends messages to a conversation. *chat.Store implements it.
type MessageSender interface {
	SendMessage(ctx context.Context, me session.Identity, convID, otherSafeID, displayName string, msg message.Message) (chat.SendReport, error)
}

// UploadFailed is the payload of EventUploadFailed.
type UploadFailed struct {
	ConversationID string
	MessageID      string
	Kind           message.Kind
	Error          string
}

// Sent is the payload of EventSent.
type Sent struct {
	ConversationID string
	MessageID      string
	Kind           message.Kind
	Reference      string
}

// Sender runs the upload-then-send pipeline.
type Sender struct {
	messages MessageSender
	blobs    blob.Gateway
	bus      *bus.Bus
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewSender creates a media sender. The bus and metrics may be nil.
func NewSender(messages MessageSender, blobs blob.Gateway, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		messages: messages,
		blobs:    blobs,
		bus:      b,
		metrics:  m,
		logger:   logger.Named("media"),
		now:      time.Now,
	}
}

// SendPhoto uploads data as the image of a new photo message and sends it.
func (s *Sender) SendPhoto(ctx context.Context, me session.Identity, convID, otherSafeID, displayName string, data []byte) (chat.SendReport, error) {
	if me.Address == "" {
		return chat.SendReport{}, session.ErrNotAuthenticated
	}
	at := s.now()
	id := message.NewID(otherSafeID, me.SafeID(), at)
	ref, err := s.blobs.Upload(ctx, data, blob.MessageImagePath(id))
	s.metrics.Upload(string(message.KindPhoto), int64(len(data)), err)
	if err != nil {
		return chat.SendReport{}, s.uploadFailed(convID, id, message.KindPhoto, err)
	}
	return s.send(ctx, me, convID, otherSafeID, displayName, message.Photo(id, me.Sender(), at, ref))
}

// SendVideo streams the file at localPath as the clip of a new video message
// and sends it.
func (s *Sender) SendVideo(ctx context.Context, me session.Identity, convID, otherSafeID, displayName, localPath string) (chat.SendReport, error) {
	if me.Address == "" {
		return chat.SendReport{}, session.ErrNotAuthenticated
	}
	at := s.now()
	id := message.NewID(otherSafeID, me.SafeID(), at)
	var size int64
	if info, err := os.Stat(localPath); err == nil {
		size = info.Size()
	}
	ref, err := s.blobs.UploadFile(ctx, localPath, blob.MessageVideoPath(id))
	s.metrics.Upload(string(message.KindVideo), size, err)
	if err != nil {
		return chat.SendReport{}, s.uploadFailed(convID, id, message.KindVideo, err)
	}
	return s.send(ctx, me, convID, otherSafeID, displayName, message.Video(id, me.Sender(), at, ref))
}

func (s *Sender) uploadFailed(convID, id string, kind message.Kind, err error) error {
	s.logger.Error("attachment upload failed",
		zap.String("conversation", convID), zap.String("msg_id", id), zap.String("kind", string(kind)), zap.Error(err))
	s.publish(EventUploadFailed, UploadFailed{ConversationID: convID, MessageID: id, Kind: kind, Error: err.Error()})
	return fmt.Errorf("send %s: %w", kind, err)
}

func (s *Sender) send(ctx context.Context, me session.Identity, convID, otherSafeID, displayName string, msg message.Message) (chat.SendReport, error) {
	report, err := s.messages.SendMessage(ctx, me, convID, otherSafeID, displayName, msg)
	if report.Outcome(chat.StepAppendMessage) != chat.Applied {
		return report, err
	}
	s.logger.Info("media message sent",
		zap.String("conversation", convID), zap.String("msg_id", msg.ID), zap.String("kind", string(msg.Kind)))
	s.publish(EventSent, Sent{ConversationID: convID, MessageID: msg.ID, Kind: msg.Kind, Reference: msg.MediaURL})
	return report, err
}

func (s *Sender) publish(kind string, payload any) {
	if s.bus != nil {
		s.bus.Publish(bus.NewEvent(kind, payload))
	}
}
