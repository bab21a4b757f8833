package chat

import (
	"context"
	"log/slog"
	"strings"

	"github.com/davitg0407/daypay-project/models"
	"github.com/davitg0407/daypay-project/telemetry"
)

// Inserter is the store capability Send needs.
type Inserter interface {
	Insert(ctx context.Context, m models.NewMessage) (models.Message, error)
}

// Send inserts content, trimmed, from conv.Local to conv.Counterpart without opening
// a live view. Whitespace-only content returns ErrEmptyMessage and never reaches the
// store; store failures come back as *SendError.
func Send(ctx context.Context, st Inserter, conv models.Conversation, content string) (models.Message, error) {
	if !conv.Valid() {
		return models.Message{}, ErrInvalidConversation
	}
	text := strings.TrimSpace(content)
	if text == "" {
		return models.Message{}, ErrEmptyMessage
	}
	return insert(ctx, st, conv, text, slog.Default().With(slog.String("component", "chat")))
}

func insert(ctx context.Context, st Inserter, conv models.Conversation, text string, log *slog.Logger) (models.Message, error) {
	ctx, span := telemetry.StartSpan(ctx, "chat", "chat.send",
		telemetry.ConversationAttrs(conv.JobID, conv.Local, conv.Counterpart)...)
	defer span.End()

	m, err := st.Insert(ctx, models.NewMessage{
		JobID:      conv.JobID,
		SenderID:   conv.Local,
		ReceiverID: conv.Counterpart,
		Content:    text,
	})
	telemetry.RecordSent(err)
	if err != nil {
		serr := &SendError{Err: err}
		telemetry.RecordError(span, serr)
		log.Warn("send failed", slog.Any("err", err))
		return models.Message{}, serr
	}
	telemetry.SetSpanSuccess(span)
	return m, nil
}
