package bot

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/seikyu-ai/seikyubot/internal/conversation"
	"github.com/seikyu-ai/seikyubot/internal/dedup"
	"github.com/seikyu-ai/seikyubot/internal/invoice"
	"github.com/seikyu-ai/seikyubot/internal/issuer"
	"github.com/seikyu-ai/seikyubot/internal/lark"
)

// Message is a normalized inbound chat message, decoded from the
// webhook event envelope.
type Message struct {
	MessageID   string
	ChatID      string
	MessageType string
	// Content is the raw platform content JSON, whose shape depends on
	// MessageType.
	Content string
}

// Sender posts outbound messages to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID, text, replyTo string) error
}

// MediaDownloader fetches binary resources attached to a message.
type MediaDownloader interface {
	DownloadMessageResource(ctx context.Context, messageID, key, resourceType string) ([]byte, error)
}

// Extractor turns raw user input into structured invoice data.
type Extractor interface {
	FromText(ctx context.Context, text string) (invoice.Data, error)
	FromImage(ctx context.Context, data []byte, mimeType string) (invoice.Data, error)
	FromAudio(ctx context.Context, data []byte, mimeType string) (invoice.Data, error)
}

// StateStore persists pending conversation states.
type StateStore interface {
	Create(ctx context.Context, chatID, messageID string, phase conversation.Phase, payload []byte, ttl time.Duration) (string, error)
	ActiveByChat(ctx context.Context, chatID string) (conversation.State, error)
	Delete(ctx context.Context, id string) error
}

// DraftStore persists invoice drafts.
type DraftStore interface {
	CreateDraft(ctx context.Context, chatID, messageID string, data invoice.Data) (string, error)
}

// Router classifies inbound messages and drives the drafting
// conversation.
type Router struct {
	logger    *slog.Logger
	messages  dedup.Cache
	sender    Sender
	media     MediaDownloader
	extractor Extractor
	states    StateStore
	selection *SelectionFlow
	ttl       time.Duration
}

func NewRouter(log *slog.Logger, messages dedup.Cache, sender Sender, media MediaDownloader, extractor Extractor, states StateStore, drafts DraftStore, issuers *issuer.Registry, baseURL string, ttl time.Duration) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		logger:    log.With(slog.String("component", "router")),
		messages:  messages,
		sender:    sender,
		media:     media,
		extractor: extractor,
		states:    states,
		selection: newSelectionFlow(log, sender, states, drafts, issuers, baseURL),
		ttl:       ttl,
	}
}

// HandleMessage processes one inbound message end to end. Errors are
// absorbed here: they are logged and reported to the chat, never
// propagated to the webhook acknowledgement.
func (r *Router) HandleMessage(ctx context.Context, msg Message) {
	if r.messages.Has(msg.MessageID) {
		r.logger.Debug("duplicate message skipped", slog.String("message_id", msg.MessageID))
		return
	}
	r.messages.Add(msg.MessageID)

	var err error
	switch msg.MessageType {
	case "text":
		err = r.handleText(ctx, msg)
	case "image":
		err = r.handleImage(ctx, msg)
	case "audio":
		err = r.handleAudio(ctx, msg)
	default:
		err = r.sender.SendText(ctx, msg.ChatID, msgUnsupportedType, msg.MessageID)
	}
	if err != nil {
		r.logger.Error("message handling failed",
			slog.String("message_id", msg.MessageID),
			slog.String("chat_id", msg.ChatID),
			slog.String("type", msg.MessageType),
			slog.Any("error", err))
		if sendErr := r.sender.SendText(ctx, msg.ChatID, errorMessage(err), msg.MessageID); sendErr != nil {
			r.logger.Error("error report failed", slog.Any("error", sendErr))
		}
	}
}

type textContent struct {
	Text string `json:"text"`
}

func (r *Router) handleText(ctx context.Context, msg Message) error {
	var content textContent
	if err := json.Unmarshal([]byte(msg.Content), &content); err != nil {
		return err
	}
	text := stripMentions(content.Text)
	if text == "" {
		return nil
	}
	if isBareURL(text) || isOwnPrompt(text) {
		r.logger.Debug("ignored non-actionable text", slog.String("message_id", msg.MessageID))
		return nil
	}

	state, err := r.states.ActiveByChat(ctx, msg.ChatID)
	if err == nil && state.Phase == conversation.PhaseAwaitingIssuerSelection {
		return r.selection.Handle(ctx, state, text, msg.MessageID)
	}
	if err != nil && !errors.Is(err, conversation.ErrStateNotFound) {
		return err
	}

	if err := r.sender.SendText(ctx, msg.ChatID, msgAnalyzingText, msg.MessageID); err != nil {
		return err
	}
	data, err := r.extractor.FromText(ctx, text)
	if err != nil {
		return err
	}
	return r.startSelection(ctx, msg, data)
}

type imageContent struct {
	ImageKey string `json:"image_key"`
}

func (r *Router) handleImage(ctx context.Context, msg Message) error {
	pending, err := r.hasPendingSelection(ctx, msg)
	if err != nil || pending {
		return err
	}
	var content imageContent
	if err := json.Unmarshal([]byte(msg.Content), &content); err != nil {
		return err
	}
	if err := r.sender.SendText(ctx, msg.ChatID, msgAnalyzingImage, msg.MessageID); err != nil {
		return err
	}
	raw, err := r.media.DownloadMessageResource(ctx, msg.MessageID, content.ImageKey, lark.ResourceImage)
	if err != nil {
		return err
	}
	data, err := r.extractor.FromImage(ctx, raw, "image/jpeg")
	if err != nil {
		return err
	}
	return r.startSelection(ctx, msg, data)
}

type audioContent struct {
	FileKey string `json:"file_key"`
}

func (r *Router) handleAudio(ctx context.Context, msg Message) error {
	pending, err := r.hasPendingSelection(ctx, msg)
	if err != nil || pending {
		return err
	}
	var content audioContent
	if err := json.Unmarshal([]byte(msg.Content), &content); err != nil {
		return err
	}
	if err := r.sender.SendText(ctx, msg.ChatID, msgAnalyzingAudio, msg.MessageID); err != nil {
		return err
	}
	raw, err := r.media.DownloadMessageResource(ctx, msg.MessageID, content.FileKey, lark.ResourceFile)
	if err != nil {
		return err
	}
	data, err := r.extractor.FromAudio(ctx, raw, "audio/ogg")
	if err != nil {
		return err
	}
	return r.startSelection(ctx, msg, data)
}

// hasPendingSelection enforces one draft in flight per chat: media
// messages are rejected while a selection is pending, since they cannot
// answer the prompt.
func (r *Router) hasPendingSelection(ctx context.Context, msg Message) (bool, error) {
	state, err := r.states.ActiveByChat(ctx, msg.ChatID)
	if errors.Is(err, conversation.ErrStateNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if state.Phase != conversation.PhaseAwaitingIssuerSelection {
		return false, nil
	}
	return true, r.sender.SendText(ctx, msg.ChatID, msgSelectionPending, msg.MessageID)
}

func (r *Router) startSelection(ctx context.Context, msg Message, data invoice.Data) error {
	data.Recalculate()
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := r.states.Create(ctx, msg.ChatID, msg.MessageID, conversation.PhaseAwaitingIssuerSelection, payload, r.ttl); err != nil {
		return err
	}
	return r.sender.SendText(ctx, msg.ChatID, r.selection.issuers.SelectionMessage(), msg.MessageID)
}
