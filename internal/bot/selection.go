package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/seikyu-ai/seikyubot/internal/conversation"
	"github.com/seikyu-ai/seikyubot/internal/invoice"
	"github.com/seikyu-ai/seikyubot/internal/issuer"
)

// SelectionFlow resolves a pending issuer selection from the user's
// reply: cancel, pick pattern 1 or 2, or anything else which re-prompts.
type SelectionFlow struct {
	logger  *slog.Logger
	sender  Sender
	states  StateStore
	drafts  DraftStore
	issuers *issuer.Registry
	baseURL string
}

func newSelectionFlow(log *slog.Logger, sender Sender, states StateStore, drafts DraftStore, issuers *issuer.Registry, baseURL string) *SelectionFlow {
	if log == nil {
		log = slog.Default()
	}
	return &SelectionFlow{
		logger:  log.With(slog.String("component", "selection")),
		sender:  sender,
		states:  states,
		drafts:  drafts,
		issuers: issuers,
		baseURL: baseURL,
	}
}

// Handle consumes one reply against a pending selection state.
// Cancellation wins over any digit in the same message.
func (f *SelectionFlow) Handle(ctx context.Context, state conversation.State, input, replyTo string) error {
	if isCancellation(input) {
		if err := f.discard(ctx, state); err != nil {
			return err
		}
		return f.sender.SendText(ctx, state.ChatID, msgCancelled, replyTo)
	}

	pattern, ok := parseSelection(input)
	if !ok {
		return f.sender.SendText(ctx, state.ChatID, msgReprompt, replyTo)
	}

	var data invoice.Data
	if err := json.Unmarshal(state.Payload, &data); err != nil {
		f.logger.Error("selection payload corrupted",
			slog.String("state_id", state.ID),
			slog.Any("error", err))
		if derr := f.discard(ctx, state); derr != nil {
			return derr
		}
		return f.sender.SendText(ctx, state.ChatID, msgStateCorrupted, replyTo)
	}

	if err := f.issuers.Apply(&data, pattern); err != nil {
		return err
	}

	id, err := f.drafts.CreateDraft(ctx, state.ChatID, state.MessageID, data)
	if err != nil {
		return err
	}
	if err := f.discard(ctx, state); err != nil {
		return err
	}

	editURL := fmt.Sprintf("%s/invoice/%s", strings.TrimRight(f.baseURL, "/"), id)
	f.logger.Info("draft created",
		slog.String("invoice_id", id),
		slog.String("chat_id", state.ChatID),
		slog.Int("pattern", pattern))
	return f.sender.SendText(ctx, state.ChatID, draftCreatedMessage(pattern, editURL), replyTo)
}

// discard removes the state row. A concurrent handler may have consumed
// it already; that is not an error.
func (f *SelectionFlow) discard(ctx context.Context, state conversation.State) error {
	err := f.states.Delete(ctx, state.ID)
	if errors.Is(err, conversation.ErrStateNotFound) {
		f.logger.Debug("state already consumed", slog.String("state_id", state.ID))
		return nil
	}
	return err
}

func isCancellation(input string) bool {
	lower := strings.ToLower(input)
	return strings.Contains(lower, "cancel") || strings.Contains(input, "キャンセル") || strings.Contains(input, "やめる")
}

// parseSelection accepts "1" or "2", tolerating a single trailing
// period since mobile keyboards often auto-append one.
func parseSelection(input string) (int, bool) {
	s := strings.TrimSpace(input)
	s = strings.TrimSuffix(s, "。")
	if strings.HasSuffix(s, ".") {
		s = strings.TrimSuffix(s, ".")
	}
	s = strings.TrimSpace(s)
	switch s {
	case "1":
		return 1, true
	case "2":
		return 2, true
	}
	return 0, false
}
