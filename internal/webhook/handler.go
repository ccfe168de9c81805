// Package webhook is the inbound edge of the bot: it answers the Lark
// event-subscription handshake, validates envelopes, deduplicates
// deliveries and feeds message events into the router.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/seikyu-ai/seikyubot/internal/bot"
	"github.com/seikyu-ai/seikyubot/internal/dedup"
)

const maxBodyBytes int64 = 1 << 20 // 1 MiB

const eventTypeMessageReceive = "im.message.receive_v1"

// supportedSchema is the only event envelope version the endpoint
// recognizes; anything else is rejected rather than guessed at.
const supportedSchema = "2.0"

// Dispatcher consumes one validated inbound message. It must absorb
// application errors itself; the webhook always acks once dispatch ran.
type Dispatcher interface {
	HandleMessage(ctx context.Context, msg bot.Message)
}

// envelope is the fuzzy union of everything Lark posts to the endpoint:
// the url_verification handshake, encrypted payloads, and schema 2.0
// event callbacks.
type envelope struct {
	Type      string          `json:"type"`
	Challenge string          `json:"challenge"`
	Token     string          `json:"token"`
	Encrypt   string          `json:"encrypt"`
	Schema    string          `json:"schema"`
	Header    envelopeHeader  `json:"header"`
	Event     json.RawMessage `json:"event"`
}

type envelopeHeader struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Token     string `json:"token"`
}

type messageEvent struct {
	Sender struct {
		SenderType string `json:"sender_type"`
	} `json:"sender"`
	Message struct {
		MessageID   string `json:"message_id"`
		ChatID      string `json:"chat_id"`
		MessageType string `json:"message_type"`
		Content     string `json:"content"`
	} `json:"message"`
}

// Handler receives Lark event-subscription callbacks.
type Handler struct {
	logger            *slog.Logger
	events            dedup.Cache
	router            Dispatcher
	verificationToken string
}

func NewHandler(log *slog.Logger, events dedup.Cache, router Dispatcher, verificationToken string) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		logger:            log.With(slog.String("handler", "webhook")),
		events:            events,
		router:            router,
		verificationToken: strings.TrimSpace(verificationToken),
	}
}

// Register registers the webhook callback routes.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/webhook/lark", h.HandleProbe)
	e.POST("/webhook/lark", h.Handle)
}

// HandleProbe responds to health/probe requests on the webhook URL.
func (h *Handler) HandleProbe(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Handle processes one webhook delivery. The handshake short-circuits
// before any validation or dedup work; everything recognized after that
// is acked with success so the platform stops retrying.
func (h *Handler) Handle(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
	}
	if int64(len(payload)) > maxBodyBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("payload too large: max %d bytes", maxBodyBytes))
	}
	if len(payload) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "empty body")
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid webhook payload: %v", err))
	}

	if env.Type == "url_verification" {
		return c.JSON(http.StatusOK, map[string]string{"challenge": env.Challenge})
	}

	if strings.TrimSpace(env.Encrypt) != "" {
		return echo.NewHTTPError(http.StatusBadRequest, "encrypted events are not supported; disable encrypt_key in the app settings")
	}
	if err := h.checkToken(env); err != nil {
		return err
	}

	eventID := strings.TrimSpace(env.Header.EventID)
	if env.Schema != supportedSchema || eventID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "unrecognized event envelope")
	}

	if h.events.Has(eventID) {
		h.logger.Debug("duplicate event skipped", slog.String("event_id", eventID))
		return h.ackDuplicate(c)
	}
	h.events.Add(eventID)

	if env.Header.EventType != eventTypeMessageReceive {
		h.logger.Debug("unhandled event type",
			slog.String("event_id", eventID),
			slog.String("event_type", env.Header.EventType))
		return h.ack(c)
	}

	var event messageEvent
	if err := json.Unmarshal(env.Event, &event); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid message event: %v", err))
	}
	if event.Sender.SenderType != "user" {
		h.logger.Debug("non-user sender skipped",
			slog.String("event_id", eventID),
			slog.String("sender_type", event.Sender.SenderType))
		return h.ack(c)
	}

	// Dispatch is awaited: a fire-and-forget goroutine here would lose
	// the event if the process is torn down right after the ack.
	h.router.HandleMessage(c.Request().Context(), bot.Message{
		MessageID:   event.Message.MessageID,
		ChatID:      event.Message.ChatID,
		MessageType: event.Message.MessageType,
		Content:     event.Message.Content,
	})
	return h.ack(c)
}

func (h *Handler) checkToken(env envelope) error {
	if h.verificationToken == "" {
		return nil
	}
	token := strings.TrimSpace(env.Token)
	if t := strings.TrimSpace(env.Header.Token); t != "" {
		token = t
	}
	if token != h.verificationToken {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid verification token")
	}
	return nil
}

func (h *Handler) ack(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

// ackDuplicate still succeeds so the platform stops retrying, but marks
// the delivery as already processed.
func (h *Handler) ackDuplicate(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"success": true, "message": "duplicate event"})
}
