// Package lark wraps the Lark open-platform SDK with the four outbound
// capabilities the bot needs: send text, send file, upload file, and
// download a message resource.
package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/seikyu-ai/seikyubot/internal/config"
)

// Resource types accepted by the message-resource download API.
const (
	ResourceImage = "image"
	ResourceFile  = "file"
)

// Client talks to the Lark IM API.
type Client struct {
	logger *slog.Logger
	api    *lark.Client
}

func NewClient(log *slog.Logger, cfg config.LarkConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		logger: log.With(slog.String("service", "lark")),
		api:    lark.NewClient(cfg.AppID, cfg.AppSecret, lark.WithOpenBaseUrl(cfg.BaseURL)),
	}
}

// SendText delivers a text message to a chat. When replyTo is set the
// message is threaded to that message id.
func (c *Client) SendText(ctx context.Context, chatID, text, replyTo string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("message text is required")
	}
	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal text content: %w", err)
	}
	return c.send(ctx, chatID, larkim.MsgTypeText, string(content), replyTo)
}

// SendFile delivers a previously uploaded file to a chat.
func (c *Client) SendFile(ctx context.Context, chatID, fileKey, replyTo string) error {
	fileKey = strings.TrimSpace(fileKey)
	if fileKey == "" {
		return fmt.Errorf("file key is required")
	}
	content, err := json.Marshal(map[string]string{"file_key": fileKey})
	if err != nil {
		return fmt.Errorf("marshal file content: %w", err)
	}
	return c.send(ctx, chatID, larkim.MsgTypeFile, string(content), replyTo)
}

func (c *Client) send(ctx context.Context, chatID, msgType, content, replyTo string) error {
	if strings.TrimSpace(chatID) == "" {
		return fmt.Errorf("chat id is required")
	}
	if replyTo = strings.TrimSpace(replyTo); replyTo != "" {
		req := larkim.NewReplyMessageReqBuilder().
			MessageId(replyTo).
			Body(larkim.NewReplyMessageReqBodyBuilder().
				Content(content).
				MsgType(msgType).
				Uuid(uuid.NewString()).
				Build()).
			Build()
		resp, err := c.api.Im.V1.Message.Reply(ctx, req)
		if err != nil {
			c.logger.Error("reply failed", slog.String("chat_id", chatID), slog.Any("error", err))
			return err
		}
		if resp == nil || !resp.Success() {
			code, msg := 0, ""
			if resp != nil {
				code, msg = resp.Code, resp.Msg
			}
			c.logger.Error("reply failed", slog.String("chat_id", chatID), slog.Int("code", code), slog.String("msg", msg))
			return fmt.Errorf("lark reply failed: %s (code: %d)", msg, code)
		}
		return nil
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(msgType).
			Content(content).
			Uuid(uuid.NewString()).
			Build()).
		Build()
	resp, err := c.api.Im.V1.Message.Create(ctx, req)
	if err != nil {
		c.logger.Error("send failed", slog.String("chat_id", chatID), slog.Any("error", err))
		return err
	}
	if resp == nil || !resp.Success() {
		code, msg := 0, ""
		if resp != nil {
			code, msg = resp.Code, resp.Msg
		}
		c.logger.Error("send failed", slog.String("chat_id", chatID), slog.Int("code", code), slog.String("msg", msg))
		return fmt.Errorf("lark send failed: %s (code: %d)", msg, code)
	}
	return nil
}

// UploadFile uploads a file and returns the file key for sending.
func (c *Client) UploadFile(ctx context.Context, name, fileType string, r io.Reader) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "attachment"
	}
	if strings.TrimSpace(fileType) == "" {
		fileType = larkim.FileTypeStream
	}
	req := larkim.NewCreateFileReqBuilder().
		Body(larkim.NewCreateFileReqBodyBuilder().
			FileType(fileType).
			FileName(name).
			File(r).
			Build()).
		Build()
	resp, err := c.api.Im.V1.File.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	if resp == nil || !resp.Success() {
		code, msg := 0, ""
		if resp != nil {
			code, msg = resp.Code, resp.Msg
		}
		return "", fmt.Errorf("upload file: %s (code: %d)", msg, code)
	}
	if resp.Data == nil || resp.Data.FileKey == nil || strings.TrimSpace(*resp.Data.FileKey) == "" {
		return "", fmt.Errorf("upload file: empty file key")
	}
	return strings.TrimSpace(*resp.Data.FileKey), nil
}

// DownloadMessageResource fetches a user-sent resource. The API requires
// both the message id and the resource key; resourceType is "image" for
// image messages and "file" for audio and file messages.
func (c *Client) DownloadMessageResource(ctx context.Context, messageID, key, resourceType string) ([]byte, error) {
	if strings.TrimSpace(messageID) == "" || strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("message id and resource key are required")
	}
	req := larkim.NewGetMessageResourceReqBuilder().
		MessageId(messageID).
		FileKey(key).
		Type(resourceType).
		Build()
	resp, err := c.api.Im.V1.MessageResource.Get(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("download resource: %w", err)
	}
	if !resp.Success() {
		return nil, fmt.Errorf("download resource: %s (code: %d)", resp.Msg, resp.Code)
	}
	if resp.File == nil {
		return nil, fmt.Errorf("download resource: empty payload")
	}
	data, err := io.ReadAll(resp.File)
	if err != nil {
		return nil, fmt.Errorf("read resource: %w", err)
	}
	return data, nil
}
