// Package extract calls the Gemini generateContent API to turn text,
// image, or audio input into a structured invoice payload. The model
// response is treated as a best-effort normalizer: malformed or truncated
// JSON is run through a repair ladder before the caller sees an error.
package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/seikyu-ai/seikyubot/internal/config"
	"github.com/seikyu-ai/seikyubot/internal/invoice"
)

var ErrNoContent = errors.New("extraction returned no content")

// Client is the extraction oracle.
type Client struct {
	logger  *slog.Logger
	http    *http.Client
	apiKey  string
	model   string
	baseURL string
}

func NewClient(log *slog.Logger, cfg config.GeminiConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		logger:  log.With(slog.String("service", "extract")),
		http:    &http.Client{Timeout: 90 * time.Second},
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: cfg.BaseURL,
	}
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// FromText extracts invoice data from free text.
func (c *Client) FromText(ctx context.Context, text string) (invoice.Data, error) {
	return c.generate(ctx, []part{
		{Text: extractionPrompt},
		{Text: "\n\nユーザー入力:\n" + text},
	})
}

// FromImage extracts invoice data from an image.
func (c *Client) FromImage(ctx context.Context, data []byte, mimeType string) (invoice.Data, error) {
	return c.generate(ctx, []part{
		{Text: extractionPrompt},
		{Text: "\n\n画像から請求書情報を抽出してください。"},
		{InlineData: &inlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(data)}},
	})
}

// FromAudio extracts invoice data from an audio recording.
func (c *Client) FromAudio(ctx context.Context, data []byte, mimeType string) (invoice.Data, error) {
	return c.generate(ctx, []part{
		{Text: extractionPrompt},
		{Text: "\n\n音声メッセージから請求書情報を抽出してください。"},
		{InlineData: &inlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(data)}},
	})
}

func (c *Client) generate(ctx context.Context, parts []part) (invoice.Data, error) {
	reqBody := generateRequest{
		Contents: []content{{Parts: parts}},
		GenerationConfig: generationConfig{
			Temperature:     0.2,
			TopK:            40,
			TopP:            0.95,
			MaxOutputTokens: 2048,
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return invoice.Data{}, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return invoice.Data{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return invoice.Data{}, fmt.Errorf("call extraction api: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return invoice.Data{}, fmt.Errorf("read response: %w", err)
	}

	var gen generateResponse
	if err := json.Unmarshal(body, &gen); err != nil {
		return invoice.Data{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := "unknown error"
		if gen.Error != nil && gen.Error.Message != "" {
			msg = gen.Error.Message
		}
		return invoice.Data{}, fmt.Errorf("extraction api error: %s (status %d)", msg, resp.StatusCode)
	}
	if len(gen.Candidates) == 0 || len(gen.Candidates[0].Content.Parts) == 0 {
		return invoice.Data{}, ErrNoContent
	}

	text := gen.Candidates[0].Content.Parts[0].Text
	c.logger.Debug("extraction response", slog.Int("length", len(text)))

	data, err := parseInvoiceJSON(text)
	if err != nil {
		c.logger.Error("extraction parse failed", slog.Any("error", err))
		return invoice.Data{}, err
	}
	return data, nil
}
