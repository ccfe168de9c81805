package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/seikyu-ai/seikyubot/internal/invoice"
	"github.com/seikyu-ai/seikyubot/internal/pdf"
)

type invoiceStore interface {
	Get(ctx context.Context, id string) (invoice.Invoice, error)
	UpdateData(ctx context.Context, id string, data invoice.Data) error
	Complete(ctx context.Context, id, pdfURL string) error
}

type chatSender interface {
	SendText(ctx context.Context, chatID, text, replyTo string) error
	SendFile(ctx context.Context, chatID, fileKey, replyTo string) error
	UploadFile(ctx context.Context, name, fileType string, r io.Reader) (string, error)
}

// InvoiceHandler serves the draft editing API used by the web editor,
// plus the send operation that renders the PDF and delivers it to the
// originating chat.
type InvoiceHandler struct {
	logger   *slog.Logger
	invoices invoiceStore
	sender   chatSender
	renderer pdf.Renderer
}

func NewInvoiceHandler(log *slog.Logger, invoices invoiceStore, sender chatSender, renderer pdf.Renderer) *InvoiceHandler {
	if log == nil {
		log = slog.Default()
	}
	return &InvoiceHandler{
		logger:   log.With(slog.String("handler", "invoice")),
		invoices: invoices,
		sender:   sender,
		renderer: renderer,
	}
}

func (h *InvoiceHandler) Register(e *echo.Echo) {
	e.GET("/api/invoices/:id", h.Get)
	e.PUT("/api/invoices/:id", h.Update)
	e.POST("/api/invoices/:id/send", h.Send)
}

type invoiceResponse struct {
	ID        string       `json:"id"`
	ChatID    string       `json:"chatId"`
	Status    string       `json:"status"`
	Data      invoice.Data `json:"data"`
	PDFURL    string       `json:"pdfUrl,omitempty"`
	CreatedAt int64        `json:"createdAt"`
	UpdatedAt int64        `json:"updatedAt"`
}

func toResponse(inv invoice.Invoice) invoiceResponse {
	return invoiceResponse{
		ID:        inv.ID,
		ChatID:    inv.ChatID,
		Status:    string(inv.Status),
		Data:      inv.Data,
		PDFURL:    inv.PDFURL,
		CreatedAt: inv.CreatedAt,
		UpdatedAt: inv.UpdatedAt,
	}
}

func (h *InvoiceHandler) Get(c echo.Context) error {
	inv, err := h.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toResponse(inv))
}

type updateRequest struct {
	Data invoice.Data `json:"data"`
}

// Update replaces the draft payload. Totals are recomputed server-side;
// whatever subtotal/tax/total the editor sent is discarded.
func (h *InvoiceHandler) Update(c echo.Context) error {
	inv, err := h.lookup(c)
	if err != nil {
		return err
	}
	if inv.Status != invoice.StatusDraft {
		return echo.NewHTTPError(http.StatusConflict, "invoice is already completed")
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Data.Items) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "items must not be empty")
	}
	if err := h.invoices.UpdateData(c.Request().Context(), inv.ID, req.Data); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	updated, err := h.invoices.Get(c.Request().Context(), inv.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, toResponse(updated))
}

// Send renders the PDF, uploads it to the chat platform, delivers it to
// the chat the draft came from and marks the invoice completed.
func (h *InvoiceHandler) Send(c echo.Context) error {
	inv, err := h.lookup(c)
	if err != nil {
		return err
	}
	if inv.Status == invoice.StatusCompleted {
		return echo.NewHTTPError(http.StatusConflict, "invoice is already completed")
	}
	ctx := c.Request().Context()

	pdfBytes, err := h.renderer.Render(ctx, inv.Data)
	if err != nil {
		h.logger.Error("pdf render failed", slog.String("invoice_id", inv.ID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("render pdf: %v", err))
	}

	name := pdfFileName(inv.Data)
	fileKey, err := h.sender.UploadFile(ctx, name, "pdf", bytes.NewReader(pdfBytes))
	if err != nil {
		h.logger.Error("pdf upload failed", slog.String("invoice_id", inv.ID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("upload pdf: %v", err))
	}
	if err := h.sender.SendFile(ctx, inv.ChatID, fileKey, inv.MessageID); err != nil {
		h.logger.Error("pdf delivery failed", slog.String("invoice_id", inv.ID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("send pdf: %v", err))
	}
	if err := h.sender.SendText(ctx, inv.ChatID, "請求書PDFを送信しました！", inv.MessageID); err != nil {
		h.logger.Error("completion notice failed", slog.String("invoice_id", inv.ID), slog.Any("error", err))
	}

	pdfURL := "lark://file/" + fileKey
	if err := h.invoices.Complete(ctx, inv.ID, pdfURL); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.logger.Info("invoice sent",
		slog.String("invoice_id", inv.ID),
		slog.String("chat_id", inv.ChatID),
		slog.String("file_key", fileKey))
	return c.JSON(http.StatusOK, map[string]string{"status": "sent", "pdfUrl": pdfURL})
}

func (h *InvoiceHandler) lookup(c echo.Context) (invoice.Invoice, error) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return invoice.Invoice{}, echo.NewHTTPError(http.StatusBadRequest, "invoice id is required")
	}
	inv, err := h.invoices.Get(c.Request().Context(), id)
	if errors.Is(err, invoice.ErrNotFound) {
		return invoice.Invoice{}, echo.NewHTTPError(http.StatusNotFound, "invoice not found")
	}
	if err != nil {
		return invoice.Invoice{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return inv, nil
}

var unsafeFileChars = regexp.MustCompile(`[\\/:*?"<>|]`)

// pdfFileName builds "<issueDate>_<recipient>様.pdf" with filesystem
// metacharacters replaced.
func pdfFileName(data invoice.Data) string {
	date := strings.TrimSpace(data.IssueDate)
	if date == "" {
		date = "請求書"
	}
	recipient := strings.TrimSpace(data.Recipient.Name)
	if recipient == "" {
		recipient = "宛先未設定"
	}
	name := fmt.Sprintf("%s_%s様.pdf", date, recipient)
	return unsafeFileChars.ReplaceAllString(name, "_")
}
