package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seikyu-ai/seikyubot/internal/db"
)

var ErrNotFound = errors.New("invoice not found")

// Service persists invoice drafts.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "invoice")),
	}
}

// CreateDraft stores a new invoice in draft status and returns its id.
// The financial fields are recomputed before saving.
func (s *Service) CreateDraft(ctx context.Context, chatID, messageID string, data Data) (string, error) {
	if s.pool == nil {
		return "", fmt.Errorf("invoice store not configured")
	}
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return "", fmt.Errorf("chat id is required")
	}
	data.Recalculate()
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal invoice data: %w", err)
	}
	id := uuid.NewString()
	now := time.Now().Unix()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO invoices (id, chat_id, message_id, status, data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		id, chatID, nullableText(messageID), string(StatusDraft), payload, now)
	if err != nil {
		return "", fmt.Errorf("insert invoice: %w", err)
	}
	s.logger.Info("draft created", slog.String("invoice_id", id), slog.String("chat_id", chatID))
	return id, nil
}

// Get loads an invoice by id.
func (s *Service) Get(ctx context.Context, id string) (Invoice, error) {
	if s.pool == nil {
		return Invoice{}, fmt.Errorf("invoice store not configured")
	}
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Invoice{}, err
	}
	row := s.pool.QueryRow(ctx,
		`SELECT id, chat_id, message_id, status, data, pdf_url, created_at, updated_at
		 FROM invoices WHERE id = $1`, pgID)
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrNotFound
		}
		return Invoice{}, fmt.Errorf("query invoice: %w", err)
	}
	return inv, nil
}

// UpdateData replaces the invoice payload. Totals are recomputed from the
// submitted line items rather than trusted.
func (s *Service) UpdateData(ctx context.Context, id string, data Data) error {
	if s.pool == nil {
		return fmt.Errorf("invoice store not configured")
	}
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	data.Recalculate()
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal invoice data: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE invoices SET data = $1, updated_at = $2 WHERE id = $3`,
		payload, time.Now().Unix(), pgID)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Complete marks the invoice as completed and records the delivered
// artifact reference.
func (s *Service) Complete(ctx context.Context, id, pdfURL string) error {
	if s.pool == nil {
		return fmt.Errorf("invoice store not configured")
	}
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE invoices SET status = $1, pdf_url = $2, updated_at = $3 WHERE id = $4`,
		string(StatusCompleted), pdfURL, time.Now().Unix(), pgID)
	if err != nil {
		return fmt.Errorf("complete invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.logger.Info("invoice completed", slog.String("invoice_id", id))
	return nil
}

// ListByChat returns a chat's invoices, newest first.
func (s *Service) ListByChat(ctx context.Context, chatID string) ([]Invoice, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("invoice store not configured")
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_id, message_id, status, data, pdf_url, created_at, updated_at
		 FROM invoices WHERE chat_id = $1 ORDER BY created_at DESC`, strings.TrimSpace(chatID))
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}
	defer rows.Close()
	var result []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		result = append(result, inv)
	}
	return result, rows.Err()
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var (
		id        pgtype.UUID
		messageID pgtype.Text
		pdfURL    pgtype.Text
		status    string
		payload   []byte
		inv       Invoice
	)
	if err := row.Scan(&id, &inv.ChatID, &messageID, &status, &payload, &pdfURL, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return Invoice{}, err
	}
	inv.ID = db.UUIDString(id)
	inv.MessageID = messageID.String
	inv.PDFURL = pdfURL.String
	inv.Status = Status(status)
	if err := json.Unmarshal(payload, &inv.Data); err != nil {
		return Invoice{}, fmt.Errorf("unmarshal invoice data: %w", err)
	}
	return inv, nil
}

func nullableText(raw string) pgtype.Text {
	raw = strings.TrimSpace(raw)
	return pgtype.Text{String: raw, Valid: raw != ""}
}
