package conversation

import (
	"context"
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

var ErrStateNotFound = errors.New("conversation state not found")

// Store persists conversation states. States survive process restarts;
// expiry is enforced at read time and asynchronously by the Sweeper.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		pool:   pool,
		logger: log.With(slog.String("service", "conversation")),
	}
}

// Create inserts a new state and returns its id. Existing states for the
// chat are not touched: a new extraction replaces the old state by being
// newer, and the old row ages out through expiry.
func (s *Store) Create(ctx context.Context, chatID, messageID string, phase Phase, payload []byte, ttl time.Duration) (string, error) {
	if s.pool == nil {
		return "", fmt.Errorf("conversation store not configured")
	}
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return "", fmt.Errorf("chat id is required")
	}
	id := uuid.NewString()
	now := time.Now().Unix()
	expiresAt := now + int64(ttl.Seconds())
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_states (id, chat_id, message_id, phase, data, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, chatID, messageID, string(phase), payload, now, expiresAt)
	if err != nil {
		return "", fmt.Errorf("insert conversation state: %w", err)
	}
	s.logger.Debug("state created",
		slog.String("state_id", id),
		slog.String("chat_id", chatID),
		slog.String("phase", string(phase)),
	)
	return id, nil
}

// ActiveByChat returns the latest non-expired state for a chat, or
// ErrStateNotFound. Expired rows that the sweeper has not deleted yet are
// already invisible here.
func (s *Store) ActiveByChat(ctx context.Context, chatID string) (State, error) {
	if s.pool == nil {
		return State{}, fmt.Errorf("conversation store not configured")
	}
	now := time.Now().Unix()
	row := s.pool.QueryRow(ctx,
		`SELECT id, chat_id, message_id, phase, data, created_at, expires_at
		 FROM conversation_states
		 WHERE chat_id = $1 AND expires_at > $2
		 ORDER BY created_at DESC
		 LIMIT 1`,
		strings.TrimSpace(chatID), now)
	st, err := scanState(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return State{}, ErrStateNotFound
		}
		return State{}, fmt.Errorf("query conversation state: %w", err)
	}
	if !st.ActiveAt(now) {
		return State{}, ErrStateNotFound
	}
	return st, nil
}

// Delete removes a state by id. Deleting by id rather than chat id makes a
// concurrent duplicate transition a detectable no-op instead of silently
// removing a newer record.
func (s *Store) Delete(ctx context.Context, id string) error {
	if s.pool == nil {
		return fmt.Errorf("conversation store not configured")
	}
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversation_states WHERE id = $1`, pgID)
	if err != nil {
		return fmt.Errorf("delete conversation state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateNotFound
	}
	return nil
}

// ListExpired returns every state with expires_at at or before now.
func (s *Store) ListExpired(ctx context.Context, now int64) ([]State, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("conversation store not configured")
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_id, message_id, phase, data, created_at, expires_at
		 FROM conversation_states
		 WHERE expires_at <= $1
		 ORDER BY created_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("query expired states: %w", err)
	}
	defer rows.Close()
	var result []State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

func scanState(row pgx.Row) (State, error) {
	var (
		id    pgtype.UUID
		phase string
		st    State
	)
	if err := row.Scan(&id, &st.ChatID, &st.MessageID, &phase, &st.Payload, &st.CreatedAt, &st.ExpiresAt); err != nil {
		return State{}, err
	}
	st.ID = db.UUIDString(id)
	st.Phase = Phase(phase)
	return st, nil
}
