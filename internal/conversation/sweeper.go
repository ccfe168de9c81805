package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// notifySuppression is how long a chat stays muted after a timeout notice.
// Repeated sweeps within the window (e.g. when a delete partially failed
// and rows linger) must not notify the same chat again.
const notifySuppression = 5 * time.Minute

type expiredStateStore interface {
	ListExpired(ctx context.Context, now int64) ([]State, error)
	Delete(ctx context.Context, id string) error
}

type timeoutNotifier interface {
	SendText(ctx context.Context, chatID, text, replyTo string) error
}

// Sweeper periodically deletes expired conversation states and tells each
// affected chat, once, that its pending flow was abandoned.
type Sweeper struct {
	logger   *slog.Logger
	store    expiredStateStore
	notifier timeoutNotifier
	notice   string
	cron     *cron.Cron

	mu       sync.Mutex
	notified map[string]time.Time
}

// NewSweeper creates a sweeper. notice is the message sent to a chat whose
// state expired.
func NewSweeper(log *slog.Logger, store expiredStateStore, notifier timeoutNotifier, notice string) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		logger:   log.With(slog.String("service", "sweeper")),
		store:    store,
		notifier: notifier,
		notice:   notice,
		notified: make(map[string]time.Time),
	}
}

// Start schedules the sweep every minute. Stop cancels it.
func (s *Sweeper) Start() error {
	c := cron.New()
	if _, err := c.AddFunc("@every 1m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Second)
		defer cancel()
		s.Sweep(ctx, time.Now())
	}); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.logger.Info("sweeper started")
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Sweep runs one cleanup cycle. Failures for one chat group are logged and
// do not block the remaining groups.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) {
	expired, err := s.store.ListExpired(ctx, now.Unix())
	if err != nil {
		s.logger.Error("list expired states failed", slog.Any("error", err))
		return
	}
	if len(expired) == 0 {
		return
	}

	groups := make(map[string][]State)
	order := make([]string, 0, 4)
	for _, st := range expired {
		if _, ok := groups[st.ChatID]; !ok {
			order = append(order, st.ChatID)
		}
		groups[st.ChatID] = append(groups[st.ChatID], st)
	}

	for _, chatID := range order {
		states := groups[chatID]
		if s.shouldNotify(chatID, now) {
			// Thread the notice to the oldest pending prompt.
			if err := s.notifier.SendText(ctx, chatID, s.notice, states[0].MessageID); err != nil {
				s.logger.Error("timeout notice failed",
					slog.String("chat_id", chatID),
					slog.Any("error", err),
				)
				// Rows stay; the next sweep retries without re-notifying.
				continue
			}
			s.markNotified(chatID, now)
		}
		deleted := 0
		for _, st := range states {
			if err := s.store.Delete(ctx, st.ID); err != nil {
				s.logger.Error("delete expired state failed",
					slog.String("chat_id", chatID),
					slog.String("state_id", st.ID),
					slog.Any("error", err),
				)
				continue
			}
			deleted++
		}
		s.logger.Info("expired states cleaned up",
			slog.String("chat_id", chatID),
			slog.Int("deleted", deleted),
			slog.Int("expired", len(states)),
		)
	}
}

func (s *Sweeper) shouldNotify(chatID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.notified[chatID]
	if !ok {
		return true
	}
	return now.Sub(at) >= notifySuppression
}

func (s *Sweeper) markNotified(chatID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, at := range s.notified {
		if now.Sub(at) >= notifySuppression {
			delete(s.notified, id)
		}
	}
	s.notified[chatID] = now
}
