package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/seikyu-ai/seikyubot/internal/config"
	"github.com/seikyu-ai/seikyubot/internal/conversation"
	"github.com/seikyu-ai/seikyubot/internal/dedup"
	"github.com/seikyu-ai/seikyubot/internal/invoice"
	"github.com/seikyu-ai/seikyubot/internal/issuer"
)

type sentMessage struct {
	chatID  string
	text    string
	replyTo string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *fakeSender) SendText(_ context.Context, chatID, text, replyTo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{chatID: chatID, text: text, replyTo: replyTo})
	return nil
}

func (s *fakeSender) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, m := range s.sent {
		out[i] = m.text
	}
	return out
}

type fakeMedia struct {
	data  []byte
	err   error
	calls int
}

func (m *fakeMedia) DownloadMessageResource(_ context.Context, _, _, _ string) ([]byte, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.data, nil
}

type fakeExtractor struct {
	data       invoice.Data
	err        error
	textCalls  []string
	imageCalls int
	audioCalls int
}

func (e *fakeExtractor) result() (invoice.Data, error) {
	if e.err != nil {
		return invoice.Data{}, e.err
	}
	return e.data, nil
}

func (e *fakeExtractor) FromText(_ context.Context, text string) (invoice.Data, error) {
	e.textCalls = append(e.textCalls, text)
	return e.result()
}

func (e *fakeExtractor) FromImage(_ context.Context, _ []byte, _ string) (invoice.Data, error) {
	e.imageCalls++
	return e.result()
}

func (e *fakeExtractor) FromAudio(_ context.Context, _ []byte, _ string) (invoice.Data, error) {
	e.audioCalls++
	return e.result()
}

type fakeStateStore struct {
	mu        sync.Mutex
	active    *conversation.State
	nextID    int
	created   []conversation.State
	deleted   []string
	deleteErr error
}

func (s *fakeStateStore) Create(_ context.Context, chatID, messageID string, phase conversation.Phase, payload []byte, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	now := time.Now()
	st := conversation.State{
		ID:        fmt.Sprintf("state-%d", s.nextID),
		ChatID:    chatID,
		MessageID: messageID,
		Phase:     phase,
		Payload:   payload,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	s.created = append(s.created, st)
	s.active = &st
	return st.ID, nil
}

func (s *fakeStateStore) ActiveByChat(_ context.Context, chatID string) (conversation.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.ChatID != chatID || !s.active.ActiveAt(time.Now().Unix()) {
		return conversation.State{}, conversation.ErrStateNotFound
	}
	return *s.active, nil
}

func (s *fakeStateStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if s.active == nil || s.active.ID != id {
		return conversation.ErrStateNotFound
	}
	s.deleted = append(s.deleted, id)
	s.active = nil
	return nil
}

type fakeDraftStore struct {
	mu      sync.Mutex
	nextID  int
	created []invoice.Data
	err     error
}

func (d *fakeDraftStore) CreateDraft(_ context.Context, _, _ string, data invoice.Data) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	d.nextID++
	d.created = append(d.created, data)
	return fmt.Sprintf("invoice-%d", d.nextID), nil
}

func testRegistry() *issuer.Registry {
	return issuer.NewRegistry(config.IssuerConfig{
		Pattern1: config.IssuerPattern{Name: "山田太郎", Company: "株式会社アルファ", Address: "東京都渋谷区1-2-3", BankInfo: "みずほ銀行 渋谷支店 普通 1234567"},
		Pattern2: config.IssuerPattern{Name: "佐藤花子", Company: "株式会社ベータ", Address: "大阪府大阪市4-5-6", BankInfo: "三井住友銀行 梅田支店 普通 7654321"},
	})
}

type routerFixture struct {
	router    *Router
	sender    *fakeSender
	media     *fakeMedia
	extractor *fakeExtractor
	states    *fakeStateStore
	drafts    *fakeDraftStore
}

func newRouterFixture() *routerFixture {
	f := &routerFixture{
		sender:    &fakeSender{},
		media:     &fakeMedia{data: []byte("binary")},
		extractor: &fakeExtractor{data: invoice.Data{Items: []invoice.LineItem{{Description: "作業費", Quantity: 1, UnitPrice: 10000}}}},
		states:    &fakeStateStore{},
		drafts:    &fakeDraftStore{},
	}
	f.router = NewRouter(nil, dedup.NewBoundedCache(dedup.DefaultCapacity), f.sender, f.media, f.extractor, f.states, f.drafts, testRegistry(), "https://invoice.example.com", 5*time.Minute)
	return f
}

func textMessage(id, chatID, text string) Message {
	content, _ := json.Marshal(textContent{Text: text})
	return Message{MessageID: id, ChatID: chatID, MessageType: "text", Content: string(content)}
}

func pendingState(f *routerFixture, chatID string) conversation.State {
	payload, _ := json.Marshal(invoice.Data{Recipient: invoice.Recipient{Name: "株式会社テスト"}})
	id, _ := f.states.Create(context.Background(), chatID, "om_origin", conversation.PhaseAwaitingIssuerSelection, payload, time.Minute)
	st, _ := f.states.ActiveByChat(context.Background(), chatID)
	st.ID = id
	return st
}

func TestRouterTextStartsSelection(t *testing.T) {
	t.Parallel()
	f := newRouterFixture()

	f.router.HandleMessage(context.Background(), textMessage("om_1", "oc_chat", "A社に10万円の請求書を作って"))

	if len(f.extractor.textCalls) != 1 {
		t.Fatalf("extractor calls = %d, want 1", len(f.extractor.textCalls))
	}
	if len(f.states.created) != 1 {
		t.Fatalf("states created = %d, want 1", len(f.states.created))
	}
	st := f.states.created[0]
	if st.Phase != conversation.PhaseAwaitingIssuerSelection {
		t.Errorf("phase = %q", st.Phase)
	}
	var data invoice.Data
	if err := json.Unmarshal(st.Payload, &data); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if data.Total != 11000 {
		t.Errorf("total = %v, want 11000 after recalculation", data.Total)
	}
	texts := f.sender.texts()
	if len(texts) != 2 {
		t.Fatalf("sent = %d messages, want ack and prompt", len(texts))
	}
	if texts[0] != msgAnalyzingText {
		t.Errorf("first message = %q", texts[0])
	}
	if !strings.Contains(texts[1], "パターン1") || !strings.Contains(texts[1], "パターン2") {
		t.Errorf("prompt missing patterns: %q", texts[1])
	}
}

func TestRouterSkipsDuplicateMessage(t *testing.T) {
	t.Parallel()
	f := newRouterFixture()
	msg := textMessage("om_dup", "oc_chat", "請求書を作って")

	f.router.HandleMessage(context.Background(), msg)
	f.states.active = nil
	f.router.HandleMessage(context.Background(), msg)

	if len(f.extractor.textCalls) != 1 {
		t.Errorf("extractor calls = %d, want 1", len(f.extractor.textCalls))
	}
}

func TestRouterIgnoresNonActionableText(t *testing.T) {
	t.Parallel()
	for name, text := range map[string]string{
		"empty after mention": "@_user_1 ",
		"bare url":            "https://example.com/some/page",
		"timeout echo":        TimeoutNotice,
		"prompt echo":         testRegistry().SelectionMessage(),
	} {
		text := text
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			f := newRouterFixture()
			f.router.HandleMessage(context.Background(), textMessage("om_x", "oc_chat", text))
			if len(f.extractor.textCalls) != 0 {
				t.Errorf("extractor called for %q", text)
			}
			if len(f.sender.texts()) != 0 {
				t.Errorf("messages sent for %q: %v", text, f.sender.texts())
			}
		})
	}
}

func TestRouterStripsMentionsBeforeExtraction(t *testing.T) {
	t.Parallel()
	f := newRouterFixture()

	f.router.HandleMessage(context.Background(), textMessage("om_1", "oc_chat", "@_user_1 B社に請求書を作って"))

	if len(f.extractor.textCalls) != 1 {
		t.Fatalf("extractor calls = %d", len(f.extractor.textCalls))
	}
	if got := f.extractor.textCalls[0]; got != "B社に請求書を作って" {
		t.Errorf("extracted text = %q", got)
	}
}

func TestRouterUnsupportedType(t *testing.T) {
	t.Parallel()
	f := newRouterFixture()

	f.router.HandleMessage(context.Background(), Message{MessageID: "om_1", ChatID: "oc_chat", MessageType: "sticker", Content: "{}"})

	texts := f.sender.texts()
	if len(texts) != 1 || texts[0] != msgUnsupportedType {
		t.Errorf("sent = %v, want unsupported notice", texts)
	}
}

func TestRouterImageStartsSelection(t *testing.T) {
	t.Parallel()
	f := newRouterFixture()

	f.router.HandleMessage(context.Background(), Message{
		MessageID:   "om_img",
		ChatID:      "oc_chat",
		MessageType: "image",
		Content:     `{"image_key":"img_v2_abc"}`,
	})

	if f.media.calls != 1 {
		t.Errorf("downloads = %d, want 1", f.media.calls)
	}
	if f.extractor.imageCalls != 1 {
		t.Errorf("image extractions = %d, want 1", f.extractor.imageCalls)
	}
	if len(f.states.created) != 1 {
		t.Errorf("states created = %d, want 1", len(f.states.created))
	}
}

func TestRouterMediaRejectedWhilePending(t *testing.T) {
	t.Parallel()
	f := newRouterFixture()
	pendingState(f, "oc_chat")

	f.router.HandleMessage(context.Background(), Message{
		MessageID:   "om_img",
		ChatID:      "oc_chat",
		MessageType: "image",
		Content:     `{"image_key":"img_v2_abc"}`,
	})

	if f.media.calls != 0 {
		t.Errorf("media downloaded despite pending selection")
	}
	texts := f.sender.texts()
	if len(texts) != 1 || texts[0] != msgSelectionPending {
		t.Errorf("sent = %v, want pending guard", texts)
	}
}

func TestRouterAudioStartsSelection(t *testing.T) {
	t.Parallel()
	f := newRouterFixture()

	f.router.HandleMessage(context.Background(), Message{
		MessageID:   "om_audio",
		ChatID:      "oc_chat",
		MessageType: "audio",
		Content:     `{"file_key":"file_v3_xyz"}`,
	})

	if f.extractor.audioCalls != 1 {
		t.Errorf("audio extractions = %d, want 1", f.extractor.audioCalls)
	}
	if len(f.states.created) != 1 {
		t.Errorf("states created = %d, want 1", len(f.states.created))
	}
}

func TestRouterReportsExtractionError(t *testing.T) {
	t.Parallel()
	f := newRouterFixture()
	f.extractor.err = errors.New("model overloaded")

	f.router.HandleMessage(context.Background(), textMessage("om_1", "oc_chat", "請求書を作って"))

	texts := f.sender.texts()
	if len(texts) != 2 {
		t.Fatalf("sent = %v", texts)
	}
	if !strings.Contains(texts[1], "エラーが発生しました") {
		t.Errorf("last message = %q, want error report", texts[1])
	}
	if len(f.states.created) != 0 {
		t.Errorf("state created despite extraction failure")
	}
}

func TestRouterRoutesReplyToSelection(t *testing.T) {
	t.Parallel()
	f := newRouterFixture()
	pendingState(f, "oc_chat")

	f.router.HandleMessage(context.Background(), textMessage("om_reply", "oc_chat", "1"))

	if len(f.extractor.textCalls) != 0 {
		t.Errorf("reply went to extraction instead of selection")
	}
	if len(f.drafts.created) != 1 {
		t.Fatalf("drafts = %d, want 1", len(f.drafts.created))
	}
}

func TestRouterIgnoresExpiredState(t *testing.T) {
	t.Parallel()
	f := newRouterFixture()
	pendingState(f, "oc_chat")
	f.states.active.ExpiresAt = time.Now().Add(-time.Minute).Unix()

	f.router.HandleMessage(context.Background(), textMessage("om_late", "oc_chat", "B社に5万円の請求書を作って"))

	if len(f.drafts.created) != 0 {
		t.Errorf("expired state consumed as a selection reply")
	}
	if len(f.extractor.textCalls) != 1 {
		t.Errorf("extractor calls = %d, want fresh extraction", len(f.extractor.textCalls))
	}
}
