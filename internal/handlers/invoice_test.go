package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/seikyu-ai/seikyubot/internal/invoice"
)

type fakeInvoiceStore struct {
	invoices  map[string]invoice.Invoice
	completed map[string]string
}

func newFakeInvoiceStore(items ...invoice.Invoice) *fakeInvoiceStore {
	s := &fakeInvoiceStore{
		invoices:  make(map[string]invoice.Invoice),
		completed: make(map[string]string),
	}
	for _, inv := range items {
		s.invoices[inv.ID] = inv
	}
	return s
}

func (s *fakeInvoiceStore) Get(_ context.Context, id string) (invoice.Invoice, error) {
	inv, ok := s.invoices[id]
	if !ok {
		return invoice.Invoice{}, invoice.ErrNotFound
	}
	return inv, nil
}

func (s *fakeInvoiceStore) UpdateData(_ context.Context, id string, data invoice.Data) error {
	inv, ok := s.invoices[id]
	if !ok {
		return invoice.ErrNotFound
	}
	data.Recalculate()
	inv.Data = data
	s.invoices[id] = inv
	return nil
}

func (s *fakeInvoiceStore) Complete(_ context.Context, id, pdfURL string) error {
	inv, ok := s.invoices[id]
	if !ok {
		return invoice.ErrNotFound
	}
	inv.Status = invoice.StatusCompleted
	inv.PDFURL = pdfURL
	s.invoices[id] = inv
	s.completed[id] = pdfURL
	return nil
}

type fakeChatSender struct {
	texts     []string
	files     []string
	uploaded  []string
	uploadKey string
}

func (s *fakeChatSender) SendText(_ context.Context, _, text, _ string) error {
	s.texts = append(s.texts, text)
	return nil
}

func (s *fakeChatSender) SendFile(_ context.Context, _, fileKey, _ string) error {
	s.files = append(s.files, fileKey)
	return nil
}

func (s *fakeChatSender) UploadFile(_ context.Context, name, _ string, _ io.Reader) (string, error) {
	s.uploaded = append(s.uploaded, name)
	return s.uploadKey, nil
}

type fakeRenderer struct {
	calls int
}

func (r *fakeRenderer) Render(_ context.Context, _ invoice.Data) ([]byte, error) {
	r.calls++
	return []byte("%PDF-1.7 fake"), nil
}

func draftInvoice(id string) invoice.Invoice {
	return invoice.Invoice{
		ID:        id,
		ChatID:    "oc_chat",
		MessageID: "om_origin",
		Status:    invoice.StatusDraft,
		Data: invoice.Data{
			IssueDate: "2026-09-01",
			Recipient: invoice.Recipient{Name: "株式会社テスト"},
			Items:     []invoice.LineItem{{Description: "作業費", Quantity: 1, UnitPrice: 100000, Amount: 100000}},
			Subtotal:  100000,
			Tax:       10000,
			Total:     110000,
		},
	}
}

func request(t *testing.T, h *InvoiceHandler, method, id, path, body string, handle func(echo.Context) error) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	if err := handle(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestInvoiceGet(t *testing.T) {
	t.Parallel()
	store := newFakeInvoiceStore(draftInvoice("inv-1"))
	h := NewInvoiceHandler(nil, store, &fakeChatSender{}, &fakeRenderer{})

	rec := request(t, h, http.MethodGet, "inv-1", "/api/invoices/inv-1", "", h.Get)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "株式会社テスト") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestInvoiceGetNotFound(t *testing.T) {
	t.Parallel()
	h := NewInvoiceHandler(nil, newFakeInvoiceStore(), &fakeChatSender{}, &fakeRenderer{})

	rec := request(t, h, http.MethodGet, "missing", "/api/invoices/missing", "", h.Get)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestInvoiceUpdateRecalculates(t *testing.T) {
	t.Parallel()
	store := newFakeInvoiceStore(draftInvoice("inv-1"))
	h := NewInvoiceHandler(nil, store, &fakeChatSender{}, &fakeRenderer{})

	body := `{"data":{"issueDate":"2026-09-01","recipient":{"name":"株式会社テスト"},"items":[{"description":"作業費","quantity":3,"unitPrice":200000}],"subtotal":1,"tax":2,"total":3}}`
	rec := request(t, h, http.MethodPut, "inv-1", "/api/invoices/inv-1", body, h.Update)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	got := store.invoices["inv-1"].Data
	if got.Subtotal != 600000 || got.Tax != 60000 || got.Total != 660000 {
		t.Errorf("totals = %v/%v/%v, want recomputed 600000/60000/660000", got.Subtotal, got.Tax, got.Total)
	}
}

func TestInvoiceUpdateRejectsEmptyItems(t *testing.T) {
	t.Parallel()
	store := newFakeInvoiceStore(draftInvoice("inv-1"))
	h := NewInvoiceHandler(nil, store, &fakeChatSender{}, &fakeRenderer{})

	rec := request(t, h, http.MethodPut, "inv-1", "/api/invoices/inv-1", `{"data":{"items":[]}}`, h.Update)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestInvoiceUpdateRejectsCompleted(t *testing.T) {
	t.Parallel()
	inv := draftInvoice("inv-1")
	inv.Status = invoice.StatusCompleted
	h := NewInvoiceHandler(nil, newFakeInvoiceStore(inv), &fakeChatSender{}, &fakeRenderer{})

	body := `{"data":{"items":[{"description":"x","quantity":1,"unitPrice":1}]}}`
	rec := request(t, h, http.MethodPut, "inv-1", "/api/invoices/inv-1", body, h.Update)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestInvoiceSend(t *testing.T) {
	t.Parallel()
	store := newFakeInvoiceStore(draftInvoice("inv-1"))
	sender := &fakeChatSender{uploadKey: "file_key_123"}
	renderer := &fakeRenderer{}
	h := NewInvoiceHandler(nil, store, sender, renderer)

	rec := request(t, h, http.MethodPost, "inv-1", "/api/invoices/inv-1/send", "", h.Send)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if renderer.calls != 1 {
		t.Errorf("renders = %d", renderer.calls)
	}
	if len(sender.uploaded) != 1 || sender.uploaded[0] != "2026-09-01_株式会社テスト様.pdf" {
		t.Errorf("uploaded = %v", sender.uploaded)
	}
	if len(sender.files) != 1 || sender.files[0] != "file_key_123" {
		t.Errorf("files = %v", sender.files)
	}
	if len(sender.texts) != 1 || !strings.Contains(sender.texts[0], "送信しました") {
		t.Errorf("texts = %v", sender.texts)
	}
	if got := store.completed["inv-1"]; got != "lark://file/file_key_123" {
		t.Errorf("completed url = %q", got)
	}
}

func TestInvoiceSendRejectsCompleted(t *testing.T) {
	t.Parallel()
	inv := draftInvoice("inv-1")
	inv.Status = invoice.StatusCompleted
	h := NewInvoiceHandler(nil, newFakeInvoiceStore(inv), &fakeChatSender{}, &fakeRenderer{})

	rec := request(t, h, http.MethodPost, "inv-1", "/api/invoices/inv-1/send", "", h.Send)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestPDFFileNameSanitized(t *testing.T) {
	t.Parallel()
	data := invoice.Data{
		IssueDate: "2026/09/01",
		Recipient: invoice.Recipient{Name: `A:B*C?"社`},
	}
	got := pdfFileName(data)
	want := "2026_09_01_A_B_C__社様.pdf"
	if got != want {
		t.Errorf("pdfFileName = %q, want %q", got, want)
	}
}

func TestPDFFileNameFallbacks(t *testing.T) {
	t.Parallel()
	got := pdfFileName(invoice.Data{})
	if got != "請求書_宛先未設定様.pdf" {
		t.Errorf("pdfFileName = %q", got)
	}
}
