package pdf

import (
	"bytes"
	"fmt"
	"html/template"
	"math"
	"strings"

	"github.com/seikyu-ai/seikyubot/internal/invoice"
)

// invoiceTemplate is the print layout. It is rendered to a standalone
// HTML document and converted to PDF by the Renderer.
var invoiceTemplate = template.Must(template.New("invoice").Funcs(template.FuncMap{
	"yen": FormatYen,
}).Parse(`<!DOCTYPE html>
<html lang="ja">
<head>
<meta charset="utf-8">
<style>
  @page { size: A4; margin: 18mm; }
  body { font-family: "Noto Sans JP", "Hiragino Sans", sans-serif; color: #1a1a1a; font-size: 11pt; }
  h1 { text-align: center; letter-spacing: 0.5em; font-size: 20pt; margin-bottom: 24px; }
  .meta { text-align: right; font-size: 10pt; margin-bottom: 16px; }
  .parties { display: flex; justify-content: space-between; margin-bottom: 24px; }
  .recipient { font-size: 13pt; border-bottom: 1px solid #1a1a1a; padding-bottom: 4px; }
  .issuer { font-size: 9.5pt; text-align: right; white-space: pre-line; }
  .total-box { border: 2px solid #1a1a1a; padding: 8px 24px; font-size: 14pt; display: inline-block; margin-bottom: 24px; }
  table { width: 100%; border-collapse: collapse; margin-bottom: 16px; }
  th, td { border: 1px solid #999; padding: 6px 8px; }
  th { background: #f0f0f0; font-weight: 600; }
  td.num { text-align: right; }
  .totals { width: 40%; margin-left: auto; }
  .notes { white-space: pre-line; border: 1px solid #999; padding: 8px; font-size: 9.5pt; }
  .notes-title { font-weight: 600; margin-bottom: 4px; }
</style>
</head>
<body>
<h1>請求書</h1>
<div class="meta">
  {{if .InvoiceNumber}}<div>請求書番号: {{.InvoiceNumber}}</div>{{end}}
  {{if .IssueDate}}<div>発行日: {{.IssueDate}}</div>{{end}}
  {{if .DueDate}}<div>支払期限: {{.DueDate}}</div>{{end}}
</div>
<div class="parties">
  <div class="recipient">{{.Recipient.Name}} 様</div>
  <div class="issuer">{{.Issuer.Name}}
{{- if .Issuer.PostalCode}}
〒{{.Issuer.PostalCode}}{{end}}
{{- if .Issuer.Address}}
{{.Issuer.Address}}{{end}}
{{- if .Issuer.Phone}}
TEL: {{.Issuer.Phone}}{{end}}
{{- if .Issuer.Email}}
{{.Issuer.Email}}{{end}}</div>
</div>
<div class="total-box">ご請求金額　{{yen .Total}}（税込）</div>
<table>
  <thead>
    <tr><th>品目</th><th>数量</th><th>単価</th><th>金額</th></tr>
  </thead>
  <tbody>
    {{range .Items}}
    <tr>
      <td>{{.Description}}</td>
      <td class="num">{{.Quantity}}</td>
      <td class="num">{{yen .UnitPrice}}</td>
      <td class="num">{{yen .Amount}}</td>
    </tr>
    {{end}}
  </tbody>
</table>
<table class="totals">
  <tr><td>小計</td><td class="num">{{yen .Subtotal}}</td></tr>
  <tr><td>消費税（10%）</td><td class="num">{{yen .Tax}}</td></tr>
  <tr><th>合計</th><td class="num">{{yen .Total}}</td></tr>
</table>
{{if .Notes}}
<div class="notes"><div class="notes-title">備考</div>{{.Notes}}</div>
{{end}}
</body>
</html>`))

// RenderHTML produces the full invoice document for data.
func RenderHTML(data invoice.Data) (string, error) {
	var buf bytes.Buffer
	if err := invoiceTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render invoice html: %w", err)
	}
	return buf.String(), nil
}

// FormatYen renders an amount as a yen string with thousands separators.
// Fractional yen do not occur on real invoices; truncate toward zero.
func FormatYen(v float64) string {
	n := int64(math.Trunc(v))
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	s := fmt.Sprintf("%d", n)
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	return sign + "¥" + strings.Join(parts, ",")
}
