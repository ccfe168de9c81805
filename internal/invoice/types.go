package invoice

// TaxRate is the consumption tax rate applied to every draft.
const TaxRate = 0.10

// Status of a stored invoice.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusCompleted Status = "completed"
)

// Recipient is the billed party as extracted from the user's message.
type Recipient struct {
	Name       string `json:"name"`
	Address    string `json:"address,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
}

// Issuer is the seller identity attached to a draft. It is filled from one
// of the configured issuer patterns, never from extraction output.
type Issuer struct {
	Name       string `json:"name"`
	Address    string `json:"address,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	BankInfo   string `json:"bankInfo,omitempty"`
}

// LineItem is a single billed row.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	Amount      float64 `json:"amount"`
}

// Data is the structured invoice payload produced by extraction and edited
// by the user. Field names follow the JSON shape the extraction oracle is
// prompted to emit.
type Data struct {
	InvoiceNumber string     `json:"invoiceNumber,omitempty"`
	IssueDate     string     `json:"issueDate"`
	DueDate       string     `json:"dueDate,omitempty"`
	Recipient     Recipient  `json:"recipient"`
	Issuer        Issuer     `json:"issuer"`
	Items         []LineItem `json:"items"`
	Subtotal      float64    `json:"subtotal"`
	Tax           float64    `json:"tax"`
	Total         float64    `json:"total"`
	Notes         string     `json:"notes,omitempty"`
}

// Invoice is a stored draft or completed invoice.
type Invoice struct {
	ID        string
	ChatID    string
	MessageID string
	Status    Status
	Data      Data
	PDFURL    string
	CreatedAt int64
	UpdatedAt int64
}
