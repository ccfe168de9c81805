// Package issuer manages the fixed seller identities a user can attach to
// a draft. Exactly two patterns are configured; selection is by the closed
// set {1, 2}.
package issuer

import (
	"fmt"
	"strings"

	"github.com/seikyu-ai/seikyubot/internal/config"
	"github.com/seikyu-ai/seikyubot/internal/invoice"
)

// Pattern is one immutable issuer identity.
type Pattern struct {
	Name       string
	Company    string
	Address    string
	PostalCode string
	Phone      string
	Email      string
	BankInfo   string
}

// Registry holds the two configured patterns.
type Registry struct {
	patterns [2]Pattern
}

func NewRegistry(cfg config.IssuerConfig) *Registry {
	return &Registry{patterns: [2]Pattern{
		fromConfig(cfg.Pattern1),
		fromConfig(cfg.Pattern2),
	}}
}

func fromConfig(p config.IssuerPattern) Pattern {
	return Pattern{
		Name:       p.Name,
		Company:    p.Company,
		Address:    p.Address,
		PostalCode: p.PostalCode,
		Phone:      p.Phone,
		Email:      p.Email,
		BankInfo:   p.BankInfo,
	}
}

// Pattern returns the identity for n in {1, 2}.
func (r *Registry) Pattern(n int) (Pattern, error) {
	if n < 1 || n > 2 {
		return Pattern{}, fmt.Errorf("issuer pattern %d out of range", n)
	}
	return r.patterns[n-1], nil
}

// Apply replaces the draft's issuer with pattern n and appends the bank
// transfer details to the notes field. The issuer sub-object is replaced
// wholesale; the invoice shows the company name, while the contact person
// goes into the notes together with the bank info.
func (r *Registry) Apply(data *invoice.Data, n int) error {
	p, err := r.Pattern(n)
	if err != nil {
		return err
	}
	data.Issuer = invoice.Issuer{
		Name:       p.Company,
		Address:    p.Address,
		PostalCode: p.PostalCode,
		Phone:      p.Phone,
		Email:      p.Email,
	}
	bankInfo := p.BankInfo + "\n\n担当者: " + p.Name
	if strings.TrimSpace(data.Notes) != "" {
		data.Notes = data.Notes + "\n\n" + bankInfo
	} else {
		data.Notes = bankInfo
	}
	return nil
}

// SelectionMessage renders the prompt listing both patterns.
func (r *Registry) SelectionMessage() string {
	p1 := r.patterns[0]
	p2 := r.patterns[1]
	return fmt.Sprintf(`請求書の発行者情報を選択してください：

**パターン1**
名前: %s
会社: %s
住所: %s
%s

**パターン2**
名前: %s
会社: %s
住所: %s
%s

「1」または「2」を入力してください。`,
		p1.Name, p1.Company, p1.Address, p1.BankInfo,
		p2.Name, p2.Company, p2.Address, p2.BankInfo)
}
