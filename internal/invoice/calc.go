package invoice

import "math"

// Recalculate recomputes the financial fields from the line items. Item
// amounts, subtotal, tax and total carried in extraction or edit payloads
// are never trusted as freestanding input.
//
// amount = quantity * unitPrice
// subtotal = sum(amount)
// tax = floor(subtotal * TaxRate)
// total = subtotal + tax
//
// The computation is idempotent: re-running it on its own output changes
// nothing.
func (d *Data) Recalculate() {
	var subtotal float64
	for i := range d.Items {
		d.Items[i].Amount = d.Items[i].Quantity * d.Items[i].UnitPrice
		subtotal += d.Items[i].Amount
	}
	d.Subtotal = subtotal
	d.Tax = math.Floor(subtotal * TaxRate)
	d.Total = d.Subtotal + d.Tax
}
