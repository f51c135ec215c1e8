package domain

import "time"

// Recompute derives total, balance and status from the authoritative amounts.
// Every write to an invoice goes through it.
func Recompute(inv *Invoice, now time.Time) {
	inv.Total = inv.Subtotal - inv.DiscountTotal + inv.TaxTotal
	if inv.VoidedAt != nil {
		inv.Balance = 0
	} else {
		balance := inv.Total + inv.LateFeeAccrued - inv.PaidTotal
		if balance < 0 {
			balance = 0
		}
		inv.Balance = balance
	}
	inv.Status = DeriveStatus(*inv)
	inv.UpdatedAt = now
}

func DeriveStatus(inv Invoice) InvoiceStatus {
	switch {
	case inv.VoidedAt != nil:
		return InvoiceStatusVoid
	case inv.Balance == 0:
		return InvoiceStatusPaid
	case inv.PaidTotal > 0:
		return InvoiceStatusPartial
	default:
		return InvoiceStatusOpen
	}
}

// Collectable reports whether payments and late fees still apply.
func (s InvoiceStatus) Collectable() bool {
	return s == InvoiceStatusOpen || s == InvoiceStatusPartial
}
