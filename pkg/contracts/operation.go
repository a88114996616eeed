// Package contracts holds the shared domain types exchanged between the
// duplicate-override components. JSON field names match the upstream
// SICAL wire format and must not change: the operation fingerprint and
// the signed configuration artifact are computed over them.
package contracts

import (
	"fmt"
	"strconv"
)

// LineItem is one budget application line of an expense operation.
type LineItem struct {
	Functional string `json:"funcional"`
	Economic   string `json:"economica"`
	Amount     string `json:"importe"`
}

// Operation is the identity-bearing payload of a privileged
// force-create attempt. Only the fields below participate in the
// fingerprint; anything else the caller carries is ignored here.
type Operation struct {
	ThirdParty   string     `json:"tercero"`
	Date         string     `json:"fecha"`
	CashRegister string     `json:"caja"`
	LineItems    []LineItem `json:"aplicaciones"`
}

// KeyFields returns the canonical identity subset of the operation as
// a generic map, amounts normalized to strings. This is the exact
// structure that gets canonicalized and fingerprinted, so its key
// names are part of the security contract.
func (o Operation) KeyFields() map[string]any {
	items := make([]any, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		items = append(items, map[string]any{
			"funcional": li.Functional,
			"economica": li.Economic,
			"importe":   li.Amount,
		})
	}
	return map[string]any{
		"tercero":      o.ThirdParty,
		"fecha":        o.Date,
		"caja":         o.CashRegister,
		"aplicaciones": items,
	}
}

// TotalAmount sums the line item amounts. Unparseable amounts count as
// zero; the total is audit context, not a security input.
func (o Operation) TotalAmount() float64 {
	var total float64
	for _, li := range o.LineItems {
		v, err := strconv.ParseFloat(li.Amount, 64)
		if err != nil {
			continue
		}
		total += v
	}
	return total
}

// String identifies the operation for logs without dumping line items.
func (o Operation) String() string {
	return fmt.Sprintf("operation{tercero=%s fecha=%s caja=%s items=%d}",
		o.ThirdParty, o.Date, o.CashRegister, len(o.LineItems))
}
