package sejoli

import (
	"strings"

	"sejoli-sync/internal/ledger"
)

// External status vocabulary as emitted by the Sejoli sales endpoint.
const (
	StatusCompleted      = "completed"
	StatusCancelled      = "cancelled"
	StatusRefunded       = "refunded"
	StatusPendingPayment = "pending-payment"
	StatusOnHold         = "on-hold"
	StatusPaymentConfirm = "payment-confirm"
)

var statusMap = map[string]string{
	StatusCompleted:      ledger.StatusSuccess,
	StatusCancelled:      ledger.StatusCancelled,
	StatusRefunded:       ledger.StatusCancelled,
	StatusPendingPayment: ledger.StatusPending,
	StatusOnHold:         ledger.StatusPending,
	StatusPaymentConfirm: ledger.StatusPending,
}

// MapStatus converts an external order status to the local ledger
// vocabulary. Unknown values map to FAILED; the boolean lets callers count
// them instead of silently burying a new upstream status.
func MapStatus(raw string) (string, bool) {
	if mapped, ok := statusMap[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return mapped, true
	}
	return ledger.StatusFailed, false
}
