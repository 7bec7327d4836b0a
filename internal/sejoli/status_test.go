package sejoli

import (
	"testing"

	"sejoli-sync/internal/ledger"
)

func TestMapStatus(t *testing.T) {
	cases := []struct {
		raw    string
		want   string
		mapped bool
	}{
		{"completed", ledger.StatusSuccess, true},
		{"cancelled", ledger.StatusCancelled, true},
		{"refunded", ledger.StatusCancelled, true},
		{"pending-payment", ledger.StatusPending, true},
		{"on-hold", ledger.StatusPending, true},
		{"payment-confirm", ledger.StatusPending, true},
		{" Completed ", ledger.StatusSuccess, true},
		{"shipped", ledger.StatusFailed, false},
		{"", ledger.StatusFailed, false},
	}
	for _, tc := range cases {
		got, mapped := MapStatus(tc.raw)
		if got != tc.want || mapped != tc.mapped {
			t.Fatalf("MapStatus(%q) = (%q, %v), want (%q, %v)", tc.raw, got, mapped, tc.want, tc.mapped)
		}
	}
}
