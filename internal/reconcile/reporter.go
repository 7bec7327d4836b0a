package reconcile

import (
	"fmt"
	"io"
	"sort"
	"time"

	"sejoli-sync/internal/commission"
	"sejoli-sync/internal/ledger"
	"sejoli-sync/internal/sejoli"
)

// MissingOrder is a source order with no matching ledger transaction.
type MissingOrder struct {
	OrderID    int64
	ExternalID string
	Email      string
	Amount     int64
	Status     string
}

// MissingConversion is a successful affiliated source order whose ledger
// transaction has no conversion row.
type MissingConversion struct {
	OrderID     int64
	ExternalID  string
	AffiliateID int64
	Commission  int64
}

// Report is a point-in-time comparison between freshly fetched source
// orders and the ledger aggregates.
type Report struct {
	GeneratedAt time.Time
	Truncated   bool

	SourceOrders       int
	SourceByStatus     map[string]int
	SourceGross        int64
	ExpectedCommission int64

	LedgerByStatus map[string]int64
	LedgerGross    int64
	LedgerShares   [4]int64
	Conversions    int64
	Users          int64
	PremiumUsers   int64
	Memberships    int64

	MissingOrders      []MissingOrder
	MissingConversions []MissingConversion
	UnmappedProducts   map[int64]int
	UnmappedStatuses   map[string]int
}

// Build walks the source orders against the ledger snapshot. Fetch
// truncation is carried into the report: a truncated fetch can only
// under-report, never falsely flag ledger rows as extra.
func Build(orders []sejoli.Order, truncated bool, resolver *commission.Resolver, snap *ledger.Snapshot) *Report {
	report := &Report{
		GeneratedAt:      time.Now(),
		Truncated:        truncated,
		SourceOrders:     len(orders),
		SourceByStatus:   make(map[string]int),
		LedgerByStatus:   snap.TransactionsByStatus,
		LedgerGross:      snap.GrossRevenue,
		LedgerShares:     [4]int64{snap.AffiliateShareTotal, snap.CompanyFeeTotal, snap.FounderShareTotal, snap.CoFounderShareTotal},
		Conversions:      snap.ConversionCount,
		Users:            snap.UserCount,
		PremiumUsers:     snap.PremiumUserCount,
		Memberships:      snap.UserMembershipCount,
		UnmappedProducts: make(map[int64]int),
		UnmappedStatuses: make(map[string]int),
	}

	for _, order := range orders {
		status, mapped := sejoli.MapStatus(order.Status)
		if !mapped {
			report.UnmappedStatuses[order.Status]++
		}
		report.SourceByStatus[status]++

		externalID := order.ExternalID()
		if _, ok := snap.ExternalIDs[externalID]; !ok {
			report.MissingOrders = append(report.MissingOrders, MissingOrder{
				OrderID:    order.ID,
				ExternalID: externalID,
				Email:      order.UserEmail,
				Amount:     order.GrandTotal,
				Status:     status,
			})
		}

		if status != ledger.StatusSuccess {
			continue
		}
		report.SourceGross += order.GrandTotal

		policy := resolver.Resolve(order.ProductID)
		if !policy.Mapped {
			report.UnmappedProducts[order.ProductID]++
		}
		if !order.HasAffiliate() {
			continue
		}
		expected := commission.Amount(order.GrandTotal, policy.Kind, policy.Value)
		if expected <= 0 {
			continue
		}
		report.ExpectedCommission += expected
		if _, ok := snap.ConversionExternalID[externalID]; !ok {
			report.MissingConversions = append(report.MissingConversions, MissingConversion{
				OrderID:     order.ID,
				ExternalID:  externalID,
				AffiliateID: order.AffiliateID,
				Commission:  expected,
			})
		}
	}

	sort.Slice(report.MissingOrders, func(i, j int) bool {
		return report.MissingOrders[i].OrderID < report.MissingOrders[j].OrderID
	})
	sort.Slice(report.MissingConversions, func(i, j int) bool {
		return report.MissingConversions[i].OrderID < report.MissingConversions[j].OrderID
	})
	return report
}

// Clean reports whether nothing is missing on the ledger side.
func (r *Report) Clean() bool {
	return len(r.MissingOrders) == 0 && len(r.MissingConversions) == 0
}

// Write renders the report as plain text.
func (r *Report) Write(w io.Writer) error {
	fmt.Fprintf(w, "=== Sejoli reconciliation report (%s) ===\n", r.GeneratedAt.Format(time.RFC3339))
	if r.Truncated {
		fmt.Fprintln(w, "!! source fetch was TRUNCATED; source-side numbers are a lower bound")
	}

	fmt.Fprintf(w, "\nSource: %d orders\n", r.SourceOrders)
	for _, status := range statusOrder {
		if n := r.SourceByStatus[status]; n > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", status, n)
		}
	}
	fmt.Fprintf(w, "  gross (SUCCESS)      Rp %d\n", r.SourceGross)
	fmt.Fprintf(w, "  expected commission  Rp %d\n", r.ExpectedCommission)

	fmt.Fprintln(w, "\nLedger:")
	for _, status := range statusOrder {
		if n := r.LedgerByStatus[status]; n > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", status, n)
		}
	}
	fmt.Fprintf(w, "  gross (SUCCESS)      Rp %d\n", r.LedgerGross)
	fmt.Fprintf(w, "  affiliate share      Rp %d\n", r.LedgerShares[0])
	fmt.Fprintf(w, "  company fee          Rp %d\n", r.LedgerShares[1])
	fmt.Fprintf(w, "  founder share        Rp %d\n", r.LedgerShares[2])
	fmt.Fprintf(w, "  co-founder share     Rp %d\n", r.LedgerShares[3])
	fmt.Fprintf(w, "  conversions          %d\n", r.Conversions)
	fmt.Fprintf(w, "  users                %d (%d premium)\n", r.Users, r.PremiumUsers)
	fmt.Fprintf(w, "  user memberships     %d\n", r.Memberships)

	fmt.Fprintf(w, "\nMissing orders: %d\n", len(r.MissingOrders))
	for _, m := range r.MissingOrders {
		fmt.Fprintf(w, "  %s  %s  Rp %d  %s\n", m.ExternalID, m.Status, m.Amount, m.Email)
	}

	fmt.Fprintf(w, "\nMissing conversions: %d\n", len(r.MissingConversions))
	for _, m := range r.MissingConversions {
		fmt.Fprintf(w, "  %s  affiliate %d  Rp %d\n", m.ExternalID, m.AffiliateID, m.Commission)
	}

	if len(r.UnmappedProducts) > 0 {
		fmt.Fprintf(w, "\nUnmapped products (no commission policy): %d\n", len(r.UnmappedProducts))
		for _, id := range sortedKeys(r.UnmappedProducts) {
			fmt.Fprintf(w, "  product %d  seen %dx\n", id, r.UnmappedProducts[id])
		}
	}
	if len(r.UnmappedStatuses) > 0 {
		fmt.Fprintf(w, "\nUnmapped statuses (defaulted to FAILED):\n")
		for status, n := range r.UnmappedStatuses {
			fmt.Fprintf(w, "  %q  seen %dx\n", status, n)
		}
	}

	if r.Clean() {
		fmt.Fprintln(w, "\nResult: ledger is consistent with source.")
	} else {
		fmt.Fprintln(w, "\nResult: DISCREPANCIES FOUND; run the importer and re-check.")
	}
	return nil
}

var statusOrder = []string{
	ledger.StatusSuccess,
	ledger.StatusPending,
	ledger.StatusCancelled,
	ledger.StatusFailed,
}

func sortedKeys(m map[int64]int) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
