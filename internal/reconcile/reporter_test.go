package reconcile

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"sejoli-sync/internal/commission"
	"sejoli-sync/internal/ledger"
	"sejoli-sync/internal/sejoli"
)

func testOrders() []sejoli.Order {
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return []sejoli.Order{
		{ID: 1, UserEmail: "budi@example.com", ProductID: 258, GrandTotal: 2497000,
			Status: "completed", AffiliateID: 77, CreatedAt: base},
		{ID: 2, UserEmail: "sari@example.com", ProductID: 415, GrandTotal: 999000,
			Status: "completed", AffiliateID: 88, CreatedAt: base},
		{ID: 3, UserEmail: "agus@example.com", ProductID: 190, GrandTotal: 1497000,
			Status: "pending-payment", CreatedAt: base},
	}
}

func TestBuildFlagsMissingRows(t *testing.T) {
	// Ledger only knows order 1, and even that one has no conversion.
	snap := &ledger.Snapshot{
		TransactionsByStatus: map[string]int64{ledger.StatusSuccess: 1},
		ExternalIDs:          map[string]struct{}{"sejoli-1": {}},
		ConversionExternalID: map[string]struct{}{},
		GrossRevenue:         2497000,
	}

	report := Build(testOrders(), false, commission.NewResolver(), snap)

	if report.Clean() {
		t.Fatal("report with missing rows marked clean")
	}
	if len(report.MissingOrders) != 2 {
		t.Fatalf("missing orders = %d, want 2", len(report.MissingOrders))
	}
	if report.MissingOrders[0].ExternalID != "sejoli-2" || report.MissingOrders[1].ExternalID != "sejoli-3" {
		t.Fatalf("missing orders = %+v", report.MissingOrders)
	}

	// Orders 1 and 2 both convert; neither has a ledger conversion row.
	if len(report.MissingConversions) != 2 {
		t.Fatalf("missing conversions = %d, want 2", len(report.MissingConversions))
	}
	if report.MissingConversions[0].Commission != 400000 {
		t.Fatalf("expected commission for order 1 = %d", report.MissingConversions[0].Commission)
	}
	if report.MissingConversions[1].Commission != 299700 {
		t.Fatalf("expected commission for order 2 = %d", report.MissingConversions[1].Commission)
	}

	if report.SourceGross != 2497000+999000 {
		t.Fatalf("source gross = %d", report.SourceGross)
	}
	if report.SourceByStatus[ledger.StatusSuccess] != 2 || report.SourceByStatus[ledger.StatusPending] != 1 {
		t.Fatalf("source by status = %v", report.SourceByStatus)
	}
}

func TestBuildCleanLedger(t *testing.T) {
	snap := &ledger.Snapshot{
		TransactionsByStatus: map[string]int64{ledger.StatusSuccess: 2, ledger.StatusPending: 1},
		ExternalIDs: map[string]struct{}{
			"sejoli-1": {}, "sejoli-2": {}, "sejoli-3": {},
		},
		ConversionExternalID: map[string]struct{}{
			"sejoli-1": {}, "sejoli-2": {},
		},
		GrossRevenue: 3496000,
	}

	report := Build(testOrders(), false, commission.NewResolver(), snap)
	if !report.Clean() {
		t.Fatalf("clean ledger flagged: missing=%+v conversions=%+v",
			report.MissingOrders, report.MissingConversions)
	}
	if report.ExpectedCommission != 400000+299700 {
		t.Fatalf("expected commission = %d", report.ExpectedCommission)
	}
}

func TestBuildCountsUnmapped(t *testing.T) {
	orders := []sejoli.Order{
		{ID: 9, UserEmail: "x@y.id", ProductID: 31337, GrandTotal: 100000, Status: "completed"},
		{ID: 10, UserEmail: "x@y.id", ProductID: 190, GrandTotal: 100000, Status: "shipped"},
	}
	snap := &ledger.Snapshot{
		TransactionsByStatus: map[string]int64{},
		ExternalIDs:          map[string]struct{}{"sejoli-9": {}, "sejoli-10": {}},
		ConversionExternalID: map[string]struct{}{},
	}

	report := Build(orders, false, commission.NewResolver(), snap)
	if report.UnmappedProducts[31337] != 1 {
		t.Fatalf("unmapped products = %v", report.UnmappedProducts)
	}
	if report.UnmappedStatuses["shipped"] != 1 {
		t.Fatalf("unmapped statuses = %v", report.UnmappedStatuses)
	}
	// Unmapped product without affiliate: no conversion expected.
	if len(report.MissingConversions) != 0 {
		t.Fatalf("missing conversions = %+v", report.MissingConversions)
	}
}

func TestWriteRendersTruncationWarning(t *testing.T) {
	snap := &ledger.Snapshot{
		TransactionsByStatus: map[string]int64{},
		ExternalIDs:          map[string]struct{}{},
		ConversionExternalID: map[string]struct{}{},
	}
	report := Build(nil, true, commission.NewResolver(), snap)

	var buf bytes.Buffer
	if err := report.Write(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "TRUNCATED") {
		t.Fatalf("report missing truncation warning:\n%s", out)
	}
	if !strings.Contains(out, "consistent with source") {
		t.Fatalf("empty comparison should be clean:\n%s", out)
	}
}
