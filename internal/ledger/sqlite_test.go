package ledger

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"sejoli-sync/migrations"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"), logger)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)

	if err := store.RunMigrations(context.Background(), migrations.Files); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return store
}

func TestUpsertUserByEmailIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, created, err := store.UpsertUserByEmail(ctx, User{
		Email: "Budi@Example.COM", Name: "Budi", PasswordHash: "x",
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !created {
		t.Fatal("first upsert reported existing")
	}
	if first.Email != "budi@example.com" {
		t.Fatalf("email = %q, want lower-cased", first.Email)
	}
	if first.Role != RoleMemberFree {
		t.Fatalf("role = %q, want default free", first.Role)
	}

	second, created, err := store.UpsertUserByEmail(ctx, User{Email: "budi@example.com", Name: "Budi Santoso"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if created {
		t.Fatal("second upsert reported created")
	}
	if second.ID != first.ID {
		t.Fatalf("id changed across upserts: %q vs %q", second.ID, first.ID)
	}
	if second.Name != "Budi Santoso" {
		t.Fatalf("name not refreshed: %q", second.Name)
	}
}

func TestUpsertTransactionPreservesCreatedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user, _, err := store.UpsertUserByEmail(ctx, User{Email: "a@b.c", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("user: %v", err)
	}

	orderDate := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	first, created, err := store.UpsertTransaction(ctx, Transaction{
		ExternalID: "sejoli-42", UserID: user.ID, Amount: 500000,
		Status: StatusPending, Type: TxTypeProduct,
		Metadata:  map[string]any{"sejoliOrderId": 42},
		CreatedAt: orderDate,
	})
	if err != nil || !created {
		t.Fatalf("insert: created=%v err=%v", created, err)
	}

	second, created, err := store.UpsertTransaction(ctx, Transaction{
		ExternalID: "sejoli-42", UserID: user.ID, Amount: 500000,
		Status: StatusSuccess, Type: TxTypeProduct,
		AffiliateShare: 100000, CompanyFee: 60000, FounderShare: 204000, CoFounderShare: 136000,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if created {
		t.Fatal("re-import reported created")
	}
	if second.ID != first.ID {
		t.Fatal("transaction id changed on re-import")
	}
	if !second.CreatedAt.Equal(orderDate) {
		t.Fatalf("created_at = %v, want original %v", second.CreatedAt, orderDate)
	}
	if second.Status != StatusSuccess {
		t.Fatalf("status not updated: %q", second.Status)
	}
}

func TestInsertConversionsSkipsDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user, _, _ := store.UpsertUserByEmail(ctx, User{Email: "a@b.c", PasswordHash: "x"})
	tx, _, err := store.UpsertTransaction(ctx, Transaction{
		ExternalID: "sejoli-1", UserID: user.ID, Amount: 999000, Status: StatusSuccess, Type: TxTypeProduct,
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	profile, err := store.UpsertAffiliateProfile(ctx, AffiliateProfile{SejoliAffiliateID: 77, Name: "Rina"})
	if err != nil {
		t.Fatalf("profile: %v", err)
	}

	batch := []AffiliateConversion{{
		AffiliateProfileID: profile.ID, TransactionID: tx.ID,
		CommissionAmount: 299700, CommissionRate: 30, CreatedAt: time.Now(),
	}}

	created, err := store.InsertConversions(ctx, batch)
	if err != nil || created != 1 {
		t.Fatalf("first insert: created=%d err=%v", created, err)
	}
	created, err = store.InsertConversions(ctx, batch)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if created != 0 {
		t.Fatalf("duplicate conversion inserted %d rows", created)
	}
}

func TestSnapshotAggregates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user, _, _ := store.UpsertUserByEmail(ctx, User{Email: "a@b.c", PasswordHash: "x"})
	membership, err := store.EnsureMembership(ctx, Membership{
		Slug: "paket-12-bulan", Name: "Paket 12 Bulan", Duration: "TWELVE_MONTHS", Price: 2497000,
	})
	if err != nil {
		t.Fatalf("membership: %v", err)
	}

	okTx, _, _ := store.UpsertTransaction(ctx, Transaction{
		ExternalID: "sejoli-1", UserID: user.ID, Amount: 2497000, Status: StatusSuccess,
		Type: TxTypeMembership, AffiliateShare: 400000, CompanyFee: 314550,
		FounderShare: 1069470, CoFounderShare: 712980,
	})
	store.UpsertTransaction(ctx, Transaction{
		ExternalID: "sejoli-2", UserID: user.ID, Amount: 100000, Status: StatusPending, Type: TxTypeProduct,
	})

	profile, _ := store.UpsertAffiliateProfile(ctx, AffiliateProfile{SejoliAffiliateID: 77})
	store.InsertConversions(ctx, []AffiliateConversion{{
		AffiliateProfileID: profile.ID, TransactionID: okTx.ID, CommissionAmount: 400000, CommissionRate: 16.02,
	}})

	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if err := store.UpsertUserMembership(ctx, UserMembership{
		UserID: user.ID, MembershipID: membership.ID,
		StartDate: start, EndDate: start.AddDate(1, 0, 0), IsActive: true,
	}); err != nil {
		t.Fatalf("user membership: %v", err)
	}
	if err := store.SetUserRole(ctx, user.ID, RoleMemberPremium); err != nil {
		t.Fatalf("role: %v", err)
	}

	snap, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if snap.TransactionsByStatus[StatusSuccess] != 1 || snap.TransactionsByStatus[StatusPending] != 1 {
		t.Fatalf("by status = %v", snap.TransactionsByStatus)
	}
	if _, ok := snap.ExternalIDs["sejoli-2"]; !ok {
		t.Fatal("external id index incomplete")
	}
	if snap.GrossRevenue != 2497000 {
		t.Fatalf("gross = %d (pending must be excluded)", snap.GrossRevenue)
	}
	if snap.AffiliateShareTotal != 400000 || snap.CoFounderShareTotal != 712980 {
		t.Fatalf("share totals = %+v", snap)
	}
	if _, ok := snap.ConversionExternalID["sejoli-1"]; !ok {
		t.Fatal("conversion external id missing")
	}
	if snap.ConversionCount != 1 || snap.ConversionTotal != 400000 {
		t.Fatalf("conversions = %d / %d", snap.ConversionCount, snap.ConversionTotal)
	}
	if snap.UserCount != 1 || snap.PremiumUserCount != 1 || snap.UserMembershipCount != 1 {
		t.Fatalf("counts = %+v", snap)
	}
}

func TestEnsureMembershipStableID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.EnsureMembership(ctx, Membership{Slug: "paket-lifetime", Name: "Lifetime", Duration: "LIFETIME", Price: 997000})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	second, err := store.EnsureMembership(ctx, Membership{Slug: "paket-lifetime", Name: "Lifetime v2", Duration: "LIFETIME", Price: 997000})
	if err != nil {
		t.Fatalf("re-ensure: %v", err)
	}
	if second.ID != first.ID {
		t.Fatal("membership id changed across ensure calls")
	}
	if second.Name != "Lifetime v2" {
		t.Fatalf("name not refreshed: %q", second.Name)
	}
}
