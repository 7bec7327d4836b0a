package ledger

import (
	"context"
	"io/fs"
)

// Store defines the persistence operations the import pipeline relies on.
// Implementations exist for Postgres and SQLite; both are idempotent at the
// row level so repeated imports never duplicate financial records.
type Store interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Membership catalog
	EnsureMembership(ctx context.Context, tier Membership) (*Membership, error)

	// Users
	UpsertUserByEmail(ctx context.Context, user User) (*User, bool, error)
	SetUserRole(ctx context.Context, userID, role string) error

	// Transactions
	UpsertTransaction(ctx context.Context, tx Transaction) (*Transaction, bool, error)

	// Memberships per user
	UpsertUserMembership(ctx context.Context, um UserMembership) error

	// Affiliates
	UpsertAffiliateProfile(ctx context.Context, profile AffiliateProfile) (*AffiliateProfile, error)
	InsertConversions(ctx context.Context, conversions []AffiliateConversion) (int, error)

	// Reconciliation
	Snapshot(ctx context.Context) (*Snapshot, error)
}
