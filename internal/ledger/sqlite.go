package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store against a local SQLite database, for runs
// that reconcile into a throwaway local ledger instead of the shared
// Postgres instance.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens the SQLite ledger at databasePath.
func NewSQLite(ctx context.Context, databasePath string, logger *slog.Logger) (*SQLiteStore, error) {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is empty")
	}

	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn = fmt.Sprintf("%s%s_pragma=busy_timeout=10000&_pragma=journal_mode=WAL&_pragma=foreign_keys=ON", dsn, sep)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "ledger_sqlite"),
	}, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// Ping ensures the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RunMigrations applies the embedded SQLite migrations from the sqlite/
// subdirectory.
func (s *SQLiteStore) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return applyMigrations(ctx, filesystem, "sqlite", func(sqlText string) error {
		_, err := s.db.ExecContext(ctx, sqlText)
		return err
	})
}

// EnsureMembership upserts one tier of the membership catalog by slug.
func (s *SQLiteStore) EnsureMembership(ctx context.Context, tier Membership) (*Membership, error) {
	const ins = `
INSERT INTO memberships (id, slug, name, duration, price, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (slug) DO UPDATE SET
    name = excluded.name,
    duration = excluded.duration,
    price = excluded.price;
`
	if _, err := s.db.ExecContext(ctx, ins, uuid.NewString(), tier.Slug, tier.Name, tier.Duration, tier.Price, time.Now()); err != nil {
		return nil, fmt.Errorf("ensure membership %s: %w", tier.Slug, err)
	}

	const sel = `SELECT id, slug, name, duration, price, created_at FROM memberships WHERE slug = ? LIMIT 1;`
	var m Membership
	err := s.db.QueryRowContext(ctx, sel, tier.Slug).Scan(&m.ID, &m.Slug, &m.Name, &m.Duration, &m.Price, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("reload membership %s: %w", tier.Slug, err)
	}
	return &m, nil
}

// UpsertUserByEmail mirrors the Postgres semantics: create with defaults if
// absent, otherwise only the display name is refreshed.
func (s *SQLiteStore) UpsertUserByEmail(ctx context.Context, user User) (*User, bool, error) {
	email := strings.ToLower(strings.TrimSpace(user.Email))

	const sel = `
SELECT id, email, name, role, is_active, created_at, updated_at
FROM users
WHERE email = ?
LIMIT 1;
`
	var existing User
	err := s.db.QueryRowContext(ctx, sel, email).Scan(
		&existing.ID, &existing.Email, &existing.Name, &existing.Role,
		&existing.IsActive, &existing.CreatedAt, &existing.UpdatedAt,
	)
	switch {
	case err == nil:
		if user.Name != "" && user.Name != existing.Name {
			const upd = `UPDATE users SET name = ?, updated_at = ? WHERE id = ?;`
			if _, err := s.db.ExecContext(ctx, upd, user.Name, time.Now(), existing.ID); err != nil {
				return nil, false, fmt.Errorf("update user name: %w", err)
			}
			existing.Name = user.Name
		}
		return &existing, false, nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through to insert
	default:
		return nil, false, fmt.Errorf("select user by email: %w", err)
	}

	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	role := user.Role
	if role == "" {
		role = RoleMemberFree
	}
	created := User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      user.Name,
		Role:      role,
		IsActive:  true,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}

	const ins = `
INSERT INTO users (id, email, name, role, password_hash, is_active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, 1, ?, ?);
`
	if _, err := s.db.ExecContext(ctx, ins, created.ID, created.Email, created.Name, created.Role, user.PasswordHash, created.CreatedAt, created.UpdatedAt); err != nil {
		return nil, false, fmt.Errorf("insert user: %w", err)
	}
	return &created, true, nil
}

// SetUserRole updates a user's role.
func (s *SQLiteStore) SetUserRole(ctx context.Context, userID, role string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET role = ?, updated_at = ? WHERE id = ?;`, role, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}

// UpsertTransaction mirrors the Postgres semantics, keyed by external id.
func (s *SQLiteStore) UpsertTransaction(ctx context.Context, tx Transaction) (*Transaction, bool, error) {
	meta, err := metaText(tx.Metadata)
	if err != nil {
		return nil, false, err
	}

	const sel = `SELECT id, created_at FROM transactions WHERE external_id = ? LIMIT 1;`
	var existingID string
	var createdAt time.Time
	err = s.db.QueryRowContext(ctx, sel, tx.ExternalID).Scan(&existingID, &createdAt)
	switch {
	case err == nil:
		const upd = `
UPDATE transactions
SET user_id = ?, amount = ?, status = ?, payment_method = ?,
    affiliate_share = ?, company_fee = ?, founder_share = ?, co_founder_share = ?,
    metadata = ?, updated_at = ?
WHERE id = ?;
`
		if _, err := s.db.ExecContext(ctx, upd,
			tx.UserID, tx.Amount, tx.Status, tx.PaymentMethod,
			tx.AffiliateShare, tx.CompanyFee, tx.FounderShare, tx.CoFounderShare,
			meta, time.Now(), existingID,
		); err != nil {
			return nil, false, fmt.Errorf("update transaction %s: %w", tx.ExternalID, err)
		}
		tx.ID = existingID
		tx.CreatedAt = createdAt
		return &tx, false, nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through to insert
	default:
		return nil, false, fmt.Errorf("select transaction %s: %w", tx.ExternalID, err)
	}

	tx.ID = uuid.NewString()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	const ins = `
INSERT INTO transactions (
    id, external_id, user_id, amount, status, type, payment_method,
    affiliate_share, company_fee, founder_share, co_founder_share,
    metadata, created_at, updated_at
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	if _, err := s.db.ExecContext(ctx, ins,
		tx.ID, tx.ExternalID, tx.UserID, tx.Amount, tx.Status, tx.Type, tx.PaymentMethod,
		tx.AffiliateShare, tx.CompanyFee, tx.FounderShare, tx.CoFounderShare,
		meta, tx.CreatedAt, time.Now(),
	); err != nil {
		return nil, false, fmt.Errorf("insert transaction %s: %w", tx.ExternalID, err)
	}
	return &tx, true, nil
}

// UpsertUserMembership writes the single membership grant per (user, tier).
func (s *SQLiteStore) UpsertUserMembership(ctx context.Context, um UserMembership) error {
	const q = `
INSERT INTO user_memberships (id, user_id, membership_id, start_date, end_date, is_active)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, membership_id) DO UPDATE SET
    start_date = excluded.start_date,
    end_date = excluded.end_date,
    is_active = excluded.is_active;
`
	if _, err := s.db.ExecContext(ctx, q, uuid.NewString(), um.UserID, um.MembershipID, um.StartDate, um.EndDate, um.IsActive); err != nil {
		return fmt.Errorf("upsert user membership: %w", err)
	}
	return nil
}

// UpsertAffiliateProfile creates or refreshes the profile for one Sejoli
// affiliate id.
func (s *SQLiteStore) UpsertAffiliateProfile(ctx context.Context, profile AffiliateProfile) (*AffiliateProfile, error) {
	const ins = `
INSERT INTO affiliate_profiles (id, sejoli_affiliate_id, name, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (sejoli_affiliate_id) DO UPDATE SET
    name = CASE WHEN excluded.name != '' THEN excluded.name ELSE affiliate_profiles.name END;
`
	if _, err := s.db.ExecContext(ctx, ins, uuid.NewString(), profile.SejoliAffiliateID, profile.Name, time.Now()); err != nil {
		return nil, fmt.Errorf("upsert affiliate profile %d: %w", profile.SejoliAffiliateID, err)
	}

	const sel = `SELECT id, sejoli_affiliate_id, name, created_at FROM affiliate_profiles WHERE sejoli_affiliate_id = ? LIMIT 1;`
	var p AffiliateProfile
	err := s.db.QueryRowContext(ctx, sel, profile.SejoliAffiliateID).Scan(&p.ID, &p.SejoliAffiliateID, &p.Name, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("reload affiliate profile %d: %w", profile.SejoliAffiliateID, err)
	}
	return &p, nil
}

// InsertConversions batch-inserts conversions with duplicates skipped,
// falling back to row-by-row insertion when the whole batch fails.
func (s *SQLiteStore) InsertConversions(ctx context.Context, conversions []AffiliateConversion) (int, error) {
	const q = `
INSERT INTO affiliate_conversions (
    id, affiliate_profile_id, transaction_id, commission_amount, commission_rate, paid_out, created_at
)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (transaction_id, affiliate_profile_id) DO NOTHING;
`
	created := 0
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err == nil {
		batchErr := func() error {
			for _, conv := range conversions {
				res, err := dbTx.ExecContext(ctx, q,
					uuid.NewString(), conv.AffiliateProfileID, conv.TransactionID,
					conv.CommissionAmount, conv.CommissionRate, conv.PaidOut, conv.CreatedAt,
				)
				if err != nil {
					return err
				}
				if affected, _ := res.RowsAffected(); affected > 0 {
					created++
				}
			}
			return dbTx.Commit()
		}()
		if batchErr == nil {
			return created, nil
		}
		dbTx.Rollback()
		s.logger.Warn("conversion batch insert failed, retrying row by row", "error", batchErr)
	}

	created = 0
	for _, conv := range conversions {
		res, err := s.db.ExecContext(ctx, q,
			uuid.NewString(), conv.AffiliateProfileID, conv.TransactionID,
			conv.CommissionAmount, conv.CommissionRate, conv.PaidOut, conv.CreatedAt,
		)
		if err != nil {
			s.logger.Debug("conversion row skipped", "transaction_id", conv.TransactionID, "error", err)
			continue
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			created++
		}
	}
	return created, nil
}

// Snapshot recomputes the ledger aggregates used by reconciliation.
func (s *SQLiteStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		TransactionsByStatus: make(map[string]int64),
		ExternalIDs:          make(map[string]struct{}),
		ConversionExternalID: make(map[string]struct{}),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT external_id, status FROM transactions;`)
	if err != nil {
		return nil, fmt.Errorf("snapshot transactions: %w", err)
	}
	for rows.Next() {
		var externalID, status string
		if err := rows.Scan(&externalID, &status); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		snap.ExternalIDs[externalID] = struct{}{}
		snap.TransactionsByStatus[status]++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	const sums = `
SELECT COALESCE(SUM(amount), 0),
       COALESCE(SUM(affiliate_share), 0),
       COALESCE(SUM(company_fee), 0),
       COALESCE(SUM(founder_share), 0),
       COALESCE(SUM(co_founder_share), 0)
FROM transactions
WHERE status = ?;
`
	err = s.db.QueryRowContext(ctx, sums, StatusSuccess).Scan(
		&snap.GrossRevenue, &snap.AffiliateShareTotal, &snap.CompanyFeeTotal,
		&snap.FounderShareTotal, &snap.CoFounderShareTotal,
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot share sums: %w", err)
	}

	convRows, err := s.db.QueryContext(ctx, `
SELECT t.external_id, c.commission_amount
FROM affiliate_conversions c
JOIN transactions t ON t.id = c.transaction_id;
`)
	if err != nil {
		return nil, fmt.Errorf("snapshot conversions: %w", err)
	}
	for convRows.Next() {
		var externalID string
		var amount int64
		if err := convRows.Scan(&externalID, &amount); err != nil {
			convRows.Close()
			return nil, fmt.Errorf("scan conversion: %w", err)
		}
		snap.ConversionExternalID[externalID] = struct{}{}
		snap.ConversionTotal += amount
		snap.ConversionCount++
	}
	convRows.Close()
	if err := convRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversions: %w", err)
	}

	const counts = `
SELECT
    (SELECT COUNT(*) FROM users),
    (SELECT COUNT(*) FROM users WHERE role = ?),
    (SELECT COUNT(*) FROM user_memberships);
`
	err = s.db.QueryRowContext(ctx, counts, RoleMemberPremium).Scan(
		&snap.UserCount, &snap.PremiumUserCount, &snap.UserMembershipCount,
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot counts: %w", err)
	}

	return snap, nil
}

func metaText(meta map[string]any) (any, error) {
	if meta == nil {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}
