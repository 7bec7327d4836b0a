package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on top of a pgx connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres opens a connection pool to the ledger database.
func NewPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		logger: logger.With("component", "ledger"),
	}

	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RunMigrations applies the embedded Postgres migrations in lexicographic
// order.
func (s *PostgresStore) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return applyMigrations(ctx, filesystem, ".", func(sql string) error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, sql)
			return err
		})
	})
}

// EnsureMembership upserts one tier of the membership catalog by slug.
func (s *PostgresStore) EnsureMembership(ctx context.Context, tier Membership) (*Membership, error) {
	const q = `
INSERT INTO memberships (id, slug, name, duration, price)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (slug) DO UPDATE SET
    name = EXCLUDED.name,
    duration = EXCLUDED.duration,
    price = EXCLUDED.price
RETURNING id, slug, name, duration, price, created_at;
`
	row := s.pool.QueryRow(ctx, q, uuid.NewString(), tier.Slug, tier.Name, tier.Duration, tier.Price)

	var m Membership
	if err := row.Scan(&m.ID, &m.Slug, &m.Name, &m.Duration, &m.Price, &m.CreatedAt); err != nil {
		return nil, fmt.Errorf("ensure membership %s: %w", tier.Slug, err)
	}
	return &m, nil
}

// UpsertUserByEmail creates the user if absent, otherwise refreshes only
// the display name (to absorb corrected spellings from the source). The
// boolean reports whether a row was created.
func (s *PostgresStore) UpsertUserByEmail(ctx context.Context, user User) (*User, bool, error) {
	email := strings.ToLower(strings.TrimSpace(user.Email))

	const sel = `
SELECT id, email, name, role, is_active, created_at, updated_at
FROM users
WHERE LOWER(email) = $1
LIMIT 1;
`
	var existing User
	err := s.pool.QueryRow(ctx, sel, email).Scan(
		&existing.ID, &existing.Email, &existing.Name, &existing.Role,
		&existing.IsActive, &existing.CreatedAt, &existing.UpdatedAt,
	)
	switch {
	case err == nil:
		if user.Name != "" && user.Name != existing.Name {
			const upd = `UPDATE users SET name = $2, updated_at = NOW() WHERE id = $1;`
			if _, err := s.pool.Exec(ctx, upd, existing.ID, user.Name); err != nil {
				return nil, false, fmt.Errorf("update user name: %w", err)
			}
			existing.Name = user.Name
		}
		return &existing, false, nil
	case errors.Is(err, pgx.ErrNoRows):
		// fall through to insert
	default:
		return nil, false, fmt.Errorf("select user by email: %w", err)
	}

	const ins = `
INSERT INTO users (id, email, name, role, password_hash, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)
RETURNING id, email, name, role, is_active, created_at, updated_at;
`
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	role := user.Role
	if role == "" {
		role = RoleMemberFree
	}

	var created User
	err = s.pool.QueryRow(ctx, ins, uuid.NewString(), email, user.Name, role, user.PasswordHash, createdAt).Scan(
		&created.ID, &created.Email, &created.Name, &created.Role,
		&created.IsActive, &created.CreatedAt, &created.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert user: %w", err)
	}
	return &created, true, nil
}

// SetUserRole updates a user's role.
func (s *PostgresStore) SetUserRole(ctx context.Context, userID, role string) error {
	const q = `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1;`
	ct, err := s.pool.Exec(ctx, q, userID, role)
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}

// UpsertTransaction inserts a ledger entry keyed by external id, or updates
// the mutable fields of the existing one. Inserts preserve the source
// order's timestamp so historical ordering survives repeated imports.
func (s *PostgresStore) UpsertTransaction(ctx context.Context, tx Transaction) (*Transaction, bool, error) {
	meta, err := metaJSON(tx.Metadata)
	if err != nil {
		return nil, false, err
	}

	const sel = `SELECT id, created_at FROM transactions WHERE external_id = $1 LIMIT 1;`
	var existingID string
	var createdAt time.Time
	err = s.pool.QueryRow(ctx, sel, tx.ExternalID).Scan(&existingID, &createdAt)
	switch {
	case err == nil:
		const upd = `
UPDATE transactions
SET user_id = $2, amount = $3, status = $4, payment_method = $5,
    affiliate_share = $6, company_fee = $7, founder_share = $8, co_founder_share = $9,
    metadata = $10, updated_at = NOW()
WHERE id = $1;
`
		if _, err := s.pool.Exec(ctx, upd, existingID,
			tx.UserID, tx.Amount, tx.Status, tx.PaymentMethod,
			tx.AffiliateShare, tx.CompanyFee, tx.FounderShare, tx.CoFounderShare,
			meta,
		); err != nil {
			return nil, false, fmt.Errorf("update transaction %s: %w", tx.ExternalID, err)
		}
		tx.ID = existingID
		tx.CreatedAt = createdAt
		return &tx, false, nil
	case errors.Is(err, pgx.ErrNoRows):
		// fall through to insert
	default:
		return nil, false, fmt.Errorf("select transaction %s: %w", tx.ExternalID, err)
	}

	const ins = `
INSERT INTO transactions (
    id, external_id, user_id, amount, status, type, payment_method,
    affiliate_share, company_fee, founder_share, co_founder_share,
    metadata, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW());
`
	tx.ID = uuid.NewString()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	if _, err := s.pool.Exec(ctx, ins,
		tx.ID, tx.ExternalID, tx.UserID, tx.Amount, tx.Status, tx.Type, tx.PaymentMethod,
		tx.AffiliateShare, tx.CompanyFee, tx.FounderShare, tx.CoFounderShare,
		meta, tx.CreatedAt,
	); err != nil {
		return nil, false, fmt.Errorf("insert transaction %s: %w", tx.ExternalID, err)
	}
	return &tx, true, nil
}

// UpsertUserMembership writes the single membership grant per (user, tier).
func (s *PostgresStore) UpsertUserMembership(ctx context.Context, um UserMembership) error {
	const q = `
INSERT INTO user_memberships (id, user_id, membership_id, start_date, end_date, is_active)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id, membership_id) DO UPDATE SET
    start_date = EXCLUDED.start_date,
    end_date = EXCLUDED.end_date,
    is_active = EXCLUDED.is_active;
`
	_, err := s.pool.Exec(ctx, q, uuid.NewString(), um.UserID, um.MembershipID, um.StartDate, um.EndDate, um.IsActive)
	if err != nil {
		return fmt.Errorf("upsert user membership: %w", err)
	}
	return nil
}

// UpsertAffiliateProfile creates or refreshes the profile for one Sejoli
// affiliate id.
func (s *PostgresStore) UpsertAffiliateProfile(ctx context.Context, profile AffiliateProfile) (*AffiliateProfile, error) {
	const q = `
INSERT INTO affiliate_profiles (id, sejoli_affiliate_id, name)
VALUES ($1, $2, $3)
ON CONFLICT (sejoli_affiliate_id) DO UPDATE SET
    name = COALESCE(NULLIF(EXCLUDED.name, ''), affiliate_profiles.name)
RETURNING id, sejoli_affiliate_id, name, created_at;
`
	row := s.pool.QueryRow(ctx, q, uuid.NewString(), profile.SejoliAffiliateID, profile.Name)

	var p AffiliateProfile
	if err := row.Scan(&p.ID, &p.SejoliAffiliateID, &p.Name, &p.CreatedAt); err != nil {
		return nil, fmt.Errorf("upsert affiliate profile %d: %w", profile.SejoliAffiliateID, err)
	}
	return &p, nil
}

// InsertConversions batch-inserts conversions with duplicates skipped. If a
// whole batch fails it falls back to row-by-row insertion so one bad row
// never sinks the rest.
func (s *PostgresStore) InsertConversions(ctx context.Context, conversions []AffiliateConversion) (int, error) {
	const q = `
INSERT INTO affiliate_conversions (
    id, affiliate_profile_id, transaction_id, commission_amount, commission_rate, paid_out, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (transaction_id, affiliate_profile_id) DO NOTHING;
`
	created := 0
	batchErr := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, conv := range conversions {
			ct, err := tx.Exec(ctx, q,
				uuid.NewString(), conv.AffiliateProfileID, conv.TransactionID,
				conv.CommissionAmount, conv.CommissionRate, conv.PaidOut, conv.CreatedAt,
			)
			if err != nil {
				return err
			}
			created += int(ct.RowsAffected())
		}
		return nil
	})
	if batchErr == nil {
		return created, nil
	}

	s.logger.Warn("conversion batch insert failed, retrying row by row", "error", batchErr)
	created = 0
	for _, conv := range conversions {
		ct, err := s.pool.Exec(ctx, q,
			uuid.NewString(), conv.AffiliateProfileID, conv.TransactionID,
			conv.CommissionAmount, conv.CommissionRate, conv.PaidOut, conv.CreatedAt,
		)
		if err != nil {
			s.logger.Debug("conversion row skipped", "transaction_id", conv.TransactionID, "error", err)
			continue
		}
		created += int(ct.RowsAffected())
	}
	return created, nil
}

// Snapshot recomputes the ledger aggregates used by reconciliation.
func (s *PostgresStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		TransactionsByStatus: make(map[string]int64),
		ExternalIDs:          make(map[string]struct{}),
		ConversionExternalID: make(map[string]struct{}),
	}

	rows, err := s.pool.Query(ctx, `SELECT external_id, status FROM transactions;`)
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
WHERE status = $1;
`
	err = s.pool.QueryRow(ctx, sums, StatusSuccess).Scan(
		&snap.GrossRevenue, &snap.AffiliateShareTotal, &snap.CompanyFeeTotal,
		&snap.FounderShareTotal, &snap.CoFounderShareTotal,
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot share sums: %w", err)
	}

	convRows, err := s.pool.Query(ctx, `
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
    (SELECT COUNT(*) FROM users WHERE role = $1),
    (SELECT COUNT(*) FROM user_memberships);
`
	err = s.pool.QueryRow(ctx, counts, RoleMemberPremium).Scan(
		&snap.UserCount, &snap.PremiumUserCount, &snap.UserMembershipCount,
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot counts: %w", err)
	}

	return snap, nil
}

func metaJSON(meta map[string]any) (any, error) {
	if meta == nil {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}
