package importer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sejoli-sync/internal/commission"
	"sejoli-sync/internal/ledger"
	"sejoli-sync/internal/metrics"
	"sejoli-sync/internal/sejoli"
)

// Placeholder credential for accounts created from imported orders. Users
// never log in with it; the member site forces a password reset.
const importedPasswordHash = "$2a$10$sejoli.import.placeholder.hash"

const conversionBatchSize = 500

// membershipCatalog is the static tier catalog ensured once per run. It is
// not derived from source data.
var membershipCatalog = []ledger.Membership{
	{Slug: "paket-6-bulan", Name: "Paket Ekspor Yuk - 6 Bulan", Duration: string(commission.TierSixMonths), Price: 1497000},
	{Slug: "paket-12-bulan", Name: "Paket Ekspor Yuk - 12 Bulan", Duration: string(commission.TierTwelveMonths), Price: 2497000},
	{Slug: "paket-lifetime", Name: "Paket Ekspor Yuk - Lifetime", Duration: string(commission.TierLifetime), Price: 997000},
}

// Importer drives the fetch-resolve-split-upsert pipeline against a ledger
// store. Each run is idempotent: re-importing an unchanged source leaves
// the ledger byte-for-byte identical.
type Importer struct {
	store    ledger.Store
	resolver *commission.Resolver
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Summary is the immutable result of one import run. Every silent-default
// path (unmapped product, unknown status, order without a local user) is
// counted here so it shows up in the report instead of disappearing.
type Summary struct {
	UsersCreated        int
	UsersUpdated        int
	UserErrors          int
	TxCreated           int
	TxUpdated           int
	TxSkippedNoUser     int
	TxErrors            int
	MembershipsAssigned int
	MembershipErrors    int
	ConversionsCreated  int
	GrossRevenue        int64
	CommissionTotal     int64
	UnmappedProducts    map[int64]int
	UnmappedStatuses    map[string]int
}

// New builds an Importer.
func New(store ledger.Store, resolver *commission.Resolver, logger *slog.Logger, metricRegistry *metrics.Metrics) *Importer {
	return &Importer{
		store:    store,
		resolver: resolver,
		logger:   logger.With("component", "importer"),
		metrics:  metricRegistry,
	}
}

type pendingConversion struct {
	transactionID string
	affiliateID   int64
	affiliateName string
	amount        int64
	rate          float64
	createdAt     time.Time
}

type membershipCandidate struct {
	tier      commission.Tier
	orderDate time.Time
}

// Run executes the import steps in order: membership catalog, users,
// transactions, membership assignment, affiliate conversions.
func (imp *Importer) Run(ctx context.Context, orders []sejoli.Order) (*Summary, error) {
	summary := &Summary{
		UnmappedProducts: make(map[int64]int),
		UnmappedStatuses: make(map[string]int),
	}

	tiers, err := imp.ensureCatalog(ctx)
	if err != nil {
		return nil, err
	}

	userIDs := imp.importUsers(ctx, orders, summary)

	pending, candidates := imp.importTransactions(ctx, orders, userIDs, summary)

	imp.assignMemberships(ctx, candidates, tiers, summary)

	imp.importConversions(ctx, pending, summary)

	imp.logger.Info("import finished",
		"users_created", summary.UsersCreated,
		"tx_created", summary.TxCreated,
		"tx_updated", summary.TxUpdated,
		"memberships_assigned", summary.MembershipsAssigned,
		"conversions_created", summary.ConversionsCreated,
		"gross_revenue", summary.GrossRevenue,
		"commission_total", summary.CommissionTotal,
	)
	return summary, nil
}

func (imp *Importer) ensureCatalog(ctx context.Context) (map[commission.Tier]*ledger.Membership, error) {
	tiers := make(map[commission.Tier]*ledger.Membership, len(membershipCatalog))
	for _, tier := range membershipCatalog {
		m, err := imp.store.EnsureMembership(ctx, tier)
		if err != nil {
			return nil, fmt.Errorf("ensure membership catalog: %w", err)
		}
		tiers[commission.Tier(m.Duration)] = m
	}
	imp.logger.Info("membership catalog ensured", "tiers", len(tiers))
	return tiers, nil
}

// importUsers upserts one user per distinct order email and returns the
// email to user-id mapping the later steps key on.
func (imp *Importer) importUsers(ctx context.Context, orders []sejoli.Order, summary *Summary) map[string]string {
	seen := make(map[string]sejoli.Order)
	for _, order := range orders {
		if order.UserEmail == "" {
			continue
		}
		if _, ok := seen[order.UserEmail]; !ok {
			seen[order.UserEmail] = order
		}
	}
	imp.logger.Info("importing users", "unique_emails", len(seen))

	userIDs := make(map[string]string, len(seen))
	for email, order := range seen {
		name := order.UserName
		if name == "" {
			name = emailLocalPart(email)
		}
		user, created, err := imp.store.UpsertUserByEmail(ctx, ledger.User{
			Email:        email,
			Name:         name,
			Role:         ledger.RoleMemberFree,
			PasswordHash: importedPasswordHash,
			CreatedAt:    order.CreatedAt,
		})
		if err != nil {
			summary.UserErrors++
			imp.countRow("user", "error")
			imp.logger.Debug("user upsert failed", "email", email, "error", err)
			continue
		}
		userIDs[email] = user.ID
		if created {
			summary.UsersCreated++
			imp.countRow("user", "created")
		} else {
			summary.UsersUpdated++
			imp.countRow("user", "updated")
		}
	}
	return userIDs
}

// importTransactions upserts one ledger entry per order and collects the
// follow-up work: conversions to insert and membership candidates.
func (imp *Importer) importTransactions(
	ctx context.Context,
	orders []sejoli.Order,
	userIDs map[string]string,
	summary *Summary,
) ([]pendingConversion, map[string]membershipCandidate) {
	imp.logger.Info("importing transactions", "orders", len(orders))

	var pending []pendingConversion
	candidates := make(map[string]membershipCandidate)

	for _, order := range orders {
		userID, ok := userIDs[order.UserEmail]
		if !ok {
			summary.TxSkippedNoUser++
			imp.countRow("transaction", "skipped")
			continue
		}

		status, mapped := sejoli.MapStatus(order.Status)
		if !mapped {
			summary.UnmappedStatuses[order.Status]++
			imp.logger.Warn("unmapped order status defaulted to FAILED",
				"order_id", order.ID, "status", order.Status)
		}

		policy := imp.resolver.Resolve(order.ProductID)
		if !policy.Mapped {
			summary.UnmappedProducts[order.ProductID]++
		}

		value := policy.Value
		if !order.HasAffiliate() {
			value = 0
		}

		var shares commission.Shares
		if status == ledger.StatusSuccess {
			shares = commission.Split(order.GrandTotal, policy.Kind, value)
			summary.GrossRevenue += order.GrandTotal
			summary.CommissionTotal += shares.Affiliate
		}

		txType := ledger.TxTypeProduct
		if policy.Type.GrantsMembership() {
			txType = ledger.TxTypeMembership
		}

		tx, created, err := imp.store.UpsertTransaction(ctx, ledger.Transaction{
			ExternalID:     order.ExternalID(),
			UserID:         userID,
			Amount:         order.GrandTotal,
			Status:         status,
			Type:           txType,
			PaymentMethod:  order.PaymentGateway,
			AffiliateShare: shares.Affiliate,
			CompanyFee:     shares.AdminFee,
			FounderShare:   shares.Founder,
			CoFounderShare: shares.CoFounder,
			Metadata: map[string]any{
				"sejoliOrderId":      order.ID,
				"sejoliProductId":    order.ProductID,
				"sejoliStatus":       order.Status,
				"affiliateId":        order.AffiliateID,
				"affiliateName":      order.AffiliateName,
				"resolvedCommission": shares.Affiliate,
				"productType":        string(policy.Type),
			},
			CreatedAt: order.CreatedAt,
		})
		if err != nil {
			summary.TxErrors++
			imp.countRow("transaction", "error")
			imp.logger.Debug("transaction upsert failed", "external_id", order.ExternalID(), "error", err)
			continue
		}
		if created {
			summary.TxCreated++
			imp.countRow("transaction", "created")
		} else {
			summary.TxUpdated++
			imp.countRow("transaction", "updated")
		}

		if status == ledger.StatusSuccess && order.HasAffiliate() && shares.Affiliate > 0 {
			rate := float64(0)
			if order.GrandTotal > 0 {
				rate = float64(shares.Affiliate) / float64(order.GrandTotal) * 100
			}
			pending = append(pending, pendingConversion{
				transactionID: tx.ID,
				affiliateID:   order.AffiliateID,
				affiliateName: order.AffiliateName,
				amount:        shares.Affiliate,
				rate:          rate,
				createdAt:     order.CreatedAt,
			})
		}

		if status == ledger.StatusSuccess && policy.Type.GrantsMembership() && policy.Tier != commission.TierNone {
			existing, ok := candidates[userID]
			better := !ok ||
				policy.Tier.Priority() > existing.tier.Priority() ||
				(policy.Tier.Priority() == existing.tier.Priority() && order.CreatedAt.Before(existing.orderDate))
			if better {
				candidates[userID] = membershipCandidate{tier: policy.Tier, orderDate: order.CreatedAt}
			}
		}
	}
	return pending, candidates
}

// assignMemberships grants each qualifying user the single highest-priority
// tier reached and upgrades their role to premium.
func (imp *Importer) assignMemberships(
	ctx context.Context,
	candidates map[string]membershipCandidate,
	tiers map[commission.Tier]*ledger.Membership,
	summary *Summary,
) {
	imp.logger.Info("assigning memberships", "candidates", len(candidates))

	for userID, candidate := range candidates {
		membership, ok := tiers[candidate.tier]
		if !ok {
			summary.MembershipErrors++
			continue
		}

		start := candidate.orderDate
		err := imp.store.UpsertUserMembership(ctx, ledger.UserMembership{
			UserID:       userID,
			MembershipID: membership.ID,
			StartDate:    start,
			EndDate:      membershipEnd(start, candidate.tier),
			IsActive:     true,
		})
		if err != nil {
			summary.MembershipErrors++
			imp.countRow("user_membership", "error")
			imp.logger.Debug("membership upsert failed", "user_id", userID, "error", err)
			continue
		}
		if err := imp.store.SetUserRole(ctx, userID, ledger.RoleMemberPremium); err != nil {
			summary.MembershipErrors++
			imp.logger.Debug("role upgrade failed", "user_id", userID, "error", err)
			continue
		}
		summary.MembershipsAssigned++
		imp.countRow("user_membership", "created")
	}
}

// importConversions upserts affiliate profiles and batch-inserts one
// conversion per qualifying (transaction, affiliate) pair.
func (imp *Importer) importConversions(ctx context.Context, pending []pendingConversion, summary *Summary) {
	if len(pending) == 0 {
		return
	}
	imp.logger.Info("importing affiliate conversions", "pending", len(pending))

	profiles := make(map[int64]string)
	var conversions []ledger.AffiliateConversion
	for _, conv := range pending {
		profileID, ok := profiles[conv.affiliateID]
		if !ok {
			profile, err := imp.store.UpsertAffiliateProfile(ctx, ledger.AffiliateProfile{
				SejoliAffiliateID: conv.affiliateID,
				Name:              conv.affiliateName,
			})
			if err != nil {
				imp.countRow("affiliate_profile", "error")
				imp.logger.Debug("affiliate profile upsert failed", "affiliate_id", conv.affiliateID, "error", err)
				continue
			}
			profileID = profile.ID
			profiles[conv.affiliateID] = profileID
		}
		conversions = append(conversions, ledger.AffiliateConversion{
			AffiliateProfileID: profileID,
			TransactionID:      conv.transactionID,
			CommissionAmount:   conv.amount,
			CommissionRate:     conv.rate,
			PaidOut:            false,
			CreatedAt:          conv.createdAt,
		})
	}

	for start := 0; start < len(conversions); start += conversionBatchSize {
		end := start + conversionBatchSize
		if end > len(conversions) {
			end = len(conversions)
		}
		created, err := imp.store.InsertConversions(ctx, conversions[start:end])
		if err != nil {
			imp.countRow("conversion", "error")
			imp.logger.Warn("conversion batch failed", "batch_start", start, "error", err)
			continue
		}
		summary.ConversionsCreated += created
	}
	imp.countRowN("conversion", "created", summary.ConversionsCreated)
}

func (imp *Importer) countRow(entity, outcome string) {
	if imp.metrics != nil {
		imp.metrics.RowsWritten.WithLabelValues(entity, outcome).Inc()
	}
}

func (imp *Importer) countRowN(entity, outcome string, n int) {
	if imp.metrics != nil && n > 0 {
		imp.metrics.RowsWritten.WithLabelValues(entity, outcome).Add(float64(n))
	}
}

func membershipEnd(start time.Time, tier commission.Tier) time.Time {
	switch tier {
	case commission.TierSixMonths:
		return start.AddDate(0, 6, 0)
	case commission.TierTwelveMonths:
		return start.AddDate(1, 0, 0)
	default:
		// Lifetime keeps date arithmetic uniform with a 100 year horizon.
		return start.AddDate(100, 0, 0)
	}
}

func emailLocalPart(email string) string {
	for i := 0; i < len(email); i++ {
		if email[i] == '@' {
			return email[:i]
		}
	}
	return email
}
