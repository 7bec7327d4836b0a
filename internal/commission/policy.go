package commission

import "sejoli-sync/internal/sejoli"

// Kind distinguishes the two commission regimes.
type Kind string

const (
	KindFlat       Kind = "FLAT"
	KindPercentage Kind = "PERCENTAGE"
)

// Tier names a membership duration class. TierNone marks products that do
// not grant a membership.
type Tier string

const (
	TierNone         Tier = ""
	TierSixMonths    Tier = "SIX_MONTHS"
	TierTwelveMonths Tier = "TWELVE_MONTHS"
	TierLifetime     Tier = "LIFETIME"
)

// Priority ranks tiers for the highest-tier-wins membership assignment.
// Lifetime beats annual beats semi-annual; TierNone ranks lowest.
func (t Tier) Priority() int {
	switch t {
	case TierLifetime:
		return 3
	case TierTwelveMonths:
		return 2
	case TierSixMonths:
		return 1
	default:
		return 0
	}
}

// PolicyType tags what a product sells.
type PolicyType string

const (
	TypeMembership PolicyType = "membership"
	TypeRenewal    PolicyType = "renewal"
	TypeEvent      PolicyType = "event"
	TypeWebinar    PolicyType = "webinar"
	TypeUnknown    PolicyType = "unknown"
)

// GrantsMembership reports whether orders of this type qualify a user for
// a membership grant.
func (t PolicyType) GrantsMembership() bool {
	return t == TypeMembership || t == TypeRenewal
}

// Policy is the commission rule resolved for one product.
type Policy struct {
	Kind   Kind
	Value  float64
	Tier   Tier
	Type   PolicyType
	Mapped bool
}

// productPolicies is the hand-maintained product policy table, version 3
// (2025-08). Keep entries sorted by product id. Unmapped products resolve
// to zero commission and never block an import.
var productPolicies = map[int64]Policy{
	// Paket Ekspor Yuk memberships
	190:   {Kind: KindFlat, Value: 250000, Tier: TierSixMonths, Type: TypeMembership, Mapped: true},
	258:   {Kind: KindFlat, Value: 400000, Tier: TierTwelveMonths, Type: TypeMembership, Mapped: true},
	331:   {Kind: KindFlat, Value: 300000, Tier: TierLifetime, Type: TypeMembership, Mapped: true},
	335:   {Kind: KindFlat, Value: 250000, Tier: TierSixMonths, Type: TypeRenewal, Mapped: true},
	413:   {Kind: KindFlat, Value: 400000, Tier: TierTwelveMonths, Type: TypeRenewal, Mapped: true},
	414:   {Kind: KindFlat, Value: 100000, Tier: TierLifetime, Type: TypeMembership, Mapped: true},
	415:   {Kind: KindPercentage, Value: 30, Tier: TierNone, Type: TypeWebinar, Mapped: true},
	424:   {Kind: KindPercentage, Value: 30, Tier: TierNone, Type: TypeEvent, Mapped: true},
	13398: {Kind: KindFlat, Value: 150000, Tier: TierLifetime, Type: TypeMembership, Mapped: true},
}

// Resolver maps product ids to commission policies. The static table wins;
// products absent from it may be enriched from the fetched catalog's
// affiliate fee, without ever gaining a membership tier.
type Resolver struct {
	policies map[int64]Policy
	derived  map[int64]Policy
}

// NewResolver builds a resolver over the static policy table.
func NewResolver() *Resolver {
	return &Resolver{
		policies: productPolicies,
		derived:  make(map[int64]Policy),
	}
}

// EnrichFromProducts fills commission values for products missing from the
// static table using the affiliate fee advertised by the product catalog.
// Derived entries are still reported as unmapped for audit purposes via
// Policy.Mapped == false on products with no fee at all.
func (r *Resolver) EnrichFromProducts(products []sejoli.Product) {
	for _, p := range products {
		if _, ok := r.policies[p.ID]; ok {
			continue
		}
		if p.AffiliateFee <= 0 {
			continue
		}
		kind := KindFlat
		if p.AffiliateType == "percentage" {
			kind = KindPercentage
		}
		r.derived[p.ID] = Policy{
			Kind:   kind,
			Value:  p.AffiliateFee,
			Tier:   TierNone,
			Type:   TypeUnknown,
			Mapped: true,
		}
	}
}

// Resolve looks up the policy for a product id. A miss is not an error:
// unknown products carry no commission and no membership grant.
func (r *Resolver) Resolve(productID int64) Policy {
	if policy, ok := r.policies[productID]; ok {
		return policy
	}
	if policy, ok := r.derived[productID]; ok {
		return policy
	}
	return Policy{Kind: KindFlat, Value: 0, Tier: TierNone, Type: TypeUnknown, Mapped: false}
}
