package ledger

import "time"

// Local transaction status vocabulary. Every external Sejoli status maps to
// exactly one of these; see internal/sejoli.MapStatus.
const (
	StatusSuccess   = "SUCCESS"
	StatusPending   = "PENDING"
	StatusCancelled = "CANCELLED"
	StatusFailed    = "FAILED"
)

// User roles.
const (
	RoleMemberFree    = "MEMBER_FREE"
	RoleMemberPremium = "MEMBER_PREMIUM"
)

// Transaction types.
const (
	TxTypeMembership = "MEMBERSHIP"
	TxTypeProduct    = "PRODUCT"
)

// User represents a local account keyed by lower-cased email.
type User struct {
	ID           string
	Email        string
	Name         string
	Role         string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Membership is one tier of the static membership catalog.
type Membership struct {
	ID        string
	Slug      string
	Name      string
	Duration  string
	Price     int64
	CreatedAt time.Time
}

// UserMembership grants a user access to one membership tier.
type UserMembership struct {
	ID           string
	UserID       string
	MembershipID string
	StartDate    time.Time
	EndDate      time.Time
	IsActive     bool
}

// Transaction is the local ledger entry for one Sejoli order, keyed by the
// deterministic external id "sejoli-{orderID}".
type Transaction struct {
	ID             string
	ExternalID     string
	UserID         string
	Amount         int64
	Status         string
	Type           string
	PaymentMethod  string
	AffiliateShare int64
	CompanyFee     int64
	FounderShare   int64
	CoFounderShare int64
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AffiliateProfile identifies a referring partner, keyed by the Sejoli
// affiliate id.
type AffiliateProfile struct {
	ID                string
	SejoliAffiliateID int64
	Name              string
	CreatedAt         time.Time
}

// AffiliateConversion records commission earned by an affiliate on one
// transaction. PaidOut is always false at creation; payout is out of scope.
type AffiliateConversion struct {
	ID                 string
	AffiliateProfileID string
	TransactionID      string
	CommissionAmount   int64
	CommissionRate     float64
	PaidOut            bool
	CreatedAt          time.Time
}

// Snapshot holds the ledger-side aggregates the reconciliation reporter
// compares against freshly fetched source data.
type Snapshot struct {
	TransactionsByStatus map[string]int64
	ExternalIDs          map[string]struct{}
	ConversionExternalID map[string]struct{}
	GrossRevenue         int64
	AffiliateShareTotal  int64
	CompanyFeeTotal      int64
	FounderShareTotal    int64
	CoFounderShareTotal  int64
	ConversionTotal      int64
	ConversionCount      int64
	UserCount            int64
	PremiumUserCount     int64
	UserMembershipCount  int64
}
