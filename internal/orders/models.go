package orders

import (
	"github.com/shopspring/decimal"
	"time"
)

type InventoryMode string

const (
	ModeLimited        InventoryMode = "limited"
	ModeSingleCardOnly InventoryMode = "singleCardOnly"
)

type Product struct {
	ID             string
	Name           string
	Price          decimal.Decimal
	SingleCardOnly bool
	PurchaseLimit  *int // nil or <= 0 means unlimited
}

func (p *Product) Mode() InventoryMode {
	if p.SingleCardOnly {
		return ModeSingleCardOnly
	}
	return ModeLimited
}

type Card struct {
	ID              int64
	ProductID       string
	CardKey         string
	IsUsed          bool
	ReservedOrderID *string
	ReservedAt      *time.Time
	UsedAt          *time.Time
}

type Order struct {
	OrderID        string
	ProductID      string
	ProductName    string
	Quantity       int
	Amount         decimal.Decimal
	OriginalAmount decimal.NullDecimal
	DiscountCode   *string
	DiscountAmount decimal.NullDecimal
	PointsUsed     int
	Status         Status
	CancelReason   *string
	CardKey        *string
	CardKeys       []string
	TradeNo        *string
	Note           *string

	UserID   *string
	Username *string
	Email    *string

	CreatedAt   time.Time
	PaidAt      *time.Time
	DeliveredAt *time.Time

	AdminAdjustedFrom   decimal.NullDecimal
	AdminAdjustedBy     *string
	AdminAdjustedReason *string
	AdminAdjustedAt     *time.Time
}

// OwnedBy matches the requester against the order's buyer by id or username.
func (o *Order) OwnedBy(userID, username string) bool {
	if userID != "" && o.UserID != nil && *o.UserID == userID {
		return true
	}
	return username != "" && o.Username != nil && *o.Username == username
}

// BuyerKey picks the identity per-buyer markers are stored under.
func BuyerKey(userID, username, email string) string {
	switch {
	case userID != "":
		return userID
	case username != "":
		return username
	}
	return email
}

// BuyerKey is the key of the buyer who placed the order, "" for payment links.
func (o *Order) BuyerKey() string {
	return BuyerKey(deref(o.UserID), deref(o.Username), deref(o.Email))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

type DiscountType string

const (
	DiscountAmount  DiscountType = "amount"
	DiscountPercent DiscountType = "percent"
)

type DiscountCode struct {
	Code      string
	Type      DiscountType
	Value     decimal.Decimal
	IsActive  bool
	MaxUses   *int
	UsedCount int
	MinAmount decimal.NullDecimal
	StartsAt  *time.Time
	EndsAt    *time.Time
}

// Buyer is the points account plus the ban flag owned by the identity provider.
type Buyer struct {
	UserID   string
	Username string
	Points   int
	IsBanned bool
}

// SweepScope narrows an expiry sweep; empty fields are unconstrained.
type SweepScope struct {
	ProductID string
	OrderID   string
}

// StrPtr returns nil for the empty string.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
